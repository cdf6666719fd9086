// Package password verifies login secrets against stored hashes.
//
// [Argon2] is the primary scheme and emits PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Bcrypt] exists for stores migrating from bcrypt. [Chain] dispatches on the hash
// prefix and reports every non-primary or under-parameterised hash through
// NeedsUpgrade, so the login flow can rehash after a successful verification.
//
// # What this package must NOT do
//
//   - Store or retrieve hashes. Callers supply both sides.
//   - Log secrets or hash parameters.
package password
