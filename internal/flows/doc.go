// Package flows contains the orchestration for every Engine operation as plain
// functions over typed dependency structs.
//
// Each RunX function takes the request and a Deps value of function fields, and
// returns a result that carries a failure kind instead of a root-package error. The
// Engine maps failure kinds to its sentinel errors, emits login logs and metrics, and
// owns every resource the flows touch.
//
// # Architecture boundaries
//
// Flows sequence calls to the token codec, revocation store, attempt tracker,
// permission resolver, and user store. Ordering guarantees live here: the login gate
// runs before any credential check, and refresh revokes the presented token before
// minting its replacement.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import credgate (to avoid import cycles).
//   - Perform I/O except through dependency fields.
package flows
