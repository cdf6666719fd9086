// Package limiters tracks failed login attempts and derives lockout state from them.
//
// [AttemptTracker] keeps one Redis counter per identity. Login flows track two
// identities in parallel: the normalized login name ([UserIdentity]) and the source
// address ([AddrIdentity]). An identity is locked while its counter is at or above the
// threshold; the counter expires with the lockout window and is cleared on success.
//
// # What this package must NOT do
//
//   - Import credgate or any sibling internal package.
//   - Decide what a lock means for the caller. Flow functions map it to an error.
package limiters
