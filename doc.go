// Package credgate authenticates principals and authorizes their requests with
// signed, revocable access and refresh tokens.
//
// # Architecture
//
// An [Engine] is assembled by [Builder] and coordinates:
//
//   - jwt.Codec mints and decodes HS256 (or ed25519) tokens.
//   - revocation.Store keeps jti markers for the remaining token lifetime plus
//     principal-wide cutoffs used by LogoutAll.
//   - an attempt tracker that locks a login name or source address after repeated
//     failures within a window.
//   - permission.Resolver maps principals to roles to permissions with a shared,
//     invalidation-coherent Redis cache.
//   - loginlog records every login, refresh and logout outcome.
//
// # Failure policy
//
// Every store read that decides access fails closed: a token whose revocation
// status cannot be read is rejected, a login whose lockout state cannot be read
// is refused, and an authorization whose permissions cannot be resolved is
// denied. Such failures surface as [ErrDependencyUnavailable].
//
// # Concurrency
//
// The Engine is safe for concurrent use. Refreshing the same refresh token from
// several goroutines yields exactly one new pair; the rest get [ErrRevoked].
package credgate
