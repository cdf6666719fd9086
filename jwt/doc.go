// Package jwt mints and decodes the signed access and refresh tokens used by credgate.
//
// A token carries {sub, uid, typ, jti, iat, exp} and optionally iss/aud. The [Codec] is a
// pure value: it never touches the network, so revocation and permission checks are the
// caller's job.
//
// # What this package must NOT do
//
//   - Consult revocation state or any store.
//   - Accept an algorithm other than the configured one.
//   - Report a past-exp token as anything but [ErrTokenExpired].
package jwt
