// Package revocation records token ids (jti) that must be rejected before their
// natural expiry.
//
// A marker lives exactly as long as the token it revokes; once the token would have
// expired anyway the marker is dropped (natively by Redis, by [Store.SweepExpired] for
// SQL backends). Revocation is therefore never permanent and the store stays bounded
// by the number of live tokens.
//
// Principal-wide revocation stores a cutoff instant per principal: any token whose
// issue instant is at or before the cutoff is treated as revoked. Callers pass the
// millisecond issue instant when the token carries one.
//
// # What this package must NOT do
//
//   - Decode or verify tokens.
//   - Swallow write errors: every failure is returned wrapped in [ErrUnavailable].
package revocation
