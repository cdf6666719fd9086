// Package middleware adapts credgate.Engine checks to net/http and gin.
//
// # Guards
//
//   - [Authenticate] / [GinAuthenticate]: live access token required.
//   - [Require] / [GinRequire]: token plus a permission code.
//   - [RequireURL] / [GinRequireURL]: token plus a resource grant covering the path.
//
// Each guard reads the Authorization header, delegates the decision to the
// Engine, and on success attaches the claims, client address and user agent to
// the request context. A missing or malformed header is a 401, never a 5xx.
// [Classify] is the shared error-to-status table.
//
// This package does not parse tokens or touch Redis itself.
package middleware
