// Package auth resolves bearer credentials into authenticated identities.
//
// # Overview
//
// Credential issuance (signup, login, password storage) happens outside this
// service. The gateway consumes an opaque HS256 JWT whose claims carry
// {sub, role, name, email}; JWTVerifier validates the signature against the
// shared secret from configuration and produces an Identity.
//
// # Identity Propagation
//
// HTTPMiddleware validates the Authorization header and attaches the
// Identity to the request context. Handlers retrieve it with FromContext:
//
//	id := auth.FromContext(r.Context())
//	if id.IsAgent() { ... }
//
// # Errors
//
//   - ErrInvalidToken: signature or structure invalid
//   - ErrExpiredToken: token past its exp claim
//   - ErrMissingClaim: sub or role absent/malformed
package auth
