// Package auth authenticates callers of the tutor-realtime HTTP API.
//
// # JWT Tokens
//
// Clients present HS256 JWTs signed with the configured jwt_secret:
//
//	Authorization: Bearer <token>
//
// Browser WebSocket clients, which cannot set headers, may pass the token
// as the access_token query parameter instead.
//
// The "sub" claim names the caller. The optional "thr" claim scopes the
// token to one thread, so a classroom kiosk can be issued a token that
// only opens sessions on its own transcript.
//
// # Middleware
//
// BearerMiddleware verifies the token and stores the Principal in the
// request context; handlers read it with FromContext. When no secret is
// configured the middleware is a pass-through and FromContext returns nil.
package auth
