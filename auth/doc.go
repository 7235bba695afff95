// Package auth provides bearer token authentication for the HTTP surface.
//
// An Authenticator validates a bearer token string and returns a UserInfo (or
// an error). Middleware extracts the token from the Authorization header,
// maps the sentinel errors to RFC 6750 challenges and stores the UserInfo on
// the request context.
//
// # Shared-secret JWTs
//
// NewHMAC validates HS256-signed JWTs against a shared secret, optionally
// enforcing issuer, audience and scope:
//
//	authn, err := auth.NewHMAC(auth.HMACConfig{
//	    Secret:         []byte(os.Getenv("JWT_SECRET")),
//	    Audiences:      []string{"https://mcp.example/mcp"},
//	    RequiredScopes: []string{"mcp"},
//	})
//	if err != nil { log.Fatal(err) }
//	handler = auth.Middleware(authn, auth.WithRealm("mcp"))(handler)
//
// Expiry is always required. Leeway defaults to 60s.
//
// # Errors
//
// ErrUnauthorized signals the token is invalid (signature, expiry, audience,
// etc.) and maps to 401 invalid_token. ErrInsufficientScope signals successful
// authentication but missing scope and maps to 403 insufficient_scope.
package auth
