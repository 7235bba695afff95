package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ggoodman/mcp-transport-go/auth"
	"github.com/golang-jwt/jwt/v5"
)

var secret = []byte("test-secret")

func mustSign(t *testing.T, key []byte, method jwt.SigningMethod, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":   "user-1",
		"iss":   "https://issuer.test",
		"aud":   []string{"https://mcp.test/mcp"},
		"exp":   time.Now().Add(time.Hour).Unix(),
		"scope": "mcp read",
	}
}

func TestHMACAuthenticator(t *testing.T) {
	authn, err := auth.NewHMAC(auth.HMACConfig{
		Secret:         secret,
		Issuer:         "https://issuer.test",
		Audiences:      []string{"https://mcp.test/mcp"},
		RequiredScopes: []string{"mcp"},
	})
	if err != nil {
		t.Fatalf("NewHMAC: %v", err)
	}
	ctx := context.Background()

	t.Run("valid token", func(t *testing.T) {
		ui, err := authn.CheckAuthentication(ctx, mustSign(t, secret, jwt.SigningMethodHS256, validClaims()))
		if err != nil {
			t.Fatalf("CheckAuthentication: %v", err)
		}
		if want, got := "user-1", ui.UserID(); want != got {
			t.Fatalf("unexpected user id: want %q got %q", want, got)
		}
		var claims struct {
			Scope string `json:"scope"`
		}
		if err := ui.Claims(&claims); err != nil {
			t.Fatalf("Claims: %v", err)
		}
		if want, got := "mcp read", claims.Scope; want != got {
			t.Fatalf("unexpected scope claim: want %q got %q", want, got)
		}
	})

	rejects := []struct {
		name   string
		mutate func(jwt.MapClaims)
		key    []byte
		method jwt.SigningMethod
		want   error
	}{
		{name: "wrong secret", key: []byte("other"), want: auth.ErrUnauthorized},
		{name: "wrong algorithm", method: jwt.SigningMethodHS512, want: auth.ErrUnauthorized},
		{name: "expired", mutate: func(c jwt.MapClaims) { c["exp"] = time.Now().Add(-time.Hour).Unix() }, want: auth.ErrUnauthorized},
		{name: "missing exp", mutate: func(c jwt.MapClaims) { delete(c, "exp") }, want: auth.ErrUnauthorized},
		{name: "wrong issuer", mutate: func(c jwt.MapClaims) { c["iss"] = "https://evil.test" }, want: auth.ErrUnauthorized},
		{name: "wrong audience", mutate: func(c jwt.MapClaims) { c["aud"] = "https://other.test" }, want: auth.ErrUnauthorized},
		{name: "missing subject", mutate: func(c jwt.MapClaims) { delete(c, "sub") }, want: auth.ErrUnauthorized},
		{name: "missing scope", mutate: func(c jwt.MapClaims) { c["scope"] = "read" }, want: auth.ErrInsufficientScope},
	}
	for _, tc := range rejects {
		t.Run(tc.name, func(t *testing.T) {
			claims := validClaims()
			if tc.mutate != nil {
				tc.mutate(claims)
			}
			key, method := secret, jwt.SigningMethod(jwt.SigningMethodHS256)
			if tc.key != nil {
				key = tc.key
			}
			if tc.method != nil {
				method = tc.method
			}
			_, err := authn.CheckAuthentication(ctx, mustSign(t, key, method, claims))
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	if _, err := authn.CheckAuthentication(ctx, ""); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for empty token, got %v", err)
	}
}

func TestNewHMACRequiresSecret(t *testing.T) {
	if _, err := auth.NewHMAC(auth.HMACConfig{}); err == nil {
		t.Fatalf("expected error without secret")
	}
}
