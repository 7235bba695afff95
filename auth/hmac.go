package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// HMACConfig controls validation of shared-secret JWT access tokens.
type HMACConfig struct {
	Secret []byte
	// Issuer, when set, must match the iss claim.
	Issuer string
	// Audiences, when set, must intersect the aud claim.
	Audiences []string
	// RequiredScopes must all be present in the space-delimited scope claim.
	RequiredScopes []string
	Leeway         time.Duration
}

// HMACAuthenticator validates HS256 JWTs signed with a shared secret.
type HMACAuthenticator struct {
	cfg    HMACConfig
	parser *jwt.Parser
}

var _ Authenticator = (*HMACAuthenticator)(nil)

// NewHMAC constructs an authenticator for cfg.
func NewHMAC(cfg HMACConfig) (*HMACAuthenticator, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("secret is required")
	}
	if cfg.Leeway == 0 {
		cfg.Leeway = 60 * time.Second
	}
	popts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		popts = append(popts, jwt.WithIssuer(cfg.Issuer))
	}
	return &HMACAuthenticator{cfg: cfg, parser: jwt.NewParser(popts...)}, nil
}

// CheckAuthentication implements Authenticator.
func (a *HMACAuthenticator) CheckAuthentication(_ context.Context, tok string) (UserInfo, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}
	claims := jwt.MapClaims{}
	if _, err := a.parser.ParseWithClaims(tok, claims, func(*jwt.Token) (any, error) { return a.cfg.Secret, nil }); err != nil {
		return nil, fmt.Errorf("%w: token parse/verify failed: %v", ErrUnauthorized, err)
	}
	if len(a.cfg.Audiences) > 0 {
		aud, err := claims.GetAudience()
		if err != nil || !slices.ContainsFunc(aud, func(s string) bool { return slices.Contains(a.cfg.Audiences, s) }) {
			return nil, fmt.Errorf("%w: audience mismatch", ErrUnauthorized)
		}
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrUnauthorized)
	}
	if missing := missingScopes(claims["scope"], a.cfg.RequiredScopes); len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrInsufficientScope, strings.Join(missing, " "))
	}
	return &userInfo{sub: sub, claims: claims}, nil
}

func missingScopes(claim any, required []string) []string {
	if len(required) == 0 {
		return nil
	}
	s, _ := claim.(string)
	have := strings.Fields(s)
	var missing []string
	for _, r := range required {
		if !slices.Contains(have, r) {
			missing = append(missing, r)
		}
	}
	return missing
}
