// Package authtest provides Authenticator doubles for handler tests.
package authtest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ggoodman/mcp-transport-go/auth"
)

// StaticTokens accepts exactly the tokens in its map, each resolving to the
// mapped user id. Any other token fails with auth.ErrUnauthorized.
type StaticTokens map[string]string

var _ auth.Authenticator = StaticTokens(nil)

func (s StaticTokens) CheckAuthentication(_ context.Context, tok string) (auth.UserInfo, error) {
	uid, ok := s[tok]
	if !ok {
		return nil, fmt.Errorf("%w: unknown token", auth.ErrUnauthorized)
	}
	return user(uid), nil
}

type user string

func (u user) UserID() string { return string(u) }

func (u user) Claims(ref any) error {
	b, err := json.Marshal(map[string]any{"sub": string(u)})
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}

// User returns a UserInfo for id, for seeding contexts with auth.WithUserInfo.
func User(id string) auth.UserInfo { return user(id) }
