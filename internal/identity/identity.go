// Package identity resolves who is recording. The bearer token is what the
// trip service authenticates; the user id derived here is a label written
// into trip records and never a security decision.
package identity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoIdentity means no user is signed in on this device.
var ErrNoIdentity = errors.New("no signed-in user")

// Provider returns the current user id.
type Provider interface {
	UserID(ctx context.Context) (string, error)
}

// TokenFile reads a bearer token stored in a file.
type TokenFile struct {
	Path string
}

// Token returns the trimmed file contents or ErrNoIdentity when missing/empty.
func (f TokenFile) Token(context.Context) (string, error) {
	if f.Path == "" {
		return "", ErrNoIdentity
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNoIdentity
		}
		return "", fmt.Errorf("read token: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", ErrNoIdentity
	}
	return token, nil
}

// TokenSource yields bearer tokens.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// JWTIdentity reads the user id claim out of the bearer token without
// verifying it.
type JWTIdentity struct {
	Tokens TokenSource
}

// claimKeys are tried in order.
var claimKeys = []string{"userId", "id", "sub"}

func (j JWTIdentity) UserID(ctx context.Context) (string, error) {
	token, err := j.Tokens.Token(ctx)
	if err != nil {
		return "", err
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("decode token: %w", err)
	}
	for _, key := range claimKeys {
		switch v := claims[key].(type) {
		case string:
			if v != "" {
				return v, nil
			}
		case float64:
			return fmt.Sprintf("%.0f", v), nil
		}
	}
	return "", fmt.Errorf("token has no user claim: %w", ErrNoIdentity)
}

// Static is an explicitly configured user id.
type Static string

func (s Static) UserID(context.Context) (string, error) {
	if s == "" {
		return "", ErrNoIdentity
	}
	return string(s), nil
}

// Chain returns the first id any provider yields, skipping ErrNoIdentity.
type Chain []Provider

func (c Chain) UserID(ctx context.Context) (string, error) {
	for _, p := range c {
		id, err := p.UserID(ctx)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, ErrNoIdentity) {
			return "", err
		}
	}
	return "", ErrNoIdentity
}
