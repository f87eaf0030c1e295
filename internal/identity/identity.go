// Package identity signs users up and in against an identity provider and
// hands back bearer tokens the auth package can validate.
package identity

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrAlreadyRegistered  = errors.New("user already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrProviderFailure    = errors.New("identity provider failure")
	ErrInvalidInput       = errors.New("email and password are required")
)

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (c Credentials) normalized() (Credentials, error) {
	c.Email = strings.TrimSpace(c.Email)
	if c.Email == "" || c.Password == "" {
		return Credentials{}, ErrInvalidInput
	}
	return c, nil
}

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type Session struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	User         User   `json:"user"`
}

type Provider interface {
	SignUp(ctx context.Context, creds Credentials) (Session, error)
	SignIn(ctx context.Context, creds Credentials) (Session, error)
	SignOut(ctx context.Context, accessToken string) error
}
