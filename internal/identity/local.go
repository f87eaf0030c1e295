package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"peritaje/api/internal/auth"
	"peritaje/api/internal/store"
)

const minPasswordLength = 8

type UserStore interface {
	CreateUser(ctx context.Context, user store.User) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
}

// Local keeps users in our own database and issues HS256 tokens signed with
// the same secret the auth validator uses.
type Local struct {
	users  UserStore
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewLocal(users UserStore, secret []byte, ttl time.Duration) *Local {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Local{users: users, secret: secret, ttl: ttl, now: time.Now}
}

func (l *Local) SignUp(ctx context.Context, creds Credentials) (Session, error) {
	creds, err := creds.normalized()
	if err != nil {
		return Session{}, err
	}
	if len(creds.Password) < minPasswordLength {
		return Session{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), bcrypt.DefaultCost)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := l.users.CreateUser(ctx, store.User{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(creds.Email),
		PasswordHash: string(hash),
	})
	if errors.Is(err, store.ErrEmailTaken) {
		return Session{}, ErrAlreadyRegistered
	}
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrProviderFailure, err)
	}
	return l.issue(user)
}

func (l *Local) SignIn(ctx context.Context, creds Credentials) (Session, error) {
	creds, err := creds.normalized()
	if err != nil {
		return Session{}, err
	}

	user, err := l.users.GetUserByEmail(ctx, creds.Email)
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrProviderFailure, err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(creds.Password)); err != nil {
		return Session{}, ErrInvalidCredentials
	}
	return l.issue(user)
}

// SignOut has nothing to revoke: local tokens are stateless and expire on their own.
func (l *Local) SignOut(context.Context, string) error {
	return nil
}

func (l *Local) issue(user store.User) (Session, error) {
	token, err := auth.IssueToken(l.secret, user.ID, user.Email, l.now(), l.ttl)
	if err != nil {
		return Session{}, err
	}
	return Session{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int(l.ttl / time.Second),
		User:        User{ID: user.ID, Email: user.Email},
	}, nil
}
