// Package auth turns bearer tokens into request principals.
//
// Validation is pure: given a token, a signing key and the current time it
// yields typed Claims or one of the failure sentinels below. The middleware
// never rejects a request; it only attaches an authentication Result.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrEmptyToken       = errors.New("empty token")
	ErrMalformedToken   = errors.New("malformed token")
	ErrBadSignature     = errors.New("bad token signature")
	ErrExpiredToken     = errors.New("expired token")
	ErrUnsupportedToken = errors.New("unsupported token")
)

// Claims is the verified subset of a token's payload.
type Claims struct {
	Subject   string
	Email     string
	ExpiresAt time.Time
	IssuedAt  time.Time
}

type tokenClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// KeyResolver returns the verification key for a parsed, not yet verified token.
type KeyResolver interface {
	ResolveKey(token *jwt.Token) (any, error)
}

// StaticKey resolves every HMAC token to the same shared secret.
type StaticKey []byte

func (k StaticKey) ResolveKey(*jwt.Token) (any, error) {
	return []byte(k), nil
}

type Validator struct {
	keys KeyResolver
	now  func() time.Time
}

func NewValidator(secret []byte) *Validator {
	return NewValidatorWithResolver(StaticKey(secret), time.Now)
}

func NewValidatorWithResolver(keys KeyResolver, now func() time.Time) *Validator {
	if now == nil {
		now = time.Now
	}
	return &Validator{keys: keys, now: now}
}

func (v *Validator) Validate(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrEmptyToken
	}

	var parsed tokenClaims
	_, err := jwt.ParseWithClaims(token, &parsed, v.keyFunc,
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Claims{}, classify(err)
	}

	if parsed.Subject == "" {
		return Claims{}, fmt.Errorf("%w: missing subject", ErrMalformedToken)
	}
	if _, err := uuid.Parse(parsed.Subject); err != nil {
		return Claims{}, fmt.Errorf("%w: subject is not a uuid", ErrMalformedToken)
	}

	claims := Claims{
		Subject:   parsed.Subject,
		Email:     strings.TrimSpace(parsed.Email),
		ExpiresAt: parsed.ExpiresAt.Time,
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time
	}
	return claims, nil
}

var errUnsupportedAlg = errors.New("unsupported signing algorithm")

func (v *Validator) keyFunc(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("%w: %v", errUnsupportedAlg, token.Header["alg"])
	}
	if typ, ok := token.Header["typ"].(string); ok && typ != "" && !strings.EqualFold(typ, "JWT") {
		return nil, fmt.Errorf("%w: typ %s", errUnsupportedAlg, typ)
	}
	return v.keys.ResolveKey(token)
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	case errors.Is(err, errUnsupportedAlg), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrUnsupportedToken, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpiredToken, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
}

// FailureKind names an authentication failure for logs.
func FailureKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptyToken):
		return "empty"
	case errors.Is(err, ErrBadSignature):
		return "bad_signature"
	case errors.Is(err, ErrExpiredToken):
		return "expired"
	case errors.Is(err, ErrUnsupportedToken):
		return "unsupported"
	default:
		return "malformed"
	}
}

// IssueToken signs an HS256 token that Validate accepts with the same secret.
func IssueToken(secret []byte, subject, email string, issuedAt time.Time, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", errors.New("subject is required")
	}
	claims := tokenClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
