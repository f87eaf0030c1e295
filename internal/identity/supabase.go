package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Supabase talks to the GoTrue endpoints of a Supabase project.
type Supabase struct {
	baseURL    string
	serviceKey string
	client     *http.Client
}

func NewSupabase(baseURL, serviceKey string, client *http.Client) *Supabase {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Supabase{
		baseURL:    strings.TrimRight(baseURL, "/"),
		serviceKey: serviceKey,
		client:     client,
	}
}

type supabaseError struct {
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	ErrorCode        string `json:"error_code"`
}

// supabaseSession covers both signup shapes: a full session, or the bare
// user object returned while email confirmation is pending.
type supabaseSession struct {
	Session
	ID    string `json:"id"`
	Email string `json:"email"`
}

func (s *Supabase) SignUp(ctx context.Context, creds Credentials) (Session, error) {
	creds, err := creds.normalized()
	if err != nil {
		return Session{}, err
	}
	return s.exchange(ctx, "/auth/v1/signup", creds)
}

func (s *Supabase) SignIn(ctx context.Context, creds Credentials) (Session, error) {
	creds, err := creds.normalized()
	if err != nil {
		return Session{}, err
	}
	return s.exchange(ctx, "/auth/v1/token?grant_type=password", creds)
}

func (s *Supabase) SignOut(ctx context.Context, accessToken string) error {
	req, err := s.newRequest(ctx, "/auth/v1/logout", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderFailure, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return classifySupabaseError(resp)
	}
	return nil
}

func (s *Supabase) exchange(ctx context.Context, path string, creds Credentials) (Session, error) {
	body, err := json.Marshal(creds)
	if err != nil {
		return Session{}, fmt.Errorf("encode credentials: %w", err)
	}
	req, err := s.newRequest(ctx, path, body)
	if err != nil {
		return Session{}, err
	}
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrProviderFailure, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return Session{}, classifySupabaseError(resp)
	}

	var decoded supabaseSession
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Session{}, fmt.Errorf("%w: decode response: %v", ErrProviderFailure, err)
	}
	session := decoded.Session
	if session.User.ID == "" {
		session.User = User{ID: decoded.ID, Email: decoded.Email}
	}
	if session.TokenType == "" && session.AccessToken != "" {
		session.TokenType = "bearer"
	}
	return session, nil
}

func (s *Supabase) newRequest(ctx context.Context, path string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build identity request: %w", err)
	}
	req.Header.Set("apikey", s.serviceKey)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func classifySupabaseError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var payload supabaseError
	_ = json.Unmarshal(raw, &payload)

	message := firstNonEmpty(payload.Msg, payload.Message, payload.ErrorDescription)
	switch {
	case strings.Contains(strings.ToLower(message), "user already registered"),
		payload.ErrorCode == "user_already_exists":
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, message)
	case strings.Contains(payload.Error, "invalid_grant"),
		payload.ErrorCode == "invalid_credentials":
		return fmt.Errorf("%w: %s", ErrInvalidCredentials, message)
	default:
		if message == "" {
			message = strings.TrimSpace(string(raw))
		}
		return fmt.Errorf("%w: status %d: %s", ErrProviderFailure, resp.StatusCode, message)
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
