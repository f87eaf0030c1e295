package store

import (
	"errors"
	"time"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidOwner       = errors.New("owner must be exactly one of user id or anonymous session id")
	ErrDuplicateRequestID = errors.New("request id already used by this owner")
	ErrEmailTaken         = errors.New("email already registered")
)

// Owner identifies who a record belongs to. Exactly one field is set.
type Owner struct {
	UserID             string
	AnonymousSessionID string
}

func UserOwner(userID string) Owner {
	return Owner{UserID: userID}
}

func AnonymousOwner(sessionID string) Owner {
	return Owner{AnonymousSessionID: sessionID}
}

func (o Owner) Validate() error {
	if (o.UserID == "") == (o.AnonymousSessionID == "") {
		return ErrInvalidOwner
	}
	return nil
}

func (o Owner) IsUser() bool {
	return o.UserID != ""
}

// Kind is "user" or "anonymous".
func (o Owner) Kind() string {
	if o.IsUser() {
		return "user"
	}
	return "anonymous"
}

func (o Owner) ID() string {
	if o.IsUser() {
		return o.UserID
	}
	return o.AnonymousSessionID
}

type AppraisalResult struct {
	ID                 string
	UserID             string
	AnonymousSessionID string
	RequestID          string
	AppraisalData      map[string]any
	PayloadHash        string
	CreatedAt          time.Time
}

func (r AppraisalResult) Owner() Owner {
	return Owner{UserID: r.UserID, AnonymousSessionID: r.AnonymousSessionID}
}

type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}
