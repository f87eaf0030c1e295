// Package appraisal owns the appraisal-result write path: payload
// normalization, deduplicating saves and anonymous-to-user migration.
package appraisal

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"peritaje/api/internal/auth"
	"peritaje/api/internal/logger"
	"peritaje/api/internal/savelock"
	"peritaje/api/internal/store"
)

var (
	ErrNoOwner                 = errors.New("a principal or an anonymous session id is required")
	ErrMissingAnonymousSession = errors.New("anonymous session id is required")
	ErrMissingTargetUser       = errors.New("target user id is required")
)

type Outcome int

const (
	Created Outcome = iota + 1
	Duplicate
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

type SaveResult struct {
	Record  store.AppraisalResult
	Outcome Outcome
}

// MigrationResult reports how many records changed owner and whether they
// were committed as one transaction.
type MigrationResult struct {
	Migrated int
	Atomic   bool
}

type RecordStore interface {
	FindByOwnerAndPayload(ctx context.Context, owner store.Owner, payloadHash string, payload map[string]any) (store.AppraisalResult, bool, error)
	InsertAppraisalResult(ctx context.Context, item store.AppraisalResult) (store.AppraisalResult, error)
	ListByAnonymousSession(ctx context.Context, sessionID string) ([]store.AppraisalResult, error)
	UpdateAppraisalOwner(ctx context.Context, item store.AppraisalResult) (store.AppraisalResult, error)
	ListByUser(ctx context.Context, userID string) ([]store.AppraisalResult, error)
	GetAppraisalResult(ctx context.Context, owner store.Owner, id string) (store.AppraisalResult, error)
	GetAppraisalByRequestID(ctx context.Context, owner store.Owner, requestID string) (store.AppraisalResult, error)
}

type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Locker interface {
	Acquire(ctx context.Context, key string) (func(context.Context) error, error)
}

// Indexer receives every stored or re-owned record. It must not block.
type Indexer interface {
	IndexAppraisal(ctx context.Context, item store.AppraisalResult)
}

type Option func(*Service)

func WithTxRunner(tx TxRunner) Option {
	return func(s *Service) { s.tx = tx }
}

func WithLocker(locker Locker) Option {
	return func(s *Service) { s.locker = locker }
}

func WithIndexer(indexer Indexer) Option {
	return func(s *Service) { s.indexer = indexer }
}

type Service struct {
	records RecordStore
	tx      TxRunner
	locker  Locker
	indexer Indexer
	log     *logger.Logger
	newID   func() string
}

func NewService(records RecordStore, log *logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.Nop()
	}
	s := &Service{
		records: records,
		log:     log,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ResolveOwner picks the record owner for a request. An authenticated
// principal always wins and the anonymous session id is dropped.
func ResolveOwner(requester auth.Result, anonymousSessionID string) (store.Owner, error) {
	if principal, ok := requester.Principal(); ok {
		return store.UserOwner(principal.UserID()), nil
	}
	if anonymousSessionID = strings.TrimSpace(anonymousSessionID); anonymousSessionID != "" {
		return store.AnonymousOwner(anonymousSessionID), nil
	}
	return store.Owner{}, ErrNoOwner
}

// Save normalizes raw and stores it for the requester unless the same owner
// already holds an identical canonical payload.
func (s *Service) Save(ctx context.Context, raw []byte, requester auth.Result, anonymousSessionID string) (SaveResult, error) {
	canonical, err := NormalizeJSON(raw)
	if err != nil {
		return SaveResult{}, err
	}
	owner, err := ResolveOwner(requester, anonymousSessionID)
	if err != nil {
		return SaveResult{}, err
	}
	hash, err := ContentHash(canonical)
	if err != nil {
		return SaveResult{}, err
	}

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, savelock.Key(owner.Kind(), owner.ID(), hash))
		if err != nil {
			s.log.Warn("save lock unavailable, continuing unlocked", "owner_kind", owner.Kind(), "hash", hash, "error", err)
		} else {
			defer func() {
				if err := release(context.WithoutCancel(ctx)); err != nil {
					s.log.Warn("save lock release failed", "hash", hash, "error", err)
				}
			}()
		}
	}

	existing, found, err := s.records.FindByOwnerAndPayload(ctx, owner, hash, canonical)
	if err != nil {
		return SaveResult{}, err
	}
	if found {
		s.log.Debug("appraisal already saved", "id", existing.ID, "owner_kind", owner.Kind())
		return SaveResult{Record: existing, Outcome: Duplicate}, nil
	}

	created, err := s.records.InsertAppraisalResult(ctx, store.AppraisalResult{
		ID:                 s.newID(),
		UserID:             owner.UserID,
		AnonymousSessionID: owner.AnonymousSessionID,
		RequestID:          RequestID(canonical),
		AppraisalData:      canonical,
		PayloadHash:        hash,
	})
	if err != nil {
		return SaveResult{}, err
	}
	s.log.Info("appraisal saved", "id", created.ID, "owner_kind", owner.Kind(), "request_id", created.RequestID)
	s.index(ctx, created)
	return SaveResult{Record: created, Outcome: Created}, nil
}

// Migrate moves every record of an anonymous session to targetUserID. With a
// TxRunner the batch commits or fails as a whole; without one a failure
// leaves the records migrated so far in place and Atomic is false.
func (s *Service) Migrate(ctx context.Context, anonymousSessionID, targetUserID string) (MigrationResult, error) {
	anonymousSessionID = strings.TrimSpace(anonymousSessionID)
	targetUserID = strings.TrimSpace(targetUserID)
	if anonymousSessionID == "" {
		return MigrationResult{}, ErrMissingAnonymousSession
	}
	if targetUserID == "" {
		return MigrationResult{}, ErrMissingTargetUser
	}

	var migrated []store.AppraisalResult
	run := func(ctx context.Context) error {
		migrated = migrated[:0]
		items, err := s.records.ListByAnonymousSession(ctx, anonymousSessionID)
		if err != nil {
			return err
		}
		for _, item := range items {
			item.UserID = targetUserID
			item.AnonymousSessionID = ""
			updated, err := s.records.UpdateAppraisalOwner(ctx, item)
			if err != nil {
				return fmt.Errorf("migrate appraisal %s: %w", item.ID, err)
			}
			migrated = append(migrated, updated)
		}
		return nil
	}

	result := MigrationResult{Atomic: s.tx != nil}
	var err error
	if s.tx != nil {
		err = s.tx.WithTx(ctx, run)
		if err != nil {
			migrated = nil
		}
	} else {
		err = run(ctx)
	}
	result.Migrated = len(migrated)
	if err != nil {
		s.log.Error("anonymous migration failed", "migrated", result.Migrated, "atomic", result.Atomic, "error", err)
		return result, err
	}

	if result.Migrated > 0 {
		s.log.Info("anonymous records migrated", "count", result.Migrated, "user_id", targetUserID)
	}
	for _, item := range migrated {
		s.index(ctx, item)
	}
	return result, nil
}

func (s *Service) List(ctx context.Context, userID string) ([]store.AppraisalResult, error) {
	return s.records.ListByUser(ctx, userID)
}

func (s *Service) Get(ctx context.Context, owner store.Owner, id string) (store.AppraisalResult, error) {
	return s.records.GetAppraisalResult(ctx, owner, id)
}

func (s *Service) GetByRequestID(ctx context.Context, owner store.Owner, requestID string) (store.AppraisalResult, error) {
	return s.records.GetAppraisalByRequestID(ctx, owner, requestID)
}

func (s *Service) index(ctx context.Context, item store.AppraisalResult) {
	if s.indexer != nil {
		s.indexer.IndexAppraisal(ctx, item)
	}
}
