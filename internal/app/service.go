package app

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"peritaje/api/internal/appraisal"
	"peritaje/api/internal/auth"
	"peritaje/api/internal/export"
	"peritaje/api/internal/identity"
	"peritaje/api/internal/logger"
	"peritaje/api/internal/rbac"
	"peritaje/api/internal/search"
	"peritaje/api/internal/store"
)

type Appraisals interface {
	Save(ctx context.Context, raw []byte, requester auth.Result, anonymousSessionID string) (appraisal.SaveResult, error)
	Migrate(ctx context.Context, anonymousSessionID, targetUserID string) (appraisal.MigrationResult, error)
	List(ctx context.Context, userID string) ([]store.AppraisalResult, error)
	Get(ctx context.Context, owner store.Owner, id string) (store.AppraisalResult, error)
	GetByRequestID(ctx context.Context, owner store.Owner, requestID string) (store.AppraisalResult, error)
}

type Searcher interface {
	Search(ctx context.Context, q search.Query) search.Response
}

type Exporter interface {
	ReportPDF(ctx context.Context, payload map[string]any) (*export.Result, error)
	RecordPDF(ctx context.Context, record store.AppraisalResult) (*export.Result, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies wires the collaborators behind the HTTP surface. Search and
// Export may be nil.
type Dependencies struct {
	Appraisals Appraisals
	Identity   identity.Provider
	Search     Searcher
	Export     Exporter
	DB         Pinger
	Log        *logger.Logger
}

type Service struct {
	appraisals Appraisals
	identity   identity.Provider
	search     Searcher
	export     Exporter
	db         Pinger
	log        *logger.Logger
}

func NewService(deps Dependencies) *Service {
	log := deps.Log
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		appraisals: deps.Appraisals,
		identity:   deps.Identity,
		search:     deps.Search,
		export:     deps.Export,
		db:         deps.DB,
		log:        log,
	}
}

// Record is the JSON shape of a stored appraisal result.
type Record struct {
	ID                 string         `json:"id"`
	UserID             *string        `json:"userId"`
	AnonymousSessionID *string        `json:"anonymousSessionId"`
	RequestID          string         `json:"requestId,omitempty"`
	AppraisalData      map[string]any `json:"appraisalData"`
	CreatedAt          time.Time      `json:"createdAt"`
}

func presentRecord(item store.AppraisalResult) Record {
	return Record{
		ID:                 item.ID,
		UserID:             optional(item.UserID),
		AnonymousSessionID: optional(item.AnonymousSessionID),
		RequestID:          item.RequestID,
		AppraisalData:      item.AppraisalData,
		CreatedAt:          item.CreatedAt,
	}
}

func presentRecords(items []store.AppraisalResult) []Record {
	out := make([]Record, 0, len(items))
	for _, item := range items {
		out = append(out, presentRecord(item))
	}
	return out
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

// authorize returns the caller's principal when it may perform action.
func authorize(requester auth.Result, action rbac.Action) (auth.Principal, error) {
	principal, ok := requester.Principal()
	if !ok {
		return auth.Principal{}, errUnauthorized
	}
	if !principal.Can(action) {
		return auth.Principal{}, errForbidden
	}
	return principal, nil
}

type saveRequest struct {
	AnonymousSessionID string          `json:"anonymousSessionId"`
	AppraisalData      json.RawMessage `json:"appraisalData"`
}

// SaveResult stores the appraisal carried in body. created is false when the
// owner already held an identical payload.
func (s *Service) SaveResult(ctx context.Context, requester auth.Result, body saveRequest) (Record, bool, error) {
	if requester.IsAuthenticated() {
		if _, err := authorize(requester, rbac.ActionWrite); err != nil {
			return Record{}, false, err
		}
	}
	result, err := s.appraisals.Save(ctx, body.AppraisalData, requester, body.AnonymousSessionID)
	if err != nil {
		return Record{}, false, err
	}
	return presentRecord(result.Record), result.Outcome == appraisal.Created, nil
}

func (s *Service) History(ctx context.Context, requester auth.Result) ([]Record, error) {
	principal, err := authorize(requester, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	items, err := s.appraisals.List(ctx, principal.UserID())
	if err != nil {
		return nil, err
	}
	return presentRecords(items), nil
}

func (s *Service) Result(ctx context.Context, requester auth.Result, id string) (Record, error) {
	principal, err := authorize(requester, rbac.ActionRead)
	if err != nil {
		return Record{}, err
	}
	item, err := s.appraisals.Get(ctx, store.UserOwner(principal.UserID()), id)
	if err != nil {
		return Record{}, err
	}
	return presentRecord(item), nil
}

func (s *Service) ResultByRequestID(ctx context.Context, requester auth.Result, requestID string) (Record, error) {
	principal, err := authorize(requester, rbac.ActionRead)
	if err != nil {
		return Record{}, err
	}
	item, err := s.appraisals.GetByRequestID(ctx, store.UserOwner(principal.UserID()), requestID)
	if err != nil {
		return Record{}, err
	}
	return presentRecord(item), nil
}

type migrateRequest struct {
	AnonymousSessionID string `json:"anonymousSessionId"`
	UserID             string `json:"userId"`
}

// MigrateAnonymous moves an anonymous session's records to the caller. A
// body userId naming someone else is forbidden.
func (s *Service) MigrateAnonymous(ctx context.Context, requester auth.Result, body migrateRequest) (appraisal.MigrationResult, error) {
	principal, err := authorize(requester, rbac.ActionMigrate)
	if err != nil {
		return appraisal.MigrationResult{}, err
	}
	target := strings.TrimSpace(body.UserID)
	if target == "" {
		target = principal.UserID()
	}
	if target != principal.UserID() {
		return appraisal.MigrationResult{}, domainError(http.StatusForbidden, "FORBIDDEN", "Records can only be migrated to the signed-in user", nil)
	}

	result, err := s.appraisals.Migrate(ctx, body.AnonymousSessionID, target)
	if err != nil {
		status, code, message, _ := mapError(err)
		return result, domainError(status, code, message, map[string]any{
			"migrated": result.Migrated,
			"atomic":   result.Atomic,
		})
	}
	return result, nil
}

// ReportPDF renders an unsaved payload; anonymous callers may use it.
func (s *Service) ReportPDF(ctx context.Context, raw []byte) (*export.Result, error) {
	if s.export == nil {
		return nil, export.ErrPDFDependencyMissing
	}
	payload, err := appraisal.DecodeObject(raw)
	if err != nil {
		return nil, err
	}
	return s.export.ReportPDF(ctx, payload)
}

func (s *Service) ResultPDF(ctx context.Context, requester auth.Result, id string) (*export.Result, error) {
	principal, err := authorize(requester, rbac.ActionExport)
	if err != nil {
		return nil, err
	}
	if s.export == nil {
		return nil, export.ErrPDFDependencyMissing
	}
	item, err := s.appraisals.Get(ctx, store.UserOwner(principal.UserID()), id)
	if err != nil {
		return nil, err
	}
	return s.export.RecordPDF(ctx, item)
}

func (s *Service) Search(ctx context.Context, requester auth.Result, text string, limit int) (search.Response, error) {
	principal, err := authorize(requester, rbac.ActionRead)
	if err != nil {
		return search.Response{}, err
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.search.Search(ctx, search.Query{
		Text:  strings.TrimSpace(text),
		Owner: store.UserOwner(principal.UserID()),
		Limit: limit,
	}), nil
}

func (s *Service) SignUp(ctx context.Context, creds identity.Credentials) (identity.Session, error) {
	if s.identity == nil {
		return identity.Session{}, identity.ErrProviderFailure
	}
	return s.identity.SignUp(ctx, creds)
}

func (s *Service) SignIn(ctx context.Context, creds identity.Credentials) (identity.Session, error) {
	if s.identity == nil {
		return identity.Session{}, identity.ErrProviderFailure
	}
	return s.identity.SignIn(ctx, creds)
}

func (s *Service) SignOut(ctx context.Context, requester auth.Result, accessToken string) error {
	if !requester.IsAuthenticated() {
		return errUnauthorized
	}
	if s.identity == nil {
		return identity.ErrProviderFailure
	}
	return s.identity.SignOut(ctx, accessToken)
}

func (s *Service) Ping(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.Ping(ctx)
}
