package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"peritaje/api/internal/appraisal"
	"peritaje/api/internal/auth"
	"peritaje/api/internal/export"
	"peritaje/api/internal/identity"
	"peritaje/api/internal/search"
	"peritaje/api/internal/store"
)

const (
	testSecret = "test-secret"
	testUserID = "7f3c2a9e-4b1d-4e8a-9c6f-2d5b8e1a7c40"
)

var errNotStubbed = errors.New("not stubbed")

type fakeAppraisals struct {
	saveFn           func(ctx context.Context, raw []byte, requester auth.Result, anon string) (appraisal.SaveResult, error)
	migrateFn        func(ctx context.Context, anon, userID string) (appraisal.MigrationResult, error)
	listFn           func(ctx context.Context, userID string) ([]store.AppraisalResult, error)
	getFn            func(ctx context.Context, owner store.Owner, id string) (store.AppraisalResult, error)
	getByRequestIDFn func(ctx context.Context, owner store.Owner, requestID string) (store.AppraisalResult, error)
}

func (f *fakeAppraisals) Save(ctx context.Context, raw []byte, requester auth.Result, anon string) (appraisal.SaveResult, error) {
	if f.saveFn == nil {
		return appraisal.SaveResult{}, errNotStubbed
	}
	return f.saveFn(ctx, raw, requester, anon)
}

func (f *fakeAppraisals) Migrate(ctx context.Context, anon, userID string) (appraisal.MigrationResult, error) {
	if f.migrateFn == nil {
		return appraisal.MigrationResult{}, errNotStubbed
	}
	return f.migrateFn(ctx, anon, userID)
}

func (f *fakeAppraisals) List(ctx context.Context, userID string) ([]store.AppraisalResult, error) {
	if f.listFn == nil {
		return nil, errNotStubbed
	}
	return f.listFn(ctx, userID)
}

func (f *fakeAppraisals) Get(ctx context.Context, owner store.Owner, id string) (store.AppraisalResult, error) {
	if f.getFn == nil {
		return store.AppraisalResult{}, errNotStubbed
	}
	return f.getFn(ctx, owner, id)
}

func (f *fakeAppraisals) GetByRequestID(ctx context.Context, owner store.Owner, requestID string) (store.AppraisalResult, error) {
	if f.getByRequestIDFn == nil {
		return store.AppraisalResult{}, errNotStubbed
	}
	return f.getByRequestIDFn(ctx, owner, requestID)
}

type fakeIdentity struct {
	signUpFn  func(ctx context.Context, creds identity.Credentials) (identity.Session, error)
	signInFn  func(ctx context.Context, creds identity.Credentials) (identity.Session, error)
	signOutFn func(ctx context.Context, token string) error
}

func (f *fakeIdentity) SignUp(ctx context.Context, creds identity.Credentials) (identity.Session, error) {
	return f.signUpFn(ctx, creds)
}

func (f *fakeIdentity) SignIn(ctx context.Context, creds identity.Credentials) (identity.Session, error) {
	return f.signInFn(ctx, creds)
}

func (f *fakeIdentity) SignOut(ctx context.Context, token string) error {
	return f.signOutFn(ctx, token)
}

type fakeExporter struct {
	reportFn func(ctx context.Context, payload map[string]any) (*export.Result, error)
	recordFn func(ctx context.Context, record store.AppraisalResult) (*export.Result, error)
}

func (f *fakeExporter) ReportPDF(ctx context.Context, payload map[string]any) (*export.Result, error) {
	return f.reportFn(ctx, payload)
}

func (f *fakeExporter) RecordPDF(ctx context.Context, record store.AppraisalResult) (*export.Result, error) {
	return f.recordFn(ctx, record)
}

type fakeSearcher struct {
	searchFn func(ctx context.Context, q search.Query) search.Response
}

func (f *fakeSearcher) Search(ctx context.Context, q search.Query) search.Response {
	return f.searchFn(ctx, q)
}

type fakePinger struct {
	err error
}

func (f fakePinger) Ping(context.Context) error {
	return f.err
}

func newTestServer(deps Dependencies) *HTTPServer {
	if deps.Appraisals == nil {
		deps.Appraisals = &fakeAppraisals{}
	}
	return NewHTTPServer(NewService(deps), auth.NewValidator([]byte(testSecret)), "*", nil)
}

func bearer(t *testing.T, subject string) string {
	t.Helper()
	token, err := auth.IssueToken([]byte(testSecret), subject, "ana@example.com", time.Now(), time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return "Bearer " + token
}

func sampleRecord(id string, owner store.Owner) store.AppraisalResult {
	return store.AppraisalResult{
		ID:                 id,
		UserID:             owner.UserID,
		AnonymousSessionID: owner.AnonymousSessionID,
		RequestID:          "req-1",
		AppraisalData: map[string]any{
			"informacion_basica": map[string]any{"ciudad": "Bogotá"},
		},
		CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}
