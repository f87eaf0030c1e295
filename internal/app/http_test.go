package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"peritaje/api/internal/appraisal"
	"peritaje/api/internal/auth"
	"peritaje/api/internal/export"
	"peritaje/api/internal/identity"
	"peritaje/api/internal/search"
	"peritaje/api/internal/store"
)

func serve(server *HTTPServer, method, path, body, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeMap(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
	}
	return payload
}

func TestHealthEndpoint(t *testing.T) {
	rr := serve(newTestServer(Dependencies{}), http.MethodGet, "/api/health", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected X-Request-ID header")
	}
	if ok := decodeMap(t, rr)["ok"]; ok != true {
		t.Fatalf("expected ok=true, got %v", ok)
	}
}

func TestReadyEndpointReportsDatabaseFailure(t *testing.T) {
	server := newTestServer(Dependencies{DB: fakePinger{err: errors.New("connection refused")}})
	rr := serve(server, http.MethodGet, "/api/ready", "", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	payload := decodeMap(t, rr)
	if payload["status"] != "not_ready" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestOptionsPreflight(t *testing.T) {
	rr := serve(newTestServer(Dependencies{}), http.MethodOptions, "/api/appraisal/save-result", "", "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("expected CORS header")
	}
}

func TestSaveResultCreatedThenDuplicate(t *testing.T) {
	calls := 0
	var gotAnon string
	var gotAuthenticated bool
	fa := &fakeAppraisals{saveFn: func(_ context.Context, raw []byte, requester auth.Result, anon string) (appraisal.SaveResult, error) {
		calls++
		gotAnon = anon
		gotAuthenticated = requester.IsAuthenticated()
		if !strings.Contains(string(raw), "Bogotá") {
			t.Errorf("appraisalData not forwarded: %s", raw)
		}
		outcome := appraisal.Created
		if calls > 1 {
			outcome = appraisal.Duplicate
		}
		return appraisal.SaveResult{Record: sampleRecord("rec-1", store.AnonymousOwner(anon)), Outcome: outcome}, nil
	}}
	server := newTestServer(Dependencies{Appraisals: fa})
	body := `{"anonymousSessionId":"anon-123","appraisalData":{"informacion_basica":{"ciudad":"Bogotá"}}}`

	first := serve(server, http.MethodPost, "/api/appraisal/save-result", body, "")
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", first.Code, first.Body.String())
	}
	second := serve(server, http.MethodPost, "/api/appraisal/save-result", body, "")
	if second.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", second.Code)
	}
	record := decodeMap(t, second)
	if record["id"] != "rec-1" || record["anonymousSessionId"] != "anon-123" || record["userId"] != nil {
		t.Fatalf("unexpected record %v", record)
	}
	if gotAnon != "anon-123" || gotAuthenticated {
		t.Fatalf("unexpected requester anon=%q authenticated=%v", gotAnon, gotAuthenticated)
	}
}

func TestSaveResultInvalidTokenFallsBackToAnonymous(t *testing.T) {
	var gotAuthenticated bool
	fa := &fakeAppraisals{saveFn: func(_ context.Context, _ []byte, requester auth.Result, anon string) (appraisal.SaveResult, error) {
		gotAuthenticated = requester.IsAuthenticated()
		return appraisal.SaveResult{Record: sampleRecord("rec-1", store.AnonymousOwner(anon)), Outcome: appraisal.Created}, nil
	}}
	server := newTestServer(Dependencies{Appraisals: fa})
	rr := serve(server, http.MethodPost, "/api/appraisal/save-result", `{"anonymousSessionId":"anon-1","appraisalData":{}}`, "Bearer not-a-token")
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	if gotAuthenticated {
		t.Fatal("invalid token must not authenticate")
	}
}

func TestSaveResultErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"malformed payload", appraisal.ErrPayloadMalformed, http.StatusBadRequest, "PAYLOAD_MALFORMED"},
		{"no owner", appraisal.ErrNoOwner, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"duplicate request id", store.ErrDuplicateRequestID, http.StatusConflict, "DUPLICATE_REQUEST_ID"},
		{"store failure", errors.New("disk full"), http.StatusInternalServerError, "SERVER_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fa := &fakeAppraisals{saveFn: func(context.Context, []byte, auth.Result, string) (appraisal.SaveResult, error) {
				return appraisal.SaveResult{}, tt.err
			}}
			rr := serve(newTestServer(Dependencies{Appraisals: fa}), http.MethodPost, "/api/appraisal/save-result", `{"appraisalData":{}}`, "")
			if rr.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rr.Code)
			}
			if code := decodeMap(t, rr)["code"]; code != tt.code {
				t.Fatalf("expected code %s, got %v", tt.code, code)
			}
		})
	}
}

func TestSaveResultRejectsBrokenJSON(t *testing.T) {
	rr := serve(newTestServer(Dependencies{}), http.MethodPost, "/api/appraisal/save-result", `{"appraisalData":`, "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if code := decodeMap(t, rr)["code"]; code != "PAYLOAD_MALFORMED" {
		t.Fatalf("unexpected code %v", code)
	}
}

func TestHistoryRequiresPrincipal(t *testing.T) {
	rr := serve(newTestServer(Dependencies{}), http.MethodGet, "/api/appraisal/history", "", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestHistoryListsPrincipalRecords(t *testing.T) {
	var gotUser string
	fa := &fakeAppraisals{listFn: func(_ context.Context, userID string) ([]store.AppraisalResult, error) {
		gotUser = userID
		return []store.AppraisalResult{sampleRecord("rec-2", store.UserOwner(userID)), sampleRecord("rec-1", store.UserOwner(userID))}, nil
	}}
	rr := serve(newTestServer(Dependencies{Appraisals: fa}), http.MethodGet, "/api/appraisal/history", "", bearer(t, testUserID))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var records []Record
	if err := json.Unmarshal(rr.Body.Bytes(), &records); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if gotUser != testUserID || len(records) != 2 || records[0].ID != "rec-2" {
		t.Fatalf("unexpected history user=%s records=%+v", gotUser, records)
	}
}

func TestResultIsOwnerScoped(t *testing.T) {
	fa := &fakeAppraisals{getFn: func(_ context.Context, owner store.Owner, id string) (store.AppraisalResult, error) {
		if owner != store.UserOwner(testUserID) {
			t.Errorf("unexpected owner %+v", owner)
		}
		if id == "rec-1" {
			return sampleRecord(id, owner), nil
		}
		return store.AppraisalResult{}, store.ErrNotFound
	}}
	server := newTestServer(Dependencies{Appraisals: fa})

	found := serve(server, http.MethodGet, "/api/appraisal/results/rec-1", "", bearer(t, testUserID))
	if found.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", found.Code)
	}
	missing := serve(server, http.MethodGet, "/api/appraisal/results/other", "", bearer(t, testUserID))
	if missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", missing.Code)
	}
}

func TestResultByRequestID(t *testing.T) {
	fa := &fakeAppraisals{getByRequestIDFn: func(_ context.Context, owner store.Owner, requestID string) (store.AppraisalResult, error) {
		if requestID != "req-1" {
			return store.AppraisalResult{}, store.ErrNotFound
		}
		return sampleRecord("rec-1", owner), nil
	}}
	rr := serve(newTestServer(Dependencies{Appraisals: fa}), http.MethodGet, "/api/appraisal/results/by-request/req-1", "", bearer(t, testUserID))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if decodeMap(t, rr)["requestId"] != "req-1" {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
}

func TestMigrateDefaultsToPrincipal(t *testing.T) {
	var gotAnon, gotUser string
	fa := &fakeAppraisals{migrateFn: func(_ context.Context, anon, userID string) (appraisal.MigrationResult, error) {
		gotAnon, gotUser = anon, userID
		return appraisal.MigrationResult{Migrated: 2, Atomic: true}, nil
	}}
	rr := serve(newTestServer(Dependencies{Appraisals: fa}), http.MethodPost, "/api/appraisal/migrate-anonymous-data", `{"anonymousSessionId":"anon-123"}`, bearer(t, testUserID))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeMap(t, rr)
	if payload["migrated"] != float64(2) || payload["atomic"] != true {
		t.Fatalf("unexpected payload %v", payload)
	}
	if gotAnon != "anon-123" || gotUser != testUserID {
		t.Fatalf("unexpected migrate args %q %q", gotAnon, gotUser)
	}
}

func TestMigrateRejections(t *testing.T) {
	fa := &fakeAppraisals{migrateFn: func(context.Context, string, string) (appraisal.MigrationResult, error) {
		t.Fatal("migrate must not run")
		return appraisal.MigrationResult{}, nil
	}}
	server := newTestServer(Dependencies{Appraisals: fa})

	anonymous := serve(server, http.MethodPost, "/api/appraisal/migrate-anonymous-data", `{"anonymousSessionId":"anon-123"}`, "")
	if anonymous.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", anonymous.Code)
	}
	other := serve(server, http.MethodPost, "/api/appraisal/migrate-anonymous-data", `{"anonymousSessionId":"anon-123","userId":"someone-else"}`, bearer(t, testUserID))
	if other.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", other.Code)
	}
}

func TestMigrateFailureReportsPartialCount(t *testing.T) {
	fa := &fakeAppraisals{migrateFn: func(context.Context, string, string) (appraisal.MigrationResult, error) {
		return appraisal.MigrationResult{Migrated: 1, Atomic: false}, errors.New("update failed")
	}}
	rr := serve(newTestServer(Dependencies{Appraisals: fa}), http.MethodPost, "/api/appraisal/migrate-anonymous-data", `{"anonymousSessionId":"anon-123"}`, bearer(t, testUserID))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	details, _ := decodeMap(t, rr)["details"].(map[string]any)
	if details["migrated"] != float64(1) || details["atomic"] != false {
		t.Fatalf("unexpected details %v", details)
	}
}

func TestMigrateMissingSession(t *testing.T) {
	fa := &fakeAppraisals{migrateFn: func(context.Context, string, string) (appraisal.MigrationResult, error) {
		return appraisal.MigrationResult{}, appraisal.ErrMissingAnonymousSession
	}}
	rr := serve(newTestServer(Dependencies{Appraisals: fa}), http.MethodPost, "/api/appraisal/migrate-anonymous-data", `{}`, bearer(t, testUserID))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestDownloadPDF(t *testing.T) {
	fe := &fakeExporter{reportFn: func(_ context.Context, payload map[string]any) (*export.Result, error) {
		if _, ok := payload["initial_data"]; !ok {
			t.Errorf("payload not forwarded: %v", payload)
		}
		return &export.Result{Data: []byte("%PDF"), Filename: export.ReportFilename, MimeType: "application/pdf"}, nil
	}}
	rr := serve(newTestServer(Dependencies{Export: fe}), http.MethodPost, "/api/appraisal/download-pdf", `{"initial_data":{"city":"Cali"}}`, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("Content-Type") != "application/pdf" {
		t.Fatalf("unexpected content type %q", rr.Header().Get("Content-Type"))
	}
	if !strings.Contains(rr.Header().Get("Content-Disposition"), export.ReportFilename) {
		t.Fatalf("unexpected disposition %q", rr.Header().Get("Content-Disposition"))
	}
	if rr.Body.String() != "%PDF" {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}
}

func TestDownloadPDFUnavailable(t *testing.T) {
	fe := &fakeExporter{reportFn: func(context.Context, map[string]any) (*export.Result, error) {
		return nil, export.ErrPDFDependencyMissing
	}}
	rr := serve(newTestServer(Dependencies{Export: fe}), http.MethodPost, "/api/appraisal/download-pdf", `{}`, "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}

	rr = serve(newTestServer(Dependencies{Export: fe}), http.MethodPost, "/api/appraisal/download-pdf", `[1,2]`, "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-object payload, got %d", rr.Code)
	}
}

func TestResultPDFUsesStoredRecord(t *testing.T) {
	fa := &fakeAppraisals{getFn: func(_ context.Context, owner store.Owner, id string) (store.AppraisalResult, error) {
		return sampleRecord(id, owner), nil
	}}
	fe := &fakeExporter{recordFn: func(_ context.Context, record store.AppraisalResult) (*export.Result, error) {
		if record.ID != "rec-1" || record.UserID != testUserID {
			t.Errorf("unexpected record %+v", record)
		}
		return &export.Result{Data: []byte("pdf"), Filename: "peritaje-req-1.pdf", MimeType: "application/pdf"}, nil
	}}
	server := newTestServer(Dependencies{Appraisals: fa, Export: fe})
	rr := serve(server, http.MethodGet, "/api/appraisal/results/rec-1/pdf", "", bearer(t, testUserID))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	anonymous := serve(server, http.MethodGet, "/api/appraisal/results/rec-1/pdf", "", "")
	if anonymous.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", anonymous.Code)
	}
}

func TestSearchIsPrincipalScoped(t *testing.T) {
	fs := &fakeSearcher{searchFn: func(_ context.Context, q search.Query) search.Response {
		if q.Owner != store.UserOwner(testUserID) || q.Text != "bogota" || q.Limit != 20 {
			t.Errorf("unexpected query %+v", q)
		}
		return search.Response{Results: []search.Result{{ID: "rec-1"}}, Total: 1, Query: q.Text}
	}}
	rr := serve(newTestServer(Dependencies{Search: fs}), http.MethodGet, "/api/appraisal/search?q=bogota", "", bearer(t, testUserID))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if decodeMap(t, rr)["total"] != float64(1) {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
}

func TestSignUpAndSignIn(t *testing.T) {
	fi := &fakeIdentity{
		signUpFn: func(_ context.Context, creds identity.Credentials) (identity.Session, error) {
			if creds.Email == "taken@example.com" {
				return identity.Session{}, identity.ErrAlreadyRegistered
			}
			return identity.Session{AccessToken: "tok", TokenType: "bearer", User: identity.User{ID: "u1", Email: creds.Email}}, nil
		},
		signInFn: func(_ context.Context, creds identity.Credentials) (identity.Session, error) {
			if creds.Password != "secret" {
				return identity.Session{}, identity.ErrInvalidCredentials
			}
			return identity.Session{AccessToken: "tok", TokenType: "bearer"}, nil
		},
	}
	server := newTestServer(Dependencies{Identity: fi})

	created := serve(server, http.MethodPost, "/api/public/auth/signup", `{"email":"ana@example.com","password":"secret"}`, "")
	if created.Code != http.StatusCreated || decodeMap(t, created)["access_token"] != "tok" {
		t.Fatalf("unexpected signup response %d %s", created.Code, created.Body.String())
	}
	taken := serve(server, http.MethodPost, "/api/public/auth/signup", `{"email":"taken@example.com","password":"secret"}`, "")
	if taken.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", taken.Code)
	}
	wrong := serve(server, http.MethodPost, "/api/public/auth/signin", `{"email":"ana@example.com","password":"nope"}`, "")
	if wrong.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", wrong.Code)
	}
	ok := serve(server, http.MethodPost, "/api/public/auth/signin", `{"email":"ana@example.com","password":"secret"}`, "")
	if ok.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", ok.Code)
	}
}

func TestSignUpProviderFailure(t *testing.T) {
	fi := &fakeIdentity{signUpFn: func(context.Context, identity.Credentials) (identity.Session, error) {
		return identity.Session{}, identity.ErrProviderFailure
	}}
	rr := serve(newTestServer(Dependencies{Identity: fi}), http.MethodPost, "/api/public/auth/signup", `{"email":"a@b.co","password":"x"}`, "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestSignOutRequiresBearer(t *testing.T) {
	var gotToken string
	fi := &fakeIdentity{signOutFn: func(_ context.Context, token string) error {
		gotToken = token
		return nil
	}}
	server := newTestServer(Dependencies{Identity: fi})

	rr := serve(server, http.MethodPost, "/api/public/auth/signout", "", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	header := bearer(t, testUserID)
	rr = serve(server, http.MethodPost, "/api/public/auth/signout", "", header)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if "Bearer "+gotToken != header {
		t.Fatal("sign out did not receive the bearer token")
	}
}

func TestUnknownRoute(t *testing.T) {
	rr := serve(newTestServer(Dependencies{}), http.MethodGet, "/api/nope", "", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if decodeMap(t, rr)["code"] != "NOT_FOUND" {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
}
