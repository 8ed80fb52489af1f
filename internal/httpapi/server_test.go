package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/credit-markets/vitalfi-backend/internal/circuitbreaker"
	"github.com/credit-markets/vitalfi-backend/internal/domain/event"
	"github.com/credit-markets/vitalfi-backend/internal/domain/model"
	"github.com/credit-markets/vitalfi-backend/internal/ingest"
	"github.com/credit-markets/vitalfi-backend/internal/query"
)

const (
	testToken     = "hook-secret"
	testAuthority = "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T"
	testOwner     = "7S1Wv9jC5K4UYJyZQvWuJ91t54pBJYqrvdZ2SmUyjTbW"
	testVaultAddr = "9n4nbM75f5Ui33ZbPYXn59EwSgE8CGsHtAeTH5YFeJ9E"
)

// --- Mocks ---

type mockIngester struct {
	ingestFunc func(ctx context.Context, evt *event.TransactionEvent) (ingest.Result, error)
}

func (m *mockIngester) Ingest(ctx context.Context, evt *event.TransactionEvent) (ingest.Result, error) {
	if m.ingestFunc == nil {
		return ingest.Result{}, nil
	}
	return m.ingestFunc(ctx, evt)
}

type mockQueries struct {
	vaultsFunc    func(ctx context.Context, authority string, status *model.VaultStatus, cursor *int64, limit int64) (query.Page[*model.Vault], error)
	positionsFunc func(ctx context.Context, owner string, status *model.VaultStatus, cursor *int64, limit int64) (query.Page[*model.Position], error)
	timelineFunc  func(ctx context.Context, scope query.TimelineScope, key string, cursor *int64, limit int64) (query.Page[*model.Activity], error)
}

func (m *mockQueries) VaultsByAuthority(ctx context.Context, authority string, status *model.VaultStatus, cursor *int64, limit int64) (query.Page[*model.Vault], error) {
	if m.vaultsFunc == nil {
		return query.Page[*model.Vault]{}, nil
	}
	return m.vaultsFunc(ctx, authority, status, cursor, limit)
}

func (m *mockQueries) PositionsByOwner(ctx context.Context, owner string, status *model.VaultStatus, cursor *int64, limit int64) (query.Page[*model.Position], error) {
	if m.positionsFunc == nil {
		return query.Page[*model.Position]{}, nil
	}
	return m.positionsFunc(ctx, owner, status, cursor, limit)
}

func (m *mockQueries) Timeline(ctx context.Context, scope query.TimelineScope, key string, cursor *int64, limit int64) (query.Page[*model.Activity], error) {
	if m.timelineFunc == nil {
		return query.Page[*model.Activity]{}, nil
	}
	return m.timelineFunc(ctx, scope, key, cursor, limit)
}

type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(context.Context) error { return m.err }

type mockBreaker struct {
	state circuitbreaker.State
}

func (m *mockBreaker) BreakerState() circuitbreaker.State { return m.state }

// --- Helpers ---

func newTestServer(t *testing.T, ing Ingester, q Queries, opts ...ServerOption) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	srv := NewServer(ing, q, &mockPinger{}, &mockBreaker{}, Config{
		Network:          "devnet",
		WebhookToken:     testToken,
		RateLimitRPS:     1000,
		RateLimitBurst:   1000,
		CacheMaxAge:      30 * time.Second,
		CacheStaleFactor: 3,
	}, logger, opts...)
	t.Cleanup(srv.Close)
	return srv
}

func postWebhook(handler http.Handler, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, routeWebhook, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

// --- Tests: webhook intake ---

func TestHandleWebhook_SingleEvent(t *testing.T) {
	var got *event.TransactionEvent
	ing := &mockIngester{
		ingestFunc: func(_ context.Context, evt *event.TransactionEvent) (ingest.Result, error) {
			got = evt
			return ingest.Result{SubjectsUpserted: 2, ActivitiesCreated: 1}, nil
		},
	}
	srv := newTestServer(t, ing, &mockQueries{})

	body := `{"signature":"5fWn8sig","slot":100,"accounts":["` + testVaultAddr + `"]}`
	rec := postWebhook(srv.Handler(), testToken, body)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got == nil || got.Signature != "5fWn8sig" || got.Slot != 100 {
		t.Errorf("unexpected event passed to ingester: %+v", got)
	}

	var resp webhookResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.SubjectsUpserted != 2 || resp.ActivitiesCreated != 1 {
		t.Errorf("expected {2 1}, got %+v", resp)
	}
}

func TestHandleWebhook_BatchAccumulates(t *testing.T) {
	calls := 0
	ing := &mockIngester{
		ingestFunc: func(_ context.Context, _ *event.TransactionEvent) (ingest.Result, error) {
			calls++
			return ingest.Result{SubjectsUpserted: 1, ActivitiesCreated: 1}, nil
		},
	}
	srv := newTestServer(t, ing, &mockQueries{})

	body := `[{"signature":"a","slot":1,"accounts":["` + testVaultAddr + `"]},` +
		`{"signature":"b","slot":2,"accounts":["` + testVaultAddr + `"]}]`
	rec := postWebhook(srv.Handler(), testToken, body)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if calls != 2 {
		t.Errorf("expected 2 ingester calls, got %d", calls)
	}

	var resp webhookResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.SubjectsUpserted != 2 || resp.ActivitiesCreated != 2 {
		t.Errorf("expected {2 2}, got %+v", resp)
	}
}

func TestHandleWebhook_Unauthorized(t *testing.T) {
	called := false
	ing := &mockIngester{
		ingestFunc: func(_ context.Context, _ *event.TransactionEvent) (ingest.Result, error) {
			called = true
			return ingest.Result{}, nil
		},
	}
	srv := newTestServer(t, ing, &mockQueries{})
	body := `{"signature":"x","slot":1,"accounts":["` + testVaultAddr + `"]}`

	tests := []struct {
		name  string
		token string
	}{
		{"missing header", ""},
		{"wrong token", "not-the-secret"},
		{"wrong bearer token", "Bearer not-the-secret"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := postWebhook(srv.Handler(), tc.token, body)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected status 401, got %d", rec.Code)
			}
		})
	}
	if called {
		t.Error("ingester must not run for unauthorized requests")
	}
}

func TestHandleWebhook_BearerPrefixAccepted(t *testing.T) {
	srv := newTestServer(t, &mockIngester{}, &mockQueries{})
	body := `{"signature":"x","slot":1,"accounts":["` + testVaultAddr + `"]}`

	rec := postWebhook(srv.Handler(), "Bearer "+testToken, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
}

func TestHandleWebhook_InvalidJSON(t *testing.T) {
	srv := newTestServer(t, &mockIngester{}, &mockQueries{})

	for _, body := range []string{`{not json`, `[{"signature":`, ``, `[null]`} {
		rec := postWebhook(srv.Handler(), testToken, body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: expected status 400, got %d", body, rec.Code)
		}
	}
}

func TestHandleWebhook_ValidationErrorMapsTo400(t *testing.T) {
	ing := &mockIngester{
		ingestFunc: func(_ context.Context, _ *event.TransactionEvent) (ingest.Result, error) {
			return ingest.Result{}, &event.ValidationError{Field: "slot", Reason: "must be positive, got -1"}
		},
	}
	srv := newTestServer(t, ing, &mockQueries{})

	rec := postWebhook(srv.Handler(), testToken, `{"signature":"x","slot":-1,"accounts":["`+testVaultAddr+`"]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "invalid event") {
		t.Errorf("expected validation detail in body, got %s", rec.Body.String())
	}
}

func TestHandleWebhook_IngestErrorMapsTo500(t *testing.T) {
	ing := &mockIngester{
		ingestFunc: func(_ context.Context, _ *event.TransactionEvent) (ingest.Result, error) {
			return ingest.Result{}, context.DeadlineExceeded
		},
	}
	srv := newTestServer(t, ing, &mockQueries{})

	rec := postWebhook(srv.Handler(), testToken, `{"signature":"x","slot":1,"accounts":["`+testVaultAddr+`"]}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "internal server error") {
		t.Errorf("internal detail must not leak, got %s", rec.Body.String())
	}
}

func TestHandleWebhook_BodyTooLarge(t *testing.T) {
	srv := newTestServer(t, &mockIngester{}, &mockQueries{})

	rec := postWebhook(srv.Handler(), testToken, strings.Repeat("a", maxRequestBodyBytes+1))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status 413, got %d", rec.Code)
	}
}

func TestHandleWebhook_EmptyArray(t *testing.T) {
	called := false
	ing := &mockIngester{
		ingestFunc: func(_ context.Context, _ *event.TransactionEvent) (ingest.Result, error) {
			called = true
			return ingest.Result{}, nil
		},
	}
	srv := newTestServer(t, ing, &mockQueries{})

	rec := postWebhook(srv.Handler(), testToken, `[]`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if called {
		t.Error("ingester must not run for an empty batch")
	}
}

func TestHandleWebhook_GetMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, &mockIngester{}, &mockQueries{})

	req := httptest.NewRequest(http.MethodGet, routeWebhook, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405, got %d", rec.Code)
	}
}

// --- Tests: vault queries ---

func TestHandleVaults_Success(t *testing.T) {
	next := int64(1699999000)
	q := &mockQueries{
		vaultsFunc: func(_ context.Context, authority string, _ *model.VaultStatus, _ *int64, _ int64) (query.Page[*model.Vault], error) {
			return query.Page[*model.Vault]{
				Items: []*model.Vault{
					{Address: testVaultAddr, Authority: authority, Status: model.StatusActive, Deposited: "1500"},
				},
				NextCursor: &next,
				HasMore:    true,
			}, nil
		},
	}
	srv := newTestServer(t, &mockIngester{}, q)

	req := httptest.NewRequest(http.MethodGet, routeVaults+"?authority="+testAuthority, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("ETag") == "" {
		t.Error("expected ETag header")
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "public, max-age=30, stale-while-revalidate=90" {
		t.Errorf("unexpected Cache-Control %q", cc)
	}

	var resp listResponse[*model.Vault]
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].Address != testVaultAddr {
		t.Errorf("unexpected items: %+v", resp.Items)
	}
	if !resp.HasMore || resp.NextCursor == nil || *resp.NextCursor != next {
		t.Errorf("unexpected pagination: hasMore=%v nextCursor=%v", resp.HasMore, resp.NextCursor)
	}
}

func TestHandleVaults_RequiresAuthority(t *testing.T) {
	srv := newTestServer(t, &mockIngester{}, &mockQueries{})

	req := httptest.NewRequest(http.MethodGet, routeVaults, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

func TestHandleVaults_PassesFilters(t *testing.T) {
	var gotStatus *model.VaultStatus
	var gotCursor *int64
	var gotLimit int64
	q := &mockQueries{
		vaultsFunc: func(_ context.Context, _ string, status *model.VaultStatus, cursor *int64, limit int64) (query.Page[*model.Vault], error) {
			gotStatus, gotCursor, gotLimit = status, cursor, limit
			return query.Page[*model.Vault]{}, nil
		},
	}
	srv := newTestServer(t, &mockIngester{}, q)

	req := httptest.NewRequest(http.MethodGet,
		routeVaults+"?authority="+testAuthority+"&status=FUNDING&cursor=42&limit=5", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if gotStatus == nil || *gotStatus != model.StatusFunding {
		t.Errorf("expected status FUNDING, got %v", gotStatus)
	}
	if gotCursor == nil || *gotCursor != 42 {
		t.Errorf("expected cursor 42, got %v", gotCursor)
	}
	if gotLimit != 5 {
		t.Errorf("expected limit 5, got %d", gotLimit)
	}
}

func TestHandleVaults_RejectsBadParams(t *testing.T) {
	srv := newTestServer(t, &mockIngester{}, &mockQueries{})

	tests := []struct {
		name string
		url  string
	}{
		{"unknown status", routeVaults + "?authority=a&status=funding"},
		{"garbage status", routeVaults + "?authority=a&status=WAT"},
		{"non-numeric cursor", routeVaults + "?authority=a&cursor=abc"},
		{"non-numeric limit", routeVaults + "?authority=a&limit=ten"},
		{"negative limit", routeVaults + "?authority=a&limit=-5"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.url, nil)
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", rec.Code)
			}
		})
	}
}

func TestHandleVaults_ScanLimitExceededMapsTo503(t *testing.T) {
	q := &mockQueries{
		vaultsFunc: func(_ context.Context, _ string, _ *model.VaultStatus, _ *int64, _ int64) (query.Page[*model.Vault], error) {
			return query.Page[*model.Vault]{}, query.ErrScanLimitExceeded
		},
	}
	srv := newTestServer(t, &mockIngester{}, q)

	req := httptest.NewRequest(http.MethodGet, routeVaults+"?authority="+testAuthority, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header on 503 response")
	}
}

func TestHandleVaults_EmptyPageRendersEmptyArray(t *testing.T) {
	srv := newTestServer(t, &mockIngester{}, &mockQueries{})

	req := httptest.NewRequest(http.MethodGet, routeVaults+"?authority="+testAuthority, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"items":[]`) {
		t.Errorf("expected empty items array, got %s", rec.Body.String())
	}
}

// --- Tests: position queries ---

func TestHandlePositions_Success(t *testing.T) {
	q := &mockQueries{
		positionsFunc: func(_ context.Context, owner string, _ *model.VaultStatus, _ *int64, _ int64) (query.Page[*model.Position], error) {
			return query.Page[*model.Position]{
				Items: []*model.Position{
					{Address: "pos1", Vault: testVaultAddr, Owner: owner, Deposited: "100"},
				},
			}, nil
		},
	}
	srv := newTestServer(t, &mockIngester{}, q)

	req := httptest.NewRequest(http.MethodGet, routePositions+"?owner="+testOwner, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var resp listResponse[*model.Position]
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].Owner != testOwner {
		t.Errorf("unexpected items: %+v", resp.Items)
	}
	if resp.HasMore {
		t.Error("expected hasMore=false")
	}
}

func TestHandlePositions_RequiresOwner(t *testing.T) {
	srv := newTestServer(t, &mockIngester{}, &mockQueries{})

	req := httptest.NewRequest(http.MethodGet, routePositions, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}

// --- Tests: activity queries ---

func TestHandleActivity_ScopeSelection(t *testing.T) {
	tests := []struct {
		name      string
		url       string
		wantScope query.TimelineScope
		wantKey   string
	}{
		{"vault scope", routeActivity + "?vault=" + testVaultAddr, query.TimelineSubject, testVaultAddr},
		{"position scope", routeActivity + "?position=pos1", query.TimelineSubject, "pos1"},
		{"owner scope", routeActivity + "?owner=" + testOwner, query.TimelineWallet, testOwner},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var gotScope query.TimelineScope
			var gotKey string
			q := &mockQueries{
				timelineFunc: func(_ context.Context, scope query.TimelineScope, key string, _ *int64, _ int64) (query.Page[*model.Activity], error) {
					gotScope, gotKey = scope, key
					return query.Page[*model.Activity]{}, nil
				},
			}
			srv := newTestServer(t, &mockIngester{}, q)

			req := httptest.NewRequest(http.MethodGet, tc.url, nil)
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d", rec.Code)
			}
			if gotScope != tc.wantScope || gotKey != tc.wantKey {
				t.Errorf("expected %s/%s, got %s/%s", tc.wantScope, tc.wantKey, gotScope, gotKey)
			}
		})
	}
}

func TestHandleActivity_RejectsAmbiguousScope(t *testing.T) {
	srv := newTestServer(t, &mockIngester{}, &mockQueries{})

	tests := []struct {
		name string
		url  string
	}{
		{"no scope", routeActivity},
		{"two scopes", routeActivity + "?vault=v&owner=o"},
		{"all scopes", routeActivity + "?vault=v&position=p&owner=o"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.url, nil)
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", rec.Code)
			}
		})
	}
}

// --- Tests: health and metrics ---

func TestHandleHealthz(t *testing.T) {
	tests := []struct {
		name        string
		pingErr     error
		breaker     circuitbreaker.State
		wantCode    int
		wantStatus  string
		wantBreaker string
	}{
		{"healthy", nil, circuitbreaker.StateClosed, http.StatusOK, "ok", "closed"},
		{"store down", context.DeadlineExceeded, circuitbreaker.StateClosed, http.StatusServiceUnavailable, "degraded", "closed"},
		{"breaker open", nil, circuitbreaker.StateOpen, http.StatusOK, "degraded", "open"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
			srv := NewServer(&mockIngester{}, &mockQueries{}, &mockPinger{err: tc.pingErr}, &mockBreaker{state: tc.breaker}, Config{
				Network:        "devnet",
				WebhookToken:   testToken,
				RateLimitRPS:   1000,
				RateLimitBurst: 1000,
			}, logger)
			t.Cleanup(srv.Close)

			req := httptest.NewRequest(http.MethodGet, routeHealthz, nil)
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)

			if rec.Code != tc.wantCode {
				t.Fatalf("expected status %d, got %d", tc.wantCode, rec.Code)
			}

			var resp healthResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Status != tc.wantStatus {
				t.Errorf("expected status %q, got %q", tc.wantStatus, resp.Status)
			}
			if resp.Breaker != tc.wantBreaker {
				t.Errorf("expected breaker %q, got %q", tc.wantBreaker, resp.Breaker)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, &mockIngester{}, &mockQueries{})

	req := httptest.NewRequest(http.MethodGet, routeMetrics, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "# HELP") {
		t.Error("expected Prometheus exposition format")
	}
}

// --- Tests: middleware behavior through the full handler ---

func TestRequestIDAssignedAndHonored(t *testing.T) {
	srv := newTestServer(t, &mockIngester{}, &mockQueries{})

	req := httptest.NewRequest(http.MethodGet, routeVaults+"?authority=a", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Header().Get(requestIDHeader) == "" {
		t.Error("expected a generated request id")
	}

	req2 := httptest.NewRequest(http.MethodGet, routeVaults+"?authority=a", nil)
	req2.Header.Set(requestIDHeader, "trace-abc-123")
	rec2 := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec2, req2)
	if got := rec2.Header().Get(requestIDHeader); got != "trace-abc-123" {
		t.Errorf("expected inbound request id to be honored, got %q", got)
	}
}

func TestPanicRecovery(t *testing.T) {
	q := &mockQueries{
		vaultsFunc: func(_ context.Context, _ string, _ *model.VaultStatus, _ *int64, _ int64) (query.Page[*model.Vault], error) {
			panic("boom")
		},
	}
	srv := newTestServer(t, &mockIngester{}, q)

	req := httptest.NewRequest(http.MethodGet, routeVaults+"?authority="+testAuthority, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	srv := NewServer(&mockIngester{}, &mockQueries{}, &mockPinger{}, &mockBreaker{}, Config{
		Network:        "devnet",
		WebhookToken:   testToken,
		RateLimitRPS:   1000,
		RateLimitBurst: 1000,
		CORSOrigins:    []string{"https://app.vitalfi.io"},
	}, logger)
	t.Cleanup(srv.Close)

	req := httptest.NewRequest(http.MethodOptions, routeVaults, nil)
	req.Header.Set("Origin", "https://app.vitalfi.io")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.vitalfi.io" {
		t.Errorf("expected allowed origin header, got %q", got)
	}
}
