package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	fitsync "github.com/goliatone/go-fitsync"
	"github.com/goliatone/go-fitsync/core"
	"github.com/goliatone/go-fitsync/store/memory"
	fsync "github.com/goliatone/go-fitsync/sync"
)

type stubProvider struct {
	id string
}

func (p stubProvider) ID() string { return p.id }

func (stubProvider) Protocol() core.Protocol { return core.ProtocolOAuth2 }

func (stubProvider) BeginAuth(_ context.Context, req core.BeginAuthRequest) (core.BeginAuthResponse, error) {
	values := url.Values{}
	values.Set("response_type", "code")
	values.Set("state", req.State)
	return core.BeginAuthResponse{URL: "https://auth.example.com/authorize?" + values.Encode()}, nil
}

func (stubProvider) CompleteAuth(context.Context, core.CompleteAuthRequest) (core.TokenSet, error) {
	return core.TokenSet{AccessToken: "access", RefreshToken: "refresh", ExpiresIn: 3600, Scopes: []string{"activity"}}, nil
}

func (stubProvider) Refresh(context.Context, core.Connection) (core.TokenSet, error) {
	return core.TokenSet{}, core.ErrRefreshUnsupported
}

func (stubProvider) Revoke(context.Context, core.Connection) error { return nil }

func (stubProvider) FetchDailySummaries(context.Context, core.Connection, core.DateRange) ([]core.RawRecord, error) {
	return nil, nil
}

func (stubProvider) MapMetrics([]core.RawRecord) ([]core.Metric, error) { return nil, nil }

type stubSyncer struct {
	mu       sync.Mutex
	requests []fsync.SyncRequest
	result   core.SyncSuccess
	err      error
}

func (s *stubSyncer) Sync(_ context.Context, req fsync.SyncRequest) (core.SyncSuccess, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	return s.result, s.err
}

type nopTrigger struct{}

func (nopTrigger) TriggerSync(context.Context, core.Connection, core.SyncKind) error { return nil }

type serverFixture struct {
	server *Server
	store  *memory.Store
	syncer *stubSyncer
}

func newServerFixture(t *testing.T) serverFixture {
	t.Helper()
	store := memory.New()
	registry := core.NewProviderRegistry()
	if err := registry.Register(stubProvider{id: "strava"}); err != nil {
		t.Fatalf("register strava: %v", err)
	}
	registry.MarkUnavailable("fitbit", errors.New("providers: fitbit client id is required"))

	svc, err := core.NewService(core.Config{},
		core.WithRegistry(registry),
		core.WithStores(store),
		core.WithSyncTrigger(nopTrigger{}),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	syncer := &stubSyncer{}
	facade, err := fitsync.NewFacade(svc, syncer, store)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	server, err := New(facade, svc.Config())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return serverFixture{server: server, store: store, syncer: syncer}
}

func (f serverFixture) do(t *testing.T, method string, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	out := map[string]any{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}

func redirectQuery(t *testing.T, rec *httptest.ResponseRecorder) url.Values {
	t.Helper()
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d: %s", rec.Code, rec.Body.String())
	}
	location, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse location: %v", err)
	}
	return location.Query()
}

func TestConnect_RedirectsAndMapsErrors(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodGet, "/connect/strava?user_id=U1", "")
	if state := redirectQuery(t, rec).Get("state"); state == "" {
		t.Fatalf("expected state in authorize redirect %q", rec.Header().Get("Location"))
	}
	if !strings.HasPrefix(rec.Header().Get("Location"), "https://auth.example.com/authorize") {
		t.Fatalf("unexpected location %q", rec.Header().Get("Location"))
	}

	cases := []struct {
		target string
		status int
		kind   string
	}{
		{target: "/connect/strava", status: http.StatusBadRequest, kind: string(core.KindInvalidRequest)},
		{target: "/connect/polar?user_id=U1", status: http.StatusNotFound, kind: string(core.KindProviderNotFound)},
		{target: "/connect/fitbit?user_id=U1", status: http.StatusInternalServerError, kind: string(core.KindConfiguration)},
	}
	for _, tc := range cases {
		rec := f.do(t, http.MethodGet, tc.target, "")
		if rec.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d: %s", tc.target, tc.status, rec.Code, rec.Body.String())
		}
		if got := decodeBody(t, rec)["error"]; got != tc.kind {
			t.Fatalf("%s: expected error %q, got %v", tc.target, tc.kind, got)
		}
	}
}

func TestMissingUserIDIsInvalidRequestWithMessage(t *testing.T) {
	f := newServerFixture(t)

	for _, target := range []string{"/connect/strava", "/status/strava", "/status", "/metrics"} {
		rec := f.do(t, http.MethodGet, target, "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d: %s", target, rec.Code, rec.Body.String())
		}
		body := decodeBody(t, rec)
		if body["error"] != string(core.KindInvalidRequest) {
			t.Fatalf("%s: expected invalid_request, got %v", target, body["error"])
		}
		message, _ := body["message"].(string)
		if message == "" || message == http.StatusText(http.StatusInternalServerError) {
			t.Fatalf("%s: expected validation message, got %q", target, message)
		}
	}
}

func TestCallback_ConnectsThenDisconnects(t *testing.T) {
	f := newServerFixture(t)

	state := redirectQuery(t, f.do(t, http.MethodGet, "/connect/strava?user_id=U1", "")).Get("state")
	callback := f.do(t, http.MethodGet, "/callback/strava?code=abc&state="+url.QueryEscape(state), "")
	query := redirectQuery(t, callback)
	if query.Get("status") != string(core.CallbackConnected) || query.Get("provider") != "strava" {
		t.Fatalf("expected connected redirect, got %v", query)
	}
	if query.Get("reason") != "" {
		t.Fatalf("connected redirect must not carry a reason, got %q", query.Get("reason"))
	}
	if !strings.HasPrefix(callback.Header().Get("Location"), "/connections/status?") {
		t.Fatalf("expected default status page, got %q", callback.Header().Get("Location"))
	}

	status := f.do(t, http.MethodGet, "/status/strava?user_id=U1", "")
	if status.Code != http.StatusOK || decodeBody(t, status)["connected"] != true {
		t.Fatalf("expected connected status, got %d %s", status.Code, status.Body.String())
	}

	for i := 0; i < 2; i++ {
		rec := f.do(t, http.MethodPost, "/disconnect/strava", `{"user_id":"U1"}`)
		if rec.Code != http.StatusOK || decodeBody(t, rec)["success"] != true {
			t.Fatalf("disconnect attempt %d: got %d %s", i, rec.Code, rec.Body.String())
		}
	}

	status = f.do(t, http.MethodGet, "/status/strava?user_id=U1", "")
	if decodeBody(t, status)["connected"] != false {
		t.Fatalf("expected disconnected status, got %s", status.Body.String())
	}
}

func TestCallback_DeniedAndInvalidState(t *testing.T) {
	f := newServerFixture(t)

	denied := redirectQuery(t, f.do(t, http.MethodGet, "/callback/strava?error=access_denied", ""))
	if denied.Get("status") != string(core.CallbackDenied) || denied.Get("reason") != string(core.KindUserDenied) {
		t.Fatalf("expected denied redirect, got %v", denied)
	}

	invalid := redirectQuery(t, f.do(t, http.MethodGet, "/callback/strava?code=abc&state=garbage", ""))
	if invalid.Get("status") != string(core.CallbackError) || invalid.Get("reason") != string(core.KindHandshakeInvalid) {
		t.Fatalf("expected handshake error redirect, got %v", invalid)
	}

	rec := f.do(t, http.MethodGet, "/callback/polar?code=abc", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown provider, got %d", rec.Code)
	}
}

func TestDisconnect_RequiresUserID(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/disconnect/strava", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody(t, rec)["error"]; got != string(core.KindInvalidRequest) {
		t.Fatalf("expected invalid_request, got %v", got)
	}
}

func TestSync_ReturnsRecordsSyncedOrError(t *testing.T) {
	f := newServerFixture(t)
	day := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	f.syncer.result = core.SyncSuccess{SyncID: "sync-1", RecordsSynced: 3, Range: &core.DateRange{Start: day, End: day}}

	rec := f.do(t, http.MethodPost, "/sync/strava", `{"userId":"U1","syncType":"initial"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["success"] != true || body["recordsSynced"] != float64(3) || body["from"] != "2026-10-19" {
		t.Fatalf("unexpected sync body %v", body)
	}
	if len(f.syncer.requests) != 1 || f.syncer.requests[0].Kind != core.SyncKindInitial || f.syncer.requests[0].ProviderID != "strava" {
		t.Fatalf("unexpected sync requests %+v", f.syncer.requests)
	}

	rec = f.do(t, http.MethodPost, "/sync/strava", `{"userId":"U1","syncType":"weekly"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown sync type, got %d", rec.Code)
	}

	f.syncer.err = core.NewError(core.KindFetchFailed, "providers: upstream returned 503")
	rec = f.do(t, http.MethodPost, "/sync/strava", `{"userId":"U1"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", rec.Code, rec.Body.String())
	}
	body = decodeBody(t, rec)
	if body["error"] != string(core.KindFetchFailed) || body["message"] == "" {
		t.Fatalf("unexpected error body %v", body)
	}
	if got := f.syncer.requests[len(f.syncer.requests)-1].Kind; got != core.SyncKindAutomatic {
		t.Fatalf("expected default automatic sync, got %q", got)
	}
}

func TestMetrics_FiltersByUserAndType(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()
	conn, err := f.store.ConnectionStore().Upsert(ctx, core.UpsertConnectionInput{
		UserID:     "U1",
		ProviderID: "strava",
		Token:      core.TokenSet{AccessToken: "at"},
	})
	if err != nil {
		t.Fatalf("seed connection: %v", err)
	}
	day := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	rows := []core.Metric{
		core.NewMetric(day, core.MetricSteps, 9000),
		core.NewMetric(day, core.MetricCalories, 2100),
	}
	for i := range rows {
		rows[i].ConnectionID = conn.ID
		rows[i].UserID = "U1"
		rows[i].ProviderID = "strava"
	}
	if _, err := f.store.MetricStore().UpsertMetrics(ctx, rows); err != nil {
		t.Fatalf("seed metrics: %v", err)
	}

	rec := f.do(t, http.MethodGet, "/metrics?user_id=U1&type=steps&from=2026-10-01&to=2026-10-31", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var out metricsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode metrics: %v", err)
	}
	if len(out.Metrics) != 1 || out.Metrics[0].Type != string(core.MetricSteps) || out.Metrics[0].Date != "2026-10-18" {
		t.Fatalf("unexpected metrics %+v", out.Metrics)
	}

	if rec := f.do(t, http.MethodGet, "/metrics?user_id=U1&from=yesterday", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed date, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/metrics", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without user, got %d", rec.Code)
	}
}

func TestStatuses_ListsRegisteredProviders(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodGet, "/status?user_id=U1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	connections, ok := decodeBody(t, rec)["connections"].([]any)
	if !ok || len(connections) != 1 {
		t.Fatalf("expected one registered provider, got %s", rec.Body.String())
	}

	if rec := f.do(t, http.MethodGet, "/status/polar?user_id=U1", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown provider, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected healthy, got %d", rec.Code)
	}
}
