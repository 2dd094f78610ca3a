package whoop

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/goliatone/go-fitsync/core"
	"github.com/goliatone/go-fitsync/providers/devkit"
)

func newTestProvider(t *testing.T, api *devkit.FakeAPI) *Provider {
	t.Helper()
	provider, err := New(Config{
		ClientID:     "client",
		ClientSecret: "secret",
		TokenURL:     api.URL() + "/oauth/oauth2/token",
		APIBaseURL:   api.URL() + "/developer/v1",
		HTTPClient:   api.Client(),
	})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	return provider
}

func TestProvider_Conformance(t *testing.T) {
	api := devkit.NewFakeAPI()
	defer api.Close()
	if err := devkit.ValidateProviderConformance(newTestProvider(t, api)); err != nil {
		t.Fatalf("conformance: %v", err)
	}
}

func TestProvider_CyclesAndRecoveriesMapToLocalDay(t *testing.T) {
	api := devkit.NewFakeAPI()
	defer api.Close()
	api.Handle(http.MethodGet, "/developer/v1/cycle", devkit.Route{
		Handler: func(r *http.Request, _ string) (int, string) {
			if r.URL.Query().Get("nextToken") == "" {
				return http.StatusOK, `{"records":[{"id":10,"start":"2026-10-18T03:00:00.000Z","timezone_offset":"-05:00","score_state":"SCORED","score":{"kilojoule":8368,"average_heart_rate":71}}],"next_token":"n2"}`
			}
			return http.StatusOK, `{"records":[{"id":11,"start":"2026-10-18T11:00:00.000Z","timezone_offset":"-05:00","score_state":"PENDING_SCORE"}],"next_token":""}`
		},
	})
	api.JSON(http.MethodGet, "/developer/v1/recovery", http.StatusOK, `{"records":[
		{"cycle_id":10,"created_at":"2026-10-18T12:00:00.000Z","score_state":"SCORED","score":{"recovery_score":64,"resting_heart_rate":54.6}},
		{"cycle_id":11,"created_at":"2026-10-19T12:00:00.000Z","score_state":"UNSCORABLE"}
	],"next_token":""}`)

	provider := newTestProvider(t, api)
	start := time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	records, err := provider.FetchDailySummaries(context.Background(), core.Connection{AccessToken: "tok"}, core.NewDateRange(start, end))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	metrics, err := provider.MapMetrics(records)
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if err := devkit.ValidateMetricsConformance(metrics); err != nil {
		t.Fatalf("metrics conformance: %v", err)
	}

	got := map[string]float64{}
	for _, metric := range metrics {
		got[metric.Date.Format(core.DateLayout)+"|"+string(metric.Type)] = metric.Value
	}
	expect := map[string]float64{
		"2026-10-17|calories":           2000,
		"2026-10-17|active_heart_rate":  71,
		"2026-10-17|recovery_score":     64,
		"2026-10-17|resting_heart_rate": 55,
	}
	if len(got) != len(expect) {
		t.Fatalf("expected %d metrics, got %v", len(expect), got)
	}
	for key, value := range expect {
		if got[key] != value {
			t.Fatalf("expected %s=%v, got %v", key, value, got[key])
		}
	}
	if len(api.Requests("/developer/v1/cycle")) != 2 {
		t.Fatalf("expected cycle pagination")
	}
}

func TestProvider_PadsQueryWindowAndKeepsLocalDayFilter(t *testing.T) {
	api := devkit.NewFakeAPI()
	defer api.Close()
	api.JSON(http.MethodGet, "/developer/v1/cycle", http.StatusOK, `{"records":[
		{"id":20,"start":"2024-05-01T22:30:00.000Z","timezone_offset":"+02:00","score_state":"SCORED","score":{"kilojoule":4184}},
		{"id":21,"start":"2024-05-01T08:00:00.000Z","timezone_offset":"+02:00","score_state":"SCORED","score":{"kilojoule":4184}}
	],"next_token":""}`)
	api.JSON(http.MethodGet, "/developer/v1/recovery", http.StatusOK, `{"records":[],"next_token":""}`)

	provider := newTestProvider(t, api)
	day := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	records, err := provider.FetchDailySummaries(context.Background(), core.Connection{AccessToken: "tok"}, core.NewDateRange(day, day))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(records) != 1 || !records[0].Date.Equal(day) {
		t.Fatalf("expected only the cycle starting locally on 2024-05-02, got %+v", records)
	}
	query := api.Requests("/developer/v1/cycle")[0].Query
	if query.Get("start") != "2024-05-01T00:00:00Z" || query.Get("end") != "2024-05-04T00:00:00Z" {
		t.Fatalf("expected padded query window, got %v", query)
	}
}

func TestProvider_RevokeDeletesAccess(t *testing.T) {
	api := devkit.NewFakeAPI()
	defer api.Close()
	api.Handle(http.MethodDelete, "/developer/v1/user/access", devkit.Route{Status: http.StatusNoContent})

	provider := newTestProvider(t, api)
	if err := provider.Revoke(context.Background(), core.Connection{AccessToken: "tok"}); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	requests := api.Requests("/developer/v1/user/access")
	if len(requests) != 1 || requests[0].Header.Get("Authorization") != "Bearer tok" {
		t.Fatalf("expected bearer delete, got %+v", requests)
	}
}

func TestProvider_CompleteAuthResolvesProfile(t *testing.T) {
	api := devkit.NewFakeAPI()
	defer api.Close()
	api.JSON(http.MethodPost, "/oauth/oauth2/token", http.StatusOK, `{"access_token":"a","refresh_token":"r","expires_in":3600,"scope":"offline read:cycles"}`)
	api.JSON(http.MethodGet, "/developer/v1/user/profile/basic", http.StatusOK, `{"user_id":10129,"email":"x@example.com"}`)

	provider := newTestProvider(t, api)
	token, err := provider.CompleteAuth(context.Background(), core.CompleteAuthRequest{Code: "c"})
	if err != nil {
		t.Fatalf("complete auth: %v", err)
	}
	if token.ExternalUserID != "10129" {
		t.Fatalf("expected 10129, got %q", token.ExternalUserID)
	}
	if len(token.Scopes) != 2 {
		t.Fatalf("expected granted scopes, got %v", token.Scopes)
	}
}
