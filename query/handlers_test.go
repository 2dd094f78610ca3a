package query

import (
	"context"
	"errors"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-fitsync/core"
	"github.com/goliatone/go-fitsync/store/memory"
)

type namedProvider struct {
	core.Provider
	id string
}

func (p namedProvider) ID() string { return p.id }

func seedConnection(t *testing.T, store *memory.Store, userID string, providerID string) core.Connection {
	t.Helper()
	conn, err := store.ConnectionStore().Upsert(context.Background(), core.UpsertConnectionInput{
		UserID:     userID,
		ProviderID: providerID,
		Token:      core.TokenSet{AccessToken: "at", Scopes: []string{"activity"}},
	})
	if err != nil {
		t.Fatalf("seed connection: %v", err)
	}
	return conn
}

func TestConnectionStatusQuery_ConnectedWithLatestSync(t *testing.T) {
	store := memory.New()
	conn := seedConnection(t, store, "U1", "fitbit")
	records := store.SyncRecordStore()
	record, err := records.Create(context.Background(), core.SyncRecord{
		ConnectionID: conn.ID,
		UserID:       "U1",
		ProviderID:   "fitbit",
		Kind:         core.SyncKindInitial,
		Status:       core.SyncStatusInProgress,
		StartedAt:    time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("create record: %v", err)
	}
	if err := record.Complete(core.SyncStatusSuccess, time.Date(2026, 10, 19, 12, 1, 0, 0, time.UTC)); err != nil {
		t.Fatalf("complete record: %v", err)
	}
	if _, err := records.Complete(context.Background(), record); err != nil {
		t.Fatalf("persist record: %v", err)
	}

	status, err := NewConnectionStatusQuery(store.ConnectionStore(), records).Query(context.Background(), ConnectionStatusMessage{
		UserID:     "U1",
		ProviderID: "fitbit",
	})
	if err != nil {
		t.Fatalf("query status: %v", err)
	}
	if !status.Connected || status.ConnectionID != conn.ID {
		t.Fatalf("expected connected status, got %#v", status)
	}
	if status.LatestSync == nil || status.LatestSync.Status != core.SyncStatusSuccess {
		t.Fatalf("expected latest successful sync, got %#v", status.LatestSync)
	}
	if len(status.Scopes) != 1 || status.Scopes[0] != "activity" {
		t.Fatalf("expected scopes carried over, got %v", status.Scopes)
	}
}

func TestConnectionStatusesQuery_ListsEveryRegisteredProvider(t *testing.T) {
	store := memory.New()
	seedConnection(t, store, "U1", "oura")

	registry := core.NewProviderRegistry()
	for _, id := range []string{"strava", "oura", "fitbit"} {
		if err := registry.Register(namedProvider{id: id}); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}
	status := NewConnectionStatusQuery(store.ConnectionStore(), store.SyncRecordStore())
	statuses, err := NewConnectionStatusesQuery(registry, status).Query(context.Background(), ConnectionStatusesMessage{UserID: "U1"})
	if err != nil {
		t.Fatalf("query statuses: %v", err)
	}
	if len(statuses) != 3 {
		t.Fatalf("expected three statuses, got %#v", statuses)
	}
	if statuses[0].ProviderID != "fitbit" || statuses[1].ProviderID != "oura" || statuses[2].ProviderID != "strava" {
		t.Fatalf("expected provider id order, got %#v", statuses)
	}
	if statuses[0].Connected || !statuses[1].Connected || statuses[2].Connected {
		t.Fatalf("expected only oura connected, got %#v", statuses)
	}
	if statuses[1].LatestSync != nil {
		t.Fatalf("expected no sync history yet")
	}
}

func TestListMetricsQuery_FiltersByUserAndType(t *testing.T) {
	store := memory.New()
	conn := seedConnection(t, store, "U1", "garmin")
	other := seedConnection(t, store, "U2", "garmin")
	day := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)

	metrics := []core.Metric{
		core.NewMetric(day, core.MetricSteps, 8000),
		core.NewMetric(day, core.MetricCalories, 350),
	}
	for i := range metrics {
		metrics[i].ConnectionID = conn.ID
		metrics[i].UserID = "U1"
		metrics[i].ProviderID = "garmin"
	}
	foreign := core.NewMetric(day, core.MetricSteps, 1)
	foreign.ConnectionID = other.ID
	foreign.UserID = "U2"
	foreign.ProviderID = "garmin"
	if _, err := store.MetricStore().UpsertMetrics(context.Background(), append(metrics, foreign)); err != nil {
		t.Fatalf("upsert metrics: %v", err)
	}

	out, err := NewListMetricsQuery(store.MetricStore()).Query(context.Background(), ListMetricsMessage{
		Query: core.MetricQuery{UserID: "U1", Types: []core.MetricType{core.MetricSteps}},
	})
	if err != nil {
		t.Fatalf("list metrics: %v", err)
	}
	if len(out) != 1 || out[0].Value != 8000 || out[0].UserID != "U1" {
		t.Fatalf("unexpected metrics %#v", out)
	}
}

func TestSyncHistoryQuery_NotConnected(t *testing.T) {
	store := memory.New()
	_, err := NewSyncHistoryQuery(store.ConnectionStore(), store.SyncRecordStore()).Query(context.Background(), SyncHistoryMessage{
		UserID:     "U1",
		ProviderID: "whoop",
	})
	if core.KindOf(err) != core.KindNotConnected {
		t.Fatalf("expected not_connected, got %v", err)
	}
}

func TestMessages_ValidateReturnsRichErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
	}{
		{"status missing user", ConnectionStatusMessage{ProviderID: "fitbit"}.Validate()},
		{"statuses missing user", ConnectionStatusesMessage{}.Validate()},
		{"metrics unknown type", ListMetricsMessage{Query: core.MetricQuery{UserID: "U1", Types: []core.MetricType{"vo2"}}}.Validate()},
		{"metrics inverted range", ListMetricsMessage{Query: core.MetricQuery{
			UserID: "U1",
			From:   time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC),
			To:     time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
		}}.Validate()},
		{"metrics limit", ListMetricsMessage{Query: core.MetricQuery{UserID: "U1", Limit: MaxMetricPageSize + 1}}.Validate()},
		{"history limit", SyncHistoryMessage{UserID: "U1", ProviderID: "oura", Limit: -1}.Validate()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var rich *goerrors.Error
			if !errors.As(tc.err, &rich) {
				t.Fatalf("expected go-errors error, got %T", tc.err)
			}
			if rich.Category != goerrors.CategoryValidation || rich.TextCode != core.ErrorInvalidRequest {
				t.Fatalf("unexpected envelope %+v", rich)
			}
		})
	}
	if err := (ListMetricsMessage{Query: core.MetricQuery{UserID: "U1"}}).Validate(); err != nil {
		t.Fatalf("expected valid metrics query, got %v", err)
	}
}

func TestQueries_RequireDependencies(t *testing.T) {
	if _, err := (&ListMetricsQuery{}).Query(context.Background(), ListMetricsMessage{}); core.KindOf(err) != core.KindInternal {
		t.Fatalf("expected internal dependency error, got %v", err)
	}
	if _, err := (&ConnectionStatusesQuery{}).Query(context.Background(), ConnectionStatusesMessage{}); core.KindOf(err) != core.KindInternal {
		t.Fatalf("expected internal dependency error, got %v", err)
	}
}
