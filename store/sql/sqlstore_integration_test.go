package sqlstore_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-fitsync/core"
	fitsyncmigrations "github.com/goliatone/go-fitsync/migrations"
	"github.com/goliatone/go-fitsync/providers/devkit"
	"github.com/goliatone/go-fitsync/security"
	sqlstore "github.com/goliatone/go-fitsync/store/sql"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

type testPersistenceConfig struct {
	driver string
	server string
}

func (c testPersistenceConfig) GetDebug() bool {
	return false
}

func (c testPersistenceConfig) GetDriver() string {
	return c.driver
}

func (c testPersistenceConfig) GetServer() string {
	return c.server
}

func (c testPersistenceConfig) GetPingTimeout() time.Duration {
	return time.Second
}

func (c testPersistenceConfig) GetOtelIdentifier() string {
	return "fitsync-tests"
}

func TestMigrationSmokeApplySQLite(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	var tableName string
	if err := client.DB().NewRaw(
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
		"fitsync_metrics",
	).Scan(context.Background(), &tableName); err != nil {
		t.Fatalf("query sqlite master: %v", err)
	}
	if tableName != "fitsync_metrics" {
		t.Fatalf("expected fitsync_metrics table, got %q", tableName)
	}
}

func TestConnectionStore_UpsertKeepsOneLiveRowPerUserProvider(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()
	factory := newFactory(t, client)
	store := factory.ConnectionStore()

	expiresAt := time.Date(2026, 10, 19, 13, 0, 0, 0, time.UTC)
	first, err := store.Upsert(ctx, core.UpsertConnectionInput{
		UserID:         "U1",
		ProviderID:     "fitbit",
		ExternalUserID: "FB1",
		Token: core.TokenSet{
			AccessToken:  "at-1",
			RefreshToken: "rt-1",
			TokenType:    "bearer",
			ExpiresAt:    &expiresAt,
			Scopes:       []string{"activity", "sleep"},
		},
	})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if first.ID == "" || !first.Active || first.ConnectedAt.IsZero() {
		t.Fatalf("unexpected created connection %+v", first)
	}

	second, err := store.Upsert(ctx, core.UpsertConnectionInput{
		UserID:     "U1",
		ProviderID: "fitbit",
		Token:      core.TokenSet{AccessToken: "at-2"},
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected re-authorization to keep connection id %s, got %s", first.ID, second.ID)
	}
	if second.AccessToken != "at-2" || second.RefreshToken != "rt-1" || second.ExternalUserID != "FB1" {
		t.Fatalf("expected token merge on re-authorization, got %+v", second)
	}
	if len(second.Scopes) != 2 {
		t.Fatalf("expected scopes to survive, got %v", second.Scopes)
	}

	var live int
	if err := client.DB().NewRaw(
		"SELECT COUNT(*) FROM fitsync_connections WHERE user_id = ? AND provider_id = ? AND deleted_at IS NULL",
		"U1", "fitbit",
	).Scan(ctx, &live); err != nil {
		t.Fatalf("count live rows: %v", err)
	}
	if live != 1 {
		t.Fatalf("expected one live row, got %d", live)
	}

	found, ok, err := store.FindActive(ctx, "U1", "fitbit")
	if err != nil || !ok {
		t.Fatalf("find active: ok=%v err=%v", ok, err)
	}
	if found.ExpiresAt == nil || !found.ExpiresAt.Equal(expiresAt) {
		t.Fatalf("expected expiry to persist, got %v", found.ExpiresAt)
	}
}

func TestConnectionStore_ConcurrentUpsertsConverge(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()
	store := newFactory(t, client).ConnectionStore()

	var wg sync.WaitGroup
	ids := make([]string, 4)
	errs := make([]error, 4)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, err := store.Upsert(ctx, core.UpsertConnectionInput{
				UserID:     "U1",
				ProviderID: "oura",
				Token:      core.TokenSet{AccessToken: fmt.Sprintf("at-%d", i)},
			})
			ids[i] = conn.ID
			errs[i] = err
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
		if ids[i] != ids[0] {
			t.Fatalf("expected every upsert to resolve to one connection, got %v", ids)
		}
	}
}

func TestConnectionStore_DeleteSoftDeletesAndHidesData(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()
	factory := newFactory(t, client)
	connections := factory.ConnectionStore()
	metrics := factory.MetricStore()
	ledger := factory.SyncRecordStore()

	conn, err := connections.Upsert(ctx, core.UpsertConnectionInput{
		UserID: "U1", ProviderID: "garmin",
		Token: core.TokenSet{AccessToken: "tok", TokenSecret: "sec", TokenType: "oauth1"},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	day := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	steps := core.NewMetric(day, core.MetricSteps, 8000)
	steps.ConnectionID, steps.UserID, steps.ProviderID = conn.ID, conn.UserID, conn.ProviderID
	if _, err := metrics.UpsertMetrics(ctx, []core.Metric{steps}); err != nil {
		t.Fatalf("upsert metrics: %v", err)
	}
	if _, err := ledger.Create(ctx, core.SyncRecord{ConnectionID: conn.ID, UserID: "U1", ProviderID: "garmin", Kind: core.SyncKindInitial}); err != nil {
		t.Fatalf("create sync record: %v", err)
	}

	deleted, err := connections.Delete(ctx, "U1", "garmin")
	if err != nil || !deleted {
		t.Fatalf("delete: deleted=%v err=%v", deleted, err)
	}
	again, err := connections.Delete(ctx, "U1", "garmin")
	if err != nil || again {
		t.Fatalf("expected second delete to be a no-op, got deleted=%v err=%v", again, err)
	}
	if _, ok, err := connections.FindActive(ctx, "U1", "garmin"); err != nil || ok {
		t.Fatalf("expected no live connection, ok=%v err=%v", ok, err)
	}
	if _, err := connections.Get(ctx, conn.ID); core.KindOf(err) != core.KindNotConnected {
		t.Fatalf("expected not_connected for deleted connection, got %v", err)
	}
	listed, err := metrics.ListMetrics(ctx, core.MetricQuery{UserID: "U1"})
	if err != nil {
		t.Fatalf("list metrics: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("expected metrics of deleted connection to be hidden, got %d", len(listed))
	}
	if _, found, err := ledger.Latest(ctx, conn.ID); err != nil || found {
		t.Fatalf("expected no ledger entry for deleted connection, found=%v err=%v", found, err)
	}

	var stored int
	if err := client.DB().NewRaw("SELECT COUNT(*) FROM fitsync_connections WHERE id = ?", conn.ID).Scan(ctx, &stored); err != nil {
		t.Fatalf("count raw rows: %v", err)
	}
	if stored != 1 {
		t.Fatalf("expected soft-deleted row to remain, got %d", stored)
	}

	reconnected, err := connections.Upsert(ctx, core.UpsertConnectionInput{
		UserID: "U1", ProviderID: "garmin",
		Token: core.TokenSet{AccessToken: "tok-2", TokenSecret: "sec-2"},
	})
	if err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if reconnected.ID == conn.ID {
		t.Fatalf("expected a fresh connection id after reconnect")
	}
}

func TestConnectionStore_TokensAndSyncBookkeeping(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()
	store := newFactory(t, client).ConnectionStore()

	conn, err := store.Upsert(ctx, core.UpsertConnectionInput{
		UserID: "U1", ProviderID: "whoop",
		Token: core.TokenSet{AccessToken: "at-1", RefreshToken: "rt-1"},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	newExpiry := time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC)
	updated, err := store.UpdateTokens(ctx, conn.ID, core.TokenSet{AccessToken: "at-2", ExpiresAt: &newExpiry})
	if err != nil {
		t.Fatalf("update tokens: %v", err)
	}
	if updated.AccessToken != "at-2" || updated.RefreshToken != "rt-1" {
		t.Fatalf("unexpected tokens after refresh %+v", updated)
	}

	if err := store.RecordSyncError(ctx, conn.ID, "fetch failed"); err != nil {
		t.Fatalf("record error: %v", err)
	}
	loaded, err := store.Get(ctx, conn.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.LastError != "fetch failed" {
		t.Fatalf("expected last error, got %q", loaded.LastError)
	}
	syncedAt := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	if err := store.RecordSyncSuccess(ctx, conn.ID, syncedAt); err != nil {
		t.Fatalf("record success: %v", err)
	}
	loaded, err = store.Get(ctx, conn.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.LastError != "" || loaded.LastSyncAt == nil || !loaded.LastSyncAt.Equal(syncedAt) {
		t.Fatalf("expected success bookkeeping, got %+v", loaded)
	}

	if err := store.RecordSyncSuccess(ctx, "missing", syncedAt); core.KindOf(err) != core.KindNotConnected {
		t.Fatalf("expected not_connected for unknown id, got %v", err)
	}

	listed, err := store.ListActive(ctx, "whoop")
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != conn.ID {
		t.Fatalf("unexpected active list %+v", listed)
	}
}

func TestConnectionStore_SealsTokensAtRest(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()
	cipher, err := security.NewAppKeyCipherFromString("fitsync-test-key")
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client, sqlstore.WithTokenCipher(cipher))
	if err != nil {
		t.Fatalf("new factory: %v", err)
	}
	store := factory.ConnectionStore()

	conn, err := store.Upsert(ctx, core.UpsertConnectionInput{
		UserID: "U1", ProviderID: "garmin",
		Token: core.TokenSet{AccessToken: "plain-access", TokenSecret: "plain-secret"},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if conn.AccessToken != "plain-access" {
		t.Fatalf("expected plaintext token in domain value, got %q", conn.AccessToken)
	}

	var rawAccess, rawSecret string
	if err := client.DB().NewRaw(
		"SELECT access_token, token_secret FROM fitsync_connections WHERE id = ?", conn.ID,
	).Scan(ctx, &rawAccess, &rawSecret); err != nil {
		t.Fatalf("read raw row: %v", err)
	}
	if !security.IsSealed(rawAccess) || !security.IsSealed(rawSecret) || strings.Contains(rawAccess, "plain-access") {
		t.Fatalf("expected sealed token columns, got %q / %q", rawAccess, rawSecret)
	}

	found, ok, err := store.FindActive(ctx, "U1", "garmin")
	if err != nil || !ok {
		t.Fatalf("find active: ok=%v err=%v", ok, err)
	}
	if found.AccessToken != "plain-access" || found.TokenSecret != "plain-secret" {
		t.Fatalf("expected opened tokens, got %+v", found)
	}
}

func TestHandshakeStore_ConsumeIsSingleUse(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()
	store := newFactory(t, client).HandshakeStore()

	createdAt := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	if err := store.Save(ctx, core.PendingHandshake{
		UserID: "U1", ProviderID: "garmin", RequestToken: "req-1", RequestTokenSecret: "sec-1", CreatedAt: createdAt,
	}); err != nil {
		t.Fatalf("save: %v", err)
	}
	handshake, err := store.Consume(ctx, "garmin", "req-1")
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if handshake.UserID != "U1" || handshake.RequestTokenSecret != "sec-1" || !handshake.CreatedAt.Equal(createdAt) {
		t.Fatalf("unexpected handshake %+v", handshake)
	}
	if _, err := store.Consume(ctx, "garmin", "req-1"); core.KindOf(err) != core.KindHandshakeInvalid {
		t.Fatalf("expected handshake_invalid on second consume, got %v", err)
	}
}

func TestHandshakeStore_PurgeBefore(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()
	store := newFactory(t, client).HandshakeStore()

	base := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	for i, offset := range []time.Duration{-2 * time.Hour, -90 * time.Minute, -time.Minute} {
		if err := store.Save(ctx, core.PendingHandshake{
			UserID: "U1", ProviderID: "garmin",
			RequestToken:       fmt.Sprintf("req-%d", i),
			RequestTokenSecret: "sec",
			CreatedAt:          base.Add(offset),
		}); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}
	purged, err := store.PurgeBefore(ctx, base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 2 {
		t.Fatalf("expected 2 purged handshakes, got %d", purged)
	}
	if _, err := store.Consume(ctx, "garmin", "req-2"); err != nil {
		t.Fatalf("expected recent handshake to survive: %v", err)
	}
}

func TestMetricStore_Conformance(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()
	factory := newFactory(t, client)

	conn, err := factory.ConnectionStore().Upsert(ctx, core.UpsertConnectionInput{
		UserID: "U1", ProviderID: "garmin",
		Token: core.TokenSet{AccessToken: "tok", TokenSecret: "sec"},
	})
	if err != nil {
		t.Fatalf("upsert connection: %v", err)
	}
	day := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	if err := devkit.ValidateMetricStoreConformance(ctx, factory.MetricStore(), conn, day); err != nil {
		t.Fatalf("metric store conformance: %v", err)
	}
}

func TestMetricStore_FiltersAndBatchDedupe(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()
	factory := newFactory(t, client)
	connections := factory.ConnectionStore()
	metrics := factory.MetricStore()

	fitbit, err := connections.Upsert(ctx, core.UpsertConnectionInput{UserID: "U1", ProviderID: "fitbit", Token: core.TokenSet{AccessToken: "a"}})
	if err != nil {
		t.Fatalf("upsert fitbit: %v", err)
	}
	oura, err := connections.Upsert(ctx, core.UpsertConnectionInput{UserID: "U1", ProviderID: "oura", Token: core.TokenSet{AccessToken: "b"}})
	if err != nil {
		t.Fatalf("upsert oura: %v", err)
	}
	attribute := func(conn core.Connection, day time.Time, metricType core.MetricType, value float64) core.Metric {
		metric := core.NewMetric(day, metricType, value)
		metric.ConnectionID, metric.UserID, metric.ProviderID = conn.ID, conn.UserID, conn.ProviderID
		return metric
	}
	d1 := time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)
	d2 := d1.AddDate(0, 0, 1)
	written, err := metrics.UpsertMetrics(ctx, []core.Metric{
		attribute(fitbit, d1, core.MetricSteps, 1000),
		attribute(fitbit, d1, core.MetricSteps, 1200),
		attribute(fitbit, d2, core.MetricSteps, 2000),
		attribute(fitbit, d2, core.MetricDistance, 7.514),
		attribute(oura, d2, core.MetricRecoveryScore, 81),
	})
	if err != nil {
		t.Fatalf("upsert metrics: %v", err)
	}
	if written != 4 {
		t.Fatalf("expected in-batch duplicates collapsed to 4 rows, got %d", written)
	}

	all, err := metrics.ListMetrics(ctx, core.MetricQuery{UserID: "U1"})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(all))
	}
	if all[0].Type != core.MetricSteps || all[0].Value != 1200 || !all[0].Date.Equal(d1) {
		t.Fatalf("expected last in-batch write first, got %+v", all[0])
	}

	onlyD2, err := metrics.ListMetrics(ctx, core.MetricQuery{UserID: "U1", From: d2, To: d2, ProviderID: "fitbit"})
	if err != nil {
		t.Fatalf("list d2: %v", err)
	}
	if len(onlyD2) != 2 {
		t.Fatalf("expected 2 fitbit rows on d2, got %d", len(onlyD2))
	}
	for _, metric := range onlyD2 {
		if metric.Type == core.MetricDistance && (metric.Value != 7.51 || metric.Unit != "km") {
			t.Fatalf("unexpected distance row %+v", metric)
		}
	}

	recovery, err := metrics.ListMetrics(ctx, core.MetricQuery{UserID: "U1", Types: []core.MetricType{core.MetricRecoveryScore}})
	if err != nil {
		t.Fatalf("list by type: %v", err)
	}
	if len(recovery) != 1 || recovery[0].ProviderID != "oura" {
		t.Fatalf("unexpected type filter result %+v", recovery)
	}

	paged, err := metrics.ListMetrics(ctx, core.MetricQuery{UserID: "U1", Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("list paged: %v", err)
	}
	if len(paged) != 2 {
		t.Fatalf("expected second page of 2, got %d", len(paged))
	}

	if _, err := metrics.UpsertMetrics(ctx, []core.Metric{core.NewMetric(d1, core.MetricSteps, 1)}); err == nil {
		t.Fatalf("expected unattributed metric to be rejected")
	}
}

func TestSyncRecordStore_LedgerTransitions(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()
	factory := newFactory(t, client)

	conn, err := factory.ConnectionStore().Upsert(ctx, core.UpsertConnectionInput{UserID: "U1", ProviderID: "strava", Token: core.TokenSet{AccessToken: "a"}})
	if err != nil {
		t.Fatalf("upsert connection: %v", err)
	}
	ledger := factory.SyncRecordStore()

	start := time.Date(2026, 9, 19, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	first, err := ledger.Create(ctx, core.SyncRecord{
		ConnectionID: conn.ID, UserID: "U1", ProviderID: "strava",
		Kind: core.SyncKindInitial, RangeStart: &start, RangeEnd: &end,
		StartedAt: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.Status != core.SyncStatusInProgress {
		t.Fatalf("expected in_progress, got %s", first.Status)
	}

	if err := first.Complete(core.SyncStatusSuccess, time.Date(2026, 10, 19, 12, 0, 5, 0, time.UTC)); err != nil {
		t.Fatalf("complete transition: %v", err)
	}
	first.RecordsSynced = 42
	first.DataTypes = []string{"steps", "distance"}
	completed, err := ledger.Complete(ctx, first)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.Status != core.SyncStatusSuccess || completed.RecordsSynced != 42 || len(completed.DataTypes) != 2 {
		t.Fatalf("unexpected completed record %+v", completed)
	}
	if _, err := ledger.Complete(ctx, first); !errors.Is(err, core.ErrInvalidSyncTransition) {
		t.Fatalf("expected second completion to be rejected, got %v", err)
	}

	second, err := ledger.Create(ctx, core.SyncRecord{
		ConnectionID: conn.ID, UserID: "U1", ProviderID: "strava",
		Kind:      core.SyncKindAutomatic,
		StartedAt: time.Date(2026, 10, 19, 13, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	latest, found, err := ledger.Latest(ctx, conn.ID)
	if err != nil || !found {
		t.Fatalf("latest: found=%v err=%v", found, err)
	}
	if latest.ID != second.ID {
		t.Fatalf("expected newest record %s, got %s", second.ID, latest.ID)
	}
	history, err := ledger.ListByConnection(ctx, conn.ID, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(history) != 2 || history[1].ID != first.ID {
		t.Fatalf("expected newest-first history, got %+v", history)
	}
	if history[1].RangeStart == nil || !history[1].RangeStart.Equal(start) {
		t.Fatalf("expected range to persist, got %v", history[1].RangeStart)
	}
}

func newFactory(t *testing.T, client *persistence.Client) *sqlstore.RepositoryFactory {
	t.Helper()
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	return factory
}

func newSQLiteClient(t *testing.T) (*persistence.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:fitsync-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	cfg := testPersistenceConfig{
		driver: "sqlite3",
		server: dsn,
	}
	client, err := persistence.New(cfg, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}

	ctx := context.Background()
	_, err = fitsyncmigrations.RegisterDialect(ctx, "sqlite3", func(fsys fs.FS) {
		client.RegisterSQLMigrations(fsys)
	})
	if err != nil {
		_ = client.Close()
		t.Fatalf("register migrations: %v", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		t.Fatalf("migrate: %v", err)
	}

	return client, func() {
		_ = client.Close()
	}
}
