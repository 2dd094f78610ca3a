package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/goliatone/go-fitsync/core"
)

type SyncRequest struct {
	UserID     string
	ProviderID string
	Kind       core.SyncKind
}

// ProviderReport collects one outcome per live connection of a provider,
// keyed by connection id.
type ProviderReport struct {
	ProviderID string
	Kind       core.SyncKind
	Outcomes   map[string]core.SyncOutcome
	Succeeded  int
	Failed     int
}

type OrchestratorOption func(*Orchestrator)

func WithObserver(observer *core.Observer) OrchestratorOption {
	return func(o *Orchestrator) {
		if observer != nil {
			o.Observer = observer
		}
	}
}

func WithEventSink(sink core.EventSink) OrchestratorOption {
	return func(o *Orchestrator) {
		o.Events = sink
	}
}

func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) {
		if now != nil {
			o.Now = now
		}
	}
}

// Orchestrator pulls daily summaries for one connection at a time and
// records every attempt in the sync ledger. Runs for the same connection may
// overlap; metric upserts keep the result idempotent.
type Orchestrator struct {
	Registry     core.Registry
	Connections  core.ConnectionStore
	Metrics      core.MetricStore
	Records      core.SyncRecordStore
	Events       core.EventSink
	Observer     *core.Observer
	LookbackDays int
	RefreshSkew  time.Duration
	Now          func() time.Time
}

func NewOrchestrator(cfg core.Config, registry core.Registry, stores core.StoreProvider, opts ...OrchestratorOption) (*Orchestrator, error) {
	if registry == nil {
		return nil, core.NewError(core.KindConfiguration, "sync: provider registry is required")
	}
	if stores == nil {
		return nil, core.NewError(core.KindConfiguration, "sync: store provider is required")
	}
	lookback := cfg.Sync.InitialLookbackDays
	if lookback <= 0 {
		lookback = core.DefaultConfig().Sync.InitialLookbackDays
	}
	orchestrator := &Orchestrator{
		Registry:     registry,
		Connections:  stores.ConnectionStore(),
		Metrics:      stores.MetricStore(),
		Records:      stores.SyncRecordStore(),
		Observer:     core.NewObserver("fitsync.sync", nil, nil, nil),
		LookbackDays: lookback,
		RefreshSkew:  cfg.Sync.RefreshSkew(),
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(orchestrator)
		}
	}
	if err := orchestrator.validate(); err != nil {
		return nil, err
	}
	return orchestrator, nil
}

// Sync runs one sync for the live connection of (user, provider).
func (o *Orchestrator) Sync(ctx context.Context, req SyncRequest) (result core.SyncSuccess, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"provider_id": req.ProviderID,
		"user_id":     req.UserID,
		"sync_kind":   string(req.Kind),
	}
	defer func() {
		if err == nil {
			fields["records_synced"] = result.RecordsSynced
			fields["sync_id"] = result.SyncID
		}
		o.observer().Observe(ctx, startedAt, "sync", err, fields)
	}()

	if err := o.validate(); err != nil {
		return core.SyncSuccess{}, err
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return core.SyncSuccess{}, core.NewError(core.KindInvalidRequest, "sync: user id is required")
	}
	kind, err := normalizeKind(req.Kind)
	if err != nil {
		return core.SyncSuccess{}, err
	}
	fields["sync_kind"] = string(kind)
	provider, err := core.ResolveProvider(o.Registry, req.ProviderID)
	if err != nil {
		return core.SyncSuccess{}, err
	}
	conn, found, err := o.Connections.FindActive(ctx, userID, provider.ID())
	if err != nil {
		return core.SyncSuccess{}, core.WrapError(core.KindPersistenceFailed, err, "sync: load connection")
	}
	if !found {
		return core.SyncSuccess{}, core.NewError(core.KindNotConnected, fmt.Sprintf("sync: no active %s connection for user", provider.ID()))
	}
	fields["connection_id"] = conn.ID

	result, _, err = o.syncConnection(ctx, provider, conn, kind)
	return result, err
}

// SyncProvider syncs every live connection of a provider in turn. A failing
// connection is recorded in the report and never stops the others.
func (o *Orchestrator) SyncProvider(ctx context.Context, providerID string, kind core.SyncKind) (report ProviderReport, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"provider_id": providerID,
		"sync_kind":   string(kind),
	}
	defer func() {
		fields["succeeded"] = report.Succeeded
		fields["failed"] = report.Failed
		o.observer().Observe(ctx, startedAt, "sync_provider", err, fields)
	}()

	if err := o.validate(); err != nil {
		return ProviderReport{}, err
	}
	kind, err = normalizeKind(kind)
	if err != nil {
		return ProviderReport{}, err
	}
	provider, err := core.ResolveProvider(o.Registry, providerID)
	if err != nil {
		return ProviderReport{}, err
	}
	connections, err := o.Connections.ListActive(ctx, provider.ID())
	if err != nil {
		return ProviderReport{}, core.WrapError(core.KindPersistenceFailed, err, "sync: list active connections")
	}

	report = ProviderReport{
		ProviderID: provider.ID(),
		Kind:       kind,
		Outcomes:   make(map[string]core.SyncOutcome, len(connections)),
	}
	for _, conn := range connections {
		success, syncID, syncErr := o.syncConnection(ctx, provider, conn, kind)
		if syncErr != nil {
			report.Outcomes[conn.ID] = core.FailureFromError(syncID, syncErr)
			report.Failed++
			continue
		}
		report.Outcomes[conn.ID] = success
		report.Succeeded++
	}
	return report, nil
}

// Window returns the date range a sync of kind pulls at now.
func (o *Orchestrator) Window(kind core.SyncKind, now time.Time) core.DateRange {
	today := core.TruncateDay(now)
	if kind == core.SyncKindInitial {
		lookback := o.LookbackDays
		if lookback <= 0 {
			lookback = 1
		}
		return core.NewDateRange(today.AddDate(0, 0, -(lookback-1)), today)
	}
	return core.NewDateRange(today, today)
}

func (o *Orchestrator) syncConnection(
	ctx context.Context,
	provider core.Provider,
	conn core.Connection,
	kind core.SyncKind,
) (core.SyncSuccess, string, error) {
	now := o.now()
	window := o.Window(kind, now)
	record, err := o.Records.Create(ctx, core.SyncRecord{
		ConnectionID: conn.ID,
		UserID:       conn.UserID,
		ProviderID:   conn.ProviderID,
		Kind:         kind,
		Status:       core.SyncStatusInProgress,
		RangeStart:   &window.Start,
		RangeEnd:     &window.End,
		StartedAt:    now,
	})
	if err != nil {
		wrapped := core.WrapError(core.KindPersistenceFailed, err, "sync: create sync record")
		o.recordConnectionError(ctx, conn, wrapped)
		return core.SyncSuccess{}, "", wrapped
	}

	success, err := o.run(ctx, provider, conn, record, window)
	if err != nil {
		o.fail(ctx, conn, record, err)
		return core.SyncSuccess{}, record.ID, err
	}
	return success, record.ID, nil
}

func (o *Orchestrator) run(
	ctx context.Context,
	provider core.Provider,
	conn core.Connection,
	record core.SyncRecord,
	window core.DateRange,
) (core.SyncSuccess, error) {
	conn, err := o.ensureFreshToken(ctx, provider, conn)
	if err != nil {
		return core.SyncSuccess{}, err
	}

	raw, err := provider.FetchDailySummaries(ctx, conn, window)
	if err != nil {
		return core.SyncSuccess{}, core.WrapError(core.KindFetchFailed, err, "sync: fetch daily summaries")
	}
	metrics, err := provider.MapMetrics(raw)
	if err != nil {
		return core.SyncSuccess{}, core.WrapError(core.KindFetchFailed, err, "sync: map daily summaries")
	}
	for i := range metrics {
		metrics[i].ConnectionID = conn.ID
		metrics[i].UserID = conn.UserID
		metrics[i].ProviderID = conn.ProviderID
	}

	written, err := o.Metrics.UpsertMetrics(ctx, metrics)
	if err != nil {
		return core.SyncSuccess{}, core.WrapError(core.KindPersistenceFailed, err, "sync: upsert metrics")
	}

	observed := observedRange(metrics)
	record.RecordsSynced = written
	record.DataTypes = dataTypes(metrics)
	record.RangeStart, record.RangeEnd = nil, nil
	if observed != nil {
		record.RangeStart = &observed.Start
		record.RangeEnd = &observed.End
	}
	completedAt := o.now()
	if err := record.Complete(core.SyncStatusSuccess, completedAt); err != nil {
		return core.SyncSuccess{}, err
	}
	if _, err := o.Records.Complete(ctx, record); err != nil {
		return core.SyncSuccess{}, core.WrapError(core.KindPersistenceFailed, err, "sync: complete sync record")
	}
	if err := o.Connections.RecordSyncSuccess(ctx, conn.ID, completedAt); err != nil {
		return core.SyncSuccess{}, core.WrapError(core.KindPersistenceFailed, err, "sync: record sync success")
	}

	o.publish(ctx, core.ConnectionEvent{
		Type:         core.EventSyncSucceeded,
		UserID:       conn.UserID,
		ProviderID:   conn.ProviderID,
		ConnectionID: conn.ID,
		SyncID:       record.ID,
	})
	return core.SyncSuccess{SyncID: record.ID, RecordsSynced: written, Range: observed}, nil
}

// ensureFreshToken refreshes an expired access token and persists the new
// token set before any data call. A failed refresh never falls back to the
// stale token.
func (o *Orchestrator) ensureFreshToken(ctx context.Context, provider core.Provider, conn core.Connection) (core.Connection, error) {
	if !conn.Expired(o.now(), o.RefreshSkew) {
		return conn, nil
	}
	token, err := provider.Refresh(ctx, conn)
	if errors.Is(err, core.ErrRefreshUnsupported) {
		return core.Connection{}, core.NewError(core.KindRefreshFailed, "sync: access token expired and provider cannot refresh it")
	}
	if err != nil {
		return core.Connection{}, core.ReclassifyError(core.KindRefreshFailed, err, "sync: refresh access token")
	}
	updated, err := o.Connections.UpdateTokens(ctx, conn.ID, token)
	if err != nil {
		return core.Connection{}, core.WrapError(core.KindPersistenceFailed, err, "sync: persist refreshed token")
	}
	o.observer().Info(ctx, "access token refreshed", map[string]any{
		"provider_id":   conn.ProviderID,
		"connection_id": conn.ID,
	})
	return updated, nil
}

func (o *Orchestrator) fail(ctx context.Context, conn core.Connection, record core.SyncRecord, cause error) {
	failed := record
	failed.Error = cause.Error()
	if err := failed.Complete(core.SyncStatusFailed, o.now()); err == nil {
		if _, err := o.Records.Complete(ctx, failed); err != nil {
			o.observer().Error(ctx, "mark sync record failed", map[string]any{
				"provider_id":   conn.ProviderID,
				"connection_id": conn.ID,
				"sync_id":       record.ID,
				"error":         err.Error(),
			})
		}
	}
	o.recordConnectionError(ctx, conn, cause)
	o.publish(ctx, core.ConnectionEvent{
		Type:         core.EventSyncFailed,
		UserID:       conn.UserID,
		ProviderID:   conn.ProviderID,
		ConnectionID: conn.ID,
		SyncID:       record.ID,
		Message:      cause.Error(),
	})
}

func (o *Orchestrator) recordConnectionError(ctx context.Context, conn core.Connection, cause error) {
	if err := o.Connections.RecordSyncError(ctx, conn.ID, cause.Error()); err != nil {
		o.observer().Error(ctx, "store connection error", map[string]any{
			"provider_id":   conn.ProviderID,
			"connection_id": conn.ID,
			"error":         err.Error(),
		})
	}
}

func (o *Orchestrator) publish(ctx context.Context, event core.ConnectionEvent) {
	if o.Events == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = o.now()
	}
	if err := o.Events.Publish(ctx, event); err != nil {
		o.observer().Error(ctx, "publish sync event failed", map[string]any{
			"event": string(event.Type),
			"error": err.Error(),
		})
	}
}

func (o *Orchestrator) validate() error {
	if o == nil {
		return core.NewError(core.KindConfiguration, "sync: orchestrator is nil")
	}
	if o.Registry == nil || o.Connections == nil || o.Metrics == nil || o.Records == nil {
		return core.NewError(core.KindConfiguration, "sync: orchestrator requires registry, connection, metric and sync record stores")
	}
	return nil
}

func (o *Orchestrator) observer() *core.Observer {
	if o == nil || o.Observer == nil {
		return core.NewObserver("fitsync.sync", nil, nil, nil)
	}
	return o.Observer
}

func (o *Orchestrator) now() time.Time {
	if o == nil || o.Now == nil {
		return time.Now().UTC()
	}
	return o.Now().UTC()
}

func normalizeKind(kind core.SyncKind) (core.SyncKind, error) {
	kind = core.SyncKind(strings.ToLower(strings.TrimSpace(string(kind))))
	if kind == "" {
		return core.SyncKindAutomatic, nil
	}
	if !kind.Valid() {
		return "", core.NewError(core.KindInvalidRequest, fmt.Sprintf("sync: unknown sync kind %q", kind))
	}
	return kind, nil
}

func observedRange(metrics []core.Metric) *core.DateRange {
	if len(metrics) == 0 {
		return nil
	}
	start, end := metrics[0].Date, metrics[0].Date
	for _, metric := range metrics[1:] {
		if metric.Date.Before(start) {
			start = metric.Date
		}
		if metric.Date.After(end) {
			end = metric.Date
		}
	}
	observed := core.NewDateRange(start, end)
	return &observed
}

func dataTypes(metrics []core.Metric) []string {
	seen := map[string]struct{}{}
	for _, metric := range metrics {
		seen[string(metric.Type)] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for metricType := range seen {
		out = append(out, metricType)
	}
	sort.Strings(out)
	return out
}
