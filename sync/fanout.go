package sync

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/goliatone/go-fitsync/core"
	"golang.org/x/sync/errgroup"
)

// ProviderSyncer is the per-provider sync-all entry point.
type ProviderSyncer interface {
	SyncProvider(ctx context.Context, providerID string, kind core.SyncKind) (ProviderReport, error)
}

type ProviderResult struct {
	ProviderID string
	Report     ProviderReport
	Err        error
	Duration   time.Duration
}

func (r ProviderResult) Succeeded() bool {
	return r.Err == nil && r.Report.Failed == 0
}

type FanOutReport struct {
	StartedAt   time.Time
	CompletedAt time.Time
	Providers   map[string]ProviderResult
}

// FailedProviders lists providers whose run errored or had a failing
// connection, sorted by id.
func (r FanOutReport) FailedProviders() []string {
	out := []string{}
	for id, result := range r.Providers {
		if !result.Succeeded() {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Summary flattens the report into a per-provider map for logging.
func (r FanOutReport) Summary() map[string]any {
	summary := make(map[string]any, len(r.Providers))
	for id, result := range r.Providers {
		entry := map[string]any{
			"succeeded":   result.Report.Succeeded,
			"failed":      result.Report.Failed,
			"duration_ms": result.Duration.Milliseconds(),
		}
		if result.Err != nil {
			entry["error"] = result.Err.Error()
			entry["error_kind"] = string(core.KindOf(result.Err))
		}
		summary[id] = entry
	}
	return summary
}

// FanOut runs the automatic sync of every registered provider in parallel.
// One provider's error or panic is recorded and never aborts the others.
type FanOut struct {
	Syncer      ProviderSyncer
	Registry    core.Registry
	MaxParallel int
	Observer    *core.Observer
	Now         func() time.Time
}

func NewFanOut(syncer ProviderSyncer, registry core.Registry, maxParallel int) *FanOut {
	return &FanOut{
		Syncer:      syncer,
		Registry:    registry,
		MaxParallel: maxParallel,
		Observer:    core.NewObserver("fitsync.sync", nil, nil, nil),
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (f *FanOut) Run(ctx context.Context) FanOutReport {
	report := FanOutReport{StartedAt: f.now(), Providers: map[string]ProviderResult{}}
	if f == nil || f.Syncer == nil || f.Registry == nil {
		report.CompletedAt = report.StartedAt
		return report
	}
	startedAt := time.Now().UTC()

	ids := f.providerIDs()
	results := make([]ProviderResult, len(ids))
	var group errgroup.Group
	if f.MaxParallel > 0 {
		group.SetLimit(f.MaxParallel)
	}
	for i, id := range ids {
		group.Go(func() error {
			results[i] = f.runProvider(ctx, id)
			return nil
		})
	}
	_ = group.Wait()

	for _, result := range results {
		report.Providers[result.ProviderID] = result
	}
	report.CompletedAt = f.now()

	var runErr error
	if failed := report.FailedProviders(); len(failed) > 0 {
		runErr = fmt.Errorf("sync: providers with failures: %s", strings.Join(failed, ", "))
	}
	f.observer().Observe(ctx, startedAt, "fan_out", runErr, map[string]any{
		"providers": report.Summary(),
		"sync_kind": string(core.SyncKindAutomatic),
	})
	return report
}

func (f *FanOut) runProvider(ctx context.Context, providerID string) (result ProviderResult) {
	startedAt := time.Now()
	result.ProviderID = providerID
	defer func() {
		if recovered := recover(); recovered != nil {
			result.Err = core.NewError(core.KindInternal, fmt.Sprintf("sync: provider %s panicked: %v", providerID, recovered))
		}
		result.Duration = time.Since(startedAt)
	}()
	result.Report, result.Err = f.Syncer.SyncProvider(ctx, providerID, core.SyncKindAutomatic)
	return result
}

func (f *FanOut) providerIDs() []string {
	providers := f.Registry.List()
	ids := make([]string, 0, len(providers))
	for _, provider := range providers {
		if provider == nil {
			continue
		}
		ids = append(ids, provider.ID())
	}
	sort.Strings(ids)
	return ids
}

func (f *FanOut) observer() *core.Observer {
	if f.Observer == nil {
		return core.NewObserver("fitsync.sync", nil, nil, nil)
	}
	return f.Observer
}

func (f *FanOut) now() time.Time {
	if f == nil || f.Now == nil {
		return time.Now().UTC()
	}
	return f.Now().UTC()
}
