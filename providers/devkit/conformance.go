package devkit

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/goliatone/go-fitsync/core"
)

// ValidateProviderConformance checks the static contract every provider
// adapter must honor.
func ValidateProviderConformance(provider core.Provider) error {
	if provider == nil {
		return fmt.Errorf("devkit: provider is required")
	}
	if strings.TrimSpace(provider.ID()) == "" {
		return fmt.Errorf("devkit: provider id is required")
	}
	if provider.ID() != strings.ToLower(provider.ID()) {
		return fmt.Errorf("devkit: provider id %q must be lowercase", provider.ID())
	}
	switch provider.Protocol() {
	case core.ProtocolOAuth1, core.ProtocolOAuth2:
	default:
		return fmt.Errorf("devkit: provider %q has unknown protocol %q", provider.ID(), provider.Protocol())
	}
	metrics, err := provider.MapMetrics(nil)
	if err != nil {
		return fmt.Errorf("devkit: mapping no records must succeed: %w", err)
	}
	if len(metrics) != 0 {
		return fmt.Errorf("devkit: mapping no records must yield no metrics, got %d", len(metrics))
	}
	return nil
}

// ValidateMetricsConformance checks mapped metrics: canonical type and unit,
// UTC calendar day, finite value, unique key per day and type.
func ValidateMetricsConformance(metrics []core.Metric) error {
	seen := map[string]struct{}{}
	for _, metric := range metrics {
		if !metric.Type.Valid() {
			return fmt.Errorf("devkit: unknown metric type %q", metric.Type)
		}
		if metric.Unit != metric.Type.Unit() {
			return fmt.Errorf("devkit: metric %s has unit %q, want %q", metric.Type, metric.Unit, metric.Type.Unit())
		}
		if metric.Date.IsZero() || !metric.Date.Equal(core.TruncateDay(metric.Date)) || metric.Date.Location() != time.UTC {
			return fmt.Errorf("devkit: metric %s date %v is not a UTC calendar day", metric.Type, metric.Date)
		}
		if math.IsNaN(metric.Value) || math.IsInf(metric.Value, 0) {
			return fmt.Errorf("devkit: metric %s has non-finite value", metric.Type)
		}
		if metric.Value != metric.Type.Normalize(metric.Value) {
			return fmt.Errorf("devkit: metric %s value %v is not normalized", metric.Type, metric.Value)
		}
		key := metric.Date.Format(core.DateLayout) + "|" + string(metric.Type)
		if _, ok := seen[key]; ok {
			return fmt.Errorf("devkit: duplicate metric %s", key)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// ValidateMetricStoreConformance writes the same batch twice and checks that
// the second write overwrites rather than duplicates.
func ValidateMetricStoreConformance(ctx context.Context, store core.MetricStore, conn core.Connection, day time.Time) error {
	if store == nil {
		return fmt.Errorf("devkit: metric store is required")
	}
	batch := func(steps float64) []core.Metric {
		items := []core.Metric{
			core.NewMetric(day, core.MetricSteps, steps),
			core.NewMetric(day, core.MetricCalories, 350.4),
		}
		for i := range items {
			items[i].ConnectionID = conn.ID
			items[i].UserID = conn.UserID
			items[i].ProviderID = conn.ProviderID
		}
		return items
	}

	if _, err := store.UpsertMetrics(ctx, batch(8000)); err != nil {
		return fmt.Errorf("devkit: first upsert: %w", err)
	}
	if _, err := store.UpsertMetrics(ctx, batch(9000)); err != nil {
		return fmt.Errorf("devkit: second upsert: %w", err)
	}
	listed, err := store.ListMetrics(ctx, core.MetricQuery{
		UserID:     conn.UserID,
		ProviderID: conn.ProviderID,
		From:       day,
		To:         day,
	})
	if err != nil {
		return fmt.Errorf("devkit: list metrics: %w", err)
	}
	if len(listed) != 2 {
		return fmt.Errorf("devkit: expected 2 metrics after repeated upsert, got %d", len(listed))
	}
	for _, metric := range listed {
		if metric.Type == core.MetricSteps && metric.Value != 9000 {
			return fmt.Errorf("devkit: expected last write to win, got steps=%v", metric.Value)
		}
		if metric.Type == core.MetricCalories && metric.Value != 350 {
			return fmt.Errorf("devkit: expected calories rounded to 350, got %v", metric.Value)
		}
	}
	return nil
}
