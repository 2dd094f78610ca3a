package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-fitsync/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const liveConnectionClause = "EXISTS (SELECT 1 FROM fitsync_connections AS c WHERE c.id = ?TableAlias.connection_id AND c.deleted_at IS NULL)"

type MetricStore struct {
	db   *bun.DB
	repo repository.Repository[*metricRecord]
	now  func() time.Time
}

// UpsertMetrics writes metrics keyed on (connection, date, type) with one
// statement. Duplicates inside the batch collapse to the last one so the
// conflict clause never touches a row twice.
func (s *MetricStore) UpsertMetrics(ctx context.Context, metrics []core.Metric) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: metric store is not configured")
	}
	if len(metrics) == 0 {
		return 0, nil
	}
	now := s.clock()
	index := make(map[string]int, len(metrics))
	records := make([]*metricRecord, 0, len(metrics))
	for _, metric := range metrics {
		if strings.TrimSpace(metric.ConnectionID) == "" {
			return 0, fmt.Errorf("sqlstore: metric connection id is required")
		}
		if !metric.Type.Valid() {
			return 0, fmt.Errorf("sqlstore: unknown metric type %q", metric.Type)
		}
		record := newMetricRecord(metric, uuid.NewString(), now)
		key := metric.Key()
		if idx, ok := index[key]; ok {
			records[idx] = record
			continue
		}
		index[key] = len(records)
		records = append(records, record)
	}

	_, err := s.db.NewInsert().
		Model(&records).
		On("CONFLICT (connection_id, metric_date, metric_type) DO UPDATE").
		Set("value = EXCLUDED.value").
		Set("unit = EXCLUDED.unit").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// ListMetrics returns metric rows that belong to live connections, ordered by
// date, provider and type.
func (s *MetricStore) ListMetrics(ctx context.Context, query core.MetricQuery) ([]core.Metric, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: metric store is not configured")
	}
	selectors := []repository.SelectCriteria{
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where(liveConnectionClause)
		}),
		repository.OrderBy("metric_date ASC"),
		repository.OrderBy("provider_id ASC"),
		repository.OrderBy("metric_type ASC"),
	}
	if userID := strings.TrimSpace(query.UserID); userID != "" {
		selectors = append(selectors, repository.SelectBy("user_id", "=", userID))
	}
	if providerID := strings.TrimSpace(query.ProviderID); providerID != "" {
		selectors = append(selectors, repository.SelectBy("provider_id", "=", providerID))
	}
	if len(query.Types) > 0 {
		types := make([]string, 0, len(query.Types))
		for _, metricType := range query.Types {
			types = append(types, string(metricType))
		}
		selectors = append(selectors, repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.metric_type IN (?)", bun.In(types))
		}))
	}
	if !query.From.IsZero() {
		selectors = append(selectors, repository.SelectBy("metric_date", ">=", core.TruncateDay(query.From).Format(core.DateLayout)))
	}
	if !query.To.IsZero() {
		selectors = append(selectors, repository.SelectBy("metric_date", "<=", core.TruncateDay(query.To).Format(core.DateLayout)))
	}
	skip := 0
	if query.Limit > 0 {
		selectors = append(selectors, repository.SelectPaginate(query.Limit, max(query.Offset, 0)))
	} else if query.Offset > 0 {
		skip = query.Offset
	}

	records, _, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return nil, err
	}
	if skip >= len(records) {
		return []core.Metric{}, nil
	}
	out := make([]core.Metric, 0, len(records)-skip)
	for _, record := range records[skip:] {
		metric, convErr := record.toDomain()
		if convErr != nil {
			return nil, convErr
		}
		out = append(out, metric)
	}
	return out, nil
}

func (s *MetricStore) clock() time.Time {
	if s.now == nil {
		return time.Now().UTC()
	}
	return s.now().UTC()
}
