package query

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/goliatone/go-fitsync/core"
)

type ConnectionReader interface {
	FindActive(ctx context.Context, userID string, providerID string) (core.Connection, bool, error)
}

type SyncRecordReader interface {
	Latest(ctx context.Context, connectionID string) (core.SyncRecord, bool, error)
	ListByConnection(ctx context.Context, connectionID string, limit int) ([]core.SyncRecord, error)
}

type MetricReader interface {
	ListMetrics(ctx context.Context, query core.MetricQuery) ([]core.Metric, error)
}

// ConnectionStatus is the user-facing view of one provider connection.
// Token material never leaves the store through this type.
type ConnectionStatus struct {
	ProviderID   string           `json:"provider"`
	Connected    bool             `json:"connected"`
	ConnectionID string           `json:"connection_id,omitempty"`
	ConnectedAt  *time.Time       `json:"connected_at,omitempty"`
	LastSyncAt   *time.Time       `json:"last_sync_at,omitempty"`
	LastError    string           `json:"last_error,omitempty"`
	Scopes       []string         `json:"scopes,omitempty"`
	LatestSync   *core.SyncRecord `json:"latest_sync,omitempty"`
}

type ConnectionStatusQuery struct {
	connections ConnectionReader
	records     SyncRecordReader
}

func NewConnectionStatusQuery(connections ConnectionReader, records SyncRecordReader) *ConnectionStatusQuery {
	return &ConnectionStatusQuery{connections: connections, records: records}
}

func (q *ConnectionStatusQuery) Query(ctx context.Context, msg ConnectionStatusMessage) (ConnectionStatus, error) {
	if q == nil || q.connections == nil || q.records == nil {
		return ConnectionStatus{}, queryDependencyError("query: connection and sync record readers are required")
	}
	providerID := strings.TrimSpace(msg.ProviderID)
	conn, found, err := q.connections.FindActive(ctx, strings.TrimSpace(msg.UserID), providerID)
	if err != nil {
		return ConnectionStatus{}, core.WrapError(core.KindPersistenceFailed, err, "query: load connection")
	}
	if !found {
		return ConnectionStatus{ProviderID: providerID}, nil
	}
	status := ConnectionStatus{
		ProviderID:   conn.ProviderID,
		Connected:    true,
		ConnectionID: conn.ID,
		LastError:    conn.LastError,
		Scopes:       append([]string(nil), conn.Scopes...),
		LastSyncAt:   conn.LastSyncAt,
	}
	if !conn.ConnectedAt.IsZero() {
		connectedAt := conn.ConnectedAt
		status.ConnectedAt = &connectedAt
	}
	latest, found, err := q.records.Latest(ctx, conn.ID)
	if err != nil {
		return ConnectionStatus{}, core.WrapError(core.KindPersistenceFailed, err, "query: load latest sync record")
	}
	if found {
		status.LatestSync = &latest
	}
	return status, nil
}

// ConnectionStatusesQuery reports every registered provider for a user,
// connected or not, ordered by provider id.
type ConnectionStatusesQuery struct {
	registry core.Registry
	status   *ConnectionStatusQuery
}

func NewConnectionStatusesQuery(registry core.Registry, status *ConnectionStatusQuery) *ConnectionStatusesQuery {
	return &ConnectionStatusesQuery{registry: registry, status: status}
}

func (q *ConnectionStatusesQuery) Query(ctx context.Context, msg ConnectionStatusesMessage) ([]ConnectionStatus, error) {
	if q == nil || q.registry == nil || q.status == nil {
		return nil, queryDependencyError("query: provider registry and status query are required")
	}
	providers := q.registry.List()
	ids := make([]string, 0, len(providers))
	for _, provider := range providers {
		ids = append(ids, provider.ID())
	}
	sort.Strings(ids)
	out := make([]ConnectionStatus, 0, len(ids))
	for _, id := range ids {
		status, err := q.status.Query(ctx, ConnectionStatusMessage{UserID: msg.UserID, ProviderID: id})
		if err != nil {
			return nil, err
		}
		out = append(out, status)
	}
	return out, nil
}

type ListMetricsQuery struct {
	reader MetricReader
}

func NewListMetricsQuery(reader MetricReader) *ListMetricsQuery {
	return &ListMetricsQuery{reader: reader}
}

func (q *ListMetricsQuery) Query(ctx context.Context, msg ListMetricsMessage) ([]core.Metric, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: metric reader is required")
	}
	metrics, err := q.reader.ListMetrics(ctx, msg.Query)
	if err != nil {
		return nil, core.WrapError(core.KindPersistenceFailed, err, "query: list metrics")
	}
	return metrics, nil
}

type SyncHistoryQuery struct {
	connections ConnectionReader
	records     SyncRecordReader
}

func NewSyncHistoryQuery(connections ConnectionReader, records SyncRecordReader) *SyncHistoryQuery {
	return &SyncHistoryQuery{connections: connections, records: records}
}

func (q *SyncHistoryQuery) Query(ctx context.Context, msg SyncHistoryMessage) ([]core.SyncRecord, error) {
	if q == nil || q.connections == nil || q.records == nil {
		return nil, queryDependencyError("query: connection and sync record readers are required")
	}
	conn, found, err := q.connections.FindActive(ctx, strings.TrimSpace(msg.UserID), strings.TrimSpace(msg.ProviderID))
	if err != nil {
		return nil, core.WrapError(core.KindPersistenceFailed, err, "query: load connection")
	}
	if !found {
		return nil, core.NewError(core.KindNotConnected, "query: no active connection for provider "+msg.ProviderID)
	}
	limit := msg.Limit
	if limit <= 0 {
		limit = 20
	}
	records, err := q.records.ListByConnection(ctx, conn.ID, limit)
	if err != nil {
		return nil, core.WrapError(core.KindPersistenceFailed, err, "query: list sync records")
	}
	return records, nil
}
