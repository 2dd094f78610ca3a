package query

import (
	"strings"

	"github.com/goliatone/go-fitsync/core"
)

const (
	TypeConnectionStatus   = "fitsync.query.connection.status"
	TypeConnectionStatuses = "fitsync.query.connection.list_status"
	TypeListMetrics        = "fitsync.query.metric.list"
	TypeSyncHistory        = "fitsync.query.sync_record.history"

	MaxMetricPageSize = 1000
	MaxHistoryLimit   = 100
)

type ConnectionStatusMessage struct {
	UserID     string
	ProviderID string
}

func (ConnectionStatusMessage) Type() string { return TypeConnectionStatus }

func (m ConnectionStatusMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return queryValidationError("user_id", "user id is required")
	}
	if strings.TrimSpace(m.ProviderID) == "" {
		return queryValidationError("provider", "provider id is required")
	}
	return nil
}

type ConnectionStatusesMessage struct {
	UserID string
}

func (ConnectionStatusesMessage) Type() string { return TypeConnectionStatuses }

func (m ConnectionStatusesMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return queryValidationError("user_id", "user id is required")
	}
	return nil
}

type ListMetricsMessage struct {
	Query core.MetricQuery
}

func (ListMetricsMessage) Type() string { return TypeListMetrics }

func (m ListMetricsMessage) Validate() error {
	if strings.TrimSpace(m.Query.UserID) == "" {
		return queryValidationError("user_id", "user id is required")
	}
	if !m.Query.From.IsZero() && !m.Query.To.IsZero() && m.Query.To.Before(m.Query.From) {
		return queryValidationError("to", "to must not be before from")
	}
	for _, metricType := range m.Query.Types {
		if !metricType.Valid() {
			return queryValidationError("type", "unknown metric type "+string(metricType))
		}
	}
	if m.Query.Limit < 0 || m.Query.Limit > MaxMetricPageSize {
		return queryValidationError("limit", "limit must be between 0 and 1000")
	}
	if m.Query.Offset < 0 {
		return queryValidationError("offset", "offset must be >= 0")
	}
	return nil
}

type SyncHistoryMessage struct {
	UserID     string
	ProviderID string
	Limit      int
}

func (SyncHistoryMessage) Type() string { return TypeSyncHistory }

func (m SyncHistoryMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return queryValidationError("user_id", "user id is required")
	}
	if strings.TrimSpace(m.ProviderID) == "" {
		return queryValidationError("provider", "provider id is required")
	}
	if m.Limit < 0 || m.Limit > MaxHistoryLimit {
		return queryValidationError("limit", "limit must be between 0 and 100")
	}
	return nil
}
