package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-fitsync/core"
)

var (
	_ gocmd.Querier[ConnectionStatusMessage, ConnectionStatus]     = (*ConnectionStatusQuery)(nil)
	_ gocmd.Querier[ConnectionStatusesMessage, []ConnectionStatus] = (*ConnectionStatusesQuery)(nil)
	_ gocmd.Querier[ListMetricsMessage, []core.Metric]             = (*ListMetricsQuery)(nil)
	_ gocmd.Querier[SyncHistoryMessage, []core.SyncRecord]         = (*SyncHistoryQuery)(nil)
)
