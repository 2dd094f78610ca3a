package fitsync

import (
	"fmt"

	fitcommand "github.com/goliatone/go-fitsync/command"
	"github.com/goliatone/go-fitsync/core"
	fitquery "github.com/goliatone/go-fitsync/query"
	fsync "github.com/goliatone/go-fitsync/sync"
)

// CommandQueryService is the connection lifecycle surface the facade drives.
type CommandQueryService interface {
	fitcommand.ConnectionService
	Dependencies() core.ServiceDependencies
}

type Commands struct {
	Initiate         *fitcommand.InitiateCommand
	CompleteCallback *fitcommand.CompleteCallbackCommand
	Disconnect       *fitcommand.DisconnectCommand
	PurgeHandshakes  *fitcommand.PurgeHandshakesCommand
	Sync             *fitcommand.SyncCommand
}

type Queries struct {
	ConnectionStatus   *fitquery.ConnectionStatusQuery
	ConnectionStatuses *fitquery.ConnectionStatusesQuery
	ListMetrics        *fitquery.ListMetricsQuery
	SyncHistory        *fitquery.SyncHistoryQuery
}

type Facade struct {
	service  CommandQueryService
	syncer   fsync.Syncer
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	syncRecords fitquery.SyncRecordReader
	registry    core.Registry
}

// WithSyncRecordReader replaces the ledger reader used by status queries,
// typically with the cached sync record store.
func WithSyncRecordReader(reader fitquery.SyncRecordReader) FacadeOption {
	return func(options *facadeOptions) {
		options.syncRecords = reader
	}
}

func WithQueryRegistry(registry core.Registry) FacadeOption {
	return func(options *facadeOptions) {
		options.registry = registry
	}
}

func NewFacade(service CommandQueryService, syncer fsync.Syncer, stores core.StoreProvider, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("fitsync: connection service is required")
	}
	if syncer == nil {
		return nil, fmt.Errorf("fitsync: syncer is required")
	}
	if stores == nil {
		return nil, fmt.Errorf("fitsync: store provider is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}
	if cfg.syncRecords == nil {
		cfg.syncRecords = stores.SyncRecordStore()
	}
	if cfg.registry == nil {
		cfg.registry = service.Dependencies().Registry
	}
	if cfg.registry == nil {
		return nil, fmt.Errorf("fitsync: provider registry is required")
	}

	status := fitquery.NewConnectionStatusQuery(stores.ConnectionStore(), cfg.syncRecords)
	facade := &Facade{service: service, syncer: syncer}
	facade.commands = Commands{
		Initiate:         fitcommand.NewInitiateCommand(service),
		CompleteCallback: fitcommand.NewCompleteCallbackCommand(service),
		Disconnect:       fitcommand.NewDisconnectCommand(service),
		PurgeHandshakes:  fitcommand.NewPurgeHandshakesCommand(service),
		Sync:             fitcommand.NewSyncCommand(syncer),
	}
	facade.queries = Queries{
		ConnectionStatus:   status,
		ConnectionStatuses: fitquery.NewConnectionStatusesQuery(cfg.registry, status),
		ListMetrics:        fitquery.NewListMetricsQuery(stores.MetricStore()),
		SyncHistory:        fitquery.NewSyncHistoryQuery(stores.ConnectionStore(), cfg.syncRecords),
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}
