package sqlstore

import (
	"fmt"
	"time"

	"github.com/goliatone/go-fitsync/core"
	persistence "github.com/goliatone/go-persistence-bun"
	repository "github.com/goliatone/go-repository-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/uptrace/bun"
)

type FactoryOption func(*RepositoryFactory)

// WithTokenCipher seals connection tokens at rest.
func WithTokenCipher(cipher core.TokenCipher) FactoryOption {
	return func(f *RepositoryFactory) {
		f.cipher = cipher
	}
}

// WithLatestRecordCache serves the latest sync record per connection through
// cacheService.
func WithLatestRecordCache(cacheService repositorycache.CacheService) FactoryOption {
	return func(f *RepositoryFactory) {
		f.cacheService = cacheService
	}
}

func WithClock(now func() time.Time) FactoryOption {
	return func(f *RepositoryFactory) {
		f.now = now
	}
}

type RepositoryFactory struct {
	db           *bun.DB
	cipher       core.TokenCipher
	cacheService repositorycache.CacheService
	now          func() time.Time

	connectionStore *ConnectionStore
	handshakeStore  *HandshakeStore
	metricStore     *MetricStore
	syncRecordStore core.SyncRecordStore
}

func NewRepositoryFactory(opts ...FactoryOption) *RepositoryFactory {
	factory := &RepositoryFactory{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(factory)
	}
	return factory
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) (core.StoreProvider, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if f.connectionStore != nil && f.metricStore != nil {
		return f, nil
	}
	if err := f.initStores(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *RepositoryFactory) ConnectionStore() core.ConnectionStore {
	if f == nil {
		return nil
	}
	return f.connectionStore
}

func (f *RepositoryFactory) HandshakeStore() core.HandshakeStore {
	if f == nil {
		return nil
	}
	return f.handshakeStore
}

func (f *RepositoryFactory) MetricStore() core.MetricStore {
	if f == nil {
		return nil
	}
	return f.metricStore
}

func (f *RepositoryFactory) SyncRecordStore() core.SyncRecordStore {
	if f == nil {
		return nil
	}
	return f.syncRecordStore
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) initStores() error {
	connectionRepo := repository.NewRepository[*connectionRecord](f.db, connectionHandlers())
	if validator, ok := connectionRepo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return fmt.Errorf("sqlstore: invalid connection repository wiring: %w", err)
		}
	}
	metricRepo := repository.NewRepository[*metricRecord](f.db, metricHandlers())
	if validator, ok := metricRepo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return fmt.Errorf("sqlstore: invalid metric repository wiring: %w", err)
		}
	}
	syncRecordRepo := repository.NewRepository[*syncRecordRecord](f.db, syncRecordHandlers())
	if validator, ok := syncRecordRepo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return fmt.Errorf("sqlstore: invalid sync record repository wiring: %w", err)
		}
	}

	f.connectionStore = &ConnectionStore{
		db:     f.db,
		repo:   connectionRepo,
		tokens: tokenCodec{cipher: f.cipher},
		now:    f.now,
	}
	handshakeStore, err := NewHandshakeStore(f.db)
	if err != nil {
		return err
	}
	handshakeStore.now = f.now
	f.handshakeStore = handshakeStore
	f.metricStore = &MetricStore{
		db:   f.db,
		repo: metricRepo,
		now:  f.now,
	}

	var ledger core.SyncRecordStore = &SyncRecordStore{
		db:   f.db,
		repo: syncRecordRepo,
		now:  f.now,
	}
	if f.cacheService != nil {
		cached, cacheErr := NewCachedSyncRecordStore(ledger, f.cacheService)
		if cacheErr != nil {
			return cacheErr
		}
		ledger = cached
	}
	f.syncRecordStore = ledger
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
