package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-fitsync/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const latestSyncRecordCacheKeyPrefix = "fitsync::sync_record_latest::v1"

// CachedSyncRecordStore serves Latest through a read-through cache and
// invalidates the connection's entry on every ledger write.
type CachedSyncRecordStore struct {
	base  core.SyncRecordStore
	cache repositorycache.CacheService
}

type latestSyncRecord struct {
	Record core.SyncRecord
	Found  bool
}

func NewCachedSyncRecordStore(
	base core.SyncRecordStore,
	cacheService repositorycache.CacheService,
) (*CachedSyncRecordStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base sync record store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: sync record cache service is required")
	}
	return &CachedSyncRecordStore{base: base, cache: cacheService}, nil
}

// LatestSyncRecordCacheKey returns fitsync::sync_record_latest::v1::<connection_id>
// with the id URL-path escaped.
func LatestSyncRecordCacheKey(connectionID string) (string, error) {
	trimmed := strings.TrimSpace(connectionID)
	if trimmed == "" {
		return "", fmt.Errorf("sqlstore: connection id is required")
	}
	return latestSyncRecordCacheKeyPrefix + "::" + url.PathEscape(trimmed), nil
}

func (s *CachedSyncRecordStore) Create(ctx context.Context, record core.SyncRecord) (core.SyncRecord, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.SyncRecord{}, fmt.Errorf("sqlstore: cached sync record store is not configured")
	}
	created, err := s.base.Create(ctx, record)
	if err != nil {
		return core.SyncRecord{}, err
	}
	if err := s.invalidate(ctx, created.ConnectionID); err != nil {
		return core.SyncRecord{}, err
	}
	return created, nil
}

func (s *CachedSyncRecordStore) Complete(ctx context.Context, record core.SyncRecord) (core.SyncRecord, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.SyncRecord{}, fmt.Errorf("sqlstore: cached sync record store is not configured")
	}
	completed, err := s.base.Complete(ctx, record)
	if err != nil {
		return core.SyncRecord{}, err
	}
	connectionID := completed.ConnectionID
	if connectionID == "" {
		connectionID = record.ConnectionID
	}
	if err := s.invalidate(ctx, connectionID); err != nil {
		return core.SyncRecord{}, err
	}
	return completed, nil
}

func (s *CachedSyncRecordStore) Latest(ctx context.Context, connectionID string) (core.SyncRecord, bool, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.SyncRecord{}, false, fmt.Errorf("sqlstore: cached sync record store is not configured")
	}
	cacheKey, err := LatestSyncRecordCacheKey(connectionID)
	if err != nil {
		return core.SyncRecord{}, false, err
	}
	latest, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (latestSyncRecord, error) {
		record, found, fetchErr := s.base.Latest(ctx, strings.TrimSpace(connectionID))
		if fetchErr != nil {
			return latestSyncRecord{}, fetchErr
		}
		return latestSyncRecord{Record: cloneSyncRecord(record), Found: found}, nil
	})
	if err != nil {
		return core.SyncRecord{}, false, err
	}
	return cloneSyncRecord(latest.Record), latest.Found, nil
}

func (s *CachedSyncRecordStore) ListByConnection(ctx context.Context, connectionID string, limit int) ([]core.SyncRecord, error) {
	if s == nil || s.base == nil {
		return nil, fmt.Errorf("sqlstore: cached sync record store is not configured")
	}
	return s.base.ListByConnection(ctx, connectionID, limit)
}

// Invalidate drops the cached latest record of a connection, used when the
// connection itself is removed.
func (s *CachedSyncRecordStore) Invalidate(ctx context.Context, connectionID string) error {
	if s == nil || s.cache == nil {
		return nil
	}
	return s.invalidate(ctx, connectionID)
}

func (s *CachedSyncRecordStore) invalidate(ctx context.Context, connectionID string) error {
	cacheKey, err := LatestSyncRecordCacheKey(connectionID)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

func cloneSyncRecord(record core.SyncRecord) core.SyncRecord {
	cloned := record
	cloned.DataTypes = append([]string(nil), record.DataTypes...)
	cloned.RangeStart = cloneTime(record.RangeStart)
	cloned.RangeEnd = cloneTime(record.RangeEnd)
	cloned.CompletedAt = cloneTime(record.CompletedAt)
	return cloned
}

var _ core.SyncRecordStore = (*CachedSyncRecordStore)(nil)
