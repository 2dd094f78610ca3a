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

type SyncRecordStore struct {
	db   *bun.DB
	repo repository.Repository[*syncRecordRecord]
	now  func() time.Time
}

func (s *SyncRecordStore) Create(ctx context.Context, record core.SyncRecord) (core.SyncRecord, error) {
	if s == nil || s.repo == nil {
		return core.SyncRecord{}, fmt.Errorf("sqlstore: sync record store is not configured")
	}
	if strings.TrimSpace(record.ConnectionID) == "" {
		return core.SyncRecord{}, fmt.Errorf("sqlstore: sync record connection id is required")
	}
	if strings.TrimSpace(record.ID) == "" {
		record.ID = uuid.NewString()
	}
	created, err := s.repo.Create(ctx, newSyncRecordRecord(record, s.clock()))
	if err != nil {
		return core.SyncRecord{}, err
	}
	return created.toDomain(), nil
}

// Complete writes the terminal state of an in-progress record. The update is
// guarded on the stored status so a record is completed at most once.
func (s *SyncRecordStore) Complete(ctx context.Context, record core.SyncRecord) (core.SyncRecord, error) {
	if s == nil || s.db == nil {
		return core.SyncRecord{}, fmt.Errorf("sqlstore: sync record store is not configured")
	}
	trimmedID := strings.TrimSpace(record.ID)
	if trimmedID == "" {
		return core.SyncRecord{}, fmt.Errorf("sqlstore: sync record id is required")
	}
	row := newSyncRecordRecord(record, s.clock())
	res, err := s.db.NewUpdate().
		Model(row).
		Column("status", "records_synced", "data_types", "range_start", "range_end", "error", "completed_at", "updated_at").
		Where("id = ?", trimmedID).
		Where("status = ?", string(core.SyncStatusInProgress)).
		Exec(ctx)
	if err != nil {
		return core.SyncRecord{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return core.SyncRecord{}, err
	}
	if affected != 1 {
		return core.SyncRecord{}, fmt.Errorf("%w: record %s is not in progress", core.ErrInvalidSyncTransition, trimmedID)
	}
	stored, err := s.repo.GetByID(ctx, trimmedID)
	if err != nil {
		return core.SyncRecord{}, err
	}
	return stored.toDomain(), nil
}

func (s *SyncRecordStore) Latest(ctx context.Context, connectionID string) (core.SyncRecord, bool, error) {
	records, err := s.ListByConnection(ctx, connectionID, 1)
	if err != nil {
		return core.SyncRecord{}, false, err
	}
	if len(records) == 0 {
		return core.SyncRecord{}, false, nil
	}
	return records[0], true, nil
}

// ListByConnection returns the ledger of a live connection, newest first.
func (s *SyncRecordStore) ListByConnection(ctx context.Context, connectionID string, limit int) ([]core.SyncRecord, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: sync record store is not configured")
	}
	selectors := []repository.SelectCriteria{
		repository.SelectBy("connection_id", "=", strings.TrimSpace(connectionID)),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where(liveConnectionClause)
		}),
		repository.OrderBy("started_at DESC"),
		repository.OrderBy("created_at DESC"),
	}
	if limit > 0 {
		selectors = append(selectors, repository.SelectPaginate(limit, 0))
	}
	records, _, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return nil, err
	}
	out := make([]core.SyncRecord, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *SyncRecordStore) clock() time.Time {
	if s.now == nil {
		return time.Now().UTC()
	}
	return s.now().UTC()
}
