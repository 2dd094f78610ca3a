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

type ConnectionStore struct {
	db     *bun.DB
	repo   repository.Repository[*connectionRecord]
	tokens tokenCodec
	now    func() time.Time
}

// Upsert re-authorizes the live connection for (user, provider) or creates
// one. The live row is found and updated inside a transaction; a concurrent
// insert that wins the partial unique index is resolved by updating the
// winner.
func (s *ConnectionStore) Upsert(ctx context.Context, in core.UpsertConnectionInput) (core.Connection, error) {
	if s == nil || s.db == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: connection store is not configured")
	}
	userID := strings.TrimSpace(in.UserID)
	providerID := strings.TrimSpace(in.ProviderID)
	if userID == "" || providerID == "" {
		return core.Connection{}, fmt.Errorf("sqlstore: user id and provider id are required")
	}
	if strings.TrimSpace(in.Token.AccessToken) == "" {
		return core.Connection{}, fmt.Errorf("sqlstore: access token is required")
	}

	result, err := s.upsertTx(ctx, in)
	if err != nil && isUniqueViolation(err) {
		result, err = s.upsertTx(ctx, in)
	}
	if err != nil {
		return core.Connection{}, err
	}
	return result.toDomain(), nil
}

func (s *ConnectionStore) upsertTx(ctx context.Context, in core.UpsertConnectionInput) (*connectionRecord, error) {
	var result *connectionRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		now := s.clock()
		existing := &connectionRecord{}
		err := tx.NewSelect().
			Model(existing).
			Where("?TableAlias.user_id = ?", strings.TrimSpace(in.UserID)).
			Where("?TableAlias.provider_id = ?", strings.TrimSpace(in.ProviderID)).
			Limit(1).
			Scan(ctx)
		switch {
		case err == nil:
			current, openErr := s.tokens.open(ctx, existing)
			if openErr != nil {
				return openErr
			}
			if external := strings.TrimSpace(in.ExternalUserID); external != "" {
				current.ExternalUserID = external
			}
			applyToken(current, in.Token)
			current.Active = true
			current.LastError = ""
			current.UpdatedAt = now
			sealed, sealErr := s.tokens.seal(ctx, current)
			if sealErr != nil {
				return sealErr
			}
			if _, updateErr := tx.NewUpdate().Model(sealed).WherePK().Exec(ctx); updateErr != nil {
				return updateErr
			}
			result = current
			return nil
		case isNoRows(err):
			record := newConnectionRecord(in, now)
			record.ID = uuid.NewString()
			sealed, sealErr := s.tokens.seal(ctx, record)
			if sealErr != nil {
				return sealErr
			}
			if _, insertErr := tx.NewInsert().Model(sealed).Exec(ctx); insertErr != nil {
				return insertErr
			}
			result = record
			return nil
		default:
			return err
		}
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *ConnectionStore) Get(ctx context.Context, id string) (core.Connection, error) {
	if s == nil || s.repo == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: connection store is not configured")
	}
	record, err := s.load(ctx, id)
	if err != nil {
		return core.Connection{}, err
	}
	return record.toDomain(), nil
}

func (s *ConnectionStore) FindActive(ctx context.Context, userID string, providerID string) (core.Connection, bool, error) {
	if s == nil || s.repo == nil {
		return core.Connection{}, false, fmt.Errorf("sqlstore: connection store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("user_id", "=", strings.TrimSpace(userID)),
		repository.SelectBy("provider_id", "=", strings.TrimSpace(providerID)),
		repository.SelectBy("active", "=", true),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.Connection{}, false, err
	}
	if len(records) == 0 {
		return core.Connection{}, false, nil
	}
	opened, err := s.tokens.open(ctx, records[0])
	if err != nil {
		return core.Connection{}, false, err
	}
	return opened.toDomain(), true, nil
}

// ListActive returns the live connections of a provider, oldest first.
func (s *ConnectionStore) ListActive(ctx context.Context, providerID string) ([]core.Connection, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: connection store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("provider_id", "=", strings.TrimSpace(providerID)),
		repository.SelectBy("active", "=", true),
		repository.OrderBy("connected_at ASC"),
		repository.OrderBy("id ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.Connection, 0, len(records))
	for _, record := range records {
		opened, openErr := s.tokens.open(ctx, record)
		if openErr != nil {
			return nil, openErr
		}
		out = append(out, opened.toDomain())
	}
	return out, nil
}

func (s *ConnectionStore) UpdateTokens(ctx context.Context, id string, token core.TokenSet) (core.Connection, error) {
	if s == nil || s.repo == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: connection store is not configured")
	}
	current, err := s.load(ctx, id)
	if err != nil {
		return core.Connection{}, err
	}
	applyToken(current, token)
	current.UpdatedAt = s.clock()
	if err := s.save(ctx, current); err != nil {
		return core.Connection{}, err
	}
	return current.toDomain(), nil
}

func (s *ConnectionStore) RecordSyncSuccess(ctx context.Context, id string, at time.Time) error {
	syncedAt := at.UTC()
	return s.touch(ctx, id, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("last_sync_at = ?", syncedAt).Set("last_error = ?", "")
	})
}

func (s *ConnectionStore) RecordSyncError(ctx context.Context, id string, message string) error {
	return s.touch(ctx, id, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("last_error = ?", message)
	})
}

// Delete soft-deletes the live connection. Metrics and sync records stay in
// place but are no longer readable through a live connection.
func (s *ConnectionStore) Delete(ctx context.Context, userID string, providerID string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: connection store is not configured")
	}
	now := s.clock()
	res, err := s.db.NewUpdate().
		Model((*connectionRecord)(nil)).
		Set("active = ?", false).
		Set("updated_at = ?", now).
		Set("deleted_at = ?", now).
		Where("user_id = ?", strings.TrimSpace(userID)).
		Where("provider_id = ?", strings.TrimSpace(providerID)).
		Where("deleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *ConnectionStore) load(ctx context.Context, id string) (*connectionRecord, error) {
	trimmedID := strings.TrimSpace(id)
	if trimmedID == "" {
		return nil, fmt.Errorf("sqlstore: connection id is required")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("id", "=", trimmedID),
		repository.SelectBy("active", "=", true),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, connectionNotFound(trimmedID)
	}
	return s.tokens.open(ctx, records[0])
}

func (s *ConnectionStore) save(ctx context.Context, record *connectionRecord) error {
	sealed, err := s.tokens.seal(ctx, record)
	if err != nil {
		return err
	}
	_, err = s.repo.Update(ctx, sealed, repository.UpdateByID(record.ID))
	return err
}

func (s *ConnectionStore) touch(ctx context.Context, id string, apply func(*bun.UpdateQuery) *bun.UpdateQuery) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: connection store is not configured")
	}
	trimmedID := strings.TrimSpace(id)
	query := s.db.NewUpdate().
		Model((*connectionRecord)(nil)).
		Set("updated_at = ?", s.clock()).
		Where("id = ?", trimmedID).
		Where("deleted_at IS NULL")
	res, err := apply(query).Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return connectionNotFound(trimmedID)
	}
	return nil
}

func (s *ConnectionStore) clock() time.Time {
	if s.now == nil {
		return time.Now().UTC()
	}
	return s.now().UTC()
}
