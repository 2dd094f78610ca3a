package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-fitsync/core"
	"github.com/uptrace/bun"
)

type HandshakeStore struct {
	db  *bun.DB
	now func() time.Time
}

func NewHandshakeStore(db *bun.DB) (*HandshakeStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &HandshakeStore{db: db}, nil
}

func (s *HandshakeStore) Save(ctx context.Context, handshake core.PendingHandshake) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: handshake store is not configured")
	}
	if strings.TrimSpace(handshake.RequestToken) == "" || strings.TrimSpace(handshake.ProviderID) == "" {
		return fmt.Errorf("sqlstore: provider id and request token are required")
	}
	record := newHandshakeRecord(handshake, s.clock())
	_, err := s.db.NewInsert().Model(record).Exec(ctx)
	if err != nil && isUniqueViolation(err) {
		return core.NewError(core.KindHandshakeInvalid, "sqlstore: request token already pending")
	}
	return err
}

// Consume reads and deletes the handshake in one transaction. Only the
// caller whose delete removes the row receives it.
func (s *HandshakeStore) Consume(ctx context.Context, providerID string, requestToken string) (core.PendingHandshake, error) {
	if s == nil || s.db == nil {
		return core.PendingHandshake{}, fmt.Errorf("sqlstore: handshake store is not configured")
	}
	providerID = strings.TrimSpace(providerID)
	requestToken = strings.TrimSpace(requestToken)
	var consumed core.PendingHandshake
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record := &handshakeRecord{}
		if err := tx.NewSelect().
			Model(record).
			Where("?TableAlias.provider_id = ?", providerID).
			Where("?TableAlias.request_token = ?", requestToken).
			Limit(1).
			Scan(ctx); err != nil {
			if isNoRows(err) {
				return handshakeNotFound()
			}
			return err
		}
		res, err := tx.NewDelete().
			Model((*handshakeRecord)(nil)).
			Where("provider_id = ?", providerID).
			Where("request_token = ?", requestToken).
			Exec(ctx)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected != 1 {
			return handshakeNotFound()
		}
		consumed = record.toDomain()
		return nil
	})
	if err != nil {
		return core.PendingHandshake{}, err
	}
	return consumed, nil
}

func (s *HandshakeStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: handshake store is not configured")
	}
	res, err := s.db.NewDelete().
		Model((*handshakeRecord)(nil)).
		Where("created_at < ?", cutoff.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (s *HandshakeStore) clock() time.Time {
	if s.now == nil {
		return time.Now().UTC()
	}
	return s.now().UTC()
}

func handshakeNotFound() error {
	return core.NewError(core.KindHandshakeInvalid, "sqlstore: pending handshake not found")
}
