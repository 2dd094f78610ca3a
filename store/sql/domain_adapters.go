package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-fitsync/core"
)

func newConnectionRecord(in core.UpsertConnectionInput, now time.Time) *connectionRecord {
	record := &connectionRecord{
		UserID:         strings.TrimSpace(in.UserID),
		ProviderID:     strings.TrimSpace(in.ProviderID),
		ExternalUserID: strings.TrimSpace(in.ExternalUserID),
		Scopes:         []string{},
		Active:         true,
		ConnectedAt:    now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	applyToken(record, in.Token)
	return record
}

// applyToken copies the non-empty fields of token onto record. Fields the
// provider omitted, such as a refresh token on a refresh response, are kept.
func applyToken(record *connectionRecord, token core.TokenSet) {
	if token.AccessToken != "" {
		record.AccessToken = token.AccessToken
	}
	if token.RefreshToken != "" {
		record.RefreshToken = token.RefreshToken
	}
	if token.TokenSecret != "" {
		record.TokenSecret = token.TokenSecret
	}
	if token.TokenType != "" {
		record.TokenType = token.TokenType
	}
	if token.ExpiresAt != nil {
		expiresAt := token.ExpiresAt.UTC()
		record.ExpiresAt = &expiresAt
	}
	if len(token.Scopes) > 0 {
		record.Scopes = append([]string(nil), token.Scopes...)
	}
	if record.Scopes == nil {
		record.Scopes = []string{}
	}
}

func (r *connectionRecord) toDomain() core.Connection {
	if r == nil {
		return core.Connection{}
	}
	return core.Connection{
		ID:             r.ID,
		UserID:         r.UserID,
		ProviderID:     r.ProviderID,
		ExternalUserID: r.ExternalUserID,
		AccessToken:    r.AccessToken,
		RefreshToken:   r.RefreshToken,
		TokenSecret:    r.TokenSecret,
		TokenType:      r.TokenType,
		ExpiresAt:      cloneTime(r.ExpiresAt),
		Scopes:         append([]string(nil), r.Scopes...),
		Active:         r.Active && r.DeletedAt == nil,
		LastSyncAt:     cloneTime(r.LastSyncAt),
		LastError:      r.LastError,
		ConnectedAt:    r.ConnectedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
}

// tokenCodec seals the token columns on write and opens them on read. A nil
// cipher stores tokens as given.
type tokenCodec struct {
	cipher core.TokenCipher
}

func (c tokenCodec) seal(ctx context.Context, record *connectionRecord) (*connectionRecord, error) {
	if c.cipher == nil || record == nil {
		return record, nil
	}
	sealed := *record
	var err error
	if sealed.AccessToken, err = c.cipher.Seal(ctx, record.AccessToken); err != nil {
		return nil, fmt.Errorf("sqlstore: seal access token: %w", err)
	}
	if sealed.RefreshToken, err = c.cipher.Seal(ctx, record.RefreshToken); err != nil {
		return nil, fmt.Errorf("sqlstore: seal refresh token: %w", err)
	}
	if sealed.TokenSecret, err = c.cipher.Seal(ctx, record.TokenSecret); err != nil {
		return nil, fmt.Errorf("sqlstore: seal token secret: %w", err)
	}
	return &sealed, nil
}

func (c tokenCodec) open(ctx context.Context, record *connectionRecord) (*connectionRecord, error) {
	if c.cipher == nil || record == nil {
		return record, nil
	}
	opened := *record
	var err error
	if opened.AccessToken, err = c.cipher.Open(ctx, record.AccessToken); err != nil {
		return nil, fmt.Errorf("sqlstore: open access token: %w", err)
	}
	if opened.RefreshToken, err = c.cipher.Open(ctx, record.RefreshToken); err != nil {
		return nil, fmt.Errorf("sqlstore: open refresh token: %w", err)
	}
	if opened.TokenSecret, err = c.cipher.Open(ctx, record.TokenSecret); err != nil {
		return nil, fmt.Errorf("sqlstore: open token secret: %w", err)
	}
	return &opened, nil
}

func newHandshakeRecord(handshake core.PendingHandshake, now time.Time) *handshakeRecord {
	createdAt := handshake.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	return &handshakeRecord{
		ProviderID:         strings.TrimSpace(handshake.ProviderID),
		RequestToken:       strings.TrimSpace(handshake.RequestToken),
		UserID:             strings.TrimSpace(handshake.UserID),
		RequestTokenSecret: handshake.RequestTokenSecret,
		CreatedAt:          createdAt.UTC(),
	}
}

func (r *handshakeRecord) toDomain() core.PendingHandshake {
	if r == nil {
		return core.PendingHandshake{}
	}
	return core.PendingHandshake{
		UserID:             r.UserID,
		ProviderID:         r.ProviderID,
		RequestToken:       r.RequestToken,
		RequestTokenSecret: r.RequestTokenSecret,
		CreatedAt:          r.CreatedAt.UTC(),
	}
}

func newMetricRecord(metric core.Metric, id string, now time.Time) *metricRecord {
	unit := metric.Unit
	if unit == "" {
		unit = metric.Type.Unit()
	}
	return &metricRecord{
		ID:           id,
		ConnectionID: strings.TrimSpace(metric.ConnectionID),
		UserID:       strings.TrimSpace(metric.UserID),
		ProviderID:   strings.TrimSpace(metric.ProviderID),
		MetricDate:   core.TruncateDay(metric.Date).Format(core.DateLayout),
		MetricType:   string(metric.Type),
		Value:        metric.Value,
		Unit:         unit,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (r *metricRecord) toDomain() (core.Metric, error) {
	if r == nil {
		return core.Metric{}, nil
	}
	day, err := core.ParseDate(r.MetricDate)
	if err != nil {
		return core.Metric{}, err
	}
	return core.Metric{
		ID:           r.ID,
		ConnectionID: r.ConnectionID,
		UserID:       r.UserID,
		ProviderID:   r.ProviderID,
		Date:         day,
		Type:         core.MetricType(r.MetricType),
		Value:        r.Value,
		Unit:         r.Unit,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}, nil
}

func newSyncRecordRecord(record core.SyncRecord, now time.Time) *syncRecordRecord {
	startedAt := record.StartedAt
	if startedAt.IsZero() {
		startedAt = now
	}
	status := record.Status
	if status == "" {
		status = core.SyncStatusInProgress
	}
	dataTypes := append([]string(nil), record.DataTypes...)
	if dataTypes == nil {
		dataTypes = []string{}
	}
	return &syncRecordRecord{
		ID:            record.ID,
		ConnectionID:  strings.TrimSpace(record.ConnectionID),
		UserID:        strings.TrimSpace(record.UserID),
		ProviderID:    strings.TrimSpace(record.ProviderID),
		Kind:          string(record.Kind),
		DataTypes:     dataTypes,
		Status:        string(status),
		RecordsSynced: record.RecordsSynced,
		RangeStart:    cloneTime(record.RangeStart),
		RangeEnd:      cloneTime(record.RangeEnd),
		Error:         record.Error,
		StartedAt:     startedAt.UTC(),
		CompletedAt:   cloneTime(record.CompletedAt),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (r *syncRecordRecord) toDomain() core.SyncRecord {
	if r == nil {
		return core.SyncRecord{}
	}
	return core.SyncRecord{
		ID:            r.ID,
		ConnectionID:  r.ConnectionID,
		UserID:        r.UserID,
		ProviderID:    r.ProviderID,
		Kind:          core.SyncKind(r.Kind),
		DataTypes:     append([]string(nil), r.DataTypes...),
		Status:        core.SyncStatus(r.Status),
		RecordsSynced: r.RecordsSynced,
		RangeStart:    cloneTime(r.RangeStart),
		RangeEnd:      cloneTime(r.RangeEnd),
		Error:         r.Error,
		StartedAt:     r.StartedAt.UTC(),
		CompletedAt:   cloneTime(r.CompletedAt),
	}
}

func cloneTime(input *time.Time) *time.Time {
	if input == nil || input.IsZero() {
		return nil
	}
	value := input.UTC()
	return &value
}
