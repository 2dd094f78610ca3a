// Package memory provides process-local stores for tests and single-node
// development runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-fitsync/core"
	"github.com/google/uuid"
)

// Store implements every persistence contract on maps guarded by one mutex.
type Store struct {
	mu          sync.Mutex
	now         func() time.Time
	writes      int
	connections map[string]core.Connection
	handshakes  map[string]core.PendingHandshake
	metrics     map[string]core.Metric
	records     map[string]core.SyncRecord
	recordOrder []string
}

func New() *Store {
	return &Store{
		now:         func() time.Time { return time.Now().UTC() },
		connections: map[string]core.Connection{},
		handshakes:  map[string]core.PendingHandshake{},
		metrics:     map[string]core.Metric{},
		records:     map[string]core.SyncRecord{},
	}
}

// WithClock replaces the timestamp source.
func (s *Store) WithClock(now func() time.Time) *Store {
	if now != nil {
		s.now = now
	}
	return s
}

// Writes counts mutating calls that changed state.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *Store) ConnectionStore() core.ConnectionStore { return connectionStore{s} }

func (s *Store) HandshakeStore() core.HandshakeStore { return handshakeStore{s} }

func (s *Store) MetricStore() core.MetricStore { return metricStore{s} }

func (s *Store) SyncRecordStore() core.SyncRecordStore { return syncRecordStore{s} }

type connectionStore struct{ s *Store }

func (c connectionStore) Upsert(_ context.Context, in core.UpsertConnectionInput) (core.Connection, error) {
	userID := strings.TrimSpace(in.UserID)
	providerID := strings.TrimSpace(in.ProviderID)
	if userID == "" || providerID == "" {
		return core.Connection{}, fmt.Errorf("memory: user id and provider id are required")
	}
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	now := c.s.now()
	conn, found := c.s.findActiveLocked(userID, providerID)
	if !found {
		conn = core.Connection{
			ID:          uuid.NewString(),
			UserID:      userID,
			ProviderID:  providerID,
			ConnectedAt: now,
		}
	}
	if external := strings.TrimSpace(in.ExternalUserID); external != "" {
		conn.ExternalUserID = external
	}
	applyToken(&conn, in.Token)
	conn.Active = true
	conn.LastError = ""
	conn.UpdatedAt = now
	c.s.connections[conn.ID] = conn
	c.s.writes++
	return cloneConnection(conn), nil
}

func (c connectionStore) Get(_ context.Context, id string) (core.Connection, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	conn, ok := c.s.connections[strings.TrimSpace(id)]
	if !ok || !conn.Active {
		return core.Connection{}, core.NewError(core.KindNotConnected, "memory: connection not found")
	}
	return cloneConnection(conn), nil
}

func (c connectionStore) FindActive(_ context.Context, userID string, providerID string) (core.Connection, bool, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	conn, found := c.s.findActiveLocked(strings.TrimSpace(userID), strings.TrimSpace(providerID))
	return cloneConnection(conn), found, nil
}

func (c connectionStore) ListActive(_ context.Context, providerID string) ([]core.Connection, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	out := []core.Connection{}
	for _, conn := range c.s.connections {
		if conn.Active && conn.ProviderID == strings.TrimSpace(providerID) {
			out = append(out, cloneConnection(conn))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ConnectedAt.Before(out[j].ConnectedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (c connectionStore) UpdateTokens(_ context.Context, id string, token core.TokenSet) (core.Connection, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	conn, ok := c.s.connections[strings.TrimSpace(id)]
	if !ok || !conn.Active {
		return core.Connection{}, core.NewError(core.KindNotConnected, "memory: connection not found")
	}
	applyToken(&conn, token)
	conn.UpdatedAt = c.s.now()
	c.s.connections[conn.ID] = conn
	c.s.writes++
	return cloneConnection(conn), nil
}

func (c connectionStore) RecordSyncSuccess(_ context.Context, id string, at time.Time) error {
	return c.update(id, func(conn *core.Connection) {
		synced := at.UTC()
		conn.LastSyncAt = &synced
		conn.LastError = ""
	})
}

func (c connectionStore) RecordSyncError(_ context.Context, id string, message string) error {
	return c.update(id, func(conn *core.Connection) {
		conn.LastError = message
	})
}

func (c connectionStore) Delete(_ context.Context, userID string, providerID string) (bool, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	conn, found := c.s.findActiveLocked(strings.TrimSpace(userID), strings.TrimSpace(providerID))
	if !found {
		return false, nil
	}
	conn.Active = false
	conn.UpdatedAt = c.s.now()
	c.s.connections[conn.ID] = conn
	c.s.writes++
	return true, nil
}

func (c connectionStore) update(id string, mutate func(*core.Connection)) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	conn, ok := c.s.connections[strings.TrimSpace(id)]
	if !ok || !conn.Active {
		return core.NewError(core.KindNotConnected, "memory: connection not found")
	}
	mutate(&conn)
	conn.UpdatedAt = c.s.now()
	c.s.connections[conn.ID] = conn
	c.s.writes++
	return nil
}

func (s *Store) findActiveLocked(userID string, providerID string) (core.Connection, bool) {
	for _, conn := range s.connections {
		if conn.Active && conn.UserID == userID && conn.ProviderID == providerID {
			return conn, true
		}
	}
	return core.Connection{}, false
}

func (s *Store) liveConnectionLocked(id string) (core.Connection, bool) {
	conn, ok := s.connections[id]
	return conn, ok && conn.Active
}

type handshakeStore struct{ s *Store }

func handshakeKey(providerID string, token string) string {
	return strings.TrimSpace(providerID) + "|" + strings.TrimSpace(token)
}

func (h handshakeStore) Save(_ context.Context, handshake core.PendingHandshake) error {
	if strings.TrimSpace(handshake.RequestToken) == "" {
		return fmt.Errorf("memory: request token is required")
	}
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	if handshake.CreatedAt.IsZero() {
		handshake.CreatedAt = h.s.now()
	}
	h.s.handshakes[handshakeKey(handshake.ProviderID, handshake.RequestToken)] = handshake
	h.s.writes++
	return nil
}

func (h handshakeStore) Consume(_ context.Context, providerID string, requestToken string) (core.PendingHandshake, error) {
	key := handshakeKey(providerID, requestToken)
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	handshake, ok := h.s.handshakes[key]
	if !ok {
		return core.PendingHandshake{}, core.NewError(core.KindHandshakeInvalid, "memory: pending handshake not found")
	}
	delete(h.s.handshakes, key)
	h.s.writes++
	return handshake, nil
}

func (h handshakeStore) PurgeBefore(_ context.Context, cutoff time.Time) (int, error) {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	purged := 0
	for key, handshake := range h.s.handshakes {
		if handshake.CreatedAt.Before(cutoff) {
			delete(h.s.handshakes, key)
			purged++
		}
	}
	if purged > 0 {
		h.s.writes++
	}
	return purged, nil
}

type metricStore struct{ s *Store }

func (m metricStore) UpsertMetrics(_ context.Context, metrics []core.Metric) (int, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	now := m.s.now()
	for _, metric := range metrics {
		if strings.TrimSpace(metric.ConnectionID) == "" {
			return 0, fmt.Errorf("memory: metric connection id is required")
		}
		metric.Date = core.TruncateDay(metric.Date)
		key := metric.Key()
		if existing, ok := m.s.metrics[key]; ok {
			metric.ID = existing.ID
			metric.CreatedAt = existing.CreatedAt
		} else {
			metric.ID = uuid.NewString()
			metric.CreatedAt = now
		}
		metric.UpdatedAt = now
		m.s.metrics[key] = metric
	}
	if len(metrics) > 0 {
		m.s.writes++
	}
	return len(metrics), nil
}

func (m metricStore) ListMetrics(_ context.Context, query core.MetricQuery) ([]core.Metric, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	types := map[core.MetricType]bool{}
	for _, metricType := range query.Types {
		types[metricType] = true
	}
	out := []core.Metric{}
	for _, metric := range m.s.metrics {
		conn, live := m.s.liveConnectionLocked(metric.ConnectionID)
		if !live {
			continue
		}
		if query.UserID != "" && conn.UserID != query.UserID {
			continue
		}
		if query.ProviderID != "" && conn.ProviderID != query.ProviderID {
			continue
		}
		if len(types) > 0 && !types[metric.Type] {
			continue
		}
		if !query.From.IsZero() && metric.Date.Before(core.TruncateDay(query.From)) {
			continue
		}
		if !query.To.IsZero() && metric.Date.After(core.TruncateDay(query.To)) {
			continue
		}
		out = append(out, metric)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		if out[i].ProviderID != out[j].ProviderID {
			return out[i].ProviderID < out[j].ProviderID
		}
		return out[i].Type < out[j].Type
	})
	if query.Offset > 0 {
		if query.Offset >= len(out) {
			return []core.Metric{}, nil
		}
		out = out[query.Offset:]
	}
	if query.Limit > 0 && len(out) > query.Limit {
		out = out[:query.Limit]
	}
	return out, nil
}

type syncRecordStore struct{ s *Store }

func (r syncRecordStore) Create(_ context.Context, record core.SyncRecord) (core.SyncRecord, error) {
	if strings.TrimSpace(record.ConnectionID) == "" {
		return core.SyncRecord{}, fmt.Errorf("memory: sync record connection id is required")
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Status == "" {
		record.Status = core.SyncStatusInProgress
	}
	if record.StartedAt.IsZero() {
		record.StartedAt = r.s.now()
	}
	r.s.records[record.ID] = cloneRecord(record)
	r.s.recordOrder = append(r.s.recordOrder, record.ID)
	r.s.writes++
	return cloneRecord(record), nil
}

func (r syncRecordStore) Complete(_ context.Context, record core.SyncRecord) (core.SyncRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing, ok := r.s.records[record.ID]
	if !ok {
		return core.SyncRecord{}, fmt.Errorf("memory: sync record %s not found", record.ID)
	}
	if existing.Status != core.SyncStatusInProgress {
		return core.SyncRecord{}, fmt.Errorf("%w: record %s already %s", core.ErrInvalidSyncTransition, record.ID, existing.Status)
	}
	r.s.records[record.ID] = cloneRecord(record)
	r.s.writes++
	return cloneRecord(record), nil
}

func (r syncRecordStore) Latest(_ context.Context, connectionID string) (core.SyncRecord, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for idx := len(r.s.recordOrder) - 1; idx >= 0; idx-- {
		record := r.s.records[r.s.recordOrder[idx]]
		if record.ConnectionID == connectionID {
			return cloneRecord(record), true, nil
		}
	}
	return core.SyncRecord{}, false, nil
}

func (r syncRecordStore) ListByConnection(_ context.Context, connectionID string, limit int) ([]core.SyncRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []core.SyncRecord{}
	for idx := len(r.s.recordOrder) - 1; idx >= 0; idx-- {
		record := r.s.records[r.s.recordOrder[idx]]
		if record.ConnectionID != connectionID {
			continue
		}
		out = append(out, cloneRecord(record))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func applyToken(conn *core.Connection, token core.TokenSet) {
	if token.AccessToken != "" {
		conn.AccessToken = token.AccessToken
	}
	if token.RefreshToken != "" {
		conn.RefreshToken = token.RefreshToken
	}
	if token.TokenSecret != "" {
		conn.TokenSecret = token.TokenSecret
	}
	if token.TokenType != "" {
		conn.TokenType = token.TokenType
	}
	if token.ExpiresAt != nil {
		expiresAt := token.ExpiresAt.UTC()
		conn.ExpiresAt = &expiresAt
	}
	if len(token.Scopes) > 0 {
		conn.Scopes = append([]string(nil), token.Scopes...)
	}
}

func cloneConnection(conn core.Connection) core.Connection {
	conn.Scopes = append([]string(nil), conn.Scopes...)
	return conn
}

func cloneRecord(record core.SyncRecord) core.SyncRecord {
	record.DataTypes = append([]string(nil), record.DataTypes...)
	return record
}

var (
	_ core.StoreProvider   = (*Store)(nil)
	_ core.ConnectionStore = connectionStore{}
	_ core.HandshakeStore  = handshakeStore{}
	_ core.MetricStore     = metricStore{}
	_ core.SyncRecordStore = syncRecordStore{}
)
