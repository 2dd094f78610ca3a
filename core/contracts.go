package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type BeginAuthRequest struct {
	ProviderID  string
	UserID      string
	RedirectURI string
	State       string
}

type BeginAuthResponse struct {
	URL       string
	Handshake *PendingHandshake
}

type CompleteAuthRequest struct {
	ProviderID         string
	UserID             string
	Code               string
	RedirectURI        string
	RequestToken       string
	RequestTokenSecret string
	Verifier           string
}

// Provider adapts one fitness provider: its auth protocol, its data API and
// the mapping of its payloads into canonical metrics.
type Provider interface {
	ID() string
	Protocol() Protocol
	BeginAuth(ctx context.Context, req BeginAuthRequest) (BeginAuthResponse, error)
	CompleteAuth(ctx context.Context, req CompleteAuthRequest) (TokenSet, error)
	Refresh(ctx context.Context, conn Connection) (TokenSet, error)
	Revoke(ctx context.Context, conn Connection) error
	FetchDailySummaries(ctx context.Context, conn Connection, dates DateRange) ([]RawRecord, error)
	MapMetrics(records []RawRecord) ([]Metric, error)
}

type Registry interface {
	Register(provider Provider) error
	Get(providerID string) (Provider, bool)
	List() []Provider
}

type UpsertConnectionInput struct {
	UserID         string
	ProviderID     string
	ExternalUserID string
	Token          TokenSet
}

type ConnectionStore interface {
	// Upsert creates or re-authorizes the live connection for (user, provider).
	Upsert(ctx context.Context, in UpsertConnectionInput) (Connection, error)
	Get(ctx context.Context, id string) (Connection, error)
	FindActive(ctx context.Context, userID string, providerID string) (Connection, bool, error)
	ListActive(ctx context.Context, providerID string) ([]Connection, error)
	UpdateTokens(ctx context.Context, id string, token TokenSet) (Connection, error)
	RecordSyncSuccess(ctx context.Context, id string, at time.Time) error
	RecordSyncError(ctx context.Context, id string, message string) error
	// Delete removes the live connection for (user, provider) and reports
	// whether one existed.
	Delete(ctx context.Context, userID string, providerID string) (bool, error)
}

type HandshakeStore interface {
	Save(ctx context.Context, handshake PendingHandshake) error
	// Consume returns the handshake and removes it in one step. A second
	// Consume for the same token fails.
	Consume(ctx context.Context, providerID string, requestToken string) (PendingHandshake, error)
	PurgeBefore(ctx context.Context, cutoff time.Time) (int, error)
}

type MetricQuery struct {
	UserID     string
	ProviderID string
	Types      []MetricType
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}

type MetricStore interface {
	// UpsertMetrics writes metrics keyed on (connection, date, type); the
	// last write wins.
	UpsertMetrics(ctx context.Context, metrics []Metric) (int, error)
	ListMetrics(ctx context.Context, query MetricQuery) ([]Metric, error)
}

type SyncRecordStore interface {
	Create(ctx context.Context, record SyncRecord) (SyncRecord, error)
	Complete(ctx context.Context, record SyncRecord) (SyncRecord, error)
	Latest(ctx context.Context, connectionID string) (SyncRecord, bool, error)
	ListByConnection(ctx context.Context, connectionID string, limit int) ([]SyncRecord, error)
}

// TokenCipher protects connection tokens at rest.
type TokenCipher interface {
	Seal(ctx context.Context, plaintext string) (string, error)
	Open(ctx context.Context, value string) (string, error)
}

// SyncTrigger starts a sync without waiting for it to finish.
type SyncTrigger interface {
	TriggerSync(ctx context.Context, conn Connection, kind SyncKind) error
}

type SyncTriggerFunc func(ctx context.Context, conn Connection, kind SyncKind) error

func (f SyncTriggerFunc) TriggerSync(ctx context.Context, conn Connection, kind SyncKind) error {
	return f(ctx, conn, kind)
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type TransportRequest struct {
	Method               string
	URL                  string
	Headers              map[string]string
	Query                map[string]string
	Body                 []byte
	Timeout              time.Duration
	MaxResponseBodyBytes int64
}

type TransportResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Metadata   map[string]any
}

type TransportAdapter interface {
	Do(ctx context.Context, req TransportRequest) (TransportResponse, error)
}
