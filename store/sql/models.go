package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type connectionRecord struct {
	bun.BaseModel `bun:"table:fitsync_connections,alias:fc"`

	ID             string     `bun:"id,pk"`
	UserID         string     `bun:"user_id,notnull"`
	ProviderID     string     `bun:"provider_id,notnull"`
	ExternalUserID string     `bun:"external_user_id,notnull"`
	AccessToken    string     `bun:"access_token,notnull"`
	RefreshToken   string     `bun:"refresh_token,notnull"`
	TokenSecret    string     `bun:"token_secret,notnull"`
	TokenType      string     `bun:"token_type,notnull"`
	ExpiresAt      *time.Time `bun:"expires_at,nullzero"`
	Scopes         []string   `bun:"scopes,type:jsonb,notnull"`
	Active         bool       `bun:"active,notnull"`
	LastSyncAt     *time.Time `bun:"last_sync_at,nullzero"`
	LastError      string     `bun:"last_error,notnull"`
	ConnectedAt    time.Time  `bun:"connected_at,notnull"`
	CreatedAt      time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
	DeletedAt      *time.Time `bun:"deleted_at,soft_delete"`
}

type handshakeRecord struct {
	bun.BaseModel `bun:"table:fitsync_pending_handshakes,alias:fph"`

	ProviderID         string    `bun:"provider_id,pk"`
	RequestToken       string    `bun:"request_token,pk"`
	UserID             string    `bun:"user_id,notnull"`
	RequestTokenSecret string    `bun:"request_token_secret,notnull"`
	CreatedAt          time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type metricRecord struct {
	bun.BaseModel `bun:"table:fitsync_metrics,alias:fm"`

	ID           string    `bun:"id,pk"`
	ConnectionID string    `bun:"connection_id,notnull"`
	UserID       string    `bun:"user_id,notnull"`
	ProviderID   string    `bun:"provider_id,notnull"`
	MetricDate   string    `bun:"metric_date,notnull"`
	MetricType   string    `bun:"metric_type,notnull"`
	Value        float64   `bun:"value,notnull"`
	Unit         string    `bun:"unit,notnull"`
	CreatedAt    time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt    time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type syncRecordRecord struct {
	bun.BaseModel `bun:"table:fitsync_sync_records,alias:fsr"`

	ID            string     `bun:"id,pk"`
	ConnectionID  string     `bun:"connection_id,notnull"`
	UserID        string     `bun:"user_id,notnull"`
	ProviderID    string     `bun:"provider_id,notnull"`
	Kind          string     `bun:"kind,notnull"`
	DataTypes     []string   `bun:"data_types,type:jsonb,notnull"`
	Status        string     `bun:"status,notnull"`
	RecordsSynced int        `bun:"records_synced,notnull"`
	RangeStart    *time.Time `bun:"range_start,nullzero"`
	RangeEnd      *time.Time `bun:"range_end,nullzero"`
	Error         string     `bun:"error,notnull"`
	StartedAt     time.Time  `bun:"started_at,notnull"`
	CompletedAt   *time.Time `bun:"completed_at,nullzero"`
	CreatedAt     time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
