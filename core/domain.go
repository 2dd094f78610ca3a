package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// DateLayout is the calendar date format used for metric keys.
const DateLayout = "2006-01-02"

type Protocol string

const (
	ProtocolOAuth1 Protocol = "oauth1"
	ProtocolOAuth2 Protocol = "oauth2"
)

type MetricType string

const (
	MetricSteps            MetricType = "steps"
	MetricRestingHeartRate MetricType = "resting_heart_rate"
	MetricActiveHeartRate  MetricType = "active_heart_rate"
	MetricSleepMinutes     MetricType = "sleep_minutes"
	MetricCalories         MetricType = "calories"
	MetricDistance         MetricType = "distance"
	MetricActiveMinutes    MetricType = "active_minutes"
	MetricStressScore      MetricType = "stress_score"
	MetricRecoveryScore    MetricType = "recovery_score"
	MetricWorkouts         MetricType = "workouts"
)

var metricUnits = map[MetricType]string{
	MetricSteps:            "count",
	MetricRestingHeartRate: "bpm",
	MetricActiveHeartRate:  "bpm",
	MetricSleepMinutes:     "min",
	MetricCalories:         "kcal",
	MetricDistance:         "km",
	MetricActiveMinutes:    "min",
	MetricStressScore:      "score",
	MetricRecoveryScore:    "score",
	MetricWorkouts:         "count",
}

// Unit returns the canonical unit for the metric type, empty when unknown.
func (t MetricType) Unit() string {
	return metricUnits[t]
}

// Normalize rounds v to the stored precision: two decimals for distance,
// whole numbers otherwise.
func (t MetricType) Normalize(v float64) float64 {
	if t == MetricDistance {
		return math.Round(v*100) / 100
	}
	return math.Round(v)
}

func (t MetricType) Valid() bool {
	_, ok := metricUnits[t]
	return ok
}

// MetricTypes lists the canonical vocabulary in a stable order.
func MetricTypes() []MetricType {
	return []MetricType{
		MetricSteps,
		MetricRestingHeartRate,
		MetricActiveHeartRate,
		MetricSleepMinutes,
		MetricCalories,
		MetricDistance,
		MetricActiveMinutes,
		MetricStressScore,
		MetricRecoveryScore,
		MetricWorkouts,
	}
}

type SyncKind string

const (
	SyncKindInitial   SyncKind = "initial"
	SyncKindAutomatic SyncKind = "automatic"
)

func (k SyncKind) Valid() bool {
	return k == SyncKindInitial || k == SyncKindAutomatic
}

type SyncStatus string

const (
	SyncStatusInProgress SyncStatus = "in_progress"
	SyncStatusSuccess    SyncStatus = "success"
	SyncStatusFailed     SyncStatus = "failed"
)

var (
	ErrInvalidSyncTransition = errors.New("core: invalid sync record transition")
	ErrRefreshUnsupported    = errors.New("core: provider does not support token refresh")
	ErrRevokeUnsupported     = errors.New("core: provider does not support token revocation")
)

// Connection is the credential record for one user on one provider.
type Connection struct {
	ID             string
	UserID         string
	ProviderID     string
	ExternalUserID string
	AccessToken    string
	RefreshToken   string
	TokenSecret    string
	TokenType      string
	ExpiresAt      *time.Time
	Scopes         []string
	Active         bool
	LastSyncAt     *time.Time
	LastError      string
	ConnectedAt    time.Time
	UpdatedAt      time.Time
}

// Expired reports whether the access token must be refreshed before use.
// Connections without an expiry never expire.
func (c Connection) Expired(now time.Time, skew time.Duration) bool {
	if c.ExpiresAt == nil || c.ExpiresAt.IsZero() {
		return false
	}
	return !c.ExpiresAt.After(now.Add(skew))
}

// PendingHandshake holds an OAuth1.0a request token secret between the
// request-token step and the callback.
type PendingHandshake struct {
	UserID             string
	ProviderID         string
	RequestToken       string
	RequestTokenSecret string
	CreatedAt          time.Time
}

func (h PendingHandshake) Expired(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 || h.CreatedAt.IsZero() {
		return false
	}
	return now.After(h.CreatedAt.Add(ttl))
}

type Metric struct {
	ID           string
	ConnectionID string
	UserID       string
	ProviderID   string
	Date         time.Time
	Type         MetricType
	Value        float64
	Unit         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewMetric builds an unattributed metric for day with the canonical unit
// and precision applied.
func NewMetric(day time.Time, metricType MetricType, value float64) Metric {
	return Metric{
		Date:  TruncateDay(day),
		Type:  metricType,
		Value: metricType.Normalize(value),
		Unit:  metricType.Unit(),
	}
}

// Key is the idempotency key of a metric row.
func (m Metric) Key() string {
	return m.ConnectionID + "|" + m.Date.Format(DateLayout) + "|" + string(m.Type)
}

type SyncRecord struct {
	ID            string
	ConnectionID  string
	UserID        string
	ProviderID    string
	Kind          SyncKind
	DataTypes     []string
	Status        SyncStatus
	RecordsSynced int
	RangeStart    *time.Time
	RangeEnd      *time.Time
	Error         string
	StartedAt     time.Time
	CompletedAt   *time.Time
}

// Complete moves an in-progress record to a terminal status. A record is
// mutated at most once after creation.
func (r *SyncRecord) Complete(status SyncStatus, at time.Time) error {
	if r == nil {
		return fmt.Errorf("core: sync record is nil")
	}
	if r.Status != SyncStatusInProgress {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidSyncTransition, r.Status, status)
	}
	if status != SyncStatusSuccess && status != SyncStatusFailed {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidSyncTransition, r.Status, status)
	}
	completed := at.UTC()
	r.Status = status
	r.CompletedAt = &completed
	return nil
}

// DateRange is an inclusive range of UTC calendar days.
type DateRange struct {
	Start time.Time
	End   time.Time
}

func NewDateRange(start time.Time, end time.Time) DateRange {
	return DateRange{Start: TruncateDay(start), End: TruncateDay(end)}
}

// Days returns each calendar day in the range, oldest first.
func (r DateRange) Days() []time.Time {
	if r.Start.IsZero() || r.End.IsZero() || r.End.Before(r.Start) {
		return nil
	}
	days := []time.Time{}
	for day := TruncateDay(r.Start); !day.After(r.End); day = day.AddDate(0, 0, 1) {
		days = append(days, day)
	}
	return days
}

func (r DateRange) Contains(day time.Time) bool {
	day = TruncateDay(day)
	return !day.Before(r.Start) && !day.After(r.End)
}

func (r DateRange) String() string {
	return r.Start.Format(DateLayout) + ".." + r.End.Format(DateLayout)
}

// TruncateDay returns midnight UTC of the calendar day t falls on in UTC.
func TruncateDay(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD calendar date, ignoring any time suffix.
func ParseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if len(value) > len(DateLayout) {
		value = value[:len(DateLayout)]
	}
	day, err := time.Parse(DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("core: invalid calendar date %q: %w", value, err)
	}
	return day, nil
}

// RawRecord is one provider payload, attributed to the day it describes.
type RawRecord struct {
	Source  string
	Date    time.Time
	Payload json.RawMessage
}

// TokenSet is the normalized token endpoint response.
type TokenSet struct {
	AccessToken    string
	RefreshToken   string
	TokenSecret    string
	TokenType      string
	ExpiresIn      int64
	ExpiresAt      *time.Time
	Scopes         []string
	ExternalUserID string
	Raw            map[string]any
}
