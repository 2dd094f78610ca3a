// Package fitsync connects users' fitness provider accounts over OAuth1.0a
// and OAuth2 and keeps their daily metrics in sync.
package fitsync

import "github.com/goliatone/go-fitsync/core"

type Config = core.Config

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies
type ConnectionStore = core.ConnectionStore
type HandshakeStore = core.HandshakeStore
type MetricStore = core.MetricStore
type SyncRecordStore = core.SyncRecordStore
type StoreProvider = core.StoreProvider
type SyncTrigger = core.SyncTrigger
type EventSink = core.EventSink

type InitiateRequest = core.InitiateRequest
type CallbackRequest = core.CallbackRequest
type CallbackResult = core.CallbackResult
type DisconnectRequest = core.DisconnectRequest

type Connection = core.Connection
type Metric = core.Metric
type MetricType = core.MetricType
type SyncRecord = core.SyncRecord

var (
	WithLogger          = core.WithLogger
	WithLoggerProvider  = core.WithLoggerProvider
	WithMetricsRecorder = core.WithMetricsRecorder
	WithConfigProvider  = core.WithConfigProvider
	WithOptionsResolver = core.WithOptionsResolver
	WithRegistry        = core.WithRegistry
	WithConnectionStore = core.WithConnectionStore
	WithHandshakeStore  = core.WithHandshakeStore
	WithStores          = core.WithStores
	WithSyncTrigger     = core.WithSyncTrigger
	WithEventSink       = core.WithEventSink
	WithClock           = core.WithClock
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}
