package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

type ConnectionEventType string

const (
	EventConnected     ConnectionEventType = "connected"
	EventDenied        ConnectionEventType = "denied"
	EventDisconnected  ConnectionEventType = "disconnected"
	EventSyncSucceeded ConnectionEventType = "sync_succeeded"
	EventSyncFailed    ConnectionEventType = "sync_failed"
)

// ConnectionEvent reports a change in a user's provider connection.
type ConnectionEvent struct {
	Type         ConnectionEventType
	UserID       string
	ProviderID   string
	ConnectionID string
	SyncID       string
	Message      string
	OccurredAt   time.Time
}

type EventSink interface {
	Publish(ctx context.Context, event ConnectionEvent) error
}

type EventSinkFunc func(ctx context.Context, event ConnectionEvent) error

func (f EventSinkFunc) Publish(ctx context.Context, event ConnectionEvent) error {
	return f(ctx, event)
}

// EventFanout delivers each event to every registered sink. Sink failures
// are joined and returned; they never stop delivery to the other sinks.
type EventFanout struct {
	mu    sync.RWMutex
	sinks []EventSink
}

func NewEventFanout(sinks ...EventSink) *EventFanout {
	f := &EventFanout{}
	for _, sink := range sinks {
		f.Register(sink)
	}
	return f
}

func (f *EventFanout) Register(sink EventSink) {
	if f == nil || sink == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinks = append(f.sinks, sink)
}

func (f *EventFanout) Publish(ctx context.Context, event ConnectionEvent) error {
	if f == nil {
		return nil
	}
	f.mu.RLock()
	sinks := make([]EventSink, len(f.sinks))
	copy(sinks, f.sinks)
	f.mu.RUnlock()

	var sinkErr error
	for idx, sink := range sinks {
		if err := sink.Publish(ctx, event); err != nil {
			sinkErr = errors.Join(sinkErr, fmt.Errorf("event sink %d failed: %w", idx, err))
		}
	}
	return sinkErr
}

// LoggingEventSink writes each event as a structured log line.
type LoggingEventSink struct {
	Observer *Observer
}

func (s LoggingEventSink) Publish(ctx context.Context, event ConnectionEvent) error {
	if s.Observer == nil {
		return nil
	}
	s.Observer.Info(ctx, "connection event", map[string]any{
		"event":         string(event.Type),
		"user_id":       event.UserID,
		"provider_id":   event.ProviderID,
		"connection_id": event.ConnectionID,
		"sync_id":       event.SyncID,
		"message":       event.Message,
	})
	return nil
}

var (
	_ EventSink = (*EventFanout)(nil)
	_ EventSink = LoggingEventSink{}
	_ EventSink = EventSinkFunc(nil)
)
