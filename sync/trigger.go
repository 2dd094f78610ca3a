package sync

import (
	"context"
	stdsync "sync"
	"time"

	"github.com/goliatone/go-fitsync/core"
)

type Syncer interface {
	Sync(ctx context.Context, req SyncRequest) (core.SyncSuccess, error)
}

// GoroutineTrigger runs each triggered sync on its own goroutine, detached
// from the caller's cancellation.
type GoroutineTrigger struct {
	syncer   Syncer
	observer *core.Observer
	timeout  time.Duration
	wg       stdsync.WaitGroup
}

func NewGoroutineTrigger(syncer Syncer, observer *core.Observer, timeout time.Duration) *GoroutineTrigger {
	if observer == nil {
		observer = core.NewObserver("fitsync.trigger", nil, nil, nil)
	}
	return &GoroutineTrigger{syncer: syncer, observer: observer, timeout: timeout}
}

func (t *GoroutineTrigger) TriggerSync(ctx context.Context, conn core.Connection, kind core.SyncKind) error {
	if t == nil || t.syncer == nil {
		return core.NewError(core.KindConfiguration, "sync: trigger has no syncer")
	}
	detached := context.WithoutCancel(ctx)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		runCtx := detached
		if t.timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(detached, t.timeout)
			defer cancel()
		}
		defer func() {
			if recovered := recover(); recovered != nil {
				t.observer.Error(runCtx, "triggered sync panicked", map[string]any{
					"provider_id":   conn.ProviderID,
					"connection_id": conn.ID,
				})
			}
		}()
		// Sync logs its own outcome.
		_, _ = t.syncer.Sync(runCtx, SyncRequest{UserID: conn.UserID, ProviderID: conn.ProviderID, Kind: kind})
	}()
	return nil
}

// Wait blocks until every triggered sync has returned.
func (t *GoroutineTrigger) Wait() {
	t.wg.Wait()
}

var _ core.SyncTrigger = (*GoroutineTrigger)(nil)
