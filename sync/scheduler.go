package sync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-fitsync/core"
	"github.com/robfig/cron/v3"
)

const DefaultSchedule = "@every 1h"

// HandshakePurger drops stale pending handshakes. core.Service satisfies it.
type HandshakePurger interface {
	PurgeExpiredHandshakes(ctx context.Context) (int, error)
}

type SchedulerOption func(*Scheduler)

func WithHandshakePurger(purger HandshakePurger) SchedulerOption {
	return func(s *Scheduler) {
		s.purger = purger
	}
}

func WithSchedulerObserver(observer *core.Observer) SchedulerOption {
	return func(s *Scheduler) {
		if observer != nil {
			s.observer = observer
		}
	}
}

// WithReportHandler receives every fan-out report, after it is logged.
func WithReportHandler(handler func(FanOutReport)) SchedulerOption {
	return func(s *Scheduler) {
		s.onReport = handler
	}
}

// Scheduler invokes the fan-out on a cron schedule. Ticks are not
// serialized: a slow run can overlap the next one.
type Scheduler struct {
	cron     *cron.Cron
	fanOut   *FanOut
	purger   HandshakePurger
	observer *core.Observer
	onReport func(FanOutReport)
	schedule string
	entryID  cron.EntryID
}

func NewScheduler(schedule string, fanOut *FanOut, opts ...SchedulerOption) (*Scheduler, error) {
	if fanOut == nil {
		return nil, core.NewError(core.KindConfiguration, "sync: scheduler requires a fan-out")
	}
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		schedule = DefaultSchedule
	}
	scheduler := &Scheduler{
		cron:     cron.New(cron.WithLocation(time.UTC)),
		fanOut:   fanOut,
		observer: core.NewObserver("fitsync.scheduler", nil, nil, nil),
		schedule: schedule,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(scheduler)
		}
	}
	entryID, err := scheduler.cron.AddFunc(schedule, func() {
		scheduler.RunOnce(context.Background())
	})
	if err != nil {
		return nil, core.WrapError(core.KindConfiguration, err, fmt.Sprintf("sync: invalid schedule %q", schedule))
	}
	scheduler.entryID = entryID
	return scheduler, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.observer.Info(context.Background(), "sync scheduler started", map[string]any{"schedule": s.schedule})
}

// Stop halts the schedule and waits for a running tick until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next reports the next scheduled tick, zero before Start.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entryID).Next
}

// RunOnce performs one tick: the provider fan-out followed by the
// pending handshake purge.
func (s *Scheduler) RunOnce(ctx context.Context) (report FanOutReport) {
	defer func() {
		if recovered := recover(); recovered != nil {
			s.observer.Error(ctx, "scheduled sync panicked", map[string]any{"panic": fmt.Sprint(recovered)})
		}
	}()
	report = s.fanOut.Run(ctx)
	if s.purger != nil {
		if _, err := s.purger.PurgeExpiredHandshakes(ctx); err != nil {
			s.observer.Error(ctx, "purge pending handshakes failed", map[string]any{"error": err.Error()})
		}
	}
	if s.onReport != nil {
		s.onReport(report)
	}
	return report
}
