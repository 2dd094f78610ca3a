package gojob

import (
	"context"
	"fmt"
	"strings"
	stdsync "sync"
	"time"

	"github.com/goliatone/go-fitsync/core"
	fsync "github.com/goliatone/go-fitsync/sync"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

const (
	JobIDInitialSync   = "fitsync.sync.initial"
	JobIDAutomaticSync = "fitsync.sync.automatic"

	paramUserID       = "user_id"
	paramProviderID   = "provider_id"
	paramConnectionID = "connection_id"
	paramKind         = "sync_type"

	defaultPollInterval = time.Second
)

// RetryPolicy bounds sync job retries so a failing provider cannot loop.
type RetryPolicy struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     5,
		BaseDelay:       30 * time.Second,
		MaxDelay:        30 * time.Minute,
		DeadLetterOnMax: true,
	}
}

// NackFor returns the nack options for a failed attempt (1-based). Delays
// double per attempt up to MaxDelay; permanent failures are never requeued.
func (p RetryPolicy) NackFor(err error, attempt int) queue.NackOptions {
	opts := queue.NackOptions{Requeue: true}
	if err != nil {
		opts.Reason = strings.TrimSpace(err.Error())
	}
	if permanent(err) {
		return queue.NackOptions{DeadLetter: true, Reason: opts.Reason}
	}
	if p.BaseDelay > 0 && attempt > 0 {
		delay := p.BaseDelay
		for i := 1; i < attempt; i++ {
			delay *= 2
			if p.MaxDelay > 0 && delay >= p.MaxDelay {
				break
			}
		}
		opts.Delay = delay
	}
	if p.MaxDelay > 0 && opts.Delay > p.MaxDelay {
		opts.Delay = p.MaxDelay
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		opts.Requeue = false
		opts.Delay = 0
		opts.DeadLetter = p.DeadLetterOnMax
	}
	return opts
}

func permanent(err error) bool {
	switch core.KindOf(err) {
	case core.KindInvalidRequest, core.KindProviderNotFound, core.KindNotConnected, core.KindConfiguration:
		return true
	default:
		return false
	}
}

// ToExecutionMessage maps a sync request to a go-job message.
func ToExecutionMessage(req fsync.SyncRequest, connectionID string) *job.ExecutionMessage {
	kind := req.Kind
	if kind == "" {
		kind = core.SyncKindAutomatic
	}
	jobID := JobIDAutomaticSync
	if kind == core.SyncKindInitial {
		jobID = JobIDInitialSync
	}
	params := map[string]any{
		paramUserID:     strings.TrimSpace(req.UserID),
		paramProviderID: strings.TrimSpace(req.ProviderID),
		paramKind:       string(kind),
	}
	key := jobID + ":" + strings.TrimSpace(req.UserID) + ":" + strings.TrimSpace(req.ProviderID)
	if id := strings.TrimSpace(connectionID); id != "" {
		params[paramConnectionID] = id
		key = jobID + ":" + id
	}
	return &job.ExecutionMessage{
		JobID:          jobID,
		ScriptPath:     jobID,
		Parameters:     params,
		IdempotencyKey: key,
	}
}

// FromExecutionMessage maps a go-job message back into a sync request.
func FromExecutionMessage(msg *job.ExecutionMessage) (fsync.SyncRequest, error) {
	if msg == nil {
		return fsync.SyncRequest{}, core.NewError(core.KindInvalidRequest, "gojob: execution message is required")
	}
	req := fsync.SyncRequest{
		UserID:     stringParam(msg.Parameters, paramUserID),
		ProviderID: stringParam(msg.Parameters, paramProviderID),
		Kind:       core.SyncKind(stringParam(msg.Parameters, paramKind)),
	}
	switch strings.TrimSpace(msg.JobID) {
	case JobIDInitialSync, JobIDAutomaticSync:
	default:
		return req, core.NewError(core.KindInvalidRequest, fmt.Sprintf("gojob: unsupported job %q", msg.JobID))
	}
	if req.UserID == "" || req.ProviderID == "" {
		return req, core.NewError(core.KindInvalidRequest, "gojob: user_id and provider_id parameters are required")
	}
	return req, nil
}

func stringParam(params map[string]any, key string) string {
	value, ok := params[key]
	if !ok || value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

// QueueTrigger hands post-connect syncs to a go-job queue instead of running
// them in process.
type QueueTrigger struct {
	enqueuer queue.Enqueuer
}

func NewQueueTrigger(enqueuer queue.Enqueuer) *QueueTrigger {
	return &QueueTrigger{enqueuer: enqueuer}
}

func (t *QueueTrigger) TriggerSync(ctx context.Context, conn core.Connection, kind core.SyncKind) error {
	if t == nil || t.enqueuer == nil {
		return core.NewError(core.KindConfiguration, "gojob: enqueuer is not configured")
	}
	msg := ToExecutionMessage(fsync.SyncRequest{UserID: conn.UserID, ProviderID: conn.ProviderID, Kind: kind}, conn.ID)
	if err := t.enqueuer.Enqueue(ctx, msg); err != nil {
		return core.WrapError(core.KindInternal, err, "gojob: enqueue sync job")
	}
	return nil
}

// Worker drains sync jobs from a queue and runs them through a syncer.
type Worker struct {
	dequeuer     queue.Dequeuer
	syncer       fsync.Syncer
	policy       RetryPolicy
	hook         worker.Hook
	pollInterval time.Duration
	now          func() time.Time

	mu       stdsync.Mutex
	attempts map[string]int
}

type WorkerOption func(*Worker)

func WithRetryPolicy(policy RetryPolicy) WorkerOption {
	return func(w *Worker) {
		w.policy = policy
	}
}

func WithHook(hook worker.Hook) WorkerOption {
	return func(w *Worker) {
		if hook != nil {
			w.hook = hook
		}
	}
}

func WithPollInterval(interval time.Duration) WorkerOption {
	return func(w *Worker) {
		if interval > 0 {
			w.pollInterval = interval
		}
	}
}

func NewWorker(dequeuer queue.Dequeuer, syncer fsync.Syncer, opts ...WorkerOption) *Worker {
	w := &Worker{
		dequeuer:     dequeuer,
		syncer:       syncer,
		policy:       DefaultRetryPolicy(),
		hook:         NewObserverHook(nil),
		pollInterval: defaultPollInterval,
		now:          func() time.Time { return time.Now().UTC() },
		attempts:     map[string]int{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// Run processes deliveries until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil || w.dequeuer == nil || w.syncer == nil {
		return core.NewError(core.KindConfiguration, "gojob: worker requires a dequeuer and a syncer")
	}
	for {
		processed, err := w.ProcessNext(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil && processed {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.pollInterval):
		}
	}
}

// ProcessNext handles at most one delivery and reports whether one was
// available.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	if w == nil || w.dequeuer == nil || w.syncer == nil {
		return false, core.NewError(core.KindConfiguration, "gojob: worker requires a dequeuer and a syncer")
	}
	delivery, err := w.dequeuer.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if delivery == nil {
		return false, nil
	}
	msg := delivery.Message()
	key := attemptKey(msg)
	attempt := w.nextAttempt(key)
	startedAt := w.now()
	event := worker.Event{Message: msg, Delivery: delivery, Attempt: attempt, StartedAt: startedAt}
	w.hook.OnStart(ctx, event)

	runErr := w.run(ctx, msg)
	event.Duration = w.now().Sub(startedAt)
	if runErr == nil {
		w.clearAttempts(key)
		w.hook.OnSuccess(ctx, event)
		return true, delivery.Ack(ctx)
	}

	event.Err = runErr
	opts := w.policy.NackFor(runErr, attempt)
	if opts.Requeue {
		event.Delay = opts.Delay
		w.hook.OnRetry(ctx, event)
	} else {
		w.clearAttempts(key)
		w.hook.OnFailure(ctx, event)
	}
	return true, delivery.Nack(ctx, opts)
}

func (w *Worker) run(ctx context.Context, msg *job.ExecutionMessage) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = core.NewError(core.KindInternal, fmt.Sprintf("gojob: sync job panicked: %v", recovered))
		}
	}()
	req, err := FromExecutionMessage(msg)
	if err != nil {
		return err
	}
	_, err = w.syncer.Sync(ctx, req)
	return err
}

func (w *Worker) nextAttempt(key string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attempts[key]++
	return w.attempts[key]
}

func (w *Worker) clearAttempts(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.attempts, key)
}

func attemptKey(msg *job.ExecutionMessage) string {
	if msg == nil {
		return ""
	}
	if key := strings.TrimSpace(msg.IdempotencyKey); key != "" {
		return key
	}
	return strings.TrimSpace(msg.JobID) + fmt.Sprint(msg.Parameters)
}

// ObserverHook logs worker lifecycle events through a fitsync observer.
type ObserverHook struct {
	observer *core.Observer
}

func NewObserverHook(observer *core.Observer) *ObserverHook {
	if observer == nil {
		observer = core.NewObserver("fitsync.worker", nil, nil, nil)
	}
	return &ObserverHook{observer: observer}
}

func (h *ObserverHook) OnStart(context.Context, worker.Event) {}

func (h *ObserverHook) OnSuccess(ctx context.Context, event worker.Event) {
	h.observer.Info(ctx, "sync job completed", eventFields(event))
}

func (h *ObserverHook) OnFailure(ctx context.Context, event worker.Event) {
	h.observer.Error(ctx, "sync job failed permanently", eventFields(event))
}

func (h *ObserverHook) OnRetry(ctx context.Context, event worker.Event) {
	h.observer.Info(ctx, "sync job scheduled for retry", eventFields(event))
}

func eventFields(event worker.Event) map[string]any {
	fields := map[string]any{
		"attempt":     event.Attempt,
		"duration_ms": event.Duration.Milliseconds(),
	}
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	if message != nil {
		fields["job_id"] = message.JobID
		fields["provider_id"] = stringParam(message.Parameters, paramProviderID)
	}
	if event.Delay > 0 {
		fields["retry_in"] = event.Delay.String()
	}
	if event.Err != nil {
		fields["error"] = event.Err.Error()
	}
	return fields
}

var (
	_ core.SyncTrigger = (*QueueTrigger)(nil)
	_ worker.Hook      = (*ObserverHook)(nil)
)
