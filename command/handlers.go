package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-fitsync/core"
	fsync "github.com/goliatone/go-fitsync/sync"
)

// ConnectionService is the OAuth flow surface. core.Service satisfies it.
type ConnectionService interface {
	Initiate(ctx context.Context, req core.InitiateRequest) (core.InitiateResult, error)
	Callback(ctx context.Context, req core.CallbackRequest) (core.CallbackResult, error)
	Disconnect(ctx context.Context, req core.DisconnectRequest) error
	PurgeExpiredHandshakes(ctx context.Context) (int, error)
}

type InitiateCommand struct {
	service ConnectionService
}

func NewInitiateCommand(service ConnectionService) *InitiateCommand {
	return &InitiateCommand{service: service}
}

func (c *InitiateCommand) Execute(ctx context.Context, msg InitiateMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: connection service is required")
	}
	out, err := c.service.Initiate(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

// CompleteCallbackCommand stores the callback result even when the flow
// ended in denied or error, so callers can always redirect.
type CompleteCallbackCommand struct {
	service ConnectionService
}

func NewCompleteCallbackCommand(service ConnectionService) *CompleteCallbackCommand {
	return &CompleteCallbackCommand{service: service}
}

func (c *CompleteCallbackCommand) Execute(ctx context.Context, msg CompleteCallbackMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: connection service is required")
	}
	out, err := c.service.Callback(ctx, msg.Request)
	storeResult(ctx, out)
	return err
}

type DisconnectCommand struct {
	service ConnectionService
}

func NewDisconnectCommand(service ConnectionService) *DisconnectCommand {
	return &DisconnectCommand{service: service}
}

func (c *DisconnectCommand) Execute(ctx context.Context, msg DisconnectMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: connection service is required")
	}
	return c.service.Disconnect(ctx, msg.Request)
}

type PurgeHandshakesCommand struct {
	service ConnectionService
}

func NewPurgeHandshakesCommand(service ConnectionService) *PurgeHandshakesCommand {
	return &PurgeHandshakesCommand{service: service}
}

func (c *PurgeHandshakesCommand) Execute(ctx context.Context, _ PurgeHandshakesMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: connection service is required")
	}
	purged, err := c.service.PurgeExpiredHandshakes(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, purged)
	return nil
}

type SyncCommand struct {
	syncer fsync.Syncer
}

func NewSyncCommand(syncer fsync.Syncer) *SyncCommand {
	return &SyncCommand{syncer: syncer}
}

func (c *SyncCommand) Execute(ctx context.Context, msg SyncMessage) error {
	if c == nil || c.syncer == nil {
		return commandDependencyError("command: syncer is required")
	}
	out, err := c.syncer.Sync(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
