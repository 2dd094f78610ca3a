package gocommand

import (
	"context"
	"errors"
	"testing"

	"github.com/goliatone/go-command"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"

	fitsync "github.com/goliatone/go-fitsync"
	fitcommand "github.com/goliatone/go-fitsync/command"
	"github.com/goliatone/go-fitsync/core"
	fitquery "github.com/goliatone/go-fitsync/query"
	"github.com/goliatone/go-fitsync/store/memory"
	fsync "github.com/goliatone/go-fitsync/sync"
)

type okMessage struct{}

func (okMessage) Type() string { return "fitsync.command.ok" }

type invalidMessage struct{}

func (invalidMessage) Type() string { return "" }

type failingMessage struct{}

func (failingMessage) Type() string { return "fitsync.command.fail" }

func (failingMessage) Validate() error { return errors.New("invalid payload") }

type dispatchMessage struct {
	ID string
}

func (dispatchMessage) Type() string { return "fitsync.command.test" }

type queueMessage struct{}

func (queueMessage) Type() string { return "fitsync.command.queue" }

func TestValidateMessageContract(t *testing.T) {
	if err := ValidateMessageContract(okMessage{}); err != nil {
		t.Fatalf("expected valid message, got %v", err)
	}
	if err := ValidateMessageContract(invalidMessage{}); err == nil {
		t.Fatalf("expected empty type to fail contract validation")
	}
	if err := ValidateMessageContract(failingMessage{}); err == nil {
		t.Fatalf("expected Validate() failure to bubble")
	}
}

func TestRegistryAndDispatchWiring(t *testing.T) {
	adapter := NewRegistryAdapter(command.NewRegistry())
	executed := 0
	customResolverCalled := 0

	cmd := command.CommandFunc[dispatchMessage](func(context.Context, dispatchMessage) error {
		executed++
		return nil
	})

	if _, err := RegisterAndSubscribe(adapter, cmd); err != nil {
		t.Fatalf("register and subscribe: %v", err)
	}
	if err := adapter.AddResolver("custom", func(any, command.CommandMeta, *command.Registry) error {
		customResolverCalled++
		return nil
	}); err != nil {
		t.Fatalf("add resolver: %v", err)
	}
	if !adapter.HasResolver("custom") {
		t.Fatalf("expected custom resolver to be registered")
	}
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}
	if customResolverCalled == 0 {
		t.Fatalf("expected resolver hook to run during initialization")
	}

	if err := Dispatch(context.Background(), dispatchMessage{ID: "m1"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if executed != 1 {
		t.Fatalf("expected command execution count=1, got %d", executed)
	}
}

func TestQueueResolverHookWiring(t *testing.T) {
	adapter := NewRegistryAdapter(command.NewRegistry())
	queueRegistry := jobqueuecommand.NewRegistry()

	cmd := command.CommandFunc[queueMessage](func(context.Context, queueMessage) error { return nil })

	if err := adapter.AddQueueResolver("queue", queueRegistry); err != nil {
		t.Fatalf("add queue resolver: %v", err)
	}
	if err := adapter.RegisterCommand(cmd); err != nil {
		t.Fatalf("register command: %v", err)
	}
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}

	if _, ok := queueRegistry.Get("fitsync.command.queue"); !ok {
		t.Fatalf("expected command to be mirrored into queue registry")
	}
}

type facadeService struct {
	registry     core.Registry
	disconnected []core.DisconnectRequest
}

func (s *facadeService) Initiate(_ context.Context, req core.InitiateRequest) (core.InitiateResult, error) {
	return core.InitiateResult{ProviderID: req.ProviderID, URL: "https://auth.example"}, nil
}

func (s *facadeService) Callback(_ context.Context, req core.CallbackRequest) (core.CallbackResult, error) {
	return core.CallbackResult{ProviderID: req.ProviderID, Status: core.CallbackConnected}, nil
}

func (s *facadeService) Disconnect(_ context.Context, req core.DisconnectRequest) error {
	s.disconnected = append(s.disconnected, req)
	return nil
}

func (s *facadeService) PurgeExpiredHandshakes(context.Context) (int, error) { return 0, nil }

func (s *facadeService) Dependencies() core.ServiceDependencies {
	return core.ServiceDependencies{Registry: s.registry}
}

type facadeSyncer struct{}

func (facadeSyncer) Sync(context.Context, fsync.SyncRequest) (core.SyncSuccess, error) {
	return core.SyncSuccess{}, nil
}

type facadeProvider struct {
	core.Provider
}

func (facadeProvider) ID() string { return "fitbit" }

func TestRegisterFacade_RoutesCommandsAndQueries(t *testing.T) {
	registry := core.NewProviderRegistry()
	if err := registry.Register(facadeProvider{}); err != nil {
		t.Fatalf("register provider: %v", err)
	}
	svc := &facadeService{registry: registry}
	facade, err := fitsync.NewFacade(svc, facadeSyncer{}, memory.New())
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}

	adapter := NewRegistryAdapter(command.NewRegistry())
	subscriptions, err := RegisterFacade(adapter, facade)
	if err != nil {
		t.Fatalf("register facade: %v", err)
	}
	defer subscriptions.Unsubscribe()
	if len(subscriptions) != 9 {
		t.Fatalf("expected nine subscriptions, got %d", len(subscriptions))
	}
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}

	if err := Dispatch(context.Background(), fitcommand.DisconnectMessage{
		Request: core.DisconnectRequest{ProviderID: "fitbit", UserID: "U1"},
	}); err != nil {
		t.Fatalf("dispatch disconnect: %v", err)
	}
	if len(svc.disconnected) != 1 || svc.disconnected[0].UserID != "U1" {
		t.Fatalf("expected disconnect through dispatcher, got %+v", svc.disconnected)
	}

	statuses, err := Query[fitquery.ConnectionStatusesMessage, []fitquery.ConnectionStatus](
		context.Background(),
		fitquery.ConnectionStatusesMessage{UserID: "U1"},
	)
	if err != nil {
		t.Fatalf("query statuses: %v", err)
	}
	if len(statuses) != 1 || statuses[0].ProviderID != "fitbit" || statuses[0].Connected {
		t.Fatalf("unexpected statuses %#v", statuses)
	}

	if _, err := RegisterFacade(adapter, nil); err == nil {
		t.Fatalf("expected nil facade error")
	}
}
