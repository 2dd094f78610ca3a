package fitsync

import (
	"context"
	"testing"

	gocmd "github.com/goliatone/go-command"
	fitcommand "github.com/goliatone/go-fitsync/command"
	"github.com/goliatone/go-fitsync/core"
	fitquery "github.com/goliatone/go-fitsync/query"
	"github.com/goliatone/go-fitsync/store/memory"
	fsync "github.com/goliatone/go-fitsync/sync"
)

type stubFacadeService struct {
	registry         core.Registry
	lastDisconnected core.DisconnectRequest
}

func (s *stubFacadeService) Initiate(_ context.Context, req core.InitiateRequest) (core.InitiateResult, error) {
	return core.InitiateResult{ProviderID: req.ProviderID, Protocol: core.ProtocolOAuth2, URL: "https://auth.example"}, nil
}

func (s *stubFacadeService) Callback(_ context.Context, req core.CallbackRequest) (core.CallbackResult, error) {
	return core.CallbackResult{ProviderID: req.ProviderID, Status: core.CallbackConnected}, nil
}

func (s *stubFacadeService) Disconnect(_ context.Context, req core.DisconnectRequest) error {
	s.lastDisconnected = req
	return nil
}

func (s *stubFacadeService) PurgeExpiredHandshakes(context.Context) (int, error) {
	return 0, nil
}

func (s *stubFacadeService) Dependencies() core.ServiceDependencies {
	return core.ServiceDependencies{Registry: s.registry}
}

type stubFacadeSyncer struct {
	last fsync.SyncRequest
}

func (s *stubFacadeSyncer) Sync(_ context.Context, req fsync.SyncRequest) (core.SyncSuccess, error) {
	s.last = req
	return core.SyncSuccess{RecordsSynced: 2}, nil
}

type namedProvider struct {
	core.Provider
	id string
}

func (p namedProvider) ID() string { return p.id }

func newFacadeFixture(t *testing.T) (*Facade, *stubFacadeService, *stubFacadeSyncer, *memory.Store) {
	t.Helper()
	registry := core.NewProviderRegistry()
	if err := registry.Register(namedProvider{id: "oura"}); err != nil {
		t.Fatalf("register provider: %v", err)
	}
	svc := &stubFacadeService{registry: registry}
	syncer := &stubFacadeSyncer{}
	store := memory.New()
	facade, err := NewFacade(svc, syncer, store)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	return facade, svc, syncer, store
}

func TestNewFacade_WiresCommandsAndQueries(t *testing.T) {
	facade, _, _, _ := newFacadeFixture(t)

	commands := facade.Commands()
	if commands.Initiate == nil || commands.CompleteCallback == nil || commands.Disconnect == nil || commands.Sync == nil || commands.PurgeHandshakes == nil {
		t.Fatalf("expected command handlers to be wired")
	}
	queries := facade.Queries()
	if queries.ConnectionStatus == nil || queries.ConnectionStatuses == nil || queries.ListMetrics == nil || queries.SyncHistory == nil {
		t.Fatalf("expected query handlers to be wired")
	}
}

func TestFacade_CommandAndQueryDelegation(t *testing.T) {
	facade, svc, syncer, store := newFacadeFixture(t)
	ctx := context.Background()

	if err := facade.Commands().Disconnect.Execute(ctx, fitcommand.DisconnectMessage{
		Request: core.DisconnectRequest{ProviderID: "oura", UserID: "U1"},
	}); err != nil {
		t.Fatalf("execute disconnect: %v", err)
	}
	if svc.lastDisconnected.ProviderID != "oura" || svc.lastDisconnected.UserID != "U1" {
		t.Fatalf("unexpected disconnect delegation %+v", svc.lastDisconnected)
	}

	collector := gocmd.NewResult[core.SyncSuccess]()
	if err := facade.Commands().Sync.Execute(gocmd.ContextWithResult(ctx, collector), fitcommand.SyncMessage{
		Request: fsync.SyncRequest{UserID: "U1", ProviderID: "oura", Kind: core.SyncKindAutomatic},
	}); err != nil {
		t.Fatalf("execute sync: %v", err)
	}
	if result, ok := collector.Load(); !ok || result.RecordsSynced != 2 || syncer.last.ProviderID != "oura" {
		t.Fatalf("unexpected sync delegation %+v %+v", result, syncer.last)
	}

	if _, err := store.ConnectionStore().Upsert(ctx, core.UpsertConnectionInput{
		UserID:     "U1",
		ProviderID: "oura",
		Token:      core.TokenSet{AccessToken: "at"},
	}); err != nil {
		t.Fatalf("seed connection: %v", err)
	}
	statuses, err := facade.Queries().ConnectionStatuses.Query(ctx, fitquery.ConnectionStatusesMessage{UserID: "U1"})
	if err != nil {
		t.Fatalf("query statuses: %v", err)
	}
	if len(statuses) != 1 || !statuses[0].Connected {
		t.Fatalf("unexpected statuses %#v", statuses)
	}
}

func TestNewFacade_RequiresDependencies(t *testing.T) {
	if facade, err := NewFacade(nil, &stubFacadeSyncer{}, memory.New()); err == nil || facade != nil {
		t.Fatalf("expected nil service error")
	}
	if _, err := NewFacade(&stubFacadeService{registry: core.NewProviderRegistry()}, nil, memory.New()); err == nil {
		t.Fatalf("expected nil syncer error")
	}
	if _, err := NewFacade(&stubFacadeService{}, &stubFacadeSyncer{}, memory.New()); err == nil {
		t.Fatalf("expected missing registry error")
	}
}

var _ CommandQueryService = (*stubFacadeService)(nil)
