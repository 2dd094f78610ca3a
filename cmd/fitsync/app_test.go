package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goliatone/go-fitsync/config"
	"github.com/goliatone/go-fitsync/core"
)

func testRuntime() config.Runtime {
	runtime := config.DefaultRuntime()
	runtime.Database.DSN = fmt.Sprintf("file:fitsync-app-%d?mode=memory&cache=shared&_foreign_keys=on", time.Now().UnixNano())
	return runtime
}

func TestNewApp_WiresServerAndScheduler(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.Providers = map[string]core.ProviderConfig{
		"strava": {ClientID: "c", ClientSecret: "s"},
	}
	cfg.Security.TokenKey = "0123456789abcdef0123456789abcdef"

	application, err := newApp(context.Background(), cfg, testRuntime(), io.Discard)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer application.Close()

	rec := httptest.NewRecorder()
	application.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected healthy server, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	application.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/connect/strava?user_id=U1", nil))
	if rec.Code != http.StatusFound {
		t.Fatalf("expected redirect for configured provider, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	application.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/connect/fitbit?user_id=U1", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected configuration error for provider without credentials, got %d", rec.Code)
	}

	report := application.scheduler.RunOnce(context.Background())
	if len(report.FailedProviders()) != 0 {
		t.Fatalf("expected empty fan-out to succeed, got %v", report.FailedProviders())
	}
}

func TestNewApp_RejectsInvalidSchedule(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.Sync.Schedule = "every other tuesday"
	if _, err := newApp(context.Background(), cfg, testRuntime(), io.Discard); core.KindOf(err) != core.KindConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
