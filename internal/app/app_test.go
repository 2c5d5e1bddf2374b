package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cuerpobomberos/inventa/internal/session"
)

func newTestConfig(t *testing.T, baseURL string) *Config {
	t.Helper()
	cfg := &Config{
		Backend: BackendConfig{BaseURL: baseURL},
		Storage: StorageConfig{Type: StorageTypeFile, Dir: t.TempDir()},
	}
	if err := cfg.ApplyDefaults(); err != nil {
		t.Fatalf("ApplyDefaults: %v", err)
	}
	return cfg
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := newTestConfig(t, "http://127.0.0.1:8000/api/v1/")
	cfg.Storage.Type = "sqlite"
	if _, err := New(cfg); err == nil {
		t.Error("New should reject an invalid config")
	}
}

func TestRestoreAndInventory(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer A1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"count":1,"results":[{"id":3,"nombre":"Tercera"}]}`))
	}))
	t.Cleanup(backend.Close)

	cfg := newTestConfig(t, backend.URL+"/api/v1/")
	ctx := context.Background()

	// A previous run left a session on disk
	store, err := cfg.Storage.NewSecretStore()
	if err != nil {
		t.Fatalf("NewSecretStore: %v", err)
	}
	_ = store.Set(ctx, session.KeyRefreshToken, "R1")
	_ = store.Set(ctx, session.KeyAccessToken, "A1")

	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ok, err := a.Restore(ctx)
	if err != nil || !ok {
		t.Fatalf("Restore = %v, %v", ok, err)
	}

	stations, err := a.Inventory().Stations(ctx)
	if err != nil {
		t.Fatalf("Stations: %v", err)
	}
	if len(stations) != 1 {
		t.Errorf("stations = %s", stations)
	}
	if err := a.Close(ctx); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestStartServesGatewayUntilCancelled(t *testing.T) {
	cfg := newTestConfig(t, "http://127.0.0.1:1/api/v1/")
	cfg.Gateway.Port = freePort(t)

	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Start(ctx) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/healthz", cfg.Gateway.Port)
	var health map[string]any
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			_ = json.NewDecoder(resp.Body).Decode(&health)
			_ = resp.Body.Close()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if health["status"] != "ok" || health["authenticated"] != false {
		t.Errorf("healthz = %v", health)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Start did not return after cancellation")
	}
}

func freePort(t *testing.T) uint16 {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return uint16(l.Addr().(*net.TCPAddr).Port)
}
