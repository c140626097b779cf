package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/woxQAQ/wasm-calc/internal/calc"
	"github.com/woxQAQ/wasm-calc/internal/config"
	"go.uber.org/zap/zaptest"
)

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()

	if cfg == nil {
		var err error
		cfg, err = config.Load("")
		if err != nil {
			t.Fatalf("Failed to load config: %v", err)
		}
	}

	ctx := context.Background()
	srv, err := NewServer(ctx, cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewServer() failed: %v", err)
	}
	t.Cleanup(func() { srv.Close(ctx) })

	return srv
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestOperationEndpoint(t *testing.T) {
	h := newTestServer(t, nil).Handler()

	tests := []struct {
		target string
		op     calc.Operation
		want   int32
	}{
		{"/v1/sum?a=1&b=2", calc.OpSum, 3},
		{"/v1/subtract?a=1&b=2", calc.OpSubtract, -1},
		{"/v1/multiply?a=1&b=2", calc.OpMultiply, 2},
		{"/v1/divide?a=1&b=2", calc.OpDivide, 0},
		{"/v1/divide?a=-7&b=2", calc.OpDivide, -3},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec := get(t, h, tt.target)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
			}

			var res Result
			if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
				t.Fatal(err)
			}
			if res.Operation != tt.op || res.Result != tt.want {
				t.Errorf("got %+v, want %s = %d", res, tt.op, tt.want)
			}
		})
	}
}

func TestOperationEndpointErrors(t *testing.T) {
	h := newTestServer(t, nil).Handler()

	tests := []struct {
		target string
		status int
	}{
		{"/v1/divide?a=5&b=0", http.StatusUnprocessableEntity},
		{"/v1/divide?a=-2147483648&b=-1", http.StatusUnprocessableEntity},
		{"/v1/_initialize?a=1&b=2", http.StatusNotFound},
		{"/v1/sum?a=1", http.StatusBadRequest},
		{"/v1/sum?a=x&b=2", http.StatusBadRequest},
		{"/v1/sum?a=1&b=2147483648", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec := get(t, h, tt.target)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.status, rec.Body.String())
			}
			if !strings.Contains(rec.Body.String(), `"error"`) {
				t.Errorf("expected error body, got %s", rec.Body.String())
			}
		})
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)
	h := srv.Handler()

	rec := get(t, h, "/healthz")
	if !strings.Contains(rec.Body.String(), "loading") {
		t.Errorf("health before first request = %s, want loading", rec.Body.String())
	}

	if _, err := srv.Loader().Instantiate(context.Background()); err != nil {
		t.Fatal(err)
	}

	rec = get(t, h, "/healthz")
	if !strings.Contains(rec.Body.String(), "ready") {
		t.Errorf("health after load = %s, want ready", rec.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}

	if rec := get(t, newTestServer(t, cfg).Handler(), "/metrics"); rec.Code != http.StatusNotFound {
		t.Errorf("metrics disabled: status = %d, want 404", rec.Code)
	}

	cfg.MetricsEnabled = true
	h := newTestServer(t, cfg).Handler()

	get(t, h, "/v1/sum?a=1&b=1")

	rec := get(t, h, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "calc_operations_total") {
		t.Error("expected calc_operations_total in metrics output")
	}
}

func TestExternalModule(t *testing.T) {
	dir := t.TempDir()
	manifest := "name: ext\nversion: 1.0.0\nwasm:\n  file: ext.wasm\n"
	if err := os.WriteFile(filepath.Join(dir, calc.ManifestFile), []byte(manifest), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "ext.wasm"), calc.ModuleWASM, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.ModuleDir = dir

	srv := newTestServer(t, cfg)
	if srv.Loader().Module() != filepath.Join(dir, "ext.wasm") {
		t.Errorf("Module() = %s", srv.Loader().Module())
	}

	rec := get(t, srv.Handler(), "/v1/multiply?a=6&b=7")
	if !strings.Contains(rec.Body.String(), `"result":42`) {
		t.Errorf("body = %s, want result 42", rec.Body.String())
	}
}

func TestNewServerBadModuleDir(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.ModuleDir = t.TempDir()

	_, err = NewServer(context.Background(), cfg, zaptest.NewLogger(t))

	var notFound *calc.ManifestNotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("expected ManifestNotFoundError, got %v", err)
	}
}

func TestServeTCPShutdown(t *testing.T) {
	srv := newTestServer(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ServeTCP(ctx, 0) }()

	cancel()
	if err := <-errCh; err != nil {
		t.Errorf("ServeTCP() returned %v after cancel", err)
	}

	// Warm-up outlives the cancelled context; wait for it before the
	// test logger goes away.
	if _, err := srv.Loader().Instantiate(context.Background()); err != nil {
		t.Fatal(err)
	}
}
