package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/woxQAQ/wasm-calc/internal/calc"
	"github.com/woxQAQ/wasm-calc/internal/config"
	"github.com/woxQAQ/wasm-calc/internal/metrics"
	"github.com/woxQAQ/wasm-calc/internal/wasm"
	"go.uber.org/zap"
)

// Server exposes the calculator over HTTP.
type Server struct {
	cfg         *config.Config
	logger      *zap.Logger
	wasmRuntime *wasm.Runtime
	loader      *calc.Loader
}

// Result is the JSON body of a successful operation.
type Result struct {
	Operation calc.Operation `json:"operation"`
	A         int32          `json:"a"`
	B         int32          `json:"b"`
	Result    int32          `json:"result"`
}

type errorBody struct {
	Error string `json:"error"`
}

// NewServer creates the Wasm runtime and the calculator loader. The module
// itself is loaded on first use.
func NewServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Server, error) {
	wasmConfig := &wasm.RuntimeConfig{
		MemoryPages:  cfg.Wasm.MemoryPages,
		DebugEnabled: cfg.Wasm.Debug,
		CacheDir:     cfg.Wasm.CacheDir,
		MaxInstances: cfg.Wasm.MaxInstances,
	}

	wasmRuntime, err := wasm.NewRuntime(ctx, logger, wasmConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Wasm runtime: %w", err)
	}

	opts := calc.Options{}
	if cfg.ModuleDir != "" {
		manifest, err := calc.ParseManifest(cfg.ModuleDir)
		if err != nil {
			_ = wasmRuntime.Close(ctx)
			return nil, err
		}
		opts = calc.OptionsFromManifest(manifest)

		logger.Info("Using external calculator module",
			zap.String("name", manifest.Name),
			zap.String("version", manifest.Version),
			zap.String("wasm", manifest.WasmPath()),
		)
	}
	opts.InitTimeout = cfg.Wasm.InitTimeout

	return &Server{
		cfg:         cfg,
		logger:      logger.With(zap.String("component", "http-server")),
		wasmRuntime: wasmRuntime,
		loader:      calc.NewLoader(wasmRuntime, logger, opts),
	}, nil
}

// Loader returns the server's calculator loader.
func (s *Server) Loader() *calc.Loader {
	return s.loader
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/{op}", s.handleOperation)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.cfg.MetricsEnabled {
		mux.Handle("GET /metrics", metrics.Handler())
	}
	return mux
}

// ServeTCP serves HTTP on port until ctx is cancelled. The calculator
// module is warmed in the background so the first request rarely waits.
func (s *Server) ServeTCP(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(port)),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	var wg conc.WaitGroup
	defer wg.Wait()

	wg.Go(func() {
		if _, err := s.loader.Instantiate(ctx); err != nil {
			s.logger.Warn("Calculator warm-up failed", zap.Error(err))
		}
	})

	wg.Go(func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("HTTP shutdown failed", zap.Error(err))
		}
	})

	s.logger.Info("Serving HTTP", zap.Int("port", port))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close gracefully shuts down the server.
func (s *Server) Close(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")

	if err := s.wasmRuntime.Close(ctx); err != nil {
		s.logger.Error("Failed to shutdown Wasm runtime", zap.Error(err))
		return err
	}

	s.logger.Info("HTTP server shutdown complete")
	return nil
}

func (s *Server) handleOperation(w http.ResponseWriter, r *http.Request) {
	op, err := calc.ParseOperation(r.PathValue("op"))
	if err != nil {
		s.writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
		return
	}

	a, err := queryInt32(r, "a")
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	b, err := queryInt32(r, "b")
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	calculator, err := s.loader.Instantiate(r.Context())
	if err != nil {
		s.logger.Error("Calculator unavailable", zap.Error(err))
		s.writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error()})
		return
	}

	result, err := calculator.Call(r.Context(), op, a, b)
	if err != nil {
		s.writeJSON(w, statusFor(err), errorBody{Error: err.Error()})
		return
	}

	s.logger.Debug("Operation evaluated",
		zap.String("operation", string(op)),
		zap.Int32("a", a),
		zap.Int32("b", b),
		zap.Int32("result", result),
	)

	s.writeJSON(w, http.StatusOK, Result{Operation: op, A: a, B: b, Result: result})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "loading"
	if s.loader.Ready() {
		status = "ready"
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("Failed to write response", zap.Error(err))
	}
}

func statusFor(err error) int {
	var (
		divErr      *calc.DivisionByZeroError
		overflowErr *calc.OverflowError
	)
	if errors.As(err, &divErr) || errors.As(err, &overflowErr) {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func queryInt32(r *http.Request, name string) (int32, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, fmt.Errorf("missing query parameter %q", name)
	}
	v, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("query parameter %q: %w", name, err)
	}
	return int32(v), nil
}
