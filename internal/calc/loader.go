package calc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/woxQAQ/wasm-calc/internal/metrics"
	"github.com/woxQAQ/wasm-calc/internal/wasm"
	"go.uber.org/zap"
)

// DefaultInitTimeout bounds initialization of the process-wide loader. It
// matches the wasm.init_timeout configuration default.
const DefaultInitTimeout = 10 * time.Second

// Options configures a Loader.
type Options struct {
	// Source of the module binary. Nil selects the bundled module.
	Source wasm.ModuleSource

	// WASI instantiates wasi_snapshot_preview1 before the module.
	WASI bool

	// InitFunction overrides the bootstrap export.
	InitFunction string

	// InitTimeout bounds initialization. Zero means unbounded.
	InitTimeout time.Duration
}

// OptionsFromManifest returns loader options for an external module.
func OptionsFromManifest(m *Manifest) Options {
	return Options{
		Source:       &wasm.FileModuleSource{Path: m.WasmPath()},
		WASI:         m.Wasm.WASI,
		InitFunction: m.Wasm.Init,
	}
}

// Loader lazily initializes a calculator module exactly once and hands the
// resulting Calculator to every caller.
type Loader struct {
	runtime   *wasm.Runtime
	modules   *wasm.ModuleLoader
	instances *wasm.InstanceManager
	opts      Options
	logger    *zap.Logger

	mu      sync.Mutex
	started bool

	// done is closed once calc or err is set; both are read-only afterwards.
	done chan struct{}
	calc *Calculator
	err  error

	loads atomic.Int64
}

// NewLoader creates a loader. No work happens until the first Instantiate.
func NewLoader(runtime *wasm.Runtime, logger *zap.Logger, opts Options) *Loader {
	if opts.Source == nil {
		opts.Source = &wasm.MemoryModuleSource{ModuleName: ModuleName, Data: ModuleWASM}
	}

	return &Loader{
		runtime:   runtime,
		modules:   wasm.NewModuleLoader(runtime, logger),
		instances: wasm.NewInstanceManager(runtime, logger),
		opts:      opts,
		logger:    logger.With(zap.String("component", "calc-loader")),
		done:      make(chan struct{}),
	}
}

// Instantiate returns the calculator, starting initialization on the first
// call and blocking until it completes. Concurrent callers share a single
// initialization. A failed initialization is not retried; every caller gets
// the same *InitializationError.
//
// Cancelling ctx only stops this caller from waiting; initialization keeps
// running for the others.
func (l *Loader) Instantiate(ctx context.Context) (*Calculator, error) {
	l.mu.Lock()
	if !l.started {
		l.started = true
		go l.initialize(context.WithoutCancel(ctx))
	}
	l.mu.Unlock()

	select {
	case <-l.done:
		return l.calc, l.err
	default:
	}

	select {
	case <-l.done:
		return l.calc, l.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ready reports whether initialization has finished, successfully or not.
func (l *Loader) Ready() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// Loads returns how many times initialization has run. It never exceeds 1.
func (l *Loader) Loads() int64 {
	return l.loads.Load()
}

// Module returns the name of the module source.
func (l *Loader) Module() string {
	return l.opts.Source.Name()
}

func (l *Loader) initialize(ctx context.Context) {
	defer close(l.done)

	l.loads.Add(1)
	name := l.opts.Source.Name()
	start := time.Now()

	if l.opts.InitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.opts.InitTimeout)
		defer cancel()
	}

	l.logger.Info("Initializing calculator module",
		zap.String("module", name),
		zap.Bool("wasi", l.opts.WASI),
	)

	calc, err := l.load(ctx)
	duration := time.Since(start)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", &wasm.TimeoutError{Duration: l.opts.InitTimeout}, err)
		}
		l.err = &InitializationError{Module: name, Err: err}
		metrics.RecordModuleLoad(name, "error", duration.Seconds())
		l.logger.Error("Calculator module initialization failed",
			zap.String("module", name),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return
	}

	l.calc = calc
	metrics.RecordModuleLoad(name, "success", duration.Seconds())
	l.logger.Info("Calculator module ready",
		zap.String("module", name),
		zap.Duration("duration", duration),
	)
}

func (l *Loader) load(ctx context.Context) (*Calculator, error) {
	if l.opts.WASI {
		if err := l.runtime.EnableWASI(ctx); err != nil {
			return nil, err
		}
	}

	compiled, err := l.modules.LoadModule(ctx, l.opts.Source)
	if err != nil {
		return nil, err
	}

	instance, err := l.instances.Instantiate(ctx, &wasm.InstanceConfig{
		ModuleName:   compiled.Name,
		Exports:      exportNames(),
		InitFunction: l.opts.InitFunction,
	})
	if err != nil {
		return nil, err
	}

	calc, err := newCalculator(instance)
	if err != nil {
		_ = instance.Close(ctx)
		return nil, err
	}

	return calc, nil
}
