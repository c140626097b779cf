package calc

import (
	"context"
	"sync"

	"github.com/woxQAQ/wasm-calc/internal/wasm"
	"go.uber.org/zap"
)

var (
	defaultOnce   sync.Once
	defaultLoader *Loader
	defaultErr    error
)

// Default returns the process-wide loader over the bundled module. It is
// built on first use with the global zap logger, bounds initialization by
// DefaultInitTimeout and lives until exit.
func Default() (*Loader, error) {
	defaultOnce.Do(func() {
		logger := zap.L()
		runtime, err := wasm.NewRuntime(context.Background(), logger, wasm.DefaultRuntimeConfig())
		if err != nil {
			defaultErr = &InitializationError{Module: ModuleName, Err: err}
			return
		}
		defaultLoader = NewLoader(runtime, logger, Options{InitTimeout: DefaultInitTimeout})
	})
	return defaultLoader, defaultErr
}

// Instantiate returns the calculator of the process-wide loader.
func Instantiate(ctx context.Context) (*Calculator, error) {
	l, err := Default()
	if err != nil {
		return nil, err
	}
	return l.Instantiate(ctx)
}
