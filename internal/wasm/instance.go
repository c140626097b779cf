package wasm

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

// InitializeExport is the reactor bootstrap export called after instantiation.
const InitializeExport = "_initialize"

// InstanceManager creates and manages module instances.
type InstanceManager struct {
	runtime *Runtime
	logger  *zap.Logger
}

// NewInstanceManager creates a new instance manager.
func NewInstanceManager(runtime *Runtime, logger *zap.Logger) *InstanceManager {
	return &InstanceManager{
		runtime: runtime,
		logger:  logger.With(zap.String("component", "wasm-instance")),
	}
}

// InstanceConfig holds configuration for creating instances.
type InstanceConfig struct {
	// Module name to instantiate.
	ModuleName string

	// Instance ID (if empty, one is generated).
	InstanceID string

	// Exports lists the functions the instance exposes. Every name must be
	// exported by the module; anything else the module exports stays hidden.
	Exports []string

	// InitFunction is called once after instantiation when the module
	// exports it. Empty means InitializeExport.
	InitFunction string
}

// Instance represents an instantiated Wasm module.
type Instance struct {
	module  api.Module
	runtime *Runtime

	ID   string
	Name string

	// Allow-listed exported functions.
	exports map[string]api.Function
}

// Instantiate creates a new instance from a compiled module.
func (m *InstanceManager) Instantiate(ctx context.Context, config *InstanceConfig) (*Instance, error) {
	if m.runtime.IsClosed() {
		return nil, &InstantiationError{ModuleName: config.ModuleName, Err: ErrRuntimeClosed}
	}

	compiled, ok := m.runtime.GetCompiledModule(config.ModuleName)
	if !ok {
		return nil, &ModuleNotFoundError{ModuleName: config.ModuleName}
	}

	if limit := m.runtime.config.MaxInstances; limit > 0 && m.runtime.InstanceCount() >= limit {
		return nil, &InstanceLimitError{Limit: limit}
	}

	instanceID := config.InstanceID
	if instanceID == "" {
		instanceID = generateInstanceID()
	}

	m.logger.Info("Instantiating Wasm module",
		zap.String("module", config.ModuleName),
		zap.String("instance_id", instanceID),
	)

	// Start functions are suppressed; reactor modules are bootstrapped
	// through their init export below.
	moduleConfig := wazero.NewModuleConfig().
		WithName(instanceID).
		WithStartFunctions()

	module, err := m.runtime.runtime.InstantiateModule(ctx, compiled.Module, moduleConfig)
	if err != nil {
		return nil, &InstantiationError{
			ModuleName: config.ModuleName,
			InstanceID: instanceID,
			Err:        err,
		}
	}

	initName := config.InitFunction
	if initName == "" {
		initName = InitializeExport
	}
	if initFn := module.ExportedFunction(initName); initFn != nil {
		if _, err := initFn.Call(ctx); err != nil {
			_ = module.Close(ctx)
			return nil, &InstantiationError{
				ModuleName: config.ModuleName,
				InstanceID: instanceID,
				Err:        fmt.Errorf("%s failed: %w", initName, err),
			}
		}
	}

	exports, err := m.cacheExportedFunctions(module, config)
	if err != nil {
		_ = module.Close(ctx)
		return nil, err
	}

	instance := &Instance{
		module:  module,
		runtime: m.runtime,
		ID:      instanceID,
		Name:    config.ModuleName,
		exports: exports,
	}

	m.runtime.StoreInstance(instance)

	m.logger.Info("Module instantiated successfully",
		zap.String("instance_id", instanceID),
		zap.Int("exported_functions", len(exports)),
	)

	return instance, nil
}

// Function returns an allow-listed exported function.
func (i *Instance) Function(name string) (api.Function, error) {
	fn, ok := i.exports[name]
	if !ok {
		return nil, &FunctionNotFoundError{ModuleName: i.Name, FunctionName: name}
	}
	return fn, nil
}

// Exports returns the allow-listed export names, sorted.
func (i *Instance) Exports() []string {
	names := make([]string, 0, len(i.exports))
	for name := range i.exports {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// IsClosed reports whether the underlying module has been closed.
func (i *Instance) IsClosed() bool {
	return i.module.IsClosed()
}

// Close closes the instance and releases resources.
func (i *Instance) Close(ctx context.Context) error {
	i.runtime.DeleteInstance(i.ID)
	return i.module.Close(ctx)
}

// cacheExportedFunctions resolves the allow-listed exports once.
func (m *InstanceManager) cacheExportedFunctions(module api.Module, config *InstanceConfig) (map[string]api.Function, error) {
	exports := make(map[string]api.Function, len(config.Exports))

	for _, name := range config.Exports {
		fn := module.ExportedFunction(name)
		if fn == nil {
			return nil, &FunctionNotFoundError{ModuleName: config.ModuleName, FunctionName: name}
		}
		exports[name] = fn
	}

	return exports, nil
}

var instanceSeq atomic.Uint64

// generateInstanceID returns a process-unique instance ID.
func generateInstanceID() string {
	return fmt.Sprintf("inst-%d-%d", time.Now().UnixNano(), instanceSeq.Add(1))
}
