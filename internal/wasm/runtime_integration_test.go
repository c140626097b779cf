package wasm

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap/zaptest"
)

// adderWasm exports add(i32, i32) -> i32, an _initialize that sets the
// exported mutable global "initialized" to 1, and boom() which traps.
var adderWasm = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, 0x01, 0x0a, 0x02, 0x60,
	0x02, 0x7f, 0x7f, 0x01, 0x7f, 0x60, 0x00, 0x00, 0x03, 0x04, 0x03, 0x00,
	0x01, 0x01, 0x06, 0x06, 0x01, 0x7f, 0x01, 0x41, 0x00, 0x0b, 0x07, 0x2a,
	0x04, 0x03, 0x61, 0x64, 0x64, 0x00, 0x00, 0x0b, 0x5f, 0x69, 0x6e, 0x69,
	0x74, 0x69, 0x61, 0x6c, 0x69, 0x7a, 0x65, 0x00, 0x01, 0x04, 0x62, 0x6f,
	0x6f, 0x6d, 0x00, 0x02, 0x0b, 0x69, 0x6e, 0x69, 0x74, 0x69, 0x61, 0x6c,
	0x69, 0x7a, 0x65, 0x64, 0x03, 0x00, 0x0a, 0x14, 0x03, 0x07, 0x00, 0x20,
	0x00, 0x20, 0x01, 0x6a, 0x0b, 0x06, 0x00, 0x41, 0x01, 0x24, 0x00, 0x0b,
	0x03, 0x00, 0x00, 0x0b,
}

// emptyWasm is a valid Wasm 1.0 module with no exports.
var emptyWasm = []byte{
	0x00, 0x61, 0x73, 0x6d, // Magic number: \0asm
	0x01, 0x00, 0x00, 0x00, // Version: 1
}

func newTestRuntime(t *testing.T, config *RuntimeConfig) *Runtime {
	t.Helper()

	ctx := context.Background()
	runtime, err := NewRuntime(ctx, zaptest.NewLogger(t), config)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { runtime.Close(ctx) })
	return runtime
}

func loadAdder(t *testing.T, runtime *Runtime) {
	t.Helper()

	source := &MemoryModuleSource{ModuleName: "adder", Data: adderWasm}
	if _, err := NewModuleLoader(runtime, zaptest.NewLogger(t)).LoadModule(context.Background(), source); err != nil {
		t.Fatal(err)
	}
}

// TestLoadModuleFromMemory tests loading a simple Wasm module from memory.
func TestLoadModuleFromMemory(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	runtime := newTestRuntime(t, nil)
	loader := NewModuleLoader(runtime, logger)

	module, err := loader.LoadModule(ctx, &MemoryModuleSource{ModuleName: "test-module", Data: emptyWasm})
	if err != nil {
		t.Fatalf("Failed to load module: %v", err)
	}

	if module.Name != "test-module" {
		t.Errorf("Module name = %s, want 'test-module'", module.Name)
	}

	if module.SizeBytes != int64(len(emptyWasm)) {
		t.Errorf("SizeBytes = %d, want %d", module.SizeBytes, len(emptyWasm))
	}

	if len(module.Digest) != 16 {
		t.Errorf("Digest = %q, want 16 hex characters", module.Digest)
	}

	// Test caching - load again should hit cache.
	module2, err := loader.LoadModule(ctx, &MemoryModuleSource{ModuleName: "test-module", Data: emptyWasm})
	if err != nil {
		t.Fatalf("Failed to load module from cache: %v", err)
	}

	if module2 != module {
		t.Error("Cache should return the same module instance")
	}
}

// TestModuleLoaderFileSource tests the FileModuleSource.
func TestModuleLoaderFileSource(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	runtime := newTestRuntime(t, nil)
	loader := NewModuleLoader(runtime, logger)

	wasmFile := filepath.Join(t.TempDir(), "test.wasm")
	if err := os.WriteFile(wasmFile, adderWasm, 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	module, err := loader.LoadModule(ctx, &FileModuleSource{Path: wasmFile})
	if err != nil {
		t.Fatalf("Failed to load module from file: %v", err)
	}

	if module.Name != wasmFile {
		t.Errorf("Name = %s, want %s", module.Name, wasmFile)
	}

	if module.CompiledAt.IsZero() {
		t.Error("CompiledAt should be set")
	}
}

func TestModuleLoaderMissingFile(t *testing.T) {
	ctx := context.Background()
	runtime := newTestRuntime(t, nil)
	loader := NewModuleLoader(runtime, zaptest.NewLogger(t))

	_, err := loader.LoadModule(ctx, &FileModuleSource{Path: filepath.Join(t.TempDir(), "missing.wasm")})
	if err == nil {
		t.Fatal("expected error for missing file")
	}

	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist in chain, got %v", err)
	}
}

func TestModuleLoaderInvalidBinary(t *testing.T) {
	ctx := context.Background()
	runtime := newTestRuntime(t, nil)
	loader := NewModuleLoader(runtime, zaptest.NewLogger(t))

	_, err := loader.LoadModule(ctx, &MemoryModuleSource{ModuleName: "garbage", Data: []byte("not wasm")})

	var compErr *CompilationError
	if !errors.As(err, &compErr) {
		t.Fatalf("expected CompilationError, got %T: %v", err, err)
	}

	if compErr.ModuleName != "garbage" {
		t.Errorf("ModuleName = %s, want garbage", compErr.ModuleName)
	}
}

func TestModuleLoaderClosedRuntime(t *testing.T) {
	ctx := context.Background()
	runtime := newTestRuntime(t, nil)
	loader := NewModuleLoader(runtime, zaptest.NewLogger(t))

	runtime.Close(ctx)

	_, err := loader.LoadModule(ctx, &MemoryModuleSource{ModuleName: "late", Data: emptyWasm})
	if !errors.Is(err, ErrRuntimeClosed) {
		t.Errorf("expected ErrRuntimeClosed, got %v", err)
	}
}

func TestInstantiateRunsInitAndFiltersExports(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	runtime := newTestRuntime(t, nil)
	loadAdder(t, runtime)

	instance, err := NewInstanceManager(runtime, logger).Instantiate(ctx, &InstanceConfig{
		ModuleName: "adder",
		Exports:    []string{"add"},
	})
	if err != nil {
		t.Fatalf("Failed to instantiate: %v", err)
	}
	defer instance.Close(ctx)

	initialized := instance.module.ExportedGlobal("initialized")
	if initialized == nil || api.DecodeI32(initialized.Get()) != 1 {
		t.Error("_initialize should have run during instantiation")
	}

	if got := instance.Exports(); len(got) != 1 || got[0] != "add" {
		t.Errorf("Exports() = %v, want [add]", got)
	}

	if _, err := instance.Function(InitializeExport); err == nil {
		t.Error("bootstrap export must not be reachable through Function")
	}

	add, err := instance.Function("add")
	if err != nil {
		t.Fatal(err)
	}

	results, err := add.Call(ctx, api.EncodeI32(1), api.EncodeI32(2))
	if err != nil {
		t.Fatal(err)
	}

	if got := api.DecodeI32(results[0]); got != 3 {
		t.Errorf("add(1, 2) = %d, want 3", got)
	}

	if runtime.InstanceCount() != 1 {
		t.Errorf("InstanceCount() = %d, want 1", runtime.InstanceCount())
	}
}

func TestInstantiateMissingExport(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	runtime := newTestRuntime(t, nil)
	loadAdder(t, runtime)

	_, err := NewInstanceManager(runtime, logger).Instantiate(ctx, &InstanceConfig{
		ModuleName: "adder",
		Exports:    []string{"add", "subtract"},
	})

	var notFound *FunctionNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected FunctionNotFoundError, got %T: %v", err, err)
	}

	if notFound.FunctionName != "subtract" {
		t.Errorf("FunctionName = %s, want subtract", notFound.FunctionName)
	}

	if runtime.InstanceCount() != 0 {
		t.Error("failed instantiation must not be tracked")
	}
}

func TestInstantiateInitTrap(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	runtime := newTestRuntime(t, nil)
	loadAdder(t, runtime)

	_, err := NewInstanceManager(runtime, logger).Instantiate(ctx, &InstanceConfig{
		ModuleName:   "adder",
		InitFunction: "boom",
	})

	var instErr *InstantiationError
	if !errors.As(err, &instErr) {
		t.Fatalf("expected InstantiationError, got %T: %v", err, err)
	}
}

func TestInstantiateModuleNotFound(t *testing.T) {
	ctx := context.Background()
	runtime := newTestRuntime(t, nil)

	_, err := NewInstanceManager(runtime, zaptest.NewLogger(t)).Instantiate(ctx, &InstanceConfig{
		ModuleName: "missing",
	})

	var notFound *ModuleNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ModuleNotFoundError, got %T: %v", err, err)
	}
}

func TestInstantiateLimit(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	config := DefaultRuntimeConfig()
	config.MaxInstances = 1
	runtime := newTestRuntime(t, config)

	loadAdder(t, runtime)

	mgr := NewInstanceManager(runtime, logger)
	first, err := mgr.Instantiate(ctx, &InstanceConfig{ModuleName: "adder"})
	if err != nil {
		t.Fatal(err)
	}

	_, err = mgr.Instantiate(ctx, &InstanceConfig{ModuleName: "adder"})
	var limitErr *InstanceLimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected InstanceLimitError, got %T: %v", err, err)
	}

	// Closing frees the slot.
	if err := first.Close(ctx); err != nil {
		t.Fatal(err)
	}

	second, err := mgr.Instantiate(ctx, &InstanceConfig{ModuleName: "adder"})
	if err != nil {
		t.Fatalf("Instantiate after Close failed: %v", err)
	}
	defer second.Close(ctx)
}

func TestRuntimeCloseClosesInstances(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	runtime := newTestRuntime(t, nil)
	loadAdder(t, runtime)

	instance, err := NewInstanceManager(runtime, logger).Instantiate(ctx, &InstanceConfig{ModuleName: "adder"})
	if err != nil {
		t.Fatal(err)
	}

	if err := runtime.Close(ctx); err != nil {
		t.Fatal(err)
	}

	if !instance.IsClosed() {
		t.Error("instance should be closed with its runtime")
	}
}

func TestEnableWASIIdempotent(t *testing.T) {
	ctx := context.Background()
	runtime := newTestRuntime(t, nil)

	if err := runtime.EnableWASI(ctx); err != nil {
		t.Fatalf("first EnableWASI failed: %v", err)
	}
	if err := runtime.EnableWASI(ctx); err != nil {
		t.Fatalf("second EnableWASI failed: %v", err)
	}
}
