package calc

import (
	"fmt"
)

// InitializationError occurs when the calculator module cannot be loaded.
// The first failure is remembered; later Instantiate calls return it again.
type InitializationError struct {
	Module string
	Err    error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("failed to initialize calculator module '%s': %v", e.Module, e.Err)
}

func (e *InitializationError) Unwrap() error {
	return e.Err
}

// DivisionByZeroError occurs when divide is called with a zero divisor.
type DivisionByZeroError struct {
	Dividend int32
}

func (e *DivisionByZeroError) Error() string {
	return fmt.Sprintf("division by zero: %d / 0", e.Dividend)
}

// OverflowError occurs when a division result does not fit in int32.
type OverflowError struct {
	Operation Operation
	A, B      int32
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("%s overflow: %d %s %d", e.Operation, e.A, e.Operation.Symbol(), e.B)
}

// UnknownOperationError occurs when an operation name is not on the allow-list.
type UnknownOperationError struct {
	Name string
}

func (e *UnknownOperationError) Error() string {
	return fmt.Sprintf("unknown operation '%s' (must be one of: sum, subtract, multiply, divide)", e.Name)
}

// CallError occurs when a call into the module fails.
type CallError struct {
	Operation Operation
	Err       error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s call failed: %v", e.Operation, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// ExpressionError occurs when an expression cannot be parsed.
type ExpressionError struct {
	Input   string
	Message string
	Err     error
}

func (e *ExpressionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid expression '%s': %s: %v", e.Input, e.Message, e.Err)
	}
	return fmt.Sprintf("invalid expression '%s': %s", e.Input, e.Message)
}

func (e *ExpressionError) Unwrap() error {
	return e.Err
}

// ManifestNotFoundError occurs when manifest.yaml is not found in a directory.
type ManifestNotFoundError struct {
	Path string
	Err  error
}

func (e *ManifestNotFoundError) Error() string {
	return fmt.Sprintf("manifest not found at '%s': %v", e.Path, e.Err)
}

func (e *ManifestNotFoundError) Unwrap() error {
	return e.Err
}

// ManifestParseError occurs when manifest.yaml cannot be parsed as valid YAML.
type ManifestParseError struct {
	Path string
	Err  error
}

func (e *ManifestParseError) Error() string {
	return fmt.Sprintf("failed to parse manifest at '%s': %v", e.Path, e.Err)
}

func (e *ManifestParseError) Unwrap() error {
	return e.Err
}

// ManifestValidationError occurs when manifest.yaml fails validation.
type ManifestValidationError struct {
	Path    string
	Field   string
	Message string
}

func (e *ManifestValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("manifest validation failed at '%s': %s (field: %s)",
			e.Path, e.Message, e.Field)
	}
	return fmt.Sprintf("manifest validation failed at '%s': %s", e.Path, e.Message)
}

// WasmNotFoundError occurs when the Wasm file referenced in manifest doesn't exist.
type WasmNotFoundError struct {
	ManifestPath string
	WasmFile     string
}

func (e *WasmNotFoundError) Error() string {
	return fmt.Sprintf("Wasm file '%s' not found (referenced in manifest '%s')",
		e.WasmFile, e.ManifestPath)
}
