package calc

import (
	"context"
	"math"
	"sync"

	"github.com/tetratelabs/wazero/api"
	"github.com/woxQAQ/wasm-calc/internal/metrics"
	"github.com/woxQAQ/wasm-calc/internal/wasm"
)

// Operation names one of the calculator exports.
type Operation string

const (
	OpSum      Operation = "sum"
	OpSubtract Operation = "subtract"
	OpMultiply Operation = "multiply"
	OpDivide   Operation = "divide"
)

// operations is the export allow-list, in canonical order.
var operations = []Operation{OpSum, OpSubtract, OpMultiply, OpDivide}

// ParseOperation returns the operation with the given export name.
func ParseOperation(name string) (Operation, error) {
	for _, op := range operations {
		if string(op) == name {
			return op, nil
		}
	}
	return "", &UnknownOperationError{Name: name}
}

// Symbol returns the infix symbol of op.
func (op Operation) Symbol() string {
	switch op {
	case OpSum:
		return "+"
	case OpSubtract:
		return "-"
	case OpMultiply:
		return "*"
	case OpDivide:
		return "/"
	default:
		return "?"
	}
}

func exportNames() []string {
	names := make([]string, len(operations))
	for i, op := range operations {
		names[i] = string(op)
	}
	return names
}

// binding serializes calls on one exported function; api.Function is not
// safe for concurrent use.
type binding struct {
	mu sync.Mutex
	fn api.Function
}

// Calculator is the handle set returned by Instantiate. It exposes exactly
// the four arithmetic operations and is immutable once built.
type Calculator struct {
	module   string
	bindings map[Operation]*binding
}

// newCalculator binds the allow-listed exports of instance and checks that
// each one has the (i32, i32) -> i32 signature.
func newCalculator(instance *wasm.Instance) (*Calculator, error) {
	c := &Calculator{
		module:   instance.Name,
		bindings: make(map[Operation]*binding, len(operations)),
	}

	for _, op := range operations {
		fn, err := instance.Function(string(op))
		if err != nil {
			return nil, err
		}

		def := fn.Definition()
		if !isBinaryI32(def.ParamTypes(), def.ResultTypes()) {
			return nil, &wasm.SignatureError{
				ModuleName:   instance.Name,
				FunctionName: string(op),
				Params:       def.ParamTypes(),
				Results:      def.ResultTypes(),
			}
		}

		c.bindings[op] = &binding{fn: fn}
	}

	return c, nil
}

func isBinaryI32(params, results []api.ValueType) bool {
	return len(params) == 2 && params[0] == api.ValueTypeI32 && params[1] == api.ValueTypeI32 &&
		len(results) == 1 && results[0] == api.ValueTypeI32
}

// Operations returns the exposed operations in canonical order.
func (c *Calculator) Operations() []Operation {
	ops := make([]Operation, len(operations))
	copy(ops, operations)
	return ops
}

// Module returns the name of the module backing c.
func (c *Calculator) Module() string {
	return c.module
}

// Sum returns a + b, wrapping on overflow.
func (c *Calculator) Sum(ctx context.Context, a, b int32) (int32, error) {
	return c.Call(ctx, OpSum, a, b)
}

// Subtract returns a - b, wrapping on overflow.
func (c *Calculator) Subtract(ctx context.Context, a, b int32) (int32, error) {
	return c.Call(ctx, OpSubtract, a, b)
}

// Multiply returns a * b, wrapping on overflow.
func (c *Calculator) Multiply(ctx context.Context, a, b int32) (int32, error) {
	return c.Call(ctx, OpMultiply, a, b)
}

// Divide returns a / b truncated toward zero. A zero divisor returns
// *DivisionByZeroError and MinInt32 / -1 returns *OverflowError.
func (c *Calculator) Divide(ctx context.Context, a, b int32) (int32, error) {
	return c.Call(ctx, OpDivide, a, b)
}

// Evaluate applies expr.
func (c *Calculator) Evaluate(ctx context.Context, expr Expression) (int32, error) {
	return c.Call(ctx, expr.Op, expr.A, expr.B)
}

// Call invokes op on a and b.
func (c *Calculator) Call(ctx context.Context, op Operation, a, b int32) (int32, error) {
	label := string(op)
	if _, ok := c.bindings[op]; !ok {
		label = "unknown"
	}

	result, err := c.call(ctx, op, a, b)
	if err != nil {
		metrics.RecordOperation(label, "error")
		return 0, err
	}
	metrics.RecordOperation(label, "success")
	return result, nil
}

func (c *Calculator) call(ctx context.Context, op Operation, a, b int32) (int32, error) {
	bnd, ok := c.bindings[op]
	if !ok {
		return 0, &UnknownOperationError{Name: string(op)}
	}

	// The guest traps on both of these; report them before calling it.
	if op == OpDivide {
		if b == 0 {
			return 0, &DivisionByZeroError{Dividend: a}
		}
		if a == math.MinInt32 && b == -1 {
			return 0, &OverflowError{Operation: op, A: a, B: b}
		}
	}

	// The runtime closes a module whose call context is done. The instance
	// is shared, so one caller's cancellation must not reach it.
	bnd.mu.Lock()
	results, err := bnd.fn.Call(context.WithoutCancel(ctx), api.EncodeI32(a), api.EncodeI32(b))
	bnd.mu.Unlock()
	if err != nil {
		return 0, &CallError{Operation: op, Err: err}
	}

	return api.DecodeI32(results[0]), nil
}
