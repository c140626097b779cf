//go:build wasip1

// Command wasm is a calculator guest written in Go. Build it as a WASI
// reactor so the runtime calls _initialize instead of main:
//
//	GOOS=wasip1 GOARCH=wasm go build -buildmode=c-shared -o calc.wasm ./api/wasm
//
// Serve it with a manifest that sets wasm.wasi to true.
//
// NOTE: wasmexport only allows 32/64-bit integers and floats in signatures,
// which is all these operations need.
package main

//go:wasmexport sum
func sum(a, b int32) int32 {
	return a + b
}

//go:wasmexport subtract
func subtract(a, b int32) int32 {
	return a - b
}

//go:wasmexport multiply
func multiply(a, b int32) int32 {
	return a * b
}

// divide panics, and so traps, on a zero divisor. The host checks for that
// before calling.
//
//go:wasmexport divide
func divide(a, b int32) int32 {
	return a / b
}

func main() {}
