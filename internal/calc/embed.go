package calc

import _ "embed"

// ModuleWASM is the bundled calculator module.
//
// It is a hand-assembled Wasm 1.0 binary with no imports and no memory.
// Every arithmetic export has the signature (i32, i32) -> i32:
//
//	sum         i32.add
//	subtract    i32.sub
//	multiply    i32.mul
//	divide      i32.div_s
//	_initialize no-op reactor bootstrap
//
//go:embed calc.wasm
var ModuleWASM []byte

// ModuleName is the cache name of the bundled module.
const ModuleName = "calc.wasm"
