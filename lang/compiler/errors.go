// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package compiler

import (
	"fmt"

	"github.com/akadjoker/wdiv/lang/token"
)

// CompileError reports a single source-level failure: a syntax error, an
// unresolved identifier, or a structural mistake (break outside a loop,
// duplicate field, arity already declared differently) caught during
// codegen. The parser panics with one and Compile recovers it into a
// normal error return, the same split go/parser uses internally.
type CompileError struct {
	Pos token.Position
	Msg string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("%s: %s", e.Pos, e.Msg)
}

func newCompileError(pos token.Position, format string, args ...interface{}) *CompileError {
	return &CompileError{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}
