// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package vm

import (
	"strings"

	"github.com/akadjoker/wdiv/lang/chunk"
	"github.com/akadjoker/wdiv/lang/opcode"
	"github.com/akadjoker/wdiv/lang/value"
)

// disassembleInstruction renders a single instruction the way the
// original RuntimeDebugger's stack/frame printers do, used by the
// --trace flag and by Fiber.Disassemble.
func disassembleInstruction(c *chunk.Chunk, ip int) string {
	op := opcode.Op(c.Code[ip])
	var b strings.Builder
	b.WriteString(itoa(c.LineAt(ip)))
	b.WriteString("  ")
	b.WriteString(op.String())

	off := ip + 1
	for _, kind := range op.Operands() {
		switch kind {
		case opcode.OperandByte:
			b.WriteString(" ")
			b.WriteString(itoa(int(c.Code[off])))
			off++
		case opcode.OperandShort:
			v := c.ReadShort(off)
			b.WriteString(" ")
			b.WriteString(itoa(int(v)))
			if op == opcode.CONSTANT && int(v) < len(c.Constants) {
				b.WriteString(" (")
				b.WriteString(stringify(c.Constants[v]))
				b.WriteString(")")
			}
			off += 2
		}
	}
	return b.String()
}

// stringify renders a Value for PRINT, string concatenation, and trace
// output. It never touches an arena (object kinds print a fixed
// placeholder such as <array>, not their contents) so it is always safe
// to call mid-GC.
func stringify(v value.Value) string {
	switch v.Kind {
	case value.KindNil:
		return "nil"
	case value.KindBool:
		if v.AsBool() {
			return "true"
		}
		return "false"
	case value.KindByte, value.KindInt, value.KindUint, value.KindFloat, value.KindDouble:
		return value.FormatNumber(v)
	case value.KindString:
		return v.AsString().String()
	case value.KindArray:
		return "<array>"
	case value.KindMap:
		return "<map>"
	case value.KindStructInstance:
		return "<struct instance>"
	case value.KindClassInstance:
		return "<class instance>"
	case value.KindNativeClassInstance:
		return "<native class instance>"
	case value.KindNativeStructInstance:
		return "<native struct instance>"
	case value.KindFunction:
		return "<function>"
	case value.KindNative:
		return "<native fn>"
	case value.KindProcess:
		return "<process " + itoa(int(v.AsID())) + ">"
	case value.KindClass:
		return "<class>"
	case value.KindStruct:
		return "<struct>"
	case value.KindNativeClass:
		return "<native class>"
	case value.KindNativeStruct:
		return "<native struct>"
	case value.KindPointer:
		return "<pointer>"
	case value.KindModuleRef:
		return "<module ref>"
	default:
		return "<?>"
	}
}
