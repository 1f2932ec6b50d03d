// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package vm

import (
	"encoding/binary"
	"math"

	"github.com/akadjoker/wdiv/lang/opcode"
	"github.com/akadjoker/wdiv/lang/value"
)

// numRank orders the numeric promotion lattice byte -> int -> uint ->
// float -> double; widen picks whichever operand sits higher.
func numRank(k value.Kind) int {
	switch k {
	case value.KindByte:
		return 0
	case value.KindInt:
		return 1
	case value.KindUint:
		return 2
	case value.KindFloat:
		return 3
	case value.KindDouble:
		return 4
	default:
		return -1
	}
}

func widen(a, b value.Kind) value.Kind {
	if numRank(a) >= numRank(b) {
		return a
	}
	return b
}

// binaryOp implements ADD/SUB/MUL/DIV/MOD over the numeric lattice, with
// ADD additionally handling string concatenation and DIV always
// producing a double per the calling convention's division rule.
func (vm *VM) binaryOp(op opcode.Op, a, b value.Value) (value.Value, error) {
	if op == opcode.ADD && (a.IsString() || b.IsString()) {
		return vm.PushString(stringify(a) + stringify(b)), nil
	}
	if !a.IsNumber() || !b.IsNumber() {
		return value.Nil, ErrTypeMismatch
	}
	if op == opcode.DIV {
		bd := b.AsDouble()
		if bd == 0 {
			return value.Nil, ErrDivisionByZero
		}
		return value.Double(a.AsDouble() / bd), nil
	}
	switch widen(a.Kind, b.Kind) {
	case value.KindByte, value.KindInt:
		x, y := a.AsInt(), b.AsInt()
		switch op {
		case opcode.ADD:
			return value.Int(x + y), nil
		case opcode.SUB:
			return value.Int(x - y), nil
		case opcode.MUL:
			return value.Int(x * y), nil
		case opcode.MOD:
			if y == 0 {
				return value.Nil, ErrDivisionByZero
			}
			return value.Int(x % y), nil
		}
	case value.KindUint:
		x, y := a.AsUint(), b.AsUint()
		switch op {
		case opcode.ADD:
			return value.Uint(x + y), nil
		case opcode.SUB:
			return value.Uint(x - y), nil
		case opcode.MUL:
			return value.Uint(x * y), nil
		case opcode.MOD:
			if y == 0 {
				return value.Nil, ErrDivisionByZero
			}
			return value.Uint(x % y), nil
		}
	case value.KindFloat:
		x, y := a.AsFloat(), b.AsFloat()
		switch op {
		case opcode.ADD:
			return value.Float(x + y), nil
		case opcode.SUB:
			return value.Float(x - y), nil
		case opcode.MUL:
			return value.Float(x * y), nil
		case opcode.MOD:
			return value.Float(float32(math.Mod(float64(x), float64(y)))), nil
		}
	case value.KindDouble:
		x, y := a.AsDouble(), b.AsDouble()
		switch op {
		case opcode.ADD:
			return value.Double(x + y), nil
		case opcode.SUB:
			return value.Double(x - y), nil
		case opcode.MUL:
			return value.Double(x * y), nil
		case opcode.MOD:
			return value.Double(math.Mod(x, y)), nil
		}
	}
	return value.Nil, ErrTypeMismatch
}

func negate(v value.Value) (value.Value, error) {
	switch v.Kind {
	case value.KindInt, value.KindByte:
		return value.Int(-v.AsInt()), nil
	case value.KindUint:
		return value.Int(-int64(v.AsUint())), nil
	case value.KindFloat:
		return value.Float(-v.AsFloat()), nil
	case value.KindDouble:
		return value.Double(-v.AsDouble()), nil
	default:
		return value.Nil, ErrTypeMismatch
	}
}

func bitwiseBinary(op opcode.Op, a, b value.Value) (value.Value, error) {
	if !a.IsNumber() || !b.IsNumber() {
		return value.Nil, ErrTypeMismatch
	}
	if a.Kind == value.KindUint || b.Kind == value.KindUint {
		x, y := a.AsUint(), b.AsUint()
		switch op {
		case opcode.AND:
			return value.Uint(x & y), nil
		case opcode.OR:
			return value.Uint(x | y), nil
		case opcode.XOR:
			return value.Uint(x ^ y), nil
		case opcode.SHL:
			return value.Uint(x << uint(y)), nil
		case opcode.SHR:
			return value.Uint(x >> uint(y)), nil
		}
	}
	x, y := a.AsInt(), b.AsInt()
	switch op {
	case opcode.AND:
		return value.Int(x & y), nil
	case opcode.OR:
		return value.Int(x | y), nil
	case opcode.XOR:
		return value.Int(x ^ y), nil
	case opcode.SHL:
		return value.Int(x << uint(y)), nil
	case opcode.SHR:
		return value.Int(x >> uint(y)), nil
	}
	return value.Nil, ErrTypeMismatch
}

// bitwiseNot implements NOT: logical inversion for bool (scripts use the
// same opcode for `!cond` as for `~int`), bitwise complement otherwise.
func bitwiseNot(v value.Value) (value.Value, error) {
	switch v.Kind {
	case value.KindBool:
		return value.Bool(!v.AsBool()), nil
	case value.KindUint:
		return value.Uint(^v.AsUint()), nil
	case value.KindInt, value.KindByte, value.KindFloat, value.KindDouble:
		return value.Int(^v.AsInt()), nil
	default:
		return value.Nil, ErrTypeMismatch
	}
}

func compare(op opcode.Op, a, b value.Value) (value.Value, error) {
	if a.IsNumber() && b.IsNumber() {
		x, y := a.AsDouble(), b.AsDouble()
		switch op {
		case opcode.LT:
			return value.Bool(x < y), nil
		case opcode.LE:
			return value.Bool(x <= y), nil
		case opcode.GT:
			return value.Bool(x > y), nil
		case opcode.GE:
			return value.Bool(x >= y), nil
		}
	}
	if a.IsString() && b.IsString() {
		x, y := a.AsString().Chars, b.AsString().Chars
		switch op {
		case opcode.LT:
			return value.Bool(x < y), nil
		case opcode.LE:
			return value.Bool(x <= y), nil
		case opcode.GT:
			return value.Bool(x > y), nil
		case opcode.GE:
			return value.Bool(x >= y), nil
		}
	}
	return value.Nil, ErrTypeMismatch
}

func mapKey(v value.Value) string {
	if v.IsString() {
		return v.AsString().String()
	}
	return stringify(v)
}

func lengthOf(vm *VM, recv value.Value) (value.Value, error) {
	switch recv.Kind {
	case value.KindArray:
		return value.Int(int64(len(vm.Instances.Array(recv.AsHandle()).Elems))), nil
	case value.KindMap:
		return value.Int(int64(vm.Instances.Map(recv.AsHandle()).Len())), nil
	case value.KindString:
		return value.Int(int64(recv.AsString().Len())), nil
	default:
		return value.Nil, ErrTypeMismatch
	}
}

func getIndex(vm *VM, recv, idx value.Value) (value.Value, error) {
	switch recv.Kind {
	case value.KindArray:
		a := vm.Instances.Array(recv.AsHandle())
		i := int(idx.AsInt())
		if i < 0 || i >= len(a.Elems) {
			return value.Nil, ErrBounds
		}
		return a.Elems[i], nil
	case value.KindMap:
		m := vm.Instances.Map(recv.AsHandle())
		v, ok := m.Get(mapKey(idx))
		if !ok {
			return value.Nil, nil
		}
		return v, nil
	case value.KindString:
		s := recv.AsString().Chars
		i := int(idx.AsInt())
		if i < 0 || i >= len(s) {
			return value.Nil, ErrBounds
		}
		return value.Byte(s[i]), nil
	default:
		return value.Nil, ErrTypeMismatch
	}
}

func setIndex(recv, idx, val value.Value, vm *VM) error {
	switch recv.Kind {
	case value.KindArray:
		a := vm.Instances.Array(recv.AsHandle())
		i := int(idx.AsInt())
		if i < 0 {
			return ErrBounds
		}
		for len(a.Elems) <= i {
			a.Elems = append(a.Elems, value.Nil)
		}
		a.Elems[i] = val
		return nil
	case value.KindMap:
		vm.Instances.Map(recv.AsHandle()).Set(mapKey(idx), val)
		return nil
	case value.KindString:
		return ErrReadOnly
	default:
		return ErrTypeMismatch
	}
}

func getProperty(vm *VM, recv value.Value, name string) (value.Value, error) {
	switch recv.Kind {
	case value.KindProcess:
		proc, ok := vm.Process(recv.AsID())
		if !ok {
			return value.Nil, ErrUndefined
		}
		v, ok := proc.GetPrivate(name)
		if !ok {
			return value.Nil, ErrUndefined
		}
		return v, nil
	case value.KindString:
		if name == "length" {
			return value.Int(int64(recv.AsString().Len())), nil
		}
		return value.Nil, ErrUndefined
	case value.KindStructInstance:
		inst := vm.Instances.StructInst(recv.AsHandle())
		slot, ok := inst.Def.FieldSlots[name]
		if !ok {
			return value.Nil, ErrUndefined
		}
		return inst.Fields[slot], nil
	case value.KindClassInstance:
		inst := vm.Instances.ClassInst(recv.AsHandle())
		slot, ok := inst.Class.FieldSlots[name]
		if !ok {
			return value.Nil, ErrUndefined
		}
		return inst.Fields[slot], nil
	case value.KindNativeClassInstance:
		inst := vm.Instances.NativeClassInst(recv.AsHandle())
		prop, ok := inst.Def.Properties[name]
		if !ok || prop.get == nil {
			return value.Nil, ErrUndefined
		}
		return prop.get(vm, inst)
	case value.KindNativeStructInstance:
		inst := vm.Instances.NativeStructInst(recv.AsHandle())
		field, ok := inst.Def.Fields[name]
		if !ok {
			return value.Nil, ErrUndefined
		}
		return readNativeField(inst.Buffer, field), nil
	default:
		return value.Nil, ErrTypeMismatch
	}
}

func setProperty(vm *VM, recv value.Value, name string, v value.Value) error {
	switch recv.Kind {
	case value.KindProcess:
		proc, ok := vm.Process(recv.AsID())
		if !ok {
			return ErrUndefined
		}
		return proc.SetPrivate(name, v)
	case value.KindStructInstance:
		inst := vm.Instances.StructInst(recv.AsHandle())
		slot, ok := inst.Def.FieldSlots[name]
		if !ok {
			return ErrUndefined
		}
		inst.Fields[slot] = v
		return nil
	case value.KindClassInstance:
		inst := vm.Instances.ClassInst(recv.AsHandle())
		slot, ok := inst.Class.FieldSlots[name]
		if !ok {
			return ErrUndefined
		}
		inst.Fields[slot] = v
		return nil
	case value.KindNativeClassInstance:
		inst := vm.Instances.NativeClassInst(recv.AsHandle())
		prop, ok := inst.Def.Properties[name]
		if !ok || prop.set == nil {
			return ErrReadOnly
		}
		return prop.set(vm, inst, v)
	case value.KindNativeStructInstance:
		inst := vm.Instances.NativeStructInst(recv.AsHandle())
		field, ok := inst.Def.Fields[name]
		if !ok {
			return ErrUndefined
		}
		if field.ReadOnly {
			return ErrReadOnly
		}
		writeNativeField(inst.Buffer, field, v)
		return nil
	case value.KindString:
		return ErrReadOnly
	default:
		return ErrTypeMismatch
	}
}

// readNativeField/writeNativeField translate between a Value and the
// little-endian bytes of a typed native-struct field, per the bridge's
// fixed-width field layout.
func readNativeField(buf []byte, f nativeField) value.Value {
	off := f.Offset
	switch f.Type {
	case FieldByte:
		return value.Byte(buf[off])
	case FieldBool:
		return value.Bool(buf[off] != 0)
	case FieldInt:
		return value.Int(int64(int32(binary.LittleEndian.Uint32(buf[off:]))))
	case FieldUint:
		return value.Uint(uint64(binary.LittleEndian.Uint32(buf[off:])))
	case FieldFloat:
		return value.Float(math.Float32frombits(binary.LittleEndian.Uint32(buf[off:])))
	case FieldDouble:
		return value.Double(math.Float64frombits(binary.LittleEndian.Uint64(buf[off:])))
	default:
		return value.Nil
	}
}

func writeNativeField(buf []byte, f nativeField, v value.Value) {
	off := f.Offset
	switch f.Type {
	case FieldByte:
		buf[off] = v.AsByte()
	case FieldBool:
		if v.AsBool() {
			buf[off] = 1
		} else {
			buf[off] = 0
		}
	case FieldInt:
		binary.LittleEndian.PutUint32(buf[off:], uint32(v.AsInt()))
	case FieldUint:
		binary.LittleEndian.PutUint32(buf[off:], uint32(v.AsUint()))
	case FieldFloat:
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(v.AsFloat()))
	case FieldDouble:
		binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(v.AsDouble()))
	}
}

func iterHas(vm *VM, seq, iter value.Value) bool {
	i := iter.AsInt()
	switch seq.Kind {
	case value.KindArray:
		return i < int64(len(vm.Instances.Array(seq.AsHandle()).Elems))
	case value.KindMap:
		return i < int64(vm.Instances.Map(seq.AsHandle()).Len())
	case value.KindString:
		return i < int64(seq.AsString().Len())
	default:
		return false
	}
}

func iterValue(vm *VM, seq, iter value.Value) value.Value {
	i := int(iter.AsInt())
	switch seq.Kind {
	case value.KindArray:
		return vm.Instances.Array(seq.AsHandle()).Elems[i]
	case value.KindMap:
		m := vm.Instances.Map(seq.AsHandle())
		keys := m.Keys()
		v, _ := m.Get(keys[i])
		return v
	case value.KindString:
		return value.Byte(seq.AsString().Chars[i])
	default:
		return value.Nil
	}
}
