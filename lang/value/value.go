// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package value defines the tagged Value union executed by the
// interpreter, plus the canonical string pool.
//
// Heap-backed kinds (array, map, struct/class/native-class/native-struct
// instances) do not carry a raw pointer. They carry a Handle: an index
// into a typed arena owned by the instance pool. This keeps GC marking
// cache-friendly and makes cyclic object graphs trivially safe to sweep,
// per the allocator's arena-of-handles design.
package value

import "math"

// Kind discriminates the Value union.
type Kind uint8

const (
	KindNil Kind = iota
	KindBool
	KindByte
	KindInt
	KindUint
	KindFloat
	KindDouble
	KindString
	KindArray
	KindMap
	KindStructInstance
	KindClassInstance
	KindNativeClassInstance
	KindNativeStructInstance
	KindFunction
	KindNative
	KindProcess
	KindClass
	KindStruct
	KindNativeClass
	KindNativeStruct
	KindPointer
	KindModuleRef
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindBool:
		return "bool"
	case KindByte:
		return "byte"
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindFloat:
		return "float"
	case KindDouble:
		return "double"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	case KindStructInstance:
		return "struct instance"
	case KindClassInstance:
		return "class instance"
	case KindNativeClassInstance:
		return "native class instance"
	case KindNativeStructInstance:
		return "native struct instance"
	case KindFunction:
		return "function"
	case KindNative:
		return "native"
	case KindProcess:
		return "process"
	case KindClass:
		return "class"
	case KindStruct:
		return "struct"
	case KindNativeClass:
		return "native class"
	case KindNativeStruct:
		return "native struct"
	case KindPointer:
		return "pointer"
	case KindModuleRef:
		return "module ref"
	default:
		return "unknown"
	}
}

// ArenaKind identifies which typed arena a Handle indexes into.
type ArenaKind uint8

const (
	ArenaArray ArenaKind = iota
	ArenaMap
	ArenaStructInstance
	ArenaClassInstance
	ArenaNativeClassInstance
	ArenaNativeStructInstance
)

// Handle is an (arena, index) reference to a GC-tracked object, used in
// place of a raw pointer so the collector can walk arenas linearly
// without chasing pointers, and so cyclic graphs sweep safely.
type Handle struct {
	Arena ArenaKind
	Index uint32
}

// Value is the tagged union every bytecode instruction operates on. It is
// a plain value type (no heap allocation for scalars), copied on the
// fiber's value stack the way the original passes Value by value.
type Value struct {
	Kind Kind
	num  uint64 // scalar payload: bool/byte/int/uint/float bits/double bits, or an id
	str  *String
	obj  Handle
	ptr  interface{} // escape hatch for KindPointer (host-owned opaque data)
}

var Nil = Value{Kind: KindNil}

func Bool(b bool) Value {
	var n uint64
	if b {
		n = 1
	}
	return Value{Kind: KindBool, num: n}
}

func Byte(b byte) Value    { return Value{Kind: KindByte, num: uint64(b)} }
func Int(i int64) Value    { return Value{Kind: KindInt, num: uint64(i)} }
func Uint(u uint64) Value  { return Value{Kind: KindUint, num: u} }
func Float(f float32) Value {
	return Value{Kind: KindFloat, num: uint64(math.Float32bits(f))}
}
func Double(d float64) Value { return Value{Kind: KindDouble, num: math.Float64bits(d)} }
func Str(s *String) Value    { return Value{Kind: KindString, str: s} }
func Obj(kind Kind, h Handle) Value { return Value{Kind: kind, obj: h} }
func Pointer(p interface{}) Value   { return Value{Kind: KindPointer, ptr: p} }

// FunctionID / NativeID / ProcessID / ClassID / StructID / NativeClassID /
// NativeStructID all reuse the int64 identity slot; they are distinguished
// by Kind.
func FunctionID(id int32) Value    { return Value{Kind: KindFunction, num: uint64(uint32(id))} }
func NativeID(id int32) Value      { return Value{Kind: KindNative, num: uint64(uint32(id))} }
func ProcessID(id int32) Value     { return Value{Kind: KindProcess, num: uint64(uint32(id))} }
func ClassID(id int32) Value       { return Value{Kind: KindClass, num: uint64(uint32(id))} }
func StructID(id int32) Value      { return Value{Kind: KindStruct, num: uint64(uint32(id))} }
func NativeClassID(id int32) Value { return Value{Kind: KindNativeClass, num: uint64(uint32(id))} }
func NativeStructID(id int32) Value {
	return Value{Kind: KindNativeStruct, num: uint64(uint32(id))}
}

// ModuleRef packs a module id and function id into one value, so a call
// site dispatches in O(1) without a name lookup.
func ModuleRef(moduleID, funcID uint32) Value {
	return Value{Kind: KindModuleRef, num: uint64(moduleID)<<32 | uint64(funcID)}
}

func (v Value) ModuleRefParts() (moduleID, funcID uint32) {
	return uint32(v.num >> 32), uint32(v.num)
}

// --- type predicates ---

func (v Value) IsNil() bool    { return v.Kind == KindNil }
func (v Value) IsBool() bool   { return v.Kind == KindBool }
func (v Value) IsNumber() bool {
	switch v.Kind {
	case KindByte, KindInt, KindUint, KindFloat, KindDouble:
		return true
	default:
		return false
	}
}
func (v Value) IsString() bool { return v.Kind == KindString }
func (v Value) IsObject() bool {
	switch v.Kind {
	case KindArray, KindMap, KindStructInstance, KindClassInstance,
		KindNativeClassInstance, KindNativeStructInstance:
		return true
	default:
		return false
	}
}

// --- accessors with the original's numeric promotion chain: byte -> int
// -> uint -> float -> double. Every accessor accepts any numeric kind and
// narrows/widens as requested; only a non-numeric source is a caller bug. ---

func (v Value) AsBool() bool {
	switch v.Kind {
	case KindBool:
		return v.num != 0
	case KindInt:
		return int64(v.num) != 0
	case KindUint:
		return v.num != 0
	case KindByte:
		return v.num != 0
	case KindFloat:
		return math.Float32frombits(uint32(v.num)) != 0
	case KindDouble:
		return math.Float64frombits(v.num) != 0
	case KindNil:
		return false
	default:
		return true // objects are truthy
	}
}

func (v Value) AsByte() byte {
	switch v.Kind {
	case KindByte:
		return byte(v.num)
	case KindInt:
		return byte(int64(v.num))
	case KindUint:
		return byte(v.num)
	case KindBool:
		return byte(v.num)
	case KindFloat:
		return byte(math.Float32frombits(uint32(v.num)))
	case KindDouble:
		return byte(math.Float64frombits(v.num))
	default:
		return 0
	}
}

func (v Value) AsInt() int64 {
	switch v.Kind {
	case KindInt:
		return int64(v.num)
	case KindDouble:
		return int64(math.Float64frombits(v.num))
	case KindFloat:
		return int64(math.Float32frombits(uint32(v.num)))
	case KindByte:
		return int64(v.num)
	case KindUint:
		return int64(v.num)
	case KindBool:
		return int64(v.num)
	default:
		return 0
	}
}

func (v Value) AsUint() uint64 {
	switch v.Kind {
	case KindUint:
		return v.num
	case KindInt:
		return uint64(int64(v.num))
	case KindByte:
		return v.num
	case KindBool:
		return v.num
	case KindFloat:
		return uint64(math.Float32frombits(uint32(v.num)))
	case KindDouble:
		return uint64(math.Float64frombits(v.num))
	default:
		return 0
	}
}

func (v Value) AsFloat() float32 {
	switch v.Kind {
	case KindFloat:
		return math.Float32frombits(uint32(v.num))
	case KindDouble:
		return float32(math.Float64frombits(v.num))
	case KindInt:
		return float32(int64(v.num))
	case KindByte:
		return float32(v.num)
	case KindUint:
		return float32(v.num)
	case KindBool:
		return float32(v.num)
	default:
		return 0
	}
}

func (v Value) AsDouble() float64 {
	switch v.Kind {
	case KindDouble:
		return math.Float64frombits(v.num)
	case KindFloat:
		return float64(math.Float32frombits(uint32(v.num)))
	case KindInt:
		return float64(int64(v.num))
	case KindByte:
		return float64(v.num)
	case KindUint:
		return float64(v.num)
	case KindBool:
		return float64(v.num)
	default:
		return 0
	}
}

func (v Value) AsString() *String { return v.str }
func (v Value) AsHandle() Handle  { return v.obj }
func (v Value) AsPointer() interface{} { return v.ptr }
func (v Value) AsID() int32       { return int32(uint32(v.num)) }

// IsTruthy mirrors the original's branch test: nil is false, bool is
// itself, numerics are nonzero, everything else (strings, objects,
// functions) is true.
func IsTruthy(v Value) bool {
	switch v.Kind {
	case KindNil:
		return false
	case KindBool:
		return v.num != 0
	case KindInt, KindUint, KindByte:
		return v.num != 0
	case KindFloat:
		return math.Float32frombits(uint32(v.num)) != 0
	case KindDouble:
		return math.Float64frombits(v.num) != 0
	default:
		return true
	}
}

// Equal implements the Value model's equality rule: numerics compare by
// value across kinds; strings compare by canonical identity; everything
// else compares by identity (handle/ptr/id equality).
func Equal(a, b Value) bool {
	if a.IsNumber() && b.IsNumber() {
		if isIntegral(a.Kind) && isIntegral(b.Kind) {
			return a.AsInt() == b.AsInt() || a.AsUint() == b.AsUint()
		}
		return a.AsDouble() == b.AsDouble()
	}
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindNil:
		return true
	case KindBool:
		return a.num == b.num
	case KindString:
		return a.str == b.str
	case KindArray, KindMap, KindStructInstance, KindClassInstance,
		KindNativeClassInstance, KindNativeStructInstance:
		return a.obj == b.obj
	case KindFunction, KindNative, KindProcess, KindClass, KindStruct,
		KindNativeClass, KindNativeStruct:
		return a.num == b.num
	case KindPointer:
		return a.ptr == b.ptr
	case KindModuleRef:
		return a.num == b.num
	default:
		return false
	}
}

func isIntegral(k Kind) bool {
	return k == KindInt || k == KindUint || k == KindByte
}

// FormatNumber renders a numeric Value the way PRINT and string
// concatenation do: integers without a decimal point, floats/doubles
// with Go's shortest round-trippable representation.
func FormatNumber(v Value) string {
	switch v.Kind {
	case KindInt:
		return itoa(v.AsInt())
	case KindUint:
		return utoa(v.AsUint())
	case KindByte:
		return utoa(uint64(v.AsByte()))
	case KindFloat, KindDouble:
		return ftoa(v.AsDouble())
	default:
		return ""
	}
}

func itoa(i int64) string {
	return int64ToString(i)
}
func utoa(u uint64) string {
	return uint64ToString(u)
}
func ftoa(f float64) string {
	return float64ToString(f)
}
