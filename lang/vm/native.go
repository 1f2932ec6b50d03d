// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package vm

import "github.com/akadjoker/wdiv/lang/value"

// The methods in this file are the public stack API a NativeFunc,
// NativeMethod, getter or setter uses to read its arguments and, less
// commonly, to push/pop auxiliary values. They all operate on the
// argument window of whichever native call is currently active; a
// native calling back into another native nests correctly because
// vmCall and invoke save and restore activeFiber/activeBase/activeArgc
// around every native dispatch.

// Argc returns the number of arguments passed to the active native call.
func (vm *VM) Argc() int { return vm.activeArgc }

// Arg returns argument i (0-based) of the active native call.
func (vm *VM) Arg(i int) value.Value {
	if vm.activeFiber == nil || i < 0 || i >= vm.activeArgc {
		return value.Nil
	}
	return vm.activeFiber.stack[vm.activeBase+i]
}

func (vm *VM) ArgBool(i int) bool     { return vm.Arg(i).AsBool() }
func (vm *VM) ArgInt(i int) int64     { return vm.Arg(i).AsInt() }
func (vm *VM) ArgUint(i int) uint64   { return vm.Arg(i).AsUint() }
func (vm *VM) ArgDouble(i int) float64 { return vm.Arg(i).AsDouble() }

// ArgString returns argument i's string contents, or "" if it is not a
// string (natives that require a string should check IsString first).
func (vm *VM) ArgString(i int) string {
	s := vm.Arg(i).AsString()
	if s == nil {
		return ""
	}
	return s.String()
}

// PushString interns s and returns a ready-to-return string Value. It is
// the usual way a NativeFunc produces a string result.
func (vm *VM) PushString(s string) value.Value { return value.Str(vm.Strings.Intern(s)) }

// Push/Pop/Peek/Top/SetTop give a native direct access to the active
// fiber's value stack, for natives that build up a result across several
// steps (e.g. filling an array) before returning it.
func (vm *VM) Push(v value.Value) { _ = vm.activeFiber.push(v) }

func (vm *VM) Pop() value.Value {
	v, _ := vm.activeFiber.pop()
	return v
}

func (vm *VM) Peek(distance int) value.Value {
	v, _ := vm.activeFiber.peek(distance)
	return v
}

func (vm *VM) Top() int        { return vm.activeFiber.stackTop }
func (vm *VM) SetTop(n int)    { vm.activeFiber.stackTop = n }

// Replace overwrites the value distance slots from the top.
func (vm *VM) Replace(distance int, v value.Value) {
	f := vm.activeFiber
	idx := f.stackTop - 1 - distance
	if idx >= 0 && idx < len(f.stack) {
		f.stack[idx] = v
	}
}

// Insert shifts everything above position up by one and writes v there,
// measuring position as a distance from the current top (0 = push).
func (vm *VM) Insert(distanceFromTop int, v value.Value) {
	f := vm.activeFiber
	at := f.stackTop - distanceFromTop
	if at < 0 || at > f.stackTop || f.stackTop >= len(f.stack) {
		return
	}
	copy(f.stack[at+1:f.stackTop+1], f.stack[at:f.stackTop])
	f.stack[at] = v
	f.stackTop++
}

// Remove deletes the value distance slots from the top, shifting
// everything above it down by one.
func (vm *VM) Remove(distance int) value.Value {
	f := vm.activeFiber
	at := f.stackTop - 1 - distance
	if at < 0 || at >= f.stackTop {
		return value.Nil
	}
	removed := f.stack[at]
	copy(f.stack[at:f.stackTop-1], f.stack[at+1:f.stackTop])
	f.stackTop--
	return removed
}

// Rotate cyclically shifts the top n stack values by one toward the top,
// the Lua-style `lua_rotate` primitive natives use to reorder return
// values without a temporary.
func (vm *VM) Rotate(n int) {
	f := vm.activeFiber
	if n <= 1 || n > f.stackTop {
		return
	}
	start := f.stackTop - n
	last := f.stack[f.stackTop-1]
	copy(f.stack[start+1:f.stackTop], f.stack[start:f.stackTop-1])
	f.stack[start] = last
}
