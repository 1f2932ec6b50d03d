// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package vm

import (
	"testing"

	"github.com/akadjoker/wdiv/lang/opcode"
	"github.com/akadjoker/wdiv/lang/value"
)

func TestCallConstructsClassInstanceAndSetsField(t *testing.T) {
	vm := newTestVM()

	def := &ClassDef{
		Name:       "Point",
		FieldSlots: map[string]int{"x": 0, "y": 1},
		FieldCount: 2,
	}
	classID := vm.RegisterClass(def)

	a := newAsm()
	a.constant(value.ClassID(classID))
	a.op(opcode.CALL).byteArg(0) // Point() with no constructor

	xName := a.c.AddConstant(strVal(vm, "x"))
	a.op(opcode.DUP)
	a.constant(value.Int(3))
	a.op(opcode.SET_PROPERTY).shortArg(uint16(xName))
	a.op(opcode.POP) // discard SET_PROPERTY's pushed value

	globalName := a.c.AddConstant(strVal(vm, "p"))
	a.op(opcode.DEFINE_GLOBAL).shortArg(uint16(globalName))

	a.constant(value.Nil)
	a.op(opcode.RETURN)
	fn := &FunctionDef{Name: "main", Arity: 0, Chunk: a.done()}

	runOnce(t, vm, fn)

	got, ok := vm.Global("p")
	if !ok || got.Kind != value.KindClassInstance {
		t.Fatalf("global p = %v (ok=%v); want a class instance", got, ok)
	}
	inst := vm.Instances.ClassInst(got.AsHandle())
	if inst.Fields[0].AsInt() != 3 {
		t.Errorf("field x = %d; want 3", inst.Fields[0].AsInt())
	}
}

func TestCallNativeFunc(t *testing.T) {
	vm := newTestVM()
	vm.RegisterNative("double", func(vm *VM, argc int) (value.Value, error) {
		return value.Int(vm.ArgInt(0) * 2), nil
	}, 1)
	nativeID, _ := vm.NativeByName("double")

	a := newAsm()
	a.constant(value.NativeID(nativeID))
	a.constant(value.Int(21))
	a.op(opcode.CALL).byteArg(1)
	nameIdx := a.c.AddConstant(strVal(vm, "result"))
	a.op(opcode.DEFINE_GLOBAL).shortArg(uint16(nameIdx))
	a.constant(value.Nil)
	a.op(opcode.RETURN)
	fn := &FunctionDef{Name: "main", Arity: 0, Chunk: a.done()}

	runOnce(t, vm, fn)

	got, ok := vm.Global("result")
	if !ok || got.AsInt() != 42 {
		t.Errorf("result = %v (ok=%v); want 42", got, ok)
	}
}

func TestSpawnCreatesProcess(t *testing.T) {
	vm := newTestVM()

	childFn := &FunctionDef{Name: "child", Arity: 0, Chunk: newAsm().
		constant(value.Nil).op(opcode.RETURN).done()}
	vm.RegisterProcess(&ProcessDef{Name: "child", EntryFn: childFn, FiberCount: 1})

	a := newAsm()
	a.constant(strVal(vm, "child"))
	a.op(opcode.SPAWN).byteArg(0)
	nameIdx := a.c.AddConstant(strVal(vm, "childID"))
	a.op(opcode.DEFINE_GLOBAL).shortArg(uint16(nameIdx))
	a.constant(value.Nil)
	a.op(opcode.RETURN)
	fn := &FunctionDef{Name: "main", Arity: 0, Chunk: a.done()}

	runOnce(t, vm, fn)

	got, ok := vm.Global("childID")
	if !ok || got.Kind != value.KindProcess {
		t.Fatalf("childID = %v (ok=%v); want a process value", got, ok)
	}
	if _, alive := vm.Process(got.AsID()); !alive {
		t.Error("spawned child process not found in scheduler")
	}
}
