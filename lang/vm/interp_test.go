// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package vm

import (
	"bytes"
	"testing"

	"github.com/akadjoker/wdiv/internal/wdivcfg"
	"github.com/akadjoker/wdiv/lang/chunk"
	"github.com/akadjoker/wdiv/lang/opcode"
	"github.com/akadjoker/wdiv/lang/value"
)

// ---- bytecode builder helpers ----------------------------------------------

// asm accumulates opcodes and inline operands into a chunk, attributing
// every byte to line 1 unless told otherwise; tests don't exercise line
// reporting so a flat line number keeps the helpers short.
type asm struct {
	c *chunk.Chunk
}

func newAsm() *asm { return &asm{c: chunk.New()} }

func (a *asm) op(o opcode.Op) *asm {
	a.c.Write(byte(o), 1)
	return a
}

func (a *asm) byteArg(b byte) *asm {
	a.c.Write(b, 1)
	return a
}

func (a *asm) shortArg(v uint16) *asm {
	a.c.WriteShort(v, 1)
	return a
}

func (a *asm) constant(v value.Value) *asm {
	k := a.c.AddConstant(v)
	return a.op(opcode.CONSTANT).shortArg(uint16(k))
}

func (a *asm) done() *chunk.Chunk {
	a.c.Freeze()
	return a.c
}

// newTestVM creates a VM with the engine's default limits, a large enough
// instruction budget that a single update() tick finishes any test program.
func newTestVM() *VM {
	limits := wdivcfg.Default()
	limits.InstructionBudget = 10000
	v := New(limits)
	var buf bytes.Buffer
	v.Stdout = &buf
	return v
}

// runOnce registers fn as a single-fiber process's entry point, spawns it and
// advances the scheduler one tick, which is enough for any straight-line
// program ending in RETURN or HALT to finish.
func runOnce(t *testing.T, vm *VM, fn *FunctionDef) *Process {
	t.Helper()
	def := &ProcessDef{Name: "main", EntryFn: fn, FiberCount: 1}
	vm.RegisterProcess(def)
	p, err := vm.Spawn("main", nil)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	vm.Update(0.016)
	return p
}

func strVal(vm *VM, s string) value.Value { return value.Str(vm.Strings.Intern(s)) }

// ---- arithmetic -------------------------------------------------------------

func TestAdd(t *testing.T) {
	vm := newTestVM()
	a := newAsm()
	a.constant(value.Int(10))
	a.constant(value.Int(32))
	a.op(opcode.ADD)
	nameIdx := a.c.AddConstant(strVal(vm, "result"))
	a.op(opcode.DEFINE_GLOBAL).shortArg(uint16(nameIdx))
	a.constant(value.Nil)
	a.op(opcode.RETURN)
	fn := &FunctionDef{Name: "main", Arity: 0, Chunk: a.done()}

	runOnce(t, vm, fn)

	got, ok := vm.Global("result")
	if !ok {
		t.Fatal("global result not defined")
	}
	if got.AsInt() != 42 {
		t.Errorf("result = %d; want 42", got.AsInt())
	}
}

func TestDivByZero(t *testing.T) {
	vm := newTestVM()
	a := newAsm()
	a.constant(value.Int(10))
	a.constant(value.Int(0))
	a.op(opcode.DIV)
	a.op(opcode.POP)
	a.constant(value.Nil)
	a.op(opcode.RETURN)
	fn := &FunctionDef{Name: "main", Arity: 0, Chunk: a.done()}

	p := runOnce(t, vm, fn)
	if p.State != ProcessDead {
		t.Fatalf("process state = %v; want ProcessDead (uncaught division by zero)", p.State)
	}
	if p.exitCode == 0 {
		t.Errorf("exitCode = 0; want nonzero after an uncaught error")
	}
}

func TestStringConcatViaAdd(t *testing.T) {
	vm := newTestVM()
	a := newAsm()
	a.constant(strVal(vm, "foo"))
	a.constant(strVal(vm, "bar"))
	a.op(opcode.ADD)
	nameIdx := a.c.AddConstant(strVal(vm, "result"))
	a.op(opcode.DEFINE_GLOBAL).shortArg(uint16(nameIdx))
	a.constant(value.Nil)
	a.op(opcode.RETURN)
	fn := &FunctionDef{Name: "main", Arity: 0, Chunk: a.done()}

	runOnce(t, vm, fn)

	got, _ := vm.Global("result")
	if got.AsString().String() != "foobar" {
		t.Errorf("result = %q; want %q", got.AsString().String(), "foobar")
	}
}

// ---- control flow -----------------------------------------------------------

func TestJumpIfFalseSkipsThen(t *testing.T) {
	vm := newTestVM()
	a := newAsm()
	nameIdx := a.c.AddConstant(strVal(vm, "hit"))

	a.constant(value.Bool(false))
	a.op(opcode.JUMP_IF_FALSE)
	patchAt := a.c.Len()
	a.shortArg(0) // patched below
	a.op(opcode.POP)
	a.constant(value.Bool(true))
	a.op(opcode.DEFINE_GLOBAL).shortArg(uint16(nameIdx))
	skipTo := a.c.Len()
	a.c.PatchShort(patchAt, uint16(skipTo-(patchAt+2)))
	a.op(opcode.POP)
	a.constant(value.Nil)
	a.op(opcode.RETURN)
	fn := &FunctionDef{Name: "main", Arity: 0, Chunk: a.done()}

	runOnce(t, vm, fn)

	if _, ok := vm.Global("hit"); ok {
		t.Error("global hit was defined; JUMP_IF_FALSE should have skipped the then-branch")
	}
}

// ---- collections ------------------------------------------------------------

func TestArrayPushAndLen(t *testing.T) {
	vm := newTestVM()
	a := newAsm()
	a.op(opcode.DEFINE_ARRAY).shortArg(0)
	a.constant(value.Int(7))
	nameIdx := a.c.AddConstant(strVal(vm, "push"))
	a.op(opcode.INVOKE).shortArg(uint16(nameIdx)).byteArg(1)
	a.op(opcode.LEN)
	arrName := a.c.AddConstant(strVal(vm, "n"))
	a.op(opcode.DEFINE_GLOBAL).shortArg(uint16(arrName))
	a.constant(value.Nil)
	a.op(opcode.RETURN)
	fn := &FunctionDef{Name: "main", Arity: 0, Chunk: a.done()}

	runOnce(t, vm, fn)

	got, ok := vm.Global("n")
	if !ok || got.AsInt() != 1 {
		t.Errorf("n = %v (ok=%v); want 1", got, ok)
	}
}

// ---- suspension ---------------------------------------------------------

func TestYieldSuspendsFiber(t *testing.T) {
	vm := newTestVM()
	a := newAsm()
	a.constant(value.Double(1000))
	a.op(opcode.YIELD)
	a.constant(value.Nil)
	a.op(opcode.RETURN)
	fn := &FunctionDef{Name: "main", Arity: 0, Chunk: a.done()}

	def := &ProcessDef{Name: "sleeper", EntryFn: fn, FiberCount: 1}
	vm.RegisterProcess(def)
	p, err := vm.Spawn("sleeper", nil)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	vm.Update(0.016)

	if p.Fibers[0].State != FiberSuspended {
		t.Fatalf("fiber state = %v; want FiberSuspended", p.Fibers[0].State)
	}
	if p.State == ProcessDead {
		t.Fatal("process died; YIELD should only suspend the fiber, not the process")
	}
}

// ---- exceptions ---------------------------------------------------------

func TestTryCatchHandlesThrow(t *testing.T) {
	vm := newTestVM()
	a := newAsm()

	a.op(opcode.TRY)
	tryPatch := a.c.Len()
	a.shortArg(0) // catchIP, patched
	a.shortArg(noHandlerAddr)
	a.constant(value.Int(99))
	a.op(opcode.THROW)
	catchAt := a.c.Len()
	a.c.PatchShort(tryPatch, uint16(catchAt))
	// catch: stack has the thrown value
	caughtName := a.c.AddConstant(strVal(vm, "caught"))
	a.op(opcode.DEFINE_GLOBAL).shortArg(uint16(caughtName))
	a.op(opcode.POP_TRY)
	a.constant(value.Nil)
	a.op(opcode.RETURN)
	fn := &FunctionDef{Name: "main", Arity: 0, Chunk: a.done()}

	p := runOnce(t, vm, fn)
	if p.State == ProcessDead && p.exitCode != 0 {
		t.Fatalf("process terminated with exitCode %d; the throw should have been caught", p.exitCode)
	}
	if _, ok := vm.Global("caught"); !ok {
		t.Error("global caught was never defined; TRY/THROW did not reach the catch branch")
	}
}
