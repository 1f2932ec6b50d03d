// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package vm

import "github.com/akadjoker/wdiv/lang/value"

// FiberState is the lifecycle state of a single coroutine.
type FiberState uint8

const (
	FiberRunning FiberState = iota
	FiberSuspended
	FiberDead
)

// callFrame is a single activation record: the function being executed,
// the saved instruction pointer to resume on return, and the stack index
// where the callee's local slots begin (slot 0 is the callee itself).
type callFrame struct {
	fn    *FunctionDef
	ip    int
	slots int
}

// tryHandler is one entry of a fiber's exception handler stack: catch and
// finally addresses, a stack-restore mark, and the bookkeeping flags
// needed to implement pending-error/pending-return semantics across a
// finally block.
type tryHandler struct {
	catchIP      int
	finallyIP    int
	hasCatch     bool
	hasFinally   bool
	stackMark    int
	frameMark    int
	catchUsed    bool
	inFinally    bool
	pendingError *RuntimeError
	pendingValue value.Value
	hasPending   bool
}

// Fiber is a cooperative coroutine: its own value stack, call-frame
// stack, gosub return stack and try-handler stack. Fibers never run
// concurrently with each other or with another fiber's native call; the
// scheduler guarantees exactly one is "current" at a time.
type Fiber struct {
	State        FiberState
	ResumeTimeS  float64
	stack        []value.Value
	stackTop     int
	frames       []callFrame
	frameCount   int
	gosub        []int
	gosubTop     int
	tryStack     []tryHandler
	tryTop       int
}

func newFiber(stackMax, framesMax, gosubMax, tryMax int) *Fiber {
	return &Fiber{
		stack:    make([]value.Value, stackMax),
		frames:   make([]callFrame, framesMax),
		gosub:    make([]int, gosubMax),
		tryStack: make([]tryHandler, tryMax),
		State:    FiberDead,
	}
}

func (f *Fiber) push(v value.Value) error {
	if f.stackTop >= len(f.stack) {
		return ErrStackOverflow
	}
	f.stack[f.stackTop] = v
	f.stackTop++
	return nil
}

func (f *Fiber) pop() (value.Value, error) {
	if f.stackTop == 0 {
		return value.Nil, ErrStackUnderflow
	}
	f.stackTop--
	return f.stack[f.stackTop], nil
}

func (f *Fiber) peek(distance int) (value.Value, error) {
	idx := f.stackTop - 1 - distance
	if idx < 0 {
		return value.Nil, ErrStackUnderflow
	}
	return f.stack[idx], nil
}

func (f *Fiber) currentFrame() *callFrame {
	return &f.frames[f.frameCount-1]
}

func (f *Fiber) pushFrame(fn *FunctionDef, slots int) error {
	if f.frameCount >= len(f.frames) {
		return ErrFrameOverflow
	}
	f.frames[f.frameCount] = callFrame{fn: fn, slots: slots}
	f.frameCount++
	return nil
}

func (f *Fiber) reset() {
	f.stackTop = 0
	f.frameCount = 0
	f.gosubTop = 0
	f.tryTop = 0
	f.State = FiberDead
	f.ResumeTimeS = 0
}

// Disassemble renders the instruction at the fiber's current IP in the
// top frame, in the style of the original RuntimeDebugger: used by the
// CLI's --trace flag, not a general debugger protocol.
func (f *Fiber) Disassemble() string {
	if f.frameCount == 0 {
		return "<no frame>"
	}
	fr := f.currentFrame()
	if fr.ip >= fr.fn.Chunk.Len() {
		return "<end of chunk>"
	}
	return disassembleInstruction(fr.fn.Chunk, fr.ip)
}
