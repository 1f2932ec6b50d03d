// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package vm

import (
	"fmt"
	"strings"

	"github.com/akadjoker/wdiv/lang/opcode"
	"github.com/akadjoker/wdiv/lang/value"
)

// noHandlerAddr marks a TRY operand slot with no catch (or no finally)
// clause; 0 is a valid chunk offset (the entry instruction) so it cannot
// double as the sentinel.
const noHandlerAddr = 0xFFFF

// run executes fiber f of process p for up to budget instructions, or
// until it suspends (YIELD/FRAME), dies (RETURN of the last frame, HALT,
// EXIT, or an uncaught error) or the whole process dies. Reaching the
// budget with the fiber still runnable is a cooperative preemption: f
// keeps FiberRunning and simply gets walked again next tick.
func run(vm *VM, p *Process, f *Fiber, budget int, dtSeconds float64) {
	for executed := 0; executed < budget; executed++ {
		if f.frameCount == 0 {
			f.State = FiberDead
			return
		}
		fr := f.currentFrame()
		c := fr.fn.Chunk
		if fr.ip >= c.Len() {
			f.State = FiberDead
			return
		}
		line := c.LineAt(fr.ip)
		op := opcode.Op(c.Code[fr.ip])
		fr.ip++

		if vm.traceEnabled {
			vm.Log.Debug(disassembleInstruction(c, fr.ip-1))
		}

		switch op {
		case opcode.CONSTANT:
			k := c.ReadShort(fr.ip)
			fr.ip += 2
			_ = f.push(c.Constants[k])

		case opcode.NIL:
			_ = f.push(value.Nil)
		case opcode.TRUE:
			_ = f.push(value.Bool(true))
		case opcode.FALSE:
			_ = f.push(value.Bool(false))

		case opcode.POP:
			_, _ = f.pop()
		case opcode.DUP:
			v, _ := f.peek(0)
			_ = f.push(v)
		case opcode.SWAP:
			a, _ := f.pop()
			b, _ := f.pop()
			_ = f.push(a)
			_ = f.push(b)
		case opcode.COPY2:
			a, _ := f.peek(1)
			b, _ := f.peek(0)
			_ = f.push(a)
			_ = f.push(b)
		case opcode.DISCARD:
			n := int(c.Code[fr.ip])
			fr.ip++
			for i := 0; i < n; i++ {
				_, _ = f.pop()
			}

		case opcode.ADD, opcode.SUB, opcode.MUL, opcode.DIV, opcode.MOD:
			b, _ := f.pop()
			a, _ := f.pop()
			res, err := vm.binaryOp(op, a, b)
			if err != nil {
				if !vm.raiseAt(p, f, fr, line, err) {
					return
				}
				continue
			}
			_ = f.push(res)

		case opcode.NEG:
			a, _ := f.pop()
			res, err := negate(a)
			if err != nil {
				if !vm.raiseAt(p, f, fr, line, err) {
					return
				}
				continue
			}
			_ = f.push(res)

		case opcode.AND, opcode.OR, opcode.XOR, opcode.SHL, opcode.SHR:
			b, _ := f.pop()
			a, _ := f.pop()
			res, err := bitwiseBinary(op, a, b)
			if err != nil {
				if !vm.raiseAt(p, f, fr, line, err) {
					return
				}
				continue
			}
			_ = f.push(res)

		case opcode.NOT:
			a, _ := f.pop()
			res, err := bitwiseNot(a)
			if err != nil {
				if !vm.raiseAt(p, f, fr, line, err) {
					return
				}
				continue
			}
			_ = f.push(res)

		case opcode.EQ, opcode.NEQ:
			b, _ := f.pop()
			a, _ := f.pop()
			eq := value.Equal(a, b)
			if op == opcode.NEQ {
				eq = !eq
			}
			_ = f.push(value.Bool(eq))

		case opcode.LT, opcode.LE, opcode.GT, opcode.GE:
			b, _ := f.pop()
			a, _ := f.pop()
			res, err := compare(op, a, b)
			if err != nil {
				if !vm.raiseAt(p, f, fr, line, err) {
					return
				}
				continue
			}
			_ = f.push(res)

		case opcode.GET_LOCAL:
			slot := int(c.ReadShort(fr.ip))
			fr.ip += 2
			_ = f.push(f.stack[fr.slots+slot])
		case opcode.SET_LOCAL:
			slot := int(c.ReadShort(fr.ip))
			fr.ip += 2
			v, _ := f.peek(0)
			f.stack[fr.slots+slot] = v

		case opcode.GET_GLOBAL:
			k := c.ReadShort(fr.ip)
			fr.ip += 2
			name := c.Constants[k].AsString().String()
			v, ok := vm.Global(name)
			if !ok {
				if !vm.raiseAt(p, f, fr, line, ErrUndefined) {
					return
				}
				continue
			}
			_ = f.push(v)
		case opcode.SET_GLOBAL:
			k := c.ReadShort(fr.ip)
			fr.ip += 2
			name := c.Constants[k].AsString().String()
			v, _ := f.peek(0)
			if err := vm.SetGlobal(name, v); err != nil {
				if !vm.raiseAt(p, f, fr, line, err) {
					return
				}
				continue
			}
		case opcode.DEFINE_GLOBAL:
			k := c.ReadShort(fr.ip)
			fr.ip += 2
			name := c.Constants[k].AsString().String()
			v, _ := f.pop()
			vm.DefineGlobal(name, v)

		case opcode.GET_PRIVATE:
			idx := c.Code[fr.ip]
			fr.ip++
			_ = f.push(p.Privates[idx])
		case opcode.SET_PRIVATE:
			idx := c.Code[fr.ip]
			fr.ip++
			v, _ := f.peek(0)
			if readOnlyPrivates[int(idx)] {
				if !vm.raiseAt(p, f, fr, line, ErrReadOnly) {
					return
				}
				continue
			}
			p.Privates[idx] = v

		case opcode.JUMP:
			off := c.ReadShort(fr.ip)
			fr.ip += 2
			fr.ip += int(off)
		case opcode.JUMP_IF_FALSE:
			off := c.ReadShort(fr.ip)
			fr.ip += 2
			cond, _ := f.peek(0)
			if !value.IsTruthy(cond) {
				fr.ip += int(off)
			}
		case opcode.LOOP:
			off := c.ReadShort(fr.ip)
			fr.ip += 2
			fr.ip -= int(off)

		case opcode.GOSUB:
			off := c.ReadShort(fr.ip)
			fr.ip += 2
			if f.gosubTop >= len(f.gosub) {
				if !vm.raiseAt(p, f, fr, line, ErrGosubOverflow) {
					return
				}
				continue
			}
			f.gosub[f.gosubTop] = fr.ip
			f.gosubTop++
			fr.ip = int(off)
		case opcode.RETURN_SUB:
			if f.gosubTop == 0 {
				if !vm.raiseAt(p, f, fr, line, ErrStackUnderflow) {
					return
				}
				continue
			}
			f.gosubTop--
			fr.ip = f.gosub[f.gosubTop]

		case opcode.CALL:
			argc := int(c.Code[fr.ip])
			fr.ip++
			calleeIdx := f.stackTop - 1 - argc
			if calleeIdx < 0 {
				if !vm.raiseAt(p, f, fr, line, ErrStackUnderflow) {
					return
				}
				continue
			}
			if err := vmCall(vm, f, f.stack[calleeIdx], calleeIdx, argc); err != nil {
				if !vm.raiseAt(p, f, fr, line, err) {
					return
				}
			}

		case opcode.INVOKE:
			k := c.ReadShort(fr.ip)
			argc := int(c.Code[fr.ip+2])
			fr.ip += 3
			name := c.Constants[k].AsString().String()
			recvIdx := f.stackTop - 1 - argc
			handled, err := invoke(vm, f, f.stack[recvIdx], recvIdx, name, argc)
			if err == nil && !handled {
				err = ErrUndefined
			}
			if err != nil {
				if !vm.raiseAt(p, f, fr, line, err) {
					return
				}
			}

		case opcode.SUPER_INVOKE:
			ownerK := c.ReadShort(fr.ip)
			nameK := c.ReadShort(fr.ip + 2)
			argc := int(c.Code[fr.ip+4])
			fr.ip += 5
			ownerName := c.Constants[ownerK].AsString().String()
			methodName := c.Constants[nameK].AsString().String()
			recvIdx := f.stackTop - 1 - argc
			ownerID, ok := vm.ClassByName(ownerName)
			var fn *FunctionDef
			if ok {
				owner := vm.Class(ownerID)
				if owner.Super != nil {
					fn, _ = owner.Super.ResolveMethod(methodName)
				}
			}
			if fn == nil {
				if !vm.raiseAt(p, f, fr, line, ErrUndefined) {
					return
				}
				continue
			}
			if fn.Arity != argc {
				if !vm.raiseAt(p, f, fr, line, ErrArity) {
					return
				}
				continue
			}
			if err := f.pushFrame(fn, recvIdx); err != nil {
				if !vm.raiseAt(p, f, fr, line, err) {
					return
				}
			}

		case opcode.RETURN:
			result, _ := f.pop()
			if doReturn(f, result) {
				f.State = FiberDead
				return
			}

		case opcode.SPAWN:
			argc := int(c.Code[fr.ip])
			fr.ip++
			calleeIdx := f.stackTop - 1 - argc
			if err := vmSpawn(vm, f, calleeIdx, argc); err != nil {
				if !vm.raiseAt(p, f, fr, line, err) {
					return
				}
			}

		case opcode.YIELD:
			ms, _ := f.pop()
			f.State = FiberSuspended
			f.ResumeTimeS = vm.scheduler.currentTimeS + ms.AsDouble()/1000.0
			return
		case opcode.FRAME:
			pct, _ := f.pop()
			p.State = ProcessSuspended
			p.ResumeTimeS = vm.scheduler.currentTimeS + dtSeconds*pct.AsDouble()/100.0
			return
		case opcode.EXIT:
			code, _ := f.pop()
			p.exitCode = int(code.AsInt())
			for _, fb := range p.Fibers {
				if fb != nil {
					fb.reset()
				}
			}
			p.State = ProcessDead
			return

		case opcode.DEFINE_ARRAY:
			n := int(c.ReadShort(fr.ip))
			fr.ip += 2
			h := vm.Instances.CreateArray(n)
			elems := make([]value.Value, n)
			for i := n - 1; i >= 0; i-- {
				elems[i], _ = f.pop()
			}
			vm.Instances.Array(h).Elems = elems
			_ = f.push(value.Obj(value.KindArray, h))

		case opcode.DEFINE_MAP:
			n := int(c.ReadShort(fr.ip))
			fr.ip += 2
			h := vm.Instances.CreateMap()
			m := vm.Instances.Map(h)
			pairs := make([]value.Value, 2*n)
			for i := 2*n - 1; i >= 0; i-- {
				pairs[i], _ = f.pop()
			}
			for i := 0; i < n; i++ {
				m.Set(mapKey(pairs[2*i]), pairs[2*i+1])
			}
			_ = f.push(value.Obj(value.KindMap, h))

		case opcode.GET_INDEX:
			idx, _ := f.pop()
			recv, _ := f.pop()
			v, err := getIndex(vm, recv, idx)
			if err != nil {
				if !vm.raiseAt(p, f, fr, line, err) {
					return
				}
				continue
			}
			_ = f.push(v)
		case opcode.SET_INDEX:
			val, _ := f.pop()
			idx, _ := f.pop()
			recv, _ := f.pop()
			if err := setIndex(recv, idx, val, vm); err != nil {
				if !vm.raiseAt(p, f, fr, line, err) {
					return
				}
				continue
			}
			_ = f.push(val)

		case opcode.GET_PROPERTY:
			k := c.ReadShort(fr.ip)
			fr.ip += 2
			name := c.Constants[k].AsString().String()
			recv, _ := f.pop()
			v, err := getProperty(vm, recv, name)
			if err != nil {
				if !vm.raiseAt(p, f, fr, line, err) {
					return
				}
				continue
			}
			_ = f.push(v)
		case opcode.SET_PROPERTY:
			k := c.ReadShort(fr.ip)
			fr.ip += 2
			name := c.Constants[k].AsString().String()
			v, _ := f.pop()
			recv, _ := f.pop()
			if err := setProperty(vm, recv, name, v); err != nil {
				if !vm.raiseAt(p, f, fr, line, err) {
					return
				}
				continue
			}
			_ = f.push(v)

		case opcode.ITER_NEXT:
			iter, _ := f.peek(0)
			seq, _ := f.peek(1)
			_ = f.push(value.Bool(iterHas(vm, seq, iter)))
		case opcode.ITER_VALUE:
			iter, _ := f.pop()
			seq, _ := f.peek(0)
			val := iterValue(vm, seq, iter)
			_ = f.push(value.Int(iter.AsInt() + 1))
			_ = f.push(val)

		case opcode.TRY:
			catchIP := c.ReadShort(fr.ip)
			finallyIP := c.ReadShort(fr.ip + 2)
			fr.ip += 4
			if f.tryTop >= len(f.tryStack) {
				if !vm.raiseAt(p, f, fr, line, ErrTryOverflow) {
					return
				}
				continue
			}
			f.tryStack[f.tryTop] = tryHandler{
				catchIP:    int(catchIP),
				finallyIP:  int(finallyIP),
				hasCatch:   catchIP != noHandlerAddr,
				hasFinally: finallyIP != noHandlerAddr,
				stackMark:  f.stackTop,
				frameMark:  f.frameCount,
			}
			f.tryTop++
		case opcode.POP_TRY:
			if f.tryTop > 0 {
				f.tryTop--
			}
		case opcode.THROW:
			errVal, _ := f.pop()
			rtErr := &RuntimeError{Kind: ErrUncaught, Message: stringify(errVal), Line: line, Function: fr.fn.Name}
			if !tryHandleError(f, errVal, rtErr) {
				vm.terminate(p, f, rtErr)
				return
			}
		case opcode.ENTER_CATCH, opcode.ENTER_FINALLY:
			// markers only, for disassembly; the jump already landed here
		case opcode.EXIT_FINALLY:
			if f.tryTop == 0 {
				continue
			}
			h := f.tryStack[f.tryTop-1]
			f.tryTop--
			if !h.hasPending {
				continue
			}
			if h.pendingError != nil {
				if !tryHandleError(f, h.pendingValue, h.pendingError) {
					vm.terminate(p, f, h.pendingError)
					return
				}
				continue
			}
			if doReturn(f, h.pendingValue) {
				f.State = FiberDead
				return
			}

		case opcode.PRINT:
			n := int(c.Code[fr.ip])
			fr.ip++
			vals := make([]value.Value, n)
			for i := n - 1; i >= 0; i-- {
				vals[i], _ = f.pop()
			}
			parts := make([]string, n)
			for i, v := range vals {
				parts[i] = stringify(v)
			}
			fmt.Fprintln(vm.Stdout, strings.Join(parts, " "))

		case opcode.LEN:
			recv, _ := f.pop()
			v, err := lengthOf(vm, recv)
			if err != nil {
				if !vm.raiseAt(p, f, fr, line, err) {
					return
				}
				continue
			}
			_ = f.push(v)

		case opcode.HALT:
			f.State = FiberDead
			if p.currentFiberIndex == 0 {
				p.State = ProcessDead
			}
			return

		default:
			if !vm.raiseAt(p, f, fr, line, ErrInvalidOpcode) {
				return
			}
		}
	}
	// budget exhausted mid-fiber: cooperative preemption, f stays Running
}

// doReturn pops fr's frame, resets the stack to its base and pushes
// result, reporting whether the fiber has no frames left (i.e. is done).
func doReturn(f *Fiber, result value.Value) bool {
	fr := f.currentFrame()
	base := fr.slots
	f.frameCount--
	f.stackTop = base
	_ = f.push(result)
	return f.frameCount == 0
}

// tryHandleError walks f's try stack outward from the top looking for an
// unused catch, or else an unentered finally, restoring the stack/frame
// snapshot and redirecting ip there. A handler whose catch already ran
// and has no finally (or whose finally already ran) is discarded and the
// search continues at the next enclosing handler.
func tryHandleError(f *Fiber, errVal value.Value, rtErr *RuntimeError) bool {
	for f.tryTop > 0 {
		h := &f.tryStack[f.tryTop-1]
		if h.hasCatch && !h.catchUsed {
			f.stackTop = h.stackMark
			f.frameCount = h.frameMark
			h.catchUsed = true
			_ = f.push(errVal)
			f.frames[h.frameMark-1].ip = h.catchIP
			return true
		}
		if h.hasFinally && !h.inFinally {
			f.stackTop = h.stackMark
			f.frameCount = h.frameMark
			h.inFinally = true
			h.pendingError = rtErr
			h.pendingValue = errVal
			h.hasPending = true
			f.frames[h.frameMark-1].ip = h.finallyIP
			return true
		}
		f.tryTop--
	}
	return false
}

// raiseAt builds a RuntimeError at the current instruction, attempts to
// route it through f's try stack, and otherwise terminates the fiber. It
// returns whether execution should continue (true = handled/redirected).
func (vm *VM) raiseAt(p *Process, f *Fiber, fr *callFrame, line int, kind error) bool {
	rtErr := &RuntimeError{Kind: kind, Message: kind.Error(), Line: line, Function: fr.fn.Name}
	errVal := vm.PushString(rtErr.Error())
	if tryHandleError(f, errVal, rtErr) {
		return true
	}
	vm.terminate(p, f, rtErr)
	return false
}

// terminate ends fiber f after an uncaught error: it is logged, the
// fiber dies, and if f is the process's main fiber the whole process
// dies too (its on_destroy hook still fires, from the scheduler's reap).
func (vm *VM) terminate(p *Process, f *Fiber, rtErr *RuntimeError) {
	vm.Log.Error("uncaught error", "err", rtErr.Error(), "process", p.ID)
	f.reset()
	if p.currentFiberIndex == 0 {
		p.State = ProcessDead
		p.exitCode = 1
	}
}
