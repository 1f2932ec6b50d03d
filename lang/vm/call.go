// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package vm

import "github.com/akadjoker/wdiv/lang/value"

// call dispatches CALL n: the stack is [callee, arg1, …, argn] with
// callee at calleeIdx. Each callee kind implements the construction
// rule from the calling convention (functions push a frame, natives run
// to completion synchronously, class/native-class/native-struct callees
// construct an instance in place of the callee slot).
func vmCall(vm *VM, f *Fiber, callee value.Value, calleeIdx, argc int) error {
	switch callee.Kind {
	case value.KindFunction:
		fn := vm.Function(callee.AsID())
		if fn.Arity != argc {
			return ErrArity
		}
		return f.pushFrame(fn, calleeIdx)

	case value.KindNative:
		entry := vm.nativeFuncList[callee.AsID()]
		if entry.arity >= 0 && entry.arity != argc {
			return ErrArity
		}
		prevFiber, prevBase, prevArgc := vm.activeFiber, vm.activeBase, vm.activeArgc
		vm.activeFiber, vm.activeBase, vm.activeArgc = f, calleeIdx+1, argc
		result, err := entry.fn(vm, argc)
		vm.activeFiber, vm.activeBase, vm.activeArgc = prevFiber, prevBase, prevArgc
		if err != nil {
			return err
		}
		f.stackTop = calleeIdx
		return f.push(result)

	case value.KindClass:
		def := vm.Class(callee.AsID())
		h := vm.Instances.CreateClassInstance(def)
		f.stack[calleeIdx] = value.Obj(value.KindClassInstance, h)
		if def.Constructor == nil {
			f.stackTop = calleeIdx + 1
			return nil
		}
		if def.Constructor.Arity != argc {
			return ErrArity
		}
		return f.pushFrame(def.Constructor, calleeIdx)

	case value.KindStruct:
		def := vm.Struct(callee.AsID())
		if argc != 0 {
			return ErrArity
		}
		h := vm.Instances.CreateStructInstance(def)
		f.stackTop = calleeIdx
		return f.push(value.Obj(value.KindStructInstance, h))

	case value.KindNativeClass:
		def := vm.NativeClass(callee.AsID())
		if def.ArgCount >= 0 && def.ArgCount != argc {
			return ErrArity
		}
		prevFiber, prevBase, prevArgc := vm.activeFiber, vm.activeBase, vm.activeArgc
		vm.activeFiber, vm.activeBase, vm.activeArgc = f, calleeIdx+1, argc
		userData, err := def.Constructor(vm, argc)
		vm.activeFiber, vm.activeBase, vm.activeArgc = prevFiber, prevBase, prevArgc
		if err != nil {
			return err
		}
		h := vm.Instances.CreateNativeClassInstance(def, userData)
		f.stackTop = calleeIdx
		return f.push(value.Obj(value.KindNativeClassInstance, h))

	case value.KindNativeStruct:
		def := vm.NativeStruct(callee.AsID())
		h := vm.Instances.CreateNativeStructInstance(def)
		inst := vm.Instances.NativeStructInst(h)
		if def.Constructor != nil {
			if err := def.Constructor(vm, inst.Buffer); err != nil {
				return err
			}
		}
		f.stackTop = calleeIdx
		return f.push(value.Obj(value.KindNativeStructInstance, h))

	default:
		return ErrTypeMismatch
	}
}

// vmSpawn dispatches SPAWN n: the stack is [processName, arg1, …, argn]
// where processName is an interned string naming a registered
// ProcessDef. Arguments are written into the new instance's privates per
// ArgsNames and the new process's id replaces the callee slot.
func vmSpawn(vm *VM, f *Fiber, calleeIdx, argc int) error {
	nameVal := f.stack[calleeIdx]
	if !nameVal.IsString() {
		return ErrTypeMismatch
	}
	args := make([]value.Value, argc)
	copy(args, f.stack[calleeIdx+1:calleeIdx+1+argc])

	proc, err := vm.Spawn(nameVal.AsString().String(), args)
	if err != nil {
		return err
	}
	f.stackTop = calleeIdx
	return f.push(value.ProcessID(proc.ID))
}
