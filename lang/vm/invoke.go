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

	"github.com/akadjoker/wdiv/lang/value"
)

// invoke implements the INVOKE fast path: for strings/arrays/maps it
// dispatches straight to an intrinsic method without ever materializing
// a bound-method value; for class and native-class instances it falls
// through to a normal frame push / native call. It reports (handled,
// err): handled=false with err=nil means "no such method", which the
// caller turns into ErrUndefined.
func invoke(vm *VM, f *Fiber, recv value.Value, recvIdx int, name string, argc int) (bool, error) {
	switch recv.Kind {
	case value.KindString:
		return invokeStringMethod(vm, f, recv, recvIdx, name, argc)
	case value.KindArray:
		return invokeArrayMethod(vm, f, recv, recvIdx, name, argc)
	case value.KindMap:
		return invokeMapMethod(vm, f, recv, recvIdx, name, argc)
	case value.KindClassInstance:
		inst := vm.Instances.ClassInst(recv.AsHandle())
		fn, _ := inst.Class.ResolveMethod(name)
		if fn == nil {
			return false, nil
		}
		if fn.Arity != argc {
			return true, ErrArity
		}
		return true, f.pushFrame(fn, recvIdx)
	case value.KindNativeClassInstance:
		inst := vm.Instances.NativeClassInst(recv.AsHandle())
		m, ok := inst.Def.Methods[name]
		if !ok {
			return false, nil
		}
		prevFiber, prevBase, prevArgc := vm.activeFiber, vm.activeBase, vm.activeArgc
		vm.activeFiber, vm.activeBase, vm.activeArgc = f, recvIdx+1, argc
		result, err := m(vm, inst, argc)
		vm.activeFiber, vm.activeBase, vm.activeArgc = prevFiber, prevBase, prevArgc
		if err != nil {
			return true, err
		}
		f.stackTop = recvIdx
		return true, f.push(result)
	default:
		return false, nil
	}
}

func argAt(f *Fiber, recvIdx, i int) value.Value { return f.stack[recvIdx+1+i] }

func finishIntrinsic(f *Fiber, recvIdx int, result value.Value) (bool, error) {
	f.stackTop = recvIdx
	return true, f.push(result)
}

func invokeStringMethod(vm *VM, f *Fiber, recv value.Value, recvIdx int, name string, argc int) (bool, error) {
	s := recv.AsString().Chars
	switch name {
	case "length":
		return finishIntrinsic(f, recvIdx, value.Int(int64(len(s))))
	case "upper":
		return finishIntrinsic(f, recvIdx, vm.PushString(strings.ToUpper(s)))
	case "lower":
		return finishIntrinsic(f, recvIdx, vm.PushString(strings.ToLower(s)))
	case "trim":
		return finishIntrinsic(f, recvIdx, vm.PushString(strings.TrimSpace(s)))
	case "sub":
		if argc != 2 {
			return true, ErrArity
		}
		start, end := int(argAt(f, recvIdx, 0).AsInt()), int(argAt(f, recvIdx, 1).AsInt())
		if start < 0 || end > len(s) || start > end {
			return true, ErrBounds
		}
		return finishIntrinsic(f, recvIdx, vm.PushString(s[start:end]))
	case "replace":
		if argc != 2 {
			return true, ErrArity
		}
		old, repl := argAt(f, recvIdx, 0).AsString().String(), argAt(f, recvIdx, 1).AsString().String()
		return finishIntrinsic(f, recvIdx, vm.PushString(strings.ReplaceAll(s, old, repl)))
	case "starts_with":
		return finishIntrinsic(f, recvIdx, value.Bool(strings.HasPrefix(s, argAt(f, recvIdx, 0).AsString().String())))
	case "ends_with":
		return finishIntrinsic(f, recvIdx, value.Bool(strings.HasSuffix(s, argAt(f, recvIdx, 0).AsString().String())))
	case "index_of":
		return finishIntrinsic(f, recvIdx, value.Int(int64(strings.Index(s, argAt(f, recvIdx, 0).AsString().String()))))
	case "contains":
		return finishIntrinsic(f, recvIdx, value.Bool(strings.Contains(s, argAt(f, recvIdx, 0).AsString().String())))
	case "repeat":
		return finishIntrinsic(f, recvIdx, vm.PushString(strings.Repeat(s, int(argAt(f, recvIdx, 0).AsInt()))))
	case "at":
		i := int(argAt(f, recvIdx, 0).AsInt())
		if i < 0 || i >= len(s) {
			return true, ErrBounds
		}
		return finishIntrinsic(f, recvIdx, value.Byte(s[i]))
	case "concat":
		return finishIntrinsic(f, recvIdx, vm.PushString(s+argAt(f, recvIdx, 0).AsString().String()))
	default:
		return false, nil
	}
}

func invokeArrayMethod(vm *VM, f *Fiber, recv value.Value, recvIdx int, name string, argc int) (bool, error) {
	a := vm.Instances.Array(recv.AsHandle())
	switch name {
	case "length":
		return finishIntrinsic(f, recvIdx, value.Int(int64(len(a.Elems))))
	case "push":
		for i := 0; i < argc; i++ {
			a.Elems = append(a.Elems, argAt(f, recvIdx, i))
		}
		return finishIntrinsic(f, recvIdx, recv)
	case "pop":
		if len(a.Elems) == 0 {
			return true, ErrBounds
		}
		v := a.Elems[len(a.Elems)-1]
		a.Elems = a.Elems[:len(a.Elems)-1]
		return finishIntrinsic(f, recvIdx, v)
	case "back":
		if len(a.Elems) == 0 {
			return true, ErrBounds
		}
		return finishIntrinsic(f, recvIdx, a.Elems[len(a.Elems)-1])
	case "clear":
		a.Elems = a.Elems[:0]
		return finishIntrinsic(f, recvIdx, value.Nil)
	case "has", "contains":
		for _, e := range a.Elems {
			if value.Equal(e, argAt(f, recvIdx, 0)) {
				return finishIntrinsic(f, recvIdx, value.Bool(true))
			}
		}
		return finishIntrinsic(f, recvIdx, value.Bool(false))
	case "remove":
		i := int(argAt(f, recvIdx, 0).AsInt())
		if i < 0 || i >= len(a.Elems) {
			return true, ErrBounds
		}
		a.Elems = append(a.Elems[:i], a.Elems[i+1:]...)
		return finishIntrinsic(f, recvIdx, value.Nil)
	case "at":
		i := int(argAt(f, recvIdx, 0).AsInt())
		if i < 0 || i >= len(a.Elems) {
			return true, ErrBounds
		}
		return finishIntrinsic(f, recvIdx, a.Elems[i])
	case "index_of":
		for i, e := range a.Elems {
			if value.Equal(e, argAt(f, recvIdx, 0)) {
				return finishIntrinsic(f, recvIdx, value.Int(int64(i)))
			}
		}
		return finishIntrinsic(f, recvIdx, value.Int(-1))
	case "concat":
		other := vm.Instances.Array(argAt(f, recvIdx, 0).AsHandle())
		merged := append(append([]value.Value{}, a.Elems...), other.Elems...)
		h := vm.Instances.CreateArray(len(merged))
		vm.Instances.Array(h).Elems = merged
		return finishIntrinsic(f, recvIdx, value.Obj(value.KindArray, h))
	default:
		return false, nil
	}
}

func invokeMapMethod(vm *VM, f *Fiber, recv value.Value, recvIdx int, name string, argc int) (bool, error) {
	m := vm.Instances.Map(recv.AsHandle())
	switch name {
	case "length":
		return finishIntrinsic(f, recvIdx, value.Int(int64(m.Len())))
	case "has":
		_, ok := m.Get(mapKey(argAt(f, recvIdx, 0)))
		return finishIntrinsic(f, recvIdx, value.Bool(ok))
	case "remove":
		m.Delete(mapKey(argAt(f, recvIdx, 0)))
		return finishIntrinsic(f, recvIdx, value.Nil)
	case "clear":
		for _, k := range append([]string{}, m.Keys()...) {
			m.Delete(k)
		}
		return finishIntrinsic(f, recvIdx, value.Nil)
	case "keys":
		h := vm.Instances.CreateArray(m.Len())
		arr := vm.Instances.Array(h)
		for _, k := range m.Keys() {
			arr.Elems = append(arr.Elems, vm.PushString(k))
		}
		return finishIntrinsic(f, recvIdx, value.Obj(value.KindArray, h))
	case "values":
		h := vm.Instances.CreateArray(m.Len())
		arr := vm.Instances.Array(h)
		for _, k := range m.Keys() {
			v, _ := m.Get(k)
			arr.Elems = append(arr.Elems, v)
		}
		return finishIntrinsic(f, recvIdx, value.Obj(value.KindArray, h))
	default:
		return false, nil
	}
}
