// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package vm implements the execution engine: value storage and GC,
// fibers, processes, the scheduler, the interpreter dispatch loop and
// the native bridge. It is modeled as an explicit context (*VM) passed
// to every component instead of process-wide singletons.
package vm

import (
	"io"
	"os"

	"github.com/akadjoker/wdiv/internal/wdivcfg"
	"github.com/akadjoker/wdiv/internal/wdivlog"
	"github.com/akadjoker/wdiv/lang/value"
)

// Hooks are per-process lifecycle callbacks fired by the scheduler.
type Hooks struct {
	OnStart   func(vm *VM, p *Process)
	OnUpdate  func(vm *VM, p *Process, dt float64)
	OnRender  func(vm *VM, p *Process)
	OnDestroy func(vm *VM, p *Process, exitCode int)
}

// NativeModule groups native functions and constants under a namespace,
// so a module-reference value packs (module id, func id) and dispatches
// in O(1) without a name lookup at the call site.
type NativeModule struct {
	Name      string
	ID        uint32
	Funcs     []NativeFunc
	FuncNames map[string]uint32
	Consts    map[string]value.Value
}

// VM is the interpreter context: every table and pool a running program
// needs, with no package-level mutable state anywhere in the engine. All
// identity-carrying Value kinds (function, class, struct, native class,
// native struct, native, process) hold a small integer id that indexes
// directly into one of these slices, so CALL/INVOKE dispatch never does
// a name lookup on the hot path; the maps exist only for compile-time
// and REPL name resolution.
type VM struct {
	Limits wdivcfg.Limits
	Log    *wdivlog.Logger

	Strings   *value.Pool
	Instances *InstancePool

	Stdout io.Writer

	// activeFiber/activeBase/activeArgc describe the argument window a
	// currently-executing NativeFunc/NativeMethod may read through the
	// stack API in native.go. Saved and restored around each native call
	// so a native calling another native nests correctly.
	activeFiber *Fiber
	activeBase  int
	activeArgc  int

	globals map[string]value.Value

	functionList []*FunctionDef
	functionIdx  map[string]int32

	classList []*ClassDef
	classIdx  map[string]int32

	structList []*StructDef
	structIdx  map[string]int32

	nativeClassList []*NativeClassDef
	nativeClassIdx  map[string]int32

	nativeStructList []*NativeStructDef
	nativeStructIdx  map[string]int32

	nativeFuncList []nativeFuncEntry
	nativeFuncIdx  map[string]int32

	moduleList []*NativeModule
	moduleIdx  map[string]int32

	processDefs map[string]*ProcessDef

	scheduler *Scheduler
	hooks     Hooks

	traceEnabled bool

	nextProcessID int32
}

type nativeFuncEntry struct {
	name  string
	fn    NativeFunc
	arity int
}

// New creates an empty interpreter context.
func New(limits wdivcfg.Limits) *VM {
	v := &VM{
		Limits:         limits,
		Log:            wdivlog.Default.WithPrefix("vm"),
		Strings:        value.NewPool(),
		Stdout:         os.Stdout,
		globals:        make(map[string]value.Value),
		functionIdx:    make(map[string]int32),
		classIdx:       make(map[string]int32),
		structIdx:      make(map[string]int32),
		nativeClassIdx: make(map[string]int32),
		nativeStructIdx: make(map[string]int32),
		nativeFuncIdx:  make(map[string]int32),
		moduleIdx:      make(map[string]int32),
		processDefs:    make(map[string]*ProcessDef),
		nextProcessID:  1,
	}
	v.Instances = newInstancePool(v, limits.InitialGCThreshold)
	v.scheduler = newScheduler(v)
	return v
}

// SetHooks installs the per-process lifecycle callbacks.
func (vm *VM) SetHooks(h Hooks) { vm.hooks = h }

// SetTrace toggles --trace style per-instruction disassembly logging.
func (vm *VM) SetTrace(on bool) { vm.traceEnabled = on }

// DefineGlobal installs name = v in the global namespace, as the
// compiler's DEFINE_GLOBAL does at top-level script execution time.
func (vm *VM) DefineGlobal(name string, v value.Value) { vm.globals[name] = v }

// Global looks up a global by name.
func (vm *VM) Global(name string) (value.Value, bool) {
	v, ok := vm.globals[name]
	return v, ok
}

// SetGlobal assigns to an already-defined global, returning ErrUndefined
// if name was never declared.
func (vm *VM) SetGlobal(name string, v value.Value) error {
	if _, ok := vm.globals[name]; !ok {
		return ErrUndefined
	}
	vm.globals[name] = v
	return nil
}

// RegisterFunction installs a compiled script function and returns its id.
func (vm *VM) RegisterFunction(fn *FunctionDef) int32 {
	id := int32(len(vm.functionList))
	vm.functionList = append(vm.functionList, fn)
	vm.functionIdx[fn.Name] = id
	return id
}

func (vm *VM) Function(id int32) *FunctionDef { return vm.functionList[id] }

// FunctionByName resolves a function by its declared name, for the
// compiler and the REPL.
func (vm *VM) FunctionByName(name string) (int32, bool) {
	id, ok := vm.functionIdx[name]
	return id, ok
}

// RegisterClass installs class metadata and returns its id. The caller
// is responsible for linking Super before registering subclasses.
func (vm *VM) RegisterClass(def *ClassDef) int32 {
	id := int32(len(vm.classList))
	vm.classList = append(vm.classList, def)
	vm.classIdx[def.Name] = id
	return id
}

func (vm *VM) Class(id int32) *ClassDef { return vm.classList[id] }

func (vm *VM) ClassByName(name string) (int32, bool) {
	id, ok := vm.classIdx[name]
	return id, ok
}

// RegisterStruct installs struct metadata and returns its id.
func (vm *VM) RegisterStruct(def *StructDef) int32 {
	id := int32(len(vm.structList))
	vm.structList = append(vm.structList, def)
	vm.structIdx[def.Name] = id
	return id
}

func (vm *VM) Struct(id int32) *StructDef { return vm.structList[id] }

func (vm *VM) StructByName(name string) (int32, bool) {
	id, ok := vm.structIdx[name]
	return id, ok
}

// RegisterNativeClass installs a host type and returns its id.
func (vm *VM) RegisterNativeClass(def *NativeClassDef) int32 {
	id := int32(len(vm.nativeClassList))
	vm.nativeClassList = append(vm.nativeClassList, def)
	vm.nativeClassIdx[def.Name] = id
	return id
}

func (vm *VM) NativeClass(id int32) *NativeClassDef { return vm.nativeClassList[id] }

func (vm *VM) NativeClassByName(name string) (int32, bool) {
	id, ok := vm.nativeClassIdx[name]
	return id, ok
}

// RegisterNativeStruct installs a host record type and returns its id.
func (vm *VM) RegisterNativeStruct(def *NativeStructDef) int32 {
	id := int32(len(vm.nativeStructList))
	vm.nativeStructList = append(vm.nativeStructList, def)
	vm.nativeStructIdx[def.Name] = id
	return id
}

func (vm *VM) NativeStruct(id int32) *NativeStructDef { return vm.nativeStructList[id] }

func (vm *VM) NativeStructByName(name string) (int32, bool) {
	id, ok := vm.nativeStructIdx[name]
	return id, ok
}

// RegisterNative installs a bare native function and returns its id.
func (vm *VM) RegisterNative(name string, fn NativeFunc, arity int) int32 {
	id := int32(len(vm.nativeFuncList))
	vm.nativeFuncList = append(vm.nativeFuncList, nativeFuncEntry{name: name, fn: fn, arity: arity})
	vm.nativeFuncIdx[name] = id
	return id
}

func (vm *VM) NativeByName(name string) (int32, bool) {
	id, ok := vm.nativeFuncIdx[name]
	return id, ok
}

// RegisterModule installs a namespaced group of native functions and
// constants, and returns its module id for use in ModuleRef values.
func (vm *VM) RegisterModule(name string) *NativeModule {
	m := &NativeModule{
		Name:      name,
		ID:        uint32(len(vm.moduleList)),
		FuncNames: make(map[string]uint32),
		Consts:    make(map[string]value.Value),
	}
	vm.moduleList = append(vm.moduleList, m)
	vm.moduleIdx[name] = int32(m.ID)
	return m
}

func (vm *VM) Module(id uint32) *NativeModule { return vm.moduleList[id] }

// AddFunc registers fn under name inside the module and returns its func id.
func (m *NativeModule) AddFunc(name string, fn NativeFunc) uint32 {
	id := uint32(len(m.Funcs))
	m.Funcs = append(m.Funcs, fn)
	m.FuncNames[name] = id
	return id
}

// RegisterProcess installs a process blueprint.
func (vm *VM) RegisterProcess(def *ProcessDef) { vm.processDefs[def.Name] = def }

func (vm *VM) ProcessDefByName(name string) (*ProcessDef, bool) {
	def, ok := vm.processDefs[name]
	return def, ok
}

// Update advances the scheduler by one tick. This is the embedding API's
// update(dt_seconds).
func (vm *VM) Update(dtSeconds float64) { vm.scheduler.update(dtSeconds) }

// Render invokes OnRender for every live initialized process, in
// insertion order. This is the embedding API's render().
func (vm *VM) Render() {
	for _, p := range vm.scheduler.alive {
		if p.State != ProcessDead && vm.hooks.OnRender != nil {
			vm.hooks.OnRender(vm, p)
		}
	}
}

// Spawn creates a running instance of the named process definition and
// adds it to the scheduler's alive list. This is also what the SPAWN
// opcode invokes at runtime.
func (vm *VM) Spawn(name string, args []value.Value) (*Process, error) {
	def, ok := vm.processDefs[name]
	if !ok {
		return nil, ErrUndefined
	}
	return vm.scheduler.spawn(def, args)
}

// Process looks up a live process by id, used by GET_PROPERTY/SET_PROPERTY
// when the receiver is a process value that is not necessarily "self".
func (vm *VM) Process(id int32) (*Process, bool) {
	return vm.scheduler.byID(id)
}
