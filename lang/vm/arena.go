// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package vm

import (
	"github.com/edsrzf/mmap-go"

	"github.com/akadjoker/wdiv/internal/wdivlog"
	"github.com/akadjoker/wdiv/lang/value"
)

// largeAllocThreshold is the size above which a native-struct buffer is
// backed by an anonymous mmap region instead of a Go slice, keeping very
// large host buffers off the Go heap/GC.
const largeAllocThreshold = 1 << 20 // 1 MiB

// InstancePool owns every GC-tracked object arena plus the mark-sweep
// collector. It replaces the two original process-wide singletons (the
// string pool lives alongside it on the VM, not here) with plain fields
// on an explicit context, per the re-architecture guidance against
// global singletons.
type InstancePool struct {
	vm *VM

	arrays            []*ArrayInstance
	maps              []*MapInstance
	structInstances   []*StructInstance
	classInstances    []*ClassInstance
	nativeClassInsts  []*NativeClassInstance
	nativeStructInsts []*NativeStructInstance

	largeBuffers map[*NativeStructInstance]mmap.MMap

	bytesAllocated int64
	nextGC         int64

	log *wdivlog.Logger
}

func newInstancePool(v *VM, initialGC int) *InstancePool {
	return &InstancePool{
		vm:     v,
		nextGC: int64(initialGC),
		log:    wdivlog.Default.WithPrefix("gc"),
	}
}

func (p *InstancePool) CreateArray(reserve int) value.Handle {
	a := &ArrayInstance{Elems: make([]value.Value, 0, reserve)}
	p.arrays = append(p.arrays, a)
	p.account(int64(reserve) * 32)
	return value.Handle{Arena: value.ArenaArray, Index: uint32(len(p.arrays) - 1)}
}

func (p *InstancePool) CreateMap() value.Handle {
	m := newMapInstance()
	p.maps = append(p.maps, m)
	p.account(64)
	return value.Handle{Arena: value.ArenaMap, Index: uint32(len(p.maps) - 1)}
}

func (p *InstancePool) CreateStructInstance(def *StructDef) value.Handle {
	s := &StructInstance{Def: def, Fields: make([]value.Value, def.FieldCount)}
	p.structInstances = append(p.structInstances, s)
	p.account(int64(def.FieldCount) * 32)
	return value.Handle{Arena: value.ArenaStructInstance, Index: uint32(len(p.structInstances) - 1)}
}

func (p *InstancePool) CreateClassInstance(def *ClassDef) value.Handle {
	c := &ClassInstance{Class: def, Fields: make([]value.Value, def.FieldCount)}
	for i := range c.Fields {
		c.Fields[i] = value.Nil
	}
	p.classInstances = append(p.classInstances, c)
	p.account(int64(def.FieldCount) * 32)
	return value.Handle{Arena: value.ArenaClassInstance, Index: uint32(len(p.classInstances) - 1)}
}

func (p *InstancePool) CreateNativeClassInstance(def *NativeClassDef, userData interface{}) value.Handle {
	n := &NativeClassInstance{Def: def, UserData: userData}
	p.nativeClassInsts = append(p.nativeClassInsts, n)
	p.account(64)
	return value.Handle{Arena: value.ArenaNativeClassInstance, Index: uint32(len(p.nativeClassInsts) - 1)}
}

func (p *InstancePool) CreateNativeStructInstance(def *NativeStructDef) value.Handle {
	n := &NativeStructInstance{Def: def}
	if def.StructSize >= largeAllocThreshold {
		region, err := mmap.MapRegion(nil, def.StructSize, mmap.RDWR, mmap.ANON, 0)
		if err == nil {
			n.Buffer = []byte(region)
			if p.largeBuffers == nil {
				p.largeBuffers = make(map[*NativeStructInstance]mmap.MMap)
			}
			p.largeBuffers[n] = region
		}
	}
	if n.Buffer == nil {
		n.Buffer = make([]byte, def.StructSize)
	}
	p.nativeStructInsts = append(p.nativeStructInsts, n)
	p.account(int64(def.StructSize))
	return value.Handle{Arena: value.ArenaNativeStructInstance, Index: uint32(len(p.nativeStructInsts) - 1)}
}

func (p *InstancePool) Array(h value.Handle) *ArrayInstance         { return p.arrays[h.Index] }
func (p *InstancePool) Map(h value.Handle) *MapInstance             { return p.maps[h.Index] }
func (p *InstancePool) StructInst(h value.Handle) *StructInstance   { return p.structInstances[h.Index] }
func (p *InstancePool) ClassInst(h value.Handle) *ClassInstance     { return p.classInstances[h.Index] }
func (p *InstancePool) NativeClassInst(h value.Handle) *NativeClassInstance {
	return p.nativeClassInsts[h.Index]
}
func (p *InstancePool) NativeStructInst(h value.Handle) *NativeStructInstance {
	return p.nativeStructInsts[h.Index]
}

func (p *InstancePool) account(n int64) {
	p.bytesAllocated += n
	if p.bytesAllocated > p.nextGC {
		p.Collect()
	}
}

// Collect runs one mark-sweep cycle. It may only be called at an
// instruction boundary; the interpreter never holds an unmarked
// intermediate off the fiber value stack, so every live object is
// reachable from the declared roots.
func (p *InstancePool) Collect() {
	before := p.bytesAllocated
	p.clearMarks()
	p.markRoots()
	p.sweep()
	if p.nextGC < 1024 {
		p.nextGC = 1024
	} else {
		p.nextGC *= 2
	}
	p.log.Debug("collected", "before", before, "after", p.bytesAllocated, "nextGC", p.nextGC)
}

func (p *InstancePool) clearMarks() {
	for _, a := range p.arrays {
		if a != nil {
			a.marked = false
		}
	}
	for _, m := range p.maps {
		if m != nil {
			m.marked = false
		}
	}
	for _, s := range p.structInstances {
		if s != nil {
			s.marked = false
		}
	}
	for _, c := range p.classInstances {
		if c != nil {
			c.marked = false
		}
	}
	for _, n := range p.nativeClassInsts {
		if n != nil {
			n.marked = false
		}
	}
	for _, n := range p.nativeStructInsts {
		if n != nil {
			n.marked = false
		}
	}
}

// markRoots marks every value on every fiber's value stack, all globals,
// all constants, and all live-process privates, then transitively traces
// from there.
func (p *InstancePool) markRoots() {
	var worklist []value.Value

	for _, proc := range p.vm.scheduler.alive {
		for i := 0; i < len(proc.Privates); i++ {
			worklist = append(worklist, proc.Privates[i])
		}
		for _, f := range proc.Fibers {
			if f == nil {
				continue
			}
			for i := 0; i < f.stackTop; i++ {
				worklist = append(worklist, f.stack[i])
			}
		}
	}
	for _, g := range p.vm.globals {
		worklist = append(worklist, g)
	}
	for _, fn := range p.vm.functionList {
		worklist = append(worklist, fn.Chunk.Constants...)
	}

	for len(worklist) > 0 {
		v := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		p.trace(v, &worklist)
	}
}

// trace marks v's backing object (if any) and, on first marking, enqueues
// every Value it references.
func (p *InstancePool) trace(v value.Value, worklist *[]value.Value) {
	if !v.IsObject() {
		return
	}
	h := v.AsHandle()
	switch v.Kind {
	case value.KindArray:
		a := p.arrays[h.Index]
		if a.marked {
			return
		}
		a.marked = true
		*worklist = append(*worklist, a.Elems...)
	case value.KindMap:
		m := p.maps[h.Index]
		if m.marked {
			return
		}
		m.marked = true
		for _, k := range m.keys {
			*worklist = append(*worklist, m.values[k])
		}
	case value.KindStructInstance:
		s := p.structInstances[h.Index]
		if s.marked {
			return
		}
		s.marked = true
		*worklist = append(*worklist, s.Fields...)
	case value.KindClassInstance:
		c := p.classInstances[h.Index]
		if c.marked {
			return
		}
		c.marked = true
		*worklist = append(*worklist, c.Fields...)
	case value.KindNativeClassInstance:
		p.nativeClassInsts[h.Index].marked = true
	case value.KindNativeStructInstance:
		p.nativeStructInsts[h.Index].marked = true
	}
}

// sweep reclaims every unmarked object, invoking registered native
// destructors before freeing the backing bytes. Because other arenas reference array/map/
// struct/class slots only via stable Handle.Index, arenas are swept by
// nil-ing the dead slot rather than physically removing it, so indices
// already stored in live Values never dangle.
func (p *InstancePool) sweep() {
	var freed int64
	for i, a := range p.arrays {
		if a != nil && !a.marked {
			freed += int64(len(a.Elems)) * 32
			p.arrays[i] = nil
		}
	}
	for i, m := range p.maps {
		if m != nil && !m.marked {
			freed += 64
			p.maps[i] = nil
		}
	}
	for i, s := range p.structInstances {
		if s != nil && !s.marked {
			freed += int64(len(s.Fields)) * 32
			p.structInstances[i] = nil
		}
	}
	for i, c := range p.classInstances {
		if c != nil && !c.marked {
			freed += int64(len(c.Fields)) * 32
			p.classInstances[i] = nil
		}
	}
	for i, n := range p.nativeClassInsts {
		if n != nil && !n.marked {
			if n.Def.Destructor != nil {
				n.Def.Destructor(p.vm, n.UserData)
			}
			freed += 64
			p.nativeClassInsts[i] = nil
		}
	}
	for i, n := range p.nativeStructInsts {
		if n != nil && !n.marked {
			if n.Def.Destructor != nil {
				n.Def.Destructor(p.vm, n.Buffer)
			}
			if region, ok := p.largeBuffers[n]; ok {
				region.Unmap()
				delete(p.largeBuffers, n)
			}
			freed += int64(len(n.Buffer))
			p.nativeStructInsts[i] = nil
		}
	}
	p.bytesAllocated -= freed
	if p.bytesAllocated < 0 {
		p.bytesAllocated = 0
	}
}
