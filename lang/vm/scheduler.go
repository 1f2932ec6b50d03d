// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package vm

import "github.com/akadjoker/wdiv/lang/value"

// Scheduler owns the alive-process list and drives one tick of every
// process's fibers, round-robin, per call to update(dt). It replaces the
// teacher's single-threaded block-mining loop with a cooperative,
// real-time frame loop: no process ever blocks the others beyond its own
// per-tick instruction budget.
type Scheduler struct {
	vm *VM

	alive []*Process
	index map[int32]*Process

	currentTimeS float64
}

func newScheduler(v *VM) *Scheduler {
	return &Scheduler{vm: v, index: make(map[int32]*Process)}
}

// byID looks up a live process by id in O(1); used by property access on
// a process value that may not be the currently-running one.
func (s *Scheduler) byID(id int32) (*Process, bool) {
	p, ok := s.index[id]
	return p, ok
}

// spawn clones a fresh Process from def, seeds its private slots from
// args (per ArgsNames), starts its fibers and appends it to alive.
func (s *Scheduler) spawn(def *ProcessDef, args []value.Value) (*Process, error) {
	id := s.vm.nextProcessID
	s.vm.nextProcessID++

	p := &Process{
		ID:    id,
		Def:   def,
		State: ProcessRunning,
	}
	for i := range p.Privates {
		p.Privates[i] = value.Nil
	}
	p.Privates[PrivID] = value.ProcessID(id)
	for i, slot := range def.ArgsNames {
		if slot == discardArg || i >= len(args) {
			continue
		}
		p.Privates[slot] = args[i]
	}

	fiberCount := def.FiberCount
	if fiberCount < 1 {
		fiberCount = 1
	}
	p.Fibers = make([]*Fiber, fiberCount)
	limits := s.vm.Limits
	for i := 0; i < fiberCount; i++ {
		f := newFiber(limits.StackMax, limits.FramesMax, limits.GosubMax, limits.MaxLayers)
		if i == 0 && def.EntryFn != nil {
			f.State = FiberRunning
			if err := f.pushFrame(def.EntryFn, 0); err != nil {
				return nil, err
			}
			if err := f.push(value.ProcessID(id)); err != nil {
				return nil, err
			}
		}
		p.Fibers[i] = f
	}

	s.alive = append(s.alive, p)
	s.index[p.ID] = p
	if s.vm.hooks.OnStart != nil {
		s.vm.hooks.OnStart(s.vm, p)
	}
	return p, nil
}

// update runs one scheduler tick: every live, non-suspended process gets
// its currently-picked fiber stepped for up to the configured instruction
// budget, fibers round-robin within a process once their current one
// yields or dies, and dead processes are reaped at the end of the tick.
func (s *Scheduler) update(dtSeconds float64) {
	s.currentTimeS += dtSeconds

	for _, p := range s.alive {
		if p.State == ProcessDead {
			continue
		}
		if p.State == ProcessSuspended {
			if s.currentTimeS < p.ResumeTimeS {
				continue
			}
			p.State = ProcessRunning
		}

		s.stepProcess(p, dtSeconds)

		if s.vm.hooks.OnUpdate != nil && p.State != ProcessDead {
			s.vm.hooks.OnUpdate(s.vm, p, dtSeconds)
		}
	}

	s.reap()
}

// stepProcess runs the process's fibers round-robin for one tick: each
// live fiber gets to execute until it yields, frames, gosubs-and-returns
// past the instruction budget boundary, or dies. A process is done for
// the tick once every fiber has yielded or died.
func (s *Scheduler) stepProcess(p *Process, dtSeconds float64) {
	budget := s.vm.Limits.InstructionBudget
	anyAlive := false

	for i, f := range p.Fibers {
		if f == nil || f.State == FiberDead {
			continue
		}
		if f.State == FiberSuspended {
			if s.currentTimeS < f.ResumeTimeS {
				anyAlive = true
				continue
			}
			f.State = FiberRunning
		}

		p.currentFiberIndex = i
		run(s.vm, p, f, budget, dtSeconds)

		if p.State != ProcessRunning {
			// FRAME suspended the whole process, or EXIT killed it:
			// either way the remaining fibers don't get a turn this tick.
			return
		}

		if f.State != FiberDead {
			anyAlive = true
		}
	}

	if !anyAlive {
		p.State = ProcessDead
	}
}

// reap removes every dead process from the alive list, invoking
// OnDestroy first. Compaction happens here, not in sweep: process
// identity (handles held by script code via GetPrivate("id")) stays
// stable for the lifetime of the process, and nothing outside the
// scheduler holds a raw index into alive.
func (s *Scheduler) reap() {
	live := s.alive[:0]
	for _, p := range s.alive {
		if p.State == ProcessDead {
			if s.vm.hooks.OnDestroy != nil {
				s.vm.hooks.OnDestroy(s.vm, p, p.exitCode)
			}
			delete(s.index, p.ID)
			continue
		}
		live = append(live, p)
	}
	s.alive = live
}
