// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package vm

import "github.com/akadjoker/wdiv/lang/value"

// Reserved private slot indices, visible from scripts by name.
const (
	PrivX = iota
	PrivY
	PrivZ
	PrivGraph
	PrivAngle
	PrivSize
	PrivFlags
	PrivID
	PrivFather
	numReservedPrivates
)

var reservedPrivateNames = map[string]int{
	"x": PrivX, "y": PrivY, "z": PrivZ, "graph": PrivGraph,
	"angle": PrivAngle, "size": PrivSize, "flags": PrivFlags,
	"id": PrivID, "father": PrivFather,
}

// readOnlyPrivates cannot be written from script code.
var readOnlyPrivates = map[int]bool{PrivID: true, PrivFather: true}

// ProcessState is the lifecycle state of a process instance.
type ProcessState uint8

const (
	ProcessRunning ProcessState = iota
	ProcessSuspended
	ProcessDead
)

// discardArg marks an argsNames slot that should not be written to a
// private on spawn.
const discardArg = 255

// ProcessDef is a process blueprint: its fiber entry points, the private
// slot each spawn argument is auto-written to (discardArg = none), and
// the number of fibers it declares.
type ProcessDef struct {
	Name       string
	EntryFn    *FunctionDef
	ArgsNames  []byte
	FiberCount int
}

// Process is a live instance cloned from a ProcessDef.
type Process struct {
	ID          int32
	Def         *ProcessDef
	State       ProcessState
	ResumeTimeS float64
	Privates    [16]value.Value
	Fibers      []*Fiber

	currentFiberIndex int
	nextFiberIndex    int
	exitCode          int
}

func (p *Process) GetPrivate(name string) (value.Value, bool) {
	idx, ok := reservedPrivateNames[name]
	if !ok {
		return value.Nil, false
	}
	return p.Privates[idx], true
}

func (p *Process) SetPrivate(name string, v value.Value) error {
	idx, ok := reservedPrivateNames[name]
	if !ok {
		return ErrUndefined
	}
	if readOnlyPrivates[idx] {
		return ErrReadOnly
	}
	p.Privates[idx] = v
	return nil
}
