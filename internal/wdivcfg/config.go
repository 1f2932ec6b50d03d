// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package wdivcfg loads the engine's tunable limits from an optional TOML
// file, falling back to the built-in defaults.
package wdivcfg

import (
	"os"

	"github.com/naoina/toml"
)

// Limits holds every engine-tunable size limit named in the embedding
// contract. The zero Limits is not usable; use Default.
type Limits struct {
	MaxPrivates int `toml:"max_privates"`
	MaxFibers   int `toml:"max_fibers"`
	StackMax    int `toml:"stack_max"`
	FramesMax   int `toml:"frames_max"`
	GosubMax    int `toml:"gosub_max"`
	MaxLayers   int `toml:"max_layers"`

	// InitialGCThreshold is the byte count at which the first garbage
	// collection is triggered; it doubles after every collection.
	InitialGCThreshold int `toml:"initial_gc_threshold"`

	// InstructionBudget bounds how many bytecode instructions a fiber may
	// execute before the scheduler preempts it, even absent a YIELD/FRAME.
	InstructionBudget int `toml:"instruction_budget"`
}

// Default returns the engine's built-in limits.
func Default() Limits {
	return Limits{
		MaxPrivates:        16,
		MaxFibers:          8,
		StackMax:           1024,
		FramesMax:          1024,
		GosubMax:           16,
		MaxLayers:          6,
		InitialGCThreshold: 1024,
		InstructionBudget:  100000,
	}
}

// Load reads limits from a TOML file at path, overlaying them onto the
// defaults. A missing path is not an error; Default() is returned unchanged.
func Load(path string) (Limits, error) {
	limits := Default()
	if path == "" {
		return limits, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return limits, nil
	}
	if err != nil {
		return limits, err
	}
	if err := toml.Unmarshal(data, &limits); err != nil {
		return limits, err
	}
	return limits, nil
}
