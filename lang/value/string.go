// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package value

import (
	lru "github.com/hashicorp/golang-lru"
)

// inlineStringLimit is the largest payload stored without a heap buffer.
// Go strings are already heap-backed slices under the hood, so this
// constant exists to match the original's inline/heap split for
// documentation purposes and for String.Inline.
const inlineStringLimit = 23

// String is a canonical, immutable interned string. Two String pointers
// are equal if and only if their contents are equal: identity implies
// content equality and vice versa, for the lifetime of the owning Pool.
type String struct {
	Chars string
	Hash  uint32
	id    uint32
}

// Len returns the length in bytes.
func (s *String) Len() int { return len(s.Chars) }

// Inline reports whether s would have used inline storage in the ported
// C++ original (length <= 23 bytes); purely informational in Go.
func (s *String) Inline() bool { return len(s.Chars) <= inlineStringLimit }

func (s *String) String() string { return s.Chars }

func fnv1a(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

// Pool interns strings so that equal contents always yield the same
// pointer. A bounded LRU cache fronts the canonical table so long-running
// scripts that intern many ephemeral strings (e.g. string.format results)
// do not pay a full map scan on every lookup; entries falling out of the
// LRU are not un-interned, they simply fall back to the canonical map.
type Pool struct {
	canonical map[string]*String
	lru       *lru.Cache
	nextID    uint32
}

// NewPool creates an empty string pool.
func NewPool() *Pool {
	cache, err := lru.New(4096)
	if err != nil {
		panic(err) // fixed positive size, cannot fail
	}
	return &Pool{canonical: make(map[string]*String), lru: cache}
}

// Intern returns the canonical *String for s, creating it on first use.
func (p *Pool) Intern(s string) *String {
	if v, ok := p.lru.Get(s); ok {
		return v.(*String)
	}
	if str, ok := p.canonical[s]; ok {
		p.lru.Add(s, str)
		return str
	}
	str := &String{Chars: s, Hash: fnv1a(s), id: p.nextID}
	p.nextID++
	p.canonical[s] = str
	p.lru.Add(s, str)
	return str
}

// Len returns the number of distinct strings interned.
func (p *Pool) Len() int { return len(p.canonical) }

// Clear releases every interned string. Only valid when no live Value
// references a String from this pool (interpreter teardown).
func (p *Pool) Clear() {
	p.canonical = make(map[string]*String)
	p.lru.Purge()
}
