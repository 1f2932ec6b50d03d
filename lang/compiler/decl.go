// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package compiler

import (
	"github.com/akadjoker/wdiv/lang/opcode"
	"github.com/akadjoker/wdiv/lang/token"
	"github.com/akadjoker/wdiv/lang/value"
	"github.com/akadjoker/wdiv/lang/vm"
)

// compileFuncChunk compiles `(params) { body }` into a standalone
// FunctionDef: a fresh funcState with its own chunk and local stack,
// slot 0 already reserved by newFuncState for whatever the calling
// convention puts there (self for methods, the process id for a
// process entry, the callee itself otherwise). className is non-empty
// only while compiling a method, so self/super resolve correctly.
func (p *Parser) compileFuncChunk(name, className string) *vm.FunctionDef {
	enclosing := p.fn
	p.fn = newFuncState(enclosing)
	p.fn.className = className

	p.expect(token.LPAREN, "expected '(' after "+name)
	arity := 0
	if !p.check(token.RPAREN) {
		for {
			pname := p.expect(token.IDENT, "expected a parameter name").Literal
			p.declareLocal(pname)
			arity++
			if !p.match(token.COMMA) {
				break
			}
		}
	}
	p.expect(token.RPAREN, "expected ')' after parameters")

	p.blockBody()
	p.checkPendingLabels()
	if className != "" && name == className {
		// A constructor evaluates to the instance held in slot 0.
		p.emitShortArg(opcode.GET_LOCAL, 0)
	} else {
		p.emit(opcode.NIL)
	}
	p.emit(opcode.RETURN)

	chunk := p.fn.chunk
	chunk.Freeze()
	fn := &vm.FunctionDef{Name: name, Arity: arity, Chunk: chunk, HasReturn: true}
	p.fn = enclosing
	return fn
}

func (p *Parser) functionDeclaration() {
	name := p.expect(token.IDENT, "expected a function name").Literal
	fn := p.compileFuncChunk(name, "")
	id := p.vm.RegisterFunction(fn)
	p.emitConstant(value.FunctionID(id))
	p.emitShortArg(opcode.DEFINE_GLOBAL, p.nameConstant(name))
}

// classDeclaration registers the ClassDef before compiling any method
// body, so a constructor or method that refers to its own class by name
// (recursive construction, a self-referential factory method) resolves
// it via the global binding emitted at the end of this function, and so
// `extends Base` can look Base up by name if it is defined earlier in
// the same source unit.
//
// Fields are bare `var name;` declarations only - no inline
// initializers - since every instance's Fields slice is zero-valued
// (Nil) at construction and is expected to be populated from the
// constructor body via `self.field = value`, the way libwdiv's own
// object model leaves field initialization to user code rather than a
// synthesized per-field assignment sequence.
func (p *Parser) classDeclaration() {
	name := p.expect(token.IDENT, "expected a class name").Literal

	var super *vm.ClassDef
	if p.match(token.EXTENDS) {
		superName := p.expect(token.IDENT, "expected a base class name after extends").Literal
		id, ok := p.vm.ClassByName(superName)
		if !ok {
			p.errorAt(p.prev, "unknown base class %q", superName)
		}
		super = p.vm.Class(id)
	}

	def := &vm.ClassDef{
		Name:       name,
		Super:      super,
		FieldSlots: map[string]int{},
		Methods:    map[string]*vm.FunctionDef{},
	}
	if super != nil {
		for fname, slot := range super.FieldSlots {
			def.FieldSlots[fname] = slot
		}
		def.FieldCount = super.FieldCount
	}
	id := p.vm.RegisterClass(def)

	p.expect(token.LBRACE, "expected '{' after class name")
	for !p.check(token.RBRACE) && !p.check(token.EOF) {
		switch {
		case p.match(token.VAR):
			fname := p.expect(token.IDENT, "expected a field name").Literal
			p.match(token.SEMICOLON)
			if _, exists := def.FieldSlots[fname]; exists {
				p.errorAt(p.prev, "field %q already declared", fname)
			}
			def.FieldSlots[fname] = def.FieldCount
			def.FieldCount++

		case p.match(token.DEF):
			mname := p.expect(token.IDENT, "expected a method name").Literal
			method := p.compileFuncChunk(mname, name)
			if mname == name {
				def.Constructor = method
			} else {
				def.Methods[mname] = method
			}

		default:
			p.errorAt(p.cur, "expected a field or method declaration in class body")
		}
	}
	p.expect(token.RBRACE, "expected '}' to close class body")

	p.emitConstant(value.ClassID(id))
	p.emitShortArg(opcode.DEFINE_GLOBAL, p.nameConstant(name))
}

// structDeclaration compiles a plain data aggregate: fields only, no
// methods and no constructor, matching StructDef's shape (there is no
// Constructor field on StructDef the way there is on ClassDef - CALL on
// a struct identity just zero-fills a fresh instance).
func (p *Parser) structDeclaration() {
	name := p.expect(token.IDENT, "expected a struct name").Literal
	def := &vm.StructDef{Name: name, FieldSlots: map[string]int{}}
	id := p.vm.RegisterStruct(def)

	p.expect(token.LBRACE, "expected '{' after struct name")
	for !p.check(token.RBRACE) && !p.check(token.EOF) {
		p.expect(token.VAR, "expected a field declaration in struct body")
		fname := p.expect(token.IDENT, "expected a field name").Literal
		p.match(token.SEMICOLON)
		if _, exists := def.FieldSlots[fname]; exists {
			p.errorAt(p.prev, "field %q already declared", fname)
		}
		def.FieldSlots[fname] = def.FieldCount
		def.FieldCount++
	}
	p.expect(token.RBRACE, "expected '}' to close struct body")

	p.emitConstant(value.StructID(id))
	p.emitShortArg(opcode.DEFINE_GLOBAL, p.nameConstant(name))
}

// processDeclaration compiles `process Name(args) { fiber { body } }`.
// Declared parameters bind to named Privates slots (GET_PRIVATE/
// SET_PRIVATE), not ordinary locals, since Privates lives on the
// Process itself and is what Scheduler.spawn seeds from the caller's
// argument list. Only one fiber block is compiled into ProcessDef's
// single EntryFn/FiberCount=1 shape: the scheduler only ever starts a
// frame on fiber index 0, so a second fiber block would have no code
// path that ever runs it.
func (p *Parser) processDeclaration() {
	name := p.expect(token.IDENT, "expected a process name").Literal
	p.expect(token.LPAREN, "expected '(' after process name")

	enclosing := p.fn
	p.fn = newFuncState(enclosing)
	p.fn.isProcess = true

	var argsNames []byte
	if !p.check(token.RPAREN) {
		slot := byte(0)
		for {
			pname := p.expect(token.IDENT, "expected a parameter name").Literal
			if slot >= 16 {
				p.errorAt(p.prev, "a process supports at most 16 parameters")
			}
			if p.fn.privates == nil {
				p.fn.privates = map[string]byte{}
			}
			p.fn.privates[pname] = slot
			argsNames = append(argsNames, slot)
			slot++
			if !p.match(token.COMMA) {
				break
			}
		}
	}
	p.expect(token.RPAREN, "expected ')' after process parameters")

	p.expect(token.LBRACE, "expected '{' to open process body")
	p.expect(token.FIBER, "expected a fiber block in process body")
	p.blockStatement()
	if p.check(token.FIBER) {
		p.errorAt(p.cur, "only one fiber block is supported per process")
	}
	p.expect(token.RBRACE, "expected '}' to close process body")

	p.checkPendingLabels()
	p.emit(opcode.HALT)

	chunk := p.fn.chunk
	chunk.Freeze()
	entry := &vm.FunctionDef{Name: name, Arity: 0, Chunk: chunk, HasReturn: false}
	p.fn = enclosing

	p.vm.RegisterProcess(&vm.ProcessDef{
		Name:       name,
		EntryFn:    entry,
		ArgsNames:  argsNames,
		FiberCount: 1,
	})
}

// nativeDeclaration binds `native name;` to whatever host-registered
// identity already carries that name - a NativeFunc, NativeClassDef or
// NativeStructDef - as a compile-time lookup resolved once and baked in
// as a CONSTANT, the same way a class or struct declaration binds its
// own identity value. Native modules (RegisterModule/AddFunc) are not
// resolvable here: VM exposes no name-based lookup for a module or one
// of its functions, only Module(id uint32) by numeric id, so dotted
// native-module access (`math.sqrt`) is left for a future host API.
func (p *Parser) nativeDeclaration() {
	name := p.expect(token.IDENT, "expected a native name").Literal
	p.match(token.SEMICOLON)

	if id, ok := p.vm.NativeByName(name); ok {
		p.emitConstant(value.NativeID(id))
	} else if id, ok := p.vm.NativeClassByName(name); ok {
		p.emitConstant(value.NativeClassID(id))
	} else if id, ok := p.vm.NativeStructByName(name); ok {
		p.emitConstant(value.NativeStructID(id))
	} else {
		p.errorAt(p.prev, "unknown native %q", name)
	}
	p.emitShortArg(opcode.DEFINE_GLOBAL, p.nameConstant(name))
}
