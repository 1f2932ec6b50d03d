// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package compiler is a single-pass Pratt parser that emits bytecode
// directly into a lang/chunk.Chunk as it walks the token stream, the way
// libwdiv's own compiler produces opcode.Op sequences with no separate
// AST stage. It consumes lang/lexer and lang/token and registers every
// top-level function, class, struct and process it declares into a
// lang/vm.VM.
package compiler

import (
	"github.com/akadjoker/wdiv/lang/chunk"
	"github.com/akadjoker/wdiv/lang/lexer"
	"github.com/akadjoker/wdiv/lang/opcode"
	"github.com/akadjoker/wdiv/lang/token"
	"github.com/akadjoker/wdiv/lang/value"
	"github.com/akadjoker/wdiv/lang/vm"
)

// Result is everything a compile of one source unit produces: the
// top-level script function (already registered on the VM, ready to be
// spawned as a process entry point) and the raw import/include paths it
// named, left for lang/host to resolve and load in turn.
type Result struct {
	Entry   *vm.FunctionDef
	Imports []string
}

// local is a single resolvable name on a funcState's compile-time stack
// model. depth -1 marks a declared-but-not-yet-initialized local, used to
// reject `var x = x` from referring to itself.
type local struct {
	name  string
	depth int
}

// loopCtx tracks the one piece of state break/continue need: where to
// land, and how many of the currently-declared locals have to be
// discarded to get there from inside the loop body.
type loopCtx struct {
	continueTarget int
	continueBase   int // locals preserved (not discarded) when continue jumps to continueTarget
	breakBase      int // locals preserved when break jumps clear of the loop entirely
	breakJumps     []int
}

// funcState is the compile-time model of one chunk being built: its own
// local-variable stack, active loops, and (for methods) the enclosing
// class name baked into SUPER_INVOKE call sites.
type funcState struct {
	enclosing  *funcState
	chunk      *chunk.Chunk
	locals     []local
	scopeDepth int
	loops      []*loopCtx

	className string // "" outside a method body
	isMethod  bool
	isProcess bool // true while compiling a process's fiber body
	privates  map[string]byte // process parameter name -> Privates slot

	labels  map[string]int
	pending map[string][]int // label name -> GOSUB operand offsets awaiting resolution

	// tryDepth is how many TRY handlers are open on the runtime try stack
	// at the current compile point, for THIS function only (try handlers
	// never cross a call boundary). return emits one POP_TRY per open
	// handler first, so an early return never leaves a stale handler
	// pointing at a frame that no longer exists.
	tryDepth int
}

func newFuncState(enclosing *funcState) *funcState {
	fs := &funcState{
		enclosing: enclosing,
		chunk:     chunk.New(),
		labels:    make(map[string]int),
		pending:   make(map[string][]int),
	}
	// Slot 0 is always reserved for the callee/self/receiver/process-id
	// value the calling convention pushes there; user locals start at 1.
	fs.locals = append(fs.locals, local{name: "", depth: 0})
	return fs
}

// Parser is the single-pass compiler. It holds exactly one lexer cursor
// at a time; compileSpan temporarily swaps in a sub-lexer over a
// previously captured source slice (used to compile a finally block's
// statements more than once without re-parsing the enclosing construct).
type Parser struct {
	vm   *vm.VM
	file string
	src  string

	lex    *lexer.Lexer
	cur    token.Token
	prev   token.Token
	peeked *token.Token

	fn *funcState

	imports []string
}

// Compile parses src (diagnostics attributed to file) and registers every
// declaration it finds into v, returning the top-level script function.
func Compile(v *vm.VM, file, src string) (res *Result, err error) {
	p := &Parser{vm: v, file: file, src: src}

	defer func() {
		if r := recover(); r != nil {
			ce, ok := r.(*CompileError)
			if !ok {
				panic(r)
			}
			err = ce
			res = nil
		}
	}()

	p.lex = lexer.New(file, src)
	p.advance()
	p.fn = newFuncState(nil)

	for !p.check(token.EOF) {
		p.declaration()
	}
	p.checkPendingLabels()
	p.emit(opcode.HALT)
	p.fn.chunk.Freeze()

	entry := &vm.FunctionDef{Name: "<script>", Arity: 0, Chunk: p.fn.chunk}
	v.RegisterFunction(entry)
	return &Result{Entry: entry, Imports: p.imports}, nil
}

// --- token navigation ---

func (p *Parser) advance() {
	p.prev = p.cur
	if p.peeked != nil {
		p.cur = *p.peeked
		p.peeked = nil
		return
	}
	p.cur = p.nextRaw()
}

func (p *Parser) nextRaw() token.Token {
	for {
		t := p.lex.Next()
		if t.Type != token.ILLEGAL {
			return t
		}
		p.errorAt(t, "illegal character %q", t.Literal)
	}
}

// peekNext looks one token past cur without consuming it, used to tell a
// label (`name:`) apart from an ordinary expression statement starting
// with an identifier.
func (p *Parser) peekNext() token.Token {
	if p.peeked == nil {
		t := p.nextRaw()
		p.peeked = &t
	}
	return *p.peeked
}

func (p *Parser) check(t token.Type) bool { return p.cur.Type == t }

func (p *Parser) match(t token.Type) bool {
	if !p.check(t) {
		return false
	}
	p.advance()
	return true
}

func (p *Parser) expect(t token.Type, msg string) token.Token {
	if !p.check(t) {
		p.errorAt(p.cur, "%s (got %s %q)", msg, p.cur.Type, p.cur.Literal)
	}
	tok := p.cur
	p.advance()
	return tok
}

func (p *Parser) errorAt(tok token.Token, format string, args ...interface{}) {
	panic(newCompileError(tok.Pos, format, args...))
}

func (p *Parser) errorHere(format string, args ...interface{}) {
	p.errorAt(p.cur, format, args...)
}

// line reports the source line to attribute the instruction just
// finished parsing to; used right after consuming the token that drove
// the emission.
func (p *Parser) line() int { return p.prev.Pos.Line }

// --- emission ---

func (p *Parser) emitByte(b byte) int        { return p.fn.chunk.Write(b, p.line()) }
func (p *Parser) emit(op opcode.Op) int      { return p.emitByte(byte(op)) }
func (p *Parser) emitArg1(op opcode.Op, arg byte) int {
	off := p.emit(op)
	p.emitByte(arg)
	return off
}
func (p *Parser) emitShortArg(op opcode.Op, arg uint16) int {
	off := p.emit(op)
	p.fn.chunk.WriteShort(arg, p.line())
	return off
}
func (p *Parser) emitConstant(v value.Value) {
	idx := p.fn.chunk.AddConstant(v)
	p.emitShortArg(opcode.CONSTANT, uint16(idx))
}

func (p *Parser) emitShortByte(op opcode.Op, short uint16, b byte) int {
	off := p.emit(op)
	p.fn.chunk.WriteShort(short, p.line())
	p.emitByte(b)
	return off
}

func (p *Parser) emitShortShortByte(op opcode.Op, a, b uint16, c byte) int {
	off := p.emit(op)
	p.fn.chunk.WriteShort(a, p.line())
	p.fn.chunk.WriteShort(b, p.line())
	p.emitByte(c)
	return off
}

// nameConstant interns name into the shared string pool and adds it as a
// chunk constant, returning its index for GET_GLOBAL/GET_PROPERTY-style
// name-bearing opcodes.
func (p *Parser) nameConstant(name string) uint16 {
	s := p.vm.Strings.Intern(name)
	return uint16(p.fn.chunk.AddConstant(value.Str(s)))
}

// emitJump emits op with a placeholder forward offset and returns the
// opcode's own offset, to be threaded through patchJump once the target
// is known.
func (p *Parser) emitJump(op opcode.Op) int {
	off := p.emit(op)
	p.fn.chunk.WriteShort(0xFFFF, p.line())
	return off
}

// patchJump backfills a forward JUMP/JUMP_IF_FALSE's operand so it lands
// on the next instruction to be emitted. Offsets are relative to ip right
// after the 2-byte operand is consumed, matching the interpreter.
func (p *Parser) patchJump(off int) {
	target := p.fn.chunk.Len()
	delta := target - (off + 3)
	if delta < 0 || delta > 0xFFFF {
		p.errorAt(p.prev, "jump distance too large")
	}
	p.fn.chunk.PatchShort(off+1, uint16(delta))
}

// emitLoop emits a LOOP back-edge to loopStart (an absolute chunk offset
// captured earlier), relative to ip right after its own operand.
func (p *Parser) emitLoop(loopStart int) {
	p.emit(opcode.LOOP)
	afterOperand := p.fn.chunk.Len() + 2
	delta := afterOperand - loopStart
	if delta < 0 || delta > 0xFFFF {
		p.errorAt(p.prev, "loop body too large")
	}
	p.fn.chunk.WriteShort(uint16(delta), p.line())
}

// --- scopes and locals ---

func (p *Parser) beginScope() { p.fn.scopeDepth++ }

// endScope discards every local declared at the scope being closed via a
// single DISCARD, the way block exits are compiled throughout: no
// per-variable POP.
func (p *Parser) endScope() {
	p.fn.scopeDepth--
	n := 0
	locals := p.fn.locals
	for len(locals) > 0 && locals[len(locals)-1].depth > p.fn.scopeDepth {
		locals = locals[:len(locals)-1]
		n++
	}
	p.fn.locals = locals
	if n > 0 {
		p.emitArg1(opcode.DISCARD, byte(n))
	}
}

// declareLocal adds name as a new local occupying the next stack slot. It
// does not emit any bytecode: callers either push the initializer value
// themselves first (ordinary `var`) or the value is already sitting on
// the stack courtesy of the runtime (catch's bound error, foreach's
// loop variable, a call's self/receiver).
func (p *Parser) declareLocal(name string) int {
	for i := len(p.fn.locals) - 1; i >= 0; i-- {
		l := p.fn.locals[i]
		if l.depth != -1 && l.depth < p.fn.scopeDepth {
			break
		}
		if l.name == name {
			p.errorAt(p.prev, "%q already declared in this scope", name)
		}
	}
	p.fn.locals = append(p.fn.locals, local{name: name, depth: p.fn.scopeDepth})
	return len(p.fn.locals) - 1
}

// resolveLocal looks up name in the current function's locals, innermost
// scope first.
func (p *Parser) resolveLocal(name string) (int, bool) {
	for i := len(p.fn.locals) - 1; i >= 0; i-- {
		if p.fn.locals[i].name == name {
			return i, true
		}
	}
	return 0, false
}

// emitDiscardTo emits a DISCARD for every local declared since base,
// without touching fn.locals itself: used for a non-local jump (break,
// continue, return) where code textually following the jump, in the
// branch that falls through instead, still needs those same slots.
func (p *Parser) emitDiscardTo(base int) {
	n := len(p.fn.locals) - base
	if n > 0 {
		p.emitArg1(opcode.DISCARD, byte(n))
	}
}

// captureBraceBlock consumes a `{ ... }` block and returns its inner
// source text verbatim, without compiling it. Used to compile a finally
// clause's statements twice: once unprotected on the success path, once
// wrapped in ENTER_FINALLY/EXIT_FINALLY on the error-redirect path.
func (p *Parser) captureBraceBlock() string {
	open := p.expect(token.LBRACE, "expected '{'")
	start := open.Pos.Offset + 1
	depth := 1
	for {
		if p.check(token.EOF) {
			p.errorAt(p.cur, "unterminated block")
		}
		if p.check(token.LBRACE) {
			depth++
		} else if p.check(token.RBRACE) {
			depth--
			if depth == 0 {
				end := p.cur.Pos.Offset
				p.advance()
				return p.src[start:end]
			}
		}
		p.advance()
	}
}

// compileSpan re-lexes span as an independent token stream and compiles
// it as a sequence of declarations/statements, then restores the outer
// parser's cursor exactly where it left off. Locals declared inside span
// live in the same fn.locals stack as everything else; callers wrap the
// call in beginScope/endScope so they're cleaned up per replay.
func (p *Parser) compileSpan(span string) {
	savedLex, savedCur, savedPrev, savedPeek := p.lex, p.cur, p.prev, p.peeked
	p.lex = lexer.New(p.file, span)
	p.peeked = nil
	p.advance()
	for !p.check(token.EOF) {
		p.declaration()
	}
	p.lex, p.cur, p.prev, p.peeked = savedLex, savedCur, savedPrev, savedPeek
}

// --- declarations (top level and inside blocks) ---

func (p *Parser) declaration() {
	switch {
	case p.match(token.VAR):
		p.varDeclaration()
	case p.match(token.DEF):
		p.functionDeclaration()
	case p.match(token.CLASS):
		p.classDeclaration()
	case p.match(token.STRUCT):
		p.structDeclaration()
	case p.match(token.PROCESS):
		p.processDeclaration()
	case p.match(token.NATIVE):
		p.nativeDeclaration()
	case p.check(token.IMPORT), p.check(token.INCLUDE):
		p.advance()
		p.importDeclaration()
	default:
		p.statement()
	}
}

func (p *Parser) importDeclaration() {
	tok := p.expect(token.STRING, "expected a string path after import/include")
	p.imports = append(p.imports, tok.Literal)
	p.match(token.SEMICOLON)
}

// varDeclaration compiles `var name;` or `var name = expr;` as either a
// global (DEFINE_GLOBAL, at scope depth 0) or a local (the initializer's
// value simply stays where the expression left it on the stack).
func (p *Parser) varDeclaration() {
	name := p.expect(token.IDENT, "expected a variable name").Literal

	if p.fn.scopeDepth == 0 {
		if p.match(token.ASSIGN) {
			p.expression()
		} else {
			p.emit(opcode.NIL)
		}
		p.match(token.SEMICOLON)
		p.emitShortArg(opcode.DEFINE_GLOBAL, p.nameConstant(name))
		return
	}

	if p.match(token.ASSIGN) {
		p.expression()
	} else {
		p.emit(opcode.NIL)
	}
	p.match(token.SEMICOLON)
	p.declareLocal(name)
}
