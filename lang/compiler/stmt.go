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
)

// statement compiles one statement. Unlike declaration, it never accepts
// var/def/class/struct/process/native/import — those are only legal at a
// block's declaration level, matching the grammar dispatch in decl.go's
// callers.
func (p *Parser) statement() {
	switch {
	case p.check(token.LBRACE):
		p.blockStatement()
	case p.match(token.IF):
		p.ifStatement()
	case p.match(token.WHILE):
		p.whileStatement()
	case p.match(token.FOR):
		p.forStatement()
	case p.match(token.FOREACH):
		p.foreachStatement()
	case p.match(token.RETURN):
		p.returnStatement()
	case p.match(token.BREAK):
		p.breakStatement()
	case p.match(token.CONTINUE):
		p.continueStatement()
	case p.match(token.PRINT):
		p.printStatement()
	case p.match(token.THROW):
		p.throwStatement()
	case p.match(token.TRY):
		p.tryStatement()
	case p.match(token.GOSUB):
		p.gosubStatement()
	case p.match(token.RETURNSUB):
		p.returnSubStatement()
	case p.match(token.YIELD):
		p.yieldStatement()
	case p.match(token.FRAME):
		p.frameStatement()
	case p.match(token.EXIT):
		p.exitStatement()
	case p.check(token.IDENT) && p.peekNext().Type == token.COLON:
		p.labelStatement()
	default:
		p.expressionStatement()
	}
}

func (p *Parser) blockStatement() {
	p.beginScope()
	p.blockBody()
	p.endScope()
}

// blockBody compiles `{ decl* }` without touching scope itself; callers
// that need a fresh lexical scope wrap it in beginScope/endScope, callers
// that already opened one (foreach's loop-variable scope, a catch clause
// binding its error) call it directly.
func (p *Parser) blockBody() {
	p.expect(token.LBRACE, "expected '{'")
	for !p.check(token.RBRACE) && !p.check(token.EOF) {
		p.declaration()
	}
	p.expect(token.RBRACE, "expected '}'")
}

func (p *Parser) expressionStatement() {
	p.expression()
	p.match(token.SEMICOLON)
	p.emit(opcode.POP)
}

func (p *Parser) printStatement() {
	p.expect(token.LPAREN, "expected '(' after print")
	n := 0
	if !p.check(token.RPAREN) {
		p.expression()
		n++
		for p.match(token.COMMA) {
			p.expression()
			n++
		}
	}
	p.expect(token.RPAREN, "expected ')' after print arguments")
	p.match(token.SEMICOLON)
	if n > 255 {
		p.errorAt(p.prev, "too many print arguments")
	}
	p.emitArg1(opcode.PRINT, byte(n))
}

func (p *Parser) throwStatement() {
	p.expression()
	p.match(token.SEMICOLON)
	p.emit(opcode.THROW)
}

// returnStatement pops every try handler still open in the current
// function before returning, so a frame that dies mid-try never leaves a
// handler on the fiber's try stack pointing at a frame index that no
// longer exists. It does not replay an enclosing finally clause: nothing
// in the opcode set lets a compiler stage a "pending return through
// finally" the way tryHandleError stages a pending error, so early
// return only runs cleanup that is reachable via ordinary exception
// propagation or normal fall-through.
func (p *Parser) returnStatement() {
	for i := 0; i < p.fn.tryDepth; i++ {
		p.emit(opcode.POP_TRY)
	}
	if p.check(token.SEMICOLON) || p.check(token.RBRACE) {
		p.emit(opcode.NIL)
	} else {
		p.expression()
	}
	p.match(token.SEMICOLON)
	p.emit(opcode.RETURN)
}

func (p *Parser) breakStatement() {
	if len(p.fn.loops) == 0 {
		p.errorAt(p.prev, "break outside a loop")
	}
	lc := p.fn.loops[len(p.fn.loops)-1]
	p.emitDiscardTo(lc.breakBase)
	jmp := p.emitJump(opcode.JUMP)
	lc.breakJumps = append(lc.breakJumps, jmp)
	p.match(token.SEMICOLON)
}

func (p *Parser) continueStatement() {
	if len(p.fn.loops) == 0 {
		p.errorAt(p.prev, "continue outside a loop")
	}
	lc := p.fn.loops[len(p.fn.loops)-1]
	p.emitDiscardTo(lc.continueBase)
	p.emitLoop(lc.continueTarget)
	p.match(token.SEMICOLON)
}

func (p *Parser) ifStatement() {
	p.expect(token.LPAREN, "expected '(' after if")
	p.expression()
	p.expect(token.RPAREN, "expected ')' after if condition")

	thenJump := p.emitJump(opcode.JUMP_IF_FALSE)
	p.emit(opcode.POP)
	p.blockStatement()

	elseJump := p.emitJump(opcode.JUMP)
	p.patchJump(thenJump)
	p.emit(opcode.POP)

	if p.match(token.ELIF) {
		p.ifStatement()
	} else if p.match(token.ELSE) {
		p.blockStatement()
	}
	p.patchJump(elseJump)
}

func (p *Parser) whileStatement() {
	loopStart := p.fn.chunk.Len()
	p.expect(token.LPAREN, "expected '(' after while")
	p.expression()
	p.expect(token.RPAREN, "expected ')' after while condition")

	exitJump := p.emitJump(opcode.JUMP_IF_FALSE)
	p.emit(opcode.POP)

	base := len(p.fn.locals)
	lc := &loopCtx{continueTarget: loopStart, continueBase: base, breakBase: base}
	p.fn.loops = append(p.fn.loops, lc)

	p.blockStatement()
	p.emitLoop(loopStart)

	p.patchJump(exitJump)
	p.emit(opcode.POP)
	for _, j := range lc.breakJumps {
		p.patchJump(j)
	}
	p.fn.loops = p.fn.loops[:len(p.fn.loops)-1]
}

// forStatement compiles the clox-style desugaring: init; loopStart:
// condition check; jump past the increment into the body; increment;
// loop back to loopStart; bodyStart: body; loop back to the increment.
// continue targets the increment so it always runs before the condition
// is re-checked.
func (p *Parser) forStatement() {
	p.beginScope()
	p.expect(token.LPAREN, "expected '(' after for")

	if p.match(token.SEMICOLON) {
		// no init clause
	} else if p.match(token.VAR) {
		p.varDeclaration()
	} else {
		p.expressionStatement()
	}

	loopStart := p.fn.chunk.Len()
	exitJump := -1
	if !p.check(token.SEMICOLON) {
		p.expression()
		exitJump = p.emitJump(opcode.JUMP_IF_FALSE)
		p.emit(opcode.POP)
	}
	p.expect(token.SEMICOLON, "expected ';' after for condition")

	bodyJump := p.emitJump(opcode.JUMP)
	incrementStart := p.fn.chunk.Len()
	if !p.check(token.RPAREN) {
		p.expression()
		p.emit(opcode.POP)
	}
	p.expect(token.RPAREN, "expected ')' after for clauses")
	p.emitLoop(loopStart)
	p.patchJump(bodyJump)

	base := len(p.fn.locals)
	lc := &loopCtx{continueTarget: incrementStart, continueBase: base, breakBase: base}
	p.fn.loops = append(p.fn.loops, lc)

	p.blockStatement()
	p.emitLoop(incrementStart)

	if exitJump != -1 {
		p.patchJump(exitJump)
		p.emit(opcode.POP)
	}
	for _, j := range lc.breakJumps {
		p.patchJump(j)
	}
	p.fn.loops = p.fn.loops[:len(p.fn.loops)-1]

	p.endScope()
}

// foreachStatement walks a sequence via ITER_NEXT/ITER_VALUE, tracking
// the sequence and cursor as ordinary compiler-tracked locals so break
// and continue reuse the same DISCARD-based unwinding as any other
// block exit.
func (p *Parser) foreachStatement() {
	p.expect(token.LPAREN, "expected '(' after foreach")
	varName := p.expect(token.IDENT, "expected a loop variable name").Literal
	p.expect(token.IN, "expected 'in' in foreach")

	outerBase := len(p.fn.locals)
	p.beginScope()
	p.expression()
	p.declareLocal("#seq")
	p.emitConstant(value.Int(0))
	p.declareLocal("#iter")
	p.expect(token.RPAREN, "expected ')' after foreach clause")

	innerBase := len(p.fn.locals)

	loopStart := p.fn.chunk.Len()
	p.emit(opcode.ITER_NEXT)
	exitJump := p.emitJump(opcode.JUMP_IF_FALSE)
	p.emit(opcode.POP)
	p.emit(opcode.ITER_VALUE)

	lc := &loopCtx{continueTarget: loopStart, continueBase: innerBase, breakBase: outerBase}
	p.fn.loops = append(p.fn.loops, lc)

	p.beginScope()
	p.declareLocal(varName)
	p.blockBody()
	p.endScope()

	p.emitLoop(loopStart)

	p.patchJump(exitJump)
	p.emitArg1(opcode.DISCARD, 3) // false sentinel, iter, seq
	for _, j := range lc.breakJumps {
		p.patchJump(j)
	}
	p.fn.loops = p.fn.loops[:len(p.fn.loops)-1]

	// #seq/#iter were already removed from the runtime stack by the
	// explicit DISCARD above on every path (natural exit and break
	// alike); drop them from the compile-time model without emitting
	// another DISCARD.
	p.fn.locals = p.fn.locals[:innerBase]
	p.fn.scopeDepth--
}

func (p *Parser) labelStatement() {
	name := p.cur.Literal
	p.advance() // identifier
	p.advance() // ':'
	if _, exists := p.fn.labels[name]; exists {
		p.errorAt(p.prev, "label %q already defined", name)
	}
	addr := p.fn.chunk.Len()
	p.fn.labels[name] = addr
	for _, off := range p.fn.pending[name] {
		p.fn.chunk.PatchShort(off, uint16(addr))
	}
	delete(p.fn.pending, name)
}

func (p *Parser) gosubStatement() {
	name := p.expect(token.IDENT, "expected a label name after gosub").Literal
	p.match(token.SEMICOLON)
	off := p.emit(opcode.GOSUB)
	operandOff := off + 1
	if addr, ok := p.fn.labels[name]; ok {
		p.fn.chunk.WriteShort(uint16(addr), p.line())
	} else {
		p.fn.chunk.WriteShort(0xFFFF, p.line())
		p.fn.pending[name] = append(p.fn.pending[name], operandOff)
	}
}

func (p *Parser) returnSubStatement() {
	p.match(token.SEMICOLON)
	p.emit(opcode.RETURN_SUB)
}

func (p *Parser) yieldStatement() {
	p.expression()
	p.match(token.SEMICOLON)
	p.emit(opcode.YIELD)
}

func (p *Parser) frameStatement() {
	p.expression()
	p.match(token.SEMICOLON)
	p.emit(opcode.FRAME)
}

func (p *Parser) exitStatement() {
	p.expression()
	p.match(token.SEMICOLON)
	p.emit(opcode.EXIT)
}

// checkPendingLabels reports an error if any gosub in the function being
// finished still targets an undefined label.
func (p *Parser) checkPendingLabels() {
	for name := range p.fn.pending {
		p.errorAt(p.cur, "undefined label %q", name)
	}
}

const noHandlerAddr = 0xFFFF

func (p *Parser) emitTryHeader() int {
	off := p.emit(opcode.TRY)
	p.fn.chunk.WriteShort(noHandlerAddr, p.line())
	p.fn.chunk.WriteShort(noHandlerAddr, p.line())
	return off
}

func (p *Parser) patchTryCatch(tryOff, addr int) {
	p.fn.chunk.PatchShort(tryOff+1, uint16(addr))
}

func (p *Parser) patchTryFinally(tryOff, addr int) {
	p.fn.chunk.PatchShort(tryOff+3, uint16(addr))
}

// tryStatement compiles try/catch, try/finally and try/catch/finally
// with a single TRY handler, regardless of shape.
//
// tryHandleError only flips a handler's catchUsed/inFinally flags when
// it itself redirects control into that code; it never flips them on
// ordinary fall-through. So a handler that is still sitting on the try
// stack in its pristine state when execution falls out of a successful
// try (or a successfully completed catch) and into the finally clause
// would treat a fresh exception raised inside that finally block as
// its own try's error, wrongly routing it back into this try's own
// catch or finally. The fix is to pop the handler with POP_TRY on
// every path that reaches finally by ordinary fall-through, before
// running an unprotected copy of the finally block there, and to keep
// a second, canonical ENTER_FINALLY/EXIT_FINALLY-wrapped copy reachable
// only through tryHandleError's own redirect (an exception escaping
// the catch body, or - for try/finally with no catch - the try body
// itself). The finally source is captured once and compiled twice via
// compileSpan.
func (p *Parser) tryStatement() {
	tryOff := p.emitTryHeader()
	p.fn.tryDepth++

	p.blockStatement()
	p.emit(opcode.POP_TRY)
	p.fn.tryDepth--

	toFinally := p.emitJump(opcode.JUMP)

	hasCatch := p.match(token.CATCH)
	if hasCatch {
		catchAddr := p.fn.chunk.Len()
		p.patchTryCatch(tryOff, catchAddr)
		p.emit(opcode.ENTER_CATCH)

		p.expect(token.LPAREN, "expected '(' after catch")
		name := p.expect(token.IDENT, "expected a bound name in catch").Literal
		p.expect(token.RPAREN, "expected ')' after catch variable")

		p.fn.tryDepth++
		p.beginScope()
		p.declareLocal(name)
		p.blockBody()
		p.endScope()
		p.emit(opcode.POP_TRY)
		p.fn.tryDepth--
	}
	p.patchJump(toFinally)

	hasFinally := p.match(token.FINALLY)
	if !hasCatch && !hasFinally {
		p.errorAt(p.prev, "try must be followed by catch and/or finally")
	}

	if hasFinally {
		span := p.captureBraceBlock()

		p.beginScope()
		p.compileSpan(span)
		p.endScope()
		afterAll := p.emitJump(opcode.JUMP)

		finallyAddr := p.fn.chunk.Len()
		p.patchTryFinally(tryOff, finallyAddr)
		p.emit(opcode.ENTER_FINALLY)
		p.fn.tryDepth++
		p.beginScope()
		p.compileSpan(span)
		p.endScope()
		p.emit(opcode.EXIT_FINALLY)
		p.fn.tryDepth--

		p.patchJump(afterAll)
	}
}
