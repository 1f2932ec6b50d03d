// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package compiler

import (
	"strconv"

	"github.com/akadjoker/wdiv/lang/opcode"
	"github.com/akadjoker/wdiv/lang/token"
	"github.com/akadjoker/wdiv/lang/value"
)

// precedence mirrors the usual C-family climb: assignment binds loosest,
// a call/index/property chain binds tightest.
type precedence int

const (
	precNone precedence = iota
	precAssignment
	precOr
	precAnd
	precBitOr
	precBitXor
	precBitAnd
	precEquality
	precComparison
	precShift
	precTerm
	precFactor
	precUnary
	precCall
	precPrimary
)

type parseFn func(p *Parser, canAssign bool)

type parseRule struct {
	prefix parseFn
	infix  parseFn
	prec   precedence
}

var rules map[token.Type]parseRule

func init() {
	rules = map[token.Type]parseRule{
		token.INT:    {prefix: intLiteral},
		token.FLOAT:  {prefix: floatLiteral},
		token.STRING: {prefix: stringLiteral},
		token.TRUE:   {prefix: boolLiteral},
		token.FALSE:  {prefix: boolLiteral},
		token.NIL:    {prefix: nilLiteral},
		token.IDENT:  {prefix: identExpr},
		token.SELF:   {prefix: selfExpr},
		token.SUPER:  {prefix: superExpr},
		token.NEW:    {prefix: newExpr},
		token.LEN:    {prefix: lenExpr},
		token.SPAWN:  {prefix: spawnExpr},

		token.LPAREN:   {prefix: groupingExpr, infix: callExpr, prec: precCall},
		token.LBRACKET: {prefix: arrayExpr, infix: indexExpr, prec: precCall},
		token.LBRACE:   {prefix: mapExpr},
		token.DOT:      {infix: dotExpr, prec: precCall},

		token.MINUS: {prefix: unaryExpr, infix: binaryExpr, prec: precTerm},
		token.PLUS:  {infix: binaryExpr, prec: precTerm},
		token.BANG:  {prefix: unaryExpr},
		token.TILDE: {prefix: unaryExpr},

		token.PLUSPLUS:   {prefix: incDecExpr},
		token.MINUSMINUS: {prefix: incDecExpr},

		token.STAR:    {infix: binaryExpr, prec: precFactor},
		token.SLASH:   {infix: binaryExpr, prec: precFactor},
		token.PERCENT: {infix: binaryExpr, prec: precFactor},

		token.AMP:    {infix: binaryExpr, prec: precBitAnd},
		token.PIPE:   {infix: binaryExpr, prec: precBitOr},
		token.CARET:  {infix: binaryExpr, prec: precBitXor},
		token.LSHIFT: {infix: binaryExpr, prec: precShift},
		token.RSHIFT: {infix: binaryExpr, prec: precShift},

		token.EQ:  {infix: binaryExpr, prec: precEquality},
		token.NEQ: {infix: binaryExpr, prec: precEquality},
		token.LT:  {infix: binaryExpr, prec: precComparison},
		token.LE:  {infix: binaryExpr, prec: precComparison},
		token.GT:  {infix: binaryExpr, prec: precComparison},
		token.GE:  {infix: binaryExpr, prec: precComparison},

		token.ANDAND: {infix: andExpr, prec: precAnd},
		token.OROR:   {infix: orExpr, prec: precOr},
	}
}

func getRule(t token.Type) parseRule { return rules[t] }

// expression compiles one expression at the loosest (assignment)
// precedence, the entry point every statement and declaration uses.
func (p *Parser) expression() { p.parsePrecedence(precAssignment) }

// parsePrecedence is the Pratt engine: it consumes one prefix term, then
// keeps folding in infix operators whose precedence is at least prec.
// canAssign threads through to prefix/infix rules so `=` and compound
// assignment are only honored when this expression is being parsed at
// assignment precedence (never inside, say, a binary operand), matching
// the technique bytecode-direct Pratt compilers use since there's no
// AST node to retroactively turn into an assignment target.
func (p *Parser) parsePrecedence(prec precedence) {
	p.advance()
	rule := getRule(p.prev.Type)
	if rule.prefix == nil {
		p.errorAt(p.prev, "expected an expression, got %s", p.prev.Type)
	}
	canAssign := prec <= precAssignment
	rule.prefix(p, canAssign)

	for prec <= getRule(p.cur.Type).prec {
		p.advance()
		infix := getRule(p.prev.Type).infix
		infix(p, canAssign)
	}

	if canAssign && p.match(token.ASSIGN) {
		p.errorAt(p.prev, "invalid assignment target")
	}
}

func compoundOp(t token.Type) (opcode.Op, bool) {
	switch t {
	case token.PLUSEQ:
		return opcode.ADD, true
	case token.MINUSEQ:
		return opcode.SUB, true
	case token.STAREQ:
		return opcode.MUL, true
	case token.SLASHEQ:
		return opcode.DIV, true
	case token.PERCENTEQ:
		return opcode.MOD, true
	default:
		return 0, false
	}
}

// --- literals ---

func intLiteral(p *Parser, canAssign bool) {
	n, err := strconv.ParseInt(p.prev.Literal, 0, 64)
	if err != nil {
		p.errorAt(p.prev, "invalid integer literal %q", p.prev.Literal)
	}
	p.emitConstant(value.Int(n))
}

func floatLiteral(p *Parser, canAssign bool) {
	f, err := strconv.ParseFloat(p.prev.Literal, 64)
	if err != nil {
		p.errorAt(p.prev, "invalid float literal %q", p.prev.Literal)
	}
	p.emitConstant(value.Double(f))
}

func stringLiteral(p *Parser, canAssign bool) {
	s := p.vm.Strings.Intern(p.prev.Literal)
	p.emitConstant(value.Str(s))
}

func boolLiteral(p *Parser, canAssign bool) {
	if p.prev.Type == token.TRUE {
		p.emit(opcode.TRUE)
	} else {
		p.emit(opcode.FALSE)
	}
}

func nilLiteral(p *Parser, canAssign bool) { p.emit(opcode.NIL) }

// --- names, self, super, new, len, spawn ---

func identExpr(p *Parser, canAssign bool) { p.namedVariable(p.prev.Literal, canAssign) }

// namedVariable resolves name against the current function's locals,
// then a process's named private slots, then falls back to a global,
// and compiles a plain read, a `=` write, or a compound `+=`-style
// read-modify-write depending on what follows - only when canAssign
// allows it.
func (p *Parser) namedVariable(name string, canAssign bool) {
	if slot, ok := p.resolveLocal(name); ok {
		p.compileVarAccess(canAssign,
			func() { p.emitShortArg(opcode.GET_LOCAL, uint16(slot)) },
			func() { p.emitShortArg(opcode.SET_LOCAL, uint16(slot)) })
		return
	}
	if slot, ok := p.resolvePrivate(name); ok {
		p.compileVarAccess(canAssign,
			func() { p.emitArg1(opcode.GET_PRIVATE, slot) },
			func() { p.emitArg1(opcode.SET_PRIVATE, slot) })
		return
	}
	nameK := p.nameConstant(name)
	p.compileVarAccess(canAssign,
		func() { p.emitShortArg(opcode.GET_GLOBAL, nameK) },
		func() { p.emitShortArg(opcode.SET_GLOBAL, nameK) })
}

func (p *Parser) resolvePrivate(name string) (byte, bool) {
	if p.fn.privates == nil {
		return 0, false
	}
	slot, ok := p.fn.privates[name]
	return slot, ok
}

func (p *Parser) compileVarAccess(canAssign bool, get, set func()) {
	if canAssign && p.match(token.ASSIGN) {
		p.expression()
		set()
		return
	}
	if canAssign {
		if op, ok := compoundOp(p.cur.Type); ok {
			p.advance()
			get()
			p.expression()
			p.emit(op)
			set()
			return
		}
	}
	get()
}

func selfExpr(p *Parser, canAssign bool) {
	if p.fn.className == "" && !p.fn.isProcess {
		p.errorAt(p.prev, "'self' used outside a method or process body")
	}
	p.emitShortArg(opcode.GET_LOCAL, 0)
}

func superExpr(p *Parser, canAssign bool) {
	if p.fn.className == "" {
		p.errorAt(p.prev, "'super' used outside a method")
	}
	p.expect(token.DOT, "expected '.' after 'super'")
	name := p.expect(token.IDENT, "expected a method name after 'super.'").Literal
	p.emitShortArg(opcode.GET_LOCAL, 0)
	p.expect(token.LPAREN, "expected '(' after super method name")
	argc := p.argumentList()
	ownerK := p.nameConstant(p.fn.className)
	nameK := p.nameConstant(name)
	p.emitShortShortByte(opcode.SUPER_INVOKE, ownerK, nameK, byte(argc))
}

// newExpr compiles `new Type(args)` as plain sugar over the existing
// calling convention: pushing the class/struct identity value via
// GET_GLOBAL and calling it is exactly what vmCall's per-Kind switch
// already treats as construction, so no dedicated opcode is needed.
func newExpr(p *Parser, canAssign bool) {
	name := p.expect(token.IDENT, "expected a type name after 'new'").Literal
	p.emitShortArg(opcode.GET_GLOBAL, p.nameConstant(name))
	p.expect(token.LPAREN, "expected '(' after new Type")
	argc := p.argumentList()
	p.emitArg1(opcode.CALL, byte(argc))
}

func lenExpr(p *Parser, canAssign bool) {
	p.expect(token.LPAREN, "expected '(' after len")
	p.expression()
	p.expect(token.RPAREN, "expected ')' after len argument")
	p.emit(opcode.LEN)
}

func spawnExpr(p *Parser, canAssign bool) {
	name := p.expect(token.IDENT, "expected a process name after spawn").Literal
	p.emitConstant(value.Str(p.vm.Strings.Intern(name)))
	p.expect(token.LPAREN, "expected '(' after spawn name")
	argc := p.argumentList()
	p.emitArg1(opcode.SPAWN, byte(argc))
}

// --- grouping, collections ---

func groupingExpr(p *Parser, canAssign bool) {
	p.expression()
	p.expect(token.RPAREN, "expected ')' after expression")
}

func arrayExpr(p *Parser, canAssign bool) {
	n := 0
	if !p.check(token.RBRACKET) {
		p.expression()
		n++
		for p.match(token.COMMA) {
			if p.check(token.RBRACKET) {
				break
			}
			p.expression()
			n++
		}
	}
	p.expect(token.RBRACKET, "expected ']' after array elements")
	if n > 0xFFFF {
		p.errorAt(p.prev, "array literal too large")
	}
	p.emitShortArg(opcode.DEFINE_ARRAY, uint16(n))
}

func mapExpr(p *Parser, canAssign bool) {
	n := 0
	if !p.check(token.RBRACE) {
		p.mapEntry()
		n++
		for p.match(token.COMMA) {
			if p.check(token.RBRACE) {
				break
			}
			p.mapEntry()
			n++
		}
	}
	p.expect(token.RBRACE, "expected '}' after map entries")
	if n > 0xFFFF {
		p.errorAt(p.prev, "map literal too large")
	}
	p.emitShortArg(opcode.DEFINE_MAP, uint16(n))
}

// mapEntry compiles one `key: value` pair; the key is always a string,
// written either as a string literal or a bare identifier shorthand.
func (p *Parser) mapEntry() {
	switch {
	case p.check(token.STRING), p.check(token.IDENT):
		lit := p.cur.Literal
		p.advance()
		p.emitConstant(value.Str(p.vm.Strings.Intern(lit)))
	default:
		p.errorAt(p.cur, "expected a string or identifier map key")
	}
	p.expect(token.COLON, "expected ':' after map key")
	p.expression()
}

// --- call, index, property ---

func (p *Parser) argumentList() int {
	argc := 0
	if !p.check(token.RPAREN) {
		p.expression()
		argc++
		for p.match(token.COMMA) {
			if argc >= 255 {
				p.errorAt(p.cur, "too many arguments")
			}
			p.expression()
			argc++
		}
	}
	p.expect(token.RPAREN, "expected ')' after arguments")
	return argc
}

func callExpr(p *Parser, canAssign bool) {
	argc := p.argumentList()
	p.emitArg1(opcode.CALL, byte(argc))
}

// indexExpr compiles `recv[idx]`, plain or as an assignment/compound
// target. The receiver is already on the stack from the expression that
// precedes `[`.
func indexExpr(p *Parser, canAssign bool) {
	p.expression()
	p.expect(token.RBRACKET, "expected ']' after index")

	if canAssign && p.match(token.ASSIGN) {
		p.expression()
		p.emit(opcode.SET_INDEX)
		return
	}
	if canAssign {
		if op, ok := compoundOp(p.cur.Type); ok {
			p.advance()
			p.emit(opcode.COPY2)
			p.emit(opcode.GET_INDEX)
			p.expression()
			p.emit(op)
			p.emit(opcode.SET_INDEX)
			return
		}
	}
	p.emit(opcode.GET_INDEX)
}

// dotExpr compiles `recv.name`, `recv.name(args)`, and name as an
// assignment/compound target. A following `(` means a method
// invocation compiled directly to INVOKE rather than
// GET_PROPERTY+CALL, so the receiver never has to be duplicated onto
// the stack as a plain value first.
func dotExpr(p *Parser, canAssign bool) {
	name := p.expect(token.IDENT, "expected a property name after '.'").Literal

	if p.match(token.LPAREN) {
		argc := p.argumentList()
		p.emitShortByte(opcode.INVOKE, p.nameConstant(name), byte(argc))
		return
	}
	if canAssign && p.match(token.ASSIGN) {
		p.expression()
		p.emitShortArg(opcode.SET_PROPERTY, p.nameConstant(name))
		return
	}
	if canAssign {
		if op, ok := compoundOp(p.cur.Type); ok {
			p.advance()
			p.emit(opcode.DUP)
			p.emitShortArg(opcode.GET_PROPERTY, p.nameConstant(name))
			p.expression()
			p.emit(op)
			p.emitShortArg(opcode.SET_PROPERTY, p.nameConstant(name))
			return
		}
	}
	p.emitShortArg(opcode.GET_PROPERTY, p.nameConstant(name))
}

// --- unary, binary, logical ---

func unaryExpr(p *Parser, canAssign bool) {
	opTok := p.prev.Type
	p.parsePrecedence(precUnary)
	switch opTok {
	case token.MINUS:
		p.emit(opcode.NEG)
	case token.BANG, token.TILDE:
		p.emit(opcode.NOT)
	}
}

// incDecExpr compiles prefix ++/-- on a bare identifier as sugar for
// `name = name +/- 1`, leaving the updated value on the stack. Index
// and property targets are not supported as ++/-- operands.
func incDecExpr(p *Parser, canAssign bool) {
	opTok := p.prev.Type
	name := p.expect(token.IDENT, "expected a variable after ++/--").Literal

	var get, set func()
	if slot, ok := p.resolveLocal(name); ok {
		get = func() { p.emitShortArg(opcode.GET_LOCAL, uint16(slot)) }
		set = func() { p.emitShortArg(opcode.SET_LOCAL, uint16(slot)) }
	} else if slot, ok := p.resolvePrivate(name); ok {
		get = func() { p.emitArg1(opcode.GET_PRIVATE, slot) }
		set = func() { p.emitArg1(opcode.SET_PRIVATE, slot) }
	} else {
		nameK := p.nameConstant(name)
		get = func() { p.emitShortArg(opcode.GET_GLOBAL, nameK) }
		set = func() { p.emitShortArg(opcode.SET_GLOBAL, nameK) }
	}

	get()
	p.emitConstant(value.Int(1))
	if opTok == token.PLUSPLUS {
		p.emit(opcode.ADD)
	} else {
		p.emit(opcode.SUB)
	}
	set()
}

func binaryExpr(p *Parser, canAssign bool) {
	opTok := p.prev.Type
	rule := getRule(opTok)
	p.parsePrecedence(rule.prec + 1)
	switch opTok {
	case token.PLUS:
		p.emit(opcode.ADD)
	case token.MINUS:
		p.emit(opcode.SUB)
	case token.STAR:
		p.emit(opcode.MUL)
	case token.SLASH:
		p.emit(opcode.DIV)
	case token.PERCENT:
		p.emit(opcode.MOD)
	case token.AMP:
		p.emit(opcode.AND)
	case token.PIPE:
		p.emit(opcode.OR)
	case token.CARET:
		p.emit(opcode.XOR)
	case token.LSHIFT:
		p.emit(opcode.SHL)
	case token.RSHIFT:
		p.emit(opcode.SHR)
	case token.EQ:
		p.emit(opcode.EQ)
	case token.NEQ:
		p.emit(opcode.NEQ)
	case token.LT:
		p.emit(opcode.LT)
	case token.LE:
		p.emit(opcode.LE)
	case token.GT:
		p.emit(opcode.GT)
	case token.GE:
		p.emit(opcode.GE)
	}
}

// andExpr/orExpr rely on JUMP_IF_FALSE's peek-not-pop semantics: the
// short-circuited branch leaves its own (falsy/truthy) operand sitting
// on the stack as the expression's result, exactly like the interpreter
// test suite's hand-assembled short-circuit sequences.
func andExpr(p *Parser, canAssign bool) {
	endJump := p.emitJump(opcode.JUMP_IF_FALSE)
	p.emit(opcode.POP)
	p.parsePrecedence(precAnd + 1)
	p.patchJump(endJump)
}

func orExpr(p *Parser, canAssign bool) {
	elseJump := p.emitJump(opcode.JUMP_IF_FALSE)
	endJump := p.emitJump(opcode.JUMP)
	p.patchJump(elseJump)
	p.emit(opcode.POP)
	p.parsePrecedence(precOr + 1)
	p.patchJump(endJump)
}
