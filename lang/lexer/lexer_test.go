package lexer

import (
	"testing"

	"github.com/akadjoker/wdiv/lang/token"
)

func collect(src string) []token.Token {
	l := New("test.bu", src)
	var toks []token.Token
	for {
		tok := l.Next()
		toks = append(toks, tok)
		if tok.Type == token.EOF {
			return toks
		}
	}
}

func TestLexerKeywordsAndOperators(t *testing.T) {
	toks := collect(`def add(a,b){ return a+b }`)
	if toks[0].Type != token.DEF {
		t.Errorf("toks[0].Type = %v; want DEF", toks[0].Type)
	}
	if toks[1].Type != token.IDENT || toks[1].Literal != "add" {
		t.Errorf("toks[1] = %v %q; want IDENT \"add\"", toks[1].Type, toks[1].Literal)
	}
	if toks[2].Type != token.LPAREN {
		t.Errorf("toks[2].Type = %v; want LPAREN", toks[2].Type)
	}
	if toks[8].Type != token.RETURN {
		t.Errorf("toks[8].Type = %v; want RETURN", toks[8].Type)
	}
	if toks[10].Type != token.PLUS {
		t.Errorf("toks[10].Type = %v; want PLUS", toks[10].Type)
	}
}

func TestLexerStringEscapes(t *testing.T) {
	toks := collect(`"a\nb\x41é"`)
	if toks[0].Type != token.STRING {
		t.Fatalf("toks[0].Type = %v; want STRING", toks[0].Type)
	}
	if want := "a\nbAé"; toks[0].Literal != want {
		t.Errorf("toks[0].Literal = %q; want %q", toks[0].Literal, want)
	}
}

func TestLexerNumbers(t *testing.T) {
	toks := collect(`42 3.14 1e3`)
	if toks[0].Type != token.INT {
		t.Errorf("toks[0].Type = %v; want INT", toks[0].Type)
	}
	if toks[1].Type != token.FLOAT {
		t.Errorf("toks[1].Type = %v; want FLOAT", toks[1].Type)
	}
	if toks[2].Type != token.FLOAT {
		t.Errorf("toks[2].Type = %v; want FLOAT", toks[2].Type)
	}
}

func TestLexerLineColumn(t *testing.T) {
	toks := collect("a\nb")
	if toks[0].Pos.Line != 1 {
		t.Errorf("toks[0].Pos.Line = %d; want 1", toks[0].Pos.Line)
	}
	if toks[1].Pos.Line != 2 {
		t.Errorf("toks[1].Pos.Line = %d; want 2", toks[1].Pos.Line)
	}
}

func TestLexerUTF8Identifier(t *testing.T) {
	toks := collect(`var café = 1`)
	if toks[0].Type != token.VAR {
		t.Errorf("toks[0].Type = %v; want VAR", toks[0].Type)
	}
	if toks[1].Type != token.IDENT || toks[1].Literal != "café" {
		t.Errorf("toks[1] = %v %q; want IDENT \"café\"", toks[1].Type, toks[1].Literal)
	}
}
