package chunk

import (
	"testing"

	"github.com/akadjoker/wdiv/lang/opcode"
	"github.com/akadjoker/wdiv/lang/value"
)

func TestWriteAndReadShort(t *testing.T) {
	c := New()
	c.Write(byte(opcode.JUMP), 1)
	off := c.WriteShort(0xBEEF, 1)
	if got := c.ReadShort(off); got != 0xBEEF {
		t.Errorf("ReadShort(%d) = %#x; want %#x", off, got, 0xBEEF)
	}
}

func TestConstantDedup(t *testing.T) {
	c := New()
	i1 := c.AddConstant(value.Int(42))
	i2 := c.AddConstant(value.Int(42))
	if i1 != i2 {
		t.Errorf("AddConstant(Int(42)) twice gave %d and %d; want dedup", i1, i2)
	}
	if len(c.Constants) != 1 {
		t.Errorf("len(Constants) = %d; want 1", len(c.Constants))
	}

	pool := value.NewPool()
	s1 := c.AddConstant(value.Str(pool.Intern("hi")))
	s2 := c.AddConstant(value.Str(pool.Intern("hi")))
	if s1 != s2 {
		t.Errorf("AddConstant(Str(\"hi\")) twice gave %d and %d; want dedup", s1, s2)
	}
}

func TestConstantNoDedupForObjects(t *testing.T) {
	c := New()
	h := value.Handle{Arena: value.ArenaArray, Index: 0}
	i1 := c.AddConstant(value.Obj(value.KindArray, h))
	i2 := c.AddConstant(value.Obj(value.KindArray, h))
	if i1 == i2 {
		t.Errorf("AddConstant(Obj(...)) deduped object constants; want distinct slots")
	}
}
