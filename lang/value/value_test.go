package value

import "testing"

func TestStringPoolInterning(t *testing.T) {
	p := NewPool()
	a := p.Intern("hello")
	b := p.Intern("hello")
	if a != b {
		t.Errorf("Intern(\"hello\") returned distinct strings on second call")
	}
	c := p.Intern("world")
	if a == c {
		t.Errorf("Intern(\"hello\") and Intern(\"world\") returned the same string")
	}
}

func TestNumericPromotionAndEquality(t *testing.T) {
	if !Equal(Int(2), Double(2.0)) {
		t.Error("Int(2) should equal Double(2.0)")
	}
	if !Equal(Byte(3), Int(3)) {
		t.Error("Byte(3) should equal Int(3)")
	}
	if Equal(Int(2), Double(2.5)) {
		t.Error("Int(2) should not equal Double(2.5)")
	}
}

func TestStringIdentityEquality(t *testing.T) {
	p := NewPool()
	a := Str(p.Intern("abc"))
	b := Str(p.Intern("abc"))
	if !Equal(a, b) {
		t.Error("two interned copies of \"abc\" should compare equal")
	}
}

func TestTruthy(t *testing.T) {
	cases := []struct {
		v    Value
		want bool
	}{
		{Nil, false},
		{Bool(false), false},
		{Int(0), false},
		{Int(1), true},
		{Bool(true), true},
	}
	for _, c := range cases {
		if got := IsTruthy(c.v); got != c.want {
			t.Errorf("IsTruthy(%v) = %v; want %v", c.v, got, c.want)
		}
	}
}

func TestFormatNumber(t *testing.T) {
	if got := FormatNumber(Int(42)); got != "42" {
		t.Errorf("FormatNumber(Int(42)) = %q; want %q", got, "42")
	}
	if got := FormatNumber(Double(3.5)); got != "3.5" {
		t.Errorf("FormatNumber(Double(3.5)) = %q; want %q", got, "3.5")
	}
}
