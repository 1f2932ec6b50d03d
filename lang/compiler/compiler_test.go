// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package compiler

import (
	"bytes"
	"testing"

	"github.com/akadjoker/wdiv/internal/wdivcfg"
	"github.com/akadjoker/wdiv/lang/value"
	"github.com/akadjoker/wdiv/lang/vm"
)

// newTestVM creates a VM with a large enough instruction budget that a
// single update tick finishes any test program.
func newTestVM() *vm.VM {
	limits := wdivcfg.Default()
	limits.InstructionBudget = 20000
	v := vm.New(limits)
	var buf bytes.Buffer
	v.Stdout = &buf
	return v
}

// compileAndRun compiles src, spawns it as a process and advances the
// scheduler enough ticks for straight-line or single-yield programs to
// finish, returning the VM for global/state inspection.
func compileAndRun(t *testing.T, src string) *vm.VM {
	t.Helper()
	v := newTestVM()
	res, err := Compile(v, "test.bu", src)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	def := &vm.ProcessDef{Name: "<script>", EntryFn: res.Entry, FiberCount: 1}
	v.RegisterProcess(def)
	if _, err := v.Spawn("<script>", nil); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	for i := 0; i < 8; i++ {
		v.Update(0.016)
	}
	return v
}

func wantGlobal(t *testing.T, v *vm.VM, name string) value.Value {
	t.Helper()
	got, ok := v.Global(name)
	if !ok {
		t.Fatalf("global %q not set", name)
	}
	return got
}

func TestCompileArithmeticAndGlobal(t *testing.T) {
	v := compileAndRun(t, `var result = 10 + 32 * 2;`)
	got := wantGlobal(t, v, "result")
	if got.AsInt() != 74 {
		t.Errorf("result = %v; want 74", got)
	}
}

func TestCompileIfElse(t *testing.T) {
	v := compileAndRun(t, `
		var x = 5;
		var label = "";
		if (x > 3) {
			label = "big";
		} else {
			label = "small";
		}
	`)
	got := wantGlobal(t, v, "label")
	if got.AsString().String() != "big" {
		t.Errorf("label = %q; want %q", got.AsString().String(), "big")
	}
}

func TestCompileWhileLoop(t *testing.T) {
	v := compileAndRun(t, `
		var i = 0;
		var sum = 0;
		while (i < 5) {
			sum = sum + i;
			i = i + 1;
		}
	`)
	got := wantGlobal(t, v, "sum")
	if got.AsInt() != 10 {
		t.Errorf("sum = %v; want 10", got)
	}
}

func TestCompileForLoopWithBreakAndContinue(t *testing.T) {
	v := compileAndRun(t, `
		var total = 0;
		for (var i = 0; i < 10; i = i + 1) {
			if (i == 7) {
				break;
			}
			if (i % 2 == 0) {
				continue;
			}
			total = total + i;
		}
	`)
	// odd numbers 1,3,5 before breaking at 7
	got := wantGlobal(t, v, "total")
	if got.AsInt() != 9 {
		t.Errorf("total = %v; want 9", got)
	}
}

func TestCompileForeachOverArray(t *testing.T) {
	v := compileAndRun(t, `
		var nums = [1, 2, 3, 4];
		var sum = 0;
		foreach (n in nums) {
			sum = sum + n;
		}
	`)
	got := wantGlobal(t, v, "sum")
	if got.AsInt() != 10 {
		t.Errorf("sum = %v; want 10", got)
	}
}

func TestCompileFunctionCallAndReturn(t *testing.T) {
	v := compileAndRun(t, `
		def square(x) {
			return x * x;
		}
		var result = square(7);
	`)
	got := wantGlobal(t, v, "result")
	if got.AsInt() != 49 {
		t.Errorf("result = %v; want 49", got)
	}
}

func TestCompileClassConstructorAndMethod(t *testing.T) {
	v := compileAndRun(t, `
		class Point {
			var x;
			var y;
			def Point(px, py) {
				self.x = px;
				self.y = py;
			}
			def sum() {
				return self.x + self.y;
			}
		}
		var p = new Point(3, 4);
		var total = p.sum();
	`)
	got := wantGlobal(t, v, "total")
	if got.AsInt() != 7 {
		t.Errorf("total = %v; want 7", got)
	}
}

func TestCompileClassInheritanceAndSuper(t *testing.T) {
	v := compileAndRun(t, `
		class Animal {
			def speak() {
				return "...";
			}
		}
		class Dog extends Animal {
			def speak() {
				return super.speak();
			}
		}
		var d = new Dog();
		var said = d.speak();
	`)
	got := wantGlobal(t, v, "said")
	if got.AsString().String() != "..." {
		t.Errorf("said = %q; want %q", got.AsString().String(), "...")
	}
}

func TestCompileTryCatch(t *testing.T) {
	v := compileAndRun(t, `
		var caught = 0;
		try {
			throw "boom";
		} catch (e) {
			caught = 1;
		}
	`)
	got := wantGlobal(t, v, "caught")
	if got.AsInt() != 1 {
		t.Errorf("caught = %v; want 1", got)
	}
}

func TestCompileTryFinallyRunsOnSuccessAndOnError(t *testing.T) {
	v := compileAndRun(t, `
		var ranFinally = 0;
		try {
			var ignored = 1;
		} finally {
			ranFinally = ranFinally + 1;
		}
		try {
			throw "err";
		} catch (e) {
		} finally {
			ranFinally = ranFinally + 1;
		}
	`)
	got := wantGlobal(t, v, "ranFinally")
	if got.AsInt() != 2 {
		t.Errorf("ranFinally = %v; want 2", got)
	}
}

func TestCompileCompoundAssignAndIncDec(t *testing.T) {
	v := compileAndRun(t, `
		var x = 1;
		x += 4;
		++x;
		var arr = [10, 20];
		arr[0] += 5;
	`)
	x := wantGlobal(t, v, "x")
	if x.AsInt() != 6 {
		t.Errorf("x = %v; want 6", x)
	}
}

func TestCompileLogicalShortCircuit(t *testing.T) {
	v := compileAndRun(t, `
		var calls = 0;
		def sideEffect() {
			calls = calls + 1;
			return true;
		}
		var a = false && sideEffect();
		var b = true || sideEffect();
	`)
	calls := wantGlobal(t, v, "calls")
	if calls.AsInt() != 0 {
		t.Errorf("calls = %v; want 0 (both branches short-circuited)", calls)
	}
}

func TestCompileUndefinedLabelIsAnError(t *testing.T) {
	v := newTestVM()
	_, err := Compile(v, "test.bu", `gosub missing;`)
	if err == nil {
		t.Fatal("expected a compile error for an undefined label")
	}
}

func TestCompileBreakOutsideLoopIsAnError(t *testing.T) {
	v := newTestVM()
	_, err := Compile(v, "test.bu", `break;`)
	if err == nil {
		t.Fatal("expected a compile error for break outside a loop")
	}
}
