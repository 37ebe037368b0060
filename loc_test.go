package uafcheck

import (
	"testing"

	"github.com/aclements/uafcheck/intern"
)

func TestLocEqualAndLess(t *testing.T) {
	fa := intern.Intern("loc_test.go:a")
	fb := intern.Intern("loc_test.go:b")

	a := NewLoc(fa, 0x10)
	a2 := NewLoc(fa, 0x10)
	b := NewLoc(fb, 0x10)
	c := NewLoc(fa, 0x20)

	if !a.Equal(a2) {
		t.Errorf("Equal: expected %v == %v", a, a2)
	}
	if a.Equal(b) {
		t.Errorf("Equal: expected %v != %v (different file)", a, b)
	}
	if a.Equal(c) {
		t.Errorf("Equal: expected %v != %v (different addr)", a, c)
	}
	if !a.Less(b) && !b.Less(a) {
		t.Errorf("Less: expected a total order between %v and %v", a, b)
	}
	if !a.Less(c) {
		t.Errorf("Less: expected %v < %v", a, c)
	}
}

func TestLocWithReturnRelimits(t *testing.T) {
	f := intern.Intern("loc_test.go:relimit")
	inner := NewLoc(f, 0x100)
	outer := NewLoc(f, 0x200)
	mid := NewLoc(f, 0x300)

	once := outer.WithReturn(inner)
	if once.Stack.Kind != StackReturn {
		t.Fatalf("expected StackReturn, got %v", once.Stack.Kind)
	}
	if once.Stack.Return.Stack.Kind != StackNone {
		t.Fatalf("expected depth-1 return Loc to carry no further stack, got %v", once.Stack.Return.Stack.Kind)
	}

	// Nesting a second WithReturn still only carries one frame of
	// context: the Loc passed in (once) carries a stack of its own,
	// and relimit truncates it away.
	twice := mid.WithReturn(once)
	if twice.Stack.Return.Stack.Kind != StackNone {
		t.Fatalf("expected relimit to strip the passed-in Loc's own stack, got %v", twice.Stack.Return.Stack.Kind)
	}
}

func TestLocWithReturnDeloops(t *testing.T) {
	f := intern.Intern("loc_test.go:deloop")
	self := NewLoc(f, 0x42)

	// A call site whose return address is itself (direct recursion
	// through the same instruction) must not grow the stack forever.
	looped := self.WithReturn(self)
	if looped.Stack.Kind == StackReturn && looped.Stack.Return.Equal(self) {
		t.Fatalf("expected deloop to collapse self-referential context, got %v", looped)
	}
}

func TestLocIsStacked(t *testing.T) {
	f := intern.Intern("loc_test.go:stacked")
	l := NewLoc(f, 1)
	if l.IsStacked() {
		t.Errorf("fresh Loc should not be stacked")
	}
	if !l.WithEmptyStack().IsStacked() {
		t.Errorf("WithEmptyStack should mark the Loc stacked")
	}
}

func TestLocString(t *testing.T) {
	f := intern.Intern("loc_test.go:string")
	l := NewLoc(f, 0xff)
	want := "loc_test.go:string:0xff"
	if got := l.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
