package uafcheck

import (
	"fmt"

	"github.com/aclements/uafcheck/intern"
)

// StackKind distinguishes the three shapes a Loc's call-stack context
// can take (§3).
type StackKind int

const (
	// StackNone means this Loc carries no context at all: it is
	// unstacked, and every instruction in an unstacked function is
	// analyzed exactly once regardless of caller.
	StackNone StackKind = iota
	// StackEmpty means this Loc is stacked, but the context is the
	// empty call stack (a stacked function called from the program's
	// unstacked entry points).
	StackEmpty
	// StackReturn means this Loc is stacked with a nonempty context:
	// the return address to resume at after the innermost call
	// returns, itself a Loc (relimited to depth 1, per §3).
	StackReturn
)

// Stack is the linked-list call-stack context attached to a Loc.
// It is relimited to depth 1: a StackReturn's inner Loc never itself
// carries a StackReturn (§3, "relimited to at most depth 1").
type Stack struct {
	Kind StackKind
	// Return is only meaningful when Kind == StackReturn.
	Return Loc
}

var noStack = Stack{Kind: StackNone}
var emptyStack = Stack{Kind: StackEmpty}

// Loc is a code location: an address within a file, with an optional
// bounded call-stack context (§3).
type Loc struct {
	File  intern.ID
	Addr  uint64
	Stack Stack
}

// NewLoc builds an unstacked Loc.
func NewLoc(file intern.ID, addr uint64) Loc {
	return Loc{File: file, Addr: addr, Stack: noStack}
}

// WithEmptyStack returns l with an empty (but present) stack context.
func (l Loc) WithEmptyStack() Loc {
	l.Stack = emptyStack
	return l
}

// WithReturn returns l with a context whose innermost frame resumes
// at ret after the call at l returns. The result is always relimited
// and de-looped.
func (l Loc) WithReturn(ret Loc) Loc {
	l.Stack = Stack{Kind: StackReturn, Return: ret}
	return l.relimit(1).deloop()
}

// IsStacked reports whether l carries any call-stack context (§4.1).
func (l Loc) IsStacked() bool {
	return l.Stack.Kind != StackNone
}

// relimit truncates the context chain to depth n. WithReturn stores
// ret exactly as given, so ret may carry a stack of its own;
// relimit(1) keeps the StackReturn but resets that Return Loc's own
// stack to StackNone, which is what holds the chain at depth 1. It
// exists so Loc construction routes (§4.6's call/return
// propagation, which derives callee stacks from pad stacks) have a
// single place enforcing the invariant rather than relying on every
// call site to hand-truncate.
func (l Loc) relimit(n int) Loc {
	if n <= 0 {
		l.Stack = noStack
		return l
	}
	if l.Stack.Kind == StackReturn {
		l.Stack.Return = l.Stack.Return.relimit(n - 1)
	}
	return l
}

// deloop collapses a context that reoccurs: if l's return address Loc
// (ignoring its own nested stack) equals l itself up to file+addr,
// the chain would spin forever being re-derived at a call site that
// recurses through the same return address. Per §3, "if a return
// address reoccurs in the chain, the suffix beginning at the first
// occurrence replaces the chain" — with depth capped at 1 this only
// ever needs to check l's own (file,addr) against its Return's.
func (l Loc) deloop() Loc {
	if l.Stack.Kind != StackReturn {
		return l
	}
	ret := l.Stack.Return
	if ret.File == l.File && ret.Addr == l.Addr {
		// The return address is l itself: collapse context to just
		// that address's own (shallower) stack, i.e. drop one frame
		// of recursion rather than growing unboundedly.
		return ret
	}
	return l
}

func (l Loc) String() string {
	base := fmt.Sprintf("%s:0x%x", intern.String(l.File), l.Addr)
	switch l.Stack.Kind {
	case StackNone:
		return base
	case StackEmpty:
		return base + "[]"
	case StackReturn:
		return base + "[" + l.Stack.Return.String() + "]"
	default:
		return base
	}
}

// Equal reports whether two Locs denote the same (file, addr, stack).
func (l Loc) Equal(o Loc) bool {
	if l.File != o.File || l.Addr != o.Addr || l.Stack.Kind != o.Stack.Kind {
		return false
	}
	if l.Stack.Kind == StackReturn {
		return l.Stack.Return.Equal(o.Stack.Return)
	}
	return true
}

// Less gives Loc a total order, used as a map/relation sort key so
// output (e.g. CLI pair printing) is deterministic.
func (l Loc) Less(o Loc) bool {
	if l.File != o.File {
		return l.File < o.File
	}
	if l.Addr != o.Addr {
		return l.Addr < o.Addr
	}
	if l.Stack.Kind != o.Stack.Kind {
		return l.Stack.Kind < o.Stack.Kind
	}
	if l.Stack.Kind == StackReturn {
		return l.Stack.Return.Less(o.Stack.Return)
	}
	return false
}
