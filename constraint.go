package uafcheck

import "strings"

// ConstraintKind tags the per-instruction effect union of §3.
type ConstraintKind int

const (
	// AddrOf: a := &b
	CAddrOf ConstraintKind = iota
	// Asgn: a := b
	CAsgn
	// Deref: a := *b
	CDeref
	// Write: *a := b
	CWrite
	// Xfer: *a := *b
	CXfer
	// StackLoad: *a := &b
	CStackLoad
	// Clobber: v becomes a fresh unknown
	CClobber
)

// Constraint is one per-instruction effect (§3). A and B are VarPaths
// (dereference chains); Clobber only uses A.Base.
type Constraint struct {
	Kind ConstraintKind
	A    VarPath
	B    VarPath
}

func AddrOf(a, b VarPath) Constraint    { return Constraint{Kind: CAddrOf, A: a, B: b} }
func Asgn(a, b VarPath) Constraint      { return Constraint{Kind: CAsgn, A: a, B: b} }
func Deref(a, b VarPath) Constraint     { return Constraint{Kind: CDeref, A: a, B: b} }
func Write(a, b VarPath) Constraint     { return Constraint{Kind: CWrite, A: a, B: b} }
func Xfer(a, b VarPath) Constraint      { return Constraint{Kind: CXfer, A: a, B: b} }
func StackLoad(a, b VarPath) Constraint { return Constraint{Kind: CStackLoad, A: a, B: b} }
func Clobber(v Var) Constraint          { return Constraint{Kind: CClobber, A: VarPath{Base: v}} }

// ---- Recognized allocator/deallocator names (§4.2) ----

// IsMallocName reports whether a PLT import name is a recognized
// allocator: any name containing "malloc" or "calloc", or exactly
// "_Znam"/"_Znwm" (operator new[]/new).
func IsMallocName(name string) bool {
	return strings.Contains(name, "malloc") || strings.Contains(name, "calloc") ||
		name == "_Znam" || name == "_Znwm"
}

// freeArgIndex maps a recognized free-family name to the ARGS index
// holding the pointer it releases.
var freeArgIndex = map[string]int{
	"free":    0,
	"g_free":  0,
	"_ZdaPv":  0,
	"_ZdlPvm": 0,
	"qfree":   1,
}

// IsFreeName reports whether name is a recognized deallocator and, if
// so, which ARGS index holds the freed pointer.
func IsFreeName(name string) (argIndex int, ok bool) {
	idx, ok := freeArgIndex[name]
	return idx, ok
}
