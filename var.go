package uafcheck

import "fmt"

// VarKind tags the Var union (§3).
type VarKind int

const (
	VarStackSlot VarKind = iota
	VarRegister
	VarTemp
	VarAlloc
	VarFreed
)

// Var is an abstract variable: a register, a stack slot in some
// function's frame, an IL temporary, a heap allocation-site object,
// or a Freed witness (§3).
type Var struct {
	Kind VarKind

	// VarStackSlot
	FuncAddr Loc
	Offset   int64

	// VarRegister
	Register Reg

	// VarTemp
	Serial uint32

	// VarAlloc, VarFreed
	Site  Loc
	Stale bool // VarAlloc only
}

func StackSlot(funcAddr Loc, offset int64) Var {
	return Var{Kind: VarStackSlot, FuncAddr: funcAddr, Offset: offset}
}

func Register(r Reg) Var { return Var{Kind: VarRegister, Register: r} }

func Temp(serial uint32) Var { return Var{Kind: VarTemp, Serial: serial} }

func Alloc(site Loc, stale bool) Var { return Var{Kind: VarAlloc, Site: site, Stale: stale} }

func Freed(site Loc) Var { return Var{Kind: VarFreed, Site: site} }

// IsTemp reports whether v is an IL temporary (§4.1).
func (v Var) IsTemp() bool { return v.Kind == VarTemp }

// IsDyn reports whether v is a dynamically-allocated (heap-identity)
// variable: an allocation site or a freed witness. These are the
// bases canonicalize treats as non-roots by default (§4.3).
func (v Var) IsDyn() bool { return v.Kind == VarAlloc || v.Kind == VarFreed }

// IsFreed reports whether v is a Freed witness.
func (v Var) IsFreed() bool { return v.Kind == VarFreed }

// IsStack reports whether v is a StackSlot.
func (v Var) IsStack() bool { return v.Kind == VarStackSlot }

// OtherFunc reports whether v is a StackSlot whose owning frame is
// not among frames — the predicate the GC uses to prove a frame has
// left (§4.1).
func (v Var) OtherFunc(frames map[Loc]struct{}) bool {
	if v.Kind != VarStackSlot {
		return false
	}
	_, live := frames[v.FuncAddr]
	return !live
}

// Equal reports whether two Vars denote the same abstract cell.
func (v Var) Equal(o Var) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case VarStackSlot:
		return v.FuncAddr.Equal(o.FuncAddr) && v.Offset == o.Offset
	case VarRegister:
		return v.Register == o.Register
	case VarTemp:
		return v.Serial == o.Serial
	case VarAlloc:
		return v.Site.Equal(o.Site) && v.Stale == o.Stale
	case VarFreed:
		return v.Site.Equal(o.Site)
	}
	return false
}

// key returns a value usable as a Go map key for v (Loc embeds an
// intern.ID + uint64 + a recursive Stack, all of which are
// comparable, so Var itself is already a valid, comparable map key —
// key exists to make that fact explicit at call sites).
func (v Var) key() Var { return v }

func (v Var) String() string {
	switch v.Kind {
	case VarStackSlot:
		return fmt.Sprintf("stack[%s+%d]", v.FuncAddr, v.Offset)
	case VarRegister:
		return v.Register.String()
	case VarTemp:
		return fmt.Sprintf("tmp%d", v.Serial)
	case VarAlloc:
		if v.Stale {
			return fmt.Sprintf("alloc[%s]'", v.Site)
		}
		return fmt.Sprintf("alloc[%s]", v.Site)
	case VarFreed:
		return fmt.Sprintf("freed[%s]", v.Site)
	}
	return "?"
}

// Offs is an optional field offset: nil means "unknown offset"
// (§3, VarRef's "None" case).
type Offs = *uint64

func KnownOffset(k uint64) Offs { return &k }

// VarRef is (base Var, offset). A nil offset means unknown (§3).
type VarRef struct {
	Base   Var
	Offset Offs
}

func NewVarRef(base Var, offset Offs) VarRef { return VarRef{Base: base, Offset: offset} }

func (r VarRef) String() string {
	if r.Offset == nil {
		return r.Base.String() + "+?"
	}
	return fmt.Sprintf("%s+%d", r.Base, *r.Offset)
}

// varRefKey (built by VarRef.key) lets VarRef participate in plain Go
// maps keyed by a flattened (Var, bool, uint64) tuple.
type varRefKey struct {
	base Var
	has  bool
	off  uint64
}

func (r VarRef) key() varRefKey {
	if r.Offset == nil {
		return varRefKey{base: r.Base}
	}
	return varRefKey{base: r.Base, has: true, off: *r.Offset}
}

// VarPath is (base Var, a chain of optional offsets): a dereference
// chain of depth len(Offsets) (§3). Depth 1 is a bare address; depth
// >=2 is a load/store target. A Clobber's path has no offsets (depth
// 0) and names only its base.
type VarPath struct {
	Base    Var
	Offsets []Offs
}

func NewVarPath(base Var, offsets ...Offs) VarPath {
	return VarPath{Base: base, Offsets: offsets}
}

// Depth returns the dereference depth of p.
func (p VarPath) Depth() int { return len(p.Offsets) }

func (p VarPath) String() string {
	s := p.Base.String()
	for _, o := range p.Offsets {
		if o == nil {
			s += "[*]"
		} else {
			s += fmt.Sprintf("[+%d]", *o)
		}
	}
	return s
}
