package uafcheck

import (
	"log"

	"github.com/aclements/uafcheck/il"
)

// evalElem is one possible value an IL expression can evaluate to:
// either a VarPath (a pointer-shaped result, §3 "E = VP(path)") or a
// known constant (§3 "Const(k)").
type evalElem struct {
	isConst bool
	konst   int64
	path    VarPath
	// loaded records whether this VP's outermost form came from an
	// il.Load — i.e. whether using it as a Move's src means the Move
	// reads through a pointer (Deref/Xfer) or just copies an address
	// identity (AddrOf/Asgn/StackLoad). See generate doc comment.
	loaded bool
}

func constElem(k int64) evalElem { return evalElem{isConst: true, konst: k} }

func pathElem(p VarPath, loaded bool) evalElem { return evalElem{path: p, loaded: loaded} }

// genCtx carries the per-function, per-block state constraint
// generation needs: which function's frame RSP resolves into, and the
// mini constant-fold table of §4.2 ("remember that k in a per-block
// tmp database; subsequent reads of that register resolve to
// Const(k)"), keyed by register.
type genCtx struct {
	funcAddr Loc
	tmpConst map[Reg]int64
}

func newGenCtx(funcAddr Loc) *genCtx {
	return &genCtx{funcAddr: funcAddr, tmpConst: make(map[Reg]int64)}
}

// GenerateConstraints implements §4.2: given the IL statements one
// decoded instruction lifts into, produce the Constraints it
// contributes to the transfer function. It sees only the IL: the
// malloc/free constraints of a recognized call (also §4.2) come from
// GenerateMallocFreeConstraints, which the caller appends for call
// instructions.
func GenerateConstraints(funcAddr Loc, stmts []il.Stmt) []Constraint {
	ctx := newGenCtx(funcAddr)
	var out []Constraint
	for _, s := range stmts {
		out = append(out, ctx.genStmt(s)...)
	}
	return out
}

// GenerateMallocFreeConstraints implements the malloc/free half of
// §4.2 for a recognized call instruction at loc whose target import
// name is name.
func GenerateMallocFreeConstraints(loc Loc, name string) []Constraint {
	if IsMallocName(name) {
		return []Constraint{
			AddrOf(NewVarPath(Register(RET_REG), nil), NewVarPath(Alloc(loc, false), nil)),
		}
	}
	if idx, ok := IsFreeName(name); ok && idx < len(ARGS) {
		argVar := Register(ARGS[idx])
		return []Constraint{
			StackLoad(NewVarPath(argVar, nil, nil), NewVarPath(Freed(loc), nil)),
		}
	}
	return nil
}

func (ctx *genCtx) genStmt(s il.Stmt) []Constraint {
	switch s := s.(type) {
	case il.Move:
		return ctx.genMove(s)
	case il.If:
		// Both branches start from the incoming constant-fold state;
		// afterwards only the constants both branches agree on remain.
		before := make(map[Reg]int64, len(ctx.tmpConst))
		for r, k := range ctx.tmpConst {
			before[r] = k
		}
		var out []Constraint
		for _, s2 := range s.Then {
			out = append(out, ctx.genStmt(s2)...)
		}
		afterThen := ctx.tmpConst
		ctx.tmpConst = before
		for _, s2 := range s.Else {
			out = append(out, ctx.genStmt(s2)...)
		}
		for r, k := range ctx.tmpConst {
			if k2, ok := afterThen[r]; !ok || k2 != k {
				delete(ctx.tmpConst, r)
			}
		}
		return out
	case il.While:
		// Traverse the body twice so intra-instruction temp flow
		// reaches a fixed point (§4.2).
		var out []Constraint
		for i := 0; i < 2; i++ {
			for _, s2 := range s.Body {
				out = append(out, ctx.genStmt(s2)...)
			}
		}
		return out
	case il.Call:
		return nil
	default:
		log.Printf("uafcheck: unknown IL statement %T, ignoring", s)
		return nil
	}
}

func (ctx *genCtx) genMove(m il.Move) []Constraint {
	if w, ok := m.Dst.(il.Width); ok {
		if w.Bits == 1 {
			// Flag update: ignored (§4.2).
			return nil
		}
		m.Dst = w.Expr
	}
	if r, ok := m.Dst.(il.Reg); ok && r.Name == "RSP" {
		// Memory-RSP / stack-pointer write: frame lifecycle is
		// modeled externally (§4.2).
		return nil
	}

	srcElems := ctx.eval(m.Src)
	// A destination register is written, not read, so a constant
	// remembered for it does not apply to it as an lvalue.
	if reg, ok := registerOf(m.Dst); ok {
		delete(ctx.tmpConst, reg)
	}
	dstElems := ctx.eval(m.Dst)

	// Mini constant-fold (§4.2): a register write with exactly one
	// Const and no pointer among the resolved sources is remembered;
	// any other write of that register invalidates the entry.
	if reg, ok := registerOf(m.Dst); ok {
		if len(srcElems) == 1 && srcElems[0].isConst {
			ctx.tmpConst[reg] = srcElems[0].konst
		} else {
			delete(ctx.tmpConst, reg)
		}
	}

	var out []Constraint
	for _, d := range dstElems {
		if d.isConst {
			continue // can't write through a constant lvalue
		}
		out = append(out, ctx.genMoveOne(d, srcElems)...)
	}

	// An instruction that writes a constant to a non-temp register
	// with no other rhs produces Clobber{v} (§4.2).
	if reg, ok := registerOf(m.Dst); ok && len(dstElems) == 1 && !dstElems[0].loaded {
		hasPtr := false
		for _, s := range srcElems {
			if !s.isConst {
				hasPtr = true
			}
		}
		if !hasPtr && len(srcElems) > 0 {
			out = append(out, Clobber(Register(reg)))
		}
	}

	return out
}

func registerOf(e il.Expr) (Reg, bool) {
	r, ok := e.(il.Reg)
	if !ok {
		return 0, false
	}
	return regByName(r.Name)
}

// genMoveOne builds the constraints for one resolved destination
// element against every resolved source element (a store with
// multiple feasible rhs VPs becomes one Write/Xfer per rhs; the
// transfer function's weak/strong update split on the *lhs* cardinality
// handles the fan-out §4.5 describes).
func (ctx *genCtx) genMoveOne(d evalElem, srcElems []evalElem) []Constraint {
	var out []Constraint
	for _, s := range srcElems {
		if s.isConst {
			// "omitting rhs constants (not tracking global pointers
			// by address)" (§4.2) — for a store; for a register
			// move this simply contributes nothing pointer-shaped.
			continue
		}
		switch {
		case d.loaded && s.loaded:
			out = append(out, Xfer(d.path, s.path))
		case d.loaded && !s.loaded:
			out = append(out, Write(d.path, s.path))
		case !d.loaded && s.loaded:
			out = append(out, Deref(d.path, s.path))
		default:
			out = append(out, Asgn(d.path, s.path))
		}
	}
	return out
}

// eval implements expression evaluation (§4.2): yields the set of
// E = VP(path) | Const(k) an expression can denote.
func (ctx *genCtx) eval(e il.Expr) []evalElem {
	switch e := e.(type) {
	case il.Const:
		return []evalElem{constElem(e.Value)}

	case il.Temp:
		return []evalElem{pathElem(NewVarPath(Temp(e.Serial), nil), false)}

	case il.Reg:
		if e.Name == "RSP" {
			return []evalElem{pathElem(NewVarPath(StackSlot(ctx.funcAddr, 0), nil), false)}
		}
		r, ok := regByName(e.Name)
		if !ok {
			log.Printf("uafcheck: unknown register name %q, ignoring operand", e.Name)
			return nil
		}
		if k, ok := ctx.tmpConst[r]; ok {
			return []evalElem{constElem(k)}
		}
		return []evalElem{pathElem(NewVarPath(Register(r), nil), false)}

	case il.Width:
		return ctx.eval(e.Expr)

	case il.Load:
		inner := ctx.eval(e.Addr)
		var out []evalElem
		for _, in := range inner {
			if in.isConst {
				// Drop constants: not tracking global pointers by
				// address (§4.2).
				continue
			}
			out = append(out, pathElem(appendOffset(in.path, nil), true))
		}
		return out

	case il.BinOp:
		return ctx.evalBinOp(e)

	case il.Tern:
		// Union both branches (§4.2).
		out := ctx.eval(e.True)
		out = append(out, ctx.eval(e.False)...)
		return out

	default:
		log.Printf("uafcheck: unknown IL expression %T, ignoring", e)
		return nil
	}
}

func (ctx *genCtx) evalBinOp(b il.BinOp) []evalElem {
	left := ctx.eval(b.Left)
	right := ctx.eval(b.Right)

	if rr, ok := asRSPReg(b.Left); ok && b.Op == il.Add {
		if k, ok := constOnly(right); ok {
			_ = rr
			return []evalElem{pathElem(NewVarPath(StackSlot(ctx.funcAddr, k), nil), false)}
		}
	}
	if rr, ok := asRSPReg(b.Right); ok && b.Op == il.Add {
		if k, ok := constOnly(left); ok {
			_ = rr
			return []evalElem{pathElem(NewVarPath(StackSlot(ctx.funcAddr, k), nil), false)}
		}
	}

	var out []evalElem
	for _, l := range left {
		for _, r := range right {
			out = append(out, ctx.combine(b.Op, l, r)...)
		}
	}
	return out
}

func asRSPReg(e il.Expr) (il.Reg, bool) {
	r, ok := e.(il.Reg)
	return r, ok && r.Name == "RSP"
}

func constOnly(elems []evalElem) (int64, bool) {
	if len(elems) == 1 && elems[0].isConst {
		return elems[0].konst, true
	}
	return 0, false
}

// combine implements the non-RSP arithmetic rules of §4.2: add of two
// VPs widens both to unknown offset; add of VP and Const shifts the
// last offset by k; other binops widen both operands to unknown
// offset.
func (ctx *genCtx) combine(op il.BinOpKind, l, r evalElem) []evalElem {
	switch {
	case l.isConst && r.isConst:
		switch op {
		case il.Add:
			return []evalElem{constElem(l.konst + r.konst)}
		case il.Sub:
			return []evalElem{constElem(l.konst - r.konst)}
		default:
			return []evalElem{constElem(0)}
		}
	case !l.isConst && r.isConst && op == il.Add:
		return []evalElem{pathElem(shiftLastOffset(l.path, r.konst), l.loaded)}
	case l.isConst && !r.isConst && op == il.Add:
		return []evalElem{pathElem(shiftLastOffset(r.path, l.konst), r.loaded)}
	case !l.isConst && !r.isConst:
		// Add of two VPs, or any other binop: widen both to unknown
		// offset (§4.2).
		return []evalElem{
			pathElem(widenLastOffset(l.path), l.loaded),
			pathElem(widenLastOffset(r.path), r.loaded),
		}
	default:
		return []evalElem{pathElem(widenLastOffset(l.path), l.loaded)}
	}
}

func appendOffset(p VarPath, off Offs) VarPath {
	offs := append(append([]Offs(nil), p.Offsets...), off)
	return VarPath{Base: p.Base, Offsets: offs}
}

func shiftLastOffset(p VarPath, delta int64) VarPath {
	if len(p.Offsets) == 0 {
		return appendOffset(p, KnownOffset(uint64(delta)))
	}
	offs := append([]Offs(nil), p.Offsets...)
	last := offs[len(offs)-1]
	if last == nil {
		offs[len(offs)-1] = KnownOffset(uint64(delta))
	} else {
		offs[len(offs)-1] = KnownOffset(*last + uint64(delta))
	}
	return VarPath{Base: p.Base, Offsets: offs}
}

func widenLastOffset(p VarPath) VarPath {
	if len(p.Offsets) == 0 {
		return appendOffset(p, nil)
	}
	offs := append([]Offs(nil), p.Offsets...)
	offs[len(offs)-1] = nil
	return VarPath{Base: p.Base, Offsets: offs}
}
