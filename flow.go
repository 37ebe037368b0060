package uafcheck

// resolveValue resolves a VarPath to the set of VarRef it may denote,
// reading through one pointer per offset level beyond the first
// (§4.3 "Resolve each rhs VarPath against pts by recursive lookup
// along the offset chain"). Depth 1 (a bare address, §3) needs no
// lookup at all: it's just (Base, Offsets[0]).
func resolveValue(pts *PointsTo, path VarPath) varRefSet {
	if len(path.Offsets) == 0 {
		return newVarRefSet()
	}
	cur := newVarRefSet()
	cur.add(VarRef{Base: path.Base, Offset: path.Offsets[0]})
	for i := 1; i < len(path.Offsets); i++ {
		next := newVarRefSet()
		for _, ref := range cur {
			for _, tgt := range pts.Get(ref) {
				next.add(VarRef{Base: tgt.Base, Offset: path.Offsets[i]})
			}
		}
		cur = next
	}
	return cur
}

// resolveWriteTargets resolves the lhs of a store-shaped constraint:
// path must have derefs >= 2 (§4.3). The first len-1 levels are
// resolved to find what pointer value is being written through; the
// final offset then selects which field of that value is overwritten.
func resolveWriteTargets(pts *PointsTo, path VarPath) varRefSet {
	if len(path.Offsets) < 2 {
		return newVarRefSet()
	}
	ptrVals := resolveValue(pts, VarPath{Base: path.Base, Offsets: path.Offsets[:len(path.Offsets)-1]})
	last := path.Offsets[len(path.Offsets)-1]
	out := newVarRefSet()
	for _, v := range ptrVals {
		out.add(VarRef{Base: v.Base, Offset: last})
	}
	return out
}

// xfer applies a block's constraints to the incoming points-to state,
// purges dead vars, and applies the edge's KillSpec (§4.5). It never
// mutates ptsIn; it returns a fresh *PointsTo.
func xfer(ptsIn *PointsTo, constraints []Constraint, varsLive map[Var]struct{}, kill KillSpec) *PointsTo {
	pts := ptsIn.Clone()

	for _, c := range constraints {
		applyConstraint(pts, c)
	}

	pts.RemoveTemps()
	pts.Canonicalize()
	pts.PurgeDead(varsLive)
	kill.Apply(pts)

	return pts
}

func applyConstraint(pts *PointsTo, c Constraint) {
	if c.Kind == CClobber {
		pts.Clobber(c.A.Base)
		return
	}

	// "If any rhs mentions Alloc{site,false}, first call make_stale
	// on pts. This models re-entry to an allocation site." (§4.5
	// step 2.)
	if c.B.Base.Kind == VarAlloc && !c.B.Base.Stale {
		pts.MakeStale(c.B.Base.Site)
	}

	switch c.Kind {
	case CAddrOf:
		// a := &b: the rhs is the address itself (depth 1 by
		// construction — AddrOf never wraps a Load), so the value to
		// store is the VarRef (b.Base, its own trailing offset).
		target := NewVarRef(c.B.Base, lastOffset(c.B))
		writeOne(pts, c.A, singleton(target))

	case CAsgn:
		rhs := resolveValue(pts, c.B)
		writeOne(pts, c.A, rhs)

	case CDeref:
		rhs := resolveValue(pts, c.B)
		writeOne(pts, c.A, rhs)

	case CStackLoad:
		target := NewVarRef(c.B.Base, lastOffset(c.B))
		writeThrough(pts, c.A, singleton(target))

	case CWrite:
		rhs := resolveValue(pts, c.B)
		writeThrough(pts, c.A, rhs)

	case CXfer:
		rhs := resolveValue(pts, c.B)
		writeThrough(pts, c.A, rhs)
	}
}

func lastOffset(p VarPath) Offs {
	if len(p.Offsets) == 0 {
		return nil
	}
	return p.Offsets[len(p.Offsets)-1]
}

func singleton(r VarRef) varRefSet {
	s := newVarRefSet()
	s.add(r)
	return s
}

// writeOne handles a direct (register/temp) assignment: the lhs
// VarPath has depth 1, so it names a single base+offset directly, and
// SetAlias applies the FieldMap rule to it: a known offset replaces
// that slot, while an unknown offset (which the generator gives every
// register and temp path) merges into the existing targets.
func writeOne(pts *PointsTo, lhs VarPath, rhs varRefSet) {
	ref := VarRef{Base: lhs.Base, Offset: lastOffset(lhs)}
	pts.SetAlias(ref, rhs)
}

// writeThrough handles a store through a pointer (lhs depth >= 2):
// resolve the set of targets to overwrite; a single target goes
// through set_alias (which replaces only at a known offset, as in
// writeOne), multiple targets are weak updates (extend_alias) (§4.5
// step 2).
func writeThrough(pts *PointsTo, lhs VarPath, rhs varRefSet) {
	targets := resolveWriteTargets(pts, lhs)
	if len(targets) == 0 {
		return
	}
	if len(targets) == 1 {
		for _, t := range targets {
			pts.SetAlias(t, rhs)
		}
		return
	}
	for _, t := range targets {
		pts.ExtendAlias(t, rhs)
	}
}
