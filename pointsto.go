package uafcheck

// PointsTo is the per-location abstract state of §3: a field-sensitive
// alias map, the set of roots kept alive across GC (super_live), and
// the set of function-entry Locs whose stack frames are currently
// live.
type PointsTo struct {
	Inner     map[Var]*FieldMap
	SuperLive map[Var]struct{}
	Frames    map[Loc]struct{}
}

// NewPointsTo returns the empty abstract state.
func NewPointsTo() *PointsTo {
	return &PointsTo{
		Inner:     make(map[Var]*FieldMap),
		SuperLive: make(map[Var]struct{}),
		Frames:    make(map[Loc]struct{}),
	}
}

// Clone returns a deep, independent copy (§5: "Aggregated values
// ... are copy-on-grow: replacing a tuple produces a new value,
// never mutates a prior one").
func (p *PointsTo) Clone() *PointsTo {
	out := NewPointsTo()
	for v, fm := range p.Inner {
		out.Inner[v] = fm.clone()
	}
	for v := range p.SuperLive {
		out.SuperLive[v] = struct{}{}
	}
	for l := range p.Frames {
		out.Frames[l] = struct{}{}
	}
	return out
}

func (p *PointsTo) fieldMap(base Var) *FieldMap {
	fm, ok := p.Inner[base]
	if !ok {
		fm = newFieldMap()
		p.Inner[base] = fm
	}
	return fm
}

// Get resolves a VarRef to its current alias set (§4.3 get). A base
// with no entry resolves to the empty set.
func (p *PointsTo) Get(ref VarRef) varRefSet {
	fm, ok := p.Inner[ref.Base]
	if !ok {
		return newVarRefSet()
	}
	return fm.get(ref.Offset)
}

// SetAlias performs a write, applying strong/weak update semantics
// per the FieldMap rule (§4.3 set_alias).
func (p *PointsTo) SetAlias(ref VarRef, targets varRefSet) {
	p.fieldMap(ref.Base).setAlias(ref.Offset, targets)
}

// ExtendAlias adds possibilities without replacing existing ones
// (§4.3 extend_alias).
func (p *PointsTo) ExtendAlias(ref VarRef, targets varRefSet) {
	p.fieldMap(ref.Base).extendAlias(ref.Offset, targets)
}

// MakeStale retargets every reference to Alloc{site,false} to
// Alloc{site,true}, everywhere: as map keys, as values inside
// FieldMaps, and in SuperLive (§4.3 make_stale). It models re-entry to
// an allocation site aging the previous generation.
func (p *PointsTo) MakeStale(site Loc) {
	fresh := Alloc(site, false)
	stale := Alloc(site, true)
	p.rewriteBase(fresh, stale)
}

// MakeDup duplicates the fresh generation of site into the stale
// generation without removing the fresh one, so both remain
// reachable (§4.3 make_dup) — used when a site is only possibly
// re-entered (e.g. reached along some but not all predecessors).
func (p *PointsTo) MakeDup(site Loc) {
	fresh := Alloc(site, false)
	stale := Alloc(site, true)
	if fm, ok := p.Inner[fresh]; ok {
		dup := fm.clone()
		if existing, ok := p.Inner[stale]; ok {
			for off, set := range dup.Bounded {
				existing.Bounded[off] = mergeVarRefSet(existing.Bounded[off], set)
			}
			existing.Unbound.addAll(dup.Unbound)
			existing.UBWrite = existing.UBWrite || dup.UBWrite
		} else {
			p.Inner[stale] = dup
		}
	}
	for v, fm := range p.Inner {
		if v.Equal(fresh) {
			continue
		}
		dup := fm.clone()
		dup.replaceVar(fresh, stale)
		merged := p.Inner[v]
		for off, set := range dup.Bounded {
			merged.Bounded[off] = mergeVarRefSet(merged.Bounded[off], set)
		}
		merged.Unbound.addAll(dup.Unbound)
	}
	if _, ok := p.SuperLive[fresh]; ok {
		p.SuperLive[stale] = struct{}{}
	}
}

func mergeVarRefSet(a, b varRefSet) varRefSet {
	if a == nil {
		a = newVarRefSet()
	}
	a.addAll(b)
	return a
}

// rewriteBase renames base 'from' to 'to' everywhere: as a map key
// and as any value referenced inside other FieldMaps or SuperLive.
func (p *PointsTo) rewriteBase(from, to Var) {
	if fm, ok := p.Inner[from]; ok {
		delete(p.Inner, from)
		if existing, ok := p.Inner[to]; ok {
			for off, set := range fm.Bounded {
				existing.Bounded[off] = mergeVarRefSet(existing.Bounded[off], set)
			}
			existing.Unbound.addAll(fm.Unbound)
			existing.UBWrite = existing.UBWrite || fm.UBWrite
			existing.widen()
		} else {
			p.Inner[to] = fm
		}
	}
	for _, fm := range p.Inner {
		fm.replaceVar(from, to)
	}
	if _, ok := p.SuperLive[from]; ok {
		delete(p.SuperLive, from)
		p.SuperLive[to] = struct{}{}
	}
}

// Clobber removes v as a base, so it points to nothing known
// (§3 Clobber constraint, §4.3 clobber).
func (p *PointsTo) Clobber(v Var) {
	delete(p.Inner, v)
	delete(p.SuperLive, v)
}

// RemoveTemps drops every base whose kind is Temp (§4.3 remove_temps,
// applied every transfer step per §4.5 step 3).
func (p *PointsTo) RemoveTemps() {
	for v := range p.Inner {
		if v.IsTemp() {
			delete(p.Inner, v)
		}
	}
	for v := range p.SuperLive {
		if v.IsTemp() {
			delete(p.SuperLive, v)
		}
	}
}

// OnlyRegs retains register bases only if they're in whitelist,
// dropping every other register base (used on call edges, §4.6).
func (p *PointsTo) OnlyRegs(whitelist RegSet) {
	for v := range p.Inner {
		if v.Kind == VarRegister && !whitelist.Has(v.Register) {
			delete(p.Inner, v)
		}
	}
	for v := range p.SuperLive {
		if v.Kind == VarRegister && !whitelist.Has(v.Register) {
			delete(p.SuperLive, v)
		}
	}
}

// ClearLive empties SuperLive.
func (p *PointsTo) ClearLive() { p.SuperLive = make(map[Var]struct{}) }

// AddLive adds vs to SuperLive.
func (p *PointsTo) AddLive(vs ...Var) {
	for _, v := range vs {
		p.SuperLive[v] = struct{}{}
	}
}

// ClearFrames empties Frames.
func (p *PointsTo) ClearFrames() { p.Frames = make(map[Loc]struct{}) }

// AddFrame adds entry to Frames.
func (p *PointsTo) AddFrame(entry Loc) { p.Frames[entry] = struct{}{} }

// DropStack removes every StackSlot base (used when constructing a
// call's outgoing state, §4.6 clear_frames/drop_stack combination:
// the callee doesn't see the caller's stack slots as bases at all,
// only as reachable-through targets if something pointed at them and
// survives GC via a live root).
func (p *PointsTo) DropStack() {
	for v := range p.Inner {
		if v.IsStack() {
			delete(p.Inner, v)
		}
	}
}

// Canonicalize is mark-and-sweep GC over bases (§4.3 canonicalize):
// roots are every non-dyn base, every base in SuperLive, and every
// StackSlot whose FuncAddr is in Frames; anything not reachable from
// roots via FieldMap targets is removed, to a fixed point.
func (p *PointsTo) Canonicalize() {
	marked := make(map[Var]struct{})
	var work []Var

	isRoot := func(v Var) bool {
		if v.IsStack() && v.OtherFunc(p.Frames) {
			return false
		}
		if !v.IsDyn() {
			return true
		}
		if _, ok := p.SuperLive[v]; ok {
			return true
		}
		return false
	}

	for v := range p.Inner {
		if isRoot(v) {
			if _, ok := marked[v]; !ok {
				marked[v] = struct{}{}
				work = append(work, v)
			}
		}
	}
	for v := range p.SuperLive {
		if _, ok := marked[v]; !ok {
			marked[v] = struct{}{}
			work = append(work, v)
		}
	}

	for len(work) > 0 {
		v := work[len(work)-1]
		work = work[:len(work)-1]
		fm, ok := p.Inner[v]
		if !ok {
			continue
		}
		for _, r := range fm.allTargets() {
			if _, ok := marked[r.Base]; !ok {
				marked[r.Base] = struct{}{}
				work = append(work, r.Base)
			}
		}
	}

	for v := range p.Inner {
		if _, ok := marked[v]; !ok {
			delete(p.Inner, v)
		}
	}
}

// PurgeDead drops every non-dyn base not present in liveSet and not
// in SuperLive, then canonicalizes (§4.3 purge_dead).
func (p *PointsTo) PurgeDead(liveSet map[Var]struct{}) {
	for v := range p.Inner {
		if v.IsDyn() {
			continue
		}
		_, live := liveSet[v]
		_, super := p.SuperLive[v]
		if !live && !super {
			delete(p.Inner, v)
		}
	}
	p.Canonicalize()
}

// FreeSites enumerates sites s such that following v -> * -> *
// reaches Freed{site=s} (§4.3 free_sites), used by UAF derivation.
// It performs its own bounded reachability search (distinct from
// canonicalize's root-driven mark) over FieldMap targets.
func (p *PointsTo) FreeSites(v Var) []Loc {
	seen := map[Var]struct{}{v: {}}
	work := []Var{v}
	var sites []Loc
	siteSeen := map[Loc]struct{}{}
	for len(work) > 0 {
		cur := work[0]
		work = work[1:]
		if cur.IsFreed() {
			if _, ok := siteSeen[cur.Site]; !ok {
				siteSeen[cur.Site] = struct{}{}
				sites = append(sites, cur.Site)
			}
			continue
		}
		fm, ok := p.Inner[cur]
		if !ok {
			continue
		}
		for _, r := range fm.allTargets() {
			if _, ok := seen[r.Base]; !ok {
				seen[r.Base] = struct{}{}
				work = append(work, r.Base)
			}
		}
	}
	return sites
}

// Merge is the lattice-join used by the fixed-point engine's
// aggregate declarations (§4.9) for FlowIn/FlowOut: pointwise union
// of FieldMaps, union of SuperLive, union of Frames. Merge never
// mutates a or b; it returns a fresh value (§5 copy-on-grow).
func (a *PointsTo) Merge(b *PointsTo) *PointsTo {
	out := a.Clone()
	for v, fm := range b.Inner {
		if existing, ok := out.Inner[v]; ok {
			for off, set := range fm.Bounded {
				existing.Bounded[off] = mergeVarRefSet(existing.Bounded[off].clone(), set)
			}
			existing.Unbound.addAll(fm.Unbound)
			existing.UBWrite = existing.UBWrite || fm.UBWrite
			existing.widen()
		} else {
			out.Inner[v] = fm.clone()
		}
	}
	for v := range b.SuperLive {
		out.SuperLive[v] = struct{}{}
	}
	for l := range b.Frames {
		out.Frames[l] = struct{}{}
	}
	return out
}

// Grew reports whether b (the result of a Merge) strictly extends a,
// the condition the fixed-point engine (§4.9) uses to decide whether
// a combined tuple re-enters the round.
func (a *PointsTo) Grew(b *PointsTo) bool {
	if len(b.Frames) > len(a.Frames) || len(b.SuperLive) > len(a.SuperLive) {
		return true
	}
	for l := range b.Frames {
		if _, ok := a.Frames[l]; !ok {
			return true
		}
	}
	for v := range b.SuperLive {
		if _, ok := a.SuperLive[v]; !ok {
			return true
		}
	}
	for v, bfm := range b.Inner {
		afm, ok := a.Inner[v]
		if !ok {
			return true
		}
		if !bfm.Unbound.subset(afm.Unbound) {
			return true
		}
		for off, bs := range bfm.Bounded {
			as, ok := afm.Bounded[off]
			if !ok || !bs.subset(as) {
				return true
			}
		}
	}
	return false
}
