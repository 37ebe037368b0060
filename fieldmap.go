package uafcheck

// varRefSet is a set of VarRef, keyed by VarRef.key().
type varRefSet map[varRefKey]VarRef

func newVarRefSet() varRefSet { return make(varRefSet) }

func (s varRefSet) add(r VarRef) { s[r.key()] = r }

func (s varRefSet) addAll(o varRefSet) {
	for k, r := range o {
		s[k] = r
	}
}

func (s varRefSet) clone() varRefSet {
	out := make(varRefSet, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// subset reports whether every element of s is in o.
func (s varRefSet) subset(o varRefSet) bool {
	for k := range s {
		if _, ok := o[k]; !ok {
			return false
		}
	}
	return true
}

// maxBoundedOffsets is the widening threshold of §3: "once more than
// two distinct offsets accumulate, collapse to unbounded."
const maxBoundedOffsets = 2

// FieldMap is the per-base alias map: offset -> targets, plus an
// unbounded catch-all for unknown-offset writes (§3).
type FieldMap struct {
	Bounded map[uint64]varRefSet
	Unbound varRefSet
	UBWrite bool
}

func newFieldMap() *FieldMap {
	return &FieldMap{Bounded: make(map[uint64]varRefSet), Unbound: newVarRefSet()}
}

func (f *FieldMap) clone() *FieldMap {
	out := &FieldMap{
		Bounded: make(map[uint64]varRefSet, len(f.Bounded)),
		Unbound: f.Unbound.clone(),
		UBWrite: f.UBWrite,
	}
	for off, set := range f.Bounded {
		out.Bounded[off] = set.clone()
	}
	return out
}

// get implements PointsTo.get's per-base resolution (§4.3): offset
// nil unions unbounded with every bounded slot; a known offset
// returns that slot unioned with unbounded (the unbounded set always
// might alias any offset, since it absorbed every imprecise write).
func (f *FieldMap) get(offset Offs) varRefSet {
	out := f.Unbound.clone()
	if offset == nil {
		for _, set := range f.Bounded {
			out.addAll(set)
		}
		return out
	}
	if set, ok := f.Bounded[*offset]; ok {
		out.addAll(set)
	}
	return out
}

// isPrecise reports whether a write at offset is a strong, slot-only
// update (a known offset) vs. one that must fan out (unknown offset).
func isPrecise(offset Offs) bool { return offset != nil }

// setAlias implements the strong-update half of §4.3/§4.5: a precise
// write to a known offset replaces only that slot; Unbound is not
// cleared, so get at that offset still also returns Unbound's
// targets. An imprecise write merges additively into every slot and
// into Unbound.
func (f *FieldMap) setAlias(offset Offs, targets varRefSet) {
	if isPrecise(offset) {
		f.Bounded[*offset] = targets.clone()
		f.widen()
		return
	}
	f.extendAlias(offset, targets)
	f.UBWrite = true
}

// extendAlias implements the weak-update half of §4.3: add
// possibilities without replacement. An imprecise offset merges into
// every existing bounded slot and into Unbound; a precise offset
// merges only into that slot.
func (f *FieldMap) extendAlias(offset Offs, targets varRefSet) {
	if isPrecise(offset) {
		slot, ok := f.Bounded[*offset]
		if !ok {
			slot = newVarRefSet()
			f.Bounded[*offset] = slot
		}
		slot.addAll(targets)
		f.widen()
		return
	}
	for off := range f.Bounded {
		f.Bounded[off].addAll(targets)
	}
	f.Unbound.addAll(targets)
}

// widen collapses bounded offsets into Unbound once more than
// maxBoundedOffsets distinct offsets have accumulated on this base
// (§3 field widening; §8 "Field widening" testable property).
func (f *FieldMap) widen() {
	if len(f.Bounded) <= maxBoundedOffsets {
		return
	}
	for _, set := range f.Bounded {
		f.Unbound.addAll(set)
	}
	f.Bounded = make(map[uint64]varRefSet)
}

// allTargets returns every VarRef reachable from this base via any
// offset, used by canonicalize's mark phase.
func (f *FieldMap) allTargets() varRefSet {
	out := f.Unbound.clone()
	for _, set := range f.Bounded {
		out.addAll(set)
	}
	return out
}

// replaceVar rewrites every base occurring as a *value* (not key) in
// this FieldMap's sets from 'from' to 'to' — used by make_stale.
func (f *FieldMap) replaceVar(from, to Var) {
	rewrite := func(s varRefSet) varRefSet {
		out := newVarRefSet()
		for _, r := range s {
			if r.Base.Equal(from) {
				r = VarRef{Base: to, Offset: r.Offset}
			}
			out.add(r)
		}
		return out
	}
	f.Unbound = rewrite(f.Unbound)
	for off, set := range f.Bounded {
		f.Bounded[off] = rewrite(set)
	}
}
