package uafcheck

import "testing"

func TestFieldMapStrongUpdate(t *testing.T) {
	fm := newFieldMap()
	a := Register(RAX)
	b := Register(RBX)

	fm.setAlias(KnownOffset(0), varRefSet{NewVarRef(a, nil).key(): NewVarRef(a, nil)})
	fm.setAlias(KnownOffset(0), varRefSet{NewVarRef(b, nil).key(): NewVarRef(b, nil)})

	got := fm.get(KnownOffset(0))
	if _, ok := got[NewVarRef(a, nil).key()]; ok {
		t.Error("a precise write to a known offset should replace the slot, not merge")
	}
	if _, ok := got[NewVarRef(b, nil).key()]; !ok {
		t.Error("expected the new target to be present after a strong update")
	}
}

func TestFieldMapWeakUpdateMerges(t *testing.T) {
	fm := newFieldMap()
	a := Register(RAX)
	b := Register(RBX)

	fm.extendAlias(KnownOffset(8), varRefSet{NewVarRef(a, nil).key(): NewVarRef(a, nil)})
	fm.extendAlias(KnownOffset(8), varRefSet{NewVarRef(b, nil).key(): NewVarRef(b, nil)})

	got := fm.get(KnownOffset(8))
	if len(got) != 2 {
		t.Errorf("extendAlias should merge, not replace; got %d targets, want 2", len(got))
	}
}

func TestFieldMapUnknownOffsetWriteFansOut(t *testing.T) {
	fm := newFieldMap()
	known := Register(RAX)
	unknown := Register(RBX)

	fm.setAlias(KnownOffset(0), varRefSet{NewVarRef(known, nil).key(): NewVarRef(known, nil)})
	fm.setAlias(nil, varRefSet{NewVarRef(unknown, nil).key(): NewVarRef(unknown, nil)})

	// An imprecise write merges into every existing slot and into
	// Unbound, so the known offset should now see both targets.
	got := fm.get(KnownOffset(0))
	if len(got) != 2 {
		t.Errorf("imprecise write should fan into existing slots, got %d targets, want 2", len(got))
	}
	if !fm.UBWrite {
		t.Error("expected UBWrite to be set after an imprecise write")
	}
}

func TestFieldMapWidening(t *testing.T) {
	fm := newFieldMap()
	for i := uint64(0); i < maxBoundedOffsets+1; i++ {
		v := Register(Reg(int(i) % int(numRegs)))
		fm.setAlias(KnownOffset(i), varRefSet{NewVarRef(v, nil).key(): NewVarRef(v, nil)})
	}
	if len(fm.Bounded) > maxBoundedOffsets {
		t.Errorf("expected widening to collapse Bounded to <= %d offsets, got %d", maxBoundedOffsets, len(fm.Bounded))
	}
	if len(fm.Unbound) == 0 {
		t.Error("expected widened offsets to land in Unbound")
	}
}

func TestFieldMapCloneIsIndependent(t *testing.T) {
	fm := newFieldMap()
	a := Register(RAX)
	fm.setAlias(KnownOffset(0), varRefSet{NewVarRef(a, nil).key(): NewVarRef(a, nil)})

	clone := fm.clone()
	clone.setAlias(KnownOffset(0), varRefSet{NewVarRef(Register(RBX), nil).key(): NewVarRef(Register(RBX), nil)})

	orig := fm.get(KnownOffset(0))
	if _, ok := orig[NewVarRef(a, nil).key()]; !ok {
		t.Error("mutating a clone must not affect the original (copy-on-grow)")
	}
}

func TestFieldMapReplaceVar(t *testing.T) {
	fm := newFieldMap()
	fresh := Register(RAX)
	stale := Register(RBX)
	fm.setAlias(KnownOffset(0), varRefSet{NewVarRef(fresh, nil).key(): NewVarRef(fresh, nil)})

	fm.replaceVar(fresh, stale)

	got := fm.get(KnownOffset(0))
	if _, ok := got[NewVarRef(stale, nil).key()]; !ok {
		t.Error("replaceVar should retarget values from fresh to stale")
	}
	if _, ok := got[NewVarRef(fresh, nil).key()]; ok {
		t.Error("replaceVar should remove the old value entirely")
	}
}
