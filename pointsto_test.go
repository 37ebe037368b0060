package uafcheck

import (
	"testing"

	"github.com/aclements/uafcheck/intern"
)

func TestPointsToSetAliasAndGet(t *testing.T) {
	p := NewPointsTo()
	base := Register(RDI)
	target := Register(RAX)

	p.SetAlias(NewVarRef(base, nil), newVarRefSet())
	p.SetAlias(NewVarRef(base, nil), varRefSet{NewVarRef(target, nil).key(): NewVarRef(target, nil)})

	got := p.Get(NewVarRef(base, nil))
	if _, ok := got[NewVarRef(target, nil).key()]; !ok {
		t.Fatalf("expected %v to point to %v after SetAlias", base, target)
	}
}

func TestPointsToGetMissingBaseIsEmpty(t *testing.T) {
	p := NewPointsTo()
	got := p.Get(NewVarRef(Register(RAX), nil))
	if len(got) != 0 {
		t.Errorf("expected empty set for an unknown base, got %v", got)
	}
}

func TestPointsToCloneIsIndependent(t *testing.T) {
	p := NewPointsTo()
	base := Register(RDI)
	p.SetAlias(NewVarRef(base, nil), varRefSet{NewVarRef(Register(RAX), nil).key(): NewVarRef(Register(RAX), nil)})

	clone := p.Clone()
	clone.SetAlias(NewVarRef(base, nil), varRefSet{NewVarRef(Register(RBX), nil).key(): NewVarRef(Register(RBX), nil)})

	orig := p.Get(NewVarRef(base, nil))
	if _, ok := orig[NewVarRef(Register(RAX), nil).key()]; !ok {
		t.Error("cloning must not let mutation of the clone leak back into the original")
	}
}

func TestPointsToMakeStale(t *testing.T) {
	f := intern.Intern("pointsto_test.go:stale")
	site := NewLoc(f, 0x10)
	fresh := Alloc(site, false)
	stale := Alloc(site, true)

	p := NewPointsTo()
	p.SetAlias(NewVarRef(fresh, nil), newVarRefSet())
	p.SuperLive[fresh] = struct{}{}

	p.MakeStale(site)

	if _, ok := p.Inner[fresh]; ok {
		t.Error("MakeStale should retarget the fresh generation away, not leave it present")
	}
	if _, ok := p.Inner[stale]; !ok {
		t.Error("MakeStale should install the stale generation")
	}
	if _, ok := p.SuperLive[stale]; !ok {
		t.Error("MakeStale should carry SuperLive membership to the stale generation")
	}
}

func TestPointsToClobberRemovesBase(t *testing.T) {
	p := NewPointsTo()
	v := Register(RAX)
	p.SetAlias(NewVarRef(v, nil), newVarRefSet())
	p.AddLive(v)

	p.Clobber(v)

	if _, ok := p.Inner[v]; ok {
		t.Error("Clobber should remove the base from Inner")
	}
	if _, ok := p.SuperLive[v]; ok {
		t.Error("Clobber should remove the base from SuperLive")
	}
}

func TestPointsToRemoveTemps(t *testing.T) {
	p := NewPointsTo()
	tmp := Temp(1)
	reg := Register(RAX)
	p.SetAlias(NewVarRef(tmp, nil), newVarRefSet())
	p.SetAlias(NewVarRef(reg, nil), newVarRefSet())

	p.RemoveTemps()

	if _, ok := p.Inner[tmp]; ok {
		t.Error("RemoveTemps should drop Temp bases")
	}
	if _, ok := p.Inner[reg]; !ok {
		t.Error("RemoveTemps should leave non-Temp bases alone")
	}
}

func TestPointsToOnlyRegsRetainsWhitelist(t *testing.T) {
	p := NewPointsTo()
	p.SetAlias(NewVarRef(Register(RAX), nil), newVarRefSet())
	p.SetAlias(NewVarRef(Register(RBX), nil), newVarRefSet())

	p.OnlyRegs(NewRegSet(RAX))

	if _, ok := p.Inner[Register(RAX)]; !ok {
		t.Error("OnlyRegs should keep whitelisted registers")
	}
	if _, ok := p.Inner[Register(RBX)]; ok {
		t.Error("OnlyRegs should drop non-whitelisted registers")
	}
}

func TestPointsToDropStackRemovesStackSlotsOnly(t *testing.T) {
	f := intern.Intern("pointsto_test.go:dropstack")
	fn := NewLoc(f, 0x10)
	p := NewPointsTo()
	p.SetAlias(NewVarRef(StackSlot(fn, -8), nil), newVarRefSet())
	p.SetAlias(NewVarRef(Register(RAX), nil), newVarRefSet())

	p.DropStack()

	if _, ok := p.Inner[StackSlot(fn, -8)]; ok {
		t.Error("DropStack should remove stack-slot bases")
	}
	if _, ok := p.Inner[Register(RAX)]; !ok {
		t.Error("DropStack should leave non-stack bases alone")
	}
}

func TestPointsToCanonicalizeSweepsUnreachable(t *testing.T) {
	f := intern.Intern("pointsto_test.go:canon")
	site := NewLoc(f, 0x10)
	alloc := Alloc(site, false)

	p := NewPointsTo()
	// No root points at alloc and it's not in SuperLive: it should be
	// swept.
	p.SetAlias(NewVarRef(alloc, nil), newVarRefSet())

	p.Canonicalize()

	if _, ok := p.Inner[alloc]; ok {
		t.Error("Canonicalize should sweep an unrooted dyn base")
	}
}

func TestPointsToCanonicalizeKeepsSuperLive(t *testing.T) {
	f := intern.Intern("pointsto_test.go:canon2")
	site := NewLoc(f, 0x20)
	alloc := Alloc(site, false)

	p := NewPointsTo()
	p.SetAlias(NewVarRef(alloc, nil), newVarRefSet())
	p.SuperLive[alloc] = struct{}{}

	p.Canonicalize()

	if _, ok := p.Inner[alloc]; !ok {
		t.Error("Canonicalize should keep a SuperLive dyn base")
	}
}

func TestPointsToFreeSitesFollowsChain(t *testing.T) {
	f := intern.Intern("pointsto_test.go:freesites")
	site := NewLoc(f, 0x30)
	freed := Freed(site)
	reg := Register(RAX)

	p := NewPointsTo()
	p.SetAlias(NewVarRef(reg, KnownOffset(0)), varRefSet{
		NewVarRef(freed, nil).key(): NewVarRef(freed, nil),
	})

	sites := p.FreeSites(reg)
	if len(sites) != 1 || !sites[0].Equal(site) {
		t.Errorf("FreeSites(%v) = %v, want [%v]", reg, sites, site)
	}
}

func TestPointsToMergeUnionsAndGrows(t *testing.T) {
	p1 := NewPointsTo()
	p1.SetAlias(NewVarRef(Register(RAX), nil), varRefSet{
		NewVarRef(Register(RBX), nil).key(): NewVarRef(Register(RBX), nil),
	})

	p2 := NewPointsTo()
	p2.SetAlias(NewVarRef(Register(RAX), nil), varRefSet{
		NewVarRef(Register(RCX), nil).key(): NewVarRef(Register(RCX), nil),
	})

	merged := p1.Merge(p2)
	got := merged.Get(NewVarRef(Register(RAX), nil))
	if len(got) != 2 {
		t.Errorf("Merge should union targets, got %d want 2", len(got))
	}
	if !p1.Grew(merged) {
		t.Error("merged should be reported as growth over p1")
	}
	if p1.Grew(p1.Clone()) {
		t.Error("merging with an identical copy should not report growth")
	}
}
