package uafcheck

import (
	"testing"

	"github.com/aclements/uafcheck/intern"
)

func TestKillSpecNoKillIsNoop(t *testing.T) {
	p := NewPointsTo()
	p.SetAlias(NewVarRef(Register(RAX), nil), newVarRefSet())
	before := len(p.Inner)

	NoKill.Apply(p)

	if len(p.Inner) != before {
		t.Errorf("NoKill.Apply should not change state, had %d bases now %d", before, len(p.Inner))
	}
}

func TestKillRegistersClobbersOnlyListed(t *testing.T) {
	p := NewPointsTo()
	p.SetAlias(NewVarRef(Register(RAX), nil), newVarRefSet())
	p.SetAlias(NewVarRef(Register(RBX), nil), newVarRefSet())

	KillRegisters(NewRegSet(RAX)).Apply(p)

	if _, ok := p.Inner[Register(RAX)]; ok {
		t.Error("KillRegisters should clobber RAX")
	}
	if _, ok := p.Inner[Register(RBX)]; !ok {
		t.Error("KillRegisters should leave RBX alone")
	}
}

func TestKillStackFrameDropsFrameKeepsRetReg(t *testing.T) {
	f := intern.Intern("kill_test.go:stackframe")
	fn := NewLoc(f, 0x10)
	other := NewLoc(f, 0x20)

	p := NewPointsTo()
	p.AddFrame(fn)
	p.SetAlias(NewVarRef(StackSlot(fn, -8), nil), newVarRefSet())
	p.SetAlias(NewVarRef(StackSlot(other, -8), nil), newVarRefSet())
	p.SetAlias(NewVarRef(Register(RET_REG), nil), newVarRefSet())
	p.SetAlias(NewVarRef(Register(RBX), nil), newVarRefSet())

	KillStackFrame(fn).Apply(p)

	if _, ok := p.Inner[StackSlot(fn, -8)]; ok {
		t.Error("KillStackFrame should remove the torn-down frame's stack slots")
	}
	if _, ok := p.Inner[StackSlot(other, -8)]; !ok {
		t.Error("KillStackFrame should leave other frames' stack slots alone")
	}
	if _, ok := p.Frames[fn]; ok {
		t.Error("KillStackFrame should remove the frame from Frames")
	}
	if _, ok := p.Inner[Register(RET_REG)]; !ok {
		t.Error("KillStackFrame should preserve RET_REG across the return edge")
	}
	if _, ok := p.Inner[Register(RBX)]; ok {
		t.Error("KillStackFrame should clobber every non-RET_REG register")
	}
}
