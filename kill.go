package uafcheck

// KillSpec is an edge's invalidation effect, applied after the
// transfer function's own constraint processing (§4.4, §4.5 step 6).
type KillSpec struct {
	// Kind selects which case applies. The zero value is
	// killNone: an intra-procedural edge with no extra effect.
	kind killKind
	regs RegSet
	// frame is only meaningful when kind == killStackFrame.
	frame Loc
}

type killKind int

const (
	killNone killKind = iota
	killRegisters
	killStackFrame
)

// NoKill is the empty KillSpec used on ordinary intra-procedural
// edges.
var NoKill = KillSpec{kind: killNone}

// KillRegisters kills the given register bases — used on skip/external
// call edges, where only caller-saved registers are clobbered (§4.4,
// §4.6 "Skip/external call").
func KillRegisters(regs RegSet) KillSpec {
	return KillSpec{kind: killRegisters, regs: regs}
}

// KillStackFrame kills StackSlots belonging to frame F and all
// registers except RET_REG — modeling ABI + frame teardown on a
// call's return edge (§4.4, §4.6 "Return edge").
func KillStackFrame(frame Loc) KillSpec {
	return KillSpec{kind: killStackFrame, frame: frame}
}

// Apply mutates pts in place according to the KillSpec (final step of
// xfer, §4.5 step 6).
func (k KillSpec) Apply(pts *PointsTo) {
	switch k.kind {
	case killNone:
		return
	case killRegisters:
		for _, r := range k.regs.Regs() {
			pts.Clobber(Register(r))
		}
	case killStackFrame:
		for v := range pts.Inner {
			if v.IsStack() && v.FuncAddr.Equal(k.frame) {
				delete(pts.Inner, v)
			}
		}
		delete(pts.Frames, k.frame)
		for r := 0; r < int(numRegs); r++ {
			if Reg(r) == RET_REG {
				continue
			}
			pts.Clobber(Register(Reg(r)))
		}
	}
}
