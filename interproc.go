package uafcheck

import "github.com/aclements/uafcheck/intern"

// CallSiteInfo describes one discovered (call, target, return-site)
// triple (§3 derived relation CallSite).
type CallSiteInfo struct {
	Call   Loc
	Target Loc
	Ret    Loc
}

// CallOutgoing builds the state handed to a callee's entry from the
// caller's state at the call site (§4.6 "Call edge"): clear live
// roots and frames, keep only argument registers, drop stack-slot
// bases, then re-seed super-liveness from every dynamic base in the
// caller's state and every var already super-live there, and mark the
// callee's frame live. Stack roots reachable from the caller's state
// are not added to the live set.
func CallOutgoing(ptsAtCall *PointsTo, calleeEntry Loc) *PointsTo {
	out := ptsAtCall.Clone()
	out.ClearLive()
	out.ClearFrames()
	out.OnlyRegs(NewRegSet(ARGS...))
	out.DropStack()

	for v := range ptsAtCall.Inner {
		if v.IsDyn() {
			out.AddLive(v)
		}
	}
	for v := range ptsAtCall.SuperLive {
		out.AddLive(v)
	}
	out.AddFrame(calleeEntry)
	out.Canonicalize()
	return out
}

// CallEntryMerge merges the constructed call-outgoing state into
// whatever state already reaches the callee's entry from other call
// sites (§4.6 "At the callee's entry, merge pts' with the callee-entry
// state via PointsTo::merge").
func CallEntryMerge(calleeEntryState, outgoing *PointsTo) *PointsTo {
	if calleeEntryState == nil {
		return outgoing
	}
	return calleeEntryState.Merge(outgoing)
}

// ReturnEdge implements §4.6 "Return edge": the KillSpec is
// StackFrame(calleeEntry), applied to the state at the return
// instruction before merging it into the fallthrough state at the
// call site.
func ReturnEdge(ptsAtReturn *PointsTo, calleeEntry Loc, varsLive map[Var]struct{}) *PointsTo {
	return xfer(ptsAtReturn, nil, varsLive, KillStackFrame(calleeEntry))
}

// SkipCallEdge implements §4.6 "Skip/external call": a PLT import
// that isn't malloc/free/etc clobbers only caller-saved registers at
// the fallthrough.
func SkipCallEdge(ptsAtCall *PointsTo, varsLive map[Var]struct{}) *PointsTo {
	return xfer(ptsAtCall, nil, varsLive, KillRegisters(NewRegSet(CALLER_SAVED...)))
}

// CalleeStack derives the stack context a call's target Loc should
// carry (§4.6 "Call site discovery"): if the caller is unstacked, the
// callee is unstacked; otherwise the callee inherits the call site's
// stack augmented with the fallthrough return address, relimited to
// depth 1 and de-looped.
func CalleeStack(callLoc Loc, targetFile intern.ID, targetAddr uint64, fallthroughLoc Loc) Loc {
	target := Loc{File: targetFile, Addr: targetAddr, Stack: noStack}
	if !callLoc.IsStacked() {
		return target
	}
	return target.WithReturn(fallthroughLoc)
}
