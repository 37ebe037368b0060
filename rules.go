package uafcheck

import (
	"github.com/aclements/uafcheck/datalog"
	"github.com/aclements/uafcheck/intern"
	"github.com/aclements/uafcheck/oracle"
)

// run drives every relation to a fixed point (§4.9): discovery first
// expands Live/Succ/Func/CallSite/Constraints/Defines/Used from the
// worklist, then flow propagates FlowIn/FlowOut along Succ and
// CallSite edges, then uaf derives Uaf from FlowIn+Constraints. Each is a
// Rule whose Run() reports how many tuples it grew this round, and
// the whole thing loops (via datalog.Engine) to a fixed point.
func (db *Database) run() {
	db.resolveCrossFile()

	db.engine = datalog.NewEngine(db.engineRules()...)
	db.engine.RunRules()
}

func (db *Database) engineRules() []datalog.Rule {
	return []datalog.Rule{
		{Name: "discover", Run: db.ruleDiscover},
		{Name: "livevars", Run: db.ruleLiveVars},
		{Name: "flow", Run: db.ruleFlow},
		{Name: "uaf", Run: db.ruleUaf},
	}
}

// RunRulesOnce exposes one semi-naive round (§6).
func (db *Database) RunRulesOnce() int {
	if db.engine == nil {
		db.engine = datalog.NewEngine(db.engineRules()...)
	}
	return db.engine.RunRulesOnce()
}

// RunRules exposes the full fixed-point loop (§6).
func (db *Database) RunRules() {
	if db.engine == nil {
		db.run()
		return
	}
	db.engine.RunRules()
}

// ruleDiscover pops addresses off the worklist, lifts each, and
// populates the address- and Loc-scoped discovery relations.
func (db *Database) ruleDiscover() int {
	grew := 0
	work := db.worklist
	db.worklist = nil
	for _, loc := range work {
		if db.Live.Set(loc, struct{}{}) {
			grew++
		}
		grew += db.discoverAt(loc)
	}
	return grew
}

func (db *Database) discoverAt(loc Loc) int {
	grew := 0
	f, ok := db.files[loc.File]
	if !ok {
		return grew
	}
	lifted, ok := f.Lift(loc.Addr)
	if !ok {
		// Lift failure at an address: yield no IL; analysis proceeds
		// (§7).
		return grew
	}

	ak := keyOf(loc)
	funcEntry := db.funcEntryFor(loc.File, loc.Addr)
	if db.Func.Set(funcKey{Entry: funcEntry, Member: loc}, struct{}{}) {
		grew++
	}

	if !db.Constraints.Has(ak) {
		cs := GenerateConstraints(funcEntry, lifted.Stmts)
		var importName string
		isCall := false
		for _, t := range lifted.Targets {
			if name, ok := db.importOf[loc.File][t]; ok {
				importName, isCall = name, true
				break
			}
		}
		if lifted.IsCall && isCall {
			cs = append(cs, GenerateMallocFreeConstraints(loc, importName)...)
			if IsMallocName(importName) {
				db.MallocCall.Set(ak, struct{}{})
			}
			if idx, ok := IsFreeName(importName); ok {
				db.FreeCall.Set(ak, idx)
			}
		}
		if db.Constraints.Set(ak, cs) {
			grew++
		}
		defs, uses := definesAndUses(cs)
		if db.Defines.Set(ak, defs) {
			grew++
		}
		if db.Used.Set(ak, uses) {
			grew++
		}
	}

	if lifted.IsRet {
		if db.retsByFunc[funcEntry] == nil {
			db.retsByFunc[funcEntry] = make(map[Loc]struct{})
		}
		db.retsByFunc[funcEntry][loc] = struct{}{}
	}

	grew += db.discoverSuccessors(loc, lifted)
	return grew
}

// definesAndUses scans a Loc's Constraints for the registers it
// writes (Defines, §3) and every non-temp base named on either side of
// a non-Clobber constraint (Used, §3), which feeds LiveVars and
// undefinedArgRegs; UAF derivation reads Constraints directly.
func definesAndUses(cs []Constraint) (RegSet, map[Var]struct{}) {
	var defs RegSet
	uses := make(map[Var]struct{})
	record := func(p VarPath) {
		if p.Base.IsTemp() {
			return
		}
		uses[p.Base] = struct{}{}
	}
	for _, c := range cs {
		if c.Kind == CClobber {
			if c.A.Base.Kind == VarRegister {
				defs = defs.Add(c.A.Base.Register)
			}
			continue
		}
		if c.A.Base.Kind == VarRegister && len(c.A.Offsets) <= 1 {
			defs = defs.Add(c.A.Base.Register)
		}
		record(c.A)
		record(c.B)
	}
	return defs, uses
}

// discoverSuccessors expands Succ/CallSite and seeds the worklist for
// fallthrough, branch, and call edges of a lifted instruction.
func (db *Database) discoverSuccessors(loc Loc, lifted oracle.Lifted) int {
	grew := 0

	addSucc := func(dst Loc, isCall bool) {
		if db.Succ.Set(edgeKey{Src: loc, Dst: dst}, isCall) {
			grew++
		}
		db.seedLive(dst)
	}

	if lifted.IsCall {
		grew += db.discoverCall(loc, lifted)
		return grew
	}

	if lifted.IsRet {
		return grew // no intra-function successor; handled via CallSite on the caller side
	}

	for _, t := range lifted.Targets {
		addSucc(db.sameContext(loc, t), false)
	}
	if lifted.HasFallthrough {
		addSucc(db.sameContext(loc, lifted.Fallthrough), false)
	}
	return grew
}

// sameContext builds the Loc at addr in the same file and call-stack
// context as loc — ordinary intra-procedural control flow never
// changes context.
func (db *Database) sameContext(loc Loc, addr uint64) Loc {
	l := loc
	l.Addr = addr
	return l
}

// discoverCall implements call-site discovery (§4.6 "Call site
// discovery"): resolves the call's target(s) — direct via PLT
// resolution, or treated as skip/external if unresolved — derives
// each target's stack context, records CallSite, and seeds both the
// callee entry and (for resolved calls) the fallthrough return site.
func (db *Database) discoverCall(loc Loc, lifted oracle.Lifted) int {
	grew := 0
	ret := Loc{}
	hasRet := false
	if lifted.HasFallthrough {
		ret = db.sameContext(loc, lifted.Fallthrough)
		hasRet = true
	}

	var padAddr uint64
	var importName string
	isImport := false
	for _, t := range lifted.Targets {
		if name, ok := db.importOf[loc.File][t]; ok {
			padAddr, importName, isImport = t, name, true
			break
		}
	}
	if isImport {
		if target, ok := db.resolvedCallees[loc.File][padAddr]; ok {
			// call_site_dyn: PLT pad resolved to a symbol defined in
			// another loaded file.
			calleeEntry := db.calleeLoc(loc, target.file, target.addr, ret)
			if db.CallSite.Set(callSiteKey{Call: loc, Target: calleeEntry, Ret: ret}, struct{}{}) {
				grew++
			}
			db.seedLive(calleeEntry)
			if hasRet {
				db.seedLive(ret)
			}
			return grew
		}
		// Unresolved import, or a recognized malloc/free name that
		// has no defined body to analyze: treated at flow time as a
		// skip/external call (§4.6); still need the return site live.
		_ = importName
		if hasRet {
			db.seedLive(ret)
			db.skipCalls[loc] = ret
		}
		return grew
	}

	// call_site_internal: direct control transfer within this file.
	if len(lifted.Targets) > 0 {
		for _, t := range lifted.Targets {
			calleeEntry := db.calleeLoc(loc, loc.File, t, ret)
			if db.CallSite.Set(callSiteKey{Call: loc, Target: calleeEntry, Ret: ret}, struct{}{}) {
				grew++
			}
			db.seedLive(calleeEntry)
		}
	}
	if hasRet {
		db.seedLive(ret)
	}
	return grew
}

// calleeLoc derives the callee entry Loc per §4.6: unstacked caller
// implies unstacked callee; otherwise the callee inherits context
// from the call site plus the fallthrough, relimited and de-looped.
func (db *Database) calleeLoc(call Loc, targetFile intern.ID, targetAddr uint64, ret Loc) Loc {
	if !db.Config.contextSensitive() {
		return NewLoc(targetFile, targetAddr)
	}
	return CalleeStack(call, targetFile, targetAddr, ret)
}

// ruleFlow propagates FlowIn/FlowOut across Succ and CallSite edges
// (§4.5, §4.6). Each round it reprocesses every Succ, CallSite and
// skip-call edge whose source has a FlowIn; relations' Delta() is not
// consulted, so edges are not restricted to those touching something
// that changed in the previous round.
func (db *Database) ruleFlow() int {
	grew := 0
	grew += db.seedEntries()
	grew += db.propagateIntra()
	grew += db.propagateCalls()
	grew += db.propagateSkips()
	return grew
}

// propagateSkips applies the skip/external-call edge of §4.6: the
// call site's own FlowOut (already reflecting any malloc/free
// constraint attached to it) flows to the fallthrough with only
// caller-saved registers killed.
func (db *Database) propagateSkips() int {
	grew := 0
	for call, ret := range db.skipCalls {
		in, ok := db.FlowIn.Get(call)
		if !ok {
			continue
		}
		out := db.computeFlowOut(call, in)
		if db.FlowOut.Set(call, out) {
			grew++
		}
		live, _ := db.LiveVars.Get(ret)
		merged := SkipCallEdge(out, live)
		if db.FlowIn.Set(ret, merged) {
			grew++
		}
	}
	return grew
}

// seedEntries gives every function entry (one with no live
// predecessor recorded yet, or one reached only via the undef-init
// hack) a base FlowIn so propagation has somewhere to start (§2 item
// 7, §4.7).
func (db *Database) seedEntries() int {
	grew := 0
	for fk := range db.Func.All() {
		if fk.Entry != fk.Member {
			continue
		}
		if db.FlowIn.Has(fk.Entry) {
			continue
		}
		seed := NewPointsTo()
		if db.Config.UndefHack {
			undef := db.undefinedArgRegs(fk.Entry)
			seed = UndefInitSeed(fk.Entry, undef)
		}
		if db.FlowIn.Set(fk.Entry, seed) {
			grew++
		}
	}
	return grew
}

// undefinedArgRegs returns the ARGS registers that are Used at entry
// but never appear in Defines anywhere reachable before it — the
// condition §4.7 describes as "plausibly called indirectly". Lacking
// full reaching-definitions, this conservatively checks only the
// entry instruction's own Used set, which is the common case (the
// hack is only meant to seed otherwise-unreachable functions, not to
// refine an already-reachable one).
func (db *Database) undefinedArgRegs(entry Loc) []Reg {
	uses, _ := db.Used.Get(keyOf(entry))
	defs, _ := db.Defines.Get(keyOf(entry))
	var out []Reg
	for _, r := range ARGS {
		if defs.Has(r) {
			continue
		}
		if _, used := uses[Register(r)]; used {
			out = append(out, r)
		}
	}
	return out
}

func (db *Database) propagateIntra() int {
	grew := 0
	for ek, isCall := range db.Succ.All() {
		if isCall {
			continue // handled by propagateCalls
		}
		in, ok := db.FlowIn.Get(ek.Src)
		if !ok {
			continue
		}
		out := db.computeFlowOut(ek.Src, in)
		if db.FlowOut.Set(ek.Src, out) {
			grew++
		}
		if db.FlowIn.Set(ek.Dst, out) {
			grew++
		}
	}
	return grew
}

func (db *Database) computeFlowOut(loc Loc, in *PointsTo) *PointsTo {
	cs, _ := db.Constraints.Get(keyOf(loc))
	live, _ := db.LiveVars.Get(loc)
	return xfer(in, cs, live, NoKill)
}

// propagateRets computes FlowOut for every discovered ret instruction
// from its own FlowIn — rets have no Succ edge of their own, so
// propagateIntra never reaches them; their FlowOut only matters at
// CallSite return edges (§4.6 "Return edge").
func (db *Database) propagateRets() int {
	grew := 0
	for _, rets := range db.retsByFunc {
		for retLoc := range rets {
			in, ok := db.FlowIn.Get(retLoc)
			if !ok {
				continue
			}
			out := db.computeFlowOut(retLoc, in)
			if db.FlowOut.Set(retLoc, out) {
				grew++
			}
		}
	}
	return grew
}

func (db *Database) propagateCalls() int {
	grew := db.propagateRets()
	for csk := range db.CallSite.All() {
		in, ok := db.FlowIn.Get(csk.Call)
		if !ok {
			continue
		}
		out := db.computeFlowOut(csk.Call, in)
		if db.FlowOut.Set(csk.Call, out) {
			grew++
		}

		outgoing := CallOutgoing(out, csk.Target)
		if db.FlowIn.Set(csk.Target, outgoing) {
			grew++
		}

		for retLoc := range db.retsByFunc[csk.Target] {
			retOut, ok := db.FlowOut.Get(retLoc)
			if !ok {
				continue
			}
			live, _ := db.LiveVars.Get(csk.Ret)
			merged := ReturnEdge(retOut, csk.Target, live)
			if db.FlowIn.Set(csk.Ret, merged) {
				grew++
			}
		}
	}
	return grew
}

// ruleLiveVars computes the classic backward liveness fixpoint
// (§3 LiveVars): live-before a Loc is what it Uses, plus whatever is
// live-after minus what it Defines. It runs over every edge kind
// (intra-procedural Succ, CallSite, and skip/external calls),
// approximating across a call boundary by pulling the return site's
// liveness back to the call (a function's actual internal liveness
// still comes from its own Succ/ret edges).
func (db *Database) ruleLiveVars() int {
	grew := 0
	for ek, isCall := range db.Succ.All() {
		if isCall {
			continue
		}
		grew += db.pullLive(ek.Src, ek.Dst)
	}
	for csk := range db.CallSite.All() {
		grew += db.pullLive(csk.Call, csk.Ret)
	}
	for call, ret := range db.skipCalls {
		grew += db.pullLive(call, ret)
	}
	return grew
}

func (db *Database) pullLive(src, dst Loc) int {
	liveDst, _ := db.LiveVars.Get(dst)
	uses, _ := db.Used.Get(keyOf(src))
	defs, _ := db.Defines.Get(keyOf(src))
	merged := make(map[Var]struct{}, len(uses)+len(liveDst))
	for v := range uses {
		merged[v] = struct{}{}
	}
	for v := range liveDst {
		if v.Kind == VarRegister && defs.Has(v.Register) {
			continue
		}
		merged[v] = struct{}{}
	}
	if db.LiveVars.Set(src, merged) {
		return 1
	}
	return 0
}

// ruleUaf derives Uaf tuples from every Live Loc's FlowIn and the A
// and B paths of its non-Clobber Constraints (§4.8).
func (db *Database) ruleUaf() int {
	grew := 0
	for loc := range db.Live.All() {
		in, ok := db.FlowIn.Get(loc)
		if !ok {
			continue
		}
		cs, _ := db.Constraints.Get(keyOf(loc))
		var reads []VarPath
		for _, c := range cs {
			if c.Kind == CClobber {
				continue
			}
			reads = append(reads, c.A, c.B)
		}
		for _, pair := range DeriveUaf(loc, in, reads) {
			if db.Uaf.Set(pair, struct{}{}) {
				grew++
			}
		}
	}
	return grew
}
