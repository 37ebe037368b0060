package uafcheck

import (
	"fmt"
	"sort"

	"github.com/aclements/uafcheck/datalog"
	"github.com/aclements/uafcheck/intern"
	"github.com/aclements/uafcheck/oracle"
)

// LocType selects whether Locs carry call-stack context (§6).
// Function entries are seeded as unstacked Locs, and CalleeStack keeps
// a callee unstacked when its caller is unstacked, so no discovered
// Loc carries a stack: LocTypeAddrAndStack yields the same Locs, and
// the same results, as LocTypeAddr.
type LocType int

const (
	LocTypeAddr LocType = iota
	LocTypeAddrAndStack
)

// Config is the library entry point's configuration (§6).
type Config struct {
	LocType   LocType
	LoadOnly  bool
	UndefHack bool
}

// contextSensitive reports whether Locs should carry call-stack
// context (§6, §4.6 "Reachability constraint").
func (c Config) contextSensitive() bool { return c.LocType == LocTypeAddrAndStack }

type edgeKey struct {
	Src, Dst Loc
}

type funcKey struct {
	Entry, Member Loc
}

type callSiteKey struct {
	Call, Target, Ret Loc
}

// addrKey identifies a raw (file,address) independent of any call-
// stack context. Constraints/Defines/Used are properties of the IL at
// an address, not of the context it's reached under, so they're keyed
// this way even when Config.LocType is AddrAndStack — only Live,
// Succ, Func, CallSite, LiveVars, FlowIn/FlowOut and Uaf carry full
// contextual Locs.
type addrKey struct {
	File intern.ID
	Addr uint64
}

func keyOf(l Loc) addrKey { return addrKey{File: l.File, Addr: l.Addr} }

// Database holds every relation of §3 plus the engine driving them to
// a fixed point. It is the return value of Analyze (§6).
type Database struct {
	Config   Config
	Interner *intern.Table
	engine   *datalog.Engine

	Live        *datalog.Relation[Loc, struct{}]
	Succ        *datalog.Relation[edgeKey, bool] // value: is_call
	Func        *datalog.Relation[funcKey, struct{}]
	CallSite    *datalog.Relation[callSiteKey, struct{}]
	MallocCall  *datalog.Relation[addrKey, struct{}]
	FreeCall    *datalog.Relation[addrKey, int] // ARGS index
	Defines     *datalog.Relation[addrKey, RegSet]
	Used        *datalog.Relation[addrKey, map[Var]struct{}]
	LiveVars    *datalog.Relation[Loc, map[Var]struct{}]
	Constraints *datalog.Relation[addrKey, []Constraint]
	FlowIn      *datalog.Relation[Loc, *PointsTo]
	FlowOut     *datalog.Relation[Loc, *PointsTo]
	Uaf         *datalog.Relation[UafPair, struct{}]

	files           map[intern.ID]oracle.File
	importOf        map[intern.ID]map[uint64]string     // file -> addr -> PLT import name, for Lift-site call recognition
	resolvedCallees map[intern.ID]map[uint64]callTarget // file -> PLT addr -> resolved cross-file target
	symStarts       map[intern.ID][]uint64              // file -> sorted symbol start addresses, for funcEntryFor

	worklist []Loc // addresses pending discovery
	seen     map[Loc]struct{}

	// retsByFunc tracks, per function-entry Loc, the set of ret-
	// instruction Locs discovered in that function — used to find
	// which FlowOut states feed a CallSite's return edge (§4.6
	// "Return edge").
	retsByFunc map[Loc]map[Loc]struct{}

	// skipCalls maps a call Loc to its fallthrough for calls that
	// resolve to nothing analyzable (an unresolved PLT import, or a
	// recognized malloc/free name with no body) — these get the
	// caller-saved-only kill of §4.6 "Skip/external call" instead of
	// full interprocedural propagation.
	skipCalls map[Loc]Loc
}

type callTarget struct {
	file intern.ID
	addr uint64
}

func regSetMerge(old, new RegSet) (RegSet, bool) {
	merged := old | new
	return merged, merged != old
}

func boolOrMerge(old, new bool) (bool, bool) {
	merged := old || new
	return merged, merged != old
}

func varSetMerge(old, new map[Var]struct{}) (map[Var]struct{}, bool) {
	return datalog.UnionSetMerge(old, new)
}

func constraintsMerge(old, new []Constraint) ([]Constraint, bool) {
	if old == nil {
		return new, len(new) > 0
	}
	return old, false // constraints for a given Loc never change once discovered
}

func intMerge(old, new int) (int, bool) { return old, false }

func pointsToMerge(old, new *PointsTo) (*PointsTo, bool) {
	merged := old.Merge(new)
	return merged, old.Grew(merged)
}

// NewDatabase allocates an empty Database for config.
func NewDatabase(config Config) *Database {
	db := &Database{
		Config:   config,
		Interner: intern.Global(),

		Live:        datalog.NewRelation[Loc, struct{}]("Live", datalog.SetMerge),
		Succ:        datalog.NewRelation[edgeKey, bool]("Succ", boolOrMerge),
		Func:        datalog.NewRelation[funcKey, struct{}]("Func", datalog.SetMerge),
		CallSite:    datalog.NewRelation[callSiteKey, struct{}]("CallSite", datalog.SetMerge),
		MallocCall:  datalog.NewRelation[addrKey, struct{}]("MallocCall", datalog.SetMerge),
		FreeCall:    datalog.NewRelation[addrKey, int]("FreeCall", intMerge),
		Defines:     datalog.NewRelation[addrKey, RegSet]("Defines", regSetMerge),
		Used:        datalog.NewRelation[addrKey, map[Var]struct{}]("Used", varSetMerge),
		LiveVars:    datalog.NewRelation[Loc, map[Var]struct{}]("LiveVars", varSetMerge),
		Constraints: datalog.NewRelation[addrKey, []Constraint]("Constraints", constraintsMerge),
		FlowIn:      datalog.NewRelation[Loc, *PointsTo]("FlowIn", pointsToMerge),
		FlowOut:     datalog.NewRelation[Loc, *PointsTo]("FlowOut", pointsToMerge),
		Uaf:         datalog.NewRelation[UafPair, struct{}]("Uaf", datalog.SetMerge),

		files:           make(map[intern.ID]oracle.File),
		importOf:        make(map[intern.ID]map[uint64]string),
		resolvedCallees: make(map[intern.ID]map[uint64]callTarget),
		symStarts:       make(map[intern.ID][]uint64),
		seen:            make(map[Loc]struct{}),
		retsByFunc:      make(map[Loc]map[Loc]struct{}),
		skipCalls:       make(map[Loc]Loc),
	}
	return db
}

// Analyze is the library entry point of §6: `uaf(files, config) ->
// Database`.
func Analyze(files []oracle.File, config Config) (*Database, error) {
	db := NewDatabase(config)
	for _, f := range files {
		if err := db.addFile(f); err != nil {
			// Input-parse failure for a binary: skip that binary,
			// continue (§7).
			continue
		}
	}
	if config.LoadOnly {
		return db, nil
	}
	db.run()
	return db, nil
}

// addFile registers one decoded file: interns its path, records its
// PLT import table, and seeds the worklist at every symbol whose range
// looks like a function (its start address). Cross-file PLT targets
// are resolved later, by resolveCrossFile, once every file is known.
func (db *Database) addFile(f oracle.File) error {
	if f.Arch().Name != "" && f.Arch().Name != "x86-64" {
		return fmt.Errorf("uafcheck: unsupported architecture %q", f.Arch().Name)
	}
	fid := db.Interner.Intern(f.Path())
	db.files[fid] = f
	db.importOf[fid] = make(map[uint64]string)
	for _, pad := range f.LinkPads() {
		db.importOf[fid][pad.Addr] = pad.ImportName
	}
	var starts []uint64
	for _, sym := range f.Symbols() {
		entry := NewLoc(fid, sym.Start)
		db.seedLive(entry)
		starts = append(starts, sym.Start)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })
	db.symStarts[fid] = starts
	return nil
}

// funcEntryFor returns the Loc of the function symbol addr falls
// within — the closest preceding symbol start — used as the
// StackSlot/Var identity scope for constraint generation (§4.1). If
// no preceding symbol exists, addr is its own entry: an imprecise but
// safe fallback for stripped ranges the symbol table doesn't cover.
func (db *Database) funcEntryFor(fid intern.ID, addr uint64) Loc {
	starts := db.symStarts[fid]
	idx := sort.Search(len(starts), func(i int) bool { return starts[i] > addr })
	if idx == 0 {
		return NewLoc(fid, addr)
	}
	return NewLoc(fid, starts[idx-1])
}

// resolveCrossFile fills in resolvedCallees once every file is known,
// matching each PLT pad's import name against another file's exported
// symbol of the same name (§4.6 "call_site_dyn").
func (db *Database) resolveCrossFile() {
	bySym := make(map[string]callTarget)
	for fid, f := range db.files {
		for _, sym := range f.Symbols() {
			bySym[sym.Name] = callTarget{file: fid, addr: sym.Start}
		}
	}
	for fid, f := range db.files {
		m := make(map[uint64]callTarget)
		for _, pad := range f.LinkPads() {
			if pad.Resolved {
				if tfid, ok := db.fileByPath(pad.TargetFile); ok {
					m[pad.Addr] = callTarget{file: tfid, addr: pad.TargetAddr}
					continue
				}
			}
			if t, ok := bySym[pad.ImportName]; ok {
				m[pad.Addr] = t
			}
		}
		db.resolvedCallees[fid] = m
	}
}

func (db *Database) fileByPath(path string) (intern.ID, bool) {
	for fid, f := range db.files {
		if f.Path() == path {
			return fid, true
		}
	}
	return 0, false
}

func (db *Database) seedLive(l Loc) {
	if _, ok := db.seen[l]; ok {
		return
	}
	db.seen[l] = struct{}{}
	db.worklist = append(db.worklist, l)
}
