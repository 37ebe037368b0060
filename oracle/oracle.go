// Package oracle defines the decoder-oracle contract (spec §6):
// everything the core pointer-analysis engine needs from ELF/x86-64
// decoding, expressed as an interface so the engine never depends on
// a specific disassembler. elforacle provides the concrete
// implementation.
package oracle

import "github.com/aclements/uafcheck/il"

// Segment is one loaded ELF segment.
type Segment struct {
	Start, End        uint64
	Read, Write, Exec bool
}

// Sym is one ELF symbol with a known address range.
type Sym struct {
	Name       string
	Start, End uint64
}

// LinkPad is one PLT entry, forwarding calls to an imported name.
// TargetFile is set when the oracle can resolve the import to a
// symbol actually defined in another loaded file (§4.6 "call_site_dyn
// when the target is a PLT pad linked to an imported symbol that is
// itself defined in another loaded file").
type LinkPad struct {
	Addr       uint64
	ImportName string
	TargetFile string
	TargetAddr uint64
	Resolved   bool
}

// ProgArch describes the target architecture; the core only ever
// operates on x86-64 inputs, but the oracle reports it so callers can
// reject anything else up front.
type ProgArch struct {
	Name string // e.g. "x86-64"
}

// Lifted is the result of lifting one instruction (§6 decoder oracle
// contract): a sequence of IL statements, the fallthrough address,
// and control-transfer classification. Disassembly is a
// human-readable rendering used only for debug/CLI output.
type Lifted struct {
	Stmts          []il.Stmt
	Fallthrough    uint64
	HasFallthrough bool
	IsCall         bool
	IsRet          bool
	// Targets holds any other direct control-flow successors this
	// instruction has besides its fallthrough — i.e. jmp/jcc branch
	// targets. The decoder oracle's lift contract (§6) is otherwise
	// silent on non-fallthrough, non-call edges, so elforacle reports
	// them here rather than inventing a separate relation the core
	// would have to special-case.
	Targets []uint64
	Disasm  string
}

// File is one decoded input binary.
type File interface {
	// Path is the original file path, used as the interner key.
	Path() string
	Arch() ProgArch
	Segments() []Segment
	Symbols() []Sym
	LinkPads() []LinkPad
	// Lift decodes the instruction at addr. ok is false if addr
	// could not be decoded (§7 "Lift failure at an address: yield no
	// IL; analysis proceeds") — that address simply contributes no
	// facts.
	Lift(addr uint64) (Lifted, bool)
}
