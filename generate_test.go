package uafcheck

import (
	"testing"

	"github.com/aclements/uafcheck/il"
	"github.com/aclements/uafcheck/intern"
)

func fn(addr uint64) Loc {
	f := intern.Intern("generate_test.go")
	return NewLoc(f, addr)
}

func TestGenerateRegToRegMoveIsAsgn(t *testing.T) {
	// mov RAX, RBX
	stmts := []il.Stmt{il.Move{Dst: il.Reg{Name: "RAX"}, Src: il.Reg{Name: "RBX"}}}
	cs := GenerateConstraints(fn(0x10), stmts)

	if len(cs) != 1 || cs[0].Kind != CAsgn {
		t.Fatalf("expected a single Asgn constraint, got %+v", cs)
	}
	if !cs[0].A.Base.Equal(Register(RAX)) || !cs[0].B.Base.Equal(Register(RBX)) {
		t.Errorf("Asgn should run RAX := RBX, got %+v", cs[0])
	}
	if cs[0].A.Depth() != 1 || cs[0].B.Depth() != 1 {
		t.Errorf("expected both sides to have depth 1 (bare address), got %d and %d", cs[0].A.Depth(), cs[0].B.Depth())
	}
}

func TestGenerateLoadIsDeref(t *testing.T) {
	// mov RAX, [RBX]
	stmts := []il.Stmt{il.Move{
		Dst: il.Reg{Name: "RAX"},
		Src: il.Load{Addr: il.Reg{Name: "RBX"}},
	}}
	cs := GenerateConstraints(fn(0x20), stmts)

	if len(cs) != 1 || cs[0].Kind != CDeref {
		t.Fatalf("expected a single Deref constraint, got %+v", cs)
	}
	if cs[0].B.Depth() != 2 {
		t.Errorf("expected the loaded side to have depth 2 (one dereference), got %d", cs[0].B.Depth())
	}
}

func TestGenerateStoreIsWrite(t *testing.T) {
	// mov [RAX], RBX
	stmts := []il.Stmt{il.Move{
		Dst: il.Load{Addr: il.Reg{Name: "RAX"}},
		Src: il.Reg{Name: "RBX"},
	}}
	cs := GenerateConstraints(fn(0x30), stmts)

	if len(cs) != 1 || cs[0].Kind != CWrite {
		t.Fatalf("expected a single Write constraint, got %+v", cs)
	}
	if cs[0].A.Depth() != 2 {
		t.Errorf("expected the store target to have depth 2 (one dereference), got %d", cs[0].A.Depth())
	}
}

func TestGenerateConstantMoveClobbers(t *testing.T) {
	// mov RAX, 5
	stmts := []il.Stmt{il.Move{Dst: il.Reg{Name: "RAX"}, Src: il.Const{Value: 5}}}
	cs := GenerateConstraints(fn(0x40), stmts)

	if len(cs) != 1 || cs[0].Kind != CClobber {
		t.Fatalf("expected a single Clobber constraint, got %+v", cs)
	}
	if !cs[0].A.Base.Equal(Register(RAX)) {
		t.Errorf("Clobber should target RAX, got %+v", cs[0])
	}
}

func TestGenerateFlagWriteIsIgnored(t *testing.T) {
	// A 1-bit flag update should produce no constraints at all.
	stmts := []il.Stmt{il.Move{
		Dst: il.Width{Bits: 1, Expr: il.Reg{Name: "RAX"}},
		Src: il.Reg{Name: "RBX"},
	}}
	cs := GenerateConstraints(fn(0x50), stmts)
	if len(cs) != 0 {
		t.Errorf("expected no constraints for a flag write, got %+v", cs)
	}
}

func TestGenerateStackPointerWriteIsIgnored(t *testing.T) {
	stmts := []il.Stmt{il.Move{Dst: il.Reg{Name: "RSP"}, Src: il.Reg{Name: "RAX"}}}
	cs := GenerateConstraints(fn(0x60), stmts)
	if len(cs) != 0 {
		t.Errorf("expected no constraints for a write to RSP, got %+v", cs)
	}
}

func TestGenerateMallocFreeConstraints(t *testing.T) {
	loc := fn(0x70)

	mallocCS := GenerateMallocFreeConstraints(loc, "malloc")
	if len(mallocCS) != 1 || mallocCS[0].Kind != CAddrOf {
		t.Fatalf("expected a single AddrOf constraint for malloc, got %+v", mallocCS)
	}
	if !mallocCS[0].A.Base.Equal(Register(RET_REG)) {
		t.Errorf("malloc's AddrOf should target the return register, got %+v", mallocCS[0])
	}
	if !mallocCS[0].B.Base.Equal(Alloc(loc, false)) {
		t.Errorf("malloc's AddrOf should point at a fresh Alloc at the call site, got %+v", mallocCS[0])
	}

	freeCS := GenerateMallocFreeConstraints(loc, "free")
	if len(freeCS) != 1 || freeCS[0].Kind != CStackLoad {
		t.Fatalf("expected a single StackLoad constraint for free, got %+v", freeCS)
	}
	if !freeCS[0].A.Base.Equal(Register(ARGS[0])) {
		t.Errorf("free's StackLoad should read the first argument register, got %+v", freeCS[0])
	}
	if !freeCS[0].B.Base.Equal(Freed(loc)) {
		t.Errorf("free's StackLoad should point at a Freed witness at the call site, got %+v", freeCS[0])
	}

	if cs := GenerateMallocFreeConstraints(loc, "strdup"); cs != nil {
		t.Errorf("expected no constraints for an unrecognized name, got %+v", cs)
	}
}

func TestGenerateIfTraversesBothBranches(t *testing.T) {
	then := []il.Stmt{il.Move{Dst: il.Reg{Name: "RAX"}, Src: il.Reg{Name: "RBX"}}}
	els := []il.Stmt{il.Move{Dst: il.Reg{Name: "RCX"}, Src: il.Reg{Name: "RDX"}}}
	stmts := []il.Stmt{il.If{Cond: il.Reg{Name: "RSI"}, Then: then, Else: els}}

	cs := GenerateConstraints(fn(0x80), stmts)
	if len(cs) != 2 {
		t.Fatalf("expected one constraint from each branch, got %+v", cs)
	}
}
