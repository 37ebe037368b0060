package il

import "testing"

// Stmt and Expr are closed sum types; this just pins that every
// constructor still satisfies its interface after a refactor.
func TestStmtAndExprImplementations(t *testing.T) {
	var stmts = []Stmt{
		Move{Dst: Reg{Name: "RAX"}, Src: Const{Value: 1}},
		If{Cond: Reg{Name: "ZF"}},
		While{Cond: Reg{Name: "ZF"}},
		Call{},
	}
	for i, s := range stmts {
		if s == nil {
			t.Errorf("stmts[%d] is nil", i)
		}
	}

	var exprs = []Expr{
		Reg{Name: "RAX"},
		Temp{Serial: 1},
		Const{Value: 1},
		Load{Addr: Reg{Name: "RAX"}},
		BinOp{Op: Add, Left: Reg{Name: "RAX"}, Right: Const{Value: 1}},
		Tern{Cond: Reg{Name: "ZF"}, True: Const{Value: 1}, False: Const{Value: 0}},
		Width{Bits: 1, Expr: Reg{Name: "ZF"}},
	}
	for i, e := range exprs {
		if e == nil {
			t.Errorf("exprs[%d] is nil", i)
		}
	}
}

func TestBinOpKindsAreDistinct(t *testing.T) {
	kinds := []BinOpKind{Add, Sub, And, Or, Xor, Mul, Shl, Shr, OtherBinOp}
	seen := make(map[BinOpKind]bool)
	for _, k := range kinds {
		if seen[k] {
			t.Errorf("duplicate BinOpKind value %v", k)
		}
		seen[k] = true
	}
}
