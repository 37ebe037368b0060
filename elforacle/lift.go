package elforacle

import (
	"debug/elf"

	"golang.org/x/arch/x86/x86asm"

	"github.com/aclements/uafcheck/il"
	"github.com/aclements/uafcheck/oracle"
)

// maxInstrLen is the longest possible x86 instruction encoding.
const maxInstrLen = 15

// Lift decodes and lifts the instruction at addr (§6 decoder oracle
// contract). Control transfer (call/ret/jmp/jcc) is classified
// directly from the decoded opcode; anything that moves a value
// between registers, memory and immediates is lowered to the small IL
// package uafcheck's constraint generator understands. Everything
// else is lifted to a conservative Clobber-shaped move of its
// destination register, if it has one, so stale points-to facts don't
// survive past an instruction this lifter doesn't model precisely.
func (f *File) Lift(addr uint64) (oracle.Lifted, bool) {
	buf, base, ok := f.execBytesAt(addr)
	if !ok {
		return oracle.Lifted{}, false
	}
	off := addr - base
	if off >= uint64(len(buf)) {
		return oracle.Lifted{}, false
	}
	window := buf[off:]
	if len(window) > maxInstrLen {
		window = window[:maxInstrLen]
	}

	inst, err := x86asm.Decode(window, 64)
	if err != nil || inst.Len == 0 {
		return oracle.Lifted{}, false
	}

	lifted := oracle.Lifted{
		Fallthrough:    addr + uint64(inst.Len),
		HasFallthrough: true,
		Disasm:         x86asm.GNUSyntax(inst, addr, nil),
	}

	switch inst.Op {
	case x86asm.RET:
		lifted.IsRet = true
		lifted.HasFallthrough = false

	case x86asm.CALL:
		lifted.IsCall = true
		if t, ok := relTarget(inst, addr); ok {
			lifted.Targets = []uint64{t}
		}

	case x86asm.JMP:
		lifted.HasFallthrough = false
		if t, ok := relTarget(inst, addr); ok {
			lifted.Targets = []uint64{t}
		}

	case x86asm.JA, x86asm.JAE, x86asm.JB, x86asm.JBE, x86asm.JE, x86asm.JG,
		x86asm.JGE, x86asm.JL, x86asm.JLE, x86asm.JNE, x86asm.JNO, x86asm.JNP,
		x86asm.JNS, x86asm.JO, x86asm.JP, x86asm.JS, x86asm.JCXZ, x86asm.JECXZ, x86asm.JRCXZ:
		if t, ok := relTarget(inst, addr); ok {
			lifted.Targets = []uint64{t}
		}

	default:
		lifted.Stmts = liftDataMove(inst)
	}

	return lifted, true
}

func relTarget(inst x86asm.Inst, addr uint64) (uint64, bool) {
	rel, ok := inst.Args[0].(x86asm.Rel)
	if !ok {
		return 0, false
	}
	return addr + uint64(inst.Len) + uint64(int64(rel)), true
}

// execBytesAt returns the byte contents and start address of the
// executable section covering addr, if any.
func (f *File) execBytesAt(addr uint64) ([]byte, uint64, bool) {
	for _, s := range f.elf.Sections {
		if s.Flags&elf.SHF_EXECINSTR == 0 {
			continue
		}
		if addr < s.Addr || addr >= s.Addr+s.Size {
			continue
		}
		data, err := s.Data()
		if err != nil {
			return nil, 0, false
		}
		return data, s.Addr, true
	}
	return nil, 0, false
}

// liftDataMove lowers the data-movement instructions the constraint
// generator cares about (§4.2). Control-flow instructions never reach
// here; flag-only instructions (CMP, TEST) lift to no IL. PUSH/POP are not
// lifted to explicit memory effects: the generator already treats any
// write to RSP itself as invisible (§4.2, "memory-RSP write"), and
// modeling the pushed/popped value would require tracking RSP's
// dynamic stack-slot identity, which is exactly what the
// interprocedural frame-teardown kill already does at call/return
// boundaries instead.
func liftDataMove(inst x86asm.Inst) []il.Stmt {
	switch inst.Op {
	case x86asm.MOV, x86asm.MOVZX, x86asm.MOVSX, x86asm.MOVSXD:
		dst, dok := argToExpr(inst.Args[0])
		src, sok := argToExpr(inst.Args[1])
		if !dok || !sok {
			return nil
		}
		return []il.Stmt{il.Move{Dst: dst, Src: src}}

	case x86asm.LEA:
		dst, dok := argToExpr(inst.Args[0])
		mem, mok := inst.Args[1].(x86asm.Mem)
		if !dok || !mok {
			return nil
		}
		return []il.Stmt{il.Move{Dst: dst, Src: memAddrExpr(mem)}}

	case x86asm.ADD, x86asm.SUB, x86asm.AND, x86asm.OR, x86asm.XOR:
		dst, dok := argToExpr(inst.Args[0])
		src, sok := argToExpr(inst.Args[1])
		if !dok || !sok {
			return nil
		}
		return []il.Stmt{il.Move{Dst: dst, Src: il.BinOp{Op: binOpFor(inst.Op), Left: dst, Right: src}}}

	case x86asm.XCHG:
		var out []il.Stmt
		if a, ok := argToExpr(inst.Args[0]); ok {
			if _, isReg := a.(il.Reg); isReg {
				out = append(out, clobberMove(a))
			}
		}
		if b, ok := argToExpr(inst.Args[1]); ok {
			if _, isReg := b.(il.Reg); isReg {
				out = append(out, clobberMove(b))
			}
		}
		return out

	case x86asm.PUSH, x86asm.POP, x86asm.NOP, x86asm.LEAVE, x86asm.CMP, x86asm.TEST:
		return nil

	default:
		if len(inst.Args) == 0 {
			return nil
		}
		dst, ok := argToExpr(inst.Args[0])
		if !ok {
			return nil
		}
		if _, isReg := dst.(il.Reg); !isReg {
			return nil
		}
		return []il.Stmt{clobberMove(dst)}
	}
}

func clobberMove(dst il.Expr) il.Stmt {
	return il.Move{Dst: dst, Src: il.Const{Value: 0}}
}

func binOpFor(op x86asm.Op) il.BinOpKind {
	switch op {
	case x86asm.ADD:
		return il.Add
	case x86asm.SUB:
		return il.Sub
	case x86asm.AND:
		return il.And
	case x86asm.OR:
		return il.Or
	case x86asm.XOR:
		return il.Xor
	}
	return il.OtherBinOp
}

// argToExpr converts a decoded operand to IL. Segment-relative,
// vector and FPU operands are out of scope (the modeled register set
// is only the 16 general-purpose registers) and resolve to ok=false.
func argToExpr(a x86asm.Arg) (il.Expr, bool) {
	switch v := a.(type) {
	case x86asm.Reg:
		name, ok := regName64(v)
		if !ok {
			return nil, false
		}
		return il.Reg{Name: name}, true
	case x86asm.Imm:
		return il.Const{Value: int64(v)}, true
	case x86asm.Mem:
		return memExpr(v), true
	default:
		return nil, false
	}
}

func memExpr(m x86asm.Mem) il.Expr {
	if m.Base == x86asm.RIP {
		// RIP-relative: an untracked global address (§4.2 "omitting
		// rhs constants — not tracking global pointers by address").
		return il.Load{Addr: il.Const{Value: 0}}
	}
	return il.Load{Addr: memAddrExpr(m)}
}

func memAddrExpr(m x86asm.Mem) il.Expr {
	if m.Base == x86asm.RIP {
		return il.Const{Value: 0}
	}

	var addr il.Expr
	if m.Base != 0 {
		if name, ok := regName64(m.Base); ok {
			addr = il.Reg{Name: name}
		}
	}
	if m.Index != 0 {
		if name, ok := regName64(m.Index); ok {
			idx := il.Expr(il.Reg{Name: name})
			if m.Scale > 1 {
				idx = il.BinOp{Op: il.Mul, Left: idx, Right: il.Const{Value: int64(m.Scale)}}
			}
			if addr == nil {
				addr = idx
			} else {
				addr = il.BinOp{Op: il.Add, Left: addr, Right: idx}
			}
		}
	}
	if m.Disp != 0 {
		if addr == nil {
			addr = il.Const{Value: m.Disp}
		} else {
			addr = il.BinOp{Op: il.Add, Left: addr, Right: il.Const{Value: m.Disp}}
		}
	}
	if addr == nil {
		addr = il.Const{Value: 0}
	}
	return addr
}

// regName64 maps any general-purpose x86asm register — of any
// operand width — to its owning 64-bit register's IL name. Sub-register
// writes (e.g. EAX) are treated as writes to the full 64-bit register,
// which is conservative in the same direction the engine already is
// elsewhere: it may see a dependency that a narrower, exact model
// wouldn't, never the reverse.
func regName64(r x86asm.Reg) (string, bool) {
	switch r {
	case x86asm.AL, x86asm.AH, x86asm.AX, x86asm.EAX, x86asm.RAX:
		return "RAX", true
	case x86asm.CL, x86asm.CH, x86asm.CX, x86asm.ECX, x86asm.RCX:
		return "RCX", true
	case x86asm.DL, x86asm.DH, x86asm.DX, x86asm.EDX, x86asm.RDX:
		return "RDX", true
	case x86asm.BL, x86asm.BH, x86asm.BX, x86asm.EBX, x86asm.RBX:
		return "RBX", true
	case x86asm.SPB, x86asm.SP, x86asm.ESP, x86asm.RSP:
		return "RSP", true
	case x86asm.BPB, x86asm.BP, x86asm.EBP, x86asm.RBP:
		return "RBP", true
	case x86asm.SIB, x86asm.SI, x86asm.ESI, x86asm.RSI:
		return "RSI", true
	case x86asm.DIB, x86asm.DI, x86asm.EDI, x86asm.RDI:
		return "RDI", true
	case x86asm.R8B, x86asm.R8W, x86asm.R8L, x86asm.R8:
		return "R8", true
	case x86asm.R9B, x86asm.R9W, x86asm.R9L, x86asm.R9:
		return "R9", true
	case x86asm.R10B, x86asm.R10W, x86asm.R10L, x86asm.R10:
		return "R10", true
	case x86asm.R11B, x86asm.R11W, x86asm.R11L, x86asm.R11:
		return "R11", true
	case x86asm.R12B, x86asm.R12W, x86asm.R12L, x86asm.R12:
		return "R12", true
	case x86asm.R13B, x86asm.R13W, x86asm.R13L, x86asm.R13:
		return "R13", true
	case x86asm.R14B, x86asm.R14W, x86asm.R14L, x86asm.R14:
		return "R14", true
	case x86asm.R15B, x86asm.R15W, x86asm.R15L, x86asm.R15:
		return "R15", true
	default:
		return "", false
	}
}
