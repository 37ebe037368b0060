// Package elforacle is the concrete decoder oracle (package oracle):
// it loads one ELF binary with debug/elf and lifts individual
// instructions with golang.org/x/arch/x86/x86asm. No other ELF/x86
// library in the retrieved corpus covers this ground as directly as
// the standard library's own debug/elf, so segment/symbol/PLT
// discovery stays on stdlib; only instruction decoding pulls in a
// third-party package, since debug/elf deliberately stops at section
// and symbol bookkeeping and never decodes an opcode.
package elforacle

import (
	"debug/elf"
	"fmt"

	"github.com/aclements/uafcheck/oracle"
)

// File is an oracle.File backed by one opened ELF binary.
type File struct {
	path string
	elf  *elf.File

	pads []oracle.LinkPad
	syms []oracle.Sym
}

// Open loads path as an ELF file and prepares it for lifting. The
// caller is expected to retain File for the lifetime of an Analyze
// call; Close releases the underlying os.File.
func Open(path string) (*File, error) {
	ef, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("elforacle: %s: %w", path, err)
	}
	f := &File{path: path, elf: ef}
	f.loadSymbols()
	f.loadLinkPads()
	return f, nil
}

// Close releases the underlying file descriptor.
func (f *File) Close() error { return f.elf.Close() }

func (f *File) Path() string { return f.path }

func (f *File) Arch() oracle.ProgArch {
	if f.elf.Machine == elf.EM_X86_64 {
		return oracle.ProgArch{Name: "x86-64"}
	}
	return oracle.ProgArch{Name: f.elf.Machine.String()}
}

// Segments reports every allocated section as a segment — sections,
// not program headers, because Section.Data gives the byte contents
// Lift needs directly, while program headers would require re-finding
// the covering section anyway.
func (f *File) Segments() []oracle.Segment {
	var out []oracle.Segment
	for _, s := range f.elf.Sections {
		if s.Flags&elf.SHF_ALLOC == 0 || s.Size == 0 {
			continue
		}
		out = append(out, oracle.Segment{
			Start: s.Addr,
			End:   s.Addr + s.Size,
			Read:  true,
			Write: s.Flags&elf.SHF_WRITE != 0,
			Exec:  s.Flags&elf.SHF_EXECINSTR != 0,
		})
	}
	return out
}

func (f *File) Symbols() []oracle.Sym { return f.syms }

func (f *File) LinkPads() []oracle.LinkPad { return f.pads }

func (f *File) loadSymbols() {
	syms, err := f.elf.Symbols()
	if err != nil || len(syms) == 0 {
		// Stripped binary: fall back to the dynamic symbol table,
		// which is all a stripped-but-dynamically-linked executable
		// retains (§7 "a stripped binary retains only what the
		// dynamic linker needs").
		syms, _ = f.elf.DynamicSymbols()
	}
	for _, s := range syms {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Value == 0 {
			continue
		}
		size := s.Size
		if size == 0 {
			size = 1
		}
		f.syms = append(f.syms, oracle.Sym{Name: s.Name, Start: s.Value, End: s.Value + size})
	}
}
