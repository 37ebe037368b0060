package elforacle

import (
	"bytes"
	"debug/elf"
	"encoding/binary"

	"github.com/aclements/uafcheck/oracle"
)

// pltEntrySize is the size in bytes of one standard lazy-binding PLT
// stub on x86-64; entry 0 is the reserved resolver stub, so the i'th
// relocation (0-indexed) corresponds to the stub at base+(i+1)*16.
// This is the layout every common linker (bfd, gold, lld) emits for
// non-PIE and PIE executables alike; a binary built with a
// non-standard PLT stub size would defeat it, a limitation worth
// living with rather than parsing stub machine code to measure it.
const pltEntrySize = 16

// loadLinkPads populates f.pads from .rela.plt, mapping each
// R_X86_64_JMP_SLOT relocation's dynamic symbol back to the PLT stub
// address that forwards calls to it (§6 decoder oracle "LinkPads").
func (f *File) loadLinkPads() {
	relaPlt := f.elf.Section(".rela.plt")
	pltSec := f.elf.Section(".plt")
	if relaPlt == nil || pltSec == nil {
		return
	}
	data, err := relaPlt.Data()
	if err != nil {
		return
	}
	dynsyms, err := f.elf.DynamicSymbols()
	if err != nil {
		return
	}

	const relaSize = 24 // sizeof(elf.Rela64)
	r := bytes.NewReader(data)
	for i := 0; i+relaSize <= len(data); i += relaSize {
		var rela elf.Rela64
		if err := binary.Read(r, f.elf.ByteOrder, &rela); err != nil {
			break
		}
		relType := elf.R_X86_64(rela.Info & 0xffffffff)
		if relType != elf.R_X86_64_JMP_SLOT {
			continue
		}
		symIdx := rela.Info >> 32
		// getSymbols drops the reserved null entry at dynsym index 0,
		// so the Go slice index is one less than the on-disk index.
		if symIdx == 0 || int(symIdx-1) >= len(dynsyms) {
			continue
		}
		sym := dynsyms[symIdx-1]
		addr := pltSec.Addr + uint64(i/relaSize+1)*pltEntrySize
		f.pads = append(f.pads, oracle.LinkPad{
			Addr:       addr,
			ImportName: sym.Name,
		})
	}
}
