// Package symbols resolves runtime addresses captured from a traced binary
// back to "<sym>+0x<offset>" (just "<sym>" at offset zero, or "0x<hex>" when
// no symbol covers the address), used by native-trace ingest (spec §4.8).
package symbols

import (
	"debug/elf"
	"fmt"
	"sort"

	"github.com/gravitational/trace"
)

// symbolEntry is one function symbol, sorted by address for lookup.
type symbolEntry struct {
	name string
	addr uint64
}

// Resolver maps runtime addresses in a traced process back to symbol names
// using the target binary's symbol table, pivoting on the "main" symbol to
// compute the load offset between file addresses and runtime addresses
// (spec §4.8: "main used as a pivot between in-file and runtime load
// addresses to compute the load offset").
type Resolver struct {
	syms       []symbolEntry
	loadOffset int64
	havePivot  bool
}

// Load reads the ELF symbol table of path and builds a Resolver. No load
// offset is known yet; call Pivot once the runtime address of main (or any
// other symbol present in the table) is known.
func Load(path string) (*Resolver, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, trace.Wrap(err, "open ELF binary %s", path)
	}
	defer f.Close()

	syms, err := f.Symbols()
	if err != nil {
		// Stripped binaries have no .symtab; dynsym-only resolution still
		// covers exported entry points.
		syms, err = f.DynamicSymbols()
		if err != nil {
			return nil, trace.Wrap(err, "read symbol table of %s", path)
		}
	}

	r := &Resolver{}
	for _, s := range syms {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Name == "" {
			continue
		}
		r.syms = append(r.syms, symbolEntry{name: s.Name, addr: s.Value})
	}
	sort.Slice(r.syms, func(i, j int) bool { return r.syms[i].addr < r.syms[j].addr })
	return r, nil
}

// FileAddr returns the file-relative address of name, if present, for use
// as a pivot.
func (r *Resolver) FileAddr(name string) (uint64, bool) {
	for _, s := range r.syms {
		if s.name == name {
			return s.addr, true
		}
	}
	return 0, false
}

// Pivot establishes the load offset: runtimeAddr is where symbol name was
// observed executing at runtime, fileAddr is its address in the ELF symbol
// table. All subsequent Resolve calls subtract this offset before symbol
// lookup.
func (r *Resolver) Pivot(runtimeAddr, fileAddr uint64) {
	r.loadOffset = int64(runtimeAddr) - int64(fileAddr)
	r.havePivot = true
}

// Resolve maps a runtime address to "<sym>+0x<offset>" (just "<sym>" when
// the offset is zero), or "0x<hex>" if no symbol covers it or no pivot has
// been established yet.
func (r *Resolver) Resolve(runtimeAddr uint64) string {
	if !r.havePivot || len(r.syms) == 0 {
		return fmt.Sprintf("0x%x", runtimeAddr)
	}

	fileAddr := uint64(int64(runtimeAddr) - r.loadOffset)

	// Find the last symbol whose address is <= fileAddr.
	i := sort.Search(len(r.syms), func(i int) bool { return r.syms[i].addr > fileAddr })
	if i == 0 {
		return fmt.Sprintf("0x%x", runtimeAddr)
	}
	sym := r.syms[i-1]
	offset := fileAddr - sym.addr
	if offset == 0 {
		return sym.name
	}
	return fmt.Sprintf("%s+0x%x", sym.name, offset)
}
