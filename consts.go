package elfimage

import "debug/elf"

// Local, uint64-typed aliases for the debug/elf section-flag constants:
// elf.SectionFlag is untyped-int-compatible but section headers here are
// stored as uint64 throughout, so these avoid a cast at every call site.
const (
	flagAlloc = uint64(elf.SHF_ALLOC)
	flagWrite = uint64(elf.SHF_WRITE)
	flagExec  = uint64(elf.SHF_EXECINSTR)
)
