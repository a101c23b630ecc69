package elfimage

import (
	"debug/elf"
	"fmt"

	"github.com/xyproto/elfimage/internal/elfclass"
)

// ISA identifies an instruction set architecture the builder knows how to
// target. This is the same shape as the teacher's Architecture adapter
// (NewArchitecture switching on a machine string) adapted to spec
// §4.6/§6's fixed six-ISA table: this builder, unlike the compiler it was
// adapted from, emits no ISA outside that table, and has no instruction
// generation of its own — ISA selection here only ever decides
// e_machine/e_flags and the address width.
type ISA int

const (
	ISAUnknown ISA = iota
	ISAArm
	ISAArm64
	ISAX86
	ISAX86_64
	ISAMips32
	ISAMips64
)

func (a ISA) String() string {
	switch a {
	case ISAArm:
		return "arm"
	case ISAArm64:
		return "arm64"
	case ISAX86:
		return "x86"
	case ISAX86_64:
		return "x86_64"
	case ISAMips32:
		return "mips32"
	case ISAMips64:
		return "mips64"
	default:
		return "unknown"
	}
}

// ParseISA parses an ISA name, accepting the GOARCH-ish spellings the
// teacher's ParseArch (internal/engine/arch.go) accepted.
func ParseISA(s string) (ISA, error) {
	switch s {
	case "arm", "a32", "thumb2":
		return ISAArm, nil
	case "arm64", "aarch64":
		return ISAArm64, nil
	case "x86", "386", "i386":
		return ISAX86, nil
	case "x86_64", "amd64":
		return ISAX86_64, nil
	case "mips32", "mips":
		return ISAMips32, nil
	case "mips64":
		return ISAMips64, nil
	default:
		return ISAUnknown, fmt.Errorf("%w: %q", ErrUnknownISA, s)
	}
}

// EF_ARM_EABI_VER5 and the EF_MIPS_* flags below belong to the ARM and
// MIPS psABI flag spaces, which debug/elf does not carry (it only exposes
// the generic ELF constant space). Values are the well-known ones from
// the binutils/LLVM ELF headers.
const (
	efARMEABIVer5 = 0x05000000

	efMIPSNoreorder = 0x00000001
	efMIPSPIC       = 0x00000002
	efMIPSCPIC      = 0x00000004
	efMIPSABIO32    = 0x00001000
	efMIPSArch32R2  = 0x70000000
	efMIPSArch64R6  = 0xa0000000
)

type machineInfo struct {
	class   elfclass.Class
	machine uint16
	flags   uint32
}

var isaTable = map[ISA]machineInfo{
	ISAArm:    {elfclass.Class32, uint16(elf.EM_ARM), efARMEABIVer5},
	ISAArm64:  {elfclass.Class64, uint16(elf.EM_AARCH64), 0},
	ISAX86:    {elfclass.Class32, uint16(elf.EM_386), 0},
	ISAX86_64: {elfclass.Class64, uint16(elf.EM_X86_64), 0},
	ISAMips32: {elfclass.Class32, uint16(elf.EM_MIPS), efMIPSNoreorder | efMIPSPIC | efMIPSCPIC | efMIPSABIO32 | efMIPSArch32R2},
	ISAMips64: {elfclass.Class64, uint16(elf.EM_MIPS), efMIPSNoreorder | efMIPSPIC | efMIPSCPIC | efMIPSArch64R6},
}

func lookupMachine(isa ISA) (machineInfo, error) {
	info, ok := isaTable[isa]
	if !ok {
		return machineInfo{}, fmt.Errorf("%w: %v", ErrUnknownISA, isa)
	}
	return info, nil
}
