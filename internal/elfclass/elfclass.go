// Package elfclass parameterizes ELF record layout over the two address
// widths the builder supports, 32-bit and 64-bit. Callers describe a
// header, program header, section header, symbol or dynamic-tag entry
// using the class-agnostic field structs below; a Class picks which of
// debug/elf's Header32/Header64 (and friends) to marshal them into.
package elfclass

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
)

// Class selects the ELF address width an image is built for.
type Class uint8

const (
	Class32 Class = 32
	Class64 Class = 64
)

func (c Class) String() string {
	switch c {
	case Class32:
		return "ELFCLASS32"
	case Class64:
		return "ELFCLASS64"
	default:
		return fmt.Sprintf("elfclass.Class(%d)", uint8(c))
	}
}

// WordSize returns the width, in bytes, of an address/offset field.
func (c Class) WordSize() int {
	if c == Class32 {
		return 4
	}
	return 8
}

func (c Class) EhdrSize() int {
	if c == Class32 {
		return binarySize(elf.Header32{})
	}
	return binarySize(elf.Header64{})
}

func (c Class) PhdrSize() int {
	if c == Class32 {
		return binarySize(elf.Prog32{})
	}
	return binarySize(elf.Prog64{})
}

func (c Class) ShdrSize() int {
	if c == Class32 {
		return binarySize(elf.Section32{})
	}
	return binarySize(elf.Section64{})
}

func (c Class) SymSize() int {
	if c == Class32 {
		return elf.Sym32Size
	}
	return elf.Sym64Size
}

func (c Class) DynSize() int {
	if c == Class32 {
		return binarySize(elf.Dyn32{})
	}
	return binarySize(elf.Dyn64{})
}

func binarySize(v any) int {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		panic(err)
	}
	return buf.Len()
}

// Ehdr is the class-agnostic content of an ELF file header; Class.WriteEhdr
// fills in e_ident, e_ehsize/e_phentsize/e_shentsize and narrows the wide
// fields for ELFCLASS32.
type Ehdr struct {
	Type     uint16
	Machine  uint16
	Entry    uint64
	PhOff    uint64
	ShOff    uint64
	Flags    uint32
	PhNum    uint16
	ShNum    uint16
	ShStrNdx uint16
	OSABI    uint8
}

func (c Class) WriteEhdr(w *bytes.Buffer, f Ehdr) error {
	var ident [elf.EI_NIDENT]byte
	copy(ident[0:4], elf.ELFMAG)
	if c == Class32 {
		ident[elf.EI_CLASS] = byte(elf.ELFCLASS32)
	} else {
		ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	}
	ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	ident[elf.EI_OSABI] = f.OSABI

	if c == Class32 {
		h := elf.Header32{
			Ident:     ident,
			Type:      f.Type,
			Machine:   f.Machine,
			Version:   uint32(elf.EV_CURRENT),
			Entry:     uint32(f.Entry),
			Phoff:     uint32(f.PhOff),
			Shoff:     uint32(f.ShOff),
			Flags:     f.Flags,
			Ehsize:    uint16(c.EhdrSize()),
			Phentsize: uint16(c.PhdrSize()),
			Phnum:     f.PhNum,
			Shentsize: uint16(c.ShdrSize()),
			Shnum:     f.ShNum,
			Shstrndx:  f.ShStrNdx,
		}
		return binary.Write(w, binary.LittleEndian, &h)
	}
	h := elf.Header64{
		Ident:     ident,
		Type:      f.Type,
		Machine:   f.Machine,
		Version:   uint32(elf.EV_CURRENT),
		Entry:     f.Entry,
		Phoff:     f.PhOff,
		Shoff:     f.ShOff,
		Flags:     f.Flags,
		Ehsize:    uint16(c.EhdrSize()),
		Phentsize: uint16(c.PhdrSize()),
		Phnum:     f.PhNum,
		Shentsize: uint16(c.ShdrSize()),
		Shnum:     f.ShNum,
		Shstrndx:  f.ShStrNdx,
	}
	return binary.Write(w, binary.LittleEndian, &h)
}

// Phdr is the class-agnostic content of a program header entry.
type Phdr struct {
	Type, Flags uint32
	Offset, VAddr, PAddr, FileSz, MemSz, Align uint64
}

func (c Class) WritePhdr(w *bytes.Buffer, p Phdr) error {
	if c == Class32 {
		v := elf.Prog32{
			Type:   p.Type,
			Off:    uint32(p.Offset),
			Vaddr:  uint32(p.VAddr),
			Paddr:  uint32(p.PAddr),
			Filesz: uint32(p.FileSz),
			Memsz:  uint32(p.MemSz),
			Flags:  p.Flags,
			Align:  uint32(p.Align),
		}
		return binary.Write(w, binary.LittleEndian, &v)
	}
	v := elf.Prog64{
		Type:   p.Type,
		Flags:  p.Flags,
		Off:    p.Offset,
		Vaddr:  p.VAddr,
		Paddr:  p.PAddr,
		Filesz: p.FileSz,
		Memsz:  p.MemSz,
		Align:  p.Align,
	}
	return binary.Write(w, binary.LittleEndian, &v)
}

// Shdr is the class-agnostic content of a section header entry. It is also
// the mutable record every Section exposes via Header(): Offset and Addr
// start at zero and are filled in by the builder's layout pass.
type Shdr struct {
	Name      uint32
	Type      uint32
	Flags     uint64
	Addr      uint64
	Offset    uint64
	Size      uint64
	Link      uint32
	Info      uint32
	AddrAlign uint64
	EntSize   uint64
}

func (c Class) WriteShdr(w *bytes.Buffer, s Shdr) error {
	if c == Class32 {
		v := elf.Section32{
			Name:      s.Name,
			Type:      s.Type,
			Flags:     uint32(s.Flags),
			Addr:      uint32(s.Addr),
			Off:       uint32(s.Offset),
			Size:      uint32(s.Size),
			Link:      s.Link,
			Info:      s.Info,
			Addralign: uint32(s.AddrAlign),
			Entsize:   uint32(s.EntSize),
		}
		return binary.Write(w, binary.LittleEndian, &v)
	}
	v := elf.Section64{
		Name:      s.Name,
		Type:      s.Type,
		Flags:     s.Flags,
		Addr:      s.Addr,
		Off:       s.Offset,
		Size:      s.Size,
		Link:      s.Link,
		Info:      s.Info,
		Addralign: s.AddrAlign,
		Entsize:   s.EntSize,
	}
	return binary.Write(w, binary.LittleEndian, &v)
}

// Sym is the class-agnostic content of a symbol table entry.
type Sym struct {
	Name  uint32
	Info  uint8
	Other uint8
	Shndx uint16
	Value uint64
	Size  uint64
}

func (c Class) WriteSym(w *bytes.Buffer, s Sym) error {
	if c == Class32 {
		v := elf.Sym32{
			Name:  s.Name,
			Value: uint32(s.Value),
			Size:  uint32(s.Size),
			Info:  s.Info,
			Other: s.Other,
			Shndx: s.Shndx,
		}
		return binary.Write(w, binary.LittleEndian, &v)
	}
	v := elf.Sym64{
		Name:  s.Name,
		Info:  s.Info,
		Other: s.Other,
		Shndx: s.Shndx,
		Value: s.Value,
		Size:  s.Size,
	}
	return binary.Write(w, binary.LittleEndian, &v)
}

// Dyn is the class-agnostic content of a dynamic-section entry.
type Dyn struct {
	Tag int64
	Val uint64
}

func (c Class) WriteDyn(w *bytes.Buffer, d Dyn) error {
	if c == Class32 {
		v := elf.Dyn32{Tag: int32(d.Tag), Val: uint32(d.Val)}
		return binary.Write(w, binary.LittleEndian, &v)
	}
	v := elf.Dyn64{Tag: d.Tag, Val: d.Val}
	return binary.Write(w, binary.LittleEndian, &v)
}
