package elfimage

import "github.com/xyproto/elfimage/internal/elfclass"

// Section is the common contract of spec §4.1: every section descriptor
// exposes its mutable header, its name (for .shstrtab), an optional link
// target, and an index slot the builder fills in during index assignment.
type Section interface {
	// Header returns the mutable section header record. Before Init
	// completes, Offset/Addr/Size/Link may still be zero; after Init
	// they are final.
	Header() *elfclass.Shdr
	// Name returns the section's name, as recorded in .shstrtab.
	Name() string
	// Index returns the section's 1-based index in the section header
	// table, or 0 before the builder has assigned one.
	Index() uint32
	// SetIndex is called once by the builder, in the order of spec
	// §4.4.1, while it appends Name() to .shstrtab.
	SetIndex(i uint32)
}

type baseSection struct {
	name  string
	hdr   elfclass.Shdr
	index uint32
}

func (b *baseSection) Header() *elfclass.Shdr { return &b.hdr }
func (b *baseSection) Name() string           { return b.name }
func (b *baseSection) Index() uint32          { return b.index }
func (b *baseSection) SetIndex(i uint32)      { b.index = i }

// plainSection is a header-only descriptor: no owned content buffer, no
// external size source. Used for .dynstr, .hash, .dynamic, .strtab and
// .shstrtab, whose content is generated elsewhere (by SymbolTable,
// DynamicTags, or the builder's name-append bookkeeping); the builder
// sets the header's Size directly and keeps the bytes itself.
type plainSection struct {
	baseSection
}

func newPlainSection(name string, typ uint32, flags uint64, align uint64) *plainSection {
	s := &plainSection{}
	s.name = name
	s.hdr.Type = typ
	s.hdr.Flags = flags
	s.hdr.AddrAlign = align
	return s
}

// codeSection backs .text, .rodata and .bss: its size comes from the
// caller (the compiler pipeline knows the payload's lengths up front),
// not from an owned buffer, and its alignment is always the page size so
// it can anchor a LOAD segment boundary (spec §4.1, §4.4.2).
type codeSection struct {
	baseSection
}

func newCodeSection(name string, typ uint32, flags uint64, size int64, pageSize uint64) *codeSection {
	s := &codeSection{}
	s.name = name
	s.hdr.Type = typ
	s.hdr.Flags = flags
	s.hdr.Size = uint64(size)
	s.hdr.AddrAlign = pageSize
	return s
}

// RawSection is a caller-registered section with an owned byte buffer
// borrowed from the caller — e.g. .eh_frame, .eh_frame_hdr, or an opaque
// DWARF section. The builder does not copy Data; Data must outlive the
// Builder (spec §3's "Address space / ownership").
type RawSection struct {
	baseSection
	data []byte
}

// NewRawSection registers a raw-bytes section. typ and flags are the raw
// elf.SHT_*/elf.SHF_* values; data is retained by reference, not copied.
func NewRawSection(name string, typ uint32, flags uint64, data []byte) *RawSection {
	s := &RawSection{data: data}
	s.name = name
	s.hdr.Type = typ
	s.hdr.Flags = flags
	s.hdr.Size = uint64(len(data))
	s.hdr.AddrAlign = 1
	return s
}

// Bytes returns the section's borrowed content.
func (r *RawSection) Bytes() []byte { return r.data }

func (r *RawSection) isAlloc() bool {
	return r.hdr.Flags&flagAlloc != 0
}
