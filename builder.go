package elfimage

import (
	"bytes"
	"debug/elf"
	"fmt"

	"github.com/xyproto/elfimage/internal/elfclass"
	"github.com/xyproto/elfimage/pkg/assert"
)

// builderPhase tracks where a Builder sits in its Init/Write lifecycle,
// the same tracked-phase idiom the teacher's ELFWriter uses (elf_writer.go's
// CompilationPhase) to reject out-of-order calls.
type builderPhase int

const (
	phaseConstructed builderPhase = iota
	phaseInitialized
	phaseWritten
)

// debugSymbol is a caller-added .symtab entry (spec §4 scenario 4):
// relative to .text, named, sized.
type debugSymbol struct {
	name   string
	offset uint64
	size   int64
}

// plainSectionWithSyms pairs a section descriptor with the SymbolTable
// whose generated bytes become that section's content — .dynsym and
// .symtab are both "a plain header whose size and bytes come from a
// SymbolTable," so this saves writing the pairing twice.
type plainSectionWithSyms struct {
	plainSection
	syms *SymbolTable
}

// Builder is the layout orchestrator of spec §4.4: the single component
// that owns every section descriptor, drives Init (computing offsets,
// addresses and the dynamic/hash tables) then Write (emitting the file in
// ascending-offset order). Grounded on the teacher's ELFWriter
// (elf_writer.go) for the phase-tracked two-step lifecycle, generalized
// from its PIE/non-PIE, dynamic/static branching down to the single
// ET_DYN shape this spec covers.
//
// Init proceeds in an order chosen to avoid a second "reflow" pass: every
// generated table's byte size is knowable from symbol/tag counts and
// name lengths alone, independent of any section's file offset — only a
// symbol's st_value needs its owning section's offset, and offsets are
// assigned right after sizes are known but before the symbol arrays
// holding those values are generated.
type Builder struct {
	opts     Options
	class    elfclass.Class
	machine  machineInfo
	pageSize uint64
	logger   Logger

	dynsym   *plainSectionWithSyms
	dynstr   *plainSection
	hash     *plainSection
	rodata   *codeSection
	text     *codeSection
	bss      *codeSection
	dynamic  *plainSection
	symtab   *plainSectionWithSyms
	strtab   *plainSection
	shstrtab *plainSection

	rawSections []*RawSection

	dyn         *DynamicTags
	debugSyms   []debugSymbol
	sonameOff   uint32
	sonameValue string

	sections []Section // index order; index 0 is the implicit null section.

	shstrtabBytes []byte
	dynstrBytes   []byte
	strtabBytes   []byte
	hashBytes     []byte
	dynsymBytes   []byte
	symtabBytes   []byte
	dynamicBytes  []byte

	phdrs []elfclass.Phdr
	ehdr  elfclass.Ehdr

	fileSize uint64
	phase    builderPhase
}

// NewBuilder validates opts and returns a Builder in its constructed
// phase. An unknown ISA is rejected here: NewBuilder returns an error
// wrapping ErrUnknownISA and no Builder.
func NewBuilder(opts Options) (*Builder, error) {
	if opts.Payload == nil || opts.Sink == nil {
		return nil, fmt.Errorf("elfimage: NewBuilder: Payload and Sink are required")
	}
	info, err := lookupMachine(opts.ISA)
	if err != nil {
		return nil, err
	}
	b := &Builder{
		opts:     opts,
		class:    info.class,
		machine:  info,
		pageSize: opts.resolvePageSize(),
		logger:   opts.resolveLogger(),
		dyn:      NewDynamicTags(),
		phase:    phaseConstructed,
	}
	return b, nil
}

// AddRawSection registers an externally-owned section (e.g. .eh_frame,
// .eh_frame_hdr, an opaque DWARF section). data must outlive the Builder.
// Must be called before Init; raw sections are laid out in registration
// order (spec §4.4.1, §4.4.2).
func (b *Builder) AddRawSection(sec *RawSection) error {
	if b.phase != phaseConstructed {
		return fmt.Errorf("elfimage: AddRawSection called after Init")
	}
	b.rawSections = append(b.rawSections, sec)
	return nil
}

// AddDebugSymbol registers a .symtab entry relative to .text. Only takes
// effect when Options.IncludeDebugSymbols is set; otherwise it is a
// silent no-op, since there is no .symtab to hold it.
func (b *Builder) AddDebugSymbol(name string, textOffset uint64, size int64) error {
	if b.phase != phaseConstructed {
		return fmt.Errorf("elfimage: AddDebugSymbol called after Init")
	}
	b.debugSyms = append(b.debugSyms, debugSymbol{name: name, offset: textOffset, size: size})
	return nil
}

func roundUp(v, align uint64) uint64 {
	if align == 0 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}

// Init computes every offset, address, and generated table. After Init
// returns successfully, every Section's Header() is final and Write only
// serializes.
func (b *Builder) Init() error {
	if b.phase != phaseConstructed {
		return fmt.Errorf("elfimage: Init called twice")
	}

	b.sonameValue = soname(b.opts.Sink.Path())

	b.buildSectionSkeletons()
	b.registerRequiredSymbols()
	b.registerRequiredDynamicTags()
	b.generateSizedContent()
	b.assignIndices()
	b.assignOffsets()
	if err := b.generateValueDependentContent(); err != nil {
		return err
	}
	b.buildProgramHeaders()
	b.buildEhdr()

	b.phase = phaseInitialized
	b.logger.Debugf("elfimage: Init complete: class=%s machine=0x%x sections=%d phdrs=%d",
		b.class, b.machine.machine, len(b.sections), len(b.phdrs))
	return nil
}

func (b *Builder) buildSectionSkeletons() {
	dynsymSec := &plainSectionWithSyms{syms: NewSymbolTable()}
	dynsymSec.name = ".dynsym"
	dynsymSec.hdr.Type = uint32(elf.SHT_DYNSYM)
	dynsymSec.hdr.Flags = flagAlloc
	dynsymSec.hdr.EntSize = uint64(b.class.SymSize())
	dynsymSec.hdr.AddrAlign = uint64(b.class.WordSize())
	b.dynsym = dynsymSec

	b.dynstr = newPlainSection(".dynstr", uint32(elf.SHT_STRTAB), flagAlloc, 1)
	b.hash = newPlainSection(".hash", uint32(elf.SHT_HASH), flagAlloc, 4)

	b.rodata = newCodeSection(".rodata", uint32(elf.SHT_PROGBITS), flagAlloc, b.opts.RodataSize, b.pageSize)
	b.text = newCodeSection(".text", uint32(elf.SHT_PROGBITS), flagAlloc|flagExec, b.opts.TextSize, b.pageSize)

	if b.opts.BSSSize > 0 {
		b.bss = newCodeSection(".bss", uint32(elf.SHT_NOBITS), flagAlloc|flagWrite, b.opts.BSSSize, b.pageSize)
	}

	b.dynamic = newPlainSection(".dynamic", uint32(elf.SHT_DYNAMIC), flagAlloc|flagWrite, uint64(b.class.WordSize()))
	b.dynamic.hdr.EntSize = uint64(b.class.DynSize())

	if b.opts.IncludeDebugSymbols {
		symtabSec := &plainSectionWithSyms{syms: NewSymbolTable()}
		symtabSec.name = ".symtab"
		symtabSec.hdr.Type = uint32(elf.SHT_SYMTAB)
		symtabSec.hdr.EntSize = uint64(b.class.SymSize())
		symtabSec.hdr.AddrAlign = uint64(b.class.WordSize())
		b.symtab = symtabSec

		b.strtab = newPlainSection(".strtab", uint32(elf.SHT_STRTAB), 0, 1)
	}

	b.shstrtab = newPlainSection(".shstrtab", uint32(elf.SHT_STRTAB), 0, 1)
}

// registerRequiredSymbols implements spec §4.4.5: oatdata/oatexec/
// oatlastword always, oatbss/oatbsslastword only when .bss is present,
// plus any caller-added debug symbols. Adding symbols only records a
// reference to the owning section, not its (still-unknown) offset, so
// this can run before offsets are assigned.
func (b *Builder) registerRequiredSymbols() {
	const stbGlobal = 1
	const sttObject = 1

	b.dynsym.syms.Add("oatdata", b.rodata, 0, true, uint64(b.opts.RodataSize), stbGlobal, sttObject, 0)
	b.dynsym.syms.Add("oatexec", b.text, 0, true, uint64(b.opts.TextSize), stbGlobal, sttObject, 0)
	b.dynsym.syms.Add("oatlastword", b.text, uint64(b.opts.TextSize)-4, true, 4, stbGlobal, sttObject, 0)

	if b.bss != nil {
		b.dynsym.syms.Add("oatbss", b.bss, 0, true, uint64(b.opts.BSSSize), stbGlobal, sttObject, 0)
		b.dynsym.syms.Add("oatbsslastword", b.bss, uint64(b.opts.BSSSize)-4, true, 4, stbGlobal, sttObject, 0)
	}

	if b.symtab != nil {
		for _, s := range b.debugSyms {
			b.symtab.syms.Add(s.name, b.text, s.offset, true, uint64(s.size), stbGlobal, sttObject, 0)
		}
	}
}

// registerRequiredDynamicTags implements spec §4.4.6: DT_HASH, DT_STRTAB,
// DT_SYMTAB, DT_SYMENT, in that order. AddSectionRelative only records a
// section reference; the address is read from Header().Addr at
// Materialize time, once offsets are assigned.
func (b *Builder) registerRequiredDynamicTags() {
	b.dyn.AddSectionRelative(int64(elf.DT_HASH), b.hash)
	b.dyn.AddSectionRelative(int64(elf.DT_STRTAB), b.dynstr)
	b.dyn.AddSectionRelative(int64(elf.DT_SYMTAB), b.dynsym)
	b.dyn.Add(int64(elf.DT_SYMENT), uint64(b.class.SymSize()))
}

// generateSizedContent produces every generated byte blob whose size and
// content do not depend on any section's file offset: .dynstr (names and
// SONAME are known already), .hash (bucket/chain assignment only needs
// names, not addresses), and .symtab's paired .strtab. .shstrtab is sized
// later, by assignIndices. Only the Sym and Dyn arrays are deferred, since their
// st_value/d_val fields need offsets that don't exist yet.
func (b *Builder) generateSizedContent() {
	b.dynstrBytes, b.sonameOff = b.dynsym.syms.GenerateStringTable(b.sonameValue)
	b.dynstr.hdr.Size = uint64(len(b.dynstrBytes))

	b.hashBytes = b.dynsym.syms.GenerateHashTable()
	b.hash.hdr.Size = uint64(len(b.hashBytes))

	b.dynsym.hdr.Size = uint64((b.dynsym.syms.Count() + 1) * b.class.SymSize())

	if b.symtab != nil {
		b.strtabBytes, _ = b.symtab.syms.GenerateStringTable("")
		b.strtab.hdr.Size = uint64(len(b.strtabBytes))
		b.symtab.hdr.Size = uint64((b.symtab.syms.Count() + 1) * b.class.SymSize())
	}

	b.dynamic.hdr.Size = uint64(b.dyn.Size() * b.class.DynSize())
}

// assignIndices implements spec §4.4.1: sequential indices starting at 1,
// simultaneously appending each section's name to .shstrtab.
func (b *Builder) assignIndices() {
	names := []byte{0}
	appendName := func(s Section) {
		b.sections = append(b.sections, s)
		s.SetIndex(uint32(len(b.sections)))
		s.Header().Name = uint32(len(names))
		names = append(names, s.Name()...)
		names = append(names, 0)
	}

	appendName(b.dynsym)
	appendName(b.dynstr)
	appendName(b.hash)
	appendName(b.rodata)
	appendName(b.text)
	if b.bss != nil {
		appendName(b.bss)
	}
	appendName(b.dynamic)
	if b.opts.IncludeDebugSymbols {
		appendName(b.symtab)
		appendName(b.strtab)
	}
	for _, raw := range b.rawSections {
		appendName(raw)
	}
	appendName(b.shstrtab)

	b.dynamic.hdr.Link = b.dynstr.Index()
	b.dynsym.hdr.Link = b.dynstr.Index()
	if b.symtab != nil {
		b.symtab.hdr.Link = b.strtab.Index()
	}

	b.shstrtabBytes = names
	b.shstrtab.hdr.Size = uint64(len(names))
}

// phdrCount returns 7, or 6 when .bss is absent (spec §4.4.3).
func (b *Builder) phdrCount() int {
	if b.bss == nil {
		return 6
	}
	return 7
}

// assignOffsets implements spec §4.4.2: sequential round_up placement in
// content order, now that every section's size is known. Asserts the
// required adjacencies along the way.
func (b *Builder) assignOffsets() {
	base := uint64(b.class.EhdrSize()) + uint64(b.phdrCount())*uint64(b.class.PhdrSize())

	place := func(s Section) {
		align := s.Header().AddrAlign
		if align == 0 {
			align = 1
		}
		off := roundUp(base, align)
		s.Header().Offset = off
		if s.Header().Flags&flagAlloc != 0 {
			s.Header().Addr = off
		}
		base = off + s.Header().Size
	}

	place(b.dynsym)
	place(b.dynstr)
	place(b.hash)

	var ehFrame, ehFrameHdr *RawSection
	for _, raw := range b.rawSections {
		if raw.isAlloc() {
			if raw.Name() == ".eh_frame" {
				ehFrame = raw
			}
			if raw.Name() == ".eh_frame_hdr" {
				ehFrameHdr = raw
			}
			place(raw)
		}
	}
	if ehFrameHdr != nil {
		assert.True(ehFrame != nil, "elfimage: .eh_frame_hdr registered without .eh_frame")
		assert.True(ehFrame.Header().Offset+ehFrame.Header().Size == ehFrameHdr.Header().Offset,
			"elfimage: .eh_frame must immediately precede .eh_frame_hdr")
	}

	place(b.rodata)
	textOff := roundUp(b.rodata.hdr.Offset+b.rodata.hdr.Size, b.pageSize)
	b.text.hdr.Offset = textOff
	b.text.hdr.Addr = textOff
	base = textOff + b.text.hdr.Size

	assert.True(roundUp(b.rodata.hdr.Offset+b.rodata.hdr.Size, b.pageSize) == b.text.hdr.Offset,
		"elfimage: .rodata-to-.text boundary is not page-aligned")

	if b.bss != nil {
		place(b.bss)
	}
	place(b.dynamic)

	if b.symtab != nil {
		place(b.symtab)
		place(b.strtab)
	}

	for _, raw := range b.rawSections {
		if !raw.isAlloc() {
			place(raw)
		}
	}

	place(b.shstrtab)
	b.fileSize = base
}

// generateValueDependentContent produces the Sym and Dyn arrays, whose
// entries need the section offsets assignOffsets just assigned.
func (b *Builder) generateValueDependentContent() error {
	var err error
	b.dynsymBytes, err = b.dynsym.syms.GenerateSymbolArray(b.class)
	if err != nil {
		return err
	}
	assert.True(uint64(len(b.dynsymBytes)) == b.dynsym.hdr.Size, "elfimage: dynsym byte size mismatch")

	if b.symtab != nil {
		b.symtabBytes, err = b.symtab.syms.GenerateSymbolArray(b.class)
		if err != nil {
			return err
		}
	}

	b.dynamicBytes, err = b.dyn.Materialize(b.class, uint64(len(b.dynstrBytes)), b.sonameOff)
	if err != nil {
		return err
	}
	return nil
}

// buildProgramHeaders implements spec §4.4.3.
func (b *Builder) buildProgramHeaders() {
	const ptLoad = 1
	const ptDynamic = 2
	const ptPhdr = 6
	const ptGNUEHFrame = 0x6474e550
	const ptNull = 0
	const pfX, pfW, pfR = 1, 2, 4

	phdrSize := uint64(b.class.PhdrSize())
	phdrTableOff := uint64(b.class.EhdrSize())
	phdrTableSize := uint64(b.phdrCount()) * phdrSize

	var ehFrameHdr *RawSection
	for _, raw := range b.rawSections {
		if raw.Name() == ".eh_frame_hdr" {
			ehFrameHdr = raw
		}
	}

	phdrs := []elfclass.Phdr{
		{Type: ptPhdr, Flags: pfR, Offset: phdrTableOff, VAddr: phdrTableOff, PAddr: phdrTableOff,
			FileSz: phdrTableSize, MemSz: phdrTableSize, Align: uint64(b.class.WordSize())},
		{Type: ptLoad, Flags: pfR, Offset: 0, VAddr: 0, PAddr: 0,
			FileSz: b.rodata.hdr.Offset + b.rodata.hdr.Size, MemSz: b.rodata.hdr.Offset + b.rodata.hdr.Size, Align: b.pageSize},
		{Type: ptLoad, Flags: pfR | pfX, Offset: b.text.hdr.Offset, VAddr: b.text.hdr.Addr, PAddr: b.text.hdr.Addr,
			FileSz: b.text.hdr.Size, MemSz: b.text.hdr.Size, Align: b.pageSize},
	}

	if b.bss != nil {
		phdrs = append(phdrs, elfclass.Phdr{
			Type: ptLoad, Flags: pfR | pfW, Offset: b.bss.hdr.Offset, VAddr: b.bss.hdr.Addr, PAddr: b.bss.hdr.Addr,
			FileSz: 0, MemSz: b.bss.hdr.Size, Align: b.pageSize,
		})
	}

	phdrs = append(phdrs,
		elfclass.Phdr{Type: ptLoad, Flags: pfR | pfW, Offset: b.dynamic.hdr.Offset, VAddr: b.dynamic.hdr.Addr, PAddr: b.dynamic.hdr.Addr,
			FileSz: b.dynamic.hdr.Size, MemSz: b.dynamic.hdr.Size, Align: b.pageSize},
		elfclass.Phdr{Type: ptDynamic, Flags: pfR | pfW, Offset: b.dynamic.hdr.Offset, VAddr: b.dynamic.hdr.Addr, PAddr: b.dynamic.hdr.Addr,
			FileSz: b.dynamic.hdr.Size, MemSz: b.dynamic.hdr.Size, Align: uint64(b.class.WordSize())},
	)

	// The PT_GNU_EH_FRAME slot is never omitted (only the BSS slot is,
	// per spec §4.4.3's table) — it degrades to an all-zero PT_NULL entry
	// when .eh_frame_hdr wasn't registered, so e_phnum stays 6 or 7.
	if ehFrameHdr != nil {
		phdrs = append(phdrs, elfclass.Phdr{
			Type: ptGNUEHFrame, Flags: pfR, Offset: ehFrameHdr.hdr.Offset, VAddr: ehFrameHdr.hdr.Addr, PAddr: ehFrameHdr.hdr.Addr,
			FileSz: ehFrameHdr.hdr.Size, MemSz: ehFrameHdr.hdr.Size, Align: 4,
		})
	} else {
		phdrs = append(phdrs, elfclass.Phdr{Type: ptNull})
	}
	b.phdrs = phdrs
}

func (b *Builder) buildEhdr() {
	const etDyn = 3
	wordSize := uint64(b.class.WordSize())
	shoff := roundUp(b.shstrtab.hdr.Offset+b.shstrtab.hdr.Size, wordSize)
	b.ehdr = elfclass.Ehdr{
		Type:     uint16(etDyn),
		Machine:  b.machine.machine,
		Entry:    0,
		PhOff:    uint64(b.class.EhdrSize()),
		ShOff:    shoff,
		Flags:    b.machine.flags,
		PhNum:    uint16(len(b.phdrs)),
		ShNum:    uint16(len(b.sections) + 1), // +1 for the null section at index 0.
		ShStrNdx: uint16(b.shstrtab.Index()),
		OSABI:    uint8(elf.ELFOSABI_LINUX),
	}
	b.fileSize = shoff + uint64(len(b.sections)+1)*uint64(b.class.ShdrSize())
}

// Write emits the file in ascending-offset order: every header and
// generated table as memory pieces, plus the rodata piece that invokes
// the payload callback (spec §4.4.8, §4.5).
func (b *Builder) Write() error {
	if b.phase != phaseInitialized {
		return ErrNotInitialized
	}

	var q pieceQueue

	var ehdrBuf bytes.Buffer
	if err := b.class.WriteEhdr(&ehdrBuf, b.ehdr); err != nil {
		return err
	}
	q.addMemory(0, ehdrBuf.Bytes())

	var phdrBuf bytes.Buffer
	for _, p := range b.phdrs {
		if err := b.class.WritePhdr(&phdrBuf, p); err != nil {
			return err
		}
	}
	q.addMemory(uint64(b.class.EhdrSize()), phdrBuf.Bytes())

	q.addMemory(b.dynsym.hdr.Offset, b.dynsymBytes)
	q.addMemory(b.dynstr.hdr.Offset, b.dynstrBytes)
	q.addMemory(b.hash.hdr.Offset, b.hashBytes)

	for _, raw := range b.rawSections {
		if raw.isAlloc() {
			q.addMemory(raw.hdr.Offset, raw.Bytes())
		}
	}

	q.addRodata(b.rodata.hdr.Offset, b.opts.Payload)
	q.addNoop(b.text.hdr.Offset)

	q.addMemory(b.dynamic.hdr.Offset, b.dynamicBytes)

	if b.symtab != nil {
		q.addMemory(b.symtab.hdr.Offset, b.symtabBytes)
		q.addMemory(b.strtab.hdr.Offset, b.strtabBytes)
	}

	for _, raw := range b.rawSections {
		if !raw.isAlloc() {
			q.addMemory(raw.hdr.Offset, raw.Bytes())
		}
	}

	q.addMemory(b.shstrtab.hdr.Offset, b.shstrtabBytes)

	shdrBytes, err := b.buildSectionHeaderTable()
	if err != nil {
		return err
	}
	q.addMemory(b.ehdr.ShOff, shdrBytes)

	if err := q.flush(b.opts.Sink); err != nil {
		b.logger.Errorf("elfimage: Write failed: %v", err)
		return err
	}

	b.phase = phaseWritten
	b.logger.Debugf("elfimage: Write complete: file_size=%d", b.fileSize)
	return nil
}

func (b *Builder) buildSectionHeaderTable() ([]byte, error) {
	var buf bytes.Buffer
	if err := b.class.WriteShdr(&buf, elfclass.Shdr{}); err != nil {
		return nil, err
	}
	for _, s := range b.sections {
		if err := b.class.WriteShdr(&buf, *s.Header()); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
