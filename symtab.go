package elfimage

import (
	"bytes"

	"github.com/xyproto/elfimage/internal/elfclass"
	"github.com/xyproto/elfimage/pkg/assert"
)

// symbolRecord is spec §4.2's symbol record: a name, an owning section (by
// reference, not by index, since the section's file offset isn't final
// until Init has run), an address plus a relative/absolute flag, a size,
// and the three ELF symbol attribute bytes. nameOffset is scratch space
// filled in by GenerateStringTable.
type symbolRecord struct {
	name       string
	section    Section
	address    uint64
	relative   bool
	size       uint64
	binding    uint8
	typ        uint8
	visibility uint8
	nameOffset uint32
}

// SymbolTable is the symbol-table builder of spec §4.2. It generates the
// paired string-table bytes and the ELF hash table, and produces the ELF
// Sym array, grounded on the teacher's DynamicSections (elf_sections.go)
// but without its addString deduplication: spec §4.2 is explicit that
// duplicate names are not checked here, so every Add call appends a fresh
// string-table entry regardless of repeats.
type SymbolTable struct {
	symbols []symbolRecord
}

// NewSymbolTable returns an empty table. Index 0 of the eventual symbol
// array is always the implicit STN_UNDEF entry; it is not an element of
// symbols.
func NewSymbolTable() *SymbolTable {
	return &SymbolTable{}
}

// Add appends a symbol. The caller is responsible for name uniqueness;
// this table does not check it. When relative is true, st_value at
// generation time equals address + section's assigned file offset;
// section may be nil only when relative is false.
func (t *SymbolTable) Add(name string, section Section, address uint64, relative bool, size uint64, binding, typ, visibility uint8) uint32 {
	t.symbols = append(t.symbols, symbolRecord{
		name:       name,
		section:    section,
		address:    address,
		relative:   relative,
		size:       size,
		binding:    binding,
		typ:        typ,
		visibility: visibility,
	})
	// +1: index 0 is the implicit undefined symbol, not an element of symbols.
	return uint32(len(t.symbols))
}

// Count returns the number of symbols added, excluding the implicit
// undefined symbol at index 0.
func (t *SymbolTable) Count() int { return len(t.symbols) }

// GenerateStringTable produces the .strtab/.dynstr bytes: a leading NUL,
// then each name followed by a NUL, recording each symbol's offset back
// into its scratch nameOffset field. extra, if non-empty, is appended
// after the symbol names with no scratch tracking — it exists so the
// builder can append the SONAME (spec §4.4.4) into the same buffer and
// learn its offset via the returned value.
func (t *SymbolTable) GenerateStringTable(extra string) (data []byte, extraOffset uint32) {
	data = []byte{0}
	for i := range t.symbols {
		t.symbols[i].nameOffset = uint32(len(data))
		data = append(data, t.symbols[i].name...)
		data = append(data, 0)
	}
	extraOffset = uint32(len(data))
	if extra != "" {
		data = append(data, extra...)
		data = append(data, 0)
	}
	return data, extraOffset
}

// hashBucketCount is spec §4.2's fixed step function of symbol count.
func hashBucketCount(n int) uint32 {
	switch {
	case n < 8:
		return 2
	case n < 32:
		return 4
	case n < 256:
		return 16
	default:
		// round_up(n/32, 2): n/32 rounded up to the next even number.
		q := uint32(n / 32)
		if q%2 != 0 {
			q++
		}
		return q
	}
}

// elfHash is the standard ELF hash function (spec §4.2), applied to the
// symbol's C-string name.
func elfHash(name string) uint32 {
	var h uint32
	for i := 0; i < len(name); i++ {
		h = (h << 4) + uint32(name[i])
		g := h & 0xF0000000
		if g != 0 {
			h ^= g
			h ^= g >> 24
		}
	}
	return h
}

// GenerateHashTable produces the ELF hash section payload:
// [nbuckets, nchain, bucket[0..nbuckets), chain[0..nchain)]. nchain equals
// symbol-count + 1 since index 0 (the undefined symbol) always occupies a
// chain slot. Unlike the symbol and dynamic-tag arrays, .hash always uses
// 32-bit words regardless of ELF class — that's the standard ELF hash
// table layout on both ELFCLASS32 and ELFCLASS64.
func (t *SymbolTable) GenerateHashTable() []byte {
	n := len(t.symbols)
	nbuckets := hashBucketCount(n)
	nchain := uint32(n + 1)

	buckets := make([]uint32, nbuckets)
	chain := make([]uint32, nchain)

	for i, sym := range t.symbols {
		symIndex := uint32(i + 1) // +1: index 0 is the undefined symbol.
		b := elfHash(sym.name) % nbuckets
		if buckets[b] == 0 {
			buckets[b] = symIndex
			continue
		}
		// Walk the existing chain from the bucket head and append at the
		// tail: spec §4.2's "new entries are appended by walking the
		// chain from the bucket head."
		cur := buckets[b]
		for chain[cur] != 0 {
			cur = chain[cur]
		}
		assert.True(chain[symIndex] == 0, "elfimage: hash chain cycle detected for symbol %q", sym.name)
		chain[cur] = symIndex
	}

	out := make([]byte, 0, (2+int(nbuckets)+int(nchain))*4)
	out = appendU32LE(out, nbuckets)
	out = appendU32LE(out, nchain)
	for _, b := range buckets {
		out = appendU32LE(out, b)
	}
	for _, c := range chain {
		out = appendU32LE(out, c)
	}
	return out
}

func appendU32LE(out []byte, v uint32) []byte {
	return append(out, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

// GenerateSymbolArray produces the ELF Sym array: index 0 is the all-zero
// undefined symbol with st_shndx = SHN_UNDEF, and each subsequent entry
// carries st_name from the string-table scratch offset, st_value per the
// relative-vs-absolute rule, st_size, st_other, st_shndx from the owning
// section's assigned index, and st_info = (binding<<4)|(type&0xF). Symbol
// order is insertion order; sh_info on the paired section header is left
// at 0 by the caller, per spec §4.2's documented bug-compatibility.
func (t *SymbolTable) GenerateSymbolArray(class elfclass.Class) ([]byte, error) {
	var buf bytes.Buffer
	if err := class.WriteSym(&buf, elfclass.Sym{}); err != nil {
		return nil, err
	}
	for _, sym := range t.symbols {
		value := sym.address
		shndx := uint16(0)
		if sym.section != nil {
			if sym.relative {
				value = sym.address + sym.section.Header().Offset
			}
			shndx = uint16(sym.section.Index())
		}
		rec := elfclass.Sym{
			Name:  sym.nameOffset,
			Info:  (sym.binding << 4) | (sym.typ & 0xF),
			Other: sym.visibility,
			Shndx: shndx,
			Value: value,
			Size:  sym.size,
		}
		if err := class.WriteSym(&buf, rec); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
