package elfimage

import (
	"bytes"
	"debug/elf"

	"github.com/xyproto/elfimage/internal/elfclass"
)

const dynTagNull = int64(elf.DT_NULL)

// dynEntry is a single dynamic-tag record (spec §3): a tag code, a value,
// and an optional owning section whose virtual address the value is
// relative to. When section is non-nil, the value materializes as
// section.Header().Addr, not the raw Val the caller supplied.
type dynEntry struct {
	tag     int64
	val     uint64
	section Section
}

// DynamicTags is the dynamic-section builder of spec §4.4.6: a flat,
// insertion-ordered list of tags, terminated at materialization time by
// three tags the builder always owns. Grounded on the teacher's
// buildDynamicSection (elf_sections.go), generalized from its hardcoded
// DT_NEEDED/DT_INIT chain to the plain tag+optional-section shape spec
// requires.
type DynamicTags struct {
	entries []dynEntry
}

// NewDynamicTags returns an empty tag list.
func NewDynamicTags() *DynamicTags {
	return &DynamicTags{}
}

// Add appends a tag with an immediate value. Adding DT_NULL explicitly is
// silently dropped: the terminator is owned by Materialize, per spec §3.
func (d *DynamicTags) Add(tag int64, val uint64) {
	if tag == dynTagNull {
		return
	}
	d.entries = append(d.entries, dynEntry{tag: tag, val: val})
}

// AddSectionRelative appends a tag whose value is a section's virtual
// address, resolved at Materialize time once Init has assigned addresses.
func (d *DynamicTags) AddSectionRelative(tag int64, section Section) {
	if tag == dynTagNull {
		return
	}
	d.entries = append(d.entries, dynEntry{tag: tag, section: section})
}

// Size returns the materialized entry count, including the three
// appended terminators.
func (d *DynamicTags) Size() int {
	return len(d.entries) + 3
}

// Materialize produces the .dynamic section bytes: every added entry in
// insertion order, then DT_STRSZ (the size of dynstrSize), DT_SONAME
// (sonameOffset, an offset into .dynstr), and DT_NULL.
func (d *DynamicTags) Materialize(class elfclass.Class, dynstrSize uint64, sonameOffset uint32) ([]byte, error) {
	var buf bytes.Buffer
	write := func(tag int64, val uint64) error {
		return class.WriteDyn(&buf, elfclass.Dyn{Tag: tag, Val: val})
	}
	for _, e := range d.entries {
		val := e.val
		if e.section != nil {
			val = e.section.Header().Addr
		}
		if err := write(e.tag, val); err != nil {
			return nil, err
		}
	}
	if err := write(int64(elf.DT_STRSZ), dynstrSize); err != nil {
		return nil, err
	}
	if err := write(int64(elf.DT_SONAME), uint64(sonameOffset)); err != nil {
		return nil, err
	}
	if err := write(dynTagNull, 0); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
