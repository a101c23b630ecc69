package elfimage

import (
	"debug/elf"
	"testing"

	"github.com/xyproto/elfimage/internal/elfclass"
)

func TestDynamicTagsMaterializeAppendsTerminators(t *testing.T) {
	hashSec := newPlainSection(".hash", 0, 0, 4)
	hashSec.hdr.Addr = 0x1000

	d := NewDynamicTags()
	d.AddSectionRelative(int64(elf.DT_HASH), hashSec)
	d.Add(int64(elf.DT_SYMENT), 24)

	if got := d.Size(); got != 5 { // 2 added + DT_STRSZ + DT_SONAME + DT_NULL
		t.Fatalf("Size() = %d, want 5", got)
	}

	data, err := d.Materialize(elfclass.Class64, 42, 7)
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if len(data) != 5*elfclass.Class64.DynSize() {
		t.Fatalf("len(data) = %d, want %d", len(data), 5*elfclass.Class64.DynSize())
	}

	last := data[len(data)-elfclass.Class64.DynSize():]
	tag := int64(le64(last, 0))
	if tag != int64(elf.DT_NULL) {
		t.Errorf("last entry tag = %d, want DT_NULL", tag)
	}
}

func TestDynamicTagsDropsExplicitNull(t *testing.T) {
	d := NewDynamicTags()
	d.Add(int64(elf.DT_NULL), 0xdeadbeef)
	d.Add(int64(elf.DT_SYMENT), 24)
	if got := d.Size(); got != 4 { // 1 real entry + 3 terminators; DT_NULL add was dropped
		t.Fatalf("Size() = %d, want 4", got)
	}
}

func le64(b []byte, off int) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[off+i]) << (8 * i)
	}
	return v
}
