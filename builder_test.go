package elfimage

import (
	"debug/elf"
	"os"
	"path/filepath"
	"testing"
)

func buildTo(t *testing.T, path string, opts Options) *os.File {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	opts.Sink = NewFileSink(f)
	b, err := NewBuilder(opts)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	if err := b.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := b.Write(); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return f
}

// TestMinimalArm64NoBSSNoDebug covers spec scenario 1.
func TestMinimalArm64NoBSSNoDebug(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.so")
	payload := &fakePayload{rodataSize: 4096, textSize: 4096}
	f := buildTo(t, path, Options{
		Payload:    payload,
		ISA:        ISAArm64,
		RodataSize: 4096,
		TextSize:   4096,
	})
	f.Close()

	ef, err := elf.Open(path)
	if err != nil {
		t.Fatalf("elf.Open: %v", err)
	}
	defer ef.Close()

	if ef.Machine != elf.EM_AARCH64 {
		t.Errorf("e_machine = %v, want EM_AARCH64", ef.Machine)
	}
	if len(ef.Progs) != 6 {
		t.Errorf("e_phnum = %d, want 6", len(ef.Progs))
	}

	syms, err := ef.DynamicSymbols()
	if err != nil {
		t.Fatalf("DynamicSymbols: %v", err)
	}
	if len(syms) != 3 {
		t.Fatalf("dynamic symbol count = %d, want 3 (undef excluded by debug/elf)", len(syms))
	}
	wantNames := map[string]bool{"oatdata": true, "oatexec": true, "oatlastword": true}
	for _, s := range syms {
		if !wantNames[s.Name] {
			t.Errorf("unexpected dynamic symbol %q", s.Name)
		}
	}

	soname, err := ef.DynString(elf.DT_SONAME)
	if err != nil {
		t.Fatalf("DynString(DT_SONAME): %v", err)
	}
	if len(soname) != 1 || soname[0] != "image.so" {
		t.Errorf("DT_SONAME = %v, want [image.so]", soname)
	}
}

// TestX86_64WithBSS covers spec scenario 2.
func TestX86_64WithBSS(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.so")
	payload := &fakePayload{rodataSize: 4096, textSize: 8192}
	_ = buildTo(t, path, Options{
		Payload:    payload,
		ISA:        ISAX86_64,
		RodataSize: 4096,
		TextSize:   8192,
		BSSSize:    4096,
	})

	ef, err := elf.Open(path)
	if err != nil {
		t.Fatalf("elf.Open: %v", err)
	}
	defer ef.Close()

	if len(ef.Progs) != 7 {
		t.Errorf("e_phnum = %d, want 7", len(ef.Progs))
	}

	syms, err := ef.DynamicSymbols()
	if err != nil {
		t.Fatalf("DynamicSymbols: %v", err)
	}
	found := map[string]bool{}
	for _, s := range syms {
		found[s.Name] = true
	}
	if !found["oatbss"] || !found["oatbsslastword"] {
		t.Errorf("missing oatbss/oatbsslastword in %v", found)
	}

	var bssProg *elf.Prog
	for _, p := range ef.Progs {
		if p.Type == elf.PT_LOAD && p.Filesz == 0 && p.Memsz == 4096 {
			bssProg = p
		}
	}
	if bssProg == nil {
		t.Fatal("no PT_LOAD segment with p_filesz=0, p_memsz=4096 found")
	}
}

// TestArmWithEhFrame covers spec scenario 3.
func TestArmWithEhFrame(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.so")
	payload := &fakePayload{rodataSize: 256, textSize: 256}

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	opts := Options{
		Payload:    payload,
		ISA:        ISAArm,
		RodataSize: 256,
		TextSize:   256,
		Sink:       NewFileSink(f),
	}
	b, err := NewBuilder(opts)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	ehFrame := NewRawSection(".eh_frame", uint32(elf.SHT_PROGBITS), uint64(elf.SHF_ALLOC), make([]byte, 200))
	ehFrameHdr := NewRawSection(".eh_frame_hdr", uint32(elf.SHT_PROGBITS), uint64(elf.SHF_ALLOC), make([]byte, 24))
	if err := b.AddRawSection(ehFrame); err != nil {
		t.Fatalf("AddRawSection(.eh_frame): %v", err)
	}
	if err := b.AddRawSection(ehFrameHdr); err != nil {
		t.Fatalf("AddRawSection(.eh_frame_hdr): %v", err)
	}
	if err := b.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := b.Write(); err != nil {
		t.Fatalf("Write: %v", err)
	}
	f.Close()

	if ehFrame.Header().Offset+200 != ehFrameHdr.Header().Offset {
		t.Errorf(".eh_frame.file_offset+200 = %d, .eh_frame_hdr.file_offset = %d",
			ehFrame.Header().Offset+200, ehFrameHdr.Header().Offset)
	}

	ef, err := elf.Open(path)
	if err != nil {
		t.Fatalf("elf.Open: %v", err)
	}
	defer ef.Close()

	if ef.Machine != elf.EM_ARM {
		t.Errorf("e_machine = %v, want EM_ARM", ef.Machine)
	}

	var foundEhFrame, foundEhFrameHdr bool
	var gnuEhFrame *elf.Prog
	for _, s := range ef.Sections {
		if s.Name == ".eh_frame" {
			foundEhFrame = true
		}
		if s.Name == ".eh_frame_hdr" {
			foundEhFrameHdr = true
		}
	}
	for _, p := range ef.Progs {
		if uint32(p.Type) == 0x6474e550 {
			gnuEhFrame = p
		}
	}
	if !foundEhFrame || !foundEhFrameHdr {
		t.Errorf(".eh_frame present=%v .eh_frame_hdr present=%v", foundEhFrame, foundEhFrameHdr)
	}
	if gnuEhFrame == nil {
		t.Fatal("no PT_GNU_EH_FRAME segment found")
	}
	if gnuEhFrame.Off != ehFrameHdr.Header().Offset {
		t.Errorf("PT_GNU_EH_FRAME offset = %d, want %d", gnuEhFrame.Off, ehFrameHdr.Header().Offset)
	}
}

// TestDebugSymbolsIncluded covers spec scenario 4.
func TestDebugSymbolsIncluded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.so")
	payload := &fakePayload{rodataSize: 256, textSize: 256}

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	opts := Options{
		Payload:              payload,
		ISA:                  ISAX86_64,
		RodataSize:           256,
		TextSize:             256,
		IncludeDebugSymbols:  true,
		Sink:                 NewFileSink(f),
	}
	b, err := NewBuilder(opts)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	if err := b.AddDebugSymbol("entry", 0x10, 12); err != nil {
		t.Fatalf("AddDebugSymbol(entry): %v", err)
	}
	if err := b.AddDebugSymbol("helper", 0x40, 8); err != nil {
		t.Fatalf("AddDebugSymbol(helper): %v", err)
	}
	if err := b.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := b.Write(); err != nil {
		t.Fatalf("Write: %v", err)
	}
	f.Close()

	ef, err := elf.Open(path)
	if err != nil {
		t.Fatalf("elf.Open: %v", err)
	}
	defer ef.Close()

	syms, err := ef.Symbols()
	if err != nil {
		t.Fatalf("Symbols: %v", err)
	}
	if len(syms) != 2 {
		t.Fatalf(".symtab entry count = %d, want 2 (undef excluded by debug/elf)", len(syms))
	}
	names := map[string]elf.Symbol{}
	for _, s := range syms {
		names[s.Name] = s
	}
	entry, ok := names["entry"]
	if !ok {
		t.Fatal("missing symbol entry")
	}
	if entry.Size != 12 {
		t.Errorf("entry.Size = %d, want 12", entry.Size)
	}
	if _, ok := names["helper"]; !ok {
		t.Fatal("missing symbol helper")
	}

	var symtabIdx, dynamicIdx int
	for i, s := range ef.Sections {
		if s.Name == ".symtab" {
			symtabIdx = i
		}
		if s.Name == ".dynamic" {
			dynamicIdx = i
		}
	}
	if symtabIdx <= dynamicIdx {
		t.Errorf(".symtab (index %d) does not appear after .dynamic (index %d)", symtabIdx, dynamicIdx)
	}
}

// TestReproducibility covers spec scenario 5: two Writes with identical
// inputs produce byte-identical files. Both outputs share a basename, since
// the SONAME is derived from it.
func TestReproducibility(t *testing.T) {
	opts := func() Options {
		return Options{
			Payload:    &fakePayload{rodataSize: 4096, textSize: 4096},
			ISA:        ISAX86_64,
			RodataSize: 4096,
			TextSize:   4096,
		}
	}

	pathA := filepath.Join(t.TempDir(), "image.so")
	pathB := filepath.Join(t.TempDir(), "image.so")
	buildTo(t, pathA, opts()).Close()
	buildTo(t, pathB, opts()).Close()

	a, err := os.ReadFile(pathA)
	if err != nil {
		t.Fatalf("read a: %v", err)
	}
	b, err := os.ReadFile(pathB)
	if err != nil {
		t.Fatalf("read b: %v", err)
	}
	if len(a) != len(b) {
		t.Fatalf("len(a)=%d len(b)=%d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("byte %d differs: %x vs %x", i, a[i], b[i])
		}
	}
}

// TestUnknownISA covers spec §4.6's "any unknown ISA sets a fatal flag."
func TestUnknownISA(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "image")
	if err != nil {
		t.Fatalf("create temp: %v", err)
	}
	defer f.Close()

	_, err = NewBuilder(Options{
		Payload:    &fakePayload{},
		Sink:       NewFileSink(f),
		ISA:        ISAUnknown,
		RodataSize: 16,
		TextSize:   16,
	})
	if err == nil {
		t.Fatal("NewBuilder with ISAUnknown: expected error, got nil")
	}
}
