package elfimage

import (
	"github.com/xyproto/env/v2"
)

// defaultPageSize is the fallback when Options.PageSize is zero and
// ELFIMAGE_PAGE_SIZE is unset. 4096 covers every ISA in the architecture
// adapter's table; an embedding compiler targeting an ISA with a larger
// minimum page size overrides it explicitly.
const defaultPageSize = 4096

// Options carries every constructor input named in spec §6, plus the
// environment-backed overrides described in SPEC_FULL's ambient stack
// section. Payload, Sink and ISA are required; everything else has a
// spec-compliant default.
type Options struct {
	// Payload streams .rodata followed by .text during Write.
	Payload CodePayloadWriter
	// Sink is the file abstraction Write seeks and writes into.
	Sink RandomAccessSink
	// ISA selects e_machine/e_flags and the address width (32 vs 64 bit).
	ISA ISA

	// RodataSize and TextSize are the byte lengths of the payload's two
	// regions; the payload's single contiguous Write call must emit
	// exactly RodataSize+TextSize bytes.
	RodataSize int64
	TextSize   int64
	// RodataOffset and TextOffset are advisory hints the caller may have
	// used while emitting code that references these regions; the
	// builder computes the authoritative offsets itself during Init and
	// does not trust these fields for layout.
	RodataOffset int64
	TextOffset   int64

	// BSSSize disables the .bss section and its two anchor symbols when
	// zero (spec §6).
	BSSSize   int64
	BSSOffset int64

	// IncludeDebugSymbols adds .symtab/.strtab after .dynamic.
	IncludeDebugSymbols bool

	// DebugLog selects a Logger that writes to stderr (StdLogger wrapping
	// a log.Logger prefixed "elfimage: ") when Logger is nil. Setting
	// ELFIMAGE_VERBOSE has the same effect.
	DebugLog bool
	// Logger overrides the DebugLog-derived default. A nil Logger with
	// DebugLog false and ELFIMAGE_VERBOSE unset uses NoopLogger.
	Logger Logger

	// PageSize overrides the LOAD-segment and .text/.rodata/.bss
	// alignment. Zero means "use the environment override, or 4096".
	PageSize uint64
}

func (o Options) resolvePageSize() uint64 {
	if o.PageSize != 0 {
		return o.PageSize
	}
	return uint64(env.Int("ELFIMAGE_PAGE_SIZE", defaultPageSize))
}

func (o Options) resolveLogger() Logger {
	if o.Logger != nil {
		return o.Logger
	}
	if o.DebugLog || env.Bool("ELFIMAGE_VERBOSE") {
		return StdLogger(defaultStdLog())
	}
	return NoopLogger()
}
