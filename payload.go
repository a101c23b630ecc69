package elfimage

// CodePayloadWriter is implemented by the caller — the compiler pipeline
// that produced the code and metadata blob occupying .rodata and .text
// (spec §6). The builder treats the payload opaquely aside from the
// boundary symbols it synthesizes around it.
type CodePayloadWriter interface {
	// SetCodeOffset is called exactly once, before Write, with the file
	// offset Init assigned to .rodata. The payload may need this to
	// resolve absolute addresses baked into the code stream (e.g.
	// PC-relative fixups computed ahead of time by the compiler).
	SetCodeOffset(offset uint64)

	// Write emits .rodata immediately followed by .text as a single
	// contiguous stream into sink, starting at the sink's current
	// position. The total bytes written must equal the RodataSize plus
	// TextSize the builder was constructed with.
	Write(sink RandomAccessSink) error
}
