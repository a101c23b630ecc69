package elfimage

import "errors"

// Sentinel errors for the recoverable failure kinds of spec §7. Invariant
// violations are not in this list: they are programming errors and panic
// via pkg/assert rather than returning an error.
var (
	// ErrUnknownISA is returned by NewBuilder (and ParseISA) when the
	// requested ISA has no entry in the architecture adapter's table.
	ErrUnknownISA = errors.New("elfimage: unknown ISA")

	// ErrSinkIO wraps a failure from the RandomAccessSink during Write.
	ErrSinkIO = errors.New("elfimage: sink I/O failure")

	// ErrPayloadWrite is returned when the CodePayloadWriter callback
	// returns an error. The number of bytes the callback wrote is not
	// checked against RodataSize+TextSize.
	ErrPayloadWrite = errors.New("elfimage: code payload write failed")

	// ErrNotInitialized is returned by Write if called before a
	// successful Init.
	ErrNotInitialized = errors.New("elfimage: Write called before Init")
)
