package elfimage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// RandomAccessSink is the file abstraction Write drives (spec §6). It is
// the caller's responsibility to have opened the file for writing and to
// close it once Write returns.
type RandomAccessSink interface {
	// Seek positions the sink absolutely, relative to the start of file.
	Seek(offset int64) error
	// WriteAll writes p in full, or returns an error; a short write
	// without an error is treated as a bug in the sink implementation.
	WriteAll(p []byte) error
	// Path returns the filesystem path the SONAME is derived from.
	Path() string
}

// FileSink is a RandomAccessSink backed by an *os.File, using
// golang.org/x/sys/unix directly on the raw descriptor instead of the
// higher-level os.File.Seek/Write pair — the teacher's go.mod already
// pulls in golang.org/x/sys for exactly this kind of low-level,
// syscall-adjacent I/O (filewatcher_unix.go's unix.InotifyInit1), and a
// builder that must guarantee exact positioned writes is a natural home
// for it.
type FileSink struct {
	file *os.File
	path string
}

// NewFileSink wraps an already-open file. The builder never creates or
// closes the file itself — that remains the caller's responsibility, per
// spec §5's ownership model.
func NewFileSink(f *os.File) *FileSink {
	return &FileSink{file: f, path: f.Name()}
}

func (s *FileSink) Seek(offset int64) error {
	_, err := unix.Seek(int(s.file.Fd()), offset, io.SeekStart)
	if err != nil {
		return fmt.Errorf("elfimage: seek to 0x%x: %w", offset, err)
	}
	return nil
}

func (s *FileSink) WriteAll(p []byte) error {
	for len(p) > 0 {
		n, err := unix.Write(int(s.file.Fd()), p)
		if err != nil {
			return fmt.Errorf("elfimage: write %d bytes: %w", len(p), err)
		}
		if n == 0 {
			return fmt.Errorf("elfimage: write returned 0 bytes with %d remaining", len(p))
		}
		p = p[n:]
	}
	return nil
}

func (s *FileSink) Path() string {
	return s.path
}

// soname derives DT_SONAME's string from a sink path the way spec §4.4.4
// specifies: the basename of the output file path.
func soname(path string) string {
	return filepath.Base(path)
}
