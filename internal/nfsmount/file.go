package nfsmount

import (
	"io"
	"os"

	billy "github.com/go-git/go-billy/v5"
)

var errReadOnly = os.ErrPermission

// commitFunc receives the final content of a written file on close.
type commitFunc func(p string, content []byte) error

// bytesFile is a read-only snapshot of a tree file.
type bytesFile struct {
	name string
	data []byte
	pos  int64
}

func (f *bytesFile) Name() string { return f.name }

func (f *bytesFile) Read(p []byte) (int, error) {
	if f.pos >= int64(len(f.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.data[f.pos:])
	f.pos += int64(n)
	return n, nil
}

func (f *bytesFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(f.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *bytesFile) Seek(offset int64, whence int) (int64, error) {
	f.pos = seek(f.pos, int64(len(f.data)), offset, whence)
	return f.pos, nil
}

func (f *bytesFile) Write([]byte) (int, error) { return 0, errReadOnly }
func (f *bytesFile) Truncate(int64) error      { return errReadOnly }
func (f *bytesFile) Lock() error               { return nil }
func (f *bytesFile) Unlock() error             { return nil }
func (f *bytesFile) Close() error              { return nil }

// writeFile buffers NFS WRITE RPCs and commits the whole content on close.
type writeFile struct {
	id      string
	buf     []byte
	pos     int64
	written bool // set by Write only, never by Truncate
	onClose commitFunc
}

func (f *writeFile) Name() string { return f.id }

func (f *writeFile) Read(p []byte) (int, error) {
	if f.pos >= int64(len(f.buf)) {
		return 0, io.EOF
	}
	n := copy(p, f.buf[f.pos:])
	f.pos += int64(n)
	return n, nil
}

func (f *writeFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(f.buf)) {
		return 0, io.EOF
	}
	n := copy(p, f.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *writeFile) Write(p []byte) (int, error) {
	end := f.pos + int64(len(p))
	if end > int64(len(f.buf)) {
		grown := make([]byte, end)
		copy(grown, f.buf)
		f.buf = grown
	}
	n := copy(f.buf[f.pos:], p)
	f.pos += int64(n)
	f.written = true
	return n, nil
}

func (f *writeFile) Seek(offset int64, whence int) (int64, error) {
	f.pos = seek(f.pos, int64(len(f.buf)), offset, whence)
	return f.pos, nil
}

// Truncate resizes the buffer. SETATTR(size=0) arrives as truncate and
// close before any WRITE; that cycle must not commit an empty file.
func (f *writeFile) Truncate(size int64) error {
	if size < int64(len(f.buf)) {
		f.buf = f.buf[:size]
	} else if size > int64(len(f.buf)) {
		grown := make([]byte, size)
		copy(grown, f.buf)
		f.buf = grown
	}
	return nil
}

// Close commits, but only if Write was called.
func (f *writeFile) Close() error {
	if !f.written || f.onClose == nil {
		return nil
	}
	f.written = false
	return f.onClose(f.id, f.buf)
}

func (f *writeFile) Lock() error   { return nil }
func (f *writeFile) Unlock() error { return nil }

func seek(pos, size, offset int64, whence int) int64 {
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos += offset
	case io.SeekEnd:
		pos = size + offset
	}
	if pos < 0 {
		pos = 0
	}
	return pos
}

var (
	_ billy.File = (*bytesFile)(nil)
	_ billy.File = (*writeFile)(nil)
)
