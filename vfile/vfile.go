// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package vfile implements the virtual in-memory file descriptor the
// core hands to a transfer driver in place of a real file: a byte slice
// plus a current-length watermark, supporting Read/Write/Seek/Close. It
// is the Go port of the design note in spec §9: "replace the VFS-bound
// RAM file with a plain byte-slice-backed reader/writer".
package vfile

import (
	"io"

	"github.com/derMihai/condalf-core/errors"
)

// File is a byte-slice-backed io.ReadWriteSeeker with a watermark (fend)
// tracking how much of buf holds valid data. buf's capacity is the file's
// fixed size (bufsiz); fend <= len(buf) always holds.
//
// File is not safe for concurrent use.
type File struct {
	buf    []byte
	pos    int
	fend   int
	closed bool
}

// New wraps buf as an empty File ready for writing: Read returns io.EOF
// immediately and Write appends starting at offset 0.
func New(buf []byte) *File {
	return &File{buf: buf}
}

// NewWithData wraps buf as a File that already holds n bytes of valid data
// (the "has data" flag in spec §6), with the read/write position at 0.
func NewWithData(buf []byte, n int) *File {
	if n > len(buf) {
		n = len(buf)
	}
	return &File{buf: buf, fend: n}
}

// Len returns the number of valid bytes currently in the file.
func (f *File) Len() int { return f.fend }

// Bytes returns the file's valid data. The returned slice aliases f's
// backing array and must not be modified after Close.
func (f *File) Bytes() []byte { return f.buf[:f.fend] }

// Read implements io.Reader.
func (f *File) Read(p []byte) (int, error) {
	if f.closed {
		return 0, errors.E(errors.Invalid, "vfile: read after close")
	}
	if f.pos >= f.fend {
		return 0, io.EOF
	}
	n := copy(p, f.buf[f.pos:f.fend])
	f.pos += n
	return n, nil
}

// Write implements io.Writer. Writes past the end of the backing buffer
// fail with errors.NoSpace; the watermark advances to cover every byte
// written so far.
func (f *File) Write(p []byte) (int, error) {
	if f.closed {
		return 0, errors.E(errors.Invalid, "vfile: write after close")
	}
	if f.pos+len(p) > len(f.buf) {
		return 0, errors.E(errors.NoSpace, "vfile: write exceeds backing buffer")
	}
	n := copy(f.buf[f.pos:], p)
	f.pos += n
	if f.pos > f.fend {
		f.fend = f.pos
	}
	return n, nil
}

// Seek implements io.Seeker. Seeking is bounded by the backing buffer's
// capacity, not the current watermark, so a writer may seek ahead of fend.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	if f.closed {
		return 0, errors.E(errors.Invalid, "vfile: seek after close")
	}
	var base int
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = f.pos
	case io.SeekEnd:
		base = f.fend
	default:
		return 0, errors.E(errors.Invalid, "vfile: invalid whence")
	}
	newPos := base + int(offset)
	if newPos < 0 || newPos > len(f.buf) {
		return 0, errors.E(errors.Invalid, "vfile: seek out of range")
	}
	f.pos = newPos
	return int64(f.pos), nil
}

// Close releases the File. It is idempotent. After Close, buf is no
// longer referenced by the File (so it can be garbage collected
// independently of the caller's own reference, if any).
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	f.buf = nil
	return nil
}
