// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package pool implements the data-pool file operations spec §4.E
// describes: a directory of hex-named files, with find-oldest/newest,
// move-in, drain, and size operations. It is built directly on the
// teacher's file package (file/file.go, file/localfile.go, file/util.go),
// the VFS-like capability spec §1 treats as an external collaborator.
package pool

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/derMihai/condalf-core/errors"
	"github.com/derMihai/condalf-core/file"
)

// IDWidth is the number of hex digits in a pool file's name.
const IDWidth = 8

var idPattern = regexp.MustCompile(`^[0-9a-f]{8}$`)

// FormatID renders id as the 8-lowercase-hex-digit name a pool file is
// known by.
func FormatID(id uint32) string {
	return fmt.Sprintf("%0*x", IDWidth, id)
}

// ParseID parses name as a pool file-id. ok is false if name does not
// match the 8-hex-digit schema; such names are ignored by every pool
// operation, per spec §3.
func ParseID(name string) (id uint32, ok bool) {
	if !idPattern.MatchString(name) {
		return 0, false
	}
	n, err := strconv.ParseUint(name, 16, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// scan lists the schema-matching file-ids directly under dir, in no
// particular order.
func scan(ctx context.Context, dir string) ([]uint32, error) {
	l := file.List(ctx, dir, false)
	var ids []uint32
	for l.Scan() {
		if l.IsDir() {
			continue
		}
		if id, ok := ParseID(file.Base(l.Path())); ok {
			ids = append(ids, id)
		}
	}
	return ids, l.Err()
}

// Newest returns the largest file-id in dir. found is false if dir has
// no schema-matching file.
func Newest(ctx context.Context, dir string) (id uint32, found bool, err error) {
	ids, err := scan(ctx, dir)
	if err != nil {
		return 0, false, err
	}
	for _, i := range ids {
		if !found || i >= id {
			id, found = i, true
		}
	}
	return id, found, nil
}

// Oldest returns the smallest file-id in dir. found is false if dir has
// no schema-matching file.
func Oldest(ctx context.Context, dir string) (id uint32, found bool, err error) {
	ids, err := scan(ctx, dir)
	if err != nil {
		return 0, false, err
	}
	for _, i := range ids {
		if !found || i <= id {
			id, found = i, true
		}
	}
	return id, found, nil
}

// GetOldest writes the path of dir's oldest file into buf and returns
// the number of bytes written. It returns errors.NotExist if dir has no
// files, and errors.NoSpace if buf is too small to hold the path.
func GetOldest(ctx context.Context, dir string, buf []byte) (int, error) {
	id, found, err := Oldest(ctx, dir)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, errors.E(errors.NotExist, "pool: no files in "+dir)
	}
	p := file.Join(dir, FormatID(id))
	if len(buf) < len(p) {
		return 0, errors.E(errors.NoSpace, "pool: destination buffer too small for path")
	}
	return copy(buf, p), nil
}

// Size returns the number of schema-matching files in dir.
func Size(ctx context.Context, dir string) (int, error) {
	ids, err := scan(ctx, dir)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Drain unlinks every schema-matching file in dir concurrently, via
// file.RemoveAll's errgroup-backed fan-out restricted to names
// ParseID accepts; it reports the first error encountered, if any,
// leaving the rest of the pool's contents on disk exactly as
// RemoveAll does.
func Drain(ctx context.Context, dir string) error {
	return file.RemoveAll(ctx, dir, func(name string) bool {
		_, ok := ParseID(name)
		return ok
	})
}

// MoveFile assigns srcPath the next monotone file-id in dir (the
// existing maximum plus one, or 1 if dir is empty) and renames it into
// place, returning the new path. It is grounded on
// file/localfile.go's Create, which already stages writes under a
// temporary name before an atomic rename into place; MoveFile performs
// the second half of that same pattern for a file that already exists
// on disk under some other name.
func MoveFile(ctx context.Context, dir, srcPath string) (string, error) {
	newest, found, err := Newest(ctx, dir)
	if err != nil {
		return "", err
	}
	next := uint32(1)
	if found {
		next = newest + 1
	}
	dst := file.Join(dir, FormatID(next))
	if impl, rerr := renamerFor(srcPath); rerr == nil {
		if err := impl.Rename(ctx, srcPath, dst); err != nil {
			return "", err
		}
		return dst, nil
	}
	if err := copyThenRemove(ctx, srcPath, dst); err != nil {
		return "", err
	}
	return dst, nil
}

func renamerFor(path string) (file.Renamer, error) {
	scheme, _, err := file.ParsePath(path)
	if err != nil {
		return nil, err
	}
	impl := file.FindImplementation(scheme)
	if impl == nil {
		return nil, errors.E(errors.NotSupported, "pool: no implementation for scheme")
	}
	r, ok := impl.(file.Renamer)
	if !ok {
		return nil, errors.E(errors.NotSupported, "pool: implementation does not support rename")
	}
	return r, nil
}

// copyThenRemove is the fallback for implementations (none in this
// module, but conceivable for a future non-local pool) that cannot
// rename in place. It copies via file.Copy, the context-aware io.Copy
// the teacher's file package already offers for exactly this purpose.
func copyThenRemove(ctx context.Context, srcPath, dstPath string) error {
	src, err := file.Open(ctx, srcPath)
	if err != nil {
		return err
	}
	defer src.Close(ctx) // nolint: errcheck

	dst, err := file.Create(ctx, dstPath)
	if err != nil {
		return err
	}
	if _, err := file.Copy(ctx, dst.Writer(ctx), src.Reader(ctx)); err != nil {
		dst.Discard(ctx)
		return errors.E(errors.NotExist, err)
	}
	if err := dst.Close(ctx); err != nil {
		return err
	}
	return file.Remove(ctx, srcPath)
}
