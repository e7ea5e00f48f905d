// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package serializer

import (
	"github.com/derMihai/condalf-core/errors"
	"github.com/derMihai/condalf-core/record"
)

// ring is a power-of-two-capacity staging buffer of records, indexed by two
// monotonically increasing cursors: ri (read index) and wi (write index),
// with the invariant ri <= wi <= ri+capacity. Indexing wraps via a mask, so
// neither cursor is ever reduced modulo capacity itself; that lets peek/next
// scan ahead of the read cursor without disturbing it.
type ring struct {
	buf  []record.Record
	mask uint64
	ri   uint64
	wi   uint64
}

// newRing allocates a ring of the given capacity, which must be a positive
// power of two.
func newRing(capacity int) (*ring, error) {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		return nil, errors.E(errors.Invalid, "serializer: ring capacity must be a positive power of two")
	}
	return &ring{
		buf:  make([]record.Record, capacity),
		mask: uint64(capacity - 1),
	}, nil
}

// fill reports the number of records currently staged.
func (r *ring) fill() int {
	return int(r.wi - r.ri)
}

// full reports whether the ring has no room for another put.
func (r *ring) full() bool {
	return r.wi-r.ri == uint64(len(r.buf))
}

// put appends rec to the ring, taking ownership of any data it carries. It
// panics if the ring is full; callers must check full() first.
func (r *ring) put(rec record.Record) {
	if r.full() {
		panic("serializer: put into full ring")
	}
	r.buf[r.wi&r.mask] = rec
	r.wi++
}

// get destructively removes and returns the oldest staged record. ok is
// false if the ring is empty.
func (r *ring) get() (rec record.Record, ok bool) {
	if r.ri == r.wi {
		return record.Record{}, false
	}
	rec = r.buf[r.ri&r.mask]
	r.buf[r.ri&r.mask] = record.Record{}
	r.ri++
	return rec, true
}

// iterator is a nondestructive cursor into the ring, used to scan forward
// from the read index without consuming records.
type iterator struct {
	r   *ring
	pos uint64
}

// peek returns an iterator positioned at the ring's current read index,
// alongside the record at that position (ok is false if the ring is empty).
func (r *ring) peek() (it iterator, rec record.Record, ok bool) {
	it = iterator{r: r, pos: r.ri}
	rec, ok = it.at()
	return it, rec, ok
}

func (it iterator) at() (record.Record, bool) {
	if it.pos >= it.r.wi {
		return record.Record{}, false
	}
	return it.r.buf[it.pos&it.r.mask], true
}

// next advances it by one position without mutating the ring's read index,
// returning the record now under the cursor (ok is false at end of ring).
func (it iterator) next() (iterator, record.Record, bool) {
	it.pos++
	rec, ok := it.at()
	return it, rec, ok
}
