// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package serializer sits between a logger's ingress, which hands it one
// record at a time, and an outbound buffer that is swapped wholesale once
// full. It packs as many records as possible into the current buffer while
// also accepting records that will only fit in the next one, without ever
// encoding speculatively into the buffer that is actually going out.
//
// The trick is a standing simulation-mode senml.Encoder that tracks how many
// of the ring's oldest records ("fit_cnt") are already known to fit the
// current buffer. Put only ever asks the simulation encoder for byte
// accounting; the real, byte-writing encode pass happens exactly once per
// buffer, inside Swap, and is expected to succeed by construction.
package serializer

import (
	"github.com/derMihai/condalf-core/errors"
	"github.com/derMihai/condalf-core/must"
	"github.com/derMihai/condalf-core/record"
	"github.com/derMihai/condalf-core/senml"
)

// Serializer packs records into a CBOR/SenML buffer, swapped out wholesale
// once full. It is not safe for concurrent use; callers (the logger) provide
// their own serialization.
type Serializer struct {
	ring   *ring
	enc    *senml.Encoder
	buf    []byte
	base   string
	fitCnt int
	closed bool
}

// New constructs a Serializer writing into buf, staging up to capacity
// records (a positive power of two) ahead of the current buffer, with an
// optional base name prefix applied to every record at encode time. buf must
// be at least senml.ArrayMaxBytes long.
func New(buf []byte, capacity int, base string) (*Serializer, error) {
	if len(buf) < senml.ArrayMaxBytes {
		return nil, errors.E(errors.Invalid, "serializer: destination buffer too small for the outer array")
	}
	r, err := newRing(capacity)
	if err != nil {
		return nil, err
	}
	enc, err := senml.NewEncoder(nil, len(buf)-senml.ArrayMaxBytes, base)
	if err != nil {
		return nil, err
	}
	return &Serializer{
		ring: r,
		enc:  enc,
		buf:  buf,
		base: base,
	}, nil
}

// Put stages rec. On success, or on errors.MustSwap, rec's owned data (if
// any) has been taken into the ring and the caller must not free it; on any
// other error the caller retains ownership and must free rec itself.
//
//   - errors.QueueFull: the staging ring is full; the caller must Swap
//     before retrying. rec was not touched.
//   - errors.NoSpace: the current buffer cannot fit even a single record;
//     rec was not taken.
//   - errors.MustSwap: rec was staged for the *next* buffer; the current
//     one is full and the caller must Swap.
//   - errors.Invalid: rec carries an unknown unit or kind; rec was not
//     taken.
func (s *Serializer) Put(rec record.Record) error {
	if s.closed {
		return errors.E(errors.Invalid, "serializer: use after final swap")
	}
	must.True(s.fitCnt <= s.ring.fill(), "serializer: fit_cnt exceeds ring fill")

	if s.ring.full() {
		return errors.E(errors.QueueFull, "serializer: ring full")
	}

	fits, err := s.enc.TryAdd(rec)
	if err != nil {
		return errors.E(errors.Invalid, err)
	}
	if fits {
		s.ring.put(rec)
		s.fitCnt++
		return nil
	}
	if s.fitCnt == 0 {
		return errors.E(errors.NoSpace, "serializer: buffer too small for any record")
	}
	s.ring.put(rec)
	return errors.E(errors.MustSwap, "serializer: current buffer full")
}

// Swap finalizes the current buffer — encoding its fit_cnt committed records
// for real and closing the outer array — then exchanges it with *out: the
// filled buffer (truncated to its actual encoded length) replaces *out, and
// *out's former contents become the new working buffer.
//
// Swap returns the number of bytes written to the buffer that now lives in
// *out (zero if there was nothing pending to flush, in which case no swap
// happened at all and *out is untouched). A nil out invalidates the
// Serializer: any records still staged are dropped (their owned data freed)
// and every later call returns errors.Invalid.
//
// If, after installing the new buffer, records remain staged that did not
// fit it, Swap returns errors.MustSwap alongside the byte count: the caller
// must dispatch the returned buffer and Swap again immediately.
func (s *Serializer) Swap(out *[]byte) (int, error) {
	if s.closed {
		return 0, errors.E(errors.Invalid, "serializer: use after final swap")
	}
	if out == nil {
		s.invalidate()
		return 0, nil
	}
	if s.fitCnt == 0 {
		return 0, nil
	}

	n := s.commit()

	filled := s.buf[:n]
	s.buf, *out = *out, filled
	s.fitCnt = 0

	if len(s.buf) < senml.ArrayMaxBytes {
		return n, errors.E(errors.NoSpace, "serializer: new buffer too small for the outer array")
	}

	sim, err := senml.NewEncoder(nil, len(s.buf)-senml.ArrayMaxBytes, s.base)
	must.Nil(err, "serializer: failed to reinitialize simulation encoder against new buffer")
	s.enc = sim

	s.fitCnt = s.rescan(sim)
	if s.ring.fill() > s.fitCnt {
		return n, errors.E(errors.MustSwap, "serializer: more records staged than fit the new buffer")
	}
	return n, nil
}

// commit re-initializes the encoder in real mode against the current buffer
// and destructively encodes the first fit_cnt staged records, which must, by
// construction, fit exactly as the simulation already determined.
func (s *Serializer) commit() int {
	real, err := senml.NewEncoder(s.buf, len(s.buf)-senml.ArrayMaxBytes, s.base)
	must.Nil(err, "serializer: failed to reinitialize real encoder for commit")

	for i := 0; i < s.fitCnt; i++ {
		rec, ok := s.ring.get()
		must.True(ok, "serializer: fit_cnt exceeds staged record count")
		fits, err := real.TryAdd(rec)
		must.Nil(err, "serializer: a previously simulated record failed to re-encode")
		must.True(fits, "serializer: a previously simulated record did not fit on commit")
		record.FreeData(&rec)
	}
	n, err := real.Close()
	must.Nil(err, "serializer: failed to close committed buffer")
	return n
}

// rescan simulates as many of the ring's staged records as fit sim, starting
// from the ring's read index, without consuming them.
func (s *Serializer) rescan(sim *senml.Encoder) int {
	it, rec, ok := s.ring.peek()
	count := 0
	for ok {
		fits, err := sim.TryAdd(rec)
		must.Nil(err, "serializer: a previously accepted record failed re-simulation")
		if !fits {
			break
		}
		count++
		it, rec, ok = it.next()
	}
	return count
}

// invalidate drains the ring, freeing every staged record's owned data, and
// permanently disables the Serializer.
func (s *Serializer) invalidate() {
	for {
		rec, ok := s.ring.get()
		if !ok {
			break
		}
		record.FreeData(&rec)
	}
	s.ring = nil
	s.enc = nil
	s.closed = true
}
