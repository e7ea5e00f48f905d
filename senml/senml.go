// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package senml encodes records into a CBOR array of SenML maps, the wire
// format shipped over the CoAP uplink. An Encoder can run in two modes:
// against a real destination buffer, where it writes bytes, or against a
// nil buffer ("simulation"), where it only accounts for how many bytes a
// record would cost. The Serializer uses simulation to decide whether a
// candidate record fits before ever touching the live output buffer.
package senml

import (
	"github.com/derMihai/condalf-core/errors"
	"github.com/derMihai/condalf-core/record"
	"github.com/fxamacker/cbor/v2"
)

// ArrayMaxBytes is the number of bytes reserved for closing the outer CBOR
// array. Callers budget this away from a destination buffer's usable
// length before constructing an Encoder.
const ArrayMaxBytes = 4

var encMode = mustEncMode()

func mustEncMode() cbor.EncMode {
	m, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return m
}

const (
	keyBaseName = -2
	keyName     = 0
	keyUnit     = 1
	keyValue    = 2
	keyTime     = 6
)

var arrayStart = []byte{0x9f}
var arrayEnd = []byte{0xff}

// Encoder accumulates SenML records into an open-ended CBOR array. A nil
// destination buffer puts the Encoder into simulation mode: TryAdd still
// reports whether a record fits, but no bytes are written.
type Encoder struct {
	dst   []byte
	pos   int
	limit int
}

// NewEncoder opens an Encoder against dst (or, if dst is nil, in simulation
// mode) with the given usable length limit and optional base name. limit
// should already have ArrayMaxBytes subtracted by the caller, to leave room
// for Close.
func NewEncoder(dst []byte, limit int, base string) (*Encoder, error) {
	if limit < 0 {
		return nil, errors.E(errors.Invalid, "senml: negative limit")
	}
	e := &Encoder{dst: dst, limit: limit}
	if err := e.append(arrayStart); err != nil {
		return nil, err
	}
	if base != "" {
		b, err := encMode.Marshal(map[int]interface{}{keyBaseName: base})
		if err != nil {
			return nil, errors.E(errors.Invalid, err)
		}
		if err := e.append(b); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *Encoder) append(b []byte) error {
	if e.pos+len(b) > e.limit {
		return errors.E(errors.NoSpace, "senml: buffer too small")
	}
	if e.dst != nil {
		copy(e.dst[e.pos:], b)
	}
	e.pos += len(b)
	return nil
}

// TryAdd reports whether rec fits within the remaining budget. If it fits,
// the byte count (and, in real mode, the bytes themselves) is committed
// immediately; if it does not, the Encoder is left unchanged and false is
// returned with a nil error. A non-nil error means rec could not be
// encoded at all (an invalid unit or kind), independent of available space.
func (e *Encoder) TryAdd(rec record.Record) (bool, error) {
	b, err := marshalRecord(rec)
	if err != nil {
		return false, err
	}
	if e.pos+len(b) > e.limit {
		return false, nil
	}
	if e.dst != nil {
		copy(e.dst[e.pos:], b)
	}
	e.pos += len(b)
	return true, nil
}

// Close appends the array terminator and returns the total number of bytes
// used (written, in real mode; accounted for, in simulation mode).
func (e *Encoder) Close() (int, error) {
	// The terminator draws on the ArrayMaxBytes reserved beyond limit.
	if e.pos+len(arrayEnd) > e.limit+ArrayMaxBytes {
		return 0, errors.E(errors.NoSpace, "senml: buffer too small")
	}
	if e.dst != nil {
		copy(e.dst[e.pos:], arrayEnd)
	}
	e.pos += len(arrayEnd)
	return e.pos, nil
}

// Len returns the number of bytes committed so far, not including Close's
// terminator.
func (e *Encoder) Len() int { return e.pos }

func marshalRecord(rec record.Record) ([]byte, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	m := map[int]interface{}{
		keyName: rec.Name,
		keyTime: rec.Seconds(),
	}
	if rec.Unit != record.UnitNone {
		m[keyUnit] = rec.Unit.String()
	}
	switch rec.Kind {
	case record.Uint32:
		m[keyValue] = rec.U32
	case record.Int32:
		m[keyValue] = rec.I32
	case record.String:
		m[keyValue] = rec.Str
	case record.Empty:
		// No value entry.
	}
	b, err := encMode.Marshal(m)
	if err != nil {
		return nil, errors.E(errors.Invalid, err)
	}
	return b, nil
}
