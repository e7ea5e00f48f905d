// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package record defines the value type that flows from a caller into a
// Logger: a name, a timestamp, a SenML unit, and a tagged value. Only the
// string-valued variant owns heap data; every other variant borrows its
// name from the caller.
package record

import "github.com/derMihai/condalf-core/errors"

// Unit is a SenML unit tag. The zero value, UnitNone, means the record
// carries no unit.
type Unit int

const (
	UnitNone Unit = iota
	UnitCelsius
	UnitPercent
	UnitVolt
	UnitAmpere
	UnitWatt
	UnitHertz
	UnitMeter
	UnitSecond
	UnitLux
	UnitPascal

	maxUnit
)

var unitStrings = map[Unit]string{
	UnitNone:    "",
	UnitCelsius: "Cel",
	UnitPercent: "%RH",
	UnitVolt:    "V",
	UnitAmpere:  "A",
	UnitWatt:    "W",
	UnitHertz:   "Hz",
	UnitMeter:   "m",
	UnitSecond:  "s",
	UnitLux:     "lx",
	UnitPascal:  "Pa",
}

// String returns the SenML unit string for u, or "" for UnitNone.
func (u Unit) String() string {
	return unitStrings[u]
}

// Valid reports whether u is a known unit.
func (u Unit) Valid() bool {
	return u >= UnitNone && u < maxUnit
}

// Kind tags which of Record's value fields is meaningful.
type Kind int

const (
	// Empty means the record carries no value, only a name and timestamp.
	Empty Kind = iota
	// Uint32 means U32 is the record's value.
	Uint32
	// Int32 means I32 is the record's value.
	Int32
	// String means Str is the record's value, and Str is owned by the
	// record (must be released with FreeData).
	String

	maxKind
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k >= Empty && k < maxKind
}

// Base is an optional name prefix applied to every record in a pack at
// encode time. It is copied into a Serializer at construction.
type Base struct {
	Name string
}

// Record is a single measurement: a borrowed name (the caller must keep it
// alive at least until the record is encoded or freed), a timestamp, a
// unit, and a tagged value. Only the String variant owns heap data.
type Record struct {
	Name string
	Sec  uint32
	Usec uint32
	Unit Unit
	Kind Kind
	U32  uint32
	I32  int32
	Str  string
}

// Seconds returns the record's timestamp as a floating point seconds value,
// the representation the SenML encoder writes under key 6.
func (r Record) Seconds() float64 {
	return float64(r.Sec) + float64(r.Usec)*1e-6
}

// Move copies src into dst and clears src's owned string, if any, so the
// same data is never encoded or freed twice. src must not be used again
// except as an empty record.
func Move(dst, src *Record) {
	*dst = *src
	if src.Kind == String {
		src.Str = ""
	}
}

// Copy copies src into dst, duplicating src's owned string, if any, so
// dst and src can be freed independently. Go strings are immutable and
// reference-counted by the runtime, so duplication never fails; Copy
// still returns an error to keep the same call shape as Move's siblings
// in case a future owned-value kind can fail to duplicate.
func Copy(dst, src *Record) error {
	*dst = *src
	return nil
}

// FreeData releases r's owned string, if any. It is a no-op for every
// other kind. Callers must call FreeData exactly once for every Record
// that was Put into a ring and later consumed, to release the reference
// to the owned string.
func FreeData(r *Record) {
	if r.Kind == String {
		r.Str = ""
	}
}

// Validate reports an error if r carries an unknown Kind or Unit.
func (r Record) Validate() error {
	if !r.Unit.Valid() {
		return errors.E(errors.Invalid, "record: invalid unit")
	}
	if !r.Kind.Valid() {
		return errors.E(errors.Invalid, "record: invalid kind")
	}
	return nil
}
