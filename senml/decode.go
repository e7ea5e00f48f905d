// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package senml

import (
	"github.com/derMihai/condalf-core/errors"
	"github.com/fxamacker/cbor/v2"
)

// DecodedRecord is one SenML map, as read back from a pack. Value holds a
// uint64, int64, or string depending on the record's original kind.
type DecodedRecord struct {
	Name  string
	Time  float64
	Unit  string
	Value interface{}
}

// Pack is a decoded SenML/CBOR pack: an optional base name followed by its
// records, in encoded order.
type Pack struct {
	BaseName string
	Records  []DecodedRecord
}

// Decode parses a pack produced by Encoder back into its records. It is
// used by tests (and could be used by any reference consumer) to verify
// that what was committed can be read back exactly.
func Decode(data []byte) (*Pack, error) {
	var raw []map[int64]interface{}
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return nil, errors.E(errors.Invalid, err)
	}
	pack := &Pack{}
	for _, m := range raw {
		if bn, ok := m[keyBaseName]; ok {
			pack.BaseName, _ = bn.(string)
			continue
		}
		rec := DecodedRecord{}
		if n, ok := m[keyName]; ok {
			rec.Name, _ = n.(string)
		}
		if ts, ok := m[keyTime]; ok {
			rec.Time, _ = ts.(float64)
		}
		if u, ok := m[keyUnit]; ok {
			rec.Unit, _ = u.(string)
		}
		if v, ok := m[keyValue]; ok {
			rec.Value = v
		}
		pack.Records = append(pack.Records, rec)
	}
	return pack, nil
}
