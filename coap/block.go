// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package coap

import "github.com/derMihai/condalf-core/errors"

// BlockOption is a decoded Block1/Block2 option value: a block number,
// a more-blocks flag, and a size exponent (SZX, block size = 2^(SZX+4)).
type BlockOption struct {
	Num  uint32
	More bool
	SZX  uint8
}

// Size returns the block size in bytes this option describes.
func (b BlockOption) Size() int {
	return 1 << (b.SZX + 4)
}

// EncodeBlockOption packs b into the 1-, 2-, or 3-byte Block1/Block2
// option value defined by RFC 7252 §2.2.
func EncodeBlockOption(b BlockOption) []byte {
	if b.SZX > 7 {
		b.SZX = 7
	}
	last := uint32(b.SZX)
	if b.More {
		last |= 0x8
	}
	combined := b.Num<<4 | last
	switch {
	case b.Num < 1<<4:
		return []byte{byte(combined)}
	case b.Num < 1<<12:
		return []byte{byte(combined >> 8), byte(combined)}
	default:
		return []byte{byte(combined >> 16), byte(combined >> 8), byte(combined)}
	}
}

// DecodeBlockOption unpacks a Block1/Block2 option value.
func DecodeBlockOption(v []byte) (BlockOption, error) {
	if len(v) == 0 || len(v) > 3 {
		return BlockOption{}, errors.E(errors.Invalid, "coap: invalid block option length")
	}
	last := v[len(v)-1]
	var num uint32
	for _, b := range v[:len(v)-1] {
		num = num<<8 | uint32(b)
	}
	num = num<<4 | uint32(last>>4)
	return BlockOption{
		Num:  num,
		More: last&0x8 != 0,
		SZX:  last & 0x7,
	}, nil
}
