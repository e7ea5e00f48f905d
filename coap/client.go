// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package coap

import (
	"context"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/derMihai/condalf-core/errors"
	"github.com/derMihai/condalf-core/limiter"
	"github.com/derMihai/condalf-core/log"
	"github.com/derMihai/condalf-core/retry"
	"github.com/derMihai/condalf-core/transfer"
)

// Config configures a Client.
type Config struct {
	// Addr is the remote server's "host:port" UDP address.
	Addr string
	// Path is the resource's Uri-Path, one segment per element.
	Path []string
	// BlockSZX is the Block1 size exponent (block size = 2^(SZX+4));
	// valid range 0-6. Dial clamps larger values to 6 (1024-byte blocks);
	// the zero value selects 16-byte blocks.
	BlockSZX uint8
	// Retry governs per-block retransmission on a lost or errored
	// exchange. A nil Retry performs no retries.
	Retry retry.Policy
	// Timeout bounds how long Client waits for each block's response.
	// Defaults to 5 seconds.
	Timeout time.Duration
}

// Client performs block-wise CoAP PUTs (RFC 7252 §4, §2.2) over UDP.
// It implements publisher.NetSender, so a Publisher can drain its
// queue directly through a Client.
type Client struct {
	cfg   Config
	conn  net.PacketConn
	raddr net.Addr
	sem   *limiter.Limiter
	mid   uint32
}

// Dial opens a UDP socket and resolves cfg.Addr, returning a ready
// Client.
func Dial(cfg Config) (*Client, error) {
	if cfg.BlockSZX > 6 {
		cfg.BlockSZX = 6
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	conn, err := net.ListenPacket("udp", ":0")
	if err != nil {
		return nil, errors.E(errors.Net, err)
	}
	raddr, err := net.ResolveUDPAddr("udp", cfg.Addr)
	if err != nil {
		conn.Close()
		return nil, errors.E(errors.Net, err)
	}
	sem := limiter.New()
	sem.Release(1)
	return &Client{cfg: cfg, conn: conn, raddr: raddr, sem: sem}, nil
}

// Close releases the underlying UDP socket.
func (c *Client) Close() error {
	return c.conn.Close()
}

// NetSend implements publisher.NetSender: it reads job.File to
// completion and PUTs it to the configured resource in Block1-sized
// chunks, serialized behind a capacity-one limiter so only one
// exchange is ever in flight on this socket at a time.
func (c *Client) NetSend(ctx context.Context, job *transfer.Job) (int, error) {
	data, err := io.ReadAll(job.File)
	if err != nil {
		return 0, errors.E(errors.Invalid, err)
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return 0, err
	}
	defer c.sem.Release(1)
	return c.putBlockwise(ctx, data)
}

func (c *Client) putBlockwise(ctx context.Context, data []byte) (int, error) {
	blockSize := 1 << (c.cfg.BlockSZX + 4)
	sent := 0
	for num := 0; ; num++ {
		start := num * blockSize
		end := start + blockSize
		more := end < len(data)
		if end > len(data) {
			end = len(data)
		}
		chunk := data[start:end]

		if err := c.sendBlockWithRetry(ctx, num, more, chunk); err != nil {
			return sent, err
		}
		sent += len(chunk)
		if !more {
			return sent, nil
		}
	}
}

func (c *Client) sendBlockWithRetry(ctx context.Context, num int, more bool, chunk []byte) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = c.sendBlockOnce(ctx, num, more, chunk)
		if err == nil {
			return nil
		}
		log.Info.Printf("coap: block %d attempt %d failed: %v", num, attempt, err)
		if c.cfg.Retry == nil {
			return err
		}
		if werr := retry.Wait(ctx, c.cfg.Retry, attempt); werr != nil {
			return werr
		}
	}
}

func (c *Client) sendBlockOnce(ctx context.Context, num int, more bool, chunk []byte) error {
	req := &Message{
		Type:      Confirmable,
		Code:      CodePUT,
		MessageID: uint16(atomic.AddUint32(&c.mid, 1)),
		Token:     []byte{byte(num), byte(num >> 8)},
	}
	for _, seg := range c.cfg.Path {
		req.Options = append(req.Options, Option{Number: OptionUriPath, Value: []byte(seg)})
	}
	req.Options = append(req.Options, Option{
		Number: OptionContentFormat,
		Value:  encodeUintOption(ContentFormatSenMLCBOR),
	})
	req.Options = append(req.Options, Option{
		Number: OptionBlock1,
		Value:  EncodeBlockOption(BlockOption{Num: uint32(num), More: more, SZX: c.cfg.BlockSZX}),
	})
	req.Payload = chunk

	buf, err := Encode(req)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(deadline)
	} else {
		c.conn.SetDeadline(time.Now().Add(c.cfg.Timeout))
	}
	if _, err := c.conn.WriteTo(buf, c.raddr); err != nil {
		return errors.E(errors.Net, err)
	}

	respBuf := make([]byte, 2048)
	n, _, err := c.conn.ReadFrom(respBuf)
	if err != nil {
		return errors.E(errors.Net, err)
	}
	resp, err := Decode(respBuf[:n])
	if err != nil {
		return err
	}
	wantCode := CodeContinue
	if !more {
		wantCode = CodeChanged
	}
	if resp.Code != wantCode {
		return errors.E(errors.Net, "coap: unexpected response code")
	}
	return nil
}

// encodeUintOption renders n as a CoAP uint option value: the shortest
// big-endian byte string with no leading zero byte (the empty string
// for zero).
func encodeUintOption(n uint32) []byte {
	var b []byte
	for shift := 24; shift >= 0; shift -= 8 {
		byt := byte(n >> shift)
		if len(b) > 0 || byt != 0 {
			b = append(b, byt)
		}
	}
	return b
}

// JoinPath splits a "/"-separated resource path into Config.Path
// segments, mirroring the convention the corpus's other URL-handling
// code (file.ParsePath) uses for its own path segmentation.
func JoinPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
