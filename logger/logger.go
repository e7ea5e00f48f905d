// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package logger implements the ingress half of the pipeline spec §4.D
// describes: callers Put one record.Record at a time, the package packs
// them into CBOR/SenML buffers via serializer.Serializer, and hands each
// finished buffer off to a transfer.Driver wrapped in a vfile.File. It
// follows the double-buffer swap-under-lock shape of an async logger
// with exactly two buffers in flight: the one the serializer is
// currently filling, and the one a prior buffer's dispatch may still be
// reading — Put never reuses the latter until its transfer completes.
package logger

import (
	"context"
	"sync"

	"github.com/derMihai/condalf-core/errors"
	"github.com/derMihai/condalf-core/log"
	"github.com/derMihai/condalf-core/record"
	"github.com/derMihai/condalf-core/serializer"
	"github.com/derMihai/condalf-core/transfer"
	"github.com/derMihai/condalf-core/vfile"
)

// Config configures a Logger.
type Config struct {
	// EncodingBufSize is the size, in bytes, of each CBOR/SenML buffer.
	EncodingBufSize int
	// RecordQueueSize is the number of records the Logger may stage ahead
	// of the buffer currently being filled. Must be a positive power of
	// two.
	RecordQueueSize int
	// Base is an optional SenML base name prefix applied to every record.
	Base string
}

// Logger packs records into SenML buffers and dispatches each finished
// buffer to a transfer.Driver. A Logger is safe for concurrent use.
type Logger struct {
	mu      sync.Mutex
	ser     *serializer.Serializer
	spare   []byte
	driver  transfer.Driver
	pending *transfer.Job
	closed  bool
}

// New constructs a Logger writing through driver.
func New(cfg Config, driver transfer.Driver) (*Logger, error) {
	if cfg.EncodingBufSize <= 0 {
		return nil, errors.E(errors.Invalid, "logger: encoding buffer size must be positive")
	}
	buf := make([]byte, cfg.EncodingBufSize)
	ser, err := serializer.New(buf, cfg.RecordQueueSize, cfg.Base)
	if err != nil {
		return nil, err
	}
	return &Logger{
		ser:    ser,
		spare:  make([]byte, cfg.EncodingBufSize),
		driver: driver,
	}, nil
}

// Put stages rec for encoding, flushing and dispatching a full buffer as
// many times as necessary to make room. On success rec's owned data (if
// any) has been taken and rec must not be reused; on error rec is
// untouched and remains the caller's to free.
func (l *Logger) Put(rec *record.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errors.E(errors.Invalid, "logger: put after close")
	}
	return l.put(rec)
}

func (l *Logger) put(rec *record.Record) error {
	err := l.ser.Put(*rec)
	switch {
	case err == nil:
		takeOwnership(rec)
		return nil
	case errors.Is(errors.MustSwap, err):
		takeOwnership(rec)
		return l.flushLocked()
	case errors.Is(errors.QueueFull, err):
		if ferr := l.flushLocked(); ferr != nil {
			return ferr
		}
		return l.put(rec)
	default:
		return err
	}
}

// takeOwnership clears rec's owned data once the serializer's ring has
// taken it, mirroring record.Move without needing a destination record.
func takeOwnership(rec *record.Record) {
	if rec.Kind == record.String {
		rec.Str = ""
	}
}

// flushLocked swaps out the current buffer and dispatches it, looping as
// long as the serializer reports more records than the fresh buffer can
// hold.
func (l *Logger) flushLocked() error {
	for {
		_, err := l.swapOnce()
		if err == nil {
			return nil
		}
		if errors.Is(errors.MustSwap, err) {
			continue
		}
		return err
	}
}

// swapOnce waits for any previously dispatched buffer to finish (so the
// serializer never writes into memory a driver may still be reading),
// then swaps and dispatches the newly finished buffer, if any.
func (l *Logger) swapOnce() (int, error) {
	if l.pending != nil {
		l.pending.Wait(context.Background())
		l.pending = nil
	}
	n, err := l.ser.Swap(&l.spare)
	if n > 0 {
		l.dispatch(l.spare[:n])
	}
	return n, err
}

// dispatch hands buf to the driver through the non-blocking try-send
// path only, per spec §4.D: the hand-off must never block on I/O. If
// the driver cannot accept the job immediately, the allocated file
// descriptor and job are released and the buffer is dropped, rather
// than falling back to a blocking send.
func (l *Logger) dispatch(buf []byte) {
	f := vfile.NewWithData(buf, len(buf))
	job := transfer.NewJob(f, nil)
	job.OwnsFile = true

	if err := l.driver.TrySend(job); err != nil {
		log.Error.Printf("logger: try-send rejected, dropping buffer: %v", err)
		job.Complete(0, err)
		return
	}
	l.pending = job
}

// Close flushes any remaining staged records, waits for the last
// dispatched buffer to complete, and permanently disables the Logger.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	err := l.flushLocked()
	if l.pending != nil {
		l.pending.Wait(context.Background())
		l.pending = nil
	}
	_, _ = l.ser.Swap(nil)
	l.closed = true
	return err
}
