// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package transfer defines the capability contract shared by every
// outbound driver in the pipeline — a publisher.Publisher and an
// ltb.Instance both implement Driver — plus the Job type that flows
// through it. It plays the role of the teacher's file.Implementation
// polymorphic-capability pattern (file/implementation.go), narrowed to
// the five operations spec §4.H names: try_send, send, try_recv, recv,
// delete.
package transfer

import (
	"context"
	"io"

	"github.com/derMihai/condalf-core/errors"
	"github.com/derMihai/condalf-core/sync/once"
)

// Driver is the capability set a transfer destination exposes. Trysend
// and tryrecv are non-blocking and report errors.WouldBlock (or
// errors.QueueFull) when they cannot be enqueued immediately; send and
// recv block the caller until the operation completes or ctx is done.
// Delete releases any resources the driver holds, blocking until
// in-flight work has drained.
type Driver interface {
	TrySend(job *Job) error
	Send(ctx context.Context, job *Job) error
	TryRecv(job *Job) error
	Recv(ctx context.Context, job *Job) error
	Delete()
}

// CompletionFunc is invoked exactly once when a Job finishes, with the
// number of bytes transferred and the terminal error, if any.
type CompletionFunc func(n int, err error)

// Job is a transfer unit: a file descriptor (anything a driver can Read
// and Seek, per spec §3's "Transfer job"), optional driver-private data,
// and an exactly-once completion callback.
//
// If OwnsFile is true, Complete closes File (if it implements io.Closer)
// once the callback has run — this is the "single-use in-memory file
// descriptor" spec §4.D describes for the logger's buffer hand-off.
// Drivers that open their own read-only file (e.g. the LTB publish pass)
// leave OwnsFile false and close the file themselves.
type Job struct {
	File     io.ReadSeeker
	Private  interface{}
	OwnsFile bool

	cb   CompletionFunc
	once once.Task
	done chan struct{}
	n    int
	err  error
}

// NewJob constructs a Job around f with an optional completion callback.
func NewJob(f io.ReadSeeker, cb CompletionFunc) *Job {
	return &Job{File: f, cb: cb, done: make(chan struct{})}
}

// Complete runs exactly once: it records the result, invokes the
// callback (if any), closes File if OwnsFile is set, and unblocks any
// Wait call. Later calls are no-ops, matching spec §4.H's "invoked
// exactly once" contract.
func (j *Job) Complete(n int, err error) {
	j.once.Do(func() error {
		j.n, j.err = n, err
		if j.cb != nil {
			j.cb(n, err)
		}
		if j.OwnsFile {
			if c, ok := j.File.(io.Closer); ok {
				_ = c.Close()
			}
		}
		close(j.done)
		return nil
	})
}

// Wait blocks until Complete has run (by any caller) or ctx is done,
// returning the completion result.
func (j *Job) Wait(ctx context.Context) (int, error) {
	select {
	case <-j.done:
		return j.n, j.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// NotSupported is a convenience error for Driver methods a given
// implementation does not offer (spec §7's not-implemented kind).
func NotSupported(op string) error {
	return errors.E(errors.NotSupported, "transfer: "+op+" not supported by this driver")
}
