// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package ltb implements the long-term-buffering subsystem spec §4.F
// describes: each Instance pools incoming buffers to disk (via the
// pool package) and, once the subsystem-wide file count across all
// instances reaches Config.NBFilesLim, pooled files are drained out
// through each instance's transfer.Driver in oldest-first order.
//
// Every instance's bookkeeping (pool size, publish-in-progress state)
// is owned exclusively by one worker goroutine, so the subsystem needs
// no further locking: the pattern is the teacher's sync/workerpool.go
// narrowed to a single worker, with sync/workerpool/limiter.go's
// channel-based counting semaphore giving asynchronous dispatch genuine
// non-blocking "would block" semantics distinct from the dispatch
// channel's own depth.
package ltb

import (
	"context"
	"sync"

	"github.com/derMihai/condalf-core/errors"
	"github.com/derMihai/condalf-core/log"
	"github.com/derMihai/condalf-core/pool"
	"github.com/derMihai/condalf-core/sync/workerpool"
)

// Config configures a Subsystem.
type Config struct {
	// QueueDepth bounds how many asynchronous dispatches may be
	// outstanding with the worker at once before TrySend reports
	// errors.WouldBlock. Defaults to 16.
	QueueDepth int
	// NBFilesLim is the subsystem-wide pool file count that triggers a
	// publish pass: once the sum of every registered instance's pool
	// size reaches NBFilesLim, the subsystem drains instances in
	// registration order until none has both a sender and a pooled
	// file.
	NBFilesLim int
	// ExtCond is an optional extra gate on publishing; see ExtCondFunc.
	ExtCond ExtCondFunc
}

type call struct {
	fn   func()
	done chan struct{}
}

// Subsystem coordinates every Instance registered with it. It must be
// stopped with Close once no longer needed.
type Subsystem struct {
	queue    chan call
	inflight workerpool.Limiter
	closeCh  chan struct{}
	wg       sync.WaitGroup
	cfg      Config

	// Worker-owned only: no other goroutine may read or write these.
	instances  map[uint32]*Instance
	order      []uint32 // registration order, oldest first
	nextID     uint32
	counter    int
	publishing bool
}

// New starts a Subsystem's worker goroutine.
func New(cfg Config) *Subsystem {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 16
	}
	s := &Subsystem{
		queue:     make(chan call),
		inflight:  workerpool.NewLimiter(cfg.QueueDepth),
		closeCh:   make(chan struct{}),
		cfg:       cfg,
		instances: make(map[uint32]*Instance),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *Subsystem) run() {
	defer s.wg.Done()
	for {
		select {
		case c := <-s.queue:
			c.fn()
			if c.done != nil {
				close(c.done)
			}
		case <-s.closeCh:
			return
		}
	}
}

// dispatchSync runs fn on the worker goroutine and blocks until it has
// finished.
func (s *Subsystem) dispatchSync(fn func()) {
	done := make(chan struct{})
	select {
	case s.queue <- call{fn: fn, done: done}:
		<-done
	case <-s.closeCh:
	}
}

// dispatchAsync enqueues fn to run on the worker without blocking the
// caller. It reports errors.WouldBlock if QueueDepth dispatches are
// already outstanding.
func (s *Subsystem) dispatchAsync(fn func()) error {
	select {
	case s.inflight <- 1:
	default:
		return errors.E(errors.WouldBlock, "ltb: dispatch queue full")
	}
	go func() {
		defer s.inflight.Release()
		done := make(chan struct{})
		select {
		case s.queue <- call{fn: fn, done: done}:
			<-done
		case <-s.closeCh:
		}
	}()
	return nil
}

// Counter returns the sum of pool sizes across every instance currently
// registered with the subsystem — the invariant spec §8 describes as
// holding after any sequence of create/delete/try_send/publish
// operations quiesces.
func (s *Subsystem) Counter() int {
	var n int
	s.dispatchSync(func() { n = s.counter })
	return n
}

// Close stops the worker goroutine. Outstanding publish passes are not
// interrupted; their final bookkeeping dispatch becomes a no-op once the
// worker has stopped.
func (s *Subsystem) Close() {
	close(s.closeCh)
	s.wg.Wait()
}

// ExtCondFunc is an additional, caller-supplied gate on whether the
// subsystem may start a publish pass, alongside the subsystem-wide
// file-count threshold. A nil ExtCondFunc always permits publishing.
type ExtCondFunc func() bool

// updatePublishCondition checks, on the worker goroutine, whether the
// subsystem as a whole has crossed its publish threshold and starts a
// publish pass if so. The gate is the one spec §4.F describes:
// counter >= NBFilesLim AND (ExtCond == nil || ExtCond()).
func (s *Subsystem) updatePublishCondition() {
	if s.publishing {
		return
	}
	if s.counter < s.cfg.NBFilesLim {
		return
	}
	if s.cfg.ExtCond != nil && !s.cfg.ExtCond() {
		return
	}
	s.publishing = true
	go s.publishPass()
}

// ForcePublish requests an immediate subsystem-wide publish pass,
// regardless of the threshold, as long as one is not already running.
// If a pass is already in progress, cb is invoked immediately with
// errors.Unavailable instead of being queued behind it.
func (s *Subsystem) ForcePublish(cb func(err error)) {
	s.dispatchSync(func() {
		if s.publishing {
			if cb != nil {
				go cb(errors.E(errors.Unavailable, "ltb: publish already in progress"))
			}
			return
		}
		s.publishing = true
		go func() {
			s.publishPass()
			if cb != nil {
				cb(nil)
			}
		}()
	})
}

// nextPublishCandidate returns, in registration order, the first
// instance that has both a sender and at least one pooled file.
func (s *Subsystem) nextPublishCandidate() (*Instance, bool) {
	var found *Instance
	s.dispatchSync(func() {
		for _, id := range s.order {
			inst := s.instances[id]
			if inst.cfg.Sender != nil && inst.poolSize > 0 {
				found = inst
				return
			}
		}
	})
	return found, found != nil
}

// publishPass walks every registered instance in registration order,
// draining each one's pool in oldest-first order through its sender,
// until no instance has both a sender and a pooled file left. It runs
// on its own goroutine so slow network I/O never stalls the worker or
// other instances.
func (s *Subsystem) publishPass() {
	ctx := context.Background()
	defer s.dispatchSync(func() { s.publishing = false })

	pathBuf := make([]byte, 4096)
	for {
		inst, ok := s.nextPublishCandidate()
		if !ok {
			return
		}
		n, err := pool.GetOldest(ctx, inst.cfg.Dir, pathBuf)
		if errors.Is(errors.NotExist, err) {
			// Pool emptied concurrently (e.g. by Close); re-check
			// the other instances instead of treating this as done.
			continue
		}
		if err != nil {
			log.Error.Printf("ltb: instance %d: get-oldest failed: %v", inst.id, err)
			return
		}
		path := string(pathBuf[:n])
		if err := s.sendOne(ctx, inst, path); err != nil {
			log.Error.Printf("ltb: instance %d: publish of %s failed: %v", inst.id, path, err)
			return
		}
	}
}
