// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package publisher implements the outbound network leg of the
// pipeline, spec §4.G's single shared worker: jobs queue up FIFO behind
// one goroutine that retries each send against NetSender according to a
// retry.Policy before giving up. It is grounded on the teacher's
// retry.Wait and limiter.Limiter, the latter used here with a capacity
// of one to model "exactly one send is ever in flight", matching the
// single-worker-thread design the teacher's own worker pools favor for
// ordered, rate-limited dispatch.
package publisher

import (
	"context"
	"sync"

	"github.com/derMihai/condalf-core/errors"
	"github.com/derMihai/condalf-core/limiter"
	"github.com/derMihai/condalf-core/log"
	"github.com/derMihai/condalf-core/retry"
	"github.com/derMihai/condalf-core/transfer"
)

// NetSender performs the actual network transmission of a job's file
// contents, returning the number of bytes sent. It is the seam a real
// CoAP (or any other) transport implements.
type NetSender interface {
	NetSend(ctx context.Context, job *transfer.Job) (int, error)
}

// Config configures a Publisher.
type Config struct {
	// QueueSize bounds the number of jobs TrySend may have outstanding
	// before it reports errors.QueueFull.
	QueueSize int
	// Retry is the policy governing how many times, and with what
	// backoff, a failed send is retried before the job fails for good.
	// A nil Retry performs no retries.
	Retry retry.Policy
}

// Publisher implements transfer.Driver over a NetSender, funneling every
// job through a single worker goroutine.
type Publisher struct {
	sender NetSender
	retry  retry.Policy
	sem    limiter.LimiterIfc

	jobs chan *transfer.Job
	done chan struct{}

	mu       sync.Mutex
	cond     *sync.Cond
	inFlight int
	deleted  bool

	stats Stats
}

// Stats is a snapshot of a Publisher's lifetime counters, Supplemented
// Feature #3's status surface for this package.
type Stats struct {
	Sent     uint64
	Failed   uint64
	Retries  uint64
	InFlight int
}

// New constructs a Publisher sending through sender.
func New(cfg Config, sender NetSender) *Publisher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	p := &Publisher{
		sender: sender,
		retry:  cfg.Retry,
		sem:    limiter.New(),
		jobs:   make(chan *transfer.Job, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	p.sem.Release(1)
	go p.run()
	return p
}

// TrySend enqueues job without blocking, returning errors.QueueFull if
// the queue is already at capacity.
func (p *Publisher) TrySend(job *transfer.Job) error {
	p.mu.Lock()
	if p.deleted {
		p.mu.Unlock()
		return errors.E(errors.Unavailable, "publisher: deleted")
	}
	p.inFlight++
	p.mu.Unlock()

	select {
	case p.jobs <- job:
		return nil
	default:
		p.mu.Lock()
		p.inFlight--
		p.cond.Broadcast()
		p.mu.Unlock()
		return errors.E(errors.QueueFull, "publisher: send queue full")
	}
}

// Send enqueues job, blocking until there is room or ctx is done.
func (p *Publisher) Send(ctx context.Context, job *transfer.Job) error {
	p.mu.Lock()
	if p.deleted {
		p.mu.Unlock()
		return errors.E(errors.Unavailable, "publisher: deleted")
	}
	p.inFlight++
	p.mu.Unlock()

	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		p.mu.Lock()
		p.inFlight--
		p.cond.Broadcast()
		p.mu.Unlock()
		return ctx.Err()
	}
}

// TryRecv and Recv are not meaningful for an outbound-only publisher.
func (p *Publisher) TryRecv(job *transfer.Job) error             { return transfer.NotSupported("try_recv") }
func (p *Publisher) Recv(ctx context.Context, job *transfer.Job) error { return transfer.NotSupported("recv") }

// Delete stops accepting new jobs and blocks until every already
// enqueued job has completed.
func (p *Publisher) Delete() {
	p.mu.Lock()
	if p.deleted {
		p.mu.Unlock()
		return
	}
	p.deleted = true
	for p.inFlight > 0 {
		p.cond.Wait()
	}
	p.mu.Unlock()
	close(p.done)
}

// Stats returns a snapshot of the Publisher's counters.
func (p *Publisher) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.InFlight = p.inFlight
	return s
}

func (p *Publisher) run() {
	for {
		select {
		case job := <-p.jobs:
			p.sendWithRetry(job)
		case <-p.done:
			return
		}
	}
}

// sendWithRetry drains a single job through the sender, retrying on
// failure per the configured policy, and always completing the job
// exactly once.
func (p *Publisher) sendWithRetry(job *transfer.Job) {
	defer func() {
		p.mu.Lock()
		p.inFlight--
		p.cond.Broadcast()
		p.mu.Unlock()
	}()

	ctx := context.Background()
	if err := p.sem.Acquire(ctx, 1); err != nil {
		job.Complete(0, err)
		return
	}
	defer p.sem.Release(1)

	var n int
	var err error
	for retries := 0; ; retries++ {
		n, err = p.sender.NetSend(ctx, job)
		if err == nil {
			break
		}
		log.Info.Printf("publisher: send attempt %d failed: %v", retries, err)
		if p.retry == nil {
			break
		}
		p.mu.Lock()
		p.stats.Retries++
		p.mu.Unlock()
		if werr := retry.Wait(ctx, p.retry, retries); werr != nil {
			err = werr
			break
		}
	}

	p.mu.Lock()
	if err == nil {
		p.stats.Sent++
	} else {
		p.stats.Failed++
	}
	p.mu.Unlock()

	job.Complete(n, err)
}
