// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package ltb

import (
	"context"
	"fmt"

	"github.com/derMihai/condalf-core/errors"
	"github.com/derMihai/condalf-core/file"
	"github.com/derMihai/condalf-core/log"
	"github.com/derMihai/condalf-core/pool"
	"github.com/derMihai/condalf-core/transfer"
)

// InstanceConfig configures an Instance. The publish threshold and its
// optional external gate are subsystem-wide (Config.NBFilesLim,
// Config.ExtCond), not per-instance: see spec §4.F.
type InstanceConfig struct {
	// Dir is the pool directory this instance buffers into.
	Dir string
	// Sender is the driver a publish pass drains pooled files through.
	Sender transfer.Driver
}

// Instance is one long-term-buffered data stream: incoming buffers are
// pooled to disk under Dir, and drained through Sender once the
// subsystem's file-count threshold is reached. Instance implements
// transfer.Driver so it can sit directly behind a logger.Logger.
type Instance struct {
	sub *Subsystem
	id  uint32
	cfg InstanceConfig

	// poolSize is worker-owned: every read and write happens inside a
	// closure dispatched to the subsystem's worker goroutine.
	poolSize int
}

// CreateInstance registers a new Instance with the subsystem, seeding
// its pool-size bookkeeping from whatever is already on disk under
// cfg.Dir.
func (s *Subsystem) CreateInstance(ctx context.Context, cfg InstanceConfig) (*Instance, error) {
	n, err := pool.Size(ctx, cfg.Dir)
	if err != nil {
		return nil, err
	}
	inst := &Instance{sub: s, cfg: cfg, poolSize: n}
	s.dispatchSync(func() {
		s.nextID++
		inst.id = s.nextID
		s.instances[inst.id] = inst
		s.order = append(s.order, inst.id)
		s.counter += n
	})
	return inst, nil
}

// Close unregisters inst from its subsystem. It does not wait for any
// publish pass already in progress to finish; callers that need that
// guarantee should drain the pool themselves before calling Close.
func (inst *Instance) Close(ctx context.Context) error {
	inst.sub.dispatchSync(func() {
		delete(inst.sub.instances, inst.id)
		for i, id := range inst.sub.order {
			if id == inst.id {
				inst.sub.order = append(inst.sub.order[:i], inst.sub.order[i+1:]...)
				break
			}
		}
		inst.sub.counter -= inst.poolSize
	})
	return nil
}

// Delete implements transfer.Driver's shutdown operation. It is a
// best-effort wrapper around Close for callers that only hold inst
// through the Driver interface.
func (inst *Instance) Delete() {
	if err := inst.Close(context.Background()); err != nil {
		log.Error.Printf("ltb: instance close failed: %v", err)
	}
}

// TrySend pools job's data to disk and returns immediately; the
// resulting bookkeeping update (and any publish pass it triggers) is
// dispatched to the subsystem's worker asynchronously. TrySend reports
// errors.WouldBlock if the worker's dispatch queue is already full.
func (inst *Instance) TrySend(job *transfer.Job) error {
	n, err := inst.ingest(context.Background(), job)
	job.Complete(n, err)
	if err != nil {
		return nil
	}
	return inst.sub.dispatchAsync(func() {
		inst.poolSize++
		inst.sub.counter++
		inst.sub.updatePublishCondition()
	})
}

// Send is TrySend's blocking counterpart: the bookkeeping update runs
// synchronously on the worker before Send returns.
func (inst *Instance) Send(ctx context.Context, job *transfer.Job) error {
	n, err := inst.ingest(ctx, job)
	job.Complete(n, err)
	if err != nil {
		return err
	}
	inst.sub.dispatchSync(func() {
		inst.poolSize++
		inst.sub.counter++
		inst.sub.updatePublishCondition()
	})
	return nil
}

// TryRecv and Recv are not meaningful for a pooling instance.
func (inst *Instance) TryRecv(job *transfer.Job) error { return transfer.NotSupported("try_recv") }
func (inst *Instance) Recv(ctx context.Context, job *transfer.Job) error {
	return transfer.NotSupported("recv")
}

// ingest copies job's data into a freshly pooled file under cfg.Dir via
// file.Copy, the teacher's context-aware io.Copy. The disk write itself
// happens on the calling goroutine, matching the teacher's
// localfile.Create's synchronous-but-fast write path; only the
// instance's shared counters are dispatched to the worker.
func (inst *Instance) ingest(ctx context.Context, job *transfer.Job) (int, error) {
	tmpPath := file.Join(inst.cfg.Dir, fmt.Sprintf(".ingest-%p", job))
	f, err := file.Create(ctx, tmpPath)
	if err != nil {
		return 0, err
	}
	n, err := file.Copy(ctx, f.Writer(ctx), job.File)
	if err != nil {
		f.Discard(ctx)
		return 0, errors.E(errors.Invalid, err)
	}
	if err := f.Close(ctx); err != nil {
		return 0, err
	}
	if _, err := pool.MoveFile(ctx, inst.cfg.Dir, tmpPath); err != nil {
		return 0, err
	}
	return int(n), nil
}

// sendOne drains the single pool file at path through inst's sender,
// removing it from disk on success and updating the worker-owned
// counters.
func (s *Subsystem) sendOne(ctx context.Context, inst *Instance, path string) error {
	f, err := file.Open(ctx, path)
	if err != nil {
		return err
	}

	job := transfer.NewJob(f.Reader(ctx), nil)
	sendErr := inst.cfg.Sender.Send(ctx, job)
	if sendErr != nil {
		// Send failed before enqueuing the job, so job.Complete is never
		// called: waiting on it here would block forever.
		f.Close(ctx) // nolint: errcheck
		return sendErr
	}
	_, waitErr := job.Wait(ctx)
	closeErr := f.Close(ctx)

	if waitErr != nil {
		return waitErr
	}
	if closeErr != nil {
		return closeErr
	}
	if err := file.Remove(ctx, path); err != nil {
		return err
	}

	s.dispatchSync(func() {
		inst.poolSize--
		s.counter--
	})
	return nil
}
