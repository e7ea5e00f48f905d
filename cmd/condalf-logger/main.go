// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Command condalf-logger is a runnable demonstration of the pipeline
// the rest of this module implements: it wires a logger.Logger in
// front of an ltb.Instance (the long-term-buffering pool), which in
// turn drains through a publisher.Publisher speaking CoAP to a remote
// resource. It mirrors the teacher's convention of one cmd/<tool>
// directory per capability (cmd/grail-file in the teacher tree).
//
// In place of real sensor hardware, a synthetic generator emits one
// record.Record per tick: a sawtooth "temp" reading in degrees Celsius.
// SIGINT/SIGTERM trigger an orderly flush and shutdown of every
// component in reverse wiring order.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/derMihai/condalf-core/coap"
	"github.com/derMihai/condalf-core/log"
	"github.com/derMihai/condalf-core/logger"
	"github.com/derMihai/condalf-core/ltb"
	"github.com/derMihai/condalf-core/publisher"
	"github.com/derMihai/condalf-core/record"
	"github.com/derMihai/condalf-core/retry"
)

func main() {
	var (
		addr      = flag.String("addr", "127.0.0.1:5683", "CoAP server host:port")
		path      = flag.String("path", "/senml", "CoAP resource path")
		blockSZX  = flag.Uint("block-szx", 6, "CoAP Block1 size exponent (0-6)")
		poolDir   = flag.String("pool-dir", "", "LTB pool directory (buffering disabled if empty)")
		poolLimit = flag.Int("pool-limit", 8, "pool file count that triggers a publish pass")
		bufSize   = flag.Int("buf-size", 1024, "encoding buffer size, bytes")
		queueSize = flag.Int("queue-size", 16, "record staging queue size (power of two)")
		base      = flag.String("base", "", "SenML base name prefix")
		interval  = flag.Duration("interval", time.Second, "interval between synthetic readings")
		count     = flag.Int("count", 0, "number of readings to emit before exiting (0 = run until signaled)")
	)
	flag.Parse()

	cfg := runConfig{
		addr:      *addr,
		path:      *path,
		blockSZX:  uint8(*blockSZX),
		poolDir:   *poolDir,
		poolLimit: *poolLimit,
		bufSize:   *bufSize,
		queueSize: *queueSize,
		base:      *base,
		interval:  *interval,
		count:     *count,
	}
	if err := run(cfg); err != nil {
		log.Error.Printf("condalf-logger: %v", err)
		os.Exit(1)
	}
}

type runConfig struct {
	addr      string
	path      string
	blockSZX  uint8
	poolDir   string
	poolLimit int
	bufSize   int
	queueSize int
	base      string
	interval  time.Duration
	count     int
}

func run(cfg runConfig) error {
	client, err := coap.Dial(coap.Config{
		Addr:     cfg.addr,
		Path:     coap.JoinPath(cfg.path),
		BlockSZX: cfg.blockSZX,
		Retry:    retry.MaxRetries(retry.Jitter(retry.Backoff(200*time.Millisecond, 2*time.Second, 2), 0.25), 5),
		Timeout:  5 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("dial coap: %w", err)
	}
	defer client.Close()

	pub := publisher.New(publisher.Config{
		QueueSize: 8,
		Retry:     retry.MaxRetries(retry.Backoff(100*time.Millisecond, time.Second, 2), 3),
	}, client)
	defer pub.Delete()

	sub := ltb.New(ltb.Config{QueueDepth: 16, NBFilesLim: cfg.poolLimit})
	defer sub.Close()

	ctx := context.Background()
	var lg *logger.Logger
	if cfg.poolDir != "" {
		var inst *ltb.Instance
		inst, err = sub.CreateInstance(ctx, ltb.InstanceConfig{
			Dir:    cfg.poolDir,
			Sender: pub,
		})
		if err != nil {
			return fmt.Errorf("create ltb instance: %w", err)
		}
		defer inst.Close(ctx)

		lg, err = logger.New(logger.Config{
			EncodingBufSize: cfg.bufSize,
			RecordQueueSize: cfg.queueSize,
			Base:            cfg.base,
		}, inst)
	} else {
		lg, err = logger.New(logger.Config{
			EncodingBufSize: cfg.bufSize,
			RecordQueueSize: cfg.queueSize,
			Base:            cfg.base,
		}, pub)
	}
	if err != nil {
		return fmt.Errorf("new logger: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.interval)
	defer ticker.Stop()

	gen := newSawtoothGenerator()
	for emitted := 0; cfg.count == 0 || emitted < cfg.count; emitted++ {
		select {
		case <-sigCh:
			log.Info.Print("condalf-logger: shutting down")
			return lg.Close()
		case <-ticker.C:
			rec := gen.next()
			if err := lg.Put(&rec); err != nil {
				log.Error.Printf("condalf-logger: put failed: %v", err)
			}
		}
	}
	return lg.Close()
}

// sawtoothGenerator stands in for a real sensor: it produces a
// "temp" reading in degrees Celsius that ramps from 0 to 39 and wraps.
type sawtoothGenerator struct {
	n int32
}

func newSawtoothGenerator() *sawtoothGenerator { return &sawtoothGenerator{} }

func (g *sawtoothGenerator) next() record.Record {
	now := time.Now()
	val := g.n % 40
	g.n++
	return record.Record{
		Name: "temp",
		Sec:  uint32(now.Unix()),
		Usec: uint32(now.Nanosecond() / 1000),
		Unit: record.UnitCelsius,
		Kind: record.Int32,
		I32:  val,
	}
}
