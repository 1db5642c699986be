package main

import (
	"flag"
	"fmt"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jnesss/event-recorder/config"
	"github.com/jnesss/event-recorder/platform"
	"github.com/jnesss/event-recorder/record"
	"github.com/jnesss/event-recorder/ring"
	"github.com/jnesss/event-recorder/server"
	"github.com/jnesss/event-recorder/workload"
)

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	listen := fs.String("listen", "", "address of the record server")
	period := fs.Duration("period", 0, "drain period")
	processors := fs.Int("processors", 0, "number of processors")
	items := fs.Int("items", 0, "items per processor, a power of two")
	format := fs.String("format", "", "stream format: 32le, 64le, 32be or 64be")
	threads := fs.Int("threads", -1, "initial worker threads")
	fs.Parse(args)

	cfg, err := common.load(fs, func(cfg *config.Config, name string) {
		switch name {
		case "listen":
			cfg.Server.Listen = *listen
		case "period":
			cfg.Server.Period = *period
		case "processors":
			cfg.Recorder.Processors = *processors
		case "items":
			cfg.Recorder.ItemsPerCPU = *items
		case "format":
			cfg.Recorder.Format = *format
		case "threads":
			cfg.Workload.Threads = *threads
		}
	})
	if err != nil {
		return err
	}

	rec, err := newRecorder(cfg)
	if err != nil {
		return err
	}

	gen := workload.NewGenerator(rec, workload.NewThreadMap(), cfg.Workload.Interval)
	gen.Adopt(workload.HostThreads())
	for i := 0; i < cfg.Workload.Threads; i++ {
		gen.Spawn(fmt.Sprintf("TASK/%d", i), uint32(i%rec.Processors()))
	}

	srv, err := server.New(rec, server.Options{
		Listen:   cfg.Server.Listen,
		Period:   cfg.Server.Period,
		Format:   cfg.StreamFormat(),
		Info:     record.HostInfo(rec.DataBytes()),
		Snapshot: gen.Snapshot,
	})
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"processors": rec.Processors(),
		"items":      rec.ItemCount(),
		"format":     cfg.StreamFormat(),
		"frequency":  rec.Frequency(),
	}).Info("Recorder ready")

	ctx, stop := signalContext()
	defer stop()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := gen.Start(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})
	g.Go(func() error {
		return srv.Serve(ctx)
	})
	err = g.Wait()
	log.Info("Shutting down")
	return err
}

// newRecorder creates a recorder with one record buffer per processor,
// driven by the host clock.
func newRecorder(cfg *config.Config) (*record.Recorder, error) {
	smp := cfg.Recorder.Processors > 1
	controls := make([]*ring.Control, cfg.Recorder.Processors)
	for i := range controls {
		c, err := ring.New(cfg.Recorder.ItemsPerCPU, smp)
		if err != nil {
			return nil, err
		}
		controls[i] = c
	}
	clock := platform.NewHostClock(cfg.Recorder.Frequency)
	return record.New(record.Configuration{
		Controls:  controls,
		Counter:   clock,
		Clock:     clock,
		DataBytes: cfg.DataBytes(),
	})
}
