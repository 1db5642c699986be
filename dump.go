package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/jnesss/event-recorder/client"
	"github.com/jnesss/event-recorder/config"
	"github.com/jnesss/event-recorder/database"
	"github.com/jnesss/event-recorder/names"
	"github.com/jnesss/event-recorder/sigma"
	"github.com/jnesss/event-recorder/types"
)

// Events are stored in transactions of this many records.
const storeBatch = 256

func runDump(args []string) error {
	fs := flag.NewFlagSet("dump", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	source := fs.String("source", "", "server address, or a file holding a stream (- for stdin)")
	store := fs.Bool("store", false, "store events in the data directory")
	detect := fs.Bool("detect", false, "run the Sigma rules against stored events, implies -store")
	fs.Parse(args)

	cfg, err := common.load(fs, func(cfg *config.Config, name string) {
		switch name {
		case "source":
			cfg.Dump.Source = *source
		case "store":
			cfg.Dump.Store = *store
		case "detect":
			cfg.Dump.Detect = *detect
		}
	})
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	src, err := openSource(ctx, cfg.Dump.Source)
	if err != nil {
		return err
	}
	defer src.Close()

	var db *database.DB
	if cfg.Dump.Stores() {
		if err := dropPrivileges(); err != nil {
			log.WithError(err).Warn("Failed to drop privileges")
		}
		db, err = database.NewDB(cfg.DataDir)
		if err != nil {
			return err
		}
		defer db.Close()

		if cfg.Dump.Detect {
			detector, err := sigma.NewDetector(cfg.RulesDir, db.Db)
			if err != nil {
				return err
			}
			defer detector.StopPolling()
			go func() {
				if err := detector.StartPolling(ctx, cfg.Web.PollInterval); err != nil {
					log.WithError(err).Error("Sigma detection failed")
				}
			}()
		}
	}

	cache, err := names.NewCache(cfg.Dump.NameCacheSize, 8)
	if err != nil {
		return err
	}

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()
	d := newDumper(out, cache, db,
		client.WithHoldBackReallocationLimit(cfg.Dump.HoldBackLimit),
		client.WithMemoryBudget(cfg.Dump.MemoryBudget))

	// Closing the source unblocks a pending read.
	go func() {
		<-ctx.Done()
		src.Close()
	}()
	err = d.run(src)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// openSource opens a stream file, stdin for "-", or else connects to a
// record server.
func openSource(ctx context.Context, source string) (io.ReadCloser, error) {
	if source == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	if fi, err := os.Stat(source); err == nil && fi.Mode().IsRegular() {
		return os.Open(source)
	}
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", source)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to %s", source)
	}
	log.WithField("server", source).Info("Connected to record server")
	return conn, nil
}

// dumper prints and optionally stores the events of one stream.
type dumper struct {
	out    io.Writer
	names  *names.Cache
	db     *database.DB
	client *client.Client

	width int
	batch []*database.EventRecord
	err   error
}

func newDumper(out io.Writer, cache *names.Cache, db *database.DB, opts ...client.Option) *dumper {
	d := &dumper{out: out, names: cache, db: db}
	d.client = client.New(d.handle, opts...)
	return d
}

// run decodes r until EOF. A decode error is reported once, with the
// processor it was detected on.
func (d *dumper) run(r io.Reader) error {
	buf := make([]byte, 64*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if status := d.client.Run(buf[:n]); status != client.OK {
				log.WithFields(log.Fields{
					"status": status,
					"cpu":    d.client.CPU(),
				}).Error("Record stream decode failed")
				d.flush()
				if d.err != nil {
					return d.err
				}
				return status.Err()
			}
		}
		if err == io.EOF {
			d.client.Destroy()
			d.flush()
			return d.err
		}
		if err != nil {
			d.flush()
			return errors.Wrap(err, "failed to read record stream")
		}
	}
}

func (d *dumper) handle(e client.Event) client.Status {
	if d.width == 0 {
		d.width = 4
		if d.client.Format().Is64() {
			d.width = 8
		}
		d.names.SetWidth(d.width)
	}

	if id, name, ok := d.names.Observe(e); ok && d.db != nil {
		if err := d.db.UpsertThread(id, name, e.CPU); err != nil {
			d.fail(err)
		}
	}

	var thread string
	if names.IsThreadEvent(e.Event) {
		thread, _ = d.names.Lookup(uint32(e.Data))
	}

	if thread != "" {
		fmt.Fprintf(d.out, "%d.%09d:%d:%s:%x:%s\n", e.Seconds(), e.Nanoseconds(), e.CPU, e.Event, e.Data, thread)
	} else {
		fmt.Fprintf(d.out, "%d.%09d:%d:%s:%x\n", e.Seconds(), e.Nanoseconds(), e.CPU, e.Event, e.Data)
	}

	if d.db == nil {
		return client.OK
	}
	if e.Event == types.EventPerCPUOverflow {
		if err := d.db.InsertOverflow(e.CPU, e.Data, e.Time); err != nil {
			d.fail(err)
		}
	}
	d.batch = append(d.batch, &database.EventRecord{
		Time:        e.Time,
		Seconds:     e.Seconds(),
		Nanoseconds: e.Nanoseconds(),
		CPU:         e.CPU,
		Kind:        uint32(e.Event),
		Event:       e.Event.String(),
		Data:        e.Data,
		ThreadName:  thread,
	})
	if len(d.batch) >= storeBatch {
		d.flush()
	}
	return client.OK
}

func (d *dumper) flush() {
	if d.db == nil || len(d.batch) == 0 {
		return
	}
	if err := d.db.InsertEvents(d.batch); err != nil {
		d.fail(err)
	}
	d.batch = d.batch[:0]
}

// fail logs the first store error and keeps it for run.
func (d *dumper) fail(err error) {
	if d.err == nil {
		log.WithError(err).Error("Failed to store events")
		d.err = err
	}
}
