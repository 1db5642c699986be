// Command event-recorder records events into per-processor ring buffers,
// streams them to clients and decodes, stores and inspects the streams.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/jnesss/event-recorder/config"
)

const usage = `usage: event-recorder <command> [flags]

commands:
  serve   run a recorder with a synthetic workload and stream it over TCP
  dump    decode a record stream and print one line per event
  web     serve the stored events over HTTP
`

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(os.Args[2:])
	case "dump":
		err = runDump(os.Args[2:])
	case "web":
		err = runWeb(os.Args[2:])
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		log.WithError(err).Fatalf("%s failed", os.Args[1])
	}
}

// commonFlags are accepted by every command.
type commonFlags struct {
	config  string
	verbose bool
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.config, "config", "", "YAML configuration file")
	fs.BoolVar(&c.verbose, "v", false, "log debug messages")
}

// load reads the configuration, applies the flags set on the command line
// through override and validates the result.
func (c *commonFlags) load(fs *flag.FlagSet, override func(cfg *config.Config, name string)) (*config.Config, error) {
	if c.verbose {
		log.SetLevel(log.DebugLevel)
	}
	cfg, err := config.Load(c.config)
	if err != nil {
		return nil, err
	}
	fs.Visit(func(f *flag.Flag) {
		override(cfg, f.Name)
	})
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
