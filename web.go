package main

import (
	"flag"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jnesss/event-recorder/config"
	"github.com/jnesss/event-recorder/database"
	"github.com/jnesss/event-recorder/sigma"
	"github.com/jnesss/event-recorder/web"
)

func runWeb(args []string) error {
	fs := flag.NewFlagSet("web", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	listen := fs.String("listen", "", "address of the HTTP server")
	dataDir := fs.String("data", "", "data directory")
	rulesDir := fs.String("rules", "", "Sigma rules directory")
	fs.Parse(args)

	cfg, err := common.load(fs, func(cfg *config.Config, name string) {
		switch name {
		case "listen":
			cfg.Web.Listen = *listen
		case "data":
			cfg.DataDir = *dataDir
		case "rules":
			cfg.RulesDir = *rulesDir
		}
	})
	if err != nil {
		return err
	}

	if err := dropPrivileges(); err != nil {
		log.WithError(err).Warn("Failed to drop privileges")
	}
	db, err := database.NewDB(cfg.DataDir)
	if err != nil {
		return err
	}
	defer db.Close()

	detector, err := sigma.NewDetector(cfg.RulesDir, db.Db)
	if err != nil {
		return err
	}
	defer detector.StopPolling()

	ctx, stop := signalContext()
	defer stop()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return detector.StartPolling(ctx, cfg.Web.PollInterval)
	})
	g.Go(func() error {
		return web.NewServer(db, detector, cfg.Web.Listen).Start(ctx)
	})
	return g.Wait()
}
