package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/jengzang/dining-presence-go/internal/config"
	"github.com/jengzang/dining-presence-go/internal/crypto"
	"github.com/jengzang/dining-presence-go/internal/database"
	"github.com/jengzang/dining-presence-go/internal/fanout"
	"github.com/jengzang/dining-presence-go/internal/geofence"
	"github.com/jengzang/dining-presence-go/internal/logging"
	"github.com/jengzang/dining-presence-go/internal/store"
	"github.com/jengzang/dining-presence-go/internal/tracker"
	"github.com/jengzang/dining-presence-go/internal/transport"
)

const usage = `usage: tracker [-config presence.yaml] <command> [args]

commands:
  keygen                     create and store a key pair, print the public key
  login -id ID -token TOKEN  store relay credentials
  friend add ID PUBLIC_KEY   share presence with a friend
  run [-halls FILE] [-stop]  track location fixes read as JSON lines from stdin
  stop                       stop tracking and clear presence
  status                     print the persisted tracker state
  inbox                      print friends' current presence`

type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	db      *sql.DB
	store   store.Store
	client  *transport.Client
	fanout  *fanout.Fanout
	sim     *geofence.Simulator
	tracker *tracker.Tracker
	out     io.Writer
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	db, err := database.Open(ctx, database.Config{Path: cfg.DBPath}, logger)
	if err != nil {
		return nil, err
	}
	st := store.NewSQLite(db, logger)

	client := transport.NewClient(cfg.APIRoot, cfg.HTTPTimeout, logger)
	fo := fanout.New(crypto.Box{}, client, cfg.Tracker.FanoutWorkers, logger)
	sim := geofence.NewSimulator(nil)

	tr := tracker.New(tracker.Deps{
		Store:   st,
		Adapter: sim,
		Fanout:  fo,
		Sender:  client,
		Logger:  logger,
	}, tracker.Config{
		MinUpdateInterval: cfg.Tracker.MinUpdateInterval,
		WakeInterval:      cfg.Tracker.WakeInterval,
		ElevationRecheck:  cfg.Tracker.ElevationRecheck,
		CircleMargin:      cfg.Tracker.CircleMargin,
		SmallCircleMargin: cfg.Tracker.SmallCircleMargin,
	})
	sim.SetHandler(tr.HandleGeofenceEvent)

	return &app{
		cfg:     cfg,
		logger:  logger,
		db:      db,
		store:   st,
		client:  client,
		fanout:  fo,
		sim:     sim,
		tracker: tr,
		out:     os.Stdout,
	}, nil
}

func (a *app) Close() {
	a.db.Close()
	a.logger.Sync()
}

func main() {
	configPath := flag.String("config", "presence.yaml", "YAML config file")
	flag.Usage = func() { fmt.Fprintln(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to initialize:", err)
	}
	defer a.Close()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "keygen":
		err = a.keygen(ctx)
	case "login":
		err = a.login(ctx, args)
	case "friend":
		err = a.friend(ctx, args)
	case "run":
		err = a.run(ctx, args)
	case "stop":
		err = a.tracker.Stop(ctx)
	case "status":
		err = a.status(ctx)
	case "inbox":
		err = a.inbox(ctx)
	default:
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		a.Close()
		os.Exit(1)
	}
}
