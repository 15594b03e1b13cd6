package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pgnotifyhub/hub/broadcast"
	"github.com/pgnotifyhub/hub/bus"
	"github.com/pgnotifyhub/hub/dispatch"
	"github.com/pgnotifyhub/hub/httpapi"
	"github.com/pgnotifyhub/hub/logging"
	"github.com/pgnotifyhub/hub/pgpool"
	"github.com/pgnotifyhub/hub/pgtls"
	"github.com/pgnotifyhub/hub/settings"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := flag.NewFlagSet("pgnotifyhub", flag.ContinueOnError)
	confPath := flags.String("conf", "", "path to the TOML configuration file (required)")
	check := flags.Bool("check", false, "validate the configuration and exit")
	var verbosity int
	flags.BoolFunc("v", "increase log verbosity (repeatable)", func(string) error {
		verbosity++
		return nil
	})
	flags.BoolFunc("verbose", "increase log verbosity (repeatable)", func(string) error {
		verbosity++
		return nil
	})

	if err := flags.Parse(args); err != nil {
		return 2
	}

	logging.Init(verbosity)
	defer logging.Sync()

	if *confPath == "" {
		logging.L().Error("--conf is required")
		return 2
	}

	cfg, err := settings.Load(*confPath)
	if err != nil {
		logging.L().Errorw("configuration error", "error", err)
		return 2
	}

	if *check {
		logging.L().Infow("configuration valid", "channels", len(cfg.Channel), "workers", cfg.Server.NumWorkers)
		return 0
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := serve(ctx, cfg); err != nil {
		logging.L().Errorw("fatal error", "error", err)
		return 1
	}
	return 0
}

// serve wires the pool, dispatcher, fan-out bus, per-worker
// broadcasters, and HTTP surface together and blocks until ctx is
// cancelled or a worker's listener fails.
func serve(ctx context.Context, cfg *settings.Settings) error {
	var pgConnector *pgtls.Connector
	if cfg.PostgresTLS != nil {
		var err error
		pgConnector, err = pgtls.LoadConnector(
			cfg.PostgresTLS.CAFile, cfg.PostgresTLS.CertFile, cfg.PostgresTLS.KeyFile, cfg.PostgresTLS.InsecureSkipVerify)
		if err != nil {
			return fmt.Errorf("load postgres tls: %w", err)
		}
	}

	notifications := make(chan pgpool.TaggedNotification, cfg.EventsBufferSize)
	pool := pgpool.New(notifications, pgConnector)

	bindings, err := dispatch.BuildBindings(ctx, pool, cfg.Channel)
	if err != nil {
		return fmt.Errorf("build channel bindings: %w", err)
	}

	eventBus := bus.New[dispatch.Event]()
	dispatcher := dispatch.New(pool, bindings, notifications)
	go dispatcher.Run(ctx, cfg.ReconnectDelay, func(e dispatch.Event) {
		_ = eventBus.Send(e)
	})

	var serverTLS *tls.Config
	if cfg.Server.SSLEnabled {
		serverTLS, err = pgtls.LoadServerConfig(cfg.Server.SSLCertFile, cfg.Server.SSLKeyFile)
		if err != nil {
			return fmt.Errorf("load server tls: %w", err)
		}
	}

	allowed := make(map[string]dispatch.ChanID, len(bindings))
	for _, b := range bindings {
		allowed[b.LogicalID] = b.ID
	}

	broadcasters := make([]*broadcast.Broadcaster, cfg.Server.NumWorkers)
	for i := range broadcasters {
		broadcaster := broadcast.New(cfg.WorkerBufferSize)
		broadcasters[i] = broadcaster
		sub := eventBus.Subscribe()
		go pumpBus(ctx, sub, broadcaster)
	}

	srv := httpapi.New(cfg.Server.Listen, cfg.Server.Title, allowed, broadcasters, serverTLS)
	return srv.ListenAndServe(ctx)
}

// pumpBus drains the fan-out bus into one worker's broadcaster until
// the bus is closed, or until the first value received after ctx is
// cancelled; while waiting in Changed it does not observe ctx.
func pumpBus(ctx context.Context, sub *bus.Subscriber[dispatch.Event], broadcaster *broadcast.Broadcaster) {
	for {
		event, ok := sub.Changed()
		if !ok {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
			broadcaster.Broadcast(event)
		}
	}
}
