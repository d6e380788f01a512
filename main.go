package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"quoteflow/config"
	"quoteflow/internal/audit"
	"quoteflow/internal/exchange/binance"
	"quoteflow/internal/feed"
	"quoteflow/internal/metrics"
	"quoteflow/internal/reconcile"
	"quoteflow/internal/relay"
	"quoteflow/internal/session"
	"quoteflow/logger"
)

const sweepTimeout = 10 * time.Second

func main() {
	log := logger.GetLogger()

	if err := config.LoadDotEnv(); err != nil {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	env := flag.String("env", "", "Venue to trade on (testnet or real), overrides the config file")
	pair := flag.String("pair", "", "Trading pair, overrides the configured symbols")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolvePath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}
	if err := cfg.ApplyOverrides(*env, *pair); err != nil {
		log.WithError(err).Error("Invalid command line override")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.App.Name,
		"version":     cfg.App.Version,
		"environment": cfg.Exchange.Environment,
		"symbols":     cfg.Exchange.Symbols,
	}).Info("starting quoteflow")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.WithError(err).Error("quoteflow stopped with error")
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logger.GetLogger()

	if cfg.Metrics.CloudWatch.Enabled {
		logger.InitCloudWatch(ctx, cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace)
	}

	venue, err := cfg.Venue()
	if err != nil {
		return err
	}
	creds, err := config.LoadCredentials(venue)
	if err != nil {
		return err
	}
	log.WithFields(logger.Fields{
		"venue":       venue.Name,
		"rest_url":    venue.RESTURL,
		"ws_url":      venue.WSURL,
		"credentials": creds.String(),
	}).Info("venue selected")

	size, err := cfg.Strategy.Size()
	if err != nil {
		return fmt.Errorf("strategy target size: %w", err)
	}

	reg := metrics.New()
	trader := binance.NewClient(venue.RESTURL, creds, cfg.Exchange.RequestTimeout,
		binance.WithRateLimit(cfg.Exchange.RateLimit.RequestsPerSecond, cfg.Exchange.RateLimit.BurstSize),
		binance.WithRequestHook(reg.ObserveRequest),
	)
	if offset, err := trader.SyncTime(ctx); err != nil {
		log.WithError(err).Warn("failed to sync server time")
	} else {
		log.WithFields(logger.Fields{"offset_ms": offset.Milliseconds()}).Info("server time synced")
	}

	var publisher *audit.Publisher
	if cfg.Audit.Enabled {
		publisher, err = audit.NewPublisher(cfg.Audit)
		if err != nil {
			return fmt.Errorf("audit publisher: %w", err)
		}
		if err := publisher.Start(); err != nil {
			return err
		}
		defer publisher.Stop()
	}

	var hub *relay.Hub
	if cfg.Relay.Enabled {
		hub = relay.NewHub(cfg.Relay.ClientBuffer, cfg.Relay.WriteTimeout)
		defer hub.Close()
	}

	feeds := feed.NewClient(venue.WSURL,
		feed.WithDialer(&websocket.Dialer{HandshakeTimeout: cfg.Feed.HandshakeTimeout}),
		feed.WithDepth(cfg.Feed.DepthLevels, cfg.Feed.IntervalMs),
		feed.WithReadTimeout(cfg.Feed.ReadTimeout),
	)

	sessions := make([]*session.Session, 0, len(cfg.Exchange.Symbols))
	for _, symbol := range cfg.Exchange.Symbols {
		info, err := trader.SymbolInfo(ctx, symbol)
		if err != nil {
			return fmt.Errorf("load filters for %s: %w", symbol, err)
		}
		log.WithSymbol(symbol).WithFields(logger.Fields{
			"tick_size": info.TickSize.String(),
			"step_size": info.StepSize.String(),
			"min_qty":   info.MinQty.String(),
		}).Info("symbol filters loaded")

		engine := reconcile.NewEngine(trader, reconcile.Settings{
			Symbol:        symbol,
			TargetSize:    size,
			OffsetTicks:   cfg.Strategy.OffsetTicks,
			Filters:       info,
			FetchPosition: cfg.Strategy.FetchPosition,
		})
		driverOpts := []reconcile.DriverOption{
			reconcile.WithReactToDepth(cfg.Strategy.ReactToDepth),
			reconcile.WithRecorder(reg),
		}
		if publisher != nil {
			driverOpts = append(driverOpts, reconcile.WithRecorder(publisher))
		}

		opts := []session.Option{
			session.WithObserver("metrics", reg),
			session.WithDriver(reconcile.NewDriver(engine, driverOpts...)),
			session.WithFeedErrorHook(reg.FeedError),
		}
		if hub != nil {
			opts = append(opts, session.WithObserver("relay", hub))
		}
		if cfg.Strategy.CancelOnShutdown {
			opts = append(opts, session.WithCancelOnShutdown(trader, sweepTimeout))
		}
		sessions = append(sessions, session.New(symbol, feeds, cfg.Feed.Reconnect, opts...))
	}

	servers, err := buildServers(cfg, reg, hub)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range sessions {
		g.Go(func() error {
			return s.Run(gctx)
		})
	}
	for _, srv := range servers {
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}

	log.WithFields(logger.Fields{"sessions": len(sessions), "servers": len(servers)}).Info("all components started successfully")

	err = g.Wait()
	log.Info("starting graceful shutdown")
	return err
}

// buildServers mounts the relay and metrics routes. They share one listener
// when configured with the same address.
func buildServers(cfg *config.Config, reg *metrics.Registry, hub *relay.Hub) ([]*relay.Server, error) {
	byAddr := map[string]*relay.Server{}
	var order []*relay.Server

	get := func(addr string) (*relay.Server, error) {
		key := strings.TrimSpace(addr)
		if srv, ok := byAddr[key]; ok {
			return srv, nil
		}
		srv, err := relay.NewServer(addr)
		if err != nil {
			return nil, err
		}
		byAddr[key] = srv
		order = append(order, srv)
		return srv, nil
	}

	if hub != nil {
		srv, err := get(cfg.Relay.Address)
		if err != nil {
			return nil, fmt.Errorf("relay server: %w", err)
		}
		hub.Routes(srv.Router())
	}
	if cfg.Metrics.Enabled {
		srv, err := get(cfg.Metrics.Address)
		if err != nil {
			return nil, fmt.Errorf("metrics server: %w", err)
		}
		srv.Router().GET(cfg.Metrics.Path, gin.WrapH(reg.Handler()))
	}
	return order, nil
}
