// Command neutralize flattens the free base-asset balance of a pair with a
// single market order.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"quoteflow/config"
	"quoteflow/internal/exchange/binance"
	"quoteflow/internal/neutralize"
	"quoteflow/logger"
)

func main() {
	log := logger.GetLogger()

	if err := config.LoadDotEnv(); err != nil {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	env := flag.String("env", "", "Venue to trade on (testnet or real)")
	pair := flag.String("pair", "", "Trading pair to neutralize, defaults to the first configured symbol")
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	venue, err := cfg.Venue()
	if err != nil {
		log.WithError(err).Error("Unknown venue")
		os.Exit(1)
	}
	creds, err := config.LoadCredentials(venue)
	if err != nil {
		log.WithError(err).Error("Missing credentials")
		os.Exit(1)
	}

	trader := binance.NewClient(venue.RESTURL, creds, cfg.Exchange.RequestTimeout,
		binance.WithRateLimit(cfg.Exchange.RateLimit.RequestsPerSecond, cfg.Exchange.RateLimit.BurstSize),
	)
	if _, err := trader.SyncTime(ctx); err != nil {
		log.WithError(err).Warn("failed to sync server time")
	}

	symbol := cfg.Exchange.Symbols[0]
	info, err := trader.SymbolInfo(ctx, symbol)
	if err != nil {
		log.WithSymbol(symbol).WithError(err).Error("failed to load symbol filters")
		os.Exit(1)
	}

	out, err := neutralize.New(trader, neutralize.WithFilters(info)).Neutralize(ctx, symbol, info.BaseAsset)
	if err != nil {
		log.WithSymbol(symbol).WithError(err).Error("neutralization failed")
		os.Exit(1)
	}

	entry := log.WithSymbol(symbol).WithFields(logger.Fields{
		"venue":   venue.Name,
		"asset":   out.Asset,
		"balance": out.Balance.String(),
	})
	if out.Ack == nil {
		entry.Info("position already flat, nothing to do")
		return
	}
	entry.WithFields(logger.Fields{
		"side":     out.Side,
		"quantity": out.Quantity.String(),
		"order_id": out.Ack.OrderID,
	}).Info("neutralizing order placed")
}
