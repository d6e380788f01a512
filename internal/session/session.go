// Package session runs everything attached to one trading symbol: the two
// feed pumps, the shared book and the reconciliation driver.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"quoteflow/config"
	"quoteflow/internal/book"
	"quoteflow/internal/feed"
	"quoteflow/internal/reconcile"
	"quoteflow/logger"
)

// Canceller removes resting orders on shutdown.
type Canceller interface {
	CancelAllOrders(ctx context.Context, symbol string) (int, error)
}

// FeedErrorHook is told about every terminated feed connection.
type FeedErrorHook func(symbol, feedName string, err error)

type Session struct {
	symbol    string
	state     *book.State
	feeds     *feed.Client
	driver    *reconcile.Driver
	canceller Canceller
	retry     config.RetryConfig
	onFeedErr FeedErrorHook
	log       *logger.Log

	shutdownTimeout time.Duration

	mu      sync.Mutex
	running bool
}

type Option func(*Session)

// WithDriver attaches a reconciliation driver. Without one the session only
// maintains the book.
func WithDriver(d *reconcile.Driver) Option {
	return func(s *Session) { s.driver = d }
}

// WithObserver subscribes an additional book observer.
func WithObserver(name string, o book.Observer) Option {
	return func(s *Session) { s.state.Subscribe(name, o) }
}

// WithCancelOnShutdown sweeps open orders once the session stops.
func WithCancelOnShutdown(c Canceller, timeout time.Duration) Option {
	return func(s *Session) {
		s.canceller = c
		s.shutdownTimeout = timeout
	}
}

// WithFeedErrorHook registers a callback for feed failures.
func WithFeedErrorHook(h FeedErrorHook) Option {
	return func(s *Session) { s.onFeedErr = h }
}

func New(symbol string, feeds *feed.Client, retry config.RetryConfig, opts ...Option) *Session {
	s := &Session{
		symbol:          symbol,
		state:           book.NewState(symbol),
		feeds:           feeds,
		retry:           retry,
		log:             logger.GetLogger(),
		shutdownTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.driver != nil {
		s.state.Subscribe("reconcile", s.driver)
	}
	return s
}

// State is the book the session feeds.
func (s *Session) State() *book.State { return s.state }

// Run blocks until ctx is cancelled or a component fails fatally. Feed
// failures are retried and never end the session.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("session %s already running", s.symbol)
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	log := s.log.WithComponent("session").WithSymbol(s.symbol)
	log.Info("starting session")

	ticker := s.feeds.Ticker(s.symbol)
	depth := s.feeds.Depth(s.symbol)
	defer ticker.Close()
	defer depth.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pump(gctx, ticker, s.state.ReplaceTopOfBook, s.retry, s.feedFailed)
	})
	g.Go(func() error {
		return pump(gctx, depth, s.state.ReplaceDepth, s.retry, s.feedFailed)
	})
	if s.driver != nil {
		g.Go(func() error { return s.driver.Run(gctx) })
	}

	err := g.Wait()
	s.sweep()
	log.Info("session stopped")
	return err
}

func (s *Session) sweep() {
	if s.canceller == nil {
		return
	}
	log := s.log.WithComponent("session").WithSymbol(s.symbol)
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	n, err := s.canceller.CancelAllOrders(ctx, s.symbol)
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{"cancelled": n}).Error("failed to cancel open orders on shutdown")
		return
	}
	log.WithFields(logger.Fields{"cancelled": n}).Info("cancelled open orders on shutdown")
}

func (s *Session) feedFailed(feedName string, err error, delay time.Duration) {
	s.log.WithComponent("session").WithSymbol(s.symbol).WithError(err).WithFields(logger.Fields{
		"feed":  feedName,
		"retry": delay.String(),
	}).Warn("feed unavailable, reconnecting")
	if s.onFeedErr != nil {
		s.onFeedErr(s.symbol, feedName, err)
	}
}

func newBackOff(cfg config.RetryConfig) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if cfg.BaseDelay > 0 {
		b.InitialInterval = cfg.BaseDelay
	}
	if cfg.MaxDelay > 0 {
		b.MaxInterval = cfg.MaxDelay
	}
	if cfg.BackoffMultiplier >= 1 {
		b.Multiplier = cfg.BackoffMultiplier
	}
	b.Reset()
	return b
}

// pump applies every message of s in receipt order and reconnects with
// exponential backoff when the stream terminates.
func pump[T any](ctx context.Context, s *feed.Stream[T], apply func(T), retry config.RetryConfig, failed func(string, error, time.Duration)) error {
	b := newBackOff(retry)
	for {
		v, err := s.Next(ctx)
		if err == nil {
			b.Reset()
			apply(v)
			continue
		}
		if ctx.Err() != nil || errors.Is(err, feed.ErrClosed) {
			return nil
		}

		delay := b.NextBackOff()
		if delay == backoff.Stop {
			delay = b.MaxInterval
		}
		failed(s.Name(), err, delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}
