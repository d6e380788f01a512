// Package metrics exposes Prometheus collectors for the book, the quoting
// engine, the feeds and the REST client.
//
// Registers:
//
//	quoteflow_book_updates_total{symbol,kind}
//	quoteflow_best_bid / quoteflow_best_ask / quoteflow_spread{symbol}
//	quoteflow_invalid_books_total{symbol}
//	quoteflow_reconcile_passes_total{symbol,outcome}
//	quoteflow_orders_total{symbol,side,result}
//	quoteflow_reconcile_pass_seconds{symbol}
//	quoteflow_feed_errors_total{symbol,feed}
//	quoteflow_rest_request_seconds{op,result}
//	go_* and process_* system metrics
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"quoteflow/internal/book"
	"quoteflow/internal/feed"
	"quoteflow/internal/reconcile"
	"quoteflow/logger"
)

const namespace = "quoteflow"

type Registry struct {
	reg *prometheus.Registry
	log *logger.Log

	bookUpdates   *prometheus.CounterVec
	bestBid       *prometheus.GaugeVec
	bestAsk       *prometheus.GaugeVec
	spread        *prometheus.GaugeVec
	invalidBooks  *prometheus.CounterVec
	passes        *prometheus.CounterVec
	orders        *prometheus.CounterVec
	passDuration  *prometheus.HistogramVec
	feedErrors    *prometheus.CounterVec
	restDurations *prometheus.HistogramVec
}

// New builds a registry with its own Prometheus registerer so tests and
// multiple instances do not collide on the global one.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		log: logger.GetLogger(),
		bookUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "book_updates_total",
			Help:      "Book replacements applied, by kind",
		}, []string{"symbol", "kind"}),
		bestBid: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "best_bid",
			Help:      "Latest best bid price",
		}, []string{"symbol"}),
		bestAsk: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "best_ask",
			Help:      "Latest best ask price",
		}, []string{"symbol"}),
		spread: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "spread",
			Help:      "Latest best ask minus best bid",
		}, []string{"symbol"}),
		invalidBooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_books_total",
			Help:      "Top of book updates with missing or crossed prices",
		}, []string{"symbol"}),
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_passes_total",
			Help:      "Reconciliation passes by outcome",
		}, []string{"symbol", "outcome"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Limit order placements by side and result",
		}, []string{"symbol", "side", "result"}),
		passDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconcile_pass_seconds",
			Help:      "Wall time of a reconciliation pass",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		}, []string{"symbol"}),
		feedErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_errors_total",
			Help:      "Terminated feed connections by reason",
		}, []string{"symbol", "feed", "reason"}),
		restDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rest_request_seconds",
			Help:      "Binance REST call latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "result"}),
	}

	r.reg.MustRegister(
		r.bookUpdates, r.bestBid, r.bestAsk, r.spread, r.invalidBooks,
		r.passes, r.orders, r.passDuration, r.feedErrors, r.restDurations,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// OnBookUpdate implements book.Observer.
func (r *Registry) OnBookUpdate(u book.Update) error {
	tob := u.Snapshot.TopOfBook
	symbol := tob.Symbol
	if symbol == "" {
		symbol = u.Snapshot.Depth.Symbol
	}
	r.bookUpdates.WithLabelValues(symbol, u.Kind.String()).Inc()
	if u.Kind != book.KindTopOfBook {
		return nil
	}
	if !tob.Valid() {
		r.invalidBooks.WithLabelValues(symbol).Inc()
		return nil
	}
	r.bestBid.WithLabelValues(symbol).Set(tob.BestBid.Price.InexactFloat64())
	r.bestAsk.WithLabelValues(symbol).Set(tob.BestAsk.Price.InexactFloat64())
	r.spread.WithLabelValues(symbol).Set(tob.Spread().InexactFloat64())
	return nil
}

// RecordPass implements reconcile.Recorder.
func (r *Registry) RecordPass(rep reconcile.Report) {
	outcome := passOutcome(rep)
	r.passes.WithLabelValues(rep.Symbol, outcome).Inc()
	r.passDuration.WithLabelValues(rep.Symbol).Observe(rep.Duration.Seconds())

	placed := 0
	for _, s := range rep.Result.Sides {
		switch {
		case s.Placed != nil:
			placed++
			r.orders.WithLabelValues(rep.Symbol, string(s.Quote.Side), "ok").Inc()
		case s.Err != nil:
			r.orders.WithLabelValues(rep.Symbol, string(s.Quote.Side), "error").Inc()
		}
	}
	if placed > 0 {
		r.log.LogMetric("reconcile", "orders_placed", int64(placed), "counter", logger.Fields{"symbol": rep.Symbol})
	}
}

func passOutcome(rep reconcile.Report) string {
	switch {
	case rep.Err != nil:
		return "error"
	case rep.Result.Skipped:
		return "skipped"
	case rep.Result.Failures() > 0:
		return "partial"
	case rep.Result.Placements() > 0:
		return "placed"
	default:
		return "idle"
	}
}

// FeedError counts a terminated feed connection. It matches the session
// feed error hook signature.
func (r *Registry) FeedError(symbol, feedName string, err error) {
	reason := "disconnected"
	if errors.Is(err, feed.ErrMalformed) {
		reason = "malformed"
	}
	r.feedErrors.WithLabelValues(symbol, feedName, reason).Inc()
	r.log.LogMetric("feed", "feed_errors", int64(1), "counter", logger.Fields{"symbol": symbol, "feed": feedName, "reason": reason})
}

// ObserveRequest records one REST call. It matches the exchange client
// request hook signature.
func (r *Registry) ObserveRequest(op string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.restDurations.WithLabelValues(op, result).Observe(d.Seconds())
}
