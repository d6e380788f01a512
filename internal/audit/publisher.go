// Package audit publishes order placement events to Kafka.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	kafka "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"quoteflow/config"
	"quoteflow/internal/reconcile"
	"quoteflow/logger"
	"quoteflow/models"
)

const (
	EventOrderPlaced = "order_placed"
	EventOrderFailed = "order_failed"
	EventPassAborted = "pass_aborted"

	maxBatch     = 64
	writeTimeout = 10 * time.Second
)

// Event is one audit record. It is keyed by symbol on the topic.
type Event struct {
	Type          string          `json:"type"`
	Symbol        string          `json:"symbol"`
	Side          models.Side     `json:"side,omitempty"`
	Price         decimal.Decimal `json:"price"`
	Quantity      decimal.Decimal `json:"quantity"`
	OrderID       int64           `json:"order_id,omitempty"`
	ClientOrderID string          `json:"client_order_id,omitempty"`
	Error         string          `json:"error,omitempty"`
	UpdateID      int64           `json:"update_id"`
	BestBid       decimal.Decimal `json:"best_bid"`
	BestAsk       decimal.Decimal `json:"best_ask"`
	Time          time.Time       `json:"time"`
}

// MessageWriter is the part of kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Publisher struct {
	writer  MessageWriter
	events  chan Event
	stop    chan struct{}
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log

	dropped atomic.Int64
}

func NewPublisher(cfg config.AuditConfig) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: cfg.BatchTimeout,
	}
	p := newPublisher(w, cfg.Buffer)
	p.log.WithComponent("audit").WithFields(logger.Fields{
		"brokers": cfg.Brokers,
		"topic":   cfg.Topic,
	}).Debug("audit publisher initialized")
	return p, nil
}

func newPublisher(w MessageWriter, buffer int) *Publisher {
	if buffer <= 0 {
		buffer = 256
	}
	return &Publisher{
		writer: w,
		events: make(chan Event, buffer),
		stop:   make(chan struct{}),
		wg:     &sync.WaitGroup{},
		log:    logger.GetLogger(),
	}
}

// Start launches the write loop. It runs until Stop, independent of any
// request context, so passes finishing during shutdown are still written.
func (p *Publisher) Start() error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("audit publisher already running")
	}
	p.running = true
	p.mu.Unlock()

	p.log.WithComponent("audit").Debug("starting audit publisher")
	p.wg.Add(1)
	go p.run()
	return nil
}

// Stop flushes queued events and closes the writer.
func (p *Publisher) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stop)
	p.mu.Unlock()

	p.log.WithComponent("audit").Debug("stopping audit publisher")
	p.wg.Wait()
	if err := p.writer.Close(); err != nil {
		p.log.WithComponent("audit").WithError(err).Warn("failed to close kafka writer")
	}
	p.log.WithComponent("audit").Debug("audit publisher stopped")
}

// RecordPass implements reconcile.Recorder. Events are queued without
// blocking; a full queue drops them.
func (p *Publisher) RecordPass(rep reconcile.Report) {
	for _, ev := range Events(rep) {
		select {
		case p.events <- ev:
		default:
			p.dropped.Add(1)
			p.log.WithComponent("audit").WithSymbol(ev.Symbol).Warn("audit queue full, dropping event")
		}
	}
}

// Dropped reports how many events were discarded on a full queue.
func (p *Publisher) Dropped() int64 { return p.dropped.Load() }

// Events converts a pass report into audit events. Passes that neither
// placed nor failed produce none.
func Events(rep reconcile.Report) []Event {
	base := Event{
		Symbol:   rep.Symbol,
		UpdateID: rep.TopOfBook.UpdateID,
		BestBid:  rep.TopOfBook.BestBid.Price,
		BestAsk:  rep.TopOfBook.BestAsk.Price,
		Time:     rep.Started.Add(rep.Duration).UTC(),
	}
	if rep.Err != nil {
		ev := base
		ev.Type = EventPassAborted
		ev.Error = rep.Err.Error()
		return []Event{ev}
	}

	var out []Event
	for _, s := range rep.Result.Sides {
		ev := base
		ev.Side = s.Quote.Side
		ev.Price = s.Quote.Price
		ev.Quantity = s.Remaining
		switch {
		case s.Placed != nil:
			ev.Type = EventOrderPlaced
			ev.OrderID = s.Placed.OrderID
			ev.ClientOrderID = s.Placed.ClientOrderID
		case s.Err != nil:
			ev.Type = EventOrderFailed
			ev.Error = s.Err.Error()
		default:
			continue
		}
		out = append(out, ev)
	}
	return out
}

func (p *Publisher) run() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stop:
			p.flush()
			return
		case ev := <-p.events:
			p.write(p.collect(ev))
		}
	}
}

// collect drains whatever is already queued behind first, up to maxBatch.
func (p *Publisher) collect(first Event) []Event {
	batch := []Event{first}
	for len(batch) < maxBatch {
		select {
		case ev := <-p.events:
			batch = append(batch, ev)
		default:
			return batch
		}
	}
	return batch
}

func (p *Publisher) flush() {
	for {
		select {
		case ev := <-p.events:
			p.write(p.collect(ev))
		default:
			return
		}
	}
}

func (p *Publisher) write(batch []Event) {
	msgs := make([]kafka.Message, 0, len(batch))
	for _, ev := range batch {
		data, err := json.Marshal(ev)
		if err != nil {
			p.log.WithComponent("audit").WithError(err).Warn("failed to marshal event")
			continue
		}
		msgs = append(msgs, kafka.Message{Key: []byte(ev.Symbol), Value: data, Time: ev.Time})
	}
	if len(msgs) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.log.WithComponent("audit").WithError(err).WithFields(logger.Fields{"events": len(msgs)}).Warn("failed to write audit events")
		return
	}
	p.log.WithComponent("audit").WithFields(logger.Fields{"events": len(msgs)}).Debug("audit events written to kafka")
}
