package reconcile

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"quoteflow/internal/book"
	"quoteflow/logger"
	"quoteflow/models"
)

// Report is handed to recorders after every pass.
type Report struct {
	Symbol    string
	TopOfBook models.TopOfBook
	Result    Result
	Err       error
	Started   time.Time
	Duration  time.Duration
}

// Recorder observes completed passes. Implementations must not block.
type Recorder interface {
	RecordPass(Report)
}

// Driver subscribes to a book and runs engine passes on a single worker.
// Updates arriving while a pass is running collapse into one follow-up pass
// on the most recent top of book.
type Driver struct {
	engine       *Engine
	reactToDepth bool
	recorders    []Recorder
	log          *logger.Log

	wake chan struct{}

	mu     sync.Mutex
	latest models.TopOfBook
	ready  bool

	updates atomic.Int64
	passes  atomic.Int64
}

type DriverOption func(*Driver)

// WithReactToDepth makes depth updates trigger passes too.
func WithReactToDepth(on bool) DriverOption {
	return func(d *Driver) { d.reactToDepth = on }
}

// WithRecorder adds a pass recorder.
func WithRecorder(r Recorder) DriverOption {
	return func(d *Driver) {
		if r != nil {
			d.recorders = append(d.recorders, r)
		}
	}
}

func NewDriver(engine *Engine, opts ...DriverOption) *Driver {
	d := &Driver{
		engine: engine,
		wake:   make(chan struct{}, 1),
		log:    logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// OnBookUpdate records the snapshot and wakes the worker. It never blocks.
func (d *Driver) OnBookUpdate(u book.Update) error {
	if u.Kind == book.KindDepth && !d.reactToDepth {
		return nil
	}
	tob := u.Snapshot.TopOfBook
	if tob.IsZero() {
		return nil
	}

	d.mu.Lock()
	d.latest = tob
	d.ready = true
	d.mu.Unlock()
	d.updates.Add(1)

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return nil
}

// Run executes passes until ctx is done.
func (d *Driver) Run(ctx context.Context) error {
	symbol := d.engine.Settings().Symbol
	log := d.log.WithComponent("reconcile_driver").WithSymbol(symbol)
	log.Info("reconciliation driver started")
	defer log.Info("reconciliation driver stopped")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.wake:
		}

		d.mu.Lock()
		tob, ok := d.latest, d.ready
		d.mu.Unlock()
		if !ok {
			continue
		}

		d.runPass(ctx, symbol, tob)
	}
}

func (d *Driver) runPass(ctx context.Context, symbol string, tob models.TopOfBook) {
	started := time.Now()
	res, err := d.safeReconcile(ctx, tob)
	d.passes.Add(1)

	report := Report{
		Symbol:    symbol,
		TopOfBook: tob,
		Result:    res,
		Err:       err,
		Started:   started,
		Duration:  time.Since(started),
	}
	logger.LogPerformanceEntry(d.log.WithSymbol(symbol), "reconcile_driver", "pass", report.Duration, logger.Fields{
		"update_id":  tob.UpdateID,
		"placements": res.Placements(),
		"failures":   res.Failures(),
		"skipped":    res.Skipped,
	})
	for _, r := range d.recorders {
		r.RecordPass(report)
	}
}

func (d *Driver) safeReconcile(ctx context.Context, tob models.TopOfBook) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reconcile panicked: %v", r)
			d.log.WithComponent("reconcile_driver").WithSymbol(tob.Symbol).WithError(err).Error("pass aborted")
		}
	}()
	return d.engine.Reconcile(ctx, tob)
}

// Updates is the number of triggering updates received.
func (d *Driver) Updates() int64 { return d.updates.Load() }

// Passes is the number of passes executed.
func (d *Driver) Passes() int64 { return d.passes.Load() }
