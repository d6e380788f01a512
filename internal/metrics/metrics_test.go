package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/shopspring/decimal"

	"quoteflow/internal/book"
	"quoteflow/internal/feed"
	"quoteflow/internal/reconcile"
	"quoteflow/logger"
	"quoteflow/models"
)

// value finds the sample of name whose labels match all of want.
func value(t *testing.T, r *Registry, name string, want map[string]string) float64 {
	t.Helper()
	families, err := r.Gatherer().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
	next:
		for _, m := range fam.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue next
				}
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				return float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return 0
}

func tobUpdate(bid, ask string) book.Update {
	return book.Update{Kind: book.KindTopOfBook, Snapshot: models.BookSnapshot{TopOfBook: models.TopOfBook{
		Symbol:  "DOGEUSDT",
		BestBid: models.PriceLevel{Price: decimal.RequireFromString(bid)},
		BestAsk: models.PriceLevel{Price: decimal.RequireFromString(ask)},
	}}}
}

func TestBookObserver(t *testing.T) {
	r := New()
	state := book.NewState("DOGEUSDT")
	state.Subscribe("metrics", r)

	state.ReplaceTopOfBook(tobUpdate("0.10", "0.12").Snapshot.TopOfBook)
	state.ReplaceTopOfBook(tobUpdate("0", "0.12").Snapshot.TopOfBook)
	state.ReplaceDepth(models.DepthSnapshot{Symbol: "DOGEUSDT"})

	if v := value(t, r, "quoteflow_book_updates_total", map[string]string{"symbol": "DOGEUSDT", "kind": "top_of_book"}); v != 2 {
		t.Errorf("ticker updates = %v", v)
	}
	if v := value(t, r, "quoteflow_book_updates_total", map[string]string{"kind": "depth"}); v != 1 {
		t.Errorf("depth updates = %v", v)
	}
	if v := value(t, r, "quoteflow_invalid_books_total", map[string]string{"symbol": "DOGEUSDT"}); v != 1 {
		t.Errorf("invalid books = %v", v)
	}
	if v := value(t, r, "quoteflow_best_bid", map[string]string{"symbol": "DOGEUSDT"}); v != 0.10 {
		t.Errorf("best bid = %v", v)
	}
	if v := value(t, r, "quoteflow_spread", map[string]string{"symbol": "DOGEUSDT"}); v < 0.0199 || v > 0.0201 {
		t.Errorf("spread = %v", v)
	}
}

func TestRecordPass(t *testing.T) {
	r := New()
	ack := models.OrderAck{OrderID: 1}
	r.RecordPass(reconcile.Report{
		Symbol:   "DOGEUSDT",
		Duration: 20 * time.Millisecond,
		Result: reconcile.Result{Sides: []reconcile.SideOutcome{
			{Quote: models.DesiredQuote{Side: models.SideBuy}, Placed: &ack},
			{Quote: models.DesiredQuote{Side: models.SideSell}, Err: errors.New("rejected")},
		}},
	})
	r.RecordPass(reconcile.Report{Symbol: "DOGEUSDT", Result: reconcile.Result{Skipped: true}})
	r.RecordPass(reconcile.Report{Symbol: "DOGEUSDT", Err: errors.New("no orders")})

	checks := []struct {
		name   string
		labels map[string]string
		want   float64
	}{
		{"quoteflow_orders_total", map[string]string{"side": "BUY", "result": "ok"}, 1},
		{"quoteflow_orders_total", map[string]string{"side": "SELL", "result": "error"}, 1},
		{"quoteflow_reconcile_passes_total", map[string]string{"outcome": "partial"}, 1},
		{"quoteflow_reconcile_passes_total", map[string]string{"outcome": "skipped"}, 1},
		{"quoteflow_reconcile_passes_total", map[string]string{"outcome": "error"}, 1},
		{"quoteflow_reconcile_pass_seconds", map[string]string{"symbol": "DOGEUSDT"}, 3},
	}
	for _, c := range checks {
		if got := value(t, r, c.name, c.labels); got != c.want {
			t.Errorf("%s%v = %v, want %v", c.name, c.labels, got, c.want)
		}
	}
}

func TestFeedErrorReason(t *testing.T) {
	r := New()
	r.FeedError("DOGEUSDT", feed.FeedTicker, &feed.FeedError{Kind: feed.ErrMalformed, Err: errors.New("bad")})
	r.FeedError("DOGEUSDT", feed.FeedDepth, &feed.FeedError{Kind: feed.ErrDisconnected, Err: errors.New("eof")})

	if v := value(t, r, "quoteflow_feed_errors_total", map[string]string{"feed": feed.FeedTicker, "reason": "malformed"}); v != 1 {
		t.Errorf("malformed = %v", v)
	}
	if v := value(t, r, "quoteflow_feed_errors_total", map[string]string{"feed": feed.FeedDepth, "reason": "disconnected"}); v != 1 {
		t.Errorf("disconnected = %v", v)
	}
}

func TestHandlerServesRegistry(t *testing.T) {
	r := New()
	r.ObserveRequest("list_open_orders", 15*time.Millisecond, nil)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `quoteflow_rest_request_seconds_count{op="list_open_orders",result="ok"} 1`) {
		t.Fatalf("request histogram missing from output:\n%s", body)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Fatalf("runtime collectors missing")
	}
}

type stuckCloudWatch struct {
	release chan struct{}
}

func (s *stuckCloudWatch) PutMetricData(ctx context.Context, _ *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	select {
	case <-s.release:
	case <-ctx.Done():
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

// placingTrader accepts every order and reports no resting orders, so each
// pass places on both sides.
type placingTrader struct {
	ids atomic.Int64
}

func (p *placingTrader) ListOpenOrders(context.Context, string) ([]models.OpenOrder, error) {
	return nil, nil
}

func (p *placingTrader) PlaceLimitOrder(_ context.Context, symbol string, side models.Side, price, qty decimal.Decimal) (models.OrderAck, error) {
	return models.OrderAck{OrderID: p.ids.Add(1), Symbol: symbol, Side: side, Price: price, Quantity: qty}, nil
}

func (p *placingTrader) GetBalances(context.Context) ([]models.Balance, error) { return nil, nil }

func TestRecorderDoesNotStallDriverOnCloudWatch(t *testing.T) {
	stuck := &stuckCloudWatch{release: make(chan struct{})}
	logger.SetCloudWatchClient(stuck, "test")
	t.Cleanup(func() {
		close(stuck.release)
		logger.SetCloudWatchClient(nil, "")
	})

	r := New()
	engine := reconcile.NewEngine(&placingTrader{}, reconcile.Settings{Symbol: "DOGEUSDT", TargetSize: decimal.NewFromInt(100)})
	driver := reconcile.NewDriver(engine, reconcile.WithRecorder(r))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go driver.Run(ctx)

	for i := int64(1); i <= 3; i++ {
		u := tobUpdate("0.10", "0.12")
		u.Snapshot.TopOfBook.UpdateID = i
		if err := driver.OnBookUpdate(u); err != nil {
			t.Fatalf("update: %v", err)
		}
		deadline := time.Now().Add(2 * time.Second)
		for driver.Passes() < i {
			if time.Now().After(deadline) {
				t.Fatalf("pass %d stalled behind CloudWatch, passes=%d", i, driver.Passes())
			}
			time.Sleep(5 * time.Millisecond)
		}
	}
	if v := value(t, r, "quoteflow_orders_total", map[string]string{"side": "BUY", "result": "ok"}); v != 3 {
		t.Fatalf("buy placements = %v", v)
	}
}

func TestFeedErrorDoesNotWaitOnCloudWatch(t *testing.T) {
	stuck := &stuckCloudWatch{release: make(chan struct{})}
	logger.SetCloudWatchClient(stuck, "test")
	t.Cleanup(func() {
		close(stuck.release)
		logger.SetCloudWatchClient(nil, "")
	})

	r := New()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			r.FeedError("DOGEUSDT", feed.FeedTicker, errors.New("eof"))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("FeedError blocked on CloudWatch")
	}
}
