package reconcile

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"

	"quoteflow/models"
)

type placement struct {
	side  models.Side
	price decimal.Decimal
	qty   decimal.Decimal
}

// fakeTrader is an in-memory exchange. Placed orders become open orders so
// repeated passes observe them.
type fakeTrader struct {
	mu         sync.Mutex
	open       []models.OpenOrder
	placed     []placement
	balances   []models.Balance
	listCalls  int
	listErr    error
	balanceErr error
	failSide   map[models.Side]error
	nextID     int64
	// gate, when set, blocks ListOpenOrders until it is closed or receives.
	gate    chan struct{}
	entered chan struct{}
}

var errBoom = errors.New("boom")

func (f *fakeTrader) ListOpenOrders(ctx context.Context, symbol string) ([]models.OpenOrder, error) {
	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]models.OpenOrder, len(f.open))
	copy(out, f.open)
	return out, nil
}

func (f *fakeTrader) PlaceLimitOrder(ctx context.Context, symbol string, side models.Side, price, qty decimal.Decimal) (models.OrderAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failSide[side]; err != nil {
		return models.OrderAck{}, err
	}
	f.nextID++
	f.placed = append(f.placed, placement{side: side, price: price, qty: qty})
	f.open = append(f.open, models.OpenOrder{
		OrderID:          f.nextID,
		Symbol:           symbol,
		Side:             side,
		Price:            price,
		OriginalQuantity: qty,
	})
	return models.OrderAck{OrderID: f.nextID, Symbol: symbol, Side: side, Price: price, Quantity: qty}, nil
}

func (f *fakeTrader) GetBalances(ctx context.Context) ([]models.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	return f.balances, nil
}

func (f *fakeTrader) placements() []placement {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]placement, len(f.placed))
	copy(out, f.placed)
	return out
}
