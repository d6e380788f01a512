package neutralize

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"quoteflow/models"
)

type fakeTrader struct {
	balances []models.Balance
	err      error
	orders   []models.OrderAck
}

func (f *fakeTrader) GetBalances(context.Context) ([]models.Balance, error) {
	return f.balances, f.err
}

func (f *fakeTrader) PlaceMarketOrder(_ context.Context, symbol string, side models.Side, qty decimal.Decimal) (models.OrderAck, error) {
	ack := models.OrderAck{OrderID: int64(len(f.orders) + 1), Symbol: symbol, Side: side, Quantity: qty, Type: "MARKET"}
	f.orders = append(f.orders, ack)
	return ack, nil
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestNeutralize(t *testing.T) {
	cases := []struct {
		name    string
		balance string
		side    models.Side
		qty     string
		orders  int
	}{
		{"long", "12.5", models.SideSell, "12.5", 1},
		{"flat", "0", "", "0", 0},
		{"short", "-3.2", models.SideBuy, "3.2", 1},
	}
	for _, c := range cases {
		trader := &fakeTrader{balances: []models.Balance{{Asset: "DOGE", Free: d(c.balance)}, {Asset: "USDT", Free: d("50")}}}
		out, err := New(trader).Neutralize(context.Background(), "DOGEUSDT", "DOGE")
		if err != nil {
			t.Fatalf("%s: %v", c.name, err)
		}
		if len(trader.orders) != c.orders {
			t.Fatalf("%s: expected %d orders, got %d", c.name, c.orders, len(trader.orders))
		}
		if c.orders == 0 {
			if out.Ack != nil {
				t.Fatalf("%s: unexpected ack", c.name)
			}
			continue
		}
		o := trader.orders[0]
		if o.Side != c.side || !o.Quantity.Equal(d(c.qty)) || o.Symbol != "DOGEUSDT" {
			t.Fatalf("%s: unexpected order %+v", c.name, o)
		}
		if out.Ack == nil || out.Side != c.side {
			t.Fatalf("%s: outcome not populated: %+v", c.name, out)
		}
	}
}

func TestNeutralizeMissingAssetIsFlat(t *testing.T) {
	trader := &fakeTrader{balances: []models.Balance{{Asset: "USDT", Free: d("50")}}}
	if _, err := New(trader).Neutralize(context.Background(), "DOGEUSDT", "DOGE"); err != nil {
		t.Fatalf("Neutralize: %v", err)
	}
	if len(trader.orders) != 0 {
		t.Fatalf("missing asset must not trade")
	}
}

func TestNeutralizeRoundsToStep(t *testing.T) {
	trader := &fakeTrader{balances: []models.Balance{{Asset: "DOGE", Free: d("12.5")}}}
	n := New(trader, WithFilters(models.SymbolInfo{StepSize: d("1")}))
	if _, err := n.Neutralize(context.Background(), "DOGEUSDT", "DOGE"); err != nil {
		t.Fatalf("Neutralize: %v", err)
	}
	if !trader.orders[0].Quantity.Equal(d("12")) {
		t.Fatalf("quantity = %s", trader.orders[0].Quantity)
	}

	dust := &fakeTrader{balances: []models.Balance{{Asset: "DOGE", Free: d("0.4")}}}
	if _, err := New(dust, WithFilters(models.SymbolInfo{StepSize: d("1")})).Neutralize(context.Background(), "DOGEUSDT", "DOGE"); err != nil {
		t.Fatalf("Neutralize dust: %v", err)
	}
	if len(dust.orders) != 0 {
		t.Fatalf("dust below step must not trade")
	}
}

func TestNeutralizeBalanceError(t *testing.T) {
	boom := errors.New("boom")
	trader := &fakeTrader{err: boom}
	if _, err := New(trader).Neutralize(context.Background(), "DOGEUSDT", "DOGE"); !errors.Is(err, boom) {
		t.Fatalf("expected balance error, got %v", err)
	}
	if len(trader.orders) != 0 {
		t.Fatalf("must not trade without a balance")
	}
}
