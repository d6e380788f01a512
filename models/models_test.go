package models

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestDecodeTicker(t *testing.T) {
	now := time.Unix(100, 0)
	payload := []byte(`{"u":400900217,"s":"BNBUSDT","b":"25.35190000","B":"31.21000000","a":"25.36520000","A":"40.66000000"}`)

	tob, err := DecodeTicker(payload, "bnbusdt", now)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tob.Symbol != "BNBUSDT" || tob.UpdateID != 400900217 {
		t.Fatalf("unexpected header: %+v", tob)
	}
	if !tob.BestBid.Price.Equal(d("25.3519")) || !tob.BestAsk.Quantity.Equal(d("40.66")) {
		t.Fatalf("unexpected levels: %+v", tob)
	}
	if !tob.ReceivedAt.Equal(now) {
		t.Fatalf("received at not propagated")
	}
}

func TestDecodeTickerRejectsMissingAndMalformed(t *testing.T) {
	cases := map[string]string{
		"missing ask":   `{"u":1,"s":"BNBUSDT","b":"1","B":"1","A":"1"}`,
		"bad bid price": `{"u":1,"s":"BNBUSDT","b":"x","B":"1","a":"2","A":"1"}`,
		"not json":      `{`,
	}
	for name, payload := range cases {
		if _, err := DecodeTicker([]byte(payload), "BNBUSDT", time.Now()); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}

	_, err := DecodeTicker([]byte(`{"u":1,"b":"1","B":"1","A":"1"}`), "BNBUSDT", time.Now())
	if !errors.Is(err, ErrMissingField) {
		t.Fatalf("expected ErrMissingField, got %v", err)
	}
}

func TestDecodeDepth(t *testing.T) {
	payload := []byte(`{"lastUpdateId":160,"bids":[["0.0024","10"],["0.0023","5"]],"asks":[["0.0026","100"]]}`)
	snap, err := DecodeDepth(payload, "dogeusdt", time.Now())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Symbol != "DOGEUSDT" || snap.LastUpdateID != 160 {
		t.Fatalf("unexpected header: %+v", snap)
	}
	if len(snap.Bids) != 2 || len(snap.Asks) != 1 {
		t.Fatalf("unexpected level counts: %d/%d", len(snap.Bids), len(snap.Asks))
	}
	if !snap.Bids[1].Price.Equal(d("0.0023")) {
		t.Fatalf("bid order not preserved: %+v", snap.Bids)
	}
}

func TestDecodeDepthRejectsMissingAndMalformed(t *testing.T) {
	cases := map[string]string{
		"missing asks":  `{"lastUpdateId":1,"bids":[]}`,
		"short level":   `{"lastUpdateId":1,"bids":[["1"]],"asks":[]}`,
		"bad quantity":  `{"lastUpdateId":1,"bids":[["1","abc"]],"asks":[]}`,
		"negative qty":  `{"lastUpdateId":1,"bids":[],"asks":[["1","-2"]]}`,
		"wrong element": `{"lastUpdateId":1,"bids":"nope","asks":[]}`,
	}
	for name, payload := range cases {
		if _, err := DecodeDepth([]byte(payload), "X", time.Now()); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestTopOfBookValid(t *testing.T) {
	cases := []struct {
		name     string
		bid, ask string
		valid    bool
	}{
		{"normal", "1.00", "1.01", true},
		{"zero bid", "0", "1.01", false},
		{"zero ask", "1.00", "0", false},
		{"negative", "-1", "1", false},
		{"crossed", "1.02", "1.01", false},
		{"locked", "1.01", "1.01", false},
	}
	for _, c := range cases {
		tob := TopOfBook{BestBid: PriceLevel{Price: d(c.bid)}, BestAsk: PriceLevel{Price: d(c.ask)}}
		if got := tob.Valid(); got != c.valid {
			t.Errorf("%s: Valid() = %v, want %v", c.name, got, c.valid)
		}
	}
}

func TestOpenOrderRemaining(t *testing.T) {
	o := OpenOrder{OriginalQuantity: d("100"), ExecutedQuantity: d("60")}
	if !o.Remaining().Equal(d("40")) {
		t.Fatalf("remaining = %s", o.Remaining())
	}
	over := OpenOrder{OriginalQuantity: d("1"), ExecutedQuantity: d("2")}
	if !over.Remaining().IsZero() {
		t.Fatalf("remaining must floor at zero, got %s", over.Remaining())
	}
}

func TestDepthCloneIsIndependent(t *testing.T) {
	orig := DepthSnapshot{Bids: []PriceLevel{{Price: d("1"), Quantity: d("1")}}}
	cp := orig.Clone()
	cp.Bids[0].Price = d("2")
	if !orig.Bids[0].Price.Equal(d("1")) {
		t.Fatalf("clone shares backing array")
	}
}

func TestNewPosition(t *testing.T) {
	balances := []Balance{
		{Asset: "DOGE", Free: d("12.5"), Locked: d("1")},
		{Asset: "USDT", Free: d("100"), Locked: d("0")},
	}
	pos := NewPosition(balances, "DOGE", "USDT")
	if !pos.BaseFree.Equal(d("12.5")) || !pos.QuoteFree.Equal(d("100")) || !pos.BaseLocked.Equal(d("1")) {
		t.Fatalf("unexpected position: %+v", pos)
	}
	missing := NewPosition(balances, "BTC", "USDT")
	if !missing.BaseFree.IsZero() {
		t.Fatalf("missing asset should be zero, got %s", missing.BaseFree)
	}
}

func TestParseSide(t *testing.T) {
	if s, err := ParseSide("buy"); err != nil || s != SideBuy {
		t.Fatalf("ParseSide(buy) = %v, %v", s, err)
	}
	if _, err := ParseSide("hold"); err == nil {
		t.Fatalf("expected error for unknown side")
	}
}

func TestSymbolInfoRounding(t *testing.T) {
	info := SymbolInfo{TickSize: d("0.00001"), StepSize: d("1")}
	if got := info.RoundQuantity(d("60.7")); !got.Equal(d("60")) {
		t.Errorf("RoundQuantity = %s", got)
	}
	if got := info.RoundPrice(SideBuy, d("0.123456")); !got.Equal(d("0.12345")) {
		t.Errorf("RoundPrice(BUY) = %s", got)
	}
	if got := info.RoundPrice(SideSell, d("0.123451")); !got.Equal(d("0.12346")) {
		t.Errorf("RoundPrice(SELL) = %s", got)
	}
	if got := info.RoundPrice(SideSell, d("0.12345")); !got.Equal(d("0.12345")) {
		t.Errorf("on-grid price must not move, got %s", got)
	}
	if got := (SymbolInfo{}).RoundQuantity(d("12.5")); !got.Equal(d("12.5")) {
		t.Errorf("missing step should not round, got %s", got)
	}
}
