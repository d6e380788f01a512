package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceLevel is a single price/quantity pair. A zero quantity means the level
// is absent.
type PriceLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// TopOfBook is the best bid and best ask for a symbol as reported by the book
// ticker stream.
type TopOfBook struct {
	Symbol     string     `json:"symbol"`
	BestBid    PriceLevel `json:"best_bid"`
	BestAsk    PriceLevel `json:"best_ask"`
	UpdateID   int64      `json:"update_id"`
	ReceivedAt time.Time  `json:"received_at"`
}

// IsZero reports whether no ticker has been received yet.
func (t TopOfBook) IsZero() bool {
	return t.Symbol == "" && t.BestBid.Price.IsZero() && t.BestAsk.Price.IsZero()
}

// Valid reports whether both sides carry a positive price and the book is not
// crossed.
func (t TopOfBook) Valid() bool {
	if !t.BestBid.Price.IsPositive() || !t.BestAsk.Price.IsPositive() {
		return false
	}
	return t.BestBid.Price.LessThan(t.BestAsk.Price)
}

// Spread returns ask minus bid. The value is meaningless for invalid books.
func (t TopOfBook) Spread() decimal.Decimal {
	return t.BestAsk.Price.Sub(t.BestBid.Price)
}

// DepthSnapshot holds the partial order book. Bids are ordered by descending
// price and asks by ascending price.
type DepthSnapshot struct {
	Symbol       string       `json:"symbol"`
	LastUpdateID int64        `json:"last_update_id"`
	Bids         []PriceLevel `json:"bids"`
	Asks         []PriceLevel `json:"asks"`
	ReceivedAt   time.Time    `json:"received_at"`
}

// Clone returns a copy that shares no slices with d.
func (d DepthSnapshot) Clone() DepthSnapshot {
	out := d
	if d.Bids != nil {
		out.Bids = append([]PriceLevel(nil), d.Bids...)
	}
	if d.Asks != nil {
		out.Asks = append([]PriceLevel(nil), d.Asks...)
	}
	return out
}

// BookSnapshot is the immutable pair handed to book observers. TopOfBook and
// Depth come from independent feeds and are not required to agree.
type BookSnapshot struct {
	TopOfBook TopOfBook     `json:"top_of_book"`
	Depth     DepthSnapshot `json:"order_book_depth"`
}

// Clone returns a deep copy of the snapshot.
func (b BookSnapshot) Clone() BookSnapshot {
	return BookSnapshot{TopOfBook: b.TopOfBook, Depth: b.Depth.Clone()}
}
