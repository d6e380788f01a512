package models

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide converts an exchange side string into a Side.
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(SideBuy):
		return SideBuy, nil
	case string(SideSell):
		return SideSell, nil
	default:
		return "", fmt.Errorf("unknown order side %q", s)
	}
}

// OpenOrder is a resting order as reported by the exchange.
type OpenOrder struct {
	OrderID          int64           `json:"order_id"`
	ClientOrderID    string          `json:"client_order_id,omitempty"`
	Symbol           string          `json:"symbol"`
	Side             Side            `json:"side"`
	Price            decimal.Decimal `json:"price"`
	OriginalQuantity decimal.Decimal `json:"original_quantity"`
	ExecutedQuantity decimal.Decimal `json:"executed_quantity"`
}

// Remaining is the unfilled quantity, never negative.
func (o OpenOrder) Remaining() decimal.Decimal {
	rem := o.OriginalQuantity.Sub(o.ExecutedQuantity)
	if rem.IsNegative() {
		return decimal.Zero
	}
	return rem
}

// DesiredQuote is the order one side of the book should carry after a
// reconciliation pass.
type DesiredQuote struct {
	Side  Side            `json:"side"`
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// Balance is one asset row of the account.
type Balance struct {
	Asset  string          `json:"asset"`
	Free   decimal.Decimal `json:"free"`
	Locked decimal.Decimal `json:"locked"`
}

// FindBalance returns the balance for asset, or a zero balance when the
// account does not list it.
func FindBalance(balances []Balance, asset string) Balance {
	for _, b := range balances {
		if strings.EqualFold(b.Asset, asset) {
			return b
		}
	}
	return Balance{Asset: asset}
}

// Position is a point-in-time view of both assets of a trading pair.
type Position struct {
	BaseAsset   string          `json:"base_asset"`
	QuoteAsset  string          `json:"quote_asset"`
	BaseFree    decimal.Decimal `json:"base_free"`
	BaseLocked  decimal.Decimal `json:"base_locked"`
	QuoteFree   decimal.Decimal `json:"quote_free"`
	QuoteLocked decimal.Decimal `json:"quote_locked"`
}

// NewPosition builds a Position from an account balance list.
func NewPosition(balances []Balance, baseAsset, quoteAsset string) Position {
	base := FindBalance(balances, baseAsset)
	quote := FindBalance(balances, quoteAsset)
	return Position{
		BaseAsset:   baseAsset,
		QuoteAsset:  quoteAsset,
		BaseFree:    base.Free,
		BaseLocked:  base.Locked,
		QuoteFree:   quote.Free,
		QuoteLocked: quote.Locked,
	}
}

// OrderAck is the exchange acknowledgement of a new order.
type OrderAck struct {
	OrderID       int64           `json:"order_id"`
	ClientOrderID string          `json:"client_order_id"`
	Symbol        string          `json:"symbol"`
	Side          Side            `json:"side"`
	Type          string          `json:"type"`
	Price         decimal.Decimal `json:"price"`
	Quantity      decimal.Decimal `json:"quantity"`
}

// SymbolInfo carries the trading filters of a symbol. Zero TickSize or
// StepSize means the exchange did not report the filter.
type SymbolInfo struct {
	Symbol     string          `json:"symbol"`
	BaseAsset  string          `json:"base_asset"`
	QuoteAsset string          `json:"quote_asset"`
	TickSize   decimal.Decimal `json:"tick_size"`
	StepSize   decimal.Decimal `json:"step_size"`
	MinQty     decimal.Decimal `json:"min_qty"`
}

// RoundQuantity floors qty to the lot step. Without a step qty is returned
// unchanged.
func (s SymbolInfo) RoundQuantity(qty decimal.Decimal) decimal.Decimal {
	if !s.StepSize.IsPositive() {
		return qty
	}
	return qty.Div(s.StepSize).Floor().Mul(s.StepSize)
}

// RoundPrice snaps price onto the tick grid away from the spread: bids round
// down, asks round up.
func (s SymbolInfo) RoundPrice(side Side, price decimal.Decimal) decimal.Decimal {
	if !s.TickSize.IsPositive() {
		return price
	}
	ticks := price.Div(s.TickSize)
	if side == SideSell {
		return ticks.Ceil().Mul(s.TickSize)
	}
	return ticks.Floor().Mul(s.TickSize)
}
