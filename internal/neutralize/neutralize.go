// Package neutralize flattens the base asset balance of a trading pair with a
// single market order.
package neutralize

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"quoteflow/logger"
	"quoteflow/models"
)

// Trader is the subset of the exchange client the neutralizer needs.
type Trader interface {
	GetBalances(ctx context.Context) ([]models.Balance, error)
	PlaceMarketOrder(ctx context.Context, symbol string, side models.Side, qty decimal.Decimal) (models.OrderAck, error)
}

// Outcome describes what Neutralize did. Ack is nil when no order was needed.
type Outcome struct {
	Asset    string
	Balance  decimal.Decimal
	Side     models.Side
	Quantity decimal.Decimal
	Ack      *models.OrderAck
}

type Neutralizer struct {
	trader  Trader
	filters models.SymbolInfo
	log     *logger.Log
}

type Option func(*Neutralizer)

// WithFilters rounds the order quantity down to the symbol's lot step.
func WithFilters(info models.SymbolInfo) Option {
	return func(n *Neutralizer) { n.filters = info }
}

func New(trader Trader, opts ...Option) *Neutralizer {
	n := &Neutralizer{trader: trader, log: logger.GetLogger()}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Neutralize reads the free balance of baseAsset and trades it back to zero.
// The read and the order are not atomic: fills landing in between are not
// accounted for.
func (n *Neutralizer) Neutralize(ctx context.Context, symbol, baseAsset string) (Outcome, error) {
	log := n.log.WithComponent("neutralize").WithSymbol(symbol)

	balances, err := n.trader.GetBalances(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("fetch balances: %w", err)
	}
	bal := models.FindBalance(balances, baseAsset)
	out := Outcome{Asset: baseAsset, Balance: bal.Free}

	switch bal.Free.Sign() {
	case 0:
		log.WithFields(logger.Fields{"asset": baseAsset}).Info("position already flat")
		return out, nil
	case 1:
		out.Side = models.SideSell
	default:
		out.Side = models.SideBuy
	}
	out.Quantity = n.filters.RoundQuantity(bal.Free.Abs())

	fields := logger.Fields{
		"asset":    baseAsset,
		"balance":  bal.Free.String(),
		"side":     out.Side,
		"quantity": out.Quantity.String(),
	}
	if !out.Quantity.IsPositive() {
		log.WithFields(fields).Info("balance below lot step, nothing to trade")
		return out, nil
	}

	ack, err := n.trader.PlaceMarketOrder(ctx, symbol, out.Side, out.Quantity)
	if err != nil {
		log.WithError(err).WithFields(fields).Error("failed to place neutralizing order")
		return out, fmt.Errorf("place market order: %w", err)
	}
	out.Ack = &ack
	fields["order_id"] = ack.OrderID
	log.WithFields(fields).Info("position neutralized")
	return out, nil
}
