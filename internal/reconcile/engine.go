// Package reconcile turns top of book updates into limit order placements.
//
// Each pass compares the desired two-sided quote against the open orders the
// exchange reports and places only the missing quantity. Orders are never
// cancelled or amended here; stale quotes are left resting.
package reconcile

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"quoteflow/logger"
	"quoteflow/models"
)

// Trader is the subset of the exchange client the engine needs.
type Trader interface {
	ListOpenOrders(ctx context.Context, symbol string) ([]models.OpenOrder, error)
	PlaceLimitOrder(ctx context.Context, symbol string, side models.Side, price, qty decimal.Decimal) (models.OrderAck, error)
	GetBalances(ctx context.Context) ([]models.Balance, error)
}

// Settings configures the quote for one symbol.
type Settings struct {
	Symbol      string
	TargetSize  decimal.Decimal
	OffsetTicks int
	// Filters supplies tick size, lot step and the asset pair. Zero values
	// disable offsetting and rounding.
	Filters       models.SymbolInfo
	FetchPosition bool
}

// SideOutcome describes what a pass did for one side.
type SideOutcome struct {
	Quote     models.DesiredQuote
	Resident  decimal.Decimal
	Remaining decimal.Decimal
	Placed    *models.OrderAck
	Err       error
}

// Result summarises one pass.
type Result struct {
	// Skipped is set when the triggering top of book was unusable.
	Skipped  bool
	Sides    []SideOutcome
	Position *models.Position
}

// Placements counts the orders placed by the pass.
func (r Result) Placements() int {
	n := 0
	for _, s := range r.Sides {
		if s.Placed != nil {
			n++
		}
	}
	return n
}

// Failures counts sides whose placement failed.
func (r Result) Failures() int {
	n := 0
	for _, s := range r.Sides {
		if s.Err != nil {
			n++
		}
	}
	return n
}

type Engine struct {
	trader   Trader
	settings Settings
	log      *logger.Log
}

func NewEngine(trader Trader, settings Settings) *Engine {
	return &Engine{
		trader:   trader,
		settings: settings,
		log:      logger.GetLogger(),
	}
}

func (e *Engine) Settings() Settings { return e.settings }

// Reconcile runs one pass against tob. An invalid tob is a no-op. The only
// errors returned are a failed open order fetch and cancellation before any
// side was evaluated; per side failures are reported in the result.
func (e *Engine) Reconcile(ctx context.Context, tob models.TopOfBook) (Result, error) {
	log := e.log.WithComponent("reconcile").WithSymbol(e.settings.Symbol)

	if !tob.Valid() {
		log.WithFields(logger.Fields{
			"best_bid": tob.BestBid.Price.String(),
			"best_ask": tob.BestAsk.Price.String(),
		}).Debug("skipping pass on unusable top of book")
		return Result{Skipped: true}, nil
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	var res Result
	if e.settings.FetchPosition {
		res.Position = e.fetchPosition(ctx, log)
	}

	orders, err := e.trader.ListOpenOrders(ctx, e.settings.Symbol)
	if err != nil {
		log.WithError(err).Warn("failed to fetch open orders, aborting pass")
		return res, fmt.Errorf("fetch open orders: %w", err)
	}

	for _, side := range []models.Side{models.SideBuy, models.SideSell} {
		if ctx.Err() != nil {
			log.WithFields(logger.Fields{"side": side}).Info("pass cancelled before placing")
			break
		}
		res.Sides = append(res.Sides, e.reconcileSide(ctx, log, side, tob, orders))
	}
	return res, nil
}

func (e *Engine) reconcileSide(ctx context.Context, log *logger.Entry, side models.Side, tob models.TopOfBook, orders []models.OpenOrder) SideOutcome {
	quote := e.desiredQuote(side, tob)
	out := SideOutcome{Quote: quote}
	fields := logger.Fields{"side": side, "price": quote.Price.String()}

	if !quote.Price.IsPositive() {
		log.WithFields(fields).Warn("offset pushed quote price to zero, skipping side")
		return out
	}

	if resident, ok := findResident(orders, side, quote.Price); ok {
		out.Resident = resident.Remaining()
	}
	remaining := quote.Size.Sub(out.Resident)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	out.Remaining = e.settings.Filters.RoundQuantity(remaining)
	fields["resident"] = out.Resident.String()
	fields["quantity"] = out.Remaining.String()

	if !out.Remaining.IsPositive() {
		log.WithFields(fields).Debug("resident order covers target")
		return out
	}

	ack, err := e.trader.PlaceLimitOrder(ctx, e.settings.Symbol, side, quote.Price, out.Remaining)
	if err != nil {
		out.Err = err
		log.WithError(err).WithFields(fields).Error("failed to place order")
		return out
	}
	out.Placed = &ack
	fields["order_id"] = ack.OrderID
	log.WithFields(fields).Info("placed order")
	return out
}

// desiredQuote moves the best price outward by the configured tick offset
// and keeps it on the tick grid.
func (e *Engine) desiredQuote(side models.Side, tob models.TopOfBook) models.DesiredQuote {
	price := tob.BestBid.Price
	if side == models.SideSell {
		price = tob.BestAsk.Price
	}
	tick := e.settings.Filters.TickSize
	if e.settings.OffsetTicks > 0 && tick.IsPositive() {
		shift := tick.Mul(decimal.NewFromInt(int64(e.settings.OffsetTicks)))
		if side == models.SideBuy {
			price = price.Sub(shift)
		} else {
			price = price.Add(shift)
		}
	}
	price = e.settings.Filters.RoundPrice(side, price)
	return models.DesiredQuote{Side: side, Price: price, Size: e.settings.TargetSize}
}

func (e *Engine) fetchPosition(ctx context.Context, log *logger.Entry) *models.Position {
	balances, err := e.trader.GetBalances(ctx)
	if err != nil {
		log.WithError(err).Warn("failed to fetch position")
		return nil
	}
	f := e.settings.Filters
	pos := models.NewPosition(balances, f.BaseAsset, f.QuoteAsset)
	log.WithFields(logger.Fields{
		"base_asset":   pos.BaseAsset,
		"base_free":    pos.BaseFree.String(),
		"base_locked":  pos.BaseLocked.String(),
		"quote_asset":  pos.QuoteAsset,
		"quote_free":   pos.QuoteFree.String(),
		"quote_locked": pos.QuoteLocked.String(),
	}).Info("current position")
	return &pos
}

// findResident returns the first open order on side resting exactly at price.
func findResident(orders []models.OpenOrder, side models.Side, price decimal.Decimal) (models.OpenOrder, bool) {
	for _, o := range orders {
		if o.Side == side && o.Price.Equal(price) {
			return o, true
		}
	}
	return models.OpenOrder{}, false
}
