// Package binance adapts the go-binance spot REST client to the types used by
// the quoting engine and the neutralizer.
package binance

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	api "github.com/adshao/go-binance/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"quoteflow/config"
	"quoteflow/logger"
	"quoteflow/models"
)

// RequestHook observes every REST call. err is nil on success.
type RequestHook func(op string, duration time.Duration, err error)

// Client is a rate limited, signed Binance spot client.
type Client struct {
	api     *api.Client
	limiter *rate.Limiter
	hook    RequestHook
	log     *logger.Log
}

type Option func(*Client)

// WithRateLimit caps outgoing requests. Non-positive values disable the cap.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 || burst <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithHTTPClient replaces the transport used for REST calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.api.HTTPClient = hc
		}
	}
}

// WithRequestHook registers a callback invoked after each call.
func WithRequestHook(h RequestHook) Option {
	return func(c *Client) { c.hook = h }
}

// NewClient builds a client against baseURL (scheme and host, no path).
func NewClient(baseURL string, creds config.Credentials, timeout time.Duration, opts ...Option) *Client {
	transport := &http.Transport{
		MaxIdleConns:       16,
		MaxConnsPerHost:    8,
		IdleConnTimeout:    90 * time.Second,
		DisableCompression: false,
	}

	c := &Client{
		api: api.NewClient(creds.APIKey, creds.APISecret),
		log: logger.GetLogger(),
	}
	c.api.BaseURL = strings.TrimRight(baseURL, "/")
	c.api.HTTPClient = &http.Client{Transport: transport, Timeout: timeout}

	for _, opt := range opts {
		opt(c)
	}

	c.log.WithComponent("binance_client").WithFields(logger.Fields{
		"base_url": c.api.BaseURL,
		"timeout":  timeout,
		"limited":  c.limiter != nil,
	}).Info("binance client initialized")
	return c
}

func (c *Client) call(ctx context.Context, op, symbol string, fn func() error) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return wrap(op, symbol, err)
		}
	}
	start := time.Now()
	err := wrap(op, symbol, fn())
	if c.hook != nil {
		c.hook(op, time.Since(start), err)
	}
	if err != nil {
		if re, ok := err.(*RequestError); ok && (re.RateLimited() || re.Banned()) {
			c.log.WithComponent("binance_client").WithSymbol(symbol).WithFields(logger.Fields{
				"operation": op,
				"code":      re.Code,
			}).Error("binance request limit hit")
		}
	}
	return err
}

// SyncTime aligns request timestamps with the exchange clock.
func (c *Client) SyncTime(ctx context.Context) (time.Duration, error) {
	var offset int64
	err := c.call(ctx, "sync_time", "", func() error {
		var err error
		offset, err = c.api.NewSetServerTimeService().Do(ctx)
		return err
	})
	return time.Duration(offset) * time.Millisecond, err
}

// ListOpenOrders returns the resting orders for symbol.
func (c *Client) ListOpenOrders(ctx context.Context, symbol string) ([]models.OpenOrder, error) {
	var raw []*api.Order
	err := c.call(ctx, "list_open_orders", symbol, func() error {
		var err error
		raw, err = c.api.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	orders := make([]models.OpenOrder, 0, len(raw))
	for _, o := range raw {
		order, err := convertOrder(o)
		if err != nil {
			return nil, wrap("list_open_orders", symbol, err)
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// PlaceLimitOrder submits a GTC limit order.
func (c *Client) PlaceLimitOrder(ctx context.Context, symbol string, side models.Side, price, qty decimal.Decimal) (models.OrderAck, error) {
	clientID := uuid.NewString()
	var resp *api.CreateOrderResponse
	err := c.call(ctx, "place_limit_order", symbol, func() error {
		var err error
		resp, err = c.api.NewCreateOrderService().
			Symbol(symbol).
			Side(api.SideType(side)).
			Type(api.OrderTypeLimit).
			TimeInForce(api.TimeInForceTypeGTC).
			Price(price.String()).
			Quantity(qty.String()).
			NewClientOrderID(clientID).
			Do(ctx)
		return err
	})
	if err != nil {
		return models.OrderAck{}, err
	}
	return models.OrderAck{
		OrderID:       resp.OrderID,
		ClientOrderID: clientID,
		Symbol:        symbol,
		Side:          side,
		Type:          string(api.OrderTypeLimit),
		Price:         price,
		Quantity:      qty,
	}, nil
}

// PlaceMarketOrder submits a market order for qty of the base asset.
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side models.Side, qty decimal.Decimal) (models.OrderAck, error) {
	clientID := uuid.NewString()
	var resp *api.CreateOrderResponse
	err := c.call(ctx, "place_market_order", symbol, func() error {
		var err error
		resp, err = c.api.NewCreateOrderService().
			Symbol(symbol).
			Side(api.SideType(side)).
			Type(api.OrderTypeMarket).
			Quantity(qty.String()).
			NewClientOrderID(clientID).
			Do(ctx)
		return err
	})
	if err != nil {
		return models.OrderAck{}, err
	}
	return models.OrderAck{
		OrderID:       resp.OrderID,
		ClientOrderID: clientID,
		Symbol:        symbol,
		Side:          side,
		Type:          string(api.OrderTypeMarket),
		Quantity:      qty,
	}, nil
}

// CancelOrder cancels one resting order.
func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	return c.call(ctx, "cancel_order", symbol, func() error {
		_, err := c.api.NewCancelOrderService().Symbol(symbol).OrderID(orderID).Do(ctx)
		return err
	})
}

// CancelAllOrders cancels every open order on symbol and returns how many
// were cancelled. Individual failures do not stop the sweep; the first one
// is returned.
func (c *Client) CancelAllOrders(ctx context.Context, symbol string) (int, error) {
	orders, err := c.ListOpenOrders(ctx, symbol)
	if err != nil {
		return 0, err
	}
	var (
		cancelled int
		firstErr  error
	)
	for _, o := range orders {
		if err := c.CancelOrder(ctx, symbol, o.OrderID); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		cancelled++
	}
	return cancelled, firstErr
}

// GetBalances returns the account balances.
func (c *Client) GetBalances(ctx context.Context) ([]models.Balance, error) {
	var account *api.Account
	err := c.call(ctx, "get_account", "", func() error {
		var err error
		account, err = c.api.NewGetAccountService().Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	balances := make([]models.Balance, 0, len(account.Balances))
	for _, b := range account.Balances {
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			return nil, wrap("get_account", "", fmt.Errorf("free balance of %s: %w", b.Asset, err))
		}
		locked, err := decimal.NewFromString(b.Locked)
		if err != nil {
			return nil, wrap("get_account", "", fmt.Errorf("locked balance of %s: %w", b.Asset, err))
		}
		balances = append(balances, models.Balance{Asset: b.Asset, Free: free, Locked: locked})
	}
	return balances, nil
}

// SymbolInfo fetches the base/quote assets and trading filters of symbol.
func (c *Client) SymbolInfo(ctx context.Context, symbol string) (models.SymbolInfo, error) {
	var info *api.ExchangeInfo
	err := c.call(ctx, "exchange_info", symbol, func() error {
		var err error
		info, err = c.api.NewExchangeInfoService().Symbol(symbol).Do(ctx)
		return err
	})
	if err != nil {
		return models.SymbolInfo{}, err
	}

	for _, s := range info.Symbols {
		if !strings.EqualFold(s.Symbol, symbol) {
			continue
		}
		out := models.SymbolInfo{
			Symbol:     s.Symbol,
			BaseAsset:  s.BaseAsset,
			QuoteAsset: s.QuoteAsset,
		}
		if pf := s.PriceFilter(); pf != nil {
			out.TickSize, _ = decimal.NewFromString(pf.TickSize)
		}
		if lf := s.LotSizeFilter(); lf != nil {
			out.StepSize, _ = decimal.NewFromString(lf.StepSize)
			out.MinQty, _ = decimal.NewFromString(lf.MinQuantity)
		}
		return out, nil
	}
	return models.SymbolInfo{}, wrap("exchange_info", symbol, fmt.Errorf("symbol not listed"))
}

func convertOrder(o *api.Order) (models.OpenOrder, error) {
	side, err := models.ParseSide(string(o.Side))
	if err != nil {
		return models.OpenOrder{}, err
	}
	price, err := decimal.NewFromString(o.Price)
	if err != nil {
		return models.OpenOrder{}, fmt.Errorf("order %d price: %w", o.OrderID, err)
	}
	orig, err := decimal.NewFromString(o.OrigQuantity)
	if err != nil {
		return models.OpenOrder{}, fmt.Errorf("order %d quantity: %w", o.OrderID, err)
	}
	exec, err := decimal.NewFromString(o.ExecutedQuantity)
	if err != nil {
		return models.OpenOrder{}, fmt.Errorf("order %d executed quantity: %w", o.OrderID, err)
	}
	return models.OpenOrder{
		OrderID:          o.OrderID,
		ClientOrderID:    o.ClientOrderID,
		Symbol:           o.Symbol,
		Side:             side,
		Price:            price,
		OriginalQuantity: orig,
		ExecutedQuantity: exec,
	}, nil
}
