// Package feed reads Binance market data streams.
package feed

import (
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"quoteflow/models"
)

const (
	FeedTicker = "book_ticker"
	FeedDepth  = "depth"
)

// Client builds per-symbol streams against one websocket base URL.
type Client struct {
	wsURL       string
	dialer      *websocket.Dialer
	depthLevels int
	intervalMs  int
	readTimeout time.Duration
}

type Option func(*Client)

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}

// WithDepth sets the partial depth level count and push interval.
func WithDepth(levels, intervalMs int) Option {
	return func(c *Client) {
		c.depthLevels = levels
		c.intervalMs = intervalMs
	}
}

// WithReadTimeout fails a read after d of silence. Zero disables it.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Client) { c.readTimeout = d }
}

func NewClient(wsURL string, opts ...Option) *Client {
	c := &Client{
		wsURL:       strings.TrimRight(wsURL, "/"),
		dialer:      websocket.DefaultDialer,
		depthLevels: 20,
		intervalMs:  100,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TickerURL is the book ticker stream address for symbol.
func (c *Client) TickerURL(symbol string) string {
	return fmt.Sprintf("%s/%s@bookTicker", c.wsURL, strings.ToLower(symbol))
}

// DepthURL is the partial depth stream address for symbol.
func (c *Client) DepthURL(symbol string) string {
	return fmt.Sprintf("%s/%s@depth%d@%dms", c.wsURL, strings.ToLower(symbol), c.depthLevels, c.intervalMs)
}

// Ticker opens a lazy best bid/ask stream.
func (c *Client) Ticker(symbol string) *Stream[models.TopOfBook] {
	return newStream(FeedTicker, strings.ToUpper(symbol), c.TickerURL(symbol), c.dialer, c.readTimeout, models.DecodeTicker)
}

// Depth opens a lazy partial depth stream.
func (c *Client) Depth(symbol string) *Stream[models.DepthSnapshot] {
	return newStream(FeedDepth, strings.ToUpper(symbol), c.DepthURL(symbol), c.dialer, c.readTimeout, models.DecodeDepth)
}
