package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrMissingField is returned when a required field is absent from a feed
// payload.
var ErrMissingField = errors.New("missing field")

// TickerMessage mirrors the Binance @bookTicker payload.
type TickerMessage struct {
	UpdateID     int64  `json:"u"`
	Symbol       string `json:"s"`
	BestBidPrice string `json:"b"`
	BestBidQty   string `json:"B"`
	BestAskPrice string `json:"a"`
	BestAskQty   string `json:"A"`
}

// DepthMessage mirrors the Binance partial depth (@depthN) payload.
type DepthMessage struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// DecodeTicker parses a raw book ticker payload. symbol is used when the
// payload does not carry one.
func DecodeTicker(data []byte, symbol string, receivedAt time.Time) (TopOfBook, error) {
	var msg TickerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return TopOfBook{}, fmt.Errorf("decode ticker: %w", err)
	}
	return msg.TopOfBook(symbol, receivedAt)
}

// TopOfBook converts the wire message into the domain type.
func (m TickerMessage) TopOfBook(symbol string, receivedAt time.Time) (TopOfBook, error) {
	bidPx, err := parseField("b", m.BestBidPrice)
	if err != nil {
		return TopOfBook{}, err
	}
	bidQty, err := parseField("B", m.BestBidQty)
	if err != nil {
		return TopOfBook{}, err
	}
	askPx, err := parseField("a", m.BestAskPrice)
	if err != nil {
		return TopOfBook{}, err
	}
	askQty, err := parseField("A", m.BestAskQty)
	if err != nil {
		return TopOfBook{}, err
	}

	if m.Symbol != "" {
		symbol = m.Symbol
	}
	return TopOfBook{
		Symbol:     strings.ToUpper(symbol),
		BestBid:    PriceLevel{Price: bidPx, Quantity: bidQty},
		BestAsk:    PriceLevel{Price: askPx, Quantity: askQty},
		UpdateID:   m.UpdateID,
		ReceivedAt: receivedAt,
	}, nil
}

// DecodeDepth parses a raw partial depth payload.
func DecodeDepth(data []byte, symbol string, receivedAt time.Time) (DepthSnapshot, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return DepthSnapshot{}, fmt.Errorf("decode depth: %w", err)
	}
	for _, key := range []string{"bids", "asks"} {
		if _, ok := raw[key]; !ok {
			return DepthSnapshot{}, fmt.Errorf("%w: %s", ErrMissingField, key)
		}
	}

	var msg DepthMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return DepthSnapshot{}, fmt.Errorf("decode depth: %w", err)
	}
	return msg.Snapshot(symbol, receivedAt)
}

// Snapshot converts the wire message into the domain type.
func (m DepthMessage) Snapshot(symbol string, receivedAt time.Time) (DepthSnapshot, error) {
	bids, err := parseLevels("bids", m.Bids)
	if err != nil {
		return DepthSnapshot{}, err
	}
	asks, err := parseLevels("asks", m.Asks)
	if err != nil {
		return DepthSnapshot{}, err
	}
	return DepthSnapshot{
		Symbol:       strings.ToUpper(symbol),
		LastUpdateID: m.LastUpdateID,
		Bids:         bids,
		Asks:         asks,
		ReceivedAt:   receivedAt,
	}, nil
}

func parseLevels(name string, rows [][]string) ([]PriceLevel, error) {
	levels := make([]PriceLevel, 0, len(rows))
	for i, row := range rows {
		if len(row) < 2 {
			return nil, fmt.Errorf("%s[%d]: %w: expected [price, quantity]", name, i, ErrMissingField)
		}
		price, err := decimal.NewFromString(row[0])
		if err != nil {
			return nil, fmt.Errorf("%s[%d] price %q: %w", name, i, row[0], err)
		}
		qty, err := decimal.NewFromString(row[1])
		if err != nil {
			return nil, fmt.Errorf("%s[%d] quantity %q: %w", name, i, row[1], err)
		}
		if qty.IsNegative() {
			return nil, fmt.Errorf("%s[%d] negative quantity %s", name, i, row[1])
		}
		levels = append(levels, PriceLevel{Price: price, Quantity: qty})
	}
	return levels, nil
}

func parseField(name, value string) (decimal.Decimal, error) {
	if strings.TrimSpace(value) == "" {
		return decimal.Decimal{}, fmt.Errorf("%w: %s", ErrMissingField, name)
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("field %s %q: %w", name, value, err)
	}
	return d, nil
}
