package binance

import (
	"errors"
	"fmt"
	"strings"

	"github.com/adshao/go-binance/v2/common"
)

// RequestError is a failed REST call. Code is the Binance API error code when
// the exchange returned one.
type RequestError struct {
	Op     string
	Symbol string
	Code   int64
	Err    error
}

func (e *RequestError) Error() string {
	if e.Symbol == "" {
		return fmt.Sprintf("binance %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("binance %s %s: %v", e.Op, e.Symbol, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// RateLimited reports whether the exchange rejected the call for exceeding a
// request or order limit.
func (e *RequestError) RateLimited() bool {
	switch e.Code {
	case -1003, -1015:
		return true
	}
	msg := strings.ToLower(e.Err.Error())
	return strings.Contains(msg, "too many requests") || strings.Contains(msg, "rate limit")
}

// Banned reports whether the error signals an IP ban.
func (e *RequestError) Banned() bool {
	msg := strings.ToLower(e.Err.Error())
	return strings.Contains(msg, "ip") && strings.Contains(msg, "ban")
}

func wrap(op, symbol string, err error) error {
	if err == nil {
		return nil
	}
	re := &RequestError{Op: op, Symbol: symbol, Err: err}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		re.Code = apiErr.Code
	}
	return re
}
