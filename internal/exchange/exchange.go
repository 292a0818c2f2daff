package exchange

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// OrderStatus follows the unified exchange vocabulary (open, closed, canceled, ...).
type OrderStatus string

const (
	StatusOpen     OrderStatus = "open"
	StatusClosed   OrderStatus = "closed"
	StatusCanceled OrderStatus = "canceled"
	StatusExpired  OrderStatus = "expired"
	StatusRejected OrderStatus = "rejected"
)

// Asset is the spendable amount of one currency.
type Asset struct {
	Free decimal.Decimal
}

// Balance is keyed by currency code.
type Balance map[string]Asset

// Free returns the free amount of currency, zero when absent.
func (b Balance) Free(currency string) decimal.Decimal {
	if a, ok := b[currency]; ok {
		return a.Free
	}
	return decimal.Zero
}

type Ticker struct {
	Symbol string
	Last   decimal.Decimal
}

// Order is the result of a single submission or status poll.
type Order struct {
	ID     string
	Symbol string
	Side   Side
	Amount decimal.Decimal
	Cost   decimal.Decimal
	Status OrderStatus
}

type Candle struct {
	OpenTime time.Time
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
	Volume   decimal.Decimal
}

// Exchange is the boundary to the trading venue. Symbols use BASE/QUOTE form.
type Exchange interface {
	FetchBalance(ctx context.Context) (Balance, error)
	FetchTicker(ctx context.Context, symbol string) (Ticker, error)
	CreateMarketBuyOrder(ctx context.Context, symbol string, amount decimal.Decimal) (Order, error)
	CreateMarketSellOrder(ctx context.Context, symbol string, amount decimal.Decimal) (Order, error)
	FetchOrder(ctx context.Context, id, symbol string) (Order, error)
	MinOrderSize(ctx context.Context, symbol string) (decimal.Decimal, error)
	FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
}

// ErrInsufficientFunds is wrapped by adapters when the venue refuses an order
// for lack of balance.
var ErrInsufficientFunds = errors.New("insufficient funds")

// APIError is a venue error with a numeric code; it satisfies retry.Coder.
type APIError struct {
	Venue   string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: code %d: %s", e.Venue, e.Status, e.Message)
}

func (e *APIError) Code() int { return e.Status }

// SplitSymbol returns base and quote of a BASE/QUOTE symbol.
func SplitSymbol(symbol string) (string, string, error) {
	parts := strings.Split(symbol, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.Errorf("symbol %q is not BASE/QUOTE", symbol)
	}
	return parts[0], parts[1], nil
}

// PortfolioValue is base.free * last + quote.free.
func PortfolioValue(bal Balance, symbol string, last decimal.Decimal) (decimal.Decimal, error) {
	base, quote, err := SplitSymbol(symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return bal.Free(base).Mul(last).Add(bal.Free(quote)), nil
}
