package exchange

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Binance is the spot adapter. Symbols are translated from BASE/QUOTE to the
// venue's concatenated form.
type Binance struct {
	client *binance.Client

	mu   sync.Mutex
	lots map[string]lotSize
}

// lotSize is the LOT_SIZE filter of one symbol. Quantities must be a
// multiple of Step and at least Min.
type lotSize struct {
	Min  decimal.Decimal
	Step decimal.Decimal
}

// round floors amount to a multiple of the step.
func (l lotSize) round(amount decimal.Decimal) decimal.Decimal {
	if !l.Step.IsPositive() {
		return amount
	}
	return amount.Div(l.Step).Floor().Mul(l.Step)
}

// NewBinance builds a spot client. testnet selects the spot testnet endpoints
// and must be decided before any other client is created in the process.
func NewBinance(apiKey, secret string, testnet bool) *Binance {
	binance.UseTestnet = testnet
	return &Binance{client: binance.NewClient(apiKey, secret), lots: map[string]lotSize{}}
}

// NewBinanceWithBaseURL points the client at a custom endpoint (tests, proxies).
func NewBinanceWithBaseURL(apiKey, secret, baseURL string) *Binance {
	c := binance.NewClient(apiKey, secret)
	c.BaseURL = baseURL
	return &Binance{client: c, lots: map[string]lotSize{}}
}

func venueSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "")
}

func (b *Binance) FetchBalance(ctx context.Context) (Balance, error) {
	acct, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, wrapBinance(err, "fetch balance")
	}
	out := make(Balance, len(acct.Balances))
	for _, bal := range acct.Balances {
		free, err := decimal.NewFromString(bal.Free)
		if err != nil {
			return nil, errors.Wrapf(err, "binance: parse free %s", bal.Asset)
		}
		out[bal.Asset] = Asset{Free: free}
	}
	return out, nil
}

func (b *Binance) FetchTicker(ctx context.Context, symbol string) (Ticker, error) {
	prices, err := b.client.NewListPricesService().Symbol(venueSymbol(symbol)).Do(ctx)
	if err != nil {
		return Ticker{}, wrapBinance(err, "fetch ticker")
	}
	if len(prices) == 0 {
		return Ticker{}, errors.Errorf("binance: no price for %s", symbol)
	}
	last, err := decimal.NewFromString(prices[0].Price)
	if err != nil {
		return Ticker{}, errors.Wrap(err, "binance: parse price")
	}
	return Ticker{Symbol: symbol, Last: last}, nil
}

func (b *Binance) CreateMarketBuyOrder(ctx context.Context, symbol string, amount decimal.Decimal) (Order, error) {
	return b.createMarket(ctx, symbol, Buy, amount)
}

func (b *Binance) CreateMarketSellOrder(ctx context.Context, symbol string, amount decimal.Decimal) (Order, error) {
	return b.createMarket(ctx, symbol, Sell, amount)
}

func (b *Binance) createMarket(ctx context.Context, symbol string, side Side, amount decimal.Decimal) (Order, error) {
	lot, err := b.lotSize(ctx, symbol)
	if err != nil {
		return Order{}, err
	}
	qty := lot.round(amount)
	if !qty.IsPositive() || qty.LessThan(lot.Min) {
		return Order{}, errors.Errorf("binance: %s %s rounds to %s, below LOT_SIZE minimum %s", side, amount, qty, lot.Min)
	}
	sideType := binance.SideTypeBuy
	if side == Sell {
		sideType = binance.SideTypeSell
	}
	res, err := b.client.NewCreateOrderService().
		Symbol(venueSymbol(symbol)).
		Side(sideType).
		Type(binance.OrderTypeMarket).
		Quantity(qty.String()).
		Do(ctx)
	if err != nil {
		return Order{}, wrapBinance(err, "create "+string(side)+" order")
	}
	cost, _ := decimal.NewFromString(res.CummulativeQuoteQuantity)
	return Order{
		ID:     strconv.FormatInt(res.OrderID, 10),
		Symbol: symbol,
		Side:   side,
		Amount: qty,
		Cost:   cost,
		Status: mapBinanceStatus(res.Status),
	}, nil
}

func (b *Binance) FetchOrder(ctx context.Context, id, symbol string) (Order, error) {
	orderID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return Order{}, errors.Wrapf(err, "binance: order id %q", id)
	}
	res, err := b.client.NewGetOrderService().Symbol(venueSymbol(symbol)).OrderID(orderID).Do(ctx)
	if err != nil {
		return Order{}, wrapBinance(err, "fetch order")
	}
	cost, _ := decimal.NewFromString(res.CummulativeQuoteQuantity)
	amount, _ := decimal.NewFromString(res.ExecutedQuantity)
	side := Buy
	if res.Side == binance.SideTypeSell {
		side = Sell
	}
	return Order{
		ID:     id,
		Symbol: symbol,
		Side:   side,
		Amount: amount,
		Cost:   cost,
		Status: mapBinanceStatus(res.Status),
	}, nil
}

// MinOrderSize reads the LOT_SIZE filter of the symbol.
func (b *Binance) MinOrderSize(ctx context.Context, symbol string) (decimal.Decimal, error) {
	lot, err := b.lotSize(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return lot.Min, nil
}

// lotSize fetches the LOT_SIZE filter once per symbol.
func (b *Binance) lotSize(ctx context.Context, symbol string) (lotSize, error) {
	b.mu.Lock()
	lot, ok := b.lots[symbol]
	b.mu.Unlock()
	if ok {
		return lot, nil
	}

	info, err := b.client.NewExchangeInfoService().Symbol(venueSymbol(symbol)).Do(ctx)
	if err != nil {
		return lotSize{}, wrapBinance(err, "exchange info")
	}
	for _, s := range info.Symbols {
		if s.Symbol != venueSymbol(symbol) {
			continue
		}
		f := s.LotSizeFilter()
		if f == nil {
			break
		}
		if lot.Min, err = decimal.NewFromString(f.MinQuantity); err != nil {
			return lotSize{}, errors.Wrap(err, "binance: parse minQty")
		}
		if lot.Step, err = decimal.NewFromString(f.StepSize); err != nil {
			return lotSize{}, errors.Wrap(err, "binance: parse stepSize")
		}
		b.mu.Lock()
		b.lots[symbol] = lot
		b.mu.Unlock()
		return lot, nil
	}
	return lotSize{}, errors.Errorf("binance: no LOT_SIZE filter for %s", symbol)
}

func (b *Binance) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	klines, err := b.client.NewKlinesService().
		Symbol(venueSymbol(symbol)).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, wrapBinance(err, "fetch klines")
	}
	out := make([]Candle, 0, len(klines))
	for _, k := range klines {
		out = append(out, Candle{
			OpenTime: time.UnixMilli(k.OpenTime).UTC(),
			Open:     parseDec(k.Open),
			High:     parseDec(k.High),
			Low:      parseDec(k.Low),
			Close:    parseDec(k.Close),
			Volume:   parseDec(k.Volume),
		})
	}
	return out, nil
}

// parseDec treats malformed numbers as zero; kline fields are informational.
func parseDec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func mapBinanceStatus(s binance.OrderStatusType) OrderStatus {
	switch s {
	case binance.OrderStatusTypeFilled:
		return StatusClosed
	case binance.OrderStatusTypeNew, binance.OrderStatusTypePartiallyFilled:
		return StatusOpen
	case binance.OrderStatusTypeCanceled, binance.OrderStatusTypePendingCancel:
		return StatusCanceled
	case binance.OrderStatusTypeExpired:
		return StatusExpired
	case binance.OrderStatusTypeRejected:
		return StatusRejected
	default:
		return OrderStatus(strings.ToLower(string(s)))
	}
}

// wrapBinance converts venue API errors into *APIError so the retry layer can
// see the numeric code (-1003 is Binance's request-weight limit).
func wrapBinance(err error, op string) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		e := &APIError{Venue: "binance", Status: int(apiErr.Code), Message: apiErr.Message}
		if strings.Contains(strings.ToLower(apiErr.Message), "insufficient") {
			return errors.Wrapf(ErrInsufficientFunds, "%s: %s", op, e.Error())
		}
		return errors.Wrap(e, op)
	}
	return errors.Wrapf(err, "binance: %s", op)
}
