package exchange

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Paper is an in-memory venue that fills market orders instantly at the
// current price. It backs MODE=paper and the tests.
type Paper struct {
	mu       sync.Mutex
	symbol   string
	base     string
	quote    string
	price    decimal.Decimal
	minOrder decimal.Decimal
	balance  Balance
	orders   map[string]Order
	now      func() time.Time
}

func NewPaper(symbol string, quoteBalance, price, minOrder decimal.Decimal) (*Paper, error) {
	base, quote, err := SplitSymbol(symbol)
	if err != nil {
		return nil, err
	}
	return &Paper{
		symbol:   symbol,
		base:     base,
		quote:    quote,
		price:    price,
		minOrder: minOrder,
		balance: Balance{
			base:  {Free: decimal.Zero},
			quote: {Free: quoteBalance},
		},
		orders: make(map[string]Order),
		now:    time.Now,
	}, nil
}

// SetPrice moves the simulated market.
func (p *Paper) SetPrice(price decimal.Decimal) {
	p.mu.Lock()
	p.price = price
	p.mu.Unlock()
}

func (p *Paper) FetchBalance(ctx context.Context) (Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(Balance, len(p.balance))
	for k, v := range p.balance {
		out[k] = v
	}
	return out, nil
}

func (p *Paper) FetchTicker(ctx context.Context, symbol string) (Ticker, error) {
	if err := p.checkSymbol(symbol); err != nil {
		return Ticker{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return Ticker{Symbol: symbol, Last: p.price}, nil
}

func (p *Paper) CreateMarketBuyOrder(ctx context.Context, symbol string, amount decimal.Decimal) (Order, error) {
	return p.fill(symbol, Buy, amount)
}

func (p *Paper) CreateMarketSellOrder(ctx context.Context, symbol string, amount decimal.Decimal) (Order, error) {
	return p.fill(symbol, Sell, amount)
}

func (p *Paper) fill(symbol string, side Side, amount decimal.Decimal) (Order, error) {
	if err := p.checkSymbol(symbol); err != nil {
		return Order{}, err
	}
	if !amount.IsPositive() {
		return Order{}, errors.Errorf("paper: invalid amount %s", amount)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	cost := amount.Mul(p.price)
	baseFree := p.balance.Free(p.base)
	quoteFree := p.balance.Free(p.quote)
	switch side {
	case Buy:
		if cost.GreaterThan(quoteFree) {
			return Order{}, errors.Wrapf(ErrInsufficientFunds, "paper: need %s %s, have %s", cost, p.quote, quoteFree)
		}
		p.balance[p.quote] = Asset{Free: quoteFree.Sub(cost)}
		p.balance[p.base] = Asset{Free: baseFree.Add(amount)}
	case Sell:
		if amount.GreaterThan(baseFree) {
			return Order{}, errors.Wrapf(ErrInsufficientFunds, "paper: need %s %s, have %s", amount, p.base, baseFree)
		}
		p.balance[p.base] = Asset{Free: baseFree.Sub(amount)}
		p.balance[p.quote] = Asset{Free: quoteFree.Add(cost)}
	}

	o := Order{
		ID:     uuid.NewString(),
		Symbol: symbol,
		Side:   side,
		Amount: amount,
		Cost:   cost,
		Status: StatusClosed,
	}
	p.orders[o.ID] = o
	return o, nil
}

func (p *Paper) FetchOrder(ctx context.Context, id, symbol string) (Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[id]
	if !ok {
		return Order{}, errors.Errorf("paper: order %s not found", id)
	}
	return o, nil
}

func (p *Paper) MinOrderSize(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := p.checkSymbol(symbol); err != nil {
		return decimal.Zero, err
	}
	return p.minOrder, nil
}

// FetchCandles returns flat candles at the current price, newest last.
func (p *Paper) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	if err := p.checkSymbol(symbol); err != nil {
		return nil, err
	}
	step, err := time.ParseDuration(interval)
	if err != nil {
		step = time.Hour
	}
	p.mu.Lock()
	price := p.price
	p.mu.Unlock()

	end := p.now().Truncate(step)
	out := make([]Candle, 0, limit)
	for i := limit - 1; i >= 0; i-- {
		out = append(out, Candle{
			OpenTime: end.Add(-time.Duration(i) * step),
			Open:     price,
			High:     price,
			Low:      price,
			Close:    price,
			Volume:   decimal.Zero,
		})
	}
	return out, nil
}

func (p *Paper) checkSymbol(symbol string) error {
	if symbol != p.symbol {
		return errors.Errorf("paper: unknown symbol %s", symbol)
	}
	return nil
}
