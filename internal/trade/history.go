package trade

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Action is what the decision step asks for.
type Action string

const (
	Buy  Action = "BUY"
	Sell Action = "SELL"
	Hold Action = "HOLD"
)

// ParseAction accepts any casing; unknown values are HOLD.
func ParseAction(s string) Action {
	switch Action(strings.ToUpper(strings.TrimSpace(s))) {
	case Buy:
		return Buy
	case Sell:
		return Sell
	default:
		return Hold
	}
}

// Record is one executed trade.
type Record struct {
	Action     Action
	EntryPrice decimal.Decimal
	Amount     decimal.Decimal
	Cost       decimal.Decimal
	Timestamp  time.Time
	Sold       bool
	// Profit is set on a BUY once a SELL closes it.
	Profit *decimal.Decimal
	// OrderID is the venue order id, kept for the journal.
	OrderID string
}

// History is the in-memory trade log. It is owned by the control loop and is
// not safe for concurrent use.
type History struct {
	records []Record
}

func NewHistory(records ...Record) *History {
	return &History{records: append([]Record(nil), records...)}
}

func (h *History) Append(r Record) int {
	h.records = append(h.records, r)
	return len(h.records) - 1
}

// OldestOpenBuy returns the index of the first BUY not yet sold, or -1.
func (h *History) OldestOpenBuy() int {
	for i, r := range h.records {
		if r.Action == Buy && !r.Sold {
			return i
		}
	}
	return -1
}

// CloseBuy marks the BUY at i sold and attributes profit = sellCost - buy cost.
func (h *History) CloseBuy(i int, sellCost decimal.Decimal) decimal.Decimal {
	profit := sellCost.Sub(h.records[i].Cost)
	h.records[i].Sold = true
	h.records[i].Profit = &profit
	return profit
}

func (h *History) At(i int) Record { return h.records[i] }

func (h *History) Len() int { return len(h.records) }

// Records returns a copy safe to hand to models.
func (h *History) Records() []Record {
	return append([]Record(nil), h.records...)
}

// RealizedProfit sums the attributed profit of closed BUYs.
func (h *History) RealizedProfit() decimal.Decimal {
	total := decimal.Zero
	for _, r := range h.records {
		if r.Profit != nil {
			total = total.Add(*r.Profit)
		}
	}
	return total
}
