// Package pnl maintains the engine's position accounts and profit-and-loss
// accounting. Long and short exposure are tracked as two independent
// accounts, so a hedged long+short book keeps correct P&L on both legs.
package pnl

import (
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Side identifies the direction of a position.
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// Trade actions recorded in the trade log.
const (
	ActionOpen  = "OPEN"
	ActionClose = "CLOSE"
)

// notionalBase is the reference capital used for the pnlPercentage metric.
var notionalBase = decimal.NewFromInt(1000)

// Trade is one fill recorded by the context. Pnl is zero for opens and the
// realized delta for closes.
type Trade struct {
	Action string          `json:"action"`
	Side   Side            `json:"side"`
	Qty    decimal.Decimal `json:"qty"`
	Price  decimal.Decimal `json:"price"`
	Pnl    decimal.Decimal `json:"pnl"`
	Reason string          `json:"reason"`
	TS     int64           `json:"ts"`
}

// Account is one side's aggregated position.
type Account struct {
	Qty      decimal.Decimal `json:"qty"`
	AvgPrice decimal.Decimal `json:"avgPrice"`
}

// Context holds both side accounts, the running realized P&L and the trade
// log for a single symbol. It is not goroutine safe; the dispatcher owns it.
type Context struct {
	symbol    string
	long      Account
	short     Account
	realized  decimal.Decimal
	lastPrice decimal.Decimal
	trades    []Trade
}

func NewContext(symbol string) *Context {
	return &Context{symbol: symbol}
}

// OpenLong adds qty at price to the long account.
func (c *Context) OpenLong(qty, price decimal.Decimal, reason string, ts int64) {
	c.long = c.long.add(qty, price)
	c.append(Trade{Action: ActionOpen, Side: Long, Qty: qty, Price: price, Reason: reason, TS: ts})
	log.Info().Str("symbol", c.symbol).Str("price", price.String()).Str("qty", qty.String()).Msg("📗 Long opened")
}

// OpenShort adds qty at price to the short account.
func (c *Context) OpenShort(qty, price decimal.Decimal, reason string, ts int64) {
	c.short = c.short.add(qty, price)
	c.append(Trade{Action: ActionOpen, Side: Short, Qty: qty, Price: price, Reason: reason, TS: ts})
	log.Info().Str("symbol", c.symbol).Str("price", price.String()).Str("qty", qty.String()).Msg("📕 Short opened")
}

// CloseLong reduces the long account at price and returns the realized P&L
// delta. Qty is clamped to the held quantity; closing a flat account is a
// logged no-op.
func (c *Context) CloseLong(qty, price decimal.Decimal, reason string, ts int64) decimal.Decimal {
	if c.long.Qty.IsZero() {
		log.Warn().Str("symbol", c.symbol).Msg("Close long with no long position, dropped")
		return decimal.Zero
	}
	if qty.GreaterThan(c.long.Qty) {
		qty = c.long.Qty
	}

	// Long close realizes (exit − avg) per unit.
	delta := price.Sub(c.long.AvgPrice).Mul(qty)
	c.long = c.long.reduce(qty)
	c.realized = c.realized.Add(delta)
	c.append(Trade{Action: ActionClose, Side: Long, Qty: qty, Price: price, Pnl: delta, Reason: reason, TS: ts})
	log.Info().Str("symbol", c.symbol).Str("price", price.String()).Str("pnl", delta.StringFixed(2)).Msg("📗 Long closed")
	return delta
}

// CloseShort reduces the short account at price and returns the realized
// P&L delta, (avg − exit) per unit.
func (c *Context) CloseShort(qty, price decimal.Decimal, reason string, ts int64) decimal.Decimal {
	if c.short.Qty.IsZero() {
		log.Warn().Str("symbol", c.symbol).Msg("Close short with no short position, dropped")
		return decimal.Zero
	}
	if qty.GreaterThan(c.short.Qty) {
		qty = c.short.Qty
	}

	delta := c.short.AvgPrice.Sub(price).Mul(qty)
	c.short = c.short.reduce(qty)
	c.realized = c.realized.Add(delta)
	c.append(Trade{Action: ActionClose, Side: Short, Qty: qty, Price: price, Pnl: delta, Reason: reason, TS: ts})
	log.Info().Str("symbol", c.symbol).Str("price", price.String()).Str("pnl", delta.StringFixed(2)).Msg("📕 Short closed")
	return delta
}

// UpdateMarkPrice records the latest traded price; unrealized P&L is
// recomputed from it on read.
func (c *Context) UpdateMarkPrice(p decimal.Decimal) {
	c.lastPrice = p
}

// LastPrice returns the most recent mark price (zero before the first tick).
func (c *Context) LastPrice() decimal.Decimal {
	return c.lastPrice
}

func (c *Context) append(t Trade) {
	c.trades = append(c.trades, t)
}

func (a Account) add(qty, price decimal.Decimal) Account {
	newQty := a.Qty.Add(qty)
	// Weighted average entry across adds.
	avg := a.AvgPrice.Mul(a.Qty).Add(price.Mul(qty)).Div(newQty)
	return Account{Qty: newQty, AvgPrice: avg}
}

func (a Account) reduce(qty decimal.Decimal) Account {
	newQty := a.Qty.Sub(qty)
	if newQty.IsZero() {
		return Account{}
	}
	return Account{Qty: newQty, AvgPrice: a.AvgPrice}
}

// unrealized returns the open P&L of both accounts marked at lastPrice.
func (c *Context) unrealized() decimal.Decimal {
	if c.lastPrice.IsZero() {
		return decimal.Zero
	}
	u := decimal.Zero
	if c.long.Qty.IsPositive() {
		u = u.Add(c.lastPrice.Sub(c.long.AvgPrice).Mul(c.long.Qty))
	}
	if c.short.Qty.IsPositive() {
		u = u.Add(c.short.AvgPrice.Sub(c.lastPrice).Mul(c.short.Qty))
	}
	return u
}
