// Package broker provides the simulated order layer between the engine and
// the P&L accounts. Orders fill instantly at the given price; there is no
// network, latency, slippage or fee model.
package broker

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/nidhinvijay/BTCUSDT/internal/pnl"
)

// Intent classifies an order. The broker switches on this tag rather than
// parsing reason strings.
type Intent int

const (
	IntentOpenLong Intent = iota
	IntentCloseLong
	IntentOpenShort
	IntentCloseShort
)

func (i Intent) String() string {
	switch i {
	case IntentOpenLong:
		return "OPEN_LONG"
	case IntentCloseLong:
		return "CLOSE_LONG"
	case IntentOpenShort:
		return "OPEN_SHORT"
	case IntentCloseShort:
		return "CLOSE_SHORT"
	}
	return "UNKNOWN"
}

// Order is one instruction from the engine. Reason is free text for logs
// and the journal; classification uses Intent only.
type Order struct {
	Intent Intent
	Qty    decimal.Decimal
	Price  decimal.Decimal
	Reason string
	TS     int64
}

// Fill reports a completed simulated fill. Realized is the P&L delta for
// closes and zero for opens.
type Fill struct {
	Order    Order
	Side     pnl.Side
	Closed   bool
	Realized decimal.Decimal
}

// Paper fills orders against the P&L context.
type Paper struct {
	pnl    *pnl.Context
	onFill func(Fill)
}

func NewPaper(ctx *pnl.Context) *Paper {
	return &Paper{pnl: ctx}
}

// SetFillCallback registers a callback invoked synchronously after every
// fill. The callback runs on the caller's goroutine.
func (p *Paper) SetFillCallback(cb func(Fill)) {
	p.onFill = cb
}

// PlaceLimitBuy executes a buy-side order: opening a long or closing a short.
func (p *Paper) PlaceLimitBuy(o Order) error {
	switch o.Intent {
	case IntentOpenLong:
		p.pnl.OpenLong(o.Qty, o.Price, o.Reason, o.TS)
		p.fill(Fill{Order: o, Side: pnl.Long})
	case IntentCloseShort:
		delta := p.pnl.CloseShort(o.Qty, o.Price, o.Reason, o.TS)
		p.fill(Fill{Order: o, Side: pnl.Short, Closed: true, Realized: delta})
	default:
		return fmt.Errorf("buy order with intent %s", o.Intent)
	}
	return nil
}

// PlaceLimitSell executes a sell-side order: opening a short or closing a long.
func (p *Paper) PlaceLimitSell(o Order) error {
	switch o.Intent {
	case IntentOpenShort:
		p.pnl.OpenShort(o.Qty, o.Price, o.Reason, o.TS)
		p.fill(Fill{Order: o, Side: pnl.Short})
	case IntentCloseLong:
		delta := p.pnl.CloseLong(o.Qty, o.Price, o.Reason, o.TS)
		p.fill(Fill{Order: o, Side: pnl.Long, Closed: true, Realized: delta})
	default:
		return fmt.Errorf("sell order with intent %s", o.Intent)
	}
	return nil
}

func (p *Paper) fill(f Fill) {
	log.Debug().
		Str("intent", f.Order.Intent.String()).
		Str("price", f.Order.Price.String()).
		Str("reason", f.Order.Reason).
		Msg("Paper fill")
	if p.onFill != nil {
		p.onFill(f)
	}
}
