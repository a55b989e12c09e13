package pnl

import "github.com/shopspring/decimal"

// Metrics are derived trade statistics over the closed-trade history.
type Metrics struct {
	WinRate       decimal.Decimal `json:"winRate"`
	ProfitFactor  decimal.Decimal `json:"profitFactor"`
	BestTrade     decimal.Decimal `json:"bestTrade"`
	WorstTrade    decimal.Decimal `json:"worstTrade"`
	AvgTradePnl   decimal.Decimal `json:"avgTradePnl"`
	PnlPercentage decimal.Decimal `json:"pnlPercentage"`
	TotalWins     decimal.Decimal `json:"totalWins"`
	TotalLosses   decimal.Decimal `json:"totalLosses"`
	WinCount      int             `json:"winCount"`
	LossCount     int             `json:"lossCount"`
}

// Snapshot is the observable P&L state, numeric fields rounded to 2 dp.
type Snapshot struct {
	Symbol        string          `json:"symbol"`
	LongQty       decimal.Decimal `json:"longQty"`
	LongAvgPrice  decimal.Decimal `json:"longAvgPrice"`
	ShortQty      decimal.Decimal `json:"shortQty"`
	ShortAvgPrice decimal.Decimal `json:"shortAvgPrice"`
	LastPrice     decimal.Decimal `json:"lastPrice"`
	RealizedPnl   decimal.Decimal `json:"realizedPnl"`
	UnrealizedPnl decimal.Decimal `json:"unrealizedPnl"`
	TotalPnl      decimal.Decimal `json:"totalPnl"`
	TradeCount    int             `json:"tradeCount"`
	Trades        []Trade         `json:"trades"`
	Metrics       Metrics         `json:"metrics"`
}

// State is the serializable form of the context used by the snapshot file.
type State struct {
	Symbol    string          `json:"symbol"`
	Long      Account         `json:"long"`
	Short     Account         `json:"short"`
	Realized  decimal.Decimal `json:"realized"`
	LastPrice decimal.Decimal `json:"lastPrice"`
	Trades    []Trade         `json:"trades"`
}

// GetSnapshot builds the observable view of the context.
func (c *Context) GetSnapshot() Snapshot {
	unreal := c.unrealized()
	trades := make([]Trade, len(c.trades))
	copy(trades, c.trades)

	return Snapshot{
		Symbol:        c.symbol,
		LongQty:       c.long.Qty,
		LongAvgPrice:  c.long.AvgPrice.Round(2),
		ShortQty:      c.short.Qty,
		ShortAvgPrice: c.short.AvgPrice.Round(2),
		LastPrice:     c.lastPrice.Round(2),
		RealizedPnl:   c.realized.Round(2),
		UnrealizedPnl: unreal.Round(2),
		TotalPnl:      c.realized.Add(unreal).Round(2),
		TradeCount:    len(c.trades),
		Trades:        trades,
		Metrics:       c.metrics(),
	}
}

func (c *Context) metrics() Metrics {
	m := Metrics{}
	closes := 0
	sum := decimal.Zero
	for _, t := range c.trades {
		if t.Action != ActionClose {
			continue
		}
		closes++
		sum = sum.Add(t.Pnl)
		if t.Pnl.IsPositive() {
			m.WinCount++
			m.TotalWins = m.TotalWins.Add(t.Pnl)
		} else {
			m.LossCount++
			m.TotalLosses = m.TotalLosses.Add(t.Pnl.Abs())
		}
		if closes == 1 || t.Pnl.GreaterThan(m.BestTrade) {
			m.BestTrade = t.Pnl
		}
		if closes == 1 || t.Pnl.LessThan(m.WorstTrade) {
			m.WorstTrade = t.Pnl
		}
	}

	if closes > 0 {
		m.WinRate = decimal.NewFromInt(int64(m.WinCount)).
			Div(decimal.NewFromInt(int64(closes))).
			Mul(decimal.NewFromInt(100))
		m.AvgTradePnl = sum.Div(decimal.NewFromInt(int64(closes)))
	}
	if m.TotalLosses.IsPositive() {
		m.ProfitFactor = m.TotalWins.Div(m.TotalLosses)
	}
	total := c.realized.Add(c.unrealized())
	m.PnlPercentage = total.Div(notionalBase).Mul(decimal.NewFromInt(100))

	m.WinRate = m.WinRate.Round(2)
	m.ProfitFactor = m.ProfitFactor.Round(2)
	m.BestTrade = m.BestTrade.Round(2)
	m.WorstTrade = m.WorstTrade.Round(2)
	m.AvgTradePnl = m.AvgTradePnl.Round(2)
	m.PnlPercentage = m.PnlPercentage.Round(2)
	m.TotalWins = m.TotalWins.Round(2)
	m.TotalLosses = m.TotalLosses.Round(2)
	return m
}

// GetState returns the serializable context state.
func (c *Context) GetState() State {
	trades := make([]Trade, len(c.trades))
	copy(trades, c.trades)
	return State{
		Symbol:    c.symbol,
		Long:      c.long,
		Short:     c.short,
		Realized:  c.realized,
		LastPrice: c.lastPrice,
		Trades:    trades,
	}
}

// Restore replaces the context state with a previously serialized one.
func (c *Context) Restore(s State) {
	if s.Symbol != "" {
		c.symbol = s.Symbol
	}
	c.long = s.Long
	c.short = s.Short
	c.realized = s.Realized
	c.lastPrice = s.LastPrice
	c.trades = make([]Trade, len(s.Trades))
	copy(c.trades, s.Trades)
}

// LongAccount returns the long side account.
func (c *Context) LongAccount() Account { return c.long }

// ShortAccount returns the short side account.
func (c *Context) ShortAccount() Account { return c.short }

// RealizedPnl returns the cumulative realized P&L.
func (c *Context) RealizedPnl() decimal.Decimal { return c.realized }
