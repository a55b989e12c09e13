// Package market provides the trade tick type and the Binance
// trade-stream WebSocket client.
package market

import "github.com/shopspring/decimal"

// Tick is a single market trade event. TS is the exchange trade timestamp
// in epoch milliseconds and is the authoritative clock for all window
// comparisons; wall clock is never used inside the engine.
type Tick struct {
	Price decimal.Decimal `json:"price"`
	TS    int64           `json:"ts"`
}
