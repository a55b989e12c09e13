package engine

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nidhinvijay/BTCUSDT/internal/broker"
	"github.com/nidhinvijay/BTCUSDT/internal/market"
	"github.com/nidhinvijay/BTCUSDT/internal/pnl"
	"github.com/nidhinvijay/BTCUSDT/internal/signalbus"
)

func tick(price float64, ts int64) market.Tick {
	return market.Tick{Price: decimal.NewFromFloat(price), TS: ts}
}

func newTestFSM() (*FSM, *pnl.Context) {
	ctx := pnl.NewContext("BTCUSDT")
	b := broker.NewPaper(ctx)
	return NewFSM("BTCUSDT", b), ctx
}

func buySignal(ts int64) signalbus.Signal {
	return signalbus.Signal{Side: signalbus.Buy, Raw: "Accepted Entry", TS: ts}
}

func sellSignal(ts int64) signalbus.Signal {
	return signalbus.Signal{Side: signalbus.Sell, Raw: "Accepted Exit", TS: ts}
}

// Long entry on the decisive tick, then stop-out with residual wait.
func TestLongEntryAndStopOut(t *testing.T) {
	f, ctx := newTestFSM()

	f.OnSignal(buySignal(0))
	require.Equal(t, StateSignal, f.buy.State)

	f.OnTick(tick(100.0, 1000))
	require.Equal(t, StateEntryWindow, f.buy.State)
	assert.True(t, f.buy.EntryTrigger.Equal(decimal.NewFromFloat(100.5)))
	assert.True(t, f.buy.Stop.Equal(decimal.NewFromFloat(99.5)))

	f.OnTick(tick(100.6, 2000))
	require.Equal(t, StateProfitWindow, f.buy.State)
	require.NotNil(t, f.buy.Position)
	assert.True(t, f.buy.Position.EntryPrice.Equal(decimal.NewFromFloat(100.6)))
	assert.True(t, f.buy.Position.Stop.Equal(decimal.NewFromFloat(99.5)))

	f.OnTick(tick(99.4, 3000))
	require.Equal(t, StateWaitWindow, f.buy.State)
	assert.Nil(t, f.buy.Position)
	assert.Equal(t, int64(59000), f.buy.WaitWindowDurationMs)
	assert.Equal(t, WaitFromProfit, f.buy.WaitWindowSource)
	assert.True(t, ctx.RealizedPnl().Equal(decimal.NewFromFloat(-1.2)),
		"realized = (99.4-100.6)*1, got %s", ctx.RealizedPnl())
}

// Entry miss, residual wait, retry with the same anchors.
func TestEntryMissThenRetrySameAnchors(t *testing.T) {
	f, _ := newTestFSM()

	f.OnSignal(buySignal(0))
	f.OnTick(tick(200.0, 500))
	require.Equal(t, StateEntryWindow, f.buy.State)

	f.OnTick(tick(199.8, 1500))
	require.Equal(t, StateWaitWindow, f.buy.State)
	assert.Equal(t, int64(59000), f.buy.WaitWindowDurationMs)
	assert.Equal(t, WaitFromEntry, f.buy.WaitWindowSource)

	// Anchors survive the wait.
	assert.True(t, f.buy.EntryTrigger.Equal(decimal.NewFromFloat(200.5)))

	f.OnTick(tick(199.9, 60500))
	require.Equal(t, StateEntryWindow, f.buy.State)
	assert.True(t, f.buy.EntryFirstTickPending)

	f.OnTick(tick(200.6, 61500))
	require.Equal(t, StateProfitWindow, f.buy.State)
	require.NotNil(t, f.buy.Position)
	assert.True(t, f.buy.Position.EntryPrice.Equal(decimal.NewFromFloat(200.6)))
}

// After a stop-out the side re-arms, offering a first-tick entry chance
// every 60 s against the same anchors.
func TestWaitForEntryRearmLoop(t *testing.T) {
	f, _ := newTestFSM()

	// Drive a long entry into a stop-out.
	f.OnSignal(buySignal(0))
	f.OnTick(tick(100.0, 1000))
	f.OnTick(tick(100.6, 2000))
	f.OnTick(tick(99.4, 3000))
	require.Equal(t, StateWaitWindow, f.buy.State)

	// Wait window (start 3000, 59000 ms) expires at 62000.
	f.OnTick(tick(99.0, 62000))
	require.Equal(t, StateWaitForEntry, f.buy.State)
	assert.Equal(t, int64(62000), f.buy.WaitForEntryStartTs)
	assert.False(t, f.buy.FirstTickSeen)

	// First tick misses the trigger; no position.
	f.OnTick(tick(99.4, 62500))
	assert.Nil(t, f.buy.Position)
	assert.True(t, f.buy.FirstTickSeen)

	// Later ticks do not re-evaluate the trigger, even favorable ones.
	f.OnTick(tick(100.9, 70000))
	assert.Nil(t, f.buy.Position)
	require.Equal(t, StateWaitForEntry, f.buy.State)

	// Window restarts at 122000; the restart tick is not evaluated.
	f.OnTick(tick(100.9, 122000))
	assert.Nil(t, f.buy.Position)
	assert.Equal(t, int64(122000), f.buy.WaitForEntryStartTs)
	assert.False(t, f.buy.FirstTickSeen)

	// Fresh first tick triggers the entry.
	f.OnTick(tick(100.7, 122500))
	require.Equal(t, StateProfitWindow, f.buy.State)
	require.NotNil(t, f.buy.Position)
	assert.True(t, f.buy.Position.EntryPrice.Equal(decimal.NewFromFloat(100.7)))
	assert.Equal(t, int64(122500), f.buy.ProfitWindowStartTs)
}

// Both sides run independently off the same ticks.
func TestDualSideConcurrency(t *testing.T) {
	f, _ := newTestFSM()

	f.OnSignal(buySignal(0))
	f.OnSignal(sellSignal(0))

	f.OnTick(tick(100.0, 1))
	assert.True(t, f.buy.EntryTrigger.Equal(decimal.NewFromFloat(100.5)))
	assert.True(t, f.buy.Stop.Equal(decimal.NewFromFloat(99.5)))
	assert.True(t, f.sell.EntryTrigger.Equal(decimal.NewFromFloat(99.5)))
	assert.True(t, f.sell.Stop.Equal(decimal.NewFromFloat(100.5)))

	f.OnTick(tick(100.6, 2))

	// Long opened; short side's decisive tick missed its trigger.
	require.NotNil(t, f.buy.Position)
	assert.Equal(t, StateProfitWindow, f.buy.State)
	assert.Nil(t, f.sell.Position)
	assert.Equal(t, StateWaitWindow, f.sell.State)
	assert.Equal(t, WaitFromEntry, f.sell.WaitWindowSource)
	assert.Equal(t, int64(59999), f.sell.WaitWindowDurationMs)
}

// Short side mirrors the long side with reversed comparisons.
func TestShortEntryAndStopOut(t *testing.T) {
	f, ctx := newTestFSM()

	f.OnSignal(sellSignal(0))
	f.OnTick(tick(100.0, 1000))
	require.Equal(t, StateEntryWindow, f.sell.State)

	f.OnTick(tick(99.4, 2000))
	require.Equal(t, StateProfitWindow, f.sell.State)
	require.NotNil(t, f.sell.Position)
	assert.Equal(t, pnl.Short, f.sell.Position.Side)

	f.OnTick(tick(100.6, 3000))
	require.Equal(t, StateWaitWindow, f.sell.State)
	assert.Nil(t, f.sell.Position)
	assert.True(t, ctx.RealizedPnl().Equal(decimal.NewFromFloat(-1.2)),
		"realized = (99.4-100.6)*1, got %s", ctx.RealizedPnl())
}

// Trigger and stop always bracket the anchor by exactly 1.0.
func TestAnchorBandInvariant(t *testing.T) {
	f, _ := newTestFSM()
	one := decimal.NewFromInt(1)

	f.OnSignal(buySignal(0))
	f.OnSignal(sellSignal(0))
	f.OnTick(tick(431.27, 100))

	assert.True(t, f.buy.EntryTrigger.Sub(f.buy.Stop).Equal(one))
	assert.True(t, f.sell.Stop.Sub(f.sell.EntryTrigger).Equal(one))
}

// A consumed 60 s budget skips the wait window and resolves immediately.
func TestWaitWindowSkippedWhenResidualExhausted(t *testing.T) {
	f, _ := newTestFSM()

	f.OnSignal(buySignal(0))
	f.OnTick(tick(200.0, 500))
	require.Equal(t, StateEntryWindow, f.buy.State)

	// Decisive tick arrives 69.5 s after the window opened and misses.
	f.OnTick(tick(199.0, 70000))
	require.Equal(t, StateEntryWindow, f.buy.State)
	assert.True(t, f.buy.EntryFirstTickPending)
	assert.Equal(t, int64(70000), f.buy.EntryWindowStartTs)

	f.OnTick(tick(200.6, 70100))
	require.Equal(t, StateProfitWindow, f.buy.State)
}

// The profit window rolls every 60 s while the stop is not hit.
func TestProfitWindowRestarts(t *testing.T) {
	f, _ := newTestFSM()

	f.OnSignal(buySignal(0))
	f.OnTick(tick(100.0, 1000))
	f.OnTick(tick(100.6, 2000))
	require.Equal(t, StateProfitWindow, f.buy.State)
	assert.Equal(t, int64(2000), f.buy.ProfitWindowStartTs)

	f.OnTick(tick(101.0, 30000))
	assert.Equal(t, int64(2000), f.buy.ProfitWindowStartTs)

	f.OnTick(tick(101.0, 62000))
	assert.Equal(t, int64(62000), f.buy.ProfitWindowStartTs)
	require.NotNil(t, f.buy.Position)
}

// A fresh same-side signal mid-cycle discards anchors and phase; the other
// side is unaffected.
func TestSameSideResignalResetsSide(t *testing.T) {
	f, _ := newTestFSM()

	f.OnSignal(buySignal(0))
	f.OnSignal(sellSignal(0))
	f.OnTick(tick(100.0, 1000))
	require.Equal(t, StateEntryWindow, f.buy.State)
	require.Equal(t, StateEntryWindow, f.sell.State)

	f.OnSignal(buySignal(2000))
	assert.Equal(t, StateSignal, f.buy.State)
	assert.False(t, f.buy.Anchored)
	assert.Equal(t, StateEntryWindow, f.sell.State)
	assert.True(t, f.sell.Anchored)

	// Next tick re-latches fresh anchors for the long side.
	f.OnTick(tick(105.0, 3000))
	assert.True(t, f.buy.EntryTrigger.Equal(decimal.NewFromFloat(105.5)))
}

// Manual override closes everything at the last seen price and idles both
// sides; before the first tick it is a silent no-op.
func TestManualClose(t *testing.T) {
	f, ctx := newTestFSM()

	assert.False(t, f.ManualClose())

	f.OnSignal(buySignal(0))
	f.OnTick(tick(100.0, 1000))
	f.OnTick(tick(100.6, 2000))
	require.NotNil(t, f.buy.Position)

	f.OnTick(tick(101.6, 2500))
	require.True(t, f.ManualClose())

	assert.Equal(t, StateWaitForSignal, f.buy.State)
	assert.Equal(t, StateWaitForSignal, f.sell.State)
	assert.Nil(t, f.buy.Position)
	assert.False(t, f.buy.Anchored)
	assert.True(t, ctx.RealizedPnl().Equal(decimal.NewFromInt(1)),
		"realized = (101.6-100.6)*1, got %s", ctx.RealizedPnl())
}

// At most one position per side, ever.
func TestAtMostOnePositionPerSide(t *testing.T) {
	f, ctx := newTestFSM()

	f.OnSignal(buySignal(0))
	f.OnTick(tick(100.0, 1000))
	f.OnTick(tick(100.6, 2000))
	require.NotNil(t, f.buy.Position)

	// A re-signal while holding leaves the position; the guard drops the
	// duplicate open from the new cycle.
	f.OnSignal(buySignal(3000))
	f.OnTick(tick(100.0, 4000))
	f.OnTick(tick(100.6, 5000))

	require.NotNil(t, f.buy.Position)
	assert.True(t, ctx.LongAccount().Qty.Equal(decimal.NewFromInt(1)))
}

// Signal history is capped for the status view.
func TestSignalHistoryCapped(t *testing.T) {
	f, _ := newTestFSM()
	for i := 0; i < 25; i++ {
		f.OnSignal(buySignal(int64(i)))
	}
	st := f.GetState()
	assert.Len(t, st.SignalHistory, historyCap)
	assert.Equal(t, int64(24), st.SignalHistory[len(st.SignalHistory)-1].TS)
}
