package engine

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nidhinvijay/BTCUSDT/internal/broker"
	"github.com/nidhinvijay/BTCUSDT/internal/pnl"
	"github.com/nidhinvijay/BTCUSDT/internal/session"
)

type fakeNotifier struct {
	fills []string // "SIDE/ACTION/MODE"
	modes []string // "FROM>TO"
}

func (n *fakeNotifier) TradeFill(side, action string, price, pnlDelta decimal.Decimal, mode string) {
	n.fills = append(n.fills, side+"/"+action+"/"+mode)
}

func (n *fakeNotifier) ModeChange(from, to, reason string) {
	n.modes = append(n.modes, from+">"+to)
}

func newTestDispatcher(t *testing.T, n Notifier) (*Dispatcher, context.CancelFunc) {
	t.Helper()
	ctx := pnl.NewContext("BTCUSDT")
	b := broker.NewPaper(ctx)
	f := NewFSM("BTCUSDT", b)
	sess := session.NewManager(decimal.NewFromInt(-100))
	d := NewDispatcher("BTCUSDT", f, b, ctx, sess, nil, n)

	runCtx, cancel := context.WithCancel(context.Background())
	go d.Run(runCtx)
	return d, cancel
}

func TestDispatcherStopOutUpdatesSessionAndPnl(t *testing.T) {
	n := &fakeNotifier{}
	d, cancel := newTestDispatcher(t, n)
	defer cancel()

	d.OnSignal(buySignal(0))
	d.OnTick(tick(100.0, 1_000)) // anchors: trigger 100.5, stop 99.5
	d.OnTick(tick(100.6, 2_000)) // open long
	d.OnTick(tick(99.4, 3_000))  // stop out, realized -1.2

	st := d.Status()
	assert.Equal(t, StateWaitWindow, st.BuyState)
	assert.Nil(t, st.LongPosition)
	assert.True(t, st.Pnl.RealizedPnl.Equal(decimal.NewFromFloat(-1.2)))

	assert.Equal(t, session.ModePaper, st.Session.Mode)
	assert.True(t, st.Session.PaperCumulativePnl.Equal(decimal.NewFromFloat(-1.2)))
	require.Len(t, st.Session.Trades, 1)
	assert.Equal(t, "LONG_STOP_HIT", st.Session.Trades[0].Reason)

	// Open fill then close fill, both while still in paper mode.
	assert.Equal(t, []string{"LONG/OPEN/PAPER", "LONG/CLOSE/PAPER"}, n.fills)
	assert.Empty(t, n.modes)
}

func TestDispatcherProfitableCloseGraduatesToLive(t *testing.T) {
	n := &fakeNotifier{}
	d, cancel := newTestDispatcher(t, n)
	defer cancel()

	d.OnSignal(buySignal(0))
	d.OnTick(tick(100.0, 1_000))
	d.OnTick(tick(100.6, 2_000)) // open long at 100.6
	d.OnTick(tick(103.0, 3_000))
	d.ManualClose() // close at 103.0, realized +2.4

	st := d.Status()
	assert.Equal(t, StateWaitForSignal, st.BuyState)
	assert.Equal(t, session.ModeLive, st.Session.Mode)
	assert.True(t, st.Session.PaperCumulativePnl.Equal(decimal.NewFromFloat(2.4)))

	// The fill is attributed to the mode that produced it, before the flip.
	assert.Equal(t, []string{"LONG/OPEN/PAPER", "LONG/CLOSE/PAPER"}, n.fills)
	assert.Equal(t, []string{"PAPER>LIVE"}, n.modes)
}

func TestDispatcherStatesAtomicRead(t *testing.T) {
	d, cancel := newTestDispatcher(t, nil)
	defer cancel()

	d.OnSignal(sellSignal(0))
	d.OnTick(tick(200.0, 500))

	fs, ss, ps := d.States()
	assert.Equal(t, StateEntryWindow, fs.Sell.State)
	assert.Equal(t, session.ModePaper, ss.Mode)
	assert.Equal(t, "BTCUSDT", ps.Symbol)
}

func TestResumeAtResolvesExpiredWaitWindow(t *testing.T) {
	f, _ := newTestFSM()

	f.OnSignal(buySignal(0))
	f.OnTick(tick(100.0, 1_000))
	f.OnTick(tick(100.1, 2_000)) // entry miss, wait window of 59000ms
	require.Equal(t, StateWaitWindow, f.buy.State)

	// Still inside the residual: nothing changes.
	f.ResumeAt(30_000)
	assert.Equal(t, StateWaitWindow, f.buy.State)

	// Restart after the residual elapsed: fresh entry window, same anchors.
	f.ResumeAt(61_000)
	assert.Equal(t, StateEntryWindow, f.buy.State)
	assert.True(t, f.buy.EntryFirstTickPending)
	assert.Equal(t, int64(61_000), f.buy.EntryWindowStartTs)
	assert.True(t, f.buy.EntryTrigger.Equal(decimal.NewFromFloat(100.5)))
}

func TestResumeAtRollsExpiredProfitWindow(t *testing.T) {
	f, _ := newTestFSM()

	f.OnSignal(buySignal(0))
	f.OnTick(tick(100.0, 1_000))
	f.OnTick(tick(100.6, 2_000))
	require.Equal(t, StateProfitWindow, f.buy.State)

	f.ResumeAt(90_000)
	assert.Equal(t, StateProfitWindow, f.buy.State)
	assert.Equal(t, int64(90_000), f.buy.ProfitWindowStartTs)
	require.NotNil(t, f.buy.Position)
}
