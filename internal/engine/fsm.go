// Package engine implements the dual state machine driving long-side and
// short-side trade decisions, and the dispatcher that serializes every
// mutation of engine state.
package engine

import (
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/nidhinvijay/BTCUSDT/internal/broker"
	"github.com/nidhinvijay/BTCUSDT/internal/market"
	"github.com/nidhinvijay/BTCUSDT/internal/pnl"
	"github.com/nidhinvijay/BTCUSDT/internal/signalbus"
)

// State is the phase of one side of the machine.
type State string

const (
	StateWaitForSignal State = "WAIT_FOR_SIGNAL"
	StateSignal        State = "SIGNAL"
	StateEntryWindow   State = "ENTRY_WINDOW"
	StateProfitWindow  State = "PROFIT_WINDOW"
	StateWaitWindow    State = "WAIT_WINDOW"
	StateWaitForEntry  State = "WAIT_FOR_ENTRY"
)

// WaitSource tags which window a WAIT_WINDOW inherited its residual from.
type WaitSource string

const (
	WaitFromEntry  WaitSource = "ENTRY"
	WaitFromProfit WaitSource = "PROFIT"
)

// WindowMs is the fixed budget of the entry, profit and wait-for-entry
// windows, in tick-timestamp milliseconds.
const WindowMs int64 = 60_000

// historyCap bounds the signal history ring.
const historyCap = 10

var (
	// anchorOffset derives trigger and stop from a latched anchor price,
	// in instrument price units.
	anchorOffset = decimal.NewFromFloat(0.5)
	orderQty     = decimal.NewFromInt(1)
)

// Position is one side's open simulated position.
type Position struct {
	Side       pnl.Side        `json:"side"`
	Qty        decimal.Decimal `json:"qty"`
	EntryPrice decimal.Decimal `json:"entryPrice"`
	Stop       decimal.Decimal `json:"stop"`
}

// sideFSM is the full state of one side. The two sides share no fields;
// a tick is delivered to both, buy side first.
type sideFSM struct {
	Name pnl.Side `json:"name"`

	State State `json:"state"`

	// Anchors. Latched by the first tick after a signal and kept across the
	// wait / re-arm cycle until the side is explicitly reset.
	SavedLtp     decimal.Decimal `json:"savedLtp"`
	Anchored     bool            `json:"anchored"`
	EntryTrigger decimal.Decimal `json:"entryTrigger"`
	Stop         decimal.Decimal `json:"stop"`

	// Window timers, all in tick-timestamp ms.
	EntryWindowStartTs   int64      `json:"entryWindowStartTs"`
	ProfitWindowStartTs  int64      `json:"profitWindowStartTs"`
	WaitWindowStartTs    int64      `json:"waitWindowStartTs"`
	WaitWindowDurationMs int64      `json:"waitWindowDurationMs"`
	WaitWindowSource     WaitSource `json:"waitWindowSource,omitempty"`
	WaitForEntryStartTs  int64      `json:"waitForEntryStartTs"`

	// First-tick latches. EntryFirstTickPending arms the single decisive
	// evaluation of SIGNAL and ENTRY_WINDOW; FirstTickSeen tracks the
	// wait-for-entry re-arm cycle.
	EntryFirstTickPending bool `json:"entryFirstTickPending"`
	FirstTickSeen         bool `json:"firstTickSeen"`

	Position *Position `json:"position"`
}

// FSMState is the serializable state of the whole machine.
type FSMState struct {
	Buy           sideFSM            `json:"buy"`
	Sell          sideFSM            `json:"sell"`
	LastTick      *market.Tick       `json:"lastTick"`
	SignalHistory []signalbus.Signal `json:"signalHistory"`
}

// FSM is the dual state machine. It is not goroutine safe; all calls must
// come from the dispatcher.
type FSM struct {
	symbol string
	broker *broker.Paper

	buy  sideFSM
	sell sideFSM

	lastTick *market.Tick
	history  []signalbus.Signal
}

func NewFSM(symbol string, b *broker.Paper) *FSM {
	return &FSM{
		symbol: symbol,
		broker: b,
		buy:    sideFSM{Name: pnl.Long, State: StateWaitForSignal},
		sell:   sideFSM{Name: pnl.Short, State: StateWaitForSignal},
	}
}

// OnSignal accepts a BUY or SELL signal. The matching side resets to
// SIGNAL unconditionally; the other side is untouched. An open position on
// the resetting side is left in place, the open guard keeps the new cycle
// from doubling it.
func (f *FSM) OnSignal(sig signalbus.Signal) {
	s := &f.buy
	if sig.Side == signalbus.Sell {
		s = &f.sell
	}

	if s.State != StateWaitForSignal {
		log.Warn().
			Str("side", string(s.Name)).
			Str("state", string(s.State)).
			Msg("Signal mid-cycle, resetting side")
	}

	pos := s.Position
	*s = sideFSM{
		Name:                  s.Name,
		State:                 StateSignal,
		EntryFirstTickPending: true,
		Position:              pos,
	}

	f.history = append(f.history, sig)
	if len(f.history) > historyCap {
		f.history = f.history[len(f.history)-historyCap:]
	}

	log.Info().Str("side", string(sig.Side)).Msg("📨 Signal accepted")
}

// OnTick delivers a tick to both sides, buy side first.
func (f *FSM) OnTick(t market.Tick) {
	tick := t
	f.lastTick = &tick
	f.tickSide(&f.buy, t)
	f.tickSide(&f.sell, t)
}

func (f *FSM) tickSide(s *sideFSM, t market.Tick) {
	switch s.State {
	case StateSignal:
		if !s.EntryFirstTickPending {
			return
		}
		s.EntryFirstTickPending = false
		f.latchAnchors(s, t)

	case StateEntryWindow:
		if !s.EntryFirstTickPending {
			return
		}
		s.EntryFirstTickPending = false
		if s.entryHit(t.Price) {
			f.openPosition(s, t)
			return
		}
		f.enterWaitWindow(s, t.TS, s.EntryWindowStartTs, WaitFromEntry)

	case StateProfitWindow:
		if s.Position != nil && s.stopHit(t.Price) {
			f.closePosition(s, t, stopReason(s.Name))
			f.enterWaitWindow(s, t.TS, s.ProfitWindowStartTs, WaitFromProfit)
			return
		}
		if t.TS-s.ProfitWindowStartTs >= WindowMs {
			// Stop not reached inside the budget: the window rolls.
			s.ProfitWindowStartTs = t.TS
		}

	case StateWaitWindow:
		if t.TS-s.WaitWindowStartTs >= s.WaitWindowDurationMs {
			f.resolveWait(s, t.TS)
		}

	case StateWaitForEntry:
		if !s.FirstTickSeen {
			s.FirstTickSeen = true
			if s.entryHit(t.Price) {
				f.openPosition(s, t)
			}
			return
		}
		if t.TS-s.WaitForEntryStartTs >= WindowMs {
			s.WaitForEntryStartTs = t.TS
			s.FirstTickSeen = false
		}

	case StateWaitForSignal:
	}
}

// latchAnchors records the first post-signal price and derives trigger and
// stop from it, then arms the entry decision for the next tick.
func (f *FSM) latchAnchors(s *sideFSM, t market.Tick) {
	s.SavedLtp = t.Price
	s.Anchored = true
	if s.Name == pnl.Long {
		s.EntryTrigger = t.Price.Add(anchorOffset)
		s.Stop = t.Price.Sub(anchorOffset)
	} else {
		s.EntryTrigger = t.Price.Sub(anchorOffset)
		s.Stop = t.Price.Add(anchorOffset)
	}
	s.EntryWindowStartTs = t.TS
	s.State = StateEntryWindow
	s.EntryFirstTickPending = true

	log.Info().
		Str("side", string(s.Name)).
		Str("anchor", s.SavedLtp.String()).
		Str("trigger", s.EntryTrigger.String()).
		Str("stop", s.Stop.String()).
		Msg("⚓ Anchors latched")
}

// entryHit reports whether price crosses the trigger favorably.
func (s *sideFSM) entryHit(p decimal.Decimal) bool {
	if s.Name == pnl.Long {
		return p.Cmp(s.EntryTrigger) >= 0
	}
	return p.Cmp(s.EntryTrigger) <= 0
}

// stopHit reports whether price crosses the stop adversely.
func (s *sideFSM) stopHit(p decimal.Decimal) bool {
	if s.Name == pnl.Long {
		return p.Cmp(s.Position.Stop) <= 0
	}
	return p.Cmp(s.Position.Stop) >= 0
}

func (f *FSM) openPosition(s *sideFSM, t market.Tick) {
	if s.Position != nil {
		log.Warn().Str("side", string(s.Name)).Msg("Open while position held, dropped")
		return
	}

	o := broker.Order{
		Qty:    orderQty,
		Price:  t.Price,
		Reason: triggerReason(s.Name),
		TS:     t.TS,
	}
	var err error
	if s.Name == pnl.Long {
		o.Intent = broker.IntentOpenLong
		err = f.broker.PlaceLimitBuy(o)
	} else {
		o.Intent = broker.IntentOpenShort
		err = f.broker.PlaceLimitSell(o)
	}
	if err != nil {
		log.Warn().Err(err).Str("side", string(s.Name)).Msg("Open order rejected")
		return
	}

	s.Position = &Position{
		Side:       s.Name,
		Qty:        orderQty,
		EntryPrice: t.Price,
		Stop:       s.Stop,
	}
	s.ProfitWindowStartTs = t.TS
	s.State = StateProfitWindow
}

func (f *FSM) closePosition(s *sideFSM, t market.Tick, reason string) {
	if s.Position == nil {
		log.Warn().Str("side", string(s.Name)).Msg("Close without position, dropped")
		return
	}

	o := broker.Order{
		Qty:    s.Position.Qty,
		Price:  t.Price,
		Reason: reason,
		TS:     t.TS,
	}
	var err error
	if s.Name == pnl.Long {
		o.Intent = broker.IntentCloseLong
		err = f.broker.PlaceLimitSell(o)
	} else {
		o.Intent = broker.IntentCloseShort
		err = f.broker.PlaceLimitBuy(o)
	}
	if err != nil {
		log.Warn().Err(err).Str("side", string(s.Name)).Msg("Close order rejected")
		return
	}

	s.Position = nil
}

// enterWaitWindow cools the side down for the unused remainder of the
// caller window. A non-positive residual resolves immediately.
func (f *FSM) enterWaitWindow(s *sideFSM, nowTs, callerStartTs int64, source WaitSource) {
	residual := WindowMs - (nowTs - callerStartTs)
	if residual <= 0 {
		s.WaitWindowSource = source
		f.resolveWait(s, nowTs)
		return
	}
	s.State = StateWaitWindow
	s.WaitWindowStartTs = nowTs
	s.WaitWindowDurationMs = residual
	s.WaitWindowSource = source

	log.Info().
		Str("side", string(s.Name)).
		Int64("durationMs", residual).
		Str("source", string(source)).
		Msg("⏸ Wait window")
}

// resolveWait leaves WAIT_WINDOW: entry misses retry the same anchors in a
// fresh entry window, stop-outs re-arm in WAIT_FOR_ENTRY.
func (f *FSM) resolveWait(s *sideFSM, nowTs int64) {
	switch s.WaitWindowSource {
	case WaitFromEntry:
		s.State = StateEntryWindow
		s.EntryWindowStartTs = nowTs
		s.EntryFirstTickPending = true
	case WaitFromProfit:
		s.State = StateWaitForEntry
		s.WaitForEntryStartTs = nowTs
		s.FirstTickSeen = false
	default:
		s.State = StateWaitForSignal
	}
	s.WaitWindowStartTs = 0
	s.WaitWindowDurationMs = 0
}

// ManualClose closes any open positions at the last seen price and idles
// both sides. A no-op before the first tick.
func (f *FSM) ManualClose() bool {
	if f.lastTick == nil {
		return false
	}
	t := *f.lastTick

	for _, s := range []*sideFSM{&f.buy, &f.sell} {
		if s.Position != nil {
			f.closePosition(s, t, "MANUAL_OVERRIDE")
		}
		*s = sideFSM{Name: s.Name, State: StateWaitForSignal}
	}

	log.Info().Str("price", t.Price.String()).Msg("🧹 Manual close, all sides idle")
	return true
}

// ResumeAt re-evaluates every armed window against the given clock. Called
// once after a snapshot restore, before the first live tick, so windows
// that expired during downtime are not missed.
func (f *FSM) ResumeAt(nowMs int64) {
	for _, s := range []*sideFSM{&f.buy, &f.sell} {
		switch s.State {
		case StateWaitWindow:
			if nowMs-s.WaitWindowStartTs >= s.WaitWindowDurationMs {
				f.resolveWait(s, nowMs)
			}
		case StateProfitWindow:
			if nowMs-s.ProfitWindowStartTs >= WindowMs {
				s.ProfitWindowStartTs = nowMs
			}
		case StateWaitForEntry:
			if nowMs-s.WaitForEntryStartTs >= WindowMs {
				s.WaitForEntryStartTs = nowMs
				s.FirstTickSeen = false
			}
		}
	}
}

// GetState returns the serializable machine state.
func (f *FSM) GetState() FSMState {
	hist := make([]signalbus.Signal, len(f.history))
	copy(hist, f.history)
	return FSMState{
		Buy:           f.buy,
		Sell:          f.sell,
		LastTick:      f.lastTick,
		SignalHistory: hist,
	}
}

// Restore replaces the machine state with a previously serialized one.
func (f *FSM) Restore(st FSMState) {
	f.buy = st.Buy
	f.sell = st.Sell
	if f.buy.Name == "" {
		f.buy.Name = pnl.Long
	}
	if f.sell.Name == "" {
		f.sell.Name = pnl.Short
	}
	if f.buy.State == "" {
		f.buy.State = StateWaitForSignal
	}
	if f.sell.State == "" {
		f.sell.State = StateWaitForSignal
	}
	f.lastTick = st.LastTick
	f.history = make([]signalbus.Signal, len(st.SignalHistory))
	copy(f.history, st.SignalHistory)
}

func triggerReason(side pnl.Side) string {
	if side == pnl.Long {
		return "LONG_TRIGGER_HIT"
	}
	return "SHORT_TRIGGER_HIT"
}

func stopReason(side pnl.Side) string {
	if side == pnl.Long {
		return "LONG_STOP_HIT"
	}
	return "SHORT_STOP_HIT"
}
