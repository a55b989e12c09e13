package engine

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/nidhinvijay/BTCUSDT/internal/broker"
	"github.com/nidhinvijay/BTCUSDT/internal/journal"
	"github.com/nidhinvijay/BTCUSDT/internal/market"
	"github.com/nidhinvijay/BTCUSDT/internal/pnl"
	"github.com/nidhinvijay/BTCUSDT/internal/session"
	"github.com/nidhinvijay/BTCUSDT/internal/signalbus"
)

// Notifier receives trade and mode-change alerts. Implementations must not
// block; a nil Notifier disables alerts.
type Notifier interface {
	TradeFill(side, action string, price, pnlDelta decimal.Decimal, mode string)
	ModeChange(from, to, reason string)
}

// commandQueueSize bounds the dispatcher inbox. Edges enqueue without
// blocking; a full queue drops the event with a warning.
const commandQueueSize = 1024

// Dispatcher serializes every mutation of the FSM, P&L and session state
// through one worker goroutine. Edges (webhook handler, market feed,
// snapshot timer) only enqueue.
type Dispatcher struct {
	symbol string

	fsm    *FSM
	pnl    *pnl.Context
	sess   *session.Manager
	jour   *journal.Journal
	notify Notifier

	cmds chan func()
	done chan struct{}
}

// Anchors is the observable anchor set of one side.
type Anchors struct {
	Anchored     bool            `json:"anchored"`
	SavedLtp     decimal.Decimal `json:"savedLtp"`
	EntryTrigger decimal.Decimal `json:"entryTrigger"`
	Stop         decimal.Decimal `json:"stop"`
}

// SideTimers is the observable timer set of one side.
type SideTimers struct {
	EntryWindowStartTs   int64      `json:"entryWindowStartTs"`
	ProfitWindowStartTs  int64      `json:"profitWindowStartTs"`
	WaitWindowStartTs    int64      `json:"waitWindowStartTs"`
	WaitWindowDurationMs int64      `json:"waitWindowDurationMs"`
	WaitWindowSource     WaitSource `json:"waitWindowSource,omitempty"`
	WaitForEntryStartTs  int64      `json:"waitForEntryStartTs"`
}

// Status is the consistent observable state served by GET /status.
type Status struct {
	Symbol        string             `json:"symbol"`
	BuyState      State              `json:"buyState"`
	SellState     State              `json:"sellState"`
	LongPosition  *Position          `json:"longPosition"`
	ShortPosition *Position          `json:"shortPosition"`
	BuyAnchors    Anchors            `json:"buyAnchors"`
	SellAnchors   Anchors            `json:"sellAnchors"`
	BuyTimers     SideTimers         `json:"buyTimers"`
	SellTimers    SideTimers         `json:"sellTimers"`
	SignalHistory []signalbus.Signal `json:"signalHistory"`
	Pnl           pnl.Snapshot       `json:"pnl"`
	Session       session.State      `json:"session"`
	LastTick      *market.Tick       `json:"lastTick"`
}

// NewDispatcher wires the core components together. The broker's fill
// callback and the session's mode-change callback are claimed here; both
// fire on the dispatcher goroutine.
func NewDispatcher(symbol string, f *FSM, b *broker.Paper, p *pnl.Context, s *session.Manager, j *journal.Journal, n Notifier) *Dispatcher {
	d := &Dispatcher{
		symbol: symbol,
		fsm:    f,
		pnl:    p,
		sess:   s,
		jour:   j,
		notify: n,
		cmds:   make(chan func(), commandQueueSize),
		done:   make(chan struct{}),
	}
	b.SetFillCallback(d.handleFill)
	s.SetModeChangeCallback(d.handleModeChange)
	return d
}

// Run consumes the command queue until the context ends.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case cmd := <-d.cmds:
			cmd()
		case <-ctx.Done():
			// Drain anything already queued so the final snapshot sees it.
			for {
				select {
				case cmd := <-d.cmds:
					cmd()
				default:
					return
				}
			}
		}
	}
}

// Done is closed when the worker goroutine has exited.
func (d *Dispatcher) Done() <-chan struct{} { return d.done }

func (d *Dispatcher) enqueue(cmd func()) {
	select {
	case d.cmds <- cmd:
	default:
		log.Warn().Msg("Dispatcher queue full, event dropped")
	}
}

// OnTick enqueues a market tick: mark price update, then both FSM sides.
func (d *Dispatcher) OnTick(t market.Tick) {
	d.enqueue(func() {
		d.pnl.UpdateMarkPrice(t.Price)
		d.fsm.OnTick(t)
	})
}

// OnSignal enqueues a strategy signal.
func (d *Dispatcher) OnSignal(sig signalbus.Signal) {
	d.enqueue(func() {
		d.fsm.OnSignal(sig)
	})
}

// ManualClose enqueues the close-all override.
func (d *Dispatcher) ManualClose() {
	d.enqueue(func() {
		if !d.fsm.ManualClose() {
			log.Warn().Msg("Manual close before first tick, ignored")
		}
	})
}

// ResetDailyStats enqueues the daily counter reset.
func (d *Dispatcher) ResetDailyStats() {
	d.enqueue(func() {
		d.sess.ResetDailyStats()
	})
}

// Status takes a consistent snapshot of the observable state.
func (d *Dispatcher) Status() Status {
	reply := make(chan Status, 1)
	d.cmds <- func() {
		reply <- d.buildStatus()
	}
	return <-reply
}

// States returns the serializable state of all three components as one
// atomic read, for the snapshot writer.
func (d *Dispatcher) States() (FSMState, session.State, pnl.State) {
	type triple struct {
		f FSMState
		s session.State
		p pnl.State
	}
	reply := make(chan triple, 1)
	d.cmds <- func() {
		reply <- triple{d.fsm.GetState(), d.sess.GetState(), d.pnl.GetState()}
	}
	t := <-reply
	return t.f, t.s, t.p
}

func (d *Dispatcher) buildStatus() Status {
	fs := d.fsm.GetState()
	return Status{
		Symbol:        d.symbol,
		BuyState:      fs.Buy.State,
		SellState:     fs.Sell.State,
		LongPosition:  fs.Buy.Position,
		ShortPosition: fs.Sell.Position,
		BuyAnchors:    sideAnchors(fs.Buy),
		SellAnchors:   sideAnchors(fs.Sell),
		BuyTimers:     sideTimers(fs.Buy),
		SellTimers:    sideTimers(fs.Sell),
		SignalHistory: fs.SignalHistory,
		Pnl:           d.pnl.GetSnapshot(),
		Session:       d.sess.GetState(),
		LastTick:      fs.LastTick,
	}
}

func sideAnchors(s sideFSM) Anchors {
	return Anchors{
		Anchored:     s.Anchored,
		SavedLtp:     s.SavedLtp,
		EntryTrigger: s.EntryTrigger,
		Stop:         s.Stop,
	}
}

func sideTimers(s sideFSM) SideTimers {
	return SideTimers{
		EntryWindowStartTs:   s.EntryWindowStartTs,
		ProfitWindowStartTs:  s.ProfitWindowStartTs,
		WaitWindowStartTs:    s.WaitWindowStartTs,
		WaitWindowDurationMs: s.WaitWindowDurationMs,
		WaitWindowSource:     s.WaitWindowSource,
		WaitForEntryStartTs:  s.WaitForEntryStartTs,
	}
}

// handleFill runs synchronously inside tick processing: journal the fill,
// feed realized deltas into the session under the mode that produced them.
func (d *Dispatcher) handleFill(f broker.Fill) {
	mode := d.sess.Mode()

	if d.jour != nil {
		action := pnl.ActionOpen
		if f.Closed {
			action = pnl.ActionClose
		}
		rec := &journal.TradeRecord{
			Symbol: d.symbol,
			Side:   string(f.Side),
			Action: action,
			Qty:    f.Order.Qty,
			Price:  f.Order.Price,
			Pnl:    f.Realized,
			Reason: f.Order.Reason,
			Mode:   string(mode),
			TickTS: f.Order.TS,
		}
		if err := d.jour.SaveTrade(rec); err != nil {
			log.Error().Err(err).Msg("Journal write failed")
		}
	}

	if f.Closed {
		d.sess.RecordTrade(session.TradeEntry{
			Side:   string(f.Side),
			Pnl:    f.Realized,
			Reason: f.Order.Reason,
			TS:     f.Order.TS,
		})
		if mode == session.ModePaper {
			d.sess.UpdatePaperPnl(f.Realized)
		} else {
			d.sess.UpdateLivePnl(f.Realized)
		}
	}

	if d.notify != nil {
		action := pnl.ActionOpen
		if f.Closed {
			action = pnl.ActionClose
		}
		d.notify.TradeFill(string(f.Side), action, f.Order.Price, f.Realized, string(mode))
	}
}

func (d *Dispatcher) handleModeChange(from, to session.Mode, reason string) {
	if d.jour != nil {
		ev := &journal.SessionEvent{
			Symbol:   d.symbol,
			FromMode: string(from),
			ToMode:   string(to),
			Reason:   reason,
		}
		if err := d.jour.SaveSessionEvent(ev); err != nil {
			log.Error().Err(err).Msg("Journal write failed")
		}
	}
	if d.notify != nil {
		d.notify.ModeChange(string(from), string(to), reason)
	}
}
