// Package session tracks cumulative paper and live P&L and gates the
// paper→live transition.
package session

import (
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Mode is the trading mode.
type Mode string

const (
	ModePaper Mode = "PAPER"
	ModeLive  Mode = "LIVE"
)

// tradeHistoryCap bounds the session trade ring.
const tradeHistoryCap = 50

// TradeEntry is one realized trade remembered by the session.
type TradeEntry struct {
	Side   string          `json:"side"`
	Pnl    decimal.Decimal `json:"pnl"`
	Mode   Mode            `json:"mode"`
	Reason string          `json:"reason"`
	TS     int64           `json:"ts"`
}

// State is the serializable session state.
type State struct {
	Mode                 Mode            `json:"mode"`
	PaperCumulativePnl   decimal.Decimal `json:"paperCumulativePnl"`
	LiveCumulativePnl    decimal.Decimal `json:"liveCumulativePnl"`
	TotalLiveRealisedPnl decimal.Decimal `json:"totalLiveRealisedPnl"`
	DailyRealisedPnl     decimal.Decimal `json:"dailyRealisedPnl"`
	DailyLossLimit       decimal.Decimal `json:"dailyLossLimit"`
	DailyStopActive      bool            `json:"dailyStopActive"`
	Trades               []TradeEntry    `json:"trades"`
}

// Manager owns the mode gate and the cumulative counters. Not goroutine
// safe; the dispatcher owns it.
type Manager struct {
	mode                 Mode
	paperCumulativePnl   decimal.Decimal
	liveCumulativePnl    decimal.Decimal
	totalLiveRealisedPnl decimal.Decimal
	dailyRealisedPnl     decimal.Decimal
	dailyLossLimit       decimal.Decimal // negative
	dailyStopActive      bool
	trades               []TradeEntry

	onModeChange func(from, to Mode, reason string)
}

// NewManager creates a session in PAPER mode. dailyLossLimit must be
// negative; the daily stop arms once daily realized P&L falls to or below it.
func NewManager(dailyLossLimit decimal.Decimal) *Manager {
	if dailyLossLimit.IsPositive() {
		dailyLossLimit = dailyLossLimit.Neg()
	}
	return &Manager{
		mode:           ModePaper,
		dailyLossLimit: dailyLossLimit,
	}
}

// SetModeChangeCallback registers a callback fired on every mode flip.
func (m *Manager) SetModeChangeCallback(cb func(from, to Mode, reason string)) {
	m.onModeChange = cb
}

// Mode returns the current trading mode.
func (m *Manager) Mode() Mode { return m.mode }

// DailyStopActive reports whether the daily risk stop is armed.
func (m *Manager) DailyStopActive() bool { return m.dailyStopActive }

// UpdatePaperPnl accumulates a realized paper delta. The first time the
// cumulative paper P&L goes positive, the session graduates to LIVE.
func (m *Manager) UpdatePaperPnl(delta decimal.Decimal) {
	if m.mode != ModePaper {
		log.Warn().Str("mode", string(m.mode)).Msg("Paper P&L update outside PAPER mode, dropped")
		return
	}
	m.paperCumulativePnl = m.paperCumulativePnl.Add(delta)

	// The gate stays shut while the daily stop is armed; re-entry to LIVE
	// waits for the daily reset.
	if m.paperCumulativePnl.IsPositive() && !m.dailyStopActive {
		m.liveCumulativePnl = decimal.Zero
		m.flip(ModeLive, "paper cumulative P&L positive")
	}
}

// UpdateLivePnl accumulates a realized live delta and applies the risk
// gates: a negative live cumulative drops back to PAPER, and breaching the
// daily loss limit arms the daily stop.
func (m *Manager) UpdateLivePnl(delta decimal.Decimal) {
	if m.mode != ModeLive {
		log.Warn().Str("mode", string(m.mode)).Msg("Live P&L update outside LIVE mode, dropped")
		return
	}
	m.liveCumulativePnl = m.liveCumulativePnl.Add(delta)
	m.totalLiveRealisedPnl = m.totalLiveRealisedPnl.Add(delta)
	m.dailyRealisedPnl = m.dailyRealisedPnl.Add(delta)

	if m.liveCumulativePnl.IsNegative() {
		m.dailyStopActive = true
		m.flip(ModePaper, "live cumulative P&L negative")
	}
	if m.dailyRealisedPnl.Cmp(m.dailyLossLimit) <= 0 {
		if !m.dailyStopActive {
			log.Warn().
				Str("dailyPnl", m.dailyRealisedPnl.StringFixed(2)).
				Str("limit", m.dailyLossLimit.StringFixed(2)).
				Msg("🛑 Daily loss limit hit")
		}
		m.dailyStopActive = true
	}
}

// RecordTrade appends a realized trade to the session ring (last 50 kept).
func (m *Manager) RecordTrade(e TradeEntry) {
	e.Mode = m.mode
	m.trades = append(m.trades, e)
	if len(m.trades) > tradeHistoryCap {
		m.trades = m.trades[len(m.trades)-tradeHistoryCap:]
	}
}

// ResetDailyStats clears the daily counters. Called once per day by an
// external scheduler.
func (m *Manager) ResetDailyStats() {
	m.dailyRealisedPnl = decimal.Zero
	m.dailyStopActive = false
	log.Info().Msg("📅 Daily stats reset")
}

func (m *Manager) flip(to Mode, reason string) {
	from := m.mode
	m.mode = to
	log.Info().
		Str("from", string(from)).
		Str("to", string(to)).
		Str("reason", reason).
		Msg("🔀 Mode change")
	if m.onModeChange != nil {
		m.onModeChange(from, to, reason)
	}
}

// GetState returns the serializable session state.
func (m *Manager) GetState() State {
	trades := make([]TradeEntry, len(m.trades))
	copy(trades, m.trades)
	return State{
		Mode:                 m.mode,
		PaperCumulativePnl:   m.paperCumulativePnl,
		LiveCumulativePnl:    m.liveCumulativePnl,
		TotalLiveRealisedPnl: m.totalLiveRealisedPnl,
		DailyRealisedPnl:     m.dailyRealisedPnl,
		DailyLossLimit:       m.dailyLossLimit,
		DailyStopActive:      m.dailyStopActive,
		Trades:               trades,
	}
}

// Restore replaces the session state with a previously serialized one. The
// configured daily loss limit wins over the persisted one when set.
func (m *Manager) Restore(s State) {
	if s.Mode != "" {
		m.mode = s.Mode
	}
	m.paperCumulativePnl = s.PaperCumulativePnl
	m.liveCumulativePnl = s.LiveCumulativePnl
	m.totalLiveRealisedPnl = s.TotalLiveRealisedPnl
	m.dailyRealisedPnl = s.DailyRealisedPnl
	m.dailyStopActive = s.DailyStopActive
	m.trades = make([]TradeEntry, len(s.Trades))
	copy(m.trades, s.Trades)
}
