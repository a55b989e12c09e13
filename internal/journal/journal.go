// Package journal persists fills and session events to a relational store.
package journal

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Journal wraps the trade database.
type Journal struct {
	db *gorm.DB
}

// TradeRecord is one simulated fill.
type TradeRecord struct {
	ID        uint            `gorm:"primaryKey;autoIncrement"`
	Symbol    string          `gorm:"index"`
	Side      string          // "LONG" or "SHORT"
	Action    string          // "OPEN" or "CLOSE"
	Qty       decimal.Decimal `gorm:"type:decimal(20,8)"`
	Price     decimal.Decimal `gorm:"type:decimal(20,8)"`
	Pnl       decimal.Decimal `gorm:"type:decimal(20,8)"`
	Reason    string
	Mode      string // "PAPER" or "LIVE"
	TickTS    int64
	CreatedAt time.Time
}

// SessionEvent records mode flips and daily stops.
type SessionEvent struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Symbol    string `gorm:"index"`
	FromMode  string
	ToMode    string
	Reason    string
	CreatedAt time.Time
}

// New opens the journal. A postgres:// DSN selects the Postgres driver,
// anything else is treated as a SQLite file path.
func New(dbPath string) (*Journal, error) {
	var db *gorm.DB
	var err error

	if strings.HasPrefix(dbPath, "postgres://") || strings.HasPrefix(dbPath, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("Journal connected (PostgreSQL)")
	} else {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		db, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", dbPath).Msg("Journal initialized (SQLite)")
	}

	if err := db.AutoMigrate(&TradeRecord{}, &SessionEvent{}); err != nil {
		return nil, err
	}

	return &Journal{db: db}, nil
}

// SaveTrade records a fill.
func (j *Journal) SaveTrade(rec *TradeRecord) error {
	return j.db.Create(rec).Error
}

// SaveSessionEvent records a mode flip.
func (j *Journal) SaveSessionEvent(ev *SessionEvent) error {
	return j.db.Create(ev).Error
}

// RecentTrades returns the newest fills.
func (j *Journal) RecentTrades(symbol string, limit int) ([]TradeRecord, error) {
	var recs []TradeRecord
	err := j.db.Where("symbol = ?", symbol).Order("created_at DESC").Limit(limit).Find(&recs).Error
	return recs, err
}

// TotalRealized sums realized P&L of closes for a symbol.
func (j *Journal) TotalRealized(symbol string) (decimal.Decimal, error) {
	var result struct {
		Total decimal.Decimal
	}
	err := j.db.Model(&TradeRecord{}).
		Where("symbol = ? AND action = ?", symbol, "CLOSE").
		Select("COALESCE(SUM(pnl), 0) as total").
		Scan(&result).Error
	return result.Total, err
}

// Stats returns aggregate journal counters.
func (j *Journal) Stats(symbol string) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var tradeCount int64
	j.db.Model(&TradeRecord{}).Where("symbol = ?", symbol).Count(&tradeCount)
	stats["total_fills"] = tradeCount

	var closeCount int64
	j.db.Model(&TradeRecord{}).Where("symbol = ? AND action = ?", symbol, "CLOSE").Count(&closeCount)
	stats["closed_trades"] = closeCount

	total, _ := j.TotalRealized(symbol)
	stats["total_realized"] = total

	var eventCount int64
	j.db.Model(&SessionEvent{}).Where("symbol = ?", symbol).Count(&eventCount)
	stats["session_events"] = eventCount

	return stats, nil
}
