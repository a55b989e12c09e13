// Package snapshot persists the combined engine state to a JSON file and
// restores it on startup.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nidhinvijay/BTCUSDT/internal/engine"
	"github.com/nidhinvijay/BTCUSDT/internal/pnl"
	"github.com/nidhinvijay/BTCUSDT/internal/session"
)

// Document is the persisted state. Unknown fields in older files are
// ignored on read, so the set can grow.
type Document struct {
	FSM       engine.FSMState `json:"fsm"`
	Session   session.State   `json:"session"`
	Pnl       *pnl.State      `json:"pnl,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Store reads and writes the state file for one symbol.
type Store struct {
	dir    string
	symbol string
}

func NewStore(dir, symbol string) *Store {
	return &Store{dir: dir, symbol: symbol}
}

// Path returns the state file location.
func (s *Store) Path() string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_state.json", s.symbol))
}

// Load reads the persisted document. A missing file returns (nil, nil).
func (s *Store) Load() (*Document, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &doc, nil
}

// Save overwrites the state file with the given document.
func (s *Store) Save(doc Document) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("snapshot dir: %w", err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := os.WriteFile(s.Path(), data, 0644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// RunPeriodic writes a snapshot every interval until the context ends,
// then writes one final snapshot. Write failures are logged and the engine
// keeps running on its in-memory state.
func (s *Store) RunPeriodic(ctx context.Context, interval time.Duration, collect func() Document) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.Save(collect()); err != nil {
				log.Error().Err(err).Msg("Snapshot write failed")
			} else {
				log.Debug().Str("path", s.Path()).Msg("Snapshot written")
			}
		case <-ctx.Done():
			if err := s.Save(collect()); err != nil {
				log.Error().Err(err).Msg("Final snapshot write failed")
			} else {
				log.Info().Str("path", s.Path()).Msg("Final snapshot written")
			}
			return
		}
	}
}
