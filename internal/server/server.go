// Package server exposes the webhook ingress, the status endpoint and the
// relay registry over HTTP.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nidhinvijay/BTCUSDT/internal/engine"
	"github.com/nidhinvijay/BTCUSDT/internal/journal"
	"github.com/nidhinvijay/BTCUSDT/internal/signalbus"
)

var (
	entryPattern = regexp.MustCompile(`(?i)accepted\s+entry`)
	exitPattern  = regexp.MustCompile(`(?i)accepted\s+exit`)
)

const relayTimeout = 5 * time.Second

// Server handles the HTTP surface of the engine.
type Server struct {
	addr       string
	symbol     string
	bus        *signalbus.Bus
	dispatcher *engine.Dispatcher
	jour       *journal.Journal
	relays     *RelaySet

	httpSrv     *http.Server
	relayClient *http.Client

	// nowMs stamps accepted signals; overridable in tests.
	nowMs func() int64
}

func New(port int, symbol string, bus *signalbus.Bus, d *engine.Dispatcher, j *journal.Journal) *Server {
	s := &Server{
		addr:        fmt.Sprintf(":%d", port),
		symbol:      symbol,
		bus:         bus,
		dispatcher:  d,
		jour:        j,
		relays:      NewRelaySet(),
		relayClient: &http.Client{Timeout: relayTimeout},
		nowMs:       func() int64 { return time.Now().UnixMilli() },
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", s.handleWebhook)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/relays", s.handleRelays)
	mux.HandleFunc("/close", s.handleClose)
	mux.HandleFunc("/healthz", s.handleHealth)
	s.httpSrv = &http.Server{Addr: s.addr, Handler: mux}
	return s
}

// Relays exposes the relay registry.
func (s *Server) Relays() *RelaySet { return s.relays }

// Start binds and serves. Returns on listener failure or shutdown.
func (s *Server) Start() error {
	log.Info().Str("addr", s.addr).Msg("🌐 HTTP server listening")
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// webhookBody is the JSON shape TradingView-style senders post. Any of the
// three fields may carry the message; raw text bodies are accepted too.
type webhookBody struct {
	Message string `json:"message"`
	Text    string `json:"text"`
	Signal  string `json:"signal"`
}

// ParseSignal classifies a webhook message. Returns the side and true when
// the message matches one of the accepted patterns.
func ParseSignal(message string) (signalbus.Side, bool) {
	switch {
	case entryPattern.MatchString(message):
		return signalbus.Buy, true
	case exitPattern.MatchString(message):
		return signalbus.Sell, true
	}
	return "", false
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	message := extractMessage(body)
	side, ok := ParseSignal(message)
	if !ok {
		log.Warn().Str("message", message).Msg("Webhook rejected, unparseable signal")
		http.Error(w, "unrecognized signal", http.StatusBadRequest)
		return
	}

	// Respond before publishing; the sender does not wait on engine work.
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})

	sig := signalbus.Signal{Side: side, Raw: message, TS: s.nowMs()}
	s.bus.Publish(sig)
	go s.fanOut(sig)
}

// extractMessage pulls the signal text from a JSON body, falling back to
// the raw body text.
func extractMessage(body []byte) string {
	var parsed webhookBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		switch {
		case parsed.Message != "":
			return parsed.Message
		case parsed.Text != "":
			return parsed.Text
		case parsed.Signal != "":
			return parsed.Signal
		}
	}
	return string(body)
}

// fanOut forwards an accepted signal to every registered relay,
// fire-and-forget with a per-relay timeout.
func (s *Server) fanOut(sig signalbus.Signal) {
	targets := s.relays.List()
	if len(targets) == 0 {
		return
	}

	payload, err := json.Marshal(map[string]interface{}{
		"message":    sig.Raw,
		"type":       "tradingview-signal",
		"side":       sig.Side,
		"rawMessage": sig.Raw,
		"ts":         sig.TS,
	})
	if err != nil {
		return
	}

	for _, target := range targets {
		go func(url string) {
			resp, err := s.relayClient.Post(url, "application/json", bytes.NewReader(payload))
			if err != nil {
				log.Warn().Err(err).Str("relay", url).Msg("Relay post failed")
				return
			}
			resp.Body.Close()
		}(target)
	}
}

// statusResponse embeds the engine status and appends journal-backed
// lifetime counters.
type statusResponse struct {
	engine.Status
	Journal map[string]interface{} `json:"journal,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := statusResponse{Status: s.dispatcher.Status()}
	if s.jour != nil {
		stats, err := s.jour.Stats(s.symbol)
		if err != nil {
			log.Warn().Err(err).Msg("Journal stats query failed")
		} else {
			resp.Journal = stats
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type relayRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleRelays(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]interface{}{"relays": s.relays.List()})

	case http.MethodPost:
		var req relayRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
			http.Error(w, "missing url", http.StatusBadRequest)
			return
		}
		if err := s.relays.Add(req.URL); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"relays": s.relays.List()})

	case http.MethodDelete:
		var req relayRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
			http.Error(w, "missing url", http.StatusBadRequest)
			return
		}
		s.relays.Remove(req.URL)
		writeJSON(w, http.StatusOK, map[string]interface{}{"relays": s.relays.List()})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.dispatcher.ManualClose()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.dispatcher.Status()
	health := map[string]interface{}{
		"status": "ok",
		"mode":   st.Session.Mode,
	}
	if st.LastTick != nil {
		health["lastTickTs"] = st.LastTick.TS
		health["lastTickAgeMs"] = s.nowMs() - st.LastTick.TS
	}
	writeJSON(w, http.StatusOK, health)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Response encode failed")
	}
}
