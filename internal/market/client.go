package market

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	defaultWSURL      = "wss://stream.binance.com:9443/ws"
	maxReconnects     = 10
	reconnectBackoff  = 5 * time.Second
	handshakeDeadline = 10 * time.Second
)

// Client streams trades for a single symbol over the Binance WebSocket API
// and converts each frame into a Tick.
type Client struct {
	wsURL  string
	symbol string
	conn   *websocket.Conn

	onTick func(Tick)

	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// tradeFrame is the subset of the @trade stream payload the engine needs.
type tradeFrame struct {
	Event string `json:"e"`
	Price string `json:"p"`
	Time  int64  `json:"T"`
}

// NewClient creates a client for the given symbol (e.g. BTCUSDT).
func NewClient(symbol string) *Client {
	return &Client{
		wsURL:  defaultWSURL,
		symbol: strings.ToLower(symbol),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// SetTickCallback sets the callback invoked for every trade tick. Must be
// set before Start; the callback must not block.
func (c *Client) SetTickCallback(cb func(Tick)) {
	c.onTick = cb
}

// Start connects and begins streaming in the background. Reconnects up to
// maxReconnects times with a fixed back-off before giving up.
func (c *Client) Start() error {
	if err := c.connect(); err != nil {
		return err
	}
	c.running = true
	go c.run()
	log.Info().Str("symbol", c.symbol).Msg("📈 Market feed started")
	return nil
}

// Stop closes the connection and ends the read loop.
func (c *Client) Stop() {
	if !c.running {
		return
	}
	c.running = false
	close(c.stopCh)
	if c.conn != nil {
		c.conn.Close()
	}
	<-c.doneCh
}

func (c *Client) connect() error {
	url := fmt.Sprintf("%s/%s@trade", c.wsURL, c.symbol)

	dialer := websocket.Dialer{HandshakeTimeout: handshakeDeadline}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}

	c.conn = conn
	log.Info().Str("url", url).Msg("🔌 WebSocket connected")
	return nil
}

func (c *Client) run() {
	defer close(c.doneCh)

	attempts := 0
	for c.running {
		c.readMessages()
		if !c.running {
			return
		}

		attempts++
		if attempts > maxReconnects {
			log.Error().Int("attempts", attempts-1).Msg("Market feed gave up reconnecting")
			return
		}
		log.Warn().Int("attempt", attempts).Msg("WebSocket disconnected, reconnecting...")

		select {
		case <-time.After(reconnectBackoff):
		case <-c.stopCh:
			return
		}

		if err := c.connect(); err != nil {
			log.Error().Err(err).Msg("WebSocket reconnect failed")
			continue
		}
		attempts = 0
	}
}

func (c *Client) readMessages() {
	for c.running {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if c.running {
				log.Error().Err(err).Msg("WebSocket read error")
			}
			return
		}
		c.handleMessage(message)
	}
}

func (c *Client) handleMessage(data []byte) {
	var frame tradeFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return
	}
	if frame.Event != "trade" {
		return
	}

	price, err := decimal.NewFromString(frame.Price)
	if err != nil {
		log.Warn().Str("price", frame.Price).Msg("Unparseable trade price, dropping frame")
		return
	}

	if c.onTick != nil {
		c.onTick(Tick{Price: price, TS: frame.Time})
	}
}
