package stream

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Subthedev/QuantumX-sub000/internal/logging"
	"github.com/Subthedev/QuantumX-sub000/internal/market"
)

type coinbaseSubscribe struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}

// coinbaseTicker is the ticker channel payload; heartbeat and subscription
// acks arrive on the same socket and are filtered by type.
type coinbaseTicker struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
	BestBid   string `json:"best_bid"`
	BestAsk   string `json:"best_ask"`
	Open24h   string `json:"open_24h"`
	High24h   string `json:"high_24h"`
	Low24h    string `json:"low_24h"`
	Volume24h string `json:"volume_24h"`
	Time      string `json:"time"`
}

// CoinbaseSource streams ticker updates from the Coinbase exchange feed.
// The heartbeat channel keeps the connection from idling out.
type CoinbaseSource struct {
	mu sync.RWMutex

	url       string
	products  []string
	symbolMap *market.SymbolMap
	policy    ReconnectPolicy
	callbacks Callbacks
	logger    *logging.Logger

	wsConn    *websocket.Conn
	status    Status
	isRunning bool
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewCoinbaseSource creates the source for the given product ids
func NewCoinbaseSource(url string, products []string, symbolMap *market.SymbolMap, policy ReconnectPolicy, callbacks Callbacks, logger *logging.Logger) *CoinbaseSource {
	return &CoinbaseSource{
		url:       url,
		products:  products,
		symbolMap: symbolMap,
		policy:    policy,
		callbacks: callbacks,
		logger:    logger.WithComponent("coinbase-stream"),
		status:    StatusDisconnected,
	}
}

// Exchange identifies this source
func (c *CoinbaseSource) Exchange() market.Exchange { return market.ExchangeCoinbase }

// Status returns the current connection state
func (c *CoinbaseSource) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Start launches the stream loop
func (c *CoinbaseSource) Start() error {
	c.mu.Lock()
	if c.isRunning {
		c.mu.Unlock()
		return nil
	}
	if len(c.products) == 0 {
		c.mu.Unlock()
		return fmt.Errorf("coinbase source started with no products")
	}
	c.isRunning = true
	c.stopChan = make(chan struct{})
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run()
	return nil
}

// Stop closes the connection and halts reconnects. Idempotent.
func (c *CoinbaseSource) Stop() {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return
	}
	c.isRunning = false
	close(c.stopChan)
	if c.wsConn != nil {
		c.wsConn.Close()
	}
	c.mu.Unlock()

	c.wg.Wait()
	c.setStatus(StatusDisconnected)
	c.logger.Info("Coinbase stream stopped")
}

func (c *CoinbaseSource) run() {
	defer c.wg.Done()

	attempt := 0
	for {
		if c.stopped() {
			return
		}

		if attempt == 0 {
			c.setStatus(StatusConnecting)
		} else {
			c.setStatus(StatusReconnecting)
		}

		if err := c.connect(); err != nil {
			attempt++
			if attempt >= c.policy.MaxAttempts {
				c.logger.Error("Coinbase reconnect attempts exhausted",
					"attempts", attempt)
				c.setStatus(StatusError)
				c.callbacks.exhausted(market.ExchangeCoinbase)
				return
			}
			delay := c.policy.Delay(attempt)
			c.logger.Warn("Coinbase connect failed",
				"error", err,
				"attempt", attempt,
				"retry_in", delay.String())
			select {
			case <-c.stopChan:
				return
			case <-time.After(delay):
			}
			continue
		}

		attempt = 0
		c.setStatus(StatusConnected)
		c.logger.Info("Coinbase stream connected", "products", len(c.products))

		c.readLoop()

		if c.stopped() {
			return
		}
		c.setStatus(StatusDisconnected)
		attempt = 1
		delay := c.policy.Delay(attempt)
		c.logger.Warn("Coinbase stream disconnected", "retry_in", delay.String())
		select {
		case <-c.stopChan:
			return
		case <-time.After(delay):
		}
	}
}

func (c *CoinbaseSource) connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		return fmt.Errorf("dialing coinbase feed: %w", err)
	}

	sub := coinbaseSubscribe{
		Type:       "subscribe",
		ProductIDs: c.products,
		Channels:   []string{"ticker", "heartbeat"},
	}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return fmt.Errorf("subscribing to coinbase channels: %w", err)
	}

	c.mu.Lock()
	c.wsConn = conn
	c.mu.Unlock()
	return nil
}

func (c *CoinbaseSource) readLoop() {
	c.mu.RLock()
	conn := c.wsConn
	c.mu.RUnlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !c.stopped() {
				c.logger.Warn("Coinbase read failed", "error", err)
			}
			conn.Close()
			return
		}
		c.handleMessage(data)
	}
}

func (c *CoinbaseSource) handleMessage(data []byte) {
	var msg coinbaseTicker
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Debug("Coinbase message decode failed", "error", err)
		return
	}
	if msg.Type != "ticker" || msg.ProductID == "" {
		return
	}

	canonical, ok := c.symbolMap.CanonicalFor(market.ExchangeCoinbase, msg.ProductID)
	if !ok {
		return
	}

	price := parseFloat(msg.Price)
	open := parseFloat(msg.Open24h)
	change := 0.0
	changePct := 0.0
	if open > 0 {
		change = price - open
		changePct = change / open * 100
	}

	sourceTs := time.Now().UnixMilli()
	if ts, err := time.Parse(time.RFC3339Nano, msg.Time); err == nil {
		sourceTs = ts.UnixMilli()
	}

	// volume_24h is in base units; approximate the quote figure at the
	// current price.
	baseVol := parseFloat(msg.Volume24h)

	c.callbacks.tick(market.Ticker{
		Symbol:         canonical,
		Source:         market.ExchangeCoinbase,
		Price:          price,
		Bid:            parseFloat(msg.BestBid),
		Ask:            parseFloat(msg.BestAsk),
		QuoteVolume24h: baseVol * price,
		Change24h:      change,
		ChangePct24h:   changePct,
		High24h:        parseFloat(msg.High24h),
		Low24h:         parseFloat(msg.Low24h),
		SourceTs:       sourceTs,
		ReceivedTs:     time.Now().UnixMilli(),
	})
}

func (c *CoinbaseSource) setStatus(s Status) {
	c.mu.Lock()
	changed := c.status != s
	c.status = s
	c.mu.Unlock()
	if changed {
		c.callbacks.status(market.ExchangeCoinbase, s)
	}
}

func (c *CoinbaseSource) stopped() bool {
	select {
	case <-c.stopChan:
		return true
	default:
		return false
	}
}
