package stream

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Subthedev/QuantumX-sub000/internal/logging"
	"github.com/Subthedev/QuantumX-sub000/internal/market"
)

// binancePingInterval keeps the connection alive between server pings
const binancePingInterval = 3 * time.Minute

// binanceTickerEvent is the 24hr ticker payload inside the combined stream
type binanceTickerEvent struct {
	EventTime     int64  `json:"E"`
	Symbol        string `json:"s"`
	LastPrice     string `json:"c"`
	BidPrice      string `json:"b"`
	AskPrice      string `json:"a"`
	PriceChange   string `json:"p"`
	PriceChgPct   string `json:"P"`
	HighPrice     string `json:"h"`
	LowPrice      string `json:"l"`
	QuoteVolume   string `json:"q"`
}

type binanceCombinedMessage struct {
	Stream string             `json:"stream"`
	Data   binanceTickerEvent `json:"data"`
}

// BinanceSource streams 24hr ticker updates over the combined-stream
// endpoint for the assigned symbols.
type BinanceSource struct {
	mu sync.RWMutex

	baseURL   string
	symbols   []string
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

// NewBinanceSource creates the source for the given exchange symbols
func NewBinanceSource(baseURL string, symbols []string, symbolMap *market.SymbolMap, policy ReconnectPolicy, callbacks Callbacks, logger *logging.Logger) *BinanceSource {
	return &BinanceSource{
		baseURL:   baseURL,
		symbols:   symbols,
		symbolMap: symbolMap,
		policy:    policy,
		callbacks: callbacks,
		logger:    logger.WithComponent("binance-stream"),
		status:    StatusDisconnected,
	}
}

// Exchange identifies this source
func (b *BinanceSource) Exchange() market.Exchange { return market.ExchangeBinance }

// Status returns the current connection state
func (b *BinanceSource) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

// Start launches the stream loop. Errors only on misconfiguration; network
// failures are handled by the reconnect loop.
func (b *BinanceSource) Start() error {
	b.mu.Lock()
	if b.isRunning {
		b.mu.Unlock()
		return nil
	}
	if len(b.symbols) == 0 {
		b.mu.Unlock()
		return fmt.Errorf("binance source started with no symbols")
	}
	b.isRunning = true
	b.stopChan = make(chan struct{})
	b.mu.Unlock()

	b.wg.Add(1)
	go b.run()
	return nil
}

// Stop closes the connection and halts reconnects. Idempotent.
func (b *BinanceSource) Stop() {
	b.mu.Lock()
	if !b.isRunning {
		b.mu.Unlock()
		return
	}
	b.isRunning = false
	close(b.stopChan)
	if b.wsConn != nil {
		b.wsConn.Close()
	}
	b.mu.Unlock()

	b.wg.Wait()
	b.setStatus(StatusDisconnected)
	b.logger.Info("Binance stream stopped")
}

func (b *BinanceSource) run() {
	defer b.wg.Done()

	attempt := 0
	for {
		if b.stopped() {
			return
		}

		if attempt == 0 {
			b.setStatus(StatusConnecting)
		} else {
			b.setStatus(StatusReconnecting)
		}

		if err := b.connect(); err != nil {
			attempt++
			if attempt >= b.policy.MaxAttempts {
				b.logger.Error("Binance reconnect attempts exhausted",
					"attempts", attempt)
				b.setStatus(StatusError)
				b.callbacks.exhausted(market.ExchangeBinance)
				return
			}
			delay := b.policy.Delay(attempt)
			b.logger.Warn("Binance connect failed",
				"error", err,
				"attempt", attempt,
				"retry_in", delay.String())
			select {
			case <-b.stopChan:
				return
			case <-time.After(delay):
			}
			continue
		}

		attempt = 0
		b.setStatus(StatusConnected)
		b.logger.Info("Binance stream connected", "symbols", len(b.symbols))

		b.readLoop()

		if b.stopped() {
			return
		}
		b.setStatus(StatusDisconnected)
		attempt = 1
		delay := b.policy.Delay(attempt)
		b.logger.Warn("Binance stream disconnected", "retry_in", delay.String())
		select {
		case <-b.stopChan:
			return
		case <-time.After(delay):
		}
	}
}

func (b *BinanceSource) connect() error {
	streams := make([]string, len(b.symbols))
	for i, s := range b.symbols {
		streams[i] = strings.ToLower(s) + "@ticker"
	}
	url := fmt.Sprintf("%s?streams=%s", b.baseURL, strings.Join(streams, "/"))

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("dialing binance stream: %w", err)
	}

	b.mu.Lock()
	b.wsConn = conn
	b.mu.Unlock()
	return nil
}

func (b *BinanceSource) readLoop() {
	b.mu.RLock()
	conn := b.wsConn
	b.mu.RUnlock()

	pingTicker := time.NewTicker(binancePingInterval)
	defer pingTicker.Stop()
	pingDone := make(chan struct{})
	defer close(pingDone)

	go func() {
		for {
			select {
			case <-pingDone:
				return
			case <-pingTicker.C:
				conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !b.stopped() {
				b.logger.Warn("Binance read failed", "error", err)
			}
			conn.Close()
			return
		}
		b.handleMessage(data)
	}
}

func (b *BinanceSource) handleMessage(data []byte) {
	var msg binanceCombinedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		b.logger.Debug("Binance message decode failed", "error", err)
		return
	}
	if msg.Data.Symbol == "" {
		return
	}

	canonical, ok := b.symbolMap.CanonicalFor(market.ExchangeBinance, msg.Data.Symbol)
	if !ok {
		return
	}

	price := parseFloat(msg.Data.LastPrice)
	high := parseFloat(msg.Data.HighPrice)
	low := parseFloat(msg.Data.LowPrice)

	b.callbacks.tick(market.Ticker{
		Symbol:         canonical,
		Source:         market.ExchangeBinance,
		Price:          price,
		Bid:            parseFloat(msg.Data.BidPrice),
		Ask:            parseFloat(msg.Data.AskPrice),
		QuoteVolume24h: parseFloat(msg.Data.QuoteVolume),
		Change24h:      parseFloat(msg.Data.PriceChange),
		ChangePct24h:   parseFloat(msg.Data.PriceChgPct),
		High24h:        high,
		Low24h:         low,
		SourceTs:       msg.Data.EventTime,
		ReceivedTs:     time.Now().UnixMilli(),
	})
}

func (b *BinanceSource) setStatus(s Status) {
	b.mu.Lock()
	changed := b.status != s
	b.status = s
	b.mu.Unlock()
	if changed {
		b.callbacks.status(market.ExchangeBinance, s)
	}
}

func (b *BinanceSource) stopped() bool {
	select {
	case <-b.stopChan:
		return true
	default:
		return false
	}
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
