// Package stream implements the long-lived exchange websocket sources that
// feed the aggregator with canonical ticks.
package stream

import (
	"time"

	"github.com/Subthedev/QuantumX-sub000/internal/market"
)

// Status is the connection lifecycle state of one source
type Status string

const (
	StatusConnecting   Status = "CONNECTING"
	StatusConnected    Status = "CONNECTED"
	StatusDisconnected Status = "DISCONNECTED"
	StatusReconnecting Status = "RECONNECTING"
	StatusError        Status = "ERROR"
)

// Callbacks wires a source into the aggregator. All callbacks are optional;
// OnExhausted fires once when the reconnect attempt cap is reached so the
// caller can lean on the HTTP fallback instead.
type Callbacks struct {
	OnTick      func(market.Ticker)
	OnStatus    func(source market.Exchange, status Status)
	OnExhausted func(source market.Exchange)
}

func (c *Callbacks) tick(t market.Ticker) {
	if c.OnTick != nil {
		c.OnTick(t)
	}
}

func (c *Callbacks) status(source market.Exchange, s Status) {
	if c.OnStatus != nil {
		c.OnStatus(source, s)
	}
}

func (c *Callbacks) exhausted(source market.Exchange) {
	if c.OnExhausted != nil {
		c.OnExhausted(source)
	}
}

// Source is one exchange stream. Start is non-blocking; Stop is idempotent
// and never triggers a reconnect.
type Source interface {
	Exchange() market.Exchange
	Start() error
	Stop()
	Status() Status
}

// ReconnectPolicy is the shared linear back-off: delay = base x attempt,
// capped, up to a fixed attempt budget.
type ReconnectPolicy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// DefaultReconnectPolicy matches the documented defaults: 3s base, 30s cap,
// 10 attempts.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		BaseDelay:   3 * time.Second,
		MaxDelay:    30 * time.Second,
		MaxAttempts: 10,
	}
}

// Delay returns the back-off before reconnect attempt n (1-based)
func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay * time.Duration(attempt)
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}
