// Package market defines the canonical data model shared by every ingestion
// path: the unified ticker, OHLC candles, and the static symbol map.
package market

import "time"

// Quality tags the freshness of a tick, derived from source-timestamp age
type Quality string

const (
	QualityHigh   Quality = "HIGH"   // < 1s
	QualityMedium Quality = "MEDIUM" // < 10s
	QualityLow    Quality = "LOW"    // < 30s
	QualityStale  Quality = "STALE"
)

// Ticker is the unified tick record produced by all ingestion paths.
// Prices, bid/ask and volume are in the USD quote unit.
type Ticker struct {
	Symbol         string   `json:"symbol"` // canonical id
	Source         Exchange `json:"source"`
	Price          float64  `json:"price"`
	Bid            float64  `json:"bid"`
	Ask            float64  `json:"ask"`
	QuoteVolume24h float64  `json:"quote_volume_24h"`
	Change24h      float64  `json:"change_24h"`
	ChangePct24h   float64  `json:"change_pct_24h"`
	ChangePct1h    float64  `json:"change_pct_1h,omitempty"`
	High24h        float64  `json:"high_24h"`
	Low24h         float64  `json:"low_24h"`
	SourceTs       int64    `json:"source_ts"` // ms UTC
	ReceivedTs     int64    `json:"received_ts"`
	Quality        Quality  `json:"quality"`
}

// SpreadPct returns the bid/ask spread as a percentage of the mid price,
// or 0 when either side is missing.
func (t *Ticker) SpreadPct() float64 {
	if t.Bid <= 0 || t.Ask <= 0 || t.Ask < t.Bid {
		return 0
	}
	mid := (t.Bid + t.Ask) / 2
	if mid == 0 {
		return 0
	}
	return (t.Ask - t.Bid) / mid * 100
}

// SourceTime returns the source timestamp as a time.Time
func (t *Ticker) SourceTime() time.Time {
	return time.UnixMilli(t.SourceTs).UTC()
}

// Candle is an OHLCV bar supplied by the external OHLC manager.
type Candle struct {
	OpenTime int64   `json:"open_time"` // ms UTC
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
}

// Valid reports whether the candle satisfies the OHLC ordering invariants
func (c *Candle) Valid() bool {
	if c.Volume < 0 {
		return false
	}
	lo, hi := c.Open, c.Close
	if lo > hi {
		lo, hi = hi, lo
	}
	return c.Low <= lo && hi <= c.High
}

// Closes extracts the close series from a candle slice
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i := range candles {
		out[i] = candles[i].Close
	}
	return out
}

// Volumes extracts the volume series from a candle slice
func Volumes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i := range candles {
		out[i] = candles[i].Volume
	}
	return out
}
