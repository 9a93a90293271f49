// Package indicators implements the shared technical indicators, their TTL
// cache, and the background pre-computation pipeline.
package indicators

import "math"

// MACDResult holds MACD line, signal line, and histogram values
type MACDResult struct {
	MACD      float64 `json:"macd"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

// BollingerResult holds Bollinger band values
type BollingerResult struct {
	Upper  float64 `json:"upper"`
	Middle float64 `json:"middle"`
	Lower  float64 `json:"lower"`
	Width  float64 `json:"width"` // (upper-lower)/middle * 100
}

// VolumeSummary summarises the volume window
type VolumeSummary struct {
	Current float64 `json:"current"`
	Average float64 `json:"average"`
	Ratio   float64 `json:"ratio"`
}

// RSI computes the Relative Strength Index with Wilder smoothing over the
// last period+1 closes. Returns 50 with insufficient samples and 100 when
// the average loss is zero.
func RSI(prices []float64, period int) float64 {
	if len(prices) < period+1 {
		return 50.0
	}

	gains := 0.0
	losses := 0.0
	for i := len(prices) - period; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			gains += change
		} else {
			losses += -change
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		return 100.0
	}

	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// SMA computes the simple moving average of the last period samples
func SMA(prices []float64, period int) float64 {
	if period <= 0 || len(prices) < period {
		return 0
	}
	sum := 0.0
	for i := len(prices) - period; i < len(prices); i++ {
		sum += prices[i]
	}
	return sum / float64(period)
}

// EMA computes the exponential moving average: seeded with the SMA of the
// first period samples, then ema = (price-ema)*(2/(period+1)) + ema.
func EMA(prices []float64, period int) float64 {
	series := emaSeries(prices, period)
	if series == nil {
		return 0
	}
	return series[len(series)-1]
}

// emaSeries returns the EMA value at every index from period-1 onward,
// or nil with insufficient samples.
func emaSeries(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) < period {
		return nil
	}

	out := make([]float64, 0, len(prices)-period+1)
	seed := 0.0
	for i := 0; i < period; i++ {
		seed += prices[i]
	}
	ema := seed / float64(period)
	out = append(out, ema)

	k := 2.0 / float64(period+1)
	for i := period; i < len(prices); i++ {
		ema = (prices[i]-ema)*k + ema
		out = append(out, ema)
	}
	return out
}

// MACD computes MACD(12,26,9): EMA12-EMA26, signal = EMA9 of the MACD
// history, histogram = MACD-signal. Zeroed with fewer than 26 samples.
func MACD(prices []float64) MACDResult {
	const fast, slow, signalPeriod = 12, 26, 9

	if len(prices) < slow {
		return MACDResult{}
	}

	fastSeries := emaSeries(prices, fast)
	slowSeries := emaSeries(prices, slow)

	// Both series are aligned at the last element; the MACD history runs
	// from the first index where both EMAs exist.
	n := len(slowSeries)
	macdHist := make([]float64, n)
	offset := len(fastSeries) - n
	for i := 0; i < n; i++ {
		macdHist[i] = fastSeries[offset+i] - slowSeries[i]
	}

	macd := macdHist[n-1]
	signal := macd
	if len(macdHist) >= signalPeriod {
		signal = EMA(macdHist, signalPeriod)
	}

	return MACDResult{
		MACD:      macd,
		Signal:    signal,
		Histogram: macd - signal,
	}
}

// Bollinger computes Bollinger bands: middle = SMA(period), bands at
// middle ± k·σ over the same window. Degenerate (zero) with fewer than
// period samples.
func Bollinger(prices []float64, period int, k float64) BollingerResult {
	if len(prices) < period {
		return BollingerResult{}
	}

	middle := SMA(prices, period)
	variance := 0.0
	for i := len(prices) - period; i < len(prices); i++ {
		d := prices[i] - middle
		variance += d * d
	}
	sigma := math.Sqrt(variance / float64(period))

	upper := middle + k*sigma
	lower := middle - k*sigma
	width := 0.0
	if middle != 0 {
		width = (upper - lower) / middle * 100
	}

	return BollingerResult{Upper: upper, Middle: middle, Lower: lower, Width: width}
}

// Volume summarises the volume window: current sample, window mean, and
// the current/mean ratio.
func Volume(volumes []float64) VolumeSummary {
	if len(volumes) == 0 {
		return VolumeSummary{}
	}

	sum := 0.0
	for _, v := range volumes {
		sum += v
	}
	avg := sum / float64(len(volumes))

	current := volumes[len(volumes)-1]
	ratio := 0.0
	if avg > 0 {
		ratio = current / avg
	}

	return VolumeSummary{Current: current, Average: avg, Ratio: ratio}
}

// StdDev computes the population standard deviation of the samples
func StdDev(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	mean := 0.0
	for _, s := range samples {
		mean += s
	}
	mean /= float64(len(samples))

	variance := 0.0
	for _, s := range samples {
		d := s - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(samples)))
}
