package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Subthedev/QuantumX-sub000/internal/logging"
)

// DefaultTimeout bounds one strategy evaluation
const DefaultTimeout = 300 * time.Millisecond

// Dispatcher fans one input bundle out to every registered strategy in
// parallel. Failures never cross strategy boundaries: a panic, error, or
// timeout becomes a rejection verdict for that strategy alone.
type Dispatcher struct {
	strategies []Strategy
	timeout    time.Duration
	logger     *logging.Logger
}

// NewDispatcher creates a dispatcher with the given per-call timeout;
// zero means the default.
func NewDispatcher(strategies []Strategy, timeout time.Duration, logger *logging.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{
		strategies: strategies,
		timeout:    timeout,
		logger:     logger.WithComponent("dispatcher"),
	}
}

// Strategies returns the bank size
func (d *Dispatcher) Strategies() int { return len(d.strategies) }

// Dispatch evaluates every strategy concurrently and returns all verdicts,
// rejections included. Verdicts below a strategy's minimum confidence are
// converted to rejections here so strategies stay simple.
func (d *Dispatcher) Dispatch(ctx context.Context, input *Input) []*Verdict {
	verdicts := make([]*Verdict, len(d.strategies))

	var wg sync.WaitGroup
	for i, s := range d.strategies {
		wg.Add(1)
		go func(i int, s Strategy) {
			defer wg.Done()
			verdicts[i] = d.evaluate(ctx, s, input)
		}(i, s)
	}
	wg.Wait()

	return verdicts
}

func (d *Dispatcher) evaluate(ctx context.Context, s Strategy, input *Input) (verdict *Verdict) {
	symbol := input.Ticker.Symbol

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Strategy panicked",
				"strategy", s.Name(),
				"symbol", symbol,
				"panic", fmt.Sprintf("%v", r))
			verdict = Reject(symbol, s.Name(), fmt.Sprintf("panic: %v", r))
		}
	}()

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	type result struct {
		v   *Verdict
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		v, err := s.Evaluate(callCtx, input)
		done <- result{v: v, err: err}
	}()

	select {
	case <-callCtx.Done():
		d.logger.Warn("Strategy timed out",
			"strategy", s.Name(),
			"symbol", symbol,
			"timeout", d.timeout.String())
		return Reject(symbol, s.Name(), "evaluation timed out")
	case res := <-done:
		if res.err != nil {
			return Reject(symbol, s.Name(), res.err.Error())
		}
		if res.v == nil {
			return Reject(symbol, s.Name(), "no verdict returned")
		}
		v := res.v
		v.Symbol = symbol
		v.Strategy = s.Name()
		if !v.Rejected {
			min := s.MinConfidence()
			if min <= 0 {
				min = DefaultMinConfidence
			}
			if v.Confidence < min {
				return Reject(symbol, s.Name(),
					fmt.Sprintf("confidence %.1f below minimum %.1f", v.Confidence, min))
			}
		}
		return v
	}
}
