package database

import (
	"context"
	"fmt"
	"time"

	"github.com/Subthedev/QuantumX-sub000/internal/engine"
)

// writeTimeout bounds each sink write so persistence never stalls the
// pipeline past its deadline.
const writeTimeout = 5 * time.Second

// Repository is the engine's persistence sink backed by PostgreSQL
type Repository struct {
	db *DB
}

// NewRepository creates the repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// SaveSignal inserts one signal record
func (r *Repository) SaveSignal(ctx context.Context, rec *engine.SignalRecord) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO signals (
			id, symbol, direction, timeframe,
			entry_min, entry_max, current_price, stop_loss,
			target1, target2, target3,
			confidence, strength, risk_level, status,
			reasoning, selection_reason, market_condition,
			created_at, expires_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		rec.ID, rec.Symbol, rec.Direction, rec.Timeframe,
		rec.EntryMin, rec.EntryMax, rec.CurrentPrice, rec.StopLoss,
		rec.Target1, rec.Target2, rec.Target3,
		rec.Confidence, rec.Strength, string(rec.RiskLevel), rec.Status,
		rec.Reasoning, rec.Selection, rec.Condition,
		rec.CreatedAt, rec.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("inserting signal %s: %w", rec.ID, err)
	}
	return nil
}

// SaveTrigger inserts one trigger trace; writes are best-effort
func (r *Repository) SaveTrigger(ctx context.Context, rec *engine.TriggerRecord) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	indicators := rec.Indicators
	if indicators == "" {
		indicators = "{}"
	}

	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO strategy_triggers (
			symbol, strategy, reason, priority,
			market_price, change_1h, volume_24h,
			signal_generated, rejected, rejection_reason,
			reasoning, indicators, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		rec.Symbol, rec.Strategy, rec.Reason, rec.Priority,
		rec.MarketPrice, rec.Change1h, rec.Volume24h,
		rec.SignalGenerated, rec.Rejected, rec.RejectionReason,
		rec.Reasoning, indicators, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting trigger for %s: %w", rec.Symbol, err)
	}
	return nil
}

// RecordOutcome closes a signal with its outcome label and return
func (r *Repository) RecordOutcome(ctx context.Context, signalID, outcome string, returnPct float64) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE signals
		SET status = 'CLOSED', outcome = $2, return_pct = $3
		WHERE id = $1`,
		signalID, outcome, returnPct,
	)
	if err != nil {
		return fmt.Errorf("recording outcome for signal %s: %w", signalID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("no signal with id %s", signalID)
	}
	return nil
}

// RecentSignals returns the latest signals, newest first
func (r *Repository) RecentSignals(ctx context.Context, limit int) ([]*engine.SignalRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, symbol, direction, timeframe,
			entry_min, entry_max, current_price, stop_loss,
			target1, target2, target3,
			confidence, strength, risk_level, status,
			COALESCE(reasoning, ''), COALESCE(selection_reason, ''),
			COALESCE(market_condition, ''),
			created_at, expires_at
		FROM signals
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent signals: %w", err)
	}
	defer rows.Close()

	var out []*engine.SignalRecord
	for rows.Next() {
		var rec engine.SignalRecord
		var riskLevel string
		if err := rows.Scan(
			&rec.ID, &rec.Symbol, &rec.Direction, &rec.Timeframe,
			&rec.EntryMin, &rec.EntryMax, &rec.CurrentPrice, &rec.StopLoss,
			&rec.Target1, &rec.Target2, &rec.Target3,
			&rec.Confidence, &rec.Strength, &riskLevel, &rec.Status,
			&rec.Reasoning, &rec.Selection, &rec.Condition,
			&rec.CreatedAt, &rec.ExpiresAt,
		); err != nil {
			return nil, fmt.Errorf("scanning signal row: %w", err)
		}
		rec.RiskLevel = engine.RiskLevel(riskLevel)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// Close releases the underlying pool
func (r *Repository) Close() {
	r.db.Close()
}
