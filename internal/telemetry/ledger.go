// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/sous/internal/cloud"
	"github.com/jeranaias/sous/internal/model"
	"github.com/jeranaias/sous/internal/orchestrator"
)

// =============================================================================
// SCHEMA
// =============================================================================

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS dispatches (
    id                TEXT PRIMARY KEY,
    created_at        INTEGER NOT NULL,
    request_id        TEXT NOT NULL DEFAULT '',
    session_id        TEXT NOT NULL DEFAULT '',
    intent            TEXT NOT NULL,
    tier              TEXT NOT NULL,
    model             TEXT NOT NULL DEFAULT '',
    prompt_tokens     INTEGER NOT NULL DEFAULT 0,
    completion_tokens INTEGER NOT NULL DEFAULT 0,
    cost_usd          REAL NOT NULL DEFAULT 0,
    latency_ms        INTEGER NOT NULL DEFAULT 0,
    attempts          INTEGER NOT NULL DEFAULT 0,
    degraded          INTEGER NOT NULL DEFAULT 0,
    error             TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_dispatches_created_at ON dispatches(created_at);
`

// =============================================================================
// RECORD
// =============================================================================

// Record is one row of the usage ledger. It never holds message or
// response text.
type Record struct {
	ID               string    `json:"id"`
	CreatedAt        time.Time `json:"created_at"`
	RequestID        string    `json:"request_id"`
	SessionID        string    `json:"session_id,omitempty"`
	Intent           string    `json:"intent"`
	Tier             string    `json:"tier"`
	Model            string    `json:"model,omitempty"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	CostUSD          float64   `json:"cost_usd"`
	LatencyMs        int64     `json:"latency_ms"`
	Attempts         int       `json:"attempts"`
	Degraded         bool      `json:"degraded,omitempty"`
	Error            string    `json:"error,omitempty"`
}

// Failed reports whether the dispatch ended in an error.
func (r Record) Failed() bool {
	return r.Error != ""
}

// RecordFromResult builds a ledger row for a successful route.
func RecordFromResult(sessionID string, res *model.DispatchResult) Record {
	return Record{
		RequestID:        res.RequestID,
		SessionID:        sessionID,
		Intent:           res.Intent,
		Tier:             res.Tier.String(),
		Model:            res.ProviderID,
		PromptTokens:     res.PromptTokens,
		CompletionTokens: res.CompletionTokens,
		CostUSD:          res.CostUSD,
		LatencyMs:        res.LatencyMs,
		Attempts:         res.Attempts,
		Degraded:         res.Degraded,
	}
}

// RecordFromFailure builds a ledger row for a failed route. Only the error
// code is kept, not the upstream message.
func RecordFromFailure(f orchestrator.Failure) Record {
	return Record{
		RequestID: f.RequestID,
		SessionID: f.SessionID,
		Intent:    string(f.Decision.Intent.Type),
		Tier:      f.Decision.Tier.String(),
		Attempts:  f.Attempts,
		Error:     ErrorCode(f.Err),
	}
}

// ErrorCode reduces an error to a short label for the ledger and metrics.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var dErr *cloud.DispatchError
	if errors.As(err, &dErr) {
		if dErr.Code != "" {
			return dErr.Code
		}
		if dErr.StatusCode != 0 {
			return fmt.Sprintf("%d", dErr.StatusCode)
		}
	}
	switch {
	case errors.Is(err, context.Canceled):
		return cloud.CodeCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return cloud.CodeTimeout
	case errors.Is(err, model.ErrUnknownTier):
		return "unknown_tier"
	default:
		return "error"
	}
}

// =============================================================================
// LEDGER
// =============================================================================

// Ledger persists dispatch records to SQLite. It implements
// orchestrator.Observer.
type Ledger struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// OpenLedger opens (or creates) the ledger database at path.
func OpenLedger(path string) (*Ledger, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(ledgerSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize ledger schema: %w", err)
	}

	return &Ledger{db: db, path: path, now: time.Now}, nil
}

// Path returns the database path.
func (l *Ledger) Path() string {
	return l.path
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Insert writes one record, assigning an ID and timestamp when missing.
func (l *Ledger) Insert(ctx context.Context, r Record) (Record, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = l.now()
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO dispatches
			(id, created_at, request_id, session_id, intent, tier, model,
			 prompt_tokens, completion_tokens, cost_usd, latency_ms, attempts, degraded, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.CreatedAt.UnixMilli(), r.RequestID, r.SessionID, r.Intent, r.Tier, r.Model,
		r.PromptTokens, r.CompletionTokens, r.CostUSD, r.LatencyMs, r.Attempts, r.Degraded, r.Error,
	)
	if err != nil {
		return r, fmt.Errorf("insert dispatch: %w", err)
	}
	return r, nil
}

// Recent returns up to limit records, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, created_at, request_id, session_id, intent, tier, model,
		       prompt_tokens, completion_tokens, cost_usd, latency_ms, attempts, degraded, error
		FROM dispatches
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query dispatches: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var createdAt int64
		if err := rows.Scan(
			&r.ID, &createdAt, &r.RequestID, &r.SessionID, &r.Intent, &r.Tier, &r.Model,
			&r.PromptTokens, &r.CompletionTokens, &r.CostUSD, &r.LatencyMs, &r.Attempts, &r.Degraded, &r.Error,
		); err != nil {
			return nil, fmt.Errorf("scan dispatch: %w", err)
		}
		r.CreatedAt = time.UnixMilli(createdAt)
		records = append(records, r)
	}
	return records, rows.Err()
}

// DeleteBefore removes records older than before and returns how many went.
func (l *Ledger) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, "DELETE FROM dispatches WHERE created_at < ?", before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune dispatches: %w", err)
	}
	return res.RowsAffected()
}

// =============================================================================
// SUMMARY
// =============================================================================

// Breakdown aggregates the records sharing one tier or intent.
type Breakdown struct {
	Key          string  `json:"key"`
	Count        int     `json:"count"`
	Failures     int     `json:"failures"`
	CostUSD      float64 `json:"cost_usd"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// Summary aggregates the ledger since a point in time.
type Summary struct {
	Since            time.Time   `json:"since"`
	Total            int         `json:"total"`
	Failures         int         `json:"failures"`
	Degraded         int         `json:"degraded"`
	CostUSD          float64     `json:"cost_usd"`
	PromptTokens     int         `json:"prompt_tokens"`
	CompletionTokens int         `json:"completion_tokens"`
	AvgLatencyMs     float64     `json:"avg_latency_ms"`
	ByTier           []Breakdown `json:"by_tier"`
	ByIntent         []Breakdown `json:"by_intent"`
}

// Summary aggregates every record created at or after since. A zero since
// covers the whole ledger.
func (l *Ledger) Summary(ctx context.Context, since time.Time) (*Summary, error) {
	s := &Summary{Since: since}
	sinceMs := int64(0)
	if !since.IsZero() {
		sinceMs = since.UnixMilli()
	}

	row := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(error != ''), 0),
		       COALESCE(SUM(degraded), 0),
		       COALESCE(SUM(cost_usd), 0),
		       COALESCE(SUM(prompt_tokens), 0),
		       COALESCE(SUM(completion_tokens), 0),
		       COALESCE(AVG(CASE WHEN error = '' THEN latency_ms END), 0)
		FROM dispatches WHERE created_at >= ?`, sinceMs)
	if err := row.Scan(&s.Total, &s.Failures, &s.Degraded, &s.CostUSD,
		&s.PromptTokens, &s.CompletionTokens, &s.AvgLatencyMs); err != nil {
		return nil, fmt.Errorf("summarize dispatches: %w", err)
	}

	var err error
	if s.ByTier, err = l.breakdown(ctx, "tier", sinceMs); err != nil {
		return nil, err
	}
	if s.ByIntent, err = l.breakdown(ctx, "intent", sinceMs); err != nil {
		return nil, err
	}
	return s, nil
}

// breakdown groups by column, which is one of the fixed names above.
func (l *Ledger) breakdown(ctx context.Context, column string, sinceMs int64) ([]Breakdown, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT `+column+`,
		       COUNT(*),
		       COALESCE(SUM(error != ''), 0),
		       COALESCE(SUM(cost_usd), 0),
		       COALESCE(AVG(CASE WHEN error = '' THEN latency_ms END), 0)
		FROM dispatches WHERE created_at >= ?
		GROUP BY `+column+`
		ORDER BY COUNT(*) DESC, `+column, sinceMs)
	if err != nil {
		return nil, fmt.Errorf("summarize by %s: %w", column, err)
	}
	defer rows.Close()

	var out []Breakdown
	for rows.Next() {
		var b Breakdown
		if err := rows.Scan(&b.Key, &b.Count, &b.Failures, &b.CostUSD, &b.AvgLatencyMs); err != nil {
			return nil, fmt.Errorf("scan %s breakdown: %w", column, err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// =============================================================================
// OBSERVER
// =============================================================================

// OnRouted records a successful route. Ledger failures are logged and never
// reach the caller.
func (l *Ledger) OnRouted(ctx context.Context, sessionID string, result *model.DispatchResult) {
	l.insertQuietly(ctx, RecordFromResult(sessionID, result))
}

// OnFailed records a failed route.
func (l *Ledger) OnFailed(ctx context.Context, f orchestrator.Failure) {
	l.insertQuietly(ctx, RecordFromFailure(f))
}

func (l *Ledger) insertQuietly(ctx context.Context, r Record) {
	// The caller's context may already be cancelled; the row should still land.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := l.Insert(ctx, r); err != nil {
		log.Warn().Err(err).Str("request_id", r.RequestID).Msg("ledger write failed")
	}
}
