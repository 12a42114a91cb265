// Package ledger mirrors job lifecycle events into Postgres for
// reporting, the way the teacher engine's internal/db package mirrors
// forensic scan results. It is strictly optional and best-effort: the
// JSON job store remains the sole source of truth and the sole input
// to crash recovery (spec.md §4.3, §9); a ledger outage never blocks
// a job transition.
package ledger

import (
	"context"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mixdao/mixd/pkg/models"
)

// schema is embedded rather than read from a sibling schema.sql file:
// the teacher's own InitSchema loads a file that isn't tracked
// alongside it, which would reproduce a latent deploy bug here. See
// DESIGN.md.
const schema = `
CREATE TABLE IF NOT EXISTS mix_events (
	id BIGSERIAL PRIMARY KEY,
	job_id TEXT NOT NULL,
	status TEXT NOT NULL,
	txid TEXT,
	detail TEXT,
	occurred_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS mix_events_job_id_idx ON mix_events (job_id);

CREATE TABLE IF NOT EXISTS mix_jobs (
	job_id TEXT PRIMARY KEY,
	target_address TEXT NOT NULL,
	amount TEXT NOT NULL,
	net_amount TEXT NOT NULL,
	shard_count INT NOT NULL,
	hop_count INT NOT NULL,
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

// Ledger wraps a pgx connection pool.
type Ledger struct {
	pool *pgxpool.Pool
}

// Connect opens the pool, pings it and applies the schema, mirroring
// the teacher's db.Connect/InitSchema sequence.
func Connect(ctx context.Context, connStr string) (*Ledger, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	l := &Ledger{pool: pool}
	if err := l.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) initSchema(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, schema)
	return err
}

// Close releases the pool.
func (l *Ledger) Close() {
	l.pool.Close()
}

// RecordTransition mirrors a job's state transition. Failures are
// logged, never propagated — a ledger outage must not stall the
// engine.
func (l *Ledger) RecordTransition(job *models.Job, txid, detail string) {
	if l == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := l.pool.Exec(ctx,
		`INSERT INTO mix_events (job_id, status, txid, detail) VALUES ($1, $2, $3, $4)`,
		job.JobID, string(job.Status), nullIfEmpty(txid), nullIfEmpty(detail))
	if err != nil {
		log.Printf("[ledger] record transition failed for job %s: %v", job.JobID, err)
		return
	}

	_, err = l.pool.Exec(ctx, `
		INSERT INTO mix_jobs (job_id, target_address, amount, net_amount, shard_count, hop_count, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (job_id) DO UPDATE SET status = $7, net_amount = $4, updated_at = $9`,
		job.JobID, job.TargetAddress, job.Amount.String(), job.NetAmount.String(),
		job.ShardCount, job.HopCount, string(job.Status), job.CreatedAt, job.LastUpdateAt)
	if err != nil {
		log.Printf("[ledger] upsert job row failed for job %s: %v", job.JobID, err)
	}
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// HistoryEntry is one row of GET /mix/history.
type HistoryEntry struct {
	JobID         string    `json:"job_id"`
	TargetAddress string    `json:"target_address"`
	Amount        string    `json:"amount"`
	NetAmount     string    `json:"net_amount"`
	ShardCount    int       `json:"shard_count"`
	HopCount      int       `json:"hop_count"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// History returns a page of recent jobs, newest first, mirroring the
// teacher's GetMixers pagination contract.
func (l *Ledger) History(ctx context.Context, page, limit int) ([]HistoryEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if page < 0 {
		page = 0
	}
	rows, err := l.pool.Query(ctx, `
		SELECT job_id, target_address, amount, net_amount, shard_count, hop_count, status, created_at, updated_at
		FROM mix_jobs ORDER BY updated_at DESC LIMIT $1 OFFSET $2`,
		limit, page*limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.JobID, &e.TargetAddress, &e.Amount, &e.NetAmount, &e.ShardCount, &e.HopCount, &e.Status, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
