package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ProgressSnapshot is one server's aggregate crawl progress, as read back
// by an external dashboard.
type ProgressSnapshot struct {
	ServerIdent string
	QueID       uint64
	Remaining   int
	State       string
	LastUpdate  time.Time
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS server_progress (
	server_ident TEXT PRIMARY KEY,
	que_id       BIGINT NOT NULL,
	remaining    INTEGER NOT NULL,
	state        TEXT NOT NULL,
	last_update  TIMESTAMPTZ NOT NULL
)`

// Report implements hof.ProgressSink by upserting a ProgressSnapshot.
// Errors are returned (not logged here) so the caller decides how loud a
// telemetry outage should be.
func (db *DB) Report(serverIdent string, queID uint64, remaining int, state string, lastUpdate time.Time) error {
	return db.UpsertProgress(context.Background(), ProgressSnapshot{
		ServerIdent: serverIdent,
		QueID:       queID,
		Remaining:   remaining,
		State:       state,
		LastUpdate:  lastUpdate,
	})
}

// EnsureSchema creates the server_progress table if it does not already
// exist.
func (db *DB) EnsureSchema(ctx context.Context) error {
	_, err := db.pool.Exec(ctx, createTableSQL)
	if err != nil {
		return fmt.Errorf("telemetry: creating schema: %w", err)
	}
	return nil
}

// UpsertProgress records the latest aggregate snapshot for a server,
// replacing whatever was previously stored under the same ident. No
// per-account history is kept: this row is overwritten in place every
// time the coordinator reports progress.
func (db *DB) UpsertProgress(ctx context.Context, snap ProgressSnapshot) error {
	const sql = `
INSERT INTO server_progress (server_ident, que_id, remaining, state, last_update)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (server_ident) DO UPDATE SET
	que_id = EXCLUDED.que_id,
	remaining = EXCLUDED.remaining,
	state = EXCLUDED.state,
	last_update = EXCLUDED.last_update`

	_, err := db.pool.Exec(ctx, sql,
		snap.ServerIdent, snap.QueID, snap.Remaining, snap.State, snap.LastUpdate)
	if err != nil {
		return fmt.Errorf("telemetry: upserting progress for %s: %w", snap.ServerIdent, err)
	}
	return nil
}

// GetProgress reads back the most recent snapshot for a server.
func (db *DB) GetProgress(ctx context.Context, serverIdent string) (ProgressSnapshot, error) {
	const sql = `
SELECT server_ident, que_id, remaining, state, last_update
FROM server_progress
WHERE server_ident = $1`

	row := db.pool.QueryRow(ctx, sql, serverIdent)
	var snap ProgressSnapshot
	err := row.Scan(&snap.ServerIdent, &snap.QueID, &snap.Remaining, &snap.State, &snap.LastUpdate)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ProgressSnapshot{}, fmt.Errorf("telemetry: no progress recorded for %s", serverIdent)
		}
		return ProgressSnapshot{}, fmt.Errorf("telemetry: reading progress for %s: %w", serverIdent, err)
	}
	return snap, nil
}

// ListProgress reads back every server's most recent snapshot, ordered by
// remaining work descending (busiest server first).
func (db *DB) ListProgress(ctx context.Context) ([]ProgressSnapshot, error) {
	const sql = `
SELECT server_ident, que_id, remaining, state, last_update
FROM server_progress
ORDER BY remaining DESC`

	rows, err := db.pool.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("telemetry: listing progress: %w", err)
	}
	defer rows.Close()

	var out []ProgressSnapshot
	for rows.Next() {
		var snap ProgressSnapshot
		if err := rows.Scan(&snap.ServerIdent, &snap.QueID, &snap.Remaining, &snap.State, &snap.LastUpdate); err != nil {
			return nil, fmt.Errorf("telemetry: scanning progress row: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}
