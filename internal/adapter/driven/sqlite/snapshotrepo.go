package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ericfisherdev/fitsync/internal/domain/model"
	"github.com/ericfisherdev/fitsync/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.SnapshotStore = (*SnapshotRepo)(nil)

// SnapshotRepo is the SQLite implementation of the SnapshotStore port. Each
// record is stored as a JSON payload under (source, category, date, time).
type SnapshotRepo struct {
	db *DB
}

// NewSnapshotRepo creates a new SnapshotRepo.
func NewSnapshotRepo(db *DB) *SnapshotRepo {
	return &SnapshotRepo{db: db}
}

// Put replaces source's records across the span snap covers inside one
// transaction.
func (r *SnapshotRepo) Put(ctx context.Context, source model.Provider, snap model.Snapshot) error {
	first, last, ok := snap.Span()
	if !ok {
		return nil
	}

	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const purge = `DELETE FROM record_snapshots WHERE source = ? AND date >= ? AND date <= ?`
	if _, err := tx.ExecContext(ctx, purge, string(source), first, last); err != nil {
		return fmt.Errorf("purge %s snapshot %s..%s: %w", source, first, last, err)
	}

	const query = `INSERT OR REPLACE INTO record_snapshots (source, category, date, time, payload, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare snapshot upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range snap.Entries() {
		payload, err := json.Marshal(e.Record)
		if err != nil {
			return fmt.Errorf("marshal %s record %s: %w", e.Category, e.Key.Date, err)
		}
		if _, err := stmt.ExecContext(ctx, string(source), string(e.Category), e.Key.Date, e.Key.Time, string(payload)); err != nil {
			return fmt.Errorf("upsert %s snapshot %s: %w", source, e.Key.Date, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot tx: %w", err)
	}
	return nil
}

// Load returns the records stored for source with dates inside rng, ordered
// by date and time. Rows whose payload no longer decodes are skipped.
func (r *SnapshotRepo) Load(ctx context.Context, source model.Provider, rng model.DateRange) (model.Snapshot, error) {
	const query = `SELECT category, payload FROM record_snapshots
		WHERE source = ? AND date >= ? AND date <= ?
		ORDER BY date, time`

	rows, err := r.db.Reader.QueryContext(ctx, query, string(source), rng.StartDate(), rng.EndDate())
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("query %s snapshot: %w", source, err)
	}
	defer func() { _ = rows.Close() }()

	var snap model.Snapshot
	for rows.Next() {
		var category, payload string
		if err := rows.Scan(&category, &payload); err != nil {
			return model.Snapshot{}, fmt.Errorf("scan %s snapshot: %w", source, err)
		}
		_ = snap.AppendEncoded(model.Category(category), []byte(payload))
	}
	if err := rows.Err(); err != nil {
		return model.Snapshot{}, fmt.Errorf("iterate %s snapshot: %w", source, err)
	}

	return snap, nil
}

// Clear drops every stored record for source.
func (r *SnapshotRepo) Clear(ctx context.Context, source model.Provider) error {
	const query = `DELETE FROM record_snapshots WHERE source = ?`
	if _, err := r.db.Writer.ExecContext(ctx, query, string(source)); err != nil {
		return fmt.Errorf("clear %s snapshot: %w", source, err)
	}
	return nil
}
