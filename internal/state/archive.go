package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ShayCichocki/relay/internal/timing"
)

// Run is one archived orchestrator run.
type Run struct {
	// ID is the run's unique identifier.
	ID string `json:"id"`
	// Label is the human-readable description, usually the root task.
	Label string `json:"label"`
	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`
	// FinishedAt is when the run ended, if it has.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	// Events is the number of archived events.
	Events int `json:"events"`
}

// Archive is the persistence surface for orchestrator runs.
type Archive interface {
	ArchiveRun(run Run, events []timing.Event) error
	LoadRun(runID string) (*Run, error)
	LoadEvents(runID string) ([]timing.Event, error)
	ListRuns(limit int) ([]Run, error)
}

// ArchiveRun stores a run and its full event log in one transaction.
func (db *DB) ArchiveRun(run Run, events []timing.Event) error {
	if run.ID == "" {
		return fmt.Errorf("archive run: empty run ID")
	}

	return db.Transaction(func(tx *sql.Tx) error {
		var finishedAt any
		if run.FinishedAt != nil {
			finishedAt = formatTime(*run.FinishedAt)
		}
		_, err := tx.Exec(`
			INSERT INTO runs (id, label, started_at, finished_at, event_count)
			VALUES (?, ?, ?, ?, ?)
		`, run.ID, run.Label, formatTime(run.StartedAt), finishedAt, len(events))
		if err != nil {
			return fmt.Errorf("insert run %s: %w", run.ID, err)
		}

		stmt, err := tx.Prepare(`
			INSERT INTO events (run_id, seq, timestamp, type, tier, job_id,
				batch_id, token_id, success, duration_us, error, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("prepare event insert: %w", err)
		}
		defer stmt.Close()

		for _, e := range events {
			var metadata any
			if len(e.Metadata) > 0 {
				raw, err := json.Marshal(e.Metadata)
				if err != nil {
					return fmt.Errorf("marshal metadata for seq %d: %w", e.Seq, err)
				}
				metadata = string(raw)
			}
			_, err := stmt.Exec(run.ID, e.Seq, formatTime(e.Timestamp), string(e.Type),
				e.Tier, e.JobID, e.BatchID, e.TokenID, e.Success,
				e.Duration.Microseconds(), e.Error, metadata)
			if err != nil {
				return fmt.Errorf("insert event seq %d: %w", e.Seq, err)
			}
		}
		return nil
	})
}

// LoadRun returns one archived run's metadata.
func (db *DB) LoadRun(runID string) (*Run, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	row := db.conn.QueryRow(`
		SELECT id, label, started_at, finished_at, event_count
		FROM runs WHERE id = ?
	`, runID)

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	return run, nil
}

// LoadEvents returns the archived event log for a run, in seq order.
func (db *DB) LoadEvents(runID string) ([]timing.Event, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.Query(`
		SELECT seq, timestamp, type, tier, job_id, batch_id, token_id,
			success, duration_us, error, metadata
		FROM events WHERE run_id = ? ORDER BY seq
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("load events for run %s: %w", runID, err)
	}
	defer rows.Close()

	var events []timing.Event
	for rows.Next() {
		var (
			e          timing.Event
			ts         string
			typ        string
			jobID      sql.NullString
			batchID    sql.NullString
			tokenID    sql.NullString
			durationUS int64
			errStr     sql.NullString
			metadata   sql.NullString
		)
		if err := rows.Scan(&e.Seq, &ts, &typ, &e.Tier, &jobID, &batchID,
			&tokenID, &e.Success, &durationUS, &errStr, &metadata); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}

		e.Timestamp, err = parseTime(ts)
		if err != nil {
			return nil, fmt.Errorf("parse event timestamp: %w", err)
		}
		e.Type = timing.EventType(typ)
		e.JobID = jobID.String
		e.BatchID = batchID.String
		e.TokenID = tokenID.String
		e.Duration = time.Duration(durationUS) * time.Microsecond
		e.Error = errStr.String
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("parse event metadata: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ListRuns returns archived runs, newest first. limit <= 0 returns all.
func (db *DB) ListRuns(limit int) ([]Run, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	query := `
		SELECT id, label, started_at, finished_at, event_count
		FROM runs ORDER BY started_at DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// PurgeOldRuns deletes runs started before the cutoff and their events.
// Returns the number of runs deleted.
func (db *DB) PurgeOldRuns(olderThan time.Duration) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	cutoff := formatTime(time.Now().Add(-olderThan))
	result, err := db.conn.Exec(`DELETE FROM runs WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge old runs: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return count, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		run        Run
		startedAt  string
		finishedAt sql.NullString
	)
	if err := row.Scan(&run.ID, &run.Label, &startedAt, &finishedAt, &run.Events); err != nil {
		return nil, err
	}
	var err error
	run.StartedAt, err = parseTime(startedAt)
	if err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	run.FinishedAt = parseNullableTime(finishedAt)
	return &run, nil
}

// Verify DB implements Archive at compile time.
var _ Archive = (*DB)(nil)
