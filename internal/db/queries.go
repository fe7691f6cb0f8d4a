package db

import (
	"database/sql"
	"fmt"
)

// Run represents a row in the runs table.
type Run struct {
	RunID        string
	StartedAt    string
	FinishedAt   string
	Iterations   int
	Completed    int
	Failed       int
	GateFailures int
}

// ItemEvent represents a row in the item_events table.
type ItemEvent struct {
	ID        int
	RunID     string
	ItemID    string
	Event     string
	Detail    string
	Timestamp string
}

// LogRunStart records the start of an orchestrator run.
func (d *DB) LogRunStart(runID string) error {
	_, err := d.conn.Exec(`INSERT INTO runs (run_id) VALUES (?)`, runID)
	if err != nil {
		return fmt.Errorf("log run start: %w", err)
	}
	return nil
}

// LogRunEnd records the final summary of an orchestrator run.
func (d *DB) LogRunEnd(runID string, iterations, completed, failed, gateFailures int) error {
	_, err := d.conn.Exec(
		`UPDATE runs SET finished_at = datetime('now'), iterations = ?, completed = ?, failed = ?, gate_failures = ? WHERE run_id = ?`,
		iterations, completed, failed, gateFailures, runID,
	)
	if err != nil {
		return fmt.Errorf("log run end: %w", err)
	}
	return nil
}

// LogItemEvent inserts an item lifecycle event.
func (d *DB) LogItemEvent(runID, itemID, event, detail string) error {
	_, err := d.conn.Exec(
		`INSERT INTO item_events (run_id, item_id, event, detail) VALUES (?, ?, ?, ?)`,
		runID, itemID, event, detail,
	)
	if err != nil {
		return fmt.Errorf("log item event: %w", err)
	}
	return nil
}

// LogGateRun inserts one gate command outcome.
func (d *DB) LogGateRun(runID, itemID string, fixRound int, gateName string, passed bool, exitCode, durationMs int) error {
	_, err := d.conn.Exec(
		`INSERT INTO gate_runs (run_id, item_id, fix_round, gate_name, passed, exit_code, duration_ms) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, itemID, fixRound, gateName, passed, exitCode, durationMs,
	)
	if err != nil {
		return fmt.Errorf("log gate run: %w", err)
	}
	return nil
}

// RecentRuns returns the most recent runs, newest first.
func (d *DB) RecentRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := d.conn.Query(
		`SELECT run_id, started_at, finished_at, iterations, completed, failed, gate_failures
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var finished sql.NullString
		var iters, completed, failed, gateFailures sql.NullInt64
		if err := rows.Scan(&r.RunID, &r.StartedAt, &finished, &iters, &completed, &failed, &gateFailures); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.FinishedAt = finished.String
		r.Iterations = int(iters.Int64)
		r.Completed = int(completed.Int64)
		r.Failed = int(failed.Int64)
		r.GateFailures = int(gateFailures.Int64)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ItemHistory returns all recorded events for one item, oldest first.
func (d *DB) ItemHistory(itemID string) ([]ItemEvent, error) {
	rows, err := d.conn.Query(
		`SELECT id, run_id, item_id, event, detail, timestamp
		 FROM item_events WHERE item_id = ? ORDER BY id ASC`, itemID,
	)
	if err != nil {
		return nil, fmt.Errorf("item history: %w", err)
	}
	defer rows.Close()

	var events []ItemEvent
	for rows.Next() {
		var e ItemEvent
		var detail sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &e.ItemID, &e.Event, &detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan item event: %w", err)
		}
		e.Detail = detail.String
		events = append(events, e)
	}
	return events, rows.Err()
}
