package db

import (
	"database/sql"
	"fmt"
	"time"
)

// Pipeline event names.
const (
	EventStarted      = "started"
	EventStageEntered = "stage_entered"
	EventStageFailed  = "stage_failed"
	EventAwaitingFiat = "awaiting_fiat"
	EventCompleted    = "completed"
	EventCancelled    = "cancelled"
	EventReset        = "reset"
	EventRecovered    = "recovered"
	EventRetried      = "retried"
)

// TimestampFormat is how event timestamps are stored (UTC).
const TimestampFormat = "2006-01-02 15:04:05.000"

// PipelineEvent is one row of the event log.
type PipelineEvent struct {
	ID         int    `json:"id"`
	PipelineID string `json:"pipeline_id"`
	Event      string `json:"event"`
	Phase      string `json:"phase,omitempty"`
	Path       string `json:"path,omitempty"`
	Detail     string `json:"detail,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// Recorder receives pipeline events. *DB and NoopRecorder implement it.
type Recorder interface {
	LogPipelineEvent(pipelineID, event, phase, path, detail string) error
}

// NoopRecorder discards events. Used when the event log is disabled.
type NoopRecorder struct{}

func (NoopRecorder) LogPipelineEvent(pipelineID, event, phase, path, detail string) error {
	return nil
}

// LogPipelineEvent inserts a pipeline event stamped with the current time.
func (d *DB) LogPipelineEvent(pipelineID, event, phase, path, detail string) error {
	return d.logPipelineEventAt(time.Now(), pipelineID, event, phase, path, detail)
}

func (d *DB) logPipelineEventAt(at time.Time, pipelineID, event, phase, path, detail string) error {
	_, err := d.conn.Exec(
		`INSERT INTO pipeline_events (pipeline_id, event, phase, path, detail, timestamp) VALUES (?, ?, ?, ?, ?, ?)`,
		pipelineID, event, phase, path, detail, at.UTC().Format(TimestampFormat),
	)
	if err != nil {
		return fmt.Errorf("log pipeline event: %w", err)
	}
	return nil
}

// GetPipelineHistory returns all events for a pipeline, newest first.
func (d *DB) GetPipelineHistory(pipelineID string) ([]PipelineEvent, error) {
	rows, err := d.conn.Query(
		`SELECT id, pipeline_id, event, phase, path, detail, timestamp
		 FROM pipeline_events WHERE pipeline_id = ? ORDER BY id DESC`,
		pipelineID,
	)
	if err != nil {
		return nil, fmt.Errorf("get pipeline history: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// RecentEvents returns the latest limit events across all pipelines, newest first.
func (d *DB) RecentEvents(limit int) ([]PipelineEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.conn.Query(
		`SELECT id, pipeline_id, event, phase, path, detail, timestamp
		 FROM pipeline_events ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("get recent events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// LatestPipelineID returns the id of the most recently logged pipeline, or "".
func (d *DB) LatestPipelineID() (string, error) {
	var id string
	err := d.conn.QueryRow(`SELECT pipeline_id FROM pipeline_events ORDER BY id DESC LIMIT 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get latest pipeline id: %w", err)
	}
	return id, nil
}

// PhaseCount is a failure count for one phase.
type PhaseCount struct {
	Phase string `json:"phase"`
	Count int    `json:"count"`
}

// FailureCounts returns stage failures grouped by phase, most frequent first.
// since is an optional lower bound in TimestampFormat.
func (d *DB) FailureCounts(since string) ([]PhaseCount, error) {
	query := `SELECT phase, COUNT(*) AS n FROM pipeline_events WHERE event = ?`
	args := []interface{}{EventStageFailed}
	if since != "" {
		query += ` AND timestamp >= ?`
		args = append(args, since)
	}
	query += ` GROUP BY phase ORDER BY n DESC, phase`

	rows, err := d.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("get failure counts: %w", err)
	}
	defer rows.Close()

	var out []PhaseCount
	for rows.Next() {
		var pc PhaseCount
		var phase sql.NullString
		if err := rows.Scan(&phase, &pc.Count); err != nil {
			return nil, fmt.Errorf("scan failure count: %w", err)
		}
		pc.Phase = phase.String
		out = append(out, pc)
	}
	return out, rows.Err()
}

func scanEvents(rows *sql.Rows) ([]PipelineEvent, error) {
	var events []PipelineEvent
	for rows.Next() {
		var e PipelineEvent
		var phase, path, detail sql.NullString
		if err := rows.Scan(&e.ID, &e.PipelineID, &e.Event, &phase, &path, &detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan pipeline event: %w", err)
		}
		e.Phase = phase.String
		e.Path = path.String
		e.Detail = detail.String
		events = append(events, e)
	}
	return events, rows.Err()
}
