package analytics

import (
	"database/sql"
	"fmt"
	"math"
	"sort"
	"time"
)

// DB is the interface for database queries used by analytics.
type DB interface {
	Conn() *sql.DB
}

// StageDuration holds duration stats for a phase.
type StageDuration struct {
	Phase string  `json:"phase"`
	Count int     `json:"count"`
	Avg   float64 `json:"avg_seconds"`
	P50   float64 `json:"p50_seconds"`
	P95   float64 `json:"p95_seconds"`
}

// timestamp formats to try when parsing timestamps from the database
var timestampFormats = []string{
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
}

func parseTimestamp(s string) (time.Time, error) {
	for _, f := range timestampFormats {
		if t, err := time.Parse(f, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s)
}

// QueryStageDurations returns average and percentile durations per phase.
// Each stage_entered event is paired with the next event of the same
// pipeline; the gap is attributed to the entered phase.
func QueryStageDurations(database DB, since string) ([]StageDuration, error) {
	query := `
		SELECT pe1.phase, pe1.timestamp AS start_ts,
			(SELECT pe2.timestamp FROM pipeline_events pe2
			 WHERE pe2.pipeline_id = pe1.pipeline_id
			 AND pe2.id > pe1.id
			 ORDER BY pe2.id LIMIT 1) AS end_ts
		FROM pipeline_events pe1
		WHERE pe1.event = 'stage_entered'
		AND pe1.phase != ''`

	args := []interface{}{}
	if since != "" {
		query += ` AND pe1.timestamp >= ?`
		args = append(args, since)
	}

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query stage durations: %w", err)
	}
	defer rows.Close()

	phaseDurations := make(map[string][]float64)
	for rows.Next() {
		var phase, startTS string
		var endTS sql.NullString
		if err := rows.Scan(&phase, &startTS, &endTS); err != nil {
			return nil, fmt.Errorf("scan stage duration: %w", err)
		}
		if !endTS.Valid {
			continue
		}
		start, err := parseTimestamp(startTS)
		if err != nil {
			continue
		}
		end, err := parseTimestamp(endTS.String)
		if err != nil {
			continue
		}
		if secs := end.Sub(start).Seconds(); secs >= 0 {
			phaseDurations[phase] = append(phaseDurations[phase], secs)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var results []StageDuration
	for phase, durations := range phaseDurations {
		sort.Float64s(durations)
		results = append(results, StageDuration{
			Phase: phase,
			Count: len(durations),
			Avg:   avg(durations),
			P50:   percentile(durations, 50),
			P95:   percentile(durations, 95),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Phase < results[j].Phase
	})
	return results, nil
}

// PhaseFailureRate holds entry and failure counts for one phase.
type PhaseFailureRate struct {
	Phase    string  `json:"phase"`
	Entered  int     `json:"entered"`
	Failed   int     `json:"failed"`
	FailRate float64 `json:"fail_rate_pct"`
}

// QueryPhaseFailureRates returns how often each phase fails once entered.
func QueryPhaseFailureRates(database DB, since string) ([]PhaseFailureRate, error) {
	query := `
		SELECT phase,
			SUM(CASE WHEN event = 'stage_entered' THEN 1 ELSE 0 END) AS entered,
			SUM(CASE WHEN event = 'stage_failed' THEN 1 ELSE 0 END) AS failed
		FROM pipeline_events
		WHERE event IN ('stage_entered', 'stage_failed')
		AND phase != ''`

	args := []interface{}{}
	if since != "" {
		query += ` AND timestamp >= ?`
		args = append(args, since)
	}
	query += ` GROUP BY phase`

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query phase failure rates: %w", err)
	}
	defer rows.Close()

	var results []PhaseFailureRate
	for rows.Next() {
		var r PhaseFailureRate
		if err := rows.Scan(&r.Phase, &r.Entered, &r.Failed); err != nil {
			return nil, fmt.Errorf("scan phase failure rate: %w", err)
		}
		// Interrupted runs can fail without a matching entry.
		r.FailRate = pct(r.Failed, max(r.Entered, r.Failed))
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Phase < results[j].Phase
	})
	return results, nil
}

// PathOutcome holds attempt outcomes for one cash-out path.
type PathOutcome struct {
	Path      string `json:"path"`
	Started   int    `json:"started"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Cancelled int    `json:"cancelled"`
}

// QueryPathOutcomes counts started, completed, failed and cancelled attempts
// per path. Each pipeline id counts once per outcome.
func QueryPathOutcomes(database DB, since string) ([]PathOutcome, error) {
	query := `
		SELECT s.path,
			COUNT(DISTINCT s.pipeline_id) AS started,
			COUNT(DISTINCT CASE WHEN e.event = 'completed' THEN e.pipeline_id END) AS completed,
			COUNT(DISTINCT CASE WHEN e.event = 'stage_failed' THEN e.pipeline_id END) AS failed,
			COUNT(DISTINCT CASE WHEN e.event = 'cancelled' THEN e.pipeline_id END) AS cancelled
		FROM pipeline_events s
		LEFT JOIN pipeline_events e ON e.pipeline_id = s.pipeline_id
		WHERE s.event = 'started'`

	args := []interface{}{}
	if since != "" {
		query += ` AND s.timestamp >= ?`
		args = append(args, since)
	}
	query += ` GROUP BY s.path ORDER BY s.path`

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query path outcomes: %w", err)
	}
	defer rows.Close()

	var results []PathOutcome
	for rows.Next() {
		var o PathOutcome
		var path sql.NullString
		if err := rows.Scan(&path, &o.Started, &o.Completed, &o.Failed, &o.Cancelled); err != nil {
			return nil, fmt.Errorf("scan path outcome: %w", err)
		}
		o.Path = path.String
		results = append(results, o)
	}
	return results, rows.Err()
}

// --- helpers ---

func avg(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return math.Round(sum/float64(len(values))*10) / 10
}

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := float64(p) / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper || upper >= len(sorted) {
		return math.Round(sorted[lower]*10) / 10
	}
	weight := rank - float64(lower)
	return math.Round((sorted[lower]*(1-weight)+sorted[upper]*weight)*10) / 10
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}
