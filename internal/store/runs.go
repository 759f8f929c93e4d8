package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/starford/treesync/internal/apperr"
	"github.com/starford/treesync/internal/models"
	"github.com/starford/treesync/internal/report"
	"github.com/starford/treesync/internal/wave"
)

const runColumns = `id, status, termination, source_file, destination_file,
	source_checksum, destination_checksum, source_anchor, destination_anchor,
	options, statistics, output_dir, error, started_at, finished_at`

// CreateRun inserts a run row. It fails with apperr.ErrAlreadyExists when
// the id is taken.
func (db *DB) CreateRun(r Run) error {
	opts, err := json.Marshal(r.Options)
	if err != nil {
		return fmt.Errorf("store: encode options: %w", err)
	}
	stats, _ := json.Marshal(r.Statistics)
	if r.Status == "" {
		r.Status = StatusRunning
	}

	res, err := db.conn.Exec(`
		INSERT OR IGNORE INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Status, string(r.Termination), r.SourceFile, r.DestinationFile,
		r.SourceChecksum, r.DestinationChecksum, r.SourceAnchor, r.DestinationAnchor,
		string(opts), string(stats), r.OutputDir, r.Error, r.StartedAt.UTC(), nullTime(r.FinishedAt))
	if err != nil {
		return fmt.Errorf("store: insert run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: run %s: %w", r.ID, apperr.ErrAlreadyExists)
	}
	return nil
}

// SaveResult completes a run: it updates the run row and stores its
// mappings, unmatched persons, issues and report within one transaction.
// Any rows from an earlier save of the same run are replaced.
func (db *DB) SaveResult(runID string, res *wave.WaveCompareResult, rep *report.WaveHighConfidenceReport) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	stats, _ := json.Marshal(res.Statistics)
	opts, _ := json.Marshal(res.Options)
	finished := res.FinishedAt.UTC()
	if res.FinishedAt.IsZero() {
		finished = time.Now().UTC()
	}
	upd, err := tx.Exec(`
		UPDATE runs SET
			status      = ?,
			termination = ?,
			options     = ?,
			statistics  = ?,
			error       = '',
			finished_at = ?
		WHERE id = ?
	`, StatusCompleted, string(res.Termination), string(opts), string(stats), finished, runID)
	if err != nil {
		return fmt.Errorf("store: update run: %w", err)
	}
	if n, _ := upd.RowsAffected(); n == 0 {
		return fmt.Errorf("store: run %s: %w", runID, apperr.ErrNotFound)
	}

	for _, table := range []string{"mappings", "unmatched", "issues", "reports"} {
		if _, err := tx.Exec(`DELETE FROM `+table+` WHERE run_id = ?`, runID); err != nil {
			return fmt.Errorf("store: clear %s: %w", table, err)
		}
	}

	if err := insertMappings(tx, runID, res.Mappings); err != nil {
		return err
	}
	if err := insertUnmatched(tx, runID, SideSource, res.UnmatchedSource); err != nil {
		return err
	}
	if err := insertUnmatched(tx, runID, SideDestination, res.UnmatchedDestination); err != nil {
		return err
	}
	if err := insertIssues(tx, runID, res.ValidationIssues); err != nil {
		return err
	}
	if rep != nil {
		body, err := json.Marshal(rep)
		if err != nil {
			return fmt.Errorf("store: encode report: %w", err)
		}
		if _, err := tx.Exec(`INSERT INTO reports (run_id, body) VALUES (?, ?)`, runID, string(body)); err != nil {
			return fmt.Errorf("store: insert report: %w", err)
		}
	}

	return tx.Commit()
}

// FailRun marks a run as failed.
func (db *DB) FailRun(runID string, cause error, at time.Time) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	res, err := db.conn.Exec(`UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		StatusFailed, msg, at.UTC(), runID)
	if err != nil {
		return fmt.Errorf("store: fail run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: run %s: %w", runID, apperr.ErrNotFound)
	}
	return nil
}

// GetRun returns one run or apperr.ErrNotFound.
func (db *DB) GetRun(id string) (*Run, error) {
	row := db.conn.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: run %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ListRuns returns runs newest first together with the total count.
func (db *DB) ListRuns(limit, offset int) ([]Run, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM runs`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("store: count runs: %w", err)
	}

	rows, err := db.conn.Query(`SELECT `+runColumns+` FROM runs
		ORDER BY started_at DESC, id ASC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("store: list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *r)
	}
	return out, total, rows.Err()
}

// Report returns the stored report of a run or apperr.ErrNotFound.
func (db *DB) Report(runID string) (*report.WaveHighConfidenceReport, error) {
	var body string
	err := db.conn.QueryRow(`SELECT body FROM reports WHERE run_id = ?`, runID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: report %s: %w", runID, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get report: %w", err)
	}
	var rep report.WaveHighConfidenceReport
	if err := json.Unmarshal([]byte(body), &rep); err != nil {
		return nil, fmt.Errorf("store: decode report: %w", err)
	}
	return &rep, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(s rowScanner) (*Run, error) {
	var (
		r           Run
		termination string
		opts, stats string
		finished    sql.NullTime
	)
	err := s.Scan(&r.ID, &r.Status, &termination, &r.SourceFile, &r.DestinationFile,
		&r.SourceChecksum, &r.DestinationChecksum, &r.SourceAnchor, &r.DestinationAnchor,
		&opts, &stats, &r.OutputDir, &r.Error, &r.StartedAt, &finished)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("store: scan run: %w", err)
	}
	r.Termination = wave.Termination(termination)
	_ = json.Unmarshal([]byte(opts), &r.Options)
	_ = json.Unmarshal([]byte(stats), &r.Statistics)
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	return &r, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func insertMappings(tx *sql.Tx, runID string, ms []models.PersonMapping) error {
	if len(ms) == 0 {
		return nil
	}
	stmt, err := tx.Prepare(`
		INSERT INTO mappings (run_id, seq, source_id, destination_id, match_score, level,
			found_via, from_family_id, from_person_id, confirmed, mapped_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("store: prepare mapping insert: %w", err)
	}
	defer stmt.Close()
	for i, m := range ms {
		if _, err := stmt.Exec(runID, i, m.SourceID, m.DestinationID, m.MatchScore, m.Level,
			string(m.FoundVia), m.FromFamilyID, m.FromPersonID, m.Confirmed, m.MappedAt.UTC()); err != nil {
			return fmt.Errorf("store: insert mapping %s: %w", m.SourceID, err)
		}
	}
	return nil
}

func insertUnmatched(tx *sql.Tx, runID, side string, us []wave.UnmatchedPerson) error {
	if len(us) == 0 {
		return nil
	}
	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO unmatched (run_id, side, person_id, label, reason, nearest_person_id, nearest_level)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("store: prepare unmatched insert: %w", err)
	}
	defer stmt.Close()
	for _, u := range us {
		if _, err := stmt.Exec(runID, side, u.ID, u.Label, string(u.Reason), u.NearestPersonID, u.NearestLevel); err != nil {
			return fmt.Errorf("store: insert unmatched %s: %w", u.ID, err)
		}
	}
	return nil
}

func insertIssues(tx *sql.Tx, runID string, issues []models.ValidationIssue) error {
	if len(issues) == 0 {
		return nil
	}
	stmt, err := tx.Prepare(`
		INSERT INTO issues (run_id, seq, severity, type, source_id, destination_id, message)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("store: prepare issue insert: %w", err)
	}
	defer stmt.Close()
	for i, is := range issues {
		if _, err := stmt.Exec(runID, i, string(is.Severity), string(is.Type), is.SourceID, is.DestinationID, is.Message); err != nil {
			return fmt.Errorf("store: insert issue: %w", err)
		}
	}
	return nil
}
