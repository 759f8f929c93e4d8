package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/treesync/internal/apperr"
	"github.com/starford/treesync/internal/models"
	"github.com/starford/treesync/internal/wave"
)

const mappingColumns = `source_id, destination_id, match_score, level, found_via,
	from_family_id, from_person_id, confirmed, mapped_at`

// Mappings returns the mappings of a run in creation order.
func (db *DB) Mappings(runID string) ([]models.PersonMapping, error) {
	rows, err := db.conn.Query(`SELECT `+mappingColumns+` FROM mappings WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("store: list mappings: %w", err)
	}
	defer rows.Close()

	var out []models.PersonMapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// LookupMapping returns the mapping of one source person, or
// apperr.ErrNotFound when the run left it unmapped.
func (db *DB) LookupMapping(runID, sourceID string) (*models.PersonMapping, error) {
	row := db.conn.QueryRow(`SELECT `+mappingColumns+` FROM mappings
		WHERE run_id = ? AND source_id = ? ORDER BY seq LIMIT 1`, runID, sourceID)
	m, err := scanMapping(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: mapping %s/%s: %w", runID, sourceID, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func scanMapping(s rowScanner) (models.PersonMapping, error) {
	var (
		m   models.PersonMapping
		via string
	)
	err := s.Scan(&m.SourceID, &m.DestinationID, &m.MatchScore, &m.Level, &via,
		&m.FromFamilyID, &m.FromPersonID, &m.Confirmed, &m.MappedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return m, err
		}
		return m, fmt.Errorf("store: scan mapping: %w", err)
	}
	m.FoundVia = models.RelationKind(via)
	return m, nil
}

// Unmatched returns the unmatched persons of one side, ordered by id. An
// empty side returns both.
func (db *DB) Unmatched(runID, side string) ([]wave.UnmatchedPerson, error) {
	q := `SELECT person_id, label, reason, nearest_person_id, nearest_level FROM unmatched WHERE run_id = ?`
	args := []any{runID}
	if side != "" {
		q += ` AND side = ?`
		args = append(args, side)
	}
	q += ` ORDER BY side DESC, person_id`

	rows, err := db.conn.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list unmatched: %w", err)
	}
	defer rows.Close()

	var out []wave.UnmatchedPerson
	for rows.Next() {
		var (
			u      wave.UnmatchedPerson
			reason string
		)
		if err := rows.Scan(&u.ID, &u.Label, &reason, &u.NearestPersonID, &u.NearestLevel); err != nil {
			return nil, fmt.Errorf("store: scan unmatched: %w", err)
		}
		u.Reason = wave.UnmatchedReason(reason)
		out = append(out, u)
	}
	return out, rows.Err()
}

// Issues returns the issues of a run with at least minSeverity, in the
// order the validator produced them. An empty minSeverity returns all.
func (db *DB) Issues(runID string, minSeverity models.Severity) ([]models.ValidationIssue, error) {
	rows, err := db.conn.Query(`SELECT severity, type, source_id, destination_id, message
		FROM issues WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("store: list issues: %w", err)
	}
	defer rows.Close()

	var out []models.ValidationIssue
	for rows.Next() {
		var (
			is       models.ValidationIssue
			sev, typ string
		)
		if err := rows.Scan(&sev, &typ, &is.SourceID, &is.DestinationID, &is.Message); err != nil {
			return nil, fmt.Errorf("store: scan issue: %w", err)
		}
		is.Severity = models.Severity(sev)
		is.Type = models.IssueType(typ)
		if is.Severity.Rank() < minSeverity.Rank() {
			continue
		}
		out = append(out, is)
	}
	return out, rows.Err()
}

// ReplaceIssues swaps the stored issues of a run, as after revalidation.
func (db *DB) ReplaceIssues(runID string, issues []models.ValidationIssue) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var exists int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM runs WHERE id = ?`, runID).Scan(&exists); err != nil {
		return fmt.Errorf("store: check run: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("store: run %s: %w", runID, apperr.ErrNotFound)
	}
	if _, err := tx.Exec(`DELETE FROM issues WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("store: clear issues: %w", err)
	}
	if err := insertIssues(tx, runID, issues); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveDecisions remembers the confirmed and rejected decisions of a run.
// Skipped decisions are not remembered so the person is asked again.
func (db *DB) SaveDecisions(runID string, d wave.Decisions, at time.Time) error {
	if len(d) == 0 {
		return nil
	}
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.Prepare(upsertDecisionSQL)
	if err != nil {
		return fmt.Errorf("store: prepare decision upsert: %w", err)
	}
	defer stmt.Close()
	for id, sd := range d {
		if !persistable(sd.Decision) {
			continue
		}
		if _, err := stmt.Exec(id, string(sd.Decision), sd.DestinationID, runID, at.UTC()); err != nil {
			return fmt.Errorf("store: upsert decision %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// PutDecision records a single decision made outside of a run.
func (db *DB) PutDecision(sourceID string, d wave.StoredDecision, at time.Time) error {
	if !persistable(d.Decision) {
		return fmt.Errorf("store: decision %q cannot be stored: %w", d.Decision, apperr.ErrConflict)
	}
	if _, err := db.conn.Exec(upsertDecisionSQL, sourceID, string(d.Decision), d.DestinationID, "", at.UTC()); err != nil {
		return fmt.Errorf("store: upsert decision %s: %w", sourceID, err)
	}
	return nil
}

// LoadDecisions returns every remembered decision.
func (db *DB) LoadDecisions() (wave.Decisions, error) {
	rows, err := db.conn.Query(`SELECT source_id, decision, destination_id FROM decisions`)
	if err != nil {
		return nil, fmt.Errorf("store: list decisions: %w", err)
	}
	defer rows.Close()

	out := wave.Decisions{}
	for rows.Next() {
		var (
			id, dec string
			sd      wave.StoredDecision
		)
		if err := rows.Scan(&id, &dec, &sd.DestinationID); err != nil {
			return nil, fmt.Errorf("store: scan decision: %w", err)
		}
		sd.Decision = wave.Decision(dec)
		out[id] = sd
	}
	return out, rows.Err()
}

const upsertDecisionSQL = `
	INSERT INTO decisions (source_id, decision, destination_id, run_id, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(source_id) DO UPDATE SET
		decision       = excluded.decision,
		destination_id = excluded.destination_id,
		run_id         = excluded.run_id,
		updated_at     = excluded.updated_at
`

func persistable(d wave.Decision) bool {
	return d == wave.DecisionConfirmed || d == wave.DecisionRejected
}
