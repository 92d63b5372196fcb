package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/beamalign/internal/mount"
	"github.com/banshee-data/beamalign/internal/scan"
)

// ErrSessionNotFound is returned for an unknown session id.
var ErrSessionNotFound = errors.New("scan session not found")

// ScanSession is a stored alignment session. Outcome is empty while the
// session is running or if it was interrupted before finishing.
type ScanSession struct {
	ID              string          `json:"id"`
	Key             string          `json:"key"`
	Range           float64         `json:"range_m"`
	FieldDegrees    float64         `json:"field_deg"`
	ResolutionSteps int             `json:"resolution_steps"`
	MaxLegSteps     int             `json:"max_leg_steps"`
	TotalSteps      int             `json:"total_steps"`
	CompletedSteps  int             `json:"completed_steps"`
	Samples         int             `json:"samples"`
	Outcome         string          `json:"outcome,omitempty"`
	Best            *scan.ScanPoint `json:"best,omitempty"`
	StartedAt       time.Time       `json:"started_at"`
	FinishedAt      *time.Time      `json:"finished_at,omitempty"`
}

func (s *ScanSession) String() string {
	return fmt.Sprintf("%s %s outcome=%q samples=%d/%d", s.ID, s.Key, s.Outcome, s.Samples, s.TotalSteps)
}

// SessionRecorder stores a scan as it runs. It implements scan.Recorder.
// Points are written in a transaction committed when the session
// finishes, so an interrupted process leaves only the session row.
type SessionRecorder struct {
	db  *DB
	now func() time.Time

	id   string
	seq  int
	tx   *sql.Tx
	stmt *sql.Stmt
}

// NewSessionRecorder creates a recorder writing to db.
func (db *DB) NewSessionRecorder() *SessionRecorder {
	return &SessionRecorder{db: db, now: time.Now}
}

// ID returns the id of the current or last session.
func (r *SessionRecorder) ID() string { return r.id }

// Begin implements scan.Recorder.
func (r *SessionRecorder) Begin(s scan.Session) error {
	if r.tx != nil {
		return fmt.Errorf("session %s already open", r.id)
	}
	started := s.StartTime
	if started.IsZero() {
		started = r.now()
	}
	r.id = uuid.New().String()
	r.seq = 0

	_, err := r.db.Exec(`
		INSERT INTO scan_sessions (
			session_id, session_key, range_m, field_deg, resolution_steps,
			max_leg_steps, total_steps, started_unix_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.id, s.Key(), s.Range, s.FieldDegrees, s.ResolutionSteps,
		s.MaxLegSteps, s.TotalSteps, started.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin point transaction: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO scan_points (session_id, seq, axis1, axis2, signal, aux, dir_x, dir_y, seed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare point insert: %w", err)
	}
	r.tx, r.stmt = tx, stmt
	return nil
}

// Record implements scan.Recorder.
func (r *SessionRecorder) Record(p scan.ScanPoint) error {
	if r.stmt == nil {
		return fmt.Errorf("no open session")
	}
	if _, err := r.stmt.Exec(r.id, r.seq, uint32(p.Axis1), uint32(p.Axis2), p.Signal, p.Aux, p.DirX, p.DirY, p.Seed); err != nil {
		return fmt.Errorf("failed to insert point %d: %w", r.seq, err)
	}
	r.seq++
	return nil
}

// Finish implements scan.Recorder. It commits the points and stores the
// outcome.
func (r *SessionRecorder) Finish(res scan.Result) error {
	if r.tx == nil {
		return nil
	}
	r.stmt.Close()
	err := r.tx.Commit()
	r.tx, r.stmt = nil, nil
	if err != nil {
		return fmt.Errorf("failed to commit points: %w", err)
	}

	_, err = r.db.Exec(`
		UPDATE scan_sessions SET
			completed_steps = ?, samples = ?, outcome = ?,
			best_axis1 = ?, best_axis2 = ?, best_signal = ?, finished_unix_ms = ?
		WHERE session_id = ?`,
		res.Session.CompletedSteps, res.Samples, res.Outcome.String(),
		uint32(res.Best.Axis1), uint32(res.Best.Axis2), res.Best.Signal, r.now().UnixMilli(),
		r.id,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

const sessionColumns = `
	session_id, session_key, range_m, field_deg, resolution_steps, max_leg_steps,
	total_steps, completed_steps, samples, outcome, best_axis1, best_axis2,
	best_signal, started_unix_ms, finished_unix_ms`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*ScanSession, error) {
	var (
		s                   ScanSession
		outcome             sql.NullString
		best1, best2, bestS sql.NullInt64
		started             int64
		finished            sql.NullInt64
	)
	if err := row.Scan(&s.ID, &s.Key, &s.Range, &s.FieldDegrees, &s.ResolutionSteps, &s.MaxLegSteps,
		&s.TotalSteps, &s.CompletedSteps, &s.Samples, &outcome, &best1, &best2, &bestS,
		&started, &finished); err != nil {
		return nil, err
	}
	s.Outcome = outcome.String
	if best1.Valid && best2.Valid && bestS.Valid {
		s.Best = &scan.ScanPoint{Axis1: mount.Position(best1.Int64), Axis2: mount.Position(best2.Int64), Signal: int(bestS.Int64)}
	}
	s.StartedAt = time.UnixMilli(started).UTC()
	if finished.Valid {
		t := time.UnixMilli(finished.Int64).UTC()
		s.FinishedAt = &t
	}
	return &s, nil
}

// Sessions returns stored sessions, most recent first.
func (db *DB) Sessions(limit int) ([]ScanSession, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`SELECT `+sessionColumns+` FROM scan_sessions
		ORDER BY started_unix_ms DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []ScanSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

// Session returns one stored session.
func (db *DB) Session(id string) (*ScanSession, error) {
	s, err := scanSession(db.QueryRow(`SELECT `+sessionColumns+` FROM scan_sessions WHERE session_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, err
}

// Points returns the points of a session in traversal order.
func (db *DB) Points(id string) ([]scan.ScanPoint, error) {
	rows, err := db.Query(`
		SELECT axis1, axis2, signal, aux, dir_x, dir_y, seed
		FROM scan_points WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []scan.ScanPoint
	for rows.Next() {
		var p scan.ScanPoint
		var a1, a2 int64
		if err := rows.Scan(&a1, &a2, &p.Signal, &p.Aux, &p.DirX, &p.DirY, &p.Seed); err != nil {
			return nil, err
		}
		p.Axis1, p.Axis2 = mount.Position(a1), mount.Position(a2)
		points = append(points, p)
	}
	return points, rows.Err()
}
