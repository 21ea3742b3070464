package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/reviewhub/payment-ledger/ledger"
)

// ErrDuplicateStudentCode is returned when a student code is already taken.
var ErrDuplicateStudentCode = errors.New("student code already exists")

// =============================================================================
// STUDENTS - collaborator data, written only by admin seeding
// =============================================================================

// SaveStudent inserts a student.
func (s *Store) SaveStudent(ctx context.Context, st ledger.Student) error {
	_, err := s.exec(ctx, `
		INSERT INTO students (id, student_code, first_name, last_name, email, phone, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		st.ID, st.Code, st.FirstName, st.LastName, st.Email, st.Phone, formatTime(st.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateStudentCode, st.Code)
		}
		return fmt.Errorf("failed to insert student: %w", err)
	}
	return nil
}

// ListStudents returns all students ordered by code.
func (s *Store) ListStudents(ctx context.Context) ([]ledger.Student, error) {
	var rows []studentRow
	err := sqlx.SelectContext(ctx, s.ext, &rows, `
		SELECT id, student_code, first_name, last_name, email, phone, created_at
		FROM students ORDER BY student_code`)
	if err != nil {
		return nil, err
	}
	out := make([]ledger.Student, len(rows))
	for i, r := range rows {
		out[i] = r.toStudent()
	}
	return out, nil
}

// =============================================================================
// BALANCE AUDIT RUNS
// =============================================================================

const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// AuditRun is one execution of the balance audit.
type AuditRun struct {
	ID         string
	Trigger    string // schedule, manual
	Status     string // running, completed, failed
	Repair     bool
	Checked    int
	Drifts     int
	Repaired   int
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}

type auditRunRow struct {
	ID         string         `db:"id"`
	Trigger    string         `db:"run_trigger"`
	Status     string         `db:"status"`
	Repair     int            `db:"repair"`
	Checked    int            `db:"checked"`
	Drifts     int            `db:"drifts"`
	Repaired   int            `db:"repaired"`
	Error      string         `db:"error"`
	StartedAt  string         `db:"started_at"`
	FinishedAt sql.NullString `db:"finished_at"`
}

// SaveAuditRun inserts or updates an audit run.
func (s *Store) SaveAuditRun(ctx context.Context, r AuditRun) error {
	repair := 0
	if r.Repair {
		repair = 1
	}
	var finished sql.NullString
	if r.FinishedAt != nil {
		finished = nullString(formatTime(*r.FinishedAt))
	}

	_, err := s.exec(ctx, `
		INSERT INTO balance_audit_runs (id, run_trigger, status, repair, checked, drifts,
			repaired, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			checked = excluded.checked,
			drifts = excluded.drifts,
			repaired = excluded.repaired,
			error = excluded.error,
			finished_at = excluded.finished_at`,
		r.ID, r.Trigger, r.Status, repair, r.Checked, r.Drifts,
		r.Repaired, r.Error, formatTime(r.StartedAt), finished,
	)
	return err
}

// ListAuditRuns returns the most recent runs first.
func (s *Store) ListAuditRuns(ctx context.Context, limit int) ([]AuditRun, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []auditRunRow
	err := sqlx.SelectContext(ctx, s.ext, &rows, s.ext.Rebind(`
		SELECT id, run_trigger, status, repair, checked, drifts, repaired, error, started_at, finished_at
		FROM balance_audit_runs
		ORDER BY started_at DESC, id
		LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}

	runs := make([]AuditRun, len(rows))
	for i, r := range rows {
		runs[i] = AuditRun{
			ID:        r.ID,
			Trigger:   r.Trigger,
			Status:    r.Status,
			Repair:    r.Repair != 0,
			Checked:   r.Checked,
			Drifts:    r.Drifts,
			Repaired:  r.Repaired,
			Error:     r.Error,
			StartedAt: parseTime(r.StartedAt),
		}
		if r.FinishedAt.Valid {
			t := parseTime(r.FinishedAt.String)
			runs[i].FinishedAt = &t
		}
	}
	return runs, nil
}
