package ledger

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// DefaultProgram tags enrollments created implicitly by a payment.
const DefaultProgram = "general-review"

// =============================================================================
// ENROLLMENT RESOLVER - resolveOrCreateEnrollment collaborator
// =============================================================================

// EnrollmentHint carries what the payment request knows about the
// enrollment it belongs to.
type EnrollmentHint struct {
	EnrollmentID string
	Program      string
	Batch        string
	// PaymentAmount is the final amount of the payment being recorded.
	PaymentAmount Money
	Actor         string
}

// EnrollmentResolver finds the enrollment a payment belongs to, creating
// one when the request names none. It runs inside the payment transaction
// and receives the transactional Store.
type EnrollmentResolver interface {
	ResolveOrCreate(ctx context.Context, s Store, student Student, hint EnrollmentHint) (Enrollment, bool, error)
}

// DefaultEnrollmentResolver creates enrollments tagged with Program. The
// owed amount is Amount, or the payment's own amount when Amount is zero.
type DefaultEnrollmentResolver struct {
	Program string
	Amount  Money
	IDs     IDGenerator
	Clock   Clock
	Log     *zap.Logger
}

func (r *DefaultEnrollmentResolver) ResolveOrCreate(ctx context.Context, s Store, student Student, hint EnrollmentHint) (Enrollment, bool, error) {
	if hint.EnrollmentID != "" {
		e, err := s.GetEnrollment(ctx, hint.EnrollmentID)
		if err != nil {
			return Enrollment{}, false, err
		}
		if e == nil || e.StudentID != student.ID {
			return Enrollment{}, false, fmt.Errorf("%w: %s", ErrEnrollmentNotFound, hint.EnrollmentID)
		}
		return *e, false, nil
	}

	program := strings.TrimSpace(hint.Program)
	if program == "" {
		program = r.Program
	}
	if program == "" {
		program = DefaultProgram
	}
	amount := r.Amount
	if !amount.IsPositive() {
		amount = hint.PaymentAmount
	}

	now := r.Clock().UTC()
	e := Enrollment{
		ID:            r.IDs.NewID(),
		StudentID:     student.ID,
		Program:       program,
		Batch:         hint.Batch,
		Amount:        amount,
		PaymentStatus: EnrollmentUnpaid,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.InsertEnrollment(ctx, e); err != nil {
		return Enrollment{}, false, fmt.Errorf("failed to create enrollment: %w", err)
	}
	err := s.AppendAudit(ctx, AuditEntry{
		ID:           r.IDs.NewID(),
		At:           now,
		Actor:        hint.Actor,
		Action:       AuditEnrollmentCreated,
		EnrollmentID: e.ID,
		Reason:       "implicit enrollment for payment without enrollment reference",
		Payload: map[string]any{
			"student_id": student.ID,
			"program":    e.Program,
			"amount":     e.Amount.String(),
		},
	})
	if err != nil {
		return Enrollment{}, false, err
	}

	log := r.Log
	if log == nil {
		log = zap.NewNop()
	}
	log.Info("created implicit enrollment",
		zap.String("enrollment_id", e.ID),
		zap.String("student_id", student.ID),
		zap.String("program", e.Program),
		zap.String("amount", e.Amount.String()),
	)
	return e, true, nil
}

// =============================================================================
// ENROLLMENT REGISTRATION AND LOOKUP
// =============================================================================

type EnrollmentInput struct {
	StudentID string
	Program   string
	Batch     string
	Amount    string
	Actor     string
}

// RegisterEnrollment creates an enrollment with an explicit owed amount.
func (l *Ledger) RegisterEnrollment(ctx context.Context, in EnrollmentInput) (Enrollment, error) {
	amount, err := ParseMoney(in.Amount)
	if err != nil {
		return Enrollment{}, &FieldError{Field: "amount", Message: err.Error(), Err: ErrInvalidAmount}
	}
	if amount.IsNegative() {
		return Enrollment{}, &FieldError{Field: "amount", Message: "must not be negative", Err: ErrInvalidAmount}
	}
	program := strings.TrimSpace(in.Program)
	if program == "" {
		return Enrollment{}, &FieldError{Field: "program", Message: "is required", Err: ErrInvalidInput}
	}

	student, err := l.store.GetStudent(ctx, in.StudentID)
	if err != nil {
		return Enrollment{}, persistence(err)
	}
	if student == nil {
		return Enrollment{}, fmt.Errorf("%w: %s", ErrStudentNotFound, in.StudentID)
	}

	now := l.now()
	e := Enrollment{
		ID:            l.ids.NewID(),
		StudentID:     student.ID,
		Program:       program,
		Batch:         strings.TrimSpace(in.Batch),
		Amount:        amount,
		PaymentStatus: EnrollmentUnpaid,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err = l.store.WithTx(ctx, func(s Store) error {
		if err := s.InsertEnrollment(ctx, e); err != nil {
			return err
		}
		return s.AppendAudit(ctx, AuditEntry{
			ID:           l.ids.NewID(),
			At:           now,
			Actor:        in.Actor,
			Action:       AuditEnrollmentCreated,
			EnrollmentID: e.ID,
			Payload:      map[string]any{"student_id": student.ID, "program": program, "amount": amount.String()},
		})
	})
	if err != nil {
		return Enrollment{}, persistence(err)
	}
	return e, nil
}

// GetEnrollment returns one enrollment with its derived balance fields.
func (l *Ledger) GetEnrollment(ctx context.Context, id string) (Enrollment, error) {
	e, err := l.store.GetEnrollment(ctx, id)
	if err != nil {
		return Enrollment{}, persistence(err)
	}
	if e == nil {
		return Enrollment{}, fmt.Errorf("%w: %s", ErrEnrollmentNotFound, id)
	}
	return *e, nil
}

// StudentEnrollments lists a student's enrollments.
func (l *Ledger) StudentEnrollments(ctx context.Context, studentID string) ([]Enrollment, error) {
	student, err := l.store.GetStudent(ctx, studentID)
	if err != nil {
		return nil, persistence(err)
	}
	if student == nil {
		return nil, fmt.Errorf("%w: %s", ErrStudentNotFound, studentID)
	}
	enrollments, err := l.views.ListEnrollmentsByStudent(ctx, studentID)
	if err != nil {
		return nil, persistence(err)
	}
	return enrollments, nil
}
