/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for demos and UI work. Every payment goes through the ledger, so
	balances, receipts and the audit trail are the real thing.

AVAILABLE SCENARIOS:

	single-student:    One student paying a CPA review in installments
	busy-term:         Several students across programs and methods
	refunds-settlement: Partial and full refunds, pending and failed transfers
	balance-drift:     Busy term with two enrollments' totals corrupted

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Register students
 3. Register enrollments with owed amounts
 4. Record payments, then refunds and settlements
 5. Optionally corrupt stored totals for the balance audit to find

USAGE VIA API:

	POST /api/scenarios/load
	{"scenarioId": "busy-term"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx, s)
 3. Add it to the scenarioLoaders map

NOTE:

	Scenarios reset the database. The endpoints are mounted only when
	scenarios are enabled in the configuration.

SEE ALSO:
  - handlers.go: Handler struct
  - scheduler.go: Balance audit that repairs balance-drift
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/reviewhub/payment-ledger/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "single-student",
		Name:        "Single Student",
		Description: "One CPA review enrollment paid in three installments",
	},
	{
		ID:          "busy-term",
		Name:        "Busy Term",
		Description: "Five students across three programs, every payment method, three months of history",
	},
	{
		ID:          "refunds-settlement",
		Name:        "Refunds & Settlement",
		Description: "Partial and full refunds, a pending bank transfer and a failed one",
	},
	{
		ID:          "balance-drift",
		Name:        "Balance Drift",
		Description: "Busy term with two enrollments whose stored totalPaid no longer matches their payments",
	},
}

type scenarioLoader func(ctx context.Context, s *seeder) error

var scenarioLoaders = map[string]scenarioLoader{
	"single-student":     loadSingleStudentScenario,
	"busy-term":          loadBusyTermScenario,
	"refunds-settlement": loadRefundsScenario,
	"balance-drift":      loadBalanceDriftScenario,
}

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads a scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusNotFound, ErrorResponse{
			Error: fmt.Sprintf("Unknown scenario %q", req.ScenarioID),
			Code:  "SCENARIO_NOT_FOUND",
		})
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	h.currentScenario = ""

	if err := load(ctx, &seeder{h: h, now: time.Now().UTC(), scenario: req.ScenarioID}); err != nil {
		h.Log.Error("failed to load scenario", zap.String("scenario", req.ScenarioID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to load scenario",
			Code:    "SCENARIO_FAILED",
			Details: err.Error(),
		})
		return
	}
	h.currentScenario = req.ScenarioID
	h.Log.Info("scenario loaded", zap.String("scenario", req.ScenarioID))

	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "loaded",
		"scenario": req.ScenarioID,
	})
}

// ResetDatabase clears all data.
// POST /api/scenarios/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SEEDING HELPERS
// =============================================================================

type seeder struct {
	h        *Handler
	now      time.Time
	scenario string
	seq      int
}

const seedActor = "scenario-loader"

func (s *seeder) student(ctx context.Context, id, code, first, last, email string) error {
	return s.h.Store.SaveStudent(ctx, ledger.Student{
		ID:        id,
		Code:      code,
		FirstName: first,
		LastName:  last,
		Email:     email,
		CreatedAt: s.now,
	})
}

func (s *seeder) enrollment(ctx context.Context, studentID, program, batch, amount string) (ledger.Enrollment, error) {
	return s.h.Ledger.RegisterEnrollment(ctx, ledger.EnrollmentInput{
		StudentID: studentID,
		Program:   program,
		Batch:     batch,
		Amount:    amount,
		Actor:     seedActor,
	})
}

// payment records a payment daysAgo days before now.
func (s *seeder) payment(ctx context.Context, e ledger.Enrollment, amount string, method ledger.PaymentMethod, status ledger.PaymentStatus, daysAgo int) (ledger.Payment, error) {
	s.seq++
	at := s.now.AddDate(0, 0, -daysAgo)
	receipt, err := s.h.Ledger.RecordPayment(ctx, ledger.RecordInput{
		StudentID:      e.StudentID,
		EnrollmentID:   e.ID,
		Amount:         amount,
		Method:         string(method),
		Status:         string(status),
		PaymentDate:    &at,
		IdempotencyKey: fmt.Sprintf("%s-%d", s.scenario, s.seq),
		Actor:          seedActor,
	})
	return receipt.Payment, err
}

func (s *seeder) refund(ctx context.Context, p ledger.Payment, amount, reason string) error {
	_, err := s.h.Ledger.RefundPayment(ctx, ledger.RefundInput{
		PaymentID: p.ID,
		Amount:    amount,
		Reason:    reason,
		Actor:     seedActor,
	})
	return err
}

func (s *seeder) settle(ctx context.Context, p ledger.Payment, outcome ledger.PaymentStatus, reason string) error {
	_, err := s.h.Ledger.SettlePayment(ctx, ledger.SettleInput{
		PaymentID: p.ID,
		Outcome:   string(outcome),
		Reason:    reason,
		Actor:     seedActor,
	})
	return err
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func loadSingleStudentScenario(ctx context.Context, s *seeder) error {
	if err := s.student(ctx, "stu-maria", "RC-2026-001", "Maria", "Santos", "maria.santos@example.com"); err != nil {
		return err
	}
	e, err := s.enrollment(ctx, "stu-maria", "cpa-review", "2026-A", "15000")
	if err != nil {
		return err
	}
	for _, p := range []struct {
		amount  string
		method  ledger.PaymentMethod
		daysAgo int
	}{
		{"5000", ledger.MethodCash, 45},
		{"5000", ledger.MethodMobileWallet, 15},
		{"2500", ledger.MethodCard, 2},
	} {
		if _, err := s.payment(ctx, e, p.amount, p.method, ledger.StatusCompleted, p.daysAgo); err != nil {
			return err
		}
	}
	return nil
}

// busyTerm seeds the shared data of busy-term and balance-drift and
// returns the enrollments by student id.
func busyTerm(ctx context.Context, s *seeder) (map[string]ledger.Enrollment, error) {
	students := []struct {
		id, code, first, last, program, batch, owed string
	}{
		{"stu-maria", "RC-2026-001", "Maria", "Santos", "cpa-review", "2026-A", "15000"},
		{"stu-jose", "RC-2026-002", "Jose", "Reyes", "cpa-review", "2026-A", "15000"},
		{"stu-ana", "RC-2026-003", "Ana", "Cruz", "nursing-review", "2026-N1", "12000"},
		{"stu-paolo", "RC-2026-004", "Paolo", "Garcia", "nursing-review", "2026-N1", "12000"},
		{"stu-lea", "RC-2026-005", "Lea", "Bautista", "criminology-review", "2026-C1", "9500"},
	}
	enrollments := make(map[string]ledger.Enrollment, len(students))
	for _, st := range students {
		email := fmt.Sprintf("%s.%s@example.com", st.first, st.last)
		if err := s.student(ctx, st.id, st.code, st.first, st.last, email); err != nil {
			return nil, err
		}
		e, err := s.enrollment(ctx, st.id, st.program, st.batch, st.owed)
		if err != nil {
			return nil, err
		}
		enrollments[st.id] = e
	}

	payments := []struct {
		student string
		amount  string
		method  ledger.PaymentMethod
		daysAgo int
	}{
		{"stu-maria", "5000", ledger.MethodCash, 80},
		{"stu-maria", "5000", ledger.MethodCard, 40},
		{"stu-maria", "5000", ledger.MethodMobileWallet, 5},
		{"stu-jose", "7500", ledger.MethodBankTransfer, 60},
		{"stu-jose", "2500", ledger.MethodCash, 12},
		{"stu-ana", "6000", ledger.MethodMobileWallet, 70},
		{"stu-ana", "3000", ledger.MethodOtherGateway, 20},
		{"stu-paolo", "4000", ledger.MethodCard, 33},
		{"stu-lea", "9500", ledger.MethodCash, 8},
	}
	for _, p := range payments {
		if _, err := s.payment(ctx, enrollments[p.student], p.amount, p.method, ledger.StatusCompleted, p.daysAgo); err != nil {
			return nil, err
		}
	}
	return enrollments, nil
}

func loadBusyTermScenario(ctx context.Context, s *seeder) error {
	_, err := busyTerm(ctx, s)
	return err
}

func loadRefundsScenario(ctx context.Context, s *seeder) error {
	if err := s.student(ctx, "stu-carlo", "RC-2026-010", "Carlo", "Mendoza", "carlo.mendoza@example.com"); err != nil {
		return err
	}
	if err := s.student(ctx, "stu-bea", "RC-2026-011", "Bea", "Lim", "bea.lim@example.com"); err != nil {
		return err
	}
	carlo, err := s.enrollment(ctx, "stu-carlo", "cpa-review", "2026-A", "15000")
	if err != nil {
		return err
	}
	bea, err := s.enrollment(ctx, "stu-bea", "nursing-review", "2026-N1", "12000")
	if err != nil {
		return err
	}

	full, err := s.payment(ctx, carlo, "5000", ledger.MethodCash, ledger.StatusCompleted, 30)
	if err != nil {
		return err
	}
	if err := s.refund(ctx, full, "5000", "Withdrew before the first session"); err != nil {
		return err
	}
	partial, err := s.payment(ctx, carlo, "8000", ledger.MethodCard, ledger.StatusCompleted, 20)
	if err != nil {
		return err
	}
	if err := s.refund(ctx, partial, "1500", "Duplicate review materials fee"); err != nil {
		return err
	}

	if _, err := s.payment(ctx, bea, "6000", ledger.MethodBankTransfer, ledger.StatusPending, 3); err != nil {
		return err
	}
	confirmed, err := s.payment(ctx, bea, "3000", ledger.MethodBankTransfer, ledger.StatusPending, 10)
	if err != nil {
		return err
	}
	if err := s.settle(ctx, confirmed, ledger.StatusCompleted, "Bank statement matched"); err != nil {
		return err
	}
	bounced, err := s.payment(ctx, bea, "3000", ledger.MethodBankTransfer, ledger.StatusPending, 9)
	if err != nil {
		return err
	}
	return s.settle(ctx, bounced, ledger.StatusFailed, "Transfer returned by bank")
}

// loadBalanceDriftScenario writes stale totals directly through the store,
// the way a crashed legacy writer would have left them.
func loadBalanceDriftScenario(ctx context.Context, s *seeder) error {
	enrollments, err := busyTerm(ctx, s)
	if err != nil {
		return err
	}
	return s.h.Store.WithTx(ctx, func(tx ledger.Store) error {
		for id, stale := range map[string]string{"stu-maria": "10000", "stu-paolo": "0"} {
			e := enrollments[id]
			current, err := tx.GetEnrollment(ctx, e.ID)
			if err != nil {
				return err
			}
			if current == nil {
				return fmt.Errorf("enrollment %s vanished", e.ID)
			}
			current.TotalPaid = ledger.MustMoney(stale)
			current.UpdatedAt = s.now
			if err := tx.UpdateEnrollmentTotals(ctx, *current); err != nil {
				return err
			}
		}
		return nil
	})
}
