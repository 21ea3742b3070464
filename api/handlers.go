/*
handlers.go - HTTP API handlers for the payment ledger

PURPOSE:
  Exposes the payment ledger via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the ledger package.

ENDPOINTS:
  Payments:
    POST   /api/payments                  Record a payment (idempotent)
    GET    /api/payments                  List/search with analytics
    GET    /api/payments/export           CSV or JSON export
    GET    /api/payments/{id}             Payment with student and enrollment
    PATCH  /api/payments/{id}             Edit notes
    POST   /api/payments/{id}/settle      Settle a pending payment
    POST   /api/payments/{id}/refund      Refund part or all of a payment
    GET    /api/payments/{id}/audit       Audit trail
    GET    /api/payments/{id}/receipt     Receipt
    GET    /api/payments/{id}/receipt/qr  Receipt QR code (PNG)
    POST   /api/refunds                   Refund with paymentId in the body
    GET    /api/verify?q=                 Public receipt verification

  Enrollments and students:
    POST   /api/enrollments               Register an enrollment
    GET    /api/enrollments/{id}          Enrollment balance
    GET    /api/students                  List students
    POST   /api/students                  Register a student
    GET    /api/students/{id}/enrollments Student's enrollments

  Analytics and audit:
    GET    /api/analytics                 Dashboard summary
    GET    /api/audit/runs                Balance audit history
    POST   /api/audit/run                 Run a balance audit now

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Ledger:  Payment, refund, query and analytics operations
  - Store:   Student registry, audit runs, health checks
  - Auditor: Shared with the cron scheduler so runs never overlap
  - Metrics: Prometheus collectors

REQUEST FLOW:
  1. Decode and tag-validate the body (validation.go)
  2. Call the ledger
  3. Record metrics
  4. Serialize the DTO or map the error (writeLedgerError)

SECURITY NOTE:
  No authentication or authorization. Actor names (createdBy,
  processedBy) are taken from the request as given.

SEE ALSO:
  - dto.go: Request/response data structures
  - params.go: Query string parsing
  - server.go: Router setup and middleware
*/
package api

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reviewhub/payment-ledger/ledger"
	"github.com/reviewhub/payment-ledger/store/sqlstore"
)

const (
	idempotencyHeader    = "Idempotency-Key"
	defaultAuditRunLimit = 20
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger  *ledger.Ledger
	Store   *sqlstore.Store
	Metrics *Metrics
	Log     *zap.Logger
	Auditor *BalanceAuditor

	// PublicBaseURL prefixes receipt verification links.
	PublicBaseURL string
	// AuditRepair is the default of POST /api/audit/run.
	AuditRepair      bool
	ScenariosEnabled bool

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// Options configures NewHandler. Zero values fall back to defaults.
type Options struct {
	Metrics          *Metrics
	Log              *zap.Logger
	Auditor          *BalanceAuditor
	PublicBaseURL    string
	AuditRepair      bool
	ScenariosEnabled bool
}

// NewHandler creates a new handler over the given ledger and store.
func NewHandler(l *ledger.Ledger, store *sqlstore.Store, opts Options) *Handler {
	h := &Handler{
		Ledger:           l,
		Store:            store,
		Metrics:          opts.Metrics,
		Log:              opts.Log,
		Auditor:          opts.Auditor,
		PublicBaseURL:    strings.TrimRight(opts.PublicBaseURL, "/"),
		AuditRepair:      opts.AuditRepair,
		ScenariosEnabled: opts.ScenariosEnabled,
	}
	if h.Log == nil {
		h.Log = zap.NewNop()
	}
	if h.Metrics == nil {
		h.Metrics = NewMetrics()
	}
	if h.Auditor == nil {
		h.Auditor = NewBalanceAuditor(l, store, h.Log, h.Metrics)
	}
	return h
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// CreatePayment records a payment. A replayed idempotency key returns the
// original receipt with 200 instead of 201.
// POST /api/payments
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	defer h.Metrics.observe("record_payment", time.Now())

	var req CreatePaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	paymentDate, err := ledger.ParseDateBound(req.PaymentDate, false, h.Ledger.Location())
	if err != nil {
		h.writeLedgerError(w, r, &ledger.FieldError{Field: "paymentDate", Message: "must be YYYY-MM-DD or RFC3339", Err: ledger.ErrInvalidInput})
		return
	}

	key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	if key == "" {
		key = strings.TrimSpace(req.IdempotencyKey)
	}

	receipt, err := h.Ledger.RecordPayment(r.Context(), ledger.RecordInput{
		StudentID:      req.StudentID,
		EnrollmentID:   req.EnrollmentID,
		Amount:         string(req.Amount),
		Method:         req.PaymentMethod,
		Discount:       string(req.Discount),
		Tax:            string(req.Tax),
		Notes:          req.Notes,
		Status:         req.Status,
		PaymentDate:    paymentDate,
		IdempotencyKey: key,
		Actor:          req.CreatedBy,
		Program:        req.Program,
		Batch:          req.Batch,
	})
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	h.Metrics.paymentRecorded(receipt)

	status := http.StatusCreated
	if receipt.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, ReceiptDTO{
		Payment:           toPaymentViewDTO(ledger.PaymentView{Payment: receipt.Payment, Student: receipt.Student, Enrollment: receipt.Enrollment}),
		EnrollmentCreated: receipt.EnrollmentCreated,
		Replayed:          receipt.Replayed,
		VerificationURL:   h.verificationURL(receipt.Payment),
	})
}

// ListPayments returns one page of payments plus the analytics of the
// selected program.
// GET /api/payments?status=&paymentMethod=&dateFrom=&dateTo=&search=&sortBy=&sortOrder=&page=&limit=
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	defer h.Metrics.observe("list_payments", time.Now())

	q, err := parsePaymentQuery(r, h.Ledger.Location())
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	page, err := h.Ledger.ListPayments(r.Context(), q)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	resp := ListPaymentsResponse{
		Payments: make([]PaymentDTO, len(page.Payments)),
		Pagination: PaginationDTO{
			Page:       page.Page,
			Limit:      page.Limit,
			Total:      page.Total,
			TotalPages: page.TotalPages,
		},
	}
	for i, v := range page.Payments {
		resp.Payments[i] = toPaymentViewDTO(v)
	}

	if r.URL.Query().Get("analytics") != "false" {
		summary, err := h.Ledger.Summary(r.Context(), ledger.AnalyticsQuery{Program: q.Program})
		if err != nil {
			h.writeLedgerError(w, r, err)
			return
		}
		analytics := toAnalyticsDTO(summary)
		resp.Analytics = &analytics
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetPayment returns a payment with its student and enrollment.
// GET /api/payments/{id}
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	v, err := h.Ledger.GetPayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentViewDTO(v))
}

// UpdatePayment edits the notes of a payment.
// PATCH /api/payments/{id}
func (h *Handler) UpdatePayment(w http.ResponseWriter, r *http.Request) {
	var req UpdatePaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := h.Ledger.UpdateNotes(r.Context(), chi.URLParam(r, "id"), *req.Notes, req.UpdatedBy)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(p))
}

// SettlePayment confirms (completed) or fails a pending payment.
// POST /api/payments/{id}/settle
func (h *Handler) SettlePayment(w http.ResponseWriter, r *http.Request) {
	defer h.Metrics.observe("settle_payment", time.Now())

	var req SettleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.Ledger.SettlePayment(r.Context(), ledger.SettleInput{
		PaymentID: chi.URLParam(r, "id"),
		Outcome:   req.Status,
		Reason:    req.Reason,
		Actor:     req.ProcessedBy,
	})
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	h.Metrics.paymentSettled(res.Payment.Status)

	dto := toPaymentDTO(res.Payment)
	enrollment := toEnrollmentDTO(res.Enrollment)
	dto.Enrollment = &enrollment
	writeJSON(w, http.StatusOK, dto)
}

// RefundPayment refunds the payment named in the path.
// POST /api/payments/{id}/refund
func (h *Handler) RefundPayment(w http.ResponseWriter, r *http.Request) {
	var req RefundRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.refund(w, r, chi.URLParam(r, "id"), req)
}

// CreateRefund refunds the payment named by paymentId in the body.
// POST /api/refunds
func (h *Handler) CreateRefund(w http.ResponseWriter, r *http.Request) {
	var req RefundRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.PaymentID) == "" {
		writeError(w, http.StatusBadRequest, ErrorResponse{
			Error:  "Validation failed",
			Code:   "VALIDATION_ERROR",
			Fields: map[string]string{"paymentId": "is required"},
		})
		return
	}
	h.refund(w, r, req.PaymentID, req)
}

func (h *Handler) refund(w http.ResponseWriter, r *http.Request, paymentID string, req RefundRequest) {
	defer h.Metrics.observe("refund_payment", time.Now())

	res, err := h.Ledger.RefundPayment(r.Context(), ledger.RefundInput{
		PaymentID: paymentID,
		Amount:    string(req.RefundAmount),
		Reason:    req.RefundReason,
		Actor:     req.ProcessedBy,
	})
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	h.Metrics.paymentRefunded(res.Refunded)

	dto := toPaymentDTO(res.Payment)
	enrollment := toEnrollmentDTO(res.Enrollment)
	dto.Enrollment = &enrollment
	writeJSON(w, http.StatusOK, RefundResponse{Payment: dto, Refunded: res.Refunded})
}

// GetPaymentAudit returns the audit trail of a payment, oldest first.
// GET /api/payments/{id}/audit
func (h *Handler) GetPaymentAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Ledger.AuditTrail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	dtos := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toAuditEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ANALYTICS HANDLERS
// =============================================================================

// GetAnalytics returns the dashboard summary.
// GET /api/analytics?from=&to=&interval=daily|monthly&program=
func (h *Handler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	defer h.Metrics.observe("analytics", time.Now())

	q, err := parseAnalyticsQuery(r, h.Ledger.Location())
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	summary, err := h.Ledger.Summary(r.Context(), q)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAnalyticsDTO(summary))
}

// =============================================================================
// ENROLLMENT AND STUDENT HANDLERS
// =============================================================================

// CreateEnrollment registers an enrollment with an explicit owed amount.
// POST /api/enrollments
func (h *Handler) CreateEnrollment(w http.ResponseWriter, r *http.Request) {
	var req CreateEnrollmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	e, err := h.Ledger.RegisterEnrollment(r.Context(), ledger.EnrollmentInput{
		StudentID: req.StudentID,
		Program:   req.Program,
		Batch:     req.Batch,
		Amount:    string(req.Amount),
		Actor:     req.CreatedBy,
	})
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEnrollmentDTO(e))
}

// GetEnrollment returns an enrollment with its derived balance.
// GET /api/enrollments/{id}
func (h *Handler) GetEnrollment(w http.ResponseWriter, r *http.Request) {
	e, err := h.Ledger.GetEnrollment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEnrollmentDTO(e))
}

// ListStudentEnrollments returns every enrollment of a student.
// GET /api/students/{id}/enrollments
func (h *Handler) ListStudentEnrollments(w http.ResponseWriter, r *http.Request) {
	enrollments, err := h.Ledger.StudentEnrollments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	dtos := make([]EnrollmentDTO, len(enrollments))
	for i, e := range enrollments {
		dtos[i] = toEnrollmentDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListStudents returns all students.
// GET /api/students
func (h *Handler) ListStudents(w http.ResponseWriter, r *http.Request) {
	students, err := h.Store.ListStudents(r.Context())
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	dtos := make([]StudentDTO, len(students))
	for i, s := range students {
		dtos[i] = toStudentDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateStudent registers a student. The registry is owned elsewhere in a
// full deployment; this endpoint exists for seeding.
// POST /api/students
func (h *Handler) CreateStudent(w http.ResponseWriter, r *http.Request) {
	var req CreateStudentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s := ledger.Student{
		ID:        req.ID,
		Code:      strings.TrimSpace(req.StudentCode),
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Email:     req.Email,
		Phone:     req.Phone,
		CreatedAt: time.Now().UTC(),
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if err := h.Store.SaveStudent(r.Context(), s); err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toStudentDTO(s))
}

// =============================================================================
// BALANCE AUDIT HANDLERS
// =============================================================================

// ListAuditRuns returns recent balance audit runs, newest first.
// GET /api/audit/runs?limit=20
func (h *Handler) ListAuditRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	if limit == 0 {
		limit = defaultAuditRunLimit
	}
	runs, err := h.Store.ListAuditRuns(r.Context(), limit)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	dtos := make([]AuditRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toAuditRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RunAudit runs a balance audit now. The body is optional; repair defaults
// to the configured audit repair setting.
// POST /api/audit/run
func (h *Handler) RunAudit(w http.ResponseWriter, r *http.Request) {
	repair := h.AuditRepair
	if r.ContentLength != 0 {
		var req RunAuditRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.Repair != nil {
			repair = *req.Repair
		}
	}

	run, report, err := h.Auditor.Run(r.Context(), TriggerManual, repair)
	if errors.Is(err, ErrAuditRunning) {
		writeError(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "AUDIT_RUNNING"})
		return
	}
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	dto := toAuditRunDTO(run)
	dto.Details = toDriftDTOs(report.Drifts)
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// HEALTH
// =============================================================================

// Healthz reports liveness and database reachability.
// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		h.Log.Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "database": h.Store.Driver()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": h.Store.Driver()})
}

