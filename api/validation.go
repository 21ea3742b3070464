/*
validation.go - Request decoding, tag validation and the error envelope

PURPOSE:
  Every handler decodes its body through decodeJSON, which enforces a size
  limit, rejects malformed JSON and runs the validate tags of the DTO.
  Ledger errors are mapped to HTTP statuses in one table.

ERROR ENVELOPE:
  {"error": "...", "code": "...", "details": {...}, "fields": {"name": "msg"}}

STATUS MAPPING:
  400: Validation (amount, adjustment, method, status, input, refund reason,
       idempotency key), malformed bodies, tag violations
  404: Student, enrollment or payment not found
  409: Refund exceeds balance, not refundable, not settleable, duplicate
       idempotency key, concurrent modification
  500: Persistence failure and anything unexpected (details are logged,
       not returned)

SEE ALSO:
  - ledger/errors.go: Sentinels and structured errors
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	entranslations "github.com/go-playground/validator/v10/translations/en"
	"go.uber.org/zap"

	"github.com/reviewhub/payment-ledger/ledger"
	"github.com/reviewhub/payment-ledger/store/sqlstore"
)

const maxBodyBytes = 1 << 20

const notBlankTag = "notblank"

var validate, translator = newValidator()

// newValidator reports field names by their JSON name and translates
// tag violations to English messages.
func newValidator() (*validator.Validate, ut.Translator) {
	v := validator.New(validator.WithRequiredStructEnabled())

	english := en.New()
	trans, _ := ut.New(english, english).GetTranslator("en")
	_ = entranslations.RegisterDefaultTranslations(v, trans)

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation(notBlankTag, func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = v.RegisterTranslation(notBlankTag, trans,
		func(ut.Translator) error { return nil },
		func(_ ut.Translator, fe validator.FieldError) string {
			return fe.Field() + " cannot be blank"
		},
	)
	return v, trans
}

// decodeJSON decodes and validates the request body into dst. On failure
// it writes the 400 response and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Code:    "INVALID_BODY",
			Details: err.Error(),
		})
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			writeError(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "VALIDATION_ERROR"})
			return false
		}
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fieldMessage(fe)
		}
		writeError(w, http.StatusBadRequest, ErrorResponse{
			Error:  "Validation failed",
			Code:   "VALIDATION_ERROR",
			Fields: fields,
		})
		return false
	}
	return true
}

func fieldMessage(fe validator.FieldError) string {
	if msg := fe.Translate(translator); msg != "" {
		return msg
	}
	return fe.Field() + " is invalid"
}

// =============================================================================
// LEDGER ERROR MAPPING
// =============================================================================

type errorMapping struct {
	target error
	status int
	code   string
}

// errorMappings is checked in order; the first errors.Is match wins.
var errorMappings = []errorMapping{
	{ledger.ErrRefundExceedsBalance, http.StatusConflict, "REFUND_EXCEEDS_BALANCE"},
	{ledger.ErrNotRefundable, http.StatusConflict, "NOT_REFUNDABLE"},
	{ledger.ErrNotSettleable, http.StatusConflict, "NOT_SETTLEABLE"},
	{ledger.ErrDuplicateIdempotencyKey, http.StatusConflict, "DUPLICATE_IDEMPOTENCY_KEY"},
	{ledger.ErrConcurrentModification, http.StatusConflict, "CONCURRENT_MODIFICATION"},
	{sqlstore.ErrDuplicateStudentCode, http.StatusConflict, "DUPLICATE_STUDENT_CODE"},

	{ledger.ErrInvalidAmount, http.StatusBadRequest, "INVALID_AMOUNT"},
	{ledger.ErrInvalidAdjustment, http.StatusBadRequest, "INVALID_ADJUSTMENT"},
	{ledger.ErrInvalidPaymentMethod, http.StatusBadRequest, "INVALID_PAYMENT_METHOD"},
	{ledger.ErrInvalidStatus, http.StatusBadRequest, "INVALID_STATUS"},
	{ledger.ErrRefundReasonRequired, http.StatusBadRequest, "REFUND_REASON_REQUIRED"},
	{ledger.ErrIdempotencyKeyRequired, http.StatusBadRequest, "IDEMPOTENCY_KEY_REQUIRED"},
	{ledger.ErrInvalidInput, http.StatusBadRequest, "INVALID_INPUT"},

	{ledger.ErrStudentNotFound, http.StatusNotFound, "STUDENT_NOT_FOUND"},
	{ledger.ErrEnrollmentNotFound, http.StatusNotFound, "ENROLLMENT_NOT_FOUND"},
	{ledger.ErrPaymentNotFound, http.StatusNotFound, "PAYMENT_NOT_FOUND"},

	{ledger.ErrPersistenceFailure, http.StatusInternalServerError, "PERSISTENCE_FAILURE"},
}

// classify returns the HTTP status and error code of err.
func classify(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

// writeLedgerError maps a ledger error onto the error envelope.
func (h *Handler) writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	h.Metrics.ledgerError(code)

	resp := ErrorResponse{Error: err.Error(), Code: code}
	if status >= http.StatusInternalServerError {
		h.Log.Error("ledger operation failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("code", code),
			zap.Error(err),
		)
		resp.Error = "Internal error"
		if code == "PERSISTENCE_FAILURE" {
			resp.Error = "The change could not be saved; nothing was written"
		}
		writeError(w, status, resp)
		return
	}

	var fe *ledger.FieldError
	if errors.As(err, &fe) {
		resp.Fields = map[string]string{fe.Field: fe.Message}
	}
	var exceeds *ledger.RefundExceedsError
	if errors.As(err, &exceeds) {
		resp.Details = map[string]any{
			"requested":  exceeds.Requested,
			"refundable": exceeds.Refundable,
		}
	}
	var state *ledger.StateError
	if errors.As(err, &state) {
		resp.Details = map[string]any{"status": string(state.Status)}
	}

	h.Log.Debug("ledger request rejected",
		zap.String("path", r.URL.Path),
		zap.String("code", code),
		zap.Error(err),
	)
	writeError(w, status, resp)
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, resp ErrorResponse) {
	writeJSON(w, status, resp)
}
