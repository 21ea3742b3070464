package api

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/reviewhub/payment-ledger/ledger"
)

const (
	defaultQRSize = 256
	minQRSize     = 128
	maxQRSize     = 1024
)

// verificationURL is the public lookup link printed on a receipt.
func (h *Handler) verificationURL(p ledger.Payment) string {
	return h.PublicBaseURL + "/api/verify?q=" + url.QueryEscape(p.ReceiptNumber)
}

// GetReceipt returns the receipt of a payment.
// GET /api/payments/{id}/receipt
func (h *Handler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	v, err := h.Ledger.GetPayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ReceiptDTO{
		Payment:         toPaymentViewDTO(v),
		VerificationURL: h.verificationURL(v.Payment),
	})
}

// GetReceiptQR renders the verification URL of a payment as a PNG.
// GET /api/payments/{id}/receipt/qr?size=256
func (h *Handler) GetReceiptQR(w http.ResponseWriter, r *http.Request) {
	size := defaultQRSize
	if s := r.URL.Query().Get("size"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < minQRSize || n > maxQRSize {
			h.writeLedgerError(w, r, &ledger.FieldError{Field: "size", Message: "must be between 128 and 1024", Err: ledger.ErrInvalidInput})
			return
		}
		size = n
	}

	v, err := h.Ledger.GetPayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	png, err := qrcode.Encode(h.verificationURL(v.Payment), qrcode.Medium, size)
	if err != nil {
		h.Log.Error("failed to render receipt QR", zap.String("payment_id", v.Payment.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, ErrorResponse{Error: "Failed to render QR code", Code: "INTERNAL_ERROR"})
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// VerifyReceipt is the public lookup by transaction id or receipt number.
// Any failure is reported as a plain not-found so the endpoint reveals
// nothing beyond whether a receipt exists.
// GET /api/verify?q=
func (h *Handler) VerifyReceipt(w http.ResponseWriter, r *http.Request) {
	ref := r.URL.Query().Get("q")
	if ref == "" {
		ref = r.URL.Query().Get("ref")
	}
	v, err := h.Ledger.VerifyReceipt(r.Context(), ref)
	if err != nil {
		if !ledger.IsNotFound(err) {
			h.Log.Error("receipt verification failed", zap.Error(err))
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, toVerifyDTO(v))
}
