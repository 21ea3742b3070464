package api

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/reviewhub/payment-ledger/ledger"
)

const (
	totalCountHeader = "X-Total-Count"
	truncatedHeader  = "X-Truncated"
)

var exportHeader = []string{
	"transactionId", "receiptNumber", "paymentDate", "studentCode", "studentName",
	"program", "batch", "baseAmount", "discountPercent", "taxPercent", "amount",
	"refundAmount", "paymentMethod", "status", "enrollmentAmount",
	"enrollmentTotalPaid", "enrollmentRemainingBalance", "notes",
}

func exportRecord(v ledger.PaymentView) []string {
	p, s, e := v.Payment, v.Student, v.Enrollment
	return []string{
		p.TransactionID,
		p.ReceiptNumber,
		formatTimestamp(p.PaymentDate),
		s.Code,
		s.FullName(),
		e.Program,
		e.Batch,
		p.Charge.Base.String(),
		p.Charge.DiscountPercent.String(),
		p.Charge.TaxPercent.String(),
		p.Amount.String(),
		p.RefundAmount.String(),
		string(p.Method),
		string(p.Status),
		e.Amount.String(),
		e.TotalPaid.String(),
		e.RemainingBalance().String(),
		p.Notes,
	}
}

// ExportPayments returns every payment matching the list filters. When more
// rows match than the export limit, the first rows are returned and
// X-Truncated is true (and "truncated" in JSON).
// GET /api/payments/export?format=csv|json
func (h *Handler) ExportPayments(w http.ResponseWriter, r *http.Request) {
	defer h.Metrics.observe("export_payments", time.Now())

	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "json" {
		h.writeLedgerError(w, r, &ledger.FieldError{Field: "format", Message: "must be csv or json", Err: ledger.ErrInvalidInput})
		return
	}

	q, err := parsePaymentQuery(r, h.Ledger.Location())
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	export, err := h.Ledger.ExportPayments(r.Context(), q)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	rows := export.Payments

	filename := fmt.Sprintf("payments-%s.%s", time.Now().UTC().Format("20060102-150405"), format)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set(totalCountHeader, strconv.Itoa(export.Total))
	w.Header().Set(truncatedHeader, strconv.FormatBool(export.Truncated))

	if format == "json" {
		dtos := make([]PaymentDTO, len(rows))
		for i, v := range rows {
			dtos[i] = toPaymentViewDTO(v)
		}
		writeJSON(w, http.StatusOK, ExportResponse{
			Payments:  dtos,
			Count:     len(dtos),
			Total:     export.Total,
			Truncated: export.Truncated,
		})
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	cw := csv.NewWriter(w)
	_ = cw.Write(exportHeader)
	for _, v := range rows {
		_ = cw.Write(exportRecord(v))
	}
	cw.Flush()
}
