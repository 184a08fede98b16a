package interfaces

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"utilibill/internal/audit"
	"utilibill/internal/auth"
	billingapp "utilibill/internal/billing/application"
	billing "utilibill/internal/billing/domain"
	"utilibill/internal/fault"
	"utilibill/internal/money"
	"utilibill/internal/observability/metrics"
)

// InvoiceHandler handles invoice APIs.
type InvoiceHandler struct {
	service     *billingapp.BillingService
	auditLogger audit.Logger
}

// NewInvoiceHandler constructs a handler.
func NewInvoiceHandler(service *billingapp.BillingService, auditLogger audit.Logger) (*InvoiceHandler, error) {
	if service == nil {
		return nil, errors.New("invoice handler: nil service")
	}
	return &InvoiceHandler{service: service, auditLogger: auditLogger}, nil
}

// ServeHTTP handles invoice routes under /api/v1/invoices.
func (h *InvoiceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if path == "/api/v1/invoices/generate" && r.Method == http.MethodPost {
		h.handleGenerate(w, r)
		return
	}
	if path == "/api/v1/invoices" && r.Method == http.MethodGet {
		h.handleList(w, r)
		return
	}
	if strings.HasPrefix(path, "/api/v1/invoices/") {
		rest := strings.TrimPrefix(path, "/api/v1/invoices/")
		h.handleByID(w, r, rest)
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

func (h *InvoiceHandler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CustomerID  string `json:"customer_id"`
		PeriodStart string `json:"period_start"`
		PeriodEnd   string `json:"period_end"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	start, err := parseDay(req.PeriodStart)
	if err != nil {
		http.Error(w, "invalid period_start", http.StatusBadRequest)
		return
	}
	end, err := parseDay(req.PeriodEnd)
	if err != nil {
		http.Error(w, "invalid period_end", http.StatusBadRequest)
		return
	}
	inv, err := h.service.GenerateInvoice(r.Context(), req.CustomerID, start, end)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, invoiceView(inv))
	h.logAudit(r, inv.CustomerID, inv.ID, "invoice.generate", map[string]any{
		"number":       inv.Number,
		"period_start": req.PeriodStart,
		"period_end":   req.PeriodEnd,
		"total":        inv.Total.String(),
	})
}

func (h *InvoiceHandler) handleList(w http.ResponseWriter, r *http.Request) {
	customerID := r.URL.Query().Get("customer_id")
	if customerID == "" {
		http.Error(w, "customer_id is required", http.StatusBadRequest)
		return
	}
	list, err := h.service.InvoicesForCustomer(r.Context(), customerID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	views := make([]map[string]any, 0, len(list))
	for _, inv := range list {
		views = append(views, invoiceView(inv))
	}
	writeJSON(w, views)
}

func (h *InvoiceHandler) handleByID(w http.ResponseWriter, r *http.Request, rest string) {
	if rest == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	parts := strings.Split(rest, "/")
	id := parts[0]
	if len(parts) == 1 && r.Method == http.MethodGet {
		h.handleGet(w, r, id)
		return
	}
	if len(parts) == 2 {
		switch parts[1] {
		case "pay":
			if r.Method == http.MethodPost {
				h.handlePay(w, r, id)
				return
			}
		case "refund":
			if r.Method == http.MethodPost {
				h.handleRefund(w, r, id)
				return
			}
		case "cancel":
			if r.Method == http.MethodPost {
				h.handleCancel(w, r, id)
				return
			}
		case "export.pdf":
			if r.Method == http.MethodGet {
				h.handleExportPDF(w, r, id)
				return
			}
		case "export.xlsx":
			if r.Method == http.MethodGet {
				h.handleExportXLSX(w, r, id)
				return
			}
		}
	}
	w.WriteHeader(http.StatusNotFound)
}

func (h *InvoiceHandler) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	inv, err := h.service.Invoice(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	resp := struct {
		Invoice map[string]any         `json:"invoice"`
		Lines   []billing.LineItem     `json:"lines"`
		Meters  []billing.MeterSummary `json:"meters"`
	}{Invoice: invoiceView(inv), Lines: inv.Lines, Meters: inv.Meters}
	writeJSON(w, resp)
}

func (h *InvoiceHandler) handlePay(w http.ResponseWriter, r *http.Request, id string) {
	amount, ok := decodeAmount(w, r)
	if !ok {
		return
	}
	inv, err := h.service.RecordPayment(r.Context(), id, amount)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, invoiceView(inv))
	h.logAudit(r, inv.CustomerID, inv.ID, "invoice.pay", map[string]any{
		"amount": amount.String(),
		"status": inv.Status,
	})
}

func (h *InvoiceHandler) handleRefund(w http.ResponseWriter, r *http.Request, id string) {
	amount, ok := decodeAmount(w, r)
	if !ok {
		return
	}
	inv, err := h.service.RecordRefund(r.Context(), id, amount)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, invoiceView(inv))
	h.logAudit(r, inv.CustomerID, inv.ID, "invoice.refund", map[string]any{
		"amount": amount.String(),
		"status": inv.Status,
	})
}

func (h *InvoiceHandler) handleCancel(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	inv, err := h.service.CancelInvoice(r.Context(), id, req.Reason)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, invoiceView(inv))
	h.logAudit(r, inv.CustomerID, inv.ID, "invoice.cancel", map[string]any{
		"reason": req.Reason,
	})
}

func (h *InvoiceHandler) handleExportPDF(w http.ResponseWriter, r *http.Request, id string) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveInvoiceExport("pdf", result, time.Since(start))
	}()

	inv, err := h.service.Invoice(r.Context(), id)
	if err != nil {
		result = metrics.ResultError
		respondServiceError(w, err)
		return
	}
	data, err := BuildInvoicePDF(inv)
	if err != nil {
		result = metrics.ResultError
		http.Error(w, "export pdf error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
	h.logAudit(r, inv.CustomerID, inv.ID, "invoice.export", map[string]any{"format": "pdf"})
}

func (h *InvoiceHandler) handleExportXLSX(w http.ResponseWriter, r *http.Request, id string) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveInvoiceExport("xlsx", result, time.Since(start))
	}()

	inv, err := h.service.Invoice(r.Context(), id)
	if err != nil {
		result = metrics.ResultError
		respondServiceError(w, err)
		return
	}
	data, err := BuildInvoiceXLSX(inv)
	if err != nil {
		result = metrics.ResultError
		http.Error(w, "export xlsx error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
	h.logAudit(r, inv.CustomerID, inv.ID, "invoice.export", map[string]any{"format": "xlsx"})
}

func (h *InvoiceHandler) logAudit(r *http.Request, customerID, invoiceID, action string, meta map[string]any) {
	if h.auditLogger == nil {
		return
	}
	payload, _ := json.Marshal(meta)
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: "invoice",
		ResourceID:   invoiceID,
		CustomerID:   customerID,
		Metadata:     payload,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
}

func invoiceView(inv *billing.Invoice) map[string]any {
	view := map[string]any{
		"invoice_id":      inv.ID,
		"number":          inv.Number,
		"customer_id":     inv.CustomerID,
		"account_number":  inv.AccountNumber,
		"period_start":    inv.PeriodStart.Format("2006-01-02"),
		"period_end":      inv.PeriodEnd.Format("2006-01-02"),
		"issue_date":      inv.IssueDate.Format("2006-01-02"),
		"due_date":        inv.DueDate.Format("2006-01-02"),
		"status":          inv.Status,
		"unit_cost":       inv.UnitCost,
		"standing_charge": inv.StandingCharge,
		"subtotal":        inv.Subtotal,
		"vat_amount":      inv.VATAmount,
		"total":           inv.Total,
		"amount_paid":     inv.AmountPaid,
		"balance_due":     inv.BalanceDue,
	}
	if inv.Gas != nil {
		view["gas_conversion"] = inv.Gas
	}
	if inv.CancelReason != "" {
		view["cancel_reason"] = inv.CancelReason
	}
	return view
}

func decodeAmount(w http.ResponseWriter, r *http.Request) (money.Money, bool) {
	var req struct {
		Amount money.Money `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return money.Zero(), false
	}
	if !req.Amount.IsPositive() {
		http.Error(w, "amount must be positive", http.StatusBadRequest)
		return money.Zero(), false
	}
	return req.Amount, true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func parseDay(value string) (time.Time, error) {
	return time.Parse("2006-01-02", value)
}

func respondServiceError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch fault.KindOf(err) {
	case fault.KindInvalidReading, fault.KindInvalidBillingPeriod:
		http.Error(w, err.Error(), http.StatusBadRequest)
	case fault.KindTariffNotFound:
		http.Error(w, err.Error(), http.StatusNotFound)
	case fault.KindNoTariffAssigned, fault.KindNoMatchingMeter, fault.KindNothingToBill:
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case fault.KindLedgerInconsistency:
		http.Error(w, err.Error(), http.StatusConflict)
	case fault.KindPersistenceFailure:
		http.Error(w, "persistence failure", http.StatusServiceUnavailable)
	default:
		if strings.Contains(err.Error(), "not found") {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}
