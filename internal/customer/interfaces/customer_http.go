package interfaces

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"utilibill/internal/audit"
	"utilibill/internal/auth"
	customerapp "utilibill/internal/customer/application"
	customer "utilibill/internal/customer/domain"
	"utilibill/internal/fault"
	metering "utilibill/internal/metering/domain"
)

// CustomerHandler handles customer account APIs.
type CustomerHandler struct {
	service     *customerapp.CustomerService
	auditLogger audit.Logger
}

// NewCustomerHandler constructs a handler.
func NewCustomerHandler(service *customerapp.CustomerService, auditLogger audit.Logger) (*CustomerHandler, error) {
	if service == nil {
		return nil, errors.New("customer handler: nil service")
	}
	return &CustomerHandler{service: service, auditLogger: auditLogger}, nil
}

// ServeHTTP handles customer routes under /api/v1/customers.
func (h *CustomerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if path == "/api/v1/customers" && r.Method == http.MethodPost {
		h.handleOnboard(w, r)
		return
	}
	if strings.HasPrefix(path, "/api/v1/customers/") {
		rest := strings.TrimPrefix(path, "/api/v1/customers/")
		parts := strings.Split(rest, "/")
		switch {
		case len(parts) == 1 && r.Method == http.MethodGet:
			h.handleGet(w, r, parts[0])
			return
		case len(parts) == 2 && parts[1] == "tariff" && r.Method == http.MethodPost:
			h.handleAssignTariff(w, r, parts[0])
			return
		}
	}
	w.WriteHeader(http.StatusNotFound)
}

func (h *CustomerHandler) handleOnboard(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name          string `json:"name"`
		AccountNumber string `json:"account_number"`
		TariffID      string `json:"tariff_id"`
		Meter         struct {
			Type            string  `json:"type"`
			DayNightCapable bool    `json:"day_night_capable"`
			ImperialUnits   bool    `json:"imperial_units"`
			InitialReading  float64 `json:"initial_reading"`
			InitialDay      float64 `json:"initial_day"`
			InitialNight    float64 `json:"initial_night"`
			MaxReading      float64 `json:"max_reading"`
		} `json:"meter"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	cust, meter, err := h.service.Onboard(r.Context(), customerapp.OnboardInput{
		Name:          req.Name,
		AccountNumber: req.AccountNumber,
		TariffID:      req.TariffID,
		Meter: customerapp.MeterInput{
			Type:            metering.MeterType(req.Meter.Type),
			DayNightCapable: req.Meter.DayNightCapable,
			ImperialUnits:   req.Meter.ImperialUnits,
			InitialReading:  req.Meter.InitialReading,
			InitialDay:      req.Meter.InitialDay,
			InitialNight:    req.Meter.InitialNight,
			MaxReading:      req.Meter.MaxReading,
		},
	})
	if err != nil {
		respondCustomerError(w, err)
		return
	}
	resp := map[string]any{
		"customer": customerView(cust),
		"meter":    meterView(meter),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
	h.logAudit(r, cust.ID, "customer.onboard", map[string]any{
		"account_number": cust.AccountNumber,
		"meter_id":       meter.ID,
		"meter_type":     meter.Type,
	})
}

func (h *CustomerHandler) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	cust, meters, err := h.service.Customer(r.Context(), id)
	if err != nil {
		respondCustomerError(w, err)
		return
	}
	meterViews := make([]map[string]any, 0, len(meters))
	for _, m := range meters {
		meterViews = append(meterViews, meterView(m))
	}
	resp := map[string]any{
		"customer": customerView(cust),
		"meters":   meterViews,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *CustomerHandler) handleAssignTariff(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		TariffID string `json:"tariff_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	cust, err := h.service.AssignTariff(r.Context(), id, req.TariffID)
	if err != nil {
		respondCustomerError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(customerView(cust))
	h.logAudit(r, cust.ID, "customer.assign_tariff", map[string]any{
		"tariff_id": req.TariffID,
	})
}

func (h *CustomerHandler) logAudit(r *http.Request, customerID, action string, meta map[string]any) {
	if h.auditLogger == nil {
		return
	}
	payload, _ := json.Marshal(meta)
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: "customer",
		ResourceID:   customerID,
		CustomerID:   customerID,
		Metadata:     payload,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
}

func customerView(cust *customer.Customer) map[string]any {
	return map[string]any{
		"customer_id":    cust.ID,
		"name":           cust.Name,
		"account_number": cust.AccountNumber,
		"tariff_id":      cust.TariffID,
		"balance":        cust.Balance,
		"active":         cust.Active,
	}
}

func meterView(m *metering.Meter) map[string]any {
	view := map[string]any{
		"meter_id":        m.ID,
		"type":            m.Type,
		"active":          m.Active,
		"max_reading":     m.MaxReading,
		"current_reading": m.CurrentReading,
	}
	if m.DayNightCapable {
		view["day_night_capable"] = true
		view["current_day"] = m.CurrentDay
		view["current_night"] = m.CurrentNight
	}
	if m.ImperialUnits {
		view["imperial_units"] = true
	}
	return view
}

func respondCustomerError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch fault.KindOf(err) {
	case fault.KindTariffNotFound:
		http.Error(w, err.Error(), http.StatusNotFound)
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
