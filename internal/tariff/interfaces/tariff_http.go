package interfaces

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"utilibill/internal/audit"
	"utilibill/internal/auth"
	"utilibill/internal/fault"
	metering "utilibill/internal/metering/domain"
	"utilibill/internal/money"
	tariffapp "utilibill/internal/tariff/application"
	tariff "utilibill/internal/tariff/domain"
)

// TariffHandler handles tariff catalog APIs.
type TariffHandler struct {
	service     *tariffapp.TariffService
	auditLogger audit.Logger
}

// NewTariffHandler constructs a handler.
func NewTariffHandler(service *tariffapp.TariffService, auditLogger audit.Logger) (*TariffHandler, error) {
	if service == nil {
		return nil, errors.New("tariff handler: nil service")
	}
	return &TariffHandler{service: service, auditLogger: auditLogger}, nil
}

// ServeHTTP handles tariff routes under /api/v1/tariffs.
func (h *TariffHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if path == "/api/v1/tariffs" {
		switch r.Method {
		case http.MethodPost:
			h.handleCreate(w, r)
		case http.MethodGet:
			h.handleList(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}
	if strings.HasPrefix(path, "/api/v1/tariffs/") {
		rest := strings.TrimPrefix(path, "/api/v1/tariffs/")
		parts := strings.Split(rest, "/")
		switch {
		case len(parts) == 1 && r.Method == http.MethodGet:
			h.handleGet(w, r, parts[0])
			return
		case len(parts) == 2 && parts[1] == "deactivate" && r.Method == http.MethodPost:
			h.handleDeactivate(w, r, parts[0])
			return
		}
	}
	w.WriteHeader(http.StatusNotFound)
}

type tariffRequest struct {
	Name                string `json:"name"`
	MeterType           string `json:"meter_type"`
	Kind                string `json:"kind"`
	EffectiveFrom       string `json:"effective_from"`
	StandingChargeDaily string `json:"standing_charge_daily"`
	VATRate             string `json:"vat_rate"`
	RatePence           string `json:"rate_pence"`
	DayRatePence        string `json:"day_rate_pence"`
	NightRatePence      string `json:"night_rate_pence"`
	ThresholdUnits      string `json:"threshold_units"`
	TierOneRatePence    string `json:"tier_one_rate_pence"`
	TierTwoRatePence    string `json:"tier_two_rate_pence"`
	CorrectionFactor    string `json:"correction_factor"`
	CalorificValue      string `json:"calorific_value"`
}

func (h *TariffHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req tariffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	t, err := tariffFromRequest(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	created, err := h.service.Create(r.Context(), t)
	if err != nil {
		respondTariffError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(created.Snapshot())
	h.logAudit(r, created.ID, "tariff.create", map[string]any{
		"name": created.Name,
		"kind": created.Kind,
	})
}

func (h *TariffHandler) handleList(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	list, err := h.service.List(r.Context(), activeOnly)
	if err != nil {
		respondTariffError(w, err)
		return
	}
	views := make([]map[string]any, 0, len(list))
	for _, t := range list {
		view := map[string]any{
			"tariff":         t.Snapshot(),
			"active":         t.Active,
			"effective_from": t.EffectiveFrom.Format("2006-01-02"),
		}
		views = append(views, view)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(views)
}

func (h *TariffHandler) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	t, err := h.service.Tariff(r.Context(), id)
	if err != nil {
		respondTariffError(w, err)
		return
	}
	resp := map[string]any{
		"tariff":         t.Snapshot(),
		"active":         t.Active,
		"effective_from": t.EffectiveFrom.Format("2006-01-02"),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *TariffHandler) handleDeactivate(w http.ResponseWriter, r *http.Request, id string) {
	t, err := h.service.Deactivate(r.Context(), id)
	if err != nil {
		respondTariffError(w, err)
		return
	}
	resp := map[string]any{
		"tariff_id": t.ID,
		"active":    t.Active,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
	h.logAudit(r, t.ID, "tariff.deactivate", map[string]any{"name": t.Name})
}

func (h *TariffHandler) logAudit(r *http.Request, tariffID, action string, meta map[string]any) {
	if h.auditLogger == nil {
		return
	}
	payload, _ := json.Marshal(meta)
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: "tariff",
		ResourceID:   tariffID,
		Metadata:     payload,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
}

func tariffFromRequest(req tariffRequest) (*tariff.Tariff, error) {
	t := &tariff.Tariff{
		Name:      req.Name,
		MeterType: metering.MeterType(req.MeterType),
		Kind:      tariff.Kind(req.Kind),
	}
	if req.EffectiveFrom != "" {
		parsed, err := time.Parse("2006-01-02", req.EffectiveFrom)
		if err != nil {
			return nil, errors.New("invalid effective_from")
		}
		t.EffectiveFrom = parsed
	}
	if req.StandingChargeDaily != "" {
		d, err := decimal.NewFromString(req.StandingChargeDaily)
		if err != nil {
			return nil, errors.New("invalid standing_charge_daily")
		}
		t.StandingChargeDaily = money.FromDecimal(d)
	}
	fields := []struct {
		raw  string
		name string
		dst  *decimal.Decimal
	}{
		{req.VATRate, "vat_rate", &t.VATRate},
		{req.RatePence, "rate_pence", &t.RatePence},
		{req.DayRatePence, "day_rate_pence", &t.DayRatePence},
		{req.NightRatePence, "night_rate_pence", &t.NightRatePence},
		{req.ThresholdUnits, "threshold_units", &t.ThresholdUnits},
		{req.TierOneRatePence, "tier_one_rate_pence", &t.TierOneRatePence},
		{req.TierTwoRatePence, "tier_two_rate_pence", &t.TierTwoRatePence},
		{req.CorrectionFactor, "correction_factor", &t.CorrectionFactor},
		{req.CalorificValue, "calorific_value", &t.CalorificValue},
	}
	for _, field := range fields {
		if field.raw == "" {
			continue
		}
		d, err := decimal.NewFromString(field.raw)
		if err != nil {
			return nil, errors.New("invalid " + field.name)
		}
		*field.dst = d
	}
	return t, nil
}

func respondTariffError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch fault.KindOf(err) {
	case fault.KindTariffNotFound:
		http.Error(w, err.Error(), http.StatusNotFound)
	case fault.KindPersistenceFailure:
		http.Error(w, "persistence failure", http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}
