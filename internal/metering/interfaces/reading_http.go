package interfaces

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"utilibill/internal/audit"
	"utilibill/internal/auth"
	"utilibill/internal/fault"
	meteringapp "utilibill/internal/metering/application"
	metering "utilibill/internal/metering/domain"
)

// ReadingHandler handles meter reading APIs.
type ReadingHandler struct {
	service     *meteringapp.ReadingService
	auditLogger audit.Logger
}

// NewReadingHandler constructs a handler.
func NewReadingHandler(service *meteringapp.ReadingService, auditLogger audit.Logger) (*ReadingHandler, error) {
	if service == nil {
		return nil, errors.New("reading handler: nil service")
	}
	return &ReadingHandler{service: service, auditLogger: auditLogger}, nil
}

// ServeHTTP handles reading routes under /api/v1/readings.
func (h *ReadingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/v1/readings" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	switch r.Method {
	case http.MethodPost:
		h.handleRecord(w, r)
	case http.MethodGet:
		h.handleList(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *ReadingHandler) handleRecord(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MeterID    string  `json:"meter_id"`
		Date       string  `json:"date"`
		Kind       string  `json:"kind"`
		Value      float64 `json:"value"`
		DayValue   float64 `json:"day_value"`
		NightValue float64 `json:"night_value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}
	reading, err := h.service.RecordReading(r.Context(), meteringapp.RecordReadingInput{
		MeterID:    req.MeterID,
		Date:       date,
		Kind:       metering.ReadingKind(req.Kind),
		Value:      req.Value,
		DayValue:   req.DayValue,
		NightValue: req.NightValue,
	})
	if err != nil {
		respondReadingError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(readingView(reading))
	h.logAudit(r, reading, "reading.record")
}

func (h *ReadingHandler) handleList(w http.ResponseWriter, r *http.Request) {
	meterID := r.URL.Query().Get("meter_id")
	if meterID == "" {
		http.Error(w, "meter_id is required", http.StatusBadRequest)
		return
	}
	var from, to time.Time
	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			http.Error(w, "invalid from", http.StatusBadRequest)
			return
		}
		from = parsed
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			http.Error(w, "invalid to", http.StatusBadRequest)
			return
		}
		to = parsed
	}
	list, err := h.service.Readings(r.Context(), meterID, from, to)
	if err != nil {
		respondReadingError(w, err)
		return
	}
	views := make([]map[string]any, 0, len(list))
	for _, reading := range list {
		views = append(views, readingView(reading))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(views)
}

func (h *ReadingHandler) logAudit(r *http.Request, reading *metering.Reading, action string) {
	if h.auditLogger == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"date":        reading.Date.Format("2006-01-02"),
		"kind":        reading.Kind,
		"consumption": reading.Consumption,
	})
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: "reading",
		ResourceID:   reading.ID,
		CustomerID:   reading.CustomerID,
		Metadata:     payload,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
}

func readingView(reading *metering.Reading) map[string]any {
	view := map[string]any{
		"reading_id":  reading.ID,
		"meter_id":    reading.MeterID,
		"customer_id": reading.CustomerID,
		"date":        reading.Date.Format("2006-01-02"),
		"kind":        reading.Kind,
		"consumption": reading.Consumption,
		"billed":      reading.Billed,
	}
	if reading.DayValue != 0 || reading.NightValue != 0 {
		view["day_value"] = reading.DayValue
		view["night_value"] = reading.NightValue
		view["day_consumption"] = reading.DayConsumption
		view["night_consumption"] = reading.NightConsumption
	} else {
		view["value"] = reading.Value
	}
	return view
}

func respondReadingError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch fault.KindOf(err) {
	case fault.KindInvalidReading:
		http.Error(w, err.Error(), http.StatusBadRequest)
	case fault.KindPersistenceFailure:
		http.Error(w, "persistence failure", http.StatusServiceUnavailable)
	case fault.KindLedgerInconsistency:
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		if strings.Contains(err.Error(), "not found") {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}
