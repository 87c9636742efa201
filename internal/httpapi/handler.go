package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Moha7763/queue-care-flow/internal/models"
	"github.com/Moha7763/queue-care-flow/internal/store"

	"github.com/google/uuid"
)

type Handler struct {
	store store.TicketStore
}

type createTicketRequest struct {
	RequestID       string `json:"request_id"`
	Lane            string `json:"lane"`
	EmergencyClass  string `json:"emergency_class"`
	EmergencyReason string `json:"emergency_reason"`
	PatientName     string `json:"patient_name"`
	PatientPhone    string `json:"patient_phone"`
}

type postponeResponse struct {
	Ticket models.Ticket `json:"ticket"`
	Reason string        `json:"reason"`
}

type resetRequest struct {
	Date string `json:"date"`
}

type errorResponse struct {
	Error responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewHandler(ticketStore store.TicketStore) *Handler {
	return &Handler{store: ticketStore}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/tickets", h.handleTickets)
	mux.HandleFunc("/api/tickets/", h.handleTicketActions)
	mux.HandleFunc("/api/lanes/snapshot", h.handleSnapshot)
	mux.HandleFunc("/api/lanes/", h.handleAdvance)
	mux.HandleFunc("/api/status", h.handleStatus)
	mux.HandleFunc("/api/admin/reset", h.handleReset)
	mux.HandleFunc("/api/events", h.handleEvents)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleTickets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req createTicketRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.RequestID = strings.TrimSpace(req.RequestID)
	req.Lane = strings.TrimSpace(req.Lane)
	req.EmergencyClass = strings.TrimSpace(req.EmergencyClass)
	req.EmergencyReason = strings.TrimSpace(req.EmergencyReason)
	req.PatientName = strings.TrimSpace(req.PatientName)
	req.PatientPhone = strings.TrimSpace(req.PatientPhone)

	lane, ok := models.ParseLane(req.Lane)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown_lane", "lane must be one of xray, ultrasound, ct_scan, mri")
		return
	}
	class, ok := models.ParseEmergencyClass(req.EmergencyClass)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "emergency_class must be one of none, urgent, critical, emergency")
		return
	}
	if req.RequestID != "" && !isValidUUID(req.RequestID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "request_id must be a UUID when provided")
		return
	}
	if class.IsEmergency() && req.EmergencyReason == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "emergency_reason is required for emergency-class tickets")
		return
	}
	if req.PatientPhone != "" && !isValidPhone(req.PatientPhone) {
		writeError(w, http.StatusBadRequest, "invalid_request", "patient_phone must be 8-16 digits")
		return
	}

	now := time.Now().UTC()
	ticket, err := h.store.CreateTicket(r.Context(), store.CreateTicketInput{
		RequestID:       req.RequestID,
		Lane:            lane,
		EmergencyClass:  class,
		EmergencyReason: req.EmergencyReason,
		PatientName:     req.PatientName,
		PatientPhone:    req.PatientPhone,
		Date:            models.ServiceDay(now),
		CreatedAt:       now,
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, ticket)
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func isValidPhone(value string) bool {
	if len(value) < 8 || len(value) > 16 {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (h *Handler) handleAdvance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/lanes/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 2 || parts[1] != "advance" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	lane, ok := models.ParseLane(parts[0])
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown_lane", "lane must be one of xray, ultrasound, ct_scan, mri")
		return
	}

	now := time.Now().UTC()
	ticket, err := h.store.AdvanceLane(r.Context(), lane, models.ServiceDay(now), now)
	if err != nil {
		if errors.Is(err, store.ErrNoTicket) {
			writeError(w, http.StatusConflict, "queue_empty", "no tickets waiting")
			return
		}
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleTicketActions(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/tickets/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleGetTicket(w, r, parts[0])
		return
	}

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if len(parts) != 3 || parts[1] != "actions" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	ticketID := parts[0]
	if !isValidUUID(ticketID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "ticket_id must be a UUID")
		return
	}

	input := store.TicketActionInput{TicketID: ticketID, OccurredAt: time.Now().UTC()}
	switch parts[2] {
	case "postpone":
		ticket, reason, err := h.store.PostponeTicket(r.Context(), input)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, postponeResponse{Ticket: ticket, Reason: reason})
	case "complete":
		ticket, err := h.store.CompleteTicket(r.Context(), input)
		h.writeActionResult(w, ticket, err)
	case "cancel":
		ticket, err := h.store.CancelTicket(r.Context(), input)
		h.writeActionResult(w, ticket, err)
	case "recall":
		ticket, err := h.store.RecallTicket(r.Context(), input)
		h.writeActionResult(w, ticket, err)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) writeActionResult(w http.ResponseWriter, ticket models.Ticket, err error) {
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleGetTicket(w http.ResponseWriter, r *http.Request, ticketID string) {
	if !isValidUUID(ticketID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "ticket_id must be a UUID")
		return
	}
	ticket, err := h.store.GetTicket(r.Context(), ticketID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "token is required")
		return
	}

	status, err := h.store.StatusByToken(r.Context(), token)
	if err != nil {
		mapped, code, msg := mapError(err)
		writeError(w, mapped, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	date := strings.TrimSpace(r.URL.Query().Get("date"))
	if date == "" {
		date = models.ServiceDay(time.Now())
	} else if _, err := time.Parse(models.DateFormat, date); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "date must be YYYY-MM-DD")
		return
	}

	snapshots, err := h.store.SnapshotLanes(r.Context(), date)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, snapshots)
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req resetRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.Date = strings.TrimSpace(req.Date)
	if req.Date == "" {
		req.Date = models.ServiceDay(time.Now())
	} else if _, err := time.Parse(models.DateFormat, req.Date); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "date must be YYYY-MM-DD")
		return
	}

	if err := h.store.ResetDay(r.Context(), req.Date); err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"date": req.Date, "status": "reset"})
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	afterRaw := strings.TrimSpace(r.URL.Query().Get("after"))
	var after time.Time
	if afterRaw != "" {
		parsed, err := time.Parse(time.RFC3339, afterRaw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "after must be RFC3339 timestamp")
			return
		}
		after = parsed
	}

	limit := 100
	if limitRaw := strings.TrimSpace(r.URL.Query().Get("limit")); limitRaw != "" {
		parsed, err := strconv.Atoi(limitRaw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	events, err := h.store.ListOutboxEvents(r.Context(), after, limit)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, events)
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrUnknownLane):
		return http.StatusBadRequest, "unknown_lane", "unknown lane"
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, store.ErrTokenNotFound):
		return http.StatusNotFound, "token_not_found", "access token not found"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "ticket state does not allow this action"
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "conflict", "concurrent update lost, retry"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
