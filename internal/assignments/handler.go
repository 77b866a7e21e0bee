package assignments

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ajaymenon/storefront-core/internal/auth"
	"github.com/ajaymenon/storefront-core/internal/domain"
)

type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

type assignRequest struct {
	SalesmanID string `json:"salesman_id"`
}

func (h *Handler) HandleAssign(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing session")
		return
	}

	orderID := r.PathValue("id")
	if orderID == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	assignment, err := h.service.Assign(r.Context(), actor, orderID, req.SalesmanID)
	if err != nil {
		h.writeDomainError(w, err, "failed to assign order")
		return
	}

	h.writeJSON(w, http.StatusCreated, assignment)
}

type locationRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (h *Handler) HandleAccept(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing session")
		return
	}

	orderID := r.PathValue("id")
	if orderID == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	var req locationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	assignment, err := h.service.Accept(r.Context(), actor, orderID, req.Latitude, req.Longitude)
	if err != nil {
		h.writeDomainError(w, err, "failed to accept assignment")
		return
	}

	h.writeJSON(w, http.StatusOK, assignment)
}

func (h *Handler) HandleUpdateLocation(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing session")
		return
	}

	orderID := r.PathValue("id")
	if orderID == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	var req locationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	assignment, err := h.service.UpdateLocation(r.Context(), actor, orderID, req.Latitude, req.Longitude)
	if err != nil {
		h.writeDomainError(w, err, "failed to update location")
		return
	}

	h.writeJSON(w, http.StatusOK, assignment)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing session")
		return
	}

	orderID := r.PathValue("id")
	if orderID == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	assignment, err := h.service.GetByOrder(r.Context(), actor, orderID)
	if err != nil {
		h.writeDomainError(w, err, "failed to get assignment")
		return
	}

	h.writeJSON(w, http.StatusOK, assignment)
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error, logMsg string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "assignment not found")
	case errors.Is(err, domain.ErrUnauthorized):
		h.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrAlreadyAssigned):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrIllegalTransition):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidInput):
		h.writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error(logMsg, "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
