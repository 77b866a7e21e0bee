package orders

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

type checkoutRequest struct {
	Items             []domain.CartItem    `json:"cart_items"`
	PaymentMethod     domain.PaymentMethod `json:"payment_method"`
	SelectedAddressID string               `json:"selected_address_id"`
}

func (h *Handler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing session")
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.service.Checkout(r.Context(), actor, CheckoutInput{
		Items:             req.Items,
		PaymentMethod:     req.PaymentMethod,
		SelectedAddressID: req.SelectedAddressID,
	})
	if err != nil {
		h.writeDomainError(w, err, "checkout failed")
		return
	}

	h.writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing session")
		return
	}

	orders, err := h.service.List(r.Context(), actor)
	if err != nil {
		h.writeDomainError(w, err, "failed to list orders")
		return
	}

	h.writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing session")
		return
	}

	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	order, err := h.service.Get(r.Context(), actor, id)
	if err != nil {
		h.writeDomainError(w, err, "failed to get order")
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

type updateStatusRequest struct {
	Status domain.OrderStatus `json:"status"`
}

func (h *Handler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing session")
		return
	}

	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.service.Transition(r.Context(), actor, id, req.Status)
	if err != nil {
		h.writeDomainError(w, err, "failed to update order status")
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

type cancelRequest struct {
	Reason   string `json:"reason"`
	ImageURL string `json:"image_url"`
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing session")
		return
	}

	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.service.Cancel(r.Context(), actor, id, req.Reason, req.ImageURL)
	if err != nil {
		h.writeDomainError(w, err, "failed to cancel order")
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

// writeDomainError maps taxonomy errors to statuses, keeping the reason
// visible so clients can react to each rejection differently.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error, logMsg string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, domain.ErrUnauthorized):
		h.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrIllegalTransition):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInsufficientFunds):
		h.writeError(w, http.StatusPaymentRequired, err.Error())
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
