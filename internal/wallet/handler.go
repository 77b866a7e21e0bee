package wallet

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/ajaymenon/storefront-core/internal/auth"
	"github.com/ajaymenon/storefront-core/internal/domain"
)

type Handler struct {
	repo   *Repository
	logger *slog.Logger
}

func NewHandler(repo *Repository, logger *slog.Logger) *Handler {
	return &Handler{repo: repo, logger: logger}
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing session")
		return
	}

	wallet, err := h.repo.GetOrCreate(r.Context(), actor.ID)
	if err != nil {
		h.logger.Error("failed to load wallet", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, wallet)
}

func (h *Handler) HandleListTransactions(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing session")
		return
	}

	transactions, err := h.repo.ListTransactions(r.Context(), actor.ID)
	if err != nil {
		h.logger.Error("failed to list wallet transactions", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, transactions)
}

type topUpRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (h *Handler) HandleCreateTopUp(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing session")
		return
	}

	var req topUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Amount.IsPositive() {
		h.writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	topup, err := h.repo.CreateTopUp(r.Context(), actor.ID, req.Amount)
	if err != nil {
		h.logger.Error("failed to create top-up", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusCreated, topup)
}

// HandleConfirmTopUp is the payment provider's confirmation callback. It
// is idempotent; retried confirmations return the same confirmed top-up.
func (h *Handler) HandleConfirmTopUp(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing top-up id")
		return
	}

	topup, err := h.repo.ConfirmTopUp(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "top-up not found")
			return
		}
		h.logger.Error("failed to confirm top-up", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, topup)
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
