package bidding

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

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

type createVoucherRequest struct {
	VoucherName  string          `json:"voucher_name"`
	ProductName  string          `json:"product_name"`
	Details      string          `json:"details"`
	Price        decimal.Decimal `json:"price"`
	ProductPrice decimal.Decimal `json:"product_price"`
	StartTime    time.Time       `json:"start_time"`
	EndTime      time.Time       `json:"end_time"`
}

func (h *Handler) HandleCreateVoucher(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing session")
		return
	}

	var req createVoucherRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	voucher, err := h.service.CreateVoucher(r.Context(), actor, CreateVoucherInput{
		VoucherName:  req.VoucherName,
		ProductName:  req.ProductName,
		Details:      req.Details,
		Price:        req.Price,
		ProductPrice: req.ProductPrice,
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
	})
	if err != nil {
		h.writeDomainError(w, err, "failed to create voucher")
		return
	}

	h.writeJSON(w, http.StatusCreated, voucher)
}

func (h *Handler) HandleListVouchers(w http.ResponseWriter, r *http.Request) {
	vouchers, err := h.service.ListVouchers(r.Context())
	if err != nil {
		h.writeDomainError(w, err, "failed to list vouchers")
		return
	}
	h.writeJSON(w, http.StatusOK, vouchers)
}

func (h *Handler) HandleGetAuctionState(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing session")
		return
	}

	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing voucher id")
		return
	}

	state, err := h.service.GetAuctionState(r.Context(), actor, id)
	if err != nil {
		h.writeDomainError(w, err, "failed to get auction state")
		return
	}

	h.writeJSON(w, http.StatusOK, state)
}

type placeBidRequest struct {
	Amount decimal.Decimal `json:"bid_amount"`
}

func (h *Handler) HandlePlaceBid(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing session")
		return
	}

	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing voucher id")
		return
	}

	var req placeBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	state, err := h.service.PlaceBid(r.Context(), actor, id, req.Amount)
	if err != nil {
		h.writeDomainError(w, err, "failed to place bid")
		return
	}

	h.writeJSON(w, http.StatusOK, state)
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error, logMsg string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "voucher not found")
	case errors.Is(err, domain.ErrUnauthorized):
		h.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrAuctionClosed):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrBidTooLow):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrStaleBid):
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
