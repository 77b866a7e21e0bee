package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/ajaymenon/storefront-core/internal/domain"
)

var ErrEmailTaken = errors.New("email already registered")

const sessionTTL = 24 * time.Hour

type Handler struct {
	repo   *Repository
	logger *slog.Logger
}

func NewHandler(repo *Repository, logger *slog.Logger) *Handler {
	return &Handler{repo: repo, logger: logger}
}

type registerRequest struct {
	Name     string      `json:"name"`
	Email    string      `json:"email"`
	Password string      `json:"password"`
	Role     domain.Role `json:"role"`
}

func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// Role is an explicit field chosen at registration, never inferred
	// from the identifier text.
	if !req.Role.Valid() {
		h.writeError(w, http.StatusBadRequest, "role must be customer, salesman or admin")
		return
	}
	if req.Email == "" || req.Password == "" {
		h.writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.logger.Error("failed to hash password", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	actor, err := h.repo.CreateUser(r.Context(), req.Name, req.Email, string(hash), req.Role)
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			h.writeError(w, http.StatusConflict, "email already registered")
			return
		}
		h.logger.Error("failed to create user", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("user registered", "user_id", actor.ID, "role", actor.Role)
	h.writeJSON(w, http.StatusCreated, actor)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string       `json:"token"`
	Actor domain.Actor `json:"actor"`
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	actor, hash, err := h.repo.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		h.logger.Error("failed to look up user", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)) != nil {
		h.writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := h.repo.CreateSession(r.Context(), actor.ID, sessionTTL)
	if err != nil {
		h.logger.Error("failed to create session", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("login", "user_id", actor.ID, "role", actor.Role)
	h.writeJSON(w, http.StatusOK, loginResponse{Token: token, Actor: *actor})
}

// Middleware resolves the bearer token and stores the actor in the request
// context. Requests without a valid session are rejected.
func (h *Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			h.writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		actor, err := h.repo.ActorByToken(r.Context(), token)
		if err != nil {
			if errors.Is(err, domain.ErrUnauthorized) {
				h.writeError(w, http.StatusUnauthorized, "invalid or expired session")
				return
			}
			h.logger.Error("failed to resolve session", "error", err)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), *actor)))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok && token != "" {
		return token, true
	}
	// SSE viewers cannot set headers from EventSource; allow ?token=.
	if token := r.URL.Query().Get("token"); token != "" {
		return token, true
	}
	return "", false
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
