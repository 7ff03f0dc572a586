package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/paywire/backend/internal/config"
	"github.com/paywire/backend/internal/middleware"
	"github.com/paywire/backend/internal/models"
	"github.com/paywire/backend/internal/services"
)

const maxBodyBytes = 1 << 20 // 1 MB

// UserHandler exposes the producer-side HTTP surface: registration, login,
// profile, top-up and transfer submission.
type UserHandler struct {
	users     *services.UserService
	validator *validator.Validate
	jwt       config.JWTConfig
	log       zerolog.Logger
}

func NewUserHandler(users *services.UserService, jwt config.JWTConfig, log zerolog.Logger) *UserHandler {
	return &UserHandler{
		users:     users,
		validator: validator.New(),
		jwt:       jwt,
		log:       log,
	}
}

// Routes mounts the handler's endpoints on a fresh router.
func (h *UserHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)
	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(h.jwt))
		r.Get("/users/me", h.Profile)
		r.Post("/users/balance", h.AddBalance)
		r.Post("/transfers", h.Transfer)
	})
	return r
}

type RegisterRequest struct {
	FullName string `json:"fullName" validate:"required,min=2"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type BalanceRequest struct {
	Amount float64 `json:"amount" validate:"required,gt=0"`
}

type TransferRequest struct {
	RecipientEmail string  `json:"recipientEmail" validate:"required,email"`
	Amount         float64 `json:"amount" validate:"required,gt=0"`
}

// AuthResponse carries the issued token and the account it belongs to.
type AuthResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.users.Register(r.Context(), req.FullName, req.Email, req.Password)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	token, err := middleware.GenerateToken(h.jwt, user.ID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", user.ID).Msg("token generation failed")
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusCreated, AuthResponse{Token: token, User: user})
}

func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	token, err := middleware.GenerateToken(h.jwt, user.ID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", user.ID).Msg("token generation failed")
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, AuthResponse{Token: token, User: user})
}

func (h *UserHandler) Profile(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.Profile(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	SendJSON(w, http.StatusOK, user)
}

func (h *UserHandler) AddBalance(w http.ResponseWriter, r *http.Request) {
	var req BalanceRequest
	if !h.decode(w, r, &req) {
		return
	}

	balance, err := h.users.AddBalance(r.Context(), middleware.UserID(r.Context()), req.Amount)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	SendJSON(w, http.StatusOK, map[string]int64{"balance": balance})
}

func (h *UserHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if !h.decode(w, r, &req) {
		return
	}

	transactionID, err := h.users.Transfer(r.Context(), middleware.UserID(r.Context()), req.RecipientEmail, req.Amount)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	// The transfer is applied asynchronously by the worker; only the
	// submission is confirmed here.
	SendJSON(w, http.StatusAccepted, map[string]string{"transactionId": transactionID})
}

// decode reads, bounds and validates the JSON request body. It writes the
// error response itself and reports whether the handler should continue.
func (h *UserHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return false
	}
	return true
}

func (h *UserHandler) writeServiceError(w http.ResponseWriter, err error) {
	var te *services.TransferError
	switch {
	case errors.Is(err, services.ErrUserAlreadyExists):
		SendErrorResponse(w, "Email Already Exists", http.StatusConflict, nil)
	case errors.Is(err, services.ErrInvalidCredentials):
		SendErrorResponse(w, "Invalid credentials", http.StatusUnauthorized, nil)
	case errors.Is(err, services.ErrRecipientNotFound):
		SendErrorResponse(w, "Recipient not found", http.StatusNotFound, nil)
	case errors.As(err, &te):
		SendErrorResponse(w, te.Message, te.StatusCode(), nil)
	default:
		h.log.Error().Err(err).Msg("unhandled service error")
		SendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
	}
}
