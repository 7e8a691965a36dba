package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"time"
	"unicode"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/brightpath-edu/brightpath-auth/internal/platform/httpx"
)

// Credential endpoints share one tight per-IP budget.
const (
	credentialRateLimit  = 5
	credentialRateWindow = 15 * time.Minute
)

// LoginMetrics counts login outcomes for observability.
type LoginMetrics interface {
	CountLogin(outcome string)
}

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	mw        Middleware
	validator *validator.Validate
	metrics   LoginMetrics
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, mw Middleware) *Handler {
	v := validator.New()
	_ = v.RegisterValidation("strongpassword", validateStrongPassword)
	return &Handler{
		logger:    logger,
		service:   service,
		mw:        mw,
		validator: v,
	}
}

// WithMetrics attaches a login outcome counter.
func (h *Handler) WithMetrics(metrics LoginMetrics) *Handler {
	h.metrics = metrics
	return h
}

// MountRoutes registers auth routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(httprate.Limit(credentialRateLimit, credentialRateWindow, httprate.WithKeyFuncs(httprate.KeyByIP)))
		r.Post("/auth/register", h.handleRegister)
		r.Post("/auth/login", h.handleLogin)
		r.Post("/auth/request-reset", h.handleRequestReset)
	})
	r.Post("/auth/refresh", h.handleRefresh)
	r.Post("/auth/reset-password", h.handleResetPassword)

	r.Group(func(r chi.Router) {
		r.Use(h.mw.RequireAuth)
		r.Post("/auth/change-password", h.handleChangePassword)
		r.Get("/auth/me", h.handleMe)
	})
}

type registerRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8,strongpassword"`
	FirstName string `json:"firstName" validate:"required"`
	LastName  string `json:"lastName" validate:"required"`
}

type userResponse struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Role      string `json:"role"`
}

func toUserResponse(user *User) userResponse {
	return userResponse{
		ID:        user.ID,
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Role:      user.Role,
	}
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decodeValid(w, r, &req) {
		return
	}
	user, err := h.service.Register(r.Context(), req.Email, req.Password, req.FirstName, req.LastName)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"user": toUserResponse(user)})
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decodeValid(w, r, &req) {
		return
	}
	user, pair, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.countLogin(err)
		h.respondError(w, r, err)
		return
	}
	h.countLogin(nil)
	httpx.JSON(w, http.StatusOK, map[string]any{
		"user":   toUserResponse(user),
		"tokens": pair,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !h.decodeValid(w, r, &req) {
		return
	}
	pair, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"tokens": pair})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=8,strongpassword"`
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	userID, err := claims.UserID()
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid subject")
		return
	}
	var req changePasswordRequest
	if !h.decodeValid(w, r, &req) {
		return
	}
	if err := h.service.ChangePassword(r.Context(), userID, req.CurrentPassword, req.NewPassword); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type requestResetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func (h *Handler) handleRequestReset(w http.ResponseWriter, r *http.Request) {
	var req requestResetRequest
	if !h.decodeValid(w, r, &req) {
		return
	}
	if err := h.service.RequestReset(r.Context(), req.Email); err != nil {
		// Persistence failures still get the uniform response; anything else
		// would reveal whether the address is registered.
		h.logger.Error("request reset", slog.Any("error", err))
	}
	httpx.JSON(w, http.StatusAccepted, map[string]any{
		"message": "If that email is registered, reset instructions have been sent.",
	})
}

type resetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,min=8,strongpassword"`
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !h.decodeValid(w, r, &req) {
		return
	}
	if err := h.service.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	httpx.JSON(w, http.StatusOK, map[string]any{
		"id":    claims.Subject,
		"email": claims.Email,
		"role":  claims.Role,
	})
}

func (h *Handler) decodeValid(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationDetail(err))
		return false
	}
	return true
}

// respondError maps auth errors onto problem responses. Password and token
// failures stay generic; no field-level detail crosses the boundary.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrDuplicateUser):
		httpx.Problem(w, http.StatusConflict, "Duplicate", "user already exists")
	case errors.Is(err, ErrInvalidCredentials):
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid credentials")
	case errors.Is(err, ErrAccountLocked):
		httpx.Problem(w, http.StatusLocked, "Locked", "account temporarily locked")
	case errors.Is(err, ErrInvalidToken):
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid or expired token")
	case errors.Is(err, ErrInvalidOrExpiredToken):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Token", "invalid or expired token")
	case errors.Is(err, ErrUserNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "user not found")
	default:
		h.logger.Error("auth handler", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func (h *Handler) countLogin(err error) {
	if h.metrics == nil {
		return
	}
	switch {
	case err == nil:
		h.metrics.CountLogin("success")
	case errors.Is(err, ErrAccountLocked):
		h.metrics.CountLogin("locked")
	default:
		h.metrics.CountLogin("failed")
	}
}

func validationDetail(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return "invalid field: " + verrs[0].Field()
	}
	return "invalid request"
}

// validateStrongPassword enforces at least one lower, one upper and one digit,
// mirroring the registration policy of the web client.
func validateStrongPassword(fl validator.FieldLevel) bool {
	var lower, upper, digit bool
	for _, r := range fl.Field().String() {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	return lower && upper && digit
}
