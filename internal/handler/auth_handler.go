package handler

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"collab-auth/internal/obs"
	"collab-auth/internal/service"
	"collab-auth/internal/util"
)

// AuthHandler handles HTTP requests for the authentication flow.
type AuthHandler struct {
	authService *service.AuthService
}

func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// Response is the standard API envelope.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(err error, message string) Response {
	return Response{
		Success: false,
		Error:   err.Error(),
		Message: message,
	}
}

// LoginBody is the wire shape of a password login. Fingerprint carries the
// raw client signal bundle and is passed through undecoded; the normalizer
// owns its validation.
type LoginBody struct {
	Email       string          `json:"email"`
	Password    string          `json:"password"`
	Remember    bool            `json:"remember"`
	Fingerprint json.RawMessage `json:"fingerprint"`
}

type verifyBody struct {
	Code string `json:"code"`
}

type tokenLoginBody struct {
	RememberToken string          `json:"remember_token"`
	Fingerprint   json.RawMessage `json:"fingerprint"`
}

// RegisterRoutes registers the authentication routes.
func (h *AuthHandler) RegisterRoutes(router chi.Router, sessions *SessionMiddleware) {
	router.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Post("/login/token", h.LoginWithToken)
		r.Post("/step-up/{challengeID}/verify", h.VerifyStepUp)
		r.Post("/step-up/{challengeID}/resend", h.ResendCode)

		r.Group(func(r chi.Router) {
			r.Use(sessions.Authenticate)
			r.Post("/logout", h.Logout)
		})
	})
}

// Login runs the full password authentication sequence.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var body LoginBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	result, err := h.authService.Login(ctx, service.LoginRequest{
		Email:     body.Email,
		Password:  body.Password,
		Remember:  body.Remember,
		Bundle:    body.Fingerprint,
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		obs.CountLogin("denied")
		h.respondWithError(w, h.getStatusCode(err), err, "Authentication failed")
		return
	}
	obs.CountRiskLevel(string(result.RiskLevel))

	status := http.StatusOK
	message := "Authenticated"
	if result.StepUpRequired {
		obs.CountLogin("step_up")
		status = http.StatusAccepted
		message = "Verification code required"
	} else {
		obs.CountLogin("granted")
	}

	h.respondWithJSON(w, status, successResponse(result, message))
	util.Info("Login handled via HTTP",
		util.Bool("step_up", result.StepUpRequired),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "Login"))
}

// VerifyStepUp completes a pending challenge with a second-factor code.
func (h *AuthHandler) VerifyStepUp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	challengeID := chi.URLParam(r, "challengeID")

	var body verifyBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	result, err := h.authService.VerifyStepUp(ctx, challengeID, body.Code)
	if err != nil {
		obs.CountStepUp("denied")
		h.respondWithError(w, h.getStatusCode(err), err, "Verification failed")
		return
	}
	obs.CountStepUp("granted")

	h.respondWithJSON(w, http.StatusOK, successResponse(result, "Authenticated"))
}

// ResendCode reissues the email code for a live challenge.
func (h *AuthHandler) ResendCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	challengeID := chi.URLParam(r, "challengeID")

	if err := h.authService.ResendCode(ctx, challengeID); err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Resend failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Code sent"))
}

// LoginWithToken authenticates with a remember token.
func (h *AuthHandler) LoginWithToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body tokenLoginBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	result, err := h.authService.LoginWithToken(ctx, body.RememberToken, body.Fingerprint, clientIP(r), r.UserAgent())
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Authentication failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(result, "Authenticated"))
}

// Logout revokes the authenticated session.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sess, ok := SessionFromContext(ctx)
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, service.ErrInvalidToken, "Not authenticated")
		return
	}

	if err := h.authService.Logout(ctx, sess.SessionID); err != nil {
		h.respondWithError(w, http.StatusInternalServerError, err, "Logout failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Logged out"))
}

func (h *AuthHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		util.Error("Failed to encode response", util.ErrorField(err))
	}
}

func (h *AuthHandler) respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	if statusCode >= http.StatusInternalServerError {
		util.Error("HTTP error response", util.Int("status", statusCode), util.ErrorField(err))
		// Internal details stay out of the response body.
		err = errors.New("internal error")
	}
	h.respondWithJSON(w, statusCode, errorResponse(err, message))
}

// getStatusCode maps flow errors onto HTTP statuses. All credential-shaped
// failures collapse to 401 so the body never says which check failed.
func (h *AuthHandler) getStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrBlocked):
		return http.StatusForbidden
	case errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrInvalidCode),
		errors.Is(err, service.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrChallengeExpired):
		return http.StatusGone
	case errors.Is(err, service.ErrTooManyAttempts),
		errors.Is(err, service.ErrResendThrottled):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// clientIP trusts the RealIP middleware to have rewritten RemoteAddr.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
