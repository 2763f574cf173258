package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"collab-auth/internal/models"
	"collab-auth/internal/repository/scylla"
	"collab-auth/internal/service"
	"collab-auth/internal/util"
)

// AdminHandler exposes the override surface. Every endpoint sits behind the
// session middleware plus the admin role check; the service layer re-checks
// the role on each call so the handler is never the only gate.
type AdminHandler struct {
	adminService *service.AdminService
}

func NewAdminHandler(adminService *service.AdminService) *AdminHandler {
	return &AdminHandler{adminService: adminService}
}

type trustBody struct {
	Status string `json:"status"`
}

type blacklistBody struct {
	IPAddress string     `json:"ip_address"`
	Reason    string     `json:"reason"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// RegisterRoutes registers the admin routes.
func (h *AdminHandler) RegisterRoutes(router chi.Router, sessions *SessionMiddleware) {
	router.Route("/admin", func(r chi.Router) {
		r.Use(sessions.Authenticate)
		r.Use(sessions.RequireAdmin)

		r.Get("/users/{userID}/devices", h.ListDevices)
		r.Put("/devices/{deviceID}/trust", h.SetDeviceTrust)
		r.Post("/devices/{deviceID}/revoke-sessions", h.RevokeDeviceSessions)
		r.Post("/blacklist", h.AddBlacklistEntry)
		r.Delete("/blacklist/{ip}", h.RemoveBlacklistEntry)
		r.Get("/security-events", h.SearchSecurityEvents)
	})
}

func (h *AdminHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := UserFromContext(ctx)

	devices, err := h.adminService.ListDevices(ctx, actor, chi.URLParam(r, "userID"))
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to list devices")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(devices, ""))
}

func (h *AdminHandler) SetDeviceTrust(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := UserFromContext(ctx)
	deviceID := chi.URLParam(r, "deviceID")

	var body trustBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	device, err := h.adminService.SetDeviceTrust(ctx, actor, deviceID, models.TrustStatus(body.Status))
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to update trust status")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(device, "Trust status updated"))
	util.Info("Trust status updated via HTTP",
		util.String("admin", actor.UserID),
		util.String("device_id", deviceID),
		util.String("status", body.Status))
}

func (h *AdminHandler) AddBlacklistEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := UserFromContext(ctx)

	var body blacklistBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if body.IPAddress == "" {
		h.respondWithError(w, http.StatusBadRequest, errors.New("ip_address is required"), "Invalid request body")
		return
	}

	if err := h.adminService.AddBlacklistEntry(ctx, actor, body.IPAddress, body.Reason, body.ExpiresAt); err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to add blacklist entry")
		return
	}

	h.respondWithJSON(w, http.StatusCreated, successResponse(nil, "Blacklist entry added"))
}

func (h *AdminHandler) RemoveBlacklistEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := UserFromContext(ctx)

	if err := h.adminService.RemoveBlacklistEntry(ctx, actor, chi.URLParam(r, "ip")); err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to remove blacklist entry")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Blacklist entry removed"))
}

func (h *AdminHandler) RevokeDeviceSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := UserFromContext(ctx)
	deviceID := chi.URLParam(r, "deviceID")

	count, err := h.adminService.RevokeDeviceSessions(ctx, actor, deviceID)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to revoke sessions")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]int{"revoked": count}, "Sessions revoked"))
}

func (h *AdminHandler) SearchSecurityEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := UserFromContext(ctx)

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			h.respondWithError(w, http.StatusBadRequest, errors.New("invalid limit"), "Invalid query")
			return
		}
		limit = parsed
	}

	results, err := h.adminService.SearchSecurityEvents(ctx, actor, service.EventFilter{
		UserID:    r.URL.Query().Get("user_id"),
		IPAddress: r.URL.Query().Get("ip"),
		EventType: r.URL.Query().Get("event_type"),
		Limit:     limit,
	})
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Search failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(results, ""))
}

func (h *AdminHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		util.Error("Failed to encode response", util.ErrorField(err))
	}
}

func (h *AdminHandler) respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	if statusCode >= http.StatusInternalServerError {
		util.Error("HTTP error response", util.Int("status", statusCode), util.ErrorField(err))
		err = errors.New("internal error")
	}
	h.respondWithJSON(w, statusCode, errorResponse(err, message))
}

func (h *AdminHandler) getStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrInvalidTrustState):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrDeviceNotFound),
		errors.Is(err, scylla.ErrBlacklistEntryNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
