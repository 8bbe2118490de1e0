package handlers

import (
	"net/http"
	"strings"

	"table-service-backend/pkg/config"
	"table-service-backend/pkg/database"
	"table-service-backend/pkg/middleware"
	"table-service-backend/pkg/utils"

	chiRoute "github.com/go-chi/chi/v5"
)

// AdminsHandler manages the service admin roster. Service admins see and
// manage every table; only existing service admins may change the roster.
type AdminsHandler struct {
	config *config.Config
	db     database.StoreInterface
}

func NewAdminsHandler(cfg *config.Config, db database.StoreInterface) *AdminsHandler {
	return &AdminsHandler{config: cfg, db: db}
}

func (h *AdminsHandler) requireServiceAdmin(w http.ResponseWriter, r *http.Request) (string, bool) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return "", false
	}
	admin, err := h.db.IsServiceAdmin(user.ID)
	if err != nil {
		utils.WriteInternalServerErrorResponse(w, err.Error())
		return "", false
	}
	if !admin {
		utils.WriteForbiddenResponse(w, "Service admin privileges required")
		return "", false
	}
	return user.ID, true
}

// GET /api/admins
func (h *AdminsHandler) ListServiceAdmins(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireServiceAdmin(w, r); !ok {
		return
	}

	admins, err := h.db.ListServiceAdmins()
	if err != nil {
		utils.WriteInternalServerErrorResponse(w, err.Error())
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"admins": admins})
}

// POST /api/admins
func (h *AdminsHandler) AddServiceAdmin(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireServiceAdmin(w, r); !ok {
		return
	}

	var req struct {
		UserID string `json:"user_id"`
	}
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		utils.WriteBadRequestResponse(w, "user_id required")
		return
	}

	if _, err := h.db.GetUserByID(req.UserID); err != nil {
		writeStoreError(w, err, "user")
		return
	}
	if err := h.db.AddServiceAdmin(req.UserID); err != nil {
		utils.WriteInternalServerErrorResponse(w, err.Error())
		return
	}
	utils.WriteCreatedResponse(w, map[string]interface{}{"user_id": req.UserID})
}

// DELETE /api/admins/{userID}
func (h *AdminsHandler) RemoveServiceAdmin(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.requireServiceAdmin(w, r)
	if !ok {
		return
	}
	userID := chiRoute.URLParam(r, "userID")

	// An admin removing themselves could leave the service unmanageable.
	if userID == callerID {
		utils.WriteConflictResponse(w, "Cannot remove yourself from the admin roster")
		return
	}

	if err := h.db.RemoveServiceAdmin(userID); err != nil {
		utils.WriteInternalServerErrorResponse(w, err.Error())
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"removed": userID})
}
