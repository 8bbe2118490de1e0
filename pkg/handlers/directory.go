package handlers

import (
	"net/http"

	"table-service-backend/pkg/config"
	"table-service-backend/pkg/database"
	"table-service-backend/pkg/middleware"
	"table-service-backend/pkg/models"
	"table-service-backend/pkg/utils"
)

// DirectoryHandler keeps the local user mirror in step with the identity
// source and exposes the branch list for sharing UIs.
type DirectoryHandler struct {
	config *config.Config
	db     database.StoreInterface
}

func NewDirectoryHandler(cfg *config.Config, db database.StoreInterface) *DirectoryHandler {
	return &DirectoryHandler{config: cfg, db: db}
}

// POST /api/users/sync
//
// Upserts the caller from their token claims. Clients call this on login so
// branch expansions see the user's current membership.
func (h *DirectoryHandler) SyncUser(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	// Body is optional; a bare POST syncs the claims alone.
	_ = utils.ParseJSONBody(r, &req)

	record := &models.User{
		ID:       user.ID,
		Email:    user.Email,
		Name:     req.Name,
		BranchID: user.BranchID,
	}
	if err := h.db.UpsertUser(record); err != nil {
		utils.WriteInternalServerErrorResponse(w, err.Error())
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"user": record})
}

// GET /api/branches
func (h *DirectoryHandler) ListBranches(w http.ResponseWriter, r *http.Request) {
	if _, err := middleware.RequireUser(r.Context()); err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}

	branches, err := h.db.ListBranches()
	if err != nil {
		utils.WriteInternalServerErrorResponse(w, err.Error())
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"branches": branches})
}
