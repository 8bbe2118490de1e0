package handlers

import (
	"net/http"

	"table-service-backend/pkg/config"
	"table-service-backend/pkg/database"
	"table-service-backend/pkg/locks"
	"table-service-backend/pkg/middleware"
	"table-service-backend/pkg/permissions"
	"table-service-backend/pkg/utils"

	chiRoute "github.com/go-chi/chi/v5"
)

// LocksHandler serves lock inspection and the administrative unlock used
// when a branch member leaves a row locked and walks away.
type LocksHandler struct {
	config *config.Config
	db     database.StoreInterface
	engine *permissions.Engine
	locks  *locks.Manager
}

func NewLocksHandler(cfg *config.Config, db database.StoreInterface, engine *permissions.Engine, lockManager *locks.Manager) *LocksHandler {
	return &LocksHandler{config: cfg, db: db, engine: engine, locks: lockManager}
}

// GET /api/rows/{id}/lock
func (h *LocksHandler) GetLockStatus(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}
	rowID := chiRoute.URLParam(r, "id")

	_, row, ok := requireRow(w, h.db, h.engine, user.ID, rowID)
	if !ok {
		return
	}

	lock, err := h.locks.Holder(row.ID)
	if err != nil {
		utils.WriteInternalServerErrorResponse(w, err.Error())
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{
		"row_id": row.ID,
		"lock":   lock,
		"locked": lock != nil,
	})
}

// POST /api/rows/{id}/unlock
//
// Force-releases the lock regardless of holder. Restricted to the table
// owner and service admins.
func (h *LocksHandler) UnlockRow(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}
	rowID := chiRoute.URLParam(r, "id")

	table, row, ok := requireRow(w, h.db, h.engine, user.ID, rowID)
	if !ok {
		return
	}
	manage, err := h.engine.CanManageRow(user.ID, table)
	if err != nil {
		utils.WriteInternalServerErrorResponse(w, err.Error())
		return
	}
	if !manage {
		utils.WriteForbiddenResponse(w, "Owner or service admin privileges required")
		return
	}

	if err := h.locks.ForceRelease(row.ID); err != nil {
		utils.WriteInternalServerErrorResponse(w, err.Error())
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"unlocked": row.ID})
}
