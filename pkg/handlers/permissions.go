package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"table-service-backend/pkg/config"
	"table-service-backend/pkg/database"
	"table-service-backend/pkg/middleware"
	"table-service-backend/pkg/models"
	"table-service-backend/pkg/permissions"
	"table-service-backend/pkg/utils"

	chiRoute "github.com/go-chi/chi/v5"
)

// PermissionsHandler serves grant management: individual grants, branch
// fan-outs and the branch revocation freeze. Everything here requires
// management rights on the table.
type PermissionsHandler struct {
	config     *config.Config
	db         database.StoreInterface
	engine     *permissions.Engine
	propagator *permissions.Propagator
}

func NewPermissionsHandler(cfg *config.Config, db database.StoreInterface, engine *permissions.Engine, propagator *permissions.Propagator) *PermissionsHandler {
	return &PermissionsHandler{config: cfg, db: db, engine: engine, propagator: propagator}
}

// GET /api/tables/{id}/permissions
func (h *PermissionsHandler) ListTablePermissions(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}
	tableID := chiRoute.URLParam(r, "id")

	table, ok := requireTableManage(w, h.db, h.engine, user.ID, tableID)
	if !ok {
		return
	}

	perms, err := h.db.ListTablePermissions(table.ID)
	if err != nil {
		utils.WriteInternalServerErrorResponse(w, err.Error())
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"permissions": perms})
}

// PUT /api/tables/{id}/permissions
func (h *PermissionsHandler) UpsertTablePermissions(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}
	tableID := chiRoute.URLParam(r, "id")

	table, ok := requireTableManage(w, h.db, h.engine, user.ID, tableID)
	if !ok {
		return
	}

	var req struct {
		Grants []struct {
			UserID  string `json:"user_id"`
			CanView bool   `json:"can_view"`
		} `json:"grants"`
	}
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid body")
		return
	}
	if len(req.Grants) == 0 {
		utils.WriteBadRequestResponse(w, "No grants provided")
		return
	}

	perms := make([]models.TablePermission, 0, len(req.Grants))
	for _, g := range req.Grants {
		if strings.TrimSpace(g.UserID) == "" {
			utils.WriteBadRequestResponse(w, "Grant with empty user_id")
			return
		}
		perms = append(perms, models.TablePermission{TableID: table.ID, UserID: g.UserID, CanView: g.CanView})
	}
	if err := h.db.UpsertTablePermissions(perms); err != nil {
		utils.WriteInternalServerErrorResponse(w, err.Error())
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"updated": len(perms)})
}

// POST /api/tables/{id}/share-branch
//
// Grants view on the table to every current member of the branch. Later
// joiners get nothing; share again to include them.
func (h *PermissionsHandler) GrantTableToBranch(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}
	tableID := chiRoute.URLParam(r, "id")

	table, ok := requireTableManage(w, h.db, h.engine, user.ID, tableID)
	if !ok {
		return
	}

	var req struct {
		BranchID string `json:"branch_id"`
	}
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid body")
		return
	}
	if strings.TrimSpace(req.BranchID) == "" {
		utils.WriteBadRequestResponse(w, "branch_id required")
		return
	}

	if err := h.propagator.GrantTableToBranch(table.ID, req.BranchID); err != nil {
		fmt.Printf("[error] table branch grant failed table=%s branch=%s: %v\n", table.ID, req.BranchID, err)
		utils.WriteInternalServerErrorResponse(w, err.Error())
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"table_id": table.ID, "branch_id": req.BranchID})
}

// GET /api/rows/{id}/permissions
func (h *PermissionsHandler) ListRowPermissions(w http.ResponseWriter, r *http.Request) {
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

	perms, err := h.db.ListRowPermissions(row.ID)
	if err != nil {
		utils.WriteInternalServerErrorResponse(w, err.Error())
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"permissions": perms})
}

// PUT /api/rows/{id}/permissions
func (h *PermissionsHandler) UpsertRowPermissions(w http.ResponseWriter, r *http.Request) {
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

	var req struct {
		Grants []struct {
			UserID    string `json:"user_id"`
			CanEdit   bool   `json:"can_edit"`
			CanDelete bool   `json:"can_delete"`
		} `json:"grants"`
	}
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid body")
		return
	}
	if len(req.Grants) == 0 {
		utils.WriteBadRequestResponse(w, "No grants provided")
		return
	}

	perms := make([]models.RowPermission, 0, len(req.Grants))
	for _, g := range req.Grants {
		if strings.TrimSpace(g.UserID) == "" {
			utils.WriteBadRequestResponse(w, "Grant with empty user_id")
			return
		}
		perms = append(perms, models.RowPermission{
			RowID: row.ID, UserID: g.UserID, CanEdit: g.CanEdit, CanDelete: g.CanDelete,
		})
	}
	if err := h.db.UpsertRowPermissions(perms); err != nil {
		utils.WriteInternalServerErrorResponse(w, err.Error())
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"updated": len(perms)})
}

// POST /api/tables/{id}/rows/share-branch
//
// Grants edit/delete on the listed rows to every current member of the
// branch, one template per row plus the expansion, in one transaction.
func (h *PermissionsHandler) GrantRowsToBranch(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}
	tableID := chiRoute.URLParam(r, "id")

	table, ok := requireTableManage(w, h.db, h.engine, user.ID, tableID)
	if !ok {
		return
	}

	var req struct {
		BranchID  string   `json:"branch_id"`
		RowIDs    []string `json:"row_ids"`
		CanEdit   bool     `json:"can_edit"`
		CanDelete bool     `json:"can_delete"`
	}
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid body")
		return
	}
	if strings.TrimSpace(req.BranchID) == "" {
		utils.WriteBadRequestResponse(w, "branch_id required")
		return
	}
	if len(req.RowIDs) == 0 {
		utils.WriteBadRequestResponse(w, "row_ids required")
		return
	}

	// Every row must belong to this table; a single stray id fails the call.
	for _, rowID := range req.RowIDs {
		row, err := h.db.GetRow(rowID)
		if err != nil {
			writeStoreError(w, err, "row")
			return
		}
		if row.TableID != table.ID {
			utils.WriteBadRequestResponse(w, "Row "+rowID+" does not belong to this table")
			return
		}
	}

	if err := h.propagator.GrantRowsToBranch(req.RowIDs, req.BranchID, req.CanEdit, req.CanDelete); err != nil {
		fmt.Printf("[error] row branch grant failed table=%s branch=%s: %v\n", table.ID, req.BranchID, err)
		utils.WriteInternalServerErrorResponse(w, err.Error())
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{
		"branch_id": req.BranchID,
		"rows":      len(req.RowIDs),
	})
}

// POST /api/tables/{id}/revoke-branch
//
// Freezes a branch on the table: branch grant templates and the individual
// grants of current members have their edit/delete flags zeroed. Records
// stay, so the share history remains auditable, but the access is gone.
func (h *PermissionsHandler) RevokeRedactRows(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}
	tableID := chiRoute.URLParam(r, "id")

	table, ok := requireTableManage(w, h.db, h.engine, user.ID, tableID)
	if !ok {
		return
	}

	var req struct {
		BranchID string `json:"branch_id"`
	}
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid body")
		return
	}
	if strings.TrimSpace(req.BranchID) == "" {
		utils.WriteBadRequestResponse(w, "branch_id required")
		return
	}

	if err := h.engine.RevokeRedactRows(table.ID, req.BranchID); err != nil {
		fmt.Printf("[error] branch revocation failed table=%s branch=%s: %v\n", table.ID, req.BranchID, err)
		utils.WriteInternalServerErrorResponse(w, err.Error())
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{
		"table_id":  table.ID,
		"branch_id": req.BranchID,
		"revoked":   true,
	})
}
