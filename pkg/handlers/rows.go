package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"table-service-backend/pkg/config"
	"table-service-backend/pkg/database"
	"table-service-backend/pkg/locks"
	"table-service-backend/pkg/middleware"
	"table-service-backend/pkg/models"
	"table-service-backend/pkg/permissions"
	"table-service-backend/pkg/utils"

	chiRoute "github.com/go-chi/chi/v5"
)

// RowsHandler serves row lifecycle and the edit session protocol: open
// acquires the row lock, save validates and writes the cells, then releases.
type RowsHandler struct {
	config     *config.Config
	db         database.StoreInterface
	engine     *permissions.Engine
	propagator *permissions.Propagator
	locks      *locks.Manager
}

func NewRowsHandler(cfg *config.Config, db database.StoreInterface, engine *permissions.Engine, propagator *permissions.Propagator, lockManager *locks.Manager) *RowsHandler {
	return &RowsHandler{config: cfg, db: db, engine: engine, propagator: propagator, locks: lockManager}
}

// POST /api/tables/{id}/rows
//
// The new row arrives fully formed: one default cell per column, the
// creator's edit/delete grant, the creator's branch grant expanded over the
// branch's current members, and the admin branch fan-out. The branch is
// always the creator's own; the request cannot name a different one, as
// that would be a grant pathway bypassing the manage-gated branch sharing.
func (h *RowsHandler) CreateRow(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}
	tableID := chiRoute.URLParam(r, "id")

	table, ok := requireTableView(w, h.db, h.engine, user.ID, tableID)
	if !ok {
		return
	}

	var req struct {
		DisplayOrder int `json:"display_order"`
	}
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid body")
		return
	}

	branchID := ""
	if user.BranchID != nil {
		branchID = *user.BranchID
	}

	columns, err := h.db.ListColumns(table.ID)
	if err != nil {
		utils.WriteInternalServerErrorResponse(w, err.Error())
		return
	}

	creatorID := user.ID
	row := &models.Row{
		TableID:      table.ID,
		DisplayOrder: req.DisplayOrder,
		CreatedBy:    &creatorID,
	}
	if err := h.propagator.OnRowCreated(row, columns, user.ID, branchID); err != nil {
		fmt.Printf("[error] row creation failed for table=%s user=%s: %v\n", table.ID, user.ID, err)
		utils.WriteInternalServerErrorResponse(w, "Create row failed: "+err.Error())
		return
	}

	cells, err := h.db.ListCellsByRow(row.ID)
	if err != nil {
		utils.WriteInternalServerErrorResponse(w, err.Error())
		return
	}
	utils.WriteCreatedResponse(w, map[string]interface{}{"row": row, "cells": cells})
}

// GET /api/rows/{id}
func (h *RowsHandler) GetRow(w http.ResponseWriter, r *http.Request) {
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

	cells, err := h.db.ListCellsByRow(row.ID)
	if err != nil {
		utils.WriteInternalServerErrorResponse(w, err.Error())
		return
	}
	lock, err := h.locks.Holder(row.ID)
	if err != nil {
		utils.WriteInternalServerErrorResponse(w, err.Error())
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"row": row, "cells": cells, "lock": lock})
}

// POST /api/rows/{id}/edit
//
// Opens an edit session by taking the row lock. A row already open in
// another user's session answers 423 with the holder's id.
func (h *RowsHandler) OpenRowForEdit(w http.ResponseWriter, r *http.Request) {
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
	canEdit, err := h.engine.CanEditRow(user.ID, table, row)
	if err != nil {
		utils.WriteInternalServerErrorResponse(w, err.Error())
		return
	}
	if !canEdit {
		utils.WriteForbiddenResponse(w, "No edit permission on this row")
		return
	}

	lock, err := h.locks.Acquire(row.ID, user.ID)
	if err != nil {
		if conflict, ok := locks.AsConflict(err); ok {
			utils.WriteLockedResponse(w, "Row is being edited by another user", conflict.HolderID)
			return
		}
		utils.WriteInternalServerErrorResponse(w, err.Error())
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"lock": lock})
}

// PUT /api/rows/{id}
//
// Saves an edit session: every submitted value is validated against its
// column's data type, the cells are written atomically and the lock is
// released. The lock is re-acquired first, so a save without a prior open
// still respects another user's session.
func (h *RowsHandler) SaveRow(w http.ResponseWriter, r *http.Request) {
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
	canEdit, err := h.engine.CanEditRow(user.ID, table, row)
	if err != nil {
		utils.WriteInternalServerErrorResponse(w, err.Error())
		return
	}
	if !canEdit {
		utils.WriteForbiddenResponse(w, "No edit permission on this row")
		return
	}

	var req struct {
		Cells map[string]json.RawMessage `json:"cells"`
	}
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid body")
		return
	}
	if len(req.Cells) == 0 {
		utils.WriteBadRequestResponse(w, "No cells to save")
		return
	}

	columns, err := h.db.ListColumns(table.ID)
	if err != nil {
		utils.WriteInternalServerErrorResponse(w, err.Error())
		return
	}
	typeByColumn := make(map[string]models.DataType, len(columns))
	for _, c := range columns {
		typeByColumn[c.ID] = c.DataType
	}

	values := make(map[string]models.CellValue, len(req.Cells))
	for columnID, raw := range req.Cells {
		dataType, ok := typeByColumn[columnID]
		if !ok {
			utils.WriteValidationErrorResponse(w, "Unknown column", columnID)
			return
		}
		value, err := models.ParseValue(dataType, raw)
		if err != nil {
			utils.WriteValidationErrorResponse(w, fmt.Sprintf("Invalid value for column %s", columnID), err.Error())
			return
		}
		values[columnID] = value
	}

	if _, err := h.locks.Acquire(row.ID, user.ID); err != nil {
		if conflict, ok := locks.AsConflict(err); ok {
			utils.WriteLockedResponse(w, "Row is being edited by another user", conflict.HolderID)
			return
		}
		utils.WriteInternalServerErrorResponse(w, err.Error())
		return
	}

	if err := h.db.UpdateCells(row.ID, values); err != nil {
		utils.WriteInternalServerErrorResponse(w, "Save failed: "+err.Error())
		return
	}

	if err := h.locks.Release(row.ID, user.ID); err != nil {
		fmt.Printf("[warn] releasing lock after save failed for row=%s: %v\n", row.ID, err)
	}

	cells, err := h.db.ListCellsByRow(row.ID)
	if err != nil {
		utils.WriteInternalServerErrorResponse(w, err.Error())
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"row": row, "cells": cells})
}

// DELETE /api/rows/{id}/edit
//
// Abandons an edit session without saving. Releasing a lock that already
// expired or was never taken is a no-op.
func (h *RowsHandler) CancelEdit(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}
	rowID := chiRoute.URLParam(r, "id")

	_, _, ok := requireRow(w, h.db, h.engine, user.ID, rowID)
	if !ok {
		return
	}

	if err := h.locks.Release(rowID, user.ID); err != nil {
		if conflict, ok := locks.AsConflict(err); ok {
			utils.WriteLockedResponse(w, "Row is locked by another user", conflict.HolderID)
			return
		}
		utils.WriteInternalServerErrorResponse(w, err.Error())
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"released": rowID})
}

// DELETE /api/rows/{id}
func (h *RowsHandler) DeleteRow(w http.ResponseWriter, r *http.Request) {
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
	canDelete, err := h.engine.CanDeleteRow(user.ID, table, row)
	if err != nil {
		utils.WriteInternalServerErrorResponse(w, err.Error())
		return
	}
	if !canDelete {
		utils.WriteForbiddenResponse(w, "No delete permission on this row")
		return
	}

	// Deleting a row someone else has open would discard their edit.
	if lock, err := h.locks.Holder(row.ID); err == nil && lock != nil && lock.UserID != user.ID {
		utils.WriteLockedResponse(w, "Row is being edited by another user", lock.UserID)
		return
	}

	if err := h.db.DeleteRow(row.ID); err != nil {
		writeStoreError(w, err, "row")
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"deleted": row.ID})
}
