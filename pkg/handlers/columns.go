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

// ColumnsHandler serves column management. Column changes reshape every row,
// so they are owner/service-admin operations.
type ColumnsHandler struct {
	config     *config.Config
	db         database.StoreInterface
	engine     *permissions.Engine
	propagator *permissions.Propagator
}

func NewColumnsHandler(cfg *config.Config, db database.StoreInterface, engine *permissions.Engine, propagator *permissions.Propagator) *ColumnsHandler {
	return &ColumnsHandler{config: cfg, db: db, engine: engine, propagator: propagator}
}

// GET /api/tables/{id}/columns
func (h *ColumnsHandler) ListColumns(w http.ResponseWriter, r *http.Request) {
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

	columns, err := h.db.ListColumns(table.ID)
	if err != nil {
		utils.WriteInternalServerErrorResponse(w, err.Error())
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"columns": columns})
}

// POST /api/tables/{id}/columns
//
// Creating a column backfills a default-valued cell into every existing row
// in the same transaction, keeping the grid rectangular.
func (h *ColumnsHandler) CreateColumn(w http.ResponseWriter, r *http.Request) {
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
		Name         string `json:"name"`
		DataType     string `json:"data_type"`
		DisplayOrder int    `json:"display_order"`
		Required     bool   `json:"required"`
	}
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		utils.WriteBadRequestResponse(w, "Column name required")
		return
	}
	dataType := models.DataType(req.DataType)
	if !dataType.Valid() {
		utils.WriteValidationErrorResponse(w, "Unknown data type", req.DataType)
		return
	}

	column := &models.Column{
		TableID:      table.ID,
		Name:         strings.TrimSpace(req.Name),
		DataType:     dataType,
		DisplayOrder: req.DisplayOrder,
		Required:     req.Required,
	}
	if err := h.propagator.OnColumnCreated(column); err != nil {
		fmt.Printf("[error] column backfill failed for table=%s: %v\n", table.ID, err)
		utils.WriteInternalServerErrorResponse(w, "Create column failed: "+err.Error())
		return
	}

	utils.WriteCreatedResponse(w, map[string]interface{}{"column": column})
}

// DELETE /api/tables/{id}/columns/{columnID}
func (h *ColumnsHandler) DeleteColumn(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}
	tableID := chiRoute.URLParam(r, "id")
	columnID := chiRoute.URLParam(r, "columnID")

	table, ok := requireTableManage(w, h.db, h.engine, user.ID, tableID)
	if !ok {
		return
	}

	column, err := h.db.GetColumn(columnID)
	if err != nil {
		writeStoreError(w, err, "column")
		return
	}
	if column.TableID != table.ID {
		utils.WriteNotFoundResponse(w, "column not found")
		return
	}

	if err := h.db.DeleteColumn(column.ID); err != nil {
		writeStoreError(w, err, "column")
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"deleted": column.ID})
}
