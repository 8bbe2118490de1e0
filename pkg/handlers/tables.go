package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"table-service-backend/pkg/config"
	"table-service-backend/pkg/database"
	"table-service-backend/pkg/middleware"
	"table-service-backend/pkg/models"
	"table-service-backend/pkg/permissions"
	"table-service-backend/pkg/utils"

	chiRoute "github.com/go-chi/chi/v5"
)

// TablesHandler serves table lifecycle and read endpoints.
type TablesHandler struct {
	config     *config.Config
	db         database.StoreInterface
	engine     *permissions.Engine
	propagator *permissions.Propagator
}

func NewTablesHandler(cfg *config.Config, db database.StoreInterface, engine *permissions.Engine, propagator *permissions.Propagator) *TablesHandler {
	return &TablesHandler{config: cfg, db: db, engine: engine, propagator: propagator}
}

// POST /api/tables
func (h *TablesHandler) CreateTable(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}

	var req struct {
		Title string `json:"title"`
	}
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid body")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		utils.WriteBadRequestResponse(w, "Title required")
		return
	}

	token, err := utils.GenerateURLToken(24)
	if err != nil {
		utils.WriteInternalServerErrorResponse(w, "Failed to generate share token")
		return
	}

	table := &models.Table{
		Title:      strings.TrimSpace(req.Title),
		OwnerID:    user.ID,
		ShareToken: token,
	}
	if err := h.db.CreateTable(table); err != nil {
		utils.WriteInternalServerErrorResponse(w, "Create table failed: "+err.Error())
		return
	}

	if err := h.propagator.OnTableCreated(table, user.ID); err != nil {
		fmt.Printf("[error] table grant fan-out failed for table=%s: %v\n", table.ID, err)
		utils.WriteInternalServerErrorResponse(w, "Table created but grant propagation failed")
		return
	}

	utils.WriteCreatedResponse(w, map[string]interface{}{"table": table})
}

// tableSummary is a listing entry: the table plus what the caller can do
// with it. The share token is disclosed to the owner only.
type tableSummary struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	OwnerID    string    `json:"owner_id"`
	ShareToken string    `json:"share_token,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	IsOwner    bool      `json:"is_owner"`
	CanEdit    bool      `json:"can_edit"`
	CanDelete  bool      `json:"can_delete"`
}

// GET /api/tables
func (h *TablesHandler) ListTables(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}

	owned, err := h.db.ListTablesByOwner(user.ID)
	if err != nil {
		fmt.Printf("[error] ListTables (owned) failed for user=%s: %v\n", user.ID, err)
		utils.WriteInternalServerErrorResponse(w, err.Error())
		return
	}
	shared, err := h.db.ListViewableTables(user.ID)
	if err != nil {
		fmt.Printf("[error] ListTables (shared) failed for user=%s: %v\n", user.ID, err)
		utils.WriteInternalServerErrorResponse(w, err.Error())
		return
	}

	ownedOut := make([]tableSummary, 0, len(owned))
	for _, t := range owned {
		ownedOut = append(ownedOut, tableSummary{
			ID: t.ID, Title: t.Title, OwnerID: t.OwnerID, ShareToken: t.ShareToken,
			CreatedAt: t.CreatedAt, UpdatedAt: t.UpdatedAt,
			IsOwner: true, CanEdit: true, CanDelete: true,
		})
	}

	// Shared entries carry what the caller may actually do: edit/delete
	// become available as soon as any row of the table grants them.
	sharedOut := make([]tableSummary, 0, len(shared))
	for _, t := range shared {
		entry := tableSummary{
			ID: t.ID, Title: t.Title, OwnerID: t.OwnerID,
			CreatedAt: t.CreatedAt, UpdatedAt: t.UpdatedAt,
		}
		perms, err := h.db.ListRowPermissionsForUser(t.ID, user.ID)
		if err != nil {
			utils.WriteInternalServerErrorResponse(w, err.Error())
			return
		}
		for _, p := range perms {
			entry.CanEdit = entry.CanEdit || p.CanEdit
			entry.CanDelete = entry.CanDelete || p.CanDelete
		}
		sharedOut = append(sharedOut, entry)
	}

	// Weak ETag: tables:<user>:<count>:<maxUpdated>
	var maxUpdated int64
	for _, t := range append(append([]models.Table{}, owned...), shared...) {
		if ts := t.UpdatedAt.UnixMilli(); ts > maxUpdated {
			maxUpdated = ts
		}
	}
	etag := fmt.Sprintf(`W/"tables:%s:%d:%d"`, user.ID, len(owned)+len(shared), maxUpdated)
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)

	utils.WriteSuccessResponse(w, map[string]interface{}{
		"owned":  ownedOut,
		"shared": sharedOut,
	})
}

// GET /api/tables/{id}
func (h *TablesHandler) GetTable(w http.ResponseWriter, r *http.Request) {
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

	grid, err := h.loadGrid(table, user.ID, false)
	if err != nil {
		utils.WriteInternalServerErrorResponse(w, err.Error())
		return
	}
	grid["table"] = table
	utils.WriteSuccessResponse(w, grid)
}

// DELETE /api/tables/{id}
func (h *TablesHandler) DeleteTable(w http.ResponseWriter, r *http.Request) {
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

	if err := h.db.DeleteTable(table.ID); err != nil {
		writeStoreError(w, err, "table")
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"deleted": table.ID})
}

// GET /api/shared/{token}
//
// Share links are capability URLs, but the capability is scoped by the
// caller's grants: the caller must be authenticated, and rows they hold no
// grant on stay hidden unless they could view the table anyway. Unknown
// tokens are 404, indistinguishable from absent tables. The token itself
// is never echoed back.
func (h *TablesHandler) GetTableByShareToken(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}
	token := chiRoute.URLParam(r, "token")
	if strings.TrimSpace(token) == "" {
		utils.WriteBadRequestResponse(w, "Share token required")
		return
	}

	table, err := h.db.GetTableByShareToken(token)
	if err != nil {
		writeStoreError(w, err, "table")
		return
	}

	canView, err := h.engine.CanViewTable(user.ID, table)
	if err != nil {
		utils.WriteInternalServerErrorResponse(w, err.Error())
		return
	}

	grid, err := h.loadGrid(table, user.ID, !canView)
	if err != nil {
		utils.WriteInternalServerErrorResponse(w, err.Error())
		return
	}
	grid["table"] = map[string]interface{}{
		"id":       table.ID,
		"title":    table.Title,
		"owner_id": table.OwnerID,
	}
	grid["read_only"] = true
	utils.WriteSuccessResponse(w, grid)
}

// loadGrid assembles columns, rows and their cells into the shape clients
// render: cells keyed by column id within each row, plus the caller's
// per-row edit/delete flags. With grantedOnly set, rows the caller holds
// no grant on are left out entirely (the share-token view).
func (h *TablesHandler) loadGrid(table *models.Table, userID string, grantedOnly bool) (map[string]interface{}, error) {
	columns, err := h.db.ListColumns(table.ID)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	rows, err := h.db.ListRows(table.ID)
	if err != nil {
		return nil, fmt.Errorf("list rows: %w", err)
	}
	cells, err := h.db.ListCellsByTable(table.ID)
	if err != nil {
		return nil, fmt.Errorf("list cells: %w", err)
	}

	manage, err := h.engine.CanManageRow(userID, table)
	if err != nil {
		return nil, fmt.Errorf("check manage: %w", err)
	}
	perms, err := h.db.ListRowPermissionsForUser(table.ID, userID)
	if err != nil {
		return nil, fmt.Errorf("list caller grants: %w", err)
	}
	permByRow := make(map[string]models.RowPermission, len(perms))
	for _, p := range perms {
		permByRow[p.RowID] = p
	}

	cellsByRow := make(map[string]map[string]models.CellValue, len(rows))
	for _, c := range cells {
		byColumn, ok := cellsByRow[c.RowID]
		if !ok {
			byColumn = make(map[string]models.CellValue, len(columns))
			cellsByRow[c.RowID] = byColumn
		}
		byColumn[c.ColumnID] = c.Value
	}

	type gridRow struct {
		Row       models.Row                  `json:"row"`
		Cells     map[string]models.CellValue `json:"cells"`
		CanEdit   bool                        `json:"can_edit"`
		CanDelete bool                        `json:"can_delete"`
	}
	gridRows := make([]gridRow, 0, len(rows))
	for _, row := range rows {
		perm, granted := permByRow[row.ID]
		if grantedOnly && !manage && !granted {
			continue
		}
		gridRows = append(gridRows, gridRow{
			Row:       row,
			Cells:     cellsByRow[row.ID],
			CanEdit:   manage || perm.CanEdit,
			CanDelete: manage || perm.CanDelete,
		})
	}

	return map[string]interface{}{
		"columns": columns,
		"rows":    gridRows,
	}, nil
}
