package handlers

import (
	"encoding/csv"
	"fmt"
	"net/http"

	"table-service-backend/pkg/config"
	"table-service-backend/pkg/database"
	"table-service-backend/pkg/middleware"
	"table-service-backend/pkg/models"
	"table-service-backend/pkg/permissions"
	"table-service-backend/pkg/utils"

	chiRoute "github.com/go-chi/chi/v5"
)

// ExportHandler streams a table as CSV. Viewers get the whole table; the
// export reflects exactly what the grid endpoint would show them.
type ExportHandler struct {
	config *config.Config
	db     database.StoreInterface
	engine *permissions.Engine
}

func NewExportHandler(cfg *config.Config, db database.StoreInterface, engine *permissions.Engine) *ExportHandler {
	return &ExportHandler{config: cfg, db: db, engine: engine}
}

// GET /api/tables/{id}/export
func (h *ExportHandler) ExportCSV(w http.ResponseWriter, r *http.Request) {
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
	rows, err := h.db.ListRows(table.ID)
	if err != nil {
		utils.WriteInternalServerErrorResponse(w, err.Error())
		return
	}
	cells, err := h.db.ListCellsByTable(table.ID)
	if err != nil {
		utils.WriteInternalServerErrorResponse(w, err.Error())
		return
	}

	valueByRowColumn := make(map[string]map[string]models.CellValue, len(rows))
	for _, c := range cells {
		byColumn, ok := valueByRowColumn[c.RowID]
		if !ok {
			byColumn = make(map[string]models.CellValue, len(columns))
			valueByRowColumn[c.RowID] = byColumn
		}
		byColumn[c.ColumnID] = c.Value
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.csv"`, table.ID))

	writer := csv.NewWriter(w)
	header := make([]string, 0, len(columns))
	for _, c := range columns {
		header = append(header, c.Name)
	}
	if err := writer.Write(header); err != nil {
		fmt.Printf("[error] csv export header failed table=%s: %v\n", table.ID, err)
		return
	}

	record := make([]string, len(columns))
	for _, row := range rows {
		byColumn := valueByRowColumn[row.ID]
		for i, c := range columns {
			record[i] = byColumn[c.ID].String()
		}
		if err := writer.Write(record); err != nil {
			fmt.Printf("[error] csv export row failed table=%s row=%s: %v\n", table.ID, row.ID, err)
			return
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		fmt.Printf("[error] csv export flush failed table=%s: %v\n", table.ID, err)
	}
}
