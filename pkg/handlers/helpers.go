package handlers

import (
	"errors"
	"net/http"

	"table-service-backend/pkg/database"
	"table-service-backend/pkg/models"
	"table-service-backend/pkg/permissions"
	"table-service-backend/pkg/utils"
)

// writeStoreError maps an error to the HTTP taxonomy: missing records are
// 404, permission denials are 403, everything else is 500.
func writeStoreError(w http.ResponseWriter, err error, what string) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		utils.WriteNotFoundResponse(w, what+" not found")
	case errors.Is(err, permissions.ErrForbidden):
		utils.WriteForbiddenResponse(w, "No permission on this "+what)
	default:
		utils.WriteInternalServerErrorResponse(w, err.Error())
	}
}

// requireTableView loads the table and enforces visibility. Absent tables
// are 404; existing tables the user cannot see are 403, so callers learn
// the table exists only when they hold a grant.
func requireTableView(w http.ResponseWriter, db database.StoreInterface, engine *permissions.Engine, userID, tableID string) (*models.Table, bool) {
	table, err := db.GetTable(tableID)
	if err != nil {
		writeStoreError(w, err, "table")
		return nil, false
	}
	ok, err := engine.CanViewTable(userID, table)
	if err != nil {
		utils.WriteInternalServerErrorResponse(w, err.Error())
		return nil, false
	}
	if !ok {
		writeStoreError(w, permissions.ErrForbidden, "table")
		return nil, false
	}
	return table, true
}

// requireTableManage is requireTableView plus the management check (owner or
// service admin).
func requireTableManage(w http.ResponseWriter, db database.StoreInterface, engine *permissions.Engine, userID, tableID string) (*models.Table, bool) {
	table, ok := requireTableView(w, db, engine, userID, tableID)
	if !ok {
		return nil, false
	}
	manage, err := engine.CanManageTable(userID, table)
	if err != nil {
		utils.WriteInternalServerErrorResponse(w, err.Error())
		return nil, false
	}
	if !manage {
		utils.WriteForbiddenResponse(w, "Owner or service admin privileges required")
		return nil, false
	}
	return table, true
}

// requireRow resolves a row and its table with the visibility rules applied.
func requireRow(w http.ResponseWriter, db database.StoreInterface, engine *permissions.Engine, userID, rowID string) (*models.Table, *models.Row, bool) {
	row, err := db.GetRow(rowID)
	if err != nil {
		writeStoreError(w, err, "row")
		return nil, nil, false
	}
	table, ok := requireTableView(w, db, engine, userID, row.TableID)
	if !ok {
		return nil, nil, false
	}
	return table, row, true
}
