package permissions

import (
	"errors"
	"fmt"

	"table-service-backend/pkg/database"
	"table-service-backend/pkg/models"
)

// Engine answers every authorization question of the service. All checks
// read materialized individual grants only; branch grant templates are
// expanded at write time and never joined against here.
//
// Check order is always: table owner, then service admin, then direct grant.
type Engine struct {
	store database.StoreInterface
}

// NewEngine creates a permission engine over the given store.
func NewEngine(store database.StoreInterface) *Engine {
	return &Engine{store: store}
}

// CanViewTable reports whether the user may see the table and its contents.
func (e *Engine) CanViewTable(userID string, table *models.Table) (bool, error) {
	if table.OwnerID == userID {
		return true, nil
	}
	admin, err := e.store.IsServiceAdmin(userID)
	if err != nil {
		return false, fmt.Errorf("check service admin: %w", err)
	}
	if admin {
		return true, nil
	}
	perm, err := e.store.GetTablePermission(table.ID, userID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("get table permission: %w", err)
	}
	return perm.CanView, nil
}

// CanEditRow reports whether the user may modify the row's cells.
func (e *Engine) CanEditRow(userID string, table *models.Table, row *models.Row) (bool, error) {
	return e.rowFlag(userID, table, row, func(p *models.RowPermission) bool { return p.CanEdit })
}

// CanDeleteRow reports whether the user may delete the row.
func (e *Engine) CanDeleteRow(userID string, table *models.Table, row *models.Row) (bool, error) {
	return e.rowFlag(userID, table, row, func(p *models.RowPermission) bool { return p.CanDelete })
}

func (e *Engine) rowFlag(userID string, table *models.Table, row *models.Row, flag func(*models.RowPermission) bool) (bool, error) {
	if table.OwnerID == userID {
		return true, nil
	}
	admin, err := e.store.IsServiceAdmin(userID)
	if err != nil {
		return false, fmt.Errorf("check service admin: %w", err)
	}
	if admin {
		return true, nil
	}
	perm, err := e.store.GetRowPermission(row.ID, userID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("get row permission: %w", err)
	}
	return flag(perm), nil
}

// CanManageRow reports whether the user may change who is granted what on
// the row. Only the table owner and service admins qualify; edit grants do
// not confer management.
func (e *Engine) CanManageRow(userID string, table *models.Table) (bool, error) {
	if table.OwnerID == userID {
		return true, nil
	}
	admin, err := e.store.IsServiceAdmin(userID)
	if err != nil {
		return false, fmt.Errorf("check service admin: %w", err)
	}
	return admin, nil
}

// CanManageTable is the table-level management check: sharing, column
// changes, revocation and deletion all require it.
func (e *Engine) CanManageTable(userID string, table *models.Table) (bool, error) {
	return e.CanManageRow(userID, table)
}

// RevokeRedactRows freezes a branch's access to a table: every branch grant
// template on the table's rows and every individual grant held by a current
// branch member has its edit/delete flags zeroed. Records stay in place so
// the grant history remains visible; only the flags change.
func (e *Engine) RevokeRedactRows(tableID, branchID string) error {
	members, err := e.store.ListBranchMembers(branchID)
	if err != nil {
		return fmt.Errorf("list branch members: %w", err)
	}
	memberIDs := make([]string, 0, len(members))
	for _, m := range members {
		memberIDs = append(memberIDs, m.ID)
	}
	if err := e.store.RevokeRedactRows(tableID, branchID, memberIDs); err != nil {
		return fmt.Errorf("revoke branch %s on table %s: %w", branchID, tableID, err)
	}
	return nil
}
