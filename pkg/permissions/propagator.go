package permissions

import (
	"fmt"
	"time"

	"table-service-backend/pkg/database"
	"table-service-backend/pkg/models"
)

// Propagator derives the grant and cell fan-out that must accompany every
// structural write. Each On* method computes the full set and hands it to
// one atomic store call, so a crash can never leave a row without its
// cells or a grant expansion half-applied.
//
// Branch grants are expanded against the branch membership at write time.
// Users joining a branch later receive nothing retroactively.
type Propagator struct {
	store         database.StoreInterface
	adminBranchID string
}

// NewPropagator creates a propagator. adminBranchID may be empty, in which
// case no admin fan-out happens (useful in tests and single-branch setups).
func NewPropagator(store database.StoreInterface, adminBranchID string) *Propagator {
	return &Propagator{store: store, adminBranchID: adminBranchID}
}

// OnTableCreated grants the creator a view permission and fans a view grant
// out to every current member of the admin branch.
func (p *Propagator) OnTableCreated(table *models.Table, creatorID string) error {
	creatorGrant := []models.TablePermission{{TableID: table.ID, UserID: creatorID, CanView: true}}
	if err := p.store.UpsertTablePermissions(creatorGrant); err != nil {
		return fmt.Errorf("grant creator view on table %s: %w", table.ID, err)
	}

	if p.adminBranchID == "" {
		return nil
	}
	members, err := p.store.ListBranchMembers(p.adminBranchID)
	if err != nil {
		return fmt.Errorf("list admin branch members: %w", err)
	}
	template := models.TableFilialPermission{TableID: table.ID, BranchID: p.adminBranchID, CanView: true}
	expanded := make([]models.TablePermission, 0, len(members))
	for _, m := range members {
		if m.ID == creatorID {
			continue
		}
		expanded = append(expanded, models.TablePermission{TableID: table.ID, UserID: m.ID, CanView: true})
	}
	if err := p.store.GrantTableToBranch(template, expanded); err != nil {
		return fmt.Errorf("fan out admin view on table %s: %w", table.ID, err)
	}
	return nil
}

// OnRowCreated persists the row together with everything it implies:
//   - one default-valued cell per existing column,
//   - full edit/delete grants for the creator,
//   - when branchID is set, a branch grant template plus its expansion over
//     the branch's current members,
//   - edit/delete grants for every current admin branch member.
//
// The creator is skipped in both expansions; their own grant already covers
// them. All of it commits in a single store transaction.
func (p *Propagator) OnRowCreated(row *models.Row, columns []models.Column, creatorID, branchID string) error {
	now := time.Now()
	cells := make([]models.Cell, 0, len(columns))
	for _, col := range columns {
		cells = append(cells, models.Cell{
			ColumnID: col.ID,
			Value:    models.DefaultValue(col.DataType, now),
		})
	}

	granted := map[string]bool{creatorID: true}
	grants := []models.RowPermission{{UserID: creatorID, CanEdit: true, CanDelete: true}}

	var filial *models.RowFilialPermission
	if branchID != "" {
		filial = &models.RowFilialPermission{BranchID: branchID, CanEdit: true, CanDelete: true}
		members, err := p.store.ListBranchMembers(branchID)
		if err != nil {
			return fmt.Errorf("list branch %s members: %w", branchID, err)
		}
		for _, m := range members {
			if granted[m.ID] {
				continue
			}
			granted[m.ID] = true
			grants = append(grants, models.RowPermission{UserID: m.ID, CanEdit: true, CanDelete: true})
		}
	}

	if p.adminBranchID != "" && p.adminBranchID != branchID {
		members, err := p.store.ListBranchMembers(p.adminBranchID)
		if err != nil {
			return fmt.Errorf("list admin branch members: %w", err)
		}
		for _, m := range members {
			if granted[m.ID] {
				continue
			}
			granted[m.ID] = true
			grants = append(grants, models.RowPermission{UserID: m.ID, CanEdit: true, CanDelete: true})
		}
	}

	if err := p.store.CreateRowWithGrants(row, cells, grants, filial); err != nil {
		return fmt.Errorf("create row with grants: %w", err)
	}
	return nil
}

// OnColumnCreated persists the column and backfills one default-valued cell
// into every existing row of the table, atomically. Every row therefore
// always has a cell for every column.
func (p *Propagator) OnColumnCreated(column *models.Column) error {
	rows, err := p.store.ListRows(column.TableID)
	if err != nil {
		return fmt.Errorf("list rows of table %s: %w", column.TableID, err)
	}
	now := time.Now()
	cells := make([]models.Cell, 0, len(rows))
	for _, row := range rows {
		cells = append(cells, models.Cell{
			RowID: row.ID,
			Value: models.DefaultValue(column.DataType, now),
		})
	}
	if err := p.store.CreateColumnWithCells(column, cells); err != nil {
		return fmt.Errorf("create column with cells: %w", err)
	}
	return nil
}

// GrantTableToBranch expands a table view grant over the branch's current
// members and records the template alongside, atomically.
func (p *Propagator) GrantTableToBranch(tableID, branchID string) error {
	members, err := p.store.ListBranchMembers(branchID)
	if err != nil {
		return fmt.Errorf("list branch %s members: %w", branchID, err)
	}
	template := models.TableFilialPermission{TableID: tableID, BranchID: branchID, CanView: true}
	expanded := make([]models.TablePermission, 0, len(members))
	for _, m := range members {
		expanded = append(expanded, models.TablePermission{TableID: tableID, UserID: m.ID, CanView: true})
	}
	if err := p.store.GrantTableToBranch(template, expanded); err != nil {
		return fmt.Errorf("grant table %s to branch %s: %w", tableID, branchID, err)
	}
	return nil
}

// GrantRowsToBranch expands an edit/delete grant on the given rows over the
// branch's current members, recording one template per row.
func (p *Propagator) GrantRowsToBranch(rowIDs []string, branchID string, canEdit, canDelete bool) error {
	members, err := p.store.ListBranchMembers(branchID)
	if err != nil {
		return fmt.Errorf("list branch %s members: %w", branchID, err)
	}
	templates := make([]models.RowFilialPermission, 0, len(rowIDs))
	expanded := make([]models.RowPermission, 0, len(rowIDs)*len(members))
	for _, rowID := range rowIDs {
		templates = append(templates, models.RowFilialPermission{
			RowID: rowID, BranchID: branchID, CanEdit: canEdit, CanDelete: canDelete,
		})
		for _, m := range members {
			expanded = append(expanded, models.RowPermission{
				RowID: rowID, UserID: m.ID, CanEdit: canEdit, CanDelete: canDelete,
			})
		}
	}
	if err := p.store.GrantRowsToBranch(templates, expanded); err != nil {
		return fmt.Errorf("grant rows to branch %s: %w", branchID, err)
	}
	return nil
}
