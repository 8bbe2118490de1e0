package database

import (
	"errors"
	"fmt"
	"time"

	"table-service-backend/pkg/models"
)

// ErrNotFound is returned (wrapped) by lookups for genuinely absent records.
// Handlers must keep it distinct from authorization denials.
var ErrNotFound = errors.New("not found")

// StoreInterface defines the persistence contract of the table service.
//
// Methods that touch more than one permission or cell row are atomic: either
// the whole grant set / cell set is persisted, or none of it. Implementations
// must not expose partially-applied expansions.
type StoreInterface interface {
	// Directory (read-mostly mirror of the external identity source)
	UpsertUser(user *models.User) error
	GetUserByID(id string) (*models.User, error)
	ListBranchMembers(branchID string) ([]models.User, error)
	ListBranches() ([]models.Branch, error)
	IsServiceAdmin(userID string) (bool, error)
	ListServiceAdmins() ([]models.ServiceAdmin, error)
	AddServiceAdmin(userID string) error
	RemoveServiceAdmin(userID string) error

	// Tables
	CreateTable(table *models.Table) error
	GetTable(id string) (*models.Table, error)
	GetTableByShareToken(token string) (*models.Table, error)
	ListTablesByOwner(userID string) ([]models.Table, error)
	// ListViewableTables returns tables the user can see through a direct
	// view grant (owned tables are not repeated here).
	ListViewableTables(userID string) ([]models.Table, error)
	DeleteTable(id string) error

	// Columns
	GetColumn(id string) (*models.Column, error)
	ListColumns(tableID string) ([]models.Column, error)
	// CreateColumnWithCells persists the column and its backfill cells
	// (one per existing row) in a single transaction.
	CreateColumnWithCells(column *models.Column, cells []models.Cell) error
	DeleteColumn(id string) error

	// Rows & cells
	GetRow(id string) (*models.Row, error)
	ListRows(tableID string) ([]models.Row, error)
	// CreateRowWithGrants persists the row, its initial cells (one per
	// existing column), the derived individual grants and the optional
	// branch grant template in a single transaction.
	CreateRowWithGrants(row *models.Row, cells []models.Cell, grants []models.RowPermission, filial *models.RowFilialPermission) error
	DeleteRow(id string) error
	ListCellsByRow(rowID string) ([]models.Cell, error)
	ListCellsByTable(tableID string) ([]models.Cell, error)
	// UpdateCells overwrites the given cells of one row atomically
	// (update-or-create per column).
	UpdateCells(rowID string, values map[string]models.CellValue) error

	// Table permissions
	GetTablePermission(tableID, userID string) (*models.TablePermission, error)
	ListTablePermissions(tableID string) ([]models.TablePermission, error)
	UpsertTablePermissions(perms []models.TablePermission) error
	// GrantTableToBranch writes the branch template and its per-member
	// expansion in a single transaction.
	GrantTableToBranch(template models.TableFilialPermission, expanded []models.TablePermission) error

	// Row permissions
	GetRowPermission(rowID, userID string) (*models.RowPermission, error)
	ListRowPermissions(rowID string) ([]models.RowPermission, error)
	ListRowPermissionsForUser(tableID, userID string) ([]models.RowPermission, error)
	UpsertRowPermissions(perms []models.RowPermission) error
	// GrantRowsToBranch writes branch templates and their per-member
	// expansions in a single transaction.
	GrantRowsToBranch(templates []models.RowFilialPermission, expanded []models.RowPermission) error
	// RevokeRedactRows freezes (zeroes the flags of) every row filial
	// permission of the branch on the table and every individual row
	// permission held by the given members on the table's rows, atomically.
	// Grant records are kept; only the flags change.
	RevokeRedactRows(tableID, branchID string, memberIDs []string) error

	// Row locks
	// AcquireRowLock is an atomic get-or-create keyed by row id: it returns
	// the lock now recorded for the row, whether it was just created or
	// already held (by anyone).
	AcquireRowLock(rowID, userID string) (*models.RowLock, error)
	GetRowLock(rowID string) (*models.RowLock, error)
	// ReleaseRowLock deletes the lock only if held by userID; returns false
	// when the lock is absent or held by someone else.
	ReleaseRowLock(rowID, userID string) (bool, error)
	// DeleteExpiredLocks removes every lock acquired before the cutoff,
	// regardless of holder, and reports how many were reaped.
	DeleteExpiredLocks(before time.Time) (int64, error)

	HealthCheck() error
	Close() error
}

// DatabaseConfig selects and parameterizes the store implementation.
type DatabaseConfig struct {
	PostgresDSN string
	UseMemory   bool
	Debug       bool
}

// NewDatabase picks the store implementation from the configuration:
// Postgres when a DSN is set, the in-memory store otherwise (development
// and tests).
func NewDatabase(config DatabaseConfig) StoreInterface {
	if config.PostgresDSN != "" && !config.UseMemory {
		fmt.Printf("[info] using PostgreSQL store\n")
		return NewPostgresStore(config.PostgresDSN)
	}
	fmt.Printf("[info] using in-memory store (non-persistent)\n")
	return NewMemoryStore()
}
