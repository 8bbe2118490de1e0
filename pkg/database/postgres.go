package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"table-service-backend/pkg/models"

	"github.com/lib/pq"
)

// PostgresStore implements StoreInterface on PostgreSQL via database/sql.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a Postgres connection pool and verifies it.
func NewPostgresStore(dsn string) StoreInterface {
	dsn = strings.TrimSpace(dsn)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		panic(fmt.Sprintf("failed to open PostgreSQL connection: %v", err))
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		panic(fmt.Sprintf("failed to ping PostgreSQL: %v", err))
	}

	return &PostgresStore{db: db}
}

// ================= Directory =================

// UpsertUser mirrors a directory principal into the users table.
func (s *PostgresStore) UpsertUser(user *models.User) error {
	query := `
		INSERT INTO users (id, email, name, branch_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			name = EXCLUDED.name,
			branch_id = EXCLUDED.branch_id,
			updated_at = NOW()
		RETURNING created_at, updated_at
	`
	err := s.db.QueryRow(query, user.ID, user.Email, user.Name, user.BranchID).
		Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(id string) (*models.User, error) {
	query := `
		SELECT id, email, COALESCE(name,''), branch_id, created_at, updated_at
		FROM users
		WHERE id = $1
	`
	var u models.User
	err := s.db.QueryRow(query, id).Scan(&u.ID, &u.Email, &u.Name, &u.BranchID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// ListBranchMembers resolves current branch membership. Called only at
// grant-expansion time, never during permission checks.
func (s *PostgresStore) ListBranchMembers(branchID string) ([]models.User, error) {
	query := `
		SELECT id, email, COALESCE(name,''), branch_id, created_at, updated_at
		FROM users
		WHERE branch_id = $1
		ORDER BY created_at ASC
	`
	rows, err := s.db.Query(query, branchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list branch members: %w", err)
	}
	defer rows.Close()
	var result []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.BranchID, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

func (s *PostgresStore) ListBranches() ([]models.Branch, error) {
	rows, err := s.db.Query(`SELECT id, name, COALESCE(short_name,'') FROM branches ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list branches: %w", err)
	}
	defer rows.Close()
	var result []models.Branch
	for rows.Next() {
		var b models.Branch
		if err := rows.Scan(&b.ID, &b.Name, &b.ShortName); err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

func (s *PostgresStore) IsServiceAdmin(userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM service_admins WHERE user_id = $1)`, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check service admin: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) ListServiceAdmins() ([]models.ServiceAdmin, error) {
	rows, err := s.db.Query(`SELECT user_id, created_at FROM service_admins ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list service admins: %w", err)
	}
	defer rows.Close()
	var result []models.ServiceAdmin
	for rows.Next() {
		var a models.ServiceAdmin
		if err := rows.Scan(&a.UserID, &a.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (s *PostgresStore) AddServiceAdmin(userID string) error {
	_, err := s.db.Exec(`
		INSERT INTO service_admins (user_id, created_at) VALUES ($1, NOW())
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	if err != nil {
		return fmt.Errorf("failed to add service admin: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveServiceAdmin(userID string) error {
	_, err := s.db.Exec(`DELETE FROM service_admins WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to remove service admin: %w", err)
	}
	return nil
}

// ================= Tables =================

func (s *PostgresStore) CreateTable(table *models.Table) error {
	query := `
		INSERT INTO tables (title, owner_id, share_token, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`
	err := s.db.QueryRow(query, table.Title, table.OwnerID, table.ShareToken).
		Scan(&table.ID, &table.CreatedAt, &table.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTable(id string) (*models.Table, error) {
	return s.getTableWhere(`id = $1`, id)
}

func (s *PostgresStore) GetTableByShareToken(token string) (*models.Table, error) {
	return s.getTableWhere(`share_token = $1`, token)
}

func (s *PostgresStore) getTableWhere(cond string, arg interface{}) (*models.Table, error) {
	query := `SELECT id, title, owner_id, share_token, created_at, updated_at FROM tables WHERE ` + cond
	var t models.Table
	err := s.db.QueryRow(query, arg).Scan(&t.ID, &t.Title, &t.OwnerID, &t.ShareToken, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("table: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get table: %w", err)
	}
	return &t, nil
}

func (s *PostgresStore) ListTablesByOwner(userID string) ([]models.Table, error) {
	query := `
		SELECT id, title, owner_id, share_token, created_at, updated_at
		FROM tables
		WHERE owner_id = $1
		ORDER BY created_at DESC
	`
	return s.queryTables(query, userID)
}

func (s *PostgresStore) ListViewableTables(userID string) ([]models.Table, error) {
	query := `
		SELECT DISTINCT t.id, t.title, t.owner_id, t.share_token, t.created_at, t.updated_at
		FROM tables t
		JOIN table_permissions p ON p.table_id = t.id
		WHERE p.user_id = $1 AND p.can_view = true AND t.owner_id <> $1
		ORDER BY t.created_at DESC
	`
	return s.queryTables(query, userID)
}

func (s *PostgresStore) queryTables(query string, args ...interface{}) ([]models.Table, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()
	var result []models.Table
	for rows.Next() {
		var t models.Table
		if err := rows.Scan(&t.ID, &t.Title, &t.OwnerID, &t.ShareToken, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// DeleteTable removes the table; columns, rows, cells, permissions and locks
// follow via ON DELETE CASCADE.
func (s *PostgresStore) DeleteTable(id string) error {
	result, err := s.db.Exec(`DELETE FROM tables WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete table: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("table: %w", ErrNotFound)
	}
	return nil
}

// ================= Columns =================

func (s *PostgresStore) GetColumn(id string) (*models.Column, error) {
	query := `SELECT id, table_id, name, display_order, data_type, required FROM columns WHERE id = $1`
	var c models.Column
	err := s.db.QueryRow(query, id).Scan(&c.ID, &c.TableID, &c.Name, &c.DisplayOrder, &c.DataType, &c.Required)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("column: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get column: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) ListColumns(tableID string) ([]models.Column, error) {
	query := `
		SELECT id, table_id, name, display_order, data_type, required
		FROM columns
		WHERE table_id = $1
		ORDER BY display_order ASC, id ASC
	`
	rows, err := s.db.Query(query, tableID)
	if err != nil {
		return nil, fmt.Errorf("failed to list columns: %w", err)
	}
	defer rows.Close()
	var result []models.Column
	for rows.Next() {
		var c models.Column
		if err := rows.Scan(&c.ID, &c.TableID, &c.Name, &c.DisplayOrder, &c.DataType, &c.Required); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// CreateColumnWithCells inserts the column and backfills one cell per
// existing row inside a single transaction, keeping the cells-per-row
// invariant intact at every commit point.
func (s *PostgresStore) CreateColumnWithCells(column *models.Column, cells []models.Cell) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	query := `
		INSERT INTO columns (table_id, name, display_order, data_type, required)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	if err := tx.QueryRow(query, column.TableID, column.Name, column.DisplayOrder, column.DataType, column.Required).
		Scan(&column.ID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to create column: %w", err)
	}
	for i := range cells {
		cells[i].ColumnID = column.ID
		if err := insertCellTx(tx, &cells[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to backfill cell: %w", err)
		}
	}
	return tx.Commit()
}

// DeleteColumn removes the column; its cells across all rows cascade.
func (s *PostgresStore) DeleteColumn(id string) error {
	result, err := s.db.Exec(`DELETE FROM columns WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete column: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("column: %w", ErrNotFound)
	}
	return nil
}

// ================= Rows & cells =================

func (s *PostgresStore) GetRow(id string) (*models.Row, error) {
	query := `SELECT id, table_id, display_order, created_by FROM rows WHERE id = $1`
	var r models.Row
	err := s.db.QueryRow(query, id).Scan(&r.ID, &r.TableID, &r.DisplayOrder, &r.CreatedBy)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("row: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get row: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) ListRows(tableID string) ([]models.Row, error) {
	query := `
		SELECT id, table_id, display_order, created_by
		FROM rows
		WHERE table_id = $1
		ORDER BY display_order ASC, id ASC
	`
	rows, err := s.db.Query(query, tableID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rows: %w", err)
	}
	defer rows.Close()
	var result []models.Row
	for rows.Next() {
		var r models.Row
		if err := rows.Scan(&r.ID, &r.TableID, &r.DisplayOrder, &r.CreatedBy); err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// CreateRowWithGrants persists the row, its initial cells and the derived
// grant set in one transaction. A failure at any point rolls the whole
// creation back; no row ever becomes visible with missing cells or grants.
func (s *PostgresStore) CreateRowWithGrants(row *models.Row, cells []models.Cell, grants []models.RowPermission, filial *models.RowFilialPermission) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	query := `
		INSERT INTO rows (table_id, display_order, created_by)
		VALUES ($1, $2, $3)
		RETURNING id
	`
	if err := tx.QueryRow(query, row.TableID, row.DisplayOrder, row.CreatedBy).Scan(&row.ID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to create row: %w", err)
	}
	for i := range cells {
		cells[i].RowID = row.ID
		if err := insertCellTx(tx, &cells[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to create cell: %w", err)
		}
	}
	for i := range grants {
		grants[i].RowID = row.ID
		if err := upsertRowPermissionTx(tx, grants[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to write row grant: %w", err)
		}
	}
	if filial != nil {
		filial.RowID = row.ID
		if err := upsertRowFilialPermissionTx(tx, *filial); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to write branch grant template: %w", err)
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) DeleteRow(id string) error {
	result, err := s.db.Exec(`DELETE FROM rows WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete row: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("row: %w", ErrNotFound)
	}
	return nil
}

const cellSelect = `
	SELECT c.id, c.row_id, c.column_id, col.data_type,
	       c.text_value, c.integer_value, c.float_value, c.boolean_value, c.date_value
	FROM cells c
	JOIN columns col ON col.id = c.column_id
`

func (s *PostgresStore) ListCellsByRow(rowID string) ([]models.Cell, error) {
	return s.queryCells(cellSelect+` WHERE c.row_id = $1`, rowID)
}

func (s *PostgresStore) ListCellsByTable(tableID string) ([]models.Cell, error) {
	return s.queryCells(cellSelect+` JOIN rows r ON r.id = c.row_id WHERE r.table_id = $1`, tableID)
}

func (s *PostgresStore) queryCells(query string, args ...interface{}) ([]models.Cell, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list cells: %w", err)
	}
	defer rows.Close()
	var result []models.Cell
	for rows.Next() {
		cell, err := scanCell(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, cell)
	}
	return result, rows.Err()
}

// scanCell reads the five nullable slots and folds them into the tagged
// union according to the column's data type.
func scanCell(rows *sql.Rows) (models.Cell, error) {
	var (
		cell     models.Cell
		dataType models.DataType
		text     sql.NullString
		integer  sql.NullInt64
		float    sql.NullFloat64
		boolean  sql.NullBool
		date     sql.NullTime
	)
	if err := rows.Scan(&cell.ID, &cell.RowID, &cell.ColumnID, &dataType,
		&text, &integer, &float, &boolean, &date); err != nil {
		return models.Cell{}, fmt.Errorf("failed to scan cell: %w", err)
	}
	switch dataType {
	case models.TypeInteger:
		cell.Value = models.IntegerValue(integer.Int64)
	case models.TypeFloat:
		cell.Value = models.FloatValue(float.Float64)
	case models.TypeBoolean:
		cell.Value = models.BooleanValue(boolean.Bool)
	case models.TypeDate:
		cell.Value = models.DateValue(date.Time)
	default:
		cell.Value = models.TextValue(text.String)
	}
	return cell, nil
}

// cellSlots spreads the tagged union back over the five nullable columns.
func cellSlots(v models.CellValue) (text, integer, float, boolean, date interface{}) {
	switch v.Type {
	case models.TypeInteger:
		integer = v.Integer
	case models.TypeFloat:
		float = v.Float
	case models.TypeBoolean:
		boolean = v.Boolean
	case models.TypeDate:
		date = v.Date
	default:
		text = v.Text
	}
	return
}

func insertCellTx(tx *sql.Tx, cell *models.Cell) error {
	text, integer, float, boolean, date := cellSlots(cell.Value)
	query := `
		INSERT INTO cells (row_id, column_id, text_value, integer_value, float_value, boolean_value, date_value)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	return tx.QueryRow(query, cell.RowID, cell.ColumnID, text, integer, float, boolean, date).Scan(&cell.ID)
}

// UpdateCells overwrites the given cells of one row in a single transaction
// (update-or-create keyed by the unique (row, column) pair).
func (s *PostgresStore) UpdateCells(rowID string, values map[string]models.CellValue) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	query := `
		INSERT INTO cells (row_id, column_id, text_value, integer_value, float_value, boolean_value, date_value)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (row_id, column_id) DO UPDATE SET
			text_value = EXCLUDED.text_value,
			integer_value = EXCLUDED.integer_value,
			float_value = EXCLUDED.float_value,
			boolean_value = EXCLUDED.boolean_value,
			date_value = EXCLUDED.date_value
	`
	for columnID, value := range values {
		text, integer, float, boolean, date := cellSlots(value)
		if _, err := tx.Exec(query, rowID, columnID, text, integer, float, boolean, date); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update cell: %w", err)
		}
	}
	return tx.Commit()
}

// ================= Table permissions =================

func (s *PostgresStore) GetTablePermission(tableID, userID string) (*models.TablePermission, error) {
	query := `SELECT table_id, user_id, can_view FROM table_permissions WHERE table_id = $1 AND user_id = $2`
	var p models.TablePermission
	err := s.db.QueryRow(query, tableID, userID).Scan(&p.TableID, &p.UserID, &p.CanView)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("table permission: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get table permission: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) ListTablePermissions(tableID string) ([]models.TablePermission, error) {
	rows, err := s.db.Query(`SELECT table_id, user_id, can_view FROM table_permissions WHERE table_id = $1`, tableID)
	if err != nil {
		return nil, fmt.Errorf("failed to list table permissions: %w", err)
	}
	defer rows.Close()
	var result []models.TablePermission
	for rows.Next() {
		var p models.TablePermission
		if err := rows.Scan(&p.TableID, &p.UserID, &p.CanView); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

const upsertTablePermissionSQL = `
	INSERT INTO table_permissions (table_id, user_id, can_view)
	VALUES ($1, $2, $3)
	ON CONFLICT (table_id, user_id) DO UPDATE SET can_view = EXCLUDED.can_view
`

func (s *PostgresStore) UpsertTablePermissions(perms []models.TablePermission) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	for _, p := range perms {
		if _, err := tx.Exec(upsertTablePermissionSQL, p.TableID, p.UserID, p.CanView); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to upsert table permission: %w", err)
		}
	}
	return tx.Commit()
}

// GrantTableToBranch persists the branch template and its expansion as one
// transaction: either every current member gets the grant or nobody does.
func (s *PostgresStore) GrantTableToBranch(template models.TableFilialPermission, expanded []models.TablePermission) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	_, err = tx.Exec(`
		INSERT INTO table_filial_permissions (table_id, branch_id, can_view)
		VALUES ($1, $2, $3)
		ON CONFLICT (table_id, branch_id) DO UPDATE SET can_view = EXCLUDED.can_view
	`, template.TableID, template.BranchID, template.CanView)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to write branch view template: %w", err)
	}
	for _, p := range expanded {
		if _, err := tx.Exec(upsertTablePermissionSQL, p.TableID, p.UserID, p.CanView); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to expand branch view grant: %w", err)
		}
	}
	return tx.Commit()
}

// ================= Row permissions =================

func (s *PostgresStore) GetRowPermission(rowID, userID string) (*models.RowPermission, error) {
	query := `SELECT row_id, user_id, can_edit, can_delete FROM row_permissions WHERE row_id = $1 AND user_id = $2`
	var p models.RowPermission
	err := s.db.QueryRow(query, rowID, userID).Scan(&p.RowID, &p.UserID, &p.CanEdit, &p.CanDelete)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("row permission: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get row permission: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) ListRowPermissions(rowID string) ([]models.RowPermission, error) {
	return s.queryRowPermissions(`SELECT row_id, user_id, can_edit, can_delete FROM row_permissions WHERE row_id = $1`, rowID)
}

func (s *PostgresStore) ListRowPermissionsForUser(tableID, userID string) ([]models.RowPermission, error) {
	query := `
		SELECT p.row_id, p.user_id, p.can_edit, p.can_delete
		FROM row_permissions p
		JOIN rows r ON r.id = p.row_id
		WHERE r.table_id = $1 AND p.user_id = $2
	`
	return s.queryRowPermissions(query, tableID, userID)
}

func (s *PostgresStore) queryRowPermissions(query string, args ...interface{}) ([]models.RowPermission, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list row permissions: %w", err)
	}
	defer rows.Close()
	var result []models.RowPermission
	for rows.Next() {
		var p models.RowPermission
		if err := rows.Scan(&p.RowID, &p.UserID, &p.CanEdit, &p.CanDelete); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

const upsertRowPermissionSQL = `
	INSERT INTO row_permissions (row_id, user_id, can_edit, can_delete)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (row_id, user_id) DO UPDATE SET
		can_edit = EXCLUDED.can_edit,
		can_delete = EXCLUDED.can_delete
`

func upsertRowPermissionTx(tx *sql.Tx, p models.RowPermission) error {
	_, err := tx.Exec(upsertRowPermissionSQL, p.RowID, p.UserID, p.CanEdit, p.CanDelete)
	return err
}

func upsertRowFilialPermissionTx(tx *sql.Tx, p models.RowFilialPermission) error {
	_, err := tx.Exec(`
		INSERT INTO row_filial_permissions (row_id, branch_id, can_edit, can_delete)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (row_id, branch_id) DO UPDATE SET
			can_edit = EXCLUDED.can_edit,
			can_delete = EXCLUDED.can_delete
	`, p.RowID, p.BranchID, p.CanEdit, p.CanDelete)
	return err
}

func (s *PostgresStore) UpsertRowPermissions(perms []models.RowPermission) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	for _, p := range perms {
		if err := upsertRowPermissionTx(tx, p); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to upsert row permission: %w", err)
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) GrantRowsToBranch(templates []models.RowFilialPermission, expanded []models.RowPermission) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	for _, t := range templates {
		if err := upsertRowFilialPermissionTx(tx, t); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to write branch row template: %w", err)
		}
	}
	for _, p := range expanded {
		if err := upsertRowPermissionTx(tx, p); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to expand branch row grant: %w", err)
		}
	}
	return tx.Commit()
}

// RevokeRedactRows freezes a branch's edit/delete rights on a table: the
// branch templates and every current member's individual grants get their
// flags zeroed in one transaction. Records are kept so grant history and
// grants outside the branch survive.
func (s *PostgresStore) RevokeRedactRows(tableID, branchID string, memberIDs []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	_, err = tx.Exec(`
		UPDATE row_filial_permissions f
		SET can_edit = false, can_delete = false
		FROM rows r
		WHERE f.row_id = r.id AND r.table_id = $1 AND f.branch_id = $2
	`, tableID, branchID)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to freeze branch templates: %w", err)
	}
	if len(memberIDs) > 0 {
		_, err = tx.Exec(`
			UPDATE row_permissions p
			SET can_edit = false, can_delete = false
			FROM rows r
			WHERE p.row_id = r.id AND r.table_id = $1 AND p.user_id = ANY($2)
		`, tableID, pq.Array(memberIDs))
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to freeze member grants: %w", err)
		}
	}
	return tx.Commit()
}

// ================= Row locks =================

// AcquireRowLock is the atomic check-and-set of the lock protocol: the
// primary key on row_id makes concurrent inserts collapse into one winner,
// and the follow-up read inside the same transaction reports whoever holds
// the lock now.
func (s *PostgresStore) AcquireRowLock(rowID, userID string) (*models.RowLock, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(`
		INSERT INTO row_locks (row_id, user_id, locked_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (row_id) DO NOTHING
	`, rowID, userID)
	if err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("failed to acquire row lock: %w", err)
	}
	var lock models.RowLock
	err = tx.QueryRow(`SELECT row_id, user_id, locked_at FROM row_locks WHERE row_id = $1`, rowID).
		Scan(&lock.RowID, &lock.UserID, &lock.LockedAt)
	if err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("failed to read row lock: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &lock, nil
}

func (s *PostgresStore) GetRowLock(rowID string) (*models.RowLock, error) {
	var lock models.RowLock
	err := s.db.QueryRow(`SELECT row_id, user_id, locked_at FROM row_locks WHERE row_id = $1`, rowID).
		Scan(&lock.RowID, &lock.UserID, &lock.LockedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("row lock: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get row lock: %w", err)
	}
	return &lock, nil
}

// ReleaseRowLock deletes the lock only when held by userID. The holder check
// lives in the WHERE clause, so a stale release never frees someone else's
// session.
func (s *PostgresStore) ReleaseRowLock(rowID, userID string) (bool, error) {
	result, err := s.db.Exec(`DELETE FROM row_locks WHERE row_id = $1 AND user_id = $2`, rowID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to release row lock: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PostgresStore) DeleteExpiredLocks(before time.Time) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM row_locks WHERE locked_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired locks: %w", err)
	}
	return result.RowsAffected()
}

// ================= Lifecycle =================

func (s *PostgresStore) HealthCheck() error {
	return s.db.Ping()
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
