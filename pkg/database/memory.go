package database

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"table-service-backend/pkg/models"

	"github.com/google/uuid"
)

// MemoryStore is the non-persistent StoreInterface implementation used by
// tests and local development. One mutex guards all maps, which trivially
// gives every multi-row operation the same all-or-nothing semantics the
// Postgres store gets from transactions.
type MemoryStore struct {
	mu sync.Mutex

	users    map[string]models.User
	branches map[string]models.Branch
	admins   map[string]models.ServiceAdmin

	tables  map[string]models.Table
	columns map[string]models.Column
	rows    map[string]models.Row
	cells   map[string]models.Cell // keyed by cell id

	tablePerms      map[string]models.TablePermission       // key: tableID|userID
	tableFilial     map[string]models.TableFilialPermission // key: tableID|branchID
	rowPerms        map[string]models.RowPermission         // key: rowID|userID
	rowFilialPerms  map[string]models.RowFilialPermission   // key: rowID|branchID
	locks           map[string]models.RowLock               // key: rowID
	insertionCounts map[string]int                          // stable ordering for lists
	nextOrdinal     int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:           make(map[string]models.User),
		branches:        make(map[string]models.Branch),
		admins:          make(map[string]models.ServiceAdmin),
		tables:          make(map[string]models.Table),
		columns:         make(map[string]models.Column),
		rows:            make(map[string]models.Row),
		cells:           make(map[string]models.Cell),
		tablePerms:      make(map[string]models.TablePermission),
		tableFilial:     make(map[string]models.TableFilialPermission),
		rowPerms:        make(map[string]models.RowPermission),
		rowFilialPerms:  make(map[string]models.RowFilialPermission),
		locks:           make(map[string]models.RowLock),
		insertionCounts: make(map[string]int),
	}
}

func pairKey(a, b string) string { return a + "|" + b }

func (s *MemoryStore) ordinal(id string) int {
	if n, ok := s.insertionCounts[id]; ok {
		return n
	}
	s.nextOrdinal++
	s.insertionCounts[id] = s.nextOrdinal
	return s.nextOrdinal
}

// ================= Directory =================

func (s *MemoryStore) UpsertUser(user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if existing, ok := s.users[user.ID]; ok {
		user.CreatedAt = existing.CreatedAt
	} else {
		user.CreatedAt = time.Now()
	}
	user.UpdatedAt = time.Now()
	s.users[user.ID] = *user
	s.ordinal(user.ID)
	return nil
}

// AddBranch seeds a branch; the directory owns branches in production, the
// memory store needs a way to define them for tests.
func (s *MemoryStore) AddBranch(branch models.Branch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.branches[branch.ID] = branch
	s.ordinal(branch.ID)
}

func (s *MemoryStore) GetUserByID(id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return &u, nil
}

func (s *MemoryStore) ListBranchMembers(branchID string) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []models.User
	for _, u := range s.users {
		if u.BranchID != nil && *u.BranchID == branchID {
			result = append(result, u)
		}
	}
	s.sortByOrdinal(len(result), func(i int) string { return result[i].ID }, func(i, j int) {
		result[i], result[j] = result[j], result[i]
	})
	return result, nil
}

func (s *MemoryStore) ListBranches() ([]models.Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []models.Branch
	for _, b := range s.branches {
		result = append(result, b)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (s *MemoryStore) IsServiceAdmin(userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.admins[userID]
	return ok, nil
}

func (s *MemoryStore) ListServiceAdmins() ([]models.ServiceAdmin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []models.ServiceAdmin
	for _, a := range s.admins {
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *MemoryStore) AddServiceAdmin(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.admins[userID]; !ok {
		s.admins[userID] = models.ServiceAdmin{UserID: userID, CreatedAt: time.Now()}
	}
	return nil
}

func (s *MemoryStore) RemoveServiceAdmin(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.admins, userID)
	return nil
}

// ================= Tables =================

func (s *MemoryStore) CreateTable(table *models.Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if table.ID == "" {
		table.ID = uuid.New().String()
	}
	table.CreatedAt = time.Now()
	table.UpdatedAt = table.CreatedAt
	s.tables[table.ID] = *table
	s.ordinal(table.ID)
	return nil
}

func (s *MemoryStore) GetTable(id string) (*models.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[id]
	if !ok {
		return nil, fmt.Errorf("table: %w", ErrNotFound)
	}
	return &t, nil
}

func (s *MemoryStore) GetTableByShareToken(token string) (*models.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tables {
		if t.ShareToken == token {
			t := t
			return &t, nil
		}
	}
	return nil, fmt.Errorf("table: %w", ErrNotFound)
}

func (s *MemoryStore) ListTablesByOwner(userID string) ([]models.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []models.Table
	for _, t := range s.tables {
		if t.OwnerID == userID {
			result = append(result, t)
		}
	}
	s.sortByOrdinal(len(result), func(i int) string { return result[i].ID }, func(i, j int) {
		result[i], result[j] = result[j], result[i]
	})
	return result, nil
}

func (s *MemoryStore) ListViewableTables(userID string) ([]models.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []models.Table
	for _, t := range s.tables {
		if t.OwnerID == userID {
			continue
		}
		if p, ok := s.tablePerms[pairKey(t.ID, userID)]; ok && p.CanView {
			result = append(result, t)
		}
	}
	s.sortByOrdinal(len(result), func(i int) string { return result[i].ID }, func(i, j int) {
		result[i], result[j] = result[j], result[i]
	})
	return result, nil
}

func (s *MemoryStore) DeleteTable(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[id]; !ok {
		return fmt.Errorf("table: %w", ErrNotFound)
	}
	delete(s.tables, id)
	for cid, c := range s.columns {
		if c.TableID == id {
			delete(s.columns, cid)
		}
	}
	for rid, r := range s.rows {
		if r.TableID == id {
			s.deleteRowLocked(rid)
		}
	}
	for key, p := range s.tablePerms {
		if p.TableID == id {
			delete(s.tablePerms, key)
		}
	}
	for key, p := range s.tableFilial {
		if p.TableID == id {
			delete(s.tableFilial, key)
		}
	}
	return nil
}

// ================= Columns =================

func (s *MemoryStore) GetColumn(id string) (*models.Column, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.columns[id]
	if !ok {
		return nil, fmt.Errorf("column: %w", ErrNotFound)
	}
	return &c, nil
}

func (s *MemoryStore) ListColumns(tableID string) ([]models.Column, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []models.Column
	for _, c := range s.columns {
		if c.TableID == tableID {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].DisplayOrder != result[j].DisplayOrder {
			return result[i].DisplayOrder < result[j].DisplayOrder
		}
		return s.insertionCounts[result[i].ID] < s.insertionCounts[result[j].ID]
	})
	return result, nil
}

func (s *MemoryStore) CreateColumnWithCells(column *models.Column, cells []models.Cell) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if column.ID == "" {
		column.ID = uuid.New().String()
	}
	s.columns[column.ID] = *column
	s.ordinal(column.ID)
	for i := range cells {
		cells[i].ColumnID = column.ID
		if cells[i].ID == "" {
			cells[i].ID = uuid.New().String()
		}
		s.cells[cells[i].ID] = cells[i]
	}
	return nil
}

func (s *MemoryStore) DeleteColumn(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.columns[id]; !ok {
		return fmt.Errorf("column: %w", ErrNotFound)
	}
	delete(s.columns, id)
	for cid, c := range s.cells {
		if c.ColumnID == id {
			delete(s.cells, cid)
		}
	}
	return nil
}

// ================= Rows & cells =================

func (s *MemoryStore) GetRow(id string) (*models.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return nil, fmt.Errorf("row: %w", ErrNotFound)
	}
	return &r, nil
}

func (s *MemoryStore) ListRows(tableID string) ([]models.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []models.Row
	for _, r := range s.rows {
		if r.TableID == tableID {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].DisplayOrder != result[j].DisplayOrder {
			return result[i].DisplayOrder < result[j].DisplayOrder
		}
		return s.insertionCounts[result[i].ID] < s.insertionCounts[result[j].ID]
	})
	return result, nil
}

func (s *MemoryStore) CreateRowWithGrants(row *models.Row, cells []models.Cell, grants []models.RowPermission, filial *models.RowFilialPermission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row.ID == "" {
		row.ID = uuid.New().String()
	}
	s.rows[row.ID] = *row
	s.ordinal(row.ID)
	for i := range cells {
		cells[i].RowID = row.ID
		if cells[i].ID == "" {
			cells[i].ID = uuid.New().String()
		}
		s.cells[cells[i].ID] = cells[i]
	}
	for i := range grants {
		grants[i].RowID = row.ID
		s.rowPerms[pairKey(row.ID, grants[i].UserID)] = grants[i]
	}
	if filial != nil {
		filial.RowID = row.ID
		s.rowFilialPerms[pairKey(row.ID, filial.BranchID)] = *filial
	}
	return nil
}

func (s *MemoryStore) DeleteRow(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[id]; !ok {
		return fmt.Errorf("row: %w", ErrNotFound)
	}
	s.deleteRowLocked(id)
	return nil
}

// deleteRowLocked cascades to cells, permissions and the lock. Caller holds mu.
func (s *MemoryStore) deleteRowLocked(id string) {
	delete(s.rows, id)
	for cid, c := range s.cells {
		if c.RowID == id {
			delete(s.cells, cid)
		}
	}
	for key, p := range s.rowPerms {
		if p.RowID == id {
			delete(s.rowPerms, key)
		}
	}
	for key, p := range s.rowFilialPerms {
		if p.RowID == id {
			delete(s.rowFilialPerms, key)
		}
	}
	delete(s.locks, id)
}

func (s *MemoryStore) ListCellsByRow(rowID string) ([]models.Cell, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []models.Cell
	for _, c := range s.cells {
		if c.RowID == rowID {
			result = append(result, c)
		}
	}
	s.sortByOrdinal(len(result), func(i int) string { return result[i].ID }, func(i, j int) {
		result[i], result[j] = result[j], result[i]
	})
	return result, nil
}

func (s *MemoryStore) ListCellsByTable(tableID string) ([]models.Cell, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rowIDs := make(map[string]bool)
	for _, r := range s.rows {
		if r.TableID == tableID {
			rowIDs[r.ID] = true
		}
	}
	var result []models.Cell
	for _, c := range s.cells {
		if rowIDs[c.RowID] {
			result = append(result, c)
		}
	}
	s.sortByOrdinal(len(result), func(i int) string { return result[i].ID }, func(i, j int) {
		result[i], result[j] = result[j], result[i]
	})
	return result, nil
}

func (s *MemoryStore) UpdateCells(rowID string, values map[string]models.CellValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for columnID, value := range values {
		updated := false
		for cid, c := range s.cells {
			if c.RowID == rowID && c.ColumnID == columnID {
				c.Value = value
				s.cells[cid] = c
				updated = true
				break
			}
		}
		if !updated {
			cell := models.Cell{ID: uuid.New().String(), RowID: rowID, ColumnID: columnID, Value: value}
			s.cells[cell.ID] = cell
		}
	}
	return nil
}

// ================= Table permissions =================

func (s *MemoryStore) GetTablePermission(tableID, userID string) (*models.TablePermission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.tablePerms[pairKey(tableID, userID)]
	if !ok {
		return nil, fmt.Errorf("table permission: %w", ErrNotFound)
	}
	return &p, nil
}

func (s *MemoryStore) ListTablePermissions(tableID string) ([]models.TablePermission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []models.TablePermission
	for _, p := range s.tablePerms {
		if p.TableID == tableID {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UserID < result[j].UserID })
	return result, nil
}

func (s *MemoryStore) UpsertTablePermissions(perms []models.TablePermission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range perms {
		s.tablePerms[pairKey(p.TableID, p.UserID)] = p
	}
	return nil
}

func (s *MemoryStore) GrantTableToBranch(template models.TableFilialPermission, expanded []models.TablePermission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tableFilial[pairKey(template.TableID, template.BranchID)] = template
	for _, p := range expanded {
		s.tablePerms[pairKey(p.TableID, p.UserID)] = p
	}
	return nil
}

// ================= Row permissions =================

func (s *MemoryStore) GetRowPermission(rowID, userID string) (*models.RowPermission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.rowPerms[pairKey(rowID, userID)]
	if !ok {
		return nil, fmt.Errorf("row permission: %w", ErrNotFound)
	}
	return &p, nil
}

func (s *MemoryStore) ListRowPermissions(rowID string) ([]models.RowPermission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []models.RowPermission
	for _, p := range s.rowPerms {
		if p.RowID == rowID {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UserID < result[j].UserID })
	return result, nil
}

func (s *MemoryStore) ListRowPermissionsForUser(tableID, userID string) ([]models.RowPermission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []models.RowPermission
	for _, p := range s.rowPerms {
		if p.UserID != userID {
			continue
		}
		if r, ok := s.rows[p.RowID]; ok && r.TableID == tableID {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].RowID < result[j].RowID })
	return result, nil
}

func (s *MemoryStore) UpsertRowPermissions(perms []models.RowPermission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range perms {
		s.rowPerms[pairKey(p.RowID, p.UserID)] = p
	}
	return nil
}

func (s *MemoryStore) GrantRowsToBranch(templates []models.RowFilialPermission, expanded []models.RowPermission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range templates {
		s.rowFilialPerms[pairKey(t.RowID, t.BranchID)] = t
	}
	for _, p := range expanded {
		s.rowPerms[pairKey(p.RowID, p.UserID)] = p
	}
	return nil
}

func (s *MemoryStore) RevokeRedactRows(tableID, branchID string, memberIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := make(map[string]bool, len(memberIDs))
	for _, id := range memberIDs {
		members[id] = true
	}
	for key, p := range s.rowFilialPerms {
		if p.BranchID != branchID {
			continue
		}
		if r, ok := s.rows[p.RowID]; ok && r.TableID == tableID {
			p.CanEdit = false
			p.CanDelete = false
			s.rowFilialPerms[key] = p
		}
	}
	for key, p := range s.rowPerms {
		if !members[p.UserID] {
			continue
		}
		if r, ok := s.rows[p.RowID]; ok && r.TableID == tableID {
			p.CanEdit = false
			p.CanDelete = false
			s.rowPerms[key] = p
		}
	}
	return nil
}

// GetRowFilialPermission is a test helper mirroring the unique pair lookup.
func (s *MemoryStore) GetRowFilialPermission(rowID, branchID string) (*models.RowFilialPermission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.rowFilialPerms[pairKey(rowID, branchID)]
	if !ok {
		return nil, fmt.Errorf("row filial permission: %w", ErrNotFound)
	}
	return &p, nil
}

// ================= Row locks =================

func (s *MemoryStore) AcquireRowLock(rowID, userID string) (*models.RowLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lock, ok := s.locks[rowID]; ok {
		return &lock, nil
	}
	lock := models.RowLock{RowID: rowID, UserID: userID, LockedAt: time.Now()}
	s.locks[rowID] = lock
	return &lock, nil
}

func (s *MemoryStore) GetRowLock(rowID string) (*models.RowLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[rowID]
	if !ok {
		return nil, fmt.Errorf("row lock: %w", ErrNotFound)
	}
	return &lock, nil
}

func (s *MemoryStore) ReleaseRowLock(rowID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[rowID]
	if !ok || lock.UserID != userID {
		return false, nil
	}
	delete(s.locks, rowID)
	return true, nil
}

func (s *MemoryStore) DeleteExpiredLocks(before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var reaped int64
	for rowID, lock := range s.locks {
		if lock.LockedAt.Before(before) {
			delete(s.locks, rowID)
			reaped++
		}
	}
	return reaped, nil
}

// ================= Lifecycle =================

func (s *MemoryStore) HealthCheck() error { return nil }

func (s *MemoryStore) Close() error { return nil }

// sortByOrdinal orders a slice by record insertion order. Lists backed by
// maps would otherwise come back shuffled between calls.
func (s *MemoryStore) sortByOrdinal(n int, id func(int) string, swap func(i, j int)) {
	sort.Sort(&byOrdinal{
		n: n,
		less: func(i, j int) bool {
			return s.insertionCounts[id(i)] < s.insertionCounts[id(j)]
		},
		swap: swap,
	})
}

type byOrdinal struct {
	n    int
	less func(i, j int) bool
	swap func(i, j int)
}

func (b *byOrdinal) Len() int           { return b.n }
func (b *byOrdinal) Less(i, j int) bool { return b.less(i, j) }
func (b *byOrdinal) Swap(i, j int)      { b.swap(i, j) }
