package database

import (
	"testing"
	"time"

	"table-service-backend/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeleteTableCascades(t *testing.T) {
	store := NewMemoryStore()

	table := &models.Table{Title: "t", OwnerID: "owner", ShareToken: "tok"}
	require.NoError(t, store.CreateTable(table))

	column := &models.Column{TableID: table.ID, Name: "c", DataType: models.TypeText}
	require.NoError(t, store.CreateColumnWithCells(column, nil))

	row := &models.Row{TableID: table.ID}
	require.NoError(t, store.CreateRowWithGrants(row,
		[]models.Cell{{ColumnID: column.ID, Value: models.TextValue("x")}},
		[]models.RowPermission{{UserID: "owner", CanEdit: true, CanDelete: true}},
		&models.RowFilialPermission{BranchID: "east", CanEdit: true, CanDelete: true}))
	_, err := store.AcquireRowLock(row.ID, "owner")
	require.NoError(t, err)

	require.NoError(t, store.DeleteTable(table.ID))

	_, err = store.GetTable(table.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetColumn(column.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetRow(row.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetRowPermission(row.ID, "owner")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetRowLock(row.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	cells, err := store.ListCellsByRow(row.ID)
	require.NoError(t, err)
	assert.Empty(t, cells)
}

func TestUpdateCellsUpdatesOrCreates(t *testing.T) {
	store := NewMemoryStore()

	table := &models.Table{Title: "t", OwnerID: "owner", ShareToken: "tok"}
	require.NoError(t, store.CreateTable(table))
	column := &models.Column{TableID: table.ID, Name: "count", DataType: models.TypeInteger}
	require.NoError(t, store.CreateColumnWithCells(column, nil))

	row := &models.Row{TableID: table.ID}
	require.NoError(t, store.CreateRowWithGrants(row,
		[]models.Cell{{ColumnID: column.ID, Value: models.IntegerValue(1)}}, nil, nil))

	require.NoError(t, store.UpdateCells(row.ID, map[string]models.CellValue{
		column.ID: models.IntegerValue(9),
	}))
	cells, err := store.ListCellsByRow(row.ID)
	require.NoError(t, err)
	require.Len(t, cells, 1, "update must not duplicate the cell")
	assert.Equal(t, int64(9), cells[0].Value.Integer)

	// A column added later gets its cell created on first write.
	late := &models.Column{TableID: table.ID, Name: "note", DataType: models.TypeText}
	require.NoError(t, store.CreateColumnWithCells(late, nil))
	require.NoError(t, store.UpdateCells(row.ID, map[string]models.CellValue{
		late.ID: models.TextValue("hi"),
	}))
	cells, err = store.ListCellsByRow(row.ID)
	require.NoError(t, err)
	assert.Len(t, cells, 2)
}

func TestAcquireRowLockIsGetOrCreate(t *testing.T) {
	store := NewMemoryStore()

	lock, err := store.AcquireRowLock("row-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", lock.UserID)

	// A competing acquire returns the existing lock, not a new one.
	lock, err = store.AcquireRowLock("row-1", "bob")
	require.NoError(t, err)
	assert.Equal(t, "alice", lock.UserID)

	released, err := store.ReleaseRowLock("row-1", "bob")
	require.NoError(t, err)
	assert.False(t, released, "only the holder releases")

	released, err = store.ReleaseRowLock("row-1", "alice")
	require.NoError(t, err)
	assert.True(t, released)
}

func TestDeleteExpiredLocksUsesCutoff(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.AcquireRowLock("row-1", "alice")
	require.NoError(t, err)

	reaped, err := store.DeleteExpiredLocks(time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Zero(t, reaped, "fresh lock survives an old cutoff")

	reaped, err = store.DeleteExpiredLocks(time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), reaped)
}
