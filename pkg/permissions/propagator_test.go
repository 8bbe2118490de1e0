package permissions

import (
	"fmt"
	"math/rand"
	"testing"

	"table-service-backend/pkg/database"
	"table-service-backend/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOnTableCreatedGrantsCreatorAndAdminBranch(t *testing.T) {
	store := database.NewMemoryStore()
	store.AddBranch(models.Branch{ID: "hq", Name: "Headquarters"})
	seedUser(t, store, "creator", "")
	seedUser(t, store, "admin1", "hq")
	seedUser(t, store, "admin2", "hq")

	propagator := NewPropagator(store, "hq")
	table := seedTable(t, store, "creator")
	require.NoError(t, propagator.OnTableCreated(table, "creator"))

	for _, userID := range []string{"creator", "admin1", "admin2"} {
		perm, err := store.GetTablePermission(table.ID, userID)
		require.NoError(t, err, userID)
		assert.True(t, perm.CanView, userID)
	}
}

func TestOnRowCreatedFansOutGrantsAndCells(t *testing.T) {
	store := database.NewMemoryStore()
	store.AddBranch(models.Branch{ID: "east", Name: "East"})
	store.AddBranch(models.Branch{ID: "hq", Name: "Headquarters"})
	seedUser(t, store, "creator", "east")
	seedUser(t, store, "teammate", "east")
	seedUser(t, store, "hq-admin", "hq")
	seedUser(t, store, "bystander", "")

	propagator := NewPropagator(store, "hq")
	table := seedTable(t, store, "creator")

	columns := []models.Column{
		{TableID: table.ID, Name: "item", DataType: models.TypeText},
		{TableID: table.ID, Name: "count", DataType: models.TypeInteger},
	}
	for i := range columns {
		require.NoError(t, store.CreateColumnWithCells(&columns[i], nil))
	}

	row := &models.Row{TableID: table.ID}
	require.NoError(t, propagator.OnRowCreated(row, columns, "creator", "east"))

	// One default cell per column.
	cells, err := store.ListCellsByRow(row.ID)
	require.NoError(t, err)
	require.Len(t, cells, 2)
	byColumn := map[string]models.CellValue{}
	for _, c := range cells {
		byColumn[c.ColumnID] = c.Value
	}
	assert.Equal(t, "", byColumn[columns[0].ID].Text)
	assert.Equal(t, int64(0), byColumn[columns[1].ID].Integer)

	// Creator, branch members and admin branch members hold full grants.
	for _, userID := range []string{"creator", "teammate", "hq-admin"} {
		perm, err := store.GetRowPermission(row.ID, userID)
		require.NoError(t, err, userID)
		assert.True(t, perm.CanEdit, userID)
		assert.True(t, perm.CanDelete, userID)
	}

	// The branch template is recorded for the granted branch.
	filial, err := store.GetRowFilialPermission(row.ID, "east")
	require.NoError(t, err)
	assert.True(t, filial.CanEdit)

	// Nobody else is granted.
	_, err = store.GetRowPermission(row.ID, "bystander")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestBranchExpansionIsPointInTime(t *testing.T) {
	store := database.NewMemoryStore()
	store.AddBranch(models.Branch{ID: "east", Name: "East"})
	seedUser(t, store, "creator", "east")
	seedUser(t, store, "early", "east")

	propagator := NewPropagator(store, "")
	table := seedTable(t, store, "creator")

	row := &models.Row{TableID: table.ID}
	require.NoError(t, propagator.OnRowCreated(row, nil, "creator", "east"))

	// A user joining the branch after the grant gets nothing retroactively.
	seedUser(t, store, "latecomer", "east")

	perm, err := store.GetRowPermission(row.ID, "early")
	require.NoError(t, err)
	assert.True(t, perm.CanEdit)

	_, err = store.GetRowPermission(row.ID, "latecomer")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestOnColumnCreatedBackfillsEveryRow(t *testing.T) {
	store := database.NewMemoryStore()
	seedUser(t, store, "creator", "")
	propagator := NewPropagator(store, "")
	table := seedTable(t, store, "creator")

	var rows []*models.Row
	for i := 0; i < 3; i++ {
		row := &models.Row{TableID: table.ID, DisplayOrder: i}
		require.NoError(t, propagator.OnRowCreated(row, nil, "creator", ""))
		rows = append(rows, row)
	}

	column := &models.Column{TableID: table.ID, Name: "active", DataType: models.TypeBoolean}
	require.NoError(t, propagator.OnColumnCreated(column))

	for _, row := range rows {
		cells, err := store.ListCellsByRow(row.ID)
		require.NoError(t, err)
		require.Len(t, cells, 1)
		assert.Equal(t, column.ID, cells[0].ColumnID)
		assert.Equal(t, models.TypeBoolean, cells[0].Value.Type)
		assert.False(t, cells[0].Value.Boolean)
	}
}

func TestEveryRowStaysCompleteUnderRandomInterleaving(t *testing.T) {
	store := database.NewMemoryStore()
	seedUser(t, store, "creator", "")
	propagator := NewPropagator(store, "")
	table := seedTable(t, store, "creator")

	rng := rand.New(rand.NewSource(1))
	var rows []*models.Row
	var columns []models.Column

	// After every creation, each row must hold exactly one cell per column,
	// no matter how row and column creations interleave.
	assertComplete := func() {
		t.Helper()
		for _, row := range rows {
			cells, err := store.ListCellsByRow(row.ID)
			require.NoError(t, err)
			require.Len(t, cells, len(columns), "row %s", row.ID)
		}
	}

	for step := 0; step < 40; step++ {
		if rng.Intn(2) == 0 {
			row := &models.Row{TableID: table.ID, DisplayOrder: len(rows)}
			require.NoError(t, propagator.OnRowCreated(row, columns, "creator", ""))
			rows = append(rows, row)
		} else {
			column := &models.Column{
				TableID:      table.ID,
				Name:         fmt.Sprintf("c%d", len(columns)),
				DisplayOrder: len(columns),
				DataType:     models.TypeText,
			}
			require.NoError(t, propagator.OnColumnCreated(column))
			columns = append(columns, *column)
		}
		assertComplete()
	}
}

func TestGrantRowsToBranchExpandsCurrentMembers(t *testing.T) {
	store := database.NewMemoryStore()
	store.AddBranch(models.Branch{ID: "west", Name: "West"})
	seedUser(t, store, "creator", "")
	seedUser(t, store, "w1", "west")
	seedUser(t, store, "w2", "west")

	propagator := NewPropagator(store, "")
	table := seedTable(t, store, "creator")

	rowA := &models.Row{TableID: table.ID}
	rowB := &models.Row{TableID: table.ID}
	require.NoError(t, propagator.OnRowCreated(rowA, nil, "creator", ""))
	require.NoError(t, propagator.OnRowCreated(rowB, nil, "creator", ""))

	require.NoError(t, propagator.GrantRowsToBranch([]string{rowA.ID, rowB.ID}, "west", true, false))

	for _, rowID := range []string{rowA.ID, rowB.ID} {
		for _, userID := range []string{"w1", "w2"} {
			perm, err := store.GetRowPermission(rowID, userID)
			require.NoError(t, err)
			assert.True(t, perm.CanEdit)
			assert.False(t, perm.CanDelete)
		}
		filial, err := store.GetRowFilialPermission(rowID, "west")
		require.NoError(t, err)
		assert.True(t, filial.CanEdit)
		assert.False(t, filial.CanDelete)
	}
}
