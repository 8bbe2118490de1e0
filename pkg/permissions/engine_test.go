package permissions

import (
	"testing"

	"table-service-backend/pkg/database"
	"table-service-backend/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedUser(t *testing.T, store *database.MemoryStore, id, branchID string) *models.User {
	t.Helper()
	user := &models.User{ID: id, Email: id + "@example.com"}
	if branchID != "" {
		user.BranchID = &branchID
	}
	require.NoError(t, store.UpsertUser(user))
	return user
}

func seedTable(t *testing.T, store *database.MemoryStore, ownerID string) *models.Table {
	t.Helper()
	table := &models.Table{Title: "inventory", OwnerID: ownerID, ShareToken: "tok-" + ownerID}
	require.NoError(t, store.CreateTable(table))
	return table
}

func TestCanViewTableOwnerAndAdmin(t *testing.T) {
	store := database.NewMemoryStore()
	engine := NewEngine(store)

	seedUser(t, store, "owner", "")
	seedUser(t, store, "admin", "")
	seedUser(t, store, "stranger", "")
	require.NoError(t, store.AddServiceAdmin("admin"))
	table := seedTable(t, store, "owner")

	ok, err := engine.CanViewTable("owner", table)
	require.NoError(t, err)
	assert.True(t, ok, "owner always sees their table")

	ok, err = engine.CanViewTable("admin", table)
	require.NoError(t, err)
	assert.True(t, ok, "service admin sees every table")

	ok, err = engine.CanViewTable("stranger", table)
	require.NoError(t, err)
	assert.False(t, ok, "no grant, no view")
}

func TestCanViewTableDirectGrant(t *testing.T) {
	store := database.NewMemoryStore()
	engine := NewEngine(store)

	seedUser(t, store, "owner", "")
	seedUser(t, store, "viewer", "")
	table := seedTable(t, store, "owner")

	require.NoError(t, store.UpsertTablePermissions([]models.TablePermission{
		{TableID: table.ID, UserID: "viewer", CanView: true},
	}))

	ok, err := engine.CanViewTable("viewer", table)
	require.NoError(t, err)
	assert.True(t, ok)

	// A revoked grant record (can_view=false) denies without erroring.
	require.NoError(t, store.UpsertTablePermissions([]models.TablePermission{
		{TableID: table.ID, UserID: "viewer", CanView: false},
	}))
	ok, err = engine.CanViewTable("viewer", table)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRowFlagsAreIndependent(t *testing.T) {
	store := database.NewMemoryStore()
	engine := NewEngine(store)

	seedUser(t, store, "owner", "")
	seedUser(t, store, "editor", "")
	table := seedTable(t, store, "owner")

	row := &models.Row{TableID: table.ID}
	require.NoError(t, store.CreateRowWithGrants(row, nil, []models.RowPermission{
		{UserID: "editor", CanEdit: true, CanDelete: false},
	}, nil))

	canEdit, err := engine.CanEditRow("editor", table, row)
	require.NoError(t, err)
	assert.True(t, canEdit)

	canDelete, err := engine.CanDeleteRow("editor", table, row)
	require.NoError(t, err)
	assert.False(t, canDelete, "edit grant does not imply delete")

	canManage, err := engine.CanManageRow("editor", table)
	require.NoError(t, err)
	assert.False(t, canManage, "edit grant does not imply management")

	canManage, err = engine.CanManageRow("owner", table)
	require.NoError(t, err)
	assert.True(t, canManage)
}

func TestRevokeRedactRowsFreezesBranch(t *testing.T) {
	store := database.NewMemoryStore()
	engine := NewEngine(store)

	store.AddBranch(models.Branch{ID: "east", Name: "East"})
	seedUser(t, store, "owner", "")
	seedUser(t, store, "member", "east")
	seedUser(t, store, "outsider", "")
	table := seedTable(t, store, "owner")

	row := &models.Row{TableID: table.ID}
	require.NoError(t, store.CreateRowWithGrants(row, nil, []models.RowPermission{
		{UserID: "member", CanEdit: true, CanDelete: true},
		{UserID: "outsider", CanEdit: true, CanDelete: true},
	}, &models.RowFilialPermission{BranchID: "east", CanEdit: true, CanDelete: true}))

	require.NoError(t, engine.RevokeRedactRows(table.ID, "east"))

	// The member's individual grant is frozen, the record remains.
	perm, err := store.GetRowPermission(row.ID, "member")
	require.NoError(t, err)
	assert.False(t, perm.CanEdit)
	assert.False(t, perm.CanDelete)

	// The branch template is frozen too.
	filial, err := store.GetRowFilialPermission(row.ID, "east")
	require.NoError(t, err)
	assert.False(t, filial.CanEdit)
	assert.False(t, filial.CanDelete)

	// Grants held outside the branch are untouched.
	perm, err = store.GetRowPermission(row.ID, "outsider")
	require.NoError(t, err)
	assert.True(t, perm.CanEdit)
}
