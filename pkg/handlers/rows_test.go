package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"table-service-backend/pkg/config"
	"table-service-backend/pkg/database"
	"table-service-backend/pkg/locks"
	"table-service-backend/pkg/middleware"
	"table-service-backend/pkg/models"
	"table-service-backend/pkg/permissions"
	"table-service-backend/pkg/utils"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testEnv wires the full HTTP stack over the in-memory store: real router,
// real auth middleware, real JWTs.
type testEnv struct {
	router *chi.Mux
	store  *database.MemoryStore
	jwt    *utils.JWTService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := &config.Config{
		Environment:   "test",
		JWTSecret:     "test-secret",
		AdminBranchID: "hq",
		LockTTL:       time.Minute,
	}
	store := database.NewMemoryStore()

	engine := permissions.NewEngine(store)
	propagator := permissions.NewPropagator(store, cfg.AdminBranchID)
	lockManager := locks.NewManager(store, cfg.LockTTL)

	tablesHandler := NewTablesHandler(cfg, store, engine, propagator)
	columnsHandler := NewColumnsHandler(cfg, store, engine, propagator)
	rowsHandler := NewRowsHandler(cfg, store, engine, propagator, lockManager)
	permsHandler := NewPermissionsHandler(cfg, store, engine, propagator)
	locksHandler := NewLocksHandler(cfg, store, engine, lockManager)

	router := chi.NewRouter()
	router.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(cfg))
			r.Get("/shared/{token}", tablesHandler.GetTableByShareToken)
		})
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(cfg))
			r.Use(middleware.ContentTypeJSON)

			r.Route("/tables", func(r chi.Router) {
				r.Get("/", tablesHandler.ListTables)
				r.Post("/", tablesHandler.CreateTable)
				r.Get("/{id}", tablesHandler.GetTable)
				r.Post("/{id}/columns", columnsHandler.CreateColumn)
				r.Post("/{id}/rows", rowsHandler.CreateRow)
				r.Post("/{id}/rows/share-branch", permsHandler.GrantRowsToBranch)
				r.Post("/{id}/share-branch", permsHandler.GrantTableToBranch)
				r.Post("/{id}/revoke-branch", permsHandler.RevokeRedactRows)
			})
			r.Route("/rows", func(r chi.Router) {
				r.Put("/{id}", rowsHandler.SaveRow)
				r.Post("/{id}/edit", rowsHandler.OpenRowForEdit)
				r.Delete("/{id}/edit", rowsHandler.CancelEdit)
				r.Post("/{id}/unlock", locksHandler.UnlockRow)
			})
		})
	})

	return &testEnv{router: router, store: store, jwt: utils.NewJWTService(cfg.JWTSecret)}
}

func (e *testEnv) addUser(t *testing.T, id, branchID string) string {
	t.Helper()
	user := &models.User{ID: id, Email: id + "@example.com"}
	var branch *string
	if branchID != "" {
		branch = &branchID
		user.BranchID = branch
	}
	require.NoError(t, e.store.UpsertUser(user))

	token, _, err := e.jwt.GenerateAccessToken(id, user.Email, branch)
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) (*httptest.ResponseRecorder, utils.APIResponse) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader([]byte(`{}`))
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	recorder := httptest.NewRecorder()
	e.router.ServeHTTP(recorder, req)

	var envelope utils.APIResponse
	if recorder.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &envelope))
	}
	return recorder, envelope
}

func (e *testEnv) createTable(t *testing.T, token string) string {
	t.Helper()
	rec, envelope := e.do(t, http.MethodPost, "/api/tables", token, map[string]string{"title": "inventory"})
	require.Equal(t, http.StatusCreated, rec.Code)
	data := envelope.Data.(map[string]interface{})
	return data["table"].(map[string]interface{})["id"].(string)
}

func (e *testEnv) createColumn(t *testing.T, token, tableID, name, dataType string) string {
	t.Helper()
	rec, envelope := e.do(t, http.MethodPost, "/api/tables/"+tableID+"/columns", token,
		map[string]interface{}{"name": name, "data_type": dataType})
	require.Equal(t, http.StatusCreated, rec.Code)
	data := envelope.Data.(map[string]interface{})
	return data["column"].(map[string]interface{})["id"].(string)
}

func (e *testEnv) createRow(t *testing.T, token, tableID string) string {
	t.Helper()
	rec, envelope := e.do(t, http.MethodPost, "/api/tables/"+tableID+"/rows", token, map[string]interface{}{})
	require.Equal(t, http.StatusCreated, rec.Code)
	data := envelope.Data.(map[string]interface{})
	return data["row"].(map[string]interface{})["id"].(string)
}

func TestRowEditLockHandoff(t *testing.T) {
	env := newTestEnv(t)
	ownerToken := env.addUser(t, "owner", "east")
	mateToken := env.addUser(t, "mate", "east")

	tableID := env.createTable(t, ownerToken)
	columnID := env.createColumn(t, ownerToken, tableID, "count", "integer")
	rowID := env.createRow(t, ownerToken, tableID)

	// Owner opens the row for editing.
	rec, _ := env.do(t, http.MethodPost, "/api/rows/"+rowID+"/edit", ownerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// The teammate holds an edit grant (branch expansion) but hits the lock.
	rec, envelope := env.do(t, http.MethodPost, "/api/rows/"+rowID+"/edit", mateToken, nil)
	require.Equal(t, http.StatusLocked, rec.Code)
	require.NotNil(t, envelope.Error)
	assert.Equal(t, "ROW_LOCKED", envelope.Error.Code)
	assert.Equal(t, "owner", envelope.Error.Details, "423 names the holder")

	// Saving releases the lock.
	rec, _ = env.do(t, http.MethodPut, "/api/rows/"+rowID, ownerToken,
		map[string]interface{}{"cells": map[string]interface{}{columnID: 5}})
	require.Equal(t, http.StatusOK, rec.Code)

	// Now the teammate gets the lock.
	rec, _ = env.do(t, http.MethodPost, "/api/rows/"+rowID+"/edit", mateToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSaveRejectsTypeMismatch(t *testing.T) {
	env := newTestEnv(t)
	ownerToken := env.addUser(t, "owner", "")

	tableID := env.createTable(t, ownerToken)
	columnID := env.createColumn(t, ownerToken, tableID, "count", "integer")
	rowID := env.createRow(t, ownerToken, tableID)

	rec, envelope := env.do(t, http.MethodPut, "/api/rows/"+rowID, ownerToken,
		map[string]interface{}{"cells": map[string]interface{}{columnID: "twelve"}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, envelope.Error)
	assert.Equal(t, "VALIDATION_ERROR", envelope.Error.Code)

	// An unknown column id is rejected before anything is written.
	rec, envelope = env.do(t, http.MethodPut, "/api/rows/"+rowID, ownerToken,
		map[string]interface{}{"cells": map[string]interface{}{"no-such-column": 1}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, envelope.Error)
}

func TestVisibilityDistinguishes403From404(t *testing.T) {
	env := newTestEnv(t)
	ownerToken := env.addUser(t, "owner", "")
	strangerToken := env.addUser(t, "stranger", "")

	tableID := env.createTable(t, ownerToken)

	// Existing but invisible: 403.
	rec, envelope := env.do(t, http.MethodGet, "/api/tables/"+tableID, strangerToken, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", envelope.Error.Code)

	// Genuinely absent: 404.
	rec, envelope = env.do(t, http.MethodGet, "/api/tables/00000000-0000-0000-0000-000000000000", strangerToken, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", envelope.Error.Code)

	// Unknown share token: 404 too.
	rec, _ = env.do(t, http.MethodGet, "/api/shared/not-a-token", strangerToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestShareTokenViewScopedToCallerGrants(t *testing.T) {
	env := newTestEnv(t)
	ownerToken := env.addUser(t, "owner", "")
	mateToken := env.addUser(t, "mate", "east")

	tableID := env.createTable(t, ownerToken)
	columnID := env.createColumn(t, ownerToken, tableID, "note", "text")
	visibleRow := env.createRow(t, ownerToken, tableID)
	hiddenRow := env.createRow(t, ownerToken, tableID)

	// Put something recognizable into the row the teammate must not see.
	rec, _ := env.do(t, http.MethodPut, "/api/rows/"+hiddenRow, ownerToken,
		map[string]interface{}{"cells": map[string]interface{}{columnID: "confidential"}})
	require.Equal(t, http.StatusOK, rec.Code)

	// Grant the teammate's branch edit on one row only.
	rec, _ = env.do(t, http.MethodPost, "/api/tables/"+tableID+"/rows/share-branch", ownerToken,
		map[string]interface{}{"branch_id": "east", "row_ids": []string{visibleRow}, "can_edit": true})
	require.Equal(t, http.StatusOK, rec.Code)

	table, err := env.store.GetTable(tableID)
	require.NoError(t, err)

	// No identity, no view.
	rec, _ = env.do(t, http.MethodGet, "/api/shared/"+table.ShareToken, "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// The teammate sees only the granted row, and never the token itself.
	rec, envelope := env.do(t, http.MethodGet, "/api/shared/"+table.ShareToken, mateToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), table.ShareToken)
	assert.NotContains(t, rec.Body.String(), "confidential")
	data := envelope.Data.(map[string]interface{})
	rows := data["rows"].([]interface{})
	require.Len(t, rows, 1)
	row := rows[0].(map[string]interface{})
	assert.Equal(t, visibleRow, row["row"].(map[string]interface{})["id"])
	assert.Equal(t, true, row["can_edit"])
	assert.Equal(t, false, row["can_delete"])

	// The owner reaches every row through their own link.
	rec, envelope = env.do(t, http.MethodGet, "/api/shared/"+table.ShareToken, ownerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data = envelope.Data.(map[string]interface{})
	assert.Len(t, data["rows"].([]interface{}), 2)
}

func TestCreateRowIgnoresBodyBranchOverride(t *testing.T) {
	env := newTestEnv(t)
	ownerToken := env.addUser(t, "owner", "")
	env.addUser(t, "westerner", "west")

	tableID := env.createTable(t, ownerToken)

	// A branch named in the body must not become a grant pathway; only the
	// creator's own branch fans out.
	rec, envelope := env.do(t, http.MethodPost, "/api/tables/"+tableID+"/rows", ownerToken,
		map[string]interface{}{"branch_id": "west"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rowID := envelope.Data.(map[string]interface{})["row"].(map[string]interface{})["id"].(string)

	_, err := env.store.GetRowPermission(rowID, "westerner")
	assert.ErrorIs(t, err, database.ErrNotFound)
	_, err = env.store.GetRowFilialPermission(rowID, "west")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestListingAndGridCarryPermissionFlags(t *testing.T) {
	env := newTestEnv(t)
	ownerToken := env.addUser(t, "owner", "")
	mateToken := env.addUser(t, "mate", "east")

	tableID := env.createTable(t, ownerToken)
	rowID := env.createRow(t, ownerToken, tableID)

	rec, _ := env.do(t, http.MethodPost, "/api/tables/"+tableID+"/share-branch", ownerToken,
		map[string]string{"branch_id": "east"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = env.do(t, http.MethodPost, "/api/tables/"+tableID+"/rows/share-branch", ownerToken,
		map[string]interface{}{"branch_id": "east", "row_ids": []string{rowID}, "can_edit": true})
	require.Equal(t, http.StatusOK, rec.Code)

	// The grid tells the teammate which rows they may edit but not delete.
	rec, envelope := env.do(t, http.MethodGet, "/api/tables/"+tableID, mateToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rows := envelope.Data.(map[string]interface{})["rows"].([]interface{})
	require.Len(t, rows, 1)
	assert.Equal(t, true, rows[0].(map[string]interface{})["can_edit"])
	assert.Equal(t, false, rows[0].(map[string]interface{})["can_delete"])

	// The listing carries ownership and availability, and keeps the share
	// token away from non-owners.
	rec, envelope = env.do(t, http.MethodGet, "/api/tables", mateToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	shared := envelope.Data.(map[string]interface{})["shared"].([]interface{})
	require.Len(t, shared, 1)
	entry := shared[0].(map[string]interface{})
	assert.Equal(t, false, entry["is_owner"])
	assert.Equal(t, true, entry["can_edit"])
	assert.Equal(t, false, entry["can_delete"])
	assert.NotContains(t, entry, "share_token")

	rec, envelope = env.do(t, http.MethodGet, "/api/tables", ownerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	owned := envelope.Data.(map[string]interface{})["owned"].([]interface{})
	require.Len(t, owned, 1)
	assert.Equal(t, true, owned[0].(map[string]interface{})["is_owner"])
}

func TestAdminUnlockFreesAbandonedRow(t *testing.T) {
	env := newTestEnv(t)
	ownerToken := env.addUser(t, "owner", "east")
	mateToken := env.addUser(t, "mate", "east")

	tableID := env.createTable(t, ownerToken)
	rowID := env.createRow(t, ownerToken, tableID)

	rec, _ := env.do(t, http.MethodPost, "/api/rows/"+rowID+"/edit", mateToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// The teammate cannot force-unlock; the owner can.
	rec, _ = env.do(t, http.MethodPost, "/api/rows/"+rowID+"/unlock", mateToken, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/rows/"+rowID+"/unlock", ownerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/rows/"+rowID+"/edit", ownerToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRevokeBranchFreezesTeammateEdit(t *testing.T) {
	env := newTestEnv(t)
	ownerToken := env.addUser(t, "owner", "")
	mateToken := env.addUser(t, "mate", "east")

	tableID := env.createTable(t, ownerToken)
	rowID := env.createRow(t, ownerToken, tableID)

	// Share view with the branch, then grant edit/delete on the row. Both
	// expand over the branch's current members, which is just the teammate.
	rec, _ := env.do(t, http.MethodPost, "/api/tables/"+tableID+"/share-branch", ownerToken,
		map[string]string{"branch_id": "east"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = env.do(t, http.MethodPost, "/api/tables/"+tableID+"/rows/share-branch", ownerToken,
		map[string]interface{}{"branch_id": "east", "row_ids": []string{rowID}, "can_edit": true, "can_delete": true})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/rows/"+rowID+"/edit", mateToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = env.do(t, http.MethodDelete, "/api/rows/"+rowID+"/edit", mateToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Freeze the branch.
	rec, _ = env.do(t, http.MethodPost, "/api/tables/"+tableID+"/revoke-branch", ownerToken,
		map[string]string{"branch_id": "east"})
	require.Equal(t, http.StatusOK, rec.Code)

	// The teammate can still view but no longer edit.
	rec, _ = env.do(t, http.MethodGet, "/api/tables/"+tableID, mateToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, envelope := env.do(t, http.MethodPost, "/api/rows/"+rowID+"/edit", mateToken, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", envelope.Error.Code)
}
