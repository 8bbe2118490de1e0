package handler

import (
	"fmt"
	"net/http"
	"time"

	"table-service-backend/pkg/config"
	"table-service-backend/pkg/database"
	"table-service-backend/pkg/handlers"
	"table-service-backend/pkg/locks"
	customMiddleware "table-service-backend/pkg/middleware"
	"table-service-backend/pkg/permissions"
	"table-service-backend/pkg/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Handler is the single serverless entry point. All API endpoints live in
// one chi router built per invocation over the pooled store.
func Handler(w http.ResponseWriter, r *http.Request) {
	cfg := config.GetCached()

	if err := cfg.Validate(); err != nil {
		utils.WriteInternalServerErrorResponse(w, "Configuration error: "+err.Error())
		return
	}

	db := database.GetDatabase(database.DatabaseConfig{
		UseMemory:   cfg.UseMemory,
		PostgresDSN: cfg.PostgresDSN,
		Debug:       cfg.Debug,
	})
	// The pool owns the connection; no close here.

	router := chi.NewRouter()
	setupMiddleware(router, cfg)
	setupRoutes(router, cfg, db)

	router.ServeHTTP(w, r)
}

func setupMiddleware(router *chi.Mux, cfg *config.Config) {
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	// Normalize path and restore scheme/host before logging and routing
	router.Use(customMiddleware.Normalize())
	router.Use(customMiddleware.Logger(cfg))
	router.Use(customMiddleware.Recovery(cfg))

	router.Use(customMiddleware.CORS(cfg))

	// Serverless functions get 30s; leave a buffer
	router.Use(middleware.Timeout(25 * time.Second))

	router.Use(middleware.Compress(5))

	if cfg.IsDevelopment() {
		router.Use(middleware.Heartbeat("/ping"))
	}
}

func setupRoutes(router *chi.Mux, cfg *config.Config, db database.StoreInterface) {
	engine := permissions.NewEngine(db)
	propagator := permissions.NewPropagator(db, cfg.AdminBranchID)
	lockManager := locks.NewManager(db, cfg.LockTTL)

	tablesHandler := handlers.NewTablesHandler(cfg, db, engine, propagator)
	columnsHandler := handlers.NewColumnsHandler(cfg, db, engine, propagator)
	rowsHandler := handlers.NewRowsHandler(cfg, db, engine, propagator, lockManager)
	permsHandler := handlers.NewPermissionsHandler(cfg, db, engine, propagator)
	locksHandler := handlers.NewLocksHandler(cfg, db, engine, lockManager)
	exportHandler := handlers.NewExportHandler(cfg, db, engine)
	adminsHandler := handlers.NewAdminsHandler(cfg, db)
	directoryHandler := handlers.NewDirectoryHandler(cfg, db)

	// Health check
	router.Get("/", func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		if err := db.HealthCheck(); err != nil {
			status = "degraded: " + err.Error()
		}
		utils.WriteSuccessResponse(w, map[string]interface{}{
			"service": "table-service",
			"status":  status,
			"time":    time.Now().Format(time.RFC3339),
		})
	})

	if cfg.IsDevelopment() {
		router.Get("/debug/db-pool", func(w http.ResponseWriter, r *http.Request) {
			utils.WriteSuccessResponse(w, database.GetConnectionStats())
		})
	}

	router.Route("/api", func(r chi.Router) {
		// Share links resolve for any authenticated user; the token scopes
		// which table they reach, their grants scope which rows they see.
		r.Group(func(r chi.Router) {
			r.Use(customMiddleware.AuthMiddleware(cfg))
			r.Get("/shared/{token}", tablesHandler.GetTableByShareToken)
		})

		r.Group(func(r chi.Router) {
			r.Use(customMiddleware.AuthMiddleware(cfg))
			r.Use(customMiddleware.ContentTypeJSON)
			r.Use(customMiddleware.MaxBodySize(1 << 20))

			r.Route("/users", func(r chi.Router) {
				r.Post("/sync", directoryHandler.SyncUser)
			})
			r.Get("/branches", directoryHandler.ListBranches)

			r.Route("/tables", func(r chi.Router) {
				r.Get("/", tablesHandler.ListTables)
				r.Post("/", tablesHandler.CreateTable)
				r.Get("/{id}", tablesHandler.GetTable)
				r.Delete("/{id}", tablesHandler.DeleteTable)
				r.Get("/{id}/export", exportHandler.ExportCSV)

				r.Get("/{id}/columns", columnsHandler.ListColumns)
				r.Post("/{id}/columns", columnsHandler.CreateColumn)
				r.Delete("/{id}/columns/{columnID}", columnsHandler.DeleteColumn)

				r.Post("/{id}/rows", rowsHandler.CreateRow)

				r.Get("/{id}/permissions", permsHandler.ListTablePermissions)
				r.Put("/{id}/permissions", permsHandler.UpsertTablePermissions)
				r.Post("/{id}/share-branch", permsHandler.GrantTableToBranch)
				r.Post("/{id}/rows/share-branch", permsHandler.GrantRowsToBranch)
				r.Post("/{id}/revoke-branch", permsHandler.RevokeRedactRows)
			})

			r.Route("/rows", func(r chi.Router) {
				r.Get("/{id}", rowsHandler.GetRow)
				r.Put("/{id}", rowsHandler.SaveRow)
				r.Delete("/{id}", rowsHandler.DeleteRow)

				r.Post("/{id}/edit", rowsHandler.OpenRowForEdit)
				r.Delete("/{id}/edit", rowsHandler.CancelEdit)

				r.Get("/{id}/lock", locksHandler.GetLockStatus)
				r.Post("/{id}/unlock", locksHandler.UnlockRow)

				r.Get("/{id}/permissions", permsHandler.ListRowPermissions)
				r.Put("/{id}/permissions", permsHandler.UpsertRowPermissions)
			})

			r.Route("/admins", func(r chi.Router) {
				r.Get("/", adminsHandler.ListServiceAdmins)
				r.Post("/", adminsHandler.AddServiceAdmin)
				r.Delete("/{userID}", adminsHandler.RemoveServiceAdmin)
			})
		})
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteNotFoundResponse(w, fmt.Sprintf("Route not found: %s %s", r.Method, r.URL.Path))
	})

	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteErrorResponseWithCode(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			fmt.Sprintf("Method %s not allowed for %s", r.Method, r.URL.Path), "")
	})
}
