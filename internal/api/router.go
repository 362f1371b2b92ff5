package api

import (
	"github.com/gin-gonic/gin"
	"github.com/timmy/restock/internal/api/handler"
	"github.com/timmy/restock/internal/api/middleware"
	"github.com/timmy/restock/internal/breaker"
	"github.com/timmy/restock/internal/config"
	"github.com/timmy/restock/internal/logger"
	"github.com/timmy/restock/internal/repository"
	"github.com/timmy/restock/internal/service"
)

// Deps bundles everything the router wires into handlers.
type Deps struct {
	Worker   *service.RefreshWorker
	Importer *service.ImportService
	Catalog  *repository.CatalogRepository
	Jobs     *repository.JobRepository
	Breaker  *breaker.CircuitBreaker
	Logger   *logger.Logger
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(deps Deps, cfg *config.ServerConfig) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()
	r.HandleMethodNotAllowed = true

	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(deps.Logger))
	r.Use(middleware.CORS(cfg.CORS))

	healthHandler := handler.NewHealthHandler()
	refreshHandler := handler.NewRefreshHandler(deps.Worker)
	importHandler := handler.NewImportHandler(deps.Importer)
	catalogHandler := handler.NewCatalogHandler(deps.Catalog)
	jobsHandler := handler.NewJobsHandler(deps.Jobs)
	statusHandler := handler.NewStatusHandler(deps.Breaker, deps.Catalog)

	// Health check
	r.GET("/health", healthHandler.Health)

	// Worker triggers (cron-style invocations, outside the versioned API)
	r.POST("/refresh-worker", refreshHandler.Run)
	r.POST("/import-product", importHandler.Import)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		v1.GET("/products", catalogHandler.ListProducts)
		v1.GET("/products/:id", catalogHandler.GetProduct)

		v1.GET("/jobs", jobsHandler.ListJobs)
		v1.GET("/jobs/:id", jobsHandler.GetJob)

		v1.GET("/status", statusHandler.Status)
	}

	return r
}
