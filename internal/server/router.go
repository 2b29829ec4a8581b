package server

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/biboandbobo2/psych-dev-backend/internal/handlers"
	"github.com/biboandbobo2/psych-dev-backend/internal/logger"
	"github.com/biboandbobo2/psych-dev-backend/internal/middleware"
	"github.com/biboandbobo2/psych-dev-backend/internal/utils"
)

// Per-minute request budgets per client IP.
const (
	searchRatePerMinute = 20
	answerRatePerMinute = 10
)

type RouterConfig struct {
	Log       *logger.Logger
	Books     *handlers.BookHandler
	Jobs      *handlers.JobHandler
	Admin     *handlers.AdminBookHandler
	RateLimit *middleware.RateLimiter
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()
	router.Use(otelgin.Middleware("psych-dev-backend"))

	allowed := utils.GetEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173", cfg.Log)
	router.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Split(allowed, ","),
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthcheck", handlers.Healthcheck)

	api := router.Group("/api")
	{
		api.GET("/books", cfg.Books.List)
		api.POST("/books/search", cfg.RateLimit.Limit("search", searchRatePerMinute), cfg.Books.Search)
		api.POST("/books/answer", cfg.RateLimit.Limit("answer", answerRatePerMinute), cfg.Books.Answer)
		api.GET("/jobs/:id", cfg.Jobs.Get)
	}

	admin := router.Group("/api/admin")
	{
		admin.POST("/books/:id/ingest", cfg.Admin.StartIngestion)
		admin.DELETE("/books/:id", cfg.Admin.Delete)
	}

	return router
}
