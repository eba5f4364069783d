package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/docsift/docsift/internal/common"
	"github.com/docsift/docsift/internal/config"
	"github.com/docsift/docsift/internal/httpapi/handlers"
	"github.com/docsift/docsift/internal/httpapi/middleware"
)

// NewRouter wires the full HTTP surface. rateLimit guards the public
// enqueue endpoint; pass nil to skip limiting.
func NewRouter(cfg config.Config, log *slog.Logger, h *handlers.Handler, rateLimit gin.HandlerFunc) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/ping", h.Ping)

	// Accounts
	r.POST("/users", h.CreateUser)
	r.POST("/login", h.Login)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))
	authGroup.GET("/me", h.Me)

	// Document queue (anonymous submissions allowed; authenticated callers
	// get ownership and quota accounting)
	queue := r.Group("/")
	queue.Use(middleware.OptionalAuth(cfg.JWTSecret))
	if rateLimit != nil {
		queue.POST("/queue-document", rateLimit, h.QueueDocument)
	} else {
		queue.POST("/queue-document", h.QueueDocument)
	}
	r.POST("/process-queue", h.ProcessQueue)
	r.GET("/document-status", h.DocumentStatus)

	// Admin
	admin := r.Group("/admin")
	admin.Use(middleware.AuthRequired(cfg.JWTSecret), middleware.RequireAdmin())
	admin.GET("/users", h.AdminListUsers)
	admin.GET("/queue", h.AdminQueueStats)
	admin.GET("/export", h.AdminExportUsage)

	return r
}
