package handlers

import (
	"context"
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/docsift/docsift/internal/common"
	"github.com/docsift/docsift/internal/config"
	"github.com/docsift/docsift/internal/extraction"
	"github.com/docsift/docsift/internal/httpapi/middleware"
	"github.com/docsift/docsift/internal/users"
)

// QuotaStore tracks per-user daily document counters.
type QuotaStore interface {
	IncrDailyQuota(ctx context.Context, userID uint64) (int64, error)
	DailyQuotaUsed(ctx context.Context, userID uint64) (int64, error)
}

type Handler struct {
	Cfg     config.Config
	Log     *slog.Logger
	Extract *extraction.Service
	Users   *users.Service
	Quota   QuotaStore
}

func NewHandler(cfg config.Config, log *slog.Logger, extract *extraction.Service, usersSvc *users.Service, quota QuotaStore) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{Cfg: cfg, Log: log, Extract: extract, Users: usersSvc, Quota: quota}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

func userIDFromContext(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}

// errJSON writes the plain {"error": ...} shape used by the document
// endpoints. Diagnostic detail is attached outside production only.
func (h *Handler) errJSON(c *gin.Context, status int, msg string, cause error) {
	body := gin.H{"error": msg}
	if cause != nil && h.Cfg.Env != "production" {
		body["detail"] = cause.Error()
	}
	c.JSON(status, body)
}
