package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/docsift/docsift/internal/extraction"
)

type queueDocumentReq struct {
	DocumentID string          `json:"documentId"`
	FileData   string          `json:"fileData"`
	FileName   string          `json:"fileName"`
	FileSize   int64           `json:"fileSize"`
	Schema     json.RawMessage `json:"schema"`
	Model      string          `json:"model"`
	UserID     string          `json:"userId"`
}

// QueueDocument handles POST /queue-document.
func (h *Handler) QueueDocument(c *gin.Context) {
	var req queueDocumentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errJSON(c, http.StatusBadRequest, "invalid JSON body", err)
		return
	}

	// An authenticated caller owns the submission regardless of the body's
	// userId; anonymous submissions keep whatever the body carried.
	uid, authenticated := userIDFromContext(c)
	if authenticated {
		req.UserID = strconv.FormatUint(uid, 10)

		user, err := h.Users.GetByID(c.Request.Context(), uid)
		if err != nil {
			h.errJSON(c, http.StatusInternalServerError, "failed to load account", err)
			return
		}
		if user.DailyQuota > 0 {
			used, err := h.Quota.DailyQuotaUsed(c.Request.Context(), uid)
			if err != nil {
				h.errJSON(c, http.StatusInternalServerError, "failed to check quota", err)
				return
			}
			if used >= int64(user.DailyQuota) {
				h.errJSON(c, http.StatusTooManyRequests, "daily document quota exceeded", nil)
				return
			}
		}
	}

	res, err := h.Extract.Enqueue(c.Request.Context(), extraction.EnqueueRequest{
		DocumentID: req.DocumentID,
		FileData:   req.FileData,
		FileName:   req.FileName,
		FileSize:   req.FileSize,
		Schema:     req.Schema,
		Model:      req.Model,
		UserID:     req.UserID,
	})
	if err != nil {
		var verr *extraction.ValidationError
		if errors.As(err, &verr) {
			h.errJSON(c, http.StatusBadRequest, verr.Msg, nil)
			return
		}
		h.errJSON(c, http.StatusInternalServerError, "failed to queue document", err)
		return
	}

	if authenticated {
		if _, err := h.Quota.IncrDailyQuota(c.Request.Context(), uid); err != nil {
			h.Log.Warn("quota increment failed", slog.Uint64("user_id", uid), slog.String("error", err.Error()))
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success":           true,
		"documentId":        res.DocumentID,
		"status":            extraction.StatusQueued,
		"queuePosition":     res.QueuePosition,
		"estimatedWaitTime": res.EstimatedWaitMinutes,
	})
}

// ProcessQueue handles POST /process-queue, the scheduled batch trigger.
func (h *Handler) ProcessQueue(c *gin.Context) {
	if h.Cfg.CronSecret != "" {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.Cfg.CronSecret)) != 1 {
			h.errJSON(c, http.StatusUnauthorized, "unauthorized", nil)
			return
		}
	}

	sum, err := h.Extract.ProcessBatch(c.Request.Context())
	if err != nil {
		h.errJSON(c, http.StatusInternalServerError, "queue processing failed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"processed":        len(sum.Processed),
		"failed":           len(sum.Failed),
		"remainingInQueue": sum.Remaining,
		"details": gin.H{
			"processed": sum.Processed,
			"failed":    sum.Failed,
		},
	})
}

// DocumentStatus handles GET /document-status?documentId=<id>.
func (h *Handler) DocumentStatus(c *gin.Context) {
	documentID := c.Query("documentId")
	if documentID == "" {
		h.errJSON(c, http.StatusBadRequest, "documentId is required", nil)
		return
	}

	resp, err := h.Extract.Status(c.Request.Context(), documentID)
	if err != nil {
		if errors.Is(err, extraction.ErrNotFound) {
			h.errJSON(c, http.StatusNotFound, "document not found or expired", nil)
			return
		}
		h.errJSON(c, http.StatusInternalServerError, "failed to read document status", err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
