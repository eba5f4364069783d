package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/docsift/docsift/internal/common"
	"github.com/docsift/docsift/internal/export"
)

func (h *Handler) AdminListUsers(c *gin.Context) {
	list, err := h.Users.List(c.Request.Context())
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "failed to list users")
		return
	}

	out := make([]gin.H, 0, len(list))
	for _, u := range list {
		used, err := h.Quota.DailyQuotaUsed(c.Request.Context(), u.ID)
		if err != nil {
			common.Fail(c, http.StatusInternalServerError, 20002, "failed to read quota")
			return
		}
		out = append(out, gin.H{
			"id":          u.ID,
			"email":       u.Email,
			"role":        u.Role,
			"daily_quota": u.DailyQuota,
			"used_today":  used,
			"created_at":  u.CreatedAt,
		})
	}

	common.OK(c, gin.H{"users": out})
}

func (h *Handler) AdminQueueStats(c *gin.Context) {
	length, err := h.Extract.QueueLength(c.Request.Context())
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20003, "failed to read queue length")
		return
	}
	common.OK(c, gin.H{
		"queue_length": length,
		"as_of":        time.Now().UTC(),
	})
}

// AdminExportUsage streams the per-user usage report as an XLSX workbook.
func (h *Handler) AdminExportUsage(c *gin.Context) {
	list, err := h.Users.List(c.Request.Context())
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "failed to list users")
		return
	}

	rows := make([]export.UsageRow, 0, len(list))
	for _, u := range list {
		used, err := h.Quota.DailyQuotaUsed(c.Request.Context(), u.ID)
		if err != nil {
			common.Fail(c, http.StatusInternalServerError, 20002, "failed to read quota")
			return
		}
		rows = append(rows, export.UsageRow{
			UserID:     u.ID,
			Email:      u.Email,
			Role:       u.Role,
			DailyQuota: u.DailyQuota,
			UsedToday:  used,
			CreatedAt:  u.CreatedAt,
		})
	}

	data, err := export.UsageWorkbook(rows)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20004, "failed to build workbook")
		return
	}

	filename := "docsift-usage-" + time.Now().UTC().Format("20060102") + ".xlsx"
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}
