package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/docsift/docsift/internal/common"
	"github.com/docsift/docsift/internal/users"
)

type credentialsReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) CreateUser(c *gin.Context) {
	var req credentialsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.Email == "" || req.Password == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "email and password required")
		return
	}

	u, token, err := h.Users.Register(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, users.ErrEmailTaken):
			common.Fail(c, http.StatusConflict, 10003, "email already registered")
		case errors.Is(err, users.ErrWeakPassword):
			common.Fail(c, http.StatusBadRequest, 10004, err.Error())
		default:
			common.Fail(c, http.StatusInternalServerError, 20001, "failed to create user")
		}
		return
	}

	common.OK(c, gin.H{
		"id":          u.ID,
		"email":       u.Email,
		"daily_quota": u.DailyQuota,
		"token":       token,
	})
}

func (h *Handler) Login(c *gin.Context) {
	var req credentialsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	u, token, err := h.Users.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, users.ErrInvalidCredentials) {
			common.Fail(c, http.StatusUnauthorized, 40103, "invalid email or password")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 20001, "login failed")
		return
	}

	common.OK(c, gin.H{
		"id":    u.ID,
		"email": u.Email,
		"token": token,
	})
}

func (h *Handler) Me(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	u, err := h.Users.GetByID(c.Request.Context(), uid)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40401, "user not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}

	used, err := h.Quota.DailyQuotaUsed(c.Request.Context(), u.ID)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20002, "failed to read quota")
		return
	}

	common.OK(c, gin.H{
		"id":          u.ID,
		"email":       u.Email,
		"role":        u.Role,
		"daily_quota": u.DailyQuota,
		"used_today":  used,
		"created_at":  u.CreatedAt,
	})
}
