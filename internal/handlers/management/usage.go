package management

import (
	"net/http"

	"github.com/gin-gonic/gin"

	log "github.com/sirupsen/logrus"
)

// GET /v0/management/health
func (h *Handler) HealthDump(c *gin.Context) {
	entries := h.health.Snapshot()
	blocked := 0
	for _, e := range entries {
		if e.Block != nil {
			blocked++
		}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "blocked": blocked})
}

// GET /v0/management/usage
func (h *Handler) Usage(c *gin.Context) {
	c.JSON(http.StatusOK, h.usage.GetStats())
}

type limitRequest struct {
	CredentialID string `json:"credential_id" binding:"required"`
	DailyLimit   int64  `json:"daily_limit"`
}

// POST /v0/management/usage/limits
//
// Sets (or clears, with 0) a credential's daily token limit. The limit
// persists through the storage backend and feeds quota admission.
func (h *Handler) SetUsageLimit(c *gin.Context) {
	var req limitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": err.Error()}})
		return
	}
	if req.DailyLimit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": "daily_limit must be >= 0"}})
		return
	}
	if err := h.usage.SetDailyLimit(c.Request.Context(), req.CredentialID, req.DailyLimit); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": err.Error()}})
		return
	}
	log.WithFields(log.Fields{"credential": req.CredentialID, "daily_limit": req.DailyLimit}).Info("usage limit updated")
	c.JSON(http.StatusOK, gin.H{"credential_id": req.CredentialID, "daily_limit": req.DailyLimit})
}

// POST /v0/management/config/reload
func (h *Handler) ReloadConfig(c *gin.Context) {
	if h.reload == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": gin.H{"message": "reload not wired"}})
		return
	}
	version, err := h.reload("management_api")
	if err != nil {
		// 旧快照继续生效，错误如实上报
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":          gin.H{"message": err.Error()},
			"active_version": version,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reloaded": true, "active_version": version})
}
