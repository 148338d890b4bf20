package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/Wikid82/argus/internal/version"
)

// HealthHandler reports liveness and, when a database is attached, whether
// it answers.
type HealthHandler struct {
	db *gorm.DB
}

func NewHealthHandler(db *gorm.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

func (h *HealthHandler) Check(c *gin.Context) {
	body := gin.H{
		"status":     "ok",
		"service":    version.Name,
		"version":    version.Version,
		"build":      version.Full(),
		"git_commit": version.GitCommit,
		"build_time": version.BuildTime,
	}
	if h.db != nil {
		sqlDB, err := h.db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			GetLogger(c).WithError(err).Warn("health check: database unreachable")
			body["status"] = "degraded"
			body["database"] = "unreachable"
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
		body["database"] = "ok"
	}
	c.JSON(http.StatusOK, body)
}
