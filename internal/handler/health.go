package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"pricecontest/internal/service"
)

const readyTimeout = 2 * time.Second

// HealthHandler serves liveness and readiness. Readiness needs the database and reports the
// window so operators can see the contest state without credentials.
type HealthHandler struct {
	DB     *gorm.DB
	Window *service.WindowService
}

func (h *HealthHandler) Register(r *gin.Engine) {
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/readyz", h.ready)
}

func (h *HealthHandler) ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
	defer cancel()
	if status := pingDB(ctx, h.DB); status != "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": status})
		return
	}
	body := gin.H{"status": "ready"}
	if h.Window != nil {
		st, err := h.Window.State(ctx)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "settings_unreadable"})
			return
		}
		body["window_open"] = st.Open
		body["period"] = h.Window.Period()
	}
	c.JSON(http.StatusOK, body)
}

// pingDB returns "" when the database answers, or a short status otherwise.
func pingDB(ctx context.Context, db *gorm.DB) string {
	if db == nil {
		return "db_missing"
	}
	sqlDB, err := db.DB()
	if err != nil {
		return "db_error"
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return "db_unreachable"
	}
	return ""
}
