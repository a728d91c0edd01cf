package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"pricecontest/internal/contest"
	"pricecontest/internal/repository"
	"pricecontest/internal/service"
)

const apiSurface = "api"

type ContestHandler struct {
	Repo       repository.Repository
	Window     *service.WindowService
	Submission *service.SubmissionService
	Settlement *service.SettlementService
	Stats      *service.StatsService
}

func (h *ContestHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1")
	g.GET("/window", h.getWindow)
	g.POST("/window/open", h.openWindow)
	g.POST("/window/close", h.closeWindow)

	g.POST("/predictions", h.submit)
	g.GET("/predictions", h.listPredictions)

	g.POST("/settlements/run", h.runSettlement)
	g.GET("/settlements", h.listSettlements)
	g.GET("/leaderboard", h.leaderboard)

	g.GET("/users/:id/stats", h.userStats)
}

func (h *ContestHandler) getWindow(c *gin.Context) {
	if h.Window == nil {
		Error(c, http.StatusInternalServerError, "window service unavailable", nil)
		return
	}
	st, err := h.Window.State(c.Request.Context())
	if err != nil {
		ErrorFrom(c, err)
		return
	}
	Ok(c, gin.H{
		"open":       st.Open,
		"changed_at": st.ChangedAt,
		"changed_by": st.ChangedBy,
		"period":     h.Window.Period(),
	}, nil)
}

func (h *ContestHandler) openWindow(c *gin.Context) {
	h.transition(c, true)
}

func (h *ContestHandler) closeWindow(c *gin.Context) {
	h.transition(c, false)
}

func (h *ContestHandler) transition(c *gin.Context, open bool) {
	if h.Window == nil {
		Error(c, http.StatusInternalServerError, "window service unavailable", nil)
		return
	}
	var (
		changed bool
		err     error
	)
	trigger := service.ManualTrigger(apiSurface)
	if open {
		changed, err = h.Window.Open(c.Request.Context(), trigger)
	} else {
		changed, err = h.Window.Close(c.Request.Context(), trigger)
	}
	if err != nil {
		ErrorFrom(c, err)
		return
	}
	Ok(c, gin.H{"open": open, "changed": changed}, nil)
}

type submitRequest struct {
	UserID      string            `json:"user_id"`
	Username    string            `json:"username"`
	Predictions map[string]string `json:"predictions"`
}

func (h *ContestHandler) submit(c *gin.Context) {
	if h.Submission == nil {
		Error(c, http.StatusInternalServerError, "submission service unavailable", nil)
		return
	}
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	res, err := h.Submission.Submit(c.Request.Context(), service.SubmitRequest{
		UserID:      req.UserID,
		Username:    req.Username,
		Predictions: req.Predictions,
	})
	if err != nil {
		ErrorFrom(c, err)
		return
	}
	Ok(c, res, nil)
}

func (h *ContestHandler) listPredictions(c *gin.Context) {
	if h.Submission == nil {
		Error(c, http.StatusInternalServerError, "submission service unavailable", nil)
		return
	}
	period, err := periodQuery(c, h.Submission.CurrentPeriod())
	if err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	p := period.String()
	limit := intQuery(c, "limit", 200)
	offset := intQuery(c, "offset", 0)
	params := repository.ListPredictionsParams{
		Limit:  limit,
		Offset: offset,
		Period: &p,
		UserID: strQueryPtr(c, "user_id"),
		Status: strQueryPtr(c, "status"),
		Asc:    boolPtr(true),
	}
	items, total, err := h.Submission.List(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

func (h *ContestHandler) runSettlement(c *gin.Context) {
	if h.Window == nil || h.Settlement == nil {
		Error(c, http.StatusInternalServerError, "settlement service unavailable", nil)
		return
	}
	period, err := periodQuery(c, h.Window.Period())
	if err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	out, err := h.Settlement.Run(c.Request.Context(), period, service.ManualTrigger(apiSurface))
	if err != nil {
		if errors.Is(err, contest.ErrSettlementInProgress) && out != nil {
			Error(c, http.StatusConflict, err.Error(), map[string]any{"outcome": out.Outcome})
			return
		}
		ErrorFrom(c, err)
		return
	}
	Ok(c, out, nil)
}

func (h *ContestHandler) listSettlements(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	items, err := h.Repo.ListSettlementRuns(c.Request.Context(), repository.ListSettlementRunsParams{
		Limit:  limit,
		Offset: offset,
		Period: strQueryPtr(c, "period"),
	})
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, map[string]any{"limit": limit, "offset": offset})
}

func (h *ContestHandler) leaderboard(c *gin.Context) {
	if h.Window == nil || h.Settlement == nil {
		Error(c, http.StatusInternalServerError, "settlement service unavailable", nil)
		return
	}
	period, err := periodQuery(c, h.Window.Period())
	if err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	lb, err := h.Settlement.Leaderboard(c.Request.Context(), period)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, lb, map[string]any{"text": lb.Text()})
}

func (h *ContestHandler) userStats(c *gin.Context) {
	if h.Stats == nil {
		Error(c, http.StatusInternalServerError, "stats service unavailable", nil)
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		Error(c, http.StatusBadRequest, "invalid user id", nil)
		return
	}
	view, err := h.Stats.UserStats(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if view == nil {
		Error(c, http.StatusNotFound, "user not found", nil)
		return
	}
	Ok(c, view, nil)
}
