package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"pricecontest/internal/contest"
)

type apiResponse struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    any            `json:"data,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

func Ok(c *gin.Context, data any, meta map[string]any) {
	c.JSON(http.StatusOK, apiResponse{
		Code:    0,
		Message: "ok",
		Data:    data,
		Meta:    meta,
	})
}

func Error(c *gin.Context, status int, message string, meta map[string]any) {
	c.JSON(status, apiResponse{
		Code:    status,
		Message: message,
		Meta:    meta,
	})
}

// ErrorFrom maps contest errors to their HTTP status. Anything unknown is a 500.
func ErrorFrom(c *gin.Context, err error) {
	Error(c, statusFor(err), err.Error(), nil)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, contest.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, contest.ErrWindowClosed):
		return http.StatusForbidden
	case errors.Is(err, contest.ErrDuplicateSubmission), errors.Is(err, contest.ErrSettlementInProgress):
		return http.StatusConflict
	case errors.Is(err, contest.ErrPriceUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
