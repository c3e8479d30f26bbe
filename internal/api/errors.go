// internal/api/errors.go

package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solver-engine/internal/errs"
	"github.com/rovshanmuradov/solver-engine/internal/solver"
)

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	var ve *errs.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrInvalidTransition), errors.Is(err, errs.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, solver.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(c *gin.Context, err error) {
	code := statusFor(err)
	resp := errorResponse{Error: err.Error()}

	var ve *errs.ValidationError
	if errors.As(err, &ve) {
		resp.Field = ve.Field
	}
	if code == http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("route", c.FullPath()),
			zap.Error(err))
		resp.Error = "internal error"
	}
	c.AbortWithStatusJSON(code, resp)
}

func (h *Handler) badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: msg})
}
