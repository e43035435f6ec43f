package httpapi

import (
	"errors"
	"net/http"

	"github.com/dmitrijs2005/filegate/internal/common"
	"github.com/gin-gonic/gin"
)

// StatusFor maps an error to its HTTP status by failure kind.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, common.ErrorBadRequest), errors.Is(err, common.ErrorInvalidPath):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrorUnauthorized),
		errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrTokenExpired):
		return http.StatusUnauthorized
	case errors.Is(err, common.ErrorNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrorConflict):
		return http.StatusConflict
	case errors.Is(err, common.ErrorUnprocessable):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeError answers with the status of err and its plain-text message.
// Internal failures are logged with full detail and answered generically.
func (h *FilesHandler) writeError(c *gin.Context, err error) {
	status := StatusFor(err)
	msg := common.Message(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(c.Request.Context(), "request failed",
			"method", c.Request.Method, "path", c.Request.URL.Path, "error", err)
		msg = common.ErrorInternal.Error()
	}
	c.String(status, msg)
}
