package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"forumsign/internal/plugin"
)

// Response is the envelope of every JSON reply.
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func respond(c *gin.Context, status, code int, message string, data any) {
	c.JSON(status, Response{Code: code, Message: message, Data: data})
}

func ok(c *gin.Context, data any) { respond(c, http.StatusOK, 0, "success", data) }

func fail(c *gin.Context, status int, message string) {
	respond(c, status, status, message, nil)
}

// failErr maps manager errors onto HTTP statuses.
func failErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, plugin.ErrUnknownPlugin):
		fail(c, http.StatusNotFound, err.Error())
	case errors.Is(err, plugin.ErrNotRunning):
		fail(c, http.StatusConflict, err.Error())
	case errors.Is(err, plugin.ErrNotSupported):
		fail(c, http.StatusNotImplemented, err.Error())
	default:
		fail(c, http.StatusInternalServerError, err.Error())
	}
}
