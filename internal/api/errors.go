package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/roach88/loom/internal/model"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func statusFor(code model.ErrorCode) int {
	switch code {
	case model.ErrCodeValidation:
		return http.StatusBadRequest
	case model.ErrCodeNotFound:
		return http.StatusNotFound
	case model.ErrCodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with the status its code maps to. Unclassified errors
// are logged and reported without detail.
func (h *Handlers) fail(c *gin.Context, err error) {
	code := model.CodeOf(err)
	status := statusFor(code)
	msg := err.Error()
	if code == "" {
		code = "INTERNAL"
		msg = "internal error"
	}
	if status >= http.StatusInternalServerError {
		h.log.Errorf("%s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Code: string(code), Error: msg})
}

// badRequest reports a malformed request body or query.
func (h *Handlers) badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
		Code:  string(model.ErrCodeValidation),
		Error: err.Error(),
	})
}
