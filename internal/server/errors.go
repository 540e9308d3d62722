package server

import (
	"errors"
	"net/http"

	"github.com/book-expert/tts-stream-service/internal/core"
	"github.com/gin-gonic/gin"
)

const logFmtRequestFailed = "Request to %s failed: %v"

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (s *Server) abortWithError(c *gin.Context, status int, code, message, errorType string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: code, Message: message, Type: errorType})
}

// abortWithCause maps err onto a status: validation failures are client errors,
// everything else is a server error.
func (s *Server) abortWithCause(c *gin.Context, err error) {
	var validationErr *core.ValidationError
	if errors.As(err, &validationErr) {
		status := http.StatusBadRequest
		if validationErr.Code == core.CodeModelNotFound || validationErr.Code == core.CodeNotFound {
			status = http.StatusNotFound
		}

		s.abortWithError(c, status, validationErr.Code, validationErr.Message, core.ErrorTypeInvalidRequest)

		return
	}

	s.deps.Log.Error(logFmtRequestFailed, c.Request.URL.Path, err)
	s.abortWithError(c, http.StatusInternalServerError, core.CodeProcessingError, err.Error(), core.ErrorTypeServer)
}
