package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response is the JSON envelope of every relay reply. Err is a short
// machine readable code, Message the human readable detail.
type Response struct {
	Code    int    `json:"code"`
	Err     string `json:"err,omitempty"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Success sends a 200 with data
func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Error sends an error reply and aborts the handler chain
func Error(c *gin.Context, status int, err, message string) {
	c.AbortWithStatusJSON(status, Response{
		Code:    status,
		Err:     err,
		Message: message,
	})
}

// BadRequest sends a 400
func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, "bad_request", message)
}

// Unauthorized sends a 401
func Unauthorized(c *gin.Context, message string) {
	Error(c, http.StatusUnauthorized, "unauthorized", message)
}

// TooManyRequests sends a 429
func TooManyRequests(c *gin.Context) {
	Error(c, http.StatusTooManyRequests, "rate_limited", "Rate limit exceeded. Please try again later.")
}

// InternalError sends a 500
func InternalError(c *gin.Context, message string) {
	Error(c, http.StatusInternalServerError, "internal", message)
}
