package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/jengzang/dining-presence-go/pkg/response"
)

// UserIDKey is the gin context key holding the authenticated user id
const UserIDKey = "userID"

// Verifier checks that token was issued to id
type Verifier interface {
	Verify(id, token string) error
}

// BasicAuth authenticates "Authorization: Basic id:token" requests
func BasicAuth(v Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, token, ok := c.Request.BasicAuth()
		if !ok || id == "" || token == "" {
			c.Header("WWW-Authenticate", `Basic realm="presence"`)
			response.Unauthorized(c, "missing credentials")
			return
		}
		if err := v.Verify(id, token); err != nil {
			response.Unauthorized(c, "invalid credentials")
			return
		}
		c.Set(UserIDKey, id)
		c.Next()
	}
}
