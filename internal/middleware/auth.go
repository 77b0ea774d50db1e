package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// BearerAuth guards the management surface with a static bearer token. An
// empty expected token disables the check entirely; the server logs a
// warning about that at startup.
func BearerAuth(expectedToken string) gin.HandlerFunc {
	expectedToken = strings.TrimSpace(expectedToken)
	return func(c *gin.Context) {
		if expectedToken == "" {
			c.Next()
			return
		}

		authorization := c.GetHeader("Authorization")
		if !strings.HasPrefix(authorization, "Bearer ") ||
			strings.TrimSpace(authorization[7:]) != expectedToken {
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"message": "Invalid API key provided",
					"type":    "authentication_error",
					"code":    "invalid_api_key",
				},
			})
			return
		}
		c.Next()
	}
}
