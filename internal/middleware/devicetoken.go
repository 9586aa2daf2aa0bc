package middleware

import (
	"crypto/subtle"

	"github.com/gin-gonic/gin"

	appErrors "github.com/dormtrack/roomcheck-api/pkg/errors"
	"github.com/dormtrack/roomcheck-api/pkg/response"
)

// DeviceToken authenticates the hardware-facing endpoints with the shared
// X-Api-Token header. Sensors cannot hold per-user credentials.
func DeviceToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "device API disabled"))
			c.Abort()
			return
		}
		provided := c.GetHeader("X-Api-Token")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid device token"))
			c.Abort()
			return
		}
		c.Next()
	}
}
