package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/docstream/corpusd/internal/logger"
)

const ownerHeader = "X-Owner-ID"

// ownerKey is the Gin context key the authenticated owner is stored under.
const ownerKey = "owner_id"

// RequireOwner extracts the caller's owner identity from the X-Owner-ID
// header. Requests without one are rejected; owner identity scopes every
// read and write behind this middleware.
func RequireOwner() gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID := c.GetHeader(ownerHeader)
		if ownerID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "X-Owner-ID header is required",
			})
			return
		}

		c.Set(ownerKey, ownerID)
		ctx := logger.SetOwnerID(c.Request.Context(), ownerID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// OwnerID returns the authenticated owner for the request. It is only valid
// behind RequireOwner.
func OwnerID(c *gin.Context) string {
	return c.GetString(ownerKey)
}
