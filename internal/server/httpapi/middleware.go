package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/filegate/internal/common"
	"github.com/dmitrijs2005/filegate/internal/logging"
	"github.com/dmitrijs2005/filegate/internal/server/auth"
	"github.com/dmitrijs2005/filegate/internal/server/models"
	"github.com/gin-gonic/gin"
)

const userKey = "filegate.user"

// AuthMiddleware resolves the bearer token into a models.AuthUser stored
// on the gin context. Requests without a valid token stop with 401.
func AuthMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := auth.BearerToken(c.GetHeader(common.AuthorizationHeaderName))
		if !ok {
			c.String(http.StatusUnauthorized, "missing token")
			c.Abort()
			return
		}

		userID, err := auth.GetUserIDFromToken(token, secret)
		if err != nil {
			msg := common.ErrInvalidToken.Error()
			if errors.Is(err, common.ErrTokenExpired) {
				msg = common.ErrTokenExpired.Error()
			}
			c.String(http.StatusUnauthorized, msg)
			c.Abort()
			return
		}

		c.Set(userKey, models.AuthUser{ID: userID})
		c.Next()
	}
}

// CurrentUser returns the caller set by AuthMiddleware.
func CurrentUser(c *gin.Context) (models.AuthUser, bool) {
	v, ok := c.Get(userKey)
	if !ok {
		return models.AuthUser{}, false
	}
	u, ok := v.(models.AuthUser)
	return u, ok
}

// LoggingMiddleware logs one line per request once it is served.
func LoggingMiddleware(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.Info(c.Request.Context(), "request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"bytes", c.Writer.Size(),
		)
	}
}
