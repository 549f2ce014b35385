package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const USER_ID_KEY = "user_id"

// TokenResolver возвращает владельца токена (services.UserService)
type TokenResolver interface {
	UserIDByToken(ctx context.Context, token string) (int64, error)
}

// AuthMiddleware - проверка токена из заголовка Authorization: Bearer <token>.
// При успехе кладёт id пользователя в контекст под ключом user_id.
func AuthMiddleware(resolver TokenResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		userID, err := resolver.UserIDByToken(c.Request.Context(), strings.TrimSpace(token))
		if err != nil {
			logrus.WithError(err).Debug("token rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		c.Set(USER_ID_KEY, userID)
		c.Next()
	}
}
