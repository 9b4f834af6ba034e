// Package auth は管理エンドポイント用のトークン認証を提供します。
package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// RequireStatsToken は Authorization: Bearer トークンを検証する
// ミドルウェアを返します。ハッシュが未設定の場合は全リクエストを拒否します。
func RequireStatsToken(tokenHash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokenHash == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":    "STATS_DISABLED",
				"message": "stats endpoint is not configured",
			})
			return
		}

		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "UNAUTHORIZED",
				"message": "bearer token is required",
			})
			return
		}

		if bcrypt.CompareHashAndPassword([]byte(tokenHash), []byte(token)) != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "UNAUTHORIZED",
				"message": "invalid token",
			})
			return
		}

		c.Next()
	}
}
