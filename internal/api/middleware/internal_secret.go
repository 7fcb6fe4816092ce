package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// InternalSecretHeader 携带 worker 与 API 之间共享的密钥。
const InternalSecretHeader = "X-Internal-Secret"

// InternalSecretMiddleware 保护仅供 worker 调用的打印数据接口。
func InternalSecretMiddleware(secret string) gin.HandlerFunc {
	expected := []byte(strings.TrimSpace(secret))
	return func(c *gin.Context) {
		if len(expected) == 0 {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal api secret is not configured"})
			return
		}
		// 只认 Header，query 参数会出现在访问日志里。
		token := []byte(strings.TrimSpace(c.GetHeader(InternalSecretHeader)))
		if subtle.ConstantTimeCompare(token, expected) != 1 {
			LoggerFromContext(c).Warn("internal request rejected", slog.String("client_ip", c.ClientIP()))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
