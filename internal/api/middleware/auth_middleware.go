package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"cardDesigner/internal/auth"
)

const subjectKey = "subject"

func abortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}

// bearerToken 解析 "Bearer <token>"，scheme 大小写不敏感。
func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	token = strings.TrimSpace(token)
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" || strings.ContainsAny(token, " \t") {
		return "", false
	}
	return token, true
}

// AuthMiddleware 校验访问令牌与 scope，并将调用方 subject 注入上下文。
// authService 为 nil 表示未配置公钥，写接口不做鉴权。
func AuthMiddleware(authService *auth.AuthService, scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if authService == nil {
			c.Next()
			return
		}

		rawToken, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			abortUnauthorized(c)
			return
		}

		claims, err := authService.ValidateToken(rawToken)
		if err != nil || claims.TokenType != "access" {
			abortUnauthorized(c)
			return
		}
		if scope != "" && !claims.HasScope(scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient scope"})
			return
		}

		// 卡片设计只有一份，subject 仅用于日志审计是谁覆盖了设计。
		c.Set(subjectKey, claims.Subject)
		c.Next()
	}
}

// GetSubject 返回令牌中的 subject，未鉴权时为空。
func GetSubject(c *gin.Context) string {
	return c.GetString(subjectKey)
}
