package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ScopeCardDesignWrite 允许保存卡片设计、上传背景与提交打印任务。
const ScopeCardDesignWrite = "card-design:write"

// AuthService 只负责校验外部身份服务签发的访问令牌，本服务不签发令牌。
type AuthService struct {
	publicKey *rsa.PublicKey
}

// TokenClaims 表示 JWT 中的业务字段，便于中间件读取调用方信息。
type TokenClaims struct {
	TokenType string `json:"token_type"`
	Scope     string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// HasScope 报告令牌是否包含 scope。没有声明 scope 的访问令牌视为拥有全部权限。
func (c *TokenClaims) HasScope(scope string) bool {
	if strings.TrimSpace(c.Scope) == "" {
		return true
	}
	for _, s := range strings.Fields(c.Scope) {
		if s == scope {
			return true
		}
	}
	return false
}

// NewAuthService 解析 PEM 公钥并构造服务实例。
func NewAuthService(publicKeyPEM []byte) (*AuthService, error) {
	if len(publicKeyPEM) == 0 {
		return nil, errors.New("public key pem is required")
	}
	publicKey, err := jwt.ParseRSAPublicKeyFromPEM(publicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse rsa public key: %w", err)
	}
	return &AuthService{publicKey: publicKey}, nil
}

// ValidateToken 解析并验证 JWT。
func (s *AuthService) ValidateToken(tokenString string) (*TokenClaims, error) {
	if tokenString == "" {
		return nil, errors.New("token string is empty")
	}

	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != jwt.SigningMethodRS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %s", token.Method.Alg())
		}
		return s.publicKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}

	return claims, nil
}
