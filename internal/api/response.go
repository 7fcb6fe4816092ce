package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"cardDesigner/internal/errcode"
)

func Error(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}

// ErrorCode 输出带业务码的错误，提示文案取 errcode 的默认值。
func ErrorCode(c *gin.Context, status, code int) {
	c.JSON(status, gin.H{"error": errcode.Message(code), "code": code})
}

func BadRequest(c *gin.Context, msg string)         { Error(c, http.StatusBadRequest, msg) }
func NotFound(c *gin.Context, msg string)           { Error(c, http.StatusNotFound, msg) }
func Conflict(c *gin.Context, msg string)           { Error(c, http.StatusConflict, msg) }
func Internal(c *gin.Context, msg string)           { Error(c, http.StatusInternalServerError, msg) }
func ServiceUnavailable(c *gin.Context, msg string) { Error(c, http.StatusServiceUnavailable, msg) }
