// Package response 统一响应格式
//
// 约定：业务成功与业务失败都返回 HTTP 200，由 body 中的 success 区分；
// 只有 token 校验失败返回 401（登录密码错误属于业务失败，仍是 200）。传输层状态和业务状态是两件事，前端只看 success。
package response

import (
	"errors"
	"net/http"

	"genpix/internal/apperr"

	"github.com/gin-gonic/gin"
)

const internalMessage = "Something went wrong, please try again later"

// Success 成功响应，fields 平铺到顶层
func Success(c *gin.Context, fields gin.H) {
	body := gin.H{"success": true}
	for k, v := range fields {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}

// Fail 业务失败响应，HTTP 200
func Fail(c *gin.Context, message string) {
	c.JSON(http.StatusOK, gin.H{
		"success": false,
		"message": message,
	})
}

// Unauthorized 鉴权失败，HTTP 401 并中断后续处理
func Unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"message": message,
	})
}

// Error 把错误转换成业务失败响应
// Internal 错误不向客户端暴露细节，返回 false 提示调用方记录日志
func Error(c *gin.Context, err error) bool {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Kind == apperr.KindInternal {
		Fail(c, internalMessage)
		return false
	}

	body := gin.H{
		"success": false,
		"message": appErr.Message,
	}
	if appErr.Details != "" {
		body["details"] = appErr.Details
	}
	for k, v := range appErr.Fields {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
	return true
}
