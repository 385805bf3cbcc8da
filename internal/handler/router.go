package handler

import (
	"net/http"

	"genpix/internal/auth"
	"genpix/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RouterDeps 路由需要的组件
type RouterDeps struct {
	Handler     *Handler
	Tokens      *auth.TokenManager
	Metrics     *metrics.Metrics
	Log         logrus.FieldLogger
	CORSOrigins []string
}

// SetupRouter 配置路由
func SetupRouter(d RouterDeps) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware(d.Log))
	r.Use(LoggerMiddleware(d.Log, d.Metrics))
	r.Use(CORSMiddleware(d.CORSOrigins))

	h := d.Handler

	user := r.Group("/api/user")
	{
		user.POST("/register", h.Register)
		user.POST("/login", h.Login)

		authed := user.Group("", AuthMiddleware(d.Tokens))
		{
			authed.GET("/credits", h.Credits)
			authed.POST("/pay-razor", h.CreateOrder)
			authed.POST("/verify-razor", h.VerifyOrder)
			authed.POST("/generate-image", h.GenerateImage)
		}
	}

	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "API Working fine")
	})

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))

	return r
}
