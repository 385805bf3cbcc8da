package handler

import (
	"genpix/internal/service"
	"genpix/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	users    *service.UserService
	payments *service.PaymentService
	images   *service.ImageService
	log      logrus.FieldLogger
}

func NewHandler(users *service.UserService, payments *service.PaymentService, images *service.ImageService, log logrus.FieldLogger) *Handler {
	return &Handler{
		users:    users,
		payments: payments,
		images:   images,
		log:      log.WithField("component", "Handler"),
	}
}

// fail 写业务失败响应，内部错误只记日志不外露
func (h *Handler) fail(c *gin.Context, err error) {
	if !response.Error(c, err) {
		h.log.WithError(err).WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
		}).Error("请求处理失败")
	}
}

// bind 解析失败时按空请求处理，由服务层返回校验错误
func bind(c *gin.Context, req interface{}) {
	_ = c.ShouldBindJSON(req)
}

// ============================================================
// 用户相关接口
// ============================================================

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register 注册
// POST /api/user/register
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	bind(c, &req)

	res, err := h.users.Register(c.Request.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, gin.H{
		"token": res.Token,
		"user":  res.User,
	})
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login 登录
// POST /api/user/login
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	bind(c, &req)

	res, err := h.users.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, gin.H{
		"token": res.Token,
		"user":  res.User,
	})
}

// Credits 查询余额
// GET /api/user/credits
func (h *Handler) Credits(c *gin.Context) {
	res, err := h.users.GetCredits(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, gin.H{
		"credits": res.Credits,
		"user":    res.User,
	})
}

// ============================================================
// 充值相关接口
// ============================================================

type CreateOrderRequest struct {
	PlanID string `json:"planId"`
}

// CreateOrder 创建充值订单
// POST /api/user/pay-razor
func (h *Handler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	bind(c, &req)

	order, err := h.payments.CreateOrder(c.Request.Context(), currentUserID(c), req.PlanID)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, gin.H{"order": order})
}

type VerifyOrderRequest struct {
	OrderID string `json:"razorpay_order_id"`
}

// VerifyOrder 支付完成后校验入账
// POST /api/user/verify-razor
func (h *Handler) VerifyOrder(c *gin.Context) {
	var req VerifyOrderRequest
	bind(c, &req)

	res, err := h.payments.VerifyOrder(c.Request.Context(), req.OrderID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !res.Applied {
		response.Fail(c, res.Message)
		return
	}

	response.Success(c, gin.H{"message": res.Message})
}

// ============================================================
// 生图接口
// ============================================================

type GenerateImageRequest struct {
	Prompt string `json:"prompt"`
}

// GenerateImage 消耗一个点数生成图片
// POST /api/user/generate-image
func (h *Handler) GenerateImage(c *gin.Context) {
	var req GenerateImageRequest
	bind(c, &req)

	res, err := h.images.Generate(c.Request.Context(), currentUserID(c), req.Prompt)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, gin.H{
		"message":       "Image generated successfully",
		"image":         res.Image,
		"creditBalance": res.CreditBalance,
	})
}
