// Package payment 对接 Razorpay 支付网关：下单、查单
package payment

import (
	"context"
	"encoding/json"
	"fmt"

	"genpix/internal/config"

	razorpay "github.com/razorpay/razorpay-go"
)

const StatusPaid = "paid"

// Order 网关订单，字段与 Razorpay 返回保持一致，前端用它拉起收银台
type Order struct {
	ID         string `json:"id"`
	Entity     string `json:"entity"`
	Amount     int64  `json:"amount"`
	AmountPaid int64  `json:"amount_paid"`
	AmountDue  int64  `json:"amount_due"`
	Currency   string `json:"currency"`
	Receipt    string `json:"receipt"`
	Status     string `json:"status"`
	Attempts   int    `json:"attempts"`
	CreatedAt  int64  `json:"created_at"`
}

func (o *Order) Paid() bool {
	return o.Status == StatusPaid
}

// CreateOrderRequest amount 为最小货币单位
type CreateOrderRequest struct {
	Amount   int64
	Currency string
	Receipt  string
}

// orderAPI razorpay-go 的 Order 资源，抽出来便于替换
type orderAPI interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
	Fetch(orderID string, queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// RazorpayGateway 在进程启动时构造一次并注入到服务里
type RazorpayGateway struct {
	orders   orderAPI
	currency string
}

func NewRazorpayGateway(cfg *config.RazorpayConfig) *RazorpayGateway {
	client := razorpay.NewClient(cfg.KeyID, cfg.KeySecret)
	return &RazorpayGateway{
		orders:   client.Order,
		currency: cfg.Currency,
	}
}

// Currency 下单使用的币种
func (g *RazorpayGateway) Currency() string {
	return g.currency
}

// CreateOrder SDK 不支持 ctx，取消只在调用前检查
func (g *RazorpayGateway) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	currency := req.Currency
	if currency == "" {
		currency = g.currency
	}

	raw, err := g.orders.Create(map[string]interface{}{
		"amount":   req.Amount,
		"currency": currency,
		"receipt":  req.Receipt,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("razorpay 创建订单失败: %w", err)
	}
	return decodeOrder(raw)
}

func (g *RazorpayGateway) FetchOrder(ctx context.Context, orderID string) (*Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := g.orders.Fetch(orderID, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("razorpay 查询订单失败: %w", err)
	}
	return decodeOrder(raw)
}

// decodeOrder SDK 返回 map，数字是 float64，借 JSON 转成结构体
func decodeOrder(raw map[string]interface{}) (*Order, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("解析订单失败: %w", err)
	}

	var order Order
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, fmt.Errorf("解析订单失败: %w", err)
	}
	if order.ID == "" {
		return nil, fmt.Errorf("解析订单失败: 缺少 id")
	}
	return &order, nil
}
