package service

import (
	"context"

	"genpix/internal/infrastructure/payment"
	"genpix/internal/model"
)

// 服务依赖的存储与外部网关，生产实现在 repository / infrastructure 下

type UserStore interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
}

type TransactionStore interface {
	Create(ctx context.Context, trans *model.Transaction) error
	Delete(ctx context.Context, id string) error
}

// LedgerStore 跨表的原子账本操作
type LedgerStore interface {
	ApplyPayment(ctx context.Context, transactionID string) (*model.Transaction, int64, error)
	SpendCredit(ctx context.Context, userID string) (int64, error)
}

type PaymentGateway interface {
	Currency() string
	CreateOrder(ctx context.Context, req *payment.CreateOrderRequest) (*payment.Order, error)
	FetchOrder(ctx context.Context, orderID string) (*payment.Order, error)
}

type ImageGenerator interface {
	Configured() bool
	Generate(ctx context.Context, prompt string) ([]byte, error)
}

// Locker 返回的函数用于释放锁
type Locker interface {
	Acquire(ctx context.Context, key, owner string) (func(), error)
}
