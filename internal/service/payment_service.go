package service

import (
	"context"
	"errors"
	"strings"

	"genpix/internal/apperr"
	"genpix/internal/infrastructure/lock"
	"genpix/internal/infrastructure/payment"
	"genpix/internal/metrics"
	"genpix/internal/model"
	"genpix/internal/repository"
	"genpix/pkg/idgen"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// PaymentService 充值流程
//
// 流水状态：Created -> PaymentVerified（终态），未支付的流水一直停留在 Created
type PaymentService struct {
	users        UserStore
	transactions TransactionStore
	ledger       LedgerStore
	gateway      PaymentGateway
	locker       Locker
	metrics      *metrics.Metrics
	log          logrus.FieldLogger
}

func NewPaymentService(
	users UserStore,
	transactions TransactionStore,
	ledger LedgerStore,
	gateway PaymentGateway,
	locker Locker,
	m *metrics.Metrics,
	log logrus.FieldLogger,
) *PaymentService {
	return &PaymentService{
		users:        users,
		transactions: transactions,
		ledger:       ledger,
		gateway:      gateway,
		locker:       locker,
		metrics:      m,
		log:          log.WithField("component", "PaymentService"),
	}
}

// VerifyResult 校验结果；Applied=false 表示网关侧尚未支付
type VerifyResult struct {
	Applied bool
	Message string
	Balance int64
}

const (
	msgPaymentVerified   = "Payment verified successfully"
	msgPaymentNotSuccess = "Payment not successful"
)

// CreateOrder 创建充值订单
//
//  1. 校验套餐（在任何写库之前）
//  2. 校验用户存在
//  3. 写入流水（Created）
//  4. 网关下单，金额 ×100，receipt 为流水号
//  5. 网关失败时删除刚写入的流水，不留孤儿记录
func (s *PaymentService) CreateOrder(ctx context.Context, userID, planID string) (*payment.Order, error) {
	plan, err := model.LookupPlan(planID)
	if err != nil {
		return nil, apperr.Validation("Invalid plan ID")
	}

	if _, err := s.users.GetByID(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, apperr.NotFound("User not found")
		}
		return nil, apperr.Internal(err)
	}

	trans := &model.Transaction{
		ID:      idgen.GenerateTransactionID(),
		UserID:  userID,
		Plan:    plan.Name,
		Credits: plan.Credits,
		Amount:  plan.Amount,
	}
	if err := s.transactions.Create(ctx, trans); err != nil {
		return nil, apperr.Internal(err)
	}

	order, err := s.gateway.CreateOrder(ctx, &payment.CreateOrderRequest{
		Amount:   plan.MinorUnits(),
		Currency: s.gateway.Currency(),
		Receipt:  trans.ID,
	})
	if err != nil {
		logger := s.log.WithError(err).WithField("transaction_id", trans.ID)
		logger.Error("网关下单失败")

		if delErr := s.transactions.Delete(context.WithoutCancel(ctx), trans.ID); delErr != nil {
			logger.WithField("delete_error", delErr).Error("补偿删除流水失败")
		}
		return nil, apperr.Upstream("Failed to create payment order", "", err)
	}

	s.log.WithFields(logrus.Fields{
		"transaction_id": trans.ID,
		"order_id":       order.ID,
		"plan":           plan.Name,
	}).Info("充值订单已创建")
	return order, nil
}

// VerifyOrder 校验网关订单并入账
//
// 同一订单的并发校验先用分布式锁串行化；入账本身是一个数据库事务，
// payment 标记的条件更新保证同一流水最多入账一次
func (s *PaymentService) VerifyOrder(ctx context.Context, orderID string) (*VerifyResult, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, apperr.Validation("Order ID is required")
	}

	release, err := s.locker.Acquire(ctx, lock.VerifyOrderKey(orderID), uuid.NewString())
	if err != nil {
		if errors.Is(err, lock.ErrLockFailed) {
			return nil, apperr.Wrap(apperr.KindConflict, "Payment verification in progress, please retry", err)
		}
		s.log.WithError(err).WithField("order_id", orderID).Error("获取订单校验锁失败")
		return nil, apperr.Internal(err)
	}
	defer release()

	order, err := s.gateway.FetchOrder(ctx, orderID)
	if err != nil {
		s.log.WithError(err).WithField("order_id", orderID).Error("网关查单失败")
		return nil, apperr.Upstream("Failed to fetch payment order", "", err)
	}

	if !order.Paid() {
		return &VerifyResult{Applied: false, Message: msgPaymentNotSuccess}, nil
	}

	trans, balance, err := s.ledger.ApplyPayment(ctx, order.Receipt)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrPaymentApplied):
			return nil, apperr.Conflict("Payment already verified")
		case errors.Is(err, repository.ErrTransactionNotFound):
			return nil, apperr.NotFound("Transaction not found")
		case errors.Is(err, repository.ErrUserNotFound):
			return nil, apperr.NotFound("User not found")
		default:
			return nil, apperr.Internal(err)
		}
	}

	s.metrics.CreditsGranted(trans.Plan, trans.Credits)
	s.log.WithFields(logrus.Fields{
		"transaction_id": trans.ID,
		"order_id":       orderID,
		"user_id":        trans.UserID,
		"credits":        trans.Credits,
		"balance":        balance,
	}).Info("充值入账成功")

	return &VerifyResult{Applied: true, Message: msgPaymentVerified, Balance: balance}, nil
}
