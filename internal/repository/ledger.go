package repository

import (
	"context"
	"time"

	"genpix/internal/config"
	"genpix/internal/model"

	"gorm.io/gorm"
)

// Ledger 账本写操作
//
// 每个方法都是一个数据库事务：余额变更、流水状态、待投递事件要么同时成功，要么同时回滚
type Ledger struct {
	db           *gorm.DB
	users        *UserRepository
	transactions *TransactionRepository
	outbox       *OutboxRepository
	topics       config.KafkaTopicConfig
	events       bool
	now          func() time.Time
}

func NewLedger(db *gorm.DB, topics config.KafkaTopicConfig) *Ledger {
	return &Ledger{
		db:           db,
		users:        NewUserRepository(db),
		transactions: NewTransactionRepository(db),
		outbox:       NewOutboxRepository(db),
		topics:       topics,
		events:       true,
		now:          time.Now,
	}
}

// WithoutEvents 不写 outbox，用于没有配置 Kafka broker 的部署
func (l *Ledger) WithoutEvents() *Ledger {
	l.events = false
	return l
}

func (l *Ledger) enqueue(ctx context.Context, tx *gorm.DB, topic string, event *model.LedgerEvent) error {
	if !l.events {
		return nil
	}
	return l.outbox.Enqueue(ctx, tx, topic, event)
}

// ApplyPayment 充值入账
//
//  1. 读取流水，已入账直接返回 ErrPaymentApplied
//  2. 条件更新 payment=false -> true，并发时只有一个事务能成功
//  3. 用户余额 + 套餐点数
//  4. 写入 CREDITS_PURCHASED 事件（WithoutEvents 时跳过）
func (l *Ledger) ApplyPayment(ctx context.Context, transactionID string) (*model.Transaction, int64, error) {
	var (
		trans   *model.Transaction
		balance int64
	)

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		trans, err = l.transactions.GetByID(ctx, tx, transactionID)
		if err != nil {
			return err
		}
		if trans.Payment {
			return ErrPaymentApplied
		}

		if err := l.transactions.MarkPaid(ctx, tx, trans.ID); err != nil {
			return err
		}
		if err := l.users.IncreaseCredits(ctx, tx, trans.UserID, trans.Credits); err != nil {
			return err
		}

		balance, err = l.users.GetBalance(ctx, tx, trans.UserID)
		if err != nil {
			return err
		}

		return l.enqueue(ctx, tx, l.topics.CreditsPurchased, &model.LedgerEvent{
			Event:         model.EventCreditsPurchased,
			UserID:        trans.UserID,
			TransactionID: trans.ID,
			Plan:          trans.Plan,
			Delta:         trans.Credits,
			Balance:       balance,
			OccurredAt:    l.now(),
		})
	})
	if err != nil {
		return nil, 0, err
	}

	trans.Payment = true
	return trans, balance, nil
}

// SpendCredit 扣减一个点数并写入 CREDITS_SPENT 事件，返回扣减后的余额
func (l *Ledger) SpendCredit(ctx context.Context, userID string) (int64, error) {
	var balance int64

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := l.users.DecrementCredit(ctx, tx, userID); err != nil {
			return err
		}

		var err error
		balance, err = l.users.GetBalance(ctx, tx, userID)
		if err != nil {
			return err
		}

		return l.enqueue(ctx, tx, l.topics.CreditsSpent, &model.LedgerEvent{
			Event:      model.EventCreditsSpent,
			UserID:     userID,
			Delta:      -1,
			Balance:    balance,
			OccurredAt: l.now(),
		})
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}
