package repository

import (
	"context"
	"errors"

	"genpix/internal/model"

	"gorm.io/gorm"
)

var (
	ErrTransactionNotFound = errors.New("充值流水不存在")
	ErrPaymentApplied      = errors.New("该笔充值已入账")
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, trans *model.Transaction) error {
	return r.db.WithContext(ctx).Create(trans).Error
}

func (r *TransactionRepository) GetByID(ctx context.Context, tx *gorm.DB, id string) (*model.Transaction, error) {
	if tx == nil {
		tx = r.db
	}

	var trans model.Transaction
	err := tx.WithContext(ctx).Where("id = ?", id).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &trans, nil
}

// Delete 下单失败时的补偿删除，只删除未入账的流水
func (r *TransactionRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Where("id = ? AND payment = ?", id, false).
		Delete(&model.Transaction{}).Error
}

// MarkPaid 把 payment 从 false 改成 true
// 条件更新保证只有一个请求能成功，其余返回 ErrPaymentApplied
func (r *TransactionRepository) MarkPaid(ctx context.Context, tx *gorm.DB, id string) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("id = ? AND payment = ?", id, false).
		Update("payment", true)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrPaymentApplied
	}
	return nil
}
