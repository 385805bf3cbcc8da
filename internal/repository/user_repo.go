package repository

import (
	"context"
	"errors"

	"genpix/internal/model"

	"gorm.io/gorm"
)

var (
	ErrUserNotFound        = errors.New("用户不存在")
	ErrEmailTaken          = errors.New("邮箱已注册")
	ErrInsufficientCredits = errors.New("点数不足")
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	err := r.db.WithContext(ctx).Create(user).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrEmailTaken
	}
	return err
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.first(ctx, "email = ?", email)
}

func (r *UserRepository) first(ctx context.Context, query string, arg interface{}) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).Where(query, arg).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// DecrementCredit 条件原子扣减一个点数
//
// 检查和扣减合并成一条 UPDATE ... WHERE credit_balance > 0，
// 同一用户并发请求时余额不会被扣成负数
func (r *UserRepository) DecrementCredit(ctx context.Context, tx *gorm.DB, userID string) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.User{}).
		Where("id = ? AND credit_balance > 0", userID).
		UpdateColumn("credit_balance", gorm.Expr("credit_balance - 1"))

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrInsufficientCredits
	}
	return nil
}

func (r *UserRepository) IncreaseCredits(ctx context.Context, tx *gorm.DB, userID string, credits int64) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.User{}).
		Where("id = ?", userID).
		UpdateColumn("credit_balance", gorm.Expr("credit_balance + ?", credits))

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *UserRepository) GetBalance(ctx context.Context, tx *gorm.DB, userID string) (int64, error) {
	if tx == nil {
		tx = r.db
	}

	var balances []int64
	err := tx.WithContext(ctx).
		Model(&model.User{}).
		Where("id = ?", userID).
		Pluck("credit_balance", &balances).Error
	if err != nil {
		return 0, err
	}
	if len(balances) == 0 {
		return 0, ErrUserNotFound
	}
	return balances[0], nil
}
