package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"genpix/internal/apperr"
	"genpix/internal/auth"
	"genpix/internal/model"
	"genpix/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type UserService struct {
	users          UserStore
	tokens         *auth.TokenManager
	hasher         *auth.PasswordHasher
	initialCredits int64
	log            logrus.FieldLogger
}

func NewUserService(users UserStore, tokens *auth.TokenManager, hasher *auth.PasswordHasher, initialCredits int64, log logrus.FieldLogger) *UserService {
	return &UserService{
		users:          users,
		tokens:         tokens,
		hasher:         hasher,
		initialCredits: initialCredits,
		log:            log.WithField("component", "UserService"),
	}
}

// AuthResult 注册/登录结果
type AuthResult struct {
	Token string              `json:"token"`
	User  model.PublicProfile `json:"user"`
}

// CreditsResult 余额查询结果
type CreditsResult struct {
	Credits int64               `json:"credits"`
	User    model.PublicProfile `json:"user"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *UserService) Register(ctx context.Context, name, email, password string) (*AuthResult, error) {
	name = strings.TrimSpace(name)
	email = normalizeEmail(email)
	if name == "" || email == "" || strings.TrimSpace(password) == "" {
		return nil, apperr.Validation("Please fill all the fields")
	}
	if len(password) > auth.MaxPasswordBytes {
		return nil, apperr.Validation(fmt.Sprintf("Password must be %d bytes or less", auth.MaxPasswordBytes))
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, apperr.Conflict("Email already registered")
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, apperr.Internal(err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	user := &model.User{
		ID:            uuid.NewString(),
		Name:          name,
		Email:         email,
		Password:      hash,
		CreditBalance: s.initialCredits,
	}
	if err := s.users.Create(ctx, user); err != nil {
		// 预检查和插入之间被并发注册抢先，由唯一索引兜底
		if errors.Is(err, repository.ErrEmailTaken) {
			return nil, apperr.Conflict("Email already registered")
		}
		return nil, apperr.Internal(err)
	}

	s.log.WithField("user_id", user.ID).Info("用户注册成功")
	return s.issue(user)
}

func (s *UserService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	user, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, apperr.NotFound("User not found")
		}
		return nil, apperr.Internal(err)
	}

	if err := s.hasher.Compare(user.Password, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, apperr.Auth("Invalid credentials")
		}
		// 库里的哈希格式异常也按凭证错误处理，但要留日志
		s.log.WithError(err).WithField("user_id", user.ID).Warn("密码哈希校验异常")
		return nil, apperr.Auth("Invalid credentials")
	}

	return s.issue(user)
}

// GetCredits userID 只来自已校验的 token
func (s *UserService) GetCredits(ctx context.Context, userID string) (*CreditsResult, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, apperr.NotFound("User not found")
		}
		return nil, apperr.Internal(err)
	}

	return &CreditsResult{
		Credits: user.CreditBalance,
		User:    user.Profile(),
	}, nil
}

func (s *UserService) issue(user *model.User) (*AuthResult, error) {
	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return &AuthResult{Token: token, User: user.Profile()}, nil
}
