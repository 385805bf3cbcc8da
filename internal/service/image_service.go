package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"genpix/internal/apperr"
	"genpix/internal/infrastructure/imagegen"
	"genpix/internal/metrics"
	"genpix/internal/repository"

	"github.com/sirupsen/logrus"
)

const dataURIPrefix = "data:image/png;base64,"

// ImageService 付费生图：校验 -> 调用 ClipDrop -> 扣一个点数
type ImageService struct {
	users           UserStore
	ledger          LedgerStore
	generator       ImageGenerator
	maxPromptLength int
	metrics         *metrics.Metrics
	log             logrus.FieldLogger
}

func NewImageService(users UserStore, ledger LedgerStore, generator ImageGenerator, maxPromptLength int, m *metrics.Metrics, log logrus.FieldLogger) *ImageService {
	return &ImageService{
		users:           users,
		ledger:          ledger,
		generator:       generator,
		maxPromptLength: maxPromptLength,
		metrics:         m,
		log:             log.WithField("component", "ImageService"),
	}
}

type ImageResult struct {
	Image         string `json:"image"`
	CreditBalance int64  `json:"creditBalance"`
}

// Generate 任何失败路径都不扣点数
func (s *ImageService) Generate(ctx context.Context, userID, prompt string) (*ImageResult, error) {
	if !s.generator.Configured() {
		s.log.Error("CLIPDROP_API_KEY 未配置")
		return nil, apperr.Config("Server configuration error: API key not found")
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, apperr.NotFound("User not found")
		}
		return nil, apperr.Internal(err)
	}

	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, apperr.Validation("Prompt is required")
	}
	if utf8.RuneCountInString(prompt) > s.maxPromptLength {
		return nil, apperr.Validation(fmt.Sprintf("Prompt must be %d characters or less", s.maxPromptLength))
	}

	// 快速失败，避免没有点数还去调上游；真正的扣减是下面的条件更新
	if user.CreditBalance <= 0 {
		return nil, apperr.InsufficientCredits(user.CreditBalance)
	}

	// 上游调用开始后不随客户端断开而取消，超时由 HTTP 客户端控制
	ctx = context.WithoutCancel(ctx)

	data, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		return nil, s.upstreamError(userID, err)
	}
	if len(data) == 0 {
		return nil, s.upstreamError(userID, &imagegen.UpstreamError{Kind: imagegen.FailureEmptyImage})
	}

	balance, err := s.ledger.SpendCredit(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrInsufficientCredits) {
			// 并发请求已把点数用完，这张图不交付
			s.log.WithField("user_id", userID).Warn("扣减时点数不足，丢弃生成结果")
			return nil, apperr.InsufficientCredits(0)
		}
		return nil, apperr.Internal(err)
	}

	s.metrics.ImageGenerated()
	s.log.WithFields(logrus.Fields{
		"user_id": userID,
		"bytes":   len(data),
		"balance": balance,
	}).Info("生图成功")

	return &ImageResult{
		Image:         dataURIPrefix + base64.StdEncoding.EncodeToString(data),
		CreditBalance: balance,
	}, nil
}

func (s *ImageService) upstreamError(userID string, err error) error {
	var upErr *imagegen.UpstreamError
	if !errors.As(err, &upErr) {
		s.log.WithError(err).WithField("user_id", userID).Error("生图失败")
		return apperr.Upstream("Image generation failed: "+err.Error(), "", err)
	}

	s.metrics.UpstreamFailure(string(upErr.Kind))
	s.log.WithError(err).WithFields(logrus.Fields{
		"user_id": userID,
		"kind":    upErr.Kind,
		"status":  upErr.StatusCode,
	}).Error("ClipDrop 调用失败")

	message, details := UpstreamMessage(upErr)
	return apperr.Upstream(message, details, err)
}

// UpstreamMessage 上游失败对应的用户提示
func UpstreamMessage(e *imagegen.UpstreamError) (message, details string) {
	switch e.Kind {
	case imagegen.FailureUnauthorized:
		return "API authentication failed. Please verify your ClipDrop API key is correct and active.", e.Detail
	case imagegen.FailureRateLimited:
		return "API rate limit exceeded. Please try again in a few minutes.", e.Detail
	case imagegen.FailureBadRequest:
		return "Invalid request format or parameters.", e.Detail
	case imagegen.FailureQuotaExceeded:
		return "API quota exceeded. Please check your ClipDrop account.", e.Detail
	case imagegen.FailureStatus:
		return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Detail), ""
	case imagegen.FailureTimeout:
		return "Request timeout. The image generation is taking too long. Please try again.", ""
	case imagegen.FailureConnectivity:
		return "Failed to connect to image generation service. Please check your internet connection and try again.", ""
	default:
		return "Image generation failed: Empty response from ClipDrop API", ""
	}
}
