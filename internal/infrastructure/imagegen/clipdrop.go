// Package imagegen 对接 ClipDrop text-to-image 接口
package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"time"

	"genpix/internal/config"
)

// FailureKind 上游失败分类
type FailureKind string

const (
	FailureUnauthorized  FailureKind = "unauthorized"   // 401
	FailureRateLimited   FailureKind = "rate_limited"   // 429
	FailureBadRequest    FailureKind = "bad_request"    // 400
	FailureQuotaExceeded FailureKind = "quota_exceeded" // 402
	FailureStatus        FailureKind = "status"         // 其他非 2xx
	FailureConnectivity  FailureKind = "connectivity"
	FailureTimeout       FailureKind = "timeout"
	FailureEmptyImage    FailureKind = "empty_image"
)

// UpstreamError ClipDrop 调用失败
type UpstreamError struct {
	Kind       FailureKind
	StatusCode int
	Detail     string // 上游返回的错误文本
	Cause      error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("clipdrop %s (%d): %s", e.Kind, e.StatusCode, e.Detail)
	case e.Cause != nil:
		return fmt.Sprintf("clipdrop %s: %v", e.Kind, e.Cause)
	default:
		return fmt.Sprintf("clipdrop %s", e.Kind)
	}
}

func (e *UpstreamError) Unwrap() error {
	return e.Cause
}

type ClipdropClient struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
}

func NewClipdropClient(cfg *config.ImageGenConfig) *ClipdropClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ClipdropClient{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
	}
}

// Configured API key 是否已配置
func (c *ClipdropClient) Configured() bool {
	return c.apiKey != ""
}

// Generate 以 multipart 表单提交 prompt，返回 PNG 原始字节
func (c *ClipdropClient) Generate(ctx context.Context, prompt string) ([]byte, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	if err := form.WriteField("prompt", prompt); err != nil {
		return nil, fmt.Errorf("构造表单失败: %w", err)
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("构造表单失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("构造请求失败: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UpstreamError{
			Kind:       kindForStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Detail:     errorDetail(data),
		}
	}

	if len(data) == 0 {
		return nil, &UpstreamError{Kind: FailureEmptyImage}
	}
	return data, nil
}

func kindForStatus(status int) FailureKind {
	switch status {
	case http.StatusUnauthorized:
		return FailureUnauthorized
	case http.StatusTooManyRequests:
		return FailureRateLimited
	case http.StatusBadRequest:
		return FailureBadRequest
	case http.StatusPaymentRequired:
		return FailureQuotaExceeded
	default:
		return FailureStatus
	}
}

func classifyTransportError(err error) *UpstreamError {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &UpstreamError{Kind: FailureTimeout, Cause: err}
	}
	return &UpstreamError{Kind: FailureConnectivity, Cause: err}
}

// errorDetail 上游错误体可能是 JSON（error / message 字段）也可能是纯文本
func errorDetail(data []byte) string {
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "Unknown API error"
	}

	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return text
}
