package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"genpix/internal/apperr"
	"genpix/internal/auth"
	"genpix/internal/infrastructure/imagegen"
	"genpix/internal/infrastructure/lock"
	"genpix/internal/metrics"
	"genpix/internal/testutil"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fixture struct {
	store     *testutil.Store
	gateway   *testutil.Gateway
	generator *testutil.Generator
	locker    *testutil.Locker
	tokens    *auth.TokenManager

	users    *UserService
	payments *PaymentService
	images   *ImageService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)
	m := metrics.New()

	f := &fixture{
		store:     testutil.NewStore(),
		gateway:   testutil.NewGateway(),
		generator: testutil.NewGenerator(),
		locker:    testutil.NewLocker(),
		tokens:    auth.NewTokenManager("test-secret", 0),
	}
	f.users = NewUserService(f.store, f.tokens, auth.NewPasswordHasher(bcrypt.MinCost), 0, log)
	f.payments = NewPaymentService(f.store, f.store.TransactionStore(), f.store, f.gateway, f.locker, m, log)
	f.images = NewImageService(f.store, f.store, f.generator, 1000, m, log)
	return f
}

// register 注册并返回用户 id
func (f *fixture) register(t *testing.T, email string) string {
	t.Helper()
	res, err := f.users.Register(context.Background(), "Alice", email, "s3cret")
	require.NoError(t, err)
	id, err := f.tokens.Verify(res.Token)
	require.NoError(t, err)
	return id
}

func TestRegisterThenLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reg, err := f.users.Register(ctx, "Alice", "a@x.io", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "Alice", reg.User.Name)

	login, err := f.users.Login(ctx, "a@x.io", "s3cret")
	require.NoError(t, err)

	regID, err := f.tokens.Verify(reg.Token)
	require.NoError(t, err)
	loginID, err := f.tokens.Verify(login.Token)
	require.NoError(t, err)
	assert.Equal(t, regID, loginID)
}

func TestRegister_NormalizesEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.users.Register(ctx, "Alice", "  A@X.io ", "s3cret")
	require.NoError(t, err)

	_, err = f.users.Login(ctx, "a@x.io", "s3cret")
	assert.NoError(t, err)
}

func TestRegister_MissingFields(t *testing.T) {
	f := newFixture(t)

	cases := []struct{ name, email, password string }{
		{"", "a@x.io", "pw"},
		{"Alice", "  ", "pw"},
		{"Alice", "a@x.io", ""},
	}
	for _, tc := range cases {
		_, err := f.users.Register(context.Background(), tc.name, tc.email, tc.password)
		require.Error(t, err)
		assert.ErrorIs(t, err, apperr.ErrValidation)
		assert.Equal(t, "Please fill all the fields", err.(*apperr.Error).Message)
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	f := newFixture(t)
	f.register(t, "a@x.io")

	_, err := f.users.Register(context.Background(), "Bob", "a@x.io", "other")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Equal(t, "Email already registered", err.(*apperr.Error).Message)
}

func TestRegister_PasswordTooLong(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.users.Register(ctx, "Bob", "b@x.io", strings.Repeat("p", 80))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, "Password must be 72 bytes or less", err.(*apperr.Error).Message)

	_, err = f.users.Register(ctx, "Bob", "b@x.io", strings.Repeat("p", 72))
	assert.NoError(t, err)
}

func TestLogin_WrongPassword(t *testing.T) {
	f := newFixture(t)
	f.register(t, "a@x.io")

	_, err := f.users.Login(context.Background(), "a@x.io", "wrong")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrAuth)
	assert.Equal(t, "Invalid credentials", err.(*apperr.Error).Message)
}

func TestLogin_UnknownEmail(t *testing.T) {
	f := newFixture(t)

	_, err := f.users.Login(context.Background(), "nobody@x.io", "pw")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestGetCredits_FreshUserHasZero(t *testing.T) {
	f := newFixture(t)
	id := f.register(t, "a@x.io")

	res, err := f.users.GetCredits(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Credits)
	assert.Equal(t, "Alice", res.User.Name)
}

func TestGetCredits_UnknownUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.users.GetCredits(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCreateOrder_Plans(t *testing.T) {
	cases := []struct {
		plan    string
		amount  int64
		credits int64
	}{
		{"Basic", 1000, 100},
		{"Advanced", 5000, 500},
		{"Business", 25000, 5000},
	}

	for _, tc := range cases {
		t.Run(tc.plan, func(t *testing.T) {
			f := newFixture(t)
			id := f.register(t, "a@x.io")

			order, err := f.payments.CreateOrder(context.Background(), id, tc.plan)
			require.NoError(t, err)
			assert.Equal(t, tc.amount, order.Amount)
			assert.Equal(t, "INR", order.Currency)

			txns := f.store.Transactions()
			require.Len(t, txns, 1)
			assert.Equal(t, order.Receipt, txns[0].ID)
			assert.True(t, strings.HasPrefix(txns[0].ID, "TXN"))
			assert.Equal(t, tc.credits, txns[0].Credits)
			assert.Equal(t, id, txns[0].UserID)
			assert.False(t, txns[0].Payment)
		})
	}
}

func TestCreateOrder_InvalidPlan(t *testing.T) {
	f := newFixture(t)
	id := f.register(t, "a@x.io")

	_, err := f.payments.CreateOrder(context.Background(), id, "Gold")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, "Invalid plan ID", err.(*apperr.Error).Message)
	assert.Empty(t, f.store.Transactions())
	assert.Empty(t, f.gateway.Requests)
}

func TestCreateOrder_UnknownUser(t *testing.T) {
	f := newFixture(t)

	_, err := f.payments.CreateOrder(context.Background(), "missing", "Basic")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Empty(t, f.store.Transactions())
}

func TestCreateOrder_GatewayFailureDeletesTransaction(t *testing.T) {
	f := newFixture(t)
	id := f.register(t, "a@x.io")
	f.gateway.Err = errors.New("gateway down")

	_, err := f.payments.CreateOrder(context.Background(), id, "Basic")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrUpstream)
	assert.Empty(t, f.store.Transactions())
	assert.Len(t, f.store.DeletedTransactions, 1)
}

func TestVerifyOrder_CreditsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.register(t, "a@x.io")

	order, err := f.payments.CreateOrder(ctx, id, "Advanced")
	require.NoError(t, err)
	f.gateway.MarkPaid(order.ID)

	res, err := f.payments.VerifyOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, "Payment verified successfully", res.Message)
	assert.Equal(t, int64(500), f.store.Balance(id))

	_, err = f.payments.VerifyOrder(ctx, order.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Equal(t, "Payment already verified", err.(*apperr.Error).Message)
	assert.Equal(t, int64(500), f.store.Balance(id))

	txns := f.store.Transactions()
	require.Len(t, txns, 1)
	assert.True(t, txns[0].Payment)
	assert.Len(t, f.store.Events(), 1)
}

func TestVerifyOrder_ConcurrentAppliesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.register(t, "a@x.io")

	order, err := f.payments.CreateOrder(ctx, id, "Basic")
	require.NoError(t, err)
	f.gateway.MarkPaid(order.ID)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.payments.VerifyOrder(ctx, order.ID)
			if err == nil && res.Applied {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, applied)
	assert.Equal(t, int64(100), f.store.Balance(id))
}

func TestVerifyOrder_NotPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.register(t, "a@x.io")

	order, err := f.payments.CreateOrder(ctx, id, "Basic")
	require.NoError(t, err)

	res, err := f.payments.VerifyOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, "Payment not successful", res.Message)
	assert.Equal(t, int64(0), f.store.Balance(id))
}

func TestVerifyOrder_BlankID(t *testing.T) {
	f := newFixture(t)
	_, err := f.payments.VerifyOrder(context.Background(), "  ")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestVerifyOrder_GatewayError(t *testing.T) {
	f := newFixture(t)
	f.gateway.FetchErr = errors.New("timeout")

	_, err := f.payments.VerifyOrder(context.Background(), "order_1")
	assert.ErrorIs(t, err, apperr.ErrUpstream)
}

func TestVerifyOrder_LockBusy(t *testing.T) {
	f := newFixture(t)
	f.locker.Err = fmt.Errorf("%w: key", lock.ErrLockFailed)

	_, err := f.payments.VerifyOrder(context.Background(), "order_1")
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestVerifyOrder_LockBackendDown(t *testing.T) {
	f := newFixture(t)
	redisErr := errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")
	f.locker.Err = redisErr

	_, err := f.payments.VerifyOrder(context.Background(), "order_1")
	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
	assert.ErrorIs(t, err, redisErr)
}

func TestGenerate_Success(t *testing.T) {
	f := newFixture(t)
	id := f.register(t, "a@x.io")
	f.store.SetBalance(id, 3)

	res, err := f.images.Generate(context.Background(), id, "  a cat  ")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Image, "data:image/png;base64,"))
	assert.Equal(t, int64(2), res.CreditBalance)
	assert.Equal(t, int64(2), f.store.Balance(id))
	assert.Equal(t, 1, f.generator.Calls())
}

func TestGenerate_PromptValidation(t *testing.T) {
	f := newFixture(t)
	id := f.register(t, "a@x.io")
	f.store.SetBalance(id, 3)

	_, err := f.images.Generate(context.Background(), id, "   ")
	require.Error(t, err)
	assert.Equal(t, "Prompt is required", err.(*apperr.Error).Message)

	_, err = f.images.Generate(context.Background(), id, strings.Repeat("a", 1001))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, "Prompt must be 1000 characters or less", err.(*apperr.Error).Message)

	// 按字符计数，不按字节
	_, err = f.images.Generate(context.Background(), id, strings.Repeat("猫", 1000))
	assert.NoError(t, err)

	assert.Equal(t, 1, f.generator.Calls())
}

func TestGenerate_NoCredits(t *testing.T) {
	f := newFixture(t)
	id := f.register(t, "a@x.io")

	_, err := f.images.Generate(context.Background(), id, "a cat")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrInsufficientCredits)
	assert.Equal(t, int64(0), err.(*apperr.Error).Fields["creditBalance"])
	assert.Equal(t, 0, f.generator.Calls())
}

func TestGenerate_NotConfigured(t *testing.T) {
	f := newFixture(t)
	id := f.register(t, "a@x.io")
	f.generator.APIKey = ""

	_, err := f.images.Generate(context.Background(), id, "a cat")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrConfig)
	assert.Equal(t, "Server configuration error: API key not found", err.(*apperr.Error).Message)
}

func TestGenerate_UnknownUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.images.Generate(context.Background(), "missing", "a cat")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestGenerate_UpstreamFailuresKeepBalance(t *testing.T) {
	cases := []struct {
		name    string
		err     *imagegen.UpstreamError
		message string
		details string
	}{
		{
			name:    "unauthorized",
			err:     &imagegen.UpstreamError{Kind: imagegen.FailureUnauthorized, StatusCode: 401, Detail: "bad key"},
			message: "API authentication failed. Please verify your ClipDrop API key is correct and active.",
			details: "bad key",
		},
		{
			name:    "rate limited",
			err:     &imagegen.UpstreamError{Kind: imagegen.FailureRateLimited, StatusCode: 429, Detail: "slow down"},
			message: "API rate limit exceeded. Please try again in a few minutes.",
			details: "slow down",
		},
		{
			name:    "bad request",
			err:     &imagegen.UpstreamError{Kind: imagegen.FailureBadRequest, StatusCode: 400, Detail: "prompt"},
			message: "Invalid request format or parameters.",
			details: "prompt",
		},
		{
			name:    "quota",
			err:     &imagegen.UpstreamError{Kind: imagegen.FailureQuotaExceeded, StatusCode: 402, Detail: "no quota"},
			message: "API quota exceeded. Please check your ClipDrop account.",
			details: "no quota",
		},
		{
			name:    "other status",
			err:     &imagegen.UpstreamError{Kind: imagegen.FailureStatus, StatusCode: 500, Detail: "boom"},
			message: "API error (500): boom",
		},
		{
			name:    "timeout",
			err:     &imagegen.UpstreamError{Kind: imagegen.FailureTimeout},
			message: "Request timeout. The image generation is taking too long. Please try again.",
		},
		{
			name:    "connectivity",
			err:     &imagegen.UpstreamError{Kind: imagegen.FailureConnectivity},
			message: "Failed to connect to image generation service. Please check your internet connection and try again.",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			id := f.register(t, "a@x.io")
			f.store.SetBalance(id, 5)
			f.generator.Err = tc.err

			_, err := f.images.Generate(context.Background(), id, "a cat")
			require.Error(t, err)

			var appErr *apperr.Error
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, apperr.KindUpstream, appErr.Kind)
			assert.Equal(t, tc.message, appErr.Message)
			assert.Equal(t, tc.details, appErr.Details)
			assert.Equal(t, int64(5), f.store.Balance(id))
		})
	}
}

func TestGenerate_EmptyImage(t *testing.T) {
	f := newFixture(t)
	id := f.register(t, "a@x.io")
	f.store.SetBalance(id, 1)
	f.generator.Image = nil

	_, err := f.images.Generate(context.Background(), id, "a cat")
	require.Error(t, err)
	assert.Equal(t, "Image generation failed: Empty response from ClipDrop API", err.(*apperr.Error).Message)
	assert.Equal(t, int64(1), f.store.Balance(id))
}

func TestGenerate_ConcurrentNeverNegative(t *testing.T) {
	f := newFixture(t)
	id := f.register(t, "a@x.io")
	f.store.SetBalance(id, 1)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.images.Generate(context.Background(), id, "a cat")
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(0), f.store.Balance(id))
	spent := 0
	for _, e := range f.store.Events() {
		if e.Delta < 0 {
			spent++
		}
	}
	assert.Equal(t, 1, spent)
}
