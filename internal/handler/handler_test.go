package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"genpix/internal/auth"
	"genpix/internal/infrastructure/imagegen"
	"genpix/internal/metrics"
	"genpix/internal/service"
	"genpix/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type testServer struct {
	router    *gin.Engine
	store     *testutil.Store
	gateway   *testutil.Gateway
	generator *testutil.Generator
	tokens    *auth.TokenManager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)
	m := metrics.New()

	s := &testServer{
		store:     testutil.NewStore(),
		gateway:   testutil.NewGateway(),
		generator: testutil.NewGenerator(),
		tokens:    auth.NewTokenManager("test-secret", 0),
	}

	users := service.NewUserService(s.store, s.tokens, auth.NewPasswordHasher(bcrypt.MinCost), 0, log)
	payments := service.NewPaymentService(s.store, s.store.TransactionStore(), s.store, s.gateway, testutil.NewLocker(), m, log)
	images := service.NewImageService(s.store, s.store, s.generator, 1000, m, log)

	s.router = SetupRouter(RouterDeps{
		Handler:     NewHandler(users, payments, images, log),
		Tokens:      s.tokens,
		Metrics:     m,
		Log:         log,
		CORSOrigins: []string{"http://localhost:5173"},
	})
	return s
}

func (s *testServer) do(t *testing.T, method, path, token, body string) (int, map[string]interface{}) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("token", token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	out := map[string]interface{}{}
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w.Code, out
}

func (s *testServer) register(t *testing.T) (token, userID string) {
	t.Helper()
	code, body := s.do(t, http.MethodPost, "/api/user/register", "",
		`{"name":"Alice","email":"a@x.io","password":"s3cret"}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["success"])

	token = body["token"].(string)
	userID, err := s.tokens.Verify(token)
	require.NoError(t, err)
	return token, userID
}

func TestRoot(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "API Working fine", w.Body.String())
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "genpix_http_requests_total")
}

func TestRegisterAndLogin(t *testing.T) {
	s := newTestServer(t)
	s.register(t)

	code, body := s.do(t, http.MethodPost, "/api/user/login", "", `{"email":"a@x.io","password":"s3cret"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["token"])
	assert.Equal(t, "Alice", body["user"].(map[string]interface{})["name"])
}

func TestLogin_WrongPasswordIs200(t *testing.T) {
	s := newTestServer(t)
	s.register(t)

	code, body := s.do(t, http.MethodPost, "/api/user/login", "", `{"email":"a@x.io","password":"nope"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Invalid credentials", body["message"])
}

func TestRegister_MalformedBody(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(t, http.MethodPost, "/api/user/register", "", `{not json`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Please fill all the fields", body["message"])
}

func TestAuth_Failures(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(t, http.MethodGet, "/api/user/credits", "", "")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "No token provided", body["message"])

	code, body = s.do(t, http.MethodGet, "/api/user/credits", "garbage", "")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.True(t, strings.HasPrefix(body["message"].(string), "Token verification failed"))

	other, err := auth.NewTokenManager("other-secret", 0).Issue("user-1")
	require.NoError(t, err)
	code, _ = s.do(t, http.MethodGet, "/api/user/credits", other, "")
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestCredits(t *testing.T) {
	s := newTestServer(t)
	token, userID := s.register(t)
	s.store.SetBalance(userID, 7)

	code, body := s.do(t, http.MethodGet, "/api/user/credits", token, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(7), body["credits"])
	assert.Equal(t, "Alice", body["user"].(map[string]interface{})["name"])
}

func TestPayAndVerify(t *testing.T) {
	s := newTestServer(t)
	token, userID := s.register(t)

	code, body := s.do(t, http.MethodPost, "/api/user/pay-razor", token, `{"planId":"Basic"}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["success"])
	order := body["order"].(map[string]interface{})
	assert.Equal(t, float64(1000), order["amount"])
	orderID := order["id"].(string)

	code, body = s.do(t, http.MethodPost, "/api/user/verify-razor", token, `{"razorpay_order_id":"`+orderID+`"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Payment not successful", body["message"])

	s.gateway.MarkPaid(orderID)

	code, body = s.do(t, http.MethodPost, "/api/user/verify-razor", token, `{"razorpay_order_id":"`+orderID+`"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Payment verified successfully", body["message"])
	assert.Equal(t, int64(100), s.store.Balance(userID))

	_, body = s.do(t, http.MethodPost, "/api/user/verify-razor", token, `{"razorpay_order_id":"`+orderID+`"}`)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Payment already verified", body["message"])
	assert.Equal(t, int64(100), s.store.Balance(userID))
}

func TestPay_InvalidPlan(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.register(t)

	code, body := s.do(t, http.MethodPost, "/api/user/pay-razor", token, `{"planId":"Gold"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Invalid plan ID", body["message"])
	assert.Empty(t, s.store.Transactions())
}

func TestGenerateImage(t *testing.T) {
	s := newTestServer(t)
	token, userID := s.register(t)
	s.store.SetBalance(userID, 2)

	code, body := s.do(t, http.MethodPost, "/api/user/generate-image", token, `{"prompt":"a cat"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Image generated successfully", body["message"])
	assert.True(t, strings.HasPrefix(body["image"].(string), "data:image/png;base64,"))
	assert.Equal(t, float64(1), body["creditBalance"])
}

func TestGenerateImage_InsufficientCredits(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.register(t)

	code, body := s.do(t, http.MethodPost, "/api/user/generate-image", token, `{"prompt":"a cat"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Insufficient credits", body["message"])
	assert.Equal(t, float64(0), body["creditBalance"])
	assert.Equal(t, 0, s.generator.Calls())
}

func TestGenerateImage_UpstreamDetails(t *testing.T) {
	s := newTestServer(t)
	token, userID := s.register(t)
	s.store.SetBalance(userID, 1)
	s.generator.Err = &imagegen.UpstreamError{Kind: imagegen.FailureRateLimited, StatusCode: 429, Detail: "Too many requests"}

	_, body := s.do(t, http.MethodPost, "/api/user/generate-image", token, `{"prompt":"a cat"}`)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "API rate limit exceeded. Please try again in a few minutes.", body["message"])
	assert.Equal(t, "Too many requests", body["details"])
	assert.Equal(t, int64(1), s.store.Balance(userID))
}

func TestCORS(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/user/login", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "token")

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecovery(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RecoveryMiddleware(log))
	r.GET("/panic", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), `"success":false`)
}
