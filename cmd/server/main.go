package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"genpix/internal/auth"
	"genpix/internal/config"
	"genpix/internal/handler"
	"genpix/internal/infrastructure/cache"
	"genpix/internal/infrastructure/database"
	"genpix/internal/infrastructure/imagegen"
	"genpix/internal/infrastructure/lock"
	"genpix/internal/infrastructure/mq"
	"genpix/internal/infrastructure/payment"
	"genpix/internal/job"
	"genpix/internal/metrics"
	"genpix/internal/repository"
	"genpix/internal/service"
	"genpix/pkg/idgen"

	"github.com/sirupsen/logrus"
)

func newLogger(cfg *config.LogConfig) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)

	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}

func main() {
	// 加载配置
	cfg, err := config.LoadConfig("config/config.yaml")
	if err != nil {
		logrus.WithError(err).Fatal("加载配置失败")
	}

	log := newLogger(&cfg.Log)

	// 初始化 ID 生成器
	if err := idgen.Init(1); err != nil {
		log.WithError(err).Fatal("初始化 ID 生成器失败")
	}

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 初始化 MySQL
	db, err := database.OpenMySQL(&cfg.MySQL)
	if err != nil {
		log.WithError(err).Fatal("初始化 MySQL 失败")
	}

	// 初始化 Redis
	redisClient, err := cache.NewRedis(ctx, &cfg.Redis)
	if err != nil {
		log.WithError(err).Fatal("初始化 Redis 失败")
	}
	defer redisClient.Close()

	m := metrics.New()

	users := repository.NewUserRepository(db)
	transactions := repository.NewTransactionRepository(db)
	ledger := repository.NewLedger(db, cfg.Kafka.Topic)

	// 初始化 Kafka，未配置 broker 时事件留在 outbox 表里
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := mq.NewProducer(&cfg.Kafka)
		if err != nil {
			log.WithError(err).Fatal("初始化 Kafka 失败")
		}
		defer producer.Close()

		outboxSender := job.NewOutboxSender(repository.NewOutboxRepository(db), producer, cfg.Business.MaxRetryCount, log)
		go outboxSender.Start(ctx)
	} else {
		ledger.WithoutEvents()
		log.Warn("未配置 Kafka broker，不写入账本事件")
	}

	gateway := payment.NewRazorpayGateway(&cfg.Razorpay)
	generator := imagegen.NewClipdropClient(&cfg.ImageGen)
	if !generator.Configured() {
		log.Warn("CLIPDROP_API_KEY 未配置，生图接口将返回配置错误")
	}

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	userService := service.NewUserService(users, tokens, auth.NewPasswordHasher(cfg.Auth.BcryptCost), cfg.Business.InitialCredits, log)
	paymentService := service.NewPaymentService(users, transactions, ledger, gateway,
		lock.NewLocker(redisClient, cfg.Business.VerifyLockTTL), m, log)
	imageService := service.NewImageService(users, ledger, generator, cfg.Business.MaxPromptLength, m, log)

	// 设置路由
	router := handler.SetupRouter(handler.RouterDeps{
		Handler:     handler.NewHandler(userService, paymentService, imageService, log),
		Tokens:      tokens,
		Metrics:     m,
		Log:         log,
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	// 启动 HTTP 服务
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// 在 goroutine 中启动服务器
	go func() {
		log.Infof("服务启动，监听端口: %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("服务启动失败")
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("正在关闭服务...")

	// 取消上下文，停止后台任务
	cancel()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("服务关闭异常")
	}

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}

	log.Info("服务已关闭")
}
