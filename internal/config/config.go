package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 全局配置结构，进程启动时构造一次，通过依赖注入传给各组件
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Auth     AuthConfig     `mapstructure:"auth"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Razorpay RazorpayConfig `mapstructure:"razorpay"`
	ImageGen ImageGenConfig `mapstructure:"imagegen"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port        int      `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text | json
}

type AuthConfig struct {
	JWTSecret  string        `mapstructure:"jwt_secret"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"` // 0 表示不过期
	BcryptCost int           `mapstructure:"bcrypt_cost"`
}

type MySQLConfig struct {
	DSN          string `mapstructure:"dsn"` // 非空时优先使用
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	CreditsPurchased string `mapstructure:"credits_purchased"`
	CreditsSpent     string `mapstructure:"credits_spent"`
}

type RazorpayConfig struct {
	KeyID     string `mapstructure:"key_id"`
	KeySecret string `mapstructure:"key_secret"`
	Currency  string `mapstructure:"currency"`
}

type ImageGenConfig struct {
	APIKey   string        `mapstructure:"api_key"`
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type BusinessConfig struct {
	InitialCredits  int64         `mapstructure:"initial_credits"`
	MaxPromptLength int           `mapstructure:"max_prompt_length"`
	MaxRetryCount   int           `mapstructure:"max_retry_count"`
	VerifyLockTTL   time.Duration `mapstructure:"verify_lock_ttl"`
}

// 老部署沿用的环境变量名
var legacyEnv = map[string]string{
	"server.port":         "PORT",
	"server.cors_origins": "CORS_ORIGINS",
	"auth.jwt_secret":     "JWT_SECRET",
	"mysql.dsn":           "DATABASE_DSN",
	"redis.addr":          "REDIS_ADDR",
	"kafka.brokers":       "KAFKA_BROKERS",
	"razorpay.key_id":     "RAZORPAY_KEY_ID",
	"razorpay.key_secret": "RAZORPAY_KEY_SECRET",
	"razorpay.currency":   "CURRENCY",
	"imagegen.api_key":    "CLIPDROP_API_KEY",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 4000)
	v.SetDefault("server.cors_origins", []string{
		"https://genpix-frontend.vercel.app",
		"http://localhost:3000",
		"http://localhost:5173",
	})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("auth.token_ttl", time.Duration(0))
	v.SetDefault("auth.bcrypt_cost", 10)
	v.SetDefault("mysql.host", "127.0.0.1")
	v.SetDefault("mysql.port", 3306)
	v.SetDefault("mysql.user", "root")
	v.SetDefault("mysql.password", "")
	v.SetDefault("mysql.database", "genpix")
	v.SetDefault("mysql.max_open_conns", 50)
	v.SetDefault("mysql.max_idle_conns", 10)
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic.credits_purchased", "genpix.credits.purchased")
	v.SetDefault("kafka.topic.credits_spent", "genpix.credits.spent")
	v.SetDefault("razorpay.currency", "INR")
	v.SetDefault("imagegen.endpoint", "https://clipdrop-api.co/text-to-image/v1")
	v.SetDefault("imagegen.timeout", 60*time.Second)
	v.SetDefault("business.initial_credits", 0)
	v.SetDefault("business.max_prompt_length", 1000)
	v.SetDefault("business.max_retry_count", 5)
	v.SetDefault("business.verify_lock_ttl", 30*time.Second)
}

// LoadConfig 加载配置：默认值 < YAML 文件（可选）< 环境变量
func LoadConfig(configPath string) (*Config, error) {
	// .env 只是本地开发的便利，不存在时忽略
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("读取配置文件失败: %w", err)
			}
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("绑定环境变量 %s 失败: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	// 逗号分隔的环境变量反序列化后是单个元素
	cfg.Server.CORSOrigins = splitList(cfg.Server.CORSOrigins)
	cfg.Kafka.Brokers = splitList(cfg.Kafka.Brokers)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验启动必需项。ClipDrop key 缺失不算启动错误，按请求返回配置错误
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret (JWT_SECRET) 未配置")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port 非法: %d", c.Server.Port)
	}
	if c.Business.MaxPromptLength <= 0 {
		return fmt.Errorf("business.max_prompt_length 非法: %d", c.Business.MaxPromptLength)
	}
	return nil
}

// MySQLDSN 返回连接串
func (c *MySQLConfig) MySQLDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
	)
}

func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
