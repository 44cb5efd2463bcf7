// Package config loads settings from config.yml, an optional
// config.<APP_ENV>.yml profile and the environment, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

const (
	defaultJWTSecret = "your-secret-key-change-in-production"
	minSecretLen     = 32
)

// Config is the flat server configuration; market and trading knobs live in
// MarketConfig.
type Config struct {
	JWTSecret      string `mapstructure:"JWT_SECRET"`
	Port           string `mapstructure:"PORT"`
	PublicBaseURL  string `mapstructure:"PUBLIC_BASE_URL"`
	DBHost         string `mapstructure:"DB_HOST"`
	DBPort         string `mapstructure:"DB_PORT"`
	DBUser         string `mapstructure:"DB_USER"`
	DBPassword     string `mapstructure:"DB_PASSWORD"`
	DBName         string `mapstructure:"DB_NAME"`
	DBSSLMode      string `mapstructure:"DB_SSLMODE"`
	DBReadHost     string `mapstructure:"DB_READ_HOST"`
	DBReadPort     string `mapstructure:"DB_READ_PORT"`
	DBReadUser     string `mapstructure:"DB_READ_USER"`
	DBReadPassword string `mapstructure:"DB_READ_PASSWORD"`
	DBSchemaMode   string `mapstructure:"DB_SCHEMA_MODE"`
	RedisURL       string `mapstructure:"REDIS_URL"`
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`
	FeatureFlags   string `mapstructure:"FEATURE_FLAGS"`
	Env            string `mapstructure:"APP_ENV"`

	DBMaxOpenConns           int `mapstructure:"DB_MAX_OPEN_CONNS"`
	DBMaxIdleConns           int `mapstructure:"DB_MAX_IDLE_CONNS"`
	DBConnMaxLifetimeMinutes int `mapstructure:"DB_CONN_MAX_LIFETIME_MINUTES"`

	DevBootstrapRoot bool   `mapstructure:"DEV_BOOTSTRAP_ROOT"`
	DevRootUsername  string `mapstructure:"DEV_ROOT_USERNAME"`
	DevRootEmail     string `mapstructure:"DEV_ROOT_EMAIL"`
	DevRootPassword  string `mapstructure:"DEV_ROOT_PASSWORD"`
	DevRootPhone     string `mapstructure:"DEV_ROOT_PHONE"`
	// DevRootForceCredentials rewrites the root login on every boot.
	DevRootForceCredentials bool `mapstructure:"DEV_ROOT_FORCE_CREDENTIALS"`
	DevSeedDemo             bool `mapstructure:"DEV_SEED_DEMO"`

	SignupBonusCoins float64 `mapstructure:"SIGNUP_BONUS_COINS"`

	SMSProvider   string `mapstructure:"SMS_PROVIDER"`
	SMSGatewayURL string `mapstructure:"SMS_GATEWAY_URL"`
	SMSAPIKey     string `mapstructure:"SMS_API_KEY"`
	SMSSender     string `mapstructure:"SMS_SENDER"`

	UploadDir            string `mapstructure:"UPLOAD_DIR"`
	ImageMaxUploadSizeMB int    `mapstructure:"IMAGE_MAX_UPLOAD_SIZE_MB"`
	S3Bucket             string `mapstructure:"S3_BUCKET"`
	S3Region             string `mapstructure:"S3_REGION"`
	S3Endpoint           string `mapstructure:"S3_ENDPOINT"`
	S3PublicURL          string `mapstructure:"S3_PUBLIC_URL"`
	S3AccessKey          string `mapstructure:"S3_ACCESS_KEY"`
	S3SecretKey          string `mapstructure:"S3_SECRET_KEY"`

	RabbitMQURL string `mapstructure:"RABBITMQ_URL"`

	TracingEnabled      bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter     string  `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint        string  `mapstructure:"OTLP_ENDPOINT"`
	TracingSamplerRatio float64 `mapstructure:"TRACING_SAMPLER_RATIO"`
}

func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

var defaults = map[string]any{
	"PORT":                         "8375",
	"PUBLIC_BASE_URL":              "http://localhost:5173",
	"APP_ENV":                      "development",
	"JWT_SECRET":                   defaultJWTSecret,
	"ALLOWED_ORIGINS":              "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173",
	"FEATURE_FLAGS":                "trading_room=on",
	"REDIS_URL":                    "localhost:6379",
	"RABBITMQ_URL":                 "",
	"DB_HOST":                      "localhost",
	"DB_PORT":                      "5432",
	"DB_USER":                      "user",
	"DB_PASSWORD":                  "password",
	"DB_NAME":                      "kortrade",
	"DB_SSLMODE":                   "disable",
	"DB_READ_HOST":                 "",
	"DB_READ_PORT":                 "5432",
	"DB_READ_USER":                 "user",
	"DB_READ_PASSWORD":             "password",
	"DB_SCHEMA_MODE":               "hybrid",
	"DB_MAX_OPEN_CONNS":            25,
	"DB_MAX_IDLE_CONNS":            5,
	"DB_CONN_MAX_LIFETIME_MINUTES": 5,
	"DEV_BOOTSTRAP_ROOT":           false,
	"DEV_ROOT_USERNAME":            "root",
	"DEV_ROOT_EMAIL":               "root@kortrade.local",
	"DEV_ROOT_PASSWORD":            "",
	"DEV_ROOT_PHONE":               "01000000000",
	"DEV_ROOT_FORCE_CREDENTIALS":   false,
	"DEV_SEED_DEMO":                false,
	"SIGNUP_BONUS_COINS":           10000,
	"SMS_PROVIDER":                 "log",
	"SMS_GATEWAY_URL":              "",
	"SMS_API_KEY":                  "",
	"SMS_SENDER":                   "",
	"UPLOAD_DIR":                   "./uploads",
	"IMAGE_MAX_UPLOAD_SIZE_MB":     10,
	"S3_BUCKET":                    "",
	"S3_REGION":                    "ap-northeast-2",
	"S3_ENDPOINT":                  "",
	"S3_PUBLIC_URL":                "",
	"S3_ACCESS_KEY":                "",
	"S3_SECRET_KEY":                "",
	"TRACING_ENABLED":              false,
	"TRACING_EXPORTER":             "otlp",
	"OTLP_ENDPOINT":                "localhost:4318",
	"TRACING_SAMPLER_RATIO":        1.0,
}

// LoadConfig reads and validates the configuration. Outside development
// and test the config.<APP_ENV>.yml profile must exist.
func LoadConfig() (*Config, error) {
	v := viper.New()
	for _, dir := range []string{".", "..", "../.."} {
		v.AddConfigPath(dir)
	}
	v.SetConfigType("yml")
	v.SetConfigName("config")
	v.AutomaticEnv()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	// The base file is optional.
	_ = v.ReadInConfig()

	switch env := v.GetString("APP_ENV"); env {
	case "", "development", "test":
	default:
		v.SetConfigName("config." + env)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("profile config.%s.yml: %w", env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.DBSSLMode = strings.ToLower(strings.TrimSpace(cfg.DBSSLMode))
	cfg.SMSProvider = strings.ToLower(strings.TrimSpace(cfg.SMSProvider))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	for _, w := range cfg.Warnings() {
		log.Printf("config: %s", w)
	}
	return &cfg, nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}

	check(c.Port != "", "PORT is required")
	check(c.JWTSecret != "", "JWT_SECRET is required")
	check(c.RedisURL != "", "REDIS_URL is required")
	check(c.ImageMaxUploadSizeMB > 0, "IMAGE_MAX_UPLOAD_SIZE_MB must be positive")
	check(c.DBConnMaxLifetimeMinutes > 0, "DB_CONN_MAX_LIFETIME_MINUTES must be positive")
	check(c.SignupBonusCoins >= 0, "SIGNUP_BONUS_COINS must not be negative")

	switch c.SMSProvider {
	case "", "log":
	case "gateway":
		check(c.SMSGatewayURL != "", "SMS_GATEWAY_URL is required when SMS_PROVIDER=gateway")
	default:
		errs = append(errs, fmt.Errorf("unknown SMS_PROVIDER %q", c.SMSProvider))
	}

	if c.IsProduction() {
		check(c.JWTSecret != defaultJWTSecret, "JWT_SECRET still has the default value")
		check(len(c.JWTSecret) >= minSecretLen, "JWT_SECRET must be at least 32 characters in production")
		check(c.DBPassword != "" && c.DBPassword != "password", "DB_PASSWORD must be set to a real secret in production")
		check(c.DBSSLMode != "" && c.DBSSLMode != "disable", "DB_SSLMODE must enable SSL in production")
	}
	return errors.Join(errs...)
}

// Warnings lists settings that are legal but risky.
func (c *Config) Warnings() []string {
	var out []string
	if !c.IsProduction() {
		if len(c.JWTSecret) < minSecretLen {
			out = append(out, "JWT_SECRET is shorter than 32 characters")
		}
		return out
	}
	if c.SMSProvider != "gateway" {
		out = append(out, "SMS_PROVIDER is not gateway; verification codes are only logged")
	}
	if c.AllowedOrigins == "*" {
		out = append(out, "ALLOWED_ORIGINS is *")
	}
	return out
}
