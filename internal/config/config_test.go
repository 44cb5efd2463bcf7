package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Env:                      "development",
		JWTSecret:                "secure-secret-at-least-32-chars-long",
		DBPassword:               "secure-password",
		DBSSLMode:                "disable",
		Port:                     "8080",
		ImageMaxUploadSizeMB:     10,
		DBConnMaxLifetimeMinutes: 1,
		RedisURL:                 "redis://localhost:6379",
		SMSProvider:              "log",
	}
}

func TestConfig_ValidateSSLMode(t *testing.T) {
	tests := []struct {
		name        string
		env         string
		sslMode     string
		expectError bool
	}{
		{"Production with empty SSL mode", "production", "", true},
		{"Production with disable SSL mode", "production", "disable", true},
		{"Production with require SSL mode", "production", "require", false},
		{"Prod with disable SSL mode", "prod", "disable", true},
		{"Prod with verify-full SSL mode", "prod", "verify-full", false},
		{"Development with disable SSL mode", "development", "disable", false},
		{"Test with empty SSL mode", "test", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			c.Env = tt.env
			c.DBSSLMode = tt.sslMode

			err := c.Validate()
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateProductionSecrets(t *testing.T) {
	c := validConfig()
	c.Env = "production"
	c.DBSSLMode = "require"
	c.JWTSecret = defaultJWTSecret
	assert.Error(t, c.Validate())

	c.JWTSecret = "short"
	assert.Error(t, c.Validate())

	c.JWTSecret = "secure-secret-at-least-32-chars-long"
	c.DBPassword = "password"
	assert.Error(t, c.Validate())
}

func TestConfig_ValidateSMSProvider(t *testing.T) {
	c := validConfig()
	c.SMSProvider = "gateway"
	assert.Error(t, c.Validate(), "gateway needs a URL")

	c.SMSGatewayURL = "https://sms.example.com/send"
	assert.NoError(t, c.Validate())

	c.SMSProvider = "pigeon"
	assert.Error(t, c.Validate())
}

func TestConfig_ValidateReportsAllProblems(t *testing.T) {
	c := validConfig()
	c.Port = ""
	c.RedisURL = ""
	c.SignupBonusCoins = -5

	err := c.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "PORT is required")
	assert.ErrorContains(t, err, "REDIS_URL is required")
	assert.ErrorContains(t, err, "SIGNUP_BONUS_COINS")
}

func TestConfig_Warnings(t *testing.T) {
	c := validConfig()
	assert.Empty(t, c.Warnings())

	c.JWTSecret = "short"
	assert.Len(t, c.Warnings(), 1)

	c = validConfig()
	c.Env = "production"
	c.AllowedOrigins = "*"
	assert.Len(t, c.Warnings(), 2, "log sms provider and wildcard origins")
}

func TestConfig_ValidateNegativeBonus(t *testing.T) {
	c := validConfig()
	c.SignupBonusCoins = -1
	assert.Error(t, c.Validate())
}

func TestLoadConfig_SSLModeNormalization(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("DB_SSLMODE", "  DISABLE  ")

	c, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "disable", c.DBSSLMode)
	assert.Equal(t, "8375", c.Port)
	assert.Equal(t, 10000.0, c.SignupBonusCoins)
	assert.Equal(t, "trading_room=on", c.FeatureFlags)
}

func TestLoadMarketConfig_Defaults(t *testing.T) {
	t.Setenv("MARKET_SYMBOLS", "BTCUSDT,ETHUSDT")
	t.Setenv("TRADING_MAX_LEVERAGE", "50")

	cfg, err := LoadMarketConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Market.Symbols)
	assert.Equal(t, 50, cfg.Trading.MaxLeverage)
	assert.Equal(t, 3*time.Second, cfg.Market.ReconnectDelay)
	assert.Equal(t, 0.0004, cfg.Trading.TakerFeeRate)
	assert.Equal(t, "https://fapi.binance.com", cfg.Binance.RESTURL)
}

func TestLoadMarketConfig_RejectsBadLeverage(t *testing.T) {
	t.Setenv("TRADING_MAX_LEVERAGE", "200")

	_, err := LoadMarketConfig()
	assert.Error(t, err)
}

func TestValidateMarketConfig(t *testing.T) {
	base := func() *MarketConfig {
		cfg := &MarketConfig{}
		cfg.Market.Symbols = []string{"BTCUSDT"}
		cfg.Market.ReconnectDelay = 3 * time.Second
		cfg.Market.RateLimitPerMin = 1200
		cfg.Trading.MaxLeverage = 125
		cfg.Trading.TakerFeeRate = 0.0004
		cfg.Trading.LiquidationInterval = time.Second
		cfg.Trading.FundingInterval = 8 * time.Hour
		return cfg
	}

	assert.NoError(t, ValidateMarketConfig(base()))

	cfg := base()
	cfg.Market.Symbols = nil
	assert.Error(t, ValidateMarketConfig(cfg))

	cfg = base()
	cfg.Trading.TakerFeeRate = 0.02
	assert.Error(t, ValidateMarketConfig(cfg))

	cfg = base()
	cfg.Trading.LiquidationInterval = 100 * time.Millisecond
	assert.Error(t, ValidateMarketConfig(cfg))

	cfg = base()
	cfg.Trading.FundingInterval = 30 * time.Second
	assert.Error(t, ValidateMarketConfig(cfg))
}
