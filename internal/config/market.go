package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// MarketConfig는 트레이딩룸과 바이낸스 시세 연동 설정입니다.
type MarketConfig struct {
	// 바이낸스 USDⓈ-M 선물 공개 API
	Binance struct {
		RESTURL string `envconfig:"BINANCE_REST_URL" default:"https://fapi.binance.com"`
		WSURL   string `envconfig:"BINANCE_WS_URL" default:"wss://fstream.binance.com"`
	}

	// 시세 스트림 설정
	Market struct {
		Symbols           []string      `envconfig:"MARKET_SYMBOLS" default:"BTCUSDT,ETHUSDT,XRPUSDT,SOLUSDT"`
		StreamEnabled     bool          `envconfig:"MARKET_STREAM_ENABLED" default:"true"`
		ReconnectDelay    time.Duration `envconfig:"MARKET_RECONNECT_DELAY" default:"3s"`
		RateLimitPerMin   int           `envconfig:"MARKET_RATE_LIMIT_PER_MIN" default:"1200"`
		BookDepth         int           `envconfig:"MARKET_BOOK_DEPTH" default:"20"`
		BookPublishPeriod time.Duration `envconfig:"MARKET_BOOK_PUBLISH_PERIOD" default:"250ms"`
	}

	// 모의 거래 설정
	Trading struct {
		TakerFeeRate        float64       `envconfig:"TRADING_TAKER_FEE_RATE" default:"0.0004"`
		MaxLeverage         int           `envconfig:"TRADING_MAX_LEVERAGE" default:"125"`
		MinMargin           float64       `envconfig:"TRADING_MIN_MARGIN" default:"10"`
		LiquidationInterval time.Duration `envconfig:"TRADING_LIQUIDATION_INTERVAL" default:"1s"`
		FundingInterval     time.Duration `envconfig:"TRADING_FUNDING_INTERVAL" default:"8h"`
	}
}

// ValidateMarketConfig는 설정이 유효한지 확인합니다.
func ValidateMarketConfig(cfg *MarketConfig) error {
	if len(cfg.Market.Symbols) == 0 {
		return errors.New("MARKET_SYMBOLS에 최소 1개의 심볼이 필요합니다")
	}
	if cfg.Trading.MaxLeverage < 1 || cfg.Trading.MaxLeverage > 125 {
		return fmt.Errorf("레버리지는 1 이상 125 이하이어야 합니다")
	}
	if cfg.Trading.TakerFeeRate < 0 || cfg.Trading.TakerFeeRate > 0.01 {
		return fmt.Errorf("TRADING_TAKER_FEE_RATE는 0 이상 1%% 이하이어야 합니다")
	}
	if cfg.Trading.MinMargin < 0 {
		return fmt.Errorf("TRADING_MIN_MARGIN은 0 이상이어야 합니다")
	}
	if cfg.Trading.LiquidationInterval < time.Second {
		return fmt.Errorf("TRADING_LIQUIDATION_INTERVAL은 1초 이상이어야 합니다")
	}
	if cfg.Trading.FundingInterval < time.Minute {
		return fmt.Errorf("TRADING_FUNDING_INTERVAL은 1분 이상이어야 합니다")
	}
	if cfg.Market.ReconnectDelay <= 0 {
		return fmt.Errorf("MARKET_RECONNECT_DELAY는 0보다 커야 합니다")
	}
	if cfg.Market.RateLimitPerMin < 1 {
		return fmt.Errorf("MARKET_RATE_LIMIT_PER_MIN은 1 이상이어야 합니다")
	}
	return nil
}

// LoadMarketConfig는 .env 파일(선택)과 환경변수에서 설정을 로드합니다.
func LoadMarketConfig() (*MarketConfig, error) {
	// .env 파일이 없으면 환경변수만 사용
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf(".env 파일 로드 실패: %w", err)
	}

	var cfg MarketConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("환경변수 처리 실패: %w", err)
	}

	if err := ValidateMarketConfig(&cfg); err != nil {
		return nil, fmt.Errorf("설정값 검증 실패: %w", err)
	}

	return &cfg, nil
}
