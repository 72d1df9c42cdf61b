package config

import (
	"encoding/json"
	"os"

	"binance-margin-bot-go/internal/models"
)

// LoadConfig 从指定路径加载JSON配置文件并解析到Config结构体中，
// 缺失的字段回填为线上使用的默认值。
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	config := Defaults()
	decoder := json.NewDecoder(file)
	if err := decoder.Decode(config); err != nil {
		return nil, err
	}

	return config, nil
}

// Defaults 返回带有全部默认参数的配置。
// 数值与线上长期运行所用的参数保持一致。
func Defaults() *models.Config {
	return &models.Config{
		Symbol:     "BTCUSDT",
		BaseAsset:  "BTC",
		QuoteAsset: "USDT",
		DataDir:    "data",
		ServerURL:  "http://127.0.0.1:5000",

		TradeAmountUSD:       1.3,
		MinTradeAmount:       0.00001,
		SellThresholdPct:     0.1,
		BuyThresholdPct:      0.05,
		SlippageTolerancePct: 0.5,
		TradeCooldownSec:     5,
		FundsPauseSec:        10,
		PollIntervalSec:      1,
		PushIntervalSec:      5,
		HeartbeatIntervalSec: 10,
		SummaryIntervalMin:   240,
		SettleDelaySec:       1,
		LedgerMaxLines:       500,
		RetryAttempts:        3,
		RetryBaseDelayMs:     2000,

		Server: models.ServerConfig{
			Port:                5000,
			DBPath:              "data/live_state_db",
			HeartbeatTimeoutSec: 10,
			WatchdogIntervalSec: 10,
		},
		LogConfig: models.LogConfig{
			Level:  "info",
			Output: "console",
		},
	}
}
