package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"binance-margin-bot-go/internal/aggregator"
	"binance-margin-bot-go/internal/config"
	"binance-margin-bot-go/internal/ledger"
	"binance-margin-bot-go/internal/logger"
	"binance-margin-bot-go/internal/models"
	"binance-margin-bot-go/internal/persistence"
	"binance-margin-bot-go/internal/venue"

	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the config file")
	flag.Parse()

	// 提前用默认配置初始化日志
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	if err := godotenv.Load(); err != nil {
		logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("无法加载配置文件: %v", err)
	}
	logger.InitLogger(cfg.LogConfig)
	defer logger.S().Sync()

	runServer(cfg)
}

// runServer 组装聚合服务器：持久化、交易所探测、websocket广播与HTTP入口。
func runServer(cfg *models.Config) {
	log := logger.S()
	log.Info("--- 启动状态聚合服务器 ---")

	token := os.Getenv("AGGREGATOR_API_TOKEN")
	if token == "" {
		log.Warn("未设置 AGGREGATOR_API_TOKEN，所有推送端点将不做认证。")
	}

	repo, err := persistence.NewBadgerRepository(cfg.Server.DBPath)
	if err != nil {
		log.Fatalf("打开状态数据库失败: %v", err)
	}
	defer repo.Close()

	// 交易所探测只需要公开端点，密钥缺省时仍可工作
	pinger := venue.NewBinanceVenue(os.Getenv("BINANCE_API_KEY"), os.Getenv("BINANCE_SECRET_KEY"),
		cfg.BaseAsset, cfg.QuoteAsset, log)

	trades, err := ledger.New(cfg.DataDir, cfg.LedgerMaxLines, log)
	if err != nil {
		log.Fatalf("初始化手动交易账本失败: %v", err)
	}

	hub := aggregator.NewHub(log)
	agg := aggregator.New(cfg.Server, pinger, repo, trades, hub, log)

	if saved, err := repo.LoadState(); err != nil {
		log.Errorf("读取持久化状态失败，将以空状态启动: %v", err)
	} else if saved != nil {
		agg.Restore(saved)
	}

	agg.SeedFromLedger(cfg.LedgerMaxLines)
	agg.Start()
	defer agg.Stop()

	srv := aggregator.NewServer(cfg.Server.Port, token, agg, hub, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("收到退出信号，开始优雅停机...")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("HTTP服务器异常退出: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("HTTP服务器停机失败: %v", err)
	}
	log.Info("--- 聚合服务器已退出 ---")
}
