package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"binance-margin-bot-go/internal/config"
	"binance-margin-bot-go/internal/executor"
	"binance-margin-bot-go/internal/ledger"
	"binance-margin-bot-go/internal/logger"
	"binance-margin-bot-go/internal/models"
	"binance-margin-bot-go/internal/monitor"
	"binance-margin-bot-go/internal/reporter"
	"binance-margin-bot-go/internal/retry"
	"binance-margin-bot-go/internal/runstate"
	"binance-margin-bot-go/internal/venue"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the config file")
	flag.Parse()

	// 提前用默认配置初始化日志，保证加载.env和配置文件时就有日志可用
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	if err := godotenv.Load(); err != nil {
		logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
	} else {
		logger.S().Info("成功从 .env 文件加载配置。")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("无法加载配置文件: %v", err)
	}

	// 使用文件中的配置重新初始化日志
	logger.InitLogger(cfg.LogConfig)
	defer logger.S().Sync()

	runBot(cfg)
}

// runBot 组装全部组件并驱动监控主循环，直到收到退出信号。
func runBot(cfg *models.Config) {
	log := logger.S()
	log.Info("--- 启动保证金交易机器人 ---")

	apiKey := os.Getenv("BINANCE_API_KEY")
	secretKey := os.Getenv("BINANCE_SECRET_KEY")
	if apiKey == "" || secretKey == "" {
		log.Fatal("错误：BINANCE_API_KEY 和 BINANCE_SECRET_KEY 环境变量必须被设置。")
	}
	serverToken := os.Getenv("AGGREGATOR_API_TOKEN")
	if serverToken == "" {
		log.Warn("未设置 AGGREGATOR_API_TOKEN，推送将不携带认证头。")
	}

	v := venue.NewBinanceVenue(apiKey, secretKey, cfg.BaseAsset, cfg.QuoteAsset, log)

	book, err := ledger.New(cfg.DataDir, cfg.LedgerMaxLines, log)
	if err != nil {
		log.Fatalf("初始化交易账本失败: %v", err)
	}
	store, err := runstate.NewStore(cfg.DataDir, log)
	if err != nil {
		log.Fatalf("初始化运行状态存储失败: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 启动时必须拿到一个可信的价格，否则宁可退出也不带着错误基准运行
	retryBase := time.Duration(cfg.RetryBaseDelayMs) * time.Millisecond
	startPrice, err := retry.Do(cfg.RetryAttempts, retryBase, func() (float64, error) {
		return v.GetPrice(ctx, cfg.Symbol)
	})
	if err != nil || startPrice <= 0 {
		log.Fatalf("无法获取启动价格，退出: %v", err)
	}
	// 余额允许为零，因此这里只对错误重试
	var balances models.Balances
	err = retry.Run(cfg.RetryAttempts, retryBase, func() error {
		var berr error
		balances, berr = v.GetMarginBalances(ctx)
		return berr
	})
	if err != nil {
		log.Fatalf("无法获取初始余额，退出: %v", err)
	}

	if err := store.Initialize(balances, startPrice); err != nil {
		log.Fatalf("初始化运行记录失败: %v", err)
	}

	exec := executor.New(cfg, v, book, log)
	pusher := reporter.NewClient(cfg.ServerURL, serverToken, cfg, log)
	engine := monitor.NewEngine(cfg, v, exec, pusher, book, log)
	engine.SetBasePrice(startPrice)

	if err := pusher.Heartbeat(ctx); err != nil {
		log.Warnf("初始心跳上报失败: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		engine.Run(ctx)
	}()

	// 周期性生成交易摘要报告，独立于决策循环
	wg.Add(1)
	go func() {
		defer wg.Done()
		runSummaryScheduler(ctx, cfg, v, store, log)
	}()

	<-ctx.Done()
	log.Info("收到退出信号，开始优雅停机...")
	wg.Wait()

	shutdown(cfg, v, store, pusher, log)
	log.Info("--- 机器人已退出 ---")
}

// runSummaryScheduler 按配置的间隔生成运行中的摘要报告。
func runSummaryScheduler(ctx context.Context, cfg *models.Config, v venue.Venue, store *runstate.Store, log *zap.SugaredLogger) {
	ticker := time.NewTicker(time.Duration(cfg.SummaryIntervalMin) * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			balances, err := v.GetMarginBalances(ctx)
			if err != nil {
				log.Errorf("生成摘要前获取余额失败: %v", err)
				continue
			}
			price, err := v.GetPrice(ctx, cfg.Symbol)
			if err != nil {
				log.Errorf("生成摘要前获取价格失败: %v", err)
				continue
			}
			if _, err := store.SummarizeInterim(balances, price); err != nil {
				log.Errorf("生成摘要报告失败: %v", err)
			}
		}
	}
}

// shutdown 执行终止流程：读取最终余额、落盘运行记录、生成最终报告、
// 通知聚合服务器下线。每一步都尽力而为，失败不阻塞后续步骤。
func shutdown(cfg *models.Config, v venue.Venue, store *runstate.Store, pusher *reporter.Client, log *zap.SugaredLogger) {
	// 停机流程不再依赖已取消的主context
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var endPrice float64
	finalBalances, err := v.GetMarginBalances(ctx)
	if err != nil {
		log.Errorf("获取最终余额失败，报告中的余额可能不准确: %v", err)
	}
	if p, err := v.GetPrice(ctx, cfg.Symbol); err == nil {
		endPrice = p
	} else {
		log.Errorf("获取最终价格失败，将以启动价格估值: %v", err)
	}

	if err := store.Finalize(finalBalances, endPrice); err != nil {
		log.Errorf("写入最终运行记录失败: %v", err)
	} else if _, err := store.Summarize(); err != nil {
		log.Errorf("生成最终摘要报告失败: %v", err)
	} else {
		log.Infof("最终摘要报告已生成: %s", store.ReportPath())
	}

	if err := pusher.SetStatus(ctx, models.BotStatusInactive); err != nil {
		log.Errorf("通知聚合服务器下线失败: %v", err)
	}
}
