// Package monitor 实现价格监控与交易决策引擎。
// 引擎持有基准价、推送节流等全部周期状态（不使用包级全局变量），
// 因此同一进程内可以创建多个互不干扰的实例。
package monitor

import (
	"context"
	"fmt"
	"math"
	"time"

	"binance-margin-bot-go/internal/executor"
	"binance-margin-bot-go/internal/ledger"
	"binance-margin-bot-go/internal/models"
	"binance-margin-bot-go/internal/venue"

	"go.uber.org/zap"
)

// StatusPusher 是引擎向聚合服务器上报所需的最小接口。
type StatusPusher interface {
	Heartbeat(ctx context.Context) error
	PushData(ctx context.Context, update models.StatusUpdate) error
}

// TradeExecutor 是引擎驱动下单所需的最小接口。
type TradeExecutor interface {
	CanTrade() bool
	Execute(ctx context.Context, side venue.Side, amountBTC float64) (*executor.Result, error)
	RecordFailure(t ledger.Type, price float64, reason string)
}

// Engine 是单实例的价格监控/决策引擎。
// 每个周期同步完成：连通性检查、余额与价格读取、滑点防护、
// 节流推送、冷却判断、阈值评估与下单。
type Engine struct {
	cfg      *models.Config
	venue    venue.Venue
	executor TradeExecutor
	pusher   StatusPusher
	ledger   *ledger.Ledger
	log      *zap.SugaredLogger

	basePrice       float64
	startPrice      float64
	lastPushTime    time.Time
	lastPushSummary string

	// 测试注入点
	now   func() time.Time
	sleep func(time.Duration)
}

// NewEngine 创建一个新的决策引擎实例。
func NewEngine(cfg *models.Config, v venue.Venue, exec TradeExecutor, pusher StatusPusher, l *ledger.Ledger, log *zap.SugaredLogger) *Engine {
	return &Engine{
		cfg:      cfg,
		venue:    v,
		executor: exec,
		pusher:   pusher,
		ledger:   l,
		log:      log,
		now:      time.Now,
		sleep:    time.Sleep,
	}
}

// SetBasePrice 在启动时用可信价格校准基准价。
// 首次调用同时记录本次运行的起始价，供状态推送展示。
func (e *Engine) SetBasePrice(price float64) {
	e.basePrice = price
	if e.startPrice == 0 {
		e.startPrice = price
	}
	e.log.Infof("基准价设置为 %.2f", price)
}

// BasePrice 返回当前基准价，0表示尚未校准。
func (e *Engine) BasePrice() float64 {
	return e.basePrice
}

// Run 驱动轮询主循环，直到ctx被取消。
// 心跳上报与决策周期共用同一个循环，互不阻塞长于一个tick。
func (e *Engine) Run(ctx context.Context) {
	pollTicker := time.NewTicker(time.Duration(e.cfg.PollIntervalSec) * time.Second)
	defer pollTicker.Stop()
	heartbeatTicker := time.NewTicker(time.Duration(e.cfg.HeartbeatIntervalSec) * time.Second)
	defer heartbeatTicker.Stop()

	e.log.Info("决策引擎已启动，开始监控价格变化...")
	for {
		select {
		case <-ctx.Done():
			e.log.Info("决策引擎已停止。")
			return
		case <-heartbeatTicker.C:
			if err := e.pusher.Heartbeat(ctx); err != nil {
				e.log.Errorf("心跳上报失败: %v", err)
			}
		case <-pollTicker.C:
			e.cycle(ctx)
		}
	}
}

// cycle 执行一个完整的决策周期。任何读取失败只中止本周期，
// 下一个tick会重新评估；循环本身绝不因单个坏周期崩溃。
func (e *Engine) cycle(ctx context.Context) {
	// 1. 连通性检查：断连时推送空状态，不做任何交易评估。
	if err := e.venue.Ping(ctx); err != nil {
		e.log.Errorf("交易所连接断开: %v", err)
		if pushErr := e.pusher.PushData(ctx, models.StatusUpdate{}); pushErr != nil {
			e.log.Errorf("推送空状态失败: %v", pushErr)
		}
		return
	}

	// 2. 余额与价格必须全部就绪，否则中止本周期。
	balances, err := e.venue.GetMarginBalances(ctx)
	if err != nil {
		e.log.Errorf("获取保证金余额失败: %v", err)
		return
	}
	currentPrice, err := e.venue.GetPrice(ctx, e.cfg.Symbol)
	if err != nil || currentPrice <= 0 {
		e.log.Errorf("获取当前价格失败: %v", err)
		return
	}

	// 3. 首个周期只做校准，绝不交易。
	if e.basePrice == 0 {
		e.SetBasePrice(currentPrice)
		return
	}

	// 4. 滑点防护：偏离过大视为异常tick，不交易也不移动基准价。
	priceDiff := math.Abs(currentPrice-e.basePrice) / e.basePrice * 100
	if priceDiff > e.cfg.SlippageTolerancePct {
		reason := fmt.Sprintf("Price change exceeded tolerance: %.2f%%", priceDiff)
		e.executor.RecordFailure(ledger.TypeFailedPriceChange, currentPrice, reason)
		e.log.Warnf("价格滑点超出容忍度: %.2f%%", priceDiff)
		e.sleep(time.Duration(e.cfg.TradeCooldownSec) * time.Second)
		return
	}

	// 5. 带符号的百分比变化。
	change := (currentPrice - e.basePrice) / e.basePrice * 100

	// 6. 节流推送状态快照。
	e.maybePushStatus(ctx, balances, currentPrice, change)

	// 7. 冷却窗口未结束时跳过交易，上面的推送仍然发生。
	if !e.executor.CanTrade() {
		return
	}

	if math.Abs(change) >= 0.01 {
		e.log.Infof("价格变化: %.2f%% (当前: %.2f, 基准: %.2f)", change, currentPrice, e.basePrice)
	}

	// 8. 非对称阈值：标的长期看跌，卖出门槛设得比买入更高。
	switch {
	case change >= e.cfg.SellThresholdPct:
		e.trySell(ctx, balances, currentPrice)
	case change <= -e.cfg.BuyThresholdPct:
		e.tryBuy(ctx, balances, currentPrice)
	}
}

// trySell 在余额充足时发起卖出，否则记录失败并重置基准价。
func (e *Engine) trySell(ctx context.Context, balances models.Balances, currentPrice float64) {
	required := e.cfg.TradeAmountUSD / currentPrice
	if balances.BTC < required {
		reason := fmt.Sprintf("Insufficient BTC. Required: %.8f BTC, Available: %.8f BTC", required, balances.BTC)
		e.executor.RecordFailure(ledger.TypeFailedSell, currentPrice, reason)
		e.basePrice = currentPrice
		e.sleep(time.Duration(e.cfg.FundsPauseSec) * time.Second)
		return
	}

	e.log.Infof("触发卖出，名义金额 %.2f USDT", e.cfg.TradeAmountUSD)
	res, err := e.executor.Execute(ctx, venue.Sell, required)
	e.finishAttempt(currentPrice, res, err)
}

// tryBuy 在余额充足时发起买入，否则记录失败并重置基准价。
func (e *Engine) tryBuy(ctx context.Context, balances models.Balances, currentPrice float64) {
	if balances.USDT < e.cfg.TradeAmountUSD {
		reason := fmt.Sprintf("Insufficient USDT. Required: %.2f USDT, Available: %.2f USDT", e.cfg.TradeAmountUSD, balances.USDT)
		e.executor.RecordFailure(ledger.TypeFailedBuy, currentPrice, reason)
		e.basePrice = currentPrice
		e.sleep(time.Duration(e.cfg.FundsPauseSec) * time.Second)
		return
	}

	e.log.Infof("触发买入，名义金额 %.2f USDT", e.cfg.TradeAmountUSD)
	res, err := e.executor.Execute(ctx, venue.Buy, 0)
	e.finishAttempt(currentPrice, res, err)
}

// finishAttempt 在任何真正执行过的交易尝试后重置基准价，
// 无论成功与否，避免同一偏离被反复触发。
func (e *Engine) finishAttempt(currentPrice float64, res *executor.Result, err error) {
	if err != nil {
		e.log.Errorf("交易尝试失败: %v", err)
	}
	if res == nil && err == nil {
		// 下单前被中止（无价格/低于最小数量），基准价保持不变。
		return
	}
	e.basePrice = currentPrice
	e.log.Infof("交易尝试结束，基准价重置为 %.2f", currentPrice)
}

// maybePushStatus 最多每PushIntervalSec秒推送一次快照，
// 只有当推送内容与上次不同才打印增量日志，避免刷屏。
func (e *Engine) maybePushStatus(ctx context.Context, balances models.Balances, currentPrice, change float64) {
	if e.now().Sub(e.lastPushTime) < time.Duration(e.cfg.PushIntervalSec)*time.Second {
		return
	}

	btcValue := balances.BTC * currentPrice
	update := models.StatusUpdate{
		PriceData: &models.PriceData{
			BotStartPrice: fmt.Sprintf("%.2f", e.startPrice),
			CurrentPrice:  fmt.Sprintf("%.2f", currentPrice),
			PriceChange:   fmt.Sprintf("%.2f%%", change),
		},
		Balances: &models.LiveBalances{
			BTCBalance:   fmt.Sprintf("%.2f USDT", btcValue),
			USDTBalance:  fmt.Sprintf("%.2f USDT", balances.USDT),
			TotalBalance: fmt.Sprintf("%.2f USDT", balances.Value(currentPrice)),
		},
	}

	if txs, err := e.ledger.ReadRecent(20); err == nil {
		for _, tx := range txs {
			update.Transactions = append(update.Transactions, tx.Live())
		}
	} else {
		e.log.Warnf("读取近期交易记录失败: %v", err)
	}

	if err := e.pusher.PushData(ctx, update); err != nil {
		e.log.Errorf("推送状态数据失败: %v", err)
	} else {
		summary := fmt.Sprintf("%s | %s | %.2f", update.Balances.BTCBalance, update.Balances.USDTBalance, currentPrice)
		if summary != e.lastPushSummary {
			e.log.Infof("数据已更新: BTC %s, USDT %s, 价格 %.2f",
				update.Balances.BTCBalance, update.Balances.USDTBalance, currentPrice)
			e.lastPushSummary = summary
		}
	}
	e.lastPushTime = e.now()
}
