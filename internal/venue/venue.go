// Package venue 抽象了保证金交易场所。接口只覆盖本系统真正消费的
// 四类调用：行情、全仓余额、市价下单、订单查询，外加连通性探测。
package venue

import (
	"context"

	"binance-margin-bot-go/internal/models"
)

// Side 定义了交易方向的类型
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Pinger 是聚合服务器侧判定连通性所需的最小接口。
type Pinger interface {
	Ping(ctx context.Context) error
}

// Venue 定义了交易场所必须提供的方法。
// 所有调用都是同步阻塞的，超时与取消通过 context 控制。
type Venue interface {
	Pinger

	// GetPrice 返回交易对的最新成交价。
	GetPrice(ctx context.Context, symbol string) (float64, error)

	// GetMarginBalances 返回全仓保证金账户中基础资产与计价资产的
	// 可用余额。每个决策周期重新调用，结果不做缓存。
	GetMarginBalances(ctx context.Context) (models.Balances, error)

	// CreateMarketOrder 以全仓保证金模式提交市价单。
	CreateMarketOrder(ctx context.Context, symbol string, side Side, quantity float64, clientOrderID string) (*models.VenueOrder, error)

	// GetOrder 按订单ID查询成交情况。
	GetOrder(ctx context.Context, symbol string, orderID int64) (*models.VenueOrder, error)
}
