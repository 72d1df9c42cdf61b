package venue

import (
	"context"
	"fmt"
	"strconv"

	"binance-margin-bot-go/internal/models"

	"github.com/adshao/go-binance/v2"
	"go.uber.org/zap"
)

// BinanceVenue 通过币安全仓保证金接口实现 Venue。
type BinanceVenue struct {
	client     *binance.Client
	baseAsset  string
	quoteAsset string
	logger     *zap.SugaredLogger
}

// NewBinanceVenue 创建一个新的 BinanceVenue 实例。
func NewBinanceVenue(apiKey, secretKey, baseAsset, quoteAsset string, logger *zap.SugaredLogger) *BinanceVenue {
	return &BinanceVenue{
		client:     binance.NewClient(apiKey, secretKey),
		baseAsset:  baseAsset,
		quoteAsset: quoteAsset,
		logger:     logger,
	}
}

// Ping 探测交易所连通性。
func (v *BinanceVenue) Ping(ctx context.Context) error {
	return v.client.NewPingService().Do(ctx)
}

// GetPrice 获取指定交易对的最新成交价。
func (v *BinanceVenue) GetPrice(ctx context.Context, symbol string) (float64, error) {
	prices, err := v.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("获取 %s 价格失败: %w", symbol, err)
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("交易所未返回 %s 的价格", symbol)
	}
	return strconv.ParseFloat(prices[0].Price, 64)
}

// GetMarginBalances 获取全仓保证金账户的可用余额。
func (v *BinanceVenue) GetMarginBalances(ctx context.Context) (models.Balances, error) {
	account, err := v.client.NewGetMarginAccountService().Do(ctx)
	if err != nil {
		return models.Balances{}, fmt.Errorf("获取保证金账户失败: %w", err)
	}

	var balances models.Balances
	for _, asset := range account.UserAssets {
		free, err := strconv.ParseFloat(asset.Free, 64)
		if err != nil {
			v.logger.Warnf("无法解析资产 %s 的可用余额 %q: %v", asset.Asset, asset.Free, err)
			continue
		}
		switch asset.Asset {
		case v.baseAsset:
			balances.BTC = free
		case v.quoteAsset:
			balances.USDT = free
		}
	}
	return balances, nil
}

// CreateMarketOrder 以全仓保证金模式提交市价单。
// 数量按8位小数截断后上送，ClientOrderID 用于幂等对账。
func (v *BinanceVenue) CreateMarketOrder(ctx context.Context, symbol string, side Side, quantity float64, clientOrderID string) (*models.VenueOrder, error) {
	sideType := binance.SideTypeBuy
	if side == Sell {
		sideType = binance.SideTypeSell
	}

	svc := v.client.NewCreateMarginOrderService().
		Symbol(symbol).
		Side(sideType).
		Type(binance.OrderTypeMarket).
		Quantity(strconv.FormatFloat(quantity, 'f', 8, 64))
	if clientOrderID != "" {
		svc = svc.NewClientOrderID(clientOrderID)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("提交 %s 市价单失败: %w", side, err)
	}

	return &models.VenueOrder{
		OrderID:       resp.OrderID,
		ClientOrderID: resp.ClientOrderID,
		ExecutedQty:   parseFloatOrZero(resp.ExecutedQuantity),
		AvgPrice:      averageFillPrice(resp.ExecutedQuantity, resp.CummulativeQuoteQuantity, resp.Price),
		Status:        string(resp.Status),
	}, nil
}

// GetOrder 按订单ID查询成交情况。
func (v *BinanceVenue) GetOrder(ctx context.Context, symbol string, orderID int64) (*models.VenueOrder, error) {
	order, err := v.client.NewGetMarginOrderService().
		Symbol(symbol).
		OrderID(orderID).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询订单 %d 失败: %w", orderID, err)
	}

	return &models.VenueOrder{
		OrderID:       order.OrderID,
		ClientOrderID: order.ClientOrderID,
		ExecutedQty:   parseFloatOrZero(order.ExecutedQuantity),
		AvgPrice:      averageFillPrice(order.ExecutedQuantity, order.CummulativeQuoteQuantity, order.Price),
		Status:        string(order.Status),
	}, nil
}

// averageFillPrice 用累计成交额除以成交量得到实际均价。
// 市价单的 price 字段通常为0，没有成交时退回该字段原值。
func averageFillPrice(executedQty, cumQuote, rawPrice string) float64 {
	qty := parseFloatOrZero(executedQty)
	quote := parseFloatOrZero(cumQuote)
	if qty > 0 && quote > 0 {
		return quote / qty
	}
	return parseFloatOrZero(rawPrice)
}

func parseFloatOrZero(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
