package models

import "time"

// Config 定义了机器人和聚合服务器的所有配置参数
type Config struct {
	Symbol     string `json:"symbol"`      // 交易对，如 "BTCUSDT"
	BaseAsset  string `json:"base_asset"`  // 基础资产，如 "BTC"
	QuoteAsset string `json:"quote_asset"` // 计价资产，如 "USDT"
	DataDir    string `json:"data_dir"`    // 账本/运行状态/报告文件目录
	ServerURL  string `json:"server_url"`  // 聚合服务器地址，如 "http://127.0.0.1:5000"

	TradeAmountUSD       float64 `json:"trade_amount_usd"`       // 每次交易的USD名义金额
	MinTradeAmount       float64 `json:"min_trade_amount"`       // 交易所可成交的最小基础资产数量
	SellThresholdPct     float64 `json:"sell_threshold_pct"`     // 触发卖出的最小涨幅(%)
	BuyThresholdPct      float64 `json:"buy_threshold_pct"`      // 触发买入的最小跌幅(%)，取正值
	SlippageTolerancePct float64 `json:"slippage_tolerance_pct"` // 相邻轮询间允许的最大价格偏离(%)
	TradeCooldownSec     int     `json:"trade_cooldown_sec"`     // 两次下单之间的最小间隔
	FundsPauseSec        int     `json:"funds_pause_sec"`        // 余额不足后的额外暂停
	PollIntervalSec      int     `json:"poll_interval_sec"`      // 决策循环的轮询间隔
	PushIntervalSec      int     `json:"push_interval_sec"`      // 状态推送节流间隔
	HeartbeatIntervalSec int     `json:"heartbeat_interval_sec"` // 心跳上报间隔
	SummaryIntervalMin   int     `json:"summary_interval_min"`   // 摘要报告生成间隔(分钟)
	SettleDelaySec       int     `json:"settle_delay_sec"`       // 下单后到查询成交前的等待
	LedgerMaxLines       int     `json:"ledger_max_lines"`       // 账本文件保留的最大行数
	RetryAttempts        int     `json:"retry_attempts"`         // 网络读取的最大重试次数
	RetryBaseDelayMs     int     `json:"retry_base_delay_ms"`    // 重试的初始退避毫秒数

	Server    ServerConfig `json:"server"` // 聚合服务器配置
	LogConfig LogConfig    `json:"log"`    // 日志配置
}

// ServerConfig 定义了聚合服务器侧的配置
type ServerConfig struct {
	Port                int    `json:"port"`                  // HTTP监听端口
	DBPath              string `json:"db_path"`               // badger数据库目录
	HeartbeatTimeoutSec int    `json:"heartbeat_timeout_sec"` // 超过该时长无认证更新则判定bot失活
	WatchdogIntervalSec int    `json:"watchdog_interval_sec"` // 失活巡检间隔
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level"`       // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `json:"output"`      // 输出模式: "console", "file", "both"
	File       string `json:"file"`        // 日志文件路径
	MaxSize    int    `json:"max_size"`    // 单个日志文件的最大大小 (MB)
	MaxBackups int    `json:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `json:"max_age"`     // 旧日志文件的最大保留天数
	Compress   bool   `json:"compress"`    // 是否压缩旧日志文件
}

// Balances 是一次决策周期内抓取的全仓保证金可用余额快照。
// 每个周期重新获取，绝不跨周期缓存。
type Balances struct {
	BTC  float64
	USDT float64
}

// Value 按给定价格把余额折算成计价货币总值。
func (b Balances) Value(price float64) float64 {
	return b.BTC*price + b.USDT
}

// VenueOrder 是交易所订单在本系统内的归一化表示。
type VenueOrder struct {
	OrderID       int64
	ClientOrderID string
	ExecutedQty   float64
	AvgPrice      float64
	Status        string
}

// PriceData 是推送给聚合服务器的价格快照，字段与线上格式保持兼容。
type PriceData struct {
	BotStartPrice string `json:"bot_start_price"`
	CurrentPrice  string `json:"current_price"`
	PriceChange   string `json:"price_change"`
}

// LiveBalances 是推送给聚合服务器的余额快照，BTC余额以USDT计值。
type LiveBalances struct {
	BTCBalance   string `json:"btc_balance"`
	USDTBalance  string `json:"usdt_balance"`
	TotalBalance string `json:"total_balance"`
}

// LiveTransaction 是聚合服务器持有的单条交易记录。
// OrderID 为空的记录（合成的失败记录）不参与去重。
type LiveTransaction struct {
	Timestamp  string `json:"timestamp"`
	Type       string `json:"type"`
	Amount     string `json:"amount"`
	Price      string `json:"price"`
	TotalValue string `json:"total_value"`
	OrderID    string `json:"order_id"`
}

// StatusUpdate 是bot推送给聚合服务器的一次完整状态更新。
type StatusUpdate struct {
	PriceData    *PriceData        `json:"price_data,omitempty"`
	Balances     *LiveBalances     `json:"balances,omitempty"`
	Transactions []LiveTransaction `json:"transactions,omitempty"`
}

// Bot状态取值
const (
	BotStatusActive   = "active"
	BotStatusInactive = "inactive"
)

// 聚合侧连接状态取值
const (
	ConnectionConnected    = "Connected"
	ConnectionDisconnected = "Disconnected"
)

// LiveState 是聚合服务器持有的合并后状态。
// 仅在聚合器的互斥区内被修改；对外只暴露拷贝。
type LiveState struct {
	PriceData        PriceData         `json:"price_data"`
	Balances         LiveBalances      `json:"balances"`
	Transactions     []LiveTransaction `json:"transactions"`
	BotStatus        string            `json:"bot_status"`
	ConnectionStatus string            `json:"connection_status"`
	LastUpdate       time.Time         `json:"last_update"`
}

// NewLiveState 返回与线上初始格式一致的空状态。
func NewLiveState() LiveState {
	return LiveState{
		PriceData:        PriceData{BotStartPrice: "N/A", CurrentPrice: "N/A", PriceChange: "N/A"},
		Balances:         LiveBalances{BTCBalance: "N/A", USDTBalance: "N/A", TotalBalance: "N/A"},
		Transactions:     []LiveTransaction{},
		BotStatus:        BotStatusInactive,
		ConnectionStatus: ConnectionDisconnected,
	}
}

// Clone 返回状态的深拷贝，供读取方安全持有。
func (s LiveState) Clone() LiveState {
	out := s
	out.Transactions = make([]LiveTransaction, len(s.Transactions))
	copy(out.Transactions, s.Transactions)
	return out
}

// TradeRequest 是 /execute_trade 的请求体。
type TradeRequest struct {
	Action     string  `json:"action"`
	Amount     float64 `json:"amount"`
	Price      float64 `json:"price,omitempty"`
	TotalValue float64 `json:"total_value,omitempty"`
	Timestamp  string  `json:"timestamp,omitempty"`
}

// RunState 是单次运行的持久化记录，外部形态保持为 information.txt 的JSON。
// final_* 字段仅在运行终止时写入；重启未经过终止流程时保留旧值。
type RunState struct {
	RunID        string   `json:"run_id"`
	BotStartTime string   `json:"bot_start_time"`
	BotEndTime   string   `json:"bot_end_time,omitempty"`
	StartPrice   float64  `json:"bot_start_price"`
	EndPrice     *float64 `json:"bot_end_price"`
	InitialBTC   float64  `json:"initial_btc"`
	InitialUSDT  float64  `json:"initial_usdt"`
	FinalBTC     *float64 `json:"final_btc"`
	FinalUSDT    *float64 `json:"final_usdt"`
	ProfitBTC    float64  `json:"profit_btc"`
	ProfitTotal  float64  `json:"profit_total"`
	USDTChange   float64  `json:"usdt_change"`
	TotalInitial float64  `json:"total_initial"`
	TotalFinal   float64  `json:"total_final"`
	TotalTrades  int      `json:"total_trades"`
}

// TimeLayout 是所有持久化时间戳使用的格式。
const TimeLayout = "2006-01-02 15:04:05"
