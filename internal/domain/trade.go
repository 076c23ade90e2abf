package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeOpportunity 检测到的跟单机会
type TradeOpportunity struct {
	TokenID         string
	MarketName      string
	Side            Side // 我方方向（抢在对手订单前面，同向）
	EntryPrice      float64
	TargetSize      int // 受对手订单大小和风控上限共同约束
	Counter         CounterOrder
	EstimatedProfit float64
	DetectedAt      time.Time
}

// TradeRecord 已完成交易的不可变记录
//
// ExitPrice 记录的是入场价：系统不观测真实出场价，PnL 即为下单时的
// 预估利润。这是沿用下来的已知近似，不是精确的已实现盈亏。
type TradeRecord struct {
	ID         string
	Timestamp  time.Time
	Market     string
	Side       Side
	Size       int
	EntryPrice float64
	ExitPrice  float64
	PnL        decimal.Decimal
}

// IsProfitable 交易是否盈利（PnL >= 0 计为盈利）
func (t *TradeRecord) IsProfitable() bool {
	return t.PnL.Sign() >= 0
}

// DailyStats 单日交易统计
type DailyStats struct {
	Date        string // YYYY-MM-DD
	Trades      int
	Wins        int
	Losses      int
	GrossProfit decimal.Decimal
	GrossLoss   decimal.Decimal
}

// NetPnL 当日净盈亏 = 总盈利 - 总亏损
func (d *DailyStats) NetPnL() decimal.Decimal {
	return d.GrossProfit.Sub(d.GrossLoss)
}

// WinRate 当日胜率
func (d *DailyStats) WinRate() float64 {
	if d.Trades == 0 {
		return 0
	}
	return float64(d.Wins) / float64(d.Trades)
}

// RiskLevel 风险等级
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)
