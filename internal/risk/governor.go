package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/minculusofia-wq/frontrun-polymarket/internal/domain"
	"github.com/minculusofia-wq/frontrun-polymarket/pkg/logger"
)

// 风险分级阈值：当日亏损占熔断额度的比例 / 资金回撤比例
const (
	lossRatioMedium   = 0.3
	lossRatioHigh     = 0.5
	lossRatioCritical = 0.8

	drawdownMedium   = 0.05
	drawdownHigh     = 0.10
	drawdownCritical = 0.20

	minBankroll = 1.0
)

// Stats 风控状态快照
type Stats struct {
	Bankroll        float64           `json:"bankroll"`
	InitialBankroll float64           `json:"initial_bankroll"`
	OpenTrades      int               `json:"open_trades"`
	BreakerActive   bool              `json:"breaker_active"`
	BreakerReason   string            `json:"breaker_reason"`
	RiskLevel       domain.RiskLevel  `json:"risk_level"`
	TotalTrades     int               `json:"total_trades"`
	TotalWins       int               `json:"total_wins"`
	TotalLosses     int               `json:"total_losses"`
	Today           domain.DailyStats `json:"today"`
}

// Governor 风控治理器
//
// 资金、并发计数和熔断状态的唯一持有者。熔断是粘性的：一旦触发，
// 只有显式 ResetCircuitBreaker 能恢复，不会随时间或跨日自动清除。
type Governor struct {
	mu sync.Mutex

	initialBankroll decimal.Decimal
	bankroll        decimal.Decimal
	maxTradePercent decimal.Decimal // 百分比，1.0 = 1%
	maxDailyLoss    decimal.Decimal // 触发熔断的当日最大亏损额
	maxConcurrent   int

	openTrades    int
	breakerActive bool
	breakerReason string

	history []*domain.TradeRecord
	daily   map[string]*domain.DailyStats

	totalWins   int
	totalLosses int

	now func() time.Time // 测试可替换
}

// NewGovernor 创建风控治理器
func NewGovernor(bankroll, maxTradePercent, maxDailyLossPercent float64, maxConcurrent int) *Governor {
	initial := decimal.NewFromFloat(bankroll)
	return &Governor{
		initialBankroll: initial,
		bankroll:        initial,
		maxTradePercent: decimal.NewFromFloat(maxTradePercent),
		maxDailyLoss:    initial.Mul(decimal.NewFromFloat(maxDailyLossPercent)).Div(decimal.NewFromInt(100)),
		maxConcurrent:   maxConcurrent,
		daily:           make(map[string]*domain.DailyStats),
		now:             time.Now,
	}
}

// CanTrade 交易准入判断，返回 (是否允许, 原因)
//
// 检查顺序固定：熔断 → 并发上限 → 当日亏损 → 资金下限。
// 后两项不达标会先触发熔断再拒绝。
func (g *Governor) CanTrade() (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.breakerActive {
		return false, fmt.Sprintf("熔断已触发: %s", g.breakerReason)
	}
	if g.openTrades >= g.maxConcurrent {
		return false, fmt.Sprintf("并发交易已达上限 (%d/%d)", g.openTrades, g.maxConcurrent)
	}

	today := g.todayLocked()
	if today.NetPnL().LessThan(g.maxDailyLoss.Neg()) {
		g.tripBreakerLocked(fmt.Sprintf("当日亏损 %s 超过限额 %s", today.NetPnL().Neg(), g.maxDailyLoss))
		return false, g.breakerReason
	}
	if g.bankroll.LessThan(decimal.NewFromFloat(minBankroll)) {
		g.tripBreakerLocked(fmt.Sprintf("资金 %s 低于最低额度 %.1f", g.bankroll, minBankroll))
		return false, g.breakerReason
	}
	return true, "ok"
}

// MaxTradeSize 按当前资金计算的最大持仓股数
//
// floor(bankroll × max_trade_percent / price)；熔断中或价格
// 非法时为 0。
func (g *Governor) MaxTradeSize(price float64) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.breakerActive || price <= 0 {
		return 0
	}
	notional := g.bankroll.Mul(g.maxTradePercent).Div(decimal.NewFromInt(100))
	size, _ := notional.Div(decimal.NewFromFloat(price)).Float64()
	return int(math.Floor(size))
}

// RecordTradeOpen 登记一笔交易开始（递增并发计数）
func (g *Governor) RecordTradeOpen() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.openTrades++
}

// RecordTradeAbort 撤销一次开仓登记（交易未成交时保持开/平对称）
func (g *Governor) RecordTradeAbort() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.openTrades > 0 {
		g.openTrades--
	}
}

// RecordTradeClose 登记一笔交易完成：更新并发计数、资金和当日统计
//
// 盈亏归类按 PnL >= 0 计为盈利。
func (g *Governor) RecordTradeClose(record *domain.TradeRecord) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.openTrades > 0 {
		g.openTrades--
	}
	g.history = append(g.history, record)
	g.bankroll = g.bankroll.Add(record.PnL)

	today := g.todayLocked()
	today.Trades++
	if record.IsProfitable() {
		today.Wins++
		today.GrossProfit = today.GrossProfit.Add(record.PnL)
		g.totalWins++
	} else {
		today.Losses++
		today.GrossLoss = today.GrossLoss.Add(record.PnL.Neg())
		g.totalLosses++
	}

	logger.Infof("交易登记: %s %s %d股 pnl=%s 资金=%s",
		record.Market, record.Side, record.Size, record.PnL, g.bankroll)
}

// AssessRiskLevel 四级风险分级
//
// 依据当日亏损占熔断额度的比例（30%/50%/80%）和资金回撤
// （5%/10%/20%）取较严重的一档。
func (g *Governor) AssessRiskLevel() domain.RiskLevel {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.assessLocked()
}

func (g *Governor) assessLocked() domain.RiskLevel {
	today := g.todayLocked()

	lossRatio := 0.0
	if net := today.NetPnL(); net.IsNegative() && g.maxDailyLoss.IsPositive() {
		lossRatio, _ = net.Neg().Div(g.maxDailyLoss).Float64()
	}

	drawdown := 0.0
	if g.bankroll.LessThan(g.initialBankroll) && g.initialBankroll.IsPositive() {
		drawdown, _ = g.initialBankroll.Sub(g.bankroll).Div(g.initialBankroll).Float64()
	}

	switch {
	case lossRatio >= lossRatioCritical || drawdown >= drawdownCritical:
		return domain.RiskLevelCritical
	case lossRatio >= lossRatioHigh || drawdown >= drawdownHigh:
		return domain.RiskLevelHigh
	case lossRatio >= lossRatioMedium || drawdown >= drawdownMedium:
		return domain.RiskLevelMedium
	default:
		return domain.RiskLevelLow
	}
}

// SizeMultiplier 风险等级对应的仓位折减系数
func (g *Governor) SizeMultiplier() float64 {
	switch g.AssessRiskLevel() {
	case domain.RiskLevelCritical:
		return 0.25
	case domain.RiskLevelHigh:
		return 0.5
	case domain.RiskLevelMedium:
		return 0.75
	default:
		return 1.0
	}
}

// TripCircuitBreaker 手动触发熔断
func (g *Governor) TripCircuitBreaker(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tripBreakerLocked(reason)
}

func (g *Governor) tripBreakerLocked(reason string) {
	if g.breakerActive {
		return
	}
	g.breakerActive = true
	g.breakerReason = reason
	logger.Warnf("熔断触发: %s", reason)
}

// ResetCircuitBreaker 显式解除熔断（唯一的恢复路径）
func (g *Governor) ResetCircuitBreaker() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.breakerActive {
		logger.Infof("熔断解除（此前原因: %s）", g.breakerReason)
	}
	g.breakerActive = false
	g.breakerReason = ""
}

// BreakerActive 熔断是否处于触发状态
func (g *Governor) BreakerActive() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.breakerActive
}

// Bankroll 当前资金
func (g *Governor) Bankroll() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	f, _ := g.bankroll.Float64()
	return f
}

// TodayStats 当日统计的副本
func (g *Governor) TodayStats() domain.DailyStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return *g.todayLocked()
}

// GetStats 风控状态快照
func (g *Governor) GetStats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	bankroll, _ := g.bankroll.Float64()
	initial, _ := g.initialBankroll.Float64()
	return Stats{
		Bankroll:        bankroll,
		InitialBankroll: initial,
		OpenTrades:      g.openTrades,
		BreakerActive:   g.breakerActive,
		BreakerReason:   g.breakerReason,
		RiskLevel:       g.assessLocked(),
		TotalTrades:     len(g.history),
		TotalWins:       g.totalWins,
		TotalLosses:     g.totalLosses,
		Today:           *g.todayLocked(),
	}
}

// todayLocked 取当日统计，没有则创建（调用方需持有锁）
func (g *Governor) todayLocked() *domain.DailyStats {
	date := g.now().Format("2006-01-02")
	stats, ok := g.daily[date]
	if !ok {
		stats = &domain.DailyStats{Date: date}
		g.daily[date] = stats
	}
	return stats
}
