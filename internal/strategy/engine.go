package strategy

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/minculusofia-wq/frontrun-polymarket/internal/domain"
	"github.com/minculusofia-wq/frontrun-polymarket/internal/events"
	"github.com/minculusofia-wq/frontrun-polymarket/pkg/logger"
)

const (
	baitSpreadOffset    = 0.02 // 诱饵价相对中间价的偏移
	frontrunPriceOffset = 0.01 // 抢单价相对对手价的改善幅度

	cooldownNoMarket   = 5 * time.Second // 没有目标市场时的冷却
	cooldownAfterTrade = 2 * time.Second // 一轮交易后的冷却

	sortedCacheTTL = 5 * time.Second
)

// State 策略状态
type State string

const (
	StateIdle       State = "idle"
	StateScanning   State = "scanning"
	StateBaiting    State = "baiting"
	StateMonitoring State = "monitoring"
	StateExecuting  State = "executing"
	StateCooldown   State = "cooldown"
)

// marketScanner 策略依赖的扫描能力
type marketScanner interface {
	ScanMarkets(ctx context.Context) []*domain.MarketSummary
	DetectCounterOrder(ctx context.Context, tokenID string, minSize float64, timeout time.Duration) (*domain.CounterOrder, error)
}

// executionGateway 策略依赖的执行能力
type executionGateway interface {
	PlaceLimitOrder(ctx context.Context, tokenID string, side domain.Side, price float64, size int) (string, error)
	ExecuteMarketOrder(ctx context.Context, tokenID string, side domain.Side, size int) (string, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// riskGovernor 策略依赖的风控能力
type riskGovernor interface {
	CanTrade() (bool, string)
	MaxTradeSize(price float64) int
	SizeMultiplier() float64
	RecordTradeOpen()
	RecordTradeAbort()
	RecordTradeClose(record *domain.TradeRecord)
}

// Config 策略参数
type Config struct {
	MicroOrderSize      int
	MinCounterOrderSize float64
	ReactionTimeout     time.Duration
}

// Stats 策略统计
type Stats struct {
	State           State   `json:"state"`
	TradesExecuted  int     `json:"trades_executed"`
	TotalPnL        float64 `json:"total_pnl"`
	LastTradeMarket string  `json:"last_trade_market"`
}

// Engine 抢单策略状态机
//
// 一个周期：选目标 → 挂诱饵 → 监控反应 → 撤诱饵 → 执行抢单 →
// 冷却。诱饵订单在每条退出路径上（包括 panic）都恰好被取消一次。
type Engine struct {
	scanner  marketScanner
	gateway  executionGateway
	governor riskGovernor
	bus      *events.Bus // 可为 nil
	cfg      Config

	mu          sync.Mutex
	state       State
	currentBait *domain.BaitOrder

	sortedCache     []*domain.MarketSummary
	sortedCacheTime time.Time

	tradesExecuted  int
	totalPnL        float64
	lastTradeMarket string

	// 测试可缩短
	noMarketCooldown   time.Duration
	afterTradeCooldown time.Duration
}

// NewEngine 创建策略引擎。bus 传 nil 时不发事件。
func NewEngine(scanner marketScanner, gateway executionGateway, governor riskGovernor, bus *events.Bus, cfg Config) *Engine {
	return &Engine{
		scanner:            scanner,
		gateway:            gateway,
		governor:           governor,
		bus:                bus,
		cfg:                cfg,
		state:              StateIdle,
		noMarketCooldown:   cooldownNoMarket,
		afterTradeCooldown: cooldownAfterTrade,
	}
}

// State 当前策略状态
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State, tokenID string) {
	e.mu.Lock()
	from := e.state
	e.state = s
	e.mu.Unlock()

	logger.Infof("策略状态: %s → %s", from, s)
	e.publish(events.StateChangedEvent{From: string(from), To: string(s), TokenID: tokenID, Timestamp: time.Now()})
}

func (e *Engine) publish(event any) {
	if e.bus != nil {
		e.bus.Publish(event)
	}
}

// RunCycle 跑一个完整的策略周期，返回成交的交易记录（没有则为 nil）
//
// 周期内的任何未处理故障都被吸收：撤掉诱饵、回到 Idle、报告本轮
// 无交易，不把故障抛给调用方。
func (e *Engine) RunCycle(ctx context.Context) (record *domain.TradeRecord) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("策略周期异常: %v", r)
			e.cancelBait(ctx)
			e.setState(StateIdle, "")
			record = nil
		}
	}()

	// 1. 选目标市场
	target := e.findTarget(ctx)
	if target == nil {
		e.setState(StateCooldown, "")
		e.sleep(ctx, e.noMarketCooldown)
		return nil
	}

	// 2. 风控准入
	if ok, reason := e.governor.CanTrade(); !ok {
		logger.Infof("风控拒绝本轮交易: %s", reason)
		e.setState(StateIdle, "")
		return nil
	}

	// 3. 挂诱饵订单
	if !e.placeBait(ctx, target) {
		e.setState(StateIdle, "")
		return nil
	}

	// 4. 监控对手反应
	opportunity := e.monitorForReaction(ctx, target)

	// 5. 无论结果如何先撤诱饵
	e.cancelBait(ctx)

	if opportunity == nil {
		e.setState(StateIdle, "")
		return nil
	}

	// 6. 执行抢单
	record = e.executeFrontrun(ctx, opportunity)

	e.setState(StateCooldown, "")
	e.sleep(ctx, e.afterTradeCooldown)
	return record
}

// findTarget 选价差最大的目标市场（并列时比两侧流动性之和）
//
// 候选集不变时用 5 秒的排序缓存，避免每个 tick 都重排。
func (e *Engine) findTarget(ctx context.Context) *domain.MarketSummary {
	e.setState(StateScanning, "")

	markets := e.scanner.ScanMarkets(ctx)
	if len(markets) == 0 {
		logger.Debugf("没有达标市场")
		return nil
	}

	e.mu.Lock()
	if e.sortedCache != nil && time.Since(e.sortedCacheTime) < sortedCacheTTL && len(e.sortedCache) == len(markets) {
		markets = e.sortedCache
	} else {
		sort.Slice(markets, func(i, j int) bool {
			if markets[i].Spread != markets[j].Spread {
				return markets[i].Spread > markets[j].Spread
			}
			return markets[i].BidLiquidity+markets[i].AskLiquidity > markets[j].BidLiquidity+markets[j].AskLiquidity
		})
		e.sortedCache = markets
		e.sortedCacheTime = time.Now()
	}
	best := markets[0]
	e.mu.Unlock()

	logger.Infof("目标市场: %s (价差 $%.3f)", best.MarketName, best.Spread)
	return best
}

// placeBait 在中间价下方挂微型买单制造人为信号
func (e *Engine) placeBait(ctx context.Context, target *domain.MarketSummary) bool {
	e.setState(StateBaiting, target.TokenID)

	midPrice := (target.BestBid + target.BestAsk) / 2
	baitPrice := math.Round((midPrice-baitSpreadOffset)*1000) / 1000

	orderID, err := e.gateway.PlaceLimitOrder(ctx, target.TokenID, domain.SideBuy, baitPrice, e.cfg.MicroOrderSize)
	if err != nil {
		logger.Errorf("挂诱饵订单失败: %v", err)
		return false
	}

	bait := &domain.BaitOrder{
		OrderID:  orderID,
		TokenID:  target.TokenID,
		Side:     domain.SideBuy,
		Price:    baitPrice,
		Size:     e.cfg.MicroOrderSize,
		PlacedAt: time.Now(),
	}
	e.mu.Lock()
	e.currentBait = bait
	e.mu.Unlock()

	logger.Infof("诱饵已挂出: %d股 @ $%.3f (%s)", bait.Size, bait.Price, orderID)
	e.publish(events.BaitPlacedEvent{Bait: bait, Timestamp: time.Now()})
	return true
}

// monitorForReaction 在反应窗口内等待对手大单，折算成交易机会
func (e *Engine) monitorForReaction(ctx context.Context, target *domain.MarketSummary) *domain.TradeOpportunity {
	e.setState(StateMonitoring, target.TokenID)

	counter, err := e.scanner.DetectCounterOrder(ctx, target.TokenID, e.cfg.MinCounterOrderSize, e.cfg.ReactionTimeout)
	if err != nil {
		logger.Warnf("对手订单检测失败: %v", err)
		return nil
	}
	if counter == nil {
		logger.Debugf("窗口内无对手订单")
		return nil
	}

	// 抢在对手前面：大买单出现就以更优价先买，大卖单同理先卖
	var side domain.Side
	var entryPrice float64
	if counter.Side == domain.BookSideBid {
		side = domain.SideBuy
		entryPrice = counter.Price - frontrunPriceOffset
	} else {
		side = domain.SideSell
		entryPrice = counter.Price + frontrunPriceOffset
	}

	maxSize := int(float64(e.governor.MaxTradeSize(entryPrice)) * e.governor.SizeMultiplier())
	targetSize := int(math.Min(counter.Size, float64(maxSize)))
	if targetSize < 1 {
		logger.Infof("风控上限下无可交易数量，放弃机会")
		return nil
	}

	estimatedProfit := math.Abs(counter.Price-entryPrice) * float64(targetSize)

	opportunity := &domain.TradeOpportunity{
		TokenID:         target.TokenID,
		MarketName:      target.MarketName,
		Side:            side,
		EntryPrice:      entryPrice,
		TargetSize:      targetSize,
		Counter:         *counter,
		EstimatedProfit: estimatedProfit,
		DetectedAt:      time.Now(),
	}

	logger.Infof("发现机会: %s %d股 @ $%.3f (预估利润 $%.2f)", side, targetSize, entryPrice, estimatedProfit)
	e.publish(events.OpportunityEvent{Opportunity: opportunity, Timestamp: time.Now()})
	return opportunity
}

// executeFrontrun 执行抢单，返回交易记录（失败为 nil）
//
// 开/平仓登记围绕每次执行严格对称：执行前登记开仓，成交登记
// 平仓，失败撤销开仓登记。
func (e *Engine) executeFrontrun(ctx context.Context, opp *domain.TradeOpportunity) *domain.TradeRecord {
	e.setState(StateExecuting, opp.TokenID)

	e.governor.RecordTradeOpen()
	_, err := e.gateway.ExecuteMarketOrder(ctx, opp.TokenID, opp.Side, opp.TargetSize)
	if err != nil {
		logger.Errorf("抢单执行失败: %v", err)
		e.governor.RecordTradeAbort()
		return nil
	}

	// 系统不观测真实出场价，pnl 记为下单时的预估利润
	record := &domain.TradeRecord{
		ID:         uuid.New().String(),
		Timestamp:  time.Now(),
		Market:     opp.MarketName,
		Side:       opp.Side,
		Size:       opp.TargetSize,
		EntryPrice: opp.EntryPrice,
		ExitPrice:  opp.EntryPrice,
		PnL:        decimal.NewFromFloat(opp.EstimatedProfit),
	}
	e.governor.RecordTradeClose(record)

	e.mu.Lock()
	e.tradesExecuted++
	e.totalPnL += opp.EstimatedProfit
	e.lastTradeMarket = opp.MarketName
	e.mu.Unlock()

	logger.Infof("抢单成交! 预估利润 $%.2f", opp.EstimatedProfit)
	e.publish(events.TradeCompletedEvent{Trade: record, Timestamp: time.Now()})
	return record
}

// cancelBait 撤销当前诱饵订单（没有则什么都不做）
//
// 无论撤单成败都清空引用，保证一个周期内至多一次撤单尝试。
func (e *Engine) cancelBait(ctx context.Context) {
	e.mu.Lock()
	bait := e.currentBait
	e.currentBait = nil
	e.mu.Unlock()

	if !bait.IsActive() {
		return
	}
	if err := e.gateway.CancelOrder(ctx, bait.OrderID); err != nil {
		logger.Errorf("撤销诱饵失败: %v", err)
		return
	}
	logger.Infof("诱饵已撤销: %s", bait.OrderID)
}

// CancelBait 撤销在途诱饵（供停机路径调用）
func (e *Engine) CancelBait(ctx context.Context) {
	e.cancelBait(ctx)
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// GetStats 策略统计快照
func (e *Engine) GetStats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		State:           e.state,
		TradesExecuted:  e.tradesExecuted,
		TotalPnL:        e.totalPnL,
		LastTradeMarket: e.lastTradeMarket,
	}
}
