package strategy

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/minculusofia-wq/frontrun-polymarket/internal/domain"
)

type fakeScanner struct {
	markets     []*domain.MarketSummary
	counter     *domain.CounterOrder
	detectErr   error
	detectPanic bool
}

func (f *fakeScanner) ScanMarkets(ctx context.Context) []*domain.MarketSummary {
	return f.markets
}

func (f *fakeScanner) DetectCounterOrder(ctx context.Context, tokenID string, minSize float64, timeout time.Duration) (*domain.CounterOrder, error) {
	if f.detectPanic {
		panic("检测器内部故障")
	}
	return f.counter, f.detectErr
}

type fakeGateway struct {
	mu          sync.Mutex
	placeErr    error
	executeErr  error
	placed      []float64 // 挂单价格
	executed    []int     // 执行数量
	cancelCalls []string
}

func (f *fakeGateway) PlaceLimitOrder(ctx context.Context, tokenID string, side domain.Side, price float64, size int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeErr != nil {
		return "", f.placeErr
	}
	f.placed = append(f.placed, price)
	return "bait-1", nil
}

func (f *fakeGateway) ExecuteMarketOrder(ctx context.Context, tokenID string, side domain.Side, size int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.executeErr != nil {
		return "", f.executeErr
	}
	f.executed = append(f.executed, size)
	return "exec-1", nil
}

func (f *fakeGateway) CancelOrder(ctx context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelCalls = append(f.cancelCalls, orderID)
	return nil
}

func (f *fakeGateway) cancels() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cancelCalls)
}

type fakeGovernor struct {
	mu       sync.Mutex
	denied   bool
	reason   string
	maxSize  int
	mult     float64
	opens    int
	aborts   int
	closes   []*domain.TradeRecord
}

func (f *fakeGovernor) CanTrade() (bool, string) {
	if f.denied {
		return false, f.reason
	}
	return true, "ok"
}

func (f *fakeGovernor) MaxTradeSize(price float64) int { return f.maxSize }
func (f *fakeGovernor) SizeMultiplier() float64        { return f.mult }

func (f *fakeGovernor) RecordTradeOpen() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
}

func (f *fakeGovernor) RecordTradeAbort() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborts++
}

func (f *fakeGovernor) RecordTradeClose(record *domain.TradeRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes = append(f.closes, record)
}

func summary() *domain.MarketSummary {
	return &domain.MarketSummary{
		TokenID:      "t1",
		MarketName:   "测试市场",
		BestBid:      0.40,
		BestAsk:      0.60,
		Spread:       0.20,
		BidLiquidity: 500,
		AskLiquidity: 400,
		LastUpdate:   time.Now(),
	}
}

func fastEngine(s *fakeScanner, g *fakeGateway, gov *fakeGovernor) *Engine {
	e := NewEngine(s, g, gov, nil, Config{
		MicroOrderSize:      3,
		MinCounterOrderSize: 50,
		ReactionTimeout:     100 * time.Millisecond,
	})
	e.noMarketCooldown = time.Millisecond
	e.afterTradeCooldown = time.Millisecond
	return e
}

// TestRunCycle_FullTrade 测试完整周期：诱饵 → 检测 → 撤饵 → 执行
func TestRunCycle_FullTrade(t *testing.T) {
	scanner := &fakeScanner{
		markets: []*domain.MarketSummary{summary()},
		counter: &domain.CounterOrder{Side: domain.BookSideBid, Price: 0.50, Size: 80, DetectedAt: time.Now()},
	}
	gateway := &fakeGateway{}
	governor := &fakeGovernor{maxSize: 100, mult: 1.0}
	e := fastEngine(scanner, gateway, governor)

	record := e.RunCycle(context.Background())
	if record == nil {
		t.Fatal("应产生交易记录")
	}

	// 诱饵价 = 中间价 0.50 - 0.02 = 0.48
	if len(gateway.placed) != 1 || gateway.placed[0] != 0.48 {
		t.Errorf("诱饵价应为 0.48，得到 %v", gateway.placed)
	}
	// 对手是大买单 → 我方买入 @ 0.50-0.01
	if record.Side != domain.SideBuy {
		t.Errorf("大买单应触发我方买入，得到 %s", record.Side)
	}
	if math.Abs(record.EntryPrice-0.49) > 1e-9 {
		t.Errorf("入场价应为 0.49，得到 %v", record.EntryPrice)
	}
	// 数量 = min(80, 100) = 80
	if record.Size != 80 {
		t.Errorf("数量应为 80，得到 %d", record.Size)
	}
	// 诱饵恰好撤一次
	if gateway.cancels() != 1 {
		t.Errorf("诱饵应恰好撤销一次，得到 %d", gateway.cancels())
	}
	// 开/平仓登记对称
	if governor.opens != 1 || len(governor.closes) != 1 || governor.aborts != 0 {
		t.Errorf("开/平仓登记不对称: opens=%d closes=%d aborts=%d",
			governor.opens, len(governor.closes), governor.aborts)
	}
}

// TestRunCycle_AskCounter 测试大卖单触发我方卖出
func TestRunCycle_AskCounter(t *testing.T) {
	scanner := &fakeScanner{
		markets: []*domain.MarketSummary{summary()},
		counter: &domain.CounterOrder{Side: domain.BookSideAsk, Price: 0.50, Size: 60, DetectedAt: time.Now()},
	}
	gateway := &fakeGateway{}
	governor := &fakeGovernor{maxSize: 40, mult: 1.0}
	e := fastEngine(scanner, gateway, governor)

	record := e.RunCycle(context.Background())
	if record == nil {
		t.Fatal("应产生交易记录")
	}
	if record.Side != domain.SideSell {
		t.Errorf("大卖单应触发我方卖出，得到 %s", record.Side)
	}
	if math.Abs(record.EntryPrice-0.51) > 1e-9 {
		t.Errorf("入场价应为 0.51，得到 %v", record.EntryPrice)
	}
	// 数量受风控上限约束 = min(60, 40) = 40
	if record.Size != 40 {
		t.Errorf("数量应为 40，得到 %d", record.Size)
	}
}

// TestRunCycle_DetectorPanic 测试监控阶段故障后诱饵恰好撤一次
func TestRunCycle_DetectorPanic(t *testing.T) {
	scanner := &fakeScanner{
		markets:     []*domain.MarketSummary{summary()},
		detectPanic: true,
	}
	gateway := &fakeGateway{}
	governor := &fakeGovernor{maxSize: 100, mult: 1.0}
	e := fastEngine(scanner, gateway, governor)

	record := e.RunCycle(context.Background())
	if record != nil {
		t.Errorf("故障周期不应产生交易，得到 %+v", record)
	}
	if gateway.cancels() != 1 {
		t.Errorf("故障路径诱饵也应恰好撤销一次，得到 %d", gateway.cancels())
	}
	if e.State() != StateIdle {
		t.Errorf("故障后应回到 Idle，得到 %s", e.State())
	}
}

// TestRunCycle_NoMarkets 测试无目标市场时进入冷却，不挂诱饵
func TestRunCycle_NoMarkets(t *testing.T) {
	scanner := &fakeScanner{}
	gateway := &fakeGateway{}
	governor := &fakeGovernor{maxSize: 100, mult: 1.0}
	e := fastEngine(scanner, gateway, governor)

	if record := e.RunCycle(context.Background()); record != nil {
		t.Error("无目标市场不应产生交易")
	}
	if len(gateway.placed) != 0 {
		t.Error("无目标市场不应挂诱饵")
	}
	if e.State() != StateCooldown {
		t.Errorf("应进入冷却，得到 %s", e.State())
	}
}

// TestRunCycle_RiskDenied 测试风控拒绝时不挂诱饵
func TestRunCycle_RiskDenied(t *testing.T) {
	scanner := &fakeScanner{markets: []*domain.MarketSummary{summary()}}
	gateway := &fakeGateway{}
	governor := &fakeGovernor{denied: true, reason: "熔断"}
	e := fastEngine(scanner, gateway, governor)

	if record := e.RunCycle(context.Background()); record != nil {
		t.Error("风控拒绝不应产生交易")
	}
	if len(gateway.placed) != 0 {
		t.Error("风控拒绝不应挂诱饵")
	}
}

// TestRunCycle_BaitFailure 测试诱饵挂单失败直接中止周期
func TestRunCycle_BaitFailure(t *testing.T) {
	scanner := &fakeScanner{markets: []*domain.MarketSummary{summary()}}
	gateway := &fakeGateway{placeErr: errors.New("下单失败")}
	governor := &fakeGovernor{maxSize: 100, mult: 1.0}
	e := fastEngine(scanner, gateway, governor)

	if record := e.RunCycle(context.Background()); record != nil {
		t.Error("诱饵失败不应产生交易")
	}
	if gateway.cancels() != 0 {
		t.Error("没挂出去的诱饵不应有撤单尝试")
	}
}

// TestRunCycle_NoCounter 测试无对手反应时撤饵后结束，不执行
func TestRunCycle_NoCounter(t *testing.T) {
	scanner := &fakeScanner{markets: []*domain.MarketSummary{summary()}}
	gateway := &fakeGateway{}
	governor := &fakeGovernor{maxSize: 100, mult: 1.0}
	e := fastEngine(scanner, gateway, governor)

	if record := e.RunCycle(context.Background()); record != nil {
		t.Error("无对手反应不应产生交易")
	}
	if gateway.cancels() != 1 {
		t.Errorf("诱饵应恰好撤销一次，得到 %d", gateway.cancels())
	}
	if len(gateway.executed) != 0 {
		t.Error("无机会不应执行抢单")
	}
	if governor.opens != 0 {
		t.Error("无执行不应登记开仓")
	}
}

// TestRunCycle_ExecutionFailure 测试执行失败时撤销开仓登记
func TestRunCycle_ExecutionFailure(t *testing.T) {
	scanner := &fakeScanner{
		markets: []*domain.MarketSummary{summary()},
		counter: &domain.CounterOrder{Side: domain.BookSideBid, Price: 0.50, Size: 80, DetectedAt: time.Now()},
	}
	gateway := &fakeGateway{executeErr: errors.New("执行失败")}
	governor := &fakeGovernor{maxSize: 100, mult: 1.0}
	e := fastEngine(scanner, gateway, governor)

	if record := e.RunCycle(context.Background()); record != nil {
		t.Error("执行失败不应产生交易记录")
	}
	if governor.opens != 1 || governor.aborts != 1 || len(governor.closes) != 0 {
		t.Errorf("执行失败应撤销开仓登记: opens=%d aborts=%d closes=%d",
			governor.opens, governor.aborts, len(governor.closes))
	}
}

// TestRunCycle_SizeMultiplierApplied 测试风险折减作用于目标数量
func TestRunCycle_SizeMultiplierApplied(t *testing.T) {
	scanner := &fakeScanner{
		markets: []*domain.MarketSummary{summary()},
		counter: &domain.CounterOrder{Side: domain.BookSideBid, Price: 0.50, Size: 80, DetectedAt: time.Now()},
	}
	gateway := &fakeGateway{}
	governor := &fakeGovernor{maxSize: 100, mult: 0.5}
	e := fastEngine(scanner, gateway, governor)

	record := e.RunCycle(context.Background())
	if record == nil {
		t.Fatal("应产生交易记录")
	}
	// min(80, 100×0.5) = 50
	if record.Size != 50 {
		t.Errorf("折减后数量应为 50，得到 %d", record.Size)
	}
}

// TestRunCycle_ZeroSizeDropsOpportunity 测试风控额度为 0 时放弃机会
func TestRunCycle_ZeroSizeDropsOpportunity(t *testing.T) {
	scanner := &fakeScanner{
		markets: []*domain.MarketSummary{summary()},
		counter: &domain.CounterOrder{Side: domain.BookSideBid, Price: 0.50, Size: 80, DetectedAt: time.Now()},
	}
	gateway := &fakeGateway{}
	governor := &fakeGovernor{maxSize: 0, mult: 1.0}
	e := fastEngine(scanner, gateway, governor)

	if record := e.RunCycle(context.Background()); record != nil {
		t.Error("额度为 0 不应产生交易")
	}
	if len(gateway.executed) != 0 {
		t.Error("额度为 0 不应执行抢单")
	}
	if gateway.cancels() != 1 {
		t.Errorf("诱饵仍应恰好撤销一次，得到 %d", gateway.cancels())
	}
}
