package bot

import (
	"context"
	"sync"
	"time"

	"github.com/minculusofia-wq/frontrun-polymarket/internal/domain"
	"github.com/minculusofia-wq/frontrun-polymarket/internal/events"
	"github.com/minculusofia-wq/frontrun-polymarket/internal/execution"
	"github.com/minculusofia-wq/frontrun-polymarket/internal/ports"
	"github.com/minculusofia-wq/frontrun-polymarket/internal/risk"
	"github.com/minculusofia-wq/frontrun-polymarket/internal/strategy"
	"github.com/minculusofia-wq/frontrun-polymarket/pkg/cache"
	"github.com/minculusofia-wq/frontrun-polymarket/pkg/logger"
)

// State 机器人状态
type State string

const (
	StateStopped  State = "STOPPED"
	StateRunning  State = "RUNNING"
	StateStopping State = "STOPPING"
)

const (
	riskPauseDelay  = 30 * time.Second // 风控拒绝后的暂停
	cycleDelay      = 1 * time.Second  // 周期之间的间隔
	shutdownTimeout = 10 * time.Second // 优雅停机预算
)

// marketScanner 机器人读取扫描器的只读视角
type marketScanner interface {
	CachedMarkets() []*domain.MarketSummary
	CacheStats() (markets, books cache.Stats)
}

// feedConn 推流连接的生命周期控制
type feedConn interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
}

// Stats 机器人统计快照
type Stats struct {
	State         State           `json:"state"`
	CyclesRun     int64           `json:"cycles_run"`
	UptimeSeconds float64         `json:"uptime_seconds"`
	FeedConnected bool            `json:"feed_connected"`
	Risk          risk.Stats      `json:"risk"`
	Strategy      strategy.Stats  `json:"strategy"`
	Execution     execution.Stats `json:"execution"`
	MarketCache   cache.Stats     `json:"market_cache"`
	BookCache     cache.Stats     `json:"book_cache"`
}

// Bot 主协调器
//
// 所有组件在启动时显式构建并按引用传入，没有进程级单例。
// 持久化是 fire-and-forget 的，交易循环从不阻塞在存储上。
type Bot struct {
	scanner  marketScanner
	engine   *strategy.Engine
	governor *risk.Governor
	gateway  *execution.Gateway
	feed     feedConn         // 可为 nil（纯轮询模式）
	store    ports.TradeStore // 可为 nil
	bus      *events.Bus

	mu        sync.Mutex
	state     State
	startTime time.Time
	cyclesRun int64

	cancelLoop context.CancelFunc
	loopDone   chan struct{}

	persistWG sync.WaitGroup
}

// New 组装机器人
func New(scanner marketScanner, engine *strategy.Engine, governor *risk.Governor,
	gateway *execution.Gateway, feed feedConn, store ports.TradeStore, bus *events.Bus) *Bot {
	return &Bot{
		scanner:  scanner,
		engine:   engine,
		governor: governor,
		gateway:  gateway,
		feed:     feed,
		store:    store,
		bus:      bus,
		state:    StateStopped,
	}
}

// Start 启动推流（若配置）和主循环
func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.state == StateRunning {
		b.mu.Unlock()
		logger.Warnf("机器人已在运行")
		return nil
	}
	loopCtx, cancel := context.WithCancel(ctx)
	b.cancelLoop = cancel
	b.loopDone = make(chan struct{})
	b.state = StateRunning
	b.startTime = time.Now()
	b.mu.Unlock()

	if b.feed != nil {
		if err := b.feed.Connect(loopCtx); err != nil {
			// 推流是可选路径，连不上退化为轮询
			logger.Warnf("推流连接失败，退化为轮询: %v", err)
		}
	}

	go b.mainLoop(loopCtx)
	logger.Infof("机器人已启动")
	return nil
}

// mainLoop 主循环：风控闸门 → 策略周期 → 记录与发布
func (b *Bot) mainLoop(ctx context.Context) {
	defer close(b.loopDone)

	for {
		select {
		case <-ctx.Done():
			logger.Infof("主循环退出")
			return
		default:
		}

		if ok, reason := b.governor.CanTrade(); !ok {
			logger.Warnf("交易暂停: %s", reason)
			if b.governor.BreakerActive() {
				stats := b.governor.GetStats()
				b.publish(events.CircuitBreakerEvent{
					Reason:    stats.BreakerReason,
					NetPnL:    stats.Today.NetPnL().String(),
					Timestamp: time.Now(),
				})
			}
			b.sleep(ctx, riskPauseDelay)
			continue
		}

		b.mu.Lock()
		b.cyclesRun++
		cycle := b.cyclesRun
		b.mu.Unlock()
		logger.Debugf("周期 #%d", cycle)

		record := b.engine.RunCycle(ctx)
		if record != nil {
			b.persistTrade(record)
		}

		b.publish(events.StatsEvent{
			Cycle:     cycle,
			Markets:   len(b.scanner.CachedMarkets()),
			Timestamp: time.Now(),
		})

		b.sleep(ctx, cycleDelay)
	}
}

// persistTrade 异步落库；失败只记日志，不影响交易循环
func (b *Bot) persistTrade(record *domain.TradeRecord) {
	if b.store == nil {
		return
	}
	b.persistWG.Add(1)
	go func() {
		defer b.persistWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := b.store.SaveTrade(ctx, record); err != nil {
			logger.Errorf("交易落库失败: %v", err)
		}
	}()
}

// Stop 优雅停机
//
// 顺序：不再接受新周期 → 撤销在途诱饵 → 取消所有本地 OPEN 订单
// → 释放主循环 → 断开推流。超过预算则放弃等待。
func (b *Bot) Stop() {
	b.mu.Lock()
	if b.state != StateRunning {
		b.mu.Unlock()
		return
	}
	b.state = StateStopping
	cancel := b.cancelLoop
	done := b.loopDone
	b.mu.Unlock()

	logger.Infof("机器人停机中...")

	ctx, cancelCtx := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelCtx()

	b.engine.CancelBait(ctx)
	if n := b.gateway.CancelAllOrders(ctx); n > 0 {
		logger.Infof("停机清理: 取消了 %d 个挂单", n)
	}

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		logger.Warnf("主循环未在预算内退出，放弃等待")
	}

	if b.feed != nil {
		b.feed.Disconnect()
	}
	b.persistWG.Wait()

	b.mu.Lock()
	b.state = StateStopped
	b.mu.Unlock()
	logger.Infof("机器人已停止")
}

// State 当前机器人状态
func (b *Bot) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// GetStats 汇总各组件的统计快照
func (b *Bot) GetStats() Stats {
	b.mu.Lock()
	state := b.state
	cycles := b.cyclesRun
	start := b.startTime
	b.mu.Unlock()

	uptime := 0.0
	if !start.IsZero() {
		uptime = time.Since(start).Seconds()
	}
	marketStats, bookStats := b.scanner.CacheStats()

	return Stats{
		State:         state,
		CyclesRun:     cycles,
		UptimeSeconds: uptime,
		FeedConnected: b.feed != nil && b.feed.IsConnected(),
		Risk:          b.governor.GetStats(),
		Strategy:      b.engine.GetStats(),
		Execution:     b.gateway.GetStats(),
		MarketCache:   marketStats,
		BookCache:     bookStats,
	}
}

// CachedMarkets 缓存中的市场摘要（给控制面板用）
func (b *Bot) CachedMarkets() []*domain.MarketSummary {
	return b.scanner.CachedMarkets()
}

// Governor 风控治理器（控制面板的熔断复位入口）
func (b *Bot) Governor() *risk.Governor {
	return b.governor
}

func (b *Bot) publish(event any) {
	if b.bus != nil {
		b.bus.Publish(event)
	}
}

func (b *Bot) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
