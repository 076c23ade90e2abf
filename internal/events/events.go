package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/minculusofia-wq/frontrun-polymarket/internal/domain"
	"github.com/minculusofia-wq/frontrun-polymarket/pkg/logger"
)

// StateChangedEvent 策略状态切换事件
type StateChangedEvent struct {
	From      string
	To        string
	TokenID   string
	Timestamp time.Time
}

// OpportunityEvent 检测到跟单机会事件
type OpportunityEvent struct {
	Opportunity *domain.TradeOpportunity
	Timestamp   time.Time
}

// TradeCompletedEvent 交易完成事件
type TradeCompletedEvent struct {
	Trade     *domain.TradeRecord
	Timestamp time.Time
}

// BaitPlacedEvent 诱饵订单挂出事件
type BaitPlacedEvent struct {
	Bait      *domain.BaitOrder
	Timestamp time.Time
}

// RiskLevelChangedEvent 风险等级变化事件
type RiskLevelChangedEvent struct {
	From      domain.RiskLevel
	To        domain.RiskLevel
	Timestamp time.Time
}

// CircuitBreakerEvent 熔断触发事件
type CircuitBreakerEvent struct {
	Reason    string
	NetPnL    string
	Timestamp time.Time
}

// StatsEvent 周期统计事件
type StatsEvent struct {
	Cycle     int64
	Markets   int
	Timestamp time.Time
}

// Bus 进程内事件总线
//
// 发布永不阻塞：订阅者通道满时丢弃该事件并计数，慢消费者不影响
// 交易主循环。
type Bus struct {
	mu      sync.RWMutex
	subs    []chan any
	dropped atomic.Int64
}

// NewBus 创建事件总线
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe 注册一个订阅者，返回只读事件通道
func (b *Bus) Subscribe(buffer int) <-chan any {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan any, buffer)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// Publish 向所有订阅者广播事件（非阻塞）
func (b *Bus) Publish(event any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			b.dropped.Add(1)
			logger.Debugf("事件总线：订阅者通道已满，丢弃事件 %T", event)
		}
	}
}

// Dropped 被丢弃的事件总数
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close 关闭所有订阅者通道
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
