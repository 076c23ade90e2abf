package shutdown

import (
	"context"
	"sync"
	"time"

	"github.com/minculusofia-wq/frontrun-polymarket/pkg/logger"
)

// Handler 关闭处理函数
type Handler func(ctx context.Context)

// Manager 优雅关闭管理器
//
// 回调按注册顺序执行；整体受宽限期约束，超时后放弃剩余回调。
type Manager struct {
	mu       sync.Mutex
	handlers []Handler
	grace    time.Duration
}

// NewManager 创建新的关闭管理器
func NewManager(grace time.Duration) *Manager {
	if grace <= 0 {
		grace = 30 * time.Second
	}
	return &Manager{grace: grace}
}

// OnShutdown 注册关闭回调
func (m *Manager) OnShutdown(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// Shutdown 执行所有关闭回调，超过宽限期则放弃
func (m *Manager) Shutdown() {
	m.mu.Lock()
	handlers := make([]Handler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.grace)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, h := range handlers {
			h(ctx)
		}
	}()

	select {
	case <-done:
		logger.Infof("优雅关闭完成")
	case <-ctx.Done():
		logger.Warnf("优雅关闭超时（%v），放弃剩余清理", m.grace)
	}
}
