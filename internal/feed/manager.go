package feed

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/minculusofia-wq/frontrun-polymarket/internal/domain"
	"github.com/minculusofia-wq/frontrun-polymarket/pkg/logger"
	"github.com/minculusofia-wq/frontrun-polymarket/pkg/ratelimit"
	"github.com/minculusofia-wq/frontrun-polymarket/pkg/syncgroup"
)

// State 连接状态
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

const (
	connectTimeout = 10 * time.Second
	backoffFloor   = 1 * time.Second
	backoffCeiling = 30 * time.Second
)

// UpdateHandler 订单簿更新回调
type UpdateHandler func(tokenID string, book *domain.OrderBookSnapshot)

// outboundMessage 发往推流服务的消息
type outboundMessage struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	Market  string `json:"market,omitempty"`
}

// inboundMessage 推流服务发来的消息
type inboundMessage struct {
	Type     string     `json:"type"`
	Market   string     `json:"market"`
	Bids     []rawLevel `json:"bids"`
	Asks     []rawLevel `json:"asks"`
	Snapshot bool       `json:"snapshot"`
	Message  string     `json:"message"`
}

type rawLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// Manager 实时订单簿推流管理器（信号驱动重连）
//
// 每个市场的订单簿消息整体替换缓存快照，不做增量合并。订阅意图
// 在未连接时排队，(重)连接成功后由 resubscribe 统一重放。
type Manager struct {
	url string

	mu    sync.RWMutex
	conn  *websocket.Conn
	state State
	subs  map[string]struct{}
	books map[string]*domain.OrderBookSnapshot

	onUpdate UpdateHandler

	writeMu sync.Mutex // gorilla 的写端不允许并发

	reconnectC chan struct{}
	backoffMu  sync.Mutex
	backoff    time.Duration

	limiter *ratelimit.TokenBucket

	ctx    context.Context
	cancel context.CancelFunc
	sg     *syncgroup.SyncGroup
}

// NewManager 创建推流管理器
func NewManager(url string) *Manager {
	return &Manager{
		url:        url,
		state:      StateDisconnected,
		subs:       make(map[string]struct{}),
		books:      make(map[string]*domain.OrderBookSnapshot),
		reconnectC: make(chan struct{}, 1), // 缓冲1，避免阻塞
		backoff:    backoffFloor,
		limiter:    ratelimit.NewTokenBucket(5, 5, time.Second),
		sg:         syncgroup.NewSyncGroup(),
	}
}

// OnUpdate 注册订单簿更新回调（需在 Connect 前调用）
func (m *Manager) OnUpdate(handler UpdateHandler) {
	m.onUpdate = handler
}

// State 当前连接状态
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsConnected 推流是否已连接
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Connect 建立推流连接并启动接收循环
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateConnected || m.state == StateConnecting {
		m.mu.Unlock()
		return nil
	}
	m.state = StateConnecting
	if m.cancel != nil {
		m.cancel()
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	conn, err := m.dial(m.ctx)
	if err != nil {
		m.setState(StateDisconnected)
		return err
	}

	m.mu.Lock()
	m.conn = conn
	m.state = StateConnected
	m.mu.Unlock()
	m.resetBackoff()

	if err := m.resubscribe(m.ctx); err != nil {
		logger.Warnf("推流重放订阅失败: %v", err)
	}

	m.sg.Add(func() { m.receiveLoop(m.ctx) })
	m.sg.Add(func() { m.reconnector(m.ctx) })
	m.sg.Run()

	logger.Infof("订单簿推流已连接: %s", m.url)
	return nil
}

func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: connectTimeout}
	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	conn, _, err := dialer.DialContext(dialCtx, m.url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "连接推流失败: %s", m.url)
	}
	return conn, nil
}

// SubscribeMarket 订阅一个市场的订单簿推流
//
// 未连接时只记录订阅意图，连接建立后由 resubscribe 重放。
func (m *Manager) SubscribeMarket(ctx context.Context, tokenID string) error {
	m.mu.Lock()
	m.subs[tokenID] = struct{}{}
	connected := m.state == StateConnected
	m.mu.Unlock()

	if !connected {
		return nil
	}
	return m.send(ctx, outboundMessage{Type: "subscribe", Channel: "book", Market: tokenID})
}

// UnsubscribeMarket 退订一个市场
func (m *Manager) UnsubscribeMarket(ctx context.Context, tokenID string) error {
	m.mu.Lock()
	delete(m.subs, tokenID)
	delete(m.books, tokenID)
	connected := m.state == StateConnected
	m.mu.Unlock()

	if !connected {
		return nil
	}
	return m.send(ctx, outboundMessage{Type: "unsubscribe", Channel: "book", Market: tokenID})
}

// GetOrderBook 读取某市场最新的推流快照
func (m *Manager) GetOrderBook(tokenID string) (*domain.OrderBookSnapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	book, ok := m.books[tokenID]
	return book, ok
}

// resubscribe (重)连接后重放全部订阅意图，发送之间做速率限制
func (m *Manager) resubscribe(ctx context.Context) error {
	m.mu.RLock()
	pending := make([]string, 0, len(m.subs))
	for id := range m.subs {
		pending = append(pending, id)
	}
	m.mu.RUnlock()

	for _, id := range pending {
		if err := m.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := m.send(ctx, outboundMessage{Type: "subscribe", Channel: "book", Market: id}); err != nil {
			return err
		}
	}
	if len(pending) > 0 {
		logger.Infof("推流重放订阅完成: %d 个市场", len(pending))
	}
	return nil
}

func (m *Manager) send(ctx context.Context, msg outboundMessage) error {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()
	if conn == nil {
		return errors.New("推流未连接")
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
	} else {
		conn.SetWriteDeadline(time.Now().Add(connectTimeout))
	}
	return conn.WriteJSON(msg)
}

// receiveLoop 接收循环：一次读一条消息，连接断开时发重连信号
func (m *Manager) receiveLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		m.mu.RLock()
		conn := m.conn
		m.mu.RUnlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warnf("推流连接断开: %v", err)
			m.setState(StateReconnecting)
			select {
			case m.reconnectC <- struct{}{}:
			default:
			}
			return
		}

		m.handleMessage(ctx, data)
	}
}

// handleMessage 处理单条消息；畸形消息记日志丢弃，不中断循环
func (m *Manager) handleMessage(ctx context.Context, data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		logger.Warnf("推流消息解析失败，丢弃: %v", err)
		return
	}

	switch msg.Type {
	case "book":
		m.handleBook(&msg)
	case "subscribed":
		logger.Debugf("推流订阅确认: %s", msg.Market)
	case "ping":
		if err := m.send(ctx, outboundMessage{Type: "pong"}); err != nil {
			logger.Warnf("推流回复 pong 失败: %v", err)
		}
	case "error":
		logger.Warnf("推流服务端错误: %s", msg.Message)
	default:
		logger.Debugf("推流未知消息类型: %s", msg.Type)
	}
}

// handleBook 整体替换缓存快照并触发更新回调
func (m *Manager) handleBook(msg *inboundMessage) {
	if msg.Market == "" {
		logger.Warnf("推流 book 消息缺少市场标识，丢弃")
		return
	}

	book := &domain.OrderBookSnapshot{
		TokenID:   msg.Market,
		Bids:      parseLevels(msg.Bids),
		Asks:      parseLevels(msg.Asks),
		Timestamp: time.Now(),
	}

	m.mu.Lock()
	m.books[msg.Market] = book
	handler := m.onUpdate
	m.mu.Unlock()

	if handler != nil {
		handler(msg.Market, book)
	}
}

func parseLevels(raw []rawLevel) []domain.PriceLevel {
	levels := make([]domain.PriceLevel, 0, len(raw))
	for _, l := range raw {
		price, err := strconv.ParseFloat(l.Price, 64)
		if err != nil {
			continue
		}
		size, err := strconv.ParseFloat(l.Size, 64)
		if err != nil {
			continue
		}
		levels = append(levels, domain.PriceLevel{Price: price, Size: size})
	}
	return levels
}

// reconnector 重连器 goroutine（信号驱动，指数退避 1s→30s）
func (m *Manager) reconnector(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.reconnectC:
		}

		for {
			delay := m.nextBackoff()
			logger.Infof("推流 %s 后重连...", delay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}

			conn, err := m.dial(ctx)
			if err != nil {
				logger.Warnf("推流重连失败: %v", err)
				continue
			}

			m.mu.Lock()
			if m.conn != nil {
				m.conn.Close()
			}
			m.conn = conn
			m.state = StateConnected
			m.mu.Unlock()
			m.resetBackoff()

			if err := m.resubscribe(ctx); err != nil {
				logger.Warnf("推流重放订阅失败: %v", err)
			}

			m.sg.Add(func() { m.receiveLoop(ctx) })
			m.sg.Run()
			logger.Infof("推流已重连")
			break
		}
	}
}

func (m *Manager) nextBackoff() time.Duration {
	m.backoffMu.Lock()
	defer m.backoffMu.Unlock()
	delay := m.backoff
	m.backoff *= 2
	if m.backoff > backoffCeiling {
		m.backoff = backoffCeiling
	}
	return delay
}

func (m *Manager) resetBackoff() {
	m.backoffMu.Lock()
	m.backoff = backoffFloor
	m.backoffMu.Unlock()
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Disconnect 断开推流（幂等）：取消接收和重连任务，关闭连接
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.state == StateDisconnected && m.conn == nil {
		m.mu.Unlock()
		return
	}
	if m.cancel != nil {
		m.cancel()
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.state = StateDisconnected
	m.mu.Unlock()

	m.sg.Wait()
	logger.Infof("订单簿推流已断开")
}
