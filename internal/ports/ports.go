package ports

import (
	"context"

	"github.com/minculusofia-wq/frontrun-polymarket/internal/domain"
)

// Small capability interfaces shared across layers (scanner/execution/strategy).

// ExchangeClient CLOB 交易所客户端能力
type ExchangeClient interface {
	// ListMarkets 拉取活跃市场列表
	ListMarkets(ctx context.Context) ([]domain.MarketMeta, error)
	// GetOrderBook 拉取单个市场的订单簿快照
	GetOrderBook(ctx context.Context, tokenID string) (*domain.OrderBookSnapshot, error)
	// CreateOrder 本地构建订单载荷（不发远程请求）
	CreateOrder(ctx context.Context, req domain.OrderRequest) (*domain.PreparedOrder, error)
	// PostOrder 提交已构建的订单，返回交易所订单 ID
	PostOrder(ctx context.Context, order *domain.PreparedOrder) (string, error)
	// CancelOrder 取消订单
	CancelOrder(ctx context.Context, orderID string) error
	// GetOrder 查询订单状态
	GetOrder(ctx context.Context, orderID string) (*domain.OrderInfo, error)
}

// BookSource 订单簿来源（真实来源可能是 websocket 推流或轮询）
type BookSource interface {
	GetOrderBook(ctx context.Context, tokenID string) (*domain.OrderBookSnapshot, error)
}

// TradeStore 交易记录持久化能力
type TradeStore interface {
	SaveTrade(ctx context.Context, trade *domain.TradeRecord) error
	ListTrades(ctx context.Context, limit int) ([]*domain.TradeRecord, error)
	DailyStats(ctx context.Context, date string) (*domain.DailyStats, error)
	AllTimeStats(ctx context.Context) (*domain.DailyStats, error)
	Close() error
}

// OrderCanceler 订单取消能力（策略侧只需要这一项时使用）
type OrderCanceler interface {
	CancelOrder(ctx context.Context, orderID string) error
}
