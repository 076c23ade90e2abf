package execution

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/minculusofia-wq/frontrun-polymarket/internal/domain"
	"github.com/minculusofia-wq/frontrun-polymarket/internal/ports"
	"github.com/minculusofia-wq/frontrun-polymarket/pkg/logger"
)

// ErrTimeout 远程调用超出单次预算，与普通失败区分上报
var ErrTimeout = errors.New("远程调用超时")

const (
	defaultCallTimeout = 10 * time.Second

	// 市价单的穿越偏移与价格边界
	crossOffset = 0.001
	priceFloor  = 0.001
	priceCeil   = 0.999
)

// Stats 执行统计
type Stats struct {
	OrdersPlaced    int     `json:"orders_placed"`
	OrdersFilled    int     `json:"orders_filled"`
	OrdersCancelled int     `json:"orders_cancelled"`
	Retries         int     `json:"retries"`
	Failures        int     `json:"failures"`
	Volume          float64 `json:"volume"` // 成交名义金额（USD）
}

// localOrder 本地跟踪的订单
type localOrder struct {
	TokenID  string
	Side     domain.Side
	Price    float64
	Size     int
	Status   domain.OrderStatus
	PlacedAt time.Time
}

// Gateway 执行网关
//
// 所有远程调用都在固定超时内完成，瞬时失败按固定预算重试
// （0.5s/1s/2s 递增延迟），超时和普通失败共享同一重试预算。
// 失败不向外抛异常，转成显式的错误返回。
type Gateway struct {
	client ports.ExchangeClient

	mu     sync.Mutex
	orders map[string]*localOrder
	stats  Stats

	callTimeout time.Duration   // 测试可缩短
	retryDelays []time.Duration // 测试可缩短
}

// NewGateway 创建执行网关
func NewGateway(client ports.ExchangeClient) *Gateway {
	return &Gateway{
		client:      client,
		orders:      make(map[string]*localOrder),
		callTimeout: defaultCallTimeout,
		retryDelays: []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second},
	}
}

// withTimeout 单次远程调用的超时保护
func (g *Gateway) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	err := fn(callCtx)
	if err != nil && callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return errors.Wrap(ErrTimeout, err.Error())
	}
	return err
}

// withRetry 重试包装：首次 + 最多 3 次重试，延迟递增
func (g *Gateway) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	var last error
	for attempt := 0; attempt <= len(g.retryDelays); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(g.retryDelays[attempt-1]):
			}
			g.mu.Lock()
			g.stats.Retries++
			g.mu.Unlock()
		}

		last = g.withTimeout(ctx, fn)
		if last == nil {
			return nil
		}
		logger.Warnf("%s 失败（第 %d 次）: %v", op, attempt+1, last)
	}
	return last
}

// PlaceLimitOrder 下限价单，返回交易所订单 ID
//
// 校验不过直接拒绝，不发远程请求。构单和提交各自在超时保护下
// 进行。成功后本地登记为 OPEN。
func (g *Gateway) PlaceLimitOrder(ctx context.Context, tokenID string, side domain.Side, price float64, size int) (string, error) {
	if !side.IsValid() {
		return "", errors.Errorf("非法订单方向: %s", side)
	}
	if price <= 0 || price >= 1 {
		return "", errors.Errorf("价格必须在 (0, 1) 内: %v", price)
	}
	if size < 1 {
		return "", errors.Errorf("数量必须 >= 1: %d", size)
	}

	req := domain.OrderRequest{TokenID: tokenID, Side: side, Price: price, Size: size}

	var prepared *domain.PreparedOrder
	err := g.withRetry(ctx, "构建订单", func(callCtx context.Context) error {
		var err error
		prepared, err = g.client.CreateOrder(callCtx, req)
		return err
	})
	if err != nil {
		g.recordFailure()
		return "", errors.Wrap(err, "下单失败")
	}

	var orderID string
	err = g.withRetry(ctx, "提交订单", func(callCtx context.Context) error {
		var err error
		orderID, err = g.client.PostOrder(callCtx, prepared)
		return err
	})
	if err != nil {
		g.recordFailure()
		return "", errors.Wrap(err, "下单失败")
	}

	g.mu.Lock()
	g.orders[orderID] = &localOrder{
		TokenID:  tokenID,
		Side:     side,
		Price:    price,
		Size:     size,
		Status:   domain.OrderStatusOpen,
		PlacedAt: time.Now(),
	}
	g.stats.OrdersPlaced++
	g.mu.Unlock()

	logger.Infof("限价单已挂出: %s %s %d股 @ %.3f (%s)", tokenID, side, size, price, orderID)
	return orderID, nil
}

// ExecuteMarketOrder 市价单：按穿越价挂限价单，成功即视为成交
//
// 买单用最优卖价加偏移、卖单用最优买价减偏移，结果收敛到
// (0.001, 0.999) 内。
func (g *Gateway) ExecuteMarketOrder(ctx context.Context, tokenID string, side domain.Side, size int) (string, error) {
	var book *domain.OrderBookSnapshot
	err := g.withRetry(ctx, "拉取订单簿", func(callCtx context.Context) error {
		var err error
		book, err = g.client.GetOrderBook(callCtx, tokenID)
		return err
	})
	if err != nil {
		g.recordFailure()
		return "", errors.Wrap(err, "市价单失败")
	}

	var price float64
	switch side {
	case domain.SideBuy:
		ask, ok := book.BestAsk()
		if !ok {
			return "", errors.New("市价买单失败: 卖方无挂单")
		}
		price = ask.Price + crossOffset
	case domain.SideSell:
		bid, ok := book.BestBid()
		if !ok {
			return "", errors.New("市价卖单失败: 买方无挂单")
		}
		price = bid.Price - crossOffset
	default:
		return "", errors.Errorf("非法订单方向: %s", side)
	}
	price = clampPrice(price)

	orderID, err := g.PlaceLimitOrder(ctx, tokenID, side, price, size)
	if err != nil {
		return "", err
	}

	// 穿越价限价单视为立即成交
	g.mu.Lock()
	if o, ok := g.orders[orderID]; ok {
		o.Status = domain.OrderStatusFilled
	}
	g.stats.OrdersFilled++
	g.stats.Volume += price * float64(size)
	g.mu.Unlock()

	return orderID, nil
}

func clampPrice(p float64) float64 {
	if p < priceFloor {
		return priceFloor
	}
	if p > priceCeil {
		return priceCeil
	}
	return p
}

// CancelOrder 取消订单，成功后本地标记为 CANCELLED
func (g *Gateway) CancelOrder(ctx context.Context, orderID string) error {
	err := g.withRetry(ctx, "取消订单", func(callCtx context.Context) error {
		return g.client.CancelOrder(callCtx, orderID)
	})
	if err != nil {
		g.recordFailure()
		return errors.Wrapf(err, "取消订单失败: %s", orderID)
	}

	g.mu.Lock()
	if o, ok := g.orders[orderID]; ok {
		o.Status = domain.OrderStatusCancelled
	}
	g.stats.OrdersCancelled++
	g.mu.Unlock()

	logger.Infof("订单已取消: %s", orderID)
	return nil
}

// CancelAllOrders 取消所有本地跟踪的 OPEN 订单，返回实际取消数量
func (g *Gateway) CancelAllOrders(ctx context.Context) int {
	g.mu.Lock()
	var open []string
	for id, o := range g.orders {
		if o.Status == domain.OrderStatusOpen {
			open = append(open, id)
		}
	}
	g.mu.Unlock()

	cancelled := 0
	for _, id := range open {
		if err := g.CancelOrder(ctx, id); err != nil {
			logger.Warnf("批量取消失败 %s: %v", id, err)
			continue
		}
		cancelled++
	}
	if len(open) > 0 {
		logger.Infof("批量取消完成: %d/%d", cancelled, len(open))
	}
	return cancelled
}

// GetOrderStatus 查询订单远端状态
func (g *Gateway) GetOrderStatus(ctx context.Context, orderID string) (*domain.OrderInfo, error) {
	var info *domain.OrderInfo
	err := g.withRetry(ctx, "查询订单", func(callCtx context.Context) error {
		var err error
		info, err = g.client.GetOrder(callCtx, orderID)
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "查询订单失败: %s", orderID)
	}
	return info, nil
}

// OpenOrders 本地跟踪的 OPEN 订单数
func (g *Gateway) OpenOrders() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, o := range g.orders {
		if o.Status == domain.OrderStatusOpen {
			n++
		}
	}
	return n
}

// GetStats 执行统计快照
func (g *Gateway) GetStats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}

func (g *Gateway) recordFailure() {
	g.mu.Lock()
	g.stats.Failures++
	g.mu.Unlock()
}
