package execution

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/minculusofia-wq/frontrun-polymarket/internal/domain"
)

// fakeClient 测试用交易所客户端
type fakeClient struct {
	mu sync.Mutex

	createErr  error
	postErr    error
	postErrs   []error // 按调用顺序返回（空后用 postErr）
	cancelErr  error
	book       *domain.OrderBookSnapshot
	orderInfo  *domain.OrderInfo
	nextID     int
	postCalls  int
	cancelled  []string
	createHang time.Duration // 模拟慢调用
}

func (f *fakeClient) ListMarkets(ctx context.Context) ([]domain.MarketMeta, error) {
	return nil, errors.New("未实现")
}

func (f *fakeClient) GetOrderBook(ctx context.Context, tokenID string) (*domain.OrderBookSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.book == nil {
		return nil, errors.New("没有订单簿")
	}
	return f.book, nil
}

func (f *fakeClient) CreateOrder(ctx context.Context, req domain.OrderRequest) (*domain.PreparedOrder, error) {
	f.mu.Lock()
	hang := f.createHang
	err := f.createErr
	f.mu.Unlock()

	if hang > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(hang):
		}
	}
	if err != nil {
		return nil, err
	}
	return &domain.PreparedOrder{
		ClientOrderID: "cid",
		TokenID:       req.TokenID,
		Side:          req.Side,
		Price:         req.Price,
		Size:          req.Size,
	}, nil
}

func (f *fakeClient) PostOrder(ctx context.Context, order *domain.PreparedOrder) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.postCalls++
	if len(f.postErrs) > 0 {
		err := f.postErrs[0]
		f.postErrs = f.postErrs[1:]
		if err != nil {
			return "", err
		}
	} else if f.postErr != nil {
		return "", f.postErr
	}
	f.nextID++
	return "order-" + strconv.Itoa(f.nextID), nil
}

func (f *fakeClient) CancelOrder(ctx context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

func (f *fakeClient) GetOrder(ctx context.Context, orderID string) (*domain.OrderInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.orderInfo == nil {
		return nil, errors.New("没有订单")
	}
	return f.orderInfo, nil
}

func fastGateway(client *fakeClient) *Gateway {
	g := NewGateway(client)
	g.retryDelays = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}
	return g
}

// TestPlaceLimitOrder_Validation 测试校验失败不发远程请求
func TestPlaceLimitOrder_Validation(t *testing.T) {
	client := &fakeClient{}
	g := fastGateway(client)
	ctx := context.Background()

	cases := []struct {
		name  string
		side  domain.Side
		price float64
		size  int
	}{
		{"非法方向", "HOLD", 0.5, 1},
		{"价格为 0", domain.SideBuy, 0, 1},
		{"价格为 1", domain.SideBuy, 1.0, 1},
		{"价格超界", domain.SideBuy, 1.5, 1},
		{"数量为 0", domain.SideBuy, 0.5, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := g.PlaceLimitOrder(ctx, "t1", tc.side, tc.price, tc.size); err == nil {
				t.Error("应被校验拒绝")
			}
		})
	}

	if client.postCalls != 0 {
		t.Errorf("校验失败不应发起远程请求，发起了 %d 次", client.postCalls)
	}
}

// TestPlaceLimitOrder_Success 测试成功下单后本地登记为 OPEN
func TestPlaceLimitOrder_Success(t *testing.T) {
	client := &fakeClient{}
	g := fastGateway(client)

	orderID, err := g.PlaceLimitOrder(context.Background(), "t1", domain.SideBuy, 0.48, 3)
	if err != nil {
		t.Fatalf("下单失败: %v", err)
	}
	if orderID == "" {
		t.Fatal("应返回订单 ID")
	}
	if g.OpenOrders() != 1 {
		t.Errorf("本地应有 1 个 OPEN 订单，得到 %d", g.OpenOrders())
	}
	if g.GetStats().OrdersPlaced != 1 {
		t.Errorf("统计应记 1 次下单")
	}
}

// TestPlaceLimitOrder_RetryBudget 测试瞬时失败按预算重试后成功
func TestPlaceLimitOrder_RetryBudget(t *testing.T) {
	client := &fakeClient{
		postErrs: []error{errors.New("网络抖动"), errors.New("网络抖动"), nil},
	}
	g := fastGateway(client)

	orderID, err := g.PlaceLimitOrder(context.Background(), "t1", domain.SideBuy, 0.48, 3)
	if err != nil {
		t.Fatalf("重试后应成功: %v", err)
	}
	if orderID == "" {
		t.Fatal("应返回订单 ID")
	}
	if client.postCalls != 3 {
		t.Errorf("期望 3 次提交尝试，得到 %d", client.postCalls)
	}
	if g.GetStats().Retries != 2 {
		t.Errorf("统计应记 2 次重试，得到 %d", g.GetStats().Retries)
	}
}

// TestPlaceLimitOrder_RetryExhausted 测试重试预算耗尽后报错
func TestPlaceLimitOrder_RetryExhausted(t *testing.T) {
	client := &fakeClient{postErr: errors.New("持续失败")}
	g := fastGateway(client)

	if _, err := g.PlaceLimitOrder(context.Background(), "t1", domain.SideBuy, 0.48, 3); err == nil {
		t.Fatal("预算耗尽应报错")
	}
	// 首次 + 3 次重试
	if client.postCalls != 4 {
		t.Errorf("期望 4 次提交尝试，得到 %d", client.postCalls)
	}
	if g.GetStats().Failures != 1 {
		t.Errorf("统计应记 1 次失败")
	}
}

// TestExecuteMarketOrder_CrossingPrice 测试穿越价计算与边界收敛
func TestExecuteMarketOrder_CrossingPrice(t *testing.T) {
	client := &fakeClient{
		book: &domain.OrderBookSnapshot{
			TokenID:   "t1",
			Bids:      []domain.PriceLevel{{Price: 0.45, Size: 100}},
			Asks:      []domain.PriceLevel{{Price: 0.55, Size: 100}},
			Timestamp: time.Now(),
		},
	}
	g := fastGateway(client)

	orderID, err := g.ExecuteMarketOrder(context.Background(), "t1", domain.SideBuy, 2)
	if err != nil {
		t.Fatalf("市价买单失败: %v", err)
	}

	g.mu.Lock()
	order := g.orders[orderID]
	g.mu.Unlock()
	if order.Price != 0.551 {
		t.Errorf("买单穿越价应为 0.551，得到 %v", order.Price)
	}
	if order.Status != domain.OrderStatusFilled {
		t.Errorf("穿越单应视为成交，得到 %s", order.Status)
	}

	// 卖单：0.45 - 0.001 = 0.449
	orderID, err = g.ExecuteMarketOrder(context.Background(), "t1", domain.SideSell, 2)
	if err != nil {
		t.Fatalf("市价卖单失败: %v", err)
	}
	g.mu.Lock()
	order = g.orders[orderID]
	g.mu.Unlock()
	if order.Price != 0.449 {
		t.Errorf("卖单穿越价应为 0.449，得到 %v", order.Price)
	}
}

// TestExecuteMarketOrder_PriceClamp 测试极端行情下价格收敛到边界
func TestExecuteMarketOrder_PriceClamp(t *testing.T) {
	client := &fakeClient{
		book: &domain.OrderBookSnapshot{
			TokenID:   "t1",
			Bids:      []domain.PriceLevel{{Price: 0.0005, Size: 100}},
			Asks:      []domain.PriceLevel{{Price: 0.9995, Size: 100}},
			Timestamp: time.Now(),
		},
	}
	g := fastGateway(client)

	orderID, err := g.ExecuteMarketOrder(context.Background(), "t1", domain.SideBuy, 1)
	if err != nil {
		t.Fatalf("市价买单失败: %v", err)
	}
	g.mu.Lock()
	buyPrice := g.orders[orderID].Price
	g.mu.Unlock()
	if buyPrice != 0.999 {
		t.Errorf("买价应收敛到 0.999，得到 %v", buyPrice)
	}

	orderID, err = g.ExecuteMarketOrder(context.Background(), "t1", domain.SideSell, 1)
	if err != nil {
		t.Fatalf("市价卖单失败: %v", err)
	}
	g.mu.Lock()
	sellPrice := g.orders[orderID].Price
	g.mu.Unlock()
	if sellPrice != 0.001 {
		t.Errorf("卖价应收敛到 0.001，得到 %v", sellPrice)
	}
}

// TestExecuteMarketOrder_EmptySide 测试对手侧无挂单时拒绝
func TestExecuteMarketOrder_EmptySide(t *testing.T) {
	client := &fakeClient{
		book: &domain.OrderBookSnapshot{
			TokenID:   "t1",
			Bids:      []domain.PriceLevel{{Price: 0.45, Size: 100}},
			Timestamp: time.Now(),
		},
	}
	g := fastGateway(client)

	if _, err := g.ExecuteMarketOrder(context.Background(), "t1", domain.SideBuy, 1); err == nil {
		t.Error("卖方无挂单时市价买单应失败")
	}
}

// TestCancelAllOrders 测试批量取消只针对本地 OPEN 订单
func TestCancelAllOrders(t *testing.T) {
	client := &fakeClient{}
	g := fastGateway(client)
	ctx := context.Background()

	id1, _ := g.PlaceLimitOrder(ctx, "t1", domain.SideBuy, 0.48, 1)
	g.PlaceLimitOrder(ctx, "t2", domain.SideBuy, 0.48, 1)

	// 先单独取消一个，再批量取消：只剩一个 OPEN
	if err := g.CancelOrder(ctx, id1); err != nil {
		t.Fatalf("取消失败: %v", err)
	}
	if n := g.CancelAllOrders(ctx); n != 1 {
		t.Errorf("批量取消应只命中 1 个 OPEN 订单，得到 %d", n)
	}
	if g.OpenOrders() != 0 {
		t.Errorf("批量取消后不应有 OPEN 订单")
	}
}

// TestTimeout_DistinctKind 测试超时上报为可识别的失败类型
func TestTimeout_DistinctKind(t *testing.T) {
	client := &fakeClient{createHang: 50 * time.Millisecond}
	g := fastGateway(client)
	g.retryDelays = []time.Duration{time.Millisecond}
	g.callTimeout = 10 * time.Millisecond // 单次预算比挂起时间短

	_, err := g.PlaceLimitOrder(context.Background(), "t1", domain.SideBuy, 0.48, 1)
	if err == nil {
		t.Fatal("慢调用应失败")
	}
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("超时应上报为 ErrTimeout 类型，得到 %v", err)
	}
}

// TestGetOrderStatus 测试订单状态查询
func TestGetOrderStatus(t *testing.T) {
	client := &fakeClient{
		orderInfo: &domain.OrderInfo{OrderID: "o1", Status: "LIVE", FilledSize: 1, RemainingSize: 2},
	}
	g := fastGateway(client)

	info, err := g.GetOrderStatus(context.Background(), "o1")
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if info.Status != "LIVE" || info.RemainingSize != 2 {
		t.Errorf("查询结果不对: %+v", info)
	}
}
