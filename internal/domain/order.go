package domain

import "time"

// Side 订单方向
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// IsValid 检查订单方向是否合法
func (s Side) IsValid() bool {
	return s == SideBuy || s == SideSell
}

// OrderStatus 本地跟踪的订单状态
type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "OPEN"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// OrderRequest 下单请求
type OrderRequest struct {
	TokenID string
	Side    Side
	Price   float64
	Size    int
}

// PreparedOrder 已构建、待提交的订单（交易所客户端的中间产物）
//
// 签名属于交易所客户端的内部事务，这里只携带提交所需的载荷。
type PreparedOrder struct {
	ClientOrderID string // 客户端生成的幂等 ID
	TokenID       string
	Side          Side
	Price         float64
	Size          int
}

// OrderInfo 订单状态查询结果
type OrderInfo struct {
	OrderID       string
	Status        string
	FilledSize    float64
	RemainingSize float64
}

// BaitOrder 诱饵（微型）订单
//
// 生命周期：进入 Baiting 状态时创建；无论周期如何结束（包括异常路径），
// 周期结束前必须被取消并清空。
type BaitOrder struct {
	OrderID  string // 交易所订单 ID（未确认前为空）
	TokenID  string
	Side     Side
	Price    float64
	Size     int
	PlacedAt time.Time
}

// IsActive 诱饵订单是否已被交易所确认
func (b *BaitOrder) IsActive() bool {
	return b != nil && b.OrderID != ""
}
