package domain

import "time"

// PriceLevel 订单簿中的一个价格档位
type PriceLevel struct {
	Price float64
	Size  float64
}

// OrderBookSnapshot 订单簿快照（用于增量检测）
type OrderBookSnapshot struct {
	TokenID   string
	Bids      []PriceLevel // 买方档位（最优在前）
	Asks      []PriceLevel // 卖方档位（最优在前）
	Timestamp time.Time
}

// BookDelta 两个快照之间的差异
type BookDelta struct {
	NewBids     []PriceLevel // 新出现的买方档位
	NewAsks     []PriceLevel // 新出现的卖方档位
	RemovedBids []PriceLevel // 消失的买方档位
	RemovedAsks []PriceLevel // 消失的卖方档位
	Elapsed     time.Duration
}

// GetDelta 计算与上一个快照的差异
//
// 用集合做差（按 (price, size) 对），O(n)。previous 为 nil 时
// 所有档位都算新增。
func (s *OrderBookSnapshot) GetDelta(previous *OrderBookSnapshot) *BookDelta {
	if previous == nil {
		return &BookDelta{
			NewBids: append([]PriceLevel(nil), s.Bids...),
			NewAsks: append([]PriceLevel(nil), s.Asks...),
		}
	}

	prevBids := levelSet(previous.Bids)
	prevAsks := levelSet(previous.Asks)
	currBids := levelSet(s.Bids)
	currAsks := levelSet(s.Asks)

	delta := &BookDelta{
		Elapsed: s.Timestamp.Sub(previous.Timestamp),
	}
	for _, b := range s.Bids {
		if _, ok := prevBids[b]; !ok {
			delta.NewBids = append(delta.NewBids, b)
		}
	}
	for _, a := range s.Asks {
		if _, ok := prevAsks[a]; !ok {
			delta.NewAsks = append(delta.NewAsks, a)
		}
	}
	for _, b := range previous.Bids {
		if _, ok := currBids[b]; !ok {
			delta.RemovedBids = append(delta.RemovedBids, b)
		}
	}
	for _, a := range previous.Asks {
		if _, ok := currAsks[a]; !ok {
			delta.RemovedAsks = append(delta.RemovedAsks, a)
		}
	}
	return delta
}

func levelSet(levels []PriceLevel) map[PriceLevel]struct{} {
	set := make(map[PriceLevel]struct{}, len(levels))
	for _, l := range levels {
		set[l] = struct{}{}
	}
	return set
}

// BestBid 最优买价，买方为空时返回 false
func (s *OrderBookSnapshot) BestBid() (PriceLevel, bool) {
	if len(s.Bids) == 0 {
		return PriceLevel{}, false
	}
	return s.Bids[0], true
}

// BestAsk 最优卖价，卖方为空时返回 false
func (s *OrderBookSnapshot) BestAsk() (PriceLevel, bool) {
	if len(s.Asks) == 0 {
		return PriceLevel{}, false
	}
	return s.Asks[0], true
}

// BookSide 订单簿方向（对手订单出现在哪一侧）
type BookSide string

const (
	BookSideBid BookSide = "BID"
	BookSideAsk BookSide = "ASK"
)

// CounterOrder 检测到的对手大单
type CounterOrder struct {
	Side       BookSide
	Price      float64
	Size       float64
	DetectedAt time.Time
}
