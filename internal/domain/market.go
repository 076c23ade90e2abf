package domain

import "time"

// MarketNameMaxLen 市场名称最大长度（过长的问题文本会被截断）
const MarketNameMaxLen = 50

// MarketMeta 市场列表返回的基础信息
type MarketMeta struct {
	TokenID  string // token 资产 ID
	Question string // 问题描述
	Active   bool   // 是否活跃
}

// MarketSummary 扫描得到的市场摘要
//
// 不变式：BestAsk >= BestBid（两侧都有挂单时），Spread = BestAsk - BestBid。
// 任一侧为空的市场摘要无效，不允许进入缓存。
type MarketSummary struct {
	TokenID      string    // token 资产 ID
	MarketName   string    // 市场名称（截断到 MarketNameMaxLen）
	BestBid      float64   // 最优买价
	BestAsk      float64   // 最优卖价
	Spread       float64   // 价差 = BestAsk - BestBid
	BidLiquidity float64   // 买方前 5 档流动性
	AskLiquidity float64   // 卖方前 5 档流动性
	LastUpdate   time.Time // 最后刷新时间
}

// IsProfitable 价差是否达到可交易阈值
func (m *MarketSummary) IsProfitable(threshold float64) bool {
	return m.Spread >= threshold
}

// IsFresh 摘要是否在 TTL 内（过期判断由调用方做，缓存本身只管容量淘汰）
func (m *MarketSummary) IsFresh(ttl time.Duration) bool {
	return time.Since(m.LastUpdate) < ttl
}

// TruncateName 截断过长的市场名称
func TruncateName(name string) string {
	if len(name) > MarketNameMaxLen {
		return name[:MarketNameMaxLen]
	}
	return name
}
