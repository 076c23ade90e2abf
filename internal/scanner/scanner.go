package scanner

import (
	"context"
	"sync"
	"time"

	"github.com/minculusofia-wq/frontrun-polymarket/internal/domain"
	"github.com/minculusofia-wq/frontrun-polymarket/internal/ports"
	"github.com/minculusofia-wq/frontrun-polymarket/pkg/cache"
	"github.com/minculusofia-wq/frontrun-polymarket/pkg/logger"
)

const (
	marketCacheSize = 500
	bookCacheSize   = 200
	cacheTTL        = 30 * time.Second

	maxConcurrentFetches = 25

	backoffFloor   = 1 * time.Second
	backoffCeiling = 30 * time.Second

	streamPollInterval = 20 * time.Millisecond
)

// StreamSource 推流行情来源（可选；不可用时退化为轮询）
type StreamSource interface {
	IsConnected() bool
	GetOrderBook(tokenID string) (*domain.OrderBookSnapshot, bool)
	SubscribeMarket(ctx context.Context, tokenID string) error
}

// Scanner 市场扫描器
//
// 独占两个有界缓存：市场摘要（500 条）和订单簿快照（200 条），
// 超量按 LRU 淘汰，新鲜度由 TTL 单独判断。外部只通过访问器读取。
type Scanner struct {
	client ports.ExchangeClient
	stream StreamSource // 可为 nil

	markets *cache.LRUCache[*domain.MarketSummary]
	books   *cache.LRUCache[*domain.OrderBookSnapshot]

	spreadThreshold float64
	pollingInterval time.Duration

	backoffMu sync.Mutex
	backoff   time.Duration
}

// New 创建市场扫描器。stream 传 nil 时检测只走轮询路径。
func New(client ports.ExchangeClient, stream StreamSource, spreadThreshold float64, pollingInterval time.Duration) *Scanner {
	if pollingInterval <= 0 {
		pollingInterval = 200 * time.Millisecond
	}
	return &Scanner{
		client:          client,
		stream:          stream,
		markets:         cache.NewLRUCache[*domain.MarketSummary](marketCacheSize),
		books:           cache.NewLRUCache[*domain.OrderBookSnapshot](bookCacheSize),
		spreadThreshold: spreadThreshold,
		pollingInterval: pollingInterval,
		backoff:         backoffFloor,
	}
}

// ScanMarkets 扫描全部活跃市场，返回价差达标的市场摘要
//
// 缓存里新鲜（TTL 内）的市场直接复用；其余并发拉取订单簿，
// 单个拉取失败只丢弃该市场，不影响兄弟任务。扫描级失败（市场
// 列表拉不下来）按指数退避等待后返回空结果，不向上抛错。
func (s *Scanner) ScanMarkets(ctx context.Context) []*domain.MarketSummary {
	metas, err := s.client.ListMarkets(ctx)
	if err != nil {
		logger.Warnf("扫描失败，%s 后重试: %v", s.currentBackoff(), err)
		s.backoffWait(ctx)
		return nil
	}
	s.resetBackoff()

	now := time.Now()
	var misses []domain.MarketMeta
	var profitable []*domain.MarketSummary

	for _, meta := range metas {
		if !meta.Active || meta.TokenID == "" {
			continue
		}
		if summary, ok := s.markets.Get(meta.TokenID); ok && summary.IsFresh(cacheTTL) {
			if summary.IsProfitable(s.spreadThreshold) {
				profitable = append(profitable, summary)
			}
			continue
		}
		misses = append(misses, meta)
	}

	fetched := s.fetchSummaries(ctx, misses)
	for _, summary := range fetched {
		if summary.IsProfitable(s.spreadThreshold) {
			profitable = append(profitable, summary)
		}
	}

	logger.Debugf("扫描完成: %d 个市场，%d 个缓存命中，%d 个达标，耗时 %s",
		len(metas), len(metas)-len(misses), len(profitable), time.Since(now))
	return profitable
}

// fetchSummaries 并发拉取订单簿并构建摘要（最多 25 个并发）
func (s *Scanner) fetchSummaries(ctx context.Context, metas []domain.MarketMeta) []*domain.MarketSummary {
	if len(metas) == 0 {
		return nil
	}

	sem := make(chan struct{}, maxConcurrentFetches)
	results := make(chan *domain.MarketSummary, len(metas))
	var wg sync.WaitGroup

	for _, meta := range metas {
		wg.Add(1)
		go func(meta domain.MarketMeta) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			summary, err := s.buildSummary(ctx, meta)
			if err != nil {
				logger.Debugf("拉取订单簿失败，跳过 %s: %v", meta.TokenID, err)
				return
			}
			if summary != nil {
				results <- summary
			}
		}(meta)
	}

	wg.Wait()
	close(results)

	summaries := make([]*domain.MarketSummary, 0, len(metas))
	for summary := range results {
		summaries = append(summaries, summary)
	}
	return summaries
}

// buildSummary 拉取订单簿并构建市场摘要；缺一侧的市场不合法，不入缓存
func (s *Scanner) buildSummary(ctx context.Context, meta domain.MarketMeta) (*domain.MarketSummary, error) {
	book, err := s.client.GetOrderBook(ctx, meta.TokenID)
	if err != nil {
		return nil, err
	}

	bestBid, hasBid := book.BestBid()
	bestAsk, hasAsk := book.BestAsk()
	if !hasBid || !hasAsk {
		return nil, nil
	}

	summary := &domain.MarketSummary{
		TokenID:      meta.TokenID,
		MarketName:   domain.TruncateName(meta.Question),
		BestBid:      bestBid.Price,
		BestAsk:      bestAsk.Price,
		Spread:       bestAsk.Price - bestBid.Price,
		BidLiquidity: topLiquidity(book.Bids, 5),
		AskLiquidity: topLiquidity(book.Asks, 5),
		LastUpdate:   time.Now(),
	}

	s.markets.Set(meta.TokenID, summary)
	s.books.Set(meta.TokenID, book)
	return summary, nil
}

func topLiquidity(levels []domain.PriceLevel, depth int) float64 {
	total := 0.0
	for i, l := range levels {
		if i >= depth {
			break
		}
		total += l.Size
	}
	return total
}

// MonitorOrderbook 拉取订单簿并返回相对上一个缓存快照的差异
//
// 没有历史快照时返回 nil。无论如何新快照都会写入缓存。
func (s *Scanner) MonitorOrderbook(ctx context.Context, tokenID string) (*domain.BookDelta, error) {
	book, err := s.client.GetOrderBook(ctx, tokenID)
	if err != nil {
		return nil, err
	}

	previous, _ := s.books.Get(tokenID)
	s.books.Set(tokenID, book)

	if previous == nil {
		return nil, nil
	}
	return book.GetDelta(previous), nil
}

// DetectCounterOrder 在 timeout 内等待第一个大小达标的新订单
//
// 推流已连接时走推流路径（每 20ms 对比推流缓存与调用时的初始
// 快照）；否则退化为轮询 MonitorOrderbook。两条路径对调用方
// 等价，未检测到时返回 nil 而不是报错。
func (s *Scanner) DetectCounterOrder(ctx context.Context, tokenID string, minSize float64, timeout time.Duration) (*domain.CounterOrder, error) {
	if s.stream != nil && s.stream.IsConnected() {
		return s.detectStreaming(ctx, tokenID, minSize, timeout)
	}
	return s.detectPolling(ctx, tokenID, minSize, timeout)
}

// detectStreaming 推流检测路径：对比推流缓存与初始快照
func (s *Scanner) detectStreaming(ctx context.Context, tokenID string, minSize float64, timeout time.Duration) (*domain.CounterOrder, error) {
	if err := s.stream.SubscribeMarket(ctx, tokenID); err != nil {
		logger.Warnf("推流订阅失败，退化为轮询: %v", err)
		return s.detectPolling(ctx, tokenID, minSize, timeout)
	}

	initial, ok := s.stream.GetOrderBook(tokenID)
	if !ok {
		// 推流还没有这个市场的快照，用 REST 的当前簿做基线
		book, err := s.client.GetOrderBook(ctx, tokenID)
		if err != nil {
			return nil, err
		}
		initial = book
	}
	baseBids := levelSet(initial.Bids)
	baseAsks := levelSet(initial.Asks)

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(streamPollInterval)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		current, ok := s.stream.GetOrderBook(tokenID)
		if !ok {
			continue
		}
		if hit := firstQualifying(current, baseBids, baseAsks, minSize); hit != nil {
			return hit, nil
		}
	}
	return nil, nil
}

// detectPolling 轮询检测路径：按配置间隔反复做差异检测
func (s *Scanner) detectPolling(ctx context.Context, tokenID string, minSize float64, timeout time.Duration) (*domain.CounterOrder, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(s.pollingInterval)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		delta, err := s.MonitorOrderbook(ctx, tokenID)
		if err != nil {
			logger.Debugf("轮询 %s 失败: %v", tokenID, err)
			continue
		}
		if delta == nil {
			continue
		}
		if hit := qualifyingFromDelta(delta, minSize); hit != nil {
			return hit, nil
		}
	}
	return nil, nil
}

// firstQualifying 在当前快照里找第一个初始快照没有、且大小达标的档位
func firstQualifying(current *domain.OrderBookSnapshot, baseBids, baseAsks map[domain.PriceLevel]struct{}, minSize float64) *domain.CounterOrder {
	for _, b := range current.Bids {
		if _, existed := baseBids[b]; !existed && b.Size >= minSize {
			return &domain.CounterOrder{Side: domain.BookSideBid, Price: b.Price, Size: b.Size, DetectedAt: time.Now()}
		}
	}
	for _, a := range current.Asks {
		if _, existed := baseAsks[a]; !existed && a.Size >= minSize {
			return &domain.CounterOrder{Side: domain.BookSideAsk, Price: a.Price, Size: a.Size, DetectedAt: time.Now()}
		}
	}
	return nil
}

func qualifyingFromDelta(delta *domain.BookDelta, minSize float64) *domain.CounterOrder {
	for _, b := range delta.NewBids {
		if b.Size >= minSize {
			return &domain.CounterOrder{Side: domain.BookSideBid, Price: b.Price, Size: b.Size, DetectedAt: time.Now()}
		}
	}
	for _, a := range delta.NewAsks {
		if a.Size >= minSize {
			return &domain.CounterOrder{Side: domain.BookSideAsk, Price: a.Price, Size: a.Size, DetectedAt: time.Now()}
		}
	}
	return nil
}

func levelSet(levels []domain.PriceLevel) map[domain.PriceLevel]struct{} {
	set := make(map[domain.PriceLevel]struct{}, len(levels))
	for _, l := range levels {
		set[l] = struct{}{}
	}
	return set
}

// CachedMarket 读取缓存中的单个市场摘要
func (s *Scanner) CachedMarket(tokenID string) (*domain.MarketSummary, bool) {
	return s.markets.Get(tokenID)
}

// CachedMarkets 按使用顺序返回缓存中的全部市场摘要
func (s *Scanner) CachedMarkets() []*domain.MarketSummary {
	return s.markets.Values()
}

// CacheStats 两个缓存的命中统计
func (s *Scanner) CacheStats() (markets, books cache.Stats) {
	return s.markets.Stats(), s.books.Stats()
}

// backoffWait 扫描级失败后按当前退避时长等待，然后把退避翻倍
func (s *Scanner) backoffWait(ctx context.Context) {
	s.backoffMu.Lock()
	delay := s.backoff
	s.backoff *= 2
	if s.backoff > backoffCeiling {
		s.backoff = backoffCeiling
	}
	s.backoffMu.Unlock()

	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

func (s *Scanner) currentBackoff() time.Duration {
	s.backoffMu.Lock()
	defer s.backoffMu.Unlock()
	return s.backoff
}

func (s *Scanner) resetBackoff() {
	s.backoffMu.Lock()
	s.backoff = backoffFloor
	s.backoffMu.Unlock()
}
