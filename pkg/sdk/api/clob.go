package api

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/minculusofia-wq/frontrun-polymarket/internal/domain"
)

// rawMarket /markets 接口返回的单个市场
type rawMarket struct {
	ConditionID string `json:"condition_id"`
	Question    string `json:"question"`
	Active      bool   `json:"active"`
	Closed      bool   `json:"closed"`
	Tokens      []struct {
		TokenID string `json:"token_id"`
		Outcome string `json:"outcome"`
	} `json:"tokens"`
}

// marketsResponse /markets 接口的分页响应
type marketsResponse struct {
	Data       []rawMarket `json:"data"`
	NextCursor string      `json:"next_cursor"`
}

// rawBook /book 接口返回的订单簿，价格和数量都是字符串
type rawBook struct {
	Market    string     `json:"market"`
	AssetID   string     `json:"asset_id"`
	Timestamp string     `json:"timestamp"`
	Bids      []rawLevel `json:"bids"`
	Asks      []rawLevel `json:"asks"`
}

type rawLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// postOrderResponse /order 提交响应
type postOrderResponse struct {
	Success bool   `json:"success"`
	OrderID string `json:"orderID"`
	Status  string `json:"status"`
	ErrMsg  string `json:"errorMsg"`
}

// rawOrderInfo /data/order/{id} 响应
type rawOrderInfo struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
}

// ListMarkets 拉取所有活跃市场
//
// 按 next_cursor 翻页直到 "LTE="（接口的结束标记）。只保留
// active 且未 closed 的市场，每个市场取第一个 token。
func (c *Client) ListMarkets(ctx context.Context) ([]domain.MarketMeta, error) {
	var markets []domain.MarketMeta
	cursor := ""

	for {
		var page marketsResponse
		req := c.http.R().
			SetContext(ctx).
			SetResult(&page)
		if cursor != "" {
			req.SetQueryParam("next_cursor", cursor)
		}

		resp, err := req.Get("/markets")
		if err != nil {
			return nil, errors.Wrap(err, "拉取市场列表失败")
		}
		if resp.IsError() {
			return nil, errors.Errorf("拉取市场列表失败: HTTP %d", resp.StatusCode())
		}

		for _, m := range page.Data {
			if !m.Active || m.Closed || len(m.Tokens) == 0 {
				continue
			}
			markets = append(markets, domain.MarketMeta{
				TokenID:  m.Tokens[0].TokenID,
				Question: m.Question,
				Active:   true,
			})
		}

		if page.NextCursor == "" || page.NextCursor == "LTE=" {
			break
		}
		cursor = page.NextCursor
	}

	return markets, nil
}

// GetOrderBook 拉取订单簿快照
//
// 接口返回的档位顺序不保证：买方按价格降序、卖方按价格升序排好，
// 保证两侧的第一个档位就是最优价。
func (c *Client) GetOrderBook(ctx context.Context, tokenID string) (*domain.OrderBookSnapshot, error) {
	var book rawBook
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&book).
		Get("/book")
	if err != nil {
		return nil, errors.Wrapf(err, "拉取订单簿失败: %s", tokenID)
	}
	if resp.IsError() {
		return nil, errors.Errorf("拉取订单簿失败: %s HTTP %d", tokenID, resp.StatusCode())
	}

	snapshot := &domain.OrderBookSnapshot{
		TokenID:   tokenID,
		Bids:      parseLevels(book.Bids),
		Asks:      parseLevels(book.Asks),
		Timestamp: time.Now(),
	}
	sort.Slice(snapshot.Bids, func(i, j int) bool {
		return snapshot.Bids[i].Price > snapshot.Bids[j].Price
	})
	sort.Slice(snapshot.Asks, func(i, j int) bool {
		return snapshot.Asks[i].Price < snapshot.Asks[j].Price
	})
	return snapshot, nil
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

// CreateOrder 本地构建订单载荷，不发远程请求
func (c *Client) CreateOrder(ctx context.Context, req domain.OrderRequest) (*domain.PreparedOrder, error) {
	if !req.Side.IsValid() {
		return nil, errors.Errorf("非法订单方向: %s", req.Side)
	}
	if req.TokenID == "" {
		return nil, errors.New("token_id 不能为空")
	}
	return &domain.PreparedOrder{
		ClientOrderID: uuid.New().String(),
		TokenID:       req.TokenID,
		Side:          req.Side,
		Price:         req.Price,
		Size:          req.Size,
	}, nil
}

// PostOrder 提交订单，返回交易所订单 ID
func (c *Client) PostOrder(ctx context.Context, order *domain.PreparedOrder) (string, error) {
	payload := map[string]any{
		"client_order_id": order.ClientOrderID,
		"token_id":        order.TokenID,
		"side":            string(order.Side),
		"price":           fmt.Sprintf("%.3f", order.Price),
		"size":            strconv.Itoa(order.Size),
		"order_type":      "GTC",
	}

	var result postOrderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&result).
		Post("/order")
	if err != nil {
		return "", errors.Wrap(err, "提交订单失败")
	}
	if resp.IsError() {
		return "", errors.Errorf("提交订单失败: HTTP %d %s", resp.StatusCode(), result.ErrMsg)
	}
	if !result.Success {
		return "", errors.Errorf("订单被拒绝: %s", result.ErrMsg)
	}
	return result.OrderID, nil
}

// CancelOrder 取消订单
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"orderID": orderID}).
		Delete("/order")
	if err != nil {
		return errors.Wrapf(err, "取消订单失败: %s", orderID)
	}
	if resp.IsError() {
		return errors.Errorf("取消订单失败: %s HTTP %d", orderID, resp.StatusCode())
	}
	return nil
}

// GetOrder 查询订单状态
func (c *Client) GetOrder(ctx context.Context, orderID string) (*domain.OrderInfo, error) {
	var raw rawOrderInfo
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&raw).
		Get("/data/order/" + orderID)
	if err != nil {
		return nil, errors.Wrapf(err, "查询订单失败: %s", orderID)
	}
	if resp.IsError() {
		return nil, errors.Errorf("查询订单失败: %s HTTP %d", orderID, resp.StatusCode())
	}

	original, _ := strconv.ParseFloat(raw.OriginalSize, 64)
	matched, _ := strconv.ParseFloat(raw.SizeMatched, 64)
	return &domain.OrderInfo{
		OrderID:       raw.ID,
		Status:        raw.Status,
		FilledSize:    matched,
		RemainingSize: original - matched,
	}, nil
}
