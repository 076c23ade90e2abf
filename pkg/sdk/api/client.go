package api

import (
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	// DefaultClobURL CLOB API 默认地址
	DefaultClobURL = "https://clob.polymarket.com"

	defaultTimeout = 10 * time.Second
)

// Client Polymarket CLOB REST 客户端
//
// 只负责单次请求：重试和超时预算由上层（执行网关）控制，这里的
// Timeout 仅作为兜底，防止单个请求无限挂起。
type Client struct {
	baseURL string
	http    *resty.Client
}

// NewClient 创建 CLOB 客户端
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultClobURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(defaultTimeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "frontrun-polymarket/1.0")

	return &Client{
		baseURL: baseURL,
		http:    httpClient,
	}
}

// BaseURL 客户端指向的 API 地址
func (c *Client) BaseURL() string {
	return c.baseURL
}
