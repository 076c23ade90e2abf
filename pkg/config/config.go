package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config 机器人配置
//
// 配置是"读多写少"的：启动时加载并校验一次，之后各组件只读；
// 运行中调整只能通过显式的重新加载。
type Config struct {
	// 网络
	ClobURL string `yaml:"clob_url"` // CLOB REST API 地址
	FeedURL string `yaml:"feed_url"` // 行情 WebSocket 地址

	// 交易参数
	Bankroll        float64 `yaml:"bankroll"`          // 总资金（USD）
	MaxTradePercent float64 `yaml:"max_trade_percent"` // 单笔交易占资金的最大百分比
	MicroOrderSize  int     `yaml:"micro_order_size"`  // 诱饵订单大小（1-5 股）
	SpreadThreshold float64 `yaml:"spread_threshold"`  // 最小可交易价差（USD）
	PollingInterval float64 `yaml:"polling_interval"`  // 订单簿轮询间隔（秒）

	// 风险控制
	MaxDailyLossPercent   float64 `yaml:"max_daily_loss_percent"`  // 触发熔断的当日最大亏损百分比
	MaxConcurrentTrades   int     `yaml:"max_concurrent_trades"`   // 最大并发交易数
	MinCounterOrderSize   float64 `yaml:"min_counter_order_size"`  // 触发跟单的最小对手订单大小
	ReactionTimeThreshold float64 `yaml:"reaction_time_threshold"` // 对手订单检测窗口（秒）

	// 行情
	WebsocketEnabled bool `yaml:"websocket_enabled"` // 是否启用 WebSocket 行情（关闭则退化为轮询）

	// 日志
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		ClobURL:               "https://clob.polymarket.com",
		FeedURL:               "wss://ws-subscriptions-clob.polymarket.com/ws/market",
		Bankroll:              100.0,
		MaxTradePercent:       1.0,
		MicroOrderSize:        3,
		SpreadThreshold:       0.10,
		PollingInterval:       0.2,
		MaxDailyLossPercent:   5.0,
		MaxConcurrentTrades:   1,
		MinCounterOrderSize:   50,
		ReactionTimeThreshold: 1.0,
		WebsocketEnabled:      true,
		LogLevel:              "info",
		LogFile:               "logs/bot.log",
	}
}

// Load 加载配置：默认值 <- YAML 文件 <- 环境变量（.env 先行加载）
func Load(path string) (*Config, error) {
	// .env 不存在不算错误
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv 环境变量覆盖（只覆盖设置了的项）
func (c *Config) applyEnv() {
	if v := os.Getenv("CLOB_URL"); v != "" {
		c.ClobURL = v
	}
	if v := os.Getenv("FEED_URL"); v != "" {
		c.FeedURL = v
	}
	if v := os.Getenv("BANKROLL"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Bankroll = f
		}
	}
	if v := os.Getenv("SPREAD_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.SpreadThreshold = f
		}
	}
	if v := os.Getenv("WEBSOCKET_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.WebsocketEnabled = b
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Validate 校验配置取值范围
func (c *Config) Validate() error {
	if c.ClobURL == "" {
		return fmt.Errorf("clob_url 不能为空")
	}
	if c.Bankroll < 1.0 {
		return fmt.Errorf("bankroll 必须 >= 1.0，当前 %v", c.Bankroll)
	}
	if c.MaxTradePercent < 0.1 || c.MaxTradePercent > 10.0 {
		return fmt.Errorf("max_trade_percent 必须在 0.1-10 之间，当前 %v", c.MaxTradePercent)
	}
	if c.MicroOrderSize < 1 || c.MicroOrderSize > 5 {
		return fmt.Errorf("micro_order_size 必须在 1-5 之间，当前 %v", c.MicroOrderSize)
	}
	if c.SpreadThreshold < 0.01 {
		return fmt.Errorf("spread_threshold 必须 >= 0.01，当前 %v", c.SpreadThreshold)
	}
	if c.PollingInterval < 0.1 || c.PollingInterval > 5.0 {
		return fmt.Errorf("polling_interval 必须在 0.1-5 秒之间，当前 %v", c.PollingInterval)
	}
	if c.MaxDailyLossPercent < 1.0 || c.MaxDailyLossPercent > 50.0 {
		return fmt.Errorf("max_daily_loss_percent 必须在 1-50 之间，当前 %v", c.MaxDailyLossPercent)
	}
	if c.MaxConcurrentTrades < 1 || c.MaxConcurrentTrades > 3 {
		return fmt.Errorf("max_concurrent_trades 必须在 1-3 之间，当前 %v", c.MaxConcurrentTrades)
	}
	if c.MinCounterOrderSize < 10 {
		return fmt.Errorf("min_counter_order_size 必须 >= 10，当前 %v", c.MinCounterOrderSize)
	}
	if c.ReactionTimeThreshold < 0.5 || c.ReactionTimeThreshold > 5.0 {
		return fmt.Errorf("reaction_time_threshold 必须在 0.5-5 秒之间，当前 %v", c.ReactionTimeThreshold)
	}
	return nil
}

// MaxTradeAmount 单笔交易的最大金额（USD）
func (c *Config) MaxTradeAmount() float64 {
	return c.Bankroll * (c.MaxTradePercent / 100)
}

// PollingIntervalDuration 轮询间隔
func (c *Config) PollingIntervalDuration() time.Duration {
	return time.Duration(c.PollingInterval * float64(time.Second))
}

// ReactionTimeout 对手订单检测窗口
func (c *Config) ReactionTimeout() time.Duration {
	return time.Duration(c.ReactionTimeThreshold * float64(time.Second))
}
