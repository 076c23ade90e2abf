package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestDefaultConfig_Valid 测试默认配置应通过校验
func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("默认配置应该有效: %v", err)
	}
}

// TestValidate_Ranges 测试各项取值范围
func TestValidate_Ranges(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bankroll 过小", func(c *Config) { c.Bankroll = 0.5 }},
		{"max_trade_percent 过大", func(c *Config) { c.MaxTradePercent = 20 }},
		{"micro_order_size 过大", func(c *Config) { c.MicroOrderSize = 10 }},
		{"spread_threshold 过小", func(c *Config) { c.SpreadThreshold = 0.001 }},
		{"polling_interval 过小", func(c *Config) { c.PollingInterval = 0.01 }},
		{"max_daily_loss_percent 过大", func(c *Config) { c.MaxDailyLossPercent = 90 }},
		{"max_concurrent_trades 过大", func(c *Config) { c.MaxConcurrentTrades = 5 }},
		{"min_counter_order_size 过小", func(c *Config) { c.MinCounterOrderSize = 5 }},
		{"reaction_time_threshold 过大", func(c *Config) { c.ReactionTimeThreshold = 10 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("期望校验失败: %s", tc.name)
			}
		})
	}
}

// TestLoad_YAMLOverride 测试 YAML 文件覆盖默认值
func TestLoad_YAMLOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bot.yaml")
	content := []byte("bankroll: 250\nspread_threshold: 0.15\nwebsocket_enabled: false\n")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if cfg.Bankroll != 250 {
		t.Errorf("期望 bankroll=250，得到 %v", cfg.Bankroll)
	}
	if cfg.SpreadThreshold != 0.15 {
		t.Errorf("期望 spread_threshold=0.15，得到 %v", cfg.SpreadThreshold)
	}
	if cfg.WebsocketEnabled {
		t.Error("期望 websocket_enabled=false")
	}
	// 未覆盖的项保持默认值
	if cfg.MicroOrderSize != 3 {
		t.Errorf("期望 micro_order_size 默认 3，得到 %d", cfg.MicroOrderSize)
	}
}

// TestDurationHelpers 测试时间换算
func TestDurationHelpers(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.PollingIntervalDuration() != 200*time.Millisecond {
		t.Errorf("期望轮询间隔 200ms，得到 %v", cfg.PollingIntervalDuration())
	}
	if cfg.ReactionTimeout() != time.Second {
		t.Errorf("期望检测窗口 1s，得到 %v", cfg.ReactionTimeout())
	}
	if cfg.MaxTradeAmount() != 1.0 {
		t.Errorf("期望单笔上限 1.0，得到 %v", cfg.MaxTradeAmount())
	}
}
