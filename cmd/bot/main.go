package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/minculusofia-wq/frontrun-polymarket/internal/bot"
	"github.com/minculusofia-wq/frontrun-polymarket/internal/controlplane/server"
	"github.com/minculusofia-wq/frontrun-polymarket/internal/events"
	"github.com/minculusofia-wq/frontrun-polymarket/internal/execution"
	"github.com/minculusofia-wq/frontrun-polymarket/internal/feed"
	"github.com/minculusofia-wq/frontrun-polymarket/internal/ports"
	"github.com/minculusofia-wq/frontrun-polymarket/internal/risk"
	"github.com/minculusofia-wq/frontrun-polymarket/internal/scanner"
	"github.com/minculusofia-wq/frontrun-polymarket/internal/storage"
	"github.com/minculusofia-wq/frontrun-polymarket/internal/strategy"
	"github.com/minculusofia-wq/frontrun-polymarket/pkg/config"
	"github.com/minculusofia-wq/frontrun-polymarket/pkg/logger"
	"github.com/minculusofia-wq/frontrun-polymarket/pkg/sdk/api"
	"github.com/minculusofia-wq/frontrun-polymarket/pkg/shutdown"
)

func main() {
	var (
		configPath = flag.String("config", "", "配置文件路径（YAML）")
		listenAddr = flag.String("listen", ":8080", "控制面监听地址")
		dbPath     = flag.String("db", "data/trades.db", "交易数据库路径")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "配置加载失败: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		OutputFile: cfg.LogFile,
		MaxSize:    50,
		MaxBackups: 5,
		MaxAge:     14,
		Compress:   true,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "日志初始化失败: %v\n", err)
		os.Exit(1)
	}

	logger.Infof("启动: clob=%s 资金=%.2f 价差阈值=%.2f", cfg.ClobURL, cfg.Bankroll, cfg.SpreadThreshold)

	// 组件按引用显式组装，不用全局单例
	client := api.NewClient(cfg.ClobURL)

	var feedMgr *feed.Manager
	var streamSrc scanner.StreamSource
	if cfg.WebsocketEnabled {
		feedMgr = feed.NewManager(cfg.FeedURL)
		streamSrc = feedMgr
	}

	scan := scanner.New(client, streamSrc, cfg.SpreadThreshold, cfg.PollingIntervalDuration())
	governor := risk.NewGovernor(cfg.Bankroll, cfg.MaxTradePercent, cfg.MaxDailyLossPercent, cfg.MaxConcurrentTrades)
	gateway := execution.NewGateway(client)
	bus := events.NewBus()

	engine := strategy.NewEngine(scan, gateway, governor, bus, strategy.Config{
		MicroOrderSize:      cfg.MicroOrderSize,
		MinCounterOrderSize: cfg.MinCounterOrderSize,
		ReactionTimeout:     cfg.ReactionTimeout(),
	})

	var store ports.TradeStore
	if *dbPath != "" {
		s, err := storage.NewSQLiteStore(*dbPath)
		if err != nil {
			logger.Warnf("交易数据库不可用，历史不落盘: %v", err)
		} else {
			store = s
		}
	}

	var feedConn interface {
		Connect(ctx context.Context) error
		Disconnect()
		IsConnected() bool
	}
	if feedMgr != nil {
		feedConn = feedMgr
	}

	b := bot.New(scan, engine, governor, gateway, feedConn, store, bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := b.Start(ctx); err != nil {
		logger.Errorf("机器人启动失败: %v", err)
		os.Exit(1)
	}

	srv := server.New(b, store, *listenAddr)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Errorf("控制面服务退出: %v", err)
		}
	}()

	mgr := shutdown.NewManager(30 * time.Second)
	mgr.OnShutdown(func(ctx context.Context) { b.Stop() })
	mgr.OnShutdown(func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warnf("控制面关闭失败: %v", err)
		}
	})
	mgr.OnShutdown(func(ctx context.Context) {
		bus.Close()
		if store != nil {
			if err := store.Close(); err != nil {
				logger.Warnf("数据库关闭失败: %v", err)
			}
		}
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Infof("收到信号 %s，开始停机", sig)

	cancel()
	mgr.Shutdown()
}
