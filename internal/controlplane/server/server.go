package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/minculusofia-wq/frontrun-polymarket/internal/bot"
	"github.com/minculusofia-wq/frontrun-polymarket/internal/ports"
	"github.com/minculusofia-wq/frontrun-polymarket/pkg/logger"
)

// Server 控制面 HTTP 服务
//
// 对外暴露状态查询和两类显式操作：熔断复位（唯一的熔断恢复
// 路径）和停机。渲染留给外部界面，这里只有 JSON。
type Server struct {
	bot   *bot.Bot
	store ports.TradeStore // 可为 nil

	httpSrv *http.Server
}

// New 创建控制面服务
func New(b *bot.Bot, store ports.TradeStore, listenAddr string) *Server {
	s := &Server{bot: b, store: store}
	s.httpSrv = &http.Server{
		Addr:    listenAddr,
		Handler: s.router(),
	}
	return s
}

func (s *Server) router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	api := r.Group("/api")
	api.GET("/stats", s.handleStats)
	api.GET("/markets", s.handleMarkets)
	api.GET("/trades", s.handleTrades)
	api.GET("/trades/daily", s.handleDailyStats)
	api.POST("/risk/reset", s.handleRiskReset)
	api.POST("/stop", s.handleStop)

	return r
}

// Start 启动监听（阻塞直到服务退出）
func (s *Server) Start() error {
	logger.Infof("控制面服务监听: %s", s.httpSrv.Addr)
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown 优雅关闭控制面服务
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.bot.GetStats())
}

func (s *Server) handleMarkets(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"markets": s.bot.CachedMarkets()})
}

func (s *Server) handleTrades(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "未配置持久化"})
		return
	}
	trades, err := s.store.ListTrades(c.Request.Context(), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) handleDailyStats(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "未配置持久化"})
		return
	}
	date := c.Query("date")
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}
	stats, err := s.store.DailyStats(c.Request.Context(), date)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// handleRiskReset 显式解除熔断——除此之外熔断永不自动恢复
func (s *Server) handleRiskReset(c *gin.Context) {
	s.bot.Governor().ResetCircuitBreaker()
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStop(c *gin.Context) {
	// 停机会取消挂单并等主循环退出，放到后台做，立即应答
	go s.bot.Stop()
	c.JSON(http.StatusAccepted, gin.H{"status": "stopping"})
}
