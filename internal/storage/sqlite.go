package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/minculusofia-wq/frontrun-polymarket/internal/domain"
	"github.com/minculusofia-wq/frontrun-polymarket/pkg/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS trades (
	id          TEXT PRIMARY KEY,
	ts          TEXT NOT NULL,
	market      TEXT NOT NULL,
	side        TEXT NOT NULL,
	size        INTEGER NOT NULL,
	entry_price REAL NOT NULL,
	exit_price  REAL NOT NULL,
	pnl         REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_ts ON trades(ts);
`

// SQLiteStore 交易记录持久层
//
// 交易主循环不会阻塞在这里：机器人对 SaveTrade 的调用是
// fire-and-forget 的，失败只记日志。
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore 打开（必要时创建）数据库并建表
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "打开数据库失败")
	}
	// modernc 驱动是进程内实现，写并发需要限制连接数
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "初始化数据库失败")
	}

	logger.Infof("交易数据库已就绪: %s", path)
	return &SQLiteStore{db: db}, nil
}

// SaveTrade 保存一条交易记录
func (s *SQLiteStore) SaveTrade(ctx context.Context, trade *domain.TradeRecord) error {
	pnl, _ := trade.PnL.Float64()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trades (id, ts, market, side, size, entry_price, exit_price, pnl)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		trade.ID,
		trade.Timestamp.UTC().Format(time.RFC3339),
		trade.Market,
		string(trade.Side),
		trade.Size,
		trade.EntryPrice,
		trade.ExitPrice,
		pnl,
	)
	if err != nil {
		return errors.Wrap(err, "保存交易记录失败")
	}
	return nil
}

// ListTrades 按时间倒序返回最近的交易记录
func (s *SQLiteStore) ListTrades(ctx context.Context, limit int) ([]*domain.TradeRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, market, side, size, entry_price, exit_price, pnl
		 FROM trades ORDER BY ts DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "读取交易历史失败")
	}
	defer rows.Close()

	var trades []*domain.TradeRecord
	for rows.Next() {
		var (
			record domain.TradeRecord
			ts     string
			side   string
			pnl    float64
		)
		if err := rows.Scan(&record.ID, &ts, &record.Market, &side, &record.Size,
			&record.EntryPrice, &record.ExitPrice, &pnl); err != nil {
			return nil, errors.Wrap(err, "解析交易记录失败")
		}
		record.Timestamp, _ = time.Parse(time.RFC3339, ts)
		record.Side = domain.Side(side)
		record.PnL = decimal.NewFromFloat(pnl)
		trades = append(trades, &record)
	}
	return trades, rows.Err()
}

// DailyStats 某一天（YYYY-MM-DD）的交易聚合
func (s *SQLiteStore) DailyStats(ctx context.Context, date string) (*domain.DailyStats, error) {
	stats, err := s.aggregate(ctx, `WHERE substr(ts, 1, 10) = ?`, date)
	if err != nil {
		return nil, err
	}
	stats.Date = date
	return stats, nil
}

// AllTimeStats 全部历史的交易聚合
func (s *SQLiteStore) AllTimeStats(ctx context.Context) (*domain.DailyStats, error) {
	return s.aggregate(ctx, "")
}

func (s *SQLiteStore) aggregate(ctx context.Context, where string, args ...any) (*domain.DailyStats, error) {
	query := `SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN pnl >= 0 THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN pnl < 0 THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN pnl >= 0 THEN pnl ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN pnl < 0 THEN -pnl ELSE 0 END), 0)
	FROM trades ` + where

	var (
		stats       domain.DailyStats
		grossProfit float64
		grossLoss   float64
	)
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.Trades, &stats.Wins, &stats.Losses, &grossProfit, &grossLoss)
	if err != nil {
		return nil, errors.Wrap(err, "聚合交易统计失败")
	}
	stats.GrossProfit = decimal.NewFromFloat(grossProfit)
	stats.GrossLoss = decimal.NewFromFloat(grossLoss)
	return &stats, nil
}

// Close 关闭数据库
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
