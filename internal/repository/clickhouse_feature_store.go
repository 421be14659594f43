package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"AgentFlow/internal/domain/models"
	domrepo "AgentFlow/internal/domain/repository"
	pkgch "AgentFlow/pkg/clickhouse"
	applogger "AgentFlow/pkg/logger"
)

// CandleSchema creates the one-minute candle table the feature store reads.
// Coarser timeframes are rolled up at query time.
var CandleSchema = []string{
	`CREATE TABLE IF NOT EXISTS agentflow.candles_1m (
		bucket DateTime,
		symbol LowCardinality(String),
		open Float64,
		high Float64,
		low Float64,
		close Float64,
		vol Float64
	) ENGINE = ReplacingMergeTree ORDER BY (symbol, bucket)`,
}

// CHFeatureStore implements FeatureStore backed by ClickHouse.
type CHFeatureStore struct {
	db *sql.DB
	l  *applogger.Logger
}

func NewCHFeatureStore(ch *pkgch.Client, l *applogger.Logger) *CHFeatureStore {
	if l == nil {
		l = applogger.NewNop()
	}
	return &CHFeatureStore{db: ch.DB(), l: l}
}

const candleRollup = `
	SELECT toStartOfInterval(bucket, %s) AS b, symbol,
		argMin(open, bucket), max(high), min(low), argMax(close, bucket), sum(vol)
	FROM agentflow.candles_1m
	WHERE symbol = ? %s
	GROUP BY b, symbol
	ORDER BY b %s
	%s`

func (s *CHFeatureStore) GetCandles(ctx context.Context, symbol string, from, to time.Time, tf domrepo.Timeframe) ([]models.Candle, error) {
	interval, err := intervalForTF(tf)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(candleRollup, interval, "AND bucket >= ? AND bucket <= ?", "ASC", "")
	out, err := s.query(ctx, "get_candles", q, symbol, tf, symbol, from, to)
	if err != nil {
		return nil, fmt.Errorf("get candles: %w", err)
	}
	return out, nil
}

// GetLatestNCandles returns the newest n candles in ascending time order.
func (s *CHFeatureStore) GetLatestNCandles(ctx context.Context, symbol string, n int, tf domrepo.Timeframe) ([]models.Candle, error) {
	interval, err := intervalForTF(tf)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(candleRollup, interval, "", "DESC", "LIMIT ?")
	out, err := s.query(ctx, "latest_candles", q, symbol, tf, symbol, n)
	if err != nil {
		return nil, fmt.Errorf("get latest candles: %w", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *CHFeatureStore) query(ctx context.Context, op, q, symbol string, tf domrepo.Timeframe, args ...interface{}) ([]models.Candle, error) {
	start := time.Now()
	fields := []applogger.Field{
		applogger.String("op", op),
		applogger.String("symbol", symbol),
		applogger.String("tf", string(tf)),
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		s.l.Error("clickhouse candle query error", append(fields, applogger.Error(err))...)
		return nil, err
	}
	defer rows.Close()

	out := make([]models.Candle, 0, 256)
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.Bucket, &c.Symbol, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			s.l.Error("clickhouse candle scan error", append(fields, applogger.Error(err))...)
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		s.l.Error("clickhouse candle rows error", append(fields, applogger.Error(err))...)
		return nil, fmt.Errorf("rows: %w", err)
	}
	s.l.Debug("clickhouse candle query ok", append(fields,
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)))...)
	return out, nil
}

func intervalForTF(tf domrepo.Timeframe) (string, error) {
	switch tf {
	case domrepo.TF1m:
		return "INTERVAL 1 MINUTE", nil
	case domrepo.TF5m:
		return "INTERVAL 5 MINUTE", nil
	case domrepo.TF15m:
		return "INTERVAL 15 MINUTE", nil
	case domrepo.TF1h:
		return "INTERVAL 1 HOUR", nil
	case domrepo.TF1d:
		return "INTERVAL 1 DAY", nil
	default:
		return "", fmt.Errorf("unsupported timeframe: %s", tf)
	}
}

var _ domrepo.FeatureStore = (*CHFeatureStore)(nil)
