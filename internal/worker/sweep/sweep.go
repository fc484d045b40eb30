// Package sweep は無操作のフィードセッションを定期的に破棄するジョブを提供する。
// 破棄されたセッションのリスナー購読とインタラクション購読はここで解放される。
package sweep

import (
	"context"
	"log/slog"
	"time"
)

// DefaultInterval は掃除ジョブの実行間隔のデフォルト値。
const DefaultInterval = time.Minute

// Sweeper はアイドルセッションを破棄し、破棄件数を返すインターフェース。
type Sweeper interface {
	Sweep(now time.Time) int
}

// Job はアイドルセッションの掃除ジョブ。
type Job struct {
	sweeper  Sweeper
	logger   *slog.Logger
	Interval time.Duration
	now      func() time.Time
}

// NewJob は新しいJobを生成する。intervalが0以下の場合はDefaultIntervalを使う。
func NewJob(s Sweeper, logger *slog.Logger, interval time.Duration) *Job {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Job{
		sweeper:  s,
		logger:   logger,
		Interval: interval,
		now:      time.Now,
	}
}

// Run は1回分の掃除を行い、破棄したセッション数を返す。
func (j *Job) Run() int {
	start := j.now()
	n := j.sweeper.Sweep(start)
	if n > 0 {
		j.logger.Info("アイドルセッションを破棄しました",
			slog.Int("disposed_count", n),
			slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
		)
	}
	return n
}

// Start はctxがキャンセルされるまでInterval間隔でRunを繰り返す。ブロッキング。
func (j *Job) Start(ctx context.Context) {
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	j.logger.Info("session sweeper started", slog.Duration("interval", j.Interval))
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("session sweeper stopped")
			return
		case <-ticker.C:
			j.Run()
		}
	}
}
