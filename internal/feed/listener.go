package feed

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/hitoshi/devhub/internal/metrics"
	"github.com/hitoshi/devhub/internal/model"
	"github.com/hitoshi/devhub/internal/realtime"
)

// 破棄理由（devhub_realtime_events_dropped_totalのreasonラベル）
const (
	dropFiltered    = "filtered"
	dropKnown       = "known"
	dropFetchFailed = "fetch_failed"
	dropNotFound    = "not_found"
	dropDuplicate   = "duplicate"
	dropClosed      = "closed"
)

// ListenerConfig はListenerの生成パラメータ。
type ListenerConfig struct {
	Subscriber InsertSubscriber
	Reader     ContentReader
	ViewerID   string
	// AcceptAuthor は表示モードによる作者フィルタ。nilなら全件受け付ける。
	AcceptAuthor func(authorID string) bool
	Ledger       *Ledger
	// Prepend は台帳への登録と該当種別コレクションの先頭追加を1つのクリティカルセクションで行う。
	// 既知または破棄済みの場合はfalseを返す。
	Prepend func(item model.ContentItem) bool
	Logger  *slog.Logger
	Metrics metrics.Recorder
}

// Listener はコンテンツ挿入通知を購読し、新着アイテムをフィードの先頭に取り込む。
// コントローラーの世代ごとに1つ生成され、表示モード変更や破棄時にCloseされる。
type Listener struct {
	cfg    ListenerConfig
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	subs   []realtime.Subscription
	closed bool
}

// NewListener はListenerを生成する。購読はOpenで開始する。
func NewListener(cfg ListenerConfig) *Listener {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Metrics = metrics.OrNop(cfg.Metrics)
	ctx, cancel := context.WithCancel(context.Background())
	return &Listener{cfg: cfg, ctx: ctx, cancel: cancel}
}

// Open は種別ごとに挿入通知を購読し、開けた購読数を返す。
// 購読に失敗した種別はページングのみで動作する。
func (l *Listener) Open() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.cfg.Subscriber == nil {
		return 0
	}

	for _, kind := range model.ContentKinds {
		sub, err := l.cfg.Subscriber.SubscribeInserts(kind, l.handle)
		if err != nil {
			l.cfg.Logger.Warn("realtime subscription failed; falling back to pagination only",
				slog.String("kind", string(kind)),
				slog.String("error", err.Error()),
			)
			continue
		}
		l.subs = append(l.subs, sub)
	}
	return len(l.subs)
}

// Close は全購読を解除する。以降に届いた通知と取得中の結果は破棄される。
func (l *Listener) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	subs := l.subs
	l.subs = nil
	l.mu.Unlock()

	l.cancel()
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			l.cfg.Logger.Debug("unsubscribe failed", slog.String("error", err.Error()))
		}
	}
}

func (l *Listener) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// handle は挿入通知1件を処理する。
// フィルタ → 台帳確認 → ID取得 → 台帳登録と先頭追加 の順で進み、途中で弾かれた通知は黙って捨てる。
func (l *Listener) handle(evCtx context.Context, ev model.InsertEvent) {
	if l.isClosed() {
		l.drop(ev, dropClosed)
		return
	}

	if l.cfg.AcceptAuthor != nil && !l.cfg.AcceptAuthor(ev.AuthorID) {
		l.drop(ev, dropFiltered)
		return
	}

	if l.cfg.Ledger.Has(ev.Key()) {
		l.drop(ev, dropKnown)
		return
	}

	// 取得はListenerの寿命に従い、トレースは通知元のスパンを引き継ぐ
	ctx := trace.ContextWithSpan(l.ctx, trace.SpanFromContext(evCtx))
	item, err := l.cfg.Reader.FetchByID(ctx, ev.Kind, ev.ID, l.cfg.ViewerID)
	if err != nil {
		l.cfg.Logger.Debug("realtime fetch failed",
			slog.String("item", ev.Key().String()),
			slog.String("error", err.Error()),
		)
		l.drop(ev, dropFetchFailed)
		return
	}
	if item == nil {
		l.drop(ev, dropNotFound)
		return
	}

	if l.isClosed() {
		l.drop(ev, dropClosed)
		return
	}
	if !l.cfg.Prepend(*item) {
		l.drop(ev, dropDuplicate)
		return
	}
	l.cfg.Metrics.RecordIngested(string(item.Kind), metrics.PathRealtime, 1)
}

func (l *Listener) drop(ev model.InsertEvent, reason string) {
	l.cfg.Metrics.RecordRealtimeDropped(reason)
	l.cfg.Logger.Debug("realtime event dropped",
		slog.String("item", ev.Key().String()),
		slog.String("reason", reason),
	)
}
