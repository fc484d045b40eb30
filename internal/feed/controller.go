// Package feed は投稿とスニペットを1本のフィードにまとめるドメインロジックを提供する。
//
// Controllerが2種類のコレクション・既知アイテム台帳・ページングカーソル・
// リアルタイムリスナーを所有し、ページ読み込みとプッシュ通知の両経路から
// 重複なくアイテムを取り込む。
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/devhub/internal/metrics"
	"github.com/hitoshi/devhub/internal/model"
	"github.com/hitoshi/devhub/internal/realtime"
)

// ErrClosed は破棄済みのControllerを操作した場合に返される。
var ErrClosed = errors.New("feed: controller closed")

// DefaultPageSize はページあたりの種別ごとの取得件数。
const DefaultPageSize = 10

// watchBuffer はWatchチャネルのバッファ長。溢れた通知は破棄する。
const watchBuffer = 16

// ContentReader はコンテンツ読み取りのインターフェース。
type ContentReader interface {
	// FetchPage は保持済み件数をオフセットとして次のページを作成日時の降順で返す。
	FetchPage(ctx context.Context, kind model.ContentKind, q model.PageQuery) ([]model.ContentItem, error)
	// FetchByID はページ取得と同じ可視性ルールで1件を返す。見えない場合はnil。
	FetchByID(ctx context.Context, kind model.ContentKind, id, viewerID string) (*model.ContentItem, error)
}

// InsertSubscriber はコンテンツ挿入通知の購読インターフェース。
type InsertSubscriber interface {
	SubscribeInserts(kind model.ContentKind, h realtime.InsertHandler) (realtime.Subscription, error)
}

// FollowLister は閲覧者がフォローしている作者IDを返す。
type FollowLister interface {
	ListFollowing(ctx context.Context, viewerID string) ([]string, error)
}

// Deps はControllerの依存コンポーネント。
// Subscriberがnilの場合はページングのみで動作する。
type Deps struct {
	Reader     ContentReader
	Subscriber InsertSubscriber
	Follows    FollowLister
	Logger     *slog.Logger
	Metrics    metrics.Recorder
}

// Controller は1人の閲覧者のフィード状態を所有する。
// 状態の変更はすべてmuの下で行い、ネットワーク呼び出しはロック外で行う。
// 表示モード変更のたびに世代が進み、古い世代の遅延結果は破棄される。
type Controller struct {
	reader     ContentReader
	subscriber InsertSubscriber
	follows    FollowLister
	logger     *slog.Logger
	metrics    metrics.Recorder
	viewerID   string
	pageSize   int

	mu         sync.Mutex
	mode       model.ViewMode
	started    bool
	generation uint64
	posts      []model.ContentItem
	snippets   []model.ContentItem
	ledger     *Ledger
	cursor     *CursorPair
	listener   *Listener
	watchers   map[chan model.ContentItem]struct{}
	closed     bool
	done       chan struct{}
}

// NewController はControllerを生成する。viewerIDが空の場合は匿名閲覧者として扱う。
func NewController(deps Deps, viewerID string, pageSize int) *Controller {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Controller{
		reader:     deps.Reader,
		subscriber: deps.Subscriber,
		follows:    deps.Follows,
		logger:     deps.Logger,
		metrics:    metrics.OrNop(deps.Metrics),
		viewerID:   viewerID,
		pageSize:   pageSize,
		mode:       model.ViewModeAll,
		ledger:     NewLedger(),
		cursor:     NewCursorPair(pageSize),
		watchers:   make(map[chan model.ContentItem]struct{}),
		done:       make(chan struct{}),
	}
}

// Start は指定モードでフィードを開始する。
// フォロー一覧の取得 → リスナーの購読開始 → 初回ページ読み込み の順で行う。
// 初回読み込みの失敗はエラーとして返すが、Controller自体は利用可能なまま残る。
func (c *Controller) Start(ctx context.Context, mode model.ViewMode) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	gen, old := c.resetLocked(mode)
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}

	accept := c.authorFilter(ctx, mode)

	c.mu.Lock()
	if c.closed || c.generation != gen {
		c.mu.Unlock()
		return nil
	}
	listener := NewListener(ListenerConfig{
		Subscriber:   c.subscriber,
		Reader:       c.reader,
		ViewerID:     c.viewerID,
		AcceptAuthor: accept,
		Ledger:       c.ledger,
		Prepend: func(item model.ContentItem) bool {
			return c.prepend(gen, item)
		},
		Logger:  c.logger,
		Metrics: c.metrics,
	})
	c.listener = listener
	c.mu.Unlock()

	listener.Open()

	_, err := c.LoadMore(ctx)
	return err
}

// SetViewMode は表示モードを切り替える。
// 新しいモードは論理的に別のフィードとして扱い、台帳・コレクション・カーソルを作り直す。
// 同じモードが指定された場合は何もしない。
func (c *Controller) SetViewMode(ctx context.Context, mode model.ViewMode) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.started && c.mode == mode {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.Start(ctx, mode)
}

// resetLocked は新しい世代を開始し、旧世代のリスナーを返す。c.muを保持して呼ぶこと。
func (c *Controller) resetLocked(mode model.ViewMode) (uint64, *Listener) {
	old := c.listener
	c.listener = nil
	c.generation++
	c.mode = mode
	c.started = true
	c.posts = nil
	c.snippets = nil
	c.ledger = NewLedger()
	c.cursor = NewCursorPair(c.pageSize)
	return c.generation, old
}

// authorFilter はリアルタイム通知の作者フィルタを返す。
// フォロー一覧が取得できない場合は空集合として扱い、フォロー中モードの通知はすべて弾く。
func (c *Controller) authorFilter(ctx context.Context, mode model.ViewMode) func(string) bool {
	if mode != model.ViewModeFollowing {
		return nil
	}

	followed := make(map[string]struct{})
	if c.viewerID != "" && c.follows != nil {
		ids, err := c.follows.ListFollowing(ctx, c.viewerID)
		if err != nil {
			c.logger.Warn("フォロー一覧の取得に失敗しました",
				slog.String("viewer_id", c.viewerID),
				slog.String("error", err.Error()),
			)
		}
		for _, id := range ids {
			followed[id] = struct{}{}
		}
	}

	return func(authorID string) bool {
		_, ok := followed[authorID]
		return ok
	}
}

// LoadMore は次のページを両種別並行で取得して追加する。
// 読み込み中または枯渇済みの場合はネットワーク呼び出しをせずfalseを返す。
// 取得失敗時はカーソルの読み込み中フラグのみを解除してエラーを返す。
func (c *Controller) LoadMore(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false, ErrClosed
	}
	gen, cursor, mode := c.generation, c.cursor, c.mode
	win, ok := cursor.Begin(len(c.posts), len(c.snippets))
	c.mu.Unlock()
	if !ok {
		return false, nil
	}

	start := time.Now()
	var posts, snippets []model.ContentItem
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		posts, err = c.reader.FetchPage(gctx, model.ContentKindPost, model.PageQuery{
			Mode: mode, ViewerID: c.viewerID, Offset: win.PostOffset, Limit: win.Limit,
		})
		return err
	})
	g.Go(func() error {
		var err error
		snippets, err = c.reader.FetchPage(gctx, model.ContentKindSnippet, model.PageQuery{
			Mode: mode, ViewerID: c.viewerID, Offset: win.SnippetOffset, Limit: win.Limit,
		})
		return err
	})
	if err := g.Wait(); err != nil {
		cursor.Abort()
		c.metrics.RecordPageLoad("error", time.Since(start))
		c.logger.Warn("ページの取得に失敗しました",
			slog.String("viewer_id", c.viewerID),
			slog.String("mode", string(mode)),
			slog.String("error", err.Error()),
		)
		return false, fmt.Errorf("ページの取得に失敗しました: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.generation != gen {
		cursor.Abort()
		c.metrics.RecordPageLoad("stale", time.Since(start))
		return false, nil
	}

	newPosts := c.appendLocked(&c.posts, posts)
	newSnippets := c.appendLocked(&c.snippets, snippets)
	exhausted := cursor.Finish(newPosts, newSnippets)

	c.metrics.RecordIngested(string(model.ContentKindPost), metrics.PathPage, newPosts)
	c.metrics.RecordIngested(string(model.ContentKindSnippet), metrics.PathPage, newSnippets)
	c.metrics.RecordPageLoad("ok", time.Since(start))
	c.logger.Debug("page loaded",
		slog.String("viewer_id", c.viewerID),
		slog.Int("new_posts", newPosts),
		slog.Int("new_snippets", newSnippets),
		slog.Bool("exhausted", exhausted),
	)
	return true, nil
}

// appendLocked は台帳に未登録のアイテムだけを末尾に追加し、追加件数を返す。c.muを保持して呼ぶこと。
func (c *Controller) appendLocked(dst *[]model.ContentItem, items []model.ContentItem) int {
	added := 0
	for _, item := range items {
		if !c.ledger.TryAdd(item.Key()) {
			continue
		}
		*dst = append(*dst, item)
		added++
	}
	return added
}

// prepend はリアルタイムで届いたアイテムを該当種別の先頭に追加し、購読者へ配信する。
func (c *Controller) prepend(gen uint64, item model.ContentItem) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.generation != gen {
		return false
	}
	if !c.ledger.TryAdd(item.Key()) {
		return false
	}

	switch item.Kind {
	case model.ContentKindPost:
		c.posts = append([]model.ContentItem{item}, c.posts...)
	case model.ContentKindSnippet:
		c.snippets = append([]model.ContentItem{item}, c.snippets...)
	}

	for ch := range c.watchers {
		select {
		case ch <- item:
		default:
			c.metrics.RecordRealtimeDropped("slow_consumer")
		}
	}
	return true
}

// Items は描画順（作成日時の降順）に並べた現在のアイテムを返す。
func (c *Controller) Items() []model.ContentItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Merge(c.posts, c.snippets)
}

// Exhausted は現在の世代のページングが枯渇済みかどうかを返す。
func (c *Controller) Exhausted() bool {
	c.mu.Lock()
	cursor := c.cursor
	c.mu.Unlock()
	return cursor.Exhausted()
}

// Mode は現在の表示モードを返す。
func (c *Controller) Mode() model.ViewMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Watch はリアルタイムで先頭追加されたアイテムを受け取るチャネルを返す。
// ctxのキャンセルまたはCloseでチャネルは閉じられる。受信が遅い場合は通知を取りこぼす。
func (c *Controller) Watch(ctx context.Context) <-chan model.ContentItem {
	ch := make(chan model.ContentItem, watchBuffer)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(ch)
		return ch
	}
	c.watchers[ch] = struct{}{}
	c.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-c.done:
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.watchers[ch]; ok {
			delete(c.watchers, ch)
			close(ch)
		}
	}()
	return ch
}

// Close はリスナーとWatchチャネルを解放する。以降に届く結果はすべて破棄される。
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	listener := c.listener
	c.listener = nil
	for ch := range c.watchers {
		delete(c.watchers, ch)
		close(ch)
	}
	close(c.done)
	c.mu.Unlock()

	if listener != nil {
		listener.Close()
	}
}
