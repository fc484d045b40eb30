// Package interaction はいいね・ブックマークの楽観的更新とリアルタイム整合を提供する。
//
// Storeはターゲット1件 × 閲覧者セッション1つに対応する。操作は即座にローカル状態へ
// 反映し、サーバー更新が失敗した場合は適用した差分だけを正確に巻き戻す。
package interaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/devhub/internal/metrics"
	"github.com/hitoshi/devhub/internal/model"
	"github.com/hitoshi/devhub/internal/realtime"
)

// ErrClosed は破棄済みのStoreまたはRegistryを操作した場合に返される。
var ErrClosed = errors.New("interaction: store closed")

// Reader はリアクション状態の読み取りインターフェース。
type Reader interface {
	CountReactions(ctx context.Context, target model.ItemKey) (int, error)
	ViewerInteractions(ctx context.Context, target model.ItemKey, viewerID string) (liked, bookmarked bool, err error)
}

// Mutator はリアクション状態の更新インターフェース。
// 値は反転ではなく設定後の状態を渡すため、再送されても結果は変わらない。
// 匿名閲覧者の場合はエラーを返す。
type Mutator interface {
	ToggleReaction(ctx context.Context, target model.ItemKey, viewerID string, liked bool) error
	ToggleBookmark(ctx context.Context, target model.ItemKey, viewerID string, bookmarked bool) error
}

// ReactionSubscriber はターゲット単位のリアクション通知の購読インターフェース。
type ReactionSubscriber interface {
	SubscribeReactions(target model.ItemKey, h realtime.ReactionHandler) (realtime.Subscription, error)
}

// Deps はStoreの依存コンポーネント。Subscriberがnilの場合はリアルタイム整合を行わない。
type Deps struct {
	Reader     Reader
	Mutator    Mutator
	Subscriber ReactionSubscriber
	Logger     *slog.Logger
	Metrics    metrics.Recorder
}

type phase int

const (
	phaseUninitialized phase = iota
	phaseLoading
	phaseReady
)

// Store はターゲット1件の閲覧者別インタラクション状態を保持する。
type Store struct {
	target   model.ItemKey
	viewerID string
	deps     Deps

	mu      sync.Mutex
	phase   phase
	state   model.InteractionState
	pending map[model.InteractionKind]bool
	sub     realtime.Subscription
	closed  bool

	// initDone はInitの完了(成功・破棄いずれも)で閉じられる。
	initDone chan struct{}
	initOnce sync.Once
}

// NewStore はStoreを生成する。viewerIDが空の場合は匿名閲覧者として扱う。
func NewStore(target model.ItemKey, viewerID string, deps Deps) *Store {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	deps.Metrics = metrics.OrNop(deps.Metrics)
	return &Store{
		target:   target,
		viewerID: viewerID,
		deps:     deps,
		pending:  make(map[model.InteractionKind]bool),
		initDone: make(chan struct{}),
	}
}

// Target は対象アイテムのキーを返す。
func (s *Store) Target() model.ItemKey {
	return s.target
}

// Init はリアクション数と閲覧者自身の状態を並行取得し、Ready状態に遷移する。
// 取得に失敗した項目はゼロ値のままReadyになる。その後ターゲットの通知を購読する。
// 2回目以降の呼び出しは何もしない。
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.phase != phaseUninitialized {
		s.mu.Unlock()
		return nil
	}
	s.phase = phaseLoading
	s.mu.Unlock()
	defer s.finishInit()

	var (
		count             int
		liked, bookmarked bool
		g                 errgroup.Group
	)
	g.Go(func() error {
		n, err := s.deps.Reader.CountReactions(ctx, s.target)
		if err != nil {
			s.deps.Logger.Warn("リアクション数の取得に失敗しました",
				slog.String("target", s.target.String()),
				slog.String("error", err.Error()),
			)
			return nil
		}
		count = n
		return nil
	})
	if s.viewerID != "" {
		g.Go(func() error {
			l, b, err := s.deps.Reader.ViewerInteractions(ctx, s.target, s.viewerID)
			if err != nil {
				s.deps.Logger.Warn("閲覧者のリアクション状態の取得に失敗しました",
					slog.String("target", s.target.String()),
					slog.String("viewer_id", s.viewerID),
					slog.String("error", err.Error()),
				)
				return nil
			}
			liked, bookmarked = l, b
			return nil
		})
	}
	_ = g.Wait()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.state = model.InteractionState{
		LikeCount:     uint(max(count, 0)),
		IsLiked:       liked,
		IsBookmarked:  bookmarked,
		IsInitialized: true,
	}
	s.phase = phaseReady
	s.mu.Unlock()

	s.subscribe()
	return nil
}

func (s *Store) finishInit() {
	s.initOnce.Do(func() { close(s.initDone) })
}

// WaitReady は他の呼び出し元が実行中のInitの完了を待つ。
func (s *Store) WaitReady(ctx context.Context) error {
	select {
	case <-s.initDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// subscribe はターゲットのリアクション通知を購読する。失敗時はログのみ記録する。
func (s *Store) subscribe() {
	if s.deps.Subscriber == nil {
		return
	}
	sub, err := s.deps.Subscriber.SubscribeReactions(s.target, s.onReaction)
	if err != nil {
		s.deps.Logger.Warn("reaction subscription failed",
			slog.String("target", s.target.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = sub.Unsubscribe()
		return
	}
	s.sub = sub
	s.mu.Unlock()
}

// State は現在の状態のスナップショットを返す。
func (s *Store) State() model.InteractionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ready は初期化が完了しているかを返す。
func (s *Store) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase == phaseReady
}

// ToggleLike はいいねを楽観的に反転し、サーバー更新を非同期に発行する。
// 初期化前、または同じ種別の更新が進行中の場合は何もせずfalseを返す。
// 返されるチャネルには更新結果が1件だけ送られる。
func (s *Store) ToggleLike() (<-chan error, bool) {
	return s.toggle(model.InteractionLike)
}

// ToggleBookmark はブックマークを楽観的に反転する。挙動はToggleLikeと同じ。
func (s *Store) ToggleBookmark() (<-chan error, bool) {
	return s.toggle(model.InteractionBookmark)
}

func (s *Store) toggle(kind model.InteractionKind) (<-chan error, bool) {
	s.mu.Lock()
	// 初期値の取得前の反転はInitの結果で上書きされるため受け付けない
	if s.closed || s.phase != phaseReady || s.pending[kind] {
		s.mu.Unlock()
		s.deps.Metrics.RecordToggle(string(kind), metrics.OutcomeDropped)
		return nil, false
	}
	s.pending[kind] = true

	var next bool
	delta := 0
	switch kind {
	case model.InteractionLike:
		next = !s.state.IsLiked
		s.state.IsLiked = next
		if next {
			s.state.LikeCount++
			delta = 1
		} else if s.state.LikeCount > 0 {
			s.state.LikeCount--
			delta = -1
		}
	case model.InteractionBookmark:
		next = !s.state.IsBookmarked
		s.state.IsBookmarked = next
	}
	s.mu.Unlock()

	result := make(chan error, 1)
	go s.commit(kind, next, delta, result)
	return result, true
}

// commit はサーバー更新を実行し、結果に応じて確定または巻き戻しを行う。
// パニックも失敗として扱い、ガードは必ず解除する。
func (s *Store) commit(kind model.InteractionKind, next bool, delta int, result chan<- error) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("mutation panicked: %v", r)
		}
		s.settle(kind, next, delta, err)
		result <- err
		close(result)
	}()

	// アンマウント後もユーザー操作は完了させるため、Storeの寿命とは切り離す
	ctx := context.Background()
	switch kind {
	case model.InteractionLike:
		err = s.deps.Mutator.ToggleReaction(ctx, s.target, s.viewerID, next)
	case model.InteractionBookmark:
		err = s.deps.Mutator.ToggleBookmark(ctx, s.target, s.viewerID, next)
	}
}

// settle はガードを解除し、失敗時は楽観的に適用した値と差分を打ち消す。
func (s *Store) settle(kind model.InteractionKind, next bool, delta int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, kind)

	if err == nil {
		s.deps.Metrics.RecordToggle(string(kind), metrics.OutcomeConfirmed)
		return
	}

	s.deps.Metrics.RecordToggle(string(kind), metrics.OutcomeRolledBack)
	s.deps.Logger.Warn("リアクションの更新に失敗したため巻き戻しました",
		slog.String("target", s.target.String()),
		slog.String("kind", string(kind)),
		slog.String("error", err.Error()),
	)
	if s.closed {
		return
	}

	switch kind {
	case model.InteractionLike:
		s.state.IsLiked = !next
		switch delta {
		case 1:
			if s.state.LikeCount > 0 {
				s.state.LikeCount--
			}
		case -1:
			s.state.LikeCount++
		}
	case model.InteractionBookmark:
		s.state.IsBookmarked = !next
	}
}

// onReaction は他セッションのリアクション変更をカウントに反映する。
// 閲覧者自身の操作の通知は楽観的更新で反映済みのため無視する。
func (s *Store) onReaction(_ context.Context, ev model.ReactionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.phase != phaseReady {
		return
	}
	if s.viewerID != "" && ev.ActorID == s.viewerID {
		return
	}

	switch ev.Type {
	case model.ReactionInserted:
		s.state.LikeCount++
	case model.ReactionDeleted:
		if s.state.LikeCount > 0 {
			s.state.LikeCount--
		}
	}
}

// Close は購読を解除する。以降に届く更新結果と通知は状態に反映されない。
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			s.deps.Logger.Debug("unsubscribe failed",
				slog.String("target", s.target.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}
