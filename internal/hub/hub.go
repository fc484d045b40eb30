// Package hub は閲覧者ごとのフィードセッションを管理する。
// 1セッションはフィードコントローラー1つとインタラクションレジストリ1つを所有し、
// 一定時間操作のないセッションはSweepで破棄される。
package hub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/devhub/internal/feed"
	"github.com/hitoshi/devhub/internal/interaction"
	"github.com/hitoshi/devhub/internal/metrics"
	"github.com/hitoshi/devhub/internal/model"
)

// DefaultIdleTTL はセッションの無操作タイムアウトのデフォルト値。
const DefaultIdleTTL = 30 * time.Minute

// Config はHubの設定。
type Config struct {
	PageSize int
	IdleTTL  time.Duration
}

// Session は閲覧者1人分のフィードセッション。
type Session struct {
	ID           string
	ViewerID     string
	Feed         *feed.Controller
	Interactions *interaction.Registry

	mu       sync.Mutex
	lastSeen time.Time
	streams  int
}

// Touch は最終操作時刻を更新する。
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.After(s.lastSeen) {
		s.lastSeen = now
	}
}

// LastSeen は最終操作時刻を返す。
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// AcquireStream はストリーム接続の開始を記録する。接続中のセッションはSweepの対象外。
// 戻り値の関数で接続終了を記録する。
func (s *Session) AcquireStream() (release func()) {
	s.mu.Lock()
	s.streams++
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.streams--
			s.mu.Unlock()
		})
	}
}

func (s *Session) idle(now time.Time, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streams == 0 && now.Sub(s.lastSeen) > ttl
}

func (s *Session) close() {
	s.Feed.Close()
	s.Interactions.CloseAll()
}

// Hub はフィードセッションの生成・検索・破棄を行う。
type Hub struct {
	feedDeps        feed.Deps
	interactionDeps interaction.Deps
	cfg             Config
	logger          *slog.Logger
	metrics         metrics.Recorder
	now             func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// New はHubを生成する。ロガーとメトリクスは各依存にも引き継がれる。
func New(feedDeps feed.Deps, interactionDeps interaction.Deps, cfg Config, logger *slog.Logger, rec metrics.Recorder) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	rec = metrics.OrNop(rec)
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}
	if feedDeps.Logger == nil {
		feedDeps.Logger = logger
	}
	if feedDeps.Metrics == nil {
		feedDeps.Metrics = rec
	}
	if interactionDeps.Logger == nil {
		interactionDeps.Logger = logger
	}
	if interactionDeps.Metrics == nil {
		interactionDeps.Metrics = rec
	}
	return &Hub{
		feedDeps:        feedDeps,
		interactionDeps: interactionDeps,
		cfg:             cfg,
		logger:          logger,
		metrics:         rec,
		now:             time.Now,
		sessions:        make(map[string]*Session),
	}
}

// Open は新しいセッションを生成し、指定モードでフィードを開始する。
// 初回ページの読み込みに失敗してもセッションは登録済みで返り、エラーも併せて返す。
func (h *Hub) Open(ctx context.Context, viewerID string, mode model.ViewMode) (*Session, error) {
	sess := &Session{
		ID:           uuid.NewString(),
		ViewerID:     viewerID,
		Feed:         feed.NewController(h.feedDeps, viewerID, h.cfg.PageSize),
		Interactions: interaction.NewRegistry(viewerID, h.interactionDeps),
		lastSeen:     h.now(),
	}

	h.mu.Lock()
	h.sessions[sess.ID] = sess
	n := len(h.sessions)
	h.mu.Unlock()
	h.metrics.SetActiveSessions(n)

	h.logger.Info("フィードセッションを開始しました",
		slog.String("session_id", sess.ID),
		slog.String("mode", string(mode)),
		slog.Bool("anonymous", viewerID == ""),
	)

	if err := sess.Feed.Start(ctx, mode); err != nil {
		h.logger.Warn("初回ページの読み込みに失敗しました",
			slog.String("session_id", sess.ID),
			slog.String("error", err.Error()),
		)
		return sess, err
	}
	return sess, nil
}

// Get はセッションを返し、最終操作時刻を更新する。
// 存在しない場合や別の閲覧者のセッションの場合はFEED_SESSION_NOT_FOUNDを返す。
func (h *Hub) Get(id, viewerID string) (*Session, error) {
	h.mu.Lock()
	sess, ok := h.sessions[id]
	h.mu.Unlock()

	if !ok || sess.ViewerID != viewerID {
		return nil, model.NewSessionNotFoundError(id)
	}
	sess.Touch(h.now())
	return sess, nil
}

// Close はセッションを破棄する。存在しなければfalseを返す。
func (h *Hub) Close(id string) bool {
	h.mu.Lock()
	sess, ok := h.sessions[id]
	delete(h.sessions, id)
	n := len(h.sessions)
	h.mu.Unlock()

	if !ok {
		return false
	}
	sess.close()
	h.metrics.SetActiveSessions(n)
	h.logger.Info("フィードセッションを終了しました", slog.String("session_id", id))
	return true
}

// Sweep はIdleTTLを超えて操作のないセッションを破棄し、破棄した件数を返す。
func (h *Hub) Sweep(now time.Time) int {
	h.mu.Lock()
	var expired []*Session
	for id, sess := range h.sessions {
		if sess.idle(now, h.cfg.IdleTTL) {
			expired = append(expired, sess)
			delete(h.sessions, id)
		}
	}
	n := len(h.sessions)
	h.mu.Unlock()

	for _, sess := range expired {
		sess.close()
	}
	h.metrics.SetActiveSessions(n)
	return len(expired)
}

// Len は管理中のセッション数を返す。
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// CloseAll は全セッションを破棄する。シャットダウン時に呼ぶ。
func (h *Hub) CloseAll() {
	h.mu.Lock()
	sessions := h.sessions
	h.sessions = make(map[string]*Session)
	h.mu.Unlock()

	for _, sess := range sessions {
		sess.close()
	}
	h.metrics.SetActiveSessions(0)
}
