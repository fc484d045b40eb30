package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/devhub/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// フィードセッション
	Hub SessionHub
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → RequestID → Logging → CORS → Viewer → RateLimit(General)
//
// いいね/ブックマークのルートにはRateLimit(Toggle)を追加する。
// /healthと/metricsは閲覧者判定とレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(chimw.RequestID)
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	healthHandler := NewHealthHandler(deps.HealthChecker, logger)
	feedHandler := NewFeedHandler(deps.Hub, logger)
	interactionHandler := NewInteractionHandler(deps.Hub, logger)

	r.Get("/health", healthHandler.Health)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewViewerMiddleware(deps.SessionFinder, logger))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/feed/sessions", func(r chi.Router) {
			r.Post("/", feedHandler.CreateSession)

			r.Route("/{sid}", func(r chi.Router) {
				r.Get("/", feedHandler.GetSession)
				r.Delete("/", feedHandler.CloseSession)
				r.Put("/mode", feedHandler.SetMode)
				r.Post("/more", feedHandler.LoadMore)
				r.Get("/stream", feedHandler.Stream)

				r.Route("/targets/{kind}/{id}", func(r chi.Router) {
					r.Put("/", interactionHandler.Mount)
					r.Get("/", interactionHandler.GetState)
					r.Delete("/", interactionHandler.Unmount)

					r.Group(func(r chi.Router) {
						r.Use(deps.RateLimiter.ToggleMiddleware())
						r.Post("/like", interactionHandler.ToggleLike)
						r.Post("/bookmark", interactionHandler.ToggleBookmark)
					})
				})
			})
		})
	})

	return r
}
