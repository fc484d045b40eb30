// Package app はdevhubの各サブコマンドの依存関係を組み立てて起動する。
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/devhub/internal/config"
	"github.com/hitoshi/devhub/internal/database"
	"github.com/hitoshi/devhub/internal/feed"
	"github.com/hitoshi/devhub/internal/handler"
	"github.com/hitoshi/devhub/internal/hub"
	"github.com/hitoshi/devhub/internal/interaction"
	"github.com/hitoshi/devhub/internal/logger"
	"github.com/hitoshi/devhub/internal/metrics"
	"github.com/hitoshi/devhub/internal/middleware"
	"github.com/hitoshi/devhub/internal/realtime"
	"github.com/hitoshi/devhub/internal/repository"
	"github.com/hitoshi/devhub/internal/security"
	"github.com/hitoshi/devhub/internal/worker/sweep"
)

const serviceName = "devhub"

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、JSON構造化ログをグローバルロガーとして設定する。
func Init(w io.Writer) (*config.Config, *slog.Logger, error) {
	// ログレベル確定前でも失敗を出力できるようにする
	log := logger.SetupDefault(w, slog.LevelInfo)

	if err := config.LoadDotEnv(); err != nil {
		return nil, log, err
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, log, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel)), nil
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。SIGINTまたはSIGTERMでコンテキストがキャンセルされる。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd(w)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// serve はAPIサーバーモードで起動する。
// DB・NATS・Redisに接続して全依存関係をワイヤリングし、ctxがキャンセルされるまでHTTPサーバーを動かす。
func serve(ctx context.Context, w io.Writer) error {
	cfg, log, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	log.Info("starting application",
		slog.String("command", string(CommandServe)),
		slog.String("port", cfg.ServerPort),
		slog.String("env", cfg.AppEnv),
	)

	shutdownTracer, err := InitTracer(ctx, cfg.OTLPEndpoint, serviceName, cfg.AppEnv)
	if err != nil {
		return err
	}
	defer shutdownTracer(context.Background())

	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.Ping(ctx, db, 5*time.Second); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info("database connection established")

	// 2. NATS接続
	nc, err := connectNATS(cfg.NATSURL, serviceName+"-serve", log)
	if err != nil {
		return err
	}
	defer nc.Close()
	bus := realtime.NewBus(nc, log)

	// 3. リポジトリの初期化
	sanitizer := security.NewContentSanitizer()
	contentRepo := repository.NewPostgresContentRepo(db, sanitizer)
	reactionRepo := repository.NewPostgresReactionRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	follows, closeFollows := newFollowLister(ctx, cfg, repository.NewPostgresFollowRepo(db), log)
	defer closeFollows()

	// 4. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 5. フィードセッション
	sessions := hub.New(
		feed.Deps{Reader: contentRepo, Subscriber: bus, Follows: follows},
		interaction.Deps{Reader: reactionRepo, Mutator: reactionRepo, Subscriber: bus},
		hub.Config{PageSize: cfg.FeedPageSize, IdleTTL: cfg.SessionIdleTTL},
		log, collector,
	)
	defer sessions.CloseAll()

	sweeper := sweep.NewJob(sessions, log, cfg.SweepInterval)
	go sweeper.Start(ctx)

	// 6. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitToggle), log,
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		SessionFinder:     sessionRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            log,
		HealthChecker:     db,
		MetricsHandler:    metrics.Handler(reg),
		Hub:               sessions,
	})

	// 7. HTTPサーバーの起動
	// ストリーム接続はハンドラー側で書き込み期限を解除する
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	case <-ctx.Done():
	}
	log.Info("shutting down API server...")

	// SSE接続を閉じるため先にセッションを破棄する
	sessions.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("API server stopped gracefully")
	return nil
}

// worker は通知ブリッジを起動する。
// PostgresのLISTEN/NOTIFYで受けた変更通知をNATSへ転送し、ctxがキャンセルされるまでブロックする。
func worker(ctx context.Context, w io.Writer) error {
	cfg, log, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	shutdownTracer, err := InitTracer(ctx, cfg.OTLPEndpoint, serviceName+"-worker", cfg.AppEnv)
	if err != nil {
		return err
	}
	defer shutdownTracer(context.Background())

	nc, err := connectNATS(cfg.NATSURL, serviceName+"-worker", log)
	if err != nil {
		return err
	}
	defer func() {
		if err := nc.Drain(); err != nil {
			log.Warn("failed to drain nats connection", slog.String("error", err.Error()))
		}
	}()

	bridge := realtime.NewPGBridge(cfg.DatabaseURL, realtime.NewBus(nc, log), log)

	log.Info("worker starting", slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)))
	if err := bridge.Run(ctx); err != nil {
		return fmt.Errorf("notification bridge failed: %w", err)
	}
	log.Info("worker stopped gracefully")
	return nil
}

// migrateUp はすべての未適用マイグレーションを順番に適用する。
func migrateUp(w io.Writer) error {
	cfg, log, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	log.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)
	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	log.Info("database migrations completed successfully")
	return nil
}

// migrateDown は指定ステップ数だけマイグレーションを巻き戻す。
func migrateDown(w io.Writer, steps int) error {
	cfg, log, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	log.Info("rolling back database migrations", slog.Int("steps", steps))
	if err := database.RollbackMigrations(cfg.DatabaseURL, steps); err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}
	log.Info("database rollback completed", slog.Int("steps", steps))
	return nil
}

// migrateVersion は現在のマイグレーションバージョンをoutに出力する。
func migrateVersion(w, out io.Writer) error {
	cfg, _, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "version=%d dirty=%t\n", version, dirty)
	return nil
}

// connectNATS はNATSに接続する。切断時は無制限に再接続する。
func connectNATS(url, name string, log *slog.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	log.Info("nats connection established", slog.String("url", nc.ConnectedUrl()))
	return nc, nil
}

// newFollowLister はREDIS_ADDRが設定されていればRedisキャッシュ付きのフォロー一覧取得を返す。
// Redisに接続できなくてもキャッシュはバックエンドにフォールバックするため起動は続ける。
func newFollowLister(ctx context.Context, cfg *config.Config, backend repository.FollowRepository, log *slog.Logger) (repository.FollowRepository, func()) {
	if cfg.RedisAddr == "" {
		return backend, func() {}
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisotel.InstrumentTracing(rdb); err != nil {
		log.Warn("failed to instrument redis tracing", slog.String("error", err.Error()))
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("redis is unreachable; follow lists will be read from postgres until it recovers",
			slog.String("error", err.Error()),
		)
	} else {
		log.Info("redis connection established", slog.String("addr", cfg.RedisAddr))
	}

	return repository.NewRedisFollowCache(rdb, backend, cfg.FollowCacheTTL, log), func() { rdb.Close() }
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
func runHealthcheck(url string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

func errInvalidSteps(arg string) error {
	return fmt.Errorf("steps must be a positive integer, got %q", arg)
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
