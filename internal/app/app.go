package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/pasarmalam/internal/ai"
	"github.com/hitoshi/pasarmalam/internal/auth"
	"github.com/hitoshi/pasarmalam/internal/bgg"
	"github.com/hitoshi/pasarmalam/internal/config"
	"github.com/hitoshi/pasarmalam/internal/database"
	"github.com/hitoshi/pasarmalam/internal/handler"
	"github.com/hitoshi/pasarmalam/internal/listing"
	"github.com/hitoshi/pasarmalam/internal/logger"
	"github.com/hitoshi/pasarmalam/internal/maintenance"
	"github.com/hitoshi/pasarmalam/internal/metrics"
	"github.com/hitoshi/pasarmalam/internal/middleware"
	"github.com/hitoshi/pasarmalam/internal/repository"
	"github.com/hitoshi/pasarmalam/internal/security"
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandClear:
		return runClear(cfg)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")
	return db, nil
}

// sessionCleanupInterval は期限切れセッションを削除する間隔。
const sessionCleanupInterval = time.Hour

// server は構築済みのHTTPハンドラーと停止が必要なリソースをまとめる。
type server struct {
	handler     http.Handler
	rateLimiter *middleware.RateLimiter
}

// newServer は全依存関係をワイヤリングし、HTTPハンドラーを構築する。
// dbは各リポジトリとヘルスチェックに注入する。
func newServer(cfg *config.Config, db *sql.DB, log *slog.Logger) *server {
	// 1. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	listingRepo := repository.NewPostgresListingRepo(db)

	// 2. メトリクス（プライベートレジストリ）
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 3. セキュリティサービスの初期化
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewTextSanitizer()

	// 4. 認証
	verifierClient, guarded := ssrfGuard.ClientFor(cfg.IdentityVerifierURL, cfg.IdentityVerifierTimeout)
	if !guarded {
		log.Warn("identity verifier endpoint is not SSRF-guarded",
			slog.String("endpoint", cfg.IdentityVerifierURL),
		)
	}
	verifier := auth.NewHTTPIdentityVerifier(verifierClient, cfg.IdentityVerifierURL)

	// Google未設定の場合はnilインターフェースを渡す
	var oauthProvider auth.OAuthProvider
	if cfg.GoogleOAuthEnabled() {
		oauthProvider = auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
		}, ssrfGuard.NewSafeClient(cfg.IdentityVerifierTimeout))
	}

	authService := auth.NewService(
		userRepo, sessionRepo, verifier, oauthProvider,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
		log,
	)

	// 5. 出品・入札・コメント
	listingService := listing.NewService(listingRepo, userRepo, log)
	bidEngine := listing.NewBidEngine(listingRepo, collector, log)
	commentService := listing.NewCommentService(listingRepo, authService, sanitizer, collector, log)

	// 6. メタデータ検索
	bggHTTPClient, guarded := ssrfGuard.ClientFor(cfg.BGGAPIBaseURL, cfg.BGGTimeout)
	if !guarded {
		log.Warn("game metadata endpoint is not SSRF-guarded",
			slog.String("endpoint", cfg.BGGAPIBaseURL),
		)
	}
	bggClient := bgg.NewClient(bggHTTPClient, cfg.BGGAPIBaseURL, cfg.BGGSiteBaseURL)
	lookup := bgg.NewDefaultLookup(bggClient, sanitizer, collector, log)

	// 7. AI抽出（エンドポイントは運用者の設定値のため保護なしのクライアントを使う）
	chatClient := ai.NewChatClient(&http.Client{Timeout: cfg.AITimeout}, cfg.AIBaseURL, cfg.AIAPIKey, cfg.AIModel)
	extractor := ai.NewExtractor(chatClient, collector, log)

	// 8. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitExpensive),
	)

	router := handler.NewRouter(&handler.RouterDeps{
		SessionResolver:    authService,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		HSTS:               cfg.CookieSecure,
		RateLimiter:        rateLimiter,
		StatusRecorder:     collector,
		Logger:             log,

		HealthChecker:  db,
		MetricsHandler: metrics.Handler(registry),

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:       cfg.BaseURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		ListingService: listingService,
		BidPlacer:      bidEngine,
		CommentService: commentService,

		GameSearcher:     lookup,
		ListingExtractor: extractor,
	})

	return &server{handler: router, rateLimiter: rateLimiter}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	srv := newServer(cfg, db, slog.Default())
	defer srv.rateLimiter.Stop()

	// 期限切れセッションの定期削除
	cleanupCtx, stopCleanup := context.WithCancel(context.Background())
	defer stopCleanup()
	go maintenance.NewSessionCleanupJob(db, slog.Default()).Start(cleanupCtx, sessionCleanupInterval)

	httpServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // AI抽出の応答待ちを含む
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serveErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runClear はすべての出品を削除する。デモ環境のリセット用。
func runClear(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if _, err := maintenance.NewClearListingsJob(db, slog.Default()).Run(ctx); err != nil {
		return fmt.Errorf("clear failed: %w", err)
	}
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
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

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
