package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/pasarmalam/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionResolver    middleware.SessionResolver
	CORSAllowedOrigins []string
	HSTS               bool
	RateLimiter        *middleware.RateLimiter
	StatusRecorder     middleware.StatusRecorder
	Logger             *slog.Logger

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 出品
	ListingService ListingServiceInterface
	BidPlacer      BidPlacer
	CommentService CommentServiceInterface

	// メタデータ検索・AI抽出
	GameSearcher     GameSearcher
	ListingExtractor ListingExtractor
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	CORS → SecurityHeaders → Recovery → Session → Logging → Metrics
//	  /api: OriginCheck → RateLimit(General) → [RequireSession] → [RateLimit(Expensive)]
//
// セッションは任意で解決し、認証が必要なルートのみRequireSessionで401にする。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigins))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.HSTS))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSessionMiddleware(deps.SessionResolver))
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.StatusRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.StatusRecorder))
	}

	// --- 運用エンドポイント ---
	if deps.HealthChecker != nil {
		r.Get("/health", NewHealthHandler(deps.HealthChecker))
	}
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	listingHandler := NewListingHandler(deps.ListingService, deps.BidPlacer, deps.CommentService)
	lookupHandler := NewLookupHandler(deps.GameSearcher, deps.ListingExtractor)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewOriginCheckMiddleware(deps.CORSAllowedOrigins))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/", Root)
		r.Post("/seed", Seed)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register-email", authHandler.RegisterEmail)
			r.Post("/login-email", authHandler.LoginEmail)
			r.Post("/exchange-session", authHandler.ExchangeSession)
			r.Post("/login-legacy", authHandler.LoginLegacy)
			r.Post("/login", authHandler.LoginLegacy)
			r.Post("/logout", authHandler.Logout)

			// Google OAuthは設定されている場合のみ
			if deps.AuthService.OAuthEnabled() {
				r.Get("/google/login", authHandler.GoogleLogin)
				r.Get("/google/callback", authHandler.GoogleCallback)
			}

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireSession)
				r.Get("/me", authHandler.Me)
				r.Put("/profile", authHandler.UpdateProfile)
			})
		})

		r.Route("/listings", func(r chi.Router) {
			r.Get("/", listingHandler.ListListings)
			r.Get("/{id}", listingHandler.GetListing)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireSession)
				r.Post("/", listingHandler.CreateListings)
				r.Put("/{id}", listingHandler.UpdateListing)
				r.Delete("/{id}", listingHandler.DeleteListing)
				r.Post("/{id}/bid", listingHandler.PlaceBid)
				r.Post("/{id}/comments", listingHandler.AddComment)
				r.Delete("/{id}/comments/{commentId}", listingHandler.DeleteComment)
			})
		})

		// 外部サービスを呼び出すため専用のレート制限を追加
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.ExpensiveMiddleware())
			r.Get("/bgg/search", lookupHandler.SearchGames)
			r.Post("/ai/scan-image", lookupHandler.ScanImage)
			r.Post("/ai/parse-text", lookupHandler.ParseText)
		})
	})

	return r
}
