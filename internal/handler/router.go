package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/estate/internal/gate"
	"github.com/hitoshi/estate/internal/identity"
	"github.com/hitoshi/estate/internal/middleware"
	"github.com/hitoshi/estate/internal/session"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	IdentityBackend   identity.Backend
	ProfileFinder     session.ProfileFinder
	SessionConfig     middleware.SessionConfig
	CSRFConfig        middleware.CSRFConfig
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger
	HTTPMetrics       middleware.HTTPMetrics

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// ドメイン
	PropertyService PropertyServiceInterface
	ProfileService  ProfileServiceInterface
	InquiryService  InquiryServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → RealIP → SecurityHeaders → Logging → CORS
//	  → CSRF → Session → [Gate] → RateLimit(General)
//
// /health と /metrics はCSRF・セッションの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(chimw.RequestID)
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(chimw.RealIP)
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, deps.HTTPMetrics))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	propertyHandler := NewPropertyHandler(deps.PropertyService)
	profileHandler := NewProfileHandler(deps.ProfileService)
	inquiryHandler := NewInquiryHandler(deps.InquiryService)

	// --- 運用エンドポイント ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- アプリケーションルート ---
	// ミドルウェアスタック: CSRF → Session → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		r.Use(middleware.NewSessionMiddleware(deps.IdentityBackend, deps.ProfileFinder, deps.SessionConfig))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)

		// 認証ルート（ログイン・登録・再設定はIP単位の制限を追加）
		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(deps.RateLimiter.LoginMiddleware())
				r.Post("/register", authHandler.Register)
				r.Post("/login", authHandler.Login)
				r.Post("/password/reset", authHandler.ResetPassword)
				r.Post("/password/update", authHandler.UpdatePassword)
			})
			r.Post("/logout", authHandler.Logout)
			r.Get("/confirm", authHandler.Confirm)
			r.Get("/me", authHandler.Me)
		})

		// 物件（公開）
		r.Route("/api/properties", func(r chi.Router) {
			r.Get("/", propertyHandler.List)
			r.Get("/search", propertyHandler.Search)
			r.Get("/{id}", propertyHandler.Get)
		})

		// --- 認証が必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewGateMiddleware(gate.RequireAuthenticated))

			r.Route("/api/profile", func(r chi.Router) {
				r.Post("/onboarding", profileHandler.Onboarding)
				r.Put("/me", profileHandler.UpdateMe)
			})

			r.Route("/api/inquiries", func(r chi.Router) {
				r.Post("/", inquiryHandler.Create)
				r.Get("/", inquiryHandler.ListMine)
			})
		})

		// --- 管理者ルート ---
		r.Route("/api/admin", func(r chi.Router) {
			r.Use(middleware.NewGateMiddleware(gate.RequireAdmin))

			r.Route("/inquiries", func(r chi.Router) {
				r.Get("/", inquiryHandler.ListForAdmin)
				r.Post("/{id}/approve", inquiryHandler.Approve)
				r.Post("/{id}/deny", inquiryHandler.Deny)
			})

			r.Route("/properties", func(r chi.Router) {
				r.Post("/", propertyHandler.Create)
				r.Put("/{id}", propertyHandler.Update)
				r.Delete("/{id}", propertyHandler.Delete)
			})

			r.Put("/profiles/{userID}/admin", profileHandler.SetAdmin)
		})
	})

	return r
}
