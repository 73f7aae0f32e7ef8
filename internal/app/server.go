package app

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/hitoshi/estate/internal/auth"
	"github.com/hitoshi/estate/internal/config"
	"github.com/hitoshi/estate/internal/handler"
	"github.com/hitoshi/estate/internal/identity"
	"github.com/hitoshi/estate/internal/inquiry"
	"github.com/hitoshi/estate/internal/mailer"
	"github.com/hitoshi/estate/internal/metrics"
	"github.com/hitoshi/estate/internal/middleware"
	"github.com/hitoshi/estate/internal/profile"
	"github.com/hitoshi/estate/internal/property"
	"github.com/hitoshi/estate/internal/repository"
	"github.com/hitoshi/estate/internal/security"
	"github.com/hitoshi/estate/internal/validation"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"
)

// Server はAPIサーバーの組み立て結果。
type Server struct {
	Handler     http.Handler
	Store       *identity.Store
	RateLimiter *middleware.RateLimiter
	Registry    *prometheus.Registry
}

// Close はバックグラウンドのゴルーチンを停止する。
func (s *Server) Close() {
	s.RateLimiter.Stop()
}

// NewServer はリポジトリからルーターまで全依存関係をワイヤリングする。
// dbへの接続はリクエスト処理時まで行わない。
func NewServer(cfg *config.Config, db *sql.DB) *Server {
	// 1. リポジトリの初期化
	identRepo := repository.NewPostgresIdentityRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	profileRepo := repository.NewPostgresProfileRepo(db)
	propertyRepo := repository.NewPostgresPropertyRepo(db)
	inquiryRepo := repository.NewPostgresInquiryRepo(db)

	// 2. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 3. Identity Store
	store := identity.NewStore(
		identRepo, sessionRepo,
		identity.NewTokenIssuer(cfg.AuthJWTSecret),
		newMailer(cfg),
		identity.StoreConfig{
			SessionTTL:               cfg.SessionMaxAge,
			RefreshWindow:            cfg.SessionRefreshWindow,
			RequireEmailConfirmation: cfg.RequireEmailConfirmation,
			BaseURL:                  cfg.BaseURL,
			ResetTokenTTL:            cfg.ResetTokenTTL,
			ConfirmTokenTTL:          cfg.ConfirmTokenTTL,
		},
	)

	// 4. ドメインサービスの初期化
	v := validation.New()
	sanitizer := security.NewSanitizer()
	mediaGuard := security.NewMediaGuard(cfg.MediaProbeTimeout)

	authService := auth.NewService(profileRepo, v, sanitizer, collector)
	propertyService := property.NewService(propertyRepo, v, sanitizer, mediaGuard)
	profileService := profile.NewService(profileRepo, v, sanitizer)
	inquiryService := inquiry.NewService(inquiryRepo, propertyRepo, v, sanitizer, collector, cfg.Timezone)

	// 5. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(rateLimiterConfig(cfg))

	deps := &handler.RouterDeps{
		IdentityBackend: store,
		ProfileFinder:   profileRepo,
		SessionConfig: middleware.SessionConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),
		HTTPMetrics:       collector,

		HealthChecker:  db,
		MetricsHandler: metrics.Handler(registry),

		AuthService: authService,
		AuthConfig:  handler.AuthHandlerConfig{BaseURL: cfg.BaseURL},

		PropertyService: propertyService,
		ProfileService:  profileService,
		InquiryService:  inquiryService,
	}

	return &Server{
		Handler:     handler.NewRouter(deps),
		Store:       store,
		RateLimiter: rateLimiter,
		Registry:    registry,
	}
}

// newMailer はSMTP設定があればSMTPMailerを、なければログ出力のみのMailerを返す。
func newMailer(cfg *config.Config) mailer.Mailer {
	if !cfg.MailEnabled() {
		slog.Warn("SMTP_HOST is not set; mails will be logged instead of sent")
		return mailer.LogMailer{}
	}
	return mailer.NewSMTPMailer(mailer.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	})
}

// rateLimiterConfig はreq/min単位の設定値をreq/secのレートに変換する。
// 0以下の値はデフォルトを使う。
func rateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rl := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		rl.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		rl.GeneralBurst = cfg.RateLimitGeneral
	}
	if cfg.RateLimitLogin > 0 {
		rl.LoginRate = rate.Limit(float64(cfg.RateLimitLogin) / 60.0)
		rl.LoginBurst = cfg.RateLimitLogin
	}
	return rl
}
