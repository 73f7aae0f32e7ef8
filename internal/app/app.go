// Package app はサブコマンドごとの起動処理と依存関係のワイヤリングを提供する。
package app

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/hitoshi/estate/internal/config"
	"github.com/hitoshi/estate/internal/database"
	"github.com/hitoshi/estate/internal/identity"
	"github.com/hitoshi/estate/internal/logger"
	"github.com/hitoshi/estate/internal/metrics"
	"github.com/hitoshi/estate/internal/profile"
	"github.com/hitoshi/estate/internal/repository"
	"github.com/hitoshi/estate/internal/security"
	"github.com/hitoshi/estate/internal/validation"
	"github.com/hitoshi/estate/internal/worker/cleanup"
	"github.com/prometheus/client_golang/prometheus"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var rest []string
	if len(args) > 1 {
		rest = args[1:]
	}

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg, rest)
	case CommandCreateAdmin:
		return runCreateAdmin(ctx, cfg, rest)
	default:
		return runServe(ctx, cfg)
	}
}

// openDB はDB接続を開き、応答を確認する。
func openDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := database.WaitForReady(ctx, db, cfg.DBConnectAttempts, 2*time.Second); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)
	return db, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	srv := NewServer(cfg, db)
	defer srv.Close()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.Handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、期限切れセッションのクリーンアップをcronスケジュールで実行する。
// ctxがキャンセルされるまでブロックする。
func runWorker(ctx context.Context, cfg *config.Config) error {
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	store := identity.NewStore(
		repository.NewPostgresIdentityRepo(db),
		repository.NewPostgresSessionRepo(db),
		identity.NewTokenIssuer(cfg.AuthJWTSecret),
		newMailer(cfg),
		identity.StoreConfig{SessionTTL: cfg.SessionMaxAge},
	)

	collector := metrics.NewCollector(prometheus.NewRegistry())
	job := cleanup.NewCleanupJob(store, slog.Default(), collector)

	scheduler, err := cleanup.NewScheduler(job, cfg.CleanupSchedule, slog.Default())
	if err != nil {
		return err
	}

	slog.Info("worker starting", slog.String("cleanup_schedule", cfg.CleanupSchedule))
	scheduler.Start(ctx)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// 引数なしまたは"up"ですべての未適用マイグレーションを適用し、"down N"で直近N件を取り消す。
// "version"は適用済みバージョンを出力する。
func runMigrate(cfg *config.Config, args []string) error {
	dbURL := maskDatabaseURL(cfg.DatabaseURL)
	action := "up"
	if len(args) > 0 {
		action = args[0]
	}

	switch action {
	case "up":
		slog.Info("running database migrations", slog.String("database_url", dbURL))
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	case "down":
		steps := 1
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid rollback steps %q: %w", args[1], err)
			}
			steps = n
		}
		slog.Info("rolling back database migrations",
			slog.String("database_url", dbURL),
			slog.Int("steps", steps),
		)
		if err := database.RollbackMigrations(cfg.DatabaseURL, steps); err != nil {
			return fmt.Errorf("migration rollback failed: %w", err)
		}
	case "version":
	default:
		return fmt.Errorf("unknown migrate action %q (want up, down or version)", action)
	}

	version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// createAdminArgs はcreate-adminサブコマンドの引数を解析する。
// パスワードはシェル履歴に残さないためADMIN_PASSWORD環境変数から読む。
func createAdminArgs(args []string) (profile.AdminSeed, error) {
	fs := flag.NewFlagSet("create-admin", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var seed profile.AdminSeed
	fs.StringVar(&seed.Email, "email", "", "admin email address")
	fs.StringVar(&seed.Name, "name", "", "admin full name")
	fs.StringVar(&seed.Mobile, "mobile", "", "admin 10-digit mobile number")
	fs.StringVar(&seed.Address, "address", "", "admin address")
	if err := fs.Parse(args); err != nil {
		return seed, fmt.Errorf("invalid create-admin arguments: %w", err)
	}
	seed.Password = os.Getenv("ADMIN_PASSWORD")
	return seed, nil
}

// runCreateAdmin は初期管理者アカウントを作成する。
// 既存アカウントに対しては管理者フラグを立てるだけで、何度実行しても同じ結果になる。
func runCreateAdmin(ctx context.Context, cfg *config.Config, args []string) error {
	seed, err := createAdminArgs(args)
	if err != nil {
		return err
	}

	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	profileService := profile.NewService(
		repository.NewPostgresProfileRepo(db),
		validation.New(),
		security.NewSanitizer(),
	)
	seeder := profile.NewAdminSeeder(repository.NewPostgresIdentityRepo(db), profileService)

	p, created, err := seeder.Seed(ctx, seed)
	if err != nil {
		return fmt.Errorf("create-admin failed: %w", err)
	}

	slog.Info("admin account ready",
		slog.String("user_id", p.UserID),
		slog.String("email", identity.MaskEmail(p.Email)),
		slog.Bool("created", created),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードとクエリをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	u.RawQuery = ""
	return u.Redacted()
}
