package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/authhub/internal/admin"
	"github.com/hitoshi/authhub/internal/auth"
	"github.com/hitoshi/authhub/internal/config"
	"github.com/hitoshi/authhub/internal/database"
	"github.com/hitoshi/authhub/internal/handler"
	"github.com/hitoshi/authhub/internal/logger"
	"github.com/hitoshi/authhub/internal/metrics"
	"github.com/hitoshi/authhub/internal/middleware"
	"github.com/hitoshi/authhub/internal/password"
	"github.com/hitoshi/authhub/internal/repository"
	"github.com/hitoshi/authhub/internal/security"
	"github.com/hitoshi/authhub/internal/session"
	"github.com/hitoshi/authhub/internal/token"
	"github.com/hitoshi/authhub/internal/worker/cleanup"

	"golang.org/x/time/rate"
)

// oauthClientTimeout はOAuthプロバイダーへの外向きリクエストのタイムアウト。
const oauthClientTimeout = 10 * time.Second

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

	// リフレッシュシークレットのフォールバックは鍵分離を弱めるため警告する
	if cfg.RefreshSecretSource != config.RefreshSecretDedicated {
		slog.Warn("JWT_REFRESH_SECRET is not set; falling back to a shared secret weakens key separation",
			slog.String("refresh_secret_source", string(cfg.RefreshSecretSource)),
		)
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
			port = "8000"
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
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// buildProviders は設定済みのOAuthプロバイダーのみを構築する。
// 未設定のプロバイダーはマップに含めない（能力セット方式）。
// 各プロバイダーの外向きエンドポイントは構築時に安全性を検証し、
// ブロック対象のURLが含まれる場合は起動を中止する。
func buildProviders(cfg *config.Config, guard security.OutboundGuardService) (map[string]auth.OAuthProvider, error) {
	client := guard.NewSafeClient(oauthClientTimeout)
	providers := make(map[string]auth.OAuthProvider)

	if cfg.GoogleEnabled() {
		p := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
			HTTPClient:   client,
		})
		if err := validateProviderEndpoints(guard, p.Name(), p.Endpoints()); err != nil {
			return nil, err
		}
		providers[p.Name()] = p
	}
	if cfg.GitHubEnabled() {
		p := auth.NewGitHubOAuthProvider(auth.GitHubOAuthConfig{
			ClientID:     cfg.GitHubClientID,
			ClientSecret: cfg.GitHubClientSecret,
			RedirectURL:  cfg.GitHubRedirectURL,
			HTTPClient:   client,
		})
		if err := validateProviderEndpoints(guard, p.Name(), p.Endpoints()); err != nil {
			return nil, err
		}
		providers[p.Name()] = p
	}

	return providers, nil
}

// validateProviderEndpoints はプロバイダーの外向きエンドポイントURLを検証する。
// DNS再バインディング対策はSafeClient側のDialer検証が担うため、
// ここでは設定ミスを早期に検出するための静的検証を行う。
func validateProviderEndpoints(guard security.OutboundGuardService, providerName string, endpoints []string) error {
	for _, endpoint := range endpoints {
		if err := guard.ValidateEndpoint(endpoint); err != nil {
			return fmt.Errorf("oauth provider %s has unsafe endpoint %s: %w", providerName, endpoint, err)
		}
	}
	return nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	loginLogRepo := repository.NewPostgresLoginLogRepo(db)
	activityRepo := repository.NewPostgresAdminActivityRepo(db)

	// 3. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. セキュリティサービスの初期化
	outboundGuard := security.NewOutboundGuard()
	nameSanitizer := security.NewNameSanitizer()

	// 5. トークン・セッション基盤の初期化
	tokenManager, err := token.NewManager(token.Config{
		AccessSecret:  []byte(cfg.AccessSecret),
		RefreshSecret: []byte(cfg.RefreshSecret),
		AccessTTL:     cfg.AccessTokenTTL,
		RefreshTTL:    cfg.RefreshTokenTTL,
	})
	if err != nil {
		return fmt.Errorf("failed to create token manager: %w", err)
	}

	hasher := password.NewHasher()
	sessionEngine := session.NewEngine(userRepo, hasher, tokenManager)

	// 6. ドメインサービスの初期化
	// プロバイダーへの外向きリクエストはSSRFガード付きクライアントを通す
	providers, err := buildProviders(cfg, outboundGuard)
	if err != nil {
		return fmt.Errorf("failed to build oauth providers: %w", err)
	}
	authService := auth.NewService(
		providers, userRepo, loginLogRepo,
		hasher, sessionEngine, nameSanitizer, collector,
		cfg.AdminSecretKey,
	)
	adminService := admin.NewService(userRepo, loginLogRepo, activityRepo, hasher)

	// 7. ルーターの構築
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	rateLimiterCfg.LoginRate = rate.Limit(float64(cfg.RateLimitLogin) / 60.0)
	rateLimiterCfg.LoginBurst = cfg.RateLimitLogin
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		AccessVerifier:    tokenManager,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			FrontendURL:   cfg.FrontendURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			RefreshMaxAge: cfg.RefreshTokenTTL,
			AccessMaxAge:  cfg.AccessTokenTTL,
		},
		AdminService: adminService,

		DB:       db,
		Gatherer: registry,
		Metrics:  collector,
	}

	router := handler.NewRouter(deps)

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// ログイン試行ログの保持期間運用ジョブを日次で実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. 依存の初期化
	loginLogRepo := repository.NewPostgresLoginLogRepo(db)
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	cleanupJob := cleanup.NewCleanupJob(loginLogRepo, collector, slog.Default())
	cleanupJob.RetentionDays = cfg.LogRetentionDays

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Int("log_retention_days", cfg.LogRetentionDays),
	)

	// クリーンアップジョブを日次で実行（起動直後に1回実行）
	if err := cleanupJob.Run(ctx); err != nil {
		slog.Error("cleanup job failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped gracefully")
			return nil
		case <-ticker.C:
			if err := cleanupJob.Run(ctx); err != nil {
				slog.Error("cleanup job failed", slog.String("error", err.Error()))
			}
		}
	}
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
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
