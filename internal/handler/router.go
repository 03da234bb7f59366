package handler

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/authhub/internal/metrics"
	"github.com/hitoshi/authhub/internal/middleware"
	"github.com/hitoshi/authhub/internal/model"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	AccessVerifier    middleware.AccessVerifier
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// サービス
	AuthService  AuthServiceInterface
	AuthConfig   AuthHandlerConfig
	AdminService AdminServiceInterface

	// 運用系
	DB       *sql.DB
	Gatherer prometheus.Gatherer
	Metrics  middleware.StatusRecorder
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Metrics
//	認証エンドポイント: + RateLimit(Login, IP単位)
//	保護エンドポイント: + Auth → RateLimit(General, ユーザー単位)
//	管理エンドポイント: + RequireRoles(Admin)
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	if deps.Metrics != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.Metrics))
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	adminHandler := NewAdminHandler(deps.AdminService)

	authMW := middleware.NewAuthMiddleware(deps.AccessVerifier)
	adminOnly := middleware.NewRequireRolesMiddleware(model.RoleAdmin)

	r.Route("/api/auth", func(r chi.Router) {
		// 認証前エンドポイント: ブルートフォース対策のIP単位レート制限
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.LoginMiddleware())
			r.Post("/signup", authHandler.Signup)
			r.Post("/login", authHandler.Login)
			r.Post("/refresh", authHandler.Refresh)
		})

		r.Post("/logout", authHandler.Logout)
		r.Get("/oauth/status", authHandler.OAuthStatus)

		// 認証が必要なエンドポイント
		r.Group(func(r chi.Router) {
			r.Use(authMW)
			r.Use(deps.RateLimiter.GeneralMiddleware())
			r.Get("/me", authHandler.Me)
		})

		// OAuthフロー
		r.Route("/{provider}", func(r chi.Router) {
			r.Get("/", authHandler.OAuthLogin)
			r.Get("/callback", authHandler.OAuthCallback)
			r.Get("/fail", authHandler.OAuthFail)
		})
	})

	// 管理エンドポイント: 認証 + Adminロール必須
	r.Route("/api/admin", func(r chi.Router) {
		r.Use(authMW)
		r.Use(adminOnly)
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/data", adminHandler.Dashboard)
		r.Get("/logs", adminHandler.ListLogs)

		r.Route("/users", func(r chi.Router) {
			r.Get("/", adminHandler.ListUsers)

			r.Route("/{id}", func(r chi.Router) {
				r.Patch("/", adminHandler.UpdateProfile)
				r.Patch("/role", adminHandler.UpdateRole)
				r.Patch("/password", adminHandler.UpdatePassword)
				r.Delete("/", adminHandler.DeleteUser)
			})
		})
	})

	// 運用系エンドポイント
	r.Get("/health", NewHealthHandler(deps.DB))
	if deps.Gatherer != nil {
		r.Get("/metrics", metrics.Handler(deps.Gatherer).ServeHTTP)
	}

	return r
}

// NewHealthHandler はDB疎通を確認するヘルスチェックハンドラーを返す。
func NewHealthHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "unhealthy",
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
		})
	}
}
