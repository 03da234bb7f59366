package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/authhub/internal/admin"
	"github.com/hitoshi/authhub/internal/middleware"
	"github.com/hitoshi/authhub/internal/model"
)

// AdminServiceInterface は管理ハンドラーが必要とするサービスインターフェース。
type AdminServiceInterface interface {
	DashboardStats(ctx context.Context) (*admin.DashboardStats, error)
	ListUsers(ctx context.Context, page, limit int) ([]*model.User, *admin.Pagination, error)
	UpdateRole(ctx context.Context, adminID, targetID, newRole string) (*model.User, error)
	UpdatePassword(ctx context.Context, adminID, targetID, newPassword string) error
	UpdateProfile(ctx context.Context, adminID, targetID string, input admin.ProfileInput) (*model.User, error)
	DeleteUser(ctx context.Context, adminID, targetID string) error
	ListLogs(ctx context.Context, success *bool, page, limit int) ([]model.LoginLogWithUser, *admin.Pagination, error)
}

// AdminHandler は管理者向けのHTTPハンドラー。
// 全エンドポイントは認証ミドルウェアとAdminロール要求の後段に配置される。
type AdminHandler struct {
	service AdminServiceInterface
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(service AdminServiceInterface) *AdminHandler {
	return &AdminHandler{service: service}
}

// updateRoleRequest はロール変更リクエストのボディ。
type updateRoleRequest struct {
	Role string `json:"role"`
}

// updatePasswordRequest はパスワード更新リクエストのボディ。
type updatePasswordRequest struct {
	Password string `json:"password"`
}

// updateProfileRequest はプロフィール部分更新リクエストのボディ。
type updateProfileRequest struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
}

// loginLogResponse はログイン試行ログのAPIレスポンス。
type loginLogResponse struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId,omitempty"`
	Email     string    `json:"email"`
	Provider  string    `json:"provider"`
	IP        string    `json:"ip"`
	UserAgent string    `json:"userAgent"`
	Success   bool      `json:"success"`
	UserEmail string    `json:"userEmail,omitempty"`
	UserRole  string    `json:"userRole,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Dashboard はダッシュボードの集計値を返す。
// GET /api/admin/data
func (h *AdminHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.DashboardStats(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{
		"users":          stats.TotalUsers,
		"recentLogins":   stats.RecentLogins,
		"securityAlerts": stats.SecurityAlerts,
	})
}

// ListUsers はユーザー一覧をページ分割で返す。
// GET /api/admin/users?page&limit
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	page, limit := parsePageParams(r)

	users, pagination, err := h.service.ListUsers(r.Context(), page, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	results := make([]userResponse, len(users))
	for i, user := range users {
		results[i] = toUserResponse(user)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"users":      results,
		"page":       pagination.Page,
		"limit":      pagination.Limit,
		"total":      pagination.Total,
		"totalPages": pagination.TotalPages,
	})
}

// UpdateRole は指定ユーザーのロールを変更する。
// PATCH /api/admin/users/{id}/role
func (h *AdminHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	adminID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError(""))
		return
	}

	var req updateRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("Invalid request body"))
		return
	}

	user, err := h.service.UpdateRole(r.Context(), adminID, chi.URLParam(r, "id"), req.Role)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Role updated successfully",
		"user":    toUserResponse(user),
	})
}

// UpdatePassword は指定ユーザーのパスワードを更新する。
// PATCH /api/admin/users/{id}/password
func (h *AdminHandler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	adminID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError(""))
		return
	}

	var req updatePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("Invalid request body"))
		return
	}

	if err := h.service.UpdatePassword(r.Context(), adminID, chi.URLParam(r, "id"), req.Password); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Password updated successfully",
	})
}

// UpdateProfile は指定ユーザーの名前・メールアドレスを部分更新する。
// PATCH /api/admin/users/{id}
func (h *AdminHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	adminID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError(""))
		return
	}

	var req updateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("Invalid request body"))
		return
	}

	user, err := h.service.UpdateProfile(r.Context(), adminID, chi.URLParam(r, "id"), admin.ProfileInput{
		Name:  req.Name,
		Email: req.Email,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "User updated successfully",
		"user":    toUserResponse(user),
	})
}

// DeleteUser は指定ユーザーを削除する。
// DELETE /api/admin/users/{id}
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	adminID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError(""))
		return
	}

	if err := h.service.DeleteUser(r.Context(), adminID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "User deleted successfully",
	})
}

// ListLogs はログイン試行ログをページ分割で返す。
// GET /api/admin/logs?page&limit&success
func (h *AdminHandler) ListLogs(w http.ResponseWriter, r *http.Request) {
	page, limit := parsePageParams(r)

	var success *bool
	if raw := r.URL.Query().Get("success"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("Invalid success filter"))
			return
		}
		success = &parsed
	}

	logs, pagination, err := h.service.ListLogs(r.Context(), success, page, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	results := make([]loginLogResponse, len(logs))
	for i, entry := range logs {
		results[i] = loginLogResponse{
			ID:        entry.ID,
			UserID:    entry.UserID,
			Email:     entry.Email,
			Provider:  entry.Provider,
			IP:        entry.IP,
			UserAgent: entry.UserAgent,
			Success:   entry.Success,
			UserEmail: entry.UserEmail,
			UserRole:  string(entry.UserRole),
			CreatedAt: entry.CreatedAt,
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"logs":       results,
		"page":       pagination.Page,
		"limit":      pagination.Limit,
		"total":      pagination.Total,
		"totalPages": pagination.TotalPages,
	})
}

// parsePageParams はクエリからページ番号と件数を取り出す。
// 不正な値はサービス層のクランプに任せるため0を返す。
func parsePageParams(r *http.Request) (int, int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return page, limit
}
