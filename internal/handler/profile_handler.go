package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/estate/internal/middleware"
	"github.com/hitoshi/estate/internal/model"
	"github.com/hitoshi/estate/internal/profile"
	"github.com/hitoshi/estate/internal/session"
)

// ProfileServiceInterface はプロフィールハンドラーが必要とするサービスインターフェース。*profile.Serviceが実装する。
type ProfileServiceInterface interface {
	CompleteOnboarding(ctx context.Context, user *model.Identity, req profile.OnboardingRequest) (*model.Profile, error)
	UpdateMe(ctx context.Context, userID string, req profile.UpdateRequest) (*model.Profile, error)
	SetAdmin(ctx context.Context, userID string, isAdmin bool) error
}

// ProfileHandler はプロフィール管理のHTTPハンドラー。
type ProfileHandler struct {
	service ProfileServiceInterface
}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler(service ProfileServiceInterface) *ProfileHandler {
	return &ProfileHandler{service: service}
}

type setAdminRequest struct {
	IsAdmin bool `json:"is_admin"`
}

// Onboarding はプロフィール未作成のユーザーのプロフィールを作成する。
// 作成後はSession Managerのプロフィールを再解決する。
// POST /api/profile/onboarding
func (h *ProfileHandler) Onboarding(w http.ResponseWriter, r *http.Request) {
	user := session.ViewFromContext(r.Context()).CurrentUser()
	if user == nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req profile.OnboardingRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := h.service.CompleteOnboarding(r.Context(), user, req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	if m, ok := session.ManagerFromContext(r.Context()); ok {
		m.Reload(r.Context())
	}
	writeJSON(w, http.StatusCreated, toProfileResponse(p))
}

// UpdateMe は自分のプロフィールを更新する。
// PUT /api/profile/me
func (h *ProfileHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req profile.UpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := h.service.UpdateMe(r.Context(), userID, req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(p))
}

// SetAdmin は指定ユーザーの管理者権限を切り替える。
// PUT /api/admin/profiles/{userID}/admin
func (h *ProfileHandler) SetAdmin(w http.ResponseWriter, r *http.Request) {
	var req setAdminRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.SetAdmin(r.Context(), chi.URLParam(r, "userID"), req.IsAdmin); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
