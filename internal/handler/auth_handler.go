// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hitoshi/estate/internal/auth"
	"github.com/hitoshi/estate/internal/gate"
	"github.com/hitoshi/estate/internal/identity"
	"github.com/hitoshi/estate/internal/middleware"
	"github.com/hitoshi/estate/internal/model"
	"github.com/hitoshi/estate/internal/session"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。*auth.Serviceが実装する。
type AuthServiceInterface interface {
	Register(ctx context.Context, ic auth.IdentityClient, local auth.ProfileReloader, req auth.RegisterRequest) (*auth.RegisterResult, error)
	SignIn(ctx context.Context, ic auth.IdentityClient, identifier, password string) (*identity.Session, error)
	SignOut(ctx context.Context, ic auth.IdentityClient, local auth.LocalSession)
	ResetPassword(ctx context.Context, ic auth.IdentityClient, email, redirectTo string) error
	UpdatePassword(ctx context.Context, ic auth.IdentityClient, req auth.UpdatePasswordRequest) (*identity.Session, error)
	ConfirmEmail(ctx context.Context, ic auth.IdentityClient, token string) (*identity.Session, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL string // メール確認後のリダイレクト先の基準URL
}

// AuthHandler は登録・ログイン関連のHTTPハンドラー。
// 認証クライアントはセッションミドルウェアがリクエストごとに生成したものを使う。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type resetPasswordRequest struct {
	Email      string `json:"email"`
	RedirectTo string `json:"redirect_to"`
}

type registerResponse struct {
	UserID               string           `json:"user_id"`
	ConfirmationRequired bool             `json:"confirmation_required"`
	OnboardingRequired   bool             `json:"onboarding_required"`
	Profile              *profileResponse `json:"profile"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// meResponse は現在の認証状態のレスポンス。
type meResponse struct {
	User               *identityResponse `json:"user"`
	Profile            *profileResponse  `json:"profile"`
	IsAdmin            bool              `json:"is_admin"`
	OnboardingRequired bool              `json:"onboarding_required"`
}

func toMeResponse(view session.View) meResponse {
	return meResponse{
		User:               toIdentityResponse(view.CurrentUser()),
		Profile:            toProfileResponse(view.CurrentProfile()),
		IsAdmin:            view.IsAdmin(),
		OnboardingRequired: view.OnboardingRequired(),
	}
}

// Register はアカウントを登録する。
// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	client, ok := requestClient(w, r)
	if !ok {
		return
	}

	var req auth.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var local auth.ProfileReloader
	if m, ok := session.ManagerFromContext(r.Context()); ok {
		local = m
	}
	result, err := h.service.Register(r.Context(), client, local, req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, registerResponse{
		UserID:               result.UserID,
		ConfirmationRequired: result.ConfirmationRequired,
		OnboardingRequired:   result.Profile == nil,
		Profile:              toProfileResponse(result.Profile),
	})
}

// Login はメールアドレスまたは携帯番号とパスワードでサインインする。
// 成功するとセッションCookieが設定され、Session Managerの状態を返す。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	client, ok := requestClient(w, r)
	if !ok {
		return
	}

	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if _, err := h.service.SignIn(r.Context(), client, req.Identifier, req.Password); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toMeResponse(session.ViewFromContext(r.Context())))
}

// Logout はセッションを破棄する。リモートの破棄に失敗しても常に204を返す。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	client, ok := requestClient(w, r)
	if !ok {
		return
	}

	var local auth.LocalSession
	if m, ok := session.ManagerFromContext(r.Context()); ok {
		local = m
	}
	h.service.SignOut(r.Context(), client, local)

	w.WriteHeader(http.StatusNoContent)
}

// ResetPassword はパスワード再設定メールを送信する。
// 登録の有無を推測されないよう、未登録のメールアドレスでも同じ応答を返す。
// POST /auth/password/reset
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	client, ok := requestClient(w, r)
	if !ok {
		return
	}

	var req resetPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.ResetPassword(r.Context(), client, req.Email, req.RedirectTo); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, messageResponse{
		Message: "If an account exists for this email, a password reset link has been sent.",
	})
}

// UpdatePassword は再設定トークンで新しいパスワードを設定し、サインインする。
// POST /auth/password/update
func (h *AuthHandler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	client, ok := requestClient(w, r)
	if !ok {
		return
	}

	var req auth.UpdatePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if _, err := h.service.UpdatePassword(r.Context(), client, req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toMeResponse(session.ViewFromContext(r.Context())))
}

// Confirm はメール内の確認リンクを処理し、フロントエンドにリダイレクトする。
// 失敗した場合はエラーコードを付けてログイン画面に誘導する。
// GET /auth/confirm?token=xxx
func (h *AuthHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	client, ok := requestClient(w, r)
	if !ok {
		return
	}

	_, err := h.service.ConfirmEmail(r.Context(), client, r.URL.Query().Get("token"))
	if err != nil {
		code := model.ErrCodeInvalidToken
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			code = apiErr.Code
		}
		slog.Warn("email confirmation failed", slog.String("code", code))
		http.Redirect(w, r, h.config.BaseURL+gate.LoginPath+"?error="+url.QueryEscape(code), http.StatusTemporaryRedirect)
		return
	}

	http.Redirect(w, r, h.config.BaseURL+gate.UserHomePath, http.StatusTemporaryRedirect)
}

// Me は現在のログインユーザー、プロフィール、オンボーディング要否を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	view := session.ViewFromContext(r.Context())
	if !view.IsAuthenticated() {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}
	writeJSON(w, http.StatusOK, toMeResponse(view))
}

// requestClient はセッションミドルウェアが注入した認証クライアントを取得する。
func requestClient(w http.ResponseWriter, r *http.Request) (*identity.Client, bool) {
	client, ok := middleware.ClientFromContext(r.Context())
	if !ok {
		slog.Error("identity client missing from request context", slog.String("path", r.URL.Path))
		middleware.WriteInternalServerError(w)
		return nil, false
	}
	return client, true
}
