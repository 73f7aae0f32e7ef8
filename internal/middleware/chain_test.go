package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/estate/internal/gate"
	"github.com/hitoshi/estate/internal/model"
)

// buildAdminChain はルーターと同じ順序でミドルウェアを組み立てる。
// Session → Gate(RequireAdmin) → RateLimit(General)
func buildAdminChain(profiles *mockProfileFinder, next http.Handler) (http.Handler, *RateLimiter) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	h := rl.GeneralMiddleware()(next)
	h = NewGateMiddleware(gate.RequireAdmin)(h)
	h = NewSessionMiddleware(backendWithSession("admin-token", "admin-1"), profiles, SessionConfig{})(h)
	return h, rl
}

// TestMiddlewareChain_Admin は管理者ルートに対する一連のミドルウェアの判定を検証する。
func TestMiddlewareChain_Admin(t *testing.T) {
	adminProfiles := &mockProfileFinder{
		findByUserIDFn: func(_ context.Context, userID string) (*model.Profile, error) {
			return &model.Profile{UserID: userID, IsAdmin: true}, nil
		},
	}
	memberProfiles := &mockProfileFinder{
		findByUserIDFn: func(_ context.Context, userID string) (*model.Profile, error) {
			return &model.Profile{UserID: userID}, nil
		},
	}

	tests := []struct {
		name         string
		profiles     *mockProfileFinder
		cookie       string
		wantStatus   int
		wantRedirect string
	}{
		{"管理者は通過", adminProfiles, "admin-token", http.StatusOK, ""},
		{"一般ユーザーは403", memberProfiles, "admin-token", http.StatusForbidden, gate.UserHomePath},
		{"プロフィール未作成は403", &mockProfileFinder{}, "admin-token", http.StatusForbidden, gate.UserHomePath},
		{"未認証は401", adminProfiles, "", http.StatusUnauthorized, "/login?from=%2Fapi%2Fadmin%2Finquiries%3Fstatus%3Dpending"},
		{"無効なトークンは401", adminProfiles, "stale", http.StatusUnauthorized, "/login?from=%2Fapi%2Fadmin%2Finquiries%3Fstatus%3Dpending"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var capturedUserID string
			handler, rl := buildAdminChain(tt.profiles, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				capturedUserID, _ = UserIDFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			}))
			defer rl.Stop()

			req := httptest.NewRequest(http.MethodGet, "/api/admin/inquiries?status=pending", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: tt.cookie})
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusOK {
				if capturedUserID != "admin-1" {
					t.Errorf("userID = %q, want admin-1", capturedUserID)
				}
				if rl.GeneralLimiterCount() != 1 {
					t.Errorf("limiter count = %d, want 1", rl.GeneralLimiterCount())
				}
				return
			}

			var body GateResponseBody
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			if body.RedirectTo != tt.wantRedirect {
				t.Errorf("redirect_to = %q, want %q", body.RedirectTo, tt.wantRedirect)
			}
			if rl.GeneralLimiterCount() != 0 {
				t.Error("rejected request should not reach the rate limiter")
			}
		})
	}
}
