package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/estate/internal/gate"
	"github.com/hitoshi/estate/internal/model"
	"github.com/hitoshi/estate/internal/session"
)

// waitRetryAfterSeconds は初期化中の場合に返すRetry-Afterの秒数。
const waitRetryAfterSeconds = "1"

// GateCheck はアクセス判定関数。gate.RequireAuthenticatedまたはgate.RequireAdmin。
type GateCheck func(view session.View, requestedPath string) gate.Decision

// GateResponseBody はゲートで拒否した場合のレスポンス。
type GateResponseBody struct {
	ErrorResponseBody
	RedirectTo string `json:"redirect_to"`
}

// NewGateMiddleware はアクセス判定をHTTPレスポンスに変換するミドルウェアを返す。
// 初期化中は503（Retry-After付き）、未認証は401、権限不足は403を返し、
// 誘導先をredirect_toに含める。セッションミドルウェアの後に配置する。
func NewGateMiddleware(check GateCheck) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := check(session.ViewFromContext(r.Context()), r.URL.RequestURI())

			switch d.Outcome {
			case gate.Allow:
				next.ServeHTTP(w, r)
			case gate.Wait:
				w.Header().Set("Retry-After", waitRetryAfterSeconds)
				WriteErrorResponse(w, http.StatusServiceUnavailable, &model.APIError{
					Code:     model.ErrCodeServiceUnavailable,
					Message:  "Session is still being resolved",
					Category: "system",
					Action:   "Please retry in a moment.",
				})
			case gate.RedirectLogin:
				writeGateResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError(), d.RedirectTo())
			default:
				writeGateResponse(w, http.StatusForbidden, model.NewForbiddenError(), d.RedirectTo())
			}
		})
	}
}

func writeGateResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError, redirectTo string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(GateResponseBody{
		ErrorResponseBody: ErrorResponseBody{
			Code:     apiErr.Code,
			Message:  apiErr.Message,
			Category: apiErr.Category,
			Action:   apiErr.Action,
		},
		RedirectTo: redirectTo,
	})
}
