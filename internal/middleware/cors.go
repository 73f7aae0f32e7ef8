package middleware

import "net/http"

// NewCORSMiddleware はフロントエンドのオリジンからのcredentials付きリクエストを許可するミドルウェアを返す。
// セッションCookieを送らせるため、許可ヘッダーは設定済みのオリジンと一致するリクエストにだけ付与する。
// 状態変更リクエストはCSRFトークンのヘッダーを伴うので、プリフライトでその送信を許可する。
func NewCORSMiddleware(allowedOrigin string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// オリジンごとに応答が変わるため、共有キャッシュにはOriginで区別させる
			w.Header().Add("Vary", "Origin")

			origin := r.Header.Get("Origin")
			if origin != "" && origin == allowedOrigin {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+csrfHeaderName)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}

			// プリフライトは許可の有無にかかわらず204で終える。不一致ならブラウザが本リクエストを止める
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
