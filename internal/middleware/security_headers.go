package middleware

import "net/http"

// NewSecurityHeadersMiddleware はJSON APIの応答に付与するセキュリティヘッダーのミドルウェアを返す。
// 応答はHTMLとして描画されない前提のため、CSPですべての読み込みとフレーム埋め込みを禁止する。
// プロフィールや問い合わせなどの個人情報を含むため、中間キャッシュにも保存させない。
func NewSecurityHeadersMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Cache-Control", "no-store")
			next.ServeHTTP(w, r)
		})
	}
}
