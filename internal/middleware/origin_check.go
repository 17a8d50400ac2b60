package middleware

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/pasarmalam/internal/model"
)

// NewOriginCheckMiddleware はCookie認証の状態変更リクエストに対してOriginを検証するミドルウェアを返す。
// フロントエンドは別オリジンで動作しSameSite=NoneのCookieを使うため、
// 許可オリジン以外からのPOST/PUT/PATCH/DELETEを403で拒否する。
// Bearerトークンのみで認証するリクエストやCookieを持たないリクエストは検証しない。
func NewOriginCheckMiddleware(allowedOrigins []string) func(next http.Handler) http.Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[strings.TrimRight(o, "/")] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			if cookie, err := r.Cookie(SessionCookieName); err != nil || cookie.Value == "" {
				next.ServeHTTP(w, r)
				return
			}

			origin := requestOrigin(r)
			if origin == "" || !allowed[origin] {
				slog.Warn("origin check failed",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("origin", origin),
				)
				WriteErrorResponse(w, http.StatusForbidden, model.NewCrossOriginError())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// requestOrigin はOriginヘッダー、なければRefererのオリジン部分を返す。
func requestOrigin(r *http.Request) string {
	if origin := r.Header.Get("Origin"); origin != "" {
		return origin
	}
	ref := r.Header.Get("Referer")
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// isSafeMethod はHTTPメソッドが安全（読み取り専用）かどうかを判定する。
func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}
