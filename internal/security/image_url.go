package security

import (
	"net/url"
	"strings"
)

// NormalizeImageURL は外部から取得した画像URLをクライアントに返せる形に整える。
// プロトコル相対URL（//host/path）はhttpsに補完する。
// http/https以外のスキーム、ホストのないURL、内部アドレスを指すURLは空文字を返す。
func NormalizeImageURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "//") {
		raw = "https:" + raw
	}

	parsed, err := url.Parse(raw)
	if err != nil || !isAllowedScheme(parsed.Scheme) {
		return ""
	}
	host := parsed.Hostname()
	if host == "" || checkHost(host) != nil {
		return ""
	}
	return raw
}
