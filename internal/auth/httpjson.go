package auth

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxProviderResponseSize は外部IdPレスポンスの読み込み上限。
const maxProviderResponseSize = 1 << 20

// doJSON はリクエストを送信し、2xxレスポンスのボディをoutにデコードする。
// 2xx以外のステータスはボディの先頭を含むエラーになる。
func doJSON(client *http.Client, req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", req.URL.Host, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read response from %s: %w", req.URL.Host, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s responded with status %d: %s", req.URL.Host, resp.StatusCode, truncate(body, 200))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response from %s: %w", req.URL.Host, err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
