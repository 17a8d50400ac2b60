// Package bgg はBoardGameGeekからボードゲームのメタデータを検索する。
// XML APIとHTMLスクレイピングを順に試し、失敗は空または部分的な結果として扱う。
package bgg

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	// DefaultAPIBaseURL はBGG XML API2のベースURL。
	DefaultAPIBaseURL = "https://boardgamegeek.com/xmlapi2"
	// DefaultSiteBaseURL はBGGのWebサイトのベースURL。
	DefaultSiteBaseURL = "https://boardgamegeek.com"

	// maxBodySize はレスポンスボディの最大読み取りサイズ（2MB）。
	maxBodySize = 2 * 1024 * 1024
	userAgent   = "PasarMalam/1.0"
)

// errStatus は2xx以外のHTTPステータスを表す。
type errStatus struct {
	url    string
	status int
}

func (e *errStatus) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.status, e.url)
}

// Client はBGGへのHTTPアクセスを共通化する。
// 各検索・詳細取得の戦略はこのClientを共有する。
type Client struct {
	httpClient *http.Client
	apiBase    string
	siteBase   string
}

// NewClient はClientを生成する。ベースURLが空の場合はデフォルト値を使う。
func NewClient(httpClient *http.Client, apiBase, siteBase string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if apiBase == "" {
		apiBase = DefaultAPIBaseURL
	}
	if siteBase == "" {
		siteBase = DefaultSiteBaseURL
	}
	return &Client{
		httpClient: httpClient,
		apiBase:    strings.TrimRight(apiBase, "/"),
		siteBase:   strings.TrimRight(siteBase, "/"),
	}
}

// get は指定URLを取得し、ステータスコードとボディを返す。
// 2xx以外のステータスは*errStatusとして返す（202はボディなしで成功扱い）。
func (c *Client) get(ctx context.Context, rawURL string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request to %s failed: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, nil, &errStatus{url: rawURL, status: resp.StatusCode}
	}
	if resp.StatusCode == http.StatusAccepted {
		return resp.StatusCode, nil, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, body, nil
}
