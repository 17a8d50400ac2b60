// Package ai は画像や投稿文から出品の下書きを抽出する。
// OpenAI互換のchat completions APIを使用する。
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	// DefaultBaseURL はAI_BASE_URL未設定時のエンドポイント。
	DefaultBaseURL = "https://api.openai.com/v1"
	// DefaultModel はAI_MODEL未設定時のモデル名。
	DefaultModel = "gemini-2.5-flash"

	maxResponseSize = 4 * 1024 * 1024
)

// ErrEmptyResponse はモデルが応答候補を返さなかったことを表す。
var ErrEmptyResponse = errors.New("no choices in completion response")

// Message はchat completionsのメッセージ。
// Contentは文字列またはContentPartのスライス。
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// ContentPart はマルチモーダルメッセージの要素。
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL は画像のURLまたはdata URI。
type ImageURL struct {
	URL string `json:"url"`
}

// Completer はメッセージ列に対するモデルの応答テキストを返す。
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// ChatClient はOpenAI互換の/chat/completionsを呼び出すクライアント。
type ChatClient struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	model      string
}

// NewChatClient はChatClientを生成する。
// baseURLが/chat/completionsで終わっていない場合は付加する。
func NewChatClient(httpClient *http.Client, baseURL, apiKey, model string) *ChatClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}
	endpoint := strings.TrimSuffix(baseURL, "/")
	if !strings.HasSuffix(endpoint, "/chat/completions") {
		endpoint += "/chat/completions"
	}
	return &ChatClient{
		httpClient: httpClient,
		endpoint:   endpoint,
		apiKey:     apiKey,
		model:      model,
	}
}

// Complete はメッセージを送信し、最初の応答候補のテキストを返す。
func (c *ChatClient) Complete(ctx context.Context, messages []Message) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("completion request failed with status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return parsed.Choices[0].Message.Content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
