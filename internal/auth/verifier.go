package auth

import (
	"context"
	"fmt"
	"net/http"
)

// ExternalIdentity は外部IdPが検証したユーザー情報を表す。
// セッション交換とGoogleログインの両方がこの形で結果を返す。
type ExternalIdentity struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// IdentityVerifier は外部IdPのセッショントークンを検証するインターフェース。
type IdentityVerifier interface {
	// Verify は外部トークンを検証し、ユーザー情報を返す。
	Verify(ctx context.Context, externalToken string) (*ExternalIdentity, error)
}

// HTTPIdentityVerifier はX-Session-IDヘッダーで外部IdPに問い合わせる検証器。
type HTTPIdentityVerifier struct {
	client   *http.Client
	endpoint string
}

// NewHTTPIdentityVerifier はHTTPIdentityVerifierを生成する。
func NewHTTPIdentityVerifier(client *http.Client, endpoint string) *HTTPIdentityVerifier {
	return &HTTPIdentityVerifier{client: client, endpoint: endpoint}
}

// Verify は外部IdPのセッションデータエンドポイントを呼び出す。
// 2xx以外のレスポンスやメールアドレスを含まないレスポンスはエラーになる。
func (v *HTTPIdentityVerifier) Verify(ctx context.Context, externalToken string) (*ExternalIdentity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create verifier request: %w", err)
	}
	req.Header.Set("X-Session-ID", externalToken)

	var identity ExternalIdentity
	if err := doJSON(v.client, req, &identity); err != nil {
		return nil, fmt.Errorf("verifier rejected session: %w", err)
	}
	if identity.Email == "" {
		return nil, fmt.Errorf("verifier response has no email")
	}
	return &identity, nil
}

// compile-time interface check
var _ IdentityVerifier = (*HTTPIdentityVerifier)(nil)
