package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Googleのエンドポイント。テストではGoogleOAuthConfigで差し替える。
const (
	defaultGoogleAuthURL     = "https://accounts.google.com/o/oauth2/auth"
	defaultGoogleTokenURL    = "https://oauth2.googleapis.com/token"
	defaultGoogleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"
)

// GoogleOAuthConfig はGoogleログインの設定。
type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	AuthURL     string
	TokenURL    string
	UserInfoURL string
}

// GoogleOAuthProvider は認可コードフローでGoogleアカウントの本人確認を行う。
// 得られたアカウントはメールアドレスでマーケットプレイスのユーザーに紐づけられる。
type GoogleOAuthProvider struct {
	config GoogleOAuthConfig
	client *http.Client
}

// NewGoogleOAuthProvider はGoogleOAuthProviderを生成する。
// clientがnilの場合はhttp.DefaultClientを使用する。
func NewGoogleOAuthProvider(config GoogleOAuthConfig, client *http.Client) *GoogleOAuthProvider {
	if client == nil {
		client = http.DefaultClient
	}
	if config.AuthURL == "" {
		config.AuthURL = defaultGoogleAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultGoogleTokenURL
	}
	if config.UserInfoURL == "" {
		config.UserInfoURL = defaultGoogleUserInfoURL
	}
	return &GoogleOAuthProvider{config: config, client: client}
}

// GetLoginURL はGoogleの同意画面のURLを返す。
// 出品者のプロフィール画像と連絡先に使うためemailとprofileを要求する。
func (p *GoogleOAuthProvider) GetLoginURL(state string) string {
	params := url.Values{
		"client_id":     {p.config.ClientID},
		"redirect_uri":  {p.config.RedirectURL},
		"response_type": {"code"},
		"scope":         {"openid email profile"},
		"state":         {state},
		"prompt":        {"select_account"},
	}
	return p.config.AuthURL + "?" + params.Encode()
}

type googleToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type googleProfile struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// ExchangeCode は認可コードをアクセストークンに交換し、Googleプロフィールを取得する。
// 未検証のメールアドレスはアカウントの紐づけに使えないためエラーにする。
func (p *GoogleOAuthProvider) ExchangeCode(ctx context.Context, code string) (*ExternalIdentity, error) {
	accessToken, err := p.exchangeToken(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	profile, err := p.fetchProfile(ctx, accessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}
	if profile.Email == "" || !profile.EmailVerified {
		return nil, fmt.Errorf("google account has no verified email")
	}

	return &ExternalIdentity{
		ID:      profile.Sub,
		Email:   profile.Email,
		Name:    profile.Name,
		Picture: profile.Picture,
	}, nil
}

func (p *GoogleOAuthProvider) exchangeToken(ctx context.Context, code string) (string, error) {
	form := url.Values{
		"code":          {code},
		"client_id":     {p.config.ClientID},
		"client_secret": {p.config.ClientSecret},
		"redirect_uri":  {p.config.RedirectURL},
		"grant_type":    {"authorization_code"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var token googleToken
	if err := doJSON(p.client, req, &token); err != nil {
		return "", err
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("empty access token in response")
	}
	return token.AccessToken, nil
}

func (p *GoogleOAuthProvider) fetchProfile(ctx context.Context, accessToken string) (*googleProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.UserInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	var profile googleProfile
	if err := doJSON(p.client, req, &profile); err != nil {
		return nil, err
	}
	if profile.Sub == "" {
		return nil, fmt.Errorf("empty sub in user info response")
	}
	return &profile, nil
}

// compile-time interface check
var _ OAuthProvider = (*GoogleOAuthProvider)(nil)
