// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/pasarmalam/internal/middleware"
	"github.com/hitoshi/pasarmalam/internal/model"
)

const oauthStateCookie = "oauth_state"

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Register(ctx context.Context, email, password, displayName string) (*model.User, *model.Session, error)
	Login(ctx context.Context, email, password string) (*model.User, *model.Session, error)
	ExchangeExternalSession(ctx context.Context, externalToken string) (*model.User, *model.Session, error)
	LegacyLogin(ctx context.Context, displayName string) (*model.User, *model.Session, error)
	Logout(ctx context.Context, token string) error
	UpdateProfile(ctx context.Context, token string, update model.ProfileUpdate) (*model.User, error)

	OAuthEnabled() bool
	GetLoginURL(state string) string
	HandleGoogleCallback(ctx context.Context, code string) (*model.User, *model.Session, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL       string
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

// userResponse はユーザー情報のAPIレスポンス。パスワードハッシュは含めない。
type userResponse struct {
	ID           string    `json:"id"`
	DisplayName  string    `json:"displayName"`
	Email        string    `json:"email,omitempty"`
	Phone        string    `json:"phone"`
	FacebookLink string    `json:"facebookLink"`
	Image        string    `json:"image"`
	AuthProvider string    `json:"authProvider"`
	CreatedAt    time.Time `json:"createdAt"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:           u.ID,
		DisplayName:  u.DisplayName,
		Email:        u.EmailValue(),
		Phone:        u.Phone,
		FacebookLink: u.FacebookLink,
		Image:        u.Image,
		AuthProvider: string(u.AuthProvider),
		CreatedAt:    u.CreatedAt.UTC(),
	}
}

// authResponse はCookieセッションを発行する認証APIのレスポンス。
type authResponse struct {
	User   userResponse `json:"user"`
	Status string       `json:"status"`
}

// legacyLoginResponse は表示名ログインのレスポンス。トークンはBearerとして使う。
type legacyLoginResponse struct {
	User  userResponse `json:"user"`
	Token string       `json:"token"`
}

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type exchangeSessionRequest struct {
	SessionID string `json:"session_id"`
}

type legacyLoginRequest struct {
	DisplayName string `json:"displayName"`
}

type profileRequest struct {
	DisplayName     *string `json:"displayName"`
	Email           *string `json:"email"`
	Phone           *string `json:"phone"`
	FacebookLink    *string `json:"facebookLink"`
	Password        *string `json:"password"`
	CurrentPassword *string `json:"currentPassword"`
	Image           *string `json:"image"`
}

// RegisterEmail はメールアドレスとパスワードでユーザーを登録する。
// POST /api/auth/register-email
func (h *AuthHandler) RegisterEmail(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	user, session, err := h.service.Register(r.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.setSessionCookie(w, session)
	writeJSON(w, http.StatusOK, authResponse{User: toUserResponse(user), Status: "success"})
}

// LoginEmail はメールアドレスとパスワードでログインする。
// POST /api/auth/login-email
func (h *AuthHandler) LoginEmail(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	user, session, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.setSessionCookie(w, session)
	writeJSON(w, http.StatusOK, authResponse{User: toUserResponse(user), Status: "success"})
}

// ExchangeSession は外部IdPのセッションIDをローカルセッションに交換する。
// POST /api/auth/exchange-session
func (h *AuthHandler) ExchangeSession(w http.ResponseWriter, r *http.Request) {
	var req exchangeSessionRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	user, session, err := h.service.ExchangeExternalSession(r.Context(), req.SessionID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.setSessionCookie(w, session)
	writeJSON(w, http.StatusOK, authResponse{User: toUserResponse(user), Status: "success"})
}

// LoginLegacy は表示名のみでログインし、セッショントークンをボディで返す。
// POST /api/auth/login-legacy, POST /api/auth/login
func (h *AuthHandler) LoginLegacy(w http.ResponseWriter, r *http.Request) {
	var req legacyLoginRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	user, session, err := h.service.LegacyLogin(r.Context(), req.DisplayName)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, legacyLoginResponse{User: toUserResponse(user), Token: session.Token})
}

// Me は現在のログインユーザー情報を返す。
// GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// Logout はセッションを破棄しCookieをクリアする。未ログインでも成功を返す。
// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token := middleware.SessionTokenFromContext(r.Context())
	if token == "" {
		token = middleware.SessionTokenFromRequest(r)
	}
	if err := h.service.Logout(r.Context(), token); err != nil {
		// ログアウト失敗してもCookieはクリアする
		slog.Error("failed to logout", slog.String("error", err.Error()))
	}

	h.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, statusResponse{Status: "success"})
}

// UpdateProfile はログインユーザーのプロフィールを部分更新する。
// PUT /api/auth/profile
func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	if requireUser(w, r) == nil {
		return
	}

	var req profileRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	user, err := h.service.UpdateProfile(r.Context(), middleware.SessionTokenFromContext(r.Context()), model.ProfileUpdate{
		DisplayName:     req.DisplayName,
		Email:           req.Email,
		Phone:           req.Phone,
		FacebookLink:    req.FacebookLink,
		Password:        req.Password,
		CurrentPassword: req.CurrentPassword,
		Image:           req.Image,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// GoogleLogin はGoogle OAuthフローを開始する。
// GET /api/auth/google/login
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10分
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.service.GetLoginURL(state), http.StatusTemporaryRedirect)
}

// GoogleCallback はOAuthコールバックを処理し、フロントエンドにリダイレクトする。
// GET /api/auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch", slog.String("query_state", state))
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("Invalid state parameter."))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	code := r.URL.Query().Get("code")
	if code == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("Missing authorization code."))
		return
	}

	_, session, err := h.service.HandleGoogleCallback(r.Context(), code)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.setSessionCookie(w, session)
	http.Redirect(w, r, h.config.BaseURL, http.StatusTemporaryRedirect)
}

// sameSite はクロスサイトのフロントエンドからCookieを送れるよう、
// HTTPS運用時はNone、それ以外はLaxを返す。
func (h *AuthHandler) sameSite() http.SameSite {
	if h.config.CookieSecure {
		return http.SameSiteNoneMode
	}
	return http.SameSiteLaxMode
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, session *model.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    session.Token,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: h.sameSite(),
	})
}

func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: h.sameSite(),
	})
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
