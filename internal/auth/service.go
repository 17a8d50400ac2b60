// Package auth はユーザー登録・ログイン・セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/pasarmalam/internal/model"
	"github.com/hitoshi/pasarmalam/internal/repository"
)

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*ExternalIdentity, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
	BcryptCost    int // 0の場合はbcrypt.DefaultCost
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	verifier    IdentityVerifier
	oauth       OAuthProvider // Google未設定の場合はnil
	config      ServiceConfig
	logger      *slog.Logger
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	verifier IdentityVerifier,
	oauth OAuthProvider,
	config ServiceConfig,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		verifier:    verifier,
		oauth:       oauth,
		config:      config,
		logger:      logger,
		now:         time.Now,
	}
}

// SessionTTL はセッションの有効期間を返す。
func (s *Service) SessionTTL() time.Duration {
	return time.Duration(s.config.SessionMaxAge) * time.Second
}

// OAuthEnabled はGoogleログインが利用可能かを返す。
func (s *Service) OAuthEnabled() bool {
	return s.oauth != nil
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// Register はメールアドレスとパスワードでユーザーを登録し、セッションを発行する。
func (s *Service) Register(ctx context.Context, email, password, displayName string) (*model.User, *model.Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, nil, err
	}
	if password == "" {
		return nil, nil, model.NewInvalidRequestError("password is required")
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = email[:strings.Index(email, "@")]
	}

	existing, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if existing != nil {
		return nil, nil, model.NewEmailConflictError()
	}

	hash, err := hashPassword(password, s.config.BcryptCost)
	if err != nil {
		return nil, nil, err
	}

	now := s.now()
	user := &model.User{
		ID:           uuid.New().String(),
		DisplayName:  displayName,
		Email:        &email,
		PasswordHash: &hash,
		AuthProvider: model.AuthProviderEmail,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	// 事前チェックと作成の間に同じメールアドレスが登録された場合は一意制約で検出する
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, nil, model.NewEmailConflictError()
		}
		return nil, nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.Info("user registered",
		slog.String("user_id", user.ID),
		slog.String("provider", string(user.AuthProvider)),
	)

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}
	return user, session, nil
}

// Login はメールアドレスとパスワードを検証し、セッションを発行する。
// 未登録・パスワード未設定・不一致はすべて同じエラーになる。
func (s *Service) Login(ctx context.Context, email, password string) (*model.User, *model.Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, nil, model.NewInvalidCredentialsError()
	}

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if user == nil || user.PasswordHash == nil {
		return nil, nil, model.NewInvalidCredentialsError()
	}

	ok, err := checkPassword(*user.PasswordHash, password)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, model.NewInvalidCredentialsError()
	}

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}
	return user, session, nil
}

// ExchangeExternalSession は外部IdPのセッショントークンを検証し、ローカルセッションを発行する。
// 検証済みメールアドレスでユーザーを検索し、存在しなければ作成する。
func (s *Service) ExchangeExternalSession(ctx context.Context, externalToken string) (*model.User, *model.Session, error) {
	if strings.TrimSpace(externalToken) == "" {
		return nil, nil, model.NewUnauthorizedError()
	}

	identity, err := s.verifier.Verify(ctx, externalToken)
	if err != nil {
		s.logger.Warn("external session verification failed",
			slog.String("error", err.Error()),
		)
		return nil, nil, model.NewUnauthorizedError()
	}

	return s.loginExternal(ctx, identity, model.AuthProviderExternal)
}

// HandleGoogleCallback はOAuthコールバックを処理し、セッションを発行する。
func (s *Service) HandleGoogleCallback(ctx context.Context, code string) (*model.User, *model.Session, error) {
	if s.oauth == nil {
		return nil, nil, model.NewUnauthorizedError()
	}

	identity, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		s.logger.Warn("oauth code exchange failed", slog.String("error", err.Error()))
		return nil, nil, model.NewUnauthorizedError()
	}

	return s.loginExternal(ctx, identity, model.AuthProviderGoogle)
}

// loginExternal は外部IdPで確認済みのメールアドレスでユーザーを検索または作成し、セッションを発行する。
func (s *Service) loginExternal(ctx context.Context, identity *ExternalIdentity, provider model.AuthProvider) (*model.User, *model.Session, error) {
	user, err := s.findOrCreateByEmail(ctx, identity.Email, identity.Name, identity.Picture, provider)
	if err != nil {
		return nil, nil, err
	}

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}
	return user, session, nil
}

// LegacyLogin は表示名のみでレガシーユーザーを検索または作成し、セッションを発行する。
// 対象はレガシーユーザーのみで、同じ表示名のメール・外部IdPユーザーとは別のユーザーになる。
// パスワードを設定済みのレガシーユーザーは表示名だけではログインできない。
func (s *Service) LegacyLogin(ctx context.Context, displayName string) (*model.User, *model.Session, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, nil, model.NewInvalidRequestError("displayName is required")
	}

	user, err := s.userRepo.FindLegacyByDisplayName(ctx, displayName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find user by display name: %w", err)
	}
	if user != nil && user.PasswordHash != nil {
		s.logger.Warn("legacy login rejected for password-protected user",
			slog.String("user_id", user.ID),
		)
		return nil, nil, model.NewUnauthorizedError()
	}
	if user == nil {
		now := s.now()
		user = &model.User{
			ID:           uuid.New().String(),
			DisplayName:  displayName,
			AuthProvider: model.AuthProviderLegacy,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.userRepo.Create(ctx, user); err != nil {
			return nil, nil, fmt.Errorf("failed to create user: %w", err)
		}
		s.logger.Info("user registered",
			slog.String("user_id", user.ID),
			slog.String("provider", string(user.AuthProvider)),
		)
	}

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}
	return user, session, nil
}

// ResolveSession はセッショントークンから現在のユーザーを取得する。
// 期限切れのセッションはこの時点で削除する。
func (s *Service) ResolveSession(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, model.NewUnauthorizedError()
	}

	session, err := s.sessionRepo.FindByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, model.NewUnauthorizedError()
	}

	if !session.IsValidAt(s.now()) {
		if err := s.sessionRepo.DeleteByToken(ctx, token); err != nil {
			s.logger.Warn("failed to delete expired session",
				slog.String("user_id", session.UserID),
				slog.String("error", err.Error()),
			)
		}
		return nil, model.NewUnauthorizedError()
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUnauthorizedError()
	}
	return user, nil
}

// Logout はセッションを破棄する。トークンやセッションが存在しなくてもエラーにしない。
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.sessionRepo.DeleteByToken(ctx, token); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// UpdateProfile はセッションのユーザーのプロフィールを部分更新する。
// 指定されなかったフィールドは変更しない。
// パスワードを変更した場合は現在のセッション以外をすべて失効させる。
func (s *Service) UpdateProfile(ctx context.Context, token string, update model.ProfileUpdate) (*model.User, error) {
	user, err := s.ResolveSession(ctx, token)
	if err != nil {
		return nil, err
	}

	var changes model.UserChanges

	if update.DisplayName != nil {
		name := strings.TrimSpace(*update.DisplayName)
		if name == "" {
			return nil, model.NewInvalidRequestError("displayName must not be empty")
		}
		changes.DisplayName = &name
	}
	if update.Email != nil {
		email, err := normalizeEmail(*update.Email)
		if err != nil {
			return nil, err
		}
		owner, err := s.userRepo.FindByEmail(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("failed to find user by email: %w", err)
		}
		if owner != nil && owner.ID != user.ID {
			return nil, model.NewEmailConflictError()
		}
		changes.Email = &email
	}
	if update.Phone != nil {
		phone := strings.TrimSpace(*update.Phone)
		changes.Phone = &phone
	}
	if update.FacebookLink != nil {
		link := strings.TrimSpace(*update.FacebookLink)
		changes.FacebookLink = &link
	}
	if update.Password != nil {
		if *update.Password == "" {
			return nil, model.NewInvalidRequestError("password must not be empty")
		}
		if user.PasswordHash != nil {
			if err := verifyCurrentPassword(*user.PasswordHash, update.CurrentPassword); err != nil {
				return nil, err
			}
		}
		hash, err := hashPassword(*update.Password, s.config.BcryptCost)
		if err != nil {
			return nil, err
		}
		changes.PasswordHash = &hash
	}
	if update.Image != nil {
		changes.Image = update.Image
	}

	if changes.IsEmpty() {
		return user, nil
	}

	updated, err := s.userRepo.Update(ctx, user.ID, changes, s.now())
	if errors.Is(err, repository.ErrDuplicateEmail) {
		return nil, model.NewEmailConflictError()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	if updated == nil {
		return nil, model.NewUserNotFoundError()
	}

	if changes.PasswordHash != nil {
		revoked, err := s.sessionRepo.DeleteByUserExcept(ctx, user.ID, token)
		if err != nil {
			return nil, fmt.Errorf("failed to revoke sessions: %w", err)
		}
		s.logger.Info("password changed",
			slog.String("user_id", user.ID),
			slog.Int64("revoked_sessions", revoked),
		)
	}
	return updated, nil
}

// verifyCurrentPassword はパスワード変更時に入力された現在のパスワードを検証する。
func verifyCurrentPassword(hash string, current *string) error {
	if current == nil || *current == "" {
		return model.NewCurrentPasswordMismatchError()
	}
	ok, err := checkPassword(hash, *current)
	if err != nil {
		return err
	}
	if !ok {
		return model.NewCurrentPasswordMismatchError()
	}
	return nil
}

// findOrCreateByEmail は検証済みメールアドレスでユーザーを検索し、存在しなければ作成する。
func (s *Service) findOrCreateByEmail(ctx context.Context, email, name, picture string, provider model.AuthProvider) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if user != nil {
		return user, nil
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = email
	}
	now := s.now()
	user = &model.User{
		ID:           uuid.New().String(),
		DisplayName:  name,
		Email:        &email,
		Image:        picture,
		AuthProvider: provider,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			// 同時ログインで先に作成されたユーザーを使う
			return s.userRepo.FindByEmail(ctx, email)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.Info("user registered",
		slog.String("user_id", user.ID),
		slog.String("provider", string(provider)),
	)
	return user, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	token, err := generateSessionToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	now := s.now()
	session := &model.Session{
		Token:     token,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.SessionTTL()),
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// normalizeEmail はメールアドレスを小文字化し形式を検証する。
func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", model.NewInvalidRequestError("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", model.NewInvalidRequestError("email is invalid")
	}
	return email, nil
}

// generateSessionToken は暗号的に安全なセッショントークンを生成する。
func generateSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
