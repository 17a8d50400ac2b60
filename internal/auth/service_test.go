package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/pasarmalam/internal/model"
	"github.com/hitoshi/pasarmalam/internal/repository"
)

// --- モック定義 ---

// mockUserRepo は関数フィールドが未設定の場合インメモリのマップで動作する。
type mockUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User

	findByEmailFn func(ctx context.Context, email string) (*model.User, error)
	createFn      func(ctx context.Context, user *model.User) error
	updateFn      func(ctx context.Context, id string, changes model.UserChanges, at time.Time) (*model.User, error)
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{users: map[string]*model.User{}}
}

func (m *mockUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (m *mockUserRepo) FindByIDs(_ context.Context, ids []string) (map[string]*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]*model.User{}
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			cp := *u
			out[id] = &cp
		}
	}
	return out, nil
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email != nil && *u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockUserRepo) FindLegacyByDisplayName(_ context.Context, name string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.DisplayName == name && u.AuthProvider == model.AuthProviderLegacy {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockUserRepo) Create(ctx context.Context, user *model.User) error {
	if m.createFn != nil {
		return m.createFn(ctx, user)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if user.Email != nil && u.Email != nil && *u.Email == *user.Email {
			return repository.ErrDuplicateEmail
		}
	}
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *mockUserRepo) Update(ctx context.Context, id string, c model.UserChanges, at time.Time) (*model.User, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, id, c, at)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	if c.DisplayName != nil {
		u.DisplayName = *c.DisplayName
	}
	if c.Email != nil {
		email := *c.Email
		u.Email = &email
	}
	if c.Phone != nil {
		u.Phone = *c.Phone
	}
	if c.FacebookLink != nil {
		u.FacebookLink = *c.FacebookLink
	}
	if c.PasswordHash != nil {
		hash := *c.PasswordHash
		u.PasswordHash = &hash
	}
	if c.Image != nil {
		u.Image = *c.Image
	}
	u.UpdatedAt = at
	cp := *u
	return &cp, nil
}

type mockSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*model.Session

	createFn             func(ctx context.Context, session *model.Session) error
	deleteByTokenFn      func(ctx context.Context, token string) error
	deleteByUserExceptFn func(ctx context.Context, userID, keepToken string) (int64, error)
}

func newMockSessionRepo() *mockSessionRepo {
	return &mockSessionRepo{sessions: map[string]*model.Session{}}
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.Session) error {
	if m.createFn != nil {
		return m.createFn(ctx, session)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *session
	m.sessions[session.Token] = &cp
	return nil
}

func (m *mockSessionRepo) FindByToken(_ context.Context, token string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[token]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, nil
}

func (m *mockSessionRepo) DeleteByToken(ctx context.Context, token string) error {
	if m.deleteByTokenFn != nil {
		return m.deleteByTokenFn(ctx, token)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
	return nil
}

func (m *mockSessionRepo) DeleteByUserExcept(ctx context.Context, userID, keepToken string) (int64, error) {
	if m.deleteByUserExceptFn != nil {
		return m.deleteByUserExceptFn(ctx, userID, keepToken)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for token, s := range m.sessions {
		if s.UserID == userID && token != keepToken {
			delete(m.sessions, token)
			n++
		}
	}
	return n, nil
}

func (m *mockSessionRepo) has(token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[token]
	return ok
}

type mockVerifier struct {
	verifyFn func(ctx context.Context, token string) (*ExternalIdentity, error)
}

func (m *mockVerifier) Verify(ctx context.Context, token string) (*ExternalIdentity, error) {
	return m.verifyFn(ctx, token)
}

type mockOAuthProvider struct {
	getLoginURLFn  func(state string) string
	exchangeCodeFn func(ctx context.Context, code string) (*ExternalIdentity, error)
}

func (m *mockOAuthProvider) GetLoginURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return ""
}

func (m *mockOAuthProvider) ExchangeCode(ctx context.Context, code string) (*ExternalIdentity, error) {
	return m.exchangeCodeFn(ctx, code)
}

// --- compile-time interface checks ---
var _ repository.UserRepository = (*mockUserRepo)(nil)
var _ repository.SessionRepository = (*mockSessionRepo)(nil)
var _ IdentityVerifier = (*mockVerifier)(nil)
var _ OAuthProvider = (*mockOAuthProvider)(nil)

// --- ヘルパー ---

const testSessionMaxAge = 7 * 24 * 60 * 60

type testEnv struct {
	svc      *Service
	users    *mockUserRepo
	sessions *mockSessionRepo
	clock    time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		users:    newMockUserRepo(),
		sessions: newMockSessionRepo(),
		clock:    time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	env.svc = NewService(env.users, env.sessions, nil, nil,
		ServiceConfig{SessionMaxAge: testSessionMaxAge, BcryptCost: bcrypt.MinCost},
		slog.New(slog.NewJSONHandler(io.Discard, nil)),
	)
	env.svc.now = func() time.Time { return env.clock }
	return env
}

func assertAPIErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError with code %s, got %v", code, err)
	}
	if apiErr.Code != code {
		t.Errorf("error code = %q, want %q", apiErr.Code, code)
	}
}

// --- Register / Login ---

func TestRegister_CreatesUserWithHashedPasswordAndSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user, session, err := env.svc.Register(ctx, " Ali@Example.com ", "s3cret", "Ali")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if user.EmailValue() != "ali@example.com" {
		t.Errorf("email = %q, want normalized ali@example.com", user.EmailValue())
	}
	if user.PasswordHash == nil || *user.PasswordHash == "s3cret" {
		t.Error("password must be stored hashed")
	}
	if user.AuthProvider != model.AuthProviderEmail {
		t.Errorf("provider = %q, want email", user.AuthProvider)
	}
	if len(session.Token) != 64 {
		t.Errorf("token length = %d, want 64 hex chars", len(session.Token))
	}
	if session.UserID != user.ID {
		t.Errorf("session user = %q, want %q", session.UserID, user.ID)
	}
	if want := env.clock.Add(7 * 24 * time.Hour); !session.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", session.ExpiresAt, want)
	}
}

func TestRegister_DefaultsDisplayNameFromEmail(t *testing.T) {
	env := newTestEnv(t)

	user, _, err := env.svc.Register(context.Background(), "mei@example.com", "pw", "  ")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if user.DisplayName != "mei" {
		t.Errorf("DisplayName = %q, want mei", user.DisplayName)
	}
}

func TestRegister_InvalidInput(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name, email, password string
	}{
		{"empty email", "", "pw"},
		{"malformed email", "not-an-email", "pw"},
		{"empty password", "a@example.com", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := env.svc.Register(ctx, tt.email, tt.password, "A")
			assertAPIErrorCode(t, err, model.ErrCodeInvalidRequest)
		})
	}
}

// 同じメールアドレスでの2回目の登録はConflictになり、最初のパスワードは有効なまま
func TestRegister_DuplicateEmail_ConflictAndOriginalPasswordStillValid(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, _, err := env.svc.Register(ctx, "dup@example.com", "first-password", "First")
	if err != nil {
		t.Fatalf("first Register() error = %v", err)
	}

	_, _, err = env.svc.Register(ctx, "dup@example.com", "second-password", "Second")
	assertAPIErrorCode(t, err, model.ErrCodeEmailConflict)

	user, _, err := env.svc.Login(ctx, "dup@example.com", "first-password")
	if err != nil {
		t.Fatalf("Login with first password error = %v", err)
	}
	if user.ID != first.ID {
		t.Errorf("logged in as %q, want first user %q", user.ID, first.ID)
	}

	_, _, err = env.svc.Login(ctx, "dup@example.com", "second-password")
	assertAPIErrorCode(t, err, model.ErrCodeInvalidCredential)
}

// 事前チェック後に一意制約で検出された重複もConflictになる
func TestRegister_UniqueIndexRace_ReturnsConflict(t *testing.T) {
	env := newTestEnv(t)
	env.users.createFn = func(ctx context.Context, user *model.User) error {
		return repository.ErrDuplicateEmail
	}

	_, _, err := env.svc.Register(context.Background(), "race@example.com", "pw", "Race")
	assertAPIErrorCode(t, err, model.ErrCodeEmailConflict)
}

func TestLogin_Failures_AreIndistinguishable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, _, err := env.svc.Register(ctx, "ali@example.com", "right", "Ali"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	// パスワード未設定のユーザー
	if _, _, err := env.svc.LegacyLogin(ctx, "NoPassword"); err != nil {
		t.Fatalf("LegacyLogin() error = %v", err)
	}

	tests := []struct {
		name, email, password string
	}{
		{"unknown email", "nobody@example.com", "right"},
		{"wrong password", "ali@example.com", "wrong"},
		{"empty password", "ali@example.com", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := env.svc.Login(ctx, tt.email, tt.password)
			assertAPIErrorCode(t, err, model.ErrCodeInvalidCredential)
		})
	}
}

func TestLogin_CaseInsensitiveEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, _, err := env.svc.Register(ctx, "ali@example.com", "pw", "Ali"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, _, err := env.svc.Login(ctx, "ALI@example.com", "pw"); err != nil {
		t.Errorf("Login() error = %v", err)
	}
}

// --- ResolveSession ---

// 有効期限の1ナノ秒前は有効、有効期限ちょうどは無効かつ削除される
func TestResolveSession_ExpiryBoundary(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user, session, err := env.svc.Register(ctx, "ali@example.com", "pw", "Ali")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	env.clock = session.ExpiresAt.Add(-time.Nanosecond)
	got, err := env.svc.ResolveSession(ctx, session.Token)
	if err != nil {
		t.Fatalf("ResolveSession() just before expiry error = %v", err)
	}
	if got.ID != user.ID {
		t.Errorf("resolved user = %q, want %q", got.ID, user.ID)
	}

	env.clock = session.ExpiresAt
	_, err = env.svc.ResolveSession(ctx, session.Token)
	assertAPIErrorCode(t, err, model.ErrCodeUnauthorized)

	if env.sessions.has(session.Token) {
		t.Error("expired session should be deleted on access")
	}

	// 時計を戻しても削除済みのため無効
	env.clock = session.CreatedAt
	_, err = env.svc.ResolveSession(ctx, session.Token)
	assertAPIErrorCode(t, err, model.ErrCodeUnauthorized)
}

func TestResolveSession_EmptyOrUnknownToken(t *testing.T) {
	env := newTestEnv(t)

	for _, token := range []string{"", "unknown-token"} {
		_, err := env.svc.ResolveSession(context.Background(), token)
		assertAPIErrorCode(t, err, model.ErrCodeUnauthorized)
	}
}

func TestResolveSession_OrphanedSession_Unauthorized(t *testing.T) {
	env := newTestEnv(t)
	env.sessions.sessions["orphan"] = &model.Session{
		Token:     "orphan",
		UserID:    "deleted-user",
		CreatedAt: env.clock,
		ExpiresAt: env.clock.Add(time.Hour),
	}

	_, err := env.svc.ResolveSession(context.Background(), "orphan")
	assertAPIErrorCode(t, err, model.ErrCodeUnauthorized)
}

// --- Logout ---

func TestLogout_DeletesSessionAndIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, session, err := env.svc.LegacyLogin(ctx, "Ali")
	if err != nil {
		t.Fatalf("LegacyLogin() error = %v", err)
	}

	if err := env.svc.Logout(ctx, session.Token); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if env.sessions.has(session.Token) {
		t.Error("session should be deleted")
	}
	if err := env.svc.Logout(ctx, session.Token); err != nil {
		t.Errorf("second Logout() error = %v", err)
	}
	if err := env.svc.Logout(ctx, ""); err != nil {
		t.Errorf("Logout(\"\") error = %v", err)
	}

	_, err = env.svc.ResolveSession(ctx, session.Token)
	assertAPIErrorCode(t, err, model.ErrCodeUnauthorized)
}

func TestLogout_RepositoryError(t *testing.T) {
	env := newTestEnv(t)
	env.sessions.deleteByTokenFn = func(ctx context.Context, token string) error {
		return errors.New("db down")
	}

	if err := env.svc.Logout(context.Background(), "token"); err == nil {
		t.Fatal("expected error when repository fails")
	}
}

// --- ExchangeExternalSession ---

func TestExchangeExternalSession_CreatesThenReusesUser(t *testing.T) {
	env := newTestEnv(t)
	var gotToken string
	env.svc.verifier = &mockVerifier{
		verifyFn: func(ctx context.Context, token string) (*ExternalIdentity, error) {
			gotToken = token
			return &ExternalIdentity{ID: "ext-1", Email: "Mei@Example.com", Name: "Mei", Picture: "https://img/mei.png"}, nil
		},
	}
	ctx := context.Background()

	user, session, err := env.svc.ExchangeExternalSession(ctx, "ext-session")
	if err != nil {
		t.Fatalf("ExchangeExternalSession() error = %v", err)
	}
	if gotToken != "ext-session" {
		t.Errorf("verifier token = %q", gotToken)
	}
	if user.AuthProvider != model.AuthProviderExternal || user.Image != "https://img/mei.png" || user.EmailValue() != "mei@example.com" {
		t.Errorf("user = %+v", user)
	}
	if session == nil || session.UserID != user.ID {
		t.Fatalf("session = %+v", session)
	}

	again, _, err := env.svc.ExchangeExternalSession(ctx, "ext-session-2")
	if err != nil {
		t.Fatalf("second ExchangeExternalSession() error = %v", err)
	}
	if again.ID != user.ID {
		t.Errorf("second exchange created a new user %q, want %q", again.ID, user.ID)
	}
	if len(env.users.users) != 1 {
		t.Errorf("users = %d, want 1", len(env.users.users))
	}
}

func TestExchangeExternalSession_VerifierFailure_Unauthorized(t *testing.T) {
	env := newTestEnv(t)
	env.svc.verifier = &mockVerifier{
		verifyFn: func(ctx context.Context, token string) (*ExternalIdentity, error) {
			return nil, errors.New("status 401")
		},
	}

	_, _, err := env.svc.ExchangeExternalSession(context.Background(), "bad")
	assertAPIErrorCode(t, err, model.ErrCodeUnauthorized)

	_, _, err = env.svc.ExchangeExternalSession(context.Background(), "")
	assertAPIErrorCode(t, err, model.ErrCodeUnauthorized)
}

// --- Google ---

func TestHandleGoogleCallback_LinksExistingEmailUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	existing, _, err := env.svc.Register(ctx, "ali@example.com", "pw", "Ali")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	env.svc.oauth = &mockOAuthProvider{
		exchangeCodeFn: func(ctx context.Context, code string) (*ExternalIdentity, error) {
			return &ExternalIdentity{ID: "g-1", Email: "ali@example.com", Name: "Ali G"}, nil
		},
	}
	if !env.svc.OAuthEnabled() {
		t.Fatal("OAuthEnabled() = false")
	}

	user, session, err := env.svc.HandleGoogleCallback(ctx, "code")
	if err != nil {
		t.Fatalf("HandleGoogleCallback() error = %v", err)
	}
	if user.ID != existing.ID || session.UserID != existing.ID {
		t.Errorf("callback user = %q, want existing %q", user.ID, existing.ID)
	}
}

func TestHandleGoogleCallback_NotConfigured(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := env.svc.HandleGoogleCallback(context.Background(), "code")
	assertAPIErrorCode(t, err, model.ErrCodeUnauthorized)
}

// --- LegacyLogin ---

func TestLegacyLogin_FindOrCreateByDisplayName(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, s1, err := env.svc.LegacyLogin(ctx, "Boardgamer")
	if err != nil {
		t.Fatalf("LegacyLogin() error = %v", err)
	}
	second, s2, err := env.svc.LegacyLogin(ctx, " Boardgamer ")
	if err != nil {
		t.Fatalf("LegacyLogin() error = %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("same display name produced different users")
	}
	if s1.Token == s2.Token {
		t.Error("each login must issue a distinct session token")
	}
	if first.AuthProvider != model.AuthProviderLegacy {
		t.Errorf("provider = %q", first.AuthProvider)
	}

	_, _, err = env.svc.LegacyLogin(ctx, "   ")
	assertAPIErrorCode(t, err, model.ErrCodeInvalidRequest)
}

// 公開されている表示名でメール登録ユーザーのセッションを取得できない
func TestLegacyLogin_DoesNotMatchPasswordAccountWithSameName(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owner, _, err := env.svc.Register(ctx, "alice@example.com", "secret-pass", "Alice")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	other, session, err := env.svc.LegacyLogin(ctx, "Alice")
	if err != nil {
		t.Fatalf("LegacyLogin() error = %v", err)
	}
	if other.ID == owner.ID || session.UserID == owner.ID {
		t.Fatal("legacy login must not issue a session for the email account")
	}
	if other.AuthProvider != model.AuthProviderLegacy || other.Email != nil {
		t.Errorf("legacy user = %+v", other)
	}

	// レガシーセッションでパスワードを設定しても元のアカウントには影響しない
	attacker := "attacker-pass"
	if _, err := env.svc.UpdateProfile(ctx, session.Token, model.ProfileUpdate{Password: &attacker}); err != nil {
		t.Fatalf("UpdateProfile() error = %v", err)
	}
	if _, _, err := env.svc.Login(ctx, "alice@example.com", "secret-pass"); err != nil {
		t.Errorf("owner login error = %v", err)
	}
	_, _, err = env.svc.Login(ctx, "alice@example.com", attacker)
	assertAPIErrorCode(t, err, model.ErrCodeInvalidCredential)
}

func TestLegacyLogin_PasswordProtectedLegacyUser_Unauthorized(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, session, err := env.svc.LegacyLogin(ctx, "Ali")
	if err != nil {
		t.Fatalf("LegacyLogin() error = %v", err)
	}
	password := "pw"
	if _, err := env.svc.UpdateProfile(ctx, session.Token, model.ProfileUpdate{Password: &password}); err != nil {
		t.Fatalf("UpdateProfile() error = %v", err)
	}

	_, _, err = env.svc.LegacyLogin(ctx, "Ali")
	assertAPIErrorCode(t, err, model.ErrCodeUnauthorized)
}

// --- UpdateProfile ---

func TestUpdateProfile_PartialUpdateKeepsOmittedFields(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, session, err := env.svc.Register(ctx, "ali@example.com", "pw", "Ali")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	phone := "+60 12-345 6789"
	if _, err := env.svc.UpdateProfile(ctx, session.Token, model.ProfileUpdate{Phone: &phone}); err != nil {
		t.Fatalf("UpdateProfile(phone) error = %v", err)
	}

	fb := "https://facebook.com/ali"
	updated, err := env.svc.UpdateProfile(ctx, session.Token, model.ProfileUpdate{FacebookLink: &fb})
	if err != nil {
		t.Fatalf("UpdateProfile(fb) error = %v", err)
	}
	if updated.Phone != phone {
		t.Errorf("phone = %q, want %q (must survive partial update)", updated.Phone, phone)
	}
	if updated.FacebookLink != fb || updated.DisplayName != "Ali" || updated.EmailValue() != "ali@example.com" {
		t.Errorf("updated = %+v", updated)
	}
}

func TestUpdateProfile_EmailTakenByAnotherUser_Conflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, _, err := env.svc.Register(ctx, "taken@example.com", "pw", "A"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	_, session, err := env.svc.Register(ctx, "mine@example.com", "pw", "B")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	taken := "taken@example.com"
	_, err = env.svc.UpdateProfile(ctx, session.Token, model.ProfileUpdate{Email: &taken})
	assertAPIErrorCode(t, err, model.ErrCodeEmailConflict)

	// 自分のメールアドレスの再設定は許可
	mine := "MINE@example.com"
	if _, err := env.svc.UpdateProfile(ctx, session.Token, model.ProfileUpdate{Email: &mine}); err != nil {
		t.Errorf("re-setting own email error = %v", err)
	}
}

func TestUpdateProfile_PasswordIsRehashed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// レガシーユーザーが後からメールとパスワードを設定できる
	_, session, err := env.svc.LegacyLogin(ctx, "Ali")
	if err != nil {
		t.Fatalf("LegacyLogin() error = %v", err)
	}
	email := "ali@example.com"
	password := "new-password"
	if _, err := env.svc.UpdateProfile(ctx, session.Token, model.ProfileUpdate{Email: &email, Password: &password}); err != nil {
		t.Fatalf("UpdateProfile() error = %v", err)
	}

	if _, _, err := env.svc.Login(ctx, email, password); err != nil {
		t.Errorf("Login with new password error = %v", err)
	}
}

func TestUpdateProfile_PasswordChangeRequiresCurrentPassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, session, err := env.svc.Register(ctx, "ali@example.com", "old-pass", "Ali")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	newPassword := "new-pass"
	wrong := "guess"

	tests := []struct {
		name    string
		current *string
	}{
		{"missing", nil},
		{"wrong", &wrong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.UpdateProfile(ctx, session.Token, model.ProfileUpdate{Password: &newPassword, CurrentPassword: tt.current})
			assertAPIErrorCode(t, err, model.ErrCodeInvalidCredential)
		})
	}

	if _, _, err := env.svc.Login(ctx, "ali@example.com", "old-pass"); err != nil {
		t.Errorf("old password must still work after rejected changes: %v", err)
	}
}

func TestUpdateProfile_PasswordChangeRevokesOtherSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, current, err := env.svc.Register(ctx, "ali@example.com", "old-pass", "Ali")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	_, other, err := env.svc.Login(ctx, "ali@example.com", "old-pass")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	_, stranger, err := env.svc.Register(ctx, "mei@example.com", "pw", "Mei")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	newPassword, oldPassword := "new-pass", "old-pass"
	if _, err := env.svc.UpdateProfile(ctx, current.Token, model.ProfileUpdate{Password: &newPassword, CurrentPassword: &oldPassword}); err != nil {
		t.Fatalf("UpdateProfile() error = %v", err)
	}

	if !env.sessions.has(current.Token) {
		t.Error("the session that changed the password must stay valid")
	}
	if env.sessions.has(other.Token) {
		t.Error("other sessions of the user must be revoked")
	}
	if !env.sessions.has(stranger.Token) {
		t.Error("sessions of other users must not be touched")
	}
	if _, _, err := env.svc.Login(ctx, "ali@example.com", newPassword); err != nil {
		t.Errorf("Login with new password error = %v", err)
	}
}

func TestUpdateProfile_NonPasswordChangeKeepsSessions(t *testing.T) {
	env := newTestEnv(t)
	env.sessions.deleteByUserExceptFn = func(context.Context, string, string) (int64, error) {
		t.Error("sessions must not be revoked without a password change")
		return 0, nil
	}
	ctx := context.Background()

	_, session, err := env.svc.Register(ctx, "ali@example.com", "pw", "Ali")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	name := "Ali B"
	if _, err := env.svc.UpdateProfile(ctx, session.Token, model.ProfileUpdate{DisplayName: &name}); err != nil {
		t.Fatalf("UpdateProfile() error = %v", err)
	}
}

func TestUpdateProfile_Unauthorized(t *testing.T) {
	env := newTestEnv(t)
	name := "X"

	_, err := env.svc.UpdateProfile(context.Background(), "nope", model.ProfileUpdate{DisplayName: &name})
	assertAPIErrorCode(t, err, model.ErrCodeUnauthorized)
}

func TestUpdateProfile_NoFields_ReturnsCurrentUser(t *testing.T) {
	env := newTestEnv(t)
	env.users.updateFn = func(ctx context.Context, id string, c model.UserChanges, at time.Time) (*model.User, error) {
		t.Error("Update must not be called without changes")
		return nil, nil
	}
	ctx := context.Background()
	user, session, err := env.svc.LegacyLogin(ctx, "Ali")
	if err != nil {
		t.Fatalf("LegacyLogin() error = %v", err)
	}

	got, err := env.svc.UpdateProfile(ctx, session.Token, model.ProfileUpdate{})
	if err != nil {
		t.Fatalf("UpdateProfile() error = %v", err)
	}
	if got.ID != user.ID {
		t.Errorf("user = %q, want %q", got.ID, user.ID)
	}
}

func TestGenerateSessionToken_Unique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		token, err := generateSessionToken()
		if err != nil {
			t.Fatalf("generateSessionToken() error = %v", err)
		}
		if seen[token] {
			t.Fatalf("duplicate token %q", token)
		}
		seen[token] = true
	}
}
