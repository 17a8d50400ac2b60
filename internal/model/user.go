// Package model はドメインモデルを定義する。
package model

import "time"

// AuthProvider はユーザーを作成した認証経路を表す。
type AuthProvider string

const (
	// AuthProviderEmail はメールアドレスとパスワードで登録したユーザー。
	AuthProviderEmail AuthProvider = "email"
	// AuthProviderLegacy は表示名のみでログインした旧方式のユーザー。
	AuthProviderLegacy AuthProvider = "legacy"
	// AuthProviderGoogle はGoogle OAuthで作成されたユーザー。
	AuthProviderGoogle AuthProvider = "google"
	// AuthProviderExternal は外部IdPのセッション交換で作成されたユーザー。
	AuthProviderExternal AuthProvider = "external"
)

// User はマーケットプレイスの利用ユーザーを表す。
// Emailが設定されている場合はユーザー間で一意。
type User struct {
	ID           string
	DisplayName  string
	Email        *string
	PasswordHash *string // レスポンスには絶対に含めない
	Phone        string
	FacebookLink string
	Image        string // アバター画像（URLまたはdata URI）
	AuthProvider AuthProvider
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// EmailValue はEmailの値を返す。未設定の場合は空文字列。
func (u *User) EmailValue() string {
	if u.Email == nil {
		return ""
	}
	return *u.Email
}

// Session はユーザーのログインセッションを表す。
// 有効期限切れのセッションは参照時に遅延削除される。
type Session struct {
	Token     string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// IsValidAt は指定時刻においてセッションが有効かを判定する。
func (s *Session) IsValidAt(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// ProfileUpdate はプロフィール更新の入力を表す。
// nilのフィールドは変更しない。
// パスワード設定済みのユーザーがPasswordを変更する場合はCurrentPasswordが必要。
type ProfileUpdate struct {
	DisplayName     *string
	Email           *string
	Phone           *string
	FacebookLink    *string
	Password        *string
	CurrentPassword *string
	Image           *string
}

// UserChanges はユーザーリポジトリに渡す部分更新の内容。
// nilのフィールドは既存の値を維持する。
type UserChanges struct {
	DisplayName  *string
	Email        *string
	Phone        *string
	FacebookLink *string
	PasswordHash *string
	Image        *string
}

// IsEmpty は変更対象のフィールドが1つもないかを返す。
func (c UserChanges) IsEmpty() bool {
	return c.DisplayName == nil && c.Email == nil && c.Phone == nil &&
		c.FacebookLink == nil && c.PasswordHash == nil && c.Image == nil
}
