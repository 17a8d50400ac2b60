// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/pasarmalam/internal/model"
)

// ErrDuplicateEmail はメールアドレスの一意制約違反を表す。
var ErrDuplicateEmail = errors.New("email already exists")

// ErrDuplicateListing は出品IDの一意制約違反を表す。
var ErrDuplicateListing = errors.New("listing already exists")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByIDs は複数IDのユーザーを1クエリで取得する。
	// 存在しないIDは結果のマップに含まれない。
	FindByIDs(ctx context.Context, ids []string) (map[string]*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// FindLegacyByDisplayName は表示名のみでログインするレガシーユーザーを検索する。
	// 他の認証経路のユーザーは対象外。同名が複数いる場合は最も古いユーザーを返す。
	// 見つからない場合はnilを返す。
	FindLegacyByDisplayName(ctx context.Context, displayName string) (*model.User, error)

	// Create はユーザーを作成する。メールアドレス重複時はErrDuplicateEmailを返す。
	Create(ctx context.Context, user *model.User) error

	// Update はユーザーを部分更新し、更新後のユーザーを返す。
	// 見つからない場合はnil、メールアドレス重複時はErrDuplicateEmailを返す。
	Update(ctx context.Context, id string, changes model.UserChanges, updatedAt time.Time) (*model.User, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByToken は指定トークンのセッションを取得する。
	// 期限切れでも返すため、有効性の判定は呼び出し側で行う。見つからない場合はnilを返す。
	FindByToken(ctx context.Context, token string) (*model.Session, error)
	// DeleteByToken は指定トークンのセッションを削除する。存在しなくてもエラーにしない。
	DeleteByToken(ctx context.Context, token string) error
	// DeleteByUserExcept はユーザーのセッションのうちkeepToken以外をすべて削除し、削除件数を返す。
	DeleteByUserExcept(ctx context.Context, userID, keepToken string) (int64, error)
}

// ListingRepository は出品データの永続化インターフェース。
type ListingRepository interface {
	// InsertBatch は複数の出品を一括で保存する。
	// 既存の出品IDと重複する場合はErrDuplicateListingを返し、1件も保存しない。
	InsertBatch(ctx context.Context, listings []*model.Listing) error

	// FindByID は指定IDの出品を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Listing, error)

	// List は条件に一致する出品を作成日時の新しい順に最大limit件返す。
	List(ctx context.Context, filter model.ListingFilter, limit int) ([]*model.Listing, error)

	// Update は出品を部分更新し、更新後の出品を返す。見つからない場合はnilを返す。
	Update(ctx context.Context, id string, patch model.ListingPatch, updatedAt time.Time) (*model.Listing, error)

	// Delete は出品を削除する。削除対象が存在しなかった場合はfalseを返す。
	Delete(ctx context.Context, id string) (bool, error)

	// PlaceBid は入札額が現在額を上回る場合のみ、入札額・入札者・入札数を1文で更新する。
	// 条件を満たさないか出品が存在しない場合はfalseを返す。
	PlaceBid(ctx context.Context, listingID, bidderID string, amount float64, at time.Time) (bool, error)

	// AppendComment はコメントを出品のコメント配列の末尾に追加する。
	// 出品が存在しない場合はfalseを返す。
	AppendComment(ctx context.Context, listingID string, comment model.Comment) (bool, error)

	// RemoveComment はIDと投稿者が一致するコメントを削除する。
	// 一致するコメントがない場合はfalseを返す。
	RemoveComment(ctx context.Context, listingID, commentID, authorID string) (bool, error)
}
