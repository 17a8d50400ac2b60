package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/pasarmalam/internal/model"
)

const userColumns = `id, display_name, email, password_hash, phone, facebook_link, image, auth_provider, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*model.User, error) {
	user := &model.User{}
	var email, passwordHash sql.NullString
	var provider string
	err := row.Scan(
		&user.ID, &user.DisplayName, &email, &passwordHash,
		&user.Phone, &user.FacebookLink, &user.Image, &provider,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	user.Email = nullStringPtr(email)
	user.PasswordHash = nullStringPtr(passwordHash)
	user.AuthProvider = model.AuthProvider(provider)
	return user, nil
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func (r *PostgresUserRepo) findOne(ctx context.Context, where string, arg interface{}) (*model.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+where,
		arg,
	)
	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return user, err
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := r.findOne(ctx, `id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByIDs は複数IDのユーザーを1クエリで取得する。
func (r *PostgresUserRepo) FindByIDs(ctx context.Context, ids []string) (map[string]*model.User, error) {
	users := make(map[string]*model.User, len(ids))
	if len(ids) == 0 {
		return users, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ANY($1)`,
		pq.Array(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find users by IDs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users[user.ID] = user
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := r.findOne(ctx, `email = $1`, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// FindLegacyByDisplayName は表示名でレガシーユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindLegacyByDisplayName(ctx context.Context, displayName string) (*model.User, error) {
	user, err := r.findOne(ctx,
		`display_name = $1 AND auth_provider = 'legacy' ORDER BY created_at ASC LIMIT 1`,
		displayName,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by display name: %w", err)
	}
	return user, nil
}

// Create はユーザーを作成する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		user.ID, user.DisplayName, user.Email, user.PasswordHash,
		user.Phone, user.FacebookLink, user.Image, string(user.AuthProvider),
		user.CreatedAt, user.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// Update はユーザーを部分更新し、更新後のユーザーを返す。
func (r *PostgresUserRepo) Update(ctx context.Context, id string, changes model.UserChanges, updatedAt time.Time) (*model.User, error) {
	query, args := buildUserUpdate(id, changes, updatedAt)
	user, err := scanUser(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if isUniqueViolation(err) {
		return nil, ErrDuplicateEmail
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	return user, nil
}

// buildUserUpdate は変更のあるカラムのみを対象としたUPDATE文を組み立てる。
func buildUserUpdate(id string, changes model.UserChanges, updatedAt time.Time) (string, []interface{}) {
	sets := []string{"updated_at = $1"}
	args := []interface{}{updatedAt}

	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if changes.DisplayName != nil {
		add("display_name", *changes.DisplayName)
	}
	if changes.Email != nil {
		add("email", *changes.Email)
	}
	if changes.Phone != nil {
		add("phone", *changes.Phone)
	}
	if changes.FacebookLink != nil {
		add("facebook_link", *changes.FacebookLink)
	}
	if changes.PasswordHash != nil {
		add("password_hash", *changes.PasswordHash)
	}
	if changes.Image != nil {
		add("image", *changes.Image)
	}

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE users SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), userColumns)
	return query, args
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
