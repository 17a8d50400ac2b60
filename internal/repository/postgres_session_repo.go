package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/pasarmalam/internal/model"
)

// PostgresSessionRepo はPostgreSQLを使用したセッションリポジトリ。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// Create はセッションを作成する。
func (r *PostgresSessionRepo) Create(ctx context.Context, session *model.Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_sessions (token, user_id, created_at, expires_at)
		 VALUES ($1, $2, $3, $4)`,
		session.Token, session.UserID, session.CreatedAt, session.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByToken は指定トークンのセッションを取得する。期限切れのセッションも返す。
func (r *PostgresSessionRepo) FindByToken(ctx context.Context, token string) (*model.Session, error) {
	session := &model.Session{}
	err := r.db.QueryRowContext(ctx,
		`SELECT token, user_id, created_at, expires_at
		 FROM user_sessions
		 WHERE token = $1`,
		token,
	).Scan(&session.Token, &session.UserID, &session.CreatedAt, &session.ExpiresAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	return session, nil
}

// DeleteByToken は指定トークンのセッションを削除する。
func (r *PostgresSessionRepo) DeleteByToken(ctx context.Context, token string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM user_sessions WHERE token = $1`,
		token,
	)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteByUserExcept はユーザーの他のセッションを削除する。
func (r *PostgresSessionRepo) DeleteByUserExcept(ctx context.Context, userID, keepToken string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM user_sessions WHERE user_id = $1 AND token <> $2`,
		userID, keepToken,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete user sessions: %w", err)
	}
	return result.RowsAffected()
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
