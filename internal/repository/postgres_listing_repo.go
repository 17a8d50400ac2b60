package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/pasarmalam/internal/model"
)

// listingColumnList はINSERTとSELECTで共通のカラム順。
var listingColumnList = []string{
	"id", "type", "title", "price", "condition", "description", "image", "images",
	"status", "seller_id", "seller_name", "created_at", "updated_at",
	"current_bid", "bid_count", "last_bidder_id", "bgg_id", "open_for_trade", "is_bnis",
	"comments",
}

var listingColumns = strings.Join(listingColumnList, ", ")

// insertBatchSize は1文で挿入する最大行数。PostgreSQLのパラメータ上限(65535)を超えないようにする。
const insertBatchSize = 500

// PostgresListingRepo はPostgreSQLを使用した出品リポジトリ。
// コメントはlistings.commentsのJSONB配列として保持する。
type PostgresListingRepo struct {
	db *sql.DB
}

// NewPostgresListingRepo はPostgresListingRepoを生成する。
func NewPostgresListingRepo(db *sql.DB) *PostgresListingRepo {
	return &PostgresListingRepo{db: db}
}

func scanListing(row rowScanner) (*model.Listing, error) {
	l := &model.Listing{}
	var (
		listingType, status string
		price, currentBid   sql.NullFloat64
		updatedAt           sql.NullTime
		lastBidder, bggID   sql.NullString
		comments            []byte
	)
	err := row.Scan(
		&l.ID, &listingType, &l.Title, &price, &l.Condition, &l.Description, &l.Image, pq.Array(&l.Images),
		&status, &l.SellerID, &l.SellerName, &l.CreatedAt, &updatedAt,
		&currentBid, &l.BidCount, &lastBidder, &bggID, &l.OpenForTrade, &l.IsBNIS,
		&comments,
	)
	if err != nil {
		return nil, err
	}

	l.Type = model.ListingType(listingType)
	l.Status = model.ListingStatus(status)
	l.Price = nullFloatPtr(price)
	l.CurrentBid = nullFloatPtr(currentBid)
	if updatedAt.Valid {
		t := updatedAt.Time
		l.UpdatedAt = &t
	}
	l.LastBidderID = nullStringPtr(lastBidder)
	l.BggID = nullStringPtr(bggID)
	if l.Images == nil {
		l.Images = []string{}
	}

	l.Comments, err = decodeComments(comments)
	if err != nil {
		return nil, err
	}
	return l, nil
}

func nullFloatPtr(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	f := nf.Float64
	return &f
}

// decodeComments はJSONBのコメント配列をデコードする。空やNULLは空スライスとして扱う。
func decodeComments(raw []byte) ([]model.Comment, error) {
	comments := []model.Comment{}
	if len(raw) == 0 {
		return comments, nil
	}
	if err := json.Unmarshal(raw, &comments); err != nil {
		return nil, fmt.Errorf("failed to decode comments: %w", err)
	}
	if comments == nil {
		comments = []model.Comment{}
	}
	return comments, nil
}

// encodeComments はコメント配列をJSONB用の文字列にエンコードする。
func encodeComments(comments []model.Comment) (string, error) {
	if comments == nil {
		comments = []model.Comment{}
	}
	b, err := json.Marshal(comments)
	if err != nil {
		return "", fmt.Errorf("failed to encode comments: %w", err)
	}
	return string(b), nil
}

// InsertBatch は複数の出品を一括で保存する。
// insertBatchSizeを超える場合は同一トランザクション内で分割して挿入する。
func (r *PostgresListingRepo) InsertBatch(ctx context.Context, listings []*model.Listing) error {
	if len(listings) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for start := 0; start < len(listings); start += insertBatchSize {
		end := start + insertBatchSize
		if end > len(listings) {
			end = len(listings)
		}
		query, args, err := buildListingInsert(listings[start:end])
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateListing
			}
			return fmt.Errorf("failed to insert listings: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// buildListingInsert は複数行のINSERT文を組み立てる。
func buildListingInsert(listings []*model.Listing) (string, []interface{}, error) {
	cols := len(listingColumnList)
	rows := make([]string, 0, len(listings))
	args := make([]interface{}, 0, len(listings)*cols)

	for i, l := range listings {
		comments, err := encodeComments(l.Comments)
		if err != nil {
			return "", nil, err
		}
		images := l.Images
		if images == nil {
			images = []string{}
		}

		placeholders := make([]string, cols)
		for c := 0; c < cols; c++ {
			placeholders[c] = fmt.Sprintf("$%d", i*cols+c+1)
		}
		// commentsはJSONBへキャストする
		placeholders[cols-1] += "::jsonb"
		rows = append(rows, "("+strings.Join(placeholders, ", ")+")")

		args = append(args,
			l.ID, string(l.Type), l.Title, l.Price, l.Condition, l.Description, l.Image, pq.Array(images),
			string(l.Status), l.SellerID, l.SellerName, l.CreatedAt, l.UpdatedAt,
			l.CurrentBid, l.BidCount, l.LastBidderID, l.BggID, l.OpenForTrade, l.IsBNIS,
			comments,
		)
	}

	query := fmt.Sprintf(`INSERT INTO listings (%s) VALUES %s`, listingColumns, strings.Join(rows, ", "))
	return query, args, nil
}

// FindByID は指定IDの出品を取得する。見つからない場合はnilを返す。
func (r *PostgresListingRepo) FindByID(ctx context.Context, id string) (*model.Listing, error) {
	l, err := scanListing(r.db.QueryRowContext(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find listing by ID: %w", err)
	}
	return l, nil
}

// List は条件に一致する出品を作成日時の新しい順に最大limit件返す。
func (r *PostgresListingRepo) List(ctx context.Context, filter model.ListingFilter, limit int) ([]*model.Listing, error) {
	query, args := buildListingQuery(filter, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list listings: %w", err)
	}
	defer rows.Close()

	listings := []*model.Listing{}
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan listing: %w", err)
		}
		listings = append(listings, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate listings: %w", err)
	}
	return listings, nil
}

// buildListingQuery は一覧取得のSELECT文を組み立てる。
func buildListingQuery(filter model.ListingFilter, limit int) (string, []interface{}) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE 1 = 1`
	args := []interface{}{}
	argIndex := 1

	if filter.Type != "" {
		query += fmt.Sprintf(" AND type = $%d", argIndex)
		args = append(args, string(filter.Type))
		argIndex++
	}
	if filter.SellerID != "" {
		query += fmt.Sprintf(" AND seller_id = $%d", argIndex)
		args = append(args, filter.SellerID)
		argIndex++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argIndex)
	args = append(args, limit)
	return query, args
}

// Update は出品を部分更新し、更新後の出品を返す。見つからない場合はnilを返す。
func (r *PostgresListingRepo) Update(ctx context.Context, id string, patch model.ListingPatch, updatedAt time.Time) (*model.Listing, error) {
	query, args := buildListingUpdate(id, patch, updatedAt)
	l, err := scanListing(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update listing: %w", err)
	}
	return l, nil
}

// buildListingUpdate は指定されたフィールドのみを更新するUPDATE文を組み立てる。
// updated_atは常に更新する。
func buildListingUpdate(id string, patch model.ListingPatch, updatedAt time.Time) (string, []interface{}) {
	sets := []string{"updated_at = $1"}
	args := []interface{}{updatedAt}

	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Type != nil {
		add("type", string(*patch.Type))
	}
	if patch.Title != nil {
		add("title", *patch.Title)
	}
	if patch.ClearPrice {
		sets = append(sets, "price = NULL")
	} else if patch.Price != nil {
		add("price", *patch.Price)
	}
	if patch.Condition != nil {
		add("condition", *patch.Condition)
	}
	if patch.Description != nil {
		add("description", *patch.Description)
	}
	if patch.Image != nil {
		add("image", *patch.Image)
	}
	if patch.Images != nil {
		images := *patch.Images
		if images == nil {
			images = []string{}
		}
		add("images", pq.Array(images))
	}
	if patch.Status != nil {
		add("status", string(*patch.Status))
	}
	if patch.BggID != nil {
		add("bgg_id", *patch.BggID)
	}
	if patch.OpenForTrade != nil {
		add("open_for_trade", *patch.OpenForTrade)
	}
	if patch.IsBNIS != nil {
		add("is_bnis", *patch.IsBNIS)
	}

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE listings SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), listingColumns)
	return query, args
}

// Delete は出品を削除する。
func (r *PostgresListingRepo) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM listings WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete listing: %w", err)
	}
	return affectedOne(result)
}

// placeBidQuery は「現在額を上回る」判定と更新を1文で行う。
// 同時入札でも条件判定と書き込みの間に他の入札が割り込むことはない。
const placeBidQuery = `UPDATE listings
	SET current_bid = $2,
	    last_bidder_id = $3,
	    bid_count = bid_count + 1,
	    updated_at = $4
	WHERE id = $1 AND COALESCE(current_bid, 0) < $2`

// PlaceBid は条件付きUPDATEで入札を反映する。
func (r *PostgresListingRepo) PlaceBid(ctx context.Context, listingID, bidderID string, amount float64, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, placeBidQuery, listingID, amount, bidderID, at)
	if err != nil {
		return false, fmt.Errorf("failed to place bid: %w", err)
	}
	return affectedOne(result)
}

const appendCommentQuery = `UPDATE listings
	SET comments = comments || jsonb_build_array($2::jsonb)
	WHERE id = $1`

// AppendComment はコメントをJSONB配列の末尾に追加する。
func (r *PostgresListingRepo) AppendComment(ctx context.Context, listingID string, comment model.Comment) (bool, error) {
	payload, err := json.Marshal(comment)
	if err != nil {
		return false, fmt.Errorf("failed to encode comment: %w", err)
	}
	result, err := r.db.ExecContext(ctx, appendCommentQuery, listingID, string(payload))
	if err != nil {
		return false, fmt.Errorf("failed to append comment: %w", err)
	}
	return affectedOne(result)
}

// removeCommentQuery は一致する要素を除いた配列で置き換える。元の順序は保持する。
const removeCommentQuery = `UPDATE listings
	SET comments = COALESCE(
		(SELECT jsonb_agg(e.c ORDER BY e.ord)
		 FROM jsonb_array_elements(comments) WITH ORDINALITY AS e(c, ord)
		 WHERE NOT (e.c->>'id' = $2 AND e.c->>'userId' = $3)),
		'[]'::jsonb)
	WHERE id = $1
	  AND EXISTS (
		SELECT 1 FROM jsonb_array_elements(comments) AS x(c)
		WHERE x.c->>'id' = $2 AND x.c->>'userId' = $3)`

// RemoveComment はIDと投稿者が一致するコメントを削除する。
func (r *PostgresListingRepo) RemoveComment(ctx context.Context, listingID, commentID, authorID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, removeCommentQuery, listingID, commentID, authorID)
	if err != nil {
		return false, fmt.Errorf("failed to remove comment: %w", err)
	}
	return affectedOne(result)
}

func affectedOne(result sql.Result) (bool, error) {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// compile-time interface check
var _ ListingRepository = (*PostgresListingRepo)(nil)
