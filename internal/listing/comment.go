package listing

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/pasarmalam/internal/model"
	"github.com/hitoshi/pasarmalam/internal/repository"
	"github.com/hitoshi/pasarmalam/internal/security"
)

// MaxCommentLength はコメント本文の最大文字数。
const MaxCommentLength = 2000

// SessionResolver はセッショントークンからユーザーを解決する。
type SessionResolver interface {
	ResolveSession(ctx context.Context, token string) (*model.User, error)
}

// CommentService は出品に埋め込まれたコメントの追加と削除を行う。
type CommentService struct {
	listings  repository.ListingRepository
	sessions  SessionResolver
	sanitizer security.TextSanitizer
	recorder  Recorder
	logger    *slog.Logger
	now       func() time.Time
}

// NewCommentService はCommentServiceを生成する。
func NewCommentService(
	listings repository.ListingRepository,
	sessions SessionResolver,
	sanitizer security.TextSanitizer,
	recorder Recorder,
	logger *slog.Logger,
) *CommentService {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CommentService{
		listings:  listings,
		sessions:  sessions,
		sanitizer: sanitizer,
		recorder:  recorder,
		logger:    logger,
		now:       time.Now,
	}
}

// AddComment はセッションのユーザーとしてコメントを追加する。
// 表示名とアバターは書き込み時点の値を保存し、以後のプロフィール変更は反映しない。
func (s *CommentService) AddComment(ctx context.Context, listingID, sessionToken, text string) (*model.Comment, error) {
	user, err := s.sessions.ResolveSession(ctx, sessionToken)
	if err != nil {
		return nil, err
	}

	text = s.sanitizer.SanitizeUserText(text)
	if text == "" {
		return nil, model.NewInvalidRequestError("comment text is required")
	}
	if utf8.RuneCountInString(text) > MaxCommentLength {
		return nil, model.NewInvalidRequestError(fmt.Sprintf("comment must be at most %d characters", MaxCommentLength))
	}

	comment := model.Comment{
		ID:         uuid.New().String(),
		UserID:     user.ID,
		UserName:   user.DisplayName,
		UserAvatar: user.Image,
		Text:       text,
		CreatedAt:  s.now().UTC(),
	}

	ok, err := s.listings.AppendComment(ctx, listingID, comment)
	if err != nil {
		return nil, fmt.Errorf("failed to append comment: %w", err)
	}
	if !ok {
		return nil, model.NewListingNotFoundError(listingID)
	}

	s.recorder.RecordComment("add")
	s.logger.Info("comment added",
		slog.String("listing_id", listingID),
		slog.String("comment_id", comment.ID),
		slog.String("user_id", user.ID),
	)
	return &comment, nil
}

// DeleteComment はセッションのユーザーが投稿したコメントを削除する。
// 他人のコメントや存在しないコメントはCOMMENT_NOT_FOUNDとして区別しない。
func (s *CommentService) DeleteComment(ctx context.Context, listingID, commentID, sessionToken string) error {
	user, err := s.sessions.ResolveSession(ctx, sessionToken)
	if err != nil {
		return err
	}

	ok, err := s.listings.RemoveComment(ctx, listingID, commentID, user.ID)
	if err != nil {
		return fmt.Errorf("failed to remove comment: %w", err)
	}
	if !ok {
		return model.NewCommentNotFoundError(commentID)
	}

	s.recorder.RecordComment("delete")
	s.logger.Info("comment deleted",
		slog.String("listing_id", listingID),
		slog.String("comment_id", commentID),
		slog.String("user_id", user.ID),
	)
	return nil
}
