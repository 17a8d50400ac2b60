package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, listing, upstream, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeListingNotFound   = "LISTING_NOT_FOUND"
	ErrCodeCommentNotFound   = "COMMENT_NOT_FOUND"
	ErrCodeUserNotFound      = "USER_NOT_FOUND"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeInvalidCredential = "INVALID_CREDENTIALS"
	ErrCodeEmailConflict     = "EMAIL_ALREADY_REGISTERED"
	ErrCodeListingConflict   = "LISTING_ALREADY_EXISTS"
	ErrCodeInvalidBid        = "INVALID_BID"
	ErrCodeUpstreamFailure   = "UPSTREAM_FAILURE"
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeRateLimited       = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

// NewListingNotFoundError は出品未検出エラーを生成する。
func NewListingNotFoundError(listingID string) *APIError {
	return &APIError{
		Code:     ErrCodeListingNotFound,
		Message:  fmt.Sprintf("Listing not found: %s", listingID),
		Category: "listing",
		Action:   "The listing may have been removed. Refresh the marketplace.",
	}
}

// NewCommentNotFoundError はコメント未検出エラーを生成する。
// 他人のコメントを削除しようとした場合もこのエラーになる。
func NewCommentNotFoundError(commentID string) *APIError {
	return &APIError{
		Code:     ErrCodeCommentNotFound,
		Message:  fmt.Sprintf("Comment not found: %s", commentID),
		Category: "listing",
		Action:   "Only the author can delete a comment.",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found.",
		Category: "auth",
		Action:   "Please sign in again.",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Not authenticated.",
		Category: "auth",
		Action:   "Please sign in.",
	}
}

// NewInvalidCredentialsError は認証情報不一致エラーを生成する。
// メールアドレス未登録とパスワード不一致を区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredential,
		Message:  "Invalid email or password.",
		Category: "auth",
		Action:   "Check your email and password and try again.",
	}
}

// NewEmailConflictError はメールアドレス重複エラーを生成する。
func NewEmailConflictError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailConflict,
		Message:  "Email already registered.",
		Category: "auth",
		Action:   "Sign in with this email or use a different one.",
	}
}

// NewCurrentPasswordMismatchError はパスワード変更時に現在のパスワードが一致しない場合のエラーを生成する。
func NewCurrentPasswordMismatchError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredential,
		Message:  "Current password is incorrect.",
		Category: "auth",
		Action:   "Enter your current password to set a new one.",
	}
}

// NewListingConflictError は指定された出品IDが既に使われている場合のエラーを生成する。
func NewListingConflictError() *APIError {
	return &APIError{
		Code:     ErrCodeListingConflict,
		Message:  "A listing with this id already exists.",
		Category: "listing",
		Action:   "Omit the id to let the server assign one.",
	}
}

// NewInvalidBidError は入札額が現在額以下の場合のエラーを生成する。
func NewInvalidBidError(amount, current float64) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidBid,
		Message:  fmt.Sprintf("Bid must be higher than current (bid %.2f, current %.2f)", amount, current),
		Category: "listing",
		Action:   "Enter an amount higher than the current bid.",
	}
}

// NewUpstreamFailureError は外部サービス呼び出し失敗エラーを生成する。
func NewUpstreamFailureError(service string) *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamFailure,
		Message:  fmt.Sprintf("%s is temporarily unavailable.", service),
		Category: "upstream",
		Action:   "Please wait a moment and try again.",
	}
}

// NewInvalidRequestError はリクエスト内容の検証エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  reason,
		Category: "validation",
		Action:   "Fix the request and try again.",
	}
}

// NewForbiddenError は他人の出品を操作しようとした場合のエラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "You can only modify your own listings.",
		Category: "auth",
		Action:   "Sign in as the seller of this listing.",
	}
}

// NewCrossOriginError は許可されていないオリジンからの状態変更リクエストを拒否するエラーを生成する。
func NewCrossOriginError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "Cross-origin request rejected.",
		Category: "auth",
		Action:   "Use the marketplace from its official site.",
	}
}

// NewRateLimitError はレート制限超過エラーを生成する。
func NewRateLimitError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "Too many requests. Please try again later.",
		Category: "system",
		Action:   "Please wait and retry after the specified time.",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログにのみ記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "An internal error occurred.",
		Category: "system",
		Action:   "Please wait a moment and try again.",
	}
}
