package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/pasarmalam/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// Detailはフロントエンドが表示に使うメッセージで、Messageと同じ値を持つ。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Detail   string `json:"detail"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

func newErrorResponseBody(apiErr *model.APIError) ErrorResponseBody {
	return ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Detail:   apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	}
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// apiErrがnilの場合は内部エラーとして扱う。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	if apiErr == nil {
		statusCode = http.StatusInternalServerError
		apiErr = model.NewInternalError()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(newErrorResponseBody(apiErr))
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}
