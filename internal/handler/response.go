package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/pasarmalam/internal/middleware"
	"github.com/hitoshi/pasarmalam/internal/model"
)

// maxRequestBodySize はJSONリクエストボディの上限。画像のdata URIを含むため大きめにする。
const maxRequestBodySize = 16 << 20

// statusResponse は処理結果のみを返すレスポンス。
type statusResponse struct {
	Status string `json:"status"`
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// decodeJSONBody はリクエストボディをJSONとしてデコードする。
// 失敗した場合は400レスポンスを書き込みfalseを返す。
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("Request body must be valid JSON."))
		return false
	}
	return true
}

// handleServiceError はサービス層のエラーを適切なHTTPレスポンスに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeListingNotFound, model.ErrCodeCommentNotFound, model.ErrCodeUserNotFound:
		return http.StatusNotFound
	case model.ErrCodeUnauthorized, model.ErrCodeInvalidCredential:
		return http.StatusUnauthorized
	case model.ErrCodeEmailConflict, model.ErrCodeListingConflict:
		return http.StatusConflict
	case model.ErrCodeInvalidBid, model.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodeUpstreamFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// requireUser はコンテキストから認証済みユーザーを取得する。
// 未認証の場合は401レスポンスを書き込みnilを返す。
func requireUser(w http.ResponseWriter, r *http.Request) *model.User {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return nil
	}
	return user
}
