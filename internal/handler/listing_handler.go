package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/pasarmalam/internal/middleware"
	"github.com/hitoshi/pasarmalam/internal/model"
)

// ListingServiceInterface は出品ハンドラーが必要とするサービスインターフェース。
type ListingServiceInterface interface {
	Create(ctx context.Context, drafts []model.ListingDraft) ([]*model.Listing, error)
	List(ctx context.Context, filter model.ListingFilter) ([]*model.Listing, error)
	Get(ctx context.Context, id string) (*model.Listing, error)
	Update(ctx context.Context, id string, patch model.ListingPatch) (*model.Listing, error)
	Delete(ctx context.Context, id string) error
}

// BidPlacer は入札を受け付けるインターフェース。
type BidPlacer interface {
	PlaceBid(ctx context.Context, listingID, bidderID string, amount float64) (float64, error)
}

// CommentServiceInterface はコメントの追加・削除を行うインターフェース。
type CommentServiceInterface interface {
	AddComment(ctx context.Context, listingID, sessionToken, text string) (*model.Comment, error)
	DeleteComment(ctx context.Context, listingID, commentID, sessionToken string) error
}

// ListingHandler は出品・入札・コメントのHTTPハンドラー。
type ListingHandler struct {
	listings ListingServiceInterface
	bids     BidPlacer
	comments CommentServiceInterface
}

// NewListingHandler はListingHandlerを生成する。
func NewListingHandler(listings ListingServiceInterface, bids BidPlacer, comments CommentServiceInterface) *ListingHandler {
	return &ListingHandler{
		listings: listings,
		bids:     bids,
		comments: comments,
	}
}

// listingResponse は出品のAPIレスポンス。
type listingResponse struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Title        string          `json:"title"`
	Price        *float64        `json:"price"`
	Condition    float64         `json:"condition"`
	Description  string          `json:"description"`
	Image        string          `json:"image"`
	Images       []string        `json:"images"`
	Status       string          `json:"status"`
	SellerID     string          `json:"sellerId"`
	SellerName   string          `json:"sellerName"`
	SellerPhone  string          `json:"sellerPhone,omitempty"`
	SellerFb     string          `json:"sellerFb,omitempty"`
	SellerAvatar string          `json:"sellerAvatar,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    *time.Time      `json:"updatedAt"`
	CurrentBid   *float64        `json:"currentBid"`
	BidCount     int             `json:"bidCount"`
	LastBidderID *string         `json:"lastBidderId"`
	BggID        *string         `json:"bggId"`
	OpenForTrade bool            `json:"openForTrade"`
	IsBNIS       bool            `json:"isBNIS"`
	Comments     []model.Comment `json:"comments"`
}

func toListingResponse(l *model.Listing) listingResponse {
	resp := listingResponse{
		ID:           l.ID,
		Type:         string(l.Type),
		Title:        l.Title,
		Price:        l.Price,
		Condition:    l.Condition,
		Description:  l.Description,
		Image:        l.Image,
		Images:       l.Images,
		Status:       string(l.Status),
		SellerID:     l.SellerID,
		SellerName:   l.SellerName,
		SellerPhone:  l.SellerPhone,
		SellerFb:     l.SellerFb,
		SellerAvatar: l.SellerAvatar,
		CreatedAt:    l.CreatedAt.UTC(),
		UpdatedAt:    l.UpdatedAt,
		CurrentBid:   l.CurrentBid,
		BidCount:     l.BidCount,
		LastBidderID: l.LastBidderID,
		BggID:        l.BggID,
		OpenForTrade: l.OpenForTrade,
		IsBNIS:       l.IsBNIS,
		Comments:     l.Comments,
	}
	if resp.Images == nil {
		resp.Images = []string{}
	}
	if resp.Comments == nil {
		resp.Comments = []model.Comment{}
	}
	return resp
}

func toListingResponses(listings []*model.Listing) []listingResponse {
	out := make([]listingResponse, 0, len(listings))
	for _, l := range listings {
		out = append(out, toListingResponse(l))
	}
	return out
}

// listingRequest は出品作成リクエストの1件分。
type listingRequest struct {
	ID           string     `json:"id"`
	Type         string     `json:"type"`
	Title        string     `json:"title"`
	Price        *float64   `json:"price"`
	Condition    *float64   `json:"condition"`
	Description  string     `json:"description"`
	Image        string     `json:"image"`
	Images       []string   `json:"images"`
	Status       string     `json:"status"`
	SellerID     string     `json:"sellerId"`
	SellerName   string     `json:"sellerName"`
	CreatedAt    *time.Time `json:"createdAt"`
	BggID        *string    `json:"bggId"`
	OpenForTrade bool       `json:"openForTrade"`
	IsBNIS       bool       `json:"isBNIS"`
}

func (req listingRequest) toDraft() model.ListingDraft {
	return model.ListingDraft{
		ID:           req.ID,
		Type:         model.ListingType(req.Type),
		Title:        req.Title,
		Price:        req.Price,
		Condition:    req.Condition,
		Description:  req.Description,
		Image:        req.Image,
		Images:       req.Images,
		Status:       model.ListingStatus(req.Status),
		SellerID:     req.SellerID,
		SellerName:   req.SellerName,
		CreatedAt:    req.CreatedAt,
		BggID:        req.BggID,
		OpenForTrade: req.OpenForTrade,
		IsBNIS:       req.IsBNIS,
	}
}

type bidRequest struct {
	BidAmount float64 `json:"bidAmount"`
	UserID    string  `json:"userId"` // 互換性のため受け付けるが、入札者はセッションから決める
}

type bidResponse struct {
	Status string  `json:"status"`
	NewBid float64 `json:"newBid"`
}

type commentRequest struct {
	Text string `json:"text"`
}

// ListListings は出品一覧を返す。
// GET /api/listings?type=&sellerId=
func (h *ListingHandler) ListListings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	listings, err := h.listings.List(r.Context(), model.ListingFilter{
		Type:     model.ListingType(q.Get("type")),
		SellerID: q.Get("sellerId"),
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toListingResponses(listings))
}

// GetListing は出品1件を返す。
// GET /api/listings/{id}
func (h *ListingHandler) GetListing(w http.ResponseWriter, r *http.Request) {
	l, err := h.listings.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toListingResponse(l))
}

// CreateListings は出品を一括作成する。ボディは配列または単一のオブジェクト。
// 出品者は常にログインユーザーになる。
// POST /api/listings
func (h *ListingHandler) CreateListings(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}

	var raw json.RawMessage
	if !decodeJSONBody(w, r, &raw) {
		return
	}
	reqs, err := decodeListingRequests(raw)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("Body must be a listing or an array of listings."))
		return
	}

	drafts := make([]model.ListingDraft, 0, len(reqs))
	for _, req := range reqs {
		if req.SellerID != "" && req.SellerID != user.ID {
			writeAPIErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
			return
		}
		req.SellerID = user.ID
		drafts = append(drafts, req.toDraft())
	}

	created, err := h.listings.Create(r.Context(), drafts)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toListingResponses(created))
}

// UpdateListing は出品を部分更新する。出品者本人のみ実行できる。
// PUT /api/listings/{id}
func (h *ListingHandler) UpdateListing(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}
	id := chi.URLParam(r, "id")

	var fields map[string]json.RawMessage
	if !decodeJSONBody(w, r, &fields) {
		return
	}
	patch, err := decodeListingPatch(fields)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError(err.Error()))
		return
	}

	if !h.authorizeSeller(w, r, id, user.ID) {
		return
	}

	l, err := h.listings.Update(r.Context(), id, patch)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toListingResponse(l))
}

// DeleteListing は出品を削除する。出品者本人のみ実行できる。
// DELETE /api/listings/{id}
func (h *ListingHandler) DeleteListing(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}
	id := chi.URLParam(r, "id")

	if !h.authorizeSeller(w, r, id, user.ID) {
		return
	}

	if err := h.listings.Delete(r.Context(), id); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "success"})
}

// PlaceBid は出品に入札する。
// POST /api/listings/{id}/bid
func (h *ListingHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}

	var req bidRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	newBid, err := h.bids.PlaceBid(r.Context(), chi.URLParam(r, "id"), user.ID, req.BidAmount)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bidResponse{Status: "success", NewBid: newBid})
}

// AddComment は出品にコメントを追加する。
// POST /api/listings/{id}/comments
func (h *ListingHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	var req commentRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	comment, err := h.comments.AddComment(r.Context(), chi.URLParam(r, "id"), middleware.SessionTokenFromContext(r.Context()), req.Text)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, comment)
}

// DeleteComment は自分のコメントを削除する。
// DELETE /api/listings/{id}/comments/{commentId}
func (h *ListingHandler) DeleteComment(w http.ResponseWriter, r *http.Request) {
	err := h.comments.DeleteComment(r.Context(),
		chi.URLParam(r, "id"),
		chi.URLParam(r, "commentId"),
		middleware.SessionTokenFromContext(r.Context()),
	)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "success"})
}

// authorizeSeller は出品が存在し、ユーザーがその出品者であることを確認する。
// 条件を満たさない場合はエラーレスポンスを書き込みfalseを返す。
func (h *ListingHandler) authorizeSeller(w http.ResponseWriter, r *http.Request, listingID, userID string) bool {
	l, err := h.listings.Get(r.Context(), listingID)
	if err != nil {
		handleServiceError(w, err)
		return false
	}
	if l.SellerID != userID {
		writeAPIErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
		return false
	}
	return true
}

// decodeListingRequests は配列または単一オブジェクトのJSONを出品リクエストの列にする。
func decodeListingRequests(raw json.RawMessage) ([]listingRequest, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var reqs []listingRequest
		if err := json.Unmarshal(trimmed, &reqs); err != nil {
			return nil, err
		}
		return reqs, nil
	}
	var req listingRequest
	if err := json.Unmarshal(trimmed, &req); err != nil {
		return nil, err
	}
	return []listingRequest{req}, nil
}
