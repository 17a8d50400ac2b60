package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/pasarmalam/internal/model"
)

// GameSearcher はボードゲームメタデータを検索するインターフェース。エラーは返さない。
type GameSearcher interface {
	Search(ctx context.Context, query string) []model.GameCandidate
}

// ListingExtractor は画像やテキストから出品の下書きを抽出するインターフェース。
type ListingExtractor interface {
	ScanImage(ctx context.Context, imageBase64 string) ([]model.ListingDraft, error)
	ParseText(ctx context.Context, text string, hintType model.ListingType) ([]model.ListingDraft, error)
}

// LookupHandler はメタデータ検索とAI抽出のHTTPハンドラー。
type LookupHandler struct {
	games     GameSearcher
	extractor ListingExtractor
}

// NewLookupHandler はLookupHandlerを生成する。
func NewLookupHandler(games GameSearcher, extractor ListingExtractor) *LookupHandler {
	return &LookupHandler{
		games:     games,
		extractor: extractor,
	}
}

// draftResponse はAI抽出結果の下書き1件。
type draftResponse struct {
	Type        string   `json:"type"`
	Title       string   `json:"title"`
	Price       *float64 `json:"price"`
	Condition   float64  `json:"condition"`
	Description string   `json:"description"`
}

func toDraftResponses(drafts []model.ListingDraft) []draftResponse {
	out := make([]draftResponse, 0, len(drafts))
	for _, d := range drafts {
		resp := draftResponse{
			Type:        string(d.Type),
			Title:       d.Title,
			Price:       d.Price,
			Condition:   model.DefaultCondition,
			Description: d.Description,
		}
		if d.Condition != nil {
			resp.Condition = *d.Condition
		}
		out = append(out, resp)
	}
	return out
}

type scanImageRequest struct {
	Image string `json:"image"`
}

type parseTextRequest struct {
	Text string `json:"text"`
	Type string `json:"type"`
}

// SearchGames はボードゲームの候補を返す。失敗時は空配列になる。
// GET /api/bgg/search?q=
func (h *LookupHandler) SearchGames(w http.ResponseWriter, r *http.Request) {
	candidates := h.games.Search(r.Context(), r.URL.Query().Get("q"))
	if candidates == nil {
		candidates = []model.GameCandidate{}
	}
	writeJSON(w, http.StatusOK, candidates)
}

// ScanImage は画像に写ったボードゲームを下書きとして返す。
// POST /api/ai/scan-image
func (h *LookupHandler) ScanImage(w http.ResponseWriter, r *http.Request) {
	var req scanImageRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	drafts, err := h.extractor.ScanImage(r.Context(), req.Image)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDraftResponses(drafts))
}

// ParseText は販売投稿のテキストから下書きを抽出する。
// POST /api/ai/parse-text
func (h *LookupHandler) ParseText(w http.ResponseWriter, r *http.Request) {
	var req parseTextRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	drafts, err := h.extractor.ParseText(r.Context(), req.Text, model.ListingType(req.Type))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDraftResponses(drafts))
}
