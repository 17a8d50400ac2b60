package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/pasarmalam/internal/model"
)

// 抽出の結果
const (
	outcomeOK         = "ok"
	outcomeUnparsable = "unparsable"
	outcomeError      = "error"
)

const (
	scanSystemPrompt  = "You are a board game expert."
	parseSystemPrompt = "You are a board game marketplace assistant."

	scanPrompt = `Look at this image of board games. Identify ALL board games visible.
Return a JSON ARRAY of objects. Each object must have:
- "title" (string)
- "price" (number, 0 if not visible)
- "condition" (number 1.0 to 10.0, estimate based on wear, default 8.0)
- "description" (short text)
Strictly JSON array only. Do not wrap in markdown.`

	parsePromptTemplate = `Analyze this selling post. Extract ALL listed items into a JSON ARRAY.
Each object keys: "title", "price" (number only), "condition" (number 1.0-10.0), "description".
Text: %q
Strictly JSON array only. Do not wrap in markdown.`
)

// Recorder はAI呼び出しの結果と所要時間を記録する。
type Recorder interface {
	RecordAIRequest(operation, outcome string, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordAIRequest(string, string, time.Duration) {}

// Extractor は画像や投稿文から出品の下書きを抽出する。
// モデルの応答がJSONとして解釈できない場合は空のリストを返す。
// 通信やプロバイダの失敗はUPSTREAM_FAILUREとして返す。
type Extractor struct {
	completer Completer
	recorder  Recorder
	logger    *slog.Logger
	now       func() time.Time
}

// NewExtractor はExtractorを生成する。
func NewExtractor(completer Completer, recorder Recorder, logger *slog.Logger) *Extractor {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		completer: completer,
		recorder:  recorder,
		logger:    logger,
		now:       time.Now,
	}
}

// ScanImage は写真に写っているボードゲームを下書きとして返す。
// imageBase64はbase64文字列またはdata URI。下書きの種別はWTSとする。
func (e *Extractor) ScanImage(ctx context.Context, imageBase64 string) ([]model.ListingDraft, error) {
	dataURI, err := toDataURI(imageBase64)
	if err != nil {
		return nil, err
	}

	messages := []Message{
		{Role: "system", Content: scanSystemPrompt},
		{Role: "user", Content: []ContentPart{
			{Type: "text", Text: scanPrompt},
			{Type: "image_url", ImageURL: &ImageURL{URL: dataURI}},
		}},
	}
	return e.extract(ctx, "scan_image", messages, model.ListingTypeSell)
}

// ParseText は売買の投稿文から出品を抽出する。
// 下書きの種別はhintType（空の場合はWTS）とする。
func (e *Extractor) ParseText(ctx context.Context, text string, hintType model.ListingType) ([]model.ListingDraft, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, model.NewInvalidRequestError("text is required")
	}
	if hintType == "" {
		hintType = model.ListingTypeSell
	}
	if !hintType.IsValid() {
		return nil, model.NewInvalidRequestError(fmt.Sprintf("invalid listing type: %q", hintType))
	}

	messages := []Message{
		{Role: "system", Content: parseSystemPrompt},
		{Role: "user", Content: fmt.Sprintf(parsePromptTemplate, text)},
	}
	return e.extract(ctx, "parse_text", messages, hintType)
}

func (e *Extractor) extract(ctx context.Context, operation string, messages []Message, listingType model.ListingType) ([]model.ListingDraft, error) {
	start := e.now()
	raw, err := e.completer.Complete(ctx, messages)
	elapsed := e.now().Sub(start)
	if err != nil {
		e.recorder.RecordAIRequest(operation, outcomeError, elapsed)
		e.logger.Error("AI completion failed",
			slog.String("operation", operation),
			slog.String("error", err.Error()),
		)
		return nil, model.NewUpstreamFailureError("AI extraction")
	}

	items, err := parseItems(raw)
	if err != nil {
		e.recorder.RecordAIRequest(operation, outcomeUnparsable, elapsed)
		e.logger.Warn("AI response is not a JSON array",
			slog.String("operation", operation),
			slog.String("error", err.Error()),
			slog.Int("response_length", len(raw)),
		)
		return []model.ListingDraft{}, nil
	}

	e.recorder.RecordAIRequest(operation, outcomeOK, elapsed)
	drafts := make([]model.ListingDraft, 0, len(items))
	for _, it := range items {
		title := strings.TrimSpace(it.Title)
		if title == "" {
			continue
		}
		drafts = append(drafts, it.toDraft(title, listingType))
	}
	return drafts, nil
}

// extractedItem はモデルが返すJSON配列の要素。
type extractedItem struct {
	Title       string     `json:"title"`
	Price       *flexFloat `json:"price"`
	Condition   *flexFloat `json:"condition"`
	Description string     `json:"description"`
}

func (it extractedItem) toDraft(title string, listingType model.ListingType) model.ListingDraft {
	condition := model.DefaultCondition
	if it.Condition != nil && *it.Condition > 0 {
		condition = math.Min(float64(*it.Condition), 10)
	}
	d := model.ListingDraft{
		Type:        listingType,
		Title:       title,
		Condition:   &condition,
		Description: strings.TrimSpace(it.Description),
	}
	if it.Price != nil {
		price := float64(*it.Price)
		d.Price = &price
	}
	return d
}

// flexFloat は数値または数値文字列（"RM 120"のような通貨表記を含む）を受け付ける。
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	var n float64
	if err := json.Unmarshal(b, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "RM"))
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("not a number: %q", s)
	}
	*f = flexFloat(n)
	return nil
}

// parseItems はコードフェンスを取り除いた応答をJSON配列として解釈する。
func parseItems(raw string) ([]extractedItem, error) {
	text := stripCodeFence(raw)
	var items []extractedItem
	if err := json.Unmarshal([]byte(text), &items); err != nil {
		// 前後に説明文が付いている場合は配列部分だけを試す
		start, end := strings.Index(text, "["), strings.LastIndex(text, "]")
		if start < 0 || end <= start {
			return nil, err
		}
		if err2 := json.Unmarshal([]byte(text[start:end+1]), &items); err2 != nil {
			return nil, err
		}
	}
	return items, nil
}

func stripCodeFence(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```JSON", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

// toDataURI はbase64文字列をdata URIに正規化する。
// data URIの場合はMIMEタイプを保持し、それ以外はimage/jpegとみなす。
func toDataURI(image string) (string, error) {
	image = strings.TrimSpace(image)
	mime := "image/jpeg"
	if strings.HasPrefix(image, "data:") {
		idx := strings.Index(image, "base64,")
		if idx < 0 {
			return "", model.NewInvalidRequestError("image must be base64 encoded")
		}
		if m := strings.TrimSuffix(image[len("data:"):idx], ";"); m != "" {
			mime = m
		}
		image = image[idx+len("base64,"):]
	}
	if image == "" {
		return "", model.NewInvalidRequestError("image is required")
	}
	return "data:" + mime + ";base64," + image, nil
}
