package bgg

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/pasarmalam/internal/model"
	"github.com/hitoshi/pasarmalam/internal/security"
)

const (
	// MinQueryLength はこれより短い検索語では外部呼び出しを行わない文字数。
	MinQueryLength = 3
	// MaxResults は返す候補の最大件数。
	MaxResults = 5
)

// 戦略ごとの結果
const (
	outcomeHit   = "hit"
	outcomeEmpty = "empty"
	outcomeError = "error"
)

// Details は詳細取得で得られるゲームの補足情報。
type Details struct {
	Image       string
	Thumbnail   string
	Description string
}

// Searcher は検索語からゲーム候補を返す検索戦略。
type Searcher interface {
	Name() string
	Search(ctx context.Context, query string) ([]model.GameCandidate, error)
}

// Detailer はゲームIDから詳細を返す詳細取得戦略。該当がなければnil, nilを返す。
type Detailer interface {
	Name() string
	Details(ctx context.Context, id string) (*Details, error)
}

// Recorder は戦略ごとの結果を記録する。
type Recorder interface {
	RecordLookup(strategy, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordLookup(string, string) {}

// Lookup は検索戦略と詳細取得戦略を順に試すメタデータ検索。
// 外部呼び出しの失敗はログに残し、空または部分的な結果として扱う。
type Lookup struct {
	searchers []Searcher
	detailers []Detailer
	sanitizer security.TextSanitizer
	recorder  Recorder
	logger    *slog.Logger
}

// NewLookup はLookupを生成する。searchers、detailersは試す順に渡す。
func NewLookup(searchers []Searcher, detailers []Detailer, sanitizer security.TextSanitizer, recorder Recorder, logger *slog.Logger) *Lookup {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Lookup{
		searchers: searchers,
		detailers: detailers,
		sanitizer: sanitizer,
		recorder:  recorder,
		logger:    logger,
	}
}

// NewDefaultLookup はXML API、HTMLスクレイピングの順に試す標準構成のLookupを生成する。
func NewDefaultLookup(client *Client, sanitizer security.TextSanitizer, recorder Recorder, logger *slog.Logger) *Lookup {
	return NewLookup(
		[]Searcher{NewAPISearcher(client), NewHTMLSearcher(client)},
		[]Detailer{NewAPIDetailer(client), NewHTMLDetailer(client)},
		sanitizer, recorder, logger,
	)
}

// Search は最大5件のゲーム候補を返す。エラーは返さない。
// 3文字未満の検索語は外部呼び出しなしで空の結果を返す。
func (l *Lookup) Search(ctx context.Context, query string) []model.GameCandidate {
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) < MinQueryLength {
		return []model.GameCandidate{}
	}

	candidates := l.search(ctx, query)
	if len(candidates) > MaxResults {
		candidates = candidates[:MaxResults]
	}

	for i := range candidates {
		l.enrich(ctx, &candidates[i])
		candidates[i].Image = security.NormalizeImageURL(candidates[i].Image)
		candidates[i].Thumbnail = security.NormalizeImageURL(candidates[i].Thumbnail)
	}
	return candidates
}

// search は最初に空でない結果を返した戦略の結果を使う。
func (l *Lookup) search(ctx context.Context, query string) []model.GameCandidate {
	for _, s := range l.searchers {
		found, err := s.Search(ctx, query)
		if err != nil {
			l.recorder.RecordLookup(s.Name(), outcomeError)
			l.logger.Warn("game search strategy failed",
				slog.String("strategy", s.Name()),
				slog.String("query", query),
				slog.String("error", err.Error()),
			)
			continue
		}
		if len(found) == 0 {
			l.recorder.RecordLookup(s.Name(), outcomeEmpty)
			continue
		}
		l.recorder.RecordLookup(s.Name(), outcomeHit)
		return found
	}
	return []model.GameCandidate{}
}

// enrich は候補ごとに詳細取得戦略を順に試し、得られた項目で上書きする。
// すべて失敗した場合は検索結果の値のまま残す。
func (l *Lookup) enrich(ctx context.Context, c *model.GameCandidate) {
	for _, d := range l.detailers {
		details, err := d.Details(ctx, c.ID)
		if err != nil {
			l.recorder.RecordLookup(d.Name(), outcomeError)
			l.logger.Warn("game detail strategy failed",
				slog.String("strategy", d.Name()),
				slog.String("game_id", c.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if details == nil {
			l.recorder.RecordLookup(d.Name(), outcomeEmpty)
			continue
		}

		l.recorder.RecordLookup(d.Name(), outcomeHit)
		if details.Image != "" {
			c.Image = details.Image
		}
		if details.Thumbnail != "" {
			c.Thumbnail = details.Thumbnail
		}
		if details.Description != "" {
			c.Description = l.sanitizer.Sanitize(details.Description)
		}
		return
	}
}
