package bgg

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/hitoshi/pasarmalam/internal/model"
)

// gamePathPattern は/boardgame/{id}/{slug}形式のリンクからIDを取り出す。
var gamePathPattern = regexp.MustCompile(`^/boardgame(?:expansion)?/(\d+)`)

// HTMLSearcher はBGGの検索結果ページ（geeksearch.php）をスクレイピングする。
// XML APIがブロックされている場合のフォールバック。
type HTMLSearcher struct {
	client *Client
}

// NewHTMLSearcher はHTMLSearcherを生成する。
func NewHTMLSearcher(client *Client) *HTMLSearcher {
	return &HTMLSearcher{client: client}
}

// Name は戦略名を返す。
func (s *HTMLSearcher) Name() string { return "html_search" }

// Search は検索結果テーブルの各行からゲーム候補を抽出する。
func (s *HTMLSearcher) Search(ctx context.Context, query string) ([]model.GameCandidate, error) {
	q := url.Values{}
	q.Set("action", "search")
	q.Set("objecttype", "boardgame")
	q.Set("q", query)

	_, body, err := s.client.get(ctx, s.client.siteBase+"/geeksearch.php?"+q.Encode())
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse search page: %w", err)
	}
	return extractSearchRows(doc), nil
}

func extractSearchRows(doc *goquery.Document) []model.GameCandidate {
	var candidates []model.GameCandidate
	seen := make(map[string]bool)

	doc.Find("tr[id^='row_']").Each(func(_ int, row *goquery.Selection) {
		link := row.Find("td.collection_objectname a.primary").First()
		href, ok := link.Attr("href")
		if !ok {
			return
		}
		m := gamePathPattern.FindStringSubmatch(href)
		if m == nil || seen[m[1]] {
			return
		}
		seen[m[1]] = true

		year := strings.TrimSpace(row.Find("td.collection_objectname span.smallerfont").First().Text())
		year = strings.Trim(year, "()")

		thumb, _ := row.Find("td.collection_thumbnail img").First().Attr("src")

		candidates = append(candidates, model.GameCandidate{
			ID:        m[1],
			Title:     strings.TrimSpace(link.Text()),
			Year:      year,
			Thumbnail: thumb,
		})
	})
	return candidates
}

// HTMLDetailer はゲームの詳細ページのOpen Graphメタタグから画像と説明を取得する。
type HTMLDetailer struct {
	client *Client
}

// NewHTMLDetailer はHTMLDetailerを生成する。
func NewHTMLDetailer(client *Client) *HTMLDetailer {
	return &HTMLDetailer{client: client}
}

// Name は戦略名を返す。
func (d *HTMLDetailer) Name() string { return "html_page" }

// Details は/boardgame/{id}のog:imageとog:descriptionを読み取る。
// どちらも見つからない場合はnilを返す。
func (d *HTMLDetailer) Details(ctx context.Context, id string) (*Details, error) {
	_, body, err := d.client.get(ctx, d.client.siteBase+"/boardgame/"+url.PathEscape(id))
	if err != nil {
		return nil, err
	}

	meta := parseOpenGraph(body)
	if meta["og:image"] == "" && meta["og:description"] == "" {
		return nil, nil
	}
	return &Details{
		Image:       meta["og:image"],
		Description: meta["og:description"],
	}, nil
}

// parseOpenGraph はheadのmeta要素からog:*プロパティを抽出する。
func parseOpenGraph(body []byte) map[string]string {
	props := make(map[string]string)
	tokenizer := html.NewTokenizer(bytes.NewReader(body))

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return props

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := tokenizer.TagName()
			tagName := string(tn)

			if tagName == "body" {
				return props
			}
			if tagName != "meta" || !hasAttr {
				continue
			}

			var property, content string
			for {
				key, val, more := tokenizer.TagAttr()
				switch strings.ToLower(string(key)) {
				case "property", "name":
					if property == "" {
						property = strings.ToLower(string(val))
					}
				case "content":
					content = string(val)
				}
				if !more {
					break
				}
			}

			if strings.HasPrefix(property, "og:") && props[property] == "" {
				props[property] = content
			}
		}
	}
}
