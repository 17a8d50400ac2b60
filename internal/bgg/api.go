package bgg

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hitoshi/pasarmalam/internal/model"
)

// XML API2のレスポンス構造（必要な要素のみ）
type xmlItems struct {
	Items []xmlItem `xml:"item"`
}

type xmlItem struct {
	ID            string    `xml:"id,attr"`
	Names         []xmlName `xml:"name"`
	YearPublished xmlValue  `xml:"yearpublished"`
	Thumbnail     string    `xml:"thumbnail"`
	Image         string    `xml:"image"`
	Description   string    `xml:"description"`
}

type xmlName struct {
	Type  string `xml:"type,attr"`
	Value string `xml:"value,attr"`
}

type xmlValue struct {
	Value string `xml:"value,attr"`
}

// primaryName はtype="primary"の名前を優先して返す。
func (it xmlItem) primaryName() string {
	for _, n := range it.Names {
		if n.Type == "primary" {
			return n.Value
		}
	}
	if len(it.Names) > 0 {
		return it.Names[0].Value
	}
	return ""
}

func decodeItems(body []byte) ([]xmlItem, error) {
	var items xmlItems
	if err := xml.NewDecoder(bytes.NewReader(body)).Decode(&items); err != nil {
		return nil, fmt.Errorf("failed to decode BGG XML: %w", err)
	}
	return items.Items, nil
}

// APISearcher はXML API2のsearchエンドポイントで検索する。
type APISearcher struct {
	client *Client
}

// NewAPISearcher はAPISearcherを生成する。
func NewAPISearcher(client *Client) *APISearcher {
	return &APISearcher{client: client}
}

// Name は戦略名を返す。
func (s *APISearcher) Name() string { return "api_search" }

// Search はボードゲームを検索する。
// BGGは処理中の場合に202を返すため、その場合は空の結果とする。
func (s *APISearcher) Search(ctx context.Context, query string) ([]model.GameCandidate, error) {
	q := url.Values{}
	q.Set("query", query)
	q.Set("type", "boardgame")

	status, body, err := s.client.get(ctx, s.client.apiBase+"/search?"+q.Encode())
	if err != nil {
		return nil, err
	}
	if status == http.StatusAccepted {
		return nil, nil
	}

	items, err := decodeItems(body)
	if err != nil {
		return nil, err
	}

	candidates := make([]model.GameCandidate, 0, len(items))
	for _, it := range items {
		if it.ID == "" {
			continue
		}
		candidates = append(candidates, model.GameCandidate{
			ID:    it.ID,
			Title: it.primaryName(),
			Year:  it.YearPublished.Value,
		})
	}
	return candidates, nil
}

// APIDetailer はXML API2のthingエンドポイントで詳細を取得する。
type APIDetailer struct {
	client *Client
}

// NewAPIDetailer はAPIDetailerを生成する。
func NewAPIDetailer(client *Client) *APIDetailer {
	return &APIDetailer{client: client}
}

// Name は戦略名を返す。
func (d *APIDetailer) Name() string { return "api_thing" }

// Details は指定IDのゲームの画像と説明を取得する。該当がなければnilを返す。
func (d *APIDetailer) Details(ctx context.Context, id string) (*Details, error) {
	q := url.Values{}
	q.Set("id", id)

	status, body, err := d.client.get(ctx, d.client.apiBase+"/thing?"+q.Encode())
	if err != nil {
		return nil, err
	}
	if status == http.StatusAccepted {
		return nil, nil
	}

	items, err := decodeItems(body)
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		if it.ID == id {
			return &Details{
				Image:       it.Image,
				Thumbnail:   it.Thumbnail,
				Description: it.Description,
			}, nil
		}
	}
	return nil, nil
}
