package handler

import (
	"encoding/json"
	"fmt"

	"github.com/hitoshi/pasarmalam/internal/model"
)

// decodeListingPatch はPUTボディのキーごとに部分更新を組み立てる。
// id・createdAt・出品者・入札・コメントなどの変更不可なキーと未知のキーは無視する。
// priceにnullを指定した場合は価格を削除する。
func decodeListingPatch(fields map[string]json.RawMessage) (model.ListingPatch, error) {
	var p model.ListingPatch

	for key, raw := range fields {
		var err error
		switch key {
		case "type":
			p.Type, err = decodeOptional[model.ListingType](raw)
		case "title":
			p.Title, err = decodeOptional[string](raw)
		case "price":
			if string(raw) == "null" {
				p.ClearPrice = true
				continue
			}
			p.Price, err = decodeOptional[float64](raw)
		case "condition":
			p.Condition, err = decodeOptional[float64](raw)
		case "description":
			p.Description, err = decodeOptional[string](raw)
		case "image":
			p.Image, err = decodeOptional[string](raw)
		case "images":
			p.Images, err = decodeOptional[[]string](raw)
			if p.Images != nil && *p.Images == nil {
				*p.Images = []string{}
			}
		case "status":
			p.Status, err = decodeOptional[model.ListingStatus](raw)
		case "bggId":
			p.BggID, err = decodeOptional[string](raw)
		case "openForTrade":
			p.OpenForTrade, err = decodeOptional[bool](raw)
		case "isBNIS":
			p.IsBNIS, err = decodeOptional[bool](raw)
		}
		if err != nil {
			return model.ListingPatch{}, fmt.Errorf("invalid value for %q", key)
		}
	}
	return p, nil
}

// decodeOptional はJSON値をポインタにデコードする。nullの場合はnilを返す。
func decodeOptional[T any](raw json.RawMessage) (*T, error) {
	if string(raw) == "null" {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return &v, nil
}
