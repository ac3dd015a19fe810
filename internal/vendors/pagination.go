package vendors

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/nordledger/gateway/internal/core"
)

// Page is one decoded page from a vendor listing, normalized across dialects.
type Page struct {
	Items      []map[string]interface{}
	Page       int
	TotalPages int
	TotalCount int
	HasMore    bool
}

// pageParams appends the vendor's pagination query parameters.
func pageParams(provider core.Provider, q url.Values, page, pageSize int) {
	switch provider {
	case core.ProviderFortnox:
		q.Set("page", strconv.Itoa(page))
		q.Set("limit", strconv.Itoa(pageSize))
	case core.ProviderVisma:
		q.Set("$top", strconv.Itoa(pageSize))
		q.Set("$skip", strconv.Itoa((page-1)*pageSize))
	case core.ProviderBriox, core.ProviderBjornLunden:
		q.Set("pageRequested", strconv.Itoa(page))
		q.Set("rowsRequested", strconv.Itoa(pageSize))
	case core.ProviderBokio:
		q.Set("page", strconv.Itoa(page))
		q.Set("pageSize", strconv.Itoa(pageSize))
	}
}

// parsePage decodes a listing body in the vendor's envelope dialect. listKey
// names the JSON key the collection lives under where the dialect needs one.
func parsePage(provider core.Provider, body []byte, listKey string, page, pageSize int) (*Page, error) {
	switch provider {
	case core.ProviderFortnox:
		return parseFortnoxPage(body, listKey, page)
	case core.ProviderVisma:
		return parseVismaPage(body, page)
	case core.ProviderBriox, core.ProviderBjornLunden:
		return parseBrioxPage(body, listKey, page, pageSize)
	case core.ProviderBokio:
		return parseBokioPage(body, listKey, page, pageSize)
	default:
		return nil, fmt.Errorf("no pagination dialect for provider %q", provider)
	}
}

// Fortnox: {"MetaInformation":{"@TotalPages":N,"@CurrentPage":N,"@TotalResources":N},"Invoices":[...]}
func parseFortnoxPage(body []byte, listKey string, page int) (*Page, error) {
	var envelope struct {
		Meta struct {
			TotalPages     json.Number `json:"@TotalPages"`
			CurrentPage    json.Number `json:"@CurrentPage"`
			TotalResources json.Number `json:"@TotalResources"`
		} `json:"MetaInformation"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("fortnox envelope: %w", err)
	}
	items, err := itemsUnderKey(body, listKey)
	if err != nil {
		return nil, err
	}
	p := &Page{Items: items, Page: page}
	p.TotalPages = numToInt(envelope.Meta.TotalPages)
	p.TotalCount = numToInt(envelope.Meta.TotalResources)
	if cur := numToInt(envelope.Meta.CurrentPage); cur > 0 {
		p.Page = cur
	}
	p.HasMore = p.Page < p.TotalPages
	return p, nil
}

// Visma: {"Meta":{"CurrentPage":N,"TotalNumberOfPages":N,"TotalNumberOfResults":N},"Data":[...]}
func parseVismaPage(body []byte, page int) (*Page, error) {
	var envelope struct {
		Meta struct {
			CurrentPage          int `json:"CurrentPage"`
			TotalNumberOfPages   int `json:"TotalNumberOfPages"`
			TotalNumberOfResults int `json:"TotalNumberOfResults"`
		} `json:"Meta"`
		Data []map[string]interface{} `json:"Data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("visma envelope: %w", err)
	}
	p := &Page{
		Items:      envelope.Data,
		Page:       page,
		TotalPages: envelope.Meta.TotalNumberOfPages,
		TotalCount: envelope.Meta.TotalNumberOfResults,
	}
	if envelope.Meta.CurrentPage > 0 {
		p.Page = envelope.Meta.CurrentPage
	}
	p.HasMore = p.Page < p.TotalPages
	return p, nil
}

// Briox: {"pageRequested":N,"totalPages":N,"totalRows":N,"data":{...}}
// Björn Lundén uses the same envelope with a "rows" alias for totalRows, and
// may instead return a bare JSON array.
func parseBrioxPage(body []byte, listKey string, page, pageSize int) (*Page, error) {
	if len(body) > 0 && body[0] == '[' {
		var items []map[string]interface{}
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("bare array listing: %w", err)
		}
		return &Page{
			Items:      items,
			Page:       page,
			TotalPages: 1,
			TotalCount: len(items),
			HasMore:    false,
		}, nil
	}

	var envelope struct {
		PageRequested int             `json:"pageRequested"`
		TotalPages    int             `json:"totalPages"`
		TotalRows     int             `json:"totalRows"`
		Rows          int             `json:"rows"`
		Data          json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("briox envelope: %w", err)
	}

	items, err := itemsFromDataField(envelope.Data, listKey)
	if err != nil {
		return nil, err
	}

	p := &Page{Items: items, Page: page, TotalPages: envelope.TotalPages}
	if envelope.PageRequested > 0 {
		p.Page = envelope.PageRequested
	}
	p.TotalCount = envelope.TotalRows
	if p.TotalCount == 0 {
		p.TotalCount = envelope.Rows
	}
	switch {
	case p.TotalPages > 0:
		p.HasMore = p.Page < p.TotalPages
	default:
		p.HasMore = pageSize > 0 && len(items) == pageSize
	}
	return p, nil
}

// Bokio: no page metadata contract; a full page implies there may be more.
func parseBokioPage(body []byte, listKey string, page, pageSize int) (*Page, error) {
	var items []map[string]interface{}
	var err error
	if len(body) > 0 && body[0] == '[' {
		err = json.Unmarshal(body, &items)
	} else {
		items, err = itemsUnderKey(body, listKey)
	}
	if err != nil {
		return nil, fmt.Errorf("bokio listing: %w", err)
	}
	return &Page{
		Items:      items,
		Page:       page,
		TotalCount: len(items),
		HasMore:    pageSize > 0 && len(items) == pageSize,
	}, nil
}

// itemsUnderKey pulls the collection array at the named top-level key.
func itemsUnderKey(body []byte, listKey string) ([]map[string]interface{}, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return nil, fmt.Errorf("listing envelope: %w", err)
	}
	raw, ok := top[listKey]
	if !ok {
		return nil, nil
	}
	var items []map[string]interface{}
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("collection %q: %w", listKey, err)
	}
	return items, nil
}

// itemsFromDataField handles the Briox "data" member, which is either the
// collection array itself or an object wrapping it under listKey.
func itemsFromDataField(data json.RawMessage, listKey string) ([]map[string]interface{}, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	if data[0] == '[' {
		var items []map[string]interface{}
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("data array: %w", err)
		}
		return items, nil
	}
	return itemsUnderKey(data, listKey)
}

func numToInt(n json.Number) int {
	if n == "" {
		return 0
	}
	if i, err := n.Int64(); err == nil {
		return int(i)
	}
	if f, err := n.Float64(); err == nil {
		return int(f)
	}
	return 0
}
