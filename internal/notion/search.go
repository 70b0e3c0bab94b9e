package notion

import (
	"encoding/json"
	"strings"
)

type searchResult struct {
	ID         string                     `json:"id"`
	URL        string                     `json:"url"`
	Icon       *searchIcon                `json:"icon"`
	Properties map[string]json.RawMessage `json:"properties"`
	Parent     struct {
		Page struct {
			Title string `json:"title"`
		} `json:"page"`
	} `json:"parent"`
}

type searchIcon struct {
	Emoji string `json:"emoji"`
}

type titleProperty struct {
	Title []struct {
		Text struct {
			Content string `json:"content"`
		} `json:"text"`
		PlainText string `json:"plain_text"`
	} `json:"title"`
}

// parseSearchResult pulls a usable page out of one search hit. Notion
// puts the title under a workspace-defined property name, so every
// property is tried until one carries a title array.
func parseSearchResult(raw json.RawMessage) (Page, bool) {
	var result searchResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return Page{}, false
	}
	if strings.TrimSpace(result.ID) == "" {
		return Page{}, false
	}
	page := Page{ID: result.ID, URL: result.URL}
	if result.Icon != nil {
		page.Icon = result.Icon.Emoji
	}
	for _, rawProp := range result.Properties {
		var prop titleProperty
		if err := json.Unmarshal(rawProp, &prop); err != nil {
			continue
		}
		if len(prop.Title) == 0 {
			continue
		}
		title := prop.Title[0].Text.Content
		if title == "" {
			title = prop.Title[0].PlainText
		}
		if title != "" {
			page.Title = title
			return page, true
		}
	}
	if title := strings.TrimSpace(result.Parent.Page.Title); title != "" {
		page.Title = title
		return page, true
	}
	return Page{}, false
}
