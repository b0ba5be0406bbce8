package pagination

import (
	"strings"
)

// NextLinkExtractor returns the next page URL from a decoded body, or "" when
// pagination is over.
type NextLinkExtractor func(body map[string]any) string

// NextPageField reads the flat "next_page" key used by offset-paginated endpoints.
func NextPageField(body map[string]any) string {
	return stringAt(body, "next_page")
}

// LinksNext reads the nested "links.next" key used by cursor-paginated endpoints.
// A body reporting meta.has_more == false ends pagination even if a link is present.
func LinksNext(body map[string]any) string {
	if meta, ok := body["meta"].(map[string]any); ok {
		if more, ok := meta["has_more"].(bool); ok && !more {
			return ""
		}
	}
	return stringAt(body, "links.next")
}

// FieldExtractor builds an extractor for an arbitrary dotted path.
func FieldExtractor(path string) NextLinkExtractor {
	return func(body map[string]any) string {
		return stringAt(body, path)
	}
}

func stringAt(body map[string]any, path string) string {
	var current any = body
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return ""
		}
		current, ok = m[part]
		if !ok {
			return ""
		}
	}
	s, _ := current.(string)
	return strings.TrimSpace(s)
}
