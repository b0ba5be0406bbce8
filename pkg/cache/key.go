package cache

import (
	"net/url"
	"sort"
	"strings"
)

// CacheKey identifies one cached page.
type CacheKey struct {
	// Account is the helpdesk subdomain the page belongs to.
	Account string

	// Path is the request path, e.g. "/api/v2/tickets.json".
	Path string

	// QueryParams are the request query parameters, including cursor state.
	QueryParams url.Values
}

// KeyForURL builds a key from an absolute page URL.
func KeyForURL(account string, u *url.URL) CacheKey {
	return CacheKey{
		Account:     account,
		Path:        u.Path,
		QueryParams: u.Query(),
	}
}

// AccountPrefix returns the key prefix shared by every page of account.
func AccountPrefix(account string) string {
	account = strings.TrimSpace(account)
	if account == "" {
		account = "default"
	}
	return "zdexport:page:" + account + ":"
}

// String generates a deterministic cache key string.
// Format: zdexport:page:account:path:query1=val1:query2=a,b
//
// Example:
//
//	zdexport:page:acme:api/v2/tickets.json:page=2
func (k CacheKey) String() string {
	parts := []string{strings.TrimSuffix(AccountPrefix(k.Account), ":")}

	if path := strings.Trim(k.Path, "/"); path != "" {
		parts = append(parts, path)
	}

	if len(k.QueryParams) > 0 {
		queryKeys := make([]string, 0, len(k.QueryParams))
		for key := range k.QueryParams {
			queryKeys = append(queryKeys, key)
		}
		sort.Strings(queryKeys)

		for _, key := range queryKeys {
			parts = append(parts, key+"="+strings.Join(k.QueryParams[key], ","))
		}
	}

	return strings.Join(parts, ":")
}
