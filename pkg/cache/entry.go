package cache

import (
	"net/http"
	"time"
)

// CacheEntry is one stored list page.
type CacheEntry struct {
	// Body is the raw JSON page.
	Body []byte `json:"body"`

	StatusCode int `json:"status_code"`

	// ContentType is replayed on a hit. Quota headers are never stored: a
	// cached page says nothing about the current quota.
	ContentType string `json:"content_type,omitempty"`

	CachedAt time.Time `json:"cached_at"`
	Expires  time.Time `json:"expires"`
}

// NewEntry builds an entry for a page response that stays valid for ttl.
func NewEntry(statusCode int, headers http.Header, body []byte, ttl time.Duration) *CacheEntry {
	now := time.Now()
	return &CacheEntry{
		Body:        body,
		StatusCode:  statusCode,
		ContentType: headers.Get("Content-Type"),
		CachedAt:    now,
		Expires:     now.Add(ttl),
	}
}

// Header rebuilds the response headers served with a hit.
func (e *CacheEntry) Header() http.Header {
	h := http.Header{}
	if e.ContentType != "" {
		h.Set("Content-Type", e.ContentType)
	}
	return h
}

// IsExpired reports whether the entry is past its lifetime.
func (e *CacheEntry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the remaining lifetime, or 0 once expired.
func (e *CacheEntry) TTL() time.Duration {
	if ttl := time.Until(e.Expires); ttl > 0 {
		return ttl
	}
	return 0
}

// Age returns how long ago the page was fetched.
func (e *CacheEntry) Age() time.Duration {
	return time.Since(e.CachedAt)
}
