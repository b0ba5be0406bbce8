package cache

import (
	"net/url"
	"testing"
	"time"
)

func TestCacheKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  CacheKey
		want string
	}{
		{
			name: "path only",
			key:  CacheKey{Account: "acme", Path: "/api/v2/tickets.json"},
			want: "zdexport:page:acme:api/v2/tickets.json",
		},
		{
			name: "query params sorted",
			key: CacheKey{
				Account: "acme",
				Path:    "/api/v2/automations.json",
				QueryParams: url.Values{
					"sort_order": {"desc"},
					"include":    {"usage_1h,usage_24h"},
					"sort_by":    {"created_at"},
				},
			},
			want: "zdexport:page:acme:api/v2/automations.json:include=usage_1h,usage_24h:sort_by=created_at:sort_order=desc",
		},
		{
			name: "multi-valued param keeps all values",
			key:  CacheKey{Account: "acme", Path: "/x", QueryParams: url.Values{"ids": {"1", "2"}}},
			want: "zdexport:page:acme:x:ids=1,2",
		},
		{
			name: "missing account",
			key:  CacheKey{Path: "/api/v2/users.json"},
			want: "zdexport:page:default:api/v2/users.json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCacheKey_AccountsDoNotCollide(t *testing.T) {
	a := CacheKey{Account: "acme", Path: "/api/v2/tickets.json"}
	b := CacheKey{Account: "globex", Path: "/api/v2/tickets.json"}
	if a.String() == b.String() {
		t.Error("Keys for different accounts must differ")
	}
}

func TestKeyForURL(t *testing.T) {
	u, _ := url.Parse("https://acme.zendesk.com/api/v2/automations.json?page%5Bafter%5D=xyz&sort_by=id")
	key := KeyForURL("acme", u)

	if key.Path != "/api/v2/automations.json" {
		t.Errorf("Path = %q", key.Path)
	}
	if key.QueryParams.Get("page[after]") != "xyz" {
		t.Errorf("Query = %v", key.QueryParams)
	}
}

func TestCacheEntry_TTL(t *testing.T) {
	entry := &CacheEntry{Expires: time.Now().Add(-time.Second)}
	if !entry.IsExpired() || entry.TTL() != 0 {
		t.Errorf("Expired entry: IsExpired=%v TTL=%v", entry.IsExpired(), entry.TTL())
	}

	entry.Expires = time.Now().Add(time.Minute)
	if entry.IsExpired() || entry.TTL() <= 0 {
		t.Errorf("Fresh entry: IsExpired=%v TTL=%v", entry.IsExpired(), entry.TTL())
	}
}
