package cache

import (
	"net/url"
	"sort"
	"strings"
)

// credentialParams never become part of a cache key.
var credentialParams = map[string]bool{
	"key":          true,
	"access_token": true,
}

// CacheKey identifies a cached API response.
type CacheKey struct {
	// Endpoint is the API path (e.g., "/youtube/v3/commentThreads")
	Endpoint string

	// QueryParams are the request query parameters
	QueryParams url.Values
}

// KeyFromURL builds a key from a request URL.
func KeyFromURL(u *url.URL) CacheKey {
	return CacheKey{
		Endpoint:    u.Path,
		QueryParams: u.Query(),
	}
}

// String generates a deterministic cache key string.
// Format: yt:endpoint:param1=val1:param2=val2
//
// Example:
//
//	yt:youtube/v3/videos:id=dQw4w9WgXcQ:part=snippet,statistics
func (k CacheKey) String() string {
	parts := []string{"yt"}

	endpoint := strings.Trim(k.Endpoint, "/")
	if endpoint != "" {
		parts = append(parts, endpoint)
	}

	if len(k.QueryParams) > 0 {
		keys := make([]string, 0, len(k.QueryParams))
		for key := range k.QueryParams {
			if credentialParams[key] {
				continue
			}
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			parts = append(parts, key+"="+strings.Join(k.QueryParams[key], ","))
		}
	}

	return strings.Join(parts, ":")
}
