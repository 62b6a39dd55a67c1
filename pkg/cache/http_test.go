package cache

import (
	"bytes"
	"io"
	"net/http"
	"testing"
	"time"
)

func newResponse(status int, body string, headers map[string]string) *http.Response {
	h := http.Header{}
	for k, v := range headers {
		h.Set(k, v)
	}
	return &http.Response{
		StatusCode: status,
		Header:     h,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
	}
}

func TestResponseToEntry(t *testing.T) {
	resp := newResponse(http.StatusOK, `{"items":[]}`, map[string]string{
		"ETag":         `"etag-1"`,
		"Content-Type": "application/json; charset=UTF-8",
	})

	entry, err := ResponseToEntry(resp, time.Minute)
	if err != nil {
		t.Fatalf("ResponseToEntry() error = %v", err)
	}

	if string(entry.Data) != `{"items":[]}` {
		t.Errorf("Data = %q", entry.Data)
	}
	if entry.ETag != `"etag-1"` {
		t.Errorf("ETag = %q", entry.ETag)
	}
	if entry.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d", entry.StatusCode)
	}
	if ttl := entry.TTL(); ttl <= 55*time.Second || ttl > time.Minute {
		t.Errorf("TTL = %v, want about 1m", ttl)
	}

	// Body must still be readable by the caller.
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read restored body: %v", err)
	}
	if string(body) != `{"items":[]}` {
		t.Errorf("restored body = %q", body)
	}
}

func TestResponseToEntry_DefaultTTL(t *testing.T) {
	entry, err := ResponseToEntry(newResponse(http.StatusOK, "{}", nil), 0)
	if err != nil {
		t.Fatalf("ResponseToEntry() error = %v", err)
	}
	if ttl := entry.TTL(); ttl <= DefaultTTL-5*time.Second || ttl > DefaultTTL {
		t.Errorf("TTL = %v, want about %v", ttl, DefaultTTL)
	}
}

func TestResponseToEntry_Nil(t *testing.T) {
	if _, err := ResponseToEntry(nil, time.Minute); err == nil {
		t.Error("Expected error for nil response")
	}
}

func TestEntryToResponse(t *testing.T) {
	entry := &CacheEntry{
		Data:       []byte(`{"kind":"youtube#videoListResponse"}`),
		ETag:       `"abc"`,
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": []string{"application/json"}},
	}
	req, _ := http.NewRequest(http.MethodGet, "https://youtube.googleapis.com/youtube/v3/videos", nil)

	resp := EntryToResponse(entry, req, StateFresh)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Cache") != StateFresh {
		t.Errorf("X-Cache = %q", resp.Header.Get("X-Cache"))
	}
	if resp.Request != req {
		t.Error("Request not attached")
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != string(entry.Data) {
		t.Errorf("body = %q", body)
	}
	if entry.Headers.Get("X-Cache") != "" {
		t.Error("EntryToResponse must not mutate the cached headers")
	}
}

func TestConditionalHeaders(t *testing.T) {
	tests := []struct {
		name     string
		entry    *CacheEntry
		wantCond bool
		wantTag  string
	}{
		{"nil entry", nil, false, ""},
		{"no etag", &CacheEntry{}, false, ""},
		{"etag", &CacheEntry{ETag: `"v1"`}, true, `"v1"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldMakeConditionalRequest(tt.entry); got != tt.wantCond {
				t.Errorf("ShouldMakeConditionalRequest() = %v, want %v", got, tt.wantCond)
			}

			req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
			AddConditionalHeaders(req, tt.entry)
			if got := req.Header.Get("If-None-Match"); got != tt.wantTag {
				t.Errorf("If-None-Match = %q, want %q", got, tt.wantTag)
			}
		})
	}
}
