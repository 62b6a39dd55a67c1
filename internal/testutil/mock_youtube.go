// Package testutil provides testing utilities for the YouTube API client.
package testutil

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/youtube/v3"
)

// API paths served by the mock, relative to its URL.
const (
	PathChannels       = "/youtube/v3/channels"
	PathPlaylistItems  = "/youtube/v3/playlistItems"
	PathVideos         = "/youtube/v3/videos"
	PathCommentThreads = "/youtube/v3/commentThreads"
)

// MockChannel is a channel served by MockYouTube.
type MockChannel struct {
	ID       string
	Handle   string // without the leading @
	Username string
	Title    string
	VideoIDs []string // uploads, newest first
}

// UploadsPlaylistID mirrors YouTube's UC... -> UU... convention.
func (c MockChannel) UploadsPlaylistID() string {
	if strings.HasPrefix(c.ID, "UC") {
		return "UU" + c.ID[2:]
	}
	return "UU" + c.ID
}

// MockVideo is a video served by MockYouTube.
type MockVideo struct {
	ID               string
	Title            string
	Views            uint64
	Likes            uint64
	CommentCount     uint64
	Comments         []MockComment
	CommentsDisabled bool
}

// MockComment is a top-level comment.
type MockComment struct {
	Author  string
	Text    string
	Likes   int64
	Replies int64
}

// MockResponse defines a canned response for a path.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockYouTube is a configurable in-process YouTube Data API server.
type MockYouTube struct {
	server *httptest.Server

	mu        sync.RWMutex
	channels  []MockChannel
	videos    map[string]MockVideo
	handlers  map[string]func(w http.ResponseWriter, r *http.Request)
	failures  map[string]MockResponse // by video ID
	quotaDead bool

	// Tracking
	RequestCount      int
	ConditionalCount  int
	PathCounts        map[string]int
	LastAPIKey        string
	LastRequestHeader http.Header
}

// NewMockYouTube starts a new mock server.
func NewMockYouTube() *MockYouTube {
	mock := &MockYouTube{
		videos:     make(map[string]MockVideo),
		handlers:   make(map[string]func(w http.ResponseWriter, r *http.Request)),
		failures:   make(map[string]MockResponse),
		PathCounts: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.serve))
	return mock
}

// URL returns the mock server URL.
func (m *MockYouTube) URL() string {
	return m.server.URL
}

// Endpoint returns the URL in the form expected by option.WithEndpoint.
func (m *MockYouTube) Endpoint() string {
	return m.server.URL + "/"
}

// Close shuts down the mock server.
func (m *MockYouTube) Close() {
	m.server.Close()
}

// AddChannel registers a channel.
func (m *MockYouTube) AddChannel(ch MockChannel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
}

// AddVideo registers a video.
func (m *MockYouTube) AddVideo(v MockVideo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.videos[v.ID] = v
}

// FailVideo makes every videos and commentThreads request for videoID
// answer with resp.
func (m *MockYouTube) FailVideo(videoID string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[videoID] = resp
}

// SetQuotaExceeded makes every request answer 403 quotaExceeded.
func (m *MockYouTube) SetQuotaExceeded(exceeded bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotaDead = exceeded
}

// SetHandler sets a custom handler for a specific path.
func (m *MockYouTube) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a canned response for a path.
func (m *MockYouTube) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		writeMockResponse(w, resp)
	})
}

// Reset clears all tracking counters.
func (m *MockYouTube) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.ConditionalCount = 0
	m.PathCounts = make(map[string]int)
	m.LastAPIKey = ""
	m.LastRequestHeader = nil
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockYouTube) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetPathCount returns the number of requests made to path.
func (m *MockYouTube) GetPathCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.PathCounts[path]
}

// GetConditionalCount returns the number of conditional requests.
func (m *MockYouTube) GetConditionalCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ConditionalCount
}

// GetLastAPIKey returns the key query parameter of the last request.
func (m *MockYouTube) GetLastAPIKey() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastAPIKey
}

func (m *MockYouTube) serve(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.RequestCount++
	m.PathCounts[r.URL.Path]++
	m.LastAPIKey = r.URL.Query().Get("key")
	m.LastRequestHeader = r.Header.Clone()
	if r.Header.Get("If-None-Match") != "" {
		m.ConditionalCount++
	}
	handler, custom := m.handlers[r.URL.Path]
	quotaDead := m.quotaDead
	m.mu.Unlock()

	if quotaDead {
		writeMockResponse(w, NewQuotaExceededResponse())
		return
	}

	if custom {
		handler(w, r)
		return
	}

	switch r.URL.Path {
	case PathChannels:
		m.serveChannels(w, r)
	case PathPlaylistItems:
		m.servePlaylistItems(w, r)
	case PathVideos:
		m.serveVideos(w, r)
	case PathCommentThreads:
		m.serveCommentThreads(w, r)
	default:
		writeMockResponse(w, NewErrorResponse(http.StatusNotFound, "notFound", "Not Found"))
	}
}

func (m *MockYouTube) serveChannels(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	m.mu.RLock()
	var items []*youtube.Channel
	for _, ch := range m.channels {
		match := (q.Get("id") != "" && q.Get("id") == ch.ID) ||
			(q.Get("forHandle") != "" && strings.TrimPrefix(q.Get("forHandle"), "@") == ch.Handle) ||
			(q.Get("forUsername") != "" && q.Get("forUsername") == ch.Username)
		if !match {
			continue
		}
		items = append(items, &youtube.Channel{
			Id:   ch.ID,
			Kind: "youtube#channel",
			Snippet: &youtube.ChannelSnippet{
				Title: ch.Title,
			},
			ContentDetails: &youtube.ChannelContentDetails{
				RelatedPlaylists: &youtube.ChannelContentDetailsRelatedPlaylists{
					Uploads: ch.UploadsPlaylistID(),
				},
			},
		})
	}
	m.mu.RUnlock()

	writeJSON(w, r, &youtube.ChannelListResponse{
		Kind:     "youtube#channelListResponse",
		Items:    items,
		PageInfo: &youtube.PageInfo{TotalResults: int64(len(items))},
	})
}

func (m *MockYouTube) servePlaylistItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	playlistID := q.Get("playlistId")

	m.mu.RLock()
	var ids []string
	found := false
	for _, ch := range m.channels {
		if ch.UploadsPlaylistID() == playlistID {
			ids = ch.VideoIDs
			found = true
			break
		}
	}
	m.mu.RUnlock()

	if !found {
		writeMockResponse(w, NewErrorResponse(http.StatusNotFound, "playlistNotFound",
			"The playlist identified with the request's playlistId parameter cannot be found."))
		return
	}

	start, end, next := pageBounds(len(ids), q.Get("pageToken"), q.Get("maxResults"), 5)

	items := make([]*youtube.PlaylistItem, 0, end-start)
	for i := start; i < end; i++ {
		items = append(items, &youtube.PlaylistItem{
			Kind: "youtube#playlistItem",
			Snippet: &youtube.PlaylistItemSnippet{
				PlaylistId: playlistID,
				Position:   int64(i),
				ResourceId: &youtube.ResourceId{Kind: "youtube#video", VideoId: ids[i]},
			},
		})
	}

	writeJSON(w, r, &youtube.PlaylistItemListResponse{
		Kind:          "youtube#playlistItemListResponse",
		Items:         items,
		NextPageToken: next,
		PageInfo:      &youtube.PageInfo{TotalResults: int64(len(ids)), ResultsPerPage: int64(len(items))},
	})
}

func (m *MockYouTube) serveVideos(w http.ResponseWriter, r *http.Request) {
	var ids []string
	for _, part := range strings.Split(r.URL.Query().Get("id"), ",") {
		if part != "" {
			ids = append(ids, part)
		}
	}

	m.mu.RLock()
	for _, id := range ids {
		if resp, ok := m.failures[id]; ok {
			m.mu.RUnlock()
			writeMockResponse(w, resp)
			return
		}
	}

	var items []*youtube.Video
	for _, id := range ids {
		v, ok := m.videos[id]
		if !ok {
			continue
		}
		items = append(items, &youtube.Video{
			Id:      v.ID,
			Kind:    "youtube#video",
			Snippet: &youtube.VideoSnippet{Title: v.Title},
			Statistics: &youtube.VideoStatistics{
				ViewCount:    v.Views,
				LikeCount:    v.Likes,
				CommentCount: v.CommentCount,
			},
		})
	}
	m.mu.RUnlock()

	writeJSON(w, r, &youtube.VideoListResponse{
		Kind:     "youtube#videoListResponse",
		Items:    items,
		PageInfo: &youtube.PageInfo{TotalResults: int64(len(items))},
	})
}

func (m *MockYouTube) serveCommentThreads(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	videoID := q.Get("videoId")

	m.mu.RLock()
	resp, failing := m.failures[videoID]
	v, ok := m.videos[videoID]
	m.mu.RUnlock()

	switch {
	case failing:
		writeMockResponse(w, resp)
		return
	case !ok:
		writeMockResponse(w, NewErrorResponse(http.StatusNotFound, "videoNotFound",
			"The video identified by the videoId parameter could not be found."))
		return
	case v.CommentsDisabled:
		writeMockResponse(w, NewCommentsDisabledResponse(videoID))
		return
	}

	start, end, next := pageBounds(len(v.Comments), q.Get("pageToken"), q.Get("maxResults"), 20)

	items := make([]*youtube.CommentThread, 0, end-start)
	for i := start; i < end; i++ {
		c := v.Comments[i]
		items = append(items, &youtube.CommentThread{
			Id:   fmt.Sprintf("%s-c%d", videoID, i),
			Kind: "youtube#commentThread",
			Snippet: &youtube.CommentThreadSnippet{
				VideoId:         videoID,
				TotalReplyCount: c.Replies,
				TopLevelComment: &youtube.Comment{
					Snippet: &youtube.CommentSnippet{
						AuthorDisplayName: c.Author,
						TextDisplay:       c.Text,
						LikeCount:         c.Likes,
					},
				},
			},
		})
	}

	writeJSON(w, r, &youtube.CommentThreadListResponse{
		Kind:          "youtube#commentThreadListResponse",
		Items:         items,
		NextPageToken: next,
		PageInfo:      &youtube.PageInfo{TotalResults: int64(len(v.Comments)), ResultsPerPage: int64(len(items))},
	})
}

// pageBounds resolves an offset page token ("o<N>") and maxResults into a
// slice range and the token of the following page.
func pageBounds(total int, pageToken, maxResults string, defaultSize int) (start, end int, next string) {
	size, err := strconv.Atoi(maxResults)
	if err != nil || size <= 0 {
		size = defaultSize
	}

	if strings.HasPrefix(pageToken, "o") {
		if n, err := strconv.Atoi(pageToken[1:]); err == nil && n >= 0 {
			start = n
		}
	}
	if start > total {
		start = total
	}

	end = start + size
	if end > total {
		end = total
	}
	if end < total {
		next = "o" + strconv.Itoa(end)
	}
	return start, end, next
}

// writeJSON writes v with an ETag derived from the body and answers 304
// when the request's If-None-Match matches.
func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	sum := sha1.Sum(body)
	etag := `"` + hex.EncodeToString(sum[:8]) + `"`

	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func writeMockResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}

	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}

	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// NewErrorResponse creates a Google API error response.
func NewErrorResponse(status int, reason, message string) MockResponse {
	body, _ := json.Marshal(map[string]any{
		"error": map[string]any{
			"code":    status,
			"message": message,
			"errors": []map[string]string{{
				"message": message,
				"domain":  "youtube",
				"reason":  reason,
			}},
		},
	})

	return MockResponse{
		StatusCode: status,
		Body:       string(body),
		Headers: map[string]string{
			"Content-Type": "application/json; charset=UTF-8",
		},
	}
}

// NewQuotaExceededResponse creates a 403 quotaExceeded response.
func NewQuotaExceededResponse() MockResponse {
	return NewErrorResponse(http.StatusForbidden, "quotaExceeded",
		"The request cannot be completed because you have exceeded your quota.")
}

// NewCommentsDisabledResponse creates the 403 returned for videos with
// comments turned off.
func NewCommentsDisabledResponse(videoID string) MockResponse {
	return NewErrorResponse(http.StatusForbidden, "commentsDisabled",
		fmt.Sprintf("The video identified by the videoId parameter (%s) has disabled comments.", videoID))
}

// NewServerErrorResponse creates a 500 backendError response.
func NewServerErrorResponse() MockResponse {
	return NewErrorResponse(http.StatusInternalServerError, "backendError", "Backend Error")
}

// NewRateLimitResponse creates a 403 rateLimitExceeded response.
func NewRateLimitResponse() MockResponse {
	return NewErrorResponse(http.StatusForbidden, "rateLimitExceeded", "Rate Limit Exceeded")
}
