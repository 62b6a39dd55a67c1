// Package youtube fetches channel, video and comment data from the YouTube
// Data API v3.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Sternrassler/yt-comments/pkg/pagination"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/googleapi/transport"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"
)

// Page size limits enforced by the API.
const (
	MaxPlaylistPageSize = 50
	MaxCommentPageSize  = 100

	DefaultMaxVideos   = 50
	DefaultMaxComments = 100
)

// ReasonCommentsDisabled is the error reason for videos with comments off.
const ReasonCommentsDisabled = "commentsDisabled"

// ErrChannelNotFound is returned when a channel reference matches nothing.
var ErrChannelNotFound = errors.New("channel not found")

// Channel identifies a channel and its uploads playlist.
type Channel struct {
	ID                string
	Title             string
	UploadsPlaylistID string
}

// VideoDetails holds a video's title and statistics. Counts are the decimal
// strings reported by the API.
type VideoDetails struct {
	ID       string
	Title    string
	Views    string
	Likes    string
	Comments string
}

// Comment is a top-level comment and its reply count.
type Comment struct {
	Author  string
	Text    string
	Likes   int64
	Replies int64
}

// Config configures a Service.
type Config struct {
	// APIKey is sent as the key query parameter.
	APIKey string

	// Endpoint overrides the API base URL (e.g. a test server). Must end in "/".
	Endpoint string

	// Transport carries the requests, normally a *client.Client.
	// Defaults to http.DefaultTransport.
	Transport http.RoundTripper

	// Pages limits token pagination.
	Pages pagination.Config
}

// Service wraps the generated YouTube bindings.
type Service struct {
	api    *yt.Service
	pages  pagination.Config
	logger zerolog.Logger
}

// New creates a Service.
func New(ctx context.Context, cfg Config) (*Service, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}

	// option.WithAPIKey is ignored alongside WithHTTPClient, so the key is
	// added by the transport.
	httpClient := &http.Client{
		Transport: &transport.APIKey{Key: cfg.APIKey, Transport: cfg.Transport},
	}

	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	api, err := yt.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create youtube service: %w", err)
	}

	pages := cfg.Pages
	if pages.MaxPages <= 0 || pages.Timeout <= 0 {
		def := pagination.DefaultConfig()
		if pages.MaxPages <= 0 {
			pages.MaxPages = def.MaxPages
		}
		if pages.Timeout <= 0 {
			pages.Timeout = def.Timeout
		}
	}

	return &Service{
		api:    api,
		pages:  pages,
		logger: log.With().Str("component", "youtube").Logger(),
	}, nil
}

// GetChannelInfo resolves a channel ID (UC...), an @handle, a legacy
// username or a channel URL.
func (s *Service) GetChannelInfo(ctx context.Context, channelRef string) (*Channel, error) {
	ref := NormalizeChannelRef(channelRef)
	if ref == "" {
		return nil, fmt.Errorf("empty channel reference: %w", ErrChannelNotFound)
	}

	call := s.api.Channels.List([]string{"snippet", "contentDetails"})
	switch {
	case strings.HasPrefix(ref, "@"):
		call = call.ForHandle(ref)
	case IsChannelID(ref):
		call = call.Id(ref)
	default:
		call = call.ForUsername(ref)
	}

	resp, err := call.Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("channels.list %s: %w", ref, err)
	}

	if len(resp.Items) == 0 {
		return nil, fmt.Errorf("%s: %w", ref, ErrChannelNotFound)
	}

	item := resp.Items[0]
	ch := &Channel{ID: item.Id}
	if item.Snippet != nil {
		ch.Title = item.Snippet.Title
	}
	if item.ContentDetails != nil && item.ContentDetails.RelatedPlaylists != nil {
		ch.UploadsPlaylistID = item.ContentDetails.RelatedPlaylists.Uploads
	}
	if ch.UploadsPlaylistID == "" {
		return nil, fmt.Errorf("channel %s has no uploads playlist", ch.ID)
	}

	s.logger.Debug().
		Str("channel_id", ch.ID).
		Str("playlist_id", ch.UploadsPlaylistID).
		Msg("Resolved channel")

	return ch, nil
}

// ListVideoIDs returns up to max video IDs from a playlist, in playlist
// order. max <= 0 lists the whole playlist.
func (s *Service) ListVideoIDs(ctx context.Context, playlistID string, max int) ([]string, error) {
	pageSize := int64(MaxPlaylistPageSize)
	if max > 0 && max < MaxPlaylistPageSize {
		pageSize = int64(max)
	}

	ids, err := pagination.CollectWithConfig(ctx, s.pages, func(ctx context.Context, token string) (pagination.Page[string], error) {
		call := s.api.PlaylistItems.List([]string{"snippet"}).
			PlaylistId(playlistID).
			MaxResults(pageSize)
		if token != "" {
			call = call.PageToken(token)
		}

		resp, err := call.Context(ctx).Do()
		if err != nil {
			return pagination.Page[string]{}, err
		}

		page := pagination.Page[string]{NextPageToken: resp.NextPageToken}
		for _, item := range resp.Items {
			if item.Snippet == nil || item.Snippet.ResourceId == nil || item.Snippet.ResourceId.VideoId == "" {
				continue
			}
			page.Items = append(page.Items, item.Snippet.ResourceId.VideoId)
		}
		return page, nil
	}, max)
	if err != nil {
		return ids, fmt.Errorf("playlistItems.list %s: %w", playlistID, err)
	}

	s.logger.Debug().
		Str("playlist_id", playlistID).
		Int("videos", len(ids)).
		Msg("Listed videos")

	return ids, nil
}

// GetVideoDetails returns a video's title and statistics, or nil when the
// API returns no item for videoID.
func (s *Service) GetVideoDetails(ctx context.Context, videoID string) (*VideoDetails, error) {
	resp, err := s.api.Videos.List([]string{"snippet", "statistics"}).
		Id(videoID).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("videos.list %s: %w", videoID, err)
	}

	if len(resp.Items) == 0 {
		s.logger.Debug().Str("video_id", videoID).Msg("No details returned for video")
		return nil, nil
	}

	item := resp.Items[0]
	details := &VideoDetails{
		ID:       item.Id,
		Views:    "0",
		Likes:    "0",
		Comments: "0",
	}
	if details.ID == "" {
		details.ID = videoID
	}
	if item.Snippet != nil {
		details.Title = item.Snippet.Title
	}
	if st := item.Statistics; st != nil {
		details.Views = strconv.FormatUint(st.ViewCount, 10)
		details.Likes = strconv.FormatUint(st.LikeCount, 10)
		details.Comments = strconv.FormatUint(st.CommentCount, 10)
	}

	return details, nil
}

// GetVideoComments returns up to max top-level comments for a video.
// max <= 0 means DefaultMaxComments. A video with comments disabled yields
// an empty list.
func (s *Service) GetVideoComments(ctx context.Context, videoID string, max int) ([]Comment, error) {
	if max <= 0 {
		max = DefaultMaxComments
	}
	pageSize := int64(MaxCommentPageSize)
	if max < MaxCommentPageSize {
		pageSize = int64(max)
	}

	comments, err := pagination.CollectWithConfig(ctx, s.pages, func(ctx context.Context, token string) (pagination.Page[Comment], error) {
		call := s.api.CommentThreads.List([]string{"snippet"}).
			VideoId(videoID).
			MaxResults(pageSize)
		if token != "" {
			call = call.PageToken(token)
		}

		resp, err := call.Context(ctx).Do()
		if err != nil {
			return pagination.Page[Comment]{}, err
		}

		page := pagination.Page[Comment]{NextPageToken: resp.NextPageToken}
		for _, thread := range resp.Items {
			if c, ok := commentFromThread(thread); ok {
				page.Items = append(page.Items, c)
			}
		}
		return page, nil
	}, max)
	if err != nil {
		if HasReason(err, ReasonCommentsDisabled) {
			s.logger.Info().Str("video_id", videoID).Msg("Comments disabled for video")
			return []Comment{}, nil
		}
		return comments, fmt.Errorf("commentThreads.list %s: %w", videoID, err)
	}

	return comments, nil
}

func commentFromThread(thread *yt.CommentThread) (Comment, bool) {
	if thread == nil || thread.Snippet == nil ||
		thread.Snippet.TopLevelComment == nil || thread.Snippet.TopLevelComment.Snippet == nil {
		return Comment{}, false
	}

	top := thread.Snippet.TopLevelComment.Snippet
	return Comment{
		Author:  top.AuthorDisplayName,
		Text:    top.TextDisplay,
		Likes:   top.LikeCount,
		Replies: thread.Snippet.TotalReplyCount,
	}, true
}

// HasReason reports whether err carries a Google API error with reason.
func HasReason(err error, reason string) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, item := range apiErr.Errors {
		if item.Reason == reason {
			return true
		}
	}
	return false
}

// IsChannelID reports whether s looks like a channel ID.
func IsChannelID(s string) bool {
	return len(s) == 24 && strings.HasPrefix(s, "UC")
}

// NormalizeChannelRef reduces a channel URL to its ID, @handle or username.
// Other inputs are returned trimmed. A /c/<name> custom URL has no API
// lookup of its own, so it is resolved as the handle @<name>; this only
// finds channels whose handle matches the custom name.
func NormalizeChannelRef(ref string) string {
	ref = strings.TrimSpace(ref)
	if !strings.Contains(ref, "youtube.com/") {
		return ref
	}

	if !strings.Contains(ref, "://") {
		ref = "https://" + ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	switch {
	case len(parts) >= 2 && (parts[0] == "channel" || parts[0] == "user"):
		return parts[1]
	case len(parts) >= 2 && parts[0] == "c":
		return "@" + parts[1]
	case len(parts) >= 1 && strings.HasPrefix(parts[0], "@"):
		return parts[0]
	default:
		return ref
	}
}
