// Package exporter runs the channel export: resolve the channel, list its
// uploads, fetch details and comments per video with the selected
// concurrency strategy, and write one CSV row per comment.
package exporter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/Sternrassler/yt-comments/pkg/fanout"
	"github.com/Sternrassler/yt-comments/pkg/metrics"
	"github.com/Sternrassler/yt-comments/pkg/youtube"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Video outcomes recorded in yt_videos_processed_total.
const (
	StatusOK      = "ok"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

// StdoutOutput as Options.Output writes the CSV to the exporter's stdout.
const StdoutOutput = "-"

// AllVideos as Options.MaxVideos exports every upload of the channel.
const AllVideos = -1

// ErrChannelInfo is returned when the channel cannot be resolved.
var ErrChannelInfo = errors.New("failed to retrieve channel information")

var (
	videosProcessed = promauto.With(metrics.Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "yt_videos_processed_total",
		Help: "Videos processed by outcome",
	}, []string{"status"})

	exportRows = promauto.With(metrics.Registry).NewGauge(prometheus.GaugeOpts{
		Name: "yt_export_rows",
		Help: "Rows written by the last export",
	})

	exportDuration = promauto.With(metrics.Registry).NewHistogram(prometheus.HistogramOpts{
		Name:    "yt_export_duration_seconds",
		Help:    "Export run duration in seconds",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})
)

// API is the subset of the YouTube service used by the exporter.
type API interface {
	GetChannelInfo(ctx context.Context, channelRef string) (*youtube.Channel, error)
	ListVideoIDs(ctx context.Context, playlistID string, max int) ([]string, error)
	GetVideoDetails(ctx context.Context, videoID string) (*youtube.VideoDetails, error)
	GetVideoComments(ctx context.Context, videoID string, max int) ([]youtube.Comment, error)
}

// Options describe one export run.
type Options struct {
	// Channel is a channel ID, @handle, username or channel URL.
	Channel string

	Strategy fanout.Strategy
	Workers  int

	// MaxVideos caps the uploads listed. Zero means DefaultMaxVideos,
	// AllVideos lists the whole uploads playlist.
	MaxVideos int
	// MaxComments caps comments per video (<= 0 means DefaultMaxComments).
	MaxComments int

	// Output is the CSV path, or StdoutOutput. Empty means
	// DefaultOutputName(Channel, Strategy).
	Output string

	// Progress, when set, is called once the number of videos is known and
	// the returned hook is notified per finished video.
	Progress func(total int) fanout.Progress

	// Upload sends the CSV to the configured Uploader after writing.
	Upload bool
}

// Summary reports the outcome of a run.
type Summary struct {
	RunID         string
	Channel       youtube.Channel
	Videos        int
	VideosFailed  int
	VideosSkipped int
	Rows          int
	Output        string
	UploadURL     string
	Duration      time.Duration
}

// Exporter runs exports against an API.
type Exporter struct {
	api      API
	uploader Uploader
	stdout   io.Writer
	logger   zerolog.Logger
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithUploader sets the destination used when Options.Upload is true.
func WithUploader(u Uploader) Option {
	return func(e *Exporter) {
		e.uploader = u
	}
}

// WithStdout sets the writer used for StdoutOutput.
func WithStdout(w io.Writer) Option {
	return func(e *Exporter) {
		e.stdout = w
	}
}

// New creates an Exporter.
func New(api API, opts ...Option) *Exporter {
	e := &Exporter{
		api:    api,
		stdout: os.Stdout,
		logger: log.With().Str("component", "exporter").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type videoResult struct {
	details  *youtube.VideoDetails
	comments []youtube.Comment
}

// Run performs one export. Per-video failures are logged and counted; only
// channel resolution, video listing and writing the CSV fail the run.
func (e *Exporter) Run(ctx context.Context, opts Options) (*Summary, error) {
	start := time.Now()
	defer func() {
		exportDuration.Observe(time.Since(start).Seconds())
	}()

	opts = withDefaults(opts)

	runID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}

	logger := e.logger.With().
		Str("run_id", runID.String()).
		Str("strategy", string(opts.Strategy)).
		Logger()

	// Step 1: Resolve channel
	channel, err := e.api.GetChannelInfo(ctx, opts.Channel)
	if err != nil {
		logger.Error().Err(err).Str("channel", opts.Channel).Msg("Channel lookup failed")
		return nil, fmt.Errorf("%w: %w", ErrChannelInfo, err)
	}

	logger = logger.With().Str("channel_id", channel.ID).Logger()
	logger.Info().Str("title", channel.Title).Msg("Resolved channel")

	// Step 2: List uploads
	videoIDs, err := e.api.ListVideoIDs(ctx, channel.UploadsPlaylistID, opts.MaxVideos)
	if err != nil {
		return nil, fmt.Errorf("list videos of %s: %w", channel.ID, err)
	}

	logger.Info().Int("videos", len(videoIDs)).Msg("Processing videos")

	// Step 3: Fan out per video
	var fanOpts []fanout.Option
	if opts.Progress != nil {
		if p := opts.Progress(len(videoIDs)); p != nil {
			fanOpts = append(fanOpts, fanout.WithProgress(p))
		}
	}
	fanOpts = append(fanOpts, fanout.WithLogger(logger))

	results := fanout.Run(ctx, opts.Strategy, opts.Workers, videoIDs,
		func(ctx context.Context, videoID string) (videoResult, error) {
			return e.processVideo(ctx, videoID, opts.MaxComments)
		}, fanOpts...)

	// Step 4: Flatten in playlist order
	summary := &Summary{
		RunID:   runID.String(),
		Channel: *channel,
		Videos:  len(videoIDs),
		Output:  opts.Output,
	}

	var rows []Row
	for i, res := range results {
		switch {
		case res.Err != nil:
			summary.VideosFailed++
			videosProcessed.WithLabelValues(StatusFailed).Inc()
			logger.Warn().Err(res.Err).Str("video_id", videoIDs[i]).Msg("Video failed")
		case res.Value.details == nil:
			summary.VideosSkipped++
			videosProcessed.WithLabelValues(StatusSkipped).Inc()
		default:
			videosProcessed.WithLabelValues(StatusOK).Inc()
			rows = append(rows, Flatten(res.Value.details, res.Value.comments)...)
		}
	}
	summary.Rows = len(rows)
	exportRows.Set(float64(len(rows)))

	// Step 5: Write and upload
	if err := e.write(opts.Output, rows); err != nil {
		return summary, err
	}

	if opts.Upload {
		url, err := e.upload(ctx, opts.Output, runID.String(), rows)
		if err != nil {
			return summary, err
		}
		summary.UploadURL = url
	}

	summary.Duration = time.Since(start)

	logger.Info().
		Int("videos", summary.Videos).
		Int("failed", summary.VideosFailed).
		Int("skipped", summary.VideosSkipped).
		Int("rows", summary.Rows).
		Str("output", summary.Output).
		Dur("duration", summary.Duration).
		Msg("Export complete")

	return summary, nil
}

// processVideo fetches details and, when they exist, comments.
func (e *Exporter) processVideo(ctx context.Context, videoID string, maxComments int) (videoResult, error) {
	details, err := e.api.GetVideoDetails(ctx, videoID)
	if err != nil {
		return videoResult{}, err
	}
	if details == nil {
		e.logger.Debug().Str("video_id", videoID).Msg("Skipping video without details")
		return videoResult{}, nil
	}

	comments, err := e.api.GetVideoComments(ctx, videoID, maxComments)
	if err != nil {
		return videoResult{}, err
	}

	return videoResult{details: details, comments: comments}, nil
}

func (e *Exporter) write(output string, rows []Row) error {
	if output == StdoutOutput {
		if err := WriteCSV(e.stdout, rows); err != nil {
			return fmt.Errorf("write csv to stdout: %w", err)
		}
		return nil
	}

	if err := WriteFile(output, rows); err != nil {
		return fmt.Errorf("write %s: %w", output, err)
	}
	return nil
}

func (e *Exporter) upload(ctx context.Context, output, runID string, rows []Row) (string, error) {
	if e.uploader == nil {
		return "", fmt.Errorf("upload requested but no uploader configured")
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, rows); err != nil {
		return "", err
	}

	name := UploadName(output, runID)
	url, err := e.uploader.Upload(ctx, name, &buf)
	if err != nil {
		return "", err
	}

	e.logger.Info().Str("run_id", runID).Str("location", url).Msg("Uploaded export")
	return url, nil
}

func withDefaults(opts Options) Options {
	if opts.Strategy == "" {
		opts.Strategy = fanout.StrategyPool
	}
	switch {
	case opts.MaxVideos == 0:
		opts.MaxVideos = youtube.DefaultMaxVideos
	case opts.MaxVideos < 0:
		opts.MaxVideos = AllVideos
	}
	if opts.MaxComments <= 0 {
		opts.MaxComments = youtube.DefaultMaxComments
	}
	if opts.Output == "" {
		opts.Output = DefaultOutputName(opts.Channel, opts.Strategy)
	}
	return opts
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// DefaultOutputName returns "<channel>_comments_<strategy>.csv" with the
// channel reference reduced to filename-safe characters.
func DefaultOutputName(channel string, strategy fanout.Strategy) string {
	name := unsafeName.ReplaceAllString(youtube.NormalizeChannelRef(channel), "_")
	name = strings.Trim(name, "_")
	if name == "" {
		name = "channel"
	}
	return fmt.Sprintf("%s_comments_%s.csv", name, strategy)
}

// UploadName returns the object name for an export: the output's base name
// with the run ID appended.
func UploadName(output, runID string) string {
	base := filepath.Base(output)
	if output == StdoutOutput || base == "." || base == "/" {
		base = "export.csv"
	}
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + "_" + runID + ext
}
