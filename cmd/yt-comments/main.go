// Command yt-comments exports the comments on a YouTube channel's uploads
// to a CSV file.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/yt-comments/pkg/cache"
	"github.com/Sternrassler/yt-comments/pkg/client"
	"github.com/Sternrassler/yt-comments/pkg/config"
	"github.com/Sternrassler/yt-comments/pkg/exporter"
	"github.com/Sternrassler/yt-comments/pkg/fanout"
	"github.com/Sternrassler/yt-comments/pkg/logging"
	"github.com/Sternrassler/yt-comments/pkg/metrics"
	"github.com/Sternrassler/yt-comments/pkg/youtube"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "yt-comments",
		Short: "Export the comments of a YouTube channel's videos to CSV",
		Long: `yt-comments resolves a channel, lists its most recent uploads and writes
one CSV row per top-level comment:

  Video Title, Views, Likes, Comments, Author, Comment, Comment Likes, Replies

Videos are processed concurrently with either a fixed worker pool
(--strategy pool) or one task per video (--strategy tasks).`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	config.RegisterFlags(cmd.PersistentFlags())
	cmd.AddCommand(newQuotaCmd())

	return cmd
}

func newQuotaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "quota",
		Short: "Show today's API quota usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			setupLogging(cfg, cmd.ErrOrStderr())

			redisClient, err := connectRedis(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if redisClient != nil {
				defer redisClient.Close()
			}

			apiClient, err := newAPIClient(cfg, redisClient)
			if err != nil {
				return err
			}
			defer apiClient.Close()

			state, err := apiClient.QuotaState(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if redisClient == nil {
				fmt.Fprintln(out, "No Redis configured: quota is tracked per run only.")
			}
			fmt.Fprintf(out, "Used:      %d / %d units\n", state.UnitsUsed, state.DailyLimit)
			fmt.Fprintf(out, "Remaining: %d units (reserve %d)\n", state.Remaining(), state.Reserve)
			fmt.Fprintf(out, "Exhausted: %t\n", state.Exhausted)
			fmt.Fprintf(out, "Resets at: %s (in %s)\n",
				state.ResetAt.Format(time.RFC3339), state.TimeUntilReset().Round(time.Minute))
			return nil
		},
	}
}

func setupLogging(cfg *config.Config, stderr io.Writer) {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logging.LevelInfo
	}
	logging.Setup(logging.Config{
		Level:  level,
		Pretty: cfg.LogPretty,
		Output: stderr,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Invalid log level, using info")
	}
}

func connectRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	opts, err := cfg.RedisOptions()
	if err != nil || opts == nil {
		return nil, err
	}

	redisClient := redis.NewClient(opts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		redisClient.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}

	log.Info().Str("addr", opts.Addr).Msg("Connected to Redis")
	return redisClient, nil
}

func newAPIClient(cfg *config.Config, redisClient *redis.Client) (*client.Client, error) {
	clientCfg := client.DefaultConfig(redisClient, cfg.UserAgent)
	clientCfg.DailyQuota = cfg.DailyQuota
	clientCfg.QuotaReserve = cfg.QuotaReserve
	clientCfg.RequestsPerSecond = cfg.RequestsPerSecond
	clientCfg.CacheTTL = cfg.CacheTTL
	clientCfg.CacheRetention = cache.DefaultRetention
	clientCfg.MaxRetries = cfg.MaxRetries

	apiClient, err := client.New(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create api client: %w", err)
	}
	return apiClient, nil
}

// run performs one export with cfg.
func run(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) error {
	setupLogging(cfg, stderr)

	if err := cfg.Validate(); err != nil {
		return err
	}

	strategy, err := fanout.ParseStrategy(cfg.Strategy)
	if err != nil {
		return err
	}

	if cfg.MetricsFile != "" {
		defer func() {
			if werr := metrics.WriteTextfile(cfg.MetricsFile); werr != nil {
				log.Error().Err(werr).Str("path", cfg.MetricsFile).Msg("Failed to write metrics textfile")
			}
		}()
	}

	redisClient, err := connectRedis(ctx, cfg)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	apiClient, err := newAPIClient(cfg, redisClient)
	if err != nil {
		return err
	}
	defer apiClient.Close()

	if cfg.MetricsAddr != "" {
		srv, err := startMetricsServer(cfg.MetricsAddr, redisClient, apiClient)
		if err != nil {
			return err
		}
		defer shutdownServer(srv)
	}

	svc, err := youtube.New(ctx, youtube.Config{
		APIKey:    cfg.APIKey,
		Endpoint:  cfg.APIEndpoint,
		Transport: apiClient,
	})
	if err != nil {
		return err
	}

	var opts []exporter.Option
	opts = append(opts, exporter.WithStdout(stdout))
	if cfg.S3.Enabled() {
		uploader, err := exporter.NewS3Uploader(exporter.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Prefix:          cfg.S3.Prefix,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})
		if err != nil {
			return err
		}
		opts = append(opts, exporter.WithUploader(uploader))
	}

	maxVideos := cfg.MaxVideos
	if maxVideos == 0 {
		maxVideos = exporter.AllVideos
	}

	exportOpts := exporter.Options{
		Channel:     cfg.Channel,
		Strategy:    strategy,
		Workers:     cfg.Workers,
		MaxVideos:   maxVideos,
		MaxComments: cfg.MaxComments,
		Output:      cfg.Output,
		Upload:      cfg.S3.Enabled(),
	}

	var bars *progressBars
	if cfg.Progress {
		bars = newProgressBars(stderr)
		exportOpts.Progress = bars.Start
	}

	summary, err := exporter.New(svc, opts...).Run(ctx, exportOpts)
	if bars != nil {
		bars.Wait()
	}
	if err != nil {
		return err
	}

	// Keep stdout clean when the CSV itself goes there.
	msgOut := stdout
	if summary.Output == exporter.StdoutOutput {
		msgOut = stderr
	}

	fmt.Fprintf(msgOut, "Channel: %s\n", summary.Channel.Title)
	if summary.VideosFailed > 0 {
		fmt.Fprintf(msgOut, "%d of %d videos failed, see log for details\n", summary.VideosFailed, summary.Videos)
	}
	if summary.Output != exporter.StdoutOutput {
		fmt.Fprintf(msgOut, "Data has been written to %s\n", summary.Output)
	}
	if summary.UploadURL != "" {
		fmt.Fprintf(msgOut, "Uploaded to %s\n", summary.UploadURL)
	}

	return nil
}
