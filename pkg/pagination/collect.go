package pagination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrPageLoop is returned when the API hands out a page token twice.
var ErrPageLoop = errors.New("page token repeated")

// Config holds pagination limits.
type Config struct {
	// MaxPages caps the number of pages fetched by one Collect call
	MaxPages int
	// Timeout per page fetch
	Timeout time.Duration
}

// DefaultConfig returns safe defaults for YouTube list endpoints.
func DefaultConfig() Config {
	return Config{
		MaxPages: 200,
		Timeout:  30 * time.Second,
	}
}

// Page is one page of a list response.
type Page[T any] struct {
	Items         []T
	NextPageToken string
}

// PageFunc fetches the page identified by pageToken ("" for the first page).
type PageFunc[T any] func(ctx context.Context, pageToken string) (Page[T], error)

// Collect gathers up to limit items using DefaultConfig. limit <= 0 collects
// every page.
func Collect[T any](ctx context.Context, fetch PageFunc[T], limit int) ([]T, error) {
	return CollectWithConfig(ctx, DefaultConfig(), fetch, limit)
}

// CollectWithConfig gathers up to limit items, following page tokens.
// Items gathered before an error are returned along with it.
func CollectWithConfig[T any](ctx context.Context, cfg Config, fetch PageFunc[T], limit int) ([]T, error) {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultConfig().MaxPages
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}

	var (
		items []T
		token string
		seen  = make(map[string]struct{})
	)

	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return items, err
		}

		pageCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		result, err := fetch(pageCtx, token)
		cancel()
		if err != nil {
			return items, fmt.Errorf("fetch page %d: %w", page, err)
		}

		items = append(items, result.Items...)

		log.Debug().
			Int("page", page).
			Int("page_items", len(result.Items)).
			Int("total_items", len(items)).
			Bool("has_next", result.NextPageToken != "").
			Msg("Fetched page")

		if limit > 0 && len(items) >= limit {
			return items[:limit], nil
		}

		if result.NextPageToken == "" {
			return items, nil
		}

		if _, dup := seen[result.NextPageToken]; dup || result.NextPageToken == token {
			return items, fmt.Errorf("%w: %q after page %d", ErrPageLoop, result.NextPageToken, page)
		}
		seen[result.NextPageToken] = struct{}{}
		token = result.NextPageToken

		if page >= cfg.MaxPages {
			log.Warn().
				Int("max_pages", cfg.MaxPages).
				Int("total_items", len(items)).
				Msg("Page limit reached - returning partial results")
			return items, nil
		}
	}
}
