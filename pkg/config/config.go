// Package config loads yt-comments settings from flags, environment,
// an optional .env file and an optional config file, in that order of
// precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. YTC_API_KEY.
const EnvPrefix = "YTC"

// FallbackAPIKeyEnv is read when no YTC_API_KEY is set.
const FallbackAPIKeyEnv = "YOUTUBE_API_KEY"

// Keys.
const (
	KeyConfigFile        = "config"
	KeyEnvFile           = "env_file"
	KeyAPIKey            = "api_key"
	KeyChannel           = "channel"
	KeyStrategy          = "strategy"
	KeyWorkers           = "workers"
	KeyMaxVideos         = "max_videos"
	KeyMaxComments       = "max_comments"
	KeyOutput            = "output"
	KeyRequestsPerSecond = "requests_per_second"
	KeyDailyQuota        = "daily_quota"
	KeyQuotaReserve      = "quota_reserve"
	KeyCacheTTL          = "cache_ttl"
	KeyRedisURL          = "redis_url"
	KeyAPIEndpoint       = "api_endpoint"
	KeyUserAgent         = "user_agent"
	KeyMaxRetries        = "max_retries"
	KeyLogLevel          = "log_level"
	KeyLogPretty         = "log_pretty"
	KeyProgress          = "progress"
	KeyMetricsAddr       = "metrics_addr"
	KeyMetricsFile       = "metrics_file"
	KeyS3Bucket          = "s3.bucket"
	KeyS3Region          = "s3.region"
	KeyS3Prefix          = "s3.prefix"
	KeyS3Endpoint        = "s3.endpoint"
	KeyS3AccessKeyID     = "s3.access_key_id"
	KeyS3SecretAccessKey = "s3.secret_access_key"
)

// Defaults.
const (
	DefaultChannel           = "UCX6OQ3DkcsbYNE6H8uQQuVA"
	DefaultStrategy          = "pool"
	DefaultWorkers           = 8
	DefaultMaxVideos         = 50
	DefaultMaxComments       = 100
	DefaultRequestsPerSecond = 10.0
	DefaultDailyQuota        = 10000
	DefaultQuotaReserve      = 50
	DefaultCacheTTL          = 5 * time.Minute
	DefaultUserAgent         = "yt-comments/0.1.0"
	DefaultMaxRetries        = 3
	DefaultLogLevel          = "info"
	DefaultEnvFile           = ".env"
	DefaultS3Region          = "us-east-1"
)

// S3Config holds the optional upload target.
type S3Config struct {
	Bucket          string
	Region          string
	Prefix          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// Enabled reports whether an upload target is configured.
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

// Config is the resolved configuration.
type Config struct {
	APIKey  string
	Channel string

	Strategy    string
	Workers     int
	MaxVideos   int
	MaxComments int
	Output      string

	RequestsPerSecond float64
	DailyQuota        int64
	QuotaReserve      int64
	CacheTTL          time.Duration
	RedisURL          string
	APIEndpoint       string
	UserAgent         string
	MaxRetries        int

	LogLevel  string
	LogPretty bool

	Progress    bool
	MetricsAddr string
	MetricsFile string

	S3 S3Config
}

type flagSpec struct {
	key   string
	usage string
	def   any
	short string
}

// flags lists every flag; the flag name is the key with "_" and "." as "-".
var flags = []flagSpec{
	{KeyConfigFile, "config file (yaml, toml or json)", "", ""},
	{KeyEnvFile, ".env file to load", DefaultEnvFile, ""},
	{KeyAPIKey, "YouTube Data API key (or " + FallbackAPIKeyEnv + ")", "", ""},
	{KeyChannel, "channel ID, @handle, username or channel URL", DefaultChannel, "c"},
	{KeyStrategy, "concurrency strategy: pool or tasks", DefaultStrategy, "s"},
	{KeyWorkers, "worker count (pool size, or task limit for tasks)", DefaultWorkers, "w"},
	{KeyMaxVideos, "maximum number of uploads to process (0 = all)", DefaultMaxVideos, ""},
	{KeyMaxComments, "maximum comments per video", DefaultMaxComments, ""},
	{KeyOutput, "output CSV path, - for stdout (default <channel>_comments_<strategy>.csv)", "", "o"},
	{KeyRequestsPerSecond, "API request rate limit", DefaultRequestsPerSecond, ""},
	{KeyDailyQuota, "daily API quota in units", int64(DefaultDailyQuota), ""},
	{KeyQuotaReserve, "quota units kept unused", int64(DefaultQuotaReserve), ""},
	{KeyCacheTTL, "freshness of cached API responses", DefaultCacheTTL, ""},
	{KeyRedisURL, "redis address or URL for caching and quota state (empty disables)", "", ""},
	{KeyAPIEndpoint, "YouTube API base URL override", "", ""},
	{KeyUserAgent, "User-Agent header", DefaultUserAgent, ""},
	{KeyMaxRetries, "attempts per API request", DefaultMaxRetries, ""},
	{KeyLogLevel, "log level: debug, info, warn, error", DefaultLogLevel, ""},
	{KeyLogPretty, "human-readable console logs", false, ""},
	{KeyProgress, "show a progress bar", false, ""},
	{KeyMetricsAddr, "serve /metrics and /health on this address while running", "", ""},
	{KeyMetricsFile, "write Prometheus metrics to this textfile when done", "", ""},
	{KeyS3Bucket, "upload the CSV to this S3 bucket", "", ""},
	{KeyS3Region, "S3 region", DefaultS3Region, ""},
	{KeyS3Prefix, "S3 key prefix", "", ""},
	{KeyS3Endpoint, "S3 endpoint override", "", ""},
	{KeyS3AccessKeyID, "S3 access key ID (default credential chain when empty)", "", ""},
	{KeyS3SecretAccessKey, "S3 secret access key", "", ""},
}

// FlagName returns the command-line flag name for key.
func FlagName(key string) string {
	return strings.NewReplacer("_", "-", ".", "-").Replace(key)
}

// RegisterFlags defines one flag per key on flagSet.
func RegisterFlags(flagSet *pflag.FlagSet) {
	for _, f := range flags {
		name := FlagName(f.key)
		switch def := f.def.(type) {
		case string:
			flagSet.StringP(name, f.short, def, f.usage)
		case int:
			flagSet.IntP(name, f.short, def, f.usage)
		case int64:
			flagSet.Int64P(name, f.short, def, f.usage)
		case float64:
			flagSet.Float64P(name, f.short, def, f.usage)
		case bool:
			flagSet.BoolP(name, f.short, def, f.usage)
		case time.Duration:
			flagSet.DurationP(name, f.short, def, f.usage)
		}
	}
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	for _, f := range flags {
		v.SetDefault(f.key, f.def)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// BindFlags binds every registered flag on flagSet to its key.
func BindFlags(v *viper.Viper, flagSet *pflag.FlagSet) error {
	for _, f := range flags {
		flag := flagSet.Lookup(FlagName(f.key))
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(f.key, flag); err != nil {
			return fmt.Errorf("bind flag %s: %w", flag.Name, err)
		}
	}
	return nil
}

// Load resolves the configuration. flagSet may be nil.
func Load(flagSet *pflag.FlagSet) (*Config, error) {
	v := New()
	if flagSet != nil {
		if err := BindFlags(v, flagSet); err != nil {
			return nil, err
		}
	}
	return FromViper(v)
}

// FromViper loads the .env file and config file named in v, then reads the
// configuration. Values already in the environment win over the .env file.
func FromViper(v *viper.Viper) (*Config, error) {
	if envFile := v.GetString(KeyEnvFile); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	if file := v.GetString(KeyConfigFile); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	cfg := &Config{
		APIKey:            v.GetString(KeyAPIKey),
		Channel:           strings.TrimSpace(v.GetString(KeyChannel)),
		Strategy:          strings.ToLower(strings.TrimSpace(v.GetString(KeyStrategy))),
		Workers:           v.GetInt(KeyWorkers),
		MaxVideos:         v.GetInt(KeyMaxVideos),
		MaxComments:       v.GetInt(KeyMaxComments),
		Output:            v.GetString(KeyOutput),
		RequestsPerSecond: v.GetFloat64(KeyRequestsPerSecond),
		DailyQuota:        v.GetInt64(KeyDailyQuota),
		QuotaReserve:      v.GetInt64(KeyQuotaReserve),
		CacheTTL:          v.GetDuration(KeyCacheTTL),
		RedisURL:          v.GetString(KeyRedisURL),
		APIEndpoint:       v.GetString(KeyAPIEndpoint),
		UserAgent:         v.GetString(KeyUserAgent),
		MaxRetries:        v.GetInt(KeyMaxRetries),
		LogLevel:          v.GetString(KeyLogLevel),
		LogPretty:         v.GetBool(KeyLogPretty),
		Progress:          v.GetBool(KeyProgress),
		MetricsAddr:       v.GetString(KeyMetricsAddr),
		MetricsFile:       v.GetString(KeyMetricsFile),
		S3: S3Config{
			Bucket:          v.GetString(KeyS3Bucket),
			Region:          v.GetString(KeyS3Region),
			Prefix:          v.GetString(KeyS3Prefix),
			Endpoint:        v.GetString(KeyS3Endpoint),
			AccessKeyID:     v.GetString(KeyS3AccessKeyID),
			SecretAccessKey: v.GetString(KeyS3SecretAccessKey),
		},
	}

	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv(FallbackAPIKeyEnv)
	}

	return cfg, nil
}

// Validate checks the settings needed to run an export.
func (c *Config) Validate() error {
	var errs []error

	if c.APIKey == "" {
		errs = append(errs, fmt.Errorf("api key is required (set %s_API_KEY or %s)", EnvPrefix, FallbackAPIKeyEnv))
	}
	if c.Channel == "" {
		errs = append(errs, errors.New("channel is required"))
	}
	if c.Strategy != "pool" && c.Strategy != "tasks" {
		errs = append(errs, fmt.Errorf("strategy must be pool or tasks (got %q)", c.Strategy))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be >= 1 (got %d)", c.Workers))
	}
	if c.MaxVideos < 0 {
		errs = append(errs, fmt.Errorf("max_videos must be >= 0 (got %d)", c.MaxVideos))
	}
	if c.MaxComments < 1 {
		errs = append(errs, fmt.Errorf("max_comments must be >= 1 (got %d)", c.MaxComments))
	}
	if c.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("requests_per_second must be >= 0 (got %v)", c.RequestsPerSecond))
	}

	return errors.Join(errs...)
}

// RedisOptions returns client options for RedisURL, or nil when Redis is
// disabled. Plain host:port addresses and redis:// URLs are accepted.
func (c *Config) RedisOptions() (*redis.Options, error) {
	if c.RedisURL == "" {
		return nil, nil
	}

	if strings.Contains(c.RedisURL, "://") {
		opts, err := redis.ParseURL(c.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return opts, nil
	}

	return &redis.Options{Addr: c.RedisURL}, nil
}
