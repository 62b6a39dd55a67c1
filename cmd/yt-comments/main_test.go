package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/yt-comments/internal/testutil"
	"github.com/Sternrassler/yt-comments/pkg/client"
	"github.com/redis/go-redis/v9"
)

const testChannelID = "UCmock000000000000000000"

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	redisClient := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}

	t.Cleanup(func() {
		redisClient.Close()
	})
	return redisClient
}

func newMockChannel(t *testing.T) *testutil.MockYouTube {
	t.Helper()

	mock := testutil.NewMockYouTube()
	t.Cleanup(mock.Close)

	mock.AddChannel(testutil.MockChannel{
		ID:       testChannelID,
		Handle:   "mock",
		Title:    "Mock Channel",
		VideoIDs: []string{"v1", "v2", "v3"},
	})
	mock.AddVideo(testutil.MockVideo{
		ID: "v1", Title: "One", Views: 10, Likes: 1, CommentCount: 2,
		Comments: []testutil.MockComment{
			{Author: "ann", Text: "first!", Likes: 2},
			{Author: "ben", Text: "second", Replies: 1},
		},
	})
	mock.AddVideo(testutil.MockVideo{ID: "v2", Title: "Two", CommentsDisabled: true})
	mock.AddVideo(testutil.MockVideo{
		ID: "v3", Title: "Three", Views: 30,
		Comments: []testutil.MockComment{{Author: "cat", Text: "nice"}},
	})

	return mock
}

func clearAPIKeyEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"YTC_API_KEY", "YOUTUBE_API_KEY"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func execute(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()

	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--env-file", ""}, args...))

	err = cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestHealthEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	healthHandler(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	if string(body) != "OK" {
		t.Errorf("Expected body 'OK', got %s", string(body))
	}
}

func TestReadyEndpoint(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"code":403,"message":"quota","errors":[{"reason":"quotaExceeded"}]}}`))
	}))
	defer api.Close()

	cfg := client.DefaultConfig(nil, "test/1.0")
	cfg.BaseURL = api.URL
	apiClient, err := client.New(cfg)
	if err != nil {
		t.Fatalf("Failed to create API client: %v", err)
	}
	defer apiClient.Close()

	handler := readyHandler(nil, apiClient)

	t.Run("ready", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler(w, httptest.NewRequest("GET", "/ready", nil))

		if w.Code != http.StatusOK {
			t.Errorf("Expected status 200, got %d", w.Code)
		}
	})

	t.Run("not_ready_quota_exhausted", func(t *testing.T) {
		resp, err := apiClient.Get(context.Background(), "/youtube/v3/videos")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		resp.Body.Close()

		w := httptest.NewRecorder()
		handler(w, httptest.NewRequest("GET", "/ready", nil))

		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("Expected status 503, got %d", w.Code)
		}
	})
}

func TestReadyEndpoint_RedisDown(t *testing.T) {
	redisClient := setupTestRedis(t)
	handler := readyHandler(redisClient, nil)

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest("GET", "/ready", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	// Close Redis to simulate failure
	redisClient.Close()

	w = httptest.NewRecorder()
	handler(w, httptest.NewRequest("GET", "/ready", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}
}

func TestMetricsServer(t *testing.T) {
	srv, err := startMetricsServer("127.0.0.1:0", nil, nil)
	if err != nil {
		t.Fatalf("startMetricsServer() error = %v", err)
	}
	defer shutdownServer(srv)

	var body string
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get("http://" + srv.Addr + "/metrics")
		if err == nil {
			data, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			body = string(data)
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("metrics server not reachable: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	if !strings.Contains(body, "# HELP") || !strings.Contains(body, "# TYPE") {
		t.Error("Expected Prometheus format metrics output")
	}

	// Gauges without labels are always exported.
	if !strings.Contains(body, "yt_quota_units_used") {
		t.Error("Expected metrics output to contain yt_quota_units_used")
	}
}

func TestRootCmd_Export(t *testing.T) {
	for _, strategy := range []string{"pool", "tasks"} {
		t.Run(strategy, func(t *testing.T) {
			mock := newMockChannel(t)
			dir := t.TempDir()
			out := filepath.Join(dir, "comments.csv")
			promFile := filepath.Join(dir, "yt.prom")

			stdout, _, err := execute(t,
				"--api-key", "test-key",
				"--api-endpoint", mock.Endpoint(),
				"--channel", testChannelID,
				"--strategy", strategy,
				"--workers", "2",
				"--output", out,
				"--metrics-file", promFile,
				"--requests-per-second", "0",
			)
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}

			if !strings.Contains(stdout, "Channel: Mock Channel\n") {
				t.Errorf("stdout missing channel line: %q", stdout)
			}
			if !strings.Contains(stdout, "Data has been written to "+out+"\n") {
				t.Errorf("stdout missing output line: %q", stdout)
			}

			f, err := os.Open(out)
			if err != nil {
				t.Fatalf("open csv: %v", err)
			}
			defer f.Close()
			records, err := csv.NewReader(f).ReadAll()
			if err != nil {
				t.Fatalf("read csv: %v", err)
			}

			want := [][]string{
				{"Video Title", "Views", "Likes", "Comments", "Author", "Comment", "Comment Likes", "Replies"},
				{"One", "10", "1", "2", "ann", "first!", "2", "0"},
				{"One", "10", "1", "2", "ben", "second", "0", "1"},
				{"Three", "30", "0", "0", "cat", "nice", "0", "0"},
			}
			if len(records) != len(want) {
				t.Fatalf("rows = %d, want %d: %v", len(records), len(want), records)
			}
			for i := range want {
				if strings.Join(records[i], "|") != strings.Join(want[i], "|") {
					t.Errorf("row %d = %v, want %v", i, records[i], want[i])
				}
			}

			if mock.GetLastAPIKey() != "test-key" {
				t.Errorf("API key = %q, want test-key", mock.GetLastAPIKey())
			}

			prom, err := os.ReadFile(promFile)
			if err != nil {
				t.Fatalf("metrics file not written: %v", err)
			}
			if !strings.Contains(string(prom), "yt_export_rows 3") {
				t.Errorf("metrics file missing yt_export_rows 3")
			}
		})
	}
}

func TestRootCmd_StdoutOutput(t *testing.T) {
	mock := newMockChannel(t)

	stdout, stderr, err := execute(t,
		"--api-key", "k",
		"--api-endpoint", mock.Endpoint(),
		"--channel", "@mock",
		"--output", "-",
		"--progress",
	)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	records, err := csv.NewReader(strings.NewReader(stdout)).ReadAll()
	if err != nil {
		t.Fatalf("stdout is not clean CSV: %v\n%s", err, stdout)
	}
	if len(records) != 4 {
		t.Errorf("rows = %d, want 4", len(records))
	}
	if !strings.Contains(stderr, "Channel: Mock Channel") {
		t.Errorf("stderr missing channel line")
	}
}

func TestRootCmd_MaxVideosZeroListsAll(t *testing.T) {
	mock := testutil.NewMockYouTube()
	defer mock.Close()

	ids := make([]string, 55)
	for i := range ids {
		ids[i] = fmt.Sprintf("vid%02d", i)
	}
	mock.AddChannel(testutil.MockChannel{ID: testChannelID, Title: "Big Channel", VideoIDs: ids})

	_, _, err := execute(t,
		"--api-key", "k",
		"--api-endpoint", mock.Endpoint(),
		"--channel", testChannelID,
		"--max-videos", "0",
		"--output", filepath.Join(t.TempDir(), "all.csv"),
		"--requests-per-second", "0",
	)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if got := mock.GetPathCount(testutil.PathVideos); got != len(ids) {
		t.Errorf("videos.list calls = %d, want %d", got, len(ids))
	}
}

func TestRootCmd_ChannelNotFound(t *testing.T) {
	mock := newMockChannel(t)
	out := filepath.Join(t.TempDir(), "x.csv")

	_, _, err := execute(t,
		"--api-key", "k",
		"--api-endpoint", mock.Endpoint(),
		"--channel", "UCnothere000000000000000",
		"--output", out,
	)
	if err == nil || !strings.Contains(err.Error(), "failed to retrieve channel information") {
		t.Fatalf("Execute() error = %v, want channel failure", err)
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Error("CSV should not be written when the channel lookup fails")
	}
}

func TestRootCmd_Validation(t *testing.T) {
	clearAPIKeyEnv(t)

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"missing api key", []string{}, "api key is required"},
		{"bad strategy", []string{"--api-key", "k", "--strategy", "threads"}, "strategy must be pool or tasks"},
		{"zero workers", []string{"--api-key", "k", "--workers", "0"}, "workers must be >= 1"},
		{"zero max comments", []string{"--api-key", "k", "--max-comments", "0"}, "max_comments must be >= 1"},
		{"positional args", []string{"extra"}, "unknown command"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Execute() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestQuotaCmd(t *testing.T) {
	stdout, _, err := execute(t, "quota", "--daily-quota", "500", "--quota-reserve", "10")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	for _, want := range []string{
		"No Redis configured",
		"Used:      0 / 500 units",
		"Remaining: 500 units (reserve 10)",
		"Exhausted: false",
		"Resets at:",
	} {
		if !strings.Contains(stdout, want) {
			t.Errorf("quota output missing %q:\n%s", want, stdout)
		}
	}
}
