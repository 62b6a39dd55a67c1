package cache

import (
	"testing"
	"time"
)

func TestCacheEntry_Expiry(t *testing.T) {
	tests := []struct {
		name        string
		expires     time.Time
		wantExpired bool
	}{
		{"future", time.Now().Add(time.Minute), false},
		{"past", time.Now().Add(-time.Minute), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &CacheEntry{Expires: tt.expires}
			if got := e.IsExpired(); got != tt.wantExpired {
				t.Errorf("IsExpired() = %v, want %v", got, tt.wantExpired)
			}
			if tt.wantExpired && e.TTL() != 0 {
				t.Errorf("TTL() = %v, want 0 for expired entry", e.TTL())
			}
		})
	}
}

func TestCacheEntry_Age(t *testing.T) {
	e := &CacheEntry{CachedAt: time.Now().Add(-2 * time.Minute)}
	if age := e.Age(); age < 2*time.Minute || age > 2*time.Minute+5*time.Second {
		t.Errorf("Age() = %v, want about 2m", age)
	}
}
