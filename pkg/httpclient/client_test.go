package httpclient

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults are valid", func(c *Config) {}, false},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }, true},
		{"negative retries", func(c *Config) { c.RetryAttempts = -1 }, true},
		{"zero backoff with retries", func(c *Config) { c.RetryBackoff = 0 }, true},
		{"max backoff below base", func(c *Config) { c.MaxBackoff = time.Millisecond }, true},
		{"empty user agent", func(c *Config) { c.UserAgent = "" }, true},
		{"retries disabled skips backoff checks", func(c *Config) {
			c.RetryAttempts = 0
			c.RetryBackoff = 0
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNew_SetsUserAgent(t *testing.T) {
	var gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.UserAgent = "relayd-test/1.0"
	client, err := New(cfg)
	require.NoError(t, err)

	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "relayd-test/1.0", gotUA)
}

func TestNew_RejectsBadConfig(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
