package gateway

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestClient builds a client with fast retry timing against the given
// server URL. mutate tweaks the config before construction.
func newTestClient(serverURL string, mutate func(cfg *Config)) *Client {
	cfg := DefaultConfig()
	cfg.BaseURL = serverURL
	cfg.RetryAttempts = 2
	cfg.RetryDelay = time.Millisecond
	cfg.RetryMaxDelay = 5 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}
	return New(testLogger(), cfg)
}

func TestNew(t *testing.T) {
	t.Run("applies defaults to zero config", func(t *testing.T) {
		client := New(testLogger(), Config{BaseURL: "gateway.local:8888"})
		assert.Equal(t, DefaultPlaylistTimeout, client.config.PlaylistTimeout)
		assert.Equal(t, DefaultSegmentTimeout, client.config.SegmentTimeout)
		assert.Equal(t, int64(DefaultMaxPlaylistBytes), client.config.MaxPlaylistBytes)
		assert.Equal(t, DefaultRetryAttempts, client.config.RetryAttempts)
		assert.Equal(t, DefaultCircuitThreshold, client.config.CircuitThreshold)
		assert.Equal(t, "http://gateway.local:8888", client.BaseURL())
	})

	t.Run("keeps custom values", func(t *testing.T) {
		cfg := Config{
			BaseURL:          "http://gateway.local",
			PlaylistTimeout:  2 * time.Second,
			RetryAttempts:    5,
			CircuitThreshold: 10,
		}
		client := New(testLogger(), cfg)
		assert.Equal(t, 2*time.Second, client.config.PlaylistTimeout)
		assert.Equal(t, 5, client.config.RetryAttempts)
		assert.Equal(t, 10, client.config.CircuitThreshold)
	})

	t.Run("uses custom base client", func(t *testing.T) {
		baseClient := &http.Client{Timeout: 5 * time.Second}
		cfg := DefaultConfig()
		cfg.BaseClient = baseClient
		client := New(testLogger(), cfg)
		assert.Equal(t, baseClient, client.client)
	})
}

func TestClient_FetchPlaylist(t *testing.T) {
	t.Run("returns playlist bytes", func(t *testing.T) {
		playlist := "#EXTM3U\n#EXT-X-VERSION:9\n#EXTINF:3.000,\nfront-door_seg7.mp4\n"
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			w.Write([]byte(playlist))
		}))
		defer server.Close()

		client := newTestClient(server.URL, nil)
		data, err := client.FetchPlaylist(context.Background(), server.URL+"/front-door/index.m3u8")
		require.NoError(t, err)
		assert.Equal(t, playlist, string(data))
	})

	t.Run("sets user agent and accept encoding", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Contains(t, r.Header.Get(HeaderUserAgent), "nvarr")
			acceptEncoding := r.Header.Get(HeaderAcceptEncoding)
			assert.Contains(t, acceptEncoding, "gzip")
			assert.Contains(t, acceptEncoding, "br")
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := newTestClient(server.URL, nil)
		_, err := client.FetchPlaylist(context.Background(), server.URL)
		require.NoError(t, err)
	})

	t.Run("rejects oversized playlist", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write(bytes.Repeat([]byte("#"), 2048))
		}))
		defer server.Close()

		client := newTestClient(server.URL, func(cfg *Config) {
			cfg.MaxPlaylistBytes = 1024
		})
		_, err := client.FetchPlaylist(context.Background(), server.URL)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrResponseTooLarge)
	})

	t.Run("times out within playlist budget", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := newTestClient(server.URL, func(cfg *Config) {
			cfg.PlaylistTimeout = 20 * time.Millisecond
		})
		_, err := client.FetchPlaylist(context.Background(), server.URL)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestClient_FetchSegment(t *testing.T) {
	t.Run("returns segment bytes", func(t *testing.T) {
		segment := bytes.Repeat([]byte{0xAB}, 4096)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write(segment)
		}))
		defer server.Close()

		client := newTestClient(server.URL, nil)
		data, err := client.FetchSegment(context.Background(), server.URL+"/front-door_seg7.mp4")
		require.NoError(t, err)
		assert.Equal(t, segment, data)
	})

	t.Run("rejects oversized segment", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write(bytes.Repeat([]byte{0xAB}, 4096))
		}))
		defer server.Close()

		client := newTestClient(server.URL, func(cfg *Config) {
			cfg.MaxSegmentBytes = 1024
		})
		_, err := client.FetchSegment(context.Background(), server.URL)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrResponseTooLarge)
	})
}

func TestClient_Retries(t *testing.T) {
	t.Run("retries on 503 then succeeds", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			count := atomic.AddInt32(&attempts, 1)
			if count < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte("#EXTM3U\n"))
		}))
		defer server.Close()

		client := newTestClient(server.URL, nil)
		data, err := client.FetchPlaylist(context.Background(), server.URL)
		require.NoError(t, err)
		assert.Equal(t, "#EXTM3U\n", string(data))
		assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	})

	t.Run("returns ErrMaxRetries after exhaustion", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		client := newTestClient(server.URL, nil)
		_, err := client.FetchPlaylist(context.Background(), server.URL)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMaxRetries)
		assert.Equal(t, int32(3), atomic.LoadInt32(&attempts)) // initial + 2 retries
	})

	t.Run("does not retry on 404", func(t *testing.T) {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		client := newTestClient(server.URL, nil)
		_, err := client.FetchPlaylist(context.Background(), server.URL)
		require.Error(t, err)

		var statusErr *StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusNotFound, statusErr.Code)
		assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
	})

	t.Run("does not retry on context cancellation", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(100 * time.Millisecond)
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := newTestClient(server.URL, nil)
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()

		_, err := client.FetchSegment(ctx, server.URL)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestClient_Decompression(t *testing.T) {
	payload := "#EXTM3U\n#EXT-X-TARGETDURATION:4\n"

	t.Run("gzip", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(HeaderContentEncoding, EncodingGzip)
			gw := gzip.NewWriter(w)
			gw.Write([]byte(payload))
			gw.Close()
		}))
		defer server.Close()

		client := newTestClient(server.URL, nil)
		data, err := client.FetchPlaylist(context.Background(), server.URL)
		require.NoError(t, err)
		assert.Equal(t, payload, string(data))
	})

	t.Run("brotli", func(t *testing.T) {
		var buf bytes.Buffer
		bw := brotli.NewWriter(&buf)
		_, err := bw.Write([]byte(payload))
		require.NoError(t, err)
		require.NoError(t, bw.Close())

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(HeaderContentEncoding, EncodingBrotli)
			w.Write(buf.Bytes())
		}))
		defer server.Close()

		client := newTestClient(server.URL, nil)
		data, err := client.FetchPlaylist(context.Background(), server.URL)
		require.NoError(t, err)
		assert.Equal(t, payload, string(data))
	})

	t.Run("plain", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(payload))
		}))
		defer server.Close()

		client := newTestClient(server.URL, nil)
		data, err := client.FetchPlaylist(context.Background(), server.URL)
		require.NoError(t, err)
		assert.Equal(t, payload, string(data))
	})
}

func TestClient_ReloadPaths(t *testing.T) {
	t.Run("posts to reload endpoint", func(t *testing.T) {
		var gotMethod, gotPath string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotMethod = r.Method
			gotPath = r.URL.Path
			w.WriteHeader(http.StatusNoContent)
		}))
		defer server.Close()

		client := newTestClient(server.URL, nil)
		err := client.ReloadPaths(context.Background())
		require.NoError(t, err)
		assert.Equal(t, http.MethodPost, gotMethod)
		assert.Equal(t, "/v3/config/paths/reload", gotPath)
	})

	t.Run("non-2xx status is an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		client := newTestClient(server.URL, nil)
		err := client.ReloadPaths(context.Background())
		require.Error(t, err)

		var statusErr *StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusInternalServerError, statusErr.Code)
	})
}

func TestClient_CircuitBreakerIntegration(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(server.URL, func(cfg *Config) {
		cfg.RetryAttempts = 1
		cfg.CircuitThreshold = 2
		cfg.CircuitTimeout = time.Minute
	})

	// Two failed attempts inside one fetch open the circuit.
	_, err := client.FetchPlaylist(context.Background(), server.URL)
	require.Error(t, err)
	assert.Equal(t, CircuitOpen, client.CircuitState())
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))

	// The next fetch fails fast without touching the server.
	_, err = client.FetchPlaylist(context.Background(), server.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))

	client.ResetCircuit()
	assert.Equal(t, CircuitClosed, client.CircuitState())
}

func TestObfuscateURL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "obfuscates token",
			input:    "http://gateway.local/front-door/index.m3u8?token=abc123",
			expected: "http://gateway.local/front-door/index.m3u8?token=***",
		},
		{
			name:     "obfuscates password and key",
			input:    "http://gateway.local/api?password=p1&key=k1",
			expected: "http://gateway.local/api?key=***&password=***",
		},
		{
			name:     "preserves non-sensitive params",
			input:    "http://gateway.local/api?camera=front-door&seq=12",
			expected: "http://gateway.local/api?camera=front-door&seq=12",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, obfuscateURL(u))
		})
	}

	t.Run("handles nil url", func(t *testing.T) {
		assert.Empty(t, obfuscateURL(nil))
	})
}

func TestIsRetryableStatus(t *testing.T) {
	retryable := []int{
		http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
	}
	nonRetryable := []int{
		http.StatusOK,
		http.StatusBadRequest,
		http.StatusNotFound,
		http.StatusInternalServerError,
	}

	for _, code := range retryable {
		assert.True(t, isRetryableStatus(code), "status %d", code)
	}
	for _, code := range nonRetryable {
		assert.False(t, isRetryableStatus(code), "status %d", code)
	}
}

func TestDecompressReader_Close(t *testing.T) {
	var readerClosed, closerClosed bool

	reader := &mockReadCloser{closeFunc: func() error {
		readerClosed = true
		return nil
	}}
	closer := &mockReadCloser{closeFunc: func() error {
		closerClosed = true
		return nil
	}}

	dr := &decompressReader{reader: reader, closer: closer}
	require.NoError(t, dr.Close())

	assert.True(t, readerClosed)
	assert.True(t, closerClosed)
}

type mockReadCloser struct {
	closeFunc func() error
}

func (m *mockReadCloser) Read(p []byte) (int, error) { return 0, io.EOF }

func (m *mockReadCloser) Close() error {
	if m.closeFunc != nil {
		return m.closeFunc()
	}
	return nil
}
