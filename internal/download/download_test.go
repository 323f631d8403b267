package download

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/flow-automator/internal/config"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{"punctuation stripped", "A cat/dog: running!! @2024", 60, "A_catdog_running_2024"},
		{"nothing left", "???", 60, "video"},
		{"empty", "", 60, "video"},
		{"whitespace collapsed", "  slow \t\n  pan  ", 60, "slow_pan"},
		{"truncated", "abcdefghij klmnop", 5, "abcde"},
		{"non-ascii dropped", "café 日本 ok", 60, "caf_ok"},
		{"hyphen and underscore kept", "a-b_c", 60, "a-b_c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeFilename(tt.input, tt.maxLen))
		})
	}
}

func TestFilename(t *testing.T) {
	at := time.UnixMilli(1_718_000_000_123)
	assert.Equal(t, "flow_a_cat_1718000000123.mp4", Filename("", "a cat!", at))
	assert.Equal(t, "veo/batch/flow_a_cat_1718000000123.mp4", Filename(" /veo/batch/ ", "a cat!", at))
}

func newTestDownloader(t *testing.T) *Downloader {
	t.Helper()
	d, err := New(config.DownloadConfig{Dir: t.TempDir(), Timeout: 5 * time.Second}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return d
}

func TestDownload_HTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/video.mp4" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		w.Write([]byte("MP4DATA"))
	}))
	defer srv.Close()

	d := newTestDownloader(t)
	dest, err := d.Download(context.Background(), srv.URL+"/video.mp4", "veo/flow_x_1.mp4")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(d.Dir(), "veo", "flow_x_1.mp4"), dest)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "MP4DATA", string(data))

	_, err = d.Download(context.Background(), srv.URL+"/missing", "flow_y_1.mp4")
	assert.ErrorContains(t, err, "404")
	_, statErr := os.Stat(filepath.Join(d.Dir(), "flow_y_1.mp4"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestDownload_DataURL(t *testing.T) {
	d := newTestDownloader(t)

	dest, err := d.Download(context.Background(), "data:video/mp4;base64,aGVsbG8=", "a.mp4")
	require.NoError(t, err)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	dest, err = d.Download(context.Background(), "data:text/plain,hi%20there", "b.mp4")
	require.NoError(t, err)
	data, err = os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "hi there", string(data))

	_, err = d.Download(context.Background(), "data:video/mp4;base64", "c.mp4")
	assert.ErrorContains(t, err, "malformed")
}

func TestDownload_Rejections(t *testing.T) {
	d := newTestDownloader(t)

	_, err := d.Download(context.Background(), "blob:https://labs.google/abc", "a.mp4")
	assert.ErrorIs(t, err, ErrUnsupportedURL)

	_, err = d.Download(context.Background(), "data:,x", "../escape.mp4")
	assert.ErrorContains(t, err, "outside the download directory")
}

func TestDownload_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	d := newTestDownloader(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Download(ctx, srv.URL, "a.mp4")
	assert.ErrorIs(t, err, context.Canceled)
}
