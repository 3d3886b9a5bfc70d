package imagesource

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/R3E-Network/imagebulk/internal/errors"
	"github.com/R3E-Network/imagebulk/pkg/logger"
)

// fakePexels serves a search endpoint that returns total photos and image
// bytes for /img/<n>. Images listed in broken return 500.
func fakePexels(t *testing.T, total int, broken map[int]bool) *httptest.Server {
	t.Helper()
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/search":
			assert.Equal(t, "test-key", r.Header.Get("Authorization"))
			perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
			page, _ := strconv.Atoi(r.URL.Query().Get("page"))
			assert.LessOrEqual(t, perPage, maxPageSize)

			start := (page - 1) * perPage
			var photos []string
			for i := start; i < total && i < start+perPage; i++ {
				photos = append(photos, fmt.Sprintf(`{"id":%d,"src":{"original":"%s/img/%d"}}`, i, server.URL, i))
			}
			next := ""
			if start+perPage < total {
				next = fmt.Sprintf(`,"next_page":"%s/search?page=%d"`, server.URL, page+1)
			}
			fmt.Fprintf(w, `{"page":%d,"per_page":%d,"photos":[%s]%s}`, page, perPage, strings.Join(photos, ","), next)
		case strings.HasPrefix(r.URL.Path, "/img/"):
			assert.Empty(t, r.Header.Get("Authorization"))
			n, _ := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/img/"))
			if broken[n] {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.Write([]byte("jpeg-" + strconv.Itoa(n)))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestPexels(t *testing.T, baseURL string) *Pexels {
	return NewPexels(Config{
		BaseURL:       baseURL,
		APIKey:        "test-key",
		SearchTimeout: 5 * time.Second,
		FetchTimeout:  5 * time.Second,
		Concurrency:   3,
		TempDir:       t.TempDir(),
	}, logger.NewNop())
}

func TestSearch_ReturnsRequestedCount(t *testing.T) {
	server := fakePexels(t, 30, nil)
	p := newTestPexels(t, server.URL)

	images, err := p.Search(context.Background(), "sunset", 10)
	require.NoError(t, err)
	require.Len(t, images, 10)

	for i, img := range images {
		assert.Equal(t, fmt.Sprintf("%s/img/%d", server.URL, i), img.URL)
		data, err := os.ReadFile(img.Path)
		require.NoError(t, err)
		assert.Equal(t, "jpeg-"+strconv.Itoa(i), string(data))
		assert.True(t, strings.HasPrefix(filepath.Base(img.Path), fmt.Sprintf("sunset_%d_", i+1)))
	}
}

func TestSearch_PaginatesPastPageLimit(t *testing.T) {
	server := fakePexels(t, 200, nil)
	p := newTestPexels(t, server.URL)

	images, err := p.Search(context.Background(), "forest", 100)
	require.NoError(t, err)
	assert.Len(t, images, 100)
}

func TestSearch_FewerMatchesThanRequested(t *testing.T) {
	server := fakePexels(t, 3, nil)
	p := newTestPexels(t, server.URL)

	images, err := p.Search(context.Background(), "rare", 10)
	require.NoError(t, err)
	assert.Len(t, images, 3)
}

func TestSearch_SkipsFailedDownloads(t *testing.T) {
	server := fakePexels(t, 5, map[int]bool{1: true, 3: true})
	p := newTestPexels(t, server.URL)

	images, err := p.Search(context.Background(), "cats", 5)
	require.NoError(t, err)
	require.Len(t, images, 3)
	assert.True(t, strings.HasSuffix(images[1].URL, "/img/2"))

	entries, err := os.ReadDir(p.cfg.TempDir)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestSearch_NoResults(t *testing.T) {
	server := fakePexels(t, 0, nil)
	p := newTestPexels(t, server.URL)

	_, err := p.Search(context.Background(), "qwxz", 5)
	assert.ErrorIs(t, err, apperrors.ErrNoResults)
}

func TestSearch_AllDownloadsFail(t *testing.T) {
	server := fakePexels(t, 2, map[int]bool{0: true, 1: true})
	p := newTestPexels(t, server.URL)

	_, err := p.Search(context.Background(), "cats", 2)
	assert.ErrorIs(t, err, apperrors.ErrUpstreamUnavailable)
}

func TestSearch_UpstreamErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	p := newTestPexels(t, server.URL)
	_, err := p.Search(context.Background(), "cats", 2)
	assert.ErrorIs(t, err, apperrors.ErrUpstreamUnavailable)

	unconfigured := NewPexels(Config{BaseURL: server.URL}, logger.NewNop())
	_, err = unconfigured.Search(context.Background(), "cats", 2)
	assert.ErrorIs(t, err, apperrors.ErrUpstreamUnavailable)
}

func TestSearch_StalledUpstreamTimesOut(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	p := NewPexels(Config{BaseURL: server.URL, APIKey: "k", SearchTimeout: 50 * time.Millisecond, TempDir: t.TempDir()}, logger.NewNop())
	start := time.Now()
	_, err := p.Search(context.Background(), "cats", 2)
	assert.ErrorIs(t, err, apperrors.ErrUpstreamUnavailable)
	assert.Less(t, time.Since(start), 5*time.Second)
}
