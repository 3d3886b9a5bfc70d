// Package imagesource retrieves images for a keyword from the Pexels search
// API and stages them as transient files.
package imagesource

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/R3E-Network/imagebulk/internal/app/domain/download"
	"github.com/R3E-Network/imagebulk/internal/app/metrics"
	apperrors "github.com/R3E-Network/imagebulk/internal/errors"
	"github.com/R3E-Network/imagebulk/internal/httputil"
	"github.com/R3E-Network/imagebulk/pkg/logger"
)

// Pexels returns at most 80 photos per page.
const maxPageSize = 80

// Provider retrieves up to count images for keyword.
type Provider interface {
	Search(ctx context.Context, keyword string, count int) ([]download.RetrievedImage, error)
}

// Config tunes the Pexels client.
type Config struct {
	BaseURL       string
	APIKey        string
	SearchTimeout time.Duration
	FetchTimeout  time.Duration
	Concurrency   int
	TempDir       string
	MaxImageBytes int64
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.pexels.com/v1"
	}
	if c.SearchTimeout <= 0 {
		c.SearchTimeout = 30 * time.Second
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 60 * time.Second
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.TempDir == "" {
		c.TempDir = filepath.Join(os.TempDir(), "imagebulk")
	}
	if c.MaxImageBytes <= 0 {
		c.MaxImageBytes = 50 << 20
	}
	return c
}

// Pexels is a Provider backed by the Pexels API.
type Pexels struct {
	api *httputil.Client
	cfg Config
	log *logger.Logger
	now func() time.Time
}

var _ Provider = (*Pexels)(nil)

// NewPexels constructs the client. A missing API key is reported on Search
// so the service can still start without provider credentials.
func NewPexels(cfg Config, log *logger.Logger) *Pexels {
	cfg = cfg.withDefaults()
	if log == nil {
		log = logger.NewDefault("imagesource")
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	api := httputil.NewClient(httputil.ClientConfig{
		BaseURL: cfg.BaseURL,
		// Deadlines are applied per call through the context.
		HTTPClient: &http.Client{},
		Decorate: func(r *http.Request) {
			r.Header.Set("Authorization", apiKey)
		},
	})
	return &Pexels{api: api, cfg: cfg, log: log, now: time.Now}
}

// Search looks up keyword and downloads at most count originals. Individual
// download failures are skipped; only an empty search is NoResults.
func (p *Pexels) Search(ctx context.Context, keyword string, count int) ([]download.RetrievedImage, error) {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return nil, apperrors.UpstreamUnavailable("image provider not configured", nil)
	}
	if count <= 0 {
		return nil, apperrors.Validation("count must be positive")
	}

	urls, err := p.search(ctx, keyword, count)
	if err != nil {
		return nil, err
	}
	if len(urls) == 0 {
		return nil, apperrors.NoResults(keyword)
	}

	if err := os.MkdirAll(p.cfg.TempDir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}

	images := p.fetchAll(ctx, keyword, urls)
	if err := ctx.Err(); err != nil {
		Discard(images)
		return nil, err
	}
	if len(images) == 0 {
		return nil, apperrors.UpstreamUnavailable("failed to download any image", nil)
	}
	if len(images) < len(urls) {
		p.log.WithField("keyword", keyword).Infof("retrieved %d of %d images", len(images), len(urls))
	}
	return images, nil
}

func (p *Pexels) search(ctx context.Context, keyword string, count int) ([]string, error) {
	searchCtx, cancel := context.WithTimeout(ctx, p.cfg.SearchTimeout)
	defer cancel()

	perPage := count
	if perPage > maxPageSize {
		perPage = maxPageSize
	}

	var urls []string
	for page := 1; len(urls) < count; page++ {
		query := url.Values{}
		query.Set("query", keyword)
		query.Set("per_page", strconv.Itoa(perPage))
		query.Set("page", strconv.Itoa(page))

		resp, err := p.api.Get(searchCtx, "/search?"+query.Encode())
		if err != nil {
			metrics.RecordProviderFailure("search")
			return nil, apperrors.UpstreamUnavailable("image search failed", err)
		}
		body, err := httputil.ReadResponse(resp)
		if err != nil {
			metrics.RecordProviderFailure("search")
			return nil, apperrors.UpstreamUnavailable("image search failed", err)
		}
		if !gjson.ValidBytes(body) {
			metrics.RecordProviderFailure("search")
			return nil, apperrors.UpstreamUnavailable("image search returned malformed data", nil)
		}

		parsed := gjson.ParseBytes(body)
		found := 0
		parsed.Get("photos.#.src.original").ForEach(func(_, value gjson.Result) bool {
			if src := value.String(); src != "" {
				urls = append(urls, src)
				found++
			}
			return len(urls) < count
		})
		if found == 0 || !parsed.Get("next_page").Exists() {
			break
		}
	}

	if len(urls) > count {
		urls = urls[:count]
	}
	return urls, nil
}

func (p *Pexels) fetchAll(ctx context.Context, keyword string, urls []string) []download.RetrievedImage {
	slots := make([]*download.RetrievedImage, len(urls))
	sem := make(chan struct{}, p.cfg.Concurrency)
	stem := download.SafeName(keyword)

	var wg sync.WaitGroup
	for i, src := range urls {
		wg.Add(1)
		go func(i int, src string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()

			name := fmt.Sprintf("%s_%d_%d.jpg", stem, i+1, p.now().UnixNano())
			path := filepath.Join(p.cfg.TempDir, name)
			if err := p.fetch(ctx, src, path); err != nil {
				metrics.RecordProviderFailure("fetch")
				p.log.WithError(err).WithField("url", src).Warn("image download failed; skipping")
				return
			}
			slots[i] = &download.RetrievedImage{URL: src, Path: path}
		}(i, src)
	}
	wg.Wait()

	images := make([]download.RetrievedImage, 0, len(urls))
	for _, img := range slots {
		if img != nil {
			images = append(images, *img)
		}
	}
	return images
}

func (p *Pexels) fetch(ctx context.Context, src, path string) (err error) {
	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()

	resp, err := p.api.Fetch(fetchCtx, src)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("image status %d", resp.StatusCode)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()

	_, err = httputil.CopyWithLimit(f, resp.Body, p.cfg.MaxImageBytes)
	return err
}

// Discard removes the staged files of images, ignoring files already gone.
func Discard(images []download.RetrievedImage) {
	for _, img := range images {
		if img.Path == "" {
			continue
		}
		if err := os.Remove(img.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.NewDefault("imagesource").WithError(err).WithField("path", img.Path).Warn("remove staged image failed")
		}
	}
}
