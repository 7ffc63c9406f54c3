package visuals

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"news-video-pipeline/config"
)

// ErrNoAPIKey means stock search is not configured at all
var ErrNoAPIKey = errors.New("PEXELS_API_KEY is not set")

const (
	searchTimeout  = 30 * time.Second
	minClipBytes   = 1024
	userAgentValue = "Mozilla/5.0 (compatible; NewsVideoPipeline/1.0)"
)

// ClipSearcher finds stock clips for a query
type ClipSearcher interface {
	SearchClips(ctx context.Context, query string, perPage int) ([]Candidate, error)
}

// Downloader saves a remote file to dest
type Downloader interface {
	Download(ctx context.Context, url, dest string) error
}

// PexelsClient talks to the Pexels video API. All searches share one limiter,
// so parallel scene workers still respect the request spacing.
type PexelsClient struct {
	baseURL         string
	apiKey          string
	httpClient      *http.Client
	limiter         *rate.Limiter
	downloadTimeout time.Duration
}

// NewPexelsClient creates a client; an empty apiKey makes every search fail with ErrNoAPIKey
func NewPexelsClient(cfg config.StockConfig, apiKey string) *PexelsClient {
	interval := time.Duration(cfg.RequestIntervalMS) * time.Millisecond
	return &PexelsClient{
		baseURL:         cfg.APIURL,
		apiKey:          apiKey,
		httpClient:      &http.Client{},
		limiter:         rate.NewLimiter(rate.Every(interval), 1),
		downloadTimeout: time.Duration(cfg.DownloadTimeout) * time.Second,
	}
}

type searchResponse struct {
	Videos       []Candidate `json:"videos"`
	Page         int         `json:"page"`
	PerPage      int         `json:"per_page"`
	TotalResults int         `json:"total_results"`
}

// SearchClips runs a landscape video search
func (p *PexelsClient) SearchClips(ctx context.Context, query string, perPage int) ([]Candidate, error) {
	if p.apiKey == "" {
		return nil, ErrNoAPIKey
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	q := url.Values{}
	q.Set("query", query)
	q.Set("per_page", strconv.Itoa(perPage))
	q.Set("orientation", "landscape")

	req, err := http.NewRequestWithContext(ctx, "GET", p.baseURL+"/videos/search?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", p.apiKey)
	req.Header.Set("User-Agent", userAgentValue)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d from Pexels", resp.StatusCode)
	}

	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode Pexels response: %w", err)
	}
	return body.Videos, nil
}

// Download streams a clip to dest. Partial files are removed on failure.
func (p *PexelsClient) Download(ctx context.Context, fileURL, dest string) error {
	if p.downloadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.downloadTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, "GET", fileURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgentValue)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d downloading clip", resp.StatusCode)
	}

	tmp := dest + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n < minClipBytes {
		// an error page, not a video
		err = fmt.Errorf("response too small (%d bytes)", n)
	}
	if err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dest)
}
