package posting

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"jobmate/applier-service/internal/model"
)

const (
	feedTimeout  = 15 * time.Second
	feedMaxPages = 3
	feedPageSize = 50
)

// FeedFetcher pulls normalised postings from an external feed endpoint.
// Each configured source URL is expected to serve paginated JSON.
type FeedFetcher struct {
	urls   []string
	client *http.Client
	logger *zap.Logger
}

// NewFeedFetcher constructs a fetcher with a shared HTTP client.
func NewFeedFetcher(urls []string, logger *zap.Logger) *FeedFetcher {
	return &FeedFetcher{
		urls:   urls,
		client: &http.Client{Timeout: feedTimeout},
		logger: logger,
	}
}

// feedResponse mirrors the top-level feed JSON response.
type feedResponse struct {
	Results []feedResult `json:"results"`
	Count   int          `json:"count"`
}

// feedResult mirrors a single posting in the feed.
type feedResult struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Employer       string   `json:"employer"`
	Location       string   `json:"location"`
	RemoteEligible bool     `json:"remoteEligible"`
	RequiredSkills []string `json:"requiredSkills"`
	Salary         int      `json:"salary"`
	PostedAt       string   `json:"postedAt"`
	Source         string   `json:"source"`
}

// Run fetches every configured source and funnels results through the store.
// A failing source is logged and skipped; the sweep itself never fails.
func (f *FeedFetcher) Run(ctx context.Context, store Store) {
	if len(f.urls) == 0 {
		f.logger.Info("no feed urls configured, skipping ingestion sweep")
		return
	}

	var ingested int
	for _, url := range f.urls {
		results, err := f.fetchSource(ctx, url)
		if err != nil {
			f.logger.Warn("feed source failed, continuing",
				zap.String("url", url),
				zap.Error(err),
			)
			continue
		}

		for _, p := range results {
			if err := store.Ingest(ctx, p); err != nil {
				f.logger.Error("ingest failed", zap.String("fingerprint", p.Fingerprint), zap.Error(err))
				continue
			}
			ingested++
		}
	}

	f.logger.Info("ingestion sweep complete",
		zap.Int("sources", len(f.urls)),
		zap.Int("ingested", ingested),
	)
}

// fetchSource pages through one feed URL until an empty or short page.
func (f *FeedFetcher) fetchSource(ctx context.Context, url string) ([]model.JobPosting, error) {
	var postings []model.JobPosting

	for page := 1; page <= feedMaxPages; page++ {
		batch, err := f.fetchPage(ctx, url, page)
		if err != nil {
			return postings, fmt.Errorf("page %d: %w", page, err)
		}
		if len(batch) == 0 {
			break
		}
		postings = append(postings, batch...)
		if len(batch) < feedPageSize {
			break
		}
	}

	return postings, nil
}

func (f *FeedFetcher) fetchPage(ctx context.Context, url string, page int) ([]model.JobPosting, error) {
	reqURL := fmt.Sprintf("%s?page=%d&per_page=%d", url, page, feedPageSize)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http GET: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned %d: %s", resp.StatusCode, string(body))
	}

	var feed feedResponse
	if err := json.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("json unmarshal: %w", err)
	}

	postings := make([]model.JobPosting, 0, len(feed.Results))
	for _, r := range feed.Results {
		postedAt, err := time.Parse(time.RFC3339, r.PostedAt)
		if err != nil {
			f.logger.Warn("feed result has unparsable postedAt, dropping",
				zap.String("url", url),
				zap.String("source_id", r.ID),
				zap.String("posted_at", r.PostedAt),
				zap.Error(err),
			)
			continue
		}
		postings = append(postings, model.JobPosting{
			SourceID:       r.ID,
			Source:         r.Source,
			Title:          r.Title,
			Employer:       r.Employer,
			Location:       r.Location,
			RemoteEligible: r.RemoteEligible,
			RequiredSkills: r.RequiredSkills,
			SalaryOffered:  r.Salary,
			PostedAt:       postedAt,
		})
	}

	return postings, nil
}
