package posting_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"jobmate/applier-service/internal/model"
	"jobmate/applier-service/internal/posting"
)

// memCatalog records ingested postings; it stands in for the PG store.
type memCatalog struct {
	mu       sync.Mutex
	ingested []model.JobPosting
}

func (c *memCatalog) Ingest(_ context.Context, p model.JobPosting) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ingested = append(c.ingested, p)
	return nil
}

func (c *memCatalog) ListFresh(context.Context, time.Time, bool) ([]model.JobPosting, error) {
	return nil, nil
}

func (c *memCatalog) MarkExpired(context.Context, time.Duration) (int64, error) {
	return 0, nil
}

func feedPage(results ...map[string]any) string {
	body, _ := json.Marshal(map[string]any{"results": results, "count": len(results)})
	return string(body)
}

func TestFeedRun_IngestsResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") != "1" {
			fmt.Fprint(w, feedPage())
			return
		}
		fmt.Fprint(w, feedPage(
			map[string]any{
				"id": "a1", "source": "boardA", "title": "Backend Engineer",
				"employer": "Acme", "location": "Cape Town", "remoteEligible": true,
				"requiredSkills": []string{"go"}, "salary": 40000,
				"postedAt": "2026-08-01T09:00:00Z",
			},
			map[string]any{
				"id": "a2", "source": "boardA", "title": "Data Engineer",
				"employer": "Beta", "location": "Durban",
				"postedAt": "2026-08-02T09:00:00Z",
			},
		))
	}))
	defer srv.Close()

	catalog := &memCatalog{}
	f := posting.NewFeedFetcher([]string{srv.URL}, zap.NewNop())
	f.Run(context.Background(), catalog)

	if len(catalog.ingested) != 2 {
		t.Fatalf("ingested %d postings, want 2", len(catalog.ingested))
	}

	first := catalog.ingested[0]
	if first.SourceID != "a1" || first.Employer != "Acme" || !first.RemoteEligible {
		t.Errorf("first posting mapped incorrectly: %+v", first)
	}
	want := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	if !first.PostedAt.Equal(want) {
		t.Errorf("PostedAt = %v, want %v", first.PostedAt, want)
	}
}

// A failing source is skipped; the remaining sources still get swept.
func TestFeedRun_FailingSourceIsSkipped(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream exploded", http.StatusInternalServerError)
	}))
	defer bad.Close()

	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") != "1" {
			fmt.Fprint(w, feedPage())
			return
		}
		fmt.Fprint(w, feedPage(map[string]any{
			"id": "g1", "source": "boardB", "title": "SRE", "employer": "Gamma",
			"postedAt": "2026-08-03T09:00:00Z",
		}))
	}))
	defer good.Close()

	catalog := &memCatalog{}
	f := posting.NewFeedFetcher([]string{bad.URL, good.URL}, zap.NewNop())
	f.Run(context.Background(), catalog)

	if len(catalog.ingested) != 1 {
		t.Fatalf("ingested %d postings, want 1 from the healthy source", len(catalog.ingested))
	}
	if catalog.ingested[0].SourceID != "g1" {
		t.Errorf("ingested posting %q, want g1", catalog.ingested[0].SourceID)
	}
}

// A result with an unparsable postedAt is dropped at the fetch site; the
// rest of the page still ingests.
func TestFeedRun_UnparsablePostedAtIsDropped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") != "1" {
			fmt.Fprint(w, feedPage())
			return
		}
		fmt.Fprint(w, feedPage(
			map[string]any{
				"id": "bad-ts", "source": "boardA", "title": "Analyst", "employer": "Acme",
				"postedAt": "yesterday-ish",
			},
			map[string]any{
				"id": "good-ts", "source": "boardA", "title": "Engineer", "employer": "Acme",
				"postedAt": "2026-08-05T09:00:00Z",
			},
		))
	}))
	defer srv.Close()

	catalog := &memCatalog{}
	f := posting.NewFeedFetcher([]string{srv.URL}, zap.NewNop())
	f.Run(context.Background(), catalog)

	if len(catalog.ingested) != 1 {
		t.Fatalf("ingested %d postings, want only the one with a valid timestamp", len(catalog.ingested))
	}
	if catalog.ingested[0].SourceID != "good-ts" {
		t.Errorf("ingested posting %q, want good-ts", catalog.ingested[0].SourceID)
	}
}

// A short page ends pagination for the source.
func TestFeedRun_ShortPageStopsPagination(t *testing.T) {
	var pages []string
	var mu sync.Mutex

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		pages = append(pages, r.URL.Query().Get("page"))
		mu.Unlock()
		fmt.Fprint(w, feedPage(map[string]any{
			"id": "only", "source": "boardC", "title": "QA", "employer": "Delta",
			"postedAt": "2026-08-04T09:00:00Z",
		}))
	}))
	defer srv.Close()

	catalog := &memCatalog{}
	f := posting.NewFeedFetcher([]string{srv.URL}, zap.NewNop())
	f.Run(context.Background(), catalog)

	if len(pages) != 1 {
		t.Errorf("fetched pages %v, want a single page for a short result set", pages)
	}
	if len(catalog.ingested) != 1 {
		t.Errorf("ingested %d postings, want 1", len(catalog.ingested))
	}
}

func TestFeedRun_NoURLsConfigured(t *testing.T) {
	catalog := &memCatalog{}
	f := posting.NewFeedFetcher(nil, zap.NewNop())
	f.Run(context.Background(), catalog)

	if len(catalog.ingested) != 0 {
		t.Errorf("ingested %d postings with no sources configured, want 0", len(catalog.ingested))
	}
}
