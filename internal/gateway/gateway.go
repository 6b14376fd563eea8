// Package gateway talks to the external application-submission target.
// It classifies failures into the retryable/permanent taxonomy that drives
// the executor's state machine.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"jobmate/applier-service/internal/model"
)

// Submission is one application attempt handed to the external target.
type Submission struct {
	UserID      string `json:"userId"`
	Fingerprint string `json:"fingerprint"`
	Title       string `json:"title"`
	Employer    string `json:"employer"`
	SourceID    string `json:"sourceId"`
	Source      string `json:"source"`
}

// Receipt is the acknowledgement returned on a successful submission.
type Receipt struct {
	ExternalRef string    `json:"externalRef"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// Gateway performs the side-effecting act of applying to a posting.
type Gateway interface {
	Submit(ctx context.Context, sub Submission) (*Receipt, error)
}

// HTTPGateway submits applications over HTTP.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
}

// NewHTTPGateway constructs a gateway client. The per-call deadline comes
// from the caller's context, not the client, so the executor controls it.
func NewHTTPGateway(baseURL string) *HTTPGateway {
	return &HTTPGateway{
		baseURL: baseURL,
		client:  &http.Client{},
	}
}

// Submit POSTs the submission and maps the response onto the error
// taxonomy: 429/5xx and transport errors are transient, other 4xx are
// permanent rejections.
func (g *HTTPGateway) Submit(ctx context.Context, sub Submission) (*Receipt, error) {
	payload, err := json.Marshal(sub)
	if err != nil {
		return nil, fmt.Errorf("marshal submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/applications", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		// Includes context deadline: a timed-out submission is retryable.
		return nil, &model.TransientError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &model.TransientError{Err: fmt.Errorf("read body: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		var r Receipt
		if err := json.Unmarshal(body, &r); err != nil {
			return nil, &model.TransientError{Err: fmt.Errorf("decode receipt: %w", err)}
		}
		if r.SubmittedAt.IsZero() {
			r.SubmittedAt = time.Now().UTC()
		}
		return &r, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &model.TransientError{
			Err:        fmt.Errorf("gateway rate limited"),
			RetryAfter: retryAfter(resp),
		}

	case resp.StatusCode >= 500:
		return nil, &model.TransientError{
			Err: fmt.Errorf("gateway returned %d: %s", resp.StatusCode, string(body)),
		}

	default:
		return nil, &model.PermanentRejection{
			Reason: fmt.Sprintf("gateway returned %d: %s", resp.StatusCode, string(body)),
		}
	}
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}
