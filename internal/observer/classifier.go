package observer

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPClassifier asks a remote NSFW scoring endpoint about an image source.
// The endpoint accepts {"src": "..."} and answers {"score": 0.0-1.0}.
type HTTPClassifier struct {
	client *resty.Client
}

type scoreRequest struct {
	Src string `json:"src"`
}

type scoreResponse struct {
	Score float64 `json:"score"`
}

// NewHTTPClassifier creates a classifier posting to baseURL + "/score".
func NewHTTPClassifier(baseURL string, timeout time.Duration) *HTTPClassifier {
	c := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)
	return &HTTPClassifier{client: c}
}

// Score implements Classifier.
func (h *HTTPClassifier) Score(ctx context.Context, src string) (float64, error) {
	var out scoreResponse
	resp, err := h.client.R().
		SetContext(ctx).
		SetBody(&scoreRequest{Src: src}).
		SetResult(&out).
		Post("/score")
	if err != nil {
		return 0, fmt.Errorf("classifier request: %w", err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("classifier status %d", resp.StatusCode())
	}
	if out.Score < 0 || out.Score > 1 {
		return 0, fmt.Errorf("classifier score out of range: %v", out.Score)
	}
	return out.Score, nil
}
