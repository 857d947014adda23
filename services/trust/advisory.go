package trust

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"ppv-trustcore/pkg/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"golang.org/x/sync/singleflight"
)

// AdvisoryInput is what the external fraud advisor sees of a request.
type AdvisoryInput struct {
	Address      string `json:"address"`
	UserAgent    string `json:"user_agent"`
	Referrer     string `json:"referrer,omitempty"`
	RequestCount int    `json:"request_count"`
	WindowMillis int64  `json:"time_window_ms"`
}

type advisoryResponse struct {
	IsFraud    bool    `json:"is_fraud"`
	Confidence float64 `json:"confidence"`
}

// Advisor returns an external fraud confidence in [0,1].
type Advisor interface {
	Confidence(ctx context.Context, in AdvisoryInput) (float64, error)
}

type HTTPAdvisor struct {
	url     string
	apiKey  string
	timeout time.Duration
	client  *http.Client
	group   singleflight.Group
}

// NewHTTPAdvisor returns nil when no advisory URL is configured.
func NewHTTPAdvisor(cfg *config.Config) Advisor {
	if cfg.Advisory.URL == "" {
		return nil
	}

	timeout := cfg.Advisory.Timeout
	if timeout <= 0 {
		timeout = 800 * time.Millisecond
	}

	return &HTTPAdvisor{
		url:     cfg.Advisory.URL,
		apiKey:  cfg.Advisory.ApiKey,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

// Confidence posts the input to the advisor. Concurrent lookups for the same
// address share one request.
func (a *HTTPAdvisor) Confidence(ctx context.Context, in AdvisoryInput) (float64, error) {
	// The shared request outlives any single caller's cancellation.
	detached := context.WithoutCancel(ctx)
	ch := a.group.DoChan(in.Address, func() (interface{}, error) {
		postCtx, cancel := context.WithTimeout(detached, a.timeout)
		defer cancel()
		return a.post(postCtx, in)
	})

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return 0, res.Err
		}
		return res.Val.(float64), nil
	}
}

func (a *HTTPAdvisor) post(ctx context.Context, in AdvisoryInput) (float64, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := a.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return 0, fmt.Errorf("advisory returned status %d", resp.StatusCode)
	}

	var out advisoryResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode advisory response: %w", err)
	}
	return clamp(out.Confidence), nil
}
