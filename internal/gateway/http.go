package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/felixgeelhaar/checkpoint/internal/domain"
)

// HTTPGateway talks to the grading service over JSON/HTTP
type HTTPGateway struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// HTTPConfig holds configuration for the HTTP gateway
type HTTPConfig struct {
	BaseURL string
	APIKey  string // optional bearer token
	Timeout time.Duration
}

// NewHTTPGateway creates a new HTTP gateway
func NewHTTPGateway(cfg HTTPConfig) *HTTPGateway {
	return &HTTPGateway{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: newGradingHTTPClient(cfg.Timeout),
	}
}

func (g *HTTPGateway) Submit(ctx context.Context, sub Submission) (*domain.Verdict, error) {
	if sub.ExerciseID == "" {
		return nil, fmt.Errorf("%w: missing exercise id", domain.ErrGateway)
	}

	body, err := json.Marshal(sub)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", domain.ErrGateway, err)
	}

	endpoint := fmt.Sprintf("%s/v1/exercises/%s/submit", g.baseURL, url.PathEscape(sub.ExerciseID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", domain.ErrGateway, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}
	if sub.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", sub.IdempotencyKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		if neverConnected(err) {
			return nil, fmt.Errorf("%w: %w: %v", domain.ErrGateway, ErrNotDelivered, err)
		}
		return nil, fmt.Errorf("%w: do request: %v", domain.ErrGateway, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("%w: %w: grading error (status %d): %s", domain.ErrGateway, ErrNotDelivered, resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
		}
		return nil, fmt.Errorf("%w: grading error (status %d): %s", domain.ErrGateway, resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	var verdict domain.Verdict
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", domain.ErrGateway, err)
	}
	verdict.ShowHint = verdict.ShowHint.Clamp()

	return &verdict, nil
}

// neverConnected reports failures that happen before any byte reaches the
// service: name resolution and dialing.
func neverConnected(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
