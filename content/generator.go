package content

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/warp/story-ledger/core"
	"github.com/warp/story-ledger/metrics"
)

// Request is what the generation service needs to write one story.
type Request struct {
	OwnerID   core.AccountID
	Period    core.PeriodKey
	WeekStart core.Date
	WeekEnd   core.Date
}

// Generator produces the payload of a new content item. It is called only
// after a genre token was consumed.
type Generator interface {
	Generate(ctx context.Context, req Request) (core.Payload, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (core.Payload, error)

func (f GeneratorFunc) Generate(ctx context.Context, req Request) (core.Payload, error) {
	return f(ctx, req)
}

// =============================================================================
// HTTP GENERATOR
// =============================================================================

type HTTPGeneratorOptions struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// HTTPGenerator calls the story generation service over HTTP.
type HTTPGenerator struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPGenerator(opts HTTPGeneratorOptions) *HTTPGenerator {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &HTTPGenerator{
		baseURL:    strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		httpClient: httpClient,
	}
}

type generateRequest struct {
	OwnerID   string `json:"owner_id"`
	Period    string `json:"period"`
	Genre     string `json:"genre"`
	WeekStart string `json:"week_start"`
	WeekEnd   string `json:"week_end"`
}

type generateResponse struct {
	Title    string `json:"title"`
	CoverRef string `json:"cover_ref"`
	Body     string `json:"body"`
}

// Generate posts the request to <base>/generate. Any transport failure,
// non-2xx status or empty story is ErrGenerationFailed.
func (g *HTTPGenerator) Generate(ctx context.Context, req Request) (payload core.Payload, err error) {
	start := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		metrics.GenerationLatency.WithLabelValues(result).Observe(time.Since(start).Seconds())
	}()

	if g.baseURL == "" {
		return core.Payload{}, fmt.Errorf("%w: generation service url not configured", core.ErrGenerationFailed)
	}
	body, err := json.Marshal(generateRequest{
		OwnerID:   string(req.OwnerID),
		Period:    req.Period.String(),
		Genre:     string(req.Period.Genre),
		WeekStart: req.WeekStart.String(),
		WeekEnd:   req.WeekEnd.String(),
	})
	if err != nil {
		return core.Payload{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return core.Payload{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return core.Payload{}, fmt.Errorf("%w: %v", core.ErrGenerationFailed, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return core.Payload{}, fmt.Errorf("%w: read response: %v", core.ErrGenerationFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return core.Payload{}, fmt.Errorf("%w: status %d: %s", core.ErrGenerationFailed, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var out generateResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return core.Payload{}, fmt.Errorf("%w: decode response: %v", core.ErrGenerationFailed, err)
	}
	if strings.TrimSpace(out.Body) == "" {
		return core.Payload{}, fmt.Errorf("%w: empty story", core.ErrGenerationFailed)
	}
	return core.Payload{Title: out.Title, CoverRef: out.CoverRef, Body: out.Body}, nil
}
