package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// ErrResourceExhausted marks failures caused by the model server running out
// of memory or compute. Callers may retry after Degrade.
var ErrResourceExhausted = errors.New("embedding resources exhausted")

// dmrPath is the Docker Model Runner embeddings route reached over its socket.
const dmrPath = "http://localhost/exp/vDD4.40/engines/llama.cpp/v1/embeddings"

// Config holds embeddings client configuration.
type Config struct {
	SocketPath string        // Unix socket path for Docker Model Runner
	BaseURL    string        // OpenAI-compatible server, used when SocketPath is empty
	Model      string        // Model name (e.g., "ai/embeddinggemma")
	Timeout    time.Duration // Per-request timeout, 0 means none

	// Degraded mode, typically a smaller or CPU-hosted model. Unset fields
	// default to the primary endpoint and model.
	FallbackModel      string
	FallbackSocketPath string
	FallbackBaseURL    string
}

type endpoint struct {
	httpClient *http.Client
	url        string
	model      string
}

// Client calls an OpenAI-compatible embeddings API.
type Client struct {
	mu       sync.Mutex
	active   endpoint
	fallback endpoint
	degraded bool
}

// New creates a new embeddings client.
func New(config Config) (*Client, error) {
	if config.SocketPath == "" && config.BaseURL == "" {
		return nil, fmt.Errorf("socket path or base URL is required")
	}
	if config.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	socket, base, model := config.FallbackSocketPath, config.FallbackBaseURL, config.FallbackModel
	if socket == "" && base == "" {
		socket, base = config.SocketPath, config.BaseURL
	}
	if model == "" {
		model = config.Model
	}

	return &Client{
		active:   newEndpoint(config.SocketPath, config.BaseURL, config.Model, config.Timeout),
		fallback: newEndpoint(socket, base, model, config.Timeout),
	}, nil
}

func newEndpoint(socketPath, baseURL, model string, timeout time.Duration) endpoint {
	if socketPath != "" {
		transport := &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		}
		return endpoint{
			httpClient: &http.Client{Transport: transport, Timeout: timeout},
			url:        dmrPath,
			model:      model,
		}
	}
	return endpoint{
		httpClient: &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone(), Timeout: timeout},
		url:        strings.TrimSuffix(baseURL, "/") + "/v1/embeddings",
		model:      model,
	}
}

// embeddingRequest is the request payload for the embeddings API.
type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embeddingResponse is the response from the embeddings API.
type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// MaxInputChars limits input to stay within model context window.
// qwen3-embedding supports ~24000 chars (~6000 tokens).
// Using 20000 for safety margin.
const MaxInputChars = 20000

// Model returns the model currently in use.
func (c *Client) Model() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active.model
}

// Degraded reports whether the client switched to its fallback.
func (c *Client) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

// Degrade switches to the fallback endpoint after checking it answers. It
// is a no-op once degraded. The fallback never shares the primary's
// connection pool.
func (c *Client) Degrade(ctx context.Context) error {
	c.mu.Lock()
	if c.degraded {
		c.mu.Unlock()
		return nil
	}
	from, fb := c.active.model, c.fallback
	c.mu.Unlock()

	if _, err := fb.embed(ctx, []string{"ping"}); err != nil {
		return fmt.Errorf("fallback embeddings model %s unavailable: %w", fb.model, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.degraded {
		slog.Warn("switching embeddings to degraded mode", "from_model", from, "to_model", fb.model)
		c.active = fb
		c.degraded = true
	}
	return nil
}

// Embed generates an embedding vector for the given text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in one request and returns vectors in input order.
// Text exceeding MaxInputChars is truncated from the end.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	c.mu.Lock()
	ep := c.active
	c.mu.Unlock()
	return ep.embed(ctx, texts)
}

func (ep endpoint) embed(ctx context.Context, texts []string) ([][]float32, error) {
	input := make([]string, len(texts))
	for i, text := range texts {
		input[i] = truncate(text, MaxInputChars)
	}
	slog.Debug("generating embeddings", "count", len(input), "model", ep.model)

	body, err := json.Marshal(embeddingRequest{Model: ep.model, Input: input})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := ep.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp.StatusCode, string(respBody))
	}

	var embResp embeddingResponse
	if err := json.Unmarshal(respBody, &embResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if embResp.Error != nil {
		return nil, apiError(resp.StatusCode, embResp.Error.Message)
	}

	if len(embResp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(embResp.Data))
	}

	sort.SliceStable(embResp.Data, func(i, j int) bool {
		return embResp.Data[i].Index < embResp.Data[j].Index
	})
	vectors := make([][]float32, len(embResp.Data))
	for i, d := range embResp.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

// Probe embeds a short text and returns the vector dimensions.
func (c *Client) Probe(ctx context.Context) (int, error) {
	v, err := c.Embed(ctx, "ping")
	if err != nil {
		return 0, err
	}
	return len(v), nil
}

var exhaustionRe = regexp.MustCompile(`(?i)out of memory|\boom\b|resource[ _]exhausted|insufficient memory`)

func apiError(status int, msg string) error {
	if status == http.StatusInsufficientStorage || exhaustionRe.MatchString(msg) {
		return fmt.Errorf("%w (status %d): %s", ErrResourceExhausted, status, msg)
	}
	if status == http.StatusOK {
		return fmt.Errorf("API error: %s", msg)
	}
	return fmt.Errorf("API error (status %d): %s", status, msg)
}

// truncate cuts s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// Dimensions returns the expected embedding dimensions for common models.
func Dimensions(model string) int {
	switch model {
	case "ai/embeddinggemma":
		return 768
	case "ai/snowflake-arctic-embed":
		return 1024
	case "ai/qwen3-embedding":
		return 2560
	case "ai/mxbai-embed-large", "bge-m3", "ai/bge-m3":
		return 1024
	default:
		return 768 // default assumption
	}
}
