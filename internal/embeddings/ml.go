package embeddings

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Basilakis/kai-sub003/internal/cache"
	"github.com/Basilakis/kai-sub003/internal/simd"
	"github.com/Basilakis/kai-sub003/pkg/types"
)

const mlProjectionSeed = 7

// MLClient talks to a remote image-embedding model server
type MLClient struct {
	baseURL    string
	model      string
	dims       int
	httpClient *http.Client
	cache      *cache.EmbeddingCache

	mu    sync.Mutex
	projs map[int]*simd.Projection // keyed by native model dimensionality

	requests atomic.Int64
	latency  atomic.Int64 // cumulative latency in microseconds
}

// MLConfig configures the ML client
type MLConfig struct {
	BaseURL    string        `yaml:"endpoint"`
	ModelPath  string        `yaml:"model_path"`
	Dimensions int           `yaml:"-"`
	Timeout    time.Duration `yaml:"timeout"`
}

type mlRequest struct {
	Model    string `json:"model"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Channels int    `json:"channels"`
	Pixels   string `json:"pixels"` // base64 of the raw buffer
}

// NewMLClient creates a client for the model server at cfg.BaseURL. c may be nil.
func NewMLClient(cfg MLConfig, c *cache.EmbeddingCache) *MLClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	model := "default"
	if cfg.ModelPath != "" {
		model = strings.TrimSuffix(filepath.Base(cfg.ModelPath), filepath.Ext(cfg.ModelPath))
	}

	return &MLClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   model,
		dims:    cfg.Dimensions,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		cache: c,
		projs: make(map[int]*simd.Projection),
	}
}

// Method returns ml-based
func (c *MLClient) Method() types.EmbeddingMethod {
	return types.MethodMLBased
}

// Generate requests the model embedding of img and adapts it to the configured dimensions
func (c *MLClient) Generate(ctx context.Context, img *types.Image) ([]float32, error) {
	if !img.Valid() {
		return nil, types.ErrEmptyImage
	}

	var key string
	if c.cache != nil {
		key = cache.Key(img, types.MethodMLBased, c.dims)
		if emb, ok := c.cache.Get(ctx, key); ok {
			return emb, nil
		}
	}

	start := time.Now()

	native, err := c.embed(ctx, img)
	if err != nil {
		return nil, err
	}

	emb := native
	if c.dims > 0 && len(native) != c.dims {
		emb = c.projection(len(native)).Apply(native)
	}
	simd.Normalize(emb)

	c.requests.Add(1)
	c.latency.Add(time.Since(start).Microseconds())

	if c.cache != nil {
		c.cache.Put(ctx, key, emb)
	}
	return emb, nil
}

func (c *MLClient) embed(ctx context.Context, img *types.Image) ([]float32, error) {
	body, err := json.Marshal(mlRequest{
		Model:    c.model,
		Width:    img.Width,
		Height:   img.Height,
		Channels: img.Channels,
		Pixels:   base64.StdEncoding.EncodeToString(img.Pix[:img.Width*img.Height*img.Channels]),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embed/image", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call model server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("model server returned status %d: %s", resp.StatusCode, string(msg))
	}

	emb, err := parseEmbeddingStream(resp.Body, c.dims)
	if err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(emb) == 0 {
		return nil, fmt.Errorf("model server returned an empty embedding")
	}
	return emb, nil
}

// parseEmbeddingStream pulls the top-level "embedding" array out of the response,
// skipping every other member without decoding it
func parseEmbeddingStream(r io.Reader, sizeHint int) ([]float32, error) {
	dec := json.NewDecoder(r)
	t, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := t.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected a JSON object, got %v", t)
	}

	for dec.More() {
		t, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := t.(string)
		if key != "embedding" {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil, err
			}
			continue
		}

		t, err = dec.Token()
		if err != nil {
			return nil, err
		}
		if d, ok := t.(json.Delim); !ok || d != '[' {
			return nil, fmt.Errorf("embedding is not an array: %v", t)
		}
		emb := make([]float32, 0, sizeHint)
		for dec.More() {
			var f float64
			if err := dec.Decode(&f); err != nil {
				return nil, err
			}
			emb = append(emb, float32(f))
		}
		return emb, nil
	}
	return nil, fmt.Errorf("no embedding found in response")
}

func (c *MLClient) projection(in int) *simd.Projection {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.projs[in]
	if !ok {
		p = simd.NewProjection(in, c.dims, mlProjectionSeed)
		c.projs[in] = p
	}
	return p
}

// Dimensions returns the output dimensions
func (c *MLClient) Dimensions() int {
	return c.dims
}

// Model returns the model name sent to the server
func (c *MLClient) Model() string {
	return c.model
}

// Close releases idle connections
func (c *MLClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// Ping checks that the model server is reachable and healthy
func (c *MLClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("model server health check failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model server health check returned status %d", resp.StatusCode)
	}
	return nil
}

// Stats returns request count and mean latency
func (c *MLClient) Stats() (requests int64, avgLatencyMs float64) {
	requests = c.requests.Load()
	if requests > 0 {
		avgLatencyMs = float64(c.latency.Load()) / float64(requests) / 1000
	}
	return
}
