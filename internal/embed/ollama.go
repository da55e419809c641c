package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	ragerr "github.com/zoterag/zoterag/internal/errors"
)

const (
	// DefaultOllamaHost is the default Ollama API endpoint.
	DefaultOllamaHost = "http://localhost:11434"

	ollamaPoolSize = 4
)

// OllamaConfig configures the Ollama embedder.
type OllamaConfig struct {
	// Host is the Ollama API endpoint.
	Host string

	// ModelID is the registry id of the embedding model.
	ModelID string

	// BatchSize for batch embedding requests.
	BatchSize int

	// PoolSize for the HTTP connection pool.
	PoolSize int

	// SkipHealthCheck skips the startup model check. Test hook.
	SkipHealthCheck bool

	// Retry overrides the backend retry policy. Nil uses
	// errors.RemoteRetryConfig.
	Retry *ragerr.RetryConfig
}

// OllamaEmbedder generates embeddings through Ollama's HTTP API.
type OllamaEmbedder struct {
	client    *http.Client
	transport *http.Transport
	cfg       OllamaConfig
	spec      ModelSpec
	retry     ragerr.RetryConfig

	mu       sync.RWMutex
	closed   bool
	lastCall time.Time
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder creates an Ollama embedder for the given model id.
// Unless SkipHealthCheck is set, it verifies the server is reachable and
// the model is installed before returning.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	spec, err := LookupModel(cfg.ModelID)
	if err != nil {
		return nil, err
	}

	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = ollamaPoolSize
	}

	retry := ragerr.RemoteRetryConfig()
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}

	// IdleConnTimeout is short because indexing runs are bursty; stale
	// connections should not linger after a cancelled run.
	transport := &http.Transport{
		MaxIdleConns:        cfg.PoolSize,
		MaxIdleConnsPerHost: cfg.PoolSize,
		MaxConnsPerHost:     cfg.PoolSize * 2,
		IdleConnTimeout:     10 * time.Second,
	}

	// No http.Client.Timeout: timeouts are applied per request via
	// context so the warm/cold distinction works.
	e := &OllamaEmbedder{
		client:    &http.Client{Transport: transport},
		transport: transport,
		cfg:       cfg,
		spec:      spec,
		retry:     retry,
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, ColdTimeout)
		defer cancel()
		if err := e.checkModel(checkCtx); err != nil {
			transport.CloseIdleConnections()
			return nil, err
		}
	}

	return e, nil
}

// checkModel verifies the configured model is installed on the server.
func (e *OllamaEmbedder) checkModel(ctx context.Context) error {
	models, err := e.listModels(ctx)
	if err != nil {
		return err
	}

	if e.modelInstalled(models) {
		return nil
	}
	return ragerr.New(ragerr.ErrCodeModelUnknown,
		fmt.Sprintf("model %s not installed on %s", e.spec.OllamaModel, e.cfg.Host), nil).
		WithSuggestion(fmt.Sprintf("run 'ollama pull %s'", e.spec.OllamaModel))
}

// modelInstalled matches the configured model against installed tags,
// accepting tag-less base names (bge-m3 matches bge-m3:latest).
func (e *OllamaEmbedder) modelInstalled(models []ollamaModelInfo) bool {
	want := strings.ToLower(e.spec.OllamaModel)
	wantBase := strings.SplitN(want, ":", 2)[0]
	for _, m := range models {
		name := strings.ToLower(m.Name)
		if name == want {
			return true
		}
		if strings.SplitN(name, ":", 2)[0] == wantBase {
			return true
		}
	}
	return false
}

func (e *OllamaEmbedder) listModels(ctx context.Context) ([]ollamaModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.Host+"/api/tags", nil)
	if err != nil {
		return nil, ragerr.InternalError("build tags request", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, ragerr.ConnectionError(
			fmt.Sprintf("connect to Ollama at %s", e.cfg.Host), err).
			WithSuggestion("check that Ollama is running (ollama serve)")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, ragerr.ConnectionError(
			fmt.Sprintf("list models: status %d: %s", resp.StatusCode, string(body)), nil)
	}

	var result ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, ragerr.ConnectionError("decode tags response", err)
	}
	return result.Models, nil
}

// Embed generates the embedding for a single text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, ragerr.New(ragerr.ErrCodeEmbeddingFailed, "no embedding returned", nil)
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts. Blank texts map to
// zero vectors without a backend call. Inputs are truncated to
// MaxInputChars.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, ragerr.InternalError("embedder is closed", nil)
	}
	e.mu.RUnlock()

	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	var pendingIdx []int
	var pending []string
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = make([]float32, e.spec.Dimensions)
			continue
		}
		pendingIdx = append(pendingIdx, i)
		pending = append(pending, truncate(text))
	}
	if len(pending) == 0 {
		return results, nil
	}

	for start := 0; start < len(pending); start += e.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := min(start+e.cfg.BatchSize, len(pending))
		batch := pending[start:end]

		vecs, err := ragerr.RetryWithResult(ctx, e.retry, func() ([][]float32, error) {
			return e.doEmbed(ctx, batch)
		})
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(batch) {
			return nil, ragerr.New(ragerr.ErrCodeEmbeddingFailed,
				fmt.Sprintf("got %d embeddings for %d texts", len(vecs), len(batch)), nil)
		}

		for i, vec := range vecs {
			results[pendingIdx[start+i]] = vec
		}

		e.mu.Lock()
		e.lastCall = time.Now()
		e.mu.Unlock()
	}

	return results, nil
}

// timeout picks the request timeout from warm/cold state. The first call
// after idle gets the cold budget because Ollama may reload the model.
func (e *OllamaEmbedder) timeout() time.Duration {
	e.mu.RLock()
	lastCall := e.lastCall
	e.mu.RUnlock()

	if lastCall.IsZero() || time.Since(lastCall) > modelUnloadThreshold {
		return ColdTimeout
	}
	return WarmTimeout
}

// doEmbed performs one /api/embed call. The HTTP exchange runs in a
// goroutine so cancellation interrupts an in-flight request instead of
// waiting out the timeout.
func (e *OllamaEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	reqCtx, cancel := context.WithTimeout(ctx, e.timeout())
	defer cancel()

	var input any
	if len(texts) == 1 {
		input = texts[0]
	} else {
		input = texts
	}
	body, err := json.Marshal(ollamaEmbedRequest{Model: e.spec.OllamaModel, Input: input})
	if err != nil {
		return nil, ragerr.InternalError("marshal embed request", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, e.cfg.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, ragerr.InternalError("build embed request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	type result struct {
		vecs [][]float32
		err  error
	}
	resultCh := make(chan result, 1)

	go func() {
		resp, err := e.client.Do(req)
		if err != nil {
			if reqCtx.Err() == context.DeadlineExceeded {
				resultCh <- result{nil, ragerr.New(ragerr.ErrCodeTimeout,
					fmt.Sprintf("embedding timed out after %s", e.timeout()), err)}
				return
			}
			resultCh <- result{nil, ragerr.ConnectionError("embedding request failed", err)}
			return
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			resultCh <- result{nil, embedStatusError(resp.StatusCode, respBody)}
			return
		}

		var apiResult ollamaEmbedResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiResult); err != nil {
			resultCh <- result{nil, ragerr.ConnectionError("decode embed response", err)}
			return
		}
		if len(apiResult.Embeddings) == 0 {
			resultCh <- result{nil, ragerr.New(ragerr.ErrCodeEmbeddingFailed, "empty embedding response", nil)}
			return
		}

		vecs := make([][]float32, len(apiResult.Embeddings))
		for i, emb := range apiResult.Embeddings {
			vec := make([]float32, len(emb))
			for j, v := range emb {
				vec[j] = float32(v)
			}
			vecs[i] = normalizeVector(vec)
		}
		resultCh <- result{vecs, nil}
	}()

	select {
	case <-ctx.Done():
		// Force-close connections so the blocked goroutine unwinds
		// quickly on Ctrl+C.
		e.forceCloseConnections()
		select {
		case <-resultCh:
		case <-time.After(100 * time.Millisecond):
		}
		return nil, ctx.Err()
	case r := <-resultCh:
		if r.err != nil {
			slog.Debug("embedding call failed",
				slog.String("model", e.spec.OllamaModel),
				slog.Int("texts", len(texts)),
				slog.String("error", r.err.Error()))
		}
		return r.vecs, r.err
	}
}

// embedStatusError classifies a non-200 embed response.
func embedStatusError(status int, body []byte) error {
	msg := fmt.Sprintf("embedding failed with status %d: %s", status, string(body))
	switch {
	case status == http.StatusNotFound:
		return ragerr.New(ragerr.ErrCodeModelUnknown, msg, nil)
	case status == http.StatusTooManyRequests:
		return ragerr.New(ragerr.ErrCodeRateLimited, msg, nil)
	case status >= 500:
		return ragerr.ConnectionError(msg, nil)
	default:
		return ragerr.New(ragerr.ErrCodeEmbeddingFailed, msg, nil)
	}
}

// Dimensions returns the embedding dimension.
func (e *OllamaEmbedder) Dimensions() int {
	return e.spec.Dimensions
}

// ModelName returns the Ollama model tag.
func (e *OllamaEmbedder) ModelName() string {
	return e.spec.OllamaModel
}

// ModelID returns the registry id the embedder was built from.
func (e *OllamaEmbedder) ModelID() string {
	return e.spec.ID
}

// Available reports whether the server is reachable with the model
// installed.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return false
	}
	e.mu.RUnlock()

	models, err := e.listModels(ctx)
	if err != nil {
		return false
	}
	return e.modelInstalled(models)
}

// Close releases connection pool resources.
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	if e.transport != nil {
		e.transport.CloseIdleConnections()
	}
	return nil
}

// forceCloseConnections replaces the transport so goroutines blocked on
// reads get an error instead of waiting for the server.
func (e *OllamaEmbedder) forceCloseConnections() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.transport == nil {
		return
	}
	e.transport.CloseIdleConnections()
	e.transport = &http.Transport{
		MaxIdleConns:        e.cfg.PoolSize,
		MaxIdleConnsPerHost: e.cfg.PoolSize,
		MaxConnsPerHost:     e.cfg.PoolSize * 2,
		IdleConnTimeout:     10 * time.Second,
		DisableKeepAlives:   true,
	}
	e.client.Transport = e.transport
}

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

type ollamaTagsResponse struct {
	Models []ollamaModelInfo `json:"models"`
}

type ollamaModelInfo struct {
	Name       string    `json:"name"`
	ModifiedAt time.Time `json:"modified_at"`
	Size       int64     `json:"size"`
}
