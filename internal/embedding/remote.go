package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/agentic-warden/mcp-gateway/internal/gwerr"
)

// DefaultTimeout bounds a single RemoteBackend.EmbedBatch call: a 10s
// per-embedding default.
const DefaultTimeout = 10 * time.Second

// RemoteBackend calls an HTTP embeddings endpoint, following the same
// net/http + JSON-body convention as internal/llm/openai.Client.
type RemoteBackend struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	dimension  int
}

// NewRemoteBackend creates a backend posting to baseURL (an OpenAI-style
// /embeddings endpoint). apiKey may be empty for unauthenticated endpoints.
func NewRemoteBackend(baseURL, apiKey string, dimension int) *RemoteBackend {
	return &RemoteBackend{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
		dimension:  dimension,
	}
}

func (b *RemoteBackend) Dimension() int { return b.dimension }

type remoteRequest struct {
	Input []string `json:"input"`
}

type remoteResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (b *RemoteBackend) EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	if err := validateInputs(inputs); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(remoteRequest{Input: inputs})
	if err != nil {
		return nil, gwerr.Wrap(gwerr.InvalidArgument, err, "embed_batch: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, gwerr.Wrap(gwerr.UnavailableBackend, err, "embed_batch: build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.UnavailableBackend, err, "embed_batch: request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, gwerr.New(gwerr.UnavailableBackend, "embed_batch: endpoint returned status %d", resp.StatusCode)
	}

	var parsed remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, gwerr.Wrap(gwerr.UnavailableBackend, err, "embed_batch: decode response")
	}
	if len(parsed.Data) != len(inputs) {
		return nil, gwerr.New(gwerr.UnavailableBackend, "embed_batch: expected %d vectors, got %d", len(inputs), len(parsed.Data))
	}

	out := make([][]float32, len(inputs))
	for i, d := range parsed.Data {
		if len(d.Embedding) != b.dimension {
			return nil, gwerr.New(gwerr.UnavailableBackend, "embed_batch: vector %d has dim %d, expected %d", i, len(d.Embedding), b.dimension)
		}
		out[i] = normalize(d.Embedding)
	}
	return out, nil
}
