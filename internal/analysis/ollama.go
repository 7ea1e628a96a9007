package analysis

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zombor/ecologic/internal/scanning"
)

// Ollama analyzes bills with a local Ollama vision model
type Ollama struct {
	baseURL      string
	model        string
	probeTimeout time.Duration
	client       *http.Client
}

// NewOllama creates a new Ollama analyzer.
// Vision models that read printed bills reasonably well: llava:1.6, qwen2-vl:7b, bakllava.
func NewOllama(baseURL string, modelName string, probeTimeout, timeout time.Duration) *Ollama {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if modelName == "" {
		modelName = "llava"
	}
	if timeout <= 0 {
		timeout = 120 * time.Second // vision models are slow on CPU
	}
	return &Ollama{
		baseURL:      strings.TrimRight(baseURL, "/"),
		model:        modelName,
		probeTimeout: probeTimeout,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

// Probe checks that the Ollama server answers on its root path
func (o *Ollama) Probe(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx, o.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("creating probe request: %w", err)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: ollama status %d", ErrUnreachable, resp.StatusCode)
	}
	return nil
}

// Upload sends the bill image to the chat API and returns the model's JSON text
func (o *Ollama) Upload(ctx context.Context, payload scanning.EncodedPayload) ([]byte, error) {
	reqBody := ollamaChatRequest{
		Model:  o.model,
		Stream: false,
		Format: "json",
		Messages: []ollamaMessage{
			{
				Role:    "system",
				Content: "You are an expert at reading utility bills. You must carefully read all text in images and extract accurate information.",
			},
			{
				Role:    "user",
				Content: billPrompt,
				Images:  []string{base64.StdEncoding.EncodeToString(payload.Data)},
			},
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &RejectedError{Status: resp.StatusCode, Body: string(body)}
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("%w: decoding ollama response: %v", ErrMalformedResponse, err)
	}
	return []byte(chatResp.Message.Content), nil
}

// Close is a no-op for the HTTP client
func (o *Ollama) Close() error {
	return nil
}
