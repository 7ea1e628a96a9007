package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/zombor/ecologic/internal/scanning"
)

// Gemini analyzes bills with Google Gemini instead of the analysis backend
type Gemini struct {
	client       *genai.Client
	model        *genai.GenerativeModel
	probeTimeout time.Duration
	timeout      time.Duration
}

// NewGemini creates a new Gemini analyzer
func NewGemini(apiKey string, modelName string, probeTimeout, timeout time.Duration) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)

	return &Gemini{
		client:       client,
		model:        model,
		probeTimeout: probeTimeout,
		timeout:      timeout,
	}, nil
}

// Probe asks for the model metadata as a cheap reachability check
func (g *Gemini) Probe(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx, g.probeTimeout)
	defer cancel()
	if _, err := g.model.Info(ctx); err != nil {
		return classifyGemini(err)
	}
	return nil
}

// Upload sends the bill image to Gemini and returns the JSON text it produced
func (g *Gemini) Upload(ctx context.Context, payload scanning.EncodedPayload) ([]byte, error) {
	ctx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	// genai.ImageData expects just the format suffix (e.g., "jpeg"), not the full MIME type
	format := strings.TrimPrefix(payload.MIMEType, "image/")
	parts := []genai.Part{
		genai.ImageData(format, payload.Data),
		genai.Text(billPrompt),
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, classifyGemini(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("%w: no response from gemini", ErrMalformedResponse)
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	return []byte(text.String()), nil
}

// classifyGemini keeps API errors (bad key, quota, server errors) apart from transport failures
func classifyGemini(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		body := apiErr.Message
		if body == "" {
			body = apiErr.Body
		}
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return &RejectedError{Status: apiErr.Code, Body: body}
	}
	return classifyTransport(err)
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
