package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/zombor/ecologic/internal/scanning"
)

const (
	pingPath    = "/ping"
	parsePath   = "/parse-invoice"
	analyzePath = "/analyze"

	apiKeyHeader = "X-API-KEY"

	maxResponseBytes = 8 << 20
	maxErrorBody     = 4 << 10
)

var (
	// ErrUnreachable covers transport failures where no response was received
	ErrUnreachable = errors.New("backend unreachable")
	// ErrTimeout is returned when a call exceeded its deadline
	ErrTimeout = errors.New("backend timeout")
)

// RejectedError is a completed response with a non-2xx status
type RejectedError struct {
	Status int
	Body   string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("backend rejected request (status %d): %s", e.Status, e.Body)
}

// BackendConfig holds the analyzer endpoint settings
type BackendConfig struct {
	BaseURL       string
	APIKey        string
	ProbeTimeout  time.Duration
	UploadTimeout time.Duration
}

// Backend talks to the remote bill analyzer over HTTP
type Backend struct {
	cfg    BackendConfig
	client *http.Client
	logger *slog.Logger
}

// NewBackend creates a Backend. A nil client uses a fresh http.Client; a nil logger uses slog.Default().
func NewBackend(cfg BackendConfig, client *http.Client, logger *slog.Logger) *Backend {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		cfg:    cfg,
		client: client,
		logger: logger.With("component", "analysis.backend"),
	}
}

// Probe checks that the backend answers GET /ping with exactly 200. It changes nothing
// and may be retried freely.
func (b *Backend) Probe(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx, b.cfg.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.cfg.BaseURL+pingPath, nil)
	if err != nil {
		return fmt.Errorf("creating probe request: %w", err)
	}
	b.setAuth(req)

	resp, err := b.client.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))

	if resp.StatusCode != http.StatusOK {
		b.logger.Debug("probe returned non-200", "status", resp.StatusCode)
		return fmt.Errorf("%w: ping status %d", ErrUnreachable, resp.StatusCode)
	}
	return nil
}

// Upload posts the payload as a multipart "file" field to /parse-invoice and returns the raw JSON body
func (b *Backend) Upload(ctx context.Context, payload scanning.EncodedPayload) ([]byte, error) {
	ctx, cancel := withTimeout(ctx, b.cfg.UploadTimeout)
	defer cancel()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, payload.Filename))
	header.Set("Content-Type", payload.MIMEType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("creating form part: %w", err)
	}
	if _, err := part.Write(payload.Data); err != nil {
		return nil, fmt.Errorf("writing form part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("closing form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.BaseURL+parsePath, body)
	if err != nil {
		return nil, fmt.Errorf("creating upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	b.setAuth(req)

	return b.do(req)
}

// Analyze posts an already-parsed invoice document to /analyze as {"invoice_json": <object>}
func (b *Backend) Analyze(ctx context.Context, invoiceJSON []byte) ([]byte, error) {
	ctx, cancel := withTimeout(ctx, b.cfg.UploadTimeout)
	defer cancel()

	doc, err := normalize(invoiceJSON)
	if err != nil {
		return nil, err
	}
	reqBody, err := json.Marshal(struct {
		InvoiceJSON json.RawMessage `json:"invoice_json"`
	}{InvoiceJSON: doc})
	if err != nil {
		return nil, fmt.Errorf("marshaling analyze request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.BaseURL+analyzePath, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("creating analyze request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	b.setAuth(req)

	return b.do(req)
}

func (b *Backend) do(req *http.Request) ([]byte, error) {
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &RejectedError{Status: resp.StatusCode, Body: string(body)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, classifyTransport(err)
	}
	return data, nil
}

func (b *Backend) setAuth(req *http.Request) {
	if b.cfg.APIKey != "" {
		req.Header.Set(apiKeyHeader, b.cfg.APIKey)
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// classifyTransport maps a failed round trip onto ErrTimeout or ErrUnreachable.
// Caller cancellation is passed through untouched.
func classifyTransport(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}
