package account

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// ErrInvalidEmail is returned before any call is made for a malformed address
var ErrInvalidEmail = errors.New("enter a valid email address")

var emailRx = regexp.MustCompile(`(?i)^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// ValidateEmail trims and syntax-checks an email address
func ValidateEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" || !emailRx.MatchString(email) {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// PasswordResetService sends a password reset link. The returned message is shown to the user.
type PasswordResetService interface {
	RequestPasswordReset(ctx context.Context, email string) (string, error)
}

// SimulatedPasswordReset is used when no account backend is configured. It always succeeds.
type SimulatedPasswordReset struct{}

// RequestPasswordReset pretends to send the email
func (SimulatedPasswordReset) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	if _, err := ValidateEmail(email); err != nil {
		return "", err
	}
	return "Password reset email sent (simulated).", nil
}

// RemotePasswordReset calls POST {baseURL}/auth/password-reset
type RemotePasswordReset struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewRemotePasswordReset creates a RemotePasswordReset
func NewRemotePasswordReset(baseURL, apiKey string, timeout time.Duration) *RemotePasswordReset {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RemotePasswordReset{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type resetResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// RequestPasswordReset asks the account backend to send the reset email
func (r *RemotePasswordReset) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	email, err := ValidateEmail(email)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(map[string]string{"email": email})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/auth/password-reset", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("X-API-KEY", r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling password reset: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	var parsed resetResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("password reset failed (status %d)", resp.StatusCode)
		}
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || !parsed.Success {
		if parsed.Message != "" {
			return "", errors.New(parsed.Message)
		}
		return "", fmt.Errorf("password reset failed (status %d)", resp.StatusCode)
	}
	if parsed.Message == "" {
		parsed.Message = "A password reset link was sent to your email address."
	}
	return parsed.Message, nil
}
