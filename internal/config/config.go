package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/peterbourgon/ff/v4"
)

// Analyzer kinds
const (
	AnalyzerBackend = "backend"
	AnalyzerGemini  = "gemini"
	AnalyzerOllama  = "ollama"
)

// Password reset modes
const (
	ResetSimulated = "simulated"
	ResetRemote    = "remote"
)

// Config enumerates every endpoint, timeout, credential and tunable the app uses.
// It is validated once at startup.
type Config struct {
	Backend       BackendConfig
	Analyzer      string
	Gemini        GeminiConfig
	Ollama        OllamaConfig
	Image         ImageConfig
	Ledger        LedgerConfig
	CameraCommand string
	Server        ServerConfig
	PasswordReset string
	LogLevel      string
}

// BackendConfig describes the analysis backend
type BackendConfig struct {
	BaseURL         string
	APIKey          string
	ProbeTimeout    time.Duration
	UploadTimeout   time.Duration
	ProbeTTL        time.Duration
	FollowUpAnalyze bool
}

// GeminiConfig configures the Gemini analyzer
type GeminiConfig struct {
	APIKey string
	Model  string
}

// OllamaConfig configures the Ollama analyzer
type OllamaConfig struct {
	URL   string
	Model string
}

// ImageConfig controls preprocessing before upload
type ImageConfig struct {
	MaxSide int
	Quality int
	Format  string
}

// LedgerConfig locates the local ledger
type LedgerConfig struct {
	DBPath string
	Key    string
}

// ServerConfig configures the local HTTP host
type ServerConfig struct {
	Port     int
	AuthUser string
	AuthPass string
}

// Flags holds the registered flag values until they are turned into a Config
type Flags struct {
	backendURL      *string
	apiKey          *string
	probeTimeout    *time.Duration
	uploadTimeout   *time.Duration
	probeTTL        *time.Duration
	followUpAnalyze *bool
	analyzer        *string
	geminiKey       *string
	geminiModel     *string
	ollamaURL       *string
	ollamaModel     *string
	maxSide         *int
	quality         *int
	format          *string
	dbPath          *string
	ledgerKey       *string
	cameraCommand   *string
	port            *int
	authUser        *string
	authPass        *string
	passwordReset   *string
	logLevel        *string
}

// Register adds every configuration flag to fs
func Register(fs *ff.FlagSet) *Flags {
	return &Flags{
		backendURL:      fs.StringLong("backend-url", "http://localhost:8000", "Analysis backend base URL"),
		apiKey:          fs.StringLong("api-key", "", "API key sent as X-API-KEY (optional)"),
		probeTimeout:    fs.DurationLong("probe-timeout", 5*time.Second, "Timeout for the reachability probe"),
		uploadTimeout:   fs.DurationLong("upload-timeout", 60*time.Second, "Timeout for the bill upload"),
		probeTTL:        fs.DurationLong("probe-ttl", 30*time.Second, "Skip the probe when one succeeded this recently (0 disables)"),
		followUpAnalyze: fs.BoolLong("follow-up-analyze", "Send the parsed invoice to /analyze for a second pass"),
		analyzer:        fs.StringLong("analyzer", AnalyzerBackend, "Analyzer: 'backend', 'gemini' or 'ollama'"),
		geminiKey:       fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)"),
		geminiModel:     fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name"),
		ollamaURL:       fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL"),
		ollamaModel:     fs.StringLong("ollama-model", "llava", "Ollama vision model name"),
		maxSide:         fs.IntLong("max-side", 1600, "Longest image side in pixels before upload"),
		quality:         fs.IntLong("quality", 85, "Encoding quality, clamped to 10-100"),
		format:          fs.StringLong("format", "jpeg", "Upload format: 'jpeg' or 'png'"),
		dbPath:          fs.StringLong("db", "ecologic.db", "Ledger database file path"),
		ledgerKey:       fs.StringLong("ledger-key", "ScannedBills", "Key the ledger is stored under"),
		cameraCommand:   fs.StringLong("camera-command", "", "Command that writes one camera frame to stdout"),
		port:            fs.IntLong("port", 8080, "HTTP server port"),
		authUser:        fs.StringLong("auth-user", "", "Basic auth username (optional)"),
		authPass:        fs.StringLong("auth-pass", "", "Basic auth password (optional)"),
		passwordReset:   fs.StringLong("password-reset", ResetSimulated, "Password reset: 'simulated' or 'remote'"),
		logLevel:        fs.StringLong("log-level", "info", "Log level: debug, info, warn or error"),
	}
}

// Config builds a Config from parsed flags
func (f *Flags) Config() Config {
	return Config{
		Backend: BackendConfig{
			BaseURL:         strings.TrimSpace(*f.backendURL),
			APIKey:          *f.apiKey,
			ProbeTimeout:    *f.probeTimeout,
			UploadTimeout:   *f.uploadTimeout,
			ProbeTTL:        *f.probeTTL,
			FollowUpAnalyze: *f.followUpAnalyze,
		},
		Analyzer: strings.ToLower(strings.TrimSpace(*f.analyzer)),
		Gemini: GeminiConfig{
			APIKey: *f.geminiKey,
			Model:  *f.geminiModel,
		},
		Ollama: OllamaConfig{
			URL:   *f.ollamaURL,
			Model: *f.ollamaModel,
		},
		Image: ImageConfig{
			MaxSide: *f.maxSide,
			Quality: *f.quality,
			Format:  strings.ToLower(strings.TrimSpace(*f.format)),
		},
		Ledger: LedgerConfig{
			DBPath: *f.dbPath,
			Key:    *f.ledgerKey,
		},
		CameraCommand: *f.cameraCommand,
		Server: ServerConfig{
			Port:     *f.port,
			AuthUser: *f.authUser,
			AuthPass: *f.authPass,
		},
		PasswordReset: strings.ToLower(strings.TrimSpace(*f.passwordReset)),
		LogLevel:      strings.ToLower(strings.TrimSpace(*f.logLevel)),
	}
}

// Validate checks the whole configuration and reports every problem at once
func (c Config) Validate() error {
	var errs []error

	needsBackend := c.Analyzer == AnalyzerBackend || c.PasswordReset == ResetRemote
	if needsBackend {
		if err := validateURL(c.Backend.BaseURL); err != nil {
			errs = append(errs, fmt.Errorf("backend-url: %w", err))
		}
	}
	if c.Backend.ProbeTimeout <= 0 {
		errs = append(errs, errors.New("probe-timeout must be positive"))
	}
	if c.Backend.UploadTimeout <= 0 {
		errs = append(errs, errors.New("upload-timeout must be positive"))
	}
	if c.Backend.ProbeTTL < 0 {
		errs = append(errs, errors.New("probe-ttl must not be negative"))
	}

	switch c.Analyzer {
	case AnalyzerBackend:
	case AnalyzerGemini:
		if c.Gemini.APIKey == "" {
			errs = append(errs, errors.New("gemini-key is required for the gemini analyzer"))
		}
		if c.Backend.FollowUpAnalyze {
			errs = append(errs, errors.New("follow-up-analyze needs the backend analyzer"))
		}
	case AnalyzerOllama:
		if err := validateURL(c.Ollama.URL); err != nil {
			errs = append(errs, fmt.Errorf("ollama-url: %w", err))
		}
		if c.Backend.FollowUpAnalyze {
			errs = append(errs, errors.New("follow-up-analyze needs the backend analyzer"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid analyzer %q (valid: backend, gemini, ollama)", c.Analyzer))
	}

	if c.Image.MaxSide <= 0 {
		errs = append(errs, errors.New("max-side must be positive"))
	}
	if c.Image.Format != "jpeg" && c.Image.Format != "png" {
		errs = append(errs, fmt.Errorf("invalid format %q (valid: jpeg, png)", c.Image.Format))
	}
	if strings.TrimSpace(c.Ledger.DBPath) == "" {
		errs = append(errs, errors.New("db path is required"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Server.Port))
	}
	if c.PasswordReset != ResetSimulated && c.PasswordReset != ResetRemote {
		errs = append(errs, fmt.Errorf("invalid password-reset %q (valid: simulated, remote)", c.PasswordReset))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid log-level %q", c.LogLevel))
	}

	return errors.Join(errs...)
}

func validateURL(raw string) error {
	if raw == "" {
		return errors.New("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("host is missing")
	}
	return nil
}
