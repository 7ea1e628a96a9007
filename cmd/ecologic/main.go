package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/ecologic/internal/account"
	"github.com/zombor/ecologic/internal/analysis"
	"github.com/zombor/ecologic/internal/config"
	"github.com/zombor/ecologic/internal/ledger"
	"github.com/zombor/ecologic/internal/pipeline"
	"github.com/zombor/ecologic/internal/scanning"
	"github.com/zombor/ecologic/internal/server"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

// analyzer is what the pipeline probes and uploads to
type analyzer interface {
	pipeline.Prober
	pipeline.Uploader
	io.Closer
}

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("ecologic")
	flags := config.Register(fs)
	var (
		_           = fs.StringLong("config", "", "YAML config file (optional)")
		history     = fs.BoolLong("history", "Print the saved bills and exit")
		scanFile    = fs.StringLong("scan", "", "Analyze one bill image file and exit")
		showVersion = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("ECOLOGIC"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(config.ParseYAML),
		ff.WithConfigAllowMissingFile(),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	cfg := flags.Config()
	if cfg.Gemini.APIKey == "" {
		cfg.Gemini.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration:\n%v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger, *history, *scanFile); err != nil {
		logger.Error("Exiting", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger, history bool, scanFile string) error {
	logger.Info("Initializing ledger...", "db", cfg.Ledger.DBPath)
	store, err := ledger.NewBoltStore(cfg.Ledger.DBPath)
	if err != nil {
		return fmt.Errorf("initializing ledger: %w", err)
	}
	defer store.Close()

	bills := ledger.NewWithDeps(store, cfg.Ledger.Key, nil, logger)

	if history {
		return printHistory(os.Stdout, bills)
	}

	az, err := newAnalyzer(cfg, logger)
	if err != nil {
		return err
	}
	defer az.Close()

	opts := pipeline.Options{
		MaxSide:  cfg.Image.MaxSide,
		Quality:  cfg.Image.Quality,
		Format:   scanning.Format(cfg.Image.Format),
		ProbeTTL: cfg.Backend.ProbeTTL,
		Logger:   logger,
		Observer: func(t pipeline.Transition) {
			logger.Info(t.Status, "from", t.From.String(), "to", t.To.String())
		},
	}
	if cfg.Backend.FollowUpAnalyze {
		if backend, ok := az.(*backendAnalyzer); ok {
			opts.FollowUp = backend.Backend
		}
	}
	scans := pipeline.New(az, az, bills, opts)
	defer scans.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if scanFile != "" {
		return scanOnce(ctx, os.Stdout, scans, scanning.NewFileSource(scanFile))
	}

	var reset account.PasswordResetService = account.SimulatedPasswordReset{}
	if cfg.PasswordReset == config.ResetRemote {
		reset = account.NewRemotePasswordReset(cfg.Backend.BaseURL, cfg.Backend.APIKey, cfg.Backend.UploadTimeout)
	}

	srvOpts := server.Options{
		BasicAuth: server.BasicAuth{
			Username: cfg.Server.AuthUser,
			Password: cfg.Server.AuthPass,
		},
		Logger: logger,
	}
	if cfg.CameraCommand != "" {
		command := cfg.CameraCommand
		srvOpts.Camera = func() scanning.Source {
			return scanning.NewCameraSource(command)
		}
	}
	srv := server.New(scans, bills, reset, srvOpts)

	if cfg.Server.AuthUser != "" || cfg.Server.AuthPass != "" {
		logger.Info("Basic auth enabled", "user", cfg.Server.AuthUser)
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	logger.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))
	if err := srv.ListenAndServe(ctx, addr); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("Shutting down...")
	return nil
}

// backendAnalyzer adapts the HTTP backend to the analyzer interface
type backendAnalyzer struct {
	*analysis.Backend
}

func (backendAnalyzer) Close() error {
	return nil
}

func newAnalyzer(cfg config.Config, logger *slog.Logger) (analyzer, error) {
	switch cfg.Analyzer {
	case config.AnalyzerGemini:
		logger.Info("Initializing Gemini analyzer...", "model", cfg.Gemini.Model)
		g, err := analysis.NewGemini(cfg.Gemini.APIKey, cfg.Gemini.Model, cfg.Backend.ProbeTimeout, cfg.Backend.UploadTimeout)
		if err != nil {
			return nil, fmt.Errorf("initializing gemini: %w", err)
		}
		return g, nil
	case config.AnalyzerOllama:
		logger.Info("Initializing Ollama analyzer...", "url", cfg.Ollama.URL, "model", cfg.Ollama.Model)
		return analysis.NewOllama(cfg.Ollama.URL, cfg.Ollama.Model, cfg.Backend.ProbeTimeout, cfg.Backend.UploadTimeout), nil
	default:
		logger.Info("Using analysis backend", "url", cfg.Backend.BaseURL)
		return &backendAnalyzer{analysis.NewBackend(analysis.BackendConfig{
			BaseURL:       cfg.Backend.BaseURL,
			APIKey:        cfg.Backend.APIKey,
			ProbeTimeout:  cfg.Backend.ProbeTimeout,
			UploadTimeout: cfg.Backend.UploadTimeout,
		}, nil, logger)}, nil
	}
}

func printHistory(w io.Writer, bills *ledger.Ledger) error {
	records, err := bills.ListAll()
	if err != nil {
		return fmt.Errorf("reading ledger: %w", err)
	}
	if len(records) == 0 {
		fmt.Fprintln(w, "No bills have been scanned yet.")
		return nil
	}
	for _, r := range records {
		fmt.Fprintf(w, "%s  [%s]  %s\n", r.Timestamp, r.Kind(), r.Headline())
	}
	return nil
}

func scanOnce(ctx context.Context, w io.Writer, scans *pipeline.Pipeline, src scanning.Source) error {
	outcome, err := scans.Scan(ctx, src)
	if err != nil {
		return fmt.Errorf("starting scan: %w", err)
	}
	switch outcome.State {
	case pipeline.Persisted:
		fmt.Fprintln(w, outcome.Record.Summary)
		return nil
	case pipeline.Failed:
		return errors.New(outcome.Failure.Message())
	default:
		return fmt.Errorf("scan %s", outcome.State)
	}
}
