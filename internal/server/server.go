package server

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/zombor/ecologic/internal/account"
	"github.com/zombor/ecologic/internal/ledger"
	"github.com/zombor/ecologic/internal/pipeline"
	"github.com/zombor/ecologic/internal/scanning"
)

// localUser is the session name when no basic auth is configured
const localUser = "local"

// Scanner starts and cancels bill scans
type Scanner interface {
	Start(ctx context.Context, src scanning.Source) (*pipeline.Run, error)
	Cancel() bool
}

// BillLister reads the ledger
type BillLister interface {
	ListAll() ([]ledger.Record, error)
}

// SourceFactory opens a camera source for a scan. Nil disables camera scans.
type SourceFactory func() scanning.Source

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// Server is the local HTTP host for scanning and browsing bills
type Server struct {
	scanner   Scanner
	bills     BillLister
	reset     account.PasswordResetService
	camera    SourceFactory
	basicAuth BasicAuth
	mux       *http.ServeMux
	logger    *slog.Logger
	maxUpload int64
}

// Options holds the optional parts of a Server
type Options struct {
	Camera    SourceFactory
	BasicAuth BasicAuth
	Logger    *slog.Logger
	MaxUpload int64 // bytes, defaults to 50MB
}

// New creates a new Server with default mux
func New(scanner Scanner, bills BillLister, reset account.PasswordResetService, opts Options) *Server {
	return NewWithMux(scanner, bills, reset, opts, http.NewServeMux())
}

// NewWithMux creates a new Server with a custom mux for testing
func NewWithMux(scanner Scanner, bills BillLister, reset account.PasswordResetService, opts Options, mux *http.ServeMux) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxUpload <= 0 {
		opts.MaxUpload = 50 << 20
	}
	if reset == nil {
		reset = account.SimulatedPasswordReset{}
	}
	s := &Server{
		scanner:   scanner,
		bills:     bills,
		reset:     reset,
		camera:    opts.Camera,
		basicAuth: opts.BasicAuth,
		mux:       mux,
		logger:    opts.Logger.With("component", "server"),
		maxUpload: opts.MaxUpload,
	}
	s.registerRoutes()
	return s
}

// session derives the caller's session from basic auth. Without configured
// credentials every caller is the local user.
func (s *Server) session(r *http.Request) account.Session {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return account.UserSession{Username: localUser}
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return account.Anonymous
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return account.Anonymous
	}

	user, pass, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return account.Anonymous
	}

	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.basicAuth.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.basicAuth.Password)) == 1
	if !userOK || !passOK {
		return account.Anonymous
	}
	return account.UserSession{Username: user}
}

// corsMiddleware adds CORS headers to responses
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requireSession rejects callers without a logged-in session
func (s *Server) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := s.session(r)
		if !sess.IsLoggedIn() {
			setCORSHeaders(w)
			w.Header().Set("WWW-Authenticate", `Basic realm="Ecologic"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r.WithContext(withSession(r.Context(), sess)))
	}
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	s.mux.HandleFunc("POST /api/scans", s.requireSession(s.handleStartScan))
	s.mux.HandleFunc("DELETE /api/scans/current", s.requireSession(s.handleCancelScan))
	s.mux.HandleFunc("GET /api/bills", s.requireSession(s.handleListBills))

	// Reachable without a session, like the login screen's "forgot password" link
	s.mux.HandleFunc("POST /api/password-reset", s.handlePasswordReset)
}

// Handler returns the mux wrapped with the CORS middleware
func (s *Server) Handler() http.Handler {
	return corsMiddleware(s.mux)
}

// ListenAndServe serves until ctx is done, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting server", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Handler().ServeHTTP(w, r)
}

type sessionKey struct{}

func withSession(ctx context.Context, sess account.Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, sess)
}

// SessionFrom returns the session attached to a request context
func SessionFrom(ctx context.Context) account.Session {
	if sess, ok := ctx.Value(sessionKey{}).(account.Session); ok {
		return sess
	}
	return account.Anonymous
}
