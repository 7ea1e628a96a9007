package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/zombor/ecologic/internal/analysis"
	"github.com/zombor/ecologic/internal/ledger"
	"github.com/zombor/ecologic/internal/scanning"
)

// Prober checks that the analyzer is reachable before an upload
type Prober interface {
	Probe(ctx context.Context) error
}

// Uploader sends an encoded bill image to the analyzer and returns its JSON response
type Uploader interface {
	Upload(ctx context.Context, payload scanning.EncodedPayload) ([]byte, error)
}

// FollowUpAnalyzer re-submits a parsed invoice document for a second analysis pass
type FollowUpAnalyzer interface {
	Analyze(ctx context.Context, invoiceJSON []byte) ([]byte, error)
}

// Ledger is where completed analyses are written
type Ledger interface {
	Append(record ledger.Record) error
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultTimeSource struct{}

func (defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Transition is reported to the Observer on every state change
type Transition struct {
	From   State
	To     State
	Status string
}

// Observer receives transitions. It is called from the scan goroutine, one call at a time.
type Observer func(Transition)

// Options configures a Pipeline
type Options struct {
	MaxSide  int
	Quality  int
	Format   scanning.Format
	ProbeTTL time.Duration // a successful probe younger than this skips the next one

	FollowUp FollowUpAnalyzer // optional second pass through /analyze
	Observer Observer
	Logger   *slog.Logger
	Clock    TimeSource
}

// Outcome is how a scan ended
type Outcome struct {
	State   State
	Record  *ledger.Record   // set when Persisted
	Result  *analysis.Result // set when Persisted
	Failure *Failure         // set when Failed
	History []State
}

// Pipeline runs at most one scan at a time: image capture, probe, upload, parse, persist
type Pipeline struct {
	prober   Prober
	uploader Uploader
	ledger   Ledger
	opts     Options
	logger   *slog.Logger

	mu        sync.Mutex
	active    *Run
	lastProbe time.Time
	closed    bool
}

// New creates a Pipeline
func New(prober Prober, uploader Uploader, ledger Ledger, opts Options) *Pipeline {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = defaultTimeSource{}
	}
	if opts.Format == "" {
		opts.Format = scanning.FormatJPEG
	}
	return &Pipeline{
		prober:   prober,
		uploader: uploader,
		ledger:   ledger,
		opts:     opts,
		logger:   opts.Logger.With("component", "pipeline"),
	}
}

// Run is a handle on one scan
type Run struct {
	cancel  context.CancelFunc
	done    chan struct{}
	outcome Outcome
}

// Cancel abandons the scan. In-flight network calls are aborted and nothing is written.
// Cancelling after parsing has begun has no effect.
func (r *Run) Cancel() {
	r.cancel()
}

// Done is closed once the scan reached a terminal state
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the scan ends and returns its outcome
func (r *Run) Wait() Outcome {
	<-r.done
	return r.outcome
}

// Start begins a scan from src in the background. It fails with ErrBusy if a scan is
// already running; the request is not queued. The pipeline owns src from here on and
// closes it when the scan ends.
func (p *Pipeline) Start(ctx context.Context, src scanning.Source) (*Run, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrClosed
	}
	if p.active != nil {
		return nil, ErrBusy
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := &Run{cancel: cancel, done: make(chan struct{})}
	p.active = run

	go p.execute(runCtx, run, src)
	return run, nil
}

// Scan runs a scan to completion
func (p *Pipeline) Scan(ctx context.Context, src scanning.Source) (Outcome, error) {
	run, err := p.Start(ctx, src)
	if err != nil {
		return Outcome{}, err
	}
	return run.Wait(), nil
}

// Cancel cancels the running scan, if any, and reports whether there was one
func (p *Pipeline) Cancel() bool {
	p.mu.Lock()
	run := p.active
	p.mu.Unlock()
	if run == nil {
		return false
	}
	run.Cancel()
	return true
}

// Busy reports whether a scan is running
func (p *Pipeline) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active != nil
}

// Close cancels any running scan, waits for it to release its source, and refuses new scans
func (p *Pipeline) Close() error {
	p.mu.Lock()
	p.closed = true
	run := p.active
	p.mu.Unlock()

	if run != nil {
		run.Cancel()
		<-run.done
	}
	return nil
}

// scan is the state of one execution
type scan struct {
	p       *Pipeline
	run     *Run
	state   State
	history []State
}

func (s *scan) to(next State) {
	prev := s.state
	s.state = next
	s.history = append(s.history, next)
	if s.p.opts.Observer != nil {
		status := statusLine(next)
		if next == Failed && s.run.outcome.Failure != nil {
			status = s.run.outcome.Failure.Message()
		}
		s.p.opts.Observer(Transition{From: prev, To: next, Status: status})
	}
}

func (s *scan) fail(f *Failure) {
	s.run.outcome.Failure = f
	s.to(Failed)
}

func (p *Pipeline) execute(ctx context.Context, run *Run, src scanning.Source) {
	s := &scan{p: p, run: run, state: Idle, history: []State{Idle}}

	defer func() {
		if err := src.Close(); err != nil {
			p.logger.Warn("Failed to release image source", "error", err)
		}
		run.cancel()
		run.outcome.State = s.state
		run.outcome.History = s.history

		p.mu.Lock()
		p.active = nil
		p.mu.Unlock()
		close(run.done)
	}()

	p.run(ctx, s, src)
}

func (p *Pipeline) run(ctx context.Context, s *scan, src scanning.Source) {
	s.to(Capturing)
	capturedAt := p.opts.Clock.Now()

	raw, err := src.Acquire(ctx)
	// Release the camera as soon as the frame is in hand; the deferred Close is then a no-op
	if err := src.Close(); err != nil {
		p.logger.Warn("Failed to release image source", "error", err)
	}
	if ctx.Err() != nil {
		s.to(Cancelled)
		return
	}
	if err != nil {
		p.logger.Warn("Image capture failed", "error", err)
		s.fail(captureFailure(err))
		return
	}

	payload, err := scanning.DownscaleAs(raw, p.opts.MaxSide, p.opts.Quality, p.opts.Format)
	if err != nil {
		p.logger.Warn("Image preprocessing failed", "origin", raw.Origin, "error", err)
		s.fail(captureFailure(err))
		return
	}
	p.logger.Debug("Image prepared", "width", payload.Width, "height", payload.Height, "bytes", len(payload.Data))

	if p.probeFresh() {
		p.logger.Debug("Skipping probe, recent probe succeeded")
	} else {
		s.to(Probing)
		err := p.prober.Probe(ctx)
		if ctx.Err() != nil {
			s.to(Cancelled)
			return
		}
		if err != nil {
			p.logger.Warn("Analysis service probe failed", "error", err)
			s.fail(&Failure{Reason: ReasonBackendUnreachable, Err: err})
			return
		}
		p.markProbe()
	}

	s.to(Uploading)
	doc, err := p.uploader.Upload(ctx, payload)
	if err == nil && p.opts.FollowUp != nil && ctx.Err() == nil {
		doc, err = p.opts.FollowUp.Analyze(ctx, doc)
	}
	if ctx.Err() != nil {
		s.to(Cancelled)
		return
	}
	if err != nil {
		f := uploadFailure(err)
		p.logUploadFailure(f, doc)
		if f.Reason == ReasonUnreachable {
			p.clearProbe()
		}
		s.fail(f)
		return
	}

	// Past this point cancellation is ignored; the analysis is committed
	s.to(Parsing)
	result, err := analysis.Parse(doc)
	if err != nil {
		p.logger.Error("Analysis response could not be parsed", "error", err, "body", truncate(string(doc), 4<<10))
		s.fail(&Failure{Reason: ReasonMalformedResponse, Err: err})
		return
	}

	record := ledger.NewRecord(capturedAt, analysis.Summarize(result))
	if err := p.ledger.Append(record); err != nil {
		p.logger.Error("Failed to save bill analysis", "error", err)
		s.fail(&Failure{Reason: ReasonPersistFailed, Err: err})
		return
	}

	s.run.outcome.Record = &record
	s.run.outcome.Result = &result
	s.to(Persisted)
}

func (p *Pipeline) logUploadFailure(f *Failure, doc []byte) {
	switch f.Reason {
	case ReasonServerRejected:
		p.logger.Error("Analysis service rejected bill", "status", f.Status, "body", truncate(f.Body, 4<<10))
	case ReasonMalformedResponse:
		p.logger.Error("Analysis service returned malformed response", "error", f.Err, "body", truncate(string(doc), 4<<10))
	default:
		p.logger.Warn("Analysis service unreachable", "error", f.Err, "timeout", errors.Is(f.Err, analysis.ErrTimeout))
	}
}

func (p *Pipeline) probeFresh() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.opts.ProbeTTL <= 0 || p.lastProbe.IsZero() {
		return false
	}
	return p.opts.Clock.Now().Sub(p.lastProbe) < p.opts.ProbeTTL
}

func (p *Pipeline) markProbe() {
	p.mu.Lock()
	p.lastProbe = p.opts.Clock.Now()
	p.mu.Unlock()
}

func (p *Pipeline) clearProbe() {
	p.mu.Lock()
	p.lastProbe = time.Time{}
	p.mu.Unlock()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
