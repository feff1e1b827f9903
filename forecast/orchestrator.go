// Package forecast drives forecast-advice requests and owns their
// lifecycle. One Orchestrator serves one form; at most one submission is
// current at a time.
package forecast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"agrocast/params"
)

// Routes served by the backend.
const (
	DefaultRoute = "/api/forecast-advice"
	LegacyRoute  = "/predict"
)

var (
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("forecast orchestrator closed")
	// ErrSuperseded is the outcome of a submission replaced or cancelled
	// before it resolved.
	ErrSuperseded = errors.New("forecast request superseded")
)

// InProgressError rejects a submission while another is pending under
// PolicyReject.
type InProgressError struct {
	Seq uint64
}

func (e *InProgressError) Error() string {
	return fmt.Sprintf("forecast request #%d already in progress", e.Seq)
}

// Sender is the transport the orchestrator calls. *transport.Client
// satisfies it.
type Sender interface {
	Send(ctx context.Context, path string, body, out any) error
}

// State is a lifecycle phase.
type State int

const (
	StateIdle State = iota
	StatePending
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Policy decides what Submit does while a call is pending.
type Policy string

const (
	// PolicySupersede cancels the pending call and discards its outcome.
	PolicySupersede Policy = "supersede"
	// PolicyReject refuses the new submission with *InProgressError.
	PolicyReject Policy = "reject"
)

// ParsePolicy accepts "supersede" and "reject"; empty means supersede.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicySupersede:
		return PolicySupersede, nil
	case PolicyReject:
		return PolicyReject, nil
	default:
		return "", fmt.Errorf("unknown submit policy %q", s)
	}
}

// Snapshot is a copy of the lifecycle. Result is set only when succeeded,
// Err and Message only when failed.
type Snapshot struct {
	State      State
	Seq        uint64
	Params     params.Set
	Window     params.Window
	Result     *Result
	Err        error
	Message    string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Submission tracks one Submit call.
type Submission struct {
	seq    uint64
	done   chan struct{}
	result *Result
	err    error
}

// Seq is the submission's sequence number.
func (s *Submission) Seq() uint64 { return s.seq }

// Done is closed once the call has resolved or been superseded.
func (s *Submission) Done() <-chan struct{} { return s.done }

// Err is the outcome after Done: nil, the call's error, or ErrSuperseded.
func (s *Submission) Err() error {
	<-s.done
	return s.err
}

// Result is the parsed reply after Done, or nil.
func (s *Submission) Result() *Result {
	<-s.done
	return s.result
}

// Wait blocks until the submission resolves or ctx ends.
func (s *Submission) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Submission) finish(r *Result, err error) {
	s.result = r
	s.err = err
	close(s.done)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRoute sets the forecast-advice path.
func WithRoute(route string) Option {
	return func(o *Orchestrator) {
		if route != "" {
			o.route = route
		}
	}
}

// WithHistory selects the lookback window strategy and, for the relative
// strategy, its length in years.
func WithHistory(strategy params.HistoryStrategy, years int) Option {
	return func(o *Orchestrator) {
		o.history = strategy
		o.historyYears = years
	}
}

// WithPolicy sets the overlap policy.
func WithPolicy(p Policy) Option {
	return func(o *Orchestrator) {
		if p != "" {
			o.policy = p
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver registers fn to receive every lifecycle transition. Calls
// happen outside the internal lock, one at a time, in transition order, so
// fn may call back into the Orchestrator.
func WithObserver(fn func(Snapshot)) Option {
	return func(o *Orchestrator) {
		o.observer = fn
	}
}

// Orchestrator submits parameter sets and tracks the latest outcome.
type Orchestrator struct {
	client       Sender
	route        string
	history      params.HistoryStrategy
	historyYears int
	policy       Policy
	now          func() time.Time
	logger       *slog.Logger
	observer     func(Snapshot)

	mu       sync.Mutex
	events   []Snapshot
	flushing bool
	seq    uint64
	snap   Snapshot
	cancel context.CancelFunc
	closed bool
	wg     sync.WaitGroup
}

// NewOrchestrator returns an idle Orchestrator sending through client.
func NewOrchestrator(client Sender, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client:  client,
		route:   DefaultRoute,
		history: params.HistoryFixed,
		policy:  PolicySupersede,
		now:     time.Now,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Snapshot returns the current lifecycle.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snap
}

// Submit starts a request for p and returns without waiting for it. The
// lifecycle is pending when Submit returns, with any earlier result or error
// cleared. Invalid parameters fail the lifecycle and are returned as
// *params.ValidationError without contacting the backend.
func (o *Orchestrator) Submit(ctx context.Context, p params.Set) (*Submission, error) {
	o.mu.Lock()
	sub, err := o.submitLocked(ctx, p)
	o.mu.Unlock()
	o.flush()
	return sub, err
}

func (o *Orchestrator) submitLocked(ctx context.Context, p params.Set) (*Submission, error) {
	if o.closed {
		return nil, ErrClosed
	}
	if o.policy == PolicyReject && o.snap.State == StatePending {
		return nil, &InProgressError{Seq: o.snap.Seq}
	}

	if o.cancel != nil {
		o.logger.Debug("superseding pending forecast", "seq", o.seq)
		o.cancel()
		o.cancel = nil
	}

	o.seq++
	seq := o.seq
	now := o.now()
	o.snap = Snapshot{State: StatePending, Seq: seq, Params: p, StartedAt: now}

	window, err := o.prepare(p, now)
	if err != nil {
		o.recordLocked()
		o.snap.State = StateFailed
		o.snap.Err = err
		o.snap.Message = err.Error()
		o.snap.FinishedAt = now
		o.recordLocked()
		o.logger.Info("forecast rejected", "seq", seq, "error", err)
		return nil, err
	}
	o.snap.Window = window
	o.recordLocked()

	callCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	sub := &Submission{seq: seq, done: make(chan struct{})}

	o.logger.Info("forecast submitted", "seq", seq, "params", p.String(), "start", window.Start, "end", window.End)

	o.wg.Add(1)
	go o.run(callCtx, cancel, sub, p.Payload(window))

	return sub, nil
}

func (o *Orchestrator) prepare(p params.Set, now time.Time) (params.Window, error) {
	if err := p.Validate(); err != nil {
		return params.Window{}, err
	}
	return params.HistoryWindow(o.history, p.TargetDate, now, o.historyYears)
}

func (o *Orchestrator) run(ctx context.Context, cancel context.CancelFunc, sub *Submission, payload params.Payload) {
	defer o.wg.Done()
	defer cancel()

	var raw json.RawMessage
	err := o.client.Send(ctx, o.route, payload, &raw)
	var res *Result
	if err == nil {
		res, err = DecodeResult(raw)
	}

	o.mu.Lock()
	if sub.seq != o.seq || o.snap.State != StatePending {
		o.mu.Unlock()
		o.logger.Debug("discarding stale forecast outcome", "seq", sub.seq, "error", err)
		sub.finish(nil, ErrSuperseded)
		return
	}

	o.cancel = nil
	o.snap.FinishedAt = o.now()
	if err != nil {
		o.snap.State = StateFailed
		o.snap.Err = err
		o.snap.Message = err.Error()
	} else {
		o.snap.State = StateSucceeded
		o.snap.Result = res
	}
	o.recordLocked()
	snap := o.snap
	o.mu.Unlock()
	o.flush()

	if err != nil {
		o.logger.Warn("forecast failed", "seq", snap.Seq, "error", err)
	} else {
		o.logger.Info("forecast succeeded", "seq", snap.Seq, "target", res.Target,
			"elapsed", snap.FinishedAt.Sub(snap.StartedAt))
	}
	sub.finish(res, err)
}

// Cancel abandons the pending call, if any, and returns the lifecycle to
// idle.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	o.cancelLocked()
	o.mu.Unlock()
	o.flush()
}

func (o *Orchestrator) cancelLocked() {
	if o.snap.State != StatePending {
		return
	}
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.logger.Debug("forecast cancelled", "seq", o.seq)
	o.snap = Snapshot{State: StateIdle, Seq: o.seq}
	o.recordLocked()
}

// Close cancels any pending call, refuses further submissions and waits for
// in-flight goroutines to return.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.cancelLocked()
	o.mu.Unlock()
	o.flush()
	o.wg.Wait()
}

// recordLocked queues the current snapshot for the observer.
func (o *Orchestrator) recordLocked() {
	if o.observer != nil {
		o.events = append(o.events, o.snap)
	}
}

// flush delivers queued snapshots. Only one caller delivers at a time; the
// others leave their events to it, which keeps delivery in queue order and
// lets the observer re-enter Submit or Cancel.
func (o *Orchestrator) flush() {
	o.mu.Lock()
	if o.flushing || o.observer == nil {
		o.mu.Unlock()
		return
	}
	o.flushing = true
	for len(o.events) > 0 {
		batch := o.events
		o.events = nil
		o.mu.Unlock()
		for _, s := range batch {
			o.observer(s)
		}
		o.mu.Lock()
	}
	o.flushing = false
	o.mu.Unlock()
}
