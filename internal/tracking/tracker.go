package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/fleettrack/internal/fusion"
	"github.com/banshee-data/fleettrack/internal/geo"
	"github.com/banshee-data/fleettrack/internal/monitoring"
	"github.com/banshee-data/fleettrack/internal/position"
	"github.com/banshee-data/fleettrack/internal/source"
	"github.com/banshee-data/fleettrack/internal/timeutil"
	"github.com/google/uuid"
)

var (
	// ErrAlreadyActive is returned by Start while a session is running,
	// paused or still acquiring its first fix.
	ErrAlreadyActive = errors.New("tracking already active")
	// ErrInvalidTransition is returned by Pause and Resume from the wrong
	// state.
	ErrInvalidTransition = errors.New("invalid tracking state transition")
)

// Callbacks are invoked after each accepted sample, outside the tracker
// lock. Any of them may be nil.
type Callbacks struct {
	OnPosition func(position.FusedSample)
	// OnAccuracy, OnSpeed and OnHeading fire when the published value
	// differs from the previous one, and for the first sample.
	OnAccuracy func(float64)
	OnSpeed    func(float64)
	OnHeading  func(float64)
	OnError    func(error)
}

// Emitter receives every published sample. telemetry.Emitter implements it.
type Emitter interface {
	Offer(sessionID string, s position.FusedSample) bool
}

// Config configures a Tracker.
type Config struct {
	Options    source.Options
	Thresholds fusion.Thresholds
	PathGateM  float64
}

// DefaultConfig returns the stock gates with no acquisition timeout.
func DefaultConfig() Config {
	return Config{
		Thresholds: fusion.DefaultThresholds(),
		PathGateM:  DefaultPathGateM,
	}
}

// Tracker runs tracking sessions against a position source. All sample,
// error and command handling is serialised by one mutex, so each runs to
// completion before the next is applied.
type Tracker struct {
	src     source.Source
	clock   timeutil.Clock
	cfg     Config
	policy  fusion.Policy
	cb      Callbacks
	emitter Emitter
	metrics *monitoring.Metrics
	newID   func() string

	mu            sync.Mutex
	state         State
	acquiring     bool
	cancelAcquire context.CancelFunc
	session       SessionState
	sub           source.Subscription
	// gen identifies the live subscription; callbacks carrying another
	// generation are dropped.
	gen     uint64
	lastErr error
}

// Option customises a Tracker.
type Option func(*Tracker)

// WithCallbacks sets the per-update callbacks.
func WithCallbacks(cb Callbacks) Option { return func(t *Tracker) { t.cb = cb } }

// WithEmitter hands every published sample to e.
func WithEmitter(e Emitter) Option { return func(t *Tracker) { t.emitter = e } }

// WithMetrics records counters on m.
func WithMetrics(m *monitoring.Metrics) Option { return func(t *Tracker) { t.metrics = m } }

// WithIDGenerator replaces the session id generator.
func WithIDGenerator(f func() string) Option { return func(t *Tracker) { t.newID = f } }

// NewTracker returns an idle tracker reading from src.
func NewTracker(src source.Source, clock timeutil.Clock, cfg Config, opts ...Option) *Tracker {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	t := &Tracker{
		src:    src,
		clock:  clock,
		cfg:    cfg,
		policy: fusion.NewPolicy(cfg.Thresholds),
		newID:  uuid.NewString,
		state:  Idle,
	}
	for _, o := range opts {
		o(t)
	}
	t.session = NewSession("", clock.Now())
	return t
}

// Start begins a new session: it acquires one position, processes and
// publishes it, then subscribes to the source. On failure the tracker is
// left as it was. A Stop while the first fix is pending aborts the start
// with an error wrapping context.Canceled.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.state.Active() || t.acquiring {
		t.mu.Unlock()
		return ErrAlreadyActive
	}
	t.acquiring = true
	acquireGen := t.gen
	ctx, cancelAcquire := context.WithCancel(ctx)
	defer cancelAcquire()
	t.cancelAcquire = cancelAcquire
	t.mu.Unlock()

	if t.cfg.Options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.Options.Timeout)
		defer cancel()
	}
	raw, err := t.src.CurrentPosition(ctx, t.cfg.Options)

	t.mu.Lock()
	t.acquiring = false
	t.cancelAcquire = nil
	if t.gen != acquireGen {
		t.mu.Unlock()
		return fmt.Errorf("acquire initial position: stopped: %w", context.Canceled)
	}
	if err != nil {
		t.mu.Unlock()
		if errors.Is(err, context.Canceled) {
			// Caller cancellation is not a source error.
			return fmt.Errorf("acquire initial position: %w", err)
		}
		err = source.FromContext(err)
		t.fail(err)
		return fmt.Errorf("acquire initial position: %w", err)
	}
	prevState, prevSession := t.state, t.session
	now := t.clock.Now()
	session, fused := Step(NewSession(t.newID(), now), raw, t.env(now))
	t.session = session
	t.state = Tracking
	t.lastErr = nil
	t.gen++
	gen := t.gen
	t.mu.Unlock()

	// The first fix goes out before any subscription sample can.
	if fused != nil {
		t.publish(session.ID, nil, *fused, session.Stats)
	}

	sub, err := t.src.Subscribe(t.cfg.Options, subscriber{t: t, gen: gen})
	if err != nil {
		t.mu.Lock()
		if t.gen == gen {
			t.gen++
			t.state, t.session = prevState, prevSession
		}
		t.mu.Unlock()
		t.fail(err)
		return fmt.Errorf("subscribe to position source: %w", err)
	}

	t.mu.Lock()
	if t.gen != gen {
		// Stopped while subscribing.
		t.mu.Unlock()
		sub.Cancel()
		return nil
	}
	t.sub = sub
	t.mu.Unlock()

	monitoring.Logf("tracking: session %s started", session.ID)
	return nil
}

// Pause discards samples until Resume.
func (t *Tracker) Pause() error {
	return t.transition(Tracking, Paused)
}

// Resume continues processing after Pause.
func (t *Tracker) Resume() error {
	return t.transition(Paused, Tracking)
}

func (t *Tracker) transition(from, to State) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != from {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, t.state, to)
	}
	t.state = to
	return nil
}

// Stop cancels the subscription, or a Start still waiting for its first
// fix, and moves to Stopped. Statistics and the path are kept until Clear
// or the next Start.
func (t *Tracker) Stop() {
	t.mu.Lock()
	t.gen++
	if t.cancelAcquire != nil {
		t.cancelAcquire()
		t.cancelAcquire = nil
	}
	sub := t.sub
	t.sub = nil
	t.state = Stopped
	id := t.session.ID
	t.mu.Unlock()

	if sub != nil {
		sub.Cancel()
		monitoring.Logf("tracking: session %s stopped", id)
	}
}

// Clear empties the path, statistics and smoothing buffers without
// changing the lifecycle state.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.session = t.session.Cleared(t.clock.Now())
	t.metrics.ObserveSession(0, 0, 0)
}

// State returns the lifecycle state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// SessionID returns the id of the current or last session.
func (t *Tracker) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session.ID
}

// Current returns the last published sample.
func (t *Tracker) Current() (position.FusedSample, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session.Current == nil {
		return position.FusedSample{}, false
	}
	return t.session.Current.Fused, true
}

// Position returns the coordinates of the last accepted sample.
func (t *Tracker) Position() (geo.Point, bool) {
	cur, ok := t.Current()
	return cur.Point(), ok
}

// Statistics returns the session aggregates.
func (t *Tracker) Statistics() Statistics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session.Stats
}

// Path returns a copy of the retained path.
func (t *Tracker) Path() []PathPoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session.PathCopy()
}

// LastError returns the most recent acquisition error, cleared by Start.
func (t *Tracker) LastError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// Snapshot is a consistent view of the tracker for the API.
type Snapshot struct {
	State     State                 `json:"state"`
	SessionID string                `json:"session_id,omitempty"`
	Current   *position.FusedSample `json:"current,omitempty"`
	Stats     Statistics            `json:"stats"`
	PathLen   int                   `json:"path_points"`
	LastError string                `json:"last_error,omitempty"`
}

// Snapshot returns the state, current sample and statistics in one read.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := Snapshot{
		State:     t.state,
		SessionID: t.session.ID,
		Stats:     t.session.Stats,
		PathLen:   len(t.session.Path),
	}
	if t.session.Current != nil {
		cur := t.session.Current.Fused
		snap.Current = &cur
	}
	if t.lastErr != nil {
		snap.LastError = t.lastErr.Error()
	}
	return snap
}

func (t *Tracker) env(now time.Time) StepEnv {
	return StepEnv{Now: now, Policy: t.policy, PathGateM: t.cfg.PathGateM}
}

type subscriber struct {
	t   *Tracker
	gen uint64
}

func (s subscriber) OnSample(raw position.RawSample) { s.t.handleSample(s.gen, raw) }
func (s subscriber) OnError(err error)               { s.t.handleError(s.gen, err) }

func (t *Tracker) handleSample(gen uint64, raw position.RawSample) {
	t.mu.Lock()
	if gen != t.gen || t.state != Tracking {
		t.mu.Unlock()
		t.metrics.Count(monitoring.SamplesDiscarded)
		return
	}
	if err := position.Validate(raw); err != nil {
		t.mu.Unlock()
		t.metrics.Count(monitoring.SamplesRejected)
		monitoring.Diagf("tracking: dropping sample: %v", err)
		return
	}
	var prev *position.FusedSample
	if t.session.Current != nil {
		p := t.session.Current.Fused
		prev = &p
	}
	session, fused := Step(t.session, raw, t.env(t.clock.Now()))
	t.session = session
	t.mu.Unlock()

	if fused != nil {
		t.publish(session.ID, prev, *fused, session.Stats)
	}
}

func (t *Tracker) handleError(gen uint64, err error) {
	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	t.fail(err)
}

// fail records an acquisition error without touching the lifecycle.
func (t *Tracker) fail(err error) {
	t.mu.Lock()
	t.lastErr = err
	t.mu.Unlock()

	kind := "other"
	if k, ok := source.KindOf(err); ok {
		kind = k.String()
	}
	t.metrics.IncAcquisitionError(kind)
	monitoring.Logf("tracking: position error: %v", err)
	if t.cb.OnError != nil {
		t.cb.OnError(err)
	}
}

func (t *Tracker) publish(sessionID string, prev *position.FusedSample, s position.FusedSample, stats Statistics) {
	t.metrics.Count(monitoring.SamplesAccepted)
	t.metrics.ObserveSession(stats.TotalDistanceKm, s.SpeedKmh, s.Accuracy)

	if t.cb.OnPosition != nil {
		t.cb.OnPosition(s)
	}
	if t.cb.OnAccuracy != nil && (prev == nil || prev.Accuracy != s.Accuracy) {
		t.cb.OnAccuracy(s.Accuracy)
	}
	if t.cb.OnSpeed != nil && (prev == nil || prev.SpeedKmh != s.SpeedKmh) {
		t.cb.OnSpeed(s.SpeedKmh)
	}
	if t.cb.OnHeading != nil && (prev == nil || prev.HeadingDeg != s.HeadingDeg) {
		t.cb.OnHeading(s.HeadingDeg)
	}
	if t.emitter != nil {
		t.emitter.Offer(sessionID, s)
	}
}
