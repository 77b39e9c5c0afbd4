package proximity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/fleettrack/internal/geo"
	"github.com/banshee-data/fleettrack/internal/monitoring"
	"github.com/banshee-data/fleettrack/internal/timeutil"
)

// Scanner defaults.
const (
	DefaultInterval      = 5 * time.Second
	DefaultRadiusM       = 150.0
	DefaultPopupDuration = 5 * time.Second
	DefaultFadeDelay     = 300 * time.Millisecond
)

// Config tunes a Scanner. Zero values select the defaults.
type Config struct {
	Interval      time.Duration
	RadiusM       float64
	PopupDuration time.Duration
	FadeDelay     time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.RadiusM <= 0 {
		c.RadiusM = DefaultRadiusM
	}
	if c.PopupDuration <= 0 {
		c.PopupDuration = DefaultPopupDuration
	}
	if c.FadeDelay <= 0 {
		c.FadeDelay = DefaultFadeDelay
	}
	return c
}

// Locator supplies the latest accepted position.
type Locator interface {
	Position() (geo.Point, bool)
}

// Event is the active proximity match.
type Event struct {
	Match   Match     `json:"match"`
	Visible bool      `json:"visible"`
	ShownAt time.Time `json:"shown_at"`
}

// Scanner polls the directory for the nearest location and owns the popup
// state. Only the scanner mutates that state.
type Scanner struct {
	dir     Directory
	loc     Locator
	clock   timeutil.Clock
	cfg     Config
	metrics *monitoring.Metrics
	onShow  func(Match)

	mu          sync.Mutex
	enabled     bool
	phase       string
	lastShownID string
	active      *Event
	// pending is the single auto-dismiss or fade timer. token identifies
	// it to its callback so a replaced timer that already fired is a no-op.
	pending timeutil.Timer
	token   uint64
}

// NewScanner returns a disabled scanner.
func NewScanner(dir Directory, loc Locator, clock timeutil.Clock, cfg Config, metrics *monitoring.Metrics) *Scanner {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Scanner{
		dir:     dir,
		loc:     loc,
		clock:   clock,
		cfg:     cfg.withDefaults(),
		metrics: metrics,
	}
}

// OnShow registers a function called, outside the lock, each time a new
// match is shown.
func (s *Scanner) OnShow(f func(Match)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onShow = f
}

// Enable starts matching on subsequent polls.
func (s *Scanner) Enable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = true
}

// Disable stops matching, cancels the pending timer and drops the active
// match.
func (s *Scanner) Disable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = false
	s.cancelPendingLocked()
	s.active = nil
	s.lastShownID = ""
}

// Enabled reports whether the scanner is matching.
func (s *Scanner) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// SetPhase sets the operational phase passed to the directory. An empty
// phase pauses matching.
func (s *Scanner) SetPhase(phase string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = phase
}

// Phase returns the current operational phase.
func (s *Scanner) Phase() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Active returns the active match, if any.
func (s *Scanner) Active() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return Event{}, false
	}
	return *s.active, true
}

// Dismiss hides the active match now and clears it after the fade delay.
func (s *Scanner) Dismiss() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return
	}
	s.active.Visible = false
	s.schedule(s.cfg.FadeDelay, s.clearActive)
}

// Run polls every interval until ctx is done. Poll errors are logged and
// the loop carries on.
func (s *Scanner) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	defer func() {
		s.mu.Lock()
		s.cancelPendingLocked()
		s.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			_ = s.Poll(ctx)
		}
	}
}

// Poll runs one scan. It is a no-op unless the scanner is enabled and both
// a position and a phase are known.
func (s *Scanner) Poll(ctx context.Context) error {
	s.mu.Lock()
	enabled, phase := s.enabled, s.phase
	s.mu.Unlock()
	if !enabled || phase == "" {
		return nil
	}
	pos, ok := s.loc.Position()
	if !ok {
		return nil
	}

	s.metrics.Count(monitoring.ProximityScans)
	matches, err := s.dir.QueryNearby(ctx, NearbyQuery{
		Lat:     pos.Lat,
		Lng:     pos.Lng,
		RadiusM: s.cfg.RadiusM,
		Phase:   phase,
	})
	if err != nil {
		s.metrics.Count(monitoring.DirectoryErrors)
		monitoring.Logf("proximity: directory query failed: %v", err)
		return fmt.Errorf("query directory: %w", err)
	}

	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return nil
	}
	if len(matches) == 0 {
		s.lastShownID = ""
		s.mu.Unlock()
		return nil
	}
	nearest := matches[0]
	if nearest.Location.ID == s.lastShownID {
		s.mu.Unlock()
		return nil
	}
	s.lastShownID = nearest.Location.ID
	s.active = &Event{Match: nearest, Visible: true, ShownAt: s.clock.Now()}
	s.schedule(s.cfg.PopupDuration, s.hideActive)
	onShow := s.onShow
	s.mu.Unlock()

	s.metrics.Count(monitoring.ProximityShown)
	monitoring.Diagf("proximity: showing %s at %.0fm", nearest.Location.Name, nearest.DistanceM)
	if onShow != nil {
		onShow(nearest)
	}
	return nil
}

// schedule replaces the pending timer with one running f after d. The
// caller holds s.mu.
func (s *Scanner) schedule(d time.Duration, f func(token uint64)) {
	s.cancelPendingLocked()
	token := s.token
	s.pending = s.clock.AfterFunc(d, func() { f(token) })
}

func (s *Scanner) cancelPendingLocked() {
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
	s.token++
}

func (s *Scanner) hideActive(token uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token != s.token || s.active == nil {
		return
	}
	s.active.Visible = false
	s.schedule(s.cfg.FadeDelay, s.clearActive)
}

func (s *Scanner) clearActive(token uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token != s.token {
		return
	}
	s.active = nil
	s.pending = nil
}
