package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/banshee-data/fleettrack/internal/monitoring"
	"github.com/banshee-data/fleettrack/internal/position"
	"github.com/banshee-data/fleettrack/internal/timeutil"
)

// Defaults for Config.
const (
	DefaultInterval    = 5 * time.Second
	DefaultQueueSize   = 64
	DefaultSendTimeout = 10 * time.Second
	DefaultMaxRecords  = 10000
)

// Config controls an Emitter.
type Config struct {
	Enabled bool
	// Interval is the minimum time between two emitted records.
	Interval time.Duration
	// SessionID overrides the tracker's session id on records when set.
	SessionID string
	VehicleID string
	// QueueSize bounds records waiting for the sink. Records offered while
	// the queue is full are dropped.
	QueueSize   int
	SendTimeout time.Duration
	// MaxRecords bounds the exportable in-memory log.
	MaxRecords int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	if c.MaxRecords <= 0 {
		c.MaxRecords = DefaultMaxRecords
	}
	return c
}

// Emitter rate-limits fused samples into records. Offer never blocks on the
// sink: records are queued for a single sender goroutine started by Run.
type Emitter struct {
	cfg     Config
	sink    Sink
	clock   timeutil.Clock
	metrics *monitoring.Metrics
	queue   chan Record

	mu          sync.Mutex
	enabled     bool
	lastEmitted time.Time
	emitted     bool
	records     []Record
}

// NewEmitter returns an Emitter sending to sink. A nil sink discards.
func NewEmitter(cfg Config, sink Sink, clock timeutil.Clock, metrics *monitoring.Metrics) *Emitter {
	cfg = cfg.withDefaults()
	if sink == nil {
		sink = Discard
	}
	return &Emitter{
		cfg:     cfg,
		sink:    sink,
		clock:   clock,
		metrics: metrics,
		queue:   make(chan Record, cfg.QueueSize),
		enabled: cfg.Enabled,
	}
}

// SetEnabled turns record emission on or off.
func (e *Emitter) SetEnabled(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled = enabled
}

// Enabled reports whether records are being emitted.
func (e *Emitter) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

// Offer considers s for emission and reports whether a record was
// produced. The last-emitted time advances whenever a record is produced,
// whether or not the sink later accepts it.
func (e *Emitter) Offer(sessionID string, s position.FusedSample) bool {
	now := e.clock.Now()

	e.mu.Lock()
	if !e.enabled || (e.emitted && now.Sub(e.lastEmitted) <= e.cfg.Interval) {
		e.mu.Unlock()
		return false
	}
	e.lastEmitted = now
	e.emitted = true

	if e.cfg.SessionID != "" {
		sessionID = e.cfg.SessionID
	}
	rec := NewRecord(sessionID, e.cfg.VehicleID, s, now)
	e.records = append(e.records, rec)
	if over := len(e.records) - e.cfg.MaxRecords; over > 0 {
		e.records = append([]Record(nil), e.records[over:]...)
	}
	e.mu.Unlock()

	e.metrics.Count(monitoring.TelemetryEmitted)
	select {
	case e.queue <- rec:
	default:
		e.metrics.Count(monitoring.TelemetryDropped)
		monitoring.Logf("telemetry: queue full, dropping record %s", rec.ID)
	}
	return true
}

// Records returns a copy of the emitted records, oldest first.
func (e *Emitter) Records() []Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Record, len(e.records))
	copy(out, e.records)
	return out
}

// Reset forgets emitted records and the throttle state.
func (e *Emitter) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.records = nil
	e.emitted = false
	e.lastEmitted = time.Time{}
}

// Run sends queued records to the sink until ctx is done. Failures are
// logged and counted, never retried.
func (e *Emitter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec := <-e.queue:
			e.send(ctx, rec)
		}
	}
}

func (e *Emitter) send(ctx context.Context, rec Record) {
	sctx, cancel := context.WithTimeout(ctx, e.cfg.SendTimeout)
	defer cancel()
	if err := e.sink.Send(sctx, rec); err != nil {
		e.metrics.Count(monitoring.TelemetryFailed)
		monitoring.Logf("telemetry: send %s failed: %v", rec.ID, err)
	}
}
