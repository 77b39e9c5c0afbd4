package source

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/banshee-data/fleettrack/internal/monitoring"
	"github.com/banshee-data/fleettrack/internal/nmea"
	"github.com/banshee-data/fleettrack/internal/position"
	"github.com/banshee-data/fleettrack/internal/timeutil"
)

// MinHighAccuracySatellites is the satellite count a fix needs to be
// delivered in high-accuracy mode.
const MinHighAccuracySatellites = 4

// LineSubscriber is the subset of a serial multiplexer used by NMEASource.
type LineSubscriber interface {
	Subscribe() (string, chan string)
	Unsubscribe(string)
}

// NMEASource turns the sentence stream of a GNSS receiver into position
// samples.
type NMEASource struct {
	lines LineSubscriber
	clock timeutil.Clock
	uere  float64

	mu     sync.Mutex
	last   *position.RawSample
	lastAt time.Time
}

// NewNMEASource reads sentences from lines. uere scales HDOP into an
// accuracy in metres; zero selects nmea.DefaultUERE.
func NewNMEASource(lines LineSubscriber, clock timeutil.Clock, uere float64) *NMEASource {
	return &NMEASource{lines: lines, clock: clock, uere: uere}
}

// CurrentPosition returns a cached fix no older than opts.MaxAge, or waits
// for the next one.
func (s *NMEASource) CurrentPosition(ctx context.Context, opts Options) (position.RawSample, error) {
	if cached, ok := s.cached(opts.MaxAge); ok {
		return cached, nil
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	id, ch := s.lines.Subscribe()
	defer s.lines.Unsubscribe(id)

	asm := nmea.Assembler{UERE: s.uere}
	for {
		select {
		case <-ctx.Done():
			return position.RawSample{}, FromContext(ctx.Err())
		case line, ok := <-ch:
			if !ok {
				return position.RawSample{}, NewError(Unavailable, errors.New("receiver stream closed"))
			}
			sample, ok, _ := s.feed(&asm, line, opts)
			if ok {
				return sample, nil
			}
		}
	}
}

// Subscribe starts delivering fixes to h until the returned Subscription is
// cancelled. Losing the fix or the receiver stream is reported through
// h.OnError; the subscription keeps running after a lost fix.
func (s *NMEASource) Subscribe(opts Options, h Handler) (Subscription, error) {
	id, ch := s.lines.Subscribe()
	stop := make(chan struct{})

	go func() {
		asm := nmea.Assembler{UERE: s.uere}
		hadFix := false
		var newest int64
		for {
			select {
			case <-stop:
				return
			case line, ok := <-ch:
				if !ok {
					select {
					case <-stop:
					default:
						h.OnError(NewError(Unavailable, errors.New("receiver stream closed")))
					}
					return
				}
				sample, ok, noFix := s.feed(&asm, line, opts)
				switch {
				case ok && stale(sample.Timestamp, newest, opts.MaxAge):
					monitoring.Diagf("nmea: dropping stale fix at %d, newest %d", sample.Timestamp, newest)
				case ok:
					hadFix = true
					if sample.Timestamp > newest {
						newest = sample.Timestamp
					}
					h.OnSample(sample)
				case noFix && hadFix:
					hadFix = false
					h.OnError(NewError(Unavailable, errors.New("receiver lost fix")))
				}
			}
		}
	}()

	return SubscriptionFunc(func() {
		close(stop)
		s.lines.Unsubscribe(id)
	}), nil
}

func (s *NMEASource) feed(asm *nmea.Assembler, line string, opts Options) (position.RawSample, bool, bool) {
	sentence, err := nmea.Parse(line)
	if err != nil {
		if !errors.Is(err, nmea.ErrUnsupported) {
			monitoring.Diagf("nmea: %v", err)
		}
		return position.RawSample{}, false, false
	}
	sample, ok, noFix := asm.Feed(sentence)
	if !ok {
		return sample, false, noFix
	}
	if opts.HighAccuracy && asm.Satellites() < MinHighAccuracySatellites {
		monitoring.Diagf("nmea: skipping fix with %d satellites in high-accuracy mode", asm.Satellites())
		return sample, false, false
	}
	s.remember(sample)
	return sample, true, false
}

func (s *NMEASource) remember(sample position.RawSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = &sample
	s.lastAt = s.clock.Now()
}

func (s *NMEASource) cached(maxAge time.Duration) (position.RawSample, bool) {
	if maxAge <= 0 {
		return position.RawSample{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil || s.clock.Since(s.lastAt) > maxAge {
		return position.RawSample{}, false
	}
	return *s.last, true
}

// stale reports whether a fix stamped ts lags the newest delivered fix by
// more than maxAge. A zero maxAge disables the check.
func stale(ts, newest int64, maxAge time.Duration) bool {
	return maxAge > 0 && newest > 0 && newest-ts > maxAge.Milliseconds()
}
