package source

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/fleettrack/internal/position"
	"github.com/banshee-data/fleettrack/internal/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPositionError(t *testing.T) {
	cause := errors.New("port busy")
	err := fmt.Errorf("start: %w", NewError(PermissionDenied, cause))

	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, PermissionDenied, kind)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "start: position permission_denied: port busy", err.Error())

	_, ok = KindOf(errors.New("other"))
	assert.False(t, ok)

	assert.Equal(t, "position timeout", NewError(Timeout, nil).Error())
	assert.Equal(t, "kind(9)", ErrorKind(9).String())
}

func TestFromContext(t *testing.T) {
	kind, ok := KindOf(FromContext(context.DeadlineExceeded))
	require.True(t, ok)
	assert.Equal(t, Timeout, kind)

	assert.Equal(t, context.Canceled, FromContext(context.Canceled))
}

func TestSubscriptionFuncRunsOnce(t *testing.T) {
	n := 0
	sub := SubscriptionFunc(func() { n++ })
	sub.Cancel()
	sub.Cancel()
	assert.Equal(t, 1, n)
}

func TestFake(t *testing.T) {
	f := NewFake()

	_, err := f.CurrentPosition(context.Background(), Options{})
	kind, _ := KindOf(err)
	assert.Equal(t, Unavailable, kind)

	f.SetCurrent(position.RawSample{Lat: 1, Lng: 2})
	got, err := f.CurrentPosition(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Lat)

	var samples []position.RawSample
	var errs []error
	sub, err := f.Subscribe(Options{}, HandlerFuncs{
		Sample: func(s position.RawSample) { samples = append(samples, s) },
		Error:  func(err error) { errs = append(errs, err) },
	})
	require.NoError(t, err)

	f.Emit(position.RawSample{Lat: 3})
	f.EmitError(NewError(Timeout, nil))
	sub.Cancel()
	f.Emit(position.RawSample{Lat: 4})

	assert.Len(t, samples, 1)
	assert.Len(t, errs, 1)
	assert.Equal(t, 0, f.Subscribers())
	assert.Equal(t, 1, f.Canceled())
}

func TestFakeBlockTimesOut(t *testing.T) {
	f := NewFake()
	f.Block()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.CurrentPosition(ctx, Options{})
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, Timeout, kind)
}

// lineFeed is a LineSubscriber whose lines are pushed by the test.
type lineFeed struct {
	mu   sync.Mutex
	subs map[string]chan string
	next int
}

func newLineFeed() *lineFeed { return &lineFeed{subs: map[string]chan string{}} }

func (l *lineFeed) Subscribe() (string, chan string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next++
	id := fmt.Sprint(l.next)
	ch := make(chan string, 16)
	l.subs[id] = ch
	return id, ch
}

func (l *lineFeed) Unsubscribe(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ch, ok := l.subs[id]; ok {
		close(ch)
		delete(l.subs, id)
	}
}

func (l *lineFeed) push(lines ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ch := range l.subs {
		for _, line := range lines {
			ch <- line
		}
	}
}

func (l *lineFeed) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}

func (l *lineFeed) closeAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, ch := range l.subs {
		close(ch)
		delete(l.subs, id)
	}
}

const (
	ggaFix   = "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47"
	rmcFix   = "$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A"
	rmcNoFix = "$GPRMC,123520,V,,,,,,,230394,,,N"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestNMEASource_CurrentPosition(t *testing.T) {
	feed := newLineFeed()
	clock := timeutil.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	src := NewNMEASource(feed, clock, 0)

	type result struct {
		s   position.RawSample
		err error
	}
	done := make(chan result, 1)
	go func() {
		s, err := src.CurrentPosition(context.Background(), Options{Timeout: time.Second})
		done <- result{s, err}
	}()

	waitFor(t, func() bool { return feed.count() == 1 })
	feed.push(ggaFix, rmcFix)

	r := <-done
	require.NoError(t, r.err)
	assert.InDelta(t, 48.1173, r.s.Lat, 1e-4)
	assert.InDelta(t, 4.5, r.s.Accuracy, 1e-9)
	assert.Equal(t, 0, feed.count(), "acquisition should unsubscribe")

	// A cached fix is served within MaxAge without touching the receiver.
	clock.Advance(2 * time.Second)
	cached, err := src.CurrentPosition(context.Background(), Options{MaxAge: 5 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, r.s, cached)
}

func TestNMEASource_CurrentPositionTimeout(t *testing.T) {
	src := NewNMEASource(newLineFeed(), timeutil.RealClock{}, 0)
	_, err := src.CurrentPosition(context.Background(), Options{Timeout: 10 * time.Millisecond})
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, Timeout, kind)
}

func TestNMEASource_CurrentPositionStreamClosed(t *testing.T) {
	feed := newLineFeed()
	src := NewNMEASource(feed, timeutil.RealClock{}, 0)
	done := make(chan error, 1)
	go func() {
		_, err := src.CurrentPosition(context.Background(), Options{})
		done <- err
	}()
	waitFor(t, func() bool { return feed.count() == 1 })
	feed.closeAll()

	kind, ok := KindOf(<-done)
	require.True(t, ok)
	assert.Equal(t, Unavailable, kind)
}

func TestNMEASource_Subscribe(t *testing.T) {
	feed := newLineFeed()
	src := NewNMEASource(feed, timeutil.RealClock{}, 0)

	var (
		mu      sync.Mutex
		samples []position.RawSample
		errs    []error
	)
	sub, err := src.Subscribe(Options{}, HandlerFuncs{
		Sample: func(s position.RawSample) {
			mu.Lock()
			defer mu.Unlock()
			samples = append(samples, s)
		},
		Error: func(err error) {
			mu.Lock()
			defer mu.Unlock()
			errs = append(errs, err)
		},
	})
	require.NoError(t, err)

	feed.push("garbage", ggaFix, rmcFix, rmcNoFix, rmcNoFix)
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(samples) == 1 && len(errs) == 1
	})

	kind, _ := KindOf(errs[0])
	assert.Equal(t, Unavailable, kind, "losing the fix is reported once")

	sub.Cancel()
	sub.Cancel()
	assert.Equal(t, 0, feed.count())

	time.Sleep(10 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, errs, 1, "cancel must not report a closed stream")
}

func TestNMEASource_HighAccuracyNeedsSatellites(t *testing.T) {
	feed := newLineFeed()
	src := NewNMEASource(feed, timeutil.RealClock{}, 0)

	got := make(chan position.RawSample, 4)
	sub, err := src.Subscribe(Options{HighAccuracy: true}, HandlerFuncs{
		Sample: func(s position.RawSample) { got <- s },
	})
	require.NoError(t, err)
	defer sub.Cancel()

	twoSats := "$GPGGA,123519,4807.038,N,01131.000,E,1,02,0.9,545.4,M,46.9,M,,"
	feed.push(twoSats, rmcFix)
	select {
	case <-got:
		t.Fatal("fix with two satellites should be skipped")
	case <-time.After(20 * time.Millisecond):
	}

	feed.push(ggaFix, rmcFix)
	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("fix with eight satellites should be delivered")
	}
}

func TestStale(t *testing.T) {
	tests := []struct {
		name       string
		ts, newest int64
		maxAge     time.Duration
		want       bool
	}{
		{"disabled", 0, 10_000, 0, false},
		{"first fix", 5_000, 0, time.Second, false},
		{"within age", 9_500, 10_000, time.Second, false},
		{"at the limit", 9_000, 10_000, time.Second, false},
		{"too old", 8_999, 10_000, time.Second, true},
		{"newer", 11_000, 10_000, time.Second, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stale(tt.ts, tt.newest, tt.maxAge))
		})
	}
}
