// Package source defines how the tracker obtains position samples: a
// one-shot acquisition and a cancellable subscription, both of which fail
// with a *PositionError.
package source

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/fleettrack/internal/position"
)

// ErrorKind classifies a position source failure.
type ErrorKind int

const (
	PermissionDenied ErrorKind = iota + 1
	Unavailable
	Timeout
)

func (k ErrorKind) String() string {
	switch k {
	case PermissionDenied:
		return "permission_denied"
	case Unavailable:
		return "unavailable"
	case Timeout:
		return "timeout"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// PositionError is returned by sources for acquisition failures.
type PositionError struct {
	Kind ErrorKind
	Err  error
}

func (e *PositionError) Error() string {
	if e.Err == nil {
		return "position " + e.Kind.String()
	}
	return fmt.Sprintf("position %s: %v", e.Kind, e.Err)
}

func (e *PositionError) Unwrap() error { return e.Err }

// NewError returns a *PositionError of the given kind wrapping err.
func NewError(kind ErrorKind, err error) *PositionError {
	return &PositionError{Kind: kind, Err: err}
}

// KindOf extracts the ErrorKind from err, if it is or wraps a
// *PositionError.
func KindOf(err error) (ErrorKind, bool) {
	var pe *PositionError
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return 0, false
}

// FromContext maps a context error to a Timeout PositionError.
func FromContext(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(Timeout, err)
	}
	return err
}

// Options tune acquisition.
type Options struct {
	// HighAccuracy asks the source for the best available fix, at the cost
	// of waiting longer.
	HighAccuracy bool
	// Timeout bounds CurrentPosition when the caller's context has no
	// earlier deadline.
	Timeout time.Duration
	// MaxAge allows CurrentPosition to return a cached fix no older than
	// this.
	MaxAge time.Duration
}

// Handler receives subscription events.
type Handler interface {
	OnSample(position.RawSample)
	OnError(error)
}

// HandlerFuncs adapts two functions to a Handler. Nil functions are
// ignored.
type HandlerFuncs struct {
	Sample func(position.RawSample)
	Error  func(error)
}

func (h HandlerFuncs) OnSample(s position.RawSample) {
	if h.Sample != nil {
		h.Sample(s)
	}
}

func (h HandlerFuncs) OnError(err error) {
	if h.Error != nil {
		h.Error(err)
	}
}

// Subscription is a live stream of samples. Cancel stops delivery; it is
// safe to call more than once and does not wait for an in-flight callback.
type Subscription interface {
	Cancel()
}

// Source produces position samples.
type Source interface {
	CurrentPosition(ctx context.Context, opts Options) (position.RawSample, error)
	Subscribe(opts Options, h Handler) (Subscription, error)
}

// cancelFunc is a Subscription backed by a function run at most once.
type cancelFunc struct {
	once sync.Once
	fn   func()
}

func (c *cancelFunc) Cancel() { c.once.Do(c.fn) }

// SubscriptionFunc returns a Subscription that runs fn on the first Cancel.
func SubscriptionFunc(fn func()) Subscription {
	return &cancelFunc{fn: fn}
}
