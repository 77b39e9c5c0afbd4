package source

import (
	"context"
	"sync"

	"github.com/banshee-data/fleettrack/internal/position"
)

// Fake is an in-memory Source for tests and demos. Samples pushed with Emit
// are delivered synchronously to every live subscriber.
type Fake struct {
	mu       sync.Mutex
	current  *position.RawSample
	err      error
	subs     map[int]Handler
	next     int
	canceled int
	block    bool
	subErr   error
}

// NewFake returns a Fake with no current position.
func NewFake() *Fake {
	return &Fake{subs: make(map[int]Handler)}
}

// SetCurrent sets the value returned by CurrentPosition.
func (f *Fake) SetCurrent(s position.RawSample) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = &s
	f.err = nil
	f.block = false
}

// FailWith makes CurrentPosition return err.
func (f *Fake) FailWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// FailSubscribe makes Subscribe return err until it is called again with nil.
func (f *Fake) FailSubscribe(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subErr = err
}

// Block makes CurrentPosition wait for the context to end.
func (f *Fake) Block() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.block = true
}

func (f *Fake) CurrentPosition(ctx context.Context, opts Options) (position.RawSample, error) {
	f.mu.Lock()
	cur, err, block := f.current, f.err, f.block
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return position.RawSample{}, FromContext(ctx.Err())
	}
	if err != nil {
		return position.RawSample{}, err
	}
	if cur == nil {
		return position.RawSample{}, NewError(Unavailable, nil)
	}
	return *cur, nil
}

func (f *Fake) Subscribe(opts Options, h Handler) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return nil, f.subErr
	}
	id := f.next
	f.next++
	f.subs[id] = h
	return SubscriptionFunc(func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.subs[id]; ok {
			delete(f.subs, id)
			f.canceled++
		}
	}), nil
}

// Emit delivers s to all subscribers.
func (f *Fake) Emit(s position.RawSample) {
	for _, h := range f.handlers() {
		h.OnSample(s)
	}
}

// EmitError delivers err to all subscribers.
func (f *Fake) EmitError(err error) {
	for _, h := range f.handlers() {
		h.OnError(err)
	}
}

// Subscribers reports the number of live subscriptions.
func (f *Fake) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Canceled reports how many subscriptions were cancelled.
func (f *Fake) Canceled() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.canceled
}

func (f *Fake) handlers() []Handler {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Handler, 0, len(f.subs))
	for _, h := range f.subs {
		out = append(out, h)
	}
	return out
}
