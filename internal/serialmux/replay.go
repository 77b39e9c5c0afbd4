package serialmux

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/banshee-data/fleettrack/internal/timeutil"
)

var errPortClosed = errors.New("serial port closed")

// ReplayPort plays back a recorded NMEA log as if it were a live receiver.
// Each RMC sentence marks the end of an epoch, and the port waits Epoch
// before releasing the next one. Writes are discarded.
type ReplayPort struct {
	src   io.ReadSeeker
	c     io.Closer
	r     *bufio.Reader
	clock timeutil.Clock

	// Epoch is the delay between receiver epochs. Zero replays as fast as
	// the reader consumes.
	Epoch time.Duration
	// Loop rewinds to the start of the log at EOF.
	Loop bool

	mu      sync.Mutex
	pending []byte
	fresh   bool
	closed  chan struct{}
	once    sync.Once
}

// NewReplayPort wraps src. If src is also an io.Closer it is closed by Close.
func NewReplayPort(src io.ReadSeeker, clock timeutil.Clock, epoch time.Duration) *ReplayPort {
	p := &ReplayPort{
		src:    src,
		r:      bufio.NewReader(src),
		clock:  clock,
		Epoch:  epoch,
		closed: make(chan struct{}),
	}
	if c, ok := src.(io.Closer); ok {
		p.c = c
	}
	return p
}

func (p *ReplayPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.pending) == 0 {
		select {
		case <-p.closed:
			return 0, errPortClosed
		default:
		}
		line, err := p.r.ReadBytes('\n')
		if len(line) == 0 && err != nil {
			if errors.Is(err, io.EOF) && p.Loop && !p.fresh {
				p.fresh = true
				if _, serr := p.src.Seek(0, io.SeekStart); serr != nil {
					return 0, serr
				}
				p.r.Reset(p.src)
				continue
			}
			return 0, err
		}
		p.fresh = false
		if p.Epoch > 0 && isRMC(line) {
			if !p.wait() {
				return 0, errPortClosed
			}
		}
		p.pending = line
	}

	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

// wait blocks for one epoch and reports false if the port closed meanwhile.
func (p *ReplayPort) wait() bool {
	timer := p.clock.NewTimer(p.Epoch)
	defer timer.Stop()
	select {
	case <-timer.C():
		return true
	case <-p.closed:
		return false
	}
}

func (p *ReplayPort) Write(b []byte) (int, error) {
	return len(b), nil
}

func (p *ReplayPort) Close() error {
	var err error
	p.once.Do(func() {
		close(p.closed)
		if p.c != nil {
			err = p.c.Close()
		}
	})
	return err
}

func isRMC(line []byte) bool {
	return len(line) > 6 && line[0] == '$' && bytes.HasPrefix(line[3:], []byte("RMC"))
}

// NewReplaySerialMux opens an NMEA log file and serves it through a
// SerialMux.
func NewReplaySerialMux(path string, clock timeutil.Clock, epoch time.Duration, loop bool) (*SerialMux[*ReplayPort], error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	port := NewReplayPort(f, clock, epoch)
	port.Loop = loop
	return NewSerialMux(port), nil
}
