// Package mock provides in-memory mock implementations of [live.Provider] and
// [live.Conn] for use in unit tests.
//
// All mocks are safe for concurrent use. The test drives the remote side of
// a session through [Conn.Push] (emit a transcript delta) and [Conn.Fail]
// (end the session with an error, as a dropped connection would).
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/provider/live"
)

// ─── Conn ─────────────────────────────────────────────────────────────────────

// Conn is a mock implementation of [live.Conn].
type Conn struct {
	mu      sync.Mutex
	deltas  chan string
	ended   bool
	closed  bool
	errVal  error
	frames  []audio.AudioFrame
	closedC chan struct{}
	endedC  chan struct{}
	pushing sync.WaitGroup

	// SendError is returned by SendFrame when non-nil.
	SendError error

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewConn returns a Conn whose delta channel holds up to buffer values.
func NewConn(buffer int) *Conn {
	return &Conn{
		deltas:  make(chan string, buffer),
		closedC: make(chan struct{}),
		endedC:  make(chan struct{}),
	}
}

// SendFrame implements [live.Conn]. Frames are recorded in call order.
func (c *Conn) SendFrame(_ context.Context, frame audio.AudioFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended {
		return live.ErrClosed
	}
	if c.SendError != nil {
		return c.SendError
	}
	c.frames = append(c.frames, frame)
	return nil
}

// Deltas implements [live.Conn].
func (c *Conn) Deltas() <-chan string { return c.deltas }

// Err implements [live.Conn].
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errVal
}

// Close implements [live.Conn].
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountClose++
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.closedC)
	c.endLocked(nil)
	return nil
}

// Push emits one transcript delta as if received from the service. It
// blocks while the delta buffer is full and reports false if the session
// ends before the delta is queued.
func (c *Conn) Push(delta string) bool {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return false
	}
	c.pushing.Add(1)
	c.mu.Unlock()
	defer c.pushing.Done()

	select {
	case c.deltas <- delta:
		return true
	case <-c.endedC:
		return false
	}
}

// Fail ends the session with err, as a transport failure or a close
// initiated by the service would.
func (c *Conn) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endLocked(err)
}

func (c *Conn) endLocked(err error) {
	if c.ended {
		return
	}
	c.ended = true
	c.errVal = err
	close(c.endedC)
	// Pending pushes return once endedC is closed; none can start now.
	c.pushing.Wait()
	close(c.deltas)
}

// Frames returns a copy of the frames sent so far.
func (c *Conn) Frames() []audio.AudioFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]audio.AudioFrame, len(c.frames))
	copy(out, c.frames)
	return out
}

// Closed returns a channel that is closed once Close has been called.
func (c *Conn) Closed() <-chan struct{} { return c.closedC }

// IsClosed reports whether Close has been called.
func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// ─── Provider ─────────────────────────────────────────────────────────────────

// Provider is a mock implementation of [live.Provider].
//
// By default Dial succeeds immediately with a fresh [Conn]. Set Gate to make
// Dial block until a value is sent on it (or ctx is done), which holds a
// session in its connecting phase.
type Provider struct {
	mu sync.Mutex

	// DialError is returned by Dial when non-nil.
	DialError error

	// Gate, when non-nil, is received from before Dial returns.
	Gate chan struct{}

	// Buffer is the delta channel capacity of new Conns. Defaults to 64.
	Buffer int

	// DialCalls records the config of every Dial call.
	DialCalls []live.Config

	conns []*Conn
}

// Name implements [live.Provider].
func (p *Provider) Name() string { return "mock" }

// Dial implements [live.Provider].
func (p *Provider) Dial(ctx context.Context, cfg live.Config) (live.Conn, error) {
	p.mu.Lock()
	p.DialCalls = append(p.DialCalls, cfg)
	gate := p.Gate
	dialErr := p.DialError
	buffer := p.Buffer
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if dialErr != nil {
		return nil, dialErr
	}
	if buffer <= 0 {
		buffer = 64
	}
	conn := NewConn(buffer)
	p.mu.Lock()
	p.conns = append(p.conns, conn)
	p.mu.Unlock()
	return conn, nil
}

// Conns returns every Conn handed out so far, in dial order.
func (p *Provider) Conns() []*Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Conn, len(p.conns))
	copy(out, p.conns)
	return out
}

// Last returns the most recently dialled Conn, or nil.
func (p *Provider) Last() *Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.conns) == 0 {
		return nil
	}
	return p.conns[len(p.conns)-1]
}

// CallCountDial returns how many times Dial was called.
func (p *Provider) CallCountDial() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.DialCalls)
}

var (
	_ live.Provider = (*Provider)(nil)
	_ live.Conn     = (*Conn)(nil)
)
