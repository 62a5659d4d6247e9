package viewer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/op/go-logging"
	"golang.org/x/sync/semaphore"
)

var log = logging.MustGetLogger("viewer")

// State is the lifecycle position of a submitted request.
type State uint8

const (
	Idle State = iota
	Decoding
	Succeeded
	Failed
	Superseded
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Decoding:
		return "decoding"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Superseded:
		return "superseded"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == Succeeded || s == Failed || s == Superseded
}

// Pending tracks one submitted request.
type Pending struct {
	ID uint64

	mu     sync.Mutex
	state  State
	result Result
	done   chan struct{}
}

func newPending(id uint64) *Pending {
	return &Pending{ID: id, done: make(chan struct{})}
}

func (p *Pending) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Done is closed once the request reaches a terminal state.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the request is terminal or ctx ends.
func (p *Pending) Wait(ctx context.Context) (State, error) {
	select {
	case <-p.done:
		return p.State(), nil
	case <-ctx.Done():
		return p.State(), ctx.Err()
	}
}

// Result returns the request's result. ok is false unless the request
// Succeeded or Failed.
func (p *Pending) Result() (r Result, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Succeeded && p.state != Failed {
		return Result{}, false
	}
	return p.result, true
}

func (p *Pending) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *Pending) finish(s State, r Result) {
	p.mu.Lock()
	p.state = s
	p.result = r
	p.mu.Unlock()
	close(p.done)
}

// Listener receives every result that becomes visible, in request order.
type Listener func(Result)

type decodeFunc func(context.Context, Request) (Result, error)

// Coordinator runs at most one decode at a time. Every Submit cancels the
// request before it; a cancelled request ends Superseded and never changes
// the visible result.
type Coordinator struct {
	gate     *semaphore.Weighted
	decode   decodeFunc
	listener Listener

	mu      sync.Mutex
	seq     uint64
	cancel  context.CancelFunc
	visible *Result
	closed  bool
}

// NewCoordinator returns a Coordinator that reports visible results to
// listener, which may be nil.
func NewCoordinator(listener Listener) *Coordinator {
	return newCoordinator(listener, Evaluate)
}

func newCoordinator(listener Listener, decode decodeFunc) *Coordinator {
	return &Coordinator{
		gate:     semaphore.NewWeighted(1),
		decode:   decode,
		listener: listener,
	}
}

// Submit starts req and supersedes the request in flight, if any.
func (c *Coordinator) Submit(req Request) *Pending {
	c.mu.Lock()
	c.seq++
	p := newPending(c.seq)
	if c.closed {
		c.mu.Unlock()
		p.finish(Superseded, Result{})
		return p
	}
	if c.cancel != nil {
		c.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	log.Debugf("request %d submitted (%d bytes, compression %s, framing %s)",
		p.ID, len(req.Payload), req.Compression, req.Framing)
	go c.run(ctx, p, req)
	return p
}

func (c *Coordinator) run(ctx context.Context, p *Pending, req Request) {
	if err := c.gate.Acquire(ctx, 1); err != nil {
		log.Debugf("request %d superseded before start", p.ID)
		p.finish(Superseded, Result{})
		return
	}
	defer c.gate.Release(1)

	p.setState(Decoding)
	res, err := c.decode(ctx, req)

	c.mu.Lock()
	if err != nil || ctx.Err() != nil {
		c.mu.Unlock()
		if err != nil && !errors.Is(err, ErrCancelled) {
			log.Warningf("request %d: unexpected decode error: %v", p.ID, err)
		}
		log.Debugf("request %d superseded", p.ID)
		p.finish(Superseded, Result{})
		return
	}
	c.visible = &res
	c.mu.Unlock()

	state := Succeeded
	if !res.OK() {
		state = Failed
		log.Infof("request %d failed: %s", p.ID, res.Text)
	} else {
		log.Infof("request %d decoded %d characters", p.ID, len(res.Text))
	}
	p.finish(state, res)
	if c.listener != nil {
		c.listener(res)
	}
}

// Latest returns the visible result. ok is false until a request has
// Succeeded or Failed.
func (c *Coordinator) Latest() (r Result, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.visible == nil {
		return Result{}, false
	}
	return *c.visible, true
}

// Close supersedes the request in flight and waits for it to exit. Later
// submissions end Superseded immediately.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	if err := c.gate.Acquire(context.Background(), 1); err == nil {
		c.gate.Release(1)
	}
}
