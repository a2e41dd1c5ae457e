// Package livetest provides an in-memory live.Transport for tests.
package livetest

import (
	"context"
	"sync"

	"github.com/Rrens/live-assist/internal/live"
)

// Transport records every Open and hands out in-memory channels.
type Transport struct {
	mu       sync.Mutex
	failNext []error
	failAll  error
	channels []*Channel
	attempts int
	hold     chan struct{}
	pending  int
}

func NewTransport() *Transport {
	return &Transport{}
}

// FailNext makes the next len(errs) opens fail with errs, in order.
func (t *Transport) FailNext(errs ...error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failNext = append(t.failNext, errs...)
}

// FailAlways makes every open fail with err until called with nil.
func (t *Transport) FailAlways(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failAll = err
}

// Hold blocks every Open until the returned release is called.
func (t *Transport) Hold() (release func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan struct{})
	t.hold = ch
	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			if t.hold == ch {
				t.hold = nil
			}
			t.mu.Unlock()
			close(ch)
		})
	}
}

// Pending counts opens currently blocked by Hold.
func (t *Transport) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

// Attempts counts Open calls, failed ones included.
func (t *Transport) Attempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

// Opened counts channels successfully opened.
func (t *Transport) Opened() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.channels)
}

// Last returns the most recently opened channel, or nil.
func (t *Transport) Last() *Channel {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.channels) == 0 {
		return nil
	}
	return t.channels[len(t.channels)-1]
}

func (t *Transport) Open(ctx context.Context, cfg live.Config, sink live.Sink) (live.Channel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.attempts++
	if hold := t.hold; hold != nil {
		t.pending++
		t.mu.Unlock()
		select {
		case <-hold:
		case <-ctx.Done():
		}
		t.mu.Lock()
		t.pending--
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(t.failNext) > 0 {
		err := t.failNext[0]
		t.failNext = t.failNext[1:]
		return nil, err
	}
	if t.failAll != nil {
		return nil, t.failAll
	}

	ch := &Channel{Config: cfg, sink: sink}
	t.channels = append(t.channels, ch)
	return ch, nil
}

// Channel is an in-memory live.Channel.
type Channel struct {
	Config live.Config

	sink    live.Sink
	mu      sync.Mutex
	sent    []live.Input
	closed  bool
	sendErr error
}

func (c *Channel) Send(_ context.Context, in live.Input) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return live.ErrChannelClosed
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, in)
	return nil
}

func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// FailSends makes Send return err.
func (c *Channel) FailSends(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

func (c *Channel) Sent() []live.Input {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]live.Input(nil), c.sent...)
}

func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Emit delivers ev to the channel's sink.
func (c *Channel) Emit(ev live.Event) {
	c.sink(ev)
}

func (c *Channel) Transcript(text string) {
	c.Emit(live.Event{Kind: live.EventPartialTranscript, Text: text})
}

func (c *Channel) Response(text string) {
	c.Emit(live.Event{Kind: live.EventPartialResponse, Text: text})
}

func (c *Channel) Boundary() {
	c.Emit(live.Event{Kind: live.EventTurnBoundary})
}

// Drop simulates the remote end closing the channel with reason.
func (c *Channel) Drop(reason string) {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.Emit(live.Event{Kind: live.EventTransportClosed, Reason: reason, Code: 1006})
}
