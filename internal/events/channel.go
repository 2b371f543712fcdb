// Package events keeps a live subscription to the agent runtime's event
// stream, reconnecting with backoff and fanning events out to subscribers.
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"dilag/internal/logging"
	"dilag/internal/types"
)

// Source opens one event stream. The stream ends when the returned channel
// is closed.
type Source interface {
	Events(ctx context.Context, directory string) (<-chan types.Event, func(), error)
}

type Config struct {
	Directory string
	Backoff   Backoff
	Logger    logging.Logger
}

type Channel struct {
	source Source
	cfg    Config
	logger logging.Logger
	hub    *Hub
	after  func(time.Duration) <-chan time.Time

	mu        sync.Mutex
	state     types.ConnectionState
	listeners map[int]func(types.ConnectionState)
	nextID    int
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewChannel(source Source, cfg Config) *Channel {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.With(logging.Component("events"))
	hub := NewHub()
	hub.onDrop = func(sessionID string, event types.Event) {
		logger.Debug("event_dropped_slow_subscriber",
			logging.F("subscriber_session", sessionID),
			logging.F("type", string(event.Type)),
		)
	}
	return &Channel{
		source:    source,
		cfg:       cfg,
		logger:    logger,
		hub:       hub,
		after:     time.After,
		state:     types.ConnectionState{Status: types.ConnectionDisconnected},
		listeners: map[int]func(types.ConnectionState){},
	}
}

func (c *Channel) State() types.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnStatus registers fn for connection state changes. Calls happen on the
// pump goroutine in transition order.
func (c *Channel) OnStatus(fn func(types.ConnectionState)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Channel) Subscribe() (<-chan types.Event, func()) {
	return c.hub.Add("")
}

func (c *Channel) SubscribeSession(sessionID string) (<-chan types.Event, func()) {
	return c.hub.Add(sessionID)
}

// Start runs the pump until Close or ctx cancellation. Calling Start on a
// running channel is a no-op.
func (c *Channel) Start(ctx context.Context) {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go func() {
		defer close(done)
		c.run(ctx)
	}()
}

// Close stops the pump, reports disconnected, and closes all subscriber
// channels.
func (c *Channel) Close() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	c.setState(types.ConnectionState{Status: types.ConnectionDisconnected})
	c.hub.CloseAll()
}

func (c *Channel) run(ctx context.Context) {
	attempts := 0
	c.setState(types.ConnectionState{Status: types.ConnectionConnecting})
	for ctx.Err() == nil {
		stream, stop, err := c.source.Events(ctx, c.cfg.Directory)
		if err == nil {
			attempts = 0
			c.setState(types.ConnectionState{Status: types.ConnectionConnected})
			c.pump(ctx, stream)
			stop()
			if ctx.Err() != nil {
				return
			}
			c.logger.Info("event_stream_dropped")
		} else if !errors.Is(err, context.Canceled) {
			c.logger.Warn("event_stream_connect_failed", logging.F("attempt", attempts+1), logging.Err(err))
		}
		if ctx.Err() != nil {
			return
		}
		attempts++
		c.setState(types.ConnectionState{Status: types.ConnectionReconnecting, Attempts: attempts})
		select {
		case <-ctx.Done():
			return
		case <-c.after(c.cfg.Backoff.Delay(attempts)):
		}
	}
}

func (c *Channel) pump(ctx context.Context, stream <-chan types.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-stream:
			if !ok {
				return
			}
			c.hub.Broadcast(event)
		}
	}
}

func (c *Channel) setState(state types.ConnectionState) {
	c.mu.Lock()
	if c.state == state {
		c.mu.Unlock()
		return
	}
	c.state = state
	listeners := make([]func(types.ConnectionState), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	c.logger.Debug("connection_status", logging.F("status", string(state.Status)), logging.F("attempts", state.Attempts))
	for _, fn := range listeners {
		fn(state)
	}
}
