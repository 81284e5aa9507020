package main

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tomaslejdung/obscam/pkg/signal"
)

var errOffline = errors.New("not connected to signal server")

const (
	initialReconnectDelay = time.Second
	maxReconnectDelay     = 30 * time.Second
	defaultMaxReconnects  = 10
)

type linkState int

const (
	linkConnecting linkState = iota
	linkConnected
	linkReconnecting
	linkFailed
)

func (s linkState) String() string {
	switch s {
	case linkConnecting:
		return "connecting"
	case linkConnected:
		return "connected"
	case linkReconnecting:
		return "reconnecting"
	case linkFailed:
		return "failed"
	}
	return "unknown"
}

// linkStatus is reported to the dashboard on every state change.
type linkStatus struct {
	State   linkState
	Attempt int
	Err     error
}

type dialFunc func(ctx context.Context) (signal.Signaler, error)

// link keeps one signaling connection alive, redialing with exponential
// backoff. Messages are delivered on the Run goroutine.
type link struct {
	dial        dialFunc
	onConnect   func() error
	onMessage   func(signal.SignalMessage)
	onStatus    func(linkStatus)
	maxAttempts int
	delay       time.Duration
	log         *slog.Logger

	mu   sync.Mutex
	conn signal.Signaler
}

func newLink(dial dialFunc, log *slog.Logger) *link {
	return &link{
		dial:        dial,
		onConnect:   func() error { return nil },
		onMessage:   func(signal.SignalMessage) {},
		onStatus:    func(linkStatus) {},
		maxAttempts: defaultMaxReconnects,
		delay:       initialReconnectDelay,
		log:         log,
	}
}

func dialURL(url string, log *slog.Logger) dialFunc {
	return func(ctx context.Context) (signal.Signaler, error) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return signal.Dial(ctx, url, log)
	}
}

// Send implements transport.Sender over whichever connection is current.
func (l *link) Send(msg signal.SignalMessage) error {
	l.mu.Lock()
	c := l.conn
	l.mu.Unlock()
	if c == nil {
		return errOffline
	}
	return c.Send(msg)
}

// Run dials, pumps messages and redials until ctx ends or the attempts run out.
func (l *link) Run(ctx context.Context) error {
	delay := l.delay
	attempt := 0
	l.onStatus(linkStatus{State: linkConnecting})

	for {
		c, err := l.dial(ctx)
		if err == nil {
			attempt = 0
			delay = l.delay
			l.serve(ctx, c)
			if ctx.Err() != nil {
				return nil
			}
			l.log.Warn("signaling connection lost")
		} else {
			if ctx.Err() != nil {
				return nil
			}
			l.log.Warn("dial signal server", "error", err)
		}

		attempt++
		if l.maxAttempts > 0 && attempt > l.maxAttempts {
			err := errors.New("failed to reconnect after multiple attempts")
			l.onStatus(linkStatus{State: linkFailed, Attempt: attempt - 1, Err: err})
			return err
		}
		l.onStatus(linkStatus{State: linkReconnecting, Attempt: attempt, Err: err})

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (l *link) serve(ctx context.Context, c signal.Signaler) {
	l.mu.Lock()
	l.conn = c
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.conn = nil
		l.mu.Unlock()
		_ = c.Close()
	}()

	l.onStatus(linkStatus{State: linkConnected})
	if err := l.onConnect(); err != nil {
		l.log.Warn("signaling handshake failed", "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.Messages():
			if !ok {
				return
			}
			l.onMessage(msg)
		}
	}
}
