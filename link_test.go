package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tomaslejdung/obscam/pkg/platform/logger"
	"github.com/tomaslejdung/obscam/pkg/registry"
	"github.com/tomaslejdung/obscam/pkg/signal"
)

const (
	waitTimeout = 2 * time.Second
	taskTick    = 5 * time.Millisecond
)

func newHub(t *testing.T, opts signal.Options) (*signal.Server, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	return signal.NewServer(reg, opts), reg
}

func localDial(srv *signal.Server) dialFunc {
	return func(context.Context) (signal.Signaler, error) {
		return srv.ConnectLocal(), nil
	}
}

// runInBackground runs fn until the test ends.
func runInBackground(t *testing.T, fn func(ctx context.Context) error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = fn(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

type statusLog struct {
	mu  sync.Mutex
	got []linkStatus
}

func (s *statusLog) record(st linkStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, st)
}

func (s *statusLog) states() []linkState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]linkState, 0, len(s.got))
	for _, st := range s.got {
		out = append(out, st.State)
	}
	return out
}

func TestLink_deliversMessages(t *testing.T) {
	srv, _ := newHub(t, signal.Options{})
	l := newLink(localDial(srv), logger.Discard())

	got := make(chan signal.SignalMessage, 8)
	l.onConnect = func() error {
		return l.Send(signal.SignalMessage{Type: signal.TypeHello, ViewerID: "viewer-1"})
	}
	l.onMessage = func(msg signal.SignalMessage) { got <- msg }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	select {
	case msg := <-got:
		require.Equal(t, signal.TypeRoster, msg.Type)
	case <-time.After(waitTimeout):
		t.Fatal("no roster")
	}

	cancel()
	require.NoError(t, <-done)
	require.ErrorIs(t, l.Send(signal.SignalMessage{Type: signal.TypeHello}), errOffline)
}

func TestLink_redialsAfterLoss(t *testing.T) {
	srv, _ := newHub(t, signal.Options{})

	conns := make(chan *signal.LocalConn, 4)
	l := newLink(func(context.Context) (signal.Signaler, error) {
		c := srv.ConnectLocal()
		conns <- c
		return c, nil
	}, logger.Discard())
	l.delay = 10 * time.Millisecond
	statuses := &statusLog{}
	l.onStatus = statuses.record

	runInBackground(t, l.Run)

	first := <-conns
	require.NoError(t, first.Close())

	select {
	case <-conns:
	case <-time.After(waitTimeout):
		t.Fatal("link did not redial")
	}
	require.Eventually(t, func() bool {
		return len(statuses.states()) >= 4
	}, waitTimeout, taskTick)
	require.Equal(t, []linkState{linkConnecting, linkConnected, linkReconnecting, linkConnected}, statuses.states()[:4])
}

func TestLink_givesUp(t *testing.T) {
	refused := errors.New("connection refused")
	dials := 0
	l := newLink(func(context.Context) (signal.Signaler, error) {
		dials++
		return nil, refused
	}, logger.Discard())
	l.delay = time.Millisecond
	l.maxAttempts = 2
	statuses := &statusLog{}
	l.onStatus = statuses.record

	err := l.Run(context.Background())
	require.Error(t, err)
	require.Equal(t, 3, dials)
	require.Equal(t, []linkState{linkConnecting, linkReconnecting, linkReconnecting, linkFailed}, statuses.states())
}
