package signal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tomaslejdung/obscam/pkg/registry"
)

const waitTimeout = 2 * time.Second

// waitFor returns the next message of type msgType, skipping others.
func waitFor(t *testing.T, s Signaler, msgType string) SignalMessage {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case msg, ok := <-s.Messages():
			require.True(t, ok, "connection closed while waiting for %s", msgType)
			if msg.Type == msgType {
				return msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", msgType)
		}
	}
}

// requireNone fails if a message of msgType arrives within d.
func requireNone(t *testing.T, s Signaler, msgType string, d time.Duration) {
	t.Helper()
	deadline := time.After(d)
	for {
		select {
		case msg, ok := <-s.Messages():
			if !ok {
				return
			}
			require.NotEqual(t, msgType, msg.Type, "unexpected %s: %+v", msgType, msg)
		case <-deadline:
			return
		}
	}
}

func newTestServer(t *testing.T, opts Options) (*Server, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	return NewServer(reg, opts), reg
}

func register(t *testing.T, c Signaler, endpointID, name, externalID string) SignalMessage {
	t.Helper()
	require.NoError(t, c.Send(SignalMessage{Type: TypeRegister, EndpointID: endpointID, DisplayName: name, ExternalID: externalID}))
	return waitFor(t, c, TypeRegisterResult)
}

func TestServer_registerAndRoster(t *testing.T) {
	s, _ := newTestServer(t, Options{})

	src := s.ConnectLocal()
	defer src.Close()
	res := register(t, src, "src-1", "alice", "76561198000000001")
	require.Equal(t, ResultOK, res.Result)
	require.NotNil(t, res.Source)
	require.True(t, res.Source.Visible)

	viewer := s.ConnectLocal()
	defer viewer.Close()
	require.NoError(t, viewer.Send(SignalMessage{Type: TypeHello, ViewerID: "viewer-1"}))

	roster := waitFor(t, viewer, TypeRoster)
	require.Len(t, roster.Sources, 1)
	require.Equal(t, "src-1", roster.Sources[0].EndpointID)
}

func TestServer_registerConflicts(t *testing.T) {
	s, _ := newTestServer(t, Options{})

	a := s.ConnectLocal()
	defer a.Close()
	b := s.ConnectLocal()
	defer b.Close()

	require.Equal(t, ResultOK, register(t, a, "src-1", "alice", "ext-1").Result)
	require.Equal(t, ResultEndpointTaken, register(t, b, "src-1", "bob", "ext-2").Result)
	require.Equal(t, ResultNameTaken, register(t, b, "src-2", "alice", "ext-1").Result)
	require.Equal(t, ResultInvalid, register(t, b, "", "bob", "").Result)
}

func TestServer_offerAnswerRouting(t *testing.T) {
	s, _ := newTestServer(t, Options{})

	src := s.ConnectLocal()
	defer src.Close()
	register(t, src, "src-1", "alice", "")

	v1 := s.ConnectLocal()
	defer v1.Close()
	v2 := s.ConnectLocal()
	defer v2.Close()
	require.NoError(t, v1.Send(SignalMessage{Type: TypeHello, ViewerID: "viewer-1"}))
	require.NoError(t, v2.Send(SignalMessage{Type: TypeHello, ViewerID: "viewer-2"}))

	require.NoError(t, v1.Send(SignalMessage{Type: TypeOffer, SDP: "offer-sdp", TargetID: "src-1", SenderID: "viewer-1", SessionID: "sess-1"}))
	offer := waitFor(t, src, TypeOffer)
	require.Equal(t, "offer-sdp", offer.SDP)
	require.Equal(t, "viewer-1", offer.SenderID)
	require.Equal(t, "sess-1", offer.SessionID)

	require.NoError(t, src.Send(SignalMessage{Type: TypeAnswer, SDP: "answer-sdp", TargetID: "viewer-1", SenderID: "src-1", SessionID: "sess-1"}))
	answer := waitFor(t, v1, TypeAnswer)
	require.Equal(t, "answer-sdp", answer.SDP)
	require.Equal(t, "sess-1", answer.SessionID)

	requireNone(t, v2, TypeAnswer, 100*time.Millisecond)
}

func TestServer_answerFallsBackToBroadcast(t *testing.T) {
	s, _ := newTestServer(t, Options{})

	src := s.ConnectLocal()
	defer src.Close()
	register(t, src, "src-1", "alice", "")

	anon := s.ConnectLocal()
	defer anon.Close()

	require.NoError(t, src.Send(SignalMessage{Type: TypeICE, Candidate: "{}", TargetID: "viewer-x", SenderID: "src-1"}))
	msg := waitFor(t, anon, TypeICE)
	require.Equal(t, "viewer-x", msg.TargetID)
}

func TestServer_routeErrorIsLocal(t *testing.T) {
	s, _ := newTestServer(t, Options{})

	src := s.ConnectLocal()
	defer src.Close()
	register(t, src, "src-1", "alice", "")

	v1 := s.ConnectLocal()
	defer v1.Close()
	v2 := s.ConnectLocal()
	defer v2.Close()

	require.NoError(t, v1.Send(SignalMessage{Type: TypeOffer, SDP: "x", TargetID: "src-404", SenderID: "viewer-1", SessionID: "sess-9"}))
	rerr := waitFor(t, v1, TypeRouteError)
	require.Equal(t, "src-404", rerr.TargetID)
	require.Equal(t, "sess-9", rerr.SessionID)

	requireNone(t, v2, TypeRouteError, 100*time.Millisecond)
	requireNone(t, src, TypeOffer, 50*time.Millisecond)
}

func TestServer_connectionLostRemovesSource(t *testing.T) {
	s, reg := newTestServer(t, Options{})

	viewer := s.ConnectLocal()
	defer viewer.Close()

	src := s.ConnectLocal()
	register(t, src, "src-1", "alice", "")
	waitFor(t, viewer, TypeSourceJoined)

	require.NoError(t, src.Close())

	left := waitFor(t, viewer, TypeSourceLeft)
	require.Equal(t, "src-1", left.Source.EndpointID)
	require.Equal(t, 0, reg.Count())
	require.Equal(t, 1, s.ConnectionCount())
}

func TestServer_unregisterOnlyOwn(t *testing.T) {
	s, reg := newTestServer(t, Options{})

	src := s.ConnectLocal()
	defer src.Close()
	register(t, src, "src-1", "alice", "")

	other := s.ConnectLocal()
	defer other.Close()
	require.NoError(t, other.Send(SignalMessage{Type: TypeUnregister, EndpointID: "src-1"}))
	waitFor(t, other, TypeError)
	require.Equal(t, 1, reg.Count())

	require.NoError(t, src.Send(SignalMessage{Type: TypeUnregister, EndpointID: "src-1"}))
	waitFor(t, src, TypeSourceLeft)
	require.Equal(t, 0, reg.Count())
}

func TestServer_setVisibilityBroadcast(t *testing.T) {
	s, _ := newTestServer(t, Options{})

	src := s.ConnectLocal()
	defer src.Close()
	register(t, src, "src-1", "alice", "ext-1")

	viewer := s.ConnectLocal()
	defer viewer.Close()

	require.NoError(t, src.Send(SignalMessage{Type: TypeSetVisibility, Identifier: "ext-1", Visible: Bool(false)}))
	msg := waitFor(t, viewer, TypePreferenceChanged)
	require.Equal(t, "src-1", msg.Source.EndpointID)
	require.False(t, msg.Source.Visible)
}

func TestServer_helloSendsCurrentTarget(t *testing.T) {
	target := TargetInfo{ExternalID: "ext-1", DisplayName: "alice", EndpointID: "src-1", Visible: true}
	s, _ := newTestServer(t, Options{
		CurrentTarget: func() (TargetInfo, bool) { return target, true },
		FeedPlayers: func() []FeedPlayer {
			return []FeedPlayer{{ExternalID: "ext-1", DisplayName: "alice"}}
		},
	})

	viewer := s.ConnectLocal()
	defer viewer.Close()
	require.NoError(t, viewer.Send(SignalMessage{Type: TypeHello, ViewerID: "viewer-1"}))

	msg := waitFor(t, viewer, TypeTargetChanged)
	require.Equal(t, target, *msg.Target)

	require.NoError(t, viewer.Send(SignalMessage{Type: TypeFeedPlayersReq}))
	players := waitFor(t, viewer, TypeFeedPlayers)
	require.Len(t, players.FeedPlayers, 1)
}

func TestServer_unknownType(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	c := s.ConnectLocal()
	defer c.Close()

	require.NoError(t, c.Send(SignalMessage{Type: "bogus"}))
	msg := waitFor(t, c, TypeError)
	require.Contains(t, msg.Error, "bogus")
}

func TestServer_roster(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	src := s.ConnectLocal()
	defer src.Close()
	register(t, src, "src-1", "alice", "")

	rec := httptest.NewRecorder()
	s.HandleRoster(rec, httptest.NewRequest(http.MethodGet, "/roster", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"endpointId":"src-1"`)
}

func TestServer_websocketEndToEnd(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	ts := httptest.NewServer(http.HandlerFunc(s.HandleWebSocket))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	src, err := Dial(ctx, url, nil)
	require.NoError(t, err)
	defer src.Close()
	require.Equal(t, ResultOK, register(t, src, "src-1", "alice", "").Result)

	viewer, err := Dial(ctx, url, nil)
	require.NoError(t, err)
	defer viewer.Close()
	require.NoError(t, viewer.Send(SignalMessage{Type: TypeHello, ViewerID: "viewer-1"}))
	waitFor(t, viewer, TypeRoster)

	require.NoError(t, viewer.Send(SignalMessage{Type: TypeOffer, SDP: "offer", TargetID: "src-1", SenderID: "viewer-1", SessionID: "s1"}))
	require.NoError(t, viewer.Send(SignalMessage{Type: TypeICE, Candidate: "c1", TargetID: "src-1", SenderID: "viewer-1", SessionID: "s1", IsTargetSource: true}))

	require.Equal(t, "offer", waitFor(t, src, TypeOffer).SDP)
	require.Equal(t, "c1", waitFor(t, src, TypeICE).Candidate)

	require.NoError(t, src.Send(SignalMessage{Type: TypeAnswer, SDP: "answer", TargetID: "viewer-1", SenderID: "src-1", SessionID: "s1"}))
	require.Equal(t, "answer", waitFor(t, viewer, TypeAnswer).SDP)

	require.NoError(t, src.Close())
	left := waitFor(t, viewer, TypeSourceLeft)
	require.Equal(t, "src-1", left.Source.EndpointID)
}

func TestConn_messagesCloseWhenServerDrops(t *testing.T) {
	s, reg := newTestServer(t, Options{})
	ts := httptest.NewServer(http.HandlerFunc(s.HandleWebSocket))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	c, err := Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	defer c.Close()
	require.Equal(t, ResultOK, register(t, c, "src-1", "alice", "").Result)

	ts.CloseClientConnections()

	deadline := time.After(waitTimeout)
	for open := true; open; {
		select {
		case _, open = <-c.Messages():
		case <-deadline:
			t.Fatal("messages channel still open after the server dropped the connection")
		}
	}
	require.Eventually(t, func() bool { return reg.Count() == 0 }, waitTimeout, 10*time.Millisecond)
}
