package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pollingServer is an in-memory long-polling endpoint with a single session.
type pollingServer struct {
	mu           sync.Mutex
	sessionID    string
	queue        []json.RawMessage
	received     []json.RawMessage
	disconnected bool
	gone         bool
	connectCode  int
	pollCode     int

	// when set, /connect reports on arrived and waits for release before answering
	arrived chan struct{}
	release chan struct{}
}

func (s *pollingServer) enqueue(raw string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, json.RawMessage(raw))
}

func (s *pollingServer) snapshot() ([]json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]json.RawMessage(nil), s.received...), s.disconnected
}

func (s *pollingServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == socketPath+"/connect" && s.release != nil {
		s.arrived <- struct{}{}
		<-s.release
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if r.URL.Path != socketPath+"/connect" && r.URL.Query().Get("sessionId") != s.sessionID {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	switch r.URL.Path {
	case socketPath + "/connect":
		if s.connectCode != 0 {
			http.Error(w, "refused", s.connectCode)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"sessionId": s.sessionID})
	case socketPath + "/poll":
		switch {
		case s.gone:
			http.Error(w, "gone", http.StatusGone)
			return
		case s.pollCode != 0:
			http.Error(w, "unavailable", s.pollCode)
			return
		}
		frames := s.queue
		if frames == nil {
			frames = []json.RawMessage{}
		}
		s.queue = nil
		_ = json.NewEncoder(w).Encode(frames)
	case socketPath + "/send":
		bts, _ := io.ReadAll(r.Body)
		s.received = append(s.received, bts)
		_ = json.NewEncoder(w).Encode(map[string]bool{"success": true})
	case socketPath + "/disconnect":
		s.disconnected = true
		w.WriteHeader(http.StatusOK)
	default:
		http.NotFound(w, r)
	}
}

func newTestPollingTransport(t *testing.T, srv *httptest.Server, recv chan<- Message, opts PollingOptions) *PollingTransport {
	t.Helper()

	base, err := parseBaseURL(srv.URL)
	require.NoError(t, err)
	logger := newTestLogger(&bytes.Buffer{})
	tr := NewPollingTransport(nil, NewStaticOpenConnectionParamsRepo(logger, pollingURL(base), nil), logger, recv, opts)
	t.Cleanup(tr.Close)
	return tr
}

func fastPolling() PollingOptions {
	return PollingOptions{Interval: 5 * time.Millisecond, Timeout: time.Second, MaxFailures: 2}
}

func TestPollingTransportLifecycle(t *testing.T) {
	backend := &pollingServer{sessionID: "sess-1"}
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	recv := make(chan Message, 8)
	tr := newTestPollingTransport(t, srv, recv, fastPolling())

	assert.ErrorIs(t, tr.Write(NewDataMessage([]byte(`{}`))), ErrNotConnected)
	require.NoError(t, tr.Open(context.Background()))
	assert.Equal(t, "sess-1", tr.ID())
	assert.Equal(t, TransportPolling, tr.Name())

	backend.enqueue(`{"event":"room_joined","data":{"room":"r1"}}`)
	backend.enqueue(`{"event":"room_left","data":{"room":"r1"}}`)

	first, err := ParseEnvelope(receive(t, recv))
	require.NoError(t, err)
	second, err := ParseEnvelope(receive(t, recv))
	require.NoError(t, err)
	assert.Equal(t, EventRoomJoined, first.Event)
	assert.Equal(t, EventRoomLeft, second.Event)

	out, err := NewEnvelopeMessage(CommandJoinRoom, roomCommand{Room: "r1"})
	require.NoError(t, err)
	require.NoError(t, tr.Write(out))
	// keep-alive frames are not forwarded over HTTP
	require.NoError(t, tr.Write(NewPingMessage(nil)))

	require.Eventually(t, func() bool {
		got, _ := backend.snapshot()
		return len(got) == 1
	}, waitFor, tick)
	got, _ := backend.snapshot()
	assert.JSONEq(t, `{"event":"join_room","data":{"room":"r1"}}`, string(got[0]))

	tr.Close()
	<-tr.CloseChan()
	assert.ErrorIs(t, tr.CloseErr(), ErrTerminated)
	require.Eventually(t, func() bool {
		_, disconnected := backend.snapshot()
		return disconnected
	}, waitFor, tick)
}

func TestPollingTransportSessionGone(t *testing.T) {
	backend := &pollingServer{sessionID: "sess-2"}
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	tr := newTestPollingTransport(t, srv, make(chan Message, 1), fastPolling())
	require.NoError(t, tr.Open(context.Background()))

	backend.mu.Lock()
	backend.gone = true
	backend.mu.Unlock()

	select {
	case <-tr.CloseChan():
	case <-time.After(waitFor):
		t.Fatal("transport did not close")
	}
	assert.ErrorIs(t, tr.CloseErr(), ErrConnectionClosed)
}

func TestPollingTransportGivesUpAfterFailures(t *testing.T) {
	backend := &pollingServer{sessionID: "sess-3", pollCode: http.StatusServiceUnavailable}
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	tr := newTestPollingTransport(t, srv, make(chan Message, 1), fastPolling())
	require.NoError(t, tr.Open(context.Background()))

	select {
	case <-tr.CloseChan():
	case <-time.After(waitFor):
		t.Fatal("transport did not close")
	}
	assert.ErrorIs(t, tr.CloseErr(), ErrConnectionClosed)
}

func TestPollingTransportOpenErrors(t *testing.T) {
	tests := []struct {
		name string
		code int
		want error
	}{
		{name: "rate limited", code: http.StatusTooManyRequests, want: ErrRateLimit},
		{name: "forbidden", code: http.StatusForbidden, want: ErrCannotConnect},
		{name: "server error", code: http.StatusInternalServerError, want: ErrCannotConnect},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(&pollingServer{sessionID: "x", connectCode: tt.code})
			t.Cleanup(srv.Close)

			tr := newTestPollingTransport(t, srv, make(chan Message, 1), fastPolling())
			assert.ErrorIs(t, tr.Open(context.Background()), tt.want)
		})
	}

	t.Run("missing session id", func(t *testing.T) {
		srv := httptest.NewServer(&pollingServer{})
		t.Cleanup(srv.Close)

		tr := newTestPollingTransport(t, srv, make(chan Message, 1), fastPolling())
		assert.ErrorIs(t, tr.Open(context.Background()), ErrCannotConnect)
	})
}

func TestClientFallsBackToPolling(t *testing.T) {
	backend := &pollingServer{sessionID: "sess-fallback"}
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	c, err := New(
		WithURL(srv.URL),
		WithLogger(newTestLogger(&bytes.Buffer{})),
		WithPolling(fastPolling()),
	)
	require.NoError(t, err)
	t.Cleanup(c.Disconnect)

	joined := make(chan RoomJoined, 1)
	c.AddEventListener(EventRoomJoined, On(func(ev RoomJoined) { joined <- ev }))

	c.Connect()
	waitConnected(t, c)
	assert.Equal(t, "sess-fallback", c.ConnectionStatus().ConnectionID)

	c.JoinRoom("agv-monitor")
	backend.enqueue(`{"event":"room_joined","data":{"room":"agv-monitor"}}`)

	select {
	case ev := <-joined:
		assert.Equal(t, "agv-monitor", ev.Room)
	case <-time.After(waitFor):
		t.Fatal("room_joined not dispatched")
	}

	require.Eventually(t, func() bool {
		got, _ := backend.snapshot()
		return len(got) == 1
	}, waitFor, tick)
	got, _ := backend.snapshot()
	assert.JSONEq(t, `{"event":"join_room","data":{"room":"agv-monitor"}}`, string(got[0]))
}

func TestPollingOpenReturnsOnCancel(t *testing.T) {
	backend := &pollingServer{
		sessionID: "sess-late",
		arrived:   make(chan struct{}, 1),
		release:   make(chan struct{}),
	}
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	tr := newTestPollingTransport(t, srv, make(chan Message, 1), fastPolling())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- tr.Open(ctx) }()

	select {
	case <-backend.arrived:
	case <-time.After(waitFor):
		t.Fatal("connect request never reached the server")
	}
	cancel()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitFor):
		t.Fatal("Open ignored cancellation")
	}

	// the session granted after cancellation is released
	close(backend.release)
	require.Eventually(t, func() bool {
		_, disconnected := backend.snapshot()
		return disconnected
	}, waitFor, tick)
	assert.ErrorIs(t, tr.Write(NewDataMessage([]byte(`{}`))), ErrNotConnected)
}
