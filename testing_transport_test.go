package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// mockTransport is driven by the test: push feeds inbound envelopes, drop simulates a network
// failure and writes records what the client sent.
type mockTransport struct {
	mock.Mock

	id        string
	recv      chan<- Message
	closeC    CloseChan
	closeOnce sync.Once

	mu       sync.Mutex
	closeErr error
	writes   []Message
	closed   bool
}

func newMockTransport(id string, recv chan<- Message) *mockTransport {
	return &mockTransport{id: id, recv: recv, closeC: make(CloseChan)}
}

func (m *mockTransport) Open(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockTransport) Write(msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrConnectionClosed
	}
	m.writes = append(m.writes, msg)
	return nil
}

func (m *mockTransport) Close() { m.drop(ErrTerminated) }

func (m *mockTransport) CloseErr() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeErr
}

func (m *mockTransport) CloseChan() CloseChan { return m.closeC }

func (m *mockTransport) ID() string { return m.id }

func (m *mockTransport) Name() TransportName { return "mock" }

func (m *mockTransport) drop(reason error) {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.closeErr = reason
		m.mu.Unlock()
		close(m.closeC)
	})
}

func (m *mockTransport) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockTransport) push(t *testing.T, name EventName, data any) {
	t.Helper()
	msg, err := NewEnvelopeMessage(name, data)
	require.NoError(t, err)
	m.recv <- msg
}

func (m *mockTransport) pushRaw(raw string) {
	m.recv <- NewDataMessage([]byte(raw))
}

// sent returns the envelopes written so far.
func (m *mockTransport) sent(t *testing.T) []Envelope {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Envelope, 0, len(m.writes))
	for _, w := range m.writes {
		env, err := ParseEnvelope(w)
		require.NoError(t, err)
		out = append(out, env)
	}
	return out
}

// mockTransportFactory builds mockTransports. Open results are consumed in order; once exhausted
// every Open succeeds.
type mockTransportFactory struct {
	mu       sync.Mutex
	openErrs []error
	created  []*mockTransport
}

func (f *mockTransportFactory) factory() TransportFactory {
	return func(ctx context.Context, recv chan<- Message) Transport {
		f.mu.Lock()
		defer f.mu.Unlock()

		t := newMockTransport(fmt.Sprintf("conn-%d", len(f.created)+1), recv)
		var err error
		if len(f.openErrs) > 0 {
			err, f.openErrs = f.openErrs[0], f.openErrs[1:]
		}
		t.On("Open", mock.Anything).Return(err)
		f.created = append(f.created, t)
		return t
	}
}

func (f *mockTransportFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func (f *mockTransportFactory) last() *mockTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.created) == 0 {
		return nil
	}
	return f.created[len(f.created)-1]
}

func (f *mockTransportFactory) get(i int) *mockTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[i]
}

func rawJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	bts, err := json.Marshal(v)
	require.NoError(t, err)
	return bts
}
