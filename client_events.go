package realtime

import (
	"context"
	"encoding/json"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const recvBufferSize = 64

// EventClient is the Client implementation. Create one per server at startup and hand it to the
// components that need it.
type EventClient struct {
	opts      options
	logger    logger
	factories []namedFactory
	registry  *listenerRegistry

	mu      sync.Mutex
	state   ConnectionState
	session *session
	rooms   map[string]struct{}
}

// session is one Connect call: the transports it opens, including reconnections, until Disconnect
// or until it gives up. Goroutines of a session that is no longer current must not touch the client.
type session struct {
	cancel    context.CancelFunc
	transport Transport
	connID    string
}

var _ Client = (*EventClient)(nil)

// New builds a disconnected client. It only fails on invalid options.
func New(opts ...Option) (*EventClient, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	c := &EventClient{
		opts:   o,
		logger: o.logger.WithField("component", "event_client"),
		rooms:  make(map[string]struct{}),
	}
	c.registry = newListenerRegistry(o.logger)

	factories, err := c.buildFactories()
	if err != nil {
		return nil, err
	}
	c.factories = factories

	return c, nil
}

func (c *EventClient) buildFactories() ([]namedFactory, error) {
	var (
		base      url.URL
		parsed    bool
		factories = make([]namedFactory, 0, len(c.opts.transports))
	)

	for _, name := range c.opts.transports {
		if f, ok := c.opts.factories[name]; ok {
			factories = append(factories, namedFactory{name: name, factory: f})
			continue
		}

		if !parsed {
			u, err := parseBaseURL(c.opts.url)
			if err != nil {
				return nil, err
			}
			base, parsed = u, true
		}

		switch name {
		case TransportWebSocket:
			f := NewWebSocketFactory(
				c.opts.logger,
				c.opts.dialer,
				NewStaticOpenConnectionParamsRepo(c.opts.logger, webSocketURL(base), c.opts.header),
				ErrorAdapters{},
			)
			if c.opts.pingInterval > 0 {
				f = NewActiveKeepAliveFactory(
					c.opts.logger,
					f,
					c.opts.pingInterval,
					NewKeepAliveMessageFactory(PingMessage, func() []byte { return nil }),
				)
			}
			factories = append(factories, namedFactory{name: name, factory: f})
		case TransportPolling:
			factories = append(factories, namedFactory{name: name, factory: NewPollingFactory(
				c.opts.logger,
				c.opts.httpClient,
				NewStaticOpenConnectionParamsRepo(c.opts.logger, pollingURL(base), c.opts.header),
				c.opts.polling,
			)})
		default:
			return nil, errors.Errorf("unknown transport %q", name)
		}
	}

	if len(factories) == 0 {
		return nil, errors.Wrap(ErrNoTransport, "no transports configured")
	}
	return factories, nil
}

func (c *EventClient) Connect() {
	c.mu.Lock()
	if c.session != nil {
		state := c.state
		c.mu.Unlock()
		c.logger.Debugf("connect ignored, client is %s", state)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{cancel: cancel}
	c.session = s
	change, changed := c.transitionLocked(StateConnecting, nil)
	c.mu.Unlock()

	c.notify(change, changed)

	go c.run(ctx, s)
}

func (c *EventClient) Disconnect() {
	c.mu.Lock()
	s := c.session
	if s == nil {
		c.mu.Unlock()
		return
	}
	c.session = nil
	t := s.transport
	s.transport = nil
	s.connID = ""
	change, changed := c.transitionLocked(StateDisconnected, nil)
	c.mu.Unlock()

	s.cancel()
	if t != nil {
		t.Close()
	}
	c.logger.Infof("disconnected")
	c.notify(change, changed)
}

func (c *EventClient) JoinRoom(room string) {
	if c.opts.rejoinRooms {
		c.mu.Lock()
		c.rooms[room] = struct{}{}
		c.mu.Unlock()
	}
	c.Emit(CommandJoinRoom, roomCommand{Room: room})
}

func (c *EventClient) LeaveRoom(room string) {
	if c.opts.rejoinRooms {
		c.mu.Lock()
		delete(c.rooms, room)
		c.mu.Unlock()
	}
	c.Emit(CommandLeaveRoom, roomCommand{Room: room})
}

// Emit sends an arbitrary command to the server. Like JoinRoom it is best effort: when the client
// is not connected the command is dropped without error.
func (c *EventClient) Emit(name EventName, data any) {
	c.mu.Lock()
	var t Transport
	if c.session != nil && c.state == StateConnected {
		t = c.session.transport
	}
	c.mu.Unlock()

	if t == nil {
		c.logger.Debugf("dropping %s, not connected", name)
		return
	}

	m, err := NewEnvelopeMessage(name, data)
	if err != nil {
		c.logger.Errorf("cannot encode %s: %s", name, err)
		return
	}

	if err := t.Write(m); err != nil {
		c.logger.Warnf("cannot send %s: %s", name, err)
	}
}

func (c *EventClient) AddEventListener(event EventName, listener Listener) {
	if !isDomainEvent(event) {
		c.logger.Warnf("listener added for %s, which is never dispatched", event)
	}
	if c.registry.On(event, listener) {
		c.logger.Debugf("%d listener(s) for %s", c.registry.Len(event), event)
	}
}

func (c *EventClient) RemoveEventListener(event EventName, listener Listener) {
	c.registry.Off(event, listener)
	c.logger.Debugf("%d listener(s) for %s", c.registry.Len(event), event)
}

func (c *EventClient) ConnectionStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{IsConnected: c.state == StateConnected}
	if st.IsConnected && c.session != nil {
		st.ConnectionID = c.session.connID
	}
	return st
}

func (c *EventClient) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *EventClient) run(ctx context.Context, s *session) {
	attempts := 0

	for {
		recv := make(chan Message, recvBufferSize)

		t, err := openFirst(ctx, c.logger, c.factories, recv)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			var openErr *OpenError
			if errors.As(err, &openErr) && openErr.Unrecoverable() {
				c.logger.Errorf("not reconnecting: %s", err)
				c.end(s, err)
				return
			}
			attempts++
			if !c.retry(ctx, s, attempts, err) {
				return
			}
			continue
		}

		connectedAt := time.Now()
		if !c.attach(s, t) {
			t.Close()
			return
		}

		cause := c.pump(ctx, s, t, recv)
		t.Close()

		if ctx.Err() != nil {
			return
		}
		if !c.detach(s) {
			return
		}

		c.logger.Warnf("connection lost: %s", cause)
		if errors.Is(cause, ErrServerDisconnect) {
			c.end(s, cause)
			return
		}

		if c.opts.reconnect != nil && time.Since(connectedAt) >= c.opts.reconnect.StableAfter {
			attempts = 0
		}
		attempts++
		if !c.retry(ctx, s, attempts, cause) {
			return
		}
	}
}

// retry waits out the backoff for the given attempt. It reports false, after ending the session,
// when reconnection is disabled or exhausted.
func (c *EventClient) retry(ctx context.Context, s *session, attempts int, cause error) bool {
	if c.opts.reconnect == nil {
		c.end(s, cause)
		return false
	}

	delay, ok := c.opts.reconnect.next(attempts)
	if !ok {
		c.logger.Errorf("giving up after %d attempts: %s", attempts-1, cause)
		c.end(s, cause)
		return false
	}

	c.mu.Lock()
	if c.session != s {
		c.mu.Unlock()
		return false
	}
	change, changed := c.transitionLocked(StateDisconnected, cause)
	c.mu.Unlock()
	c.notify(change, changed)

	c.logger.Infof("reconnecting in %s (attempt %d)", delay, attempts)

	timer := time.NewTimer(delay)
	select {
	case <-ctx.Done():
		timer.Stop()
		return false
	case <-timer.C:
	}

	c.mu.Lock()
	if c.session != s {
		c.mu.Unlock()
		return false
	}
	change, changed = c.transitionLocked(StateConnecting, nil)
	c.mu.Unlock()
	c.notify(change, changed)

	return true
}

// end drops the session without a user Disconnect.
func (c *EventClient) end(s *session, cause error) {
	c.mu.Lock()
	if c.session != s {
		c.mu.Unlock()
		return
	}
	c.session = nil
	change, changed := c.transitionLocked(StateDisconnected, cause)
	c.mu.Unlock()

	s.cancel()
	c.notify(change, changed)
}

func (c *EventClient) attach(s *session, t Transport) bool {
	c.mu.Lock()
	if c.session != s {
		c.mu.Unlock()
		return false
	}
	s.transport = t
	s.connID = t.ID()
	change, changed := c.transitionLocked(StateConnected, nil)
	rooms := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
	}
	c.mu.Unlock()

	c.logger.Infof("connected via %s as %s", t.Name(), t.ID())
	c.notify(change, changed)

	for _, room := range rooms {
		c.Emit(CommandJoinRoom, roomCommand{Room: room})
	}
	return true
}

func (c *EventClient) detach(s *session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != s {
		return false
	}
	s.transport = nil
	s.connID = ""
	return true
}

func (c *EventClient) isCurrent(s *session, t Transport) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session == s && s.transport == t
}

// pump handles inbound frames in arrival order until the transport closes or the session is cancelled.
func (c *EventClient) pump(ctx context.Context, s *session, t Transport, recv <-chan Message) error {
	for {
		select {
		case <-ctx.Done():
			return ErrTerminated
		case m := <-recv:
			if err := c.handleFrame(s, t, m); err != nil {
				return err
			}
		case <-t.CloseChan():
			// frames already delivered keep their place in line
			for {
				select {
				case m := <-recv:
					if err := c.handleFrame(s, t, m); err != nil {
						return err
					}
				default:
					if err := t.CloseErr(); err != nil {
						return err
					}
					return ErrConnectionClosed
				}
			}
		}
	}
}

// handleFrame decodes one inbound frame and dispatches it. A non-nil error ends the connection.
func (c *EventClient) handleFrame(s *session, t Transport, m Message) error {
	if !m.Type().IsData() {
		return nil
	}

	env, err := ParseEnvelope(m)
	if err != nil {
		c.logger.Warnf("dropping frame: %s", err)
		return nil
	}

	switch env.Event {
	case EventConnect:
		var notice connectNotice
		if len(env.Data) > 0 && json.Unmarshal(env.Data, &notice) == nil && notice.SID != "" {
			c.mu.Lock()
			if c.session == s && s.transport == t {
				s.connID = notice.SID
			}
			c.mu.Unlock()
		}
		return nil
	case EventDisconnect:
		return ErrServerDisconnect
	}

	ev, err := DecodeEvent(env.Event, env.Data)
	if err != nil {
		if errors.Is(err, ErrUnknownEvent) {
			c.logger.Debugf("ignoring %s", err)
		} else {
			c.logger.Warnf("dropping %s: %s", env.Event, err)
		}
		return nil
	}

	if notice, ok := ev.(StatusNotice); ok {
		c.logger.Infof("server status: %s", notice.Message)
		return nil
	}

	if !c.isCurrent(s, t) {
		return nil
	}
	c.registry.Emit(ev)
	return nil
}

func (c *EventClient) transitionLocked(next ConnectionState, cause error) (StateChange, bool) {
	if c.state == next {
		return StateChange{}, false
	}
	change := StateChange{Old: c.state, New: next, Err: cause}
	c.state = next
	return change, true
}

func (c *EventClient) notify(change StateChange, changed bool) {
	if !changed || c.opts.stateHandler == nil {
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Errorf("state handler panicked on %s -> %s: %v", change.Old, change.New, rec)
		}
	}()
	c.opts.stateHandler(change)
}

func isDomainEvent(name EventName) bool {
	return slices.Contains(DomainEvents, name)
}
