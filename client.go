package realtime

import (
	"net/http"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/valyala/fasthttp"
)

type (
	// Client relays server-pushed events to local listeners and forwards room membership commands.
	// Operations never block on the network and never fail into the caller; outcomes are observed
	// through listeners, ConnectionStatus or a state handler.
	Client interface {
		// Connect opens a connection in the background. It does nothing while a connection
		// is open or being opened.
		Connect()
		// Disconnect closes the connection and stops any reconnection. Listeners are kept.
		Disconnect()
		// JoinRoom asks the server to add this connection to room. Dropped when not connected.
		JoinRoom(room string)
		// LeaveRoom asks the server to remove this connection from room. Dropped when not connected.
		LeaveRoom(room string)
		// AddEventListener subscribes listener to event. Adding the same listener twice has no effect.
		AddEventListener(event EventName, listener Listener)
		// RemoveEventListener unsubscribes listener from event.
		RemoveEventListener(event EventName, listener Listener)
		// ConnectionStatus is a snapshot of the connection.
		ConnectionStatus() Status
	}

	// Status is what ConnectionStatus reports. ConnectionID is empty unless connected.
	Status struct {
		IsConnected  bool   `json:"isConnected"`
		ConnectionID string `json:"connectionId,omitempty"`
	}

	StateHandler func(StateChange)

	Option func(*options)

	options struct {
		logger       logger
		url          string
		header       http.Header
		transports   []TransportName
		factories    map[TransportName]TransportFactory
		dialer       *websocket.Dialer
		httpClient   *fasthttp.Client
		polling      PollingOptions
		pingInterval time.Duration
		reconnect    *ReconnectPolicy
		rejoinRooms  bool
		stateHandler StateHandler
	}
)

func defaultOptions() options {
	return options{
		logger:     noopLogger{},
		url:        DefaultURL,
		header:     make(http.Header),
		transports: []TransportName{TransportWebSocket, TransportPolling},
		factories:  make(map[TransportName]TransportFactory),
	}
}

func WithLogger(l Logger) Option {
	return func(o *options) {
		if l == nil {
			l = noopLogger{}
		}
		o.logger = l
	}
}

// WithURL sets the server base address, e.g. "http://localhost:5000".
func WithURL(url string) Option {
	return func(o *options) {
		o.url = url
	}
}

// WithHeader adds header values sent on every handshake and polling request.
func WithHeader(key, value string) Option {
	return func(o *options) {
		o.header.Add(key, value)
	}
}

// WithTransports sets the negotiation order. The default prefers websocket and falls back to polling.
func WithTransports(names ...TransportName) Option {
	return func(o *options) {
		o.transports = append([]TransportName(nil), names...)
	}
}

// WithTransportFactory replaces the factory used for name.
func WithTransportFactory(name TransportName, factory TransportFactory) Option {
	return func(o *options) {
		o.factories[name] = factory
	}
}

func WithDialer(d *websocket.Dialer) Option {
	return func(o *options) {
		o.dialer = d
	}
}

func WithHTTPClient(c *fasthttp.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

func WithPolling(p PollingOptions) Option {
	return func(o *options) {
		o.polling = p
	}
}

// WithPingInterval makes the websocket transport send a ping every d.
func WithPingInterval(d time.Duration) Option {
	return func(o *options) {
		o.pingInterval = d
	}
}

// WithReconnect enables reconnection with exponential backoff.
func WithReconnect(p ReconnectPolicy) Option {
	return func(o *options) {
		p = p.withDefaults()
		o.reconnect = &p
	}
}

// WithRejoinRooms makes the client remember joined rooms and join them again on every connect.
func WithRejoinRooms() Option {
	return func(o *options) {
		o.rejoinRooms = true
	}
}

// WithStateHandler observes every connection state transition.
func WithStateHandler(h StateHandler) Option {
	return func(o *options) {
		o.stateHandler = h
	}
}
