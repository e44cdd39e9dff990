package realtime

import (
	"context"
)

type (
	// TransportName selects a transport implementation when negotiating a connection.
	TransportName string

	// Transport is one physical connection to the event server. Inbound frames are pushed to the
	// receive channel handed to its factory; the transport answers keep-alive frames by itself.
	Transport interface {
		// Open performs the handshake. It returns once the transport is usable or has failed.
		Open(ctx context.Context) error
		// Write queues a frame for the server.
		Write(m Message) error
		// Close releases the connection. It is safe to call more than once.
		Close()
		// CloseErr explains why the transport closed, nil if it has not.
		CloseErr() error
		// CloseChan is closed once the transport is no longer usable.
		CloseChan() CloseChan
		// ID identifies the connection once Open has succeeded.
		ID() string
		Name() TransportName
	}

	TransportFactory func(ctx context.Context, recvChan chan<- Message) Transport

	CloseChan chan struct{}
)

const (
	TransportWebSocket TransportName = "websocket"
	TransportPolling   TransportName = "polling"
)
