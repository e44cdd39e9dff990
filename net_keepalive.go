package realtime

import (
	"context"
	"sync"
	"time"
)

type KeepAliveMessageFactory func() Message

// KeepAliveHandlerReplyPingWithPong answers a server ping on t. Other frames are ignored.
func KeepAliveHandlerReplyPingWithPong(t Transport, m Message) error {
	if !m.Type().IsPing() {
		return nil
	}
	return t.Write(NewPongMessage(m.Data()))
}

// activeKeepAliveTransport decorates a Transport so it sends a keep-alive frame every pingInterval
// while open. Proxies that drop idle connections are the usual reason to enable it.
type activeKeepAliveTransport struct {
	Transport
	pingInterval            time.Duration
	keepAliveMessageFactory KeepAliveMessageFactory
	logger                  logger

	closeOnce sync.Once
	closeC    chan struct{}
}

// Open opens the inner transport and, on success, starts the keep-alive routine.
func (h *activeKeepAliveTransport) Open(ctx context.Context) error {
	if err := h.Transport.Open(ctx); err != nil {
		return err
	}

	go h.run(ctx)
	return nil
}

// Close stops the keep-alive routine and closes the inner transport.
func (h *activeKeepAliveTransport) Close() {
	h.closeOnce.Do(func() {
		close(h.closeC)
	})
	h.Transport.Close()
}

func (h *activeKeepAliveTransport) run(ctx context.Context) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.closeC:
			return
		case <-h.Transport.CloseChan():
			return
		case <-ticker.C:
			if err := h.Transport.Write(h.keepAliveMessageFactory()); err != nil {
				h.logger.Warnf("keep-alive write failed: %s", err)
				return
			}
		}
	}
}

func newActiveKeepAliveTransport(
	logger logger,
	t Transport,
	interval time.Duration,
	keepAliveMessageFactory KeepAliveMessageFactory,
) *activeKeepAliveTransport {
	return &activeKeepAliveTransport{
		Transport:               t,
		logger:                  logger,
		pingInterval:            interval,
		keepAliveMessageFactory: keepAliveMessageFactory,
		closeC:                  make(chan struct{}),
	}
}

// NewActiveKeepAliveFactory wraps every transport built by factory with an active keep-alive.
func NewActiveKeepAliveFactory(
	logger logger,
	factory TransportFactory,
	interval time.Duration,
	keepAliveMessageFactory KeepAliveMessageFactory,
) TransportFactory {
	return func(ctx context.Context, recvChan chan<- Message) Transport {
		return newActiveKeepAliveTransport(
			logger.WithField("subtype", "active_keep_alive"),
			factory(ctx, recvChan),
			interval,
			keepAliveMessageFactory,
		)
	}
}

// NewKeepAliveMessageFactory returns a factory that builds keep-alive frames of type mt.
func NewKeepAliveMessageFactory(
	mt MessageType,
	contentFactory func() []byte,
) KeepAliveMessageFactory {
	return func() Message {
		return NewMessage(mt, contentFactory())
	}
}
