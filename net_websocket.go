package realtime

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const writeWait = time.Second

type (
	ErrAdapter func(*websocket.Conn, *http.Response, error) error

	ErrorAdapters struct {
		OnDial ErrAdapter
	}

	// WebSocketTransport is the preferred, persistent streaming transport.
	WebSocketTransport struct {
		errAdapters              ErrorAdapters
		openConnectionParamsRepo OpenConnectionParamsRepo
		logger                   logger
		dialer                   *websocket.Dialer
		conn                     *websocket.Conn
		id                       string
		opened                   atomic.Bool
		closeChan                CloseChan
		closeOnce                sync.Once
		closeReason              error
		closeReasonMu            sync.Mutex
		recv                     chan<- Message // recv messages received over the wire
		send                     chan Message   // send messages to be sent over the wire
	}
)

func NewWebSocketTransport(
	dialer *websocket.Dialer,
	openParamsRepo OpenConnectionParamsRepo,
	logger logger,
	recvChan chan<- Message,
	errorHandlers ErrorAdapters,
) *WebSocketTransport {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &WebSocketTransport{
		errAdapters:              errorHandlers,
		dialer:                   dialer,
		openConnectionParamsRepo: openParamsRepo,
		recv:                     recvChan,
		send:                     make(chan Message),
		closeChan:                make(CloseChan),
		logger:                   logger.WithField("net", "ws_transport"),
	}
}

func NewWebSocketFactory(
	logger logger,
	dialer *websocket.Dialer,
	openConnectionParamsRepo OpenConnectionParamsRepo,
	errorHandlers ErrorAdapters,
) TransportFactory {
	return func(ctx context.Context, recvChan chan<- Message) Transport {
		return NewWebSocketTransport(
			dialer,
			openConnectionParamsRepo,
			logger,
			recvChan,
			errorHandlers,
		)
	}
}

func (w *WebSocketTransport) Name() TransportName { return TransportWebSocket }

// ID is a client generated identifier, assigned once the handshake succeeds.
func (w *WebSocketTransport) ID() string { return w.id }

// Write queues m for the writer goroutine. It fails once the transport is closed.
func (w *WebSocketTransport) Write(m Message) error {
	if !w.opened.Load() {
		return ErrNotConnected
	}

	select {
	case w.send <- m:
		return nil
	case <-w.closeChan:
		return ErrConnectionClosed
	}
}

// Close sends a normal closure frame and releases the connection. Safe to call more than once.
func (w *WebSocketTransport) Close() {
	w.setCloseReason(ErrTerminated)
	w.safeClose()
}

// Open dials the server. It returns when the handshake completes or fails; reading and writing
// continue in the background until Close or a network error.
func (w *WebSocketTransport) Open(ctx context.Context) error {
	p, err := w.openConnectionParamsRepo.Get(ctx)
	if err != nil {
		return err
	}

	conn, resp, err := w.dialer.DialContext(ctx, p.URL.String(), p.Header)
	if err = w.handleDialError(conn, resp, err, p); err != nil {
		w.logger.Errorf("dial %s: %s", p.URL.String(), err)
		return err
	}

	w.conn = conn
	w.id = uuid.NewString()
	w.logger = w.logger.WithField("conn_id", w.id)
	w.logger.Debugf("handshake with %s done", p.URL.String())

	conn.SetPingHandler(func(appData string) error {
		w.logger.Debugln("<= [PING]")
		return KeepAliveHandlerReplyPingWithPong(w, NewPingMessage([]byte(appData)))
	})
	conn.SetPongHandler(func(string) error {
		w.logger.Debugln("<= [PONG]")
		return nil
	})

	w.opened.Store(true)

	go w.readLoop()
	go w.writeLoop()

	return nil
}

func (w *WebSocketTransport) CloseChan() CloseChan {
	return w.closeChan
}

func (w *WebSocketTransport) CloseErr() error {
	w.closeReasonMu.Lock()
	defer w.closeReasonMu.Unlock()
	return w.closeReason
}

// deliver hands an inbound frame to the client unless the transport is going away.
func (w *WebSocketTransport) deliver(m Message) bool {
	select {
	case w.recv <- m:
		return true
	case <-w.closeChan:
		return false
	}
}

func (w *WebSocketTransport) readLoop() {
	defer w.safeClose()

	for {
		kind, bts, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				w.logger.Infof("closed by server: %s", err)
				w.setCloseReason(ErrConnectionClosed)
			} else {
				w.logger.Errorf("read failed: %s", err)
				w.setCloseReason(errors.Wrap(ErrConnectionClosed, "read: "+err.Error()))
			}
			return
		}

		m := NewDataMessage(bts)
		if kind == websocket.BinaryMessage {
			w.logger.Debugln("<= [BIN]")
			m = NewMessage(BinaryMessage, bts)
		} else {
			w.logger.Debugf("<= [DATA] %s", bts)
		}

		if !w.deliver(m) {
			return
		}
	}
}

func (w *WebSocketTransport) writeLoop() {
	defer w.safeClose()

	for {
		select {
		case <-w.closeChan:
			return
		case m := <-w.send:
			if err := w.writeFrame(m); err != nil {
				if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					w.setCloseReason(ErrConnectionClosed)
				} else {
					w.setCloseReason(errors.Wrap(ErrConnectionClosed, "write: "+err.Error()))
				}
				return
			}
		}
	}
}

func (w *WebSocketTransport) writeFrame(m Message) error {
	deadline := time.Now().Add(writeWait)
	_ = w.conn.SetWriteDeadline(deadline)

	switch m.Type() {
	case PingMessage:
		w.logger.Debugln("=> [PING]")
		err := w.conn.WriteControl(websocket.PingMessage, m.Data(), deadline)
		// a ping that times out is retried on the next tick
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil
		}
		return err
	case PongMessage:
		w.logger.Debugln("=> [PONG]")
		return w.conn.WriteControl(websocket.PongMessage, m.Data(), deadline)
	case BinaryMessage:
		w.logger.Debugln("=> [BIN]")
		return w.conn.WriteMessage(websocket.BinaryMessage, m.Data())
	default:
		w.logger.Debugf("=> [DATA] %s", m.Data())
		return w.conn.WriteMessage(websocket.TextMessage, m.Data())
	}
}

func (w *WebSocketTransport) safeClose() {
	w.closeOnce.Do(w.close)
}

func (w *WebSocketTransport) close() {
	close(w.closeChan)
	if w.conn == nil {
		return
	}
	_ = w.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
	_ = w.conn.Close()
}

func (w *WebSocketTransport) setCloseReason(err error) {
	w.closeReasonMu.Lock()
	defer w.closeReasonMu.Unlock()
	if w.closeReason == nil {
		w.closeReason = err
	}
}

func (w *WebSocketTransport) handleDialError(
	conn *websocket.Conn,
	resp *http.Response,
	err error,
	p OpenConnectionParams,
) error {
	if w.errAdapters.OnDial != nil {
		return w.errAdapters.OnDial(conn, resp, err)
	}

	if err == nil {
		return nil
	}

	if resp == nil {
		return errors.Wrap(ErrCannotConnect, err.Error())
	}

	var body string
	if resp.Body != nil {
		if bts, readErr := io.ReadAll(resp.Body); readErr == nil {
			body = string(bts)
		}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return errors.Wrap(ErrRateLimit, body)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return WrapErrorUnrecoverableConnection(errors.Wrapf(ErrCannotConnect, "%s %s", resp.Status, body), p.URL)
	default:
		return errors.Wrapf(ErrCannotConnect, "%s: %s", err, resp.Status)
	}
}
