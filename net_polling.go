package realtime

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"
)

const (
	defaultPollInterval    = time.Second
	defaultPollTimeout     = 30 * time.Second
	defaultPollMaxFailures = 3
	disconnectTimeout      = 5 * time.Second
)

type (
	PollingOptions struct {
		// Interval is the pause between two polls.
		Interval time.Duration
		// Timeout bounds every HTTP round trip.
		Timeout time.Duration
		// MaxFailures is how many consecutive failed polls close the transport.
		MaxFailures int
	}

	// PollingTransport is the request/response fallback used when a websocket cannot be established.
	// The server keeps a session; the client fetches queued envelopes from it and posts its own.
	PollingTransport struct {
		client                   *fasthttp.Client
		openConnectionParamsRepo OpenConnectionParamsRepo
		opts                     PollingOptions
		logger                   logger

		params    OpenConnectionParams
		sessionID string
		opened    atomic.Bool

		recv        chan<- Message
		send        chan Message
		closeChan   CloseChan
		closeOnce   sync.Once
		closeReason error
		closeMu     sync.Mutex
	}
)

func (o PollingOptions) withDefaults() PollingOptions {
	if o.Interval <= 0 {
		o.Interval = defaultPollInterval
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultPollTimeout
	}
	if o.MaxFailures <= 0 {
		o.MaxFailures = defaultPollMaxFailures
	}
	return o
}

func NewPollingTransport(
	client *fasthttp.Client,
	openParamsRepo OpenConnectionParamsRepo,
	logger logger,
	recvChan chan<- Message,
	opts PollingOptions,
) *PollingTransport {
	if client == nil {
		client = &fasthttp.Client{Name: "agv-realtime"}
	}
	return &PollingTransport{
		client:                   client,
		openConnectionParamsRepo: openParamsRepo,
		opts:                     opts.withDefaults(),
		logger:                   logger.WithField("net", "polling_transport"),
		recv:                     recvChan,
		send:                     make(chan Message, 32),
		closeChan:                make(CloseChan),
	}
}

func NewPollingFactory(
	logger logger,
	client *fasthttp.Client,
	openConnectionParamsRepo OpenConnectionParamsRepo,
	opts PollingOptions,
) TransportFactory {
	return func(ctx context.Context, recvChan chan<- Message) Transport {
		return NewPollingTransport(client, openConnectionParamsRepo, logger, recvChan, opts)
	}
}

func (p *PollingTransport) Name() TransportName { return TransportPolling }

// ID is the session id handed out by the server.
func (p *PollingTransport) ID() string { return p.sessionID }

func (p *PollingTransport) CloseChan() CloseChan { return p.closeChan }

func (p *PollingTransport) CloseErr() error {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	return p.closeReason
}

// Open creates a session on the server and starts polling it. When ctx ends before the server
// answers, Open returns at once and a session granted afterwards is released in the background.
func (p *PollingTransport) Open(ctx context.Context) error {
	params, err := p.openConnectionParamsRepo.Get(ctx)
	if err != nil {
		return err
	}
	p.params = params

	answer := make(chan connectAnswer, 1)
	go func() {
		status, body, err := p.do(fasthttp.MethodPost, "/connect", nil)
		answer <- connectAnswer{status: status, body: body, err: err}
	}()

	var a connectAnswer
	select {
	case <-ctx.Done():
		go p.abandon(answer)
		return ctx.Err()
	case a = <-answer:
	}

	sessionID, err := p.handshake(a)
	if err != nil {
		return err
	}

	p.sessionID = sessionID
	p.logger = p.logger.WithField("session_id", p.sessionID)
	if ctx.Err() != nil {
		go p.notifyDisconnect()
		return ctx.Err()
	}

	p.logger.Debugf("session opened on %s", params.URL.String())
	p.opened.Store(true)

	go p.poll(ctx)
	go p.write()

	return nil
}

type connectAnswer struct {
	status int
	body   []byte
	err    error
}

// handshake turns the /connect answer into a session id.
func (p *PollingTransport) handshake(a connectAnswer) (string, error) {
	if a.err != nil {
		p.logger.Errorf("connect to %s failed: %s", p.params.URL.String(), a.err)
		return "", errors.Wrap(ErrCannotConnect, a.err.Error())
	}

	switch {
	case a.status == fasthttp.StatusTooManyRequests:
		return "", errors.Wrap(ErrRateLimit, string(a.body))
	case a.status >= 400 && a.status < 500:
		return "", WrapErrorUnrecoverableConnection(
			errors.Wrapf(ErrCannotConnect, "status %d: %s", a.status, a.body), p.params.URL)
	case a.status != fasthttp.StatusOK:
		return "", errors.Wrapf(ErrCannotConnect, "status %d: %s", a.status, a.body)
	}

	var resp struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(a.body, &resp); err != nil || resp.SessionID == "" {
		return "", errors.Wrapf(ErrCannotConnect, "invalid connect response %q", a.body)
	}
	return resp.SessionID, nil
}

// abandon waits for a /connect that was given up on and ends the session it may have created.
func (p *PollingTransport) abandon(answer <-chan connectAnswer) {
	sessionID, err := p.handshake(<-answer)
	if err != nil {
		return
	}
	p.sessionID = sessionID
	p.logger = p.logger.WithField("session_id", sessionID)
	p.logger.Debugf("releasing session opened after cancellation")
	p.notifyDisconnect()
}

// Write queues a frame; a background sender posts queued frames in order.
func (p *PollingTransport) Write(m Message) error {
	if !p.opened.Load() {
		return ErrNotConnected
	}
	if !m.Type().IsData() {
		// keep-alive frames have no meaning over HTTP
		return nil
	}

	select {
	case p.send <- m:
		return nil
	case <-p.closeChan:
		return ErrConnectionClosed
	}
}

func (p *PollingTransport) write() {
	for {
		select {
		case <-p.closeChan:
			return
		case m := <-p.send:
			p.logger.Debugf("=> [DATA] %s", m.Data())
			status, body, err := p.do(fasthttp.MethodPost, "/send", m.Data())
			if err != nil {
				p.logger.Warnf("send failed: %s", err)
				continue
			}
			if status != fasthttp.StatusOK {
				p.logger.Warnf("send rejected with status %d: %s", status, body)
			}
		}
	}
}

// Close stops polling and tells the server, in the background, that the session is over.
func (p *PollingTransport) Close() {
	p.setCloseReason(ErrTerminated)
	p.closeOnce.Do(func() {
		close(p.closeChan)
		if p.opened.Load() {
			go p.notifyDisconnect()
		}
	})
}

func (p *PollingTransport) notifyDisconnect() {
	if _, _, err := p.doTimeout(fasthttp.MethodPost, "/disconnect", nil, disconnectTimeout); err != nil {
		p.logger.Debugf("disconnect notification failed: %s", err)
	}
}

func (p *PollingTransport) shutdown(reason error) {
	p.setCloseReason(reason)
	p.closeOnce.Do(func() {
		close(p.closeChan)
	})
}

func (p *PollingTransport) setCloseReason(err error) {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	if p.closeReason == nil {
		p.closeReason = err
	}
}

func (p *PollingTransport) poll(ctx context.Context) {
	failures := 0

	for {
		select {
		case <-ctx.Done():
			p.shutdown(ErrTerminated)
			return
		case <-p.closeChan:
			return
		case <-time.After(p.opts.Interval):
		}

		frames, err := p.fetch()
		if err != nil {
			if errors.Is(err, ErrConnectionClosed) {
				p.logger.Infof("session ended by server: %s", err)
				p.shutdown(err)
				return
			}

			failures++
			p.logger.Warnf("poll failed (%d/%d): %s", failures, p.opts.MaxFailures, err)
			if failures >= p.opts.MaxFailures {
				p.shutdown(errors.Wrap(ErrConnectionClosed, err.Error()))
				return
			}
			continue
		}
		failures = 0

		for _, frame := range frames {
			p.logger.Debugf("<= [DATA] %s", frame)
			select {
			case p.recv <- NewDataMessage(frame):
			case <-p.closeChan:
				return
			}
		}
	}
}

func (p *PollingTransport) fetch() ([][]byte, error) {
	status, body, err := p.do(fasthttp.MethodGet, "/poll", nil)
	if err != nil {
		return nil, err
	}

	switch status {
	case fasthttp.StatusOK:
	case fasthttp.StatusNotFound, fasthttp.StatusGone:
		return nil, errors.Wrapf(ErrConnectionClosed, "status %d", status)
	default:
		return nil, errors.Errorf("poll status %d: %s", status, body)
	}

	var frames []json.RawMessage
	if err := json.Unmarshal(body, &frames); err != nil {
		return nil, errors.Wrap(err, "decode poll response")
	}

	out := make([][]byte, 0, len(frames))
	for _, f := range frames {
		out = append(out, []byte(f))
	}
	return out, nil
}

// do performs one round trip against the session endpoint and returns a copy of the body.
func (p *PollingTransport) do(method, endpoint string, body []byte) (int, []byte, error) {
	return p.doTimeout(method, endpoint, body, p.opts.Timeout)
}

func (p *PollingTransport) doTimeout(method, endpoint string, body []byte, timeout time.Duration) (int, []byte, error) {
	u := p.params.URL
	u.Path += endpoint
	if p.sessionID != "" {
		u.RawQuery = url.Values{"sessionId": []string{p.sessionID}}.Encode()
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(u.String())
	req.Header.SetMethod(method)
	for k, values := range p.params.Header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.SetContentType("application/json")
		req.SetBody(body)
	}

	if err := p.client.DoTimeout(req, resp, timeout); err != nil {
		return 0, nil, err
	}

	return resp.StatusCode(), append([]byte(nil), resp.Body()...), nil
}
