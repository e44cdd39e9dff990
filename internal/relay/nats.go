// Package relay republishes realtime events onto NATS so other services can consume them.
package relay

import (
	"encoding/json"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/agvwms/realtime"
)

// Publisher is the slice of *nats.Conn the relay uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSRelay is a realtime.Listener publishing each event as JSON on "<prefix>.<event name>".
type NATSRelay struct {
	pub    Publisher
	prefix string
	logger *zap.Logger
}

var _ realtime.Listener = (*NATSRelay)(nil)

func NewNATSRelay(pub Publisher, prefix string, logger *zap.Logger) *NATSRelay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSRelay{
		pub:    pub,
		prefix: strings.Trim(prefix, "."),
		logger: logger.With(zap.String("component", "nats_relay")),
	}
}

// Connect dials NATS and returns a relay publishing on it, plus a function that flushes and
// closes the connection.
func Connect(url, prefix, name string, logger *zap.Logger) (*NATSRelay, func(), error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil && logger != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
	)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "nats connect %s", url)
	}

	closeFn := func() {
		if err := nc.Drain(); err != nil {
			nc.Close()
		}
	}
	return NewNATSRelay(nc, prefix, logger), closeFn, nil
}

// Subject returns the subject event is published on.
func (r *NATSRelay) Subject(event realtime.EventName) string {
	return r.prefix + "." + string(event)
}

// OnEvent publishes ev. Failures are logged and dropped.
func (r *NATSRelay) OnEvent(ev realtime.Event) {
	subject := r.Subject(ev.Name())

	data, err := json.Marshal(ev)
	if err != nil {
		r.logger.Error("cannot encode event", zap.String("subject", subject), zap.Error(err))
		return
	}

	if err := r.pub.Publish(subject, data); err != nil {
		r.logger.Warn("publish failed", zap.String("subject", subject), zap.Error(err))
		return
	}
	r.logger.Debug("event relayed", zap.String("subject", subject), zap.Int("bytes", len(data)))
}
