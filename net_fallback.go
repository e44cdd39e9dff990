package realtime

import (
	"context"

	"github.com/pkg/errors"
)

type namedFactory struct {
	name    TransportName
	factory TransportFactory
}

// openFirst tries each factory in order and returns the first transport whose handshake succeeds.
// Transports that fail are closed before moving on; their errors are collected in an *OpenError.
func openFirst(
	ctx context.Context,
	logger logger,
	factories []namedFactory,
	recv chan<- Message,
) (Transport, error) {
	if len(factories) == 0 {
		return nil, errors.Wrap(ErrNoTransport, "no transports configured")
	}

	failed := &OpenError{}
	for _, f := range factories {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		t := f.factory(ctx, recv)
		if err := t.Open(ctx); err != nil {
			t.Close()
			logger.Warnf("%s transport unavailable: %s", f.name, err)
			failed.Errs = append(failed.Errs, errors.WithMessage(err, string(f.name)))
			continue
		}

		logger.Infof("connected using %s transport", f.name)
		return t, nil
	}

	return nil, failed
}
