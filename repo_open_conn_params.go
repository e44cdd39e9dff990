package realtime

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

const (
	// DefaultURL is where the AGV backend serves its event stream. The server must speak the
	// {"event","data"} JSON envelope protocol on /socket/ws and /socket; Socket.IO framing is not understood.
	DefaultURL = "http://localhost:5000"

	socketPath    = "/socket"
	webSocketPath = socketPath + "/ws"
)

type (
	OpenConnectionParams struct {
		URL    url.URL
		Header http.Header
	}

	OpenConnectionParamsGetter func(ctx context.Context) (OpenConnectionParams, error)

	// OpenConnectionParamsRepo resolves where and how a transport connects, right before each dial.
	OpenConnectionParamsRepo struct {
		logger logger
		getter OpenConnectionParamsGetter
	}
)

func (r OpenConnectionParamsRepo) Get(
	ctx context.Context,
) (params OpenConnectionParams, err error) {
	params, err = r.getter(ctx)
	if err != nil {
		r.logger.Errorf("cannot fetch open connection params: %s", err)
	}
	return
}

func NewOpenConnectionParamsRepo(
	logger logger,
	getter OpenConnectionParamsGetter,
) OpenConnectionParamsRepo {
	return OpenConnectionParamsRepo{getter: getter, logger: logger}
}

// NewStaticOpenConnectionParamsRepo always resolves to u and a copy of header.
func NewStaticOpenConnectionParamsRepo(logger logger, u url.URL, header http.Header) OpenConnectionParamsRepo {
	return NewOpenConnectionParamsRepo(logger, func(context.Context) (OpenConnectionParams, error) {
		return OpenConnectionParams{URL: u, Header: header.Clone()}, nil
	})
}

// parseBaseURL validates the server address handed to the client.
func parseBaseURL(raw string) (url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return url.URL{}, errors.Wrapf(err, "parse server url %q", raw)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return url.URL{}, errors.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return url.URL{}, errors.Errorf("server url %q has no host", raw)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	return *u, nil
}

// webSocketURL maps the base address to the streaming endpoint.
func webSocketURL(base url.URL) url.URL {
	u := base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = base.Path + webSocketPath
	return u
}

// pollingURL maps the base address to the root of the polling endpoints.
func pollingURL(base url.URL) url.URL {
	u := base
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	case "ws":
		u.Scheme = "http"
	}
	u.Path = base.Path + socketPath
	return u
}
