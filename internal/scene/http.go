package scene

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"strings"

	"github.com/banshee-data/woodland.report/internal/httputil"
	"github.com/banshee-data/woodland.report/internal/timeutil"
)

// HTTPBackend serves assets from a base URL with HTTP range requests.
// Transient failures are retried with bounded exponential backoff; a read
// that still fails returns an error, never a zero-filled buffer.
type HTTPBackend struct {
	base   string
	client httputil.HTTPClient
	clock  timeutil.Clock
	policy httputil.RetryPolicy
}

// NewHTTPBackend creates a backend rooted at baseURL. A nil clock uses the
// real clock.
func NewHTTPBackend(baseURL string, client httputil.HTTPClient, clock timeutil.Clock, policy httputil.RetryPolicy) *HTTPBackend {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &HTTPBackend{
		base:   strings.TrimSuffix(baseURL, "/"),
		client: client,
		clock:  clock,
		policy: policy,
	}
}

// URL resolves name against the base URL. Absolute URLs are returned as is.
func (b *HTTPBackend) URL(name string) string {
	if u, err := url.Parse(name); err == nil && u.Scheme != "" {
		return name
	}
	return b.base + "/" + url.PathEscape(strings.TrimPrefix(name, "./"))
}

// Open returns an asset whose reads are bound to ctx.
func (b *HTTPBackend) Open(ctx context.Context, name string) (Asset, error) {
	return &httpAsset{ctx: ctx, b: b, url: b.URL(name)}, nil
}

// ReadFile fetches name in full.
func (b *HTTPBackend) ReadFile(ctx context.Context, name string) ([]byte, error) {
	u := b.URL(name)
	var data []byte
	err := httputil.Retry(ctx, b.clock, b.policy, func(ctx context.Context) error {
		var err error
		data, err = httputil.GetAll(ctx, b.client, u)
		return err
	})
	if err != nil {
		return nil, notFound(err)
	}
	return data, nil
}

type httpAsset struct {
	ctx context.Context
	b   *HTTPBackend
	url string
}

func (a *httpAsset) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	err := httputil.Retry(a.ctx, a.b.clock, a.b.policy, func(ctx context.Context) error {
		data, err := httputil.GetRange(ctx, a.b.client, a.url, off, int64(len(p)))
		if err != nil {
			return err
		}
		copy(p, data)
		return nil
	})
	if err != nil {
		return 0, notFound(err)
	}
	return len(p), nil
}

func (a *httpAsset) Close() error { return nil }

// notFound maps a 404 onto fs.ErrNotExist so callers can treat remote and
// local missing layers alike.
func notFound(err error) error {
	var se *httputil.StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", fs.ErrNotExist, se.URL)
	}
	return err
}
