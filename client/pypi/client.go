package pypi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/cyverse-de/go-mod/restutils"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/salt-extensions/salt-extensions-metadata/logging"
)

var log = logging.Log.WithFields(logrus.Fields{"package": "client.pypi"})

const otelName = "github.com/salt-extensions/salt-extensions-metadata/client/pypi"

// ErrEmptyResponse is returned when PyPI answers 200 with a body that is not a
// JSON object, an empty or null document included.
var ErrEmptyResponse = errors.New("no JSON document")

// ProgressFunc is called once the size of a download is known. The returned
// writer receives a copy of every downloaded byte. total is -1 when unknown.
type ProgressFunc func(total int64) io.Writer

type PyPIClient struct {
	IndexURL       string
	JSONURL        string
	UserAgent      string
	RequestTimeout time.Duration

	httpClient *http.Client
}

type Option func(*PyPIClient)

// WithHTTPClient replaces the instrumented default client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *PyPIClient) { p.httpClient = c }
}

// WithRequestTimeout bounds every per-package request.
func WithRequestTimeout(d time.Duration) Option {
	return func(p *PyPIClient) { p.RequestTimeout = d }
}

// NewTransport builds the pooled transport shared by all lookups. At most
// concurrency connections are opened to a host and keepalive of them are kept
// idle between requests.
func NewTransport(concurrency, keepalive int) http.RoundTripper {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	tr := &http.Transport{
		Proxy:       http.ProxyFromEnvironment,
		DialContext: dialer.DialContext,

		ForceAttemptHTTP2: true,

		MaxConnsPerHost:     concurrency,
		MaxIdleConns:        keepalive,
		MaxIdleConnsPerHost: keepalive,
		IdleConnTimeout:     90 * time.Second,

		TLSHandshakeTimeout: 10 * time.Second,
	}
	return otelhttp.NewTransport(tr)
}

func NewPyPIClient(indexURL, jsonURL, userAgent string, opts ...Option) *PyPIClient {
	c := &PyPIClient{
		IndexURL:       indexURL,
		JSONURL:        jsonURL,
		UserAgent:      userAgent,
		RequestTimeout: 15 * time.Second,
		httpClient:     &http.Client{Transport: NewTransport(100, 5)},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *PyPIClient) packageURL(name string) (string, error) {
	base, err := url.Parse(c.JSONURL)
	if err != nil {
		return "", errors.Wrap(err, "Failed to parse PyPI JSON base URL")
	}
	return base.JoinPath(name, "json").String(), nil
}

func (c *PyPIClient) newRequest(ctx context.Context, uri, etag string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, errors.Wrap(err, "Failed creating request with context")
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	return req, nil
}

// FetchSimpleIndex downloads the simple index into w. When etag matches the
// server's current version nothing is written and NotModified is set.
func (c *PyPIClient) FetchSimpleIndex(ctx context.Context, etag string, w io.Writer, progress ProgressFunc) (IndexResponse, error) {
	ctx, span := otel.Tracer(otelName).Start(ctx, "FetchSimpleIndex")
	defer span.End()

	var ir IndexResponse

	req, err := c.newRequest(ctx, c.IndexURL, etag)
	if err != nil {
		return ir, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ir, errors.Wrap(err, "Failed requesting the simple index")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		ir.NotModified = true
		ir.ETag = etag
		return ir, nil
	}
	if resp.StatusCode != http.StatusOK {
		return ir, restutils.NewHTTPError(resp.StatusCode, fmt.Sprintf("GET %s returned %d", c.IndexURL, resp.StatusCode))
	}

	dst := w
	if progress != nil {
		if pw := progress(resp.ContentLength); pw != nil {
			dst = io.MultiWriter(w, pw)
		}
	}

	n, err := io.Copy(dst, resp.Body)
	if err != nil {
		return ir, errors.Wrap(err, "Failed downloading the simple index")
	}

	ir.ETag = resp.Header.Get("ETag")
	ir.Size = n
	span.SetAttributes(attribute.Int64("index.bytes", n))
	return ir, nil
}

// FetchPackage requests the JSON document of a single project. Non-200
// answers other than 304 come back as a restutils.HTTPError.
func (c *PyPIClient) FetchPackage(ctx context.Context, name, etag string) (PackageResponse, error) {
	var pr PackageResponse

	uri, err := c.packageURL(name)
	if err != nil {
		return pr, err
	}

	if c.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.RequestTimeout)
		defer cancel()
	}

	req, err := c.newRequest(ctx, uri, etag)
	if err != nil {
		return pr, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pr, errors.Wrapf(err, "Failed requesting %s", uri)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		pr.NotModified = true
		pr.ETag = etag
		return pr, nil
	}
	if resp.StatusCode != http.StatusOK {
		return pr, restutils.NewHTTPError(resp.StatusCode, fmt.Sprintf("GET %s returned %d", uri, resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return pr, errors.Wrapf(err, "Failed reading %s", uri)
	}

	if err = json.Unmarshal(body, &pr.Raw); err != nil {
		log.Debugf("Undecodable document for %s: %s", name, err)
		return pr, errors.Wrapf(ErrEmptyResponse, "GET %s: %s", uri, err)
	}
	if len(pr.Raw) == 0 {
		log.Debugf("Empty document for %s: %q", name, body)
		return pr, errors.Wrapf(ErrEmptyResponse, "GET %s", uri)
	}
	if err = json.Unmarshal(body, &pr.Package); err != nil {
		return pr, errors.Wrapf(ErrEmptyResponse, "GET %s: %s", uri, err)
	}

	pr.ETag = resp.Header.Get("ETag")
	return pr, nil
}
