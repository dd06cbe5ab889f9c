// Package transport implements the small HTTP/1.1 subset spoken by update servers.
//
// Every request opens its own connection and asks the server to close it once the response has
// been sent. The response body is read directly from that connection, nothing is buffered beyond
// a small read buffer. Chunked transfer encoding is not supported.
package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

var (
	ErrTransport           = errors.New("transport error")
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
	ErrMalformedResponse   = errors.New("malformed response")
	ErrUnsupportedEncoding = errors.New("unsupported encoding")
	ErrUnsupportedRedirect = errors.New("unsupported redirect")
	ErrTooManyRedirects    = errors.New("too many redirects")
	ErrResponseTooLarge    = errors.New("response too large")
	ErrUnexpectedStatus    = errors.New("unexpected status")
)

const (
	defaultMaxRedirects = 5
	readBufferSize      = 1024
	// AcceptEncoding lists the content encodings newBody can decode. It is sent by default.
	AcceptEncoding = "gzip, zstd"
)

// Dialer opens stream connections, *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Client issues requests against update servers. It keeps no connection state between calls.
type Client struct {
	dialer       Dialer
	tlsConfig    *tls.Config
	timeout      time.Duration
	maxRedirects int
	header       map[string]string
}

// Option configures a Client.
type Option func(*Client)

// NewClient creates a Client with the provided options.
func NewClient(options ...Option) *Client {
	c := &Client{
		dialer:       &net.Dialer{},
		maxRedirects: defaultMaxRedirects,
		header:       map[string]string{"Accept-Encoding": AcceptEncoding},
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// WithDialer replaces the dialer used to open connections.
func WithDialer(d Dialer) Option {
	return func(c *Client) {
		c.dialer = d
	}
}

// WithTLSConfig sets the configuration used for https URLs.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *Client) {
		c.tlsConfig = cfg
	}
}

// WithTimeout bounds dialing and every single read or write on the connection.
// Zero disables the timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithMaxRedirects sets how many redirects a single call follows.
func WithMaxRedirects(n int) Option {
	return func(c *Client) {
		c.maxRedirects = n
	}
}

// WithHeader adds a header that is sent with every request.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.header[key] = value
	}
}

// Request describes a single request.
type Request struct {
	Method string
	URL    string
	Header map[string]string
	Body   []byte
	// Timeout overrides the client timeout if it is positive.
	Timeout time.Duration
}

// Get fetches rawURL.
func (c *Client) Get(ctx context.Context, rawURL string) (*Response, error) {
	return c.Do(ctx, &Request{Method: "GET", URL: rawURL})
}

// Fetch opens the body of rawURL as a stream. Responses other than 2xx fail with ErrUnexpectedStatus.
func (c *Client) Fetch(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	resp, err := c.Get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		_ = resp.Close()
		return nil, fmt.Errorf("%w: %d %s from %s", ErrUnexpectedStatus, resp.StatusCode, resp.Reason, resp.URL)
	}
	return resp.Body, nil
}

// Do sends the request and returns the response of the final hop.
// The caller owns the response and has to close it.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	method, body, current := req.Method, req.Body, req.URL
	if method == "" {
		method = "GET"
	}
	timeout := c.timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	for hop := 0; ; hop++ {
		t, err := parseTarget(current)
		if err != nil {
			return nil, err
		}
		resp, location, err := c.roundTrip(ctx, method, t, req.Header, body, timeout)
		if err != nil {
			return nil, err
		}
		if location == "" {
			resp.URL = current
			return resp, nil
		}
		if hop >= c.maxRedirects {
			return nil, fmt.Errorf("%w: stopped after %d redirects at %s", ErrTooManyRedirects, hop, current)
		}
		next, err := resolveLocation(current, location)
		if err != nil {
			return nil, err
		}
		switch resp.StatusCode {
		case 301, 302, 303:
			method, body = "GET", nil
		}
		log.Debugf("following %d redirect from %s to %s", resp.StatusCode, current, next)
		current = next
	}
}

type target struct {
	scheme     string
	host       string
	port       string
	hostHeader string
	requestURI string
}

func (t target) address() string {
	return net.JoinHostPort(t.host, t.port)
}

func parseTarget(rawURL string) (target, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return target{}, fmt.Errorf("%w: invalid url %q: %w", ErrUnsupportedProtocol, rawURL, err)
	}
	t := target{
		scheme:     strings.ToLower(u.Scheme),
		host:       u.Hostname(),
		port:       u.Port(),
		hostHeader: u.Host,
		requestURI: u.RequestURI(),
	}
	switch t.scheme {
	case "http":
		if t.port == "" {
			t.port = "80"
		}
	case "https":
		if t.port == "" {
			t.port = "443"
		}
	default:
		return target{}, fmt.Errorf("%w: %q", ErrUnsupportedProtocol, u.Scheme)
	}
	if t.host == "" {
		return target{}, fmt.Errorf("%w: missing host in %q", ErrUnsupportedProtocol, rawURL)
	}
	return t, nil
}

func resolveLocation(current, location string) (string, error) {
	base, err := url.Parse(current)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("%w: invalid location %q: %w", ErrMalformedResponse, location, err)
	}
	return base.ResolveReference(ref).String(), nil
}

func (c *Client) dial(ctx context.Context, t target, timeout time.Duration) (net.Conn, error) {
	dialCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	conn, err := c.dialer.DialContext(dialCtx, "tcp", t.address())
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrTransport, t.address(), err)
	}
	if t.scheme == "https" {
		cfg := &tls.Config{}
		if c.tlsConfig != nil {
			cfg = c.tlsConfig.Clone()
		}
		if cfg.ServerName == "" {
			cfg.ServerName = t.host
		}
		tlsConn := tls.Client(conn, cfg)
		if err := tlsConn.HandshakeContext(dialCtx); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("%w: tls handshake with %s: %w", ErrTransport, t.address(), err)
		}
		conn = tlsConn
	}
	if timeout > 0 {
		conn = &deadlineConn{Conn: conn, timeout: timeout}
	}
	return conn, nil
}

// roundTrip performs exactly one request. If the server redirects, the connection is closed and
// the location is returned together with a body-less response.
func (c *Client) roundTrip(ctx context.Context, method string, t target, header map[string]string, body []byte, timeout time.Duration) (resp *Response, location string, err error) {
	conn, err := c.dial(ctx, t, timeout)
	if err != nil {
		return nil, "", err
	}
	defer func() {
		if err != nil || location != "" {
			_ = conn.Close()
		}
	}()
	log.Debugf("%s %s://%s%s", method, t.scheme, t.hostHeader, t.requestURI)
	if err = c.writeRequest(conn, method, t, header, body); err != nil {
		return nil, "", fmt.Errorf("%w: write request: %w", ErrTransport, err)
	}
	br := bufio.NewReaderSize(conn, readBufferSize)
	resp, location, err = readResponseHead(br)
	if err != nil {
		return nil, "", err
	}
	if location != "" {
		return resp, location, nil
	}
	resp.Body, err = newBody(br, conn, resp.Header)
	if err != nil {
		return nil, "", err
	}
	return resp, "", nil
}

func (c *Client) writeRequest(w io.Writer, method string, t target, header map[string]string, body []byte) error {
	bw := bufio.NewWriter(w)
	_, _ = fmt.Fprintf(bw, "%s %s HTTP/1.1\r\n", method, t.requestURI)
	_, _ = fmt.Fprintf(bw, "Host: %s\r\n", t.hostHeader)
	merged := make(map[string]string, len(c.header)+len(header))
	for k, v := range c.header {
		merged[k] = v
	}
	for k, v := range header {
		merged[k] = v
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		switch strings.ToLower(k) {
		case "host", "connection", "content-length":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		_, _ = fmt.Fprintf(bw, "%s: %s\r\n", k, merged[k])
	}
	if body != nil {
		_, _ = fmt.Fprintf(bw, "Content-Length: %d\r\n", len(body))
	}
	_, _ = bw.WriteString("Connection: close\r\n\r\n")
	if body != nil {
		_, _ = bw.Write(body)
	}
	return bw.Flush()
}

// deadlineConn refreshes the deadline before every read and write.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (d *deadlineConn) Read(p []byte) (int, error) {
	if err := d.Conn.SetReadDeadline(time.Now().Add(d.timeout)); err != nil {
		return 0, err
	}
	return d.Conn.Read(p)
}

func (d *deadlineConn) Write(p []byte) (int, error) {
	if err := d.Conn.SetWriteDeadline(time.Now().Add(d.timeout)); err != nil {
		return 0, err
	}
	return d.Conn.Write(p)
}

func parseContentLength(header map[string]string) (int64, bool, error) {
	v, ok := header["Content-Length"]
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n < 0 {
		return 0, false, fmt.Errorf("%w: invalid Content-Length %q", ErrMalformedResponse, v)
	}
	return n, true, nil
}
