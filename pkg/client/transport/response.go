package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Response is the response of a single request.
// The body is bound to the connection, closing the response closes the connection.
type Response struct {
	StatusCode int
	Reason     string
	// Header uses canonical keys, e.g. "Content-Length".
	Header map[string]string
	// URL of the request that produced this response, after redirects.
	URL  string
	Body io.ReadCloser
}

// Close releases the connection. It is safe to call more than once.
func (r *Response) Close() error {
	if r.Body == nil {
		return nil
	}
	err := r.Body.Close()
	r.Body = nil
	return err
}

// Content reads the whole body and closes the response.
// Bodies larger than limit bytes fail with ErrResponseTooLarge.
func (r *Response) Content(limit int64) ([]byte, error) {
	defer func() {
		_ = r.Close()
	}()
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrResponseTooLarge, limit)
	}
	return data, nil
}

// IsSuccess reports whether the status code is 2xx.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode <= 299
}

func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			return strings.TrimRight(line, "\r\n"), io.EOF
		}
		return "", fmt.Errorf("%w: read response: %w", ErrTransport, err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readResponseHead parses the status line and the header block.
// A redirect location is only reported for 3xx responses.
func readResponseHead(br *bufio.Reader) (*Response, string, error) {
	statusLine, err := readLine(br)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, "", err
	}
	parts := strings.SplitN(strings.TrimSpace(statusLine), " ", 3)
	if len(parts) < 2 {
		return nil, "", fmt.Errorf("%w: bad status line %q", ErrMalformedResponse, statusLine)
	}
	status, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, "", fmt.Errorf("%w: bad status code %q", ErrMalformedResponse, parts[1])
	}
	resp := &Response{StatusCode: status, Header: map[string]string{}}
	if len(parts) > 2 {
		resp.Reason = strings.TrimSpace(parts[2])
	}
	var location string
	for {
		line, err := readLine(br)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, "", err
		}
		if line == "" {
			break
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			return nil, "", fmt.Errorf("%w: bad header line %q", ErrMalformedResponse, line)
		}
		key := textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(k))
		value := strings.TrimSpace(v)
		switch {
		case key == "Transfer-Encoding" && strings.Contains(strings.ToLower(value), "chunked"):
			return nil, "", fmt.Errorf("%w: Transfer-Encoding %q", ErrUnsupportedEncoding, value)
		case key == "Location" && status >= 300 && status <= 399:
			switch status {
			case 301, 302, 303, 307, 308:
				location = value
			default:
				return nil, "", fmt.Errorf("%w: status %d", ErrUnsupportedRedirect, status)
			}
		}
		resp.Header[key] = value
		if errors.Is(err, io.EOF) {
			break
		}
	}
	return resp, location, nil
}

type body struct {
	r       io.Reader
	closers []func() error
	closed  bool
}

func (b *body) Read(p []byte) (int, error) {
	if b.closed {
		return 0, fmt.Errorf("%w: read on closed body", ErrTransport)
	}
	n, err := b.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, ErrTransport) {
		err = fmt.Errorf("%w: read body: %w", ErrTransport, err)
	}
	return n, err
}

func (b *body) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	var errs []error
	for _, c := range b.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

func newBody(br *bufio.Reader, conn io.Closer, header map[string]string) (io.ReadCloser, error) {
	b := &body{r: br}
	n, ok, err := parseContentLength(header)
	if err != nil {
		return nil, err
	}
	if ok {
		b.r = &lengthReader{r: br, size: n, remaining: n}
	}
	switch strings.ToLower(header["Content-Encoding"]) {
	case "", "identity":
	case "gzip":
		gz, err := gzip.NewReader(b.r)
		if err != nil {
			return nil, fmt.Errorf("%w: gzip body: %w", ErrMalformedResponse, err)
		}
		b.r = gz
		b.closers = append(b.closers, gz.Close)
	case "zstd":
		zr, err := zstd.NewReader(b.r, zstd.WithDecoderConcurrency(1), zstd.WithDecoderLowmem(true))
		if err != nil {
			return nil, fmt.Errorf("%w: zstd body: %w", ErrMalformedResponse, err)
		}
		b.r = zr
		b.closers = append(b.closers, func() error {
			zr.Close()
			return nil
		})
	default:
		return nil, fmt.Errorf("%w: Content-Encoding %q", ErrUnsupportedEncoding, header["Content-Encoding"])
	}
	b.closers = append(b.closers, conn.Close)
	return b, nil
}

// lengthReader stops after Content-Length bytes and fails if the connection ends before.
type lengthReader struct {
	r         io.Reader
	size      int64
	remaining int64
}

func (l *lengthReader) Read(p []byte) (int, error) {
	if l.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > l.remaining {
		p = p[:l.remaining]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if errors.Is(err, io.EOF) && l.remaining > 0 {
		err = fmt.Errorf("%w: body ended after %d of %d bytes: %w", ErrTransport, l.size-l.remaining, l.size, io.ErrUnexpectedEOF)
	}
	return n, err
}
