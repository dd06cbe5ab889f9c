package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	RequestLine string
	Header      map[string]string
	Body        []byte
}

// rawServer answers every connection with the bytes returned by handler and closes it.
type rawServer struct {
	ln       net.Listener
	mu       sync.Mutex
	requests []recordedRequest
}

func newRawServer(t *testing.T, handler func(req recordedRequest) string) *rawServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &rawServer{ln: ln}
	t.Cleanup(func() {
		_ = ln.Close()
	})
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serve(conn, handler)
		}
	}()
	return s
}

func (s *rawServer) serve(conn net.Conn, handler func(req recordedRequest) string) {
	defer func() {
		_ = conn.Close()
	}()
	br := bufio.NewReader(conn)
	line, err := br.ReadString('\n')
	if err != nil {
		return
	}
	req := recordedRequest{RequestLine: strings.TrimRight(line, "\r\n"), Header: map[string]string{}}
	for {
		l, err := br.ReadString('\n')
		if err != nil {
			return
		}
		l = strings.TrimRight(l, "\r\n")
		if l == "" {
			break
		}
		k, v, _ := strings.Cut(l, ":")
		req.Header[k] = strings.TrimSpace(v)
	}
	if n, err := strconv.Atoi(req.Header["Content-Length"]); err == nil {
		req.Body = make([]byte, n)
		if _, err := io.ReadFull(br, req.Body); err != nil {
			return
		}
	}
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	_, _ = io.WriteString(conn, handler(req))
}

func (s *rawServer) url(path string) string {
	return "http://" + s.ln.Addr().String() + path
}

func (s *rawServer) recorded() []recordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedRequest(nil), s.requests...)
}

func okResponse(body string) string {
	return fmt.Sprintf("HTTP/1.1 200 OK\r\nContent-Length: %d\r\n\r\n%s", len(body), body)
}

func TestClient_Get(t *testing.T) {
	s := newRawServer(t, func(req recordedRequest) string {
		return okResponse("hello world")
	})
	c := NewClient(WithHeader("User-Agent", "ota-test"))
	resp, err := c.Get(context.Background(), s.url("/manifest.json?current_ver=1.0.0"))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "OK", resp.Reason)
	assert.Equal(t, "11", resp.Header["Content-Length"])
	assert.True(t, resp.IsSuccess())
	data, err := resp.Content(1024)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	reqs := s.recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, "GET /manifest.json?current_ver=1.0.0 HTTP/1.1", reqs[0].RequestLine)
	assert.Equal(t, s.ln.Addr().String(), reqs[0].Header["Host"])
	assert.Equal(t, "ota-test", reqs[0].Header["User-Agent"])
	assert.Equal(t, "close", reqs[0].Header["Connection"])
	assert.Equal(t, AcceptEncoding, reqs[0].Header["Accept-Encoding"])
}

func TestClient_AcceptEncodingOverride(t *testing.T) {
	s := newRawServer(t, func(req recordedRequest) string {
		return okResponse("plain")
	})
	resp, err := NewClient(WithHeader("Accept-Encoding", "identity")).Get(context.Background(), s.url("/"))
	require.NoError(t, err)
	require.NoError(t, resp.Close())
	reqs := s.recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, "identity", reqs[0].Header["Accept-Encoding"])
}

func TestClient_BodyWithoutContentLength(t *testing.T) {
	payload := strings.Repeat("abc", 2000)
	s := newRawServer(t, func(req recordedRequest) string {
		return "HTTP/1.0 200 OK\r\nServer: test\r\n\r\n" + payload
	})
	resp, err := NewClient().Get(context.Background(), s.url("/big"))
	require.NoError(t, err)
	defer func() {
		_ = resp.Close()
	}()
	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, string(got))
}

func TestClient_ResponseErrors(t *testing.T) {
	tests := []struct {
		name     string
		response string
		wantErr  error
	}{
		{name: "single token status line", response: "HTTP/1.1\r\n\r\n", wantErr: ErrMalformedResponse},
		{name: "empty response", response: "", wantErr: ErrMalformedResponse},
		{name: "non numeric status", response: "HTTP/1.1 abc OK\r\n\r\n", wantErr: ErrMalformedResponse},
		{name: "header without colon", response: "HTTP/1.1 200 OK\r\nbroken\r\n\r\n", wantErr: ErrMalformedResponse},
		{name: "chunked body", response: "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n0\r\n\r\n", wantErr: ErrUnsupportedEncoding},
		{name: "unknown content encoding", response: "HTTP/1.1 200 OK\r\nContent-Encoding: br\r\n\r\n", wantErr: ErrUnsupportedEncoding},
		{name: "unsupported redirect", response: "HTTP/1.1 305 Use Proxy\r\nLocation: http://proxy/\r\n\r\n", wantErr: ErrUnsupportedRedirect},
		{name: "invalid content length", response: "HTTP/1.1 200 OK\r\nContent-Length: -1\r\n\r\n", wantErr: ErrMalformedResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newRawServer(t, func(req recordedRequest) string {
				return tt.response
			})
			_, err := NewClient().Get(context.Background(), s.url("/"))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestClient_NonSuccessStatusIsReturned(t *testing.T) {
	s := newRawServer(t, func(req recordedRequest) string {
		return "HTTP/1.1 404 Not Found\r\nContent-Length: 0\r\n\r\n"
	})
	resp, err := NewClient().Get(context.Background(), s.url("/missing"))
	require.NoError(t, err)
	defer func() {
		_ = resp.Close()
	}()
	assert.Equal(t, 404, resp.StatusCode)
	assert.Equal(t, "Not Found", resp.Reason)
	assert.False(t, resp.IsSuccess())
}

func TestClient_Fetch(t *testing.T) {
	s := newRawServer(t, func(req recordedRequest) string {
		if strings.HasPrefix(req.RequestLine, "GET /missing ") {
			return "HTTP/1.1 404 Not Found\r\nContent-Length: 0\r\n\r\n"
		}
		return "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello"
	})
	body, err := NewClient().Fetch(context.Background(), s.url("/file"))
	require.NoError(t, err)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.NoError(t, body.Close())
	assert.Equal(t, "hello", string(data))

	_, err = NewClient().Fetch(context.Background(), s.url("/missing"))
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
}

func TestClient_TruncatedBody(t *testing.T) {
	s := newRawServer(t, func(req recordedRequest) string {
		return "HTTP/1.1 200 OK\r\nContent-Length: 100\r\n\r\nabc"
	})
	body, err := NewClient().Fetch(context.Background(), s.url("/short"))
	require.NoError(t, err)
	defer func() {
		_ = body.Close()
	}()
	data, err := io.ReadAll(body)
	assert.Equal(t, "abc", string(data))
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	resp, err := NewClient().Get(context.Background(), s.url("/short"))
	require.NoError(t, err)
	_, err = resp.Content(1024)
	assert.ErrorIs(t, err, ErrTransport)
}

func TestClient_Redirects(t *testing.T) {
	tests := []struct {
		status     int
		wantMethod string
		wantBody   string
	}{
		{status: 301, wantMethod: "GET", wantBody: ""},
		{status: 302, wantMethod: "GET", wantBody: ""},
		{status: 303, wantMethod: "GET", wantBody: ""},
		{status: 307, wantMethod: "POST", wantBody: "payload"},
		{status: 308, wantMethod: "POST", wantBody: "payload"},
	}
	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.status), func(t *testing.T) {
			s := newRawServer(t, func(req recordedRequest) string {
				if strings.Contains(req.RequestLine, "/old") {
					return fmt.Sprintf("HTTP/1.1 %d Moved\r\nLocation: /new\r\nContent-Length: 0\r\n\r\n", tt.status)
				}
				return okResponse("moved content")
			})
			resp, err := NewClient().Do(context.Background(), &Request{Method: "POST", URL: s.url("/old"), Body: []byte("payload")})
			require.NoError(t, err)
			data, err := resp.Content(1024)
			require.NoError(t, err)
			assert.Equal(t, "moved content", string(data))
			assert.Equal(t, s.url("/new"), resp.URL)

			reqs := s.recorded()
			require.Len(t, reqs, 2)
			assert.Equal(t, tt.wantMethod+" /new HTTP/1.1", reqs[1].RequestLine)
			assert.Equal(t, tt.wantBody, string(reqs[1].Body))
		})
	}
}

func TestClient_RedirectLimit(t *testing.T) {
	s := newRawServer(t, func(req recordedRequest) string {
		return "HTTP/1.1 302 Found\r\nLocation: /loop\r\n\r\n"
	})
	_, err := NewClient(WithMaxRedirects(3)).Get(context.Background(), s.url("/loop"))
	assert.ErrorIs(t, err, ErrTooManyRedirects)
	assert.Len(t, s.recorded(), 4)
}

func TestClient_LocationIgnoredOutsideRedirects(t *testing.T) {
	s := newRawServer(t, func(req recordedRequest) string {
		return "HTTP/1.1 201 Created\r\nLocation: /elsewhere\r\nContent-Length: 2\r\n\r\nok"
	})
	resp, err := NewClient().Get(context.Background(), s.url("/create"))
	require.NoError(t, err)
	data, err := resp.Content(16)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(data))
	assert.Equal(t, "/elsewhere", resp.Header["Location"])
}

func TestClient_ContentEncoding(t *testing.T) {
	payload := []byte(strings.Repeat("firmware-", 500))
	gzipped := func() []byte {
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		_, err := w.Write(payload)
		require.NoError(t, err)
		require.NoError(t, w.Close())
		return buf.Bytes()
	}()
	zstded := func() []byte {
		enc, err := zstd.NewWriter(nil)
		require.NoError(t, err)
		defer func() {
			_ = enc.Close()
		}()
		return enc.EncodeAll(payload, nil)
	}()
	tests := []struct {
		encoding string
		body     []byte
	}{
		{encoding: "gzip", body: gzipped},
		{encoding: "zstd", body: zstded},
		{encoding: "identity", body: payload},
	}
	for _, tt := range tests {
		t.Run(tt.encoding, func(t *testing.T) {
			s := newRawServer(t, func(req recordedRequest) string {
				return fmt.Sprintf("HTTP/1.1 200 OK\r\nContent-Encoding: %s\r\nContent-Length: %d\r\n\r\n%s", tt.encoding, len(tt.body), tt.body)
			})
			resp, err := NewClient().Get(context.Background(), s.url("/fw.bin"))
			require.NoError(t, err)
			data, err := resp.Content(int64(len(payload)))
			require.NoError(t, err)
			assert.Equal(t, payload, data)
		})
	}
}

func TestResponse_ContentLimit(t *testing.T) {
	s := newRawServer(t, func(req recordedRequest) string {
		return okResponse(strings.Repeat("x", 100))
	})
	resp, err := NewClient().Get(context.Background(), s.url("/"))
	require.NoError(t, err)
	_, err = resp.Content(10)
	assert.ErrorIs(t, err, ErrResponseTooLarge)
	assert.Nil(t, resp.Body)
}

func TestClient_UnsupportedProtocol(t *testing.T) {
	for _, u := range []string{"ftp://example.org/file", "example.org/file", "http:///nohost"} {
		_, err := NewClient().Get(context.Background(), u)
		assert.ErrorIs(t, err, ErrUnsupportedProtocol, u)
	}
}

func TestClient_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	_, err = NewClient().Get(context.Background(), "http://"+addr+"/")
	assert.ErrorIs(t, err, ErrTransport)
}

func TestClient_ReadTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	done := make(chan struct{})
	t.Cleanup(func() {
		close(done)
		_ = ln.Close()
	})
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		<-done
		_ = conn.Close()
	}()
	start := time.Now()
	_, err = NewClient(WithTimeout(100*time.Millisecond)).Get(context.Background(), "http://"+ln.Addr().String()+"/")
	require.ErrorIs(t, err, ErrTransport)
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestResponse_CloseIsIdempotent(t *testing.T) {
	s := newRawServer(t, func(req recordedRequest) string {
		return okResponse("x")
	})
	resp, err := NewClient().Get(context.Background(), s.url("/"))
	require.NoError(t, err)
	assert.NoError(t, resp.Close())
	assert.NoError(t, resp.Close())
}
