package http

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/searchktools/evhttp/core"
	"github.com/searchktools/evhttp/core/stats"
)

// fakeTransport records sent bytes. It accepts at most limit bytes per
// write and reports ErrWouldBlock on every blockEvery-th write.
type fakeTransport struct {
	out        bytes.Buffer
	limit      int
	blockEvery int
	writes     int
	fail       error
}

func (f *fakeTransport) FD() int { return 7 }
func (f *fakeTransport) RemoteAddr() string { return "127.0.0.1:40000" }

func (f *fakeTransport) Write(p []byte) (int, error) {
	f.writes++
	if f.fail != nil {
		return 0, f.fail
	}
	if f.blockEvery > 0 && f.writes%f.blockEvery == 0 {
		return 0, core.ErrWouldBlock
	}

	n := len(p)
	if f.limit > 0 && n > f.limit {
		n = f.limit
	}
	f.out.Write(p[:n])
	return n, nil
}

func newTestHandler(opts Options) *Handler {
	h := NewHandler(opts, zerolog.Nop(), stats.New())

	h.RegisterHandler("/echo", func(req *Request, resp *Response) {
		name := req.QueryValue("name")
		if req.Method == MethodPost {
			name = req.FormValue("name")
		}
		resp.JSON(StatusOK, map[string]string{"name": name})
	})
	h.GET("/only-get", func(_ *Request, resp *Response) {
		resp.String(StatusOK, "ok")
	})
	h.GET("/panic", func(*Request, *Response) {
		panic("boom")
	})
	h.POST("/created", func(_ *Request, resp *Response) {
		resp.SetHeader("Location", "/things/1")
		resp.Status(StatusCreated)
	})
	h.Seal()

	return h
}

// exchange feeds raw to x and writes the response until the handler stops
// asking for write readiness.
func exchange(t *testing.T, h *Handler, tr *fakeTransport, x *Exchange, raw string) core.WriteStatus {
	t.Helper()

	require.Equal(t, core.ReadDone, h.OnReadable(tr, x, []byte(raw)))

	for i := 0; i < 100_000; i++ {
		if status := h.OnWriteable(tr, x); status != core.WriteContinue {
			return status
		}
	}
	t.Fatal("response never completed")
	return core.WriteError
}

func TestHandler_Echo(t *testing.T) {
	h := newTestHandler(Options{})
	tr := &fakeTransport{}
	x, err := h.OnAccept(tr)
	require.NoError(t, err)

	status := exchange(t, h, tr, x, "GET /echo?name=tomocat HTTP/1.1\r\nHost: x\r\n\r\n")
	require.Equal(t, core.WriteClose, status)

	out := tr.out.String()
	require.True(t, strings.HasPrefix(out, "HTTP/1.1 200 OK\r\n"), out)
	require.Contains(t, out, "\r\nServer: "+DefaultServerName+"\r\n")
	require.Contains(t, out, "\r\nConnection: close\r\n")
	require.True(t, strings.HasSuffix(out, "\r\n\r\n"+`{"name":"tomocat"}`), out)

	h.OnClose(tr, x)
	require.Nil(t, x.Request)
}

func TestHandler_KeepAlive(t *testing.T) {
	h := newTestHandler(Options{ServerName: "test"})
	tr := &fakeTransport{}
	x, err := h.OnAccept(tr)
	require.NoError(t, err)

	first := x.Request
	status := exchange(t, h, tr, x, "GET /echo?name=a HTTP/1.1\r\nConnection: keep-alive\r\n\r\n")
	require.Equal(t, core.WriteAlive, status)
	require.NotSame(t, first, x.Request)
	require.Empty(t, x.Request.Method)
	require.Equal(t, PhaseLine, x.Parser().Phase())

	out := tr.out.String()
	require.Equal(t, 1, strings.Count(out, "Content-Length:"))
	require.Contains(t, out, "\r\nContent-Length: 12\r\n")
	require.Contains(t, out, "\r\nConnection: keep-alive\r\n")

	tr.out.Reset()
	status = exchange(t, h, tr, x, "POST /echo HTTP/1.1\r\n\r\nname=b\r\n")
	require.Equal(t, core.WriteClose, status)
	require.True(t, strings.HasSuffix(tr.out.String(), `{"name":"b"}`))

	snapshot := h.stats.Snapshot()
	require.Equal(t, uint64(2), snapshot.Requests)
	require.Equal(t, uint64(1), snapshot.KeepAlives)
	require.Equal(t, uint64(2), snapshot.Status2xx)
}

func TestHandler_Routing(t *testing.T) {
	tcs := []struct {
		name   string
		raw    string
		status string
		body   string
		header string
	}{
		{
			name:   "not found",
			raw:    "GET /missing HTTP/1.1\r\n\r\n",
			status: "HTTP/1.1 404 Not Found\r\n",
			body:   "Not Found",
		},
		{
			name:   "method not allowed",
			raw:    "POST /only-get HTTP/1.1\r\n\r\nx\r\n",
			status: "HTTP/1.1 405 Method Not Allowed\r\n",
			body:   "Method Not Allowed",
			header: "\r\nAllow: GET\r\n",
		},
		{
			name:   "handler panic",
			raw:    "GET /panic HTTP/1.0\r\n\r\n",
			status: "HTTP/1.0 500 Internal Server Error\r\n",
			body:   "Internal Server Error",
		},
		{
			name:   "status without body",
			raw:    "POST /created HTTP/1.1\r\nContent-Length: 0\r\n\r\n",
			status: "HTTP/1.1 201 Created\r\n",
			header: "\r\nLocation: /things/1\r\n",
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandler(Options{})
			tr := &fakeTransport{}
			x, err := h.OnAccept(tr)
			require.NoError(t, err)

			require.Equal(t, core.WriteClose, exchange(t, h, tr, x, tc.raw))

			out := tr.out.String()
			require.True(t, strings.HasPrefix(out, tc.status), out)
			require.True(t, strings.HasSuffix(out, "\r\n\r\n"+tc.body), out)
			if tc.header != "" {
				require.Contains(t, out, tc.header)
			}
		})
	}
}

func TestHandler_ProtocolErrors(t *testing.T) {
	t.Run("malformed request", func(t *testing.T) {
		h := newTestHandler(Options{})
		tr := &fakeTransport{}
		x, _ := h.OnAccept(tr)

		status := exchange(t, h, tr, x, "BREW /pot HTTP/1.1\r\nConnection: keep-alive\r\n\r\n")
		require.Equal(t, core.WriteClose, status)
		require.True(t, strings.HasPrefix(tr.out.String(), "HTTP/1.1 400 Bad Request\r\n"))
		require.Contains(t, tr.out.String(), "\r\nConnection: close\r\n")
		require.Equal(t, uint64(1), h.stats.Snapshot().ParseErrors)
	})

	t.Run("oversized request", func(t *testing.T) {
		h := newTestHandler(Options{MaxRequestSize: 128})
		tr := &fakeTransport{}
		x, _ := h.OnAccept(tr)

		raw := "GET /echo?name=" + strings.Repeat("n", 200) + " HTTP/1.1\r\n\r\n"
		status := exchange(t, h, tr, x, raw)
		require.Equal(t, core.WriteClose, status)
		require.True(t, strings.HasPrefix(tr.out.String(), "HTTP/1.1 413 Payload Too Large\r\n"))
		require.Equal(t, uint64(1), h.stats.Snapshot().Oversized)
	})

	t.Run("partial request continues", func(t *testing.T) {
		h := newTestHandler(Options{})
		tr := &fakeTransport{}
		x, _ := h.OnAccept(tr)

		require.Equal(t, core.ReadContinue, h.OnReadable(tr, x, []byte("GET /echo HTTP/1.1\r\n")))
		require.Equal(t, core.ReadDone, h.OnReadable(tr, x, []byte("\r\n")))
	})
}

func TestHandler_PartialWrites(t *testing.T) {
	long := strings.Repeat("z", 20_000)

	reference := func() string {
		h := newTestHandler(Options{})
		tr := &fakeTransport{}
		x, _ := h.OnAccept(tr)
		exchange(t, h, tr, x, "GET /echo?name="+long+" HTTP/1.1\r\n\r\n")
		return tr.out.String()
	}()

	h := newTestHandler(Options{WriteBufferSize: 1000})
	tr := &fakeTransport{limit: 333, blockEvery: 3}
	x, _ := h.OnAccept(tr)

	require.Equal(t, core.WriteClose, exchange(t, h, tr, x, "GET /echo?name="+long+" HTTP/1.1\r\n\r\n"))
	require.Equal(t, reference, tr.out.String())
	require.Greater(t, tr.writes, 60)
}

func TestHandler_WriteError(t *testing.T) {
	h := newTestHandler(Options{})
	tr := &fakeTransport{fail: bytes.ErrTooLarge}
	x, _ := h.OnAccept(tr)

	require.Equal(t, core.ReadDone, h.OnReadable(tr, x, []byte("GET /echo HTTP/1.1\r\n\r\n")))
	require.Equal(t, core.WriteError, h.OnWriteable(tr, x))
}

func TestHandler_SealedTable(t *testing.T) {
	h := newTestHandler(Options{})
	require.Equal(t, 4, h.Routes())
	require.Panics(t, func() {
		h.GET("/late", func(*Request, *Response) {})
	})
}
