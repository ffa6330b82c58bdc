package middleware

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/searchktools/evhttp/core/http"
)

func TestPipelineOrder(t *testing.T) {
	var order []int
	step := func(n int) Middleware {
		return func(*http.Request, *http.Response) bool {
			order = append(order, n)
			return true
		}
	}

	pipeline := NewPipeline().Use(step(1)).Use(step(2)).Use(step(3))
	require.Equal(t, 3, pipeline.Len())

	pipeline.Execute(http.NewRequest(), http.NewResponse(), func(*http.Request, *http.Response) {
		order = append(order, 4)
	})
	require.Equal(t, []int{1, 2, 3, 4}, order)
}

func TestPipelineAbort(t *testing.T) {
	secondRan, finalRan := false, false

	pipeline := NewPipeline().
		Use(func(_ *http.Request, resp *http.Response) bool {
			resp.String(http.StatusBadRequest, "stop")
			return false
		}).
		Use(func(*http.Request, *http.Response) bool {
			secondRan = true
			return true
		})

	resp := http.NewResponse()
	handler := pipeline.Then(func(*http.Request, *http.Response) {
		finalRan = true
	})
	handler(http.NewRequest(), resp)

	require.False(t, secondRan)
	require.False(t, finalRan)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Equal(t, "stop", string(resp.Body))
}

func TestRequestID(t *testing.T) {
	mw := RequestID()

	first, second := http.NewResponse(), http.NewResponse()
	require.True(t, mw(http.NewRequest(), first))
	require.True(t, mw(http.NewRequest(), second))

	require.Equal(t, "1", first.Headers["X-Request-ID"])
	require.Equal(t, "2", second.Headers["X-Request-ID"])
}

func TestCORS(t *testing.T) {
	resp := http.NewResponse()
	require.True(t, CORS("*")(http.NewRequest(), resp))

	require.Equal(t, "*", resp.Headers["Access-Control-Allow-Origin"])
	require.Equal(t, "GET, POST", resp.Headers["Access-Control-Allow-Methods"])
}

func TestRateLimiter(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }

	limiter := RateLimiter(2, clock)

	require.True(t, limiter(http.NewRequest(), http.NewResponse()))
	require.True(t, limiter(http.NewRequest(), http.NewResponse()))

	limited := http.NewResponse()
	require.False(t, limiter(http.NewRequest(), limited))
	require.Equal(t, http.StatusTooManyRequests, limited.Code)
	require.Equal(t, "1", limited.Headers["Retry-After"])
	require.JSONEq(t, `{"error":"Too Many Requests"}`, string(limited.Body))

	now = now.Add(time.Second)
	require.True(t, limiter(http.NewRequest(), http.NewResponse()))
}
