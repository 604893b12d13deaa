package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ieraasyl/PulseClient/pkg/utils"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticToken struct {
	token string
	err   error
}

func (s staticToken) Get(context.Context) (string, error) { return s.token, s.err }

// echoServer replies with the given status and records the last request's
// headers.
func echoServer(t *testing.T, status int) (*httptest.Server, func() http.Header) {
	t.Helper()

	var mu sync.Mutex
	var last http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		last = r.Header.Clone()
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)

	return srv, func() http.Header {
		mu.Lock()
		defer mu.Unlock()
		return last
	}
}

func doGet(t *testing.T, rt http.RoundTripper, ctx context.Context, url string, header http.Header) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp
}

func TestChainOrder(t *testing.T) {
	var order []string
	layer := func(name string) Layer {
		return func(next http.RoundTripper) http.RoundTripper {
			return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
				order = append(order, name)
				return next.RoundTrip(r)
			})
		}
	}
	base := RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
		order = append(order, "base")
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
	})

	rt := Chain(base, layer("a"), layer("b"))
	req := httptest.NewRequest(http.MethodGet, "http://api.test/x", nil)
	_, err := rt.RoundTrip(req)

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "base"}, order)
}

func TestBearer(t *testing.T) {
	t.Run("injects stored token", func(t *testing.T) {
		srv, last := echoServer(t, http.StatusOK)
		rt := Chain(http.DefaultTransport, Bearer(staticToken{token: "stored"}))

		doGet(t, rt, context.Background(), srv.URL, nil)

		assert.Equal(t, "Bearer stored", last().Get("Authorization"))
	})

	t.Run("keeps explicit header", func(t *testing.T) {
		srv, last := echoServer(t, http.StatusOK)
		rt := Chain(http.DefaultTransport, Bearer(staticToken{token: "stored"}))

		doGet(t, rt, context.Background(), srv.URL, http.Header{"Authorization": {"Bearer fresh"}})

		assert.Equal(t, "Bearer fresh", last().Get("Authorization"))
	})

	t.Run("no token sends no header", func(t *testing.T) {
		srv, last := echoServer(t, http.StatusOK)
		rt := Chain(http.DefaultTransport, Bearer(staticToken{}))

		doGet(t, rt, context.Background(), srv.URL, nil)

		assert.Empty(t, last().Get("Authorization"))
	})

	t.Run("store failure aborts request", func(t *testing.T) {
		called := false
		base := RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			called = true
			return nil, nil
		})
		rt := Chain(base, Bearer(staticToken{err: errors.New("disk gone")}))

		_, err := rt.RoundTrip(httptest.NewRequest(http.MethodGet, "http://api.test/x", nil))

		assert.ErrorContains(t, err, "disk gone")
		assert.False(t, called)
	})
}

func TestUnauthorized(t *testing.T) {
	t.Run("reports 401 with the token that was sent", func(t *testing.T) {
		srv, _ := echoServer(t, http.StatusUnauthorized)
		var got []string
		rt := Chain(http.DefaultTransport,
			Bearer(staticToken{token: "t1"}),
			Unauthorized(func(ctx context.Context, usedToken string) { got = append(got, usedToken) }),
		)

		resp := doGet(t, rt, context.Background(), srv.URL, nil)

		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, []string{"t1"}, got)
	})

	t.Run("reports 403 like 401", func(t *testing.T) {
		srv, _ := echoServer(t, http.StatusForbidden)
		var got []string
		rt := Chain(http.DefaultTransport,
			Bearer(staticToken{token: "t2"}),
			Unauthorized(func(ctx context.Context, usedToken string) { got = append(got, usedToken) }),
		)

		resp := doGet(t, rt, context.Background(), srv.URL, nil)

		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.Equal(t, []string{"t2"}, got)
	})

	t.Run("ignores other statuses", func(t *testing.T) {
		srv, _ := echoServer(t, http.StatusNotFound)
		calls := 0
		rt := Chain(http.DefaultTransport, Unauthorized(func(context.Context, string) { calls++ }))

		doGet(t, rt, context.Background(), srv.URL, nil)

		assert.Zero(t, calls)
	})
}

func TestRequestLogging(t *testing.T) {
	t.Run("propagates request id from context", func(t *testing.T) {
		srv, last := echoServer(t, http.StatusOK)
		rt := Chain(http.DefaultTransport, RequestLogging())

		doGet(t, rt, utils.WithRequestID(context.Background(), "req-7"), srv.URL, nil)

		assert.Equal(t, "req-7", last().Get("X-Request-ID"))
	})

	t.Run("generates request id", func(t *testing.T) {
		srv, last := echoServer(t, http.StatusNotFound)
		rt := Chain(http.DefaultTransport, RequestLogging())

		doGet(t, rt, context.Background(), srv.URL, nil)

		assert.Len(t, last().Get("X-Request-ID"), 36)
	})
}

func TestAPIMetrics(t *testing.T) {
	srv, _ := echoServer(t, http.StatusOK)
	rt := Chain(http.DefaultTransport, APIMetrics())
	counter := apiRequestsTotal.WithLabelValues(http.MethodGet, "/meals/date/{date}", "200")
	before := testutil.ToFloat64(counter)

	ctx := WithEndpoint(context.Background(), "/meals/date/{date}")
	doGet(t, rt, ctx, srv.URL+"/meals/date/2024-01-15", nil)

	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestEndpointFallsBackToPath(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://api.test/users/me", nil)

	assert.Equal(t, "/users/me", Endpoint(req))
}

func TestRateLimiter(t *testing.T) {
	t.Run("disabled limiter passes through", func(t *testing.T) {
		srv, _ := echoServer(t, http.StatusOK)
		rt := Chain(http.DefaultTransport, NewRateLimiter(0, 0).Limit())

		for i := 0; i < 5; i++ {
			doGet(t, rt, context.Background(), srv.URL, nil)
		}
	})

	t.Run("waiting honors context deadline", func(t *testing.T) {
		srv, _ := echoServer(t, http.StatusOK)
		rt := Chain(http.DefaultTransport, NewRateLimiter(0.1, 1).Limit())

		doGet(t, rt, context.Background(), srv.URL, nil)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
		require.NoError(t, err)

		_, err = rt.RoundTrip(req)

		assert.ErrorContains(t, err, "rate limit wait")
	})
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, BearerToken(req))

	req.Header.Set("Authorization", "bearer abc")
	assert.Equal(t, "abc", BearerToken(req))

	req.Header.Set("Authorization", "Basic xyz")
	assert.Empty(t, BearerToken(req))
}
