package yahoo

import (
	"context"
	"equity-crawler/lib/artifacts"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func textResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"text/plain"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestBackoffDelay(t *testing.T) {
	require.Equal(t, 7*time.Second, backoffDelay(1, "7"))
	require.Equal(t, time.Duration(0), backoffDelay(3, "0"))

	cases := []struct {
		attempt    int
		retryAfter string
		base       time.Duration
	}{
		{attempt: 1, retryAfter: "", base: time.Second},
		{attempt: 2, retryAfter: "not-a-number", base: 2 * time.Second},
		{attempt: 3, retryAfter: "-5", base: 4 * time.Second},
		{attempt: 4, retryAfter: "", base: 8 * time.Second},
	}
	for _, test := range cases {
		delay := backoffDelay(test.attempt, test.retryAfter)
		require.GreaterOrEqual(t, delay, test.base)
		require.LessOrEqual(t, delay, test.base+500*time.Millisecond)
	}
}

func TestSnippet(t *testing.T) {
	require.Equal(t, "short", snippet("short"))
	exact := strings.Repeat("x", 1000)
	require.Equal(t, exact, snippet(exact))
	require.Len(t, snippet(exact+"overflow"), 1000)
}

func TestFlattenHeader(t *testing.T) {
	header := http.Header{
		"X-First":  {"1", "2"},
		"X-Single": {"only"},
		"X-Empty":  {},
	}
	require.Equal(t, map[string]string{
		"X-First":  "1",
		"X-Single": "only",
	}, flattenHeader(header))
}

func TestRequestWithRetryHonorsRetryAfter(t *testing.T) {
	attempts := 0
	client := NewAPIClient(APIClientOptions{Region: "AR"})
	client.SetTransport(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		attempts++
		if attempts == 1 {
			res := textResponse(http.StatusTooManyRequests, "throttled")
			res.Header.Set("Retry-After", "0")
			return res, nil
		}
		return textResponse(http.StatusOK, "ok"), nil
	}))

	res, err := RequestWithRetry(context.Background(), client, http.MethodGet,
		"https://example.com/feed", nil, nil, 3, "feed")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode())
	require.Equal(t, 2, attempts)
}

func TestRequestWithRetryReturnsThrottledResponse(t *testing.T) {
	artifacts.SetRoot(t.TempDir())
	client := NewAPIClient(APIClientOptions{Region: "AR"})
	client.SetTransport(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return textResponse(http.StatusTooManyRequests, "throttled"), nil
	}))

	res, err := RequestWithRetry(context.Background(), client, http.MethodGet,
		"https://example.com/feed", nil, nil, 1, "feed")
	require.NoError(t, err)
	require.Equal(t, http.StatusTooManyRequests, res.StatusCode())

	saved, err := filepath.Glob(filepath.Join(artifacts.Root(), "feed_http_429_*"))
	require.NoError(t, err)
	require.Len(t, saved, 1)
}

func TestRequestWithRetryTransportError(t *testing.T) {
	artifacts.SetRoot(t.TempDir())
	client := NewAPIClient(APIClientOptions{Region: "AR"})
	client.SetTransport(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	}))

	res, err := RequestWithRetry(context.Background(), client, http.MethodGet,
		"https://example.com/feed", nil, nil, 1, "feed")
	require.Error(t, err)
	require.Nil(t, res)

	saved, err := filepath.Glob(filepath.Join(artifacts.Root(), "feed_http_000_*"))
	require.NoError(t, err)
	require.Len(t, saved, 1)
}

func TestFetchCrumb(t *testing.T) {
	client := NewAPIClient(APIClientOptions{Region: "AR"})
	client.SetTransport(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		require.Equal(t, "en-US", req.URL.Query().Get("lang"))
		require.Equal(t, "AR", req.URL.Query().Get("region"))
		return textResponse(http.StatusOK, "  test-crumb\n"), nil
	}))

	require.Equal(t, "test-crumb", FetchCrumb(context.Background(), client, "AR", 1, "crumb"))
}

func TestFetchCrumbFailure(t *testing.T) {
	artifacts.SetRoot(t.TempDir())
	client := NewAPIClient(APIClientOptions{Region: "AR"})
	client.SetTransport(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return textResponse(http.StatusForbidden, "denied"), nil
	}))

	require.Equal(t, "", FetchCrumb(context.Background(), client, "AR", 1, "crumb"))

	saved, err := filepath.Glob(filepath.Join(artifacts.Root(), "crumb_http_403_*"))
	require.NoError(t, err)
	require.Len(t, saved, 1)
}
