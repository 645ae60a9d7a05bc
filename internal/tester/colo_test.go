package tester

import (
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// traceServer 起一个模拟 /cdn-cgi/trace 的本地服务，返回其 (ip, port)
func traceServer(t *testing.T, body string) (string, int) {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cdn-cgi/trace" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, body)
	}))
	t.Cleanup(ts.Close)

	host, portStr, err := net.SplitHostPort(ts.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func TestResolveColoExtractsCode(t *testing.T) {
	host, port := traceServer(t, "fl=123abc\nh=speed.cloudflare.com\nip=198.51.100.9\ncolo=LAX\nhttp=http/1.1\n")

	out := ResolveColo(host, port)
	require.Equal(t, FailureNone, out.Failure)
	assert.Equal(t, "LAX", out.Colo)
}

func TestResolveColoMissingField(t *testing.T) {
	host, port := traceServer(t, "fl=123abc\nh=speed.cloudflare.com\nhttp=http/1.1\n")

	out := ResolveColo(host, port)
	assert.Equal(t, FailureParse, out.Failure)
	assert.Empty(t, out.Colo)
}

func TestResolveColoConnectFailure(t *testing.T) {
	host, port := closedPort(t)

	out := ResolveColo(host, port)
	assert.NotEqual(t, FailureNone, out.Failure)
	assert.NotEqual(t, FailureParse, out.Failure)
	assert.Empty(t, out.Colo)
}

func TestIsHTTPSPort(t *testing.T) {
	for _, p := range []int{443, 2053, 2083, 2087, 2096, 8443} {
		assert.True(t, IsHTTPSPort(p), "port %d", p)
	}
	for _, p := range []int{80, 8080, 2052} {
		assert.False(t, IsHTTPSPort(p), "port %d", p)
	}
}
