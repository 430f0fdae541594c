package detector

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPDetectorHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ok, err := HTTPDetector{URL: srv.URL, Timeout: time.Second}.Alive()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHTTPDetectorNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ok, err := HTTPDetector{URL: srv.URL, Timeout: time.Second}.Alive()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHTTPDetectorTimeoutCancelsRequest(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
			// the probe must cancel the in-flight request on timeout
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	ok, err := HTTPDetector{URL: srv.URL, Timeout: 100 * time.Millisecond}.Alive()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestHTTPDetectorUnreachable(t *testing.T) {
	// Reserve a port and close it so nothing is listening.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	url := "http://" + l.Addr().String() + "/health"
	_ = l.Close()

	ok, err := HTTPDetector{URL: url, Timeout: time.Second}.Alive()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPortAvailable(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, portStr, err := net.SplitHostPort(l.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	assert.False(t, PortAvailable(port), "port should be occupied while listener is open")

	occupied, err := PortDetector{Port: port}.Alive()
	require.NoError(t, err)
	assert.True(t, occupied)

	_ = l.Close()
	assert.True(t, PortAvailable(port), "port should be free after listener closes")
}
