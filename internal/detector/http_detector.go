package detector

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// DefaultProbeTimeout bounds a single health probe when none is configured.
const DefaultProbeTimeout = 2 * time.Second

// HTTPDetector probes an HTTP health endpoint. It is alive only when the
// endpoint answers 200 within Timeout. The request is cancelled on timeout
// so a hung backend cannot pin the caller.
type HTTPDetector struct {
	URL     string
	Timeout time.Duration
}

func (d HTTPDetector) Alive() (bool, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		return false, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		// Unreachable, refused, or timed out: not alive, not an error.
		return false, nil
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK, nil
}

func (d HTTPDetector) Describe() string { return "http:" + d.URL }

// HealthURL builds the conventional health endpoint for a local backend port.
func HealthURL(port int) string {
	return fmt.Sprintf("http://127.0.0.1:%d/health", port)
}
