package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ClientConfig is shared by the HTTP vendor adapters.
type ClientConfig struct {
	// Hosts maps region -> base URL.
	Hosts map[string]string
	// Timeout bounds each HTTP request, upload included.
	Timeout time.Duration
	// RetryWindow bounds the exponential retries of a single call.
	RetryWindow time.Duration
}

// StatusError is a non-retryable, non-quota HTTP failure.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}

type jsonClient struct {
	hosts       map[string]string
	http        *http.Client
	retryWindow time.Duration
}

func newJSONClient(cfg ClientConfig) jsonClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RetryWindow <= 0 {
		cfg.RetryWindow = 12 * time.Second
	}
	return jsonClient{
		hosts:       cfg.Hosts,
		http:        &http.Client{Timeout: cfg.Timeout},
		retryWindow: cfg.RetryWindow,
	}
}

func (c jsonClient) host(region string) (string, error) {
	h, ok := c.hosts[region]
	if !ok || h == "" {
		return "", fmt.Errorf("no endpoint configured for region %q", region)
	}
	return strings.TrimRight(h, "/"), nil
}

// doJSON sends the request built by build and decodes the response into
// target. Server errors and network failures are retried with exponential
// backoff; quota and client errors are returned at once.
func (c jsonClient) doJSON(ctx context.Context, build func() (*http.Request, error), target any) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.retryWindow

	op := func() error {
		req, err := build()
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.http.Do(req.WithContext(ctx))
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("%w: %v", ErrTransient, err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 16<<20))

		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusPaymentRequired:
			return backoff.Permanent(fmt.Errorf("%w: http %d: %s", ErrQuota, resp.StatusCode, snippet(body)))
		case resp.StatusCode >= 500:
			return fmt.Errorf("%w: server error %d: %s", ErrTransient, resp.StatusCode, snippet(body))
		case resp.StatusCode >= 400:
			return backoff.Permanent(&StatusError{StatusCode: resp.StatusCode, Body: snippet(body)})
		}
		if len(body) == 0 {
			return fmt.Errorf("%w: empty body", ErrTransient)
		}
		if err := json.Unmarshal(body, target); err != nil {
			return backoff.Permanent(fmt.Errorf("json decode error: %v body=%s", err, snippet(body)))
		}
		return nil
	}

	err := backoff.Retry(op, backoff.WithContext(bo, ctx))
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}

func snippet(b []byte) string {
	const limit = 512
	if len(b) > limit {
		return string(b[:limit])
	}
	return string(b)
}
