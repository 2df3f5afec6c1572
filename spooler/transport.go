package spooler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

// FormPoster sends one URL-encoded form. Any error means the record was not
// delivered; retrying is the caller's business.
type FormPoster interface {
	PostForm(ctx context.Context, url string, fields url.Values) error
}

// HTTPConfig tunes HTTPPoster.
type HTTPConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	// BreakerMaxFailures consecutive failures open the breaker; 0 disables it.
	BreakerMaxFailures uint32 `yaml:"breaker_max_failures"`
	// BreakerOpenTimeout is how long an open breaker rejects posts.
	BreakerOpenTimeout time.Duration `yaml:"breaker_open_timeout"`
}

// HTTPPoster posts forms with net/http. While the collector keeps failing an
// optional circuit breaker rejects posts without touching the network.
type HTTPPoster struct {
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

func NewHTTPPoster(cfg HTTPConfig) *HTTPPoster {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	p := &HTTPPoster{client: &http.Client{Timeout: cfg.Timeout}}
	if cfg.BreakerMaxFailures > 0 {
		open := cfg.BreakerOpenTimeout
		if open <= 0 {
			open = time.Minute
		}
		max := cfg.BreakerMaxFailures
		p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "crash-collector",
			MaxRequests: 1,
			Timeout:     open,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= max
			},
		})
	}
	return p
}

func (p *HTTPPoster) PostForm(ctx context.Context, target string, fields url.Values) error {
	if p.breaker == nil {
		return p.post(ctx, target, fields)
	}
	_, err := p.breaker.Execute(func() (interface{}, error) {
		return nil, p.post(ctx, target, fields)
	})
	return err
}

func (p *HTTPPoster) post(ctx context.Context, target string, fields url.Values) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(fields.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}

// CrashesURL is the collection endpoint for one app identifier.
func CrashesURL(baseURL, appIdentifier string) string {
	return strings.TrimRight(baseURL, "/") + "/api/2/apps/" + url.PathEscape(appIdentifier) + "/crashes/"
}
