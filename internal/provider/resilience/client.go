package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// Predefined errors for resilient downloads.
var (
	ErrCircuitOpen  = errors.New("circuit breaker is open")
	ErrBodyTooLarge = errors.New("response body exceeds limit")
)

// StatusError is a non-2xx response. 5xx responses are retried, others are not.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Temporary reports whether the status is worth retrying.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// ClientConfig configures a download client for one remote source.
type ClientConfig struct {
	// Name identifies the source in logs and the health registry.
	Name string

	// Timeout per attempt. Default: 60 seconds
	Timeout time.Duration

	// MaxRetries after the first attempt. Default: 3
	MaxRetries uint64

	// InitialInterval of the exponential backoff. Default: 500ms
	InitialInterval time.Duration

	// MaxInterval of the exponential backoff. Default: 10 seconds
	MaxInterval time.Duration

	// MaxBodyBytes caps the downloaded size. Default: 512 MiB
	MaxBodyBytes int64

	Breaker BreakerConfig

	// Registry receives success/failure reports when set.
	Registry *Registry

	Logger zerolog.Logger
}

// Client downloads remote resources through a circuit breaker with retries.
type Client struct {
	name     string
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker[[]byte]
	cfg      ClientConfig
	registry *Registry
	logger   zerolog.Logger
}

// NewClient creates a download client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = 10 * time.Second
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = 512 << 20
	}
	cfg.Breaker = cfg.Breaker.withDefaults()

	c := &Client{
		name:     cfg.Name,
		http:     &http.Client{Timeout: cfg.Timeout},
		cfg:      cfg,
		registry: cfg.Registry,
		logger:   cfg.Logger,
	}
	c.breaker = newBreaker(cfg.Name, cfg.Breaker, func(name string, from, to gobreaker.State) {
		c.logger.Warn().
			Str("source", name).
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("circuit breaker state changed")
	})
	if c.registry != nil {
		c.registry.Register(c)
	}
	return c
}

// Name returns the source name.
func (c *Client) Name() string {
	return c.name
}

// State returns the breaker state.
func (c *Client) State() gobreaker.State {
	return c.breaker.State()
}

// Get downloads url and returns the body. Network errors and 5xx responses
// are retried with exponential backoff; an open breaker fails fast.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.InitialInterval
	bo.MaxInterval = c.cfg.MaxInterval
	bo.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, c.cfg.MaxRetries), ctx)

	var body []byte
	attempt := 0
	operation := func() error {
		attempt++
		b, err := c.breaker.Execute(func() ([]byte, error) {
			return c.fetch(ctx, url)
		})
		if err == nil {
			body = b
			return nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(ErrCircuitOpen)
		}
		var se *StatusError
		if errors.As(err, &se) && !se.Temporary() {
			return backoff.Permanent(err)
		}
		if errors.Is(err, ErrBodyTooLarge) {
			return backoff.Permanent(err)
		}

		c.logger.Debug().Err(err).Str("source", c.name).Int("attempt", attempt).Msg("download attempt failed")
		return err
	}

	if err := backoff.Retry(operation, policy); err != nil {
		if c.registry != nil {
			c.registry.RecordFailure(c.name, err)
		}
		return nil, fmt.Errorf("downloading %s: %w", c.name, err)
	}

	if c.registry != nil {
		c.registry.RecordSuccess(c.name)
	}
	return body, nil
}

func (c *Client) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > c.cfg.MaxBodyBytes {
		return nil, ErrBodyTooLarge
	}
	return body, nil
}
