package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"transcoder/internal/config"
	"transcoder/internal/logging"
	"transcoder/internal/metrics"
	"transcoder/internal/services"
)

const (
	userAgent      = "transcoder/1.0"
	methodPurge    = "PURGE"
	defaultTimeout = 10 * time.Second
)

// Purger invalidates cached copies of published URLs.
type Purger interface {
	Purge(ctx context.Context, urls []string) error
	Close() error
}

// NewPurger builds the sinks configured in cfg. Without any sink the returned
// purger only logs.
func NewPurger(cfg config.Invalidation, logger *slog.Logger) (Purger, error) {
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	var sinks MultiPurger
	if len(cfg.PurgeURLs) > 0 {
		sinks = append(sinks, NewHTTPPurger(cfg.PurgeURLs, &http.Client{Timeout: timeout}, logger))
	}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		rp, err := NewRedisPurger(cfg.RedisURL, cfg.RedisChannel, cfg.RedisKeyPrefix, logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, rp)
	}
	if len(sinks) == 0 {
		return NewLogPurger(logger), nil
	}
	return sinks, nil
}

// HTTPPurger sends PURGE requests to each configured cache endpoint. The
// request line carries the purged URL's path and the Host header carries its
// host, the form Varnish and Squid expect.
type HTTPPurger struct {
	endpoints []string
	client    *http.Client
	logger    *slog.Logger
}

// NewHTTPPurger constructs an HTTPPurger. A nil client uses a 10s timeout.
func NewHTTPPurger(endpoints []string, client *http.Client, logger *slog.Logger) *HTTPPurger {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	cleaned := make([]string, 0, len(endpoints))
	for _, endpoint := range endpoints {
		if endpoint = strings.TrimSpace(endpoint); endpoint != "" {
			cleaned = append(cleaned, strings.TrimRight(endpoint, "/"))
		}
	}
	return &HTTPPurger{
		endpoints: cleaned,
		client:    client,
		logger:    logging.NewComponentLogger(logger, "purge-http"),
	}
}

// Purge sends one request per endpoint and URL and joins the failures.
func (p *HTTPPurger) Purge(ctx context.Context, urls []string) error {
	var errs []error
	for _, endpoint := range p.endpoints {
		for _, target := range urls {
			if err := p.send(ctx, endpoint, target); err != nil {
				metrics.PurgeTotal.WithLabelValues("http", "error").Inc()
				errs = append(errs, err)
				continue
			}
			metrics.PurgeTotal.WithLabelValues("http", "ok").Inc()
		}
	}
	if err := errors.Join(errs...); err != nil {
		return services.Wrap(services.ErrPublication, "purge", "http", "cache purge failed", err)
	}
	return nil
}

func (p *HTTPPurger) send(ctx context.Context, endpoint, target string) error {
	parsed, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("parse purge target %q: %w", target, err)
	}
	reqURL := endpoint + parsed.EscapedPath()
	if parsed.RawQuery != "" {
		reqURL += "?" + parsed.RawQuery
	}

	req, err := http.NewRequestWithContext(ctx, methodPurge, reqURL, nil)
	if err != nil {
		return fmt.Errorf("build purge request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if parsed.Host != "" {
		req.Host = parsed.Host
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("purge %s via %s: %w", target, endpoint, err)
	}
	defer resp.Body.Close()

	// 404 means the object was not cached.
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("purge %s via %s returned %d: %s", target, endpoint, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	p.logger.Debug("url purged", logging.String("url", target), logging.String("endpoint", endpoint))
	return nil
}

// Close is a no-op.
func (p *HTTPPurger) Close() error { return nil }

// RedisPurger deletes cache keys derived from the URLs and announces each URL
// on a pub/sub channel for edge caches that subscribe.
type RedisPurger struct {
	client  *redis.Client
	channel string
	prefix  string
	logger  *slog.Logger
}

// NewRedisPurger connects to the redis:// URL. The connection is lazy, so an
// unreachable server surfaces on the first Purge.
func NewRedisPurger(rawURL, channel, keyPrefix string, logger *slog.Logger) (*RedisPurger, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "purge", "redis", "invalid invalidation.redis_url", err)
	}
	return &RedisPurger{
		client:  redis.NewClient(opts),
		channel: strings.TrimSpace(channel),
		prefix:  keyPrefix,
		logger:  logging.NewComponentLogger(logger, "purge-redis"),
	}, nil
}

// Purge deletes prefix+url for every URL and publishes each URL.
func (p *RedisPurger) Purge(ctx context.Context, urls []string) error {
	if len(urls) == 0 {
		return nil
	}
	keys := make([]string, 0, len(urls))
	for _, u := range urls {
		keys = append(keys, p.prefix+u)
	}
	_, err := p.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		if p.channel != "" {
			for _, u := range urls {
				pipe.Publish(ctx, p.channel, u)
			}
		}
		return nil
	})
	if err != nil {
		metrics.PurgeTotal.WithLabelValues("redis", "error").Inc()
		return services.Wrap(services.ErrPublication, "purge", "redis", "cache purge failed", err)
	}
	metrics.PurgeTotal.WithLabelValues("redis", "ok").Inc()
	p.logger.Debug("cache keys purged", logging.Int("keys", len(keys)), logging.String("channel", p.channel))
	return nil
}

// Close releases the connection pool.
func (p *RedisPurger) Close() error {
	return p.client.Close()
}

// LogPurger records purges without contacting any cache.
type LogPurger struct {
	logger *slog.Logger
}

// NewLogPurger returns a LogPurger.
func NewLogPurger(logger *slog.Logger) LogPurger {
	return LogPurger{logger: logging.NewComponentLogger(logger, "purge")}
}

func (p LogPurger) Purge(ctx context.Context, urls []string) error {
	logging.WithContext(ctx, p.logger).Debug("no invalidation sinks configured",
		logging.Any("urls", urls),
	)
	metrics.PurgeTotal.WithLabelValues("log", "ok").Inc()
	return nil
}

func (LogPurger) Close() error { return nil }

// MultiPurger fans out to every sink and joins their errors.
type MultiPurger []Purger

func (m MultiPurger) Purge(ctx context.Context, urls []string) error {
	var errs []error
	for _, p := range m {
		if err := p.Purge(ctx, urls); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiPurger) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
