// Package lookup is the HTTP client for the remote game-metadata service.
//
// The client is the transport boundary for failure classification: every
// response status is translated into a domain.ClassifiedError here, so the
// scheduler layers above dispatch on the class and never inspect HTTP
// details. Each request acquires admission from the rate governor for its
// endpoint key before going out, and overload responses are reported back
// to the governor with the server's Retry-After hint.
package lookup

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jbruns/curateur-sub000/internal/core/domain"
	"github.com/jbruns/curateur-sub000/internal/sched/metrics"
)

// Endpoint keys partition throttling and backoff per logical remote
// operation, so a backoff on media downloads never stalls metadata lookups.
const (
	EndpointProfile  = "profile"
	EndpointGameInfo = "gameinfo"
	EndpointMedia    = "media"
)

// Config holds lookup service connection settings.
type Config struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
}

// Governor is the admission-control surface the client drives.
type Governor interface {
	Admit(ctx context.Context, endpoint string) (time.Duration, error)
	SignalOverload(endpoint string, retryAfter time.Duration)
}

// Client talks to the lookup service.
type Client struct {
	cfg        Config
	httpClient *http.Client
	governor   Governor
	log        *slog.Logger
}

// NewClient creates a lookup client. The governor must not be nil: every
// remote call is admitted through it.
func NewClient(cfg Config, gov Governor, log *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		governor: gov,
		log:      log,
	}
}

// Profile fetches the account profile. It doubles as the credential check:
// rejected credentials come back as a fatal classified error.
func (c *Client) Profile(ctx context.Context) (*domain.Profile, error) {
	body, err := c.apiGet(ctx, EndpointProfile, "/api/v1/profile", nil)
	if err != nil {
		return nil, err
	}

	var p domain.Profile
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, domain.Classified(domain.ClassNonRetryable,
			fmt.Errorf("parse profile response: %w", err))
	}
	return &p, nil
}

// GameInfo looks up metadata for one scanned item by content hash, with the
// name, platform and size as secondary match criteria. An item unknown to
// the service is a not-found classified error, not a nil result.
func (c *Client) GameInfo(ctx context.Context, item domain.RomItem) (*domain.LookupResult, error) {
	q := url.Values{}
	q.Set("platform", item.Platform)
	q.Set("hash", item.Hash)
	q.Set("name", item.Name)
	q.Set("size", strconv.FormatInt(item.Size, 10))

	body, err := c.apiGet(ctx, EndpointGameInfo, "/api/v1/gameinfo", q)
	if err != nil {
		return nil, err
	}

	var resp struct {
		AllowedThreads int              `json:"allowed_threads"`
		Game           *domain.GameInfo `json:"game"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, domain.Classified(domain.ClassNonRetryable,
			fmt.Errorf("parse gameinfo response: %w", err))
	}
	if resp.Game == nil {
		return nil, domain.Classified(domain.ClassNotFound,
			fmt.Errorf("no match for %s (%s)", item.Name, item.Platform))
	}
	return &domain.LookupResult{Game: resp.Game, AllowedThreads: resp.AllowedThreads}, nil
}

// DownloadMedia streams one media asset to dest and returns the hex SHA-1 of
// the written bytes. The file lands via temp-write-then-rename, so an
// interrupted download never leaves a truncated asset in place. Relative
// asset URLs resolve against the service base URL.
func (c *Client) DownloadMedia(ctx context.Context, rawURL, dest string) (string, error) {
	target, err := c.resolveURL(rawURL)
	if err != nil {
		return "", domain.Classified(domain.ClassNonRetryable,
			fmt.Errorf("media url %q: %w", rawURL, err))
	}

	if _, err := c.governor.Admit(ctx, EndpointMedia); err != nil {
		return "", fmt.Errorf("admission for %s: %w", EndpointMedia, err)
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.LookupLatency.WithLabelValues(EndpointMedia, "error").Observe(time.Since(start).Seconds())
		return "", fmt.Errorf("media request: %w", err)
	}
	defer resp.Body.Close()

	metrics.LookupLatency.WithLabelValues(EndpointMedia, strconv.Itoa(resp.StatusCode)).
		Observe(time.Since(start).Seconds())

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", c.classify(EndpointMedia, resp, body)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("create media dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp media file: %w", err)
	}

	h := sha1.New()
	if _, err := io.Copy(tmp, io.TeeReader(resp.Body, h)); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("download media: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close media file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("place media file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// apiGet performs one admitted, authenticated GET against the service API
// and returns the body of a 200 response. Everything else comes back as a
// classified error.
func (c *Client) apiGet(ctx context.Context, endpoint, path string, q url.Values) ([]byte, error) {
	if _, err := c.governor.Admit(ctx, endpoint); err != nil {
		return nil, fmt.Errorf("admission for %s: %w", endpoint, err)
	}

	target := strings.TrimRight(c.cfg.BaseURL, "/") + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.LookupLatency.WithLabelValues(endpoint, "error").Observe(time.Since(start).Seconds())
		return nil, fmt.Errorf("%s request: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	metrics.LookupLatency.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).
		Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", endpoint, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.classify(endpoint, resp, body)
	}
	if isOverloadBody(body) {
		// Some deployments report thread exhaustion with a 200 and a
		// plain-text body instead of a 429.
		c.log.Debug("overload body on 200 response", "endpoint", endpoint)
		retryAfter := retryAfterHint(resp.Header)
		c.governor.SignalOverload(endpoint, retryAfter)
		return nil, &domain.ClassifiedError{
			Class:      domain.ClassRetryable,
			RetryAfter: retryAfter,
			Err:        fmt.Errorf("%s overloaded: %s", endpoint, trimBody(body)),
		}
	}
	return body, nil
}

// classify maps a non-200 response to the failure taxonomy. Overload
// responses are reported to the governor before returning.
func (c *Client) classify(endpoint string, resp *http.Response, body []byte) error {
	status := resp.StatusCode
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.Classified(domain.ClassFatal,
			fmt.Errorf("credentials rejected (%d): %s", status, trimBody(body)))

	case status == http.StatusLocked || isMaintenanceBody(body):
		return domain.Classified(domain.ClassFatal,
			fmt.Errorf("service closed (%d): %s", status, trimBody(body)))

	case status == http.StatusTooManyRequests || isOverloadBody(body):
		retryAfter := retryAfterHint(resp.Header)
		c.governor.SignalOverload(endpoint, retryAfter)
		return &domain.ClassifiedError{
			Class:      domain.ClassRetryable,
			RetryAfter: retryAfter,
			Err:        fmt.Errorf("rate limited (%d): %s", status, trimBody(body)),
		}

	case status == http.StatusNotFound:
		return domain.Classified(domain.ClassNotFound,
			fmt.Errorf("not found (%d)", status))

	case status >= 500:
		return domain.Classified(domain.ClassRetryable,
			fmt.Errorf("server error (%d): %s", status, trimBody(body)))

	default:
		return domain.Classified(domain.ClassNonRetryable,
			fmt.Errorf("request rejected (%d): %s", status, trimBody(body)))
	}
}

func (c *Client) resolveURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.IsAbs() {
		return raw, nil
	}
	base, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(u).String(), nil
}

// retryAfterHint parses a Retry-After header as integer seconds. Anything
// else (absent, HTTP-date) yields 0 and the governor applies its default.
func retryAfterHint(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	seconds, err := strconv.Atoi(v)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func isMaintenanceBody(body []byte) bool {
	return containsFold(body, "closed for maintenance")
}

func isOverloadBody(body []byte) bool {
	return containsFold(body, "allocated threads exceeded")
}

func containsFold(body []byte, pattern string) bool {
	return strings.Contains(strings.ToLower(string(body)), pattern)
}

func trimBody(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	if s == "" {
		return "<empty body>"
	}
	return s
}
