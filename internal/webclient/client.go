// Package webclient implements the session-aware HTTP client that wraps
// every call to the platform: rate limiting, connection capping, session
// expiry detection and transparent refresh, and profile-redirect retry.
package webclient

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"

	"github.com/mbd888/tradematch/internal/circuitbreaker"
	"github.com/mbd888/tradematch/internal/config"
	"github.com/mbd888/tradematch/internal/metrics"
	"github.com/mbd888/tradematch/internal/retry"
	"github.com/mbd888/tradematch/internal/traces"
	"github.com/mbd888/tradematch/internal/webratelimit"
)

// AccountHandle is the non-owning callback surface the Web Client holds
// into the (out-of-scope) account/connection manager. The account owns
// the Web Client; this handle is never used for lifecycle control, only
// for refresh delegation and identification.
type AccountHandle interface {
	SteamID() uint64
	Connected() bool
	LoggedOn() bool
	// RefreshSession renegotiates session tokens with the platform and
	// returns the new tokens on success.
	RefreshSession(ctx context.Context) (Tokens, error)
}

// Decode selects how a response body is interpreted.
type Decode int

const (
	DecodeBytes Decode = iota
	DecodeHTML
	DecodeJSON
	DecodeXML
)

// defaultMaxTries bounds the retry-on-anomaly loop per spec's boundary
// scenario: three consecutive refresh failures exhaust the original call.
const defaultMaxTries = 3

// retryBaseDelay is the starting backoff between retry-on-anomaly
// attempts, doubled with jitter by retry.Do on each subsequent try.
const retryBaseDelay = 200 * time.Millisecond

// Client is the session-aware HTTP client ("Web Client").
type Client struct {
	account   AccountHandle
	endpoints Endpoints
	limiter   *webratelimit.Limiter
	breaker   *circuitbreaker.Breaker
	http      *http.Client
	jar       http.CookieJar
	logger    *slog.Logger
	cfg       *config.Config

	mu                 sync.Mutex
	lastSessionCheck   time.Time
	lastSessionRefresh time.Time
	lastProbeAt        time.Time
	refreshing         sync.Mutex // single-flight guard for Refresh

	invSem *InventorySemaphore
}

// New constructs a Web Client for one account.
func New(cfg *config.Config, account AccountHandle, endpoints Endpoints, limiter *webratelimit.Limiter, invSem *InventorySemaphore, logger *slog.Logger) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("webclient: creating cookie jar: %w", err)
	}

	var proxy func(*http.Request) (*url.URL, error)
	if cfg.WebProxy != "" {
		proxyURL, err := url.Parse(cfg.WebProxy)
		if err != nil {
			return nil, fmt.Errorf("webclient: parsing proxy: %w", err)
		}
		proxy = http.ProxyURL(proxyURL)
	} else {
		proxy = http.ProxyFromEnvironment
	}

	return &Client{
		account:   account,
		endpoints: endpoints,
		limiter:   limiter,
		breaker:   circuitbreaker.New(5, 30*time.Second),
		http: &http.Client{
			Jar:     jar,
			Timeout: cfg.ConnectionTimeout,
			Transport: &http.Transport{
				Proxy: proxy,
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("webclient: too many redirects")
				}
				return nil
			},
		},
		jar:    jar,
		logger: logger,
		cfg:    cfg,
		invSem: invSem,
	}, nil
}

// SessionMode selects how (and whether) the sessionid form field is
// attached to a POST.
type SessionMode int

const (
	// SessionNone attaches no session field.
	SessionNone SessionMode = iota
	// SessionFieldSessionID attaches it under "sessionid".
	SessionFieldSessionID
	// SessionFieldSessionIDCamel attaches it under "sessionID".
	SessionFieldSessionIDCamel
	// SessionFieldSessionIDPascal attaches it under "SessionID".
	SessionFieldSessionIDPascal
)

func (m SessionMode) fieldName() string {
	switch m {
	case SessionFieldSessionID:
		return "sessionid"
	case SessionFieldSessionIDCamel:
		return "sessionID"
	case SessionFieldSessionIDPascal:
		return "SessionID"
	default:
		return ""
	}
}

// requestSpec describes one logical request, replayed verbatim on retry.
type requestSpec struct {
	method      string
	host        HostKey
	path        string
	query       url.Values
	form        url.Values
	sessionMode SessionMode
	decode      Decode
	maxTries    int
}

// RequestOption customizes a requestSpec.
type RequestOption func(*requestSpec)

// WithQuery attaches query parameters.
func WithQuery(q url.Values) RequestOption { return func(r *requestSpec) { r.query = q } }

// WithForm attaches POST form fields.
func WithForm(f url.Values) RequestOption { return func(r *requestSpec) { r.form = f } }

// WithSessionMode attaches the sessionid cookie value as a form field
// under the given name variant.
func WithSessionMode(mode SessionMode) RequestOption {
	return func(r *requestSpec) { r.sessionMode = mode }
}

// WithDecode selects the response decoding strategy.
func WithDecode(d Decode) RequestOption { return func(r *requestSpec) { r.decode = d } }

// WithMaxTries overrides the retry-on-anomaly try counter.
func WithMaxTries(n int) RequestOption { return func(r *requestSpec) { r.maxTries = n } }

// Get issues a rate-limited, session-aware GET and decodes the body
// according to opts (DecodeBytes by default).
func (c *Client) Get(ctx context.Context, host HostKey, path string, opts ...RequestOption) (any, error) {
	spec := c.buildSpec(http.MethodGet, host, path, opts)
	return c.do(ctx, spec)
}

// Head issues a rate-limited HEAD request and returns the final URL
// reached (following redirects), used by the preemptive session probe.
func (c *Client) Head(ctx context.Context, host HostKey, path string, opts ...RequestOption) (*url.URL, error) {
	spec := c.buildSpec(http.MethodHead, host, path, opts)
	resp, err := c.roundTrip(ctx, spec)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return resp.Request.URL, nil
}

// Post issues a rate-limited, session-aware POST and decodes the body
// according to opts.
func (c *Client) Post(ctx context.Context, host HostKey, path string, opts ...RequestOption) (any, error) {
	spec := c.buildSpec(http.MethodPost, host, path, opts)
	return c.do(ctx, spec)
}

func (c *Client) buildSpec(method string, host HostKey, path string, opts []RequestOption) requestSpec {
	spec := requestSpec{method: method, host: host, path: path, maxTries: defaultMaxTries}
	for _, opt := range opts {
		opt(&spec)
	}
	return spec
}

// do executes spec with retry-on-anomaly per §4.2: session-expiry final
// URLs trigger a refresh and retry; the account's own profile URL
// (a known upstream misbehaviour) triggers a retry without refresh.
// Both are bounded by spec.maxTries and driven by retry.Do's
// exponential-backoff-with-jitter loop, per SPEC_FULL.md §1.3.
func (c *Client) do(ctx context.Context, spec requestSpec) (any, error) {
	tries := spec.maxTries
	if tries <= 0 {
		tries = defaultMaxTries
	}

	ctx, span := traces.StartSpan(ctx, "webclient.request", traces.Host(string(spec.host)))
	defer span.End()

	var result any
	err := retry.Do(ctx, tries, retryBaseDelay, func() error {
		resp, err := c.roundTrip(ctx, spec)
		if err != nil {
			return err
		}

		finalURL := resp.Request.URL

		if c.isSessionExpiredURL(finalURL) {
			resp.Body.Close()
			if refreshErr := c.Refresh(ctx); refreshErr != nil {
				return refreshErr
			}
			return fmt.Errorf("webclient: session expired on %s", spec.path)
		}

		if c.isOwnProfileURL(finalURL) {
			resp.Body.Close()
			return fmt.Errorf("webclient: profile-redirect anomaly on %s", spec.path)
		}

		body, decodeErr := c.decodeBody(resp, spec.decode)
		resp.Body.Close()
		if decodeErr != nil {
			return retry.Permanent(decodeErr)
		}
		result = body
		return nil
	})

	if err != nil {
		metrics.WebRequestsTotal.WithLabelValues(string(spec.host), spec.method, "failed").Inc()
		return nil, err
	}
	metrics.WebRequestsTotal.WithLabelValues(string(spec.host), spec.method, "ok").Inc()
	return result, nil
}

func (c *Client) roundTrip(ctx context.Context, spec requestSpec) (*http.Response, error) {
	release, err := c.limiter.Acquire(ctx, string(spec.host))
	if err != nil {
		return nil, fmt.Errorf("webclient: rate limiter: %w", err)
	}
	defer release()

	if !c.breaker.Allow(string(spec.host)) {
		return nil, fmt.Errorf("webclient: circuit open for host %s", spec.host)
	}

	base := c.endpoints.BaseURL[spec.host]
	full := base + spec.path
	if spec.query != nil {
		full += "?" + spec.query.Encode()
	}

	var req *http.Request
	var buildErr error
	switch spec.method {
	case http.MethodPost:
		form := spec.form
		if form == nil {
			form = url.Values{}
		}
		if name := spec.sessionMode.fieldName(); name != "" {
			if sid, ok := c.sessionIDCookie(spec.host); ok {
				form.Set(name, sid)
			}
		}
		req, buildErr = http.NewRequestWithContext(ctx, http.MethodPost, full, strings.NewReader(form.Encode()))
		if buildErr == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	default:
		req, buildErr = http.NewRequestWithContext(ctx, spec.method, full, nil)
	}
	if buildErr != nil {
		c.breaker.RecordFailure(string(spec.host))
		return nil, fmt.Errorf("webclient: building request: %w", buildErr)
	}

	timer := time.Now()
	resp, err := c.http.Do(req)
	metrics.WebRequestDuration.WithLabelValues(string(spec.host)).Observe(time.Since(timer).Seconds())
	if err != nil {
		c.breaker.RecordFailure(string(spec.host))
		return nil, fmt.Errorf("webclient: transport error: %w", err)
	}
	c.breaker.RecordSuccess(string(spec.host))
	return resp, nil
}

func (c *Client) decodeBody(resp *http.Response, decode Decode) (any, error) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("webclient: reading body: %w", err)
	}

	switch decode {
	case DecodeJSON:
		var v any
		if len(data) == 0 {
			return nil, nil
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("webclient: decoding json: %w", err)
		}
		return v, nil
	case DecodeXML:
		var v any
		if err := xml.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("webclient: decoding xml: %w", err)
		}
		return v, nil
	case DecodeHTML:
		doc, err := html.Parse(strings.NewReader(string(data)))
		if err != nil {
			return nil, fmt.Errorf("webclient: decoding html: %w", err)
		}
		return doc, nil
	default:
		return data, nil
	}
}

// isSessionExpiredURL reports whether u's path begins with /login or its
// host equals the distinguished fallback host.
func (c *Client) isSessionExpiredURL(u *url.URL) bool {
	if u == nil {
		return false
	}
	if strings.HasPrefix(u.Path, "/login") {
		return true
	}
	return u.Hostname() == c.endpoints.LoginFallbackHost
}

// isOwnProfileURL reports whether u is the account's own profile URL —
// a known upstream misbehaviour that warrants a retry without refresh.
func (c *Client) isOwnProfileURL(u *url.URL) bool {
	if u == nil {
		return false
	}
	want := fmt.Sprintf("/profiles/%d", c.account.SteamID())
	return strings.HasPrefix(u.Path, want)
}
