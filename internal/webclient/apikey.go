package webclient

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/mbd888/tradematch/internal/cacheable"
)

// APIKeyState is the developer-API-key scraping state machine's outcome.
type APIKeyState int

const (
	APIKeyError APIKeyState = iota
	APIKeyTimeout
	APIKeyRegistered
	APIKeyNotRegisteredYet
	APIKeyAccessDenied
)

var apiKeyPattern = regexp.MustCompile(`key=([0-9A-F]{32})`)

// APIKeyResolver scrapes, and if necessary registers, the account's
// developer API key, wrapped in a Cacheable so repeated lookups within
// the cache lifetime are free. Accounts marked limited never have an API
// key and always resolve to "".
type APIKeyResolver struct {
	client  *Client
	limited bool
	cache   *cacheable.Cacheable[string]
}

// NewAPIKeyResolver builds a resolver wrapping client's key scraping in
// a Cacheable with an effectively-forever lifetime — the key rarely
// changes and a failed scrape should not thrash the dev-key page.
func NewAPIKeyResolver(client *Client, limited bool) *APIKeyResolver {
	r := &APIKeyResolver{client: client, limited: limited}
	r.cache = cacheable.New("webclient.apikey", cacheable.Forever, r.resolve)
	return r
}

// Get returns the account's API key, or "" if one could not be obtained.
func (r *APIKeyResolver) Get(ctx context.Context) (bool, string) {
	if r.limited {
		return true, ""
	}
	return r.cache.Get(ctx, cacheable.FailedNow)
}

// Reset forces the next Get to re-scrape the developer-key page.
func (r *APIKeyResolver) Reset() { r.cache.Reset() }

func (r *APIKeyResolver) resolve(ctx context.Context) (string, error) {
	state, key, err := r.client.scrapeAPIKeyPage(ctx)
	if err != nil {
		return "", err
	}

	switch state {
	case APIKeyRegistered:
		return key, nil
	case APIKeyNotRegisteredYet:
		if err := r.client.registerAPIKey(ctx); err != nil {
			return "", fmt.Errorf("webclient: registering api key: %w", err)
		}
		state, key, err = r.client.scrapeAPIKeyPage(ctx)
		if err != nil {
			return "", err
		}
		if state != APIKeyRegistered {
			return "", fmt.Errorf("webclient: api key still not registered after registration attempt")
		}
		return key, nil
	case APIKeyAccessDenied:
		return "", fmt.Errorf("webclient: access denied scraping api key page")
	case APIKeyTimeout:
		return "", fmt.Errorf("webclient: timed out scraping api key page")
	default:
		return "", fmt.Errorf("webclient: error scraping api key page")
	}
}

// scrapeAPIKeyPage fetches the developer-key page and classifies its
// contents by walking the parsed node tree rather than pattern-matching
// raw markup, per SPEC_FULL.md §2's domain-stack binding of
// golang.org/x/net/html to this component.
func (c *Client) scrapeAPIKeyPage(ctx context.Context) (APIKeyState, string, error) {
	body, err := c.Get(ctx, HostCommunity, pathAPIKeyPage, WithDecode(DecodeHTML))
	if err != nil {
		return APIKeyTimeout, "", err
	}
	doc, ok := body.(*html.Node)
	if !ok {
		return APIKeyError, "", fmt.Errorf("webclient: api key page did not decode to html")
	}
	content := nodeContent(doc)

	if strings.Contains(content, "Access Denied") {
		return APIKeyAccessDenied, "", nil
	}
	if m := apiKeyPattern.FindStringSubmatch(content); len(m) == 2 {
		return APIKeyRegistered, m[1], nil
	}
	if strings.Contains(content, "Register") {
		return APIKeyNotRegisteredYet, "", nil
	}
	return APIKeyError, "", nil
}

// nodeContent concatenates every text node and attribute value under n,
// depth-first, so the key pattern and state markers are found whether
// the page renders them as visible text or as a link's href/query.
func nodeContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
			sb.WriteString(" ")
		}
		for _, attr := range node.Attr {
			sb.WriteString(attr.Val)
			sb.WriteString(" ")
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return sb.String()
}

func (c *Client) registerAPIKey(ctx context.Context) error {
	form := url.Values{}
	form.Set("domain", "localhost")
	form.Set("agreeToTerms", "agreed")
	_, err := c.Post(ctx, HostCommunity, pathAPIKeyRegister, WithForm(form), WithSessionMode(SessionFieldSessionID), WithDecode(DecodeBytes))
	return err
}
