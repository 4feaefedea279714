// Package upstream talks to the projections provider. It is the only
// package allowed to call the upstream; everything else goes through the
// ingestion engine. It bundles the fetcher, the response cache, the rate
// governor, and the JSON:API envelope parser.
package upstream

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/a1betting/propcore/internal/infra/metrics"
)

// Kind classifies the outcome of one upstream fetch.
type Kind string

const (
	KindOK          Kind = "ok"
	KindRateLimited Kind = "rate_limited"
	KindBlocked     Kind = "blocked"
	KindTransport   Kind = "transport"
	KindParse       Kind = "parse"
)

// Result is the typed outcome of a single GET. Exactly one of Body or Err
// is meaningful depending on Kind; Status is set whenever a response
// arrived. A 4xx other than 429/403 comes back as KindOK with its status
// so callers can decide (e.g. 404 on a league).
type Result struct {
	Kind       Kind
	Status     int
	Body       []byte
	RetryAfter time.Duration // from the 429 Retry-After header, 0 if absent
	Err        error
}

// Fetcher performs browser-like GETs against the upstream API.
type Fetcher struct {
	client    *http.Client
	userAgent string
	referer   string
}

// NewFetcher creates a fetcher with the given per-request timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	return &Fetcher{
		client: &http.Client{Timeout: timeout},
		userAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 " +
			"(KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		referer: "https://app.prizepicks.com/",
	}
}

// challenge markers seen on Cloudflare interstitial pages.
var challengeMarkers = []string{
	"cf-browser-verification",
	"challenge-platform",
	"Just a moment",
	"Attention Required",
}

// Fetch executes one GET with browser-like headers and classifies the
// response. It never retries; backoff is the governor's job.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, params url.Values) Result {
	u := rawURL
	if len(params) > 0 {
		u = rawURL + "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return record(Result{Kind: KindTransport, Err: err})
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Referer", f.referer)

	resp, err := f.client.Do(req)
	if err != nil {
		return record(Result{Kind: KindTransport, Err: err})
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return record(Result{Kind: KindTransport, Status: resp.StatusCode, Err: err})
	}

	ct := resp.Header.Get("Content-Type")
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return record(Result{
			Kind:       KindRateLimited,
			Status:     resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		})

	case resp.StatusCode == http.StatusForbidden && isChallenge(ct, body):
		return record(Result{Kind: KindBlocked, Status: resp.StatusCode})

	case resp.StatusCode >= 500:
		return record(Result{Kind: KindTransport, Status: resp.StatusCode})

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// A 200 serving an anti-bot HTML page is a rate limit in disguise.
		if isChallenge(ct, body) {
			return record(Result{Kind: KindRateLimited, Status: resp.StatusCode})
		}
		if !looksLikeJSON(body) {
			return record(Result{Kind: KindParse, Status: resp.StatusCode, Body: body})
		}
		return record(Result{Kind: KindOK, Status: resp.StatusCode, Body: body})

	default:
		// Other 4xx: surface as OK-with-status, caller decides.
		return record(Result{Kind: KindOK, Status: resp.StatusCode, Body: body})
	}
}

func record(r Result) Result {
	metrics.FetchOutcomes.WithLabelValues(string(r.Kind)).Inc()
	return r
}

func isChallenge(contentType string, body []byte) bool {
	if !strings.Contains(contentType, "text/html") {
		return false
	}
	s := string(body)
	for _, m := range challengeMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func looksLikeJSON(body []byte) bool {
	for _, b := range body {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		case '{', '[':
			return true
		default:
			return false
		}
	}
	return false
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// CanonicalURL normalizes scheme+host+path plus sorted query for cache keys.
func CanonicalURL(rawURL string, params url.Values) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(u.Scheme)
	sb.WriteString("://")
	sb.WriteString(u.Host)
	sb.WriteString(u.Path)
	for i, k := range keys {
		if i == 0 {
			sb.WriteByte('?')
		} else {
			sb.WriteByte('&')
		}
		vs := append([]string(nil), q[k]...)
		sort.Strings(vs)
		for j, v := range vs {
			if j > 0 {
				sb.WriteByte('&')
			}
			sb.WriteString(k)
			sb.WriteByte('=')
			sb.WriteString(url.QueryEscape(v))
		}
	}
	return sb.String()
}
