package yahoo

import (
	"context"
	"encoding/json"
	"equity-crawler/lib/artifacts"
	"equity-crawler/lib/restyutil"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"github.com/mazen160/go-random"
)

// CrumbURL hands out the anti-CSRF token the JSON feeds expect alongside
// the browser cookies.
const CrumbURL = "https://query1.finance.yahoo.com/v1/test/getcrumb"

const defaultAPITimeout = 20 * time.Second

var restyInstrumentOutput restyutil.InstrumentOutput

func SetRestyInstrumentOutput(out restyutil.InstrumentOutput) {
	restyInstrumentOutput = out
}

// APIClientOptions configure the resty session shared by the screener and
// quote clients. Region must already be a two letter code. Cookies should
// come from the browser session so the feed sees the same consent state as
// the rendered page.
type APIClientOptions struct {
	Region    string
	UserAgent string
	Cookies   []*http.Cookie
	Timeout   time.Duration
}

// NewAPIClient builds a resty session with the headers Yahoo's JSON feeds
// want. The Referer has to point at the screener page, otherwise the feed
// tends to answer 401/403.
func NewAPIClient(opts APIClientOptions) *resty.Client {
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = "Mozilla/5.0"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultAPITimeout
	}

	client := resty.New()
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	client.SetHeaders(map[string]string{
		"User-Agent":      userAgent,
		"Accept":          "application/json,text/plain,*/*",
		"Accept-Language": "en-US,en;q=0.9",
		"Referer":         fmt.Sprintf("%s?region=%s", ScreenerPageURL, opts.Region),
	})
	client.SetCookies(opts.Cookies)
	client.SetTimeout(timeout)
	restyutil.InstrumentClient(client, tracer, restyInstrumentOutput)
	return client
}

// RequestWithRetry runs one feed request with up to maxAttempts tries.
// Transport errors retry with backoff and fail for good on the last
// attempt, after dropping an error artifact. Rate limit answers (429/503)
// honor Retry-After; on the last attempt the throttled response itself is
// returned so the caller sees the status. Any other response comes back
// as-is, whatever its status.
func RequestWithRetry(
	ctx context.Context,
	client *resty.Client,
	method string,
	url string,
	params map[string]string,
	body any,
	maxAttempts int,
	artifactPrefix string,
) (*resty.Response, error) {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req := client.R().SetContext(ctx).SetQueryParams(params)
		if body != nil {
			req.SetBody(body)
		}
		res, err := req.Execute(method, url)
		if err != nil {
			slog.Warn("feed request failed",
				"url", url,
				"attempt", attempt,
				"max_attempts", maxAttempts,
				"error", err,
			)
			if attempt == maxAttempts {
				saveErrorArtifact(artifactPrefix, url, params, err)
				return nil, fmt.Errorf("request %s: %w", url, err)
			}
			if err := sleepBackoff(ctx, attempt, ""); err != nil {
				return nil, err
			}
			continue
		}

		status := res.StatusCode()
		if status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable {
			if attempt == maxAttempts {
				SaveHTTPArtifact(artifactPrefix, res, url, params)
				return res, nil
			}
			if err := sleepBackoff(ctx, attempt, res.Header().Get("Retry-After")); err != nil {
				return nil, err
			}
			continue
		}
		return res, nil
	}
	return nil, fmt.Errorf("request %s: no attempts made", url)
}

// FetchCrumb asks the crumb endpoint for a token. It returns "" when the
// token cannot be obtained; the feeds may still answer without one.
func FetchCrumb(ctx context.Context, client *resty.Client, region string, maxAttempts int, artifactPrefix string) string {
	params := map[string]string{"lang": "en-US", "region": region}
	res, err := RequestWithRetry(ctx, client, http.MethodGet, CrumbURL, params, nil, maxAttempts, artifactPrefix)
	if err != nil {
		return ""
	}
	if res.StatusCode() != http.StatusOK {
		SaveHTTPArtifact(artifactPrefix, res, CrumbURL, params)
		return ""
	}
	return strings.TrimSpace(res.String())
}

func sleepBackoff(ctx context.Context, attempt int, retryAfter string) error {
	select {
	case <-time.After(backoffDelay(attempt, retryAfter)):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func backoffDelay(attempt int, retryAfter string) time.Duration {
	if retryAfter != "" {
		if secs, err := strconv.Atoi(retryAfter); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	delay := time.Duration(1<<(attempt-1)) * time.Second
	jitter, err := random.IntRange(0, 500)
	if err == nil {
		delay += time.Duration(jitter) * time.Millisecond
	}
	return delay
}

// SaveHTTPArtifact records an unexpected feed response for offline digging:
// final URL, query params, status, headers and the first kilobyte of body.
func SaveHTTPArtifact(prefix string, res *resty.Response, rawURL string, params map[string]string) {
	payload := map[string]any{
		"url":          responseURL(res, rawURL),
		"params":       params,
		"status":       res.StatusCode(),
		"headers":      flattenHeader(res.Header()),
		"body_snippet": snippet(res.String()),
	}
	saveFeedArtifact(fmt.Sprintf("%s_http_%d", prefix, res.StatusCode()), payload)
}

// SaveDecodeArtifact records a response body that was not valid JSON.
func SaveDecodeArtifact(prefix string, rawURL string, params map[string]string, body string, err error) {
	payload := map[string]any{
		"url":          rawURL,
		"params":       params,
		"error":        err.Error(),
		"body_snippet": snippet(body),
	}
	saveFeedArtifact(prefix+"_json", payload)
}

func saveErrorArtifact(prefix string, rawURL string, params map[string]string, err error) {
	payload := map[string]any{
		"url":    rawURL,
		"params": params,
		"error":  err.Error(),
	}
	saveFeedArtifact(prefix+"_http_000", payload)
}

func saveFeedArtifact(tag string, payload map[string]any) {
	contents, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		slog.Warn("could not encode feed artifact", "tag", tag, "error", err)
		return
	}
	path, err := artifacts.Save(tag, ".txt", contents)
	if err != nil {
		slog.Warn("could not save feed artifact", "tag", tag, "error", err)
		return
	}
	slog.Info("saved feed artifact", "path", path)
}

func responseURL(res *resty.Response, fallback string) string {
	if res.Request != nil && res.Request.URL != "" {
		return res.Request.URL
	}
	return fallback
}

func flattenHeader(header http.Header) map[string]string {
	flat := make(map[string]string, len(header))
	for key, values := range header {
		if len(values) > 0 {
			flat[key] = values[0]
		}
	}
	return flat
}

func snippet(body string) string {
	if len(body) > 1000 {
		return body[:1000]
	}
	return body
}
