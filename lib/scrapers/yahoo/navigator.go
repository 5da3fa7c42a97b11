package yahoo

import (
	"context"
	"equity-crawler/lib/artifacts"
	"equity-crawler/lib/browser"
	"equity-crawler/lib/regions"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"go.opentelemetry.io/otel/codes"
)

const screenerURLMarker = "research-hub/screener/equity"

const seedSelector = `script[data-sveltekit-fetched][data-url*="predefined/saved"]`

// runtimeStateExprs are the page globals worth asking the live browser for
// when the static HTML carries no embedded state. First object wins.
var runtimeStateExprs = []struct {
	name string
	expr string
}{
	{"__NEXT_DATA__", "window.__NEXT_DATA__ || null"},
	{"__PRELOADED_STATE__", "window.__PRELOADED_STATE__ || null"},
	{"root.App.main", "(window.root && root.App && root.App.main) || null"},
	{"App.main", "(window.App && App.main) || null"},
	{"YAHOO.context", "(window.YAHOO && YAHOO.context) || null"},
}

// consentClickScript clicks the first visible, enabled button whose text or
// aria-label looks like a consent acceptance. Returns whether it clicked.
const consentClickScript = `(() => {
	const words = ["accept", "agree", "consent", "continue"];
	for (const b of document.querySelectorAll("button")) {
		const text = (b.textContent || "").toLowerCase();
		const label = (b.getAttribute("aria-label") || "").toLowerCase();
		if (!words.some((w) => text.includes(w) || label.includes(w))) continue;
		if (b.disabled) continue;
		const style = window.getComputedStyle(b);
		if (style.display === "none" || style.visibility === "hidden") continue;
		b.click();
		return true;
	}
	return false;
})()`

// Navigator drives a browser session through the screener page: opening it
// for a region, riding out consent interstitials, and pulling page source,
// cookies and runtime state back out for the extraction pipeline.
type Navigator struct {
	session *browser.Session
}

func NewNavigator(session *browser.Session) *Navigator {
	return &Navigator{session: session}
}

// Open loads the screener page filtered to a region via query parameters,
// which is far more stable than driving the filter UI. It fails when the
// browser ends up anywhere other than the screener.
func (n *Navigator) Open(region string) error {
	ctx, span := tracer.Start(n.session.Context(), "navigator:Open")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, n.session.Timeout())
	defer cancel()

	code, err := regions.Code(region)
	if err != nil {
		span.SetStatus(codes.Error, "unsupported region")
		return err
	}

	query := url.Values{}
	query.Set("region", code)
	pageURL := ScreenerPageURL + "?" + query.Encode()

	slog.Info("opening screener page", "region", region, "url", pageURL)
	err = chromedp.Run(ctx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		span.SetStatus(codes.Error, "navigation failed")
		return fmt.Errorf("open screener page: %w", err)
	}

	n.handleConsent(ctx)

	location, err := n.location(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "failed to read location")
		return fmt.Errorf("read location: %w", err)
	}
	if !strings.Contains(location, screenerURLMarker) {
		n.SaveArtifacts("unexpected_url")
		span.SetStatus(codes.Error, "landed off the screener")
		return fmt.Errorf("unexpected URL (not screener): %s", location)
	}

	slog.Info("screener open", "url", location)
	return nil
}

// PageSource returns the current serialized DOM.
func (n *Navigator) PageSource() (string, error) {
	ctx, span := tracer.Start(n.session.Context(), "navigator:PageSource")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, n.session.Timeout())
	defer cancel()

	var html string
	if err := chromedp.Run(ctx, chromedp.OuterHTML("html", &html)); err != nil {
		span.SetStatus(codes.Error, "failed to serialize page")
		return "", fmt.Errorf("read page source: %w", err)
	}
	return html, nil
}

// WaitForScreenerSeed polls until the page records its screener feed fetch
// in the DOM. Reports whether the seed appeared before the timeout.
func (n *Navigator) WaitForScreenerSeed() bool {
	ctx, span := tracer.Start(n.session.Context(), "navigator:WaitForScreenerSeed")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, n.session.Timeout())
	defer cancel()

	expr := fmt.Sprintf("!!document.querySelector(%q)", seedSelector)
	for {
		var found bool
		if err := chromedp.Run(ctx, chromedp.Evaluate(expr, &found)); err != nil {
			if ctx.Err() == nil {
				slog.Warn("seed wait failed", "err", err)
			}
			return false
		}
		if found {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(250 * time.Millisecond):
		}
	}
}

// ScreenerSeedFromDOM reads the recorded feed URL and response body straight
// from the live DOM, for when the serialized page source mangled them.
func (n *Navigator) ScreenerSeedFromDOM() (string, string) {
	ctx, span := tracer.Start(n.session.Context(), "navigator:ScreenerSeedFromDOM")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, n.session.Timeout())
	defer cancel()

	expr := fmt.Sprintf(`(() => {
		const node = document.querySelector(%q);
		if (!node) return null;
		return {url: node.getAttribute("data-url"), body: node.textContent};
	})()`, seedSelector)

	var seed struct {
		URL  string `json:"url"`
		Body string `json:"body"`
	}
	if err := chromedp.Run(ctx, chromedp.Evaluate(expr, &seed)); err != nil {
		slog.Warn("could not read screener seed from DOM", "err", err)
		return "", ""
	}
	return seed.URL, seed.Body
}

// Cookies exports the browser's cookie jar so HTTP clients can present the
// same session the page established.
func (n *Navigator) Cookies() ([]*http.Cookie, error) {
	ctx, span := tracer.Start(n.session.Context(), "navigator:Cookies")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, n.session.Timeout())
	defer cancel()

	var out []*http.Cookie
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := storage.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		for _, c := range cookies {
			out = append(out, &http.Cookie{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				Secure:   c.Secure,
				HttpOnly: c.HTTPOnly,
			})
		}
		return nil
	}))
	if err != nil {
		span.SetStatus(codes.Error, "failed to export cookies")
		return nil, fmt.Errorf("export cookies: %w", err)
	}
	return out, nil
}

// UserAgent reports the user agent the live page sees, falling back to the
// one the session was configured with.
func (n *Navigator) UserAgent() string {
	ctx, span := tracer.Start(n.session.Context(), "navigator:UserAgent")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, n.session.Timeout())
	defer cancel()

	var ua string
	if err := chromedp.Run(ctx, chromedp.Evaluate("navigator.userAgent", &ua)); err != nil || ua == "" {
		return n.session.UserAgent()
	}
	return ua
}

// RuntimeState asks the live page for its state globals directly, for pages
// that hydrate state at runtime instead of embedding JSON in the HTML.
// Returns nil when no global holds an object.
func (n *Navigator) RuntimeState() map[string]any {
	ctx, span := tracer.Start(n.session.Context(), "navigator:RuntimeState")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, n.session.Timeout())
	defer cancel()

	for _, g := range runtimeStateExprs {
		var value map[string]any
		if err := chromedp.Run(ctx, chromedp.Evaluate(g.expr, &value)); err != nil {
			continue
		}
		if len(value) == 0 {
			continue
		}
		slog.Info("runtime state found", "origin", g.name)
		return value
	}
	return nil
}

// SaveArtifacts snapshots the current page HTML and a screenshot under the
// given tag. Failures only log; artifact capture must never mask the error
// that triggered it.
func (n *Navigator) SaveArtifacts(tag string) {
	ctx, span := tracer.Start(n.session.Context(), "navigator:SaveArtifacts")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, n.session.Timeout())
	defer cancel()

	var html string
	if err := chromedp.Run(ctx, chromedp.OuterHTML("html", &html)); err != nil {
		slog.Warn("artifact page source failed", "tag", tag, "err", err)
	} else if path, err := artifacts.Save(tag, ".html", []byte(html)); err != nil {
		slog.Warn("artifact save failed", "tag", tag, "err", err)
	} else {
		slog.Info("saved page artifact", "path", path)
	}

	var shot []byte
	if err := chromedp.Run(ctx, chromedp.CaptureScreenshot(&shot)); err != nil {
		slog.Warn("artifact screenshot failed", "tag", tag, "err", err)
	} else if path, err := artifacts.Save(tag, ".png", shot); err != nil {
		slog.Warn("artifact save failed", "tag", tag, "err", err)
	} else {
		slog.Info("saved screenshot artifact", "path", path)
	}
}

func (n *Navigator) location(ctx context.Context) (string, error) {
	var location string
	if err := chromedp.Run(ctx, chromedp.Location(&location)); err != nil {
		return "", err
	}
	return location, nil
}

// handleConsent detects Yahoo's consent interstitial and clicks through it.
// Best-effort: a consent page we cannot dismiss surfaces later as an
// unexpected URL.
func (n *Navigator) handleConsent(ctx context.Context) {
	location, err := n.location(ctx)
	if err != nil {
		return
	}
	lower := strings.ToLower(location)
	hint := strings.Contains(lower, "consent") || strings.Contains(lower, "guce")
	if !hint {
		var framed bool
		expr := `!!document.querySelector("iframe[src*='consent'],iframe[src*='guce']")`
		if err := chromedp.Run(ctx, chromedp.Evaluate(expr, &framed)); err == nil {
			hint = framed
		}
	}
	if !hint {
		return
	}

	slog.Info("consent flow detected", "url", location)
	var clicked bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(consentClickScript, &clicked)); err != nil {
		slog.Warn("consent click failed", "err", err)
		return
	}
	if !clicked {
		slog.Warn("no consent button matched")
		return
	}
	if err := chromedp.Run(ctx, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		slog.Warn("post-consent wait failed", "err", err)
		return
	}
	slog.Info("consent accepted")
}
