// Package crawl runs one screener crawl end to end: open the page in a
// browser, page through the JSON feed seeded from it, fall back to the
// page's embedded state when the feed yields nothing, enrich the rows and
// write the CSV.
package crawl

import (
	"context"
	"equity-crawler/lib/artifacts"
	"equity-crawler/lib/browser"
	"equity-crawler/lib/regions"
	"equity-crawler/lib/scrapers/yahoo"
	"equity-crawler/lib/scrapers/yahoo/quote"
	"equity-crawler/lib/scrapers/yahoo/screener"
	"equity-crawler/lib/telemetry"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/codes"
)

var tracer = telemetry.Tracer("equitycrawler.services.crawl")

// Options configure one crawl run. Region takes a name ("Brazil") or a two
// letter code; the CSV region column echoes it back untouched.
type Options struct {
	Region     string
	Output     string
	Strict     bool
	Headless   bool
	ChromePath string
	Timeout    time.Duration
}

// Result reports what a run produced, for summaries. The CSV on disk is
// the real output.
type Result struct {
	Rows           []yahoo.EquityRow
	Source         string
	ScreenerStats  *screener.Stats
	EnrichStats    *quote.Stats
	EmptyCurrency  int
	EmptyMarketCap int
	OutputPath     string
}

// Run performs the crawl. Rows come from the paginated feed when possible;
// otherwise they are parsed out of the page state, from static HTML first
// and the live page's runtime globals second.
func Run(ctx context.Context, opts Options) (Result, error) {
	ctx, span := tracer.Start(ctx, "crawl:Run")
	defer span.End()

	slog.Info("starting crawl", "region", opts.Region, "output", opts.Output)

	regionCode, err := regions.Code(opts.Region)
	if err != nil {
		span.SetStatus(codes.Error, "unsupported region")
		return Result{}, err
	}

	session, err := browser.NewSession(ctx, browser.Options{
		Headless:   opts.Headless,
		Timeout:    opts.Timeout,
		ChromePath: opts.ChromePath,
	})
	if err != nil {
		span.SetStatus(codes.Error, "browser launch failed")
		return Result{}, err
	}
	defer session.Close()

	nav := yahoo.NewNavigator(session)
	if err := nav.Open(opts.Region); err != nil {
		span.SetStatus(codes.Error, "navigation failed")
		return Result{}, err
	}

	if !nav.WaitForScreenerSeed() {
		slog.Warn("screener seed not detected in DOM after wait")
	}

	pageSource, err := nav.PageSource()
	if err != nil {
		span.SetStatus(codes.Error, "page source failed")
		return Result{}, err
	}
	if path, err := artifacts.Save("last_page", ".html", []byte(pageSource)); err != nil {
		slog.Warn("could not save page snapshot", "err", err)
	} else {
		slog.Info("saved page snapshot", "path", path)
	}
	slog.Info("page source loaded", "chars", len(pageSource))

	userAgent := nav.UserAgent()
	cookies, err := nav.Cookies()
	if err != nil {
		slog.Warn("could not export browser cookies", "err", err)
	}

	seedURL, criteria := yahoo.ExtractScreenerSeed(pageSource)
	if seedURL == "" {
		domURL, domBody := nav.ScreenerSeedFromDOM()
		if domURL != "" {
			seedURL = domURL
			if domBody != "" {
				criteria = yahoo.ParseScreenerSeedBody(domBody)
			}
			slog.Info("screener seed recovered from DOM")
		}
	}
	if seedURL == "" {
		seedURL = screener.FeedURL
		slog.Warn("screener seed missing, using default screener criteria")
	}

	var result Result
	var rows []yahoo.EquityRow
	source := "html"

	if criteria != nil {
		slog.Info("screener criteria found", "region", opts.Region)
	}
	feed := screener.NewClient(screener.Options{
		Region:    regionCode,
		UserAgent: userAgent,
		Cookies:   cookies,
		BaseURL:   seedURL,
		Criteria:  criteria,
	})
	feedRows, feedStats, err := feed.FetchAll(ctx)
	switch {
	case err != nil:
		slog.Error("screener pagination failed, falling back to HTML", "err", err)
	case len(feedRows) == 0:
		slog.Warn("screener pagination returned no rows, falling back to HTML")
	default:
		rows = feedRows
		source = "screener_api"
		result.ScreenerStats = &feedStats
		slog.Info("screener pagination done",
			"pages", feedStats.Pages,
			"total_items", feedStats.TotalItems,
			"unique", feedStats.UniqueSymbols,
			"dup", feedStats.Duplicates,
			"total_expected", feedStats.TotalExpected,
			"elapsed", feedStats.Elapsed,
		)
	}

	if len(rows) == 0 {
		rows, source, err = extractFromState(nav, pageSource)
		if err != nil {
			span.SetStatus(codes.Error, "state extraction failed")
			return Result{}, err
		}
	}

	quotes := quote.NewClient(quote.Options{
		Region:    regionCode,
		UserAgent: userAgent,
		Cookies:   cookies,
	})
	rows, enrichStats := quotes.EnrichRows(ctx, rows)
	result.EnrichStats = &enrichStats
	slog.Info("quote enrichment done",
		"symbols", enrichStats.TotalSymbols,
		"batches", enrichStats.Batches,
		"currency", enrichStats.EnrichedCurrency,
		"market_cap", enrichStats.EnrichedMarketCap,
		"failures", enrichStats.Failures,
		"elapsed", enrichStats.Elapsed,
	)

	for _, row := range rows {
		if row.Currency == "" {
			result.EmptyCurrency++
		}
		if !yahoo.Truthy(row.MarketCap) {
			result.EmptyMarketCap++
		}
	}
	slog.Info("extracted rows",
		"total", len(rows),
		"source", source,
		"empty_currency", result.EmptyCurrency,
		"empty_market_cap", result.EmptyMarketCap,
	)

	if err := WriteCSV(rows, opts.Output, opts.Region, opts.Strict); err != nil {
		span.SetStatus(codes.Error, "csv write failed")
		return Result{}, err
	}
	slog.Info("csv generated", "path", opts.Output)

	result.Rows = rows
	result.Source = source
	result.OutputPath = opts.Output
	return result, nil
}

// extractFromState parses rows out of the page state. Static HTML is
// authoritative; the live page's runtime globals are consulted when the
// HTML has no state or its state fails to parse.
func extractFromState(nav *yahoo.Navigator, pageSource string) ([]yahoo.EquityRow, string, error) {
	stateSource := "html"
	var state map[string]any

	state, err := yahoo.LocateState(pageSource)
	if err != nil {
		err = withStateDiagnostics(err, pageSource)
		slog.Warn("embedded state not found in page", "err", err)
		state = nav.RuntimeState()
		stateSource = "runtime"
		if state == nil {
			return nil, "", err
		}
	}

	items, err := yahoo.ExtractQuotes(state)
	if err != nil {
		slog.Warn("could not parse quotes from state", "state_source", stateSource, "err", err)
		runtimeState := nav.RuntimeState()
		if len(runtimeState) > 0 && stateSource != "runtime" {
			state = runtimeState
			stateSource = "runtime"
			items, err = yahoo.ExtractQuotes(state)
			if err != nil {
				return nil, "", err
			}
		} else {
			saveParseFailState(state)
			return nil, "", err
		}
	}
	return yahoo.NormalizeEquities(items), stateSource, nil
}

// withStateDiagnostics saves a script-tag report for a page whose state
// could not be located and points the error at it.
func withStateDiagnostics(err error, pageSource string) error {
	report := yahoo.BuildParseFailReport(pageSource)
	path, saveErr := artifacts.SaveJSON("parse_fail_state", report)
	if saveErr != nil {
		slog.Warn("could not save parse failure report", "err", saveErr)
		return err
	}
	return fmt.Errorf("%w; saved parse artifacts at %s", err, path)
}

// saveParseFailState records a summary of a state tree whose quote list
// could not be found.
func saveParseFailState(state map[string]any) {
	summary := yahoo.SummarizeState(state)
	path, err := artifacts.SaveJSON("parse_fail_state", summary)
	if err != nil {
		slog.Warn("could not save parse failure state", "err", err)
	} else {
		slog.Error("saved parse failure state", "path", path)
	}
	slog.Error("state keys", "top", summary.TopLevelKeys, "stores", summary.StoresKeys)
}
