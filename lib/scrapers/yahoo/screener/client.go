// Package screener pages through Yahoo's screener JSON feed, deduplicates
// the listings by symbol and normalizes them into rows for the crawl
// pipeline.
package screener

import (
	"context"
	"encoding/json"
	"equity-crawler/lib/jsontree"
	"equity-crawler/lib/scrapers/yahoo"
	"equity-crawler/lib/telemetry"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/codes"
)

var tracer = telemetry.Tracer("equitycrawler.scrapers.yahoo.screener")

// FeedURL is the fixed endpoint for criteria queries. Seed URLs found in
// the page may point elsewhere; those are only used in GET mode.
const FeedURL = "https://query1.finance.yahoo.com/v1/finance/screener"

const (
	defaultCount       = 25
	defaultMaxPages    = 2000
	defaultMaxItems    = 100000
	defaultMaxAttempts = 5
)

// Stats summarize one full screener crawl.
type Stats struct {
	TotalItems    int
	UniqueSymbols int
	Duplicates    int
	Pages         int
	TotalExpected int // -1 when the feed never reported a total
	Elapsed       time.Duration
}

// Options configure a screener Client. Region must already be a two letter
// code. BaseURL is the seed URL lifted from the page; its query parameters
// carry over to GET mode requests. A nil Criteria selects the default
// region query (POST mode), a non-nil empty one switches to GET mode.
type Options struct {
	Region      string
	UserAgent   string
	Cookies     []*http.Cookie
	BaseURL     string
	Criteria    map[string]any
	Timeout     time.Duration
	Count       int
	MaxPages    int
	MaxItems    int
	MaxAttempts int
}

type Client struct {
	client      *resty.Client
	region      string
	baseURL     string
	baseParams  map[string]string
	criteria    map[string]any
	count       int
	maxPages    int
	maxItems    int
	maxAttempts int
	crumb       string
	lastTotal   int
	hasTotal    bool
}

func NewClient(opts Options) *Client {
	baseURL, baseParams := splitFeedURL(opts.BaseURL)
	if baseURL == "" {
		baseURL = FeedURL
	}

	var criteria map[string]any
	if opts.Criteria == nil {
		criteria = defaultCriteria(opts.Region)
	} else {
		criteria = prepareCriteria(opts.Criteria, opts.Region)
	}

	count := opts.Count
	if count <= 0 {
		count = defaultCount
	}
	if text, ok := baseParams["count"]; ok {
		if n, err := strconv.Atoi(text); err == nil {
			count = n
		}
	}

	maxPages := opts.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	maxItems := opts.MaxItems
	if maxItems <= 0 {
		maxItems = defaultMaxItems
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	return &Client{
		client: yahoo.NewAPIClient(yahoo.APIClientOptions{
			Region:    opts.Region,
			UserAgent: opts.UserAgent,
			Cookies:   opts.Cookies,
			Timeout:   opts.Timeout,
		}),
		region:      opts.Region,
		baseURL:     baseURL,
		baseParams:  baseParams,
		criteria:    criteria,
		count:       count,
		maxPages:    maxPages,
		maxItems:    maxItems,
		maxAttempts: maxAttempts,
	}
}

// FetchPage requests one page of listings starting at the given offset.
// Criteria queries POST against FeedURL, otherwise the seed URL is paged
// with start/count query parameters.
func (c *Client) FetchPage(ctx context.Context, start int) ([]any, error) {
	ctx, span := tracer.Start(ctx, "screener:FetchPage")
	defer span.End()

	var res *resty.Response
	var err error
	var params map[string]string
	if len(c.criteria) > 0 {
		params = filterParams(c.baseParams)
		params["region"] = c.region
		if c.crumb != "" {
			params["crumb"] = c.crumb
		}
		criteria := applyPaging(c.criteria, start, c.count)
		res, err = yahoo.RequestWithRetry(ctx, c.client, http.MethodPost, FeedURL, params, criteria, c.maxAttempts, "screener")
	} else {
		params = make(map[string]string, len(c.baseParams)+4)
		for key, value := range c.baseParams {
			params[key] = value
		}
		params["region"] = c.region
		if c.crumb != "" {
			params["crumb"] = c.crumb
		}
		params["start"] = strconv.Itoa(start)
		params["count"] = strconv.Itoa(c.count)
		res, err = yahoo.RequestWithRetry(ctx, c.client, http.MethodGet, c.baseURL, params, nil, c.maxAttempts, "screener")
	}
	if err != nil {
		span.SetStatus(codes.Error, "request failed")
		return nil, err
	}
	if res.StatusCode() != http.StatusOK {
		yahoo.SaveHTTPArtifact("screener", res, c.baseURL, params)
		span.SetStatus(codes.Error, "unexpected status")
		return nil, fmt.Errorf("screener answered status %d", res.StatusCode())
	}

	var payload any
	if err := json.Unmarshal(res.Body(), &payload); err != nil {
		yahoo.SaveDecodeArtifact("screener", c.baseURL, params, res.String(), err)
		span.SetStatus(codes.Error, "bad json")
		return nil, fmt.Errorf("decode screener response: %w", err)
	}

	items, err := extractItems(payload)
	if err != nil {
		span.SetStatus(codes.Error, "bad payload")
		return nil, err
	}
	c.lastTotal, c.hasTotal = extractTotal(payload)
	return items, nil
}

// FetchAll pages through the feed until it runs dry. Listings are
// deduplicated by symbol, first occurrence wins, and row order follows the
// feed. Paging stops on an empty or short page, when a page brings nothing
// new, or once the reported total is covered.
func (c *Client) FetchAll(ctx context.Context) ([]yahoo.EquityRow, Stats, error) {
	ctx, span := tracer.Start(ctx, "screener:FetchAll")
	defer span.End()

	began := time.Now()
	c.crumb = yahoo.FetchCrumb(ctx, c.client, c.region, c.maxAttempts, "screener")
	if c.crumb == "" {
		slog.Warn("screener crumb not available, requests may fail")
	}

	var rows []yahoo.EquityRow
	seen := make(map[string]struct{})
	stats := Stats{TotalExpected: -1}
	haveTotal := false

	offset := 0
	for stats.Pages < c.maxPages && len(seen) < c.maxItems {
		records, err := c.FetchPage(ctx, offset)
		if err != nil {
			span.SetStatus(codes.Error, "page fetch failed")
			return nil, Stats{}, err
		}
		items := len(records)
		stats.TotalItems += items
		if !haveTotal && c.hasTotal {
			stats.TotalExpected = c.lastTotal
			haveTotal = true
		}
		stats.Pages++
		if items == 0 {
			slog.Info("screener page empty", "page", stats.Pages-1, "start", offset)
			break
		}

		newItems := 0
		pageDups := 0
		for _, record := range records {
			row, ok := normalizeItem(record)
			if !ok {
				continue
			}
			if _, dup := seen[row.Symbol]; dup {
				stats.Duplicates++
				pageDups++
				continue
			}
			seen[row.Symbol] = struct{}{}
			rows = append(rows, row)
			newItems++
		}

		slog.Info("screener page",
			"page", stats.Pages-1,
			"start", offset,
			"count", c.count,
			"items", items,
			"new", newItems,
			"dup", pageDups,
			"total_unique", len(seen),
		)

		if items < c.count || newItems == 0 {
			break
		}
		if haveTotal && offset+c.count >= stats.TotalExpected {
			break
		}
		offset += c.count
	}

	stats.UniqueSymbols = len(seen)
	stats.Elapsed = time.Since(began)
	return rows, stats, nil
}

func normalizeItem(item any) (yahoo.EquityRow, bool) {
	m, ok := jsontree.Map(item)
	if !ok {
		return yahoo.EquityRow{}, false
	}
	sym := m["ticker"]
	if !yahoo.Truthy(sym) {
		sym = m["symbol"]
	}
	if !yahoo.Truthy(sym) {
		return yahoo.EquityRow{}, false
	}
	symText := yahoo.Text(sym)
	if symText == "" {
		return yahoo.EquityRow{}, false
	}
	return yahoo.EquityRow{
		Symbol:    symText,
		Name:      yahoo.Text(yahoo.FirstNonEmpty(m, "companyName", "shortName", "longName", "name")),
		Exchange:  yahoo.Text(yahoo.FirstNonEmpty(m, "exchange", "fullExchangeName")),
		MarketCap: yahoo.NormalizeValue(m["marketCap"]),
		Price:     yahoo.PriceValue(m, symText),
		Currency:  yahoo.Text(yahoo.FirstNonEmpty(m, "currency", "financialCurrency")),
	}, true
}

func extractItems(payload any) ([]any, error) {
	raw, ok := jsontree.Get(payload, "finance", "result")
	if !ok {
		return nil, fmt.Errorf("screener payload missing finance.result list")
	}
	result, ok := jsontree.List(raw)
	if !ok || len(result) == 0 {
		return nil, fmt.Errorf("screener payload missing finance.result list")
	}
	root, ok := jsontree.Map(result[0])
	if !ok {
		return nil, fmt.Errorf("screener payload root is not an object")
	}
	items := root["records"]
	if !yahoo.Truthy(items) {
		items = root["quotes"]
	}
	if m, ok := jsontree.Map(items); ok {
		return jsontree.SortedValues(m), nil
	}
	list, ok := jsontree.List(items)
	if !ok {
		return nil, fmt.Errorf("screener payload missing records/quotes list")
	}
	return list, nil
}

func extractTotal(payload any) (int, bool) {
	raw, ok := jsontree.Get(payload, "finance", "result")
	if !ok {
		return 0, false
	}
	result, ok := jsontree.List(raw)
	if !ok || len(result) == 0 {
		return 0, false
	}
	root, ok := jsontree.Map(result[0])
	if !ok {
		return 0, false
	}
	switch total := root["total"].(type) {
	case float64:
		return int(total), true
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(total)); err == nil {
			return n, true
		}
	}
	return 0, false
}

// splitFeedURL separates a seed URL into its base and query parameters,
// keeping the first value of each parameter. HTML-escaped ampersands
// survive in copied seed URLs, so they are unescaped first.
func splitFeedURL(raw string) (string, map[string]string) {
	raw = strings.ReplaceAll(raw, "&amp;", "&")
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw, map[string]string{}
	}
	params := map[string]string{}
	for key, values := range parsed.Query() {
		if len(values) > 0 && values[0] != "" {
			params[key] = values[0]
		}
	}
	base := url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: parsed.Path}
	return base.String(), params
}

func filterParams(base map[string]string) map[string]string {
	filtered := map[string]string{"formatted": "true", "lang": "en-US"}
	for _, key := range []string{"formatted", "lang", "region", "corsDomain"} {
		if value, ok := base[key]; ok {
			filtered[key] = value
		}
	}
	return filtered
}

func defaultCriteria(region string) map[string]any {
	return map[string]any{
		"offset":    0,
		"size":      25,
		"sortType":  "DESC",
		"sortField": "intradaymarketcap",
		"quoteType": "EQUITY",
		"query": map[string]any{
			"operator": "and",
			"operands": []any{
				map[string]any{
					"operator": "eq",
					"operands": []any{"region", strings.ToLower(region)},
				},
			},
		},
	}
}

func prepareCriteria(criteria map[string]any, region string) map[string]any {
	cloned := cloneCriteria(criteria)
	ensureRegionFilter(cloned, strings.ToLower(region))
	return cloned
}

func cloneCriteria(criteria map[string]any) map[string]any {
	encoded, err := json.Marshal(criteria)
	if err != nil {
		return map[string]any{}
	}
	var cloned map[string]any
	if err := json.Unmarshal(encoded, &cloned); err != nil {
		return map[string]any{}
	}
	return cloned
}

func applyPaging(criteria map[string]any, start int, count int) map[string]any {
	cloned := cloneCriteria(criteria)
	cloned["offset"] = start
	cloned["size"] = count
	return cloned
}

// ensureRegionFilter pins the region equality filter inside the criteria
// query, updating an existing one or appending a new operand.
func ensureRegionFilter(criteria map[string]any, region string) {
	query, ok := jsontree.Map(criteria["query"])
	if !ok {
		return
	}
	operands, ok := jsontree.List(query["operands"])
	if !ok {
		return
	}
	for _, operand := range operands {
		m, ok := jsontree.Map(operand)
		if !ok {
			continue
		}
		if op, _ := jsontree.Str(m["operator"]); op != "eq" {
			continue
		}
		values, ok := jsontree.List(m["operands"])
		if !ok || len(values) < 2 {
			continue
		}
		if name, _ := jsontree.Str(values[0]); name == "region" {
			values[1] = region
			return
		}
	}
	query["operands"] = append(operands, map[string]any{
		"operator": "eq",
		"operands": []any{"region", region},
	})
}
