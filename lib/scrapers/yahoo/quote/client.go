// Package quote backfills currency and market cap on screener rows from
// Yahoo's batch quote feed. Everything here is best effort: a failed batch
// costs the rows it would have enriched, never the crawl.
package quote

import (
	"context"
	"encoding/json"
	"equity-crawler/lib/jsontree"
	"equity-crawler/lib/money"
	"equity-crawler/lib/scrapers/yahoo"
	"equity-crawler/lib/telemetry"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/codes"
)

var tracer = telemetry.Tracer("equitycrawler.scrapers.yahoo.quote")

const FeedURL = "https://query1.finance.yahoo.com/v7/finance/quote"

const (
	defaultBatchSize   = 50
	defaultMaxAttempts = 5
)

// Stats summarize one enrichment pass.
type Stats struct {
	TotalSymbols      int
	Batches           int
	EnrichedCurrency  int
	EnrichedMarketCap int
	Failures          int
	Elapsed           time.Duration
}

// Options configure a quote Client. Region must already be a two letter
// code.
type Options struct {
	Region      string
	UserAgent   string
	Cookies     []*http.Cookie
	Timeout     time.Duration
	BatchSize   int
	MaxAttempts int
}

type Client struct {
	client      *resty.Client
	region      string
	batchSize   int
	maxAttempts int
}

func NewClient(opts Options) *Client {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
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
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
	}
}

// Crumb fetches the anti-CSRF token for the quote feed, "" when it cannot
// be obtained.
func (c *Client) Crumb(ctx context.Context) string {
	ctx, span := tracer.Start(ctx, "quote:Crumb")
	defer span.End()

	return yahoo.FetchCrumb(ctx, c.client, c.region, c.maxAttempts, "quote")
}

// FetchQuotes asks the feed for a batch of symbols and maps the results by
// symbol. Any failure saves an artifact and yields an empty map.
func (c *Client) FetchQuotes(ctx context.Context, symbols []string, crumb string) map[string]map[string]any {
	ctx, span := tracer.Start(ctx, "quote:FetchQuotes")
	defer span.End()

	params := map[string]string{"symbols": strings.Join(symbols, ",")}
	if crumb != "" {
		params["crumb"] = crumb
	}
	res, err := yahoo.RequestWithRetry(ctx, c.client, http.MethodGet, FeedURL, params, nil, c.maxAttempts, "quote")
	if err != nil {
		span.SetStatus(codes.Error, "request failed")
		return nil
	}
	if res.StatusCode() != http.StatusOK {
		yahoo.SaveHTTPArtifact("quote", res, FeedURL, params)
		span.SetStatus(codes.Error, "unexpected status")
		return nil
	}

	var payload any
	if err := json.Unmarshal(res.Body(), &payload); err != nil {
		yahoo.SaveHTTPArtifact("quote", res, FeedURL, params)
		span.SetStatus(codes.Error, "bad json")
		return nil
	}

	quotes := make(map[string]map[string]any)
	if raw, ok := jsontree.Get(payload, "quoteResponse", "result"); ok {
		results, _ := jsontree.List(raw)
		for _, item := range results {
			m, ok := jsontree.Map(item)
			if !ok {
				continue
			}
			if symbol := yahoo.Text(m["symbol"]); symbol != "" {
				quotes[symbol] = m
			}
		}
	}
	return quotes
}

// EnrichRows fills empty currency and market cap fields of the rows in
// place and reports how much it managed to fill.
func (c *Client) EnrichRows(ctx context.Context, rows []yahoo.EquityRow) ([]yahoo.EquityRow, Stats) {
	ctx, span := tracer.Start(ctx, "quote:EnrichRows")
	defer span.End()

	began := time.Now()
	var symbols []string
	for _, row := range rows {
		if row.Symbol != "" {
			symbols = append(symbols, row.Symbol)
		}
	}
	if len(symbols) == 0 {
		return rows, Stats{}
	}

	stats := Stats{TotalSymbols: len(symbols)}
	crumb := c.Crumb(ctx)

	quoteMap := make(map[string]map[string]any)
	for start := 0; start < len(symbols); start += c.batchSize {
		end := min(start+c.batchSize, len(symbols))
		stats.Batches++
		quotes := c.FetchQuotes(ctx, symbols[start:end], crumb)
		if len(quotes) == 0 {
			stats.Failures++
		}
		for symbol, m := range quotes {
			quoteMap[symbol] = m
		}
	}

	for i := range rows {
		m := quoteMap[rows[i].Symbol]
		if len(m) == 0 {
			continue
		}
		currency := yahoo.Text(yahoo.FirstNonEmpty(m, "currency", "financialCurrency"))
		if currency != "" && rows[i].Currency == "" {
			rows[i].Currency = currency
			stats.EnrichedCurrency++
		}
		marketCap := canonicalMarketCap(m["marketCap"])
		if marketCap != "" && !yahoo.Truthy(rows[i].MarketCap) {
			rows[i].MarketCap = marketCap
			stats.EnrichedMarketCap++
		}
	}

	stats.Elapsed = time.Since(began)
	return rows, stats
}

func canonicalMarketCap(value any) string {
	if m, ok := jsontree.Map(value); ok {
		value = m["raw"]
		if !yahoo.Truthy(value) {
			value = m["fmt"]
		}
	}
	text, ok := money.CanonicalCap(value)
	if !ok {
		return ""
	}
	return text
}
