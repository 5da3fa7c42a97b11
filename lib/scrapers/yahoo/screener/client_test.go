package screener

import (
	"context"
	"encoding/json"
	"equity-crawler/lib/artifacts"
	"equity-crawler/lib/scrapers/yahoo"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

const screenerPage0 = `{
  "finance": {"result": [{
    "start": 0, "count": 2, "total": 3,
    "records": [
      {"symbol": "AAA", "companyName": "Alpha Industries", "exchange": "BUE",
       "regularMarketPrice": {"raw": 10, "fmt": "10.00"},
       "marketCap": {"raw": 100, "fmt": "100"}, "currency": "ARS"},
      {"ticker": "BBB", "shortName": "Beta Group", "fullExchangeName": "Buenos Aires",
       "regularMarketPrice": {"fmt": "20.50"},
       "marketCap": {"raw": 200, "fmt": "200"}, "financialCurrency": "EUR"}
    ]
  }]}
}`

const screenerPage2 = `{
  "finance": {"result": [{
    "start": 2, "count": 2, "total": 3,
    "records": [
      {"symbol": "CCC", "name": "Gamma Corp", "exchange": "BUE", "price": 7.5},
      {"symbol": "AAA", "companyName": "Alpha Industries", "exchange": "BUE",
       "regularMarketPrice": {"raw": 10, "fmt": "10.00"}}
    ]
  }]}
}`

func TestFetchAllDedupAndStop(t *testing.T) {
	client := NewClient(Options{
		Region:  "AR",
		BaseURL: "https://query1.finance.yahoo.com/v1/finance/screener/predefined/saved?count=2&start=0&region=AR",
	})
	client.client.SetTransport(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if strings.Contains(req.URL.Path, "getcrumb") {
			return jsonResponse(http.StatusOK, "test-crumb"), nil
		}
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		var criteria map[string]any
		if err := json.Unmarshal(body, &criteria); err != nil {
			return nil, err
		}
		offset, _ := criteria["offset"].(float64)
		switch int(offset) {
		case 0:
			return jsonResponse(http.StatusOK, screenerPage0), nil
		case 2:
			return jsonResponse(http.StatusOK, screenerPage2), nil
		}
		return jsonResponse(http.StatusOK, `{"finance":{"result":[{"total":3,"records":[]}]}}`), nil
	}))

	rows, stats, err := client.FetchAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	require.Equal(t, 2, stats.Pages)
	require.Equal(t, 1, stats.Duplicates)
	require.Equal(t, 3, stats.UniqueSymbols)
	require.Equal(t, 3, stats.TotalExpected)
	require.Equal(t, 4, stats.TotalItems)

	expect := []yahoo.EquityRow{
		{Symbol: "AAA", Name: "Alpha Industries", Exchange: "BUE", MarketCap: float64(100), Price: float64(10), Currency: "ARS"},
		{Symbol: "BBB", Name: "Beta Group", Exchange: "Buenos Aires", MarketCap: float64(200), Price: "20.50", Currency: "EUR"},
		{Symbol: "CCC", Name: "Gamma Corp", Exchange: "BUE", Price: 7.5},
	}
	if diff := cmp.Diff(expect, rows); diff != "" {
		t.Fatal(diff)
	}
}

func TestFetchAllStopsWhenNothingNew(t *testing.T) {
	client := NewClient(Options{Region: "AR", Count: 2})
	client.client.SetTransport(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if strings.Contains(req.URL.Path, "getcrumb") {
			return jsonResponse(http.StatusOK, "test-crumb"), nil
		}
		return jsonResponse(http.StatusOK, screenerPage0), nil
	}))

	rows, stats, err := client.FetchAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	require.Len(t, rows, 2)
	require.Equal(t, 2, stats.Pages)
	require.Equal(t, 2, stats.Duplicates)
}

func TestFetchPageGetMode(t *testing.T) {
	var gotURL *http.Request
	client := NewClient(Options{
		Region:   "BR",
		BaseURL:  "https://example.com/feed/saved?count=2&start=0&region=BR&scrIds=most_actives",
		Criteria: map[string]any{},
	})
	client.client.SetTransport(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		gotURL = req
		return jsonResponse(http.StatusOK, screenerPage0), nil
	}))

	items, err := client.FetchPage(context.Background(), 4)
	if err != nil {
		t.Fatal(err)
	}
	require.Len(t, items, 2)

	require.Equal(t, http.MethodGet, gotURL.Method)
	require.Equal(t, "/feed/saved", gotURL.URL.Path)
	query := gotURL.URL.Query()
	require.Equal(t, "4", query.Get("start"))
	require.Equal(t, "2", query.Get("count"))
	require.Equal(t, "BR", query.Get("region"))
	require.Equal(t, "most_actives", query.Get("scrIds"))
}

func TestFetchPageBadStatus(t *testing.T) {
	artifacts.SetRoot(t.TempDir())

	client := NewClient(Options{Region: "AR"})
	client.client.SetTransport(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusNotFound, `{"finance":{"error":"no such screener"}}`), nil
	}))

	_, err := client.FetchPage(context.Background(), 0)
	require.ErrorContains(t, err, "status 404")
}

func TestNormalizeItemRequiresSymbol(t *testing.T) {
	_, ok := normalizeItem(map[string]any{"companyName": "No Symbol Inc"})
	require.False(t, ok)

	_, ok = normalizeItem(map[string]any{"ticker": false, "symbol": ""})
	require.False(t, ok)

	row, ok := normalizeItem(map[string]any{"ticker": "TICK", "symbol": "IGNORED"})
	require.True(t, ok)
	require.Equal(t, "TICK", row.Symbol)
}

func TestExtractItemsQuotesObject(t *testing.T) {
	var payload any
	err := json.Unmarshal([]byte(`{
	  "finance": {"result": [{
	    "records": [],
	    "quotes": {"b": {"symbol": "B"}, "a": {"symbol": "A"}},
	    "total": "7"
	  }]}
	}`), &payload)
	if err != nil {
		t.Fatal(err)
	}

	items, err := extractItems(payload)
	require.NoError(t, err)
	require.Len(t, items, 2)
	first, _ := items[0].(map[string]any)
	require.Equal(t, "A", first["symbol"])

	total, ok := extractTotal(payload)
	require.True(t, ok)
	require.Equal(t, 7, total)
}

func TestExtractItemsErrors(t *testing.T) {
	cases := []struct {
		payload string
		expect  string
	}{
		{`{}`, "missing finance.result list"},
		{`{"finance":{"result":[]}}`, "missing finance.result list"},
		{`{"finance":{"result":["scalar"]}}`, "root is not an object"},
		{`{"finance":{"result":[{"records":null,"quotes":42}]}}`, "missing records/quotes list"},
	}
	for _, test := range cases {
		var payload any
		err := json.Unmarshal([]byte(test.payload), &payload)
		if err != nil {
			t.Fatal(err)
		}
		_, err = extractItems(payload)
		require.ErrorContains(t, err, test.expect)
	}
}

func TestSplitFeedURL(t *testing.T) {
	base, params := splitFeedURL(
		"https://query1.finance.yahoo.com/v1/finance/screener/predefined/saved?count=25&amp;start=0&region=AR&blank=")
	require.Equal(t, "https://query1.finance.yahoo.com/v1/finance/screener/predefined/saved", base)
	require.Equal(t, map[string]string{"count": "25", "start": "0", "region": "AR"}, params)
}

func TestCountOverrideFromSeedURL(t *testing.T) {
	client := NewClient(Options{Region: "AR", BaseURL: "https://example.com/feed?count=100"})
	require.Equal(t, 100, client.count)

	client = NewClient(Options{Region: "AR", Count: 50})
	require.Equal(t, 50, client.count)

	client = NewClient(Options{Region: "AR"})
	require.Equal(t, defaultCount, client.count)
}

func TestDefaultCriteriaRegion(t *testing.T) {
	criteria := defaultCriteria("AR")
	encoded, err := json.Marshal(criteria)
	if err != nil {
		t.Fatal(err)
	}
	require.Contains(t, string(encoded), `["region","ar"]`)
	require.Equal(t, "EQUITY", criteria["quoteType"])
}

func TestEnsureRegionFilter(t *testing.T) {
	criteria := map[string]any{
		"query": map[string]any{
			"operator": "and",
			"operands": []any{
				map[string]any{"operator": "eq", "operands": []any{"region", "us"}},
			},
		},
	}
	ensureRegionFilter(criteria, "br")
	operands, _ := criteria["query"].(map[string]any)["operands"].([]any)
	filter, _ := operands[0].(map[string]any)
	require.Equal(t, []any{"region", "br"}, filter["operands"])

	criteria = map[string]any{
		"query": map[string]any{
			"operator": "and",
			"operands": []any{
				map[string]any{"operator": "gt", "operands": []any{"intradaymarketcap", 1000000.0}},
			},
		},
	}
	ensureRegionFilter(criteria, "br")
	operands, _ = criteria["query"].(map[string]any)["operands"].([]any)
	require.Len(t, operands, 2)
	appended, _ := operands[1].(map[string]any)
	require.Equal(t, "eq", appended["operator"])
	require.Equal(t, []any{"region", "br"}, appended["operands"])
}

func TestApplyPagingLeavesOriginal(t *testing.T) {
	criteria := defaultCriteria("ar")
	paged := applyPaging(criteria, 50, 25)
	require.Equal(t, 50, paged["offset"])
	require.Equal(t, 25, paged["size"])
	require.Equal(t, 0, criteria["offset"])
}
