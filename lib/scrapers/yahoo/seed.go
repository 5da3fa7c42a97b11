package yahoo

import (
	"encoding/json"
	"equity-crawler/lib/jsontree"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExtractScreenerSeed finds the screener feed request that the page itself
// made while rendering: a script tag recording the fetched URL and response
// body. The URL seeds the paginated feed client; the body, when present,
// carries the exact filter criteria the page used. Both are best-effort,
// the caller has fallbacks for either being absent.
func ExtractScreenerSeed(pageSource string) (string, map[string]any) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageSource))
	if err != nil {
		slog.Debug("seed extraction could not parse page", "err", err)
		return "", nil
	}

	var seedURL string
	var criteria map[string]any
	doc.Find("script[data-sveltekit-fetched]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		dataURL := s.AttrOr("data-url", "")
		if dataURL == "" || !strings.Contains(dataURL, "predefined/saved") {
			return true
		}
		seedURL = dataURL
		if body := strings.TrimSpace(s.Text()); body != "" {
			criteria = ParseScreenerSeedBody(body)
		}
		return false
	})
	return seedURL, criteria
}

// ParseScreenerSeedBody digs the filter criteria out of a recorded feed
// response: the response envelope holds a JSON string under "body", whose
// first result carries the criteria as yet another JSON string. Any layer
// failing to parse yields nil.
func ParseScreenerSeedBody(body string) map[string]any {
	var outer any
	if err := json.Unmarshal([]byte(body), &outer); err != nil {
		return nil
	}
	m, ok := jsontree.Map(outer)
	if !ok {
		return nil
	}
	rawBody, ok := jsontree.Str(m["body"])
	if !ok {
		return nil
	}
	var payload any
	if err := json.Unmarshal([]byte(rawBody), &payload); err != nil {
		return nil
	}
	return extractRawCriteria(payload)
}

func extractRawCriteria(payload any) map[string]any {
	result, ok := jsontree.Get(payload, "finance", "result")
	if !ok {
		return nil
	}
	list, ok := jsontree.List(result)
	if !ok || len(list) == 0 {
		return nil
	}
	first, ok := jsontree.Map(list[0])
	if !ok {
		return nil
	}
	raw, ok := jsontree.Str(first["rawCriteria"])
	if !ok {
		return nil
	}
	var criteria any
	if err := json.Unmarshal([]byte(raw), &criteria); err != nil {
		return nil
	}
	m, ok := jsontree.Map(criteria)
	if !ok {
		return nil
	}
	return m
}
