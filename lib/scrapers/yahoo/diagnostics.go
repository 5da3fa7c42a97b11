package yahoo

import (
	"encoding/json"
	"equity-crawler/lib/htmlscan"
	"equity-crawler/lib/jsontree"
	"fmt"
)

const (
	maxReportScripts  = 40
	maxReportSnippets = 5
	snippetLength     = 800
	statePreviewChars = 250000
)

// ScriptMeta summarizes one script tag for offline debugging.
type ScriptMeta struct {
	ID            string `json:"id"`
	Type          string `json:"type"`
	DataURL       string `json:"data_url"`
	DataSvelteKit bool   `json:"data_sveltekit"`
	Length        int    `json:"length"`
}

// ScriptSnippet carries the start of a script body alongside the attributes
// needed to tell which tag it came from.
type ScriptSnippet struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	DataURL string `json:"data_url"`
	Snippet string `json:"snippet"`
}

// ScriptSummary counts every script tag on the page and keeps metadata for
// the first ones seen.
type ScriptSummary struct {
	TotalScripts int          `json:"total_scripts"`
	Scripts      []ScriptMeta `json:"scripts"`
}

// ParseFailReport captures what a page's scripts looked like when no
// embedding convention matched. Saved as an artifact so layout changes can
// be diagnosed without re-crawling.
type ParseFailReport struct {
	Info     ScriptSummary   `json:"info"`
	Snippets []ScriptSnippet `json:"snippets"`
}

// BuildParseFailReport summarizes the script tags of a page that yielded no
// state: per-tag metadata plus the first few body snippets, truncated to
// keep the artifact readable.
func BuildParseFailReport(html string) ParseFailReport {
	var report ParseFailReport
	for _, tag := range htmlscan.ScriptTags(html) {
		report.Info.TotalScripts++
		_, fetched := tag.Attrs["data-sveltekit-fetched"]
		if len(report.Info.Scripts) < maxReportScripts {
			report.Info.Scripts = append(report.Info.Scripts, ScriptMeta{
				ID:            tag.Attr("id"),
				Type:          tag.Attr("type"),
				DataURL:       tag.Attr("data-url"),
				DataSvelteKit: fetched,
				Length:        len(tag.Body),
			})
		}
		if len(report.Snippets) < maxReportSnippets {
			snippet := tag.Body
			if len(snippet) > snippetLength {
				snippet = snippet[:snippetLength]
			}
			report.Snippets = append(report.Snippets, ScriptSnippet{
				ID:      tag.Attr("id"),
				Type:    tag.Attr("type"),
				DataURL: tag.Attr("data-url"),
				Snippet: snippet,
			})
		}
	}
	return report
}

// StateSummary captures the shape of a state tree that was located but
// yielded no quote list: its top-level keys, the keys of the stores
// container, and a truncated raw preview.
type StateSummary struct {
	TopLevelKeys []string `json:"top_level_keys"`
	StoresKeys   []string `json:"stores_keys"`
	Truncated    bool     `json:"truncated"`
	TotalChars   int      `json:"total_chars"`
	Preview      string   `json:"preview"`
}

// SummarizeState builds a StateSummary for artifact capture.
func SummarizeState(state any) StateSummary {
	raw, err := json.Marshal(state)
	if err != nil {
		raw = []byte(fmt.Sprintf("marshal failed: %v", err))
	}
	preview := string(raw)
	truncated := len(preview) > statePreviewChars
	if truncated {
		preview = preview[:statePreviewChars]
	}
	stores, _ := jsontree.Get(state, storesPath...)
	return StateSummary{
		TopLevelKeys: keysOrEmpty(state),
		StoresKeys:   keysOrEmpty(stores),
		Truncated:    truncated,
		TotalChars:   len(raw),
		Preview:      preview,
	}
}

func keysOrEmpty(v any) []string {
	keys := jsontree.Keys(v, 40)
	if keys == nil {
		keys = []string{}
	}
	return keys
}
