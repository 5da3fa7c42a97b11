package yahoo

import (
	"encoding/json"
	"equity-crawler/lib/htmlscan"
	"equity-crawler/lib/jsontree"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

var (
	preloadedStateRe = regexp.MustCompile(`__PRELOADED_STATE__\s*=\s*`)
	appMainRe        = regexp.MustCompile(`root\.App\.main\s*=\s*`)
	yahooContextRe   = regexp.MustCompile(`YAHOO\.context\s*=\s*`)
)

// stateKeywords trigger the last-resort script scan. Case-sensitive on
// purpose: minified framework code is full of capitalized variants that are
// not data.
var stateKeywords = []string{"quotes", "quote", "screener", "equity", "finance", "results"}

// LocateState recovers the embedded application state from raw page HTML by
// trying each known embedding convention in order. A convention whose marker
// is present but whose payload is empty or unparsable fails the whole
// location, since the marker implies the page meant that convention to be
// authoritative. A convention whose marker is absent falls through silently.
func LocateState(html string) (map[string]any, error) {
	tags := htmlscan.ScriptTags(html)

	state, ok, err := nextDataState(tags)
	if err != nil {
		return nil, err
	}
	if ok {
		slog.Debug("page state located", "convention", "__NEXT_DATA__")
		return state, nil
	}

	state, ok, err = assignedObjectState(html, preloadedStateRe, "__PRELOADED_STATE__")
	if err != nil {
		return nil, err
	}
	if ok {
		slog.Debug("page state located", "convention", "__PRELOADED_STATE__")
		return state, nil
	}

	state, ok, err = assignedObjectState(html, appMainRe, "root.App.main")
	if err != nil {
		return nil, err
	}
	if ok {
		slog.Debug("page state located", "convention", "root.App.main")
		return state, nil
	}

	if state, ok := svelteKitState(tags); ok {
		slog.Debug("page state located", "convention", "sveltekit")
		return state, nil
	}

	state, ok, err = assignedObjectState(html, yahooContextRe, "YAHOO.context")
	if err != nil {
		return nil, err
	}
	if ok {
		if quoteLikelihood(state) > 0 {
			slog.Debug("page state located", "convention", "YAHOO.context")
			return state, nil
		}
		slog.Debug("YAHOO.context present but scored zero, skipping")
	}

	if state, ok := keywordScanState(tags); ok {
		slog.Debug("page state located", "convention", "keyword scan")
		return state, nil
	}

	return nil, fmt.Errorf(
		"%w (no __NEXT_DATA__, __PRELOADED_STATE__, root.App.main, YAHOO.context, or sveltekit JSON)",
		ErrStateNotFound)
}

// parseStateObject decodes text and requires the result to be a JSON object,
// since every embedding convention serializes an object at the top level.
func parseStateObject(text, label string) (map[string]any, error) {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, fmt.Errorf("%w: %s did not parse: %v", ErrMalformedState, label, err)
	}
	m, ok := jsontree.Map(v)
	if !ok {
		return nil, fmt.Errorf("%w: %s did not produce an object", ErrMalformedState, label)
	}
	return m, nil
}

// nextDataState handles the __NEXT_DATA__ convention: a script tag whose id
// marks it as the serialized state, with the entire body as one JSON
// document. When the tag exists it is trusted unconditionally.
func nextDataState(tags []htmlscan.ScriptTag) (map[string]any, bool, error) {
	for _, tag := range tags {
		if tag.Attr("id") != "__NEXT_DATA__" {
			continue
		}
		if tag.Body == "" {
			return nil, false, fmt.Errorf("%w: __NEXT_DATA__ script is empty", ErrMalformedState)
		}
		state, err := parseStateObject(tag.Body, "__NEXT_DATA__")
		if err != nil {
			return nil, false, err
		}
		return state, true, nil
	}
	return nil, false, nil
}

// assignedObjectState handles the `<global> = {…}` conventions: the first
// object literal after the assignment is brace-extracted from the raw HTML
// and parsed. Absence of the assignment is the only silent outcome.
func assignedObjectState(html string, re *regexp.Regexp, label string) (map[string]any, bool, error) {
	loc := re.FindStringIndex(html)
	if loc == nil {
		return nil, false, nil
	}
	offset := strings.Index(html[loc[1]:], "{")
	if offset < 0 {
		return nil, false, fmt.Errorf("%w: %s assignment has no object after it", ErrMalformedState, label)
	}
	obj, err := htmlscan.BalancedObject(html, loc[1]+offset)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s assignment: %v", ErrMalformedState, label, err)
	}
	state, err := parseStateObject(obj, label)
	if err != nil {
		return nil, false, err
	}
	return state, true, nil
}

// svelteKitState handles pages that ship state as application/json script
// tags. Each tag parses on a best-effort basis into an entry recording its
// attributes and payload; a "body" field holding a nested JSON document is
// re-parsed when possible. The entry whose payload most resembles screener
// output wins; when none resembles it at all, every entry is returned
// together under a synthetic key so the caller still has something to
// search.
func svelteKitState(tags []htmlscan.ScriptTag) (map[string]any, bool) {
	var entries []any
	for _, tag := range tags {
		if tag.Body == "" {
			continue
		}
		if !strings.Contains(tag.Attr("type"), "application/json") {
			continue
		}
		var payload any
		if err := json.Unmarshal([]byte(tag.Body), &payload); err != nil {
			continue
		}
		attrs := make(map[string]any, len(tag.Attrs))
		for k, v := range tag.Attrs {
			attrs[k] = v
		}
		entry := map[string]any{"attrs": attrs, "payload": payload}
		if m, ok := jsontree.Map(payload); ok {
			if body, ok := jsontree.Str(m["body"]); ok {
				body = strings.TrimSpace(body)
				if strings.HasPrefix(body, "{") || strings.HasPrefix(body, "[") {
					var inner any
					if err := json.Unmarshal([]byte(body), &inner); err == nil {
						entry["body"] = inner
					} else {
						entry["body"] = body
					}
				}
			}
		}
		entries = append(entries, entry)
	}
	if len(entries) == 0 {
		return nil, false
	}

	bestScore := 0
	var best map[string]any
	for _, e := range entries {
		entry := e.(map[string]any)
		state, ok := jsontree.Map(entry["body"])
		if !ok {
			state, ok = jsontree.Map(entry["payload"])
		}
		if !ok {
			continue
		}
		if score := quoteLikelihood(state); score > bestScore {
			bestScore = score
			best = state
		}
	}
	if bestScore > 0 {
		return best, true
	}
	return map[string]any{"__sveltekit__": entries}, true
}

// keywordScanState is the last resort: any script body mentioning a
// screener-ish keyword gets its first object literal brace-extracted and
// parsed. The first body yielding an object wins; all failures are silent
// because nothing here marks a convention as authoritative.
func keywordScanState(tags []htmlscan.ScriptTag) (map[string]any, bool) {
	for _, tag := range tags {
		if tag.Body == "" || !containsStateKeyword(tag.Body) {
			continue
		}
		idx := strings.Index(tag.Body, "{")
		if idx < 0 {
			continue
		}
		obj, err := htmlscan.BalancedObject(tag.Body, idx)
		if err != nil {
			continue
		}
		state, err := parseStateObject(obj, "script heuristic")
		if err != nil {
			continue
		}
		return state, true
	}
	return nil, false
}

func containsStateKeyword(body string) bool {
	for _, kw := range stateKeywords {
		if strings.Contains(body, kw) {
			return true
		}
	}
	return false
}
