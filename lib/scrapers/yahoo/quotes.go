package yahoo

import (
	"equity-crawler/lib/jsontree"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// Traversal never descends past this depth. Screener state observed in the
// wild sits 6-8 levels deep; anything deeper is framework bookkeeping.
const maxWalkDepth = 16

// knownQuotePaths are the historically observed locations of the quote list
// inside Yahoo's redux-style state container. Ordered most-specific first.
// Integer segments index into arrays.
var knownQuotePaths = [][]any{
	{"context", "dispatcher", "stores", "ScreenerResultsStore", "results", "quotes"},
	{"context", "dispatcher", "stores", "ScreenerResultsStore", "results", "finance", "result", 0, "quotes"},
	{"context", "dispatcher", "stores", "ScreenerResultsStore", "quotes"},
	{"context", "dispatcher", "stores", "ScreenerResultsStore", "results"},
	{"context", "dispatcher", "stores", "ScreenerStore", "results", "quotes"},
	{"context", "dispatcher", "stores", "ScreenerStore", "quotes"},
	{"context", "dispatcher", "stores", "ScreenerStore", "results"},
}

var storesPath = []string{"context", "dispatcher", "stores"}

// candidate is one located list competing for selection.
type candidate struct {
	path  []string
	list  []any
	score int
}

// ExtractQuotes searches a page-state tree for the list of raw quote records,
// trying known paths first and falling back to progressively broader
// traversals. It returns the raw elements of the best-scoring list.
func ExtractQuotes(root any) ([]any, error) {
	if best, ok := pickBest(knownPathCandidates(root)); ok {
		return selected(best), nil
	}

	stores, storesOK := jsontree.Get(root, storesPath...)
	if _, isMap := jsontree.Map(stores); storesOK && isMap {
		if best, ok := pickBest(walkCandidates(stores, storesPath)); ok {
			return selected(best), nil
		}
	}

	for _, prefix := range [][]string{{"props", "pageProps"}, {"pageProps"}, {"props"}} {
		section, ok := jsontree.Get(root, prefix...)
		if !ok {
			continue
		}
		if best, ok := pickBest(walkCandidates(section, prefix)); ok {
			return selected(best), nil
		}
	}

	if best, ok := pickBest(walkCandidates(root, nil)); ok {
		return selected(best), nil
	}

	rootKeys := jsontree.Keys(root, 40)
	if storesOK {
		return nil, fmt.Errorf(
			"%w: top-level keys %v, stores keys %v; inspect candidate paths with the debug-state command",
			ErrQuotesNotFound, rootKeys, jsontree.Keys(stores, 40))
	}
	return nil, fmt.Errorf(
		"%w: top-level keys %v; inspect candidate paths with the debug-state command",
		ErrQuotesNotFound, rootKeys)
}

func selected(best candidate) []any {
	slog.Debug(
		"selected quote candidate",
		"path", strings.Join(best.path, "."),
		"score", best.score,
		"count", len(best.list),
	)
	return best.list
}

// quoteLikelihood rates how strongly a tree resembles screener output. Used
// to choose between several parsed script bodies and to reject spurious
// globals. Zero means no resemblance at all.
func quoteLikelihood(root any) int {
	score := 0
	if _, ok := jsontree.Get(root, "quotes"); ok {
		score += 5
	}
	if _, ok := jsontree.Get(root, "finance"); ok {
		score += 3
	}
	maxScore := 0
	for _, c := range walkCandidates(root, nil) {
		if s := scoreCandidate(c); s > maxScore {
			maxScore = s
		}
	}
	return score + maxScore
}

// knownPathCandidates resolves every known path against the tree. A resolved
// object descends into its "quotes" entry when one exists; whatever object
// remains contributes its values, and only lists become candidates.
func knownPathCandidates(root any) []candidate {
	var cands []candidate
	for _, segs := range knownQuotePaths {
		v, ok := resolveSegments(root, segs)
		if !ok {
			continue
		}
		path := renderSegments(segs)
		if m, isMap := jsontree.Map(v); isMap {
			if q, present := m["quotes"]; present {
				v = q
				path = append(path, "quotes")
			}
		}
		if m, isMap := jsontree.Map(v); isMap {
			v = jsontree.SortedValues(m)
		}
		if list, isList := jsontree.List(v); isList {
			cands = append(cands, candidate{path: path, list: list})
		}
	}
	return cands
}

// walkCandidates collects every list hanging off an object key reachable
// from v, plus the values of any object stored under a "quotes" key. The
// traversal uses an explicit stack and stops descending past maxWalkDepth.
// prefix seeds the recorded paths and counts toward the depth budget.
func walkCandidates(v any, prefix []string) []candidate {
	type frame struct {
		value any
		path  []string
		depth int
	}
	var cands []candidate
	stack := []frame{{value: v, path: prefix, depth: len(prefix)}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if f.depth > maxWalkDepth {
			continue
		}
		switch node := f.value.(type) {
		case map[string]any:
			for _, key := range jsontree.Keys(node, 0) {
				child := node[key]
				childPath := make([]string, len(f.path)+1)
				copy(childPath, f.path)
				childPath[len(f.path)] = key
				if list, ok := jsontree.List(child); ok {
					cands = append(cands, candidate{path: childPath, list: list})
				} else if m, ok := jsontree.Map(child); ok && key == "quotes" {
					cands = append(cands, candidate{path: childPath, list: jsontree.SortedValues(m)})
				}
				switch child.(type) {
				case map[string]any, []any:
					stack = append(stack, frame{value: child, path: childPath, depth: f.depth + 1})
				}
			}
		case []any:
			for _, item := range node {
				switch item.(type) {
				case map[string]any, []any:
					stack = append(stack, frame{value: item, path: f.path, depth: f.depth + 1})
				}
			}
		}
	}
	return cands
}

// resolveSegments walks a mixed key/index path. Missing segments or type
// mismatches yield no value rather than an error.
func resolveSegments(root any, segs []any) (any, bool) {
	cur := root
	for _, seg := range segs {
		switch s := seg.(type) {
		case string:
			m, ok := jsontree.Map(cur)
			if !ok {
				return nil, false
			}
			cur, ok = m[s]
			if !ok {
				return nil, false
			}
		case int:
			l, ok := jsontree.List(cur)
			if !ok || s < 0 || s >= len(l) {
				return nil, false
			}
			cur = l[s]
		default:
			return nil, false
		}
	}
	return cur, true
}

func renderSegments(segs []any) []string {
	out := make([]string, 0, len(segs))
	for _, seg := range segs {
		switch s := seg.(type) {
		case string:
			out = append(out, s)
		case int:
			out = append(out, strconv.Itoa(s))
		}
	}
	return out
}

// scoreCandidate rates one located list. Lists with no symbol-bearing
// elements score zero no matter how long they are.
func scoreCandidate(c candidate) int {
	if len(c.list) == 0 {
		return 0
	}
	score := 0
	hits := 0
	for _, el := range c.list {
		m, ok := jsontree.Map(el)
		if !ok {
			continue
		}
		if !Truthy(m["symbol"]) && !Truthy(m["ticker"]) {
			continue
		}
		hits++
		score += 2
		if NormalizeValue(m["regularMarketPrice"]) != nil {
			score++
		}
		if NormalizeValue(m["marketCap"]) != nil {
			score++
		}
	}
	if hits == 0 {
		return 0
	}
	containerBonus, quotesBonus, resultsBonus := false, false, false
	for _, seg := range c.path {
		if !containerBonus && strings.Contains(seg, "Screener") {
			score += 10
			containerBonus = true
		}
		if !quotesBonus && seg == "quotes" {
			score += 5
			quotesBonus = true
		}
		if !resultsBonus && seg == "results" {
			score += 2
			resultsBonus = true
		}
	}
	return score
}

// pickBest scores all candidates and selects the winner: highest score, then
// longest list. Candidates scoring zero never win.
func pickBest(cands []candidate) (candidate, bool) {
	var best candidate
	found := false
	for _, c := range cands {
		c.score = scoreCandidate(c)
		if c.score <= 0 {
			continue
		}
		if !found || c.score > best.score ||
			(c.score == best.score && len(c.list) > len(best.list)) {
			best = c
			found = true
		}
	}
	return best, found
}
