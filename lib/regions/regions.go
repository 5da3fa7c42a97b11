// Package regions maps screener region names to the two-letter codes the
// finance endpoints expect.
package regions

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/antzucaro/matchr"
)

var byName = map[string]string{
	"United States": "US",
	"Argentina":     "AR",
	"Brazil":        "BR",
	"Chile":         "CL",
	"Mexico":        "MX",
}

var whitespaceRegex = regexp.MustCompile(`\s+`)

func normalize(name string) string {
	name = strings.TrimSpace(strings.ToLower(name))
	return whitespaceRegex.ReplaceAllString(name, " ")
}

var byNormalizedName = func() map[string]string {
	m := make(map[string]string, len(byName))
	for name, code := range byName {
		m[normalize(name)] = code
	}
	return m
}()

// Names lists the supported region names, sorted.
func Names() []string {
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var alphaRegex = regexp.MustCompile(`^[a-zA-Z]{2}$`)

// Code resolves a region name or two-letter code to the code form. Names are
// matched case-insensitively; unknown names fail with a suggestion when a
// supported name is close enough.
func Code(input string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", fmt.Errorf("empty region")
	}
	if alphaRegex.MatchString(trimmed) {
		return strings.ToUpper(trimmed), nil
	}
	if code, ok := byNormalizedName[normalize(trimmed)]; ok {
		return code, nil
	}
	if suggestion := Suggest(trimmed); suggestion != "" {
		return "", fmt.Errorf("unsupported region %q, did you mean %q?", input, suggestion)
	}
	return "", fmt.Errorf("unsupported region %q, supported: %s", input, strings.Join(Names(), ", "))
}

// Suggest returns the supported region name most similar to the input, or ""
// when nothing is close.
func Suggest(input string) string {
	var bestName string
	var bestSimilarity float64
	for _, name := range Names() {
		similarity := matchr.JaroWinkler(normalize(input), normalize(name), false)
		if similarity > bestSimilarity {
			bestSimilarity = similarity
			bestName = name
		}
	}
	if bestSimilarity < 0.6 {
		return ""
	}
	return bestName
}
