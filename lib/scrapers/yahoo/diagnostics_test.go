package yahoo

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSummarizeState(t *testing.T) {
	state := map[string]any{
		"zeta": true,
		"context": map[string]any{
			"dispatcher": map[string]any{
				"stores": map[string]any{
					"StoreB": 2.0,
					"StoreA": 1.0,
				},
			},
		},
	}

	summary := SummarizeState(state)
	require.Equal(t, []string{"context", "zeta"}, summary.TopLevelKeys)
	require.Equal(t, []string{"StoreA", "StoreB"}, summary.StoresKeys)
	require.False(t, summary.Truncated)

	raw, err := json.Marshal(state)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, len(raw), summary.TotalChars)
	require.Equal(t, string(raw), summary.Preview)
}

func TestSummarizeStateTruncatesPreview(t *testing.T) {
	state := map[string]any{"blob": strings.Repeat("x", 300000)}

	summary := SummarizeState(state)
	require.True(t, summary.Truncated)
	require.Len(t, summary.Preview, statePreviewChars)
	require.Greater(t, summary.TotalChars, statePreviewChars)
}

func TestSummarizeStateNonObject(t *testing.T) {
	summary := SummarizeState([]any{1.0, 2.0})
	require.NotNil(t, summary.TopLevelKeys)
	require.Empty(t, summary.TopLevelKeys)
	require.NotNil(t, summary.StoresKeys)
	require.Empty(t, summary.StoresKeys)
}

func TestBuildParseFailReport(t *testing.T) {
	longBody := strings.Repeat("a", 900)
	html := `
<script id="seed" type="application/json" data-sveltekit-fetched="" data-url="https://example.com/feed">{"body": "x"}</script>
<script type="text/javascript">` + longBody + `</script>
<script>short</script>`

	report := BuildParseFailReport(html)
	require.Equal(t, 3, report.Info.TotalScripts)
	require.Len(t, report.Info.Scripts, 3)

	require.Equal(t, ScriptMeta{
		ID:            "seed",
		Type:          "application/json",
		DataURL:       "https://example.com/feed",
		DataSvelteKit: true,
		Length:        len(`{"body": "x"}`),
	}, report.Info.Scripts[0])
	require.False(t, report.Info.Scripts[1].DataSvelteKit)

	require.Len(t, report.Snippets, 3)
	require.Len(t, report.Snippets[1].Snippet, snippetLength)
	require.Equal(t, "short", report.Snippets[2].Snippet)
}

func TestBuildParseFailReportCapsScripts(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 50; i++ {
		fmt.Fprintf(&b, `<script id="s%d">body %d</script>`, i, i)
	}

	report := BuildParseFailReport(b.String())
	require.Equal(t, 50, report.Info.TotalScripts)
	require.Len(t, report.Info.Scripts, maxReportScripts)
	require.Len(t, report.Snippets, maxReportSnippets)
	require.Equal(t, "s0", report.Snippets[0].ID)
	require.Equal(t, "s4", report.Snippets[4].ID)
}
