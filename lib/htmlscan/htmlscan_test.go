package htmlscan

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScriptTags(t *testing.T) {
	page := `
<html><head>
<SCRIPT id="__NEXT_DATA__" type='application/json'>
{"props": {}}
</SCRIPT>
<script src="/bundle.js"></script>
<body>
<script data-url='https://example.com/a?x=1' data-sveltekit-fetched>
  {"status": 200}
</script>
`
	tags := ScriptTags(page)
	require.Len(t, tags, 3)

	require.Equal(t, "__NEXT_DATA__", tags[0].Attr("id"))
	require.Equal(t, "application/json", tags[0].Attr("type"))
	require.Equal(t, `{"props": {}}`, tags[0].Body)

	require.Equal(t, "/bundle.js", tags[1].Attr("src"))
	require.Equal(t, "", tags[1].Body)

	require.Equal(t, "https://example.com/a?x=1", tags[2].Attr("data-url"))
	require.Equal(t, `{"status": 200}`, tags[2].Body)
}

func TestScriptTagsMalformedMarkup(t *testing.T) {
	// unclosed tags and stray brackets should not stop the scan
	page := `<div <p><script>var a = 1;</script><script>never closed`
	tags := ScriptTags(page)
	require.Len(t, tags, 1)
	require.Equal(t, "var a = 1;", tags[0].Body)
}

func TestScannerIsLazy(t *testing.T) {
	page := `<script>first</script><script>second</script>`
	sc := NewScanner(page)

	require.True(t, sc.Next())
	require.Equal(t, "first", sc.Tag().Body)
	require.True(t, sc.Next())
	require.Equal(t, "second", sc.Tag().Body)
	require.False(t, sc.Next())
}

func TestParseAttrsQuoteStyles(t *testing.T) {
	testCases := []struct {
		attrs    string
		expected map[string]string
	}{
		{
			attrs:    ` id="a" type='b'`,
			expected: map[string]string{"id": "a", "type": "b"},
		},
		{
			attrs:    ` data-url="https://x?a=1&amp;b=2"`,
			expected: map[string]string{"data-url": "https://x?a=1&amp;b=2"},
		},
		{
			attrs:    ` id = "spaced"`,
			expected: map[string]string{"id": "spaced"},
		},
		{
			attrs:    ``,
			expected: map[string]string{},
		},
	}
	for _, test := range testCases {
		require.Equal(t, test.expected, parseAttrs(test.attrs), "attrs: %q", test.attrs)
	}
}

func TestBalancedObject(t *testing.T) {
	testCases := []struct {
		name  string
		text  string
		start int
		want  string
	}{
		{
			name:  "plain",
			text:  `window.x = {"a": 1}; f();`,
			start: 11,
			want:  `{"a": 1}`,
		},
		{
			name:  "nested",
			text:  `{"a": {"b": {"c": 3}}}`,
			start: 0,
			want:  `{"a": {"b": {"c": 3}}}`,
		},
		{
			name:  "braces in strings",
			text:  `{"a": "}{", "b": 2} trailing`,
			start: 0,
			want:  `{"a": "}{", "b": 2}`,
		},
		{
			name:  "escaped quote in string",
			text:  `{"a": "he said \"}\"", "b": 2}`,
			start: 0,
			want:  `{"a": "he said \"}\"", "b": 2}`,
		},
		{
			name:  "backslash before closing quote",
			text:  `{"path": "C:\\"} rest`,
			start: 0,
			want:  `{"path": "C:\\"}`,
		},
	}
	for _, test := range testCases {
		got, err := BalancedObject(test.text, test.start)
		require.NoError(t, err, test.name)
		require.Equal(t, test.want, got, test.name)
	}
}

func TestBalancedObjectErrors(t *testing.T) {
	_, err := BalancedObject(`{"a": 1`, 0)
	require.ErrorIs(t, err, ErrUnbalanced)

	_, err = BalancedObject(`{"a": "unterminated`, 0)
	require.ErrorIs(t, err, ErrUnbalanced)

	_, err = BalancedObject(`var x = 1;`, 0)
	require.Error(t, err)

	_, err = BalancedObject(`{}`, 5)
	require.Error(t, err)
}

func FuzzScriptTags(f *testing.F) {
	f.Add(`<script id="__NEXT_DATA__" type="application/json">{"a": 1}</script>`)
	f.Add(`<div <p><script>never closed`)
	f.Add(`<SCRIPT a='1' b="2">{</SCRIPT><script></script>`)
	f.Fuzz(func(t *testing.T, page string) {
		for _, tag := range ScriptTags(page) {
			if tag.Body != strings.TrimSpace(tag.Body) {
				t.Fatalf("body not trimmed: %q", tag.Body)
			}
		}
	})
}

func FuzzBalancedObject(f *testing.F) {
	f.Add(`{"a": {"b": "}{"}}`, 0)
	f.Add(`window.x = {"a": 1};`, 11)
	f.Add(`{"unterminated`, 0)
	f.Fuzz(func(t *testing.T, text string, start int) {
		obj, err := BalancedObject(text, start)
		if err != nil {
			return
		}
		if len(obj) == 0 || obj[0] != '{' || obj[len(obj)-1] != '}' {
			t.Fatalf("not brace delimited: %q", obj)
		}
	})
}
