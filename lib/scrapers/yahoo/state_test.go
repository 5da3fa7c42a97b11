package yahoo

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocateStateNextData(t *testing.T) {
	html := `<html><head>
	<script id="__NEXT_DATA__" type="application/json">
	{"props": {"pageProps": {"quotes": [{"symbol": "ABC"}]}}}
	</script>
	</head></html>`

	state, err := LocateState(html)
	require.NoError(t, err)
	require.Contains(t, state, "props")
}

func TestLocateStateNextDataWinsOverPreloaded(t *testing.T) {
	html := `
	<script id="__NEXT_DATA__">{"from": "next"}</script>
	<script>window.__PRELOADED_STATE__ = {"from": "preloaded"};</script>`

	state, err := LocateState(html)
	require.NoError(t, err)
	require.Equal(t, "next", state["from"])
}

func TestLocateStateNextDataEmpty(t *testing.T) {
	html := `<script id="__NEXT_DATA__"></script>`

	_, err := LocateState(html)
	require.ErrorIs(t, err, ErrMalformedState)
}

func TestLocateStateNextDataUnparsable(t *testing.T) {
	html := `<script id="__NEXT_DATA__">{"props": oops}</script>`

	_, err := LocateState(html)
	require.ErrorIs(t, err, ErrMalformedState)
	require.ErrorContains(t, err, "__NEXT_DATA__")
}

func TestLocateStatePreloaded(t *testing.T) {
	html := `<script>
	window.__PRELOADED_STATE__ = {"stores": {"ScreenerResultsStore": {}}, "nested": {"a": [1, "{"]}};
	window.other = 1;
	</script>`

	state, err := LocateState(html)
	require.NoError(t, err)
	require.Contains(t, state, "stores")
	require.Contains(t, state, "nested")
}

func TestLocateStateAppMain(t *testing.T) {
	html := `<script>root.App.main = {"context": {"dispatcher": {"stores": {}}}};</script>`

	state, err := LocateState(html)
	require.NoError(t, err)
	require.Contains(t, state, "context")
}

func TestLocateStateSvelteKit(t *testing.T) {
	inner, err := json.Marshal(map[string]any{
		"quotes": []any{map[string]any{"symbol": "KIT", "regularMarketPrice": 2}},
	})
	if err != nil {
		t.Fatal(err)
	}
	envelope, err := json.Marshal(map[string]any{"status": 200, "body": string(inner)})
	if err != nil {
		t.Fatal(err)
	}
	html := fmt.Sprintf(
		`<script type="application/json" data-url="https://example.com/feed">%s</script>`,
		envelope)

	state, err := LocateState(html)
	require.NoError(t, err)
	require.Contains(t, state, "quotes")
}

func TestLocateStateSvelteKitNoResemblance(t *testing.T) {
	html := `<script type="application/json">{"config": {"locale": "en"}}</script>`

	state, err := LocateState(html)
	require.NoError(t, err)
	require.Contains(t, state, "__sveltekit__")
}

func TestLocateStateYahooContext(t *testing.T) {
	html := `<script>YAHOO.context = {"quotes": [{"symbol": "A", "regularMarketPrice": 3}]};</script>`

	state, err := LocateState(html)
	require.NoError(t, err)
	require.Contains(t, state, "quotes")
}

func TestLocateStateYahooContextRejectedWhenUnrelated(t *testing.T) {
	html := `<script>YAHOO.context = {"ads": {"slot": 1}};</script>`

	_, err := LocateState(html)
	require.ErrorIs(t, err, ErrStateNotFound)
}

func TestLocateStateKeywordScan(t *testing.T) {
	html := `<script>var config = {"screener": {"results": ["x"]}}; init(config);</script>`

	state, err := LocateState(html)
	require.NoError(t, err)
	require.Contains(t, state, "screener")
}

func TestLocateStateNotFound(t *testing.T) {
	html := `<html><body><script>console.log("nothing here");</script></body></html>`

	_, err := LocateState(html)
	require.ErrorIs(t, err, ErrStateNotFound)
	require.ErrorContains(t, err, "no __NEXT_DATA__")
}

func FuzzLocateState(f *testing.F) {
	f.Add(`<script id="__NEXT_DATA__" type="application/json">{"props": {}}</script>`)
	f.Add(`<script>window.__PRELOADED_STATE__ = {"a": 1};</script>`)
	f.Add(`<script>root.App.main = {"context": {}};</script>`)
	f.Add(`<script type="application/json">{"status": 200, "body": "{\"quotes\": []}"}</script>`)
	f.Add(`<script>var config = {"screener": 1}; init();</script>`)
	f.Fuzz(func(t *testing.T, html string) {
		state, err := LocateState(html)
		if err == nil && state == nil {
			t.Fatal("nil state without error")
		}
		if err != nil && !errors.Is(err, ErrStateNotFound) && !errors.Is(err, ErrMalformedState) {
			t.Fatalf("unexpected error class: %v", err)
		}
	})
}
