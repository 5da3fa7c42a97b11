package commands

import (
	"equity-crawler/lib/artifacts"
	"equity-crawler/lib/configutil"
	"equity-crawler/lib/htmlscan"
	"equity-crawler/lib/jsontree"
	"equity-crawler/lib/scrapers/yahoo"
	"equity-crawler/lib/serviceutil"
	"equity-crawler/lib/telemetry"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(debugStateCmd)
}

var debugStateCmd = &cobra.Command{
	Use:   "debug-state [path/to/page.html]",
	Short: "Inspects the embedded state of a saved page snapshot.",
	Long: "Inspects the embedded state of a saved page snapshot: top-level " +
		"keys, every path holding a \"quotes\" key, what quote extraction " +
		"finds, and the SvelteKit data scripts on the page. Defaults to the " +
		"most recent snapshot saved by the crawl command.",
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(*verbose)

		cfg, err := configutil.ReadConfig[Config]("config.json5")
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			serviceutil.Fatal("failed to read config", err)
		}
		if cfg.ArtifactsDir != "" {
			artifacts.SetRoot(cfg.ArtifactsDir)
		}

		var htmlPath string
		if len(args) > 0 {
			htmlPath = args[0]
		} else {
			found, err := latestPageSnapshot()
			if err != nil {
				serviceutil.Fatal("no page snapshot found", err)
			}
			htmlPath = found
		}

		contents, err := os.ReadFile(htmlPath)
		if err != nil {
			serviceutil.Fatal("failed to read page snapshot", err)
		}
		pageSource := string(contents)
		fmt.Println("html:", htmlPath)

		state, err := yahoo.LocateState(pageSource)
		if err != nil {
			serviceutil.Fatal("failed to locate embedded state", err)
		}

		fmt.Println("top-level keys:", jsontree.Keys(state, 40))
		stores, _ := jsontree.Get(state, "context", "dispatcher", "stores")
		fmt.Println("stores keys:", jsontree.Keys(stores, 40))

		printQuotePaths(state)

		quotes, err := yahoo.ExtractQuotes(state)
		if err != nil {
			fmt.Println("quote extraction failed:", err)
		} else {
			fmt.Printf("quote extraction found %d item(s)\n", len(quotes))
			if len(quotes) > 0 {
				if keys := jsontree.Keys(quotes[0], 20); keys != nil {
					fmt.Println("sample keys:", keys)
				}
			}
		}

		printSvelteKitScripts(pageSource)
	},
}

// latestPageSnapshot finds the newest last_page artifact by modification
// time, including the unsuffixed name older versions of the crawler wrote.
func latestPageSnapshot() (string, error) {
	matches, err := filepath.Glob(filepath.Join(artifacts.Root(), "last_page_*.html"))
	if err != nil {
		return "", err
	}
	legacy := filepath.Join(artifacts.Root(), "last_page.html")
	if _, err := os.Stat(legacy); err == nil {
		matches = append(matches, legacy)
	}

	var best string
	var bestTime time.Time
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		if best == "" || info.ModTime().After(bestTime) {
			best = m
			bestTime = info.ModTime()
		}
	}
	if best == "" {
		return "", fmt.Errorf("no last_page_*.html under %s, run a crawl first", artifacts.Root())
	}
	return best, nil
}

func printQuotePaths(state map[string]any) {
	type match struct {
		path  string
		value any
	}
	seen := map[string]bool{}
	var found []match
	jsontree.Walk(state, 64, func(path []string, value any) {
		if len(path) == 0 || path[len(path)-1] != "quotes" {
			return
		}
		key := strings.Join(path, ".")
		if seen[key] {
			return
		}
		seen[key] = true
		found = append(found, match{path: key, value: value})
	})
	if len(found) == 0 {
		fmt.Println("no quotes keys found")
		return
	}

	fmt.Printf("found %d quotes path(s)\n", len(found))
	sort.Slice(found, func(i, j int) bool { return found[i].path < found[j].path })
	if len(found) > 12 {
		found = found[:12]
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Path", "Value"})
	for _, m := range found {
		t.AppendRow(table.Row{m.path, describeNode(m.value)})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
}

func describeNode(v any) string {
	switch val := v.(type) {
	case []any:
		detail := fmt.Sprintf("list len=%d", len(val))
		if len(val) > 0 {
			if keys := jsontree.Keys(val[0], 12); keys != nil {
				detail += fmt.Sprintf(" keys=%v", keys)
			}
		}
		return detail
	case map[string]any:
		return fmt.Sprintf("dict keys=%v", jsontree.Keys(val, 12))
	default:
		return fmt.Sprintf("type=%T", v)
	}
}

func printSvelteKitScripts(pageSource string) {
	var rows []table.Row
	for _, tag := range htmlscan.ScriptTags(pageSource) {
		if tag.Attr("type") != "application/json" {
			continue
		}
		if _, ok := tag.Attrs["data-sveltekit-fetched"]; !ok {
			continue
		}
		rows = append(rows, table.Row{
			tag.Attr("data-url"),
			len(tag.Body),
			strings.Contains(tag.Body, `"body"`),
		})
	}
	if len(rows) == 0 {
		return
	}

	fmt.Printf("sveltekit scripts: %d\n", len(rows))
	if len(rows) > 12 {
		rows = rows[:12]
	}
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Data URL", "Length", "Has body"})
	t.AppendRows(rows)
	t.SetStyle(table.StyleRounded)
	t.Render()
}
