package commands

import (
	"equity-crawler/lib/artifacts"
	"equity-crawler/lib/configutil"
	"equity-crawler/lib/money"
	"equity-crawler/lib/restyutil"
	"equity-crawler/lib/scrapers/yahoo"
	"equity-crawler/lib/serviceutil"
	"equity-crawler/lib/telemetry"
	"equity-crawler/services/crawl"
	"errors"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

type Config struct {
	Region       string `json:"region"`
	Output       string `json:"output"`
	ChromePath   string `json:"chrome_path"`
	ArtifactsDir string `json:"artifacts_dir"`
	HTTPLogDir   string `json:"http_log_dir"`
}

var (
	crawlRegion   *string
	crawlOutput   *string
	crawlHeadless *bool
	crawlStrict   *bool
	crawlChrome   *string
	crawlTimeout  *time.Duration
)

func init() {
	crawlRegion = crawlCmd.Flags().String("region", "", "Region name or two letter code, e.g. \"Brazil\" or \"BR\".")
	crawlOutput = crawlCmd.Flags().String("output", "output.csv", "The CSV file to write results to.")
	crawlHeadless = crawlCmd.Flags().Bool("headless", true, "Run the browser headless.")
	crawlStrict = crawlCmd.Flags().Bool("strict", false, "Write only the symbol, name and price columns.")
	crawlChrome = crawlCmd.Flags().String("chrome", "", "Path to a Chrome or Chromium binary.")
	crawlTimeout = crawlCmd.Flags().Duration("timeout", time.Second*90, "Budget for browser navigation and waits.")
	rootCmd.AddCommand(crawlCmd)
}

var crawlCmd = &cobra.Command{
	Use:   "crawl --region <region> [--output <path/to/output.csv>]",
	Short: "Crawls the screener for a region and writes the rows to a CSV.",
	Run: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(*verbose)

		cfg, err := configutil.ReadConfig[Config]("config.json5")
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			serviceutil.Fatal("failed to read config", err)
		}

		region := *crawlRegion
		if region == "" {
			region = cfg.Region
		}
		if region == "" {
			serviceutil.Fatal("no region given", errors.New("pass --region or set region in config.json5"))
		}

		output := *crawlOutput
		if !cmd.Flags().Changed("output") && cfg.Output != "" {
			output = cfg.Output
		}
		chrome := *crawlChrome
		if chrome == "" {
			chrome = cfg.ChromePath
		}
		if cfg.ArtifactsDir != "" {
			artifacts.SetRoot(cfg.ArtifactsDir)
		}
		httpLogDir := ".dev/resty/crawler"
		if cfg.HTTPLogDir != "" {
			httpLogDir = cfg.HTTPLogDir
		}
		yahoo.SetRestyInstrumentOutput(restyutil.NewFilesystemOutput(httpLogDir))

		result, err := crawl.Run(cmd.Context(), crawl.Options{
			Region:     region,
			Output:     output,
			Strict:     *crawlStrict,
			Headless:   *crawlHeadless,
			ChromePath: chrome,
			Timeout:    *crawlTimeout,
		})
		if err != nil {
			serviceutil.Fatal("crawl failed", err)
		}

		printCrawlSummary(result)
	},
}

func printCrawlSummary(result crawl.Result) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Rows", "Source", "Empty currency", "Empty market cap", "Output"})
	t.AppendRow(table.Row{
		len(result.Rows),
		result.Source,
		result.EmptyCurrency,
		result.EmptyMarketCap,
		result.OutputPath,
	})
	t.SetStyle(table.StyleRounded)
	t.Render()

	priced, low, high, mean := priceStats(result.Rows)
	if priced == 0 {
		return
	}
	p := table.NewWriter()
	p.SetOutputMirror(os.Stdout)
	p.AppendHeader(table.Row{"Priced rows", "Min price", "Max price", "Mean price"})
	p.AppendRow(table.Row{priced, low.String(), high.String(), mean.String()})
	p.SetStyle(table.StyleRounded)
	p.Render()
}

func priceStats(rows []yahoo.EquityRow) (int, decimal.Decimal, decimal.Decimal, decimal.Decimal) {
	var count int
	var low, high, sum decimal.Decimal
	for _, row := range rows {
		price, ok := money.ParsePrice(yahoo.Text(row.Price))
		if !ok {
			continue
		}
		if count == 0 || price.LessThan(low) {
			low = price
		}
		if count == 0 || price.GreaterThan(high) {
			high = price
		}
		sum = sum.Add(price)
		count++
	}
	if count == 0 {
		return 0, decimal.Decimal{}, decimal.Decimal{}, decimal.Decimal{}
	}
	mean := sum.Div(decimal.NewFromInt(int64(count))).Round(4)
	return count, low, high, mean
}
