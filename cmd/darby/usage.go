package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/darbylab/darby/internal/ledger"
	"github.com/darbylab/darby/internal/report"
)

var (
	usageDays int
	usagePDF  bool
	usageOut  string
)

var usageCmd = &cobra.Command{
	Use:   "usage [days]",
	Short: "Show model usage and estimated cost",
	Long: `Usage summarizes the local ledger: calls, tokens, and estimated cost
per provider and per purpose. Local providers cost nothing; cloud estimates
use a static pricing table.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		days := 30
		if len(args) == 1 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid day count %q", args[0])
			}
			days = n
		}

		summary, err := loadSummary(days)
		if err != nil {
			return err
		}
		printSummary(summary)
		return nil
	},
}

var usageExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export usage as JSON or a one-page PDF report",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		summary, err := loadSummary(usageDays)
		if err != nil {
			return err
		}

		if usagePDF {
			data, err := report.Generate(summary, time.Now())
			if err != nil {
				return err
			}
			out := usageOut
			if out == "" {
				out = fmt.Sprintf("darby-usage-%s.pdf", time.Now().Format("2006-01-02"))
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("write usage report: %w", err)
			}
			fmt.Printf("Usage report written to %s\n", out)
			return nil
		}

		data, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			return fmt.Errorf("encode usage summary: %w", err)
		}
		if usageOut != "" {
			if err := os.WriteFile(usageOut, data, 0o644); err != nil {
				return fmt.Errorf("write usage summary: %w", err)
			}
			fmt.Printf("Usage summary written to %s\n", usageOut)
			return nil
		}
		fmt.Println(string(data))
		return nil
	},
}

// loadSummary opens the ledger read-only and rolls up the last N days.
func loadSummary(days int) (ledger.Summary, error) {
	cfg, err := loadConfig()
	if err != nil {
		return ledger.Summary{}, err
	}

	led := ledger.New(0)
	if err := led.SetPersistence(ledger.NewFilePersistence(filepath.Join(cfg.DataDir, ledgerFile))); err != nil {
		log.Warn().Err(err).Msg("Usage ledger history unavailable")
	}
	return led.Summarize(days), nil
}

func printSummary(s ledger.Summary) {
	fmt.Printf("Usage over the last %d days (retention %d days", s.Days, s.RetentionDays)
	if s.PricingAsOf != "" {
		fmt.Printf(", pricing as of %s", s.PricingAsOf)
	}
	fmt.Println(")")
	fmt.Printf("  %s calls   %s tokens   $%.2f estimated   %s context bytes saved\n",
		humanize.Comma(s.TotalCalls), humanize.Comma(s.TotalTokens),
		s.TotalUSD, humanize.Comma(s.TotalBytesSaved))

	if len(s.Providers) > 0 {
		fmt.Println()
		fmt.Println("By provider:")
		for _, p := range s.Providers {
			fmt.Printf("  %-14s %10s calls  %14s tokens  $%.2f\n",
				p.Provider, humanize.Comma(p.Calls), humanize.Comma(p.TotalTokens), p.EstimatedUSD)
		}
	}

	if len(s.Purposes) > 0 {
		fmt.Println()
		fmt.Println("By purpose:")
		for _, p := range s.Purposes {
			fmt.Printf("  %-20s %10s calls  %14s tokens  $%.2f\n",
				p.Purpose, humanize.Comma(p.Calls), humanize.Comma(p.TotalTokens), p.EstimatedUSD)
		}
	}

	if s.TotalCalls == 0 {
		fmt.Println()
		fmt.Println("No model calls recorded yet.")
	}
}

func init() {
	usageExportCmd.Flags().BoolVar(&usagePDF, "pdf", false, "render a one-page PDF report")
	usageExportCmd.Flags().StringVar(&usageOut, "out", "", "output path (default stdout, or darby-usage-<date>.pdf with --pdf)")
	usageExportCmd.Flags().IntVar(&usageDays, "days", 30, "number of days to cover")

	usageCmd.AddCommand(usageExportCmd)
}
