package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/omniai/payments/internal/pkg/paymentcheck"
)

func checkCmd() *cobra.Command {
	var (
		baseURL string
		token   string
		report  string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run deployment checks against a running payment API",
		Long: `Run deployment checks against a running payment API:
health and config, USD-only validation, webhook signature enforcement,
authentication and admin gates, 404 handling and security headers.
Exits non-zero when any check fails.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rep := paymentcheck.Run(cmd.Context(), paymentcheck.Config{
				BaseURL: baseURL,
				Token:   token,
				Timeout: timeout,
			})
			printReport(cmd.OutOrStdout(), rep)

			if report != "" {
				if err := rep.WriteJSON(report); err != nil {
					return fmt.Errorf("write report: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "report written to %s\n", report)
			}
			if !rep.OK() {
				return fmt.Errorf("%d of %d checks failed", rep.Failed, rep.Total)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&baseURL, "url", "http://localhost:4000", "Base URL of the payment service")
	cmd.Flags().StringVar(&token, "token", "", "Bearer token of a regular user (enables authenticated checks)")
	cmd.Flags().StringVar(&report, "report", "", "Write a JSON report to this path")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Per-request timeout")

	return cmd
}

func printReport(w io.Writer, rep *paymentcheck.Report) {
	fmt.Fprintf(w, "Payment API checks: %s\n", rep.BaseURL)
	fmt.Fprintln(w, strings.Repeat("=", 40))
	for _, r := range rep.Results {
		mark := "PASS"
		if !r.Passed {
			mark = "FAIL"
		}
		fmt.Fprintf(w, "  [%s] %-40s %s\n", mark, r.Name, r.Details)
	}
	fmt.Fprintln(w, strings.Repeat("=", 40))
	rate := 0.0
	if rep.Total > 0 {
		rate = float64(rep.Passed) / float64(rep.Total) * 100
	}
	fmt.Fprintf(w, "Total: %d  Passed: %d  Failed: %d  (%.1f%%)\n", rep.Total, rep.Passed, rep.Failed, rate)
}
