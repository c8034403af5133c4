package main

import (
	"fmt"
	"time"

	"github.com/andrewh/callmock/pkg/mockcall"
	"github.com/spf13/cobra"
)

func checkCmd() *cobra.Command {
	var (
		maxDelay        time.Duration
		maxErrorPercent float64
		samples         int
		seed            uint64
	)

	cmd := &cobra.Command{
		Use:   "check <sites.yaml>",
		Short: "Run static and sampled checks on a call-site configuration",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("missing configuration file\n\nUsage: callmock check <sites.yaml>")
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if samples < 0 || maxErrorPercent < 0 || maxDelay < 0 {
				return fmt.Errorf("limit and sample flags must be non-negative")
			}

			cfg, err := mockcall.LoadConfig(args[0])
			if err != nil {
				return err
			}
			if err := mockcall.ValidateConfig(cfg); err != nil {
				return err
			}

			results, err := mockcall.Check(cfg, bodyFactories(args[0]), mockcall.CheckOptions{
				MaxDelay:        maxDelay,
				MaxErrorPercent: maxErrorPercent,
				Samples:         samples,
				Seed:            seed,
			})
			if err != nil {
				return err
			}

			anyFailed := false
			w := cmd.OutOrStdout()
			for _, r := range results {
				status := "PASS"
				if !r.Pass {
					status = "FAIL"
					anyFailed = true
				}

				switch r.Name {
				case "bodies":
					_, _ = fmt.Fprintf(w, "%s  %s: %.0f unresolved\n", status, r.Name, r.Actual)
					if r.Ref != "" {
						_, _ = fmt.Fprintf(w, "      first: %s\n", r.Ref)
					}
				default:
					line := fmt.Sprintf("%s  %s: %.1f%s static worst-case", status, r.Name, r.Actual, r.Unit)
					if r.Sampled != nil {
						line += fmt.Sprintf(", %.1f%s observed/%d samples", *r.Sampled, r.Unit, r.SamplesRun)
					}
					line += fmt.Sprintf(" (limit: %.1f%s)", r.Limit, r.Unit)
					_, _ = fmt.Fprintln(w, line)
					if r.Ref != "" {
						_, _ = fmt.Fprintf(w, "      worst: %s\n", r.Ref)
					}
				}
			}

			if anyFailed {
				return fmt.Errorf("one or more checks failed")
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&maxDelay, "max-delay", 5*time.Second, "fail if a site's worst-case delay (mean + deviation) exceeds this")
	cmd.Flags().Float64Var(&maxErrorPercent, "max-error-percent", 100, "fail if a site's steady-state share of non-2xx responses exceeds this")
	cmd.Flags().IntVar(&samples, "samples", 100, "mocked calls dispatched per site for empirical measurement")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "random seed for reproducibility (0 = random)")

	return cmd
}
