package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/garrec-gildas/fourmiz-app-sub004/internal/domain/payment"

	"github.com/spf13/cobra"
)

func sweepCmd() *cobra.Command {
	var (
		nowFlag   string
		staleOnly bool
		withStale bool
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one expiry sweep batch and print the result as JSON",
		Long: `Release expired authorizations of unassigned orders once and exit.

Examples:
  fourmiz sweep
  fourmiz sweep --now 2026-03-08T10:00:00Z
  fourmiz sweep --stale-claims

--now only accepts instants at or before the wall clock. A later instant
would release holds that are still valid and treat in-flight claims as stale.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			now, err := parseSweepNow(nowFlag, time.Now())
			if err != nil {
				return err
			}

			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			s, err := payment.Build(a.module)
			if err != nil {
				return err
			}

			out := map[string]interface{}{"now": now}
			if !staleOnly {
				result, err := s.Sweeper.Run(cmd.Context(), now)
				if err != nil {
					return err
				}
				out["expiry"] = result
			}
			if staleOnly || withStale {
				result, err := s.Sweeper.RecoverStaleClaims(cmd.Context(), now)
				if err != nil {
					return err
				}
				out["staleClaims"] = result
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().StringVar(&nowFlag, "now", "", "evaluate at this past RFC3339 instant instead of the wall clock")
	cmd.Flags().BoolVar(&withStale, "with-stale-claims", false, "also resolve orders stuck in assigning")
	cmd.Flags().BoolVar(&staleOnly, "stale-claims", false, "only resolve orders stuck in assigning")
	return cmd
}

// parseSweepNow 解析 --now，空值取墙钟时间，晚于墙钟的时刻一律拒绝
func parseSweepNow(value string, wall time.Time) (time.Time, error) {
	if value == "" {
		return wall, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("--now: %w", err)
	}
	if t.After(wall) {
		return time.Time{}, fmt.Errorf("--now %s is after the current time %s", value, wall.Format(time.RFC3339))
	}
	return t, nil
}
