package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/convertscout/awesome-ai-prompts-sub000/internal/config"
	"github.com/convertscout/awesome-ai-prompts-sub000/internal/quota"
	"github.com/convertscout/awesome-ai-prompts-sub000/internal/usage"
)

func newUsageCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show a user's generations for today",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(userID)
			if err != nil {
				return fmt.Errorf("invalid --user: %w", err)
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			setupLogger(cfg.Log)

			ld, err := openLedger(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer ld.close()

			rdb, err := openRedis(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if rdb != nil {
				defer rdb.Close()
			}
			counter, err := newCounter(cfg, rdb)
			if err != nil {
				return err
			}

			return printUsage(cmd.Context(), cmd.OutOrStdout(), ld.ledger, counter, id, cfg.Generator.DailyLimit, time.Now())
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id (uuid)")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func printUsage(ctx context.Context, out io.Writer, ledger usage.Ledger, counter quota.Counter, userID uuid.UUID, limit int, now time.Time) error {
	today := quota.DayStart(now)
	used, err := ledger.CountSince(ctx, userID, today)
	if err != nil {
		return err
	}
	if used, err = quota.UsedToday(ctx, counter, userID, today, used); err != nil {
		slog.Warn("quota counter unavailable, showing ledger count", "error", err)
	}
	status := quota.NewStatus(used, limit, now)

	fmt.Fprintf(out, "user:      %s\n", userID)
	fmt.Fprintf(out, "day:       %s (UTC)\n", quota.DayKey(now))
	fmt.Fprintf(out, "used:      %d/%d\n", status.Used, status.Limit)
	fmt.Fprintf(out, "remaining: %d\n", status.Remaining)
	fmt.Fprintf(out, "resets at: %s\n", status.ResetsAt.Format(time.RFC3339))
	return nil
}
