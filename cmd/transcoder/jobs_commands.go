package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"transcoder/internal/api"
	"transcoder/internal/queue"
	"transcoder/internal/transcode"
)

func newEnqueueCommand(ctx *commandContext) *cobra.Command {
	var opts transcode.EnqueueOptions
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "enqueue <asset> [variant...]",
		Short: "Queue derivatives for an asset",
		Long: "Queue the named variants of an asset. Without variants every enabled\n" +
			"variant that suits the asset is queued.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			assetID := strings.TrimSpace(args[0])
			return ctx.withOrchestrator(cmd, func(orch *transcode.Orchestrator) error {
				var queued []string
				if len(args) == 1 {
					keys, err := orch.EnqueueAsset(cmd.Context(), assetID, opts)
					if err != nil {
						return err
					}
					queued = keys
				} else {
					for _, key := range args[1:] {
						ok, err := orch.Enqueue(cmd.Context(), assetID, strings.TrimSpace(key), opts)
						if err != nil {
							return err
						}
						if ok {
							queued = append(queued, key)
						}
					}
				}

				if jsonOut {
					return writeJSON(cmd, api.EnqueueResponse{Queued: nonNil(queued)})
				}
				out := cmd.OutOrStdout()
				if len(queued) == 0 {
					fmt.Fprintf(out, "Nothing queued for %s (jobs already queued, running or finished)\n", assetID)
					return nil
				}
				fmt.Fprintf(out, "Queued %d job(s) for %s: %s\n", len(queued), assetID, strings.Join(queued, ", "))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&opts.Remux, "remux", false, "Copy the video track from an existing derivative when possible")
	cmd.Flags().BoolVar(&opts.ManualOverride, "force", false, "Mark the jobs as manually requested")
	cmd.Flags().BoolVar(&opts.Prioritized, "priority", false, "Run ahead of non-prioritized jobs")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run <asset> <variant>",
		Short: "Run one transcode job in the foreground",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			assetID, key := strings.TrimSpace(args[0]), strings.TrimSpace(args[1])
			return ctx.withOrchestrator(cmd, func(orch *transcode.Orchestrator) error {
				started := time.Now()
				outcome, runErr := orch.RunJob(cmd.Context(), assetID, key)
				out := cmd.OutOrStdout()
				switch outcome {
				case transcode.OutcomeSucceeded:
					job, err := orch.GetState(cmd.Context(), assetID, key)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "%s/%s succeeded in %s (%s)\n", assetID, key,
						time.Since(started).Round(time.Millisecond), formatBitrate(job.FinalBitrate))
				case transcode.OutcomeSkipped:
					fmt.Fprintf(out, "%s/%s skipped: another attempt owns or finished the job\n", assetID, key)
				case transcode.OutcomeSuperseded:
					fmt.Fprintf(out, "%s/%s superseded: the job was reset while it ran\n", assetID, key)
				default:
					if runErr == nil {
						runErr = errors.New("transcode failed")
					}
					return fmt.Errorf("%s/%s failed (%s): %w", assetID, key, queue.FailureKind(runErr), runErr)
				}
				return runErr
			})
		},
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status <asset>",
		Short: "Show the derivative status table for an asset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			assetID := strings.TrimSpace(args[0])
			return ctx.withOrchestrator(cmd, func(orch *transcode.Orchestrator) error {
				statuses, err := orch.ListStates(cmd.Context(), assetID)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, api.FromStatuses(assetID, statuses))
				}
				out := cmd.OutOrStdout()
				if len(statuses) == 0 {
					fmt.Fprintf(out, "No transcode jobs recorded for %s\n", assetID)
					return nil
				}
				fmt.Fprint(out, renderStatusTable(statuses, time.Now(), shouldColorize(out)))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func renderStatusTable(statuses []transcode.Status, now time.Time, colorize bool) string {
	rows := make([][]string, 0, len(statuses))
	var total int64
	counts := make(map[queue.State]int)
	for _, status := range statuses {
		counts[status.State]++
		total += status.Size
		rows = append(rows, []string{
			status.Job.VariantKey,
			colorState(status.State, colorize),
			formatAge(status.Age, now),
			formatSize(status.Size),
			formatBitrate(status.Job.FinalBitrate),
			truncate(status.Job.ErrorMessage, 60),
		})
	}
	summary := make([]string, 0, len(queue.AllStates))
	for _, state := range queue.AllStates {
		if counts[state] > 0 {
			summary = append(summary, fmt.Sprintf("%d %s", counts[state], state))
		}
	}
	return renderTable(
		[]string{"Variant", "State", "Updated", "Size", "Bitrate", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
		fmt.Sprintf("%d jobs", len(statuses)), strings.Join(summary, ", "), "", formatSize(total),
	)
}

func newResetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <asset> [variant...]",
		Short: "Return jobs to pending",
		Long: "Return the named jobs to pending. Without variants every job recorded\n" +
			"for the asset is reset. A running attempt keeps encoding but its result\n" +
			"is discarded.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			assetID := strings.TrimSpace(args[0])
			return ctx.withOrchestrator(cmd, func(orch *transcode.Orchestrator) error {
				keys := args[1:]
				if len(keys) == 0 {
					statuses, err := orch.ListStates(cmd.Context(), assetID)
					if err != nil {
						return err
					}
					for _, status := range statuses {
						keys = append(keys, status.Job.VariantKey)
					}
				}
				if len(keys) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "No transcode jobs recorded for %s\n", assetID)
					return nil
				}
				for _, key := range keys {
					if err := orch.Reset(cmd.Context(), assetID, strings.TrimSpace(key)); err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reset %d job(s) for %s\n", len(keys), assetID)
				return nil
			})
		},
	}
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
