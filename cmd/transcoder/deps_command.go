package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"transcoder/internal/config"
	"transcoder/internal/deps"
	"transcoder/internal/queue"
)

func newDepsCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "deps",
		Short: "Check external encoder dependencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := deps.Check(cfg)
			if cfg.Database.Driver == "sqlite" {
				results = append(results, checkJobDatabase(cmd.Context(), cfg))
			}
			if jsonOut {
				if err := writeJSON(cmd, results); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				for _, line := range dependencyLines(results, shouldColorize(out)) {
					fmt.Fprintln(out, line)
				}
			}
			if missing := deps.Missing(results); len(missing) > 0 {
				names := make([]string, 0, len(missing))
				for _, dep := range missing {
					names = append(names, dep.Name)
				}
				return errors.New("missing required dependencies: " + strings.Join(names, ", "))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func dependencyLines(results []deps.Status, colorize bool) []string {
	lines := make([]string, 0, len(results)+1)
	var missing []string
	for _, dep := range results {
		if dep.Available {
			message := "Ready"
			if dep.Detail != "" {
				message = "Ready (" + dep.Detail + ")"
			} else if dep.Command != "" {
				message = fmt.Sprintf("Ready (command: %s)", dep.Command)
			}
			lines = append(lines, renderStatusLine(dep.Name, statusOK, message, colorize))
			continue
		}
		detail := strings.TrimSpace(dep.Detail)
		if detail == "" {
			detail = "not available"
		}
		kind := statusError
		if dep.Optional {
			kind = statusWarn
		} else {
			missing = append(missing, dep.Name)
		}
		lines = append(lines, renderStatusLine(dep.Name, kind, detail, colorize))
	}
	if len(missing) > 0 {
		lines = append(lines, renderStatusLine("Missing dependencies", statusError, strings.Join(missing, ", "), colorize))
	}
	return lines
}

func checkJobDatabase(ctx context.Context, cfg *config.Config) deps.Status {
	status := deps.Status{Name: "Job database", Command: cfg.QueueDBPath(), Description: "SQLite job state"}
	store, err := queue.Open(cfg)
	if err != nil {
		status.Detail = err.Error()
		return status
	}
	defer store.Close()

	health, err := store.CheckHealth(ctx)
	switch {
	case err != nil:
		status.Detail = err.Error()
	case len(health.MissingColumns) > 0:
		status.Detail = "missing columns: " + strings.Join(health.MissingColumns, ", ")
	case !health.IntegrityCheck:
		status.Detail = "integrity check failed"
	default:
		status.Available = true
		status.Detail = fmt.Sprintf("%d jobs, schema v%s", health.TotalJobs, health.SchemaVersion)
	}
	return status
}
