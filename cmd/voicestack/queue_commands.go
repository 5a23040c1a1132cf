package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Zipties/voicestack2/internal/store"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the job queue",
	}

	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))

	return queueCmd
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue status summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				health, err := st.Health(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if health.Total == 0 {
					fmt.Fprintln(out, "Queue is empty")
					return nil
				}

				rows := [][]string{
					{string(store.StatusQueued), strconv.Itoa(health.Queued)},
					{string(store.StatusRunning), strconv.Itoa(health.Running)},
					{string(store.StatusSucceeded), strconv.Itoa(health.Succeeded)},
					{string(store.StatusFailed), strconv.Itoa(health.Failed)},
					{string(store.StatusCancelled), strconv.Itoa(health.Cancelled)},
					{"Total", strconv.Itoa(health.Total)},
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Status", "Count"},
					rows,
					[]columnAlignment{alignLeft, alignRight},
				))
				return nil
			})
		},
	}
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var listStatuses []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			var statuses []store.Status
			for _, raw := range listStatuses {
				status, ok := store.ParseStatus(raw)
				if !ok {
					return fmt.Errorf("unknown status %q", raw)
				}
				statuses = append(statuses, status)
			}

			return ctx.withStore(func(st *store.Store) error {
				jobs, err := st.ListJobs(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(jobs) == 0 {
					fmt.Fprintln(out, "Queue is empty")
					return nil
				}

				colorize := shouldColorize(out)
				rows := make([][]string, 0, len(jobs))
				for _, job := range jobs {
					source := ""
					if asset, err := st.GetAssetByJob(cmd.Context(), job.ID); err == nil && asset != nil {
						source = asset.OriginalFilename
					}
					rows = append(rows, []string{
						job.ID,
						source,
						colorStatus(string(job.Status), colorize),
						fmt.Sprintf("%d%%", job.Progress),
						job.CreatedAt.Local().Format(time.DateTime),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "Source", "Status", "Progress", "Created"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&listStatuses, "status", "s", nil, "Filter by job status (repeatable)")
	return cmd
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a queued or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				cancelled, err := st.CancelJob(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if !cancelled {
					job, err := st.GetJob(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					if job == nil {
						return fmt.Errorf("job %s not found", args[0])
					}
					fmt.Fprintf(out, "Job %s already %s\n", job.ID, job.Status)
					return nil
				}
				fmt.Fprintf(out, "Cancelled job %s\n", args[0])
				return nil
			})
		},
	}
}
