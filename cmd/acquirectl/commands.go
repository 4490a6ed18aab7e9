package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/helixir/document-acquisition-service/internal/domain"
	"github.com/helixir/document-acquisition-service/internal/temporal"
	"github.com/helixir/document-acquisition-service/internal/temporal/workflows"
)

func (c *cli) acquireCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "acquire <project-id> <doi>",
		Short: "Acquire one document in-process and print the outcome",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withService(cmd.Context(), func(svc adminService) error {
				outcome, err := svc.AcquireDocument(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				return c.render(outcome, func(t table.Writer) {
					t.AppendHeader(table.Row{"DOI", "Status", "Source", "Attempts", "Path", "Retry"})
					t.AppendRow(table.Row{outcome.DOI, outcome.Status, outcome.SourceUsed, outcome.Attempts, outcome.Path, retryCell(outcome)})
				})
			})
		},
	}
}

func retryCell(o *domain.AcquisitionOutcome) string {
	if o.NextRetryAt == nil {
		return ""
	}
	return fmt.Sprintf("#%d at %s", o.RetryCount, o.NextRetryAt.Format(time.RFC3339))
}

func (c *cli) batchCommand() *cobra.Command {
	var (
		file        string
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "batch <project-id> [doi...]",
		Short: "Start a Temporal batch acquisition workflow",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dois := args[1:]
			if file != "" {
				fromFile, err := readDOIs(file)
				if err != nil {
					return err
				}
				dois = append(dois, fromFile...)
			}
			if len(dois) == 0 {
				return fmt.Errorf("no DOIs given")
			}

			return c.withWorkflows(func(wc workflowControl) error {
				workflowID, runID, err := wc.StartBatch(cmd.Context(), workflows.AcquireBatchWorkflow, temporal.AcquireBatchInput{
					ProjectID:     args[0],
					DOIs:          dois,
					MaxConcurrent: concurrency,
				})
				if err != nil {
					return err
				}
				started := map[string]interface{}{"workflow_id": workflowID, "run_id": runID, "dois": len(dois)}
				return c.render(started, func(t table.Writer) {
					t.AppendHeader(table.Row{"Workflow ID", "Run ID", "DOIs"})
					t.AppendRow(table.Row{workflowID, runID, len(dois)})
				})
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read DOIs from a file, one per line")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "concurrent acquisitions in the workflow (default 4)")
	return cmd
}

// readDOIs reads one DOI per line, skipping blanks and # comments.
func readDOIs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open DOI file: %w", err)
	}
	defer f.Close()

	var dois []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		dois = append(dois, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read DOI file: %w", err)
	}
	return dois, nil
}

func (c *cli) sourcesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Inspect and configure document sources",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List sources in trial order with their performance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withService(cmd.Context(), func(svc adminService) error {
				rankings, err := svc.GetSourceRankings(cmd.Context())
				if err != nil {
					return err
				}
				return c.render(rankings, func(t table.Writer) {
					t.AppendHeader(table.Row{"Name", "Enabled", "Priority", "Success Rate", "Avg Latency (ms)", "Attempts"})
					for _, r := range rankings {
						t.AppendRow(table.Row{r.Name, r.Enabled, r.Priority, fmt.Sprintf("%.1f%%", r.SuccessRate*100), fmt.Sprintf("%.0f", r.AvgLatencyMs), r.AttemptCount})
					}
				})
			})
		},
	}

	setEnabled := func(use, short string, enabled bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <name>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withService(cmd.Context(), func(svc adminService) error {
					if err := svc.SetSourceEnabled(cmd.Context(), args[0], enabled); err != nil {
						return err
					}
					fmt.Fprintf(c.out, "source %s enabled=%t\n", args[0], enabled)
					return nil
				})
			},
		}
	}

	priority := &cobra.Command{
		Use:   "priority <name> <priority>",
		Short: "Set a source's tie-break priority (lower is tried first)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("priority must be an integer: %w", err)
			}
			return c.withService(cmd.Context(), func(svc adminService) error {
				if err := svc.SetSourcePriority(cmd.Context(), args[0], p); err != nil {
					return err
				}
				fmt.Fprintf(c.out, "source %s priority=%d\n", args[0], p)
				return nil
			})
		},
	}

	cmd.AddCommand(
		list,
		setEnabled("enable", "Enable a source", true),
		setEnabled("disable", "Disable a source", false),
		priority,
	)
	return cmd
}

func (c *cli) sweepCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Process due retry entries once, in-process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withService(cmd.Context(), func(svc adminService) error {
				report, err := svc.SweepRetryQueue(cmd.Context())
				if err != nil {
					return err
				}
				return c.render(report, func(t table.Writer) {
					t.AppendHeader(table.Row{"Claimed", "Downloaded", "Already Present", "Requeued", "Permanently Failed", "Skipped", "Errors"})
					t.AppendRow(table.Row{report.Claimed, report.Downloaded, report.AlreadyPresent, report.Requeued, report.PermanentlyFailed, report.Skipped, report.Errors})
				})
			})
		},
	}

	var reason string
	trigger := &cobra.Command{
		Use:   "trigger",
		Short: "Signal the retry sweep workflow to sweep now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withWorkflows(func(wc workflowControl) error {
				if err := wc.TriggerSweep(cmd.Context(), reason); err != nil {
					return err
				}
				fmt.Fprintln(c.out, "sweep signalled")
				return nil
			})
		},
	}
	trigger.Flags().StringVar(&reason, "reason", "acquirectl", "reason recorded in the workflow log")

	stop := &cobra.Command{
		Use:   "stop",
		Short: "Signal the retry sweep workflow to finish",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withWorkflows(func(wc workflowControl) error {
				if err := wc.StopRetrySweep(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(c.out, "stop signalled")
				return nil
			})
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the retry sweep workflow's running totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withWorkflows(func(wc workflowControl) error {
				var totals workflows.SweepTotals
				if err := wc.SweepTotals(cmd.Context(), &totals); err != nil {
					return err
				}
				return c.render(totals, func(t table.Writer) {
					t.AppendHeader(table.Row{"Sweeps", "Failed Sweeps", "Claimed", "Downloaded", "Requeued", "Permanently Failed"})
					t.AppendRow(table.Row{totals.Sweeps, totals.FailedSweeps, totals.Claimed, totals.Downloaded, totals.Requeued, totals.PermanentlyFailed})
				})
			})
		},
	}

	cmd.AddCommand(trigger, stop, status)
	return cmd
}

func (c *cli) statsCommand() *cobra.Command {
	var (
		project string
		window  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show acquisition statistics over a time window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withService(cmd.Context(), func(svc adminService) error {
				stats, err := svc.GetStatistics(cmd.Context(), project, window)
				if err != nil {
					return err
				}
				return c.render(stats, func(t table.Writer) {
					t.AppendHeader(table.Row{"Source", "Attempts", "Successes", "Avg Latency (ms)"})
					for _, s := range stats.BySource {
						t.AppendRow(table.Row{s.SourceName, s.Attempts, s.Successes, fmt.Sprintf("%.0f", s.AvgLatencyMs)})
					}
					t.AppendFooter(table.Row{"total", stats.TotalAttempts, stats.Successes, fmt.Sprintf("%.1f%% ok, %d queued", stats.SuccessRate*100, stats.RetryQueueDepth)})
				})
			})
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "restrict to one project")
	cmd.Flags().DurationVar(&window, "window", 24*time.Hour, "time window")
	return cmd
}

func (c *cli) historyCommand() *cobra.Command {
	var (
		project string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent download attempts, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withService(cmd.Context(), func(svc adminService) error {
				attempts, err := svc.GetDownloadHistory(cmd.Context(), project, limit)
				if err != nil {
					return err
				}
				return c.render(attempts, func(t table.Writer) {
					t.AppendHeader(table.Row{"When", "Project", "DOI", "Source", "OK", "Category", "Latency (ms)"})
					for _, a := range attempts {
						t.AppendRow(table.Row{a.AttemptedAt.Format(time.RFC3339), a.ProjectID, a.DOI, a.SourceName, a.Success, a.FailureCategory, a.LatencyMs})
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "restrict to one project")
	cmd.Flags().IntVar(&limit, "limit", domain.DefaultHistoryLimit, "maximum rows")
	return cmd
}

func (c *cli) retryQueueCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "retry-queue",
		Short: "List pending retry entries by due time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withService(cmd.Context(), func(svc adminService) error {
				entries, err := svc.GetRetryQueue(cmd.Context(), limit)
				if err != nil {
					return err
				}
				return c.render(entries, func(t table.Writer) {
					t.AppendHeader(table.Row{"Project", "DOI", "Category", "Retries", "Next Retry"})
					for _, e := range entries {
						t.AppendRow(table.Row{e.ProjectID, e.DOI, e.FailureCategory, e.RetryCount, e.NextRetryAt.Format(time.RFC3339)})
					}
				})
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", domain.DefaultHistoryLimit, "maximum rows")
	return cmd
}

func (c *cli) cleanupCommand() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete download attempts older than the retention horizon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withService(cmd.Context(), func(svc adminService) error {
				deleted, err := svc.CleanupOldAttempts(cmd.Context(), days)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.out, "deleted %d attempts older than %d days\n", deleted, days)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 90, "retention in days")
	return cmd
}

func (c *cli) rebuildCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Recompute source performance and publisher patterns from the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withService(cmd.Context(), func(svc adminService) error {
				report, err := svc.RebuildAggregates(cmd.Context())
				if err != nil {
					return err
				}
				return c.render(report, func(t table.Writer) {
					t.AppendHeader(table.Row{"Sources", "Patterns"})
					t.AppendRow(table.Row{report.Sources, report.Patterns})
				})
			})
		},
	}
}
