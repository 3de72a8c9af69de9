package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/jsbox/internal/storage"
)

var (
	statusFilter string
	limitFlag    int
	offsetFlag   int
	exportFormat string
	exportOutput string
	forceFlag    bool
)

var historyCmd = &cobra.Command{
	Use:     "history",
	Aliases: []string{"h"},
	Short:   "Inspect recorded executions",
	Long: `Inspect executions recorded by "jsbox serve" when storage.enabled is set.
IDs may be shortened to any unique prefix.`,
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded executions, newest first",
	Args:  cobra.NoArgs,
	RunE:  runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <execution-id>",
	Short: "Show an execution's code, logs and outcome",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <execution-id>",
	Short: "Delete an execution",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryDelete,
}

var historyExportCmd = &cobra.Command{
	Use:   "export <execution-id>",
	Short: "Export an execution as markdown, JSON or YAML",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryExport,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyDeleteCmd, historyExportCmd)

	historyListCmd.Flags().StringVar(&statusFilter, "status", "", "Filter by status (succeeded, failed, timed_out)")
	historyListCmd.Flags().IntVar(&limitFlag, "limit", 20, "Max executions to show")
	historyListCmd.Flags().IntVar(&offsetFlag, "offset", 0, "Executions to skip")

	historyExportCmd.Flags().StringVar(&exportFormat, "format", "md", "Export format: md, json or yaml")
	historyExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default: stdout)")

	historyDeleteCmd.Flags().BoolVar(&forceFlag, "force", false, "Skip confirmation")
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	executions, err := store.ListExecutions(context.Background(), storage.ExecutionListOptions{
		Status: storage.ExecutionStatus(statusFilter),
		Limit:  limitFlag,
		Offset: offsetFlag,
	})
	if err != nil {
		return err
	}

	if len(executions) == 0 {
		fmt.Println("No executions found.")
		return nil
	}

	fmt.Printf("%-10s %-10s %-8s %-50s %s\n", "ID", "STATUS", "TIME", "CODE", "CREATED")
	fmt.Println(strings.Repeat("─", 95))

	for _, e := range executions {
		fmt.Printf("%-10s %-10s %-8s %-50s %s\n",
			shortID(e.ID), e.Status, fmt.Sprintf("%dms", e.DurationMS),
			truncate(oneLine(e.Code), 48), timeAgo(e.CreatedAt))
	}

	return nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	e, err := store.GetExecution(context.Background(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Execution: %s\n", e.ID)
	fmt.Printf("Status:    %s\n", e.Status)
	fmt.Printf("Duration:  %dms\n", e.DurationMS)
	fmt.Printf("Created:   %s\n", e.CreatedAt.Format(time.RFC3339))

	fmt.Println(strings.Repeat("─", 60))
	fmt.Println(e.Code)
	fmt.Println(strings.Repeat("─", 60))

	for _, entry := range e.Logs {
		fmt.Printf("\033[90m│ %s\033[0m\n", entry)
	}
	printOutcome(e.Outcome())
	return nil
}

func runHistoryDelete(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	e, err := store.GetExecution(ctx, args[0])
	if err != nil {
		return err
	}

	if !forceFlag {
		fmt.Printf("Delete execution %s - %q? [y/N] ", shortID(e.ID), truncate(oneLine(e.Code), 40))
		var confirm string
		fmt.Scanln(&confirm)
		if strings.ToLower(confirm) != "y" {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	if err := store.DeleteExecution(ctx, e.ID); err != nil {
		return err
	}
	fmt.Printf("Deleted execution %s\n", shortID(e.ID))
	return nil
}

func runHistoryExport(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	e, err := store.GetExecution(context.Background(), args[0])
	if err != nil {
		return err
	}

	data, err := storage.Export(e, exportFormat)
	if err != nil {
		return err
	}

	if exportOutput != "" {
		return os.WriteFile(exportOutput, data, 0o644)
	}

	_, err = os.Stdout.Write(data)
	return err
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}

func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
