package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/AlekZo/ai-meeting-librarian/internal/librarian"
	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/status"
	"github.com/spf13/cobra"
)

// NewStatusCmd creates the status command
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show librarian status",
		Long:  "Show whether the librarian is running and a summary of today's activity from the service log",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			running, pid, err := servicePidFile().Alive()
			if err != nil {
				return fmt.Errorf("check PID file: %w", err)
			}
			switch {
			case running:
				fmt.Fprintf(out, "Status:  running (PID %d)\n", pid)
			case pid != 0:
				fmt.Fprintf(out, "Status:  not running (stale PID file, PID %d)\n", pid)
			default:
				fmt.Fprintln(out, "Status:  not running")
			}

			// Read the same log file the service writes to.
			logPath := filepath.Join(librarian.ConfigDir(), "librarian.log")
			if cfg, err := librarian.LoadConfig(); err == nil && cfg.LogFile != "" {
				logPath = cfg.LogFile
			}
			stats, err := status.ParseLogFile(logPath)
			if err != nil {
				return fmt.Errorf("parse log: %w", err)
			}

			fmt.Fprintf(out, "Filed:   %d recording(s)\n", stats.FilesFiled)
			fmt.Fprintf(out, "Logged:  %d spreadsheet row(s)\n", stats.RowsPublished)
			fmt.Fprintf(out, "Errors:  %d\n", stats.Errors)
			if stats.LastFiled != nil {
				fmt.Fprintf(out, "Last:    %s -> %s at %s\n",
					status.BaseName(stats.LastFiled.Path),
					status.BaseName(stats.LastFiled.Target),
					status.FormatTimestamp(stats.LastFiled.Timestamp))
			}

			return nil
		},
	}
}
