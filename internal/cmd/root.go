package cmd

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for the librarian CLI
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "librarian",
		Short: "Personal meeting-recording librarian",
		Long:  "Meeting Librarian - watches a folder for meeting recordings, renames them after calendar events, transcribes them and files everything into a meeting log",
	}

	rootCmd.AddCommand(NewConfigCmd(nil))
	rootCmd.AddCommand(newStartCmd())
	rootCmd.AddCommand(newStopCmd())
	rootCmd.AddCommand(NewStatusCmd())
	rootCmd.AddCommand(NewVersionCmd())

	return rootCmd
}
