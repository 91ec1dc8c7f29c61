package cli

import (
	"fmt"

	"github.com/Dcomtech1/whisper-transcriber-site/internal/version"
	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.Current()
			fmt.Fprintf(cmd.OutOrStdout(), "novatranscribe v%s\n", info.Version)
			if verbose {
				fmt.Fprintf(cmd.OutOrStdout(), "commit: %s\nbuilt:  %s\n", info.Commit, info.Date)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&verbose, "build-info", false, "Also print commit and build date")
	return cmd
}
