package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newModelsCmd(app *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List known models and whether they are downloaded",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			models, err := app.buildModels(componentOptions{})
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSIZE\tSTATUS\tPATH")
			for _, status := range models.Statuses() {
				state := "missing"
				if status.Downloaded {
					state = "ready"
				}
				marker := ""
				if status.Name == app.cfg.Model {
					marker = " (default)"
				}
				fmt.Fprintf(tw, "%s%s\t%s\t%s\t%s\n", status.Name, marker, status.SizeLabel, state, status.Path)
			}
			return tw.Flush()
		},
	}
}
