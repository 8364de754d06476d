package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haivivi/speechprep/cmd/speechprep/internal/build"
	"github.com/haivivi/speechprep/pkg/cli"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := cli.ParseFormat(formatOutput)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if format != cli.FormatSummary {
			return cli.Output(out, build.Get(), format)
		}
		fmt.Fprintln(out, build.String())
		if IsVerbose() {
			fmt.Fprintf(out, "  go:     %s\n", build.Get().Go)
			if cfgFile != "" {
				fmt.Fprintf(out, "  config: %s\n", cfgFile)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
