package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relaycall/relaycall/internal/output"
)

var endpointsCmd = &cobra.Command{
	Use:   "endpoints",
	Short: "List configured endpoints",
	Long:  "List every configured endpoint with its limits and limiter state.",
	RunE:  runEndpoints,
}

func init() {
	rootCmd.AddCommand(endpointsCmd)

	endpointsCmd.Flags().String("output", "table", "Output format: table, json")
}

func runEndpoints(cmd *cobra.Command, args []string) error {
	formatFlag, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}
	format, err := output.ParseFormat(formatFlag)
	if err != nil {
		return err
	}

	pipe, err := buildPipeline(cmd.Context())
	if err != nil {
		return err
	}
	defer pipe.Close()

	rendered, err := output.NewFormatter(format).FormatEndpoints(pipe.Registry.All(), pipe.Limiters.Snapshot())
	if err != nil {
		return err
	}
	fmt.Println(rendered)

	return nil
}
