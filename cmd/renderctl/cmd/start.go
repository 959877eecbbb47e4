package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var startCmd = &cobra.Command{
	Use:   "start [type]",
	Short: "Start a workflow of the given type",
	Long: `Start a workflow by type name with a JSON input payload, for example:

  renderctl start greeting --input '{"name":"Ada"}'
  renderctl start health-monitor --input '{"targets":["http://db:5432"]}'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetString("input")
		id, _ := cmd.Flags().GetString("id")

		var input json.RawMessage
		if raw != "" {
			if !json.Valid([]byte(raw)) {
				return fmt.Errorf("invalid input JSON: %s", raw)
			}
			input = json.RawMessage(raw)
		}

		req := map[string]any{"type": args[0]}
		if input != nil {
			req["input"] = input
		}
		if id != "" {
			req["workflow_id"] = id
		}

		client := NewBridgeClient(viper.GetString("url"))
		resp, err := client.Start(req)
		if err != nil {
			return err
		}
		printJSON(cmd.OutOrStdout(), resp)
		return nil
	},
}

var monitorCmd = &cobra.Command{
	Use:   "monitor [target...]",
	Short: "Start a health-monitor workflow over the given targets",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		intervalMS, _ := cmd.Flags().GetInt64("interval-ms")
		cycles, _ := cmd.Flags().GetInt("cycles")

		req := map[string]any{
			"type": "health-monitor",
			"input": map[string]any{
				"targets":           args,
				"cycle_interval_ms": intervalMS,
				"max_cycles":        cycles,
			},
		}

		client := NewBridgeClient(viper.GetString("url"))
		resp, err := client.Start(req)
		if err != nil {
			return err
		}
		printJSON(cmd.OutOrStdout(), resp)
		return nil
	},
}

func init() {
	startCmd.Flags().String("input", "", "workflow input as JSON")
	startCmd.Flags().String("id", "", "explicit workflow id")
	monitorCmd.Flags().Int64("interval-ms", 30_000, "probe cycle interval in milliseconds")
	monitorCmd.Flags().Int("cycles", 0, "stop after this many cycles (0 runs until stopped)")
	rootCmd.AddCommand(startCmd, monitorCmd)
}
