package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var signalCmd = &cobra.Command{
	Use:   "signal [workflow_id] [name]",
	Short: "Send a signal to a workflow",
	Long: `Send a named signal to an open workflow. The payload is JSON, for
example:

  renderctl signal greeting-ab12cd34 set_suffix --payload '"!!"'
  renderctl signal monitor-12ab34cd add_target --payload '{"name":"http://db:5432"}'`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetString("payload")
		var payload any
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &payload); err != nil {
				return fmt.Errorf("invalid payload JSON: %w", err)
			}
		}

		client := NewBridgeClient(viper.GetString("url"))
		resp, err := client.Signal(args[0], args[1], payload)
		if err != nil {
			return err
		}
		printJSON(cmd.OutOrStdout(), resp)
		return nil
	},
}

var queryCmd = &cobra.Command{
	Use:   "query [workflow_id] [name]",
	Short: "Query a workflow's state",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := NewBridgeClient(viper.GetString("url"))
		resp, err := client.Query(args[0], args[1])
		if err != nil {
			return err
		}
		printJSON(cmd.OutOrStdout(), resp)
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel [workflow_id]",
	Short: "Request cancellation of a workflow",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := NewBridgeClient(viper.GetString("url"))
		resp, err := client.Cancel(args[0])
		if err != nil {
			return err
		}
		printJSON(cmd.OutOrStdout(), resp)
		return nil
	},
}

func init() {
	signalCmd.Flags().String("payload", "", "signal payload as JSON")
	rootCmd.AddCommand(signalCmd, queryCmd, cancelCmd)
}
