package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var statusCmd = &cobra.Command{
	Use:   "status [workflow_id]",
	Short: "Get status of a workflow",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := NewBridgeClient(viper.GetString("url"))
		resp, err := client.Status(args[0])
		if err != nil {
			return err
		}
		printJSON(cmd.OutOrStdout(), resp)
		return nil
	},
}

var resultCmd = &cobra.Command{
	Use:   "result [workflow_id]",
	Short: "Get the terminal result of a workflow",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := NewBridgeClient(viper.GetString("url"))
		resp, err := client.Result(args[0])
		if err != nil {
			return err
		}
		printJSON(cmd.OutOrStdout(), resp)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List workflows",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := NewBridgeClient(viper.GetString("url"))
		resp, err := client.List()
		if err != nil {
			return err
		}
		printJSON(cmd.OutOrStdout(), resp)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd, resultCmd, listCmd)
}
