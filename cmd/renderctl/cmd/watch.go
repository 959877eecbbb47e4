package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var watchCmd = &cobra.Command{
	Use:   "watch [workflow_id]",
	Short: "Poll a workflow until it closes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetDuration("interval")
		client := NewBridgeClient(viper.GetString("url"))

		for {
			resp, err := client.Status(args[0])
			if err != nil {
				return err
			}

			status, _ := resp["status"].(string)
			line := fmt.Sprintf("status=%s", status)
			if detail, ok := resp["detail"].(map[string]any); ok {
				if fraction, ok := detail["fraction"].(float64); ok {
					line += fmt.Sprintf(" progress=%.0f%%", fraction*100)
				}
				if note, ok := detail["note"].(string); ok && note != "" {
					line += " note=" + note
				}
			}
			cmd.Println(line)

			switch status {
			case "completed", "failed", "canceled":
				printJSON(cmd.OutOrStdout(), resp)
				return nil
			}
			time.Sleep(interval)
		}
	},
}

func init() {
	watchCmd.Flags().Duration("interval", time.Second, "poll interval")
	rootCmd.AddCommand(watchCmd)
}
