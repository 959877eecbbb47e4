package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Start a text-to-image workflow",
	Long:  `Start a text-to-image generation workflow and print its workflow id.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt, _ := cmd.Flags().GetString("prompt")
		model, _ := cmd.Flags().GetString("model")
		width, _ := cmd.Flags().GetInt("width")
		height, _ := cmd.Flags().GetInt("height")
		steps, _ := cmd.Flags().GetInt("steps")
		cfgScale, _ := cmd.Flags().GetFloat64("cfg-scale")
		seed, _ := cmd.Flags().GetInt64("seed")
		negative, _ := cmd.Flags().GetString("negative-prompt")

		req := map[string]any{
			"prompt":    prompt,
			"width":     width,
			"height":    height,
			"steps":     steps,
			"cfg_scale": cfgScale,
			"seed":      seed,
		}
		if model != "" {
			req["model"] = model
		}
		if negative != "" {
			req["negative_prompt"] = negative
		}

		client := NewBridgeClient(viper.GetString("url"))
		resp, err := client.Generate(req)
		if err != nil {
			return err
		}
		printJSON(cmd.OutOrStdout(), resp)
		return nil
	},
}

func init() {
	generateCmd.Flags().String("prompt", "", "generation prompt (required)")
	generateCmd.Flags().String("negative-prompt", "", "negative prompt override")
	generateCmd.Flags().String("model", "", "model identifier")
	generateCmd.Flags().Int("width", 512, "image width")
	generateCmd.Flags().Int("height", 512, "image height")
	generateCmd.Flags().Int("steps", 20, "inference steps")
	generateCmd.Flags().Float64("cfg-scale", 7.5, "guidance scale")
	generateCmd.Flags().Int64("seed", -1, "seed (-1 picks a random one)")
	_ = generateCmd.MarkFlagRequired("prompt")

	rootCmd.AddCommand(generateCmd)
}
