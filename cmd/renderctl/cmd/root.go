package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "renderctl",
	Short: "renderctl drives image-generation workflows",
	Long: `renderctl is the command-line interface for the renderflow workflow
bridge. It starts text-to-image workflows, watches their progress, and
collects their results.

Common workflows:

  Start a generation:
    renderctl generate --prompt "a lighthouse at dusk"

  Watch it:
    renderctl watch <workflow-id>

  Collect the result:
    renderctl result <workflow-id>

Configuration:
  Set the bridge endpoint via flag, environment or config file:
    RENDERFLOW_URL    bridge endpoint (default: http://localhost:8000)`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".renderctl")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("RENDERFLOW")
	viper.AutomaticEnv()

	_ = viper.ReadInConfig()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.renderctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:8000", "workflow bridge URL")
	_ = viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))
}
