package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "flowreelctl",
	Short: "flowreelctl drives batches of generated video scenes",
	Long: `flowreelctl is the command-line interface for the flowreel service.

A batch is an ordered list of scene prompts. The service submits each prompt
to the generation UI in a browser, waits for the clip, downloads it and can
stitch the finished clips into one video.

Common workflows:

  Create a batch from prompts and start it:
    flowreelctl create --prompt "a fox in snow" --prompt "an owl at dusk" --run

  Create a batch from a topic (needs an LLM key on the server):
    flowreelctl create --topic "the life of a honeybee" --duration 40

  Check progress:
    flowreelctl status <batch-id>

  Redo or drop one scene:
    flowreelctl regenerate <batch-id> 3
    flowreelctl delete <batch-id> 3

  Stitch the clips:
    flowreelctl assemble <batch-id>

Configuration:
  FLOWREEL_URL    API endpoint (default: http://localhost:8080)`,
}

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
		viper.SetConfigName(".flowreelctl")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("FLOWREEL")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.flowreelctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:8080", "flowreel API URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))
}
