package cmd

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var runCmd = &cobra.Command{
	Use:   "run [batch_id]",
	Short: "Run the pending scenes of a batch",
	Long:  `Start generating every pending scene of a batch. The run continues on the server; follow it with "flowreelctl status".`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(viper.GetString("url"))
		if err := client.RunBatch(args[0]); err != nil {
			cmd.Printf("Run failed: %v\n", err)
			return
		}
		cmd.Printf("%s⏳ Run started%s for batch %s\n", colorYellow, colorReset, args[0])
	},
}

var regenerateCmd = &cobra.Command{
	Use:   "regenerate [batch_id] [scene_index]",
	Short: "Generate one completed or failed scene again",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		index, err := strconv.Atoi(args[1])
		if err != nil {
			cmd.Printf("Error: invalid scene index %q\n", args[1])
			return
		}

		client := NewClient(viper.GetString("url"))
		if err := client.RegenerateScene(args[0], index); err != nil {
			cmd.Printf("Regenerate failed: %v\n", err)
			return
		}
		cmd.Printf("%s⏳ Regenerating%s scene %d of batch %s\n", colorYellow, colorReset, index, args[0])
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete [batch_id] [scene_index]",
	Short: "Remove a scene and renumber the rest",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		index, err := strconv.Atoi(args[1])
		if err != nil {
			cmd.Printf("Error: invalid scene index %q\n", args[1])
			return
		}

		client := NewClient(viper.GetString("url"))
		removed, err := client.DeleteScene(args[0], index)
		if err != nil {
			cmd.Printf("Delete failed: %v\n", err)
			return
		}
		cmd.Printf("%s✓ Deleted%s scene %d: %s\n", colorGreen, colorReset, index, removed.Prompt)
	},
}

var assembleCmd = &cobra.Command{
	Use:   "assemble [batch_id]",
	Short: "Concatenate the completed scenes into one video",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(viper.GetString("url"))
		client.HTTPClient.Timeout = 15 * time.Minute

		path, err := client.Assemble(args[0])
		if err != nil {
			cmd.Printf("Assemble failed: %v\n", err)
			return
		}
		cmd.Printf("%s✓ Final video%s %s\n", colorGreen, colorReset, path)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(regenerateCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(assembleCmd)
}
