package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/shehryarbajwa/flowreel/pkg/models"
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new batch",
	Long: `Create a batch from explicit prompts or from a topic the server expands
into a scene script.

Example:
  flowreelctl create --prompt "a fox in snow" --prompt "an owl at dusk"
  flowreelctl create --topic "coral reefs" --duration 32 --aspect 9:16 --run`,
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		prompts, _ := flags.GetStringArray("prompt")
		topic, _ := flags.GetString("topic")
		duration, _ := flags.GetInt("duration")
		workspace, _ := flags.GetString("workspace")
		aspect, _ := flags.GetString("aspect")
		outputs, _ := flags.GetInt("outputs")
		run, _ := flags.GetBool("run")

		if len(prompts) == 0 && topic == "" {
			cmd.Println("Error: --prompt or --topic is required")
			return
		}

		client := NewClient(viper.GetString("url"))
		b, err := client.CreateBatch(models.CreateBatchRequest{
			Topic:       topic,
			Duration:    duration,
			Prompts:     prompts,
			WorkspaceID: workspace,
			Params:      models.GenerationParams{AspectRatio: aspect, OutputCount: outputs},
			Start:       run,
		})
		if err != nil {
			cmd.Printf("Create failed: %v\n", err)
			return
		}

		cmd.Printf("%s✓ Batch created%s\n", colorGreen, colorReset)
		cmd.Printf("%sID:%s      %s\n", colorDim, colorReset, b.ID)
		cmd.Printf("%sScenes:%s  %d\n", colorDim, colorReset, len(b.Scenes))
		if run {
			cmd.Printf("%sRun started%s\n", colorYellow, colorReset)
		} else {
			cmd.Println("Start it with: flowreelctl run " + b.ID)
		}
	},
}

func init() {
	rootCmd.AddCommand(createCmd)

	createCmd.Flags().StringArrayP("prompt", "p", nil, "Scene prompt, repeat for each scene")
	createCmd.Flags().String("topic", "", "Topic to expand into a scene script")
	createCmd.Flags().Int("duration", 0, "Target video length in seconds for --topic")
	createCmd.Flags().String("workspace", "", "Existing workspace id to generate in")
	createCmd.Flags().String("aspect", "", "Aspect ratio (16:9, 9:16 or 1:1)")
	createCmd.Flags().Int("outputs", 0, "Outputs per prompt (1-4)")
	createCmd.Flags().Bool("run", false, "Start the batch immediately")
}
