package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/shehryarbajwa/flowreel/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status [batch_id]",
	Short: "Show a batch and its scenes",
	Long:  `Print the batch state, live progress of the scene in flight and one line per scene with its status, failure reason and local file.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(viper.GetString("url"))
		b, err := client.GetBatch(args[0])
		if err != nil {
			cmd.Printf("Status failed: %v\n", err)
			return
		}
		printBatch(cmd, b)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List batches",
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(viper.GetString("url"))
		batches, err := client.ListBatches()
		if err != nil {
			cmd.Printf("List failed: %v\n", err)
			return
		}
		if len(batches) == 0 {
			cmd.Println("No batches")
			return
		}
		for i := range batches {
			b := &batches[i]
			completed, failed, _ := b.Counts()
			cmd.Printf("%s  %-8s %d/%d done, %d failed  %s\n", b.ID, b.State,
				completed, len(b.Scenes), failed, b.CreatedAt.Format(time.RFC3339))
		}
	},
}

func printBatch(cmd *cobra.Command, b *models.Batch) {
	cmd.Printf("%sBatch %s%s\n", colorBold, b.ID, colorReset)
	cmd.Println("──────────────────────────────")
	if b.Title != "" {
		cmd.Printf("%sTitle:%s       %s\n", colorDim, colorReset, b.Title)
	}
	cmd.Printf("%sState:%s       %s\n", colorDim, colorReset, b.State)
	if b.WorkspaceID != "" {
		cmd.Printf("%sWorkspace:%s   %s\n", colorDim, colorReset, b.WorkspaceID)
	}
	if b.Error != "" {
		cmd.Printf("%sError:%s       %s%s%s\n", colorDim, colorReset, colorRed, b.Error, colorReset)
	}
	if p := b.Progress; p != nil && b.State == models.BatchRunning {
		cmd.Printf("%sProgress:%s    scene %d, %s elapsed %s\n", colorDim, colorReset,
			p.SceneIndex, formatDuration(p.Elapsed), progressDetail(p))
	}
	if b.FinalVideo != "" {
		cmd.Printf("%sFinal:%s       %s\n", colorDim, colorReset, b.FinalVideo)
	}
	cmd.Println()

	for _, sc := range b.Scenes {
		line := fmt.Sprintf("%3d  %s", sc.Index, colorizeStatus(sc.Status))
		switch {
		case sc.Status == models.SceneFailed:
			line += fmt.Sprintf("  %s%s%s", colorRed, sc.Error, colorReset)
		case sc.LocalPath != "":
			line += "  " + sc.LocalPath
		}
		if sc.Warning != "" {
			line += fmt.Sprintf("  %s(%s)%s", colorYellow, sc.Warning, colorReset)
		}
		cmd.Println(line)
	}
}

func progressDetail(p *models.Progress) string {
	if p.Percent > 0 {
		return fmt.Sprintf("(%d%%)", p.Percent)
	}
	return ""
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

func statusIcon(status models.SceneStatus) string {
	switch status {
	case models.SceneCompleted:
		return colorGreen + "✓" + colorReset
	case models.SceneFailed:
		return colorRed + "✗" + colorReset
	case models.SceneSubmitted, models.SceneGenerating:
		return colorYellow + "⏳" + colorReset
	case models.ScenePending:
		return colorCyan + "◯" + colorReset
	default:
		return "•"
	}
}

func colorizeStatus(status models.SceneStatus) string {
	icon := statusIcon(status)
	switch status {
	case models.SceneCompleted:
		return icon + " " + colorGreen + string(status) + colorReset
	case models.SceneFailed:
		return icon + " " + colorRed + string(status) + colorReset
	case models.SceneSubmitted, models.SceneGenerating:
		return icon + " " + colorYellow + string(status) + colorReset
	default:
		return icon + " " + string(status)
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listCmd)
}
