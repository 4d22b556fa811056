package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/screenslate/screenslate/internal/capture"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List available capture sources",
	Long:  `List the screens and windows that can be recorded using the configured capture backend.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Thumbnails are not shown here
		capCfg := cfg.Capture
		capCfg.Thumbnails = false

		sources, err := capture.NewEnumerator(capCfg).ListSources(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get capture sources: %w", err)
		}

		fmt.Printf("🖥️  CAPTURE SOURCES (%d found, display %s):\n", len(sources), capCfg.Display)
		for i, source := range sources {
			fmt.Printf("  %d. %s\n", i+1, source.Name)
			fmt.Printf("     id: %s\n", source.ID)
		}

		fmt.Printf("\n💡 Usage:\n")
		fmt.Printf("  • Run 'screenslate', move to a source and press enter, or type ':select <n>' or ':select <id>'\n")
		fmt.Printf("  • Screen ids look like \"screen:0:1920x1080+0+0\", window ids like \"window:0x04400003\"\n\n")

		return nil
	},
}
