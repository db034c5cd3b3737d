package cli

import (
	"encoding/json"
	"fmt"

	"github.com/rcliao/resonance/internal/merge"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "lineage",
		Short: "Show where this store's memories came from",
		Long:  "List completed merge sessions in order, oldest first. Each entry names the source, and how many envelopes it folded, absorbed, and stored.",
		Run:   runLineage,
	}

	RootCmd.AddCommand(cmd)
}

func runLineage(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		exitErr("load config", err)
	}
	backend, err := openBackend(cfg)
	if err != nil {
		exitErr("open backend", err)
	}
	defer backend.Close()

	entries, err := merge.Lineage(cmd.Context(), backend)
	if err != nil {
		exitErr("lineage", err)
	}

	if len(entries) == 0 {
		fmt.Println("[]")
		return
	}

	if formatFlag == "text" {
		for _, e := range entries {
			fmt.Printf("%s  %s -> %s  folded=%d absorbed=%d stored=%d\n",
				e.CompletedAt.Format("2006-01-02 15:04"), e.SourceLabel, e.TargetLabel,
				e.Counts.Folded, e.Counts.Absorbed, e.Counts.StoredNew)
		}
		return
	}
	b, _ := json.MarshalIndent(entries, "", "  ")
	fmt.Println(string(b))
}
