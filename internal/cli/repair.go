package cli

import (
	"encoding/json"
	"fmt"

	"github.com/rcliao/resonance/internal/validate"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Fix what validate can flag mechanically",
		Long:  "Recompute stale checksums, adopt storage keys as ids, realign categories with their partition, fill missing timestamps, and drop dangling harmonic and graph references. Content is never invented or altered.",
		Run:   runRepair,
	}

	RootCmd.AddCommand(cmd)
}

func runRepair(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		exitErr("load config", err)
	}
	obs := newObserver(cfg)
	backend, err := openBackend(cfg)
	if err != nil {
		exitErr("open backend", err)
	}
	defer backend.Close()

	result, err := validate.Repair(cmd.Context(), backend, validate.RepairOptions{Observer: obs})
	if err != nil {
		exitErr("repair", err)
	}

	b, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(b))
}
