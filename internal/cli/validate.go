package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rcliao/resonance/internal/validate"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Scan the store for corruption and inconsistency",
		Long:  "Walk every stored envelope and report checksum mismatches, misfiled categories, orphaned harmonics, stale graph references, and distribution problems. Exits nonzero when errors are found.",
		Run:   runValidate,
	}

	RootCmd.AddCommand(cmd)
}

func runValidate(cmd *cobra.Command, args []string) {
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

	report, err := validate.Scan(cmd.Context(), backend, validate.ScanOptions{Observer: obs})
	if err != nil {
		exitErr("validate", err)
	}

	b, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(b))
	if report.Err() != nil {
		os.Exit(1)
	}
}
