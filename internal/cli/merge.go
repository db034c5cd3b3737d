package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rcliao/resonance/internal/guard"
	"github.com/rcliao/resonance/internal/merge"
	"github.com/rcliao/resonance/internal/store"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Merge a foreign snapshot into this store",
		Long:  "Read a snapshot produced by another store, score each foreign envelope against local memory, and braid the resonant ones in. Every decision lands in the session log.",
		Run:   runMerge,
	}

	cmd.Flags().String("from", "", "Snapshot file, or - for stdin (required)")
	cmd.Flags().String("strategy", "selective", "Strategy: comprehensive, selective, minimal")
	cmd.Flags().Float64("threshold", 0, "Resonance threshold (default from config)")
	cmd.Flags().String("source-label", "", "Label for the foreign side in the session record")
	cmd.Flags().String("target-label", "", "Label for the local side in the session record")
	cmd.Flags().String("client", "cli", "Client id for rate limiting")

	cmd.MarkFlagRequired("from")

	RootCmd.AddCommand(cmd)
}

func runMerge(cmd *cobra.Command, args []string) {
	from, _ := cmd.Flags().GetString("from")
	strategy, _ := cmd.Flags().GetString("strategy")
	threshold, _ := cmd.Flags().GetFloat64("threshold")
	sourceLabel, _ := cmd.Flags().GetString("source-label")
	targetLabel, _ := cmd.Flags().GetString("target-label")
	client, _ := cmd.Flags().GetString("client")

	var data []byte
	var err error
	if from == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(from)
	}
	if err != nil {
		exitErr("read snapshot", err)
	}

	var snap store.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		exitErr("decode snapshot", err)
	}
	ok, err := snap.Verify()
	if err != nil {
		exitErr("verify snapshot", err)
	}
	if !ok {
		exitErr("verify snapshot", fmt.Errorf("symphony hash does not match snapshot contents"))
	}

	cfg, err := loadConfig()
	if err != nil {
		exitErr("load config", err)
	}
	if threshold == 0 {
		threshold = cfg.Resonance.Threshold
	}

	st, obs, err := openStore(cmd)
	if err != nil {
		exitErr("open store", err)
	}
	defer st.Close()

	g, err := loadGraph(cmd, st.Backend())
	if err != nil {
		exitErr("load graph", err)
	}

	eng, err := merge.NewEngine(st, merge.Options{
		Strategy:        merge.Strategy(strategy),
		Threshold:       threshold,
		TwinThreshold:   cfg.Resonance.TwinThreshold,
		HalfLifeDays:    cfg.Resonance.HalfLifeDays,
		CategoryWeights: cfg.Resonance.CategoryWeights,
		SourceLabel:     sourceLabel,
		TargetLabel:     targetLabel,
		ClientID:        client,
		Graph:           g,
		Limiter:         guard.NewLimiter(cfg.RateLimit.PerWindow),
		Observer:        obs,
	})
	if err != nil {
		exitErr("merge", err)
	}

	sess, err := eng.MergeSnapshot(cmd.Context(), &snap)
	if err != nil {
		exitErr("merge", err)
	}

	if err := saveGraph(cmd, st.Backend(), g); err != nil {
		exitErr("save graph", err)
	}

	b, _ := json.MarshalIndent(sess, "", "  ")
	fmt.Println(string(b))
}
