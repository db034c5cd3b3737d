package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rcliao/resonance/internal/embedding"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "verify <id>",
		Short: "Re-embed an envelope and compare against its stored vector",
		Long:  "Recomputes the embedding for an envelope's content and reports whether it still matches the stored vector. Exits nonzero on drift.",
		Args:  cobra.ExactArgs(1),
		Run:   runVerify,
	}

	cmd.Flags().Float64("tolerance", 1e-6, "Max absolute per-dimension difference")

	RootCmd.AddCommand(cmd)
}

func runVerify(cmd *cobra.Command, args []string) {
	tolerance, _ := cmd.Flags().GetFloat64("tolerance")

	st, _, err := openStore(cmd)
	if err != nil {
		exitErr("open store", err)
	}
	defer st.Close()

	env, err := st.Get(cmd.Context(), args[0])
	if err != nil {
		exitErr("verify", err)
	}
	if env.Embedding == nil {
		exitErr("verify", fmt.Errorf("envelope %s has no embedding", env.ID))
	}

	res, err := embedding.VerifyConsistency(cmd.Context(), st.Embedder(), env.Content, env.Embedding.Vector, tolerance)
	if err != nil {
		exitErr("verify", err)
	}

	b, _ := json.MarshalIndent(res, "", "  ")
	fmt.Println(string(b))
	if !res.Consistent {
		os.Exit(1)
	}
}
