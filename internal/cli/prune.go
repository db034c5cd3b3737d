package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete expired envelopes",
		Run:   runPrune,
	}

	RootCmd.AddCommand(cmd)
}

func runPrune(cmd *cobra.Command, args []string) {
	st, _, err := openStore(cmd)
	if err != nil {
		exitErr("open store", err)
	}
	defer st.Close()

	n, err := st.PruneExpired(cmd.Context(), st.Now())
	if err != nil {
		exitErr("prune", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"pruned":%d}`+"\n", n)
}
