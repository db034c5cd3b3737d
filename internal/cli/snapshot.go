package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Export the store as a portable snapshot",
		Long:  "Export every live envelope plus the symphony hash. The snapshot is the unit of exchange between stores: feed it to merge on the other side.",
		Run:   runSnapshot,
	}

	cmd.Flags().StringP("out", "o", "", "Write to file instead of stdout")

	RootCmd.AddCommand(cmd)
}

func runSnapshot(cmd *cobra.Command, args []string) {
	out, _ := cmd.Flags().GetString("out")

	st, _, err := openStore(cmd)
	if err != nil {
		exitErr("open store", err)
	}
	defer st.Close()

	snap, err := st.Snapshot(cmd.Context())
	if err != nil {
		exitErr("snapshot", err)
	}

	b, _ := json.MarshalIndent(snap, "", "  ")
	if out == "" {
		fmt.Println(string(b))
		return
	}
	if err := os.WriteFile(out, append(b, '\n'), 0o600); err != nil {
		exitErr("write snapshot", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"out":%q,"symphony_hash":%q}`+"\n", out, snap.SymphonyHash)
}
