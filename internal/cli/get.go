package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Retrieve a memory envelope by id",
		Args:  cobra.ExactArgs(1),
		Run:   runGet,
	}

	cmd.Flags().Bool("live", false, "Fail if the envelope has expired")

	RootCmd.AddCommand(cmd)
}

func runGet(cmd *cobra.Command, args []string) {
	live, _ := cmd.Flags().GetBool("live")

	st, _, err := openStore(cmd)
	if err != nil {
		exitErr("open store", err)
	}
	defer st.Close()

	get := st.Get
	if live {
		get = st.GetLive
	}
	env, err := get(cmd.Context(), args[0])
	if err != nil {
		exitErr("get", err)
	}

	if formatFlag == "text" {
		fmt.Println(env.Content)
		return
	}
	b, _ := json.MarshalIndent(env, "", "  ")
	fmt.Println(string(b))
}
