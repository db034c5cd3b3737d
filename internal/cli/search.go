package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rcliao/resonance/internal/embedding"
	"github.com/rcliao/resonance/internal/model"
	"github.com/rcliao/resonance/internal/store"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search memory envelopes",
		Long:  "Search envelope content by keyword and embedding similarity.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSearch,
	}

	cmd.Flags().StringP("category", "c", "", "Filter by category")
	cmd.Flags().IntP("limit", "l", 10, "Max results")
	cmd.Flags().Bool("expired", false, "Include expired envelopes")
	cmd.Flags().Bool("no-embed", false, "Keyword ranking only")

	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	category, _ := cmd.Flags().GetString("category")
	limit, _ := cmd.Flags().GetInt("limit")
	expired, _ := cmd.Flags().GetBool("expired")
	noEmbed, _ := cmd.Flags().GetBool("no-embed")
	query := strings.Join(args, " ")

	st, _, err := openStore(cmd)
	if err != nil {
		exitErr("open store", err)
	}
	defer st.Close()

	var queryVec embedding.Vector
	if !noEmbed && st.Embedder() != nil {
		vec, err := st.Embedder().Embed(cmd.Context(), query)
		if err != nil {
			exitErr("embed query", err)
		}
		queryVec = vec
	}

	results, err := st.Search(cmd.Context(), store.SearchParams{
		Query:          query,
		QueryEmbedding: queryVec,
		Category:       model.Category(category),
		Limit:          limit,
		IncludeExpired: expired,
	})
	if err != nil {
		exitErr("search", err)
	}

	if len(results) == 0 {
		fmt.Println("[]")
		return
	}

	if formatFlag == "text" {
		for _, r := range results {
			fmt.Printf("%.3f  %s  [%s]  %s\n", r.Score, r.Envelope.ID, r.Envelope.Category, r.Envelope.Content)
		}
		return
	}
	b, _ := json.MarshalIndent(results, "", "  ")
	fmt.Println(string(b))
}
