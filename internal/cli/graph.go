package cli

import (
	"encoding/json"
	"fmt"

	"github.com/rcliao/resonance/internal/graph"
	"github.com/spf13/cobra"
)

func init() {
	graphCmd := &cobra.Command{
		Use:   "graph",
		Short: "Inspect the memory graph",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Graph-wide counts and density",
		Run:   runGraphStats,
	}

	neighborsCmd := &cobra.Command{
		Use:   "neighbors <id>",
		Short: "Nodes one hop from the given node",
		Args:  cobra.ExactArgs(1),
		Run:   runGraphNeighbors,
	}

	pathCmd := &cobra.Command{
		Use:   "path <from> <to>",
		Short: "Shortest path between two nodes",
		Args:  cobra.ExactArgs(2),
		Run:   runGraphPath,
	}

	clustersCmd := &cobra.Command{
		Use:   "clusters",
		Short: "Densely connected node groups",
		Run:   runGraphClusters,
	}
	clustersCmd.Flags().Int("min-size", graph.DefaultClusterMinSize, "Minimum cluster size")
	clustersCmd.Flags().Float64("min-coherence", graph.DefaultClusterMinCoherence, "Minimum internal edge weight")

	graphCmd.AddCommand(statsCmd, neighborsCmd, pathCmd, clustersCmd)
	RootCmd.AddCommand(graphCmd)
}

func openGraph(cmd *cobra.Command) *graph.Graph {
	cfg, err := loadConfig()
	if err != nil {
		exitErr("load config", err)
	}
	backend, err := openBackend(cfg)
	if err != nil {
		exitErr("open backend", err)
	}
	defer backend.Close()

	g, err := loadGraph(cmd, backend)
	if err != nil {
		exitErr("load graph", err)
	}
	return g
}

func runGraphStats(cmd *cobra.Command, args []string) {
	g := openGraph(cmd)
	b, _ := json.MarshalIndent(g.Statistics(), "", "  ")
	fmt.Println(string(b))
}

func runGraphNeighbors(cmd *cobra.Command, args []string) {
	g := openGraph(cmd)
	neighbors, err := g.Neighbors(args[0])
	if err != nil {
		exitErr("neighbors", err)
	}
	if len(neighbors) == 0 {
		fmt.Println("[]")
		return
	}
	b, _ := json.MarshalIndent(neighbors, "", "  ")
	fmt.Println(string(b))
}

func runGraphPath(cmd *cobra.Command, args []string) {
	g := openGraph(cmd)
	path, err := g.FindPath(args[0], args[1])
	if err != nil {
		exitErr("path", err)
	}
	if len(path) == 0 {
		fmt.Println("[]")
		return
	}
	b, _ := json.MarshalIndent(path, "", "  ")
	fmt.Println(string(b))
}

func runGraphClusters(cmd *cobra.Command, args []string) {
	minSize, _ := cmd.Flags().GetInt("min-size")
	minCoherence, _ := cmd.Flags().GetFloat64("min-coherence")

	g := openGraph(cmd)
	clusters := g.DetectClusters(minSize, minCoherence)
	if len(clusters) == 0 {
		fmt.Println("[]")
		return
	}
	b, _ := json.MarshalIndent(clusters, "", "  ")
	fmt.Println(string(b))
}
