// Package cli implements the resonance CLI commands.
package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rcliao/resonance/internal/config"
	"github.com/rcliao/resonance/internal/embedding"
	"github.com/rcliao/resonance/internal/graph"
	"github.com/rcliao/resonance/internal/guard"
	"github.com/rcliao/resonance/internal/observe"
	"github.com/rcliao/resonance/internal/store"
)

var (
	storePath   string
	backendFlag string
	configPath  string
	formatFlag  string
	verboseFlag bool
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "resonance",
	Short: "Personality-layer memory for AI agents",
	Long:  "Store, search, braid, and merge identity-defining memory envelopes. File or SQLite backed, single binary.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&storePath, "store", "s", "", "Store directory (default: $RESONANCE_STORE or ~/.resonance/store)")
	RootCmd.PersistentFlags().StringVar(&backendFlag, "backend", "", "Backend: fs or sqlite (default fs)")
	RootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (yaml)")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
	RootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Log at debug level")
}

// loadConfig layers flags over $RESONANCE_STORE over the config file
// over defaults.
func loadConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("RESONANCE_CONFIG")
	}
	if path == "" {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, ".resonance", "config.yaml")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if env := os.Getenv("RESONANCE_STORE"); env != "" {
		cfg.StorePath = env
	}
	if storePath != "" {
		cfg.StorePath = storePath
	}
	if backendFlag != "" {
		cfg.Backend = backendFlag
	}
	if verboseFlag {
		cfg.Verbose = true
	}
	return cfg, nil
}

func newObserver(cfg config.Config) *observe.Observer {
	if cfg.LogFormat == "json" {
		return observe.NewJSON(os.Stderr, cfg.Verbose)
	}
	return observe.New(os.Stderr, cfg.Verbose)
}

func openBackend(cfg config.Config) (store.Backend, error) {
	g := guard.New(cfg.Guard)
	switch cfg.Backend {
	case "", "fs":
		return store.NewFSBackend(cfg.StorePath, g)
	case "sqlite":
		return store.NewSQLiteBackend(filepath.Join(cfg.StorePath, "resonance.db"), g)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func openStore(cmd *cobra.Command) (*store.Store, *observe.Observer, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	obs := newObserver(cfg)
	backend, err := openBackend(cfg)
	if err != nil {
		return nil, nil, err
	}
	hasher, err := embedding.NewHashEmbedder(cfg.Embedding)
	if err != nil {
		_ = backend.Close()
		return nil, nil, err
	}
	cache, err := embedding.NewCache()
	if err != nil {
		_ = backend.Close()
		return nil, nil, err
	}
	st, err := store.Open(cmd.Context(), backend, store.Options{
		Embedder: embedding.NewCached(hasher, cache),
		Observer: obs,
	})
	if err != nil {
		_ = backend.Close()
		return nil, nil, err
	}
	return st, obs, nil
}

// loadGraph reads the persisted graph; a store that was never braided
// has none, which is an empty graph, not an error.
func loadGraph(cmd *cobra.Command, b store.Backend) (*graph.Graph, error) {
	data, err := b.Read(cmd.Context(), store.PartitionGraph, store.GraphKey)
	if errors.Is(err, store.ErrNotFound) {
		return graph.New(graph.Options{}), nil
	}
	if err != nil {
		return nil, err
	}
	return graph.Decode(data, graph.Options{})
}

func saveGraph(cmd *cobra.Command, b store.Backend, g *graph.Graph) error {
	data, err := g.Encode()
	if err != nil {
		return err
	}
	return b.Write(cmd.Context(), store.PartitionGraph, store.GraphKey, data)
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
