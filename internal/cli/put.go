package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/rcliao/resonance/internal/model"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "put [content]",
		Short: "Store a memory envelope",
		Long:  "Store a memory envelope. Content can be a positional arg or piped via stdin.",
		Run:   runPut,
	}

	cmd.Flags().StringP("category", "c", "", "Category: persona, relationship, technical, stylistic, runtime (required)")
	cmd.Flags().String("source", "user", "Source: user, tool, automation, system")
	cmd.Flags().String("visibility", "", "Visibility: public, workspace, private")
	cmd.Flags().String("ttl", "", "Expiry such as 90s, 15m, 6h, 30d")
	cmd.Flags().StringP("tags", "t", "", "Comma-separated tags (default: extracted keywords)")
	cmd.Flags().Bool("no-embed", false, "Skip embedding the content")

	cmd.MarkFlagRequired("category")

	RootCmd.AddCommand(cmd)
}

func runPut(cmd *cobra.Command, args []string) {
	category, _ := cmd.Flags().GetString("category")
	source, _ := cmd.Flags().GetString("source")
	visibility, _ := cmd.Flags().GetString("visibility")
	ttlStr, _ := cmd.Flags().GetString("ttl")
	tagsStr, _ := cmd.Flags().GetString("tags")
	noEmbed, _ := cmd.Flags().GetBool("no-embed")

	// Get content: positional arg first, then check stdin
	var content string
	if len(args) > 0 {
		content = strings.Join(args, " ")
	} else {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				exitErr("read stdin", err)
			}
			content = string(b)
		}
	}

	if strings.TrimSpace(content) == "" {
		exitErr("put", fmt.Errorf("content is required (positional arg or stdin)"))
	}

	ttl, err := parseTTL(ttlStr)
	if err != nil {
		exitErr("put", err)
	}

	var tags []string
	if tagsStr != "" {
		for _, t := range strings.Split(tagsStr, ",") {
			t = strings.TrimSpace(t)
			if t != "" {
				tags = append(tags, t)
			}
		}
	}

	st, _, err := openStore(cmd)
	if err != nil {
		exitErr("open store", err)
	}
	defer st.Close()

	env, err := model.New(model.Category(category), strings.TrimSpace(content), model.Options{
		Source:     model.Source(source),
		Visibility: model.Visibility(visibility),
		Tags:       tags,
		TTL:        ttl,
		Now:        st.Now(),
	})
	if err != nil {
		exitErr("put", err)
	}

	if !noEmbed && st.Embedder() != nil {
		vec, err := st.Embedder().Embed(cmd.Context(), env.Content)
		if err != nil {
			exitErr("embed", err)
		}
		ecfg := st.Embedder().Config()
		env.Embedding = &model.Embedding{
			Vector:        vec,
			Backend:       ecfg.Backend,
			Model:         ecfg.Model,
			Dims:          ecfg.Dims,
			Normalization: ecfg.Normalization,
		}
	}

	if err := st.Put(cmd.Context(), env); err != nil {
		exitErr("put", err)
	}

	g, err := loadGraph(cmd, st.Backend())
	if err != nil {
		exitErr("load graph", err)
	}
	if _, err := g.AddMemoryNode(env); err != nil {
		exitErr("graph", err)
	}
	if err := saveGraph(cmd, st.Backend(), g); err != nil {
		exitErr("save graph", err)
	}

	if formatFlag == "text" {
		fmt.Println(env.ID)
		return
	}
	b, _ := json.Marshal(env)
	fmt.Println(string(b))
}

var ttlPattern = regexp.MustCompile(`^(\d+)([smhd])$`)

// parseTTL converts "90s", "15m", "6h", "30d" into seconds. Empty
// means no expiry.
func parseTTL(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	m := ttlPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("ttl wants <number><s|m|h|d>, got %q", s)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, err
	}
	switch m[2] {
	case "s":
		return n, nil
	case "m":
		return n * 60, nil
	case "h":
		return n * 3600, nil
	default:
		return n * 86400, nil
	}
}
