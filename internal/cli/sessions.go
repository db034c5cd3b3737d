package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rcliao/resonance/internal/merge"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "sessions [id]",
		Short: "List merge sessions, or show one with its full event log",
		Args:  cobra.MaximumNArgs(1),
		Run:   runSessions,
	}

	RootCmd.AddCommand(cmd)
}

// sessionSummary is the list view; the full log only prints for a
// single session.
type sessionSummary struct {
	ID          string       `json:"id"`
	SourceLabel string       `json:"source_label"`
	TargetLabel string       `json:"target_label"`
	Strategy    string       `json:"strategy"`
	Status      string       `json:"status"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Counts      merge.Counts `json:"counts"`
}

func runSessions(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		exitErr("load config", err)
	}
	backend, err := openBackend(cfg)
	if err != nil {
		exitErr("open backend", err)
	}
	defer backend.Close()

	if len(args) == 1 {
		sess, err := merge.LoadSession(cmd.Context(), backend, args[0])
		if err != nil {
			exitErr("sessions", err)
		}
		b, _ := json.MarshalIndent(sess, "", "  ")
		fmt.Println(string(b))
		return
	}

	sessions, err := merge.ListSessions(cmd.Context(), backend)
	if err != nil {
		exitErr("sessions", err)
	}

	if len(sessions) == 0 {
		fmt.Println("[]")
		return
	}

	summaries := make([]sessionSummary, 0, len(sessions))
	for _, s := range sessions {
		summaries = append(summaries, sessionSummary{
			ID:          s.ID,
			SourceLabel: s.SourceLabel,
			TargetLabel: s.TargetLabel,
			Strategy:    string(s.Strategy),
			Status:      string(s.Status),
			StartedAt:   s.StartedAt,
			CompletedAt: s.CompletedAt,
			Counts:      s.Counts,
		})
	}
	b, _ := json.MarshalIndent(summaries, "", "  ")
	fmt.Println(string(b))
}
