package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aikogroup/aiko-gpt-sub001/graph"
	"github.com/aikogroup/aiko-gpt-sub001/graph/gate"
)

func newResumeCmd(a *app) *cobra.Command {
	var (
		decisionFile string
		action       string
	)

	cmd := &cobra.Command{
		Use:   "resume <thread-id>",
		Short: "Submit a review decision to a paused thread",
		Long: `Submit a review decision to a thread paused at a gate. The decision is a
JSON object {"validated": [...], "rejected": [...], "feedback": "...",
"user_action": "advance" | "continue_in_place"} read from --decision
("-" for stdin).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if decisionFile == "" && action == "" {
				return fmt.Errorf("either --decision or --action is required")
			}
			var d gate.Decision
			if decisionFile != "" {
				if err := readDecision(cmd.InOrStdin(), decisionFile, &d); err != nil {
					return err
				}
			}
			if action != "" {
				d.UserAction = action
			}

			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			e, p, cp, err := a.threadEngine(ctx, args[0])
			if err != nil {
				return err
			}

			// A thread that is not paused at a gate gets an empty payload and
			// the engine reports why it cannot be resumed.
			var payload graph.Update
			if field, ok := p.DecisionField(cp.PendingNodes); ok {
				payload.Set(field, d)
			}

			snap, err := e.Resume(ctx, args[0], payload)
			if err != nil {
				return err
			}
			a.logger.Info("thread resumed",
				zap.String("thread_id", snap.ThreadID),
				zap.String("status", string(snap.Status)),
				zap.Strings("pending", snap.PendingNodes))
			return printSnapshot(cmd.OutOrStdout(), snap)
		},
	}

	cmd.Flags().StringVarP(&decisionFile, "decision", "d", "", `decision JSON file, or "-" for stdin`)
	cmd.Flags().StringVar(&action, "action", "", "override user_action: advance or continue_in_place")
	return cmd
}

func readDecision(stdin io.Reader, path string, d *gate.Decision) error {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("read decision: %w", err)
	}
	if err := json.Unmarshal(data, d); err != nil {
		return fmt.Errorf("parse decision: %w", err)
	}
	return nil
}
